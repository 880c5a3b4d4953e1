// Package mailchimp keeps the MailChimp list in step with the member and
// volunteer sheets.
package mailchimp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"membership-manager/internal/circuitbreaker"
	"membership-manager/internal/common/errors"
	commonhttp "membership-manager/internal/common/http"
	"membership-manager/internal/common/logging"
	"membership-manager/internal/fields"
	"membership-manager/internal/metrics"
)

const (
	pageSize       = 100
	statusField    = "subscribed"
	requestTimeout = 45 * time.Second
)

// Config holds MailChimp settings
type Config struct {
	Enabled bool
	APIKey  string
	ListID  string
	// DC is the data centre prefix, e.g. "us11"
	DC string
	// BaseURL overrides https://{dc}.api.mailchimp.com/3.0
	BaseURL string

	TypeMergeTag  string
	TypeMember    string
	TypeVolunteer string
}

// Client upserts list members
type Client struct {
	config  Config
	base    string
	http    *commonhttp.Wrapper
	metrics *metrics.Registry
	logger  logging.Logger
}

type listMember struct {
	ID           string                 `json:"id,omitempty"`
	EmailAddress string                 `json:"email_address"`
	Status       string                 `json:"status,omitempty"`
	MergeFields  map[string]interface{} `json:"merge_fields"`
}

type listPage struct {
	Members    []listMember `json:"members"`
	TotalItems int          `json:"total_items"`
}

// New creates a client; when cfg.Enabled is false every call is a no-op
func New(cfg Config, httpClient *http.Client, m *metrics.Registry, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	logger = logger.WithFields(logging.Field{"component", "mailchimp"})
	if httpClient == nil {
		httpClient = commonhttp.NewHTTPClient(commonhttp.WithTimeout(requestTimeout))
	}

	base := cfg.BaseURL
	if base == "" {
		base = fmt.Sprintf("https://%s.api.mailchimp.com/3.0", cfg.DC)
	}

	breaker := circuitbreaker.New("mailchimp", circuitbreaker.HTTPConfig, logger)
	return &Client{
		config:  cfg,
		base:    fmt.Sprintf("%s/lists/%s/", base, cfg.ListID),
		http:    commonhttp.NewWrapper(httpClient, breaker),
		metrics: m,
		logger:  logger,
	}
}

// Enabled reports whether calls reach MailChimp
func (c *Client) Enabled() bool {
	return c.config.Enabled
}

// UpsertMember creates or updates the list entry for a member record
func (c *Client) UpsertMember(ctx context.Context, member map[string]string) error {
	return c.upsert(ctx, member, fields.Member, c.config.TypeMember)
}

// UpsertVolunteer creates or updates the list entry for a volunteer record
func (c *Client) UpsertVolunteer(ctx context.Context, volunteer map[string]string) error {
	return c.upsert(ctx, volunteer, fields.Volunteer, c.config.TypeVolunteer)
}

func (c *Client) upsert(ctx context.Context, record map[string]string, set *fields.Set, typename string) error {
	if !c.config.Enabled {
		return nil
	}

	id := record[fields.ID]
	if id == "" {
		c.logger.Error("Upsert called with empty id", nil, logging.Field{"set", set.Name})
		return errors.ValidationError("bad data in sheet")
	}

	existing, err := c.find(ctx, id, set)
	if err != nil {
		return err
	}

	if existing != nil {
		if fmt.Sprint(existing.MergeFields[c.config.TypeMergeTag]) != typename {
			c.logger.Error("List member has the wrong type", nil,
				logging.Field{"id", id},
				logging.Field{"want", typename},
			)
			return errors.ValidationError("bad data in sheet")
		}
		update := c.fromRecord(existing.MergeFields, record, set, typename)
		c.logger.Info("Updating list member", logging.Field{"id", id}, logging.Field{"list_member", existing.ID})
		return c.request(ctx, http.MethodPatch, "members/"+existing.ID, update, nil)
	}

	created := c.fromRecord(map[string]interface{}{}, record, set, typename)
	created.Status = statusField
	c.logger.Info("Creating list member", logging.Field{"id", id})
	return c.request(ctx, http.MethodPost, "members", created, nil)
}

// find pages through the list comparing the id merge field
func (c *Client) find(ctx context.Context, id string, set *fields.Set) (*listMember, error) {
	tag := set.Must(fields.ID).MailChimpMergeTag
	offset := 0
	for {
		var page listPage
		path := fmt.Sprintf("members?count=%d&offset=%d", pageSize, offset)
		if err := c.request(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, err
		}

		for i := range page.Members {
			if fmt.Sprint(page.Members[i].MergeFields[tag]) == id {
				return &page.Members[i], nil
			}
		}

		offset += len(page.Members)
		if len(page.Members) == 0 || offset >= page.TotalItems {
			return nil, nil
		}
	}
}

func (c *Client) fromRecord(merge map[string]interface{}, record map[string]string, set *fields.Set, typename string) *listMember {
	if merge == nil {
		merge = map[string]interface{}{}
	}
	for _, f := range set.All() {
		if f.MailChimpMergeTag == "" {
			continue
		}
		merge[f.MailChimpMergeTag] = record[f.Name]
	}
	merge[c.config.TypeMergeTag] = typename
	return &listMember{
		EmailAddress: record[fields.Email],
		MergeFields:  merge,
	}
}

func (c *Client) request(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	opts := commonhttp.RequestOptions{
		Method:   method,
		URL:      c.base + path,
		User:     "anystring",
		Password: c.config.APIKey,
		Headers:  map[string]string{"Accept": "application/json"},
	}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.InternalError("failed to encode request", err)
		}
		opts.Body = raw
		opts.Headers["Content-Type"] = "application/json"
	}

	resp, err := c.http.Do(ctx, opts)
	c.metrics.ObserveExternal("mailchimp", err)
	if err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(resp.RawBody, out); err != nil {
			return errors.InternalError("failed to decode MailChimp response", err)
		}
	}
	return nil
}
