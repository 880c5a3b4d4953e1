// Package paypal builds payment links and validates Instant Payment
// Notifications.
package paypal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"membership-manager/internal/circuitbreaker"
	commonhttp "membership-manager/internal/common/http"
	"membership-manager/internal/common/logging"
	"membership-manager/internal/metrics"
)

// DefaultValidationURL is PayPal's live IPN postback endpoint
const DefaultValidationURL = "https://ipnpb.paypal.com/cgi-bin/webscr"

const verifiedBody = "VERIFIED"

// Config holds PayPal settings
type Config struct {
	// PaymentURL contains one %s for the invoice id
	PaymentURL    string
	ValidationURL string
	ItemName      string
	ReceiverEmail string
}

// Client validates notifications and renders payment links
type Client struct {
	config  Config
	http    *commonhttp.Wrapper
	metrics *metrics.Registry
	logger  logging.Logger
}

// New creates a PayPal client
func New(cfg Config, httpClient *http.Client, m *metrics.Registry, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	logger = logger.WithFields(logging.Field{"component", "paypal"})
	if cfg.ValidationURL == "" {
		cfg.ValidationURL = DefaultValidationURL
	}
	return &Client{
		config:  cfg,
		http:    commonhttp.NewWrapper(httpClient, circuitbreaker.New("paypal", circuitbreaker.PaymentConfig, logger)),
		metrics: m,
		logger:  logger,
	}
}

// PaymentURL returns the checkout link for invoice
func (c *Client) PaymentURL(invoice string) string {
	return fmt.Sprintf(c.config.PaymentURL, url.QueryEscape(invoice))
}

// Verify posts the notification back to PayPal. It is verified only when
// PayPal answers 200 with exactly "VERIFIED".
func (c *Client) Verify(ctx context.Context, rawBody []byte) (bool, error) {
	body := append([]byte("cmd=_notify-validate&"), rawBody...)
	resp, err := c.http.Do(ctx, commonhttp.RequestOptions{
		Method:  http.MethodPost,
		URL:     c.config.ValidationURL,
		Body:    body,
		Headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
	})
	c.metrics.ObserveExternal("paypal", err)
	if err != nil {
		c.logger.Error("IPN validation request failed", err)
		return false, err
	}

	if resp.StatusCode != http.StatusOK || string(resp.RawBody) != verifiedBody {
		c.logger.Warn("IPN not verified",
			logging.Field{"status", resp.StatusCode},
			logging.Field{"body", strings.TrimSpace(string(resp.RawBody))},
		)
		return false, nil
	}
	return true, nil
}

// ExpectedItemName is the item name completed transactions must carry
func (c *Client) ExpectedItemName() string {
	return c.config.ItemName
}

// ExpectedReceiverEmail is the account payments must go to
func (c *Client) ExpectedReceiverEmail() string {
	return c.config.ReceiverEmail
}
