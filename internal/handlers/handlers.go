// Package handlers implements the admin, self-serve and operational HTTP
// routes.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"membership-manager/internal/common/errors"
	"membership-manager/internal/common/logging"
	"membership-manager/internal/members"
	"membership-manager/internal/tasks"
)

// CandidateStore parks a paying join until its payment arrives
type CandidateStore interface {
	Store(ctx context.Context, member map[string]string) (string, error)
}

// PaymentGateway builds payment links and verifies payment notifications
type PaymentGateway interface {
	PaymentURL(invoice string) string
	Verify(ctx context.Context, rawBody []byte) (bool, error)
	ExpectedItemName() string
	ExpectedReceiverEmail() string
}

// AdminNotifier emails the administrators
type AdminNotifier interface {
	SendToAdmins(ctx context.Context, subject, text string) error
}

// AuthorizedCache forgets cached authorization answers
type AuthorizedCache interface {
	Forget(email string)
}

// QueueStats reports task queue depth
type QueueStats interface {
	Pending(ctx context.Context) (int64, error)
	DeadLetters(ctx context.Context) (int64, error)
}

// HealthCheck is one dependency probed by /health
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Options wires the handlers' dependencies
type Options struct {
	Members    *members.Service
	Candidates CandidateStore
	Queue      tasks.Enqueuer
	PayPal     PaymentGateway
	Notifier   AdminNotifier
	Authorized AuthorizedCache
	Health     []HealthCheck
	QueueStats QueueStats
	Demo       bool
	Logger     logging.Logger
}

// Handlers serves every route
type Handlers struct {
	members    *members.Service
	candidates CandidateStore
	queue      tasks.Enqueuer
	paypal     PaymentGateway
	notifier   AdminNotifier
	authorized AuthorizedCache
	health     []HealthCheck
	queueStats QueueStats
	demo       bool
	logger     logging.Logger
}

func New(opts Options) *Handlers {
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Handlers{
		members:    opts.Members,
		candidates: opts.Candidates,
		queue:      opts.Queue,
		paypal:     opts.PayPal,
		notifier:   opts.Notifier,
		authorized: opts.Authorized,
		health:     opts.Health,
		queueStats: opts.QueueStats,
		demo:       opts.Demo,
		logger:     logger.WithFields(logging.Field{"component", "handlers"}),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(body))
}

// writeError answers with the error's status and public message. Server
// errors are logged with the request's context.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	logger := h.logger.WithContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", err, logging.String("path", r.URL.Path))
	} else {
		logger.Warn("Request rejected", logging.String("path", r.URL.Path), logging.Err(err))
	}
	http.Error(w, errors.PublicMessage(err), status)
}

// parseForm returns the posted form values; query parameters are ignored
func parseForm(r *http.Request) (url.Values, error) {
	if err := r.ParseForm(); err != nil {
		return nil, errors.ValidationError("invalid form")
	}
	return r.PostForm, nil
}

// formOptions is what the join and volunteer forms need to render
func (h *Handlers) formOptions(ctx context.Context) (map[string]interface{}, error) {
	interests, err := h.members.VolunteerInterests(ctx)
	if err != nil {
		return nil, err
	}
	categories, err := h.members.SkillsCategories(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"volunteer_interests": interests,
		"skills_categories":   categories,
	}, nil
}
