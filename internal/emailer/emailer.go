// Package emailer sends multipart HTML/text email over SMTP.
package emailer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/smtp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	strip "github.com/grokify/html-strip-tags-go"

	"membership-manager/internal/common/errors"
	"membership-manager/internal/common/logging"
	"membership-manager/internal/metrics"
)

// Recipient is one To address
type Recipient struct {
	Address string
	Name    string
}

// Config holds SMTP and sender settings
type Config struct {
	Host     string
	Port     int
	Password string
	// FromAddress is both the sender and the SMTP login
	FromAddress string
	FromName    string
	// AllowedTo restricts delivery when non-empty
	AllowedTo []string
	// Demo suppresses all outgoing mail
	Demo bool
}

// SendFunc matches smtp.SendMail
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service sends email
type Service struct {
	config  Config
	allowed map[string]bool
	send    SendFunc
	metrics *metrics.Registry
	logger  logging.Logger
	now     func() time.Time
}

// NewService creates an email service. smtp.SendMail upgrades to STARTTLS
// when the server offers it.
func NewService(cfg Config, m *metrics.Registry, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	allowed := make(map[string]bool, len(cfg.AllowedTo))
	for _, a := range cfg.AllowedTo {
		allowed[strings.ToLower(strings.TrimSpace(a))] = true
	}
	return &Service{
		config:  cfg,
		allowed: allowed,
		send:    smtp.SendMail,
		metrics: m,
		logger:  logger.WithFields(logging.Field{"component", "emailer"}),
		now:     time.Now,
	}
}

// WithSendFunc replaces the SMTP transport
func (s *Service) WithSendFunc(fn SendFunc) *Service {
	s.send = fn
	return s
}

// Send delivers one message to all recipients. The text body is derived
// from the HTML when empty.
func (s *Service) Send(ctx context.Context, recipients []Recipient, subject, html, text string) error {
	if s.config.Demo {
		s.logger.Info("Demo mode; not sending email", logging.Field{"subject", subject})
		return nil
	}
	if html == "" && text == "" {
		return errors.ValidationError("email must have an HTML or text body")
	}
	if text == "" {
		text = strings.TrimSpace(strip.StripTags(html))
	}

	to := s.filter(recipients)
	if len(to) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := s.build(to, subject, html, text)
	if err != nil {
		return errors.InternalError("failed to build email", err)
	}

	addrs := make([]string, len(to))
	for i, r := range to {
		addrs[i] = r.Address
	}

	auth := smtp.PlainAuth("", s.config.FromAddress, s.config.Password, s.config.Host)
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	err = s.send(addr, auth, s.config.FromAddress, addrs, msg)
	s.metrics.ObserveEmail(err)
	if err != nil {
		return errors.ConnectionError("failed to send email", err).WithContext("subject", subject)
	}

	s.logger.Info("Email sent",
		logging.Field{"subject", subject},
		logging.Field{"recipients", len(addrs)},
	)
	return nil
}

// SendToAdmins mails the master address
func (s *Service) SendToAdmins(ctx context.Context, subject, text string) error {
	return s.Send(ctx, []Recipient{{Address: s.config.FromAddress, Name: s.config.FromName}}, subject, "", text)
}

func (s *Service) filter(recipients []Recipient) []Recipient {
	var out []Recipient
	for _, r := range recipients {
		if r.Address == "" {
			continue
		}
		if len(s.allowed) > 0 && !s.allowed[strings.ToLower(r.Address)] {
			s.logger.Warn("Recipient not in allowed list; skipping", logging.Field{"to", r.Address})
			continue
		}
		out = append(out, r)
	}
	return out
}

func (s *Service) build(to []Recipient, subject, html, text string) ([]byte, error) {
	var h mail.Header
	h.SetDate(s.now())
	h.SetSubject(subject)
	h.SetAddressList("From", []*mail.Address{{Name: s.config.FromName, Address: s.config.FromAddress}})
	list := make([]*mail.Address, len(to))
	for i, r := range to {
		list[i] = &mail.Address{Name: r.Name, Address: r.Address}
	}
	h.SetAddressList("To", list)

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	tw, err := mw.CreateInline()
	if err != nil {
		return nil, err
	}

	parts := []struct {
		contentType string
		body        string
	}{
		{"text/plain", text},
		{"text/html", html},
	}
	for _, p := range parts {
		if p.body == "" {
			continue
		}
		var ph mail.InlineHeader
		ph.SetContentType(p.contentType, map[string]string{"charset": "utf-8"})
		w, err := tw.CreatePart(ph)
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(w, p.body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
