// Package candidates holds member records between the self-serve join
// form and payment confirmation.
package candidates

import (
	"context"
	"time"

	"membership-manager/internal/common/errors"
	"membership-manager/internal/common/logging"
	"membership-manager/internal/common/utils"
	"membership-manager/internal/redis"
)

const (
	keyPrefix = "candidate:"
	indexKey  = "candidates:expiry"

	// DefaultLifetime is how long a candidate waits for its payment
	DefaultLifetime = 24 * time.Hour
)

// Candidate is a validated member record awaiting payment
type Candidate struct {
	Invoice string            `json:"invoice"`
	Member  map[string]string `json:"member"`
	Created time.Time         `json:"created"`
	Expire  time.Time         `json:"expire"`
}

// Store keeps candidates in Redis
type Store struct {
	redis    *redis.Client
	lifetime time.Duration
	now      func() time.Time
	logger   logging.Logger
}

// NewStore creates a candidate store
func NewStore(client *redis.Client, logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Store{
		redis:    client,
		lifetime: DefaultLifetime,
		now:      time.Now,
		logger:   logger.WithFields(logging.Field{"component", "candidates"}),
	}
}

// Store saves member and returns its new invoice id
func (s *Store) Store(ctx context.Context, member map[string]string) (string, error) {
	now := s.now()
	c := Candidate{
		Invoice: utils.NewInvoiceID(),
		Member:  member,
		Created: now,
		Expire:  now.Add(s.lifetime),
	}

	// The Redis TTL outlives the index entry so ClearExpired sees it first
	if err := s.redis.SetJSON(ctx, keyPrefix+c.Invoice, c, s.lifetime+time.Hour); err != nil {
		return "", errors.ConnectionError("failed to store member candidate", err)
	}
	if err := s.redis.IndexAdd(ctx, indexKey, c.Invoice, float64(c.Expire.Unix())); err != nil {
		return "", errors.ConnectionError("failed to index member candidate", err)
	}

	s.logger.Info("Stored member candidate", logging.Field{"invoice", c.Invoice})
	return c.Invoice, nil
}

// Get fetches the candidate for invoice without removing it
func (s *Store) Get(ctx context.Context, invoice string) (*Candidate, error) {
	if invoice == "" {
		return nil, errors.NotFoundError("member candidate")
	}

	var c Candidate
	err := s.redis.GetJSON(ctx, keyPrefix+invoice, &c)
	if err == redis.Nil {
		return nil, errors.NotFoundError("member candidate")
	}
	if err != nil {
		return nil, errors.ConnectionError("failed to read member candidate", err)
	}
	return &c, nil
}

// Delete removes the candidate for invoice. Deleting a missing candidate
// is not an error.
func (s *Store) Delete(ctx context.Context, invoice string) error {
	if _, err := s.redis.Delete(ctx, keyPrefix+invoice); err != nil {
		return errors.ConnectionError("failed to delete member candidate", err)
	}
	if _, err := s.redis.IndexRemove(ctx, indexKey, invoice); err != nil {
		s.logger.Warn("Failed to remove candidate index entry", logging.Field{"invoice", invoice}, logging.Err(err))
	}
	return nil
}

// ClearExpired deletes candidates whose expiry is at or before now and
// returns how many index entries were removed
func (s *Store) ClearExpired(ctx context.Context, now time.Time) (int, error) {
	invoices, err := s.redis.IndexUpTo(ctx, indexKey, float64(now.Unix()))
	if err != nil {
		return 0, errors.ConnectionError("failed to read candidate index", err)
	}
	if len(invoices) == 0 {
		return 0, nil
	}

	keys := make([]string, len(invoices))
	for i, inv := range invoices {
		keys[i] = keyPrefix + inv
	}
	if _, err := s.redis.Delete(ctx, keys...); err != nil {
		return 0, errors.ConnectionError("failed to delete expired candidates", err)
	}
	if _, err := s.redis.IndexRemove(ctx, indexKey, invoices...); err != nil {
		return 0, errors.ConnectionError("failed to trim candidate index", err)
	}

	s.logger.Info("Cleared expired member candidates", logging.Field{"count", len(invoices)})
	return len(invoices), nil
}
