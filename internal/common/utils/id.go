package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/lucsky/cuid"
)

// NewRecordID returns the value stored in a row's ID column
func NewRecordID() string {
	return uuid.NewString()
}

// NewInvoiceID returns an id short enough for PayPal's invoice field and
// safe to use as a Redis key suffix
func NewInvoiceID() string {
	return cuid.New()
}

// NewRequestID returns an id for correlating log lines of one request
func NewRequestID() string {
	return fmt.Sprintf("req_%s", cuid.Slug())
}

// RandomToken returns n random bytes hex encoded
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
