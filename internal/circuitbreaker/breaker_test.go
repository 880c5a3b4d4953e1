package circuitbreaker

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"membership-manager/internal/common/errors"
)

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := New("mailchimp", Config{MaxFailures: 2, Timeout: time.Minute, MaxConcurrentRequests: 1}, nil)
	boom := stderrors.New("503")

	assert.Equal(t, boom, b.Execute(context.Background(), func() error { return boom }))
	assert.Equal(t, boom, b.Execute(context.Background(), func() error { return boom }))
	assert.True(t, b.IsOpen())

	called := false
	err := b.Execute(context.Background(), func() error { called = true; return nil })
	require.Error(t, err)
	assert.False(t, called)
	assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
}

func TestBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	b := New("paypal", Config{MaxFailures: 1, Timeout: time.Minute, MaxConcurrentRequests: 1}, nil)

	err := b.Execute(context.Background(), func() error { return errors.ValidationError("bad data in sheet") })
	assert.Error(t, err)
	assert.False(t, b.IsOpen())
}

func TestBreaker_InvalidConfigFallsBack(t *testing.T) {
	b := New("geocode", Config{}, nil)
	assert.Equal(t, "geocode", b.Name())
	assert.NoError(t, b.Execute(context.Background(), func() error { return nil }))
}

func TestBreaker_CancelledContext(t *testing.T) {
	b := New("geocode", HTTPConfig, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Execute(ctx, func() error { t.Fatal("should not run"); return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
