package server

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartAndShutdown(t *testing.T) {
	s := New(http.NotFoundHandler(), "0", "", "")
	require.NoError(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-s.Errors():
		t.Fatalf("unexpected serve error: %v", err)
	default:
	}
}

func TestStart_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	s := New(http.NotFoundHandler(), port, "", "")
	assert.Error(t, s.Start())
}
