package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"membership-manager/internal/common/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Geocoder {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g, err := New(Config{APIKey: "test-key", BaseURL: srv.URL, HTTPClient: srv.Client()}, nil, nil)
	require.NoError(t, err)
	return g
}

func TestNew_NoKeyIsNop(t *testing.T) {
	g, err := New(Config{}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, Nop{}, g)

	ll, err := g.LatLongForAddress(context.Background(), []string{"1 Main St"})
	assert.NoError(t, err)
	assert.Empty(t, ll)
}

func TestLatLongForAddress(t *testing.T) {
	g := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/maps/api/geocode/json", r.URL.Path)
		assert.Equal(t, "12, Main St, Toronto, Ontario, Canada", r.URL.Query().Get("address"))
		assert.Equal(t, "ca", r.URL.Query().Get("region"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"OK","results":[{"formatted_address":"12 Main St","geometry":{"location":{"lat":43.65,"lng":-79.38}}}]}`))
	})

	ll, err := g.LatLongForAddress(context.Background(), []string{"12", "Main St", "Toronto", "Ontario", "", "Canada"})
	require.NoError(t, err)
	assert.Equal(t, "43.65, -79.38", ll)
}

func TestLatLongForAddress_NoResults(t *testing.T) {
	g := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ZERO_RESULTS","results":[]}`))
	})

	ll, err := g.LatLongForAddress(context.Background(), []string{"nowhere"})
	require.NoError(t, err)
	assert.Empty(t, ll)
}

func TestAddressForLatLong(t *testing.T) {
	g := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "43.65,-79.38", r.URL.Query().Get("latlng"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"OK","results":[{"formatted_address":"100 Queen St W, Toronto, ON","geometry":{"location":{"lat":43.65,"lng":-79.38}}}]}`))
	})

	addr, err := g.AddressForLatLong(context.Background(), "43.65, -79.38")
	require.NoError(t, err)
	assert.Equal(t, "100 Queen St W, Toronto, ON", addr)

	_, err = g.AddressForLatLong(context.Background(), "not a place")
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestAddressForLatLong_NoResults(t *testing.T) {
	g := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ZERO_RESULTS","results":[]}`))
	})

	addr, err := g.AddressForLatLong(context.Background(), "0, 0")
	require.NoError(t, err)
	assert.Empty(t, addr)
}

func TestGeocode_ErrorStatusFails(t *testing.T) {
	g := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"REQUEST_DENIED","error_message":"bad key","results":[]}`))
	})

	_, err := g.LatLongForAddress(context.Background(), []string{"12", "Main St"})
	assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
}

func TestJoinAddress(t *testing.T) {
	assert.Equal(t, "a, b", JoinAddress([]string{" a ", "", "b"}))
	assert.Equal(t, "", JoinAddress(nil))
}
