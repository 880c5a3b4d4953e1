package testutil

import (
	"context"
	"strings"

	"github.com/stretchr/testify/mock"
)

// MockGeocoder is a testify mock of geocode.Geocoder
type MockGeocoder struct {
	mock.Mock
}

func (m *MockGeocoder) LatLongForAddress(ctx context.Context, components []string) (string, error) {
	args := m.Called(strings.Join(components, ", "))
	return args.String(0), args.Error(1)
}

func (m *MockGeocoder) AddressForLatLong(ctx context.Context, latlong string) (string, error) {
	args := m.Called(latlong)
	return args.String(0), args.Error(1)
}
