package members

import (
	"context"
	stderrors "errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"membership-manager/internal/common/errors"
	"membership-manager/internal/fields"
	"membership-manager/internal/testutil"
)

var testNow = time.Date(2024, 6, 15, 16, 0, 0, 0, time.UTC)

type fixture struct {
	svc    *Service
	store  *testutil.MemorySheets
	geo    *testutil.MockGeocoder
	sheets Sheets
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	loc, err := time.LoadLocation("America/Toronto")
	require.NoError(t, err)

	store := testutil.NewMemorySheets()
	geo := &testutil.MockGeocoder{}
	sheets := Sheets{
		Members:            testutil.NewSheet(fields.Member),
		Authorized:         testutil.NewSheet(fields.Authorized),
		Volunteers:         testutil.NewSheet(fields.Volunteer),
		VolunteerInterests: testutil.NewSheet(fields.VolunteerInterest),
		SkillsCategories:   testutil.NewSheet(fields.SkillsCategory),
	}
	svc := NewService(store, sheets, geo, loc, nil).WithClock(func() time.Time { return testNow })
	return &fixture{svc: svc, store: store, geo: geo, sheets: sheets}
}

func memberForm() url.Values {
	return url.Values{
		fields.FirstName:          {"Jane"},
		fields.LastName:           {"Doe"},
		fields.Email:              {"jane@example.com"},
		fields.StreetNumber:       {"12"},
		fields.StreetName:         {"Main St"},
		fields.City:               {""},
		fields.PostalCode:         {"M1M 1M1"},
		fields.VolunteerInterests: {"Gardening", "Events"},
	}
}

func TestMemberFromForm_Join(t *testing.T) {
	f := newFixture(t)
	f.geo.On("AddressForLatLong", "43.6, -79.4").Return("1 Queen St", nil)
	f.geo.On("LatLongForAddress", "12, Main St, Toronto, Ontario, M1M 1M1, Canada").Return("43.7, -79.3", nil)

	form := memberForm()
	form.Set(GeopositionParam, "43.6, -79.4")

	m, err := f.svc.MemberFromForm(context.Background(), form, "admin@example.org", Join)
	require.NoError(t, err)

	assert.Len(t, m[fields.ID], 36)
	assert.Equal(t, "2024-06-15", m[fields.Joined])
	assert.Equal(t, "admin@example.org", m[fields.JoinedBy])
	assert.Equal(t, "43.6, -79.4", m[fields.JoinedLatLong])
	assert.Equal(t, "1 Queen St", m[fields.JoinedAddress])
	assert.Equal(t, "2024-06-15", m[fields.Renewed])
	assert.Equal(t, "admin@example.org", m[fields.RenewedBy])
	assert.Equal(t, "1 Queen St", m[fields.RenewedAddress])
	assert.Equal(t, "43.7, -79.3", m[fields.AddressLatLong])
	assert.Equal(t, "Gardening; Events", m[fields.VolunteerInterests])
	_, hasGeo := m[GeopositionParam]
	assert.False(t, hasGeo)
	f.geo.AssertExpectations(t)
}

func TestMemberFromForm_Renew(t *testing.T) {
	f := newFixture(t)
	f.geo.On("LatLongForAddress", mock.Anything).Return("", nil)

	form := memberForm()
	form.Set(fields.ID, "existing-id")
	m, err := f.svc.MemberFromForm(context.Background(), form, "admin@example.org", Renew)
	require.NoError(t, err)

	assert.Equal(t, "existing-id", m[fields.ID])
	assert.Empty(t, m[fields.Joined])
	// join-only and PayPal fields are left out so the sheet keeps them
	for _, name := range []string{fields.Joined, fields.JoinedLatLong, fields.JoinedAddress, fields.PaypalPayerID} {
		_, ok := m[name]
		assert.False(t, ok, name)
	}
	assert.Equal(t, "2024-06-15", m[fields.Renewed])
	assert.Empty(t, m[fields.RenewedLatLong])
}

func TestMemberFromForm_Rejections(t *testing.T) {
	tests := []struct {
		name string
		edit func(url.Values)
		msg  string
	}{
		{"non-form field", func(v url.Values) { v.Set(fields.Joined, "2001-01-01") }, "invalid field"},
		{"missing required", func(v url.Values) { v.Del(fields.LastName) }, "invalid input"},
		{"bad email", func(v url.Values) { v.Set(fields.Email, "nope") }, "invalid input"},
		{"bad geoposition", func(v url.Values) { v.Set(GeopositionParam, "200, 1") }, "invalid input"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			form := memberForm()
			tt.edit(form)
			_, err := f.svc.MemberFromForm(context.Background(), form, "a", Join)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
			appErr, _ := errors.As(err)
			assert.Equal(t, tt.msg, appErr.Message)
		})
	}
}

func TestMemberFromForm_GeocodeFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.geo.On("AddressForLatLong", mock.Anything).Return("", stderrors.New("quota"))
	f.geo.On("LatLongForAddress", mock.Anything).Return("", stderrors.New("quota"))

	form := memberForm()
	form.Set(GeopositionParam, "43.6, -79.4")
	m, err := f.svc.MemberFromForm(context.Background(), form, "a", Join)
	require.NoError(t, err)
	assert.Equal(t, "43.6, -79.4", m[fields.JoinedLatLong])
	assert.Empty(t, m[fields.JoinedAddress])
	assert.Empty(t, m[fields.AddressLatLong])
}

func TestAddressLatLong_NoStreetSkipsGeocode(t *testing.T) {
	f := newFixture(t)
	got := f.svc.addressLatLong(context.Background(), map[string]string{fields.StreetNumber: "12"})
	assert.Empty(t, got)
	f.geo.AssertNotCalled(t, "LatLongForAddress", mock.Anything)
}

func TestVolunteerFromForm(t *testing.T) {
	f := newFixture(t)
	f.geo.On("LatLongForAddress", mock.Anything).Return("43.7, -79.3", nil)

	form := memberForm()
	v, err := f.svc.VolunteerFromForm(context.Background(), form, "https://example.org/volunteer")
	require.NoError(t, err)
	assert.NotEmpty(t, v[fields.ID])
	assert.Equal(t, "2024-06-15", v[fields.Joined])
	assert.Equal(t, "https://example.org/volunteer", v[fields.JoinedBy])
	assert.Equal(t, "43.7, -79.3", v[fields.AddressLatLong])
	_, hasRenewed := v[fields.Renewed]
	assert.False(t, hasRenewed)

	form.Set(fields.AddressLatLong, "1, 1")
	_, err = f.svc.VolunteerFromForm(context.Background(), form, "x")
	assert.Error(t, err)
}
