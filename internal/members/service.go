// Package members implements the member, volunteer and authorized-user
// operations on top of the sheet store.
package members

import (
	"context"
	"net/url"
	"strings"
	"time"

	"membership-manager/internal/common/errors"
	"membership-manager/internal/common/logging"
	"membership-manager/internal/common/utils"
	"membership-manager/internal/fields"
	"membership-manager/internal/geocode"
	"membership-manager/internal/sheetdata"
)

// Mode says whether a member form is a new join or a renewal
type Mode string

const (
	Join  Mode = "join"
	Renew Mode = "renew"
)

// PayPalActor is recorded as Renewed By for automatic PayPal renewals
const PayPalActor = "PAYPAL"

// GeopositionParam is the form value carrying the browser's location
const GeopositionParam = "geoposition"

// DefaultCity is assumed when a member leaves City empty
const DefaultCity = "Toronto"

// RowStore is the subset of sheetdata.Store the service needs
type RowStore interface {
	FindRows(ctx context.Context, sheet *sheetdata.Sheet, match sheetdata.Matcher, max int) ([]*sheetdata.Row, error)
	FindRow(ctx context.Context, sheet *sheetdata.Sheet, match sheetdata.Matcher) (*sheetdata.Row, error)
	Append(ctx context.Context, row *sheetdata.Row) error
	Update(ctx context.Context, row *sheetdata.Row) error
	DeleteRows(ctx context.Context, sheet *sheetdata.Sheet, nums []int) error
	CopyDriveFile(ctx context.Context, fileID, title, description string) (string, error)
}

// Sheets are the worksheets the service reads and writes. The interest
// and skills sheets are optional.
type Sheets struct {
	Members            *sheetdata.Sheet
	Authorized         *sheetdata.Sheet
	Volunteers         *sheetdata.Sheet
	VolunteerInterests *sheetdata.Sheet
	SkillsCategories   *sheetdata.Sheet
}

// Service holds the member operations
type Service struct {
	store    RowStore
	sheets   Sheets
	geocoder geocode.Geocoder
	loc      *time.Location
	now      func() time.Time
	logger   logging.Logger
}

// NewService creates the service. A nil geocoder disables geocoding.
func NewService(store RowStore, sheets Sheets, geocoder geocode.Geocoder, loc *time.Location, logger logging.Logger) *Service {
	if geocoder == nil {
		geocoder = geocode.Nop{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Service{
		store:    store,
		sheets:   sheets,
		geocoder: geocoder,
		loc:      loc,
		now:      time.Now,
		logger:   logger.WithFields(logging.Field{"component", "members"}),
	}
}

// WithClock replaces the time source
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) today() string {
	return utils.Today(s.now(), s.loc)
}

// formInput flattens a form; repeated values (checkbox groups) are joined
// with the multivalue divider
func formInput(form url.Values) map[string]string {
	input := make(map[string]string, len(form))
	for k, vs := range form {
		input[k] = strings.Join(vs, fields.MultivalueDivider)
	}
	return input
}

// rejectNonFormFields fails when the form tries to set a server-owned field
func rejectNonFormFields(form url.Values, set *fields.Set) error {
	for _, f := range set.All() {
		if f.FormField {
			continue
		}
		if _, ok := form[f.Name]; ok {
			return errors.ValidationError("invalid field").WithContext("field", f.Name)
		}
	}
	return nil
}

// geoposition validates the browser location and reverse-geocodes it
func (s *Service) geoposition(ctx context.Context, form url.Values, required bool) (string, string, error) {
	latlong := form.Get(GeopositionParam)
	if !fields.LatLongValidator(latlong, required) {
		return "", "", errors.ValidationError("invalid input").WithContext("field", GeopositionParam)
	}
	if latlong == "" {
		return "", "", nil
	}

	address, err := s.geocoder.AddressForLatLong(ctx, latlong)
	if err != nil {
		s.logger.Warn("Reverse geocoding failed", logging.String("latlong", latlong), logging.Err(err))
		return latlong, "", nil
	}
	return latlong, address, nil
}

// addressLatLong geocodes the record's street address
func (s *Service) addressLatLong(ctx context.Context, record map[string]string) string {
	if record[fields.StreetName] == "" {
		return ""
	}
	city := record[fields.City]
	if city == "" {
		city = DefaultCity
	}

	latlong, err := s.geocoder.LatLongForAddress(ctx, []string{
		record[fields.StreetNumber],
		record[fields.StreetName],
		city,
		"Ontario",
		record[fields.PostalCode],
		"Canada",
	})
	if err != nil {
		s.logger.Warn("Geocoding failed", logging.String("id", record[fields.ID]), logging.Err(err))
		return ""
	}
	return latlong
}

// MemberFromForm validates a member form and fills in the server-owned
// fields for a join or renewal by actor
func (s *Service) MemberFromForm(ctx context.Context, form url.Values, actor string, mode Mode) (map[string]string, error) {
	if err := rejectNonFormFields(form, fields.Member); err != nil {
		return nil, err
	}

	member, ok := fields.Member.Validate(formInput(form))
	if !ok {
		return nil, errors.ValidationError("invalid input")
	}
	// Server-owned fields are only carried when set below, so a renewal
	// leaves the rest of them as the sheet has them
	for _, f := range fields.Member.All() {
		if !f.FormField {
			delete(member, f.Name)
		}
	}

	required := fields.Member.Must(fields.JoinedLatLong).Required
	if mode == Renew {
		required = fields.Member.Must(fields.RenewedLatLong).Required
	}
	latlong, address, err := s.geoposition(ctx, form, required)
	if err != nil {
		return nil, err
	}

	today := s.today()
	if mode == Join {
		member[fields.ID] = utils.NewRecordID()
		member[fields.Joined] = today
		member[fields.JoinedBy] = actor
		member[fields.JoinedLatLong] = latlong
		member[fields.JoinedAddress] = address
	}

	member[fields.Renewed] = today
	member[fields.RenewedBy] = actor
	member[fields.RenewedLatLong] = latlong
	member[fields.RenewedAddress] = address

	member[fields.AddressLatLong] = s.addressLatLong(ctx, member)
	return member, nil
}

// VolunteerFromForm validates a volunteer form
func (s *Service) VolunteerFromForm(ctx context.Context, form url.Values, actor string) (map[string]string, error) {
	if err := rejectNonFormFields(form, fields.Volunteer); err != nil {
		return nil, err
	}

	volunteer, ok := fields.Volunteer.Validate(formInput(form))
	if !ok {
		return nil, errors.ValidationError("invalid input")
	}

	latlong, address, err := s.geoposition(ctx, form, fields.Volunteer.Must(fields.JoinedLatLong).Required)
	if err != nil {
		return nil, err
	}

	volunteer[fields.ID] = utils.NewRecordID()
	volunteer[fields.Joined] = s.today()
	volunteer[fields.JoinedBy] = actor
	volunteer[fields.JoinedLatLong] = latlong
	volunteer[fields.JoinedAddress] = address
	volunteer[fields.AddressLatLong] = s.addressLatLong(ctx, volunteer)
	return volunteer, nil
}
