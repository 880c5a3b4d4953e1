package members

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"membership-manager/internal/common/errors"
	"membership-manager/internal/common/logging"
	"membership-manager/internal/common/utils"
	"membership-manager/internal/fields"
	"membership-manager/internal/sheetdata"
)

// MaxMemberAgeDays is how long after their last renewal a member is culled
const MaxMemberAgeDays = 800

// Outcome of JoinOrRenew
type Outcome string

const (
	Joined  Outcome = "join"
	Renewed Outcome = "renew"
)

// Rep is a volunteer-interest representative
type Rep struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// InterestReps lists the reps for one interest
type InterestReps struct {
	Interest string `json:"interest"`
	Reps     []Rep  `json:"reps"`
}

func sameEmail(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}

// mergeInto writes incoming onto row and fills incoming from the sheet.
// Every mutable field present in incoming is written, so an empty value
// clears the cell. Absent and immutable fields keep the sheet's value.
func mergeInto(row *sheetdata.Row, incoming map[string]string) {
	for _, h := range row.Headings {
		name := fields.TitleToName(h)
		field, known := row.Sheet.Fields.Get(name)
		value, present := incoming[name]
		if known && field.Mutable && present {
			row.Values[name] = value
			continue
		}
		incoming[name] = row.Values[name]
	}
}

func (s *Service) update(ctx context.Context, row *sheetdata.Row, incoming map[string]string) error {
	mergeInto(row, incoming)
	return s.store.Update(ctx, row)
}

// JoinOrRenew renews the member whose email matches, or appends a new row.
// On renewal member is filled with the data now in the sheet.
func (s *Service) JoinOrRenew(ctx context.Context, member map[string]string) (Outcome, error) {
	email := member[fields.Email]
	if strings.TrimSpace(email) != "" {
		row, err := s.store.FindRow(ctx, s.sheets.Members, func(r map[string]string) bool {
			return sameEmail(r[fields.Email], email)
		})
		if err != nil {
			return "", err
		}
		if row != nil {
			if err := s.update(ctx, row, member); err != nil {
				return "", err
			}
			s.logger.Info("Renewed member", logging.String("id", member[fields.ID]))
			return Renewed, nil
		}
	}

	if err := s.store.Append(ctx, sheetdata.NewRow(s.sheets.Members, member)); err != nil {
		return "", err
	}
	s.logger.Info("Joined member", logging.String("id", member[fields.ID]))
	return Joined, nil
}

// RenewByID renews the member row with the record's ID
func (s *Service) RenewByID(ctx context.Context, member map[string]string) error {
	id := member[fields.ID]
	row, err := s.store.FindRow(ctx, s.sheets.Members, func(r map[string]string) bool {
		return id != "" && r[fields.ID] == id
	})
	if err != nil {
		return err
	}
	if row == nil {
		return errors.ValidationError("user ID lookup failed").WithContext("id", id)
	}
	return s.update(ctx, row, member)
}

// RenewByEmailOrPayPalID renews the member matched by PayPal payer id,
// email or PayPal email. Returns false when nobody matched.
func (s *Service) RenewByEmailOrPayPalID(ctx context.Context, email, payerID string, member map[string]string) (bool, error) {
	row, err := s.store.FindRow(ctx, s.sheets.Members, func(r map[string]string) bool {
		return (payerID != "" && r[fields.PaypalPayerID] == payerID) ||
			sameEmail(r[fields.Email], email) ||
			sameEmail(r[fields.PaypalEmail], email)
	})
	if err != nil {
		return false, err
	}

	member[fields.Renewed] = s.today()
	member[fields.RenewedBy] = PayPalActor
	member[fields.RenewedLatLong] = ""
	member[fields.RenewedAddress] = ""

	if row == nil {
		return false, nil
	}
	if err := s.update(ctx, row, member); err != nil {
		return false, err
	}
	return true, nil
}

// JoinVolunteer appends a volunteer row
func (s *Service) JoinVolunteer(ctx context.Context, volunteer map[string]string) error {
	return s.store.Append(ctx, sheetdata.NewRow(s.sheets.Volunteers, volunteer))
}

// AllMembers returns every member record sorted by last name
func (s *Service) AllMembers(ctx context.Context) ([]map[string]string, error) {
	rows, err := s.store.FindRows(ctx, s.sheets.Members, nil, 0)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]string, len(rows))
	for i, r := range rows {
		out[i] = r.Values
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i][fields.LastName]) < strings.ToLower(out[j][fields.LastName])
	})
	return out, nil
}

// distinctColumn returns the non-empty values of one column in sheet order
func (s *Service) distinctColumn(ctx context.Context, sheet *sheetdata.Sheet, name string) ([]string, error) {
	if sheet == nil {
		return []string{}, nil
	}
	rows, err := s.store.FindRows(ctx, sheet, nil, 0)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	out := []string{}
	for _, r := range rows {
		v := r.Values[name]
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out, nil
}

// VolunteerInterests lists the distinct interests
func (s *Service) VolunteerInterests(ctx context.Context) ([]string, error) {
	return s.distinctColumn(ctx, s.sheets.VolunteerInterests, fields.Interest)
}

// SkillsCategories lists the distinct skill categories
func (s *Service) SkillsCategories(ctx context.Context) ([]string, error) {
	return s.distinctColumn(ctx, s.sheets.SkillsCategories, fields.Category)
}

// InterestReps maps each of the record's volunteer interests to the reps
// responsible for it. Interests without reps are left out.
func (s *Service) InterestReps(ctx context.Context, record map[string]string) ([]InterestReps, error) {
	if s.sheets.VolunteerInterests == nil || record[fields.VolunteerInterests] == "" {
		return nil, nil
	}

	rows, err := s.store.FindRows(ctx, s.sheets.VolunteerInterests, nil, 0)
	if err != nil {
		return nil, err
	}

	var out []InterestReps
	for _, interest := range strings.Split(record[fields.VolunteerInterests], fields.MultivalueDivider) {
		interest = strings.TrimSpace(interest)
		if interest == "" {
			continue
		}
		var reps []Rep
		for _, r := range rows {
			if r.Values[fields.Interest] == interest && r.Values[fields.Email] != "" {
				reps = append(reps, Rep{Email: r.Values[fields.Email], Name: r.Values[fields.Name]})
			}
		}
		if len(reps) > 0 {
			out = append(out, InterestReps{Interest: interest, Reps: reps})
		}
	}
	return out, nil
}

// IsUserAuthorized reports whether email is in the authorized sheet
func (s *Service) IsUserAuthorized(ctx context.Context, email string) (bool, error) {
	if strings.TrimSpace(email) == "" {
		return false, nil
	}
	row, err := s.store.FindRow(ctx, s.sheets.Authorized, func(r map[string]string) bool {
		return sameEmail(r[fields.Email], email)
	})
	if err != nil {
		return false, err
	}
	return row != nil, nil
}

// AuthorizeUser adds a user to the authorized sheet
func (s *Service) AuthorizeUser(ctx context.Context, form url.Values, actor string) (map[string]string, error) {
	user, ok := fields.Authorized.Validate(formInput(form))
	if !ok {
		return nil, errors.ValidationError("invalid input")
	}

	exists, err := s.IsUserAuthorized(ctx, user[fields.Email])
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errors.ConflictError("user email address already authorized")
	}

	user[fields.ID] = utils.NewRecordID()
	user[fields.Created] = s.today()
	user[fields.CreatedBy] = actor

	if err := s.store.Append(ctx, sheetdata.NewRow(s.sheets.Authorized, user)); err != nil {
		return nil, err
	}
	s.logger.Info("Authorized user", logging.String("email", user[fields.Email]), logging.String("by", actor))
	return user, nil
}

// expired reports whether the member was last renewed (or joined) more
// than MaxMemberAgeDays ago. A row without any date is expired; a date
// that does not parse keeps the row.
func (s *Service) expired(record map[string]string, now time.Time) bool {
	stamp := strings.TrimSpace(record[fields.Renewed])
	if stamp == "" {
		stamp = strings.TrimSpace(record[fields.Joined])
	}
	if stamp == "" {
		return true
	}
	t, ok := utils.ParseDate(stamp, s.loc)
	if !ok {
		s.logger.Warn("Skipping member with unparseable date",
			logging.String("id", record[fields.ID]),
			logging.String("date", stamp),
		)
		return false
	}
	return utils.DaysSince(t, now, s.loc) > MaxMemberAgeDays
}

// CullMembers deletes the first member row not renewed within
// MaxMemberAgeDays. Returns whether a row was deleted; callers repeat
// until it returns false.
func (s *Service) CullMembers(ctx context.Context, now time.Time) (bool, error) {
	row, err := s.store.FindRow(ctx, s.sheets.Members, func(r map[string]string) bool {
		return s.expired(r, now)
	})
	if err != nil || row == nil {
		return false, err
	}

	if err := s.store.DeleteRows(ctx, s.sheets.Members, []int{row.Num}); err != nil {
		return false, err
	}
	s.logger.Info("Culled member",
		logging.String("id", row.Values[fields.ID]),
		logging.String("renewed", row.Values[fields.Renewed]),
		logging.Int("row", row.Num),
	)
	return true, nil
}

// ArchiveMembers copies the members spreadsheet away when the year has
// moved on from storedYear. Returns the year to store.
func (s *Service) ArchiveMembers(ctx context.Context, storedYear int, now time.Time) (int, error) {
	year := now.In(s.loc).Year()
	if storedYear == year {
		return storedYear, nil
	}

	title := fmt.Sprintf("Members %d", storedYear)
	description := fmt.Sprintf("Archive of the Members spreadsheet at the end of %d", storedYear)
	copyID, err := s.store.CopyDriveFile(ctx, s.sheets.Members.SpreadsheetID, title, description)
	if err != nil {
		return storedYear, err
	}

	s.logger.Info("Archived members spreadsheet", logging.String("title", title), logging.String("copy", copyID))
	return year, nil
}
