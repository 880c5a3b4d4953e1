// Package fields describes the columns of every sheet the service reads and
// writes, and validates form input against them.
package fields

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"membership-manager/internal/common/logging"
)

// MultivalueDivider separates entries in multi-valued cells such as
// "Volunteer Interests".
const MultivalueDivider = "; "

// ValidatorFunc reports whether value is acceptable for a field
type ValidatorFunc func(value string, required bool) bool

// Field describes one sheet column
type Field struct {
	Title     string
	Name      string
	Required  bool
	Validator ValidatorFunc
	// FormField is false for values the server fills in; a request that
	// supplies one is rejected.
	FormField bool
	// Mutable is false for values that never change after the row is created.
	Mutable bool
	// Values lists the choices offered by a form; empty means free text
	Values []string
	// MailChimpMergeTag is the list merge field the value is synced to, if any.
	MailChimpMergeTag string
}

// Option customises a Field created by New
type Option func(*Field)

func Required() Option { return func(f *Field) { f.Required = true } }

func NotForm() Option { return func(f *Field) { f.FormField = false } }

func Immutable() Option { return func(f *Field) { f.Mutable = false } }

func WithValidator(v ValidatorFunc) Option { return func(f *Field) { f.Validator = v } }

func MergeTag(tag string) Option { return func(f *Field) { f.MailChimpMergeTag = tag } }

// New creates a mutable form field validated with BasicValidator
func New(title string, opts ...Option) *Field {
	f := &Field{
		Title:     title,
		Name:      TitleToName(title),
		Validator: BasicValidator,
		FormField: true,
		Mutable:   true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Valid runs the field's validator
func (f *Field) Valid(value string) bool {
	return f.Validator(value, f.Required)
}

// Describe returns JSON-safe metadata for the field
func (f *Field) Describe() map[string]interface{} {
	values := f.Values
	if values == nil {
		values = []string{}
	}
	return map[string]interface{}{
		"title":      f.Title,
		"name":       f.Name,
		"required":   f.Required,
		"form_field": f.FormField,
		"mutable":    f.Mutable,
		"values":     values,
	}
}

var nonNameChars = regexp.MustCompile(`[^\w-]`)

// TitleToName converts a column title to the key used in row records:
// characters outside [A-Za-z0-9_-] are dropped and the rest lowercased.
func TitleToName(title string) string {
	return strings.ToLower(nonNameChars.ReplaceAllString(title, ""))
}

// AlwaysValid accepts anything
func AlwaysValid(string, bool) bool { return true }

// BasicValidator rejects only a missing required value
func BasicValidator(value string, required bool) bool {
	return !(required && value == "")
}

var emailCheck = validator.New()

// EmailValidator accepts an empty optional value or a syntactically valid address
func EmailValidator(value string, required bool) bool {
	if value == "" {
		return !required
	}
	return emailCheck.Var(value, "email") == nil
}

// LatLongValidator accepts an empty optional value or "<lat>, <long>" with
// both numbers strictly between -180 and 180.
func LatLongValidator(value string, required bool) bool {
	if value == "" {
		return !required
	}
	_, _, ok := ParseLatLong(value)
	return ok
}

// ParseLatLong parses a "<lat>, <long>" string
func ParseLatLong(value string) (float64, float64, bool) {
	parts := strings.Split(value, ", ")
	if len(parts) != 2 {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, 0, false
	}
	lng, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, 0, false
	}
	inRange := func(v float64) bool { return v > -180 && v < 180 }
	if !inRange(lat) || !inRange(lng) {
		return 0, 0, false
	}
	return lat, lng, true
}

// Set is an ordered collection of fields; order matches the sheet columns
type Set struct {
	Name   string
	fields []*Field
	byName map[string]*Field
}

// NewSet builds a set from fields in column order
func NewSet(name string, fields ...*Field) *Set {
	s := &Set{Name: name, fields: fields, byName: make(map[string]*Field, len(fields))}
	for _, f := range fields {
		s.byName[f.Name] = f
	}
	return s
}

// All returns the fields in column order
func (s *Set) All() []*Field {
	return s.fields
}

// Get looks up a field by name
func (s *Set) Get(name string) (*Field, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// Must looks up a field that is known to exist
func (s *Set) Must(name string) *Field {
	f, ok := s.byName[name]
	if !ok {
		panic("fields: unknown field " + name + " in set " + s.Name)
	}
	return f
}

// Titles returns the column headings
func (s *Set) Titles() []string {
	titles := make([]string, len(s.fields))
	for i, f := range s.fields {
		titles[i] = f.Title
	}
	return titles
}

// Validate builds a record holding every field of the set, taking values
// from input (missing values become ""). It fails on the first field whose
// validator rejects its value.
func (s *Set) Validate(input map[string]string) (map[string]string, bool) {
	result := make(map[string]string, len(s.fields))
	for _, f := range s.fields {
		value := input[f.Name]
		result[f.Name] = value
		if !f.Valid(value) {
			logging.Warn("Bad input",
				logging.String("set", s.Name),
				logging.String("field", f.Name),
			)
			return nil, false
		}
	}
	return result, true
}

// Describe returns name-keyed metadata for every field in the set
func (s *Set) Describe() map[string]map[string]interface{} {
	res := make(map[string]map[string]interface{}, len(s.fields))
	for _, f := range s.fields {
		res[f.Name] = f.Describe()
	}
	return res
}
