package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var filterValidate = validator.New()

// Filter selects the raw rows of one report: a single election year, round
// and office, optionally narrowed to a state and municipality.
type Filter struct {
	ElectionYear int    `json:"election_year" validate:"required,min=1900,max=2200"`
	Round        int    `json:"round" validate:"required,oneof=1 2"`
	OfficeCode   string `json:"office_code" validate:"required,max=32"`
	StateCode    string `json:"state_code,omitempty" validate:"omitempty,max=8"`
	Municipality string `json:"municipality,omitempty" validate:"omitempty,max=255"`
}

// Validate checks the filter and returns an error wrapping ErrInvalidFilter
// that lists every violated field.
func (f Filter) Validate() error {
	err := filterValidate.Struct(f)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}

	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidFilter, strings.Join(fields, ", "))
}

// Matches reports whether a record falls within the filter. Fetchers push
// the filter down to the store; Matches guards against stores that cannot.
func (f Filter) Matches(r BallotRecord) bool {
	if r.ElectionYear != f.ElectionYear || r.Round != f.Round || r.OfficeCode != f.OfficeCode {
		return false
	}
	if f.StateCode != "" && r.StateCode != f.StateCode {
		return false
	}
	if f.Municipality != "" && r.MunicipalityName != f.Municipality {
		return false
	}
	return true
}

// String renders the filter for logs and span attributes.
func (f Filter) String() string {
	s := fmt.Sprintf("%d/r%d/%s", f.ElectionYear, f.Round, f.OfficeCode)
	if f.StateCode != "" {
		s += "/" + f.StateCode
	}
	if f.Municipality != "" {
		s += "/" + f.Municipality
	}
	return s
}
