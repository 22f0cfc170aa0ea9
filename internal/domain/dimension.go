package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// UnknownValue is the bucket used when a record has no value for a
// grouping dimension. Rows are never dropped for a missing dimension.
const UnknownValue = "unknown"

// Dimension is an attribute used to group raw records for summation. The
// set is fixed; this is not a general OLAP engine.
type Dimension string

// Supported grouping dimensions.
const (
	DimCandidate    Dimension = "candidate"
	DimParty        Dimension = "party"
	DimState        Dimension = "state"
	DimMunicipality Dimension = "municipality"
	DimZone         Dimension = "zone"
	DimSection      Dimension = "section"
	DimOffice       Dimension = "office"
)

// keySeparator joins dimension values into a map key. It is a control
// character that cannot appear in names read from the store.
const keySeparator = "\x1f"

// ParseDimension converts a string into a Dimension.
func ParseDimension(s string) (Dimension, error) {
	switch d := Dimension(strings.ToLower(strings.TrimSpace(s))); d {
	case DimCandidate, DimParty, DimState, DimMunicipality, DimZone, DimSection, DimOffice:
		return d, nil
	default:
		return "", fmt.Errorf("%w: unknown dimension %q", ErrInvalidConfiguration, s)
	}
}

// Value extracts the dimension value from a record, mapping missing values
// to UnknownValue. Zone and section number zero are treated as missing.
func (d Dimension) Value(r BallotRecord) string {
	var v string
	switch d {
	case DimCandidate:
		v = r.CandidateID
	case DimParty:
		v = r.PartyCode
	case DimState:
		v = r.StateCode
	case DimMunicipality:
		v = r.MunicipalityName
	case DimZone:
		if r.ZoneNumber > 0 {
			v = strconv.Itoa(r.ZoneNumber)
		}
	case DimSection:
		if r.SectionNumber > 0 {
			v = strconv.Itoa(r.SectionNumber)
		}
	case DimOffice:
		v = r.OfficeCode
	}
	if strings.TrimSpace(v) == "" {
		return UnknownValue
	}
	return v
}

// GroupSpec is an ordered, non-empty list of dimensions, for example
// {municipality, zone}.
type GroupSpec []Dimension

// Common grouping specifications used by reports.
var (
	ByCandidate             = GroupSpec{DimCandidate}
	ByParty                 = GroupSpec{DimParty}
	ByMunicipality          = GroupSpec{DimMunicipality}
	ByZone                  = GroupSpec{DimMunicipality, DimZone}
	BySection               = GroupSpec{DimMunicipality, DimZone, DimSection}
	ByMunicipalityCandidate = GroupSpec{DimMunicipality, DimCandidate}
)

// ParseGroupSpec parses a comma separated dimension list such as
// "municipality,zone".
func ParseGroupSpec(s string) (GroupSpec, error) {
	parts := strings.Split(s, ",")
	spec := make(GroupSpec, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		d, err := ParseDimension(p)
		if err != nil {
			return nil, err
		}
		spec = append(spec, d)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Validate rejects empty specs and repeated dimensions.
func (g GroupSpec) Validate() error {
	if len(g) == 0 {
		return fmt.Errorf("%w: empty group spec", ErrInvalidConfiguration)
	}
	seen := make(map[Dimension]struct{}, len(g))
	for _, d := range g {
		if _, err := ParseDimension(string(d)); err != nil {
			return err
		}
		if _, dup := seen[d]; dup {
			return fmt.Errorf("%w: dimension %q repeated in group spec", ErrInvalidConfiguration, d)
		}
		seen[d] = struct{}{}
	}
	return nil
}

// String returns the canonical comma separated form, also used as the
// spec's identity in result maps.
func (g GroupSpec) String() string {
	parts := make([]string, len(g))
	for i, d := range g {
		parts[i] = string(d)
	}
	return strings.Join(parts, ",")
}

// Contains reports whether the spec groups by d.
func (g GroupSpec) Contains(d Dimension) bool {
	for _, x := range g {
		if x == d {
			return true
		}
	}
	return false
}

// Key is the concrete tuple of dimension values for one group.
type Key struct {
	Values []string
}

// KeyOf builds the key of a record under this spec.
func (g GroupSpec) KeyOf(r BallotRecord) Key {
	vals := make([]string, len(g))
	for i, d := range g {
		vals[i] = d.Value(r)
	}
	return Key{Values: vals}
}

// ID returns the map identity of the key.
func (k Key) ID() string { return strings.Join(k.Values, keySeparator) }

// String renders the key for humans.
func (k Key) String() string { return strings.Join(k.Values, " / ") }

// Value returns the value of dimension d for a key built from spec g, or
// an empty string if g does not contain d.
func (g GroupSpec) Value(k Key, d Dimension) string {
	for i, x := range g {
		if x == d && i < len(k.Values) {
			return k.Values[i]
		}
	}
	return ""
}
