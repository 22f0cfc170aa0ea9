package application

import (
	"github.com/ahrav/go-tally/infrastructure/history"
	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/ports"
)

type officeSeats struct {
	seats           *int
	defaultSeats    *int
	perMunicipality bool
	// municipalities is keyed by history.Normalize(name).
	municipalities map[string]int
}

// SeatTable serves seat counts from static configuration. Municipality
// names match regardless of case and accents.
type SeatTable struct {
	offices map[string]officeSeats
}

var _ ports.SeatTable = (*SeatTable)(nil)

// NewSeatTable builds a lookup table from cfg.
func NewSeatTable(cfg SeatConfig) *SeatTable {
	t := &SeatTable{offices: make(map[string]officeSeats, len(cfg.Offices))}
	for office, s := range cfg.Offices {
		o := officeSeats{
			seats:           s.Seats,
			defaultSeats:    s.DefaultSeats,
			perMunicipality: s.PerMunicipality,
			municipalities:  make(map[string]int, len(s.Municipalities)),
		}
		for name, n := range s.Municipalities {
			o.municipalities[history.Normalize(name)] = n
		}
		t.offices[office] = o
	}
	return t
}

// SeatsFor returns the seats for office in municipality. Offices ranked
// per municipality use the municipality's own count, then the explicit
// default; the municipality is ignored for other offices.
func (t *SeatTable) SeatsFor(officeCode, municipality string) (int, error) {
	o, ok := t.offices[officeCode]
	if !ok {
		return 0, domain.NewConfigurationMissingError(officeCode, "")
	}
	if !o.perMunicipality {
		if o.seats == nil {
			return 0, domain.NewConfigurationMissingError(officeCode, "")
		}
		return *o.seats, nil
	}
	if municipality != "" {
		if n, ok := o.municipalities[history.Normalize(municipality)]; ok {
			return n, nil
		}
		if o.defaultSeats != nil {
			return *o.defaultSeats, nil
		}
	}
	return 0, domain.NewConfigurationMissingError(officeCode, municipality)
}

// PerMunicipality reports whether office is ranked per municipality.
func (t *SeatTable) PerMunicipality(officeCode string) bool {
	return t.offices[officeCode].perMunicipality
}
