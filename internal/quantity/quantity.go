// Package quantity implements the pluggable Quantity arithmetic backend
// named by spec.md §6: unit-aware add/subtract/compare/convert operations
// over FHIRPath Quantity values.
//
// No UCUM or calendar-duration library appears anywhere in the retrieved
// example corpus (confirmed by dependency survey across every complete
// repo's go.mod — see DESIGN.md), so the default backend here is built on
// stdlib fmt/math only, with calendar units handled as fixed millisecond
// factors rather than through package time.
package quantity

import (
	"fmt"
	"math"
)

// Quantity is a FHIRPath Quantity value: a decimal value plus a UCUM (or
// calendar-duration) unit symbol.
type Quantity struct {
	Value float64
	Unit  string
}

func (q Quantity) String() string {
	return fmt.Sprintf("%s '%s'", trimFloat(q.Value), q.Unit)
}

func trimFloat(f float64) string {
	return fmt.Sprintf("%g", f)
}

// Backend performs unit-aware arithmetic and comparison over Quantity
// values, per spec.md §6's external-interface list. A host application
// may supply a UCUM-complete backend; the default below handles the
// calendar-duration units FHIRPath literals can produce directly
// (year/month/week/day/hour/minute/second/millisecond) plus same-unit
// arithmetic for everything else.
type Backend interface {
	Add(a, b Quantity) (Quantity, error)
	Subtract(a, b Quantity) (Quantity, error)
	Multiply(a, b Quantity) (Quantity, error)
	Divide(a, b Quantity) (Quantity, error)
	// Compare returns -1, 0, or 1, or an error if the units are
	// incompatible and cannot be converted into a common base.
	Compare(a, b Quantity) (int, error)
	// Convert expresses q in terms of targetUnit, or reports ok=false if
	// the conversion is not known to this backend.
	Convert(q Quantity, targetUnit string) (Quantity, bool)
}

// calendarMillis gives each calendar-duration unit a fixed millisecond
// factor for comparison/conversion purposes. Calendar months and years
// are approximated (30 and 365.25 days) per FHIRPath's definite-duration
// comparison rules for units lacking a fixed length; callers needing
// calendar-accurate month/year arithmetic should supply a host backend.
var calendarMillis = map[string]float64{
	"ms": 1,
	"s":  1000,
	"min": 60 * 1000,
	"h":  60 * 60 * 1000,
	"d":  24 * 60 * 60 * 1000,
	"wk": 7 * 24 * 60 * 60 * 1000,
	"mo": 30 * 24 * 60 * 60 * 1000,
	"a":  365.25 * 24 * 60 * 60 * 1000,
}

// defaultBackend is the stdlib-only fallback used when no host-supplied
// backend is configured.
type defaultBackend struct{}

// NewDefaultBackend returns the built-in calendar/same-unit backend.
func NewDefaultBackend() Backend { return defaultBackend{} }

func (defaultBackend) Add(a, b Quantity) (Quantity, error) {
	if a.Unit == b.Unit {
		return Quantity{Value: a.Value + b.Value, Unit: a.Unit}, nil
	}
	af, aok := calendarMillis[a.Unit]
	bf, bok := calendarMillis[b.Unit]
	if !aok || !bok {
		return Quantity{}, fmt.Errorf("incompatible units %q and %q", a.Unit, b.Unit)
	}
	return Quantity{Value: a.Value + b.Value*(bf/af), Unit: a.Unit}, nil
}

func (defaultBackend) Subtract(a, b Quantity) (Quantity, error) {
	neg := Quantity{Value: -b.Value, Unit: b.Unit}
	return defaultBackend{}.Add(a, neg)
}

func (defaultBackend) Multiply(a, b Quantity) (Quantity, error) {
	unit := a.Unit
	if unit == "" {
		unit = b.Unit
	}
	return Quantity{Value: a.Value * b.Value, Unit: unit}, nil
}

func (defaultBackend) Divide(a, b Quantity) (Quantity, error) {
	if b.Value == 0 {
		return Quantity{}, fmt.Errorf("division by zero")
	}
	unit := a.Unit
	if a.Unit == b.Unit {
		unit = ""
	}
	return Quantity{Value: a.Value / b.Value, Unit: unit}, nil
}

func (defaultBackend) Compare(a, b Quantity) (int, error) {
	if a.Unit == b.Unit {
		return cmpFloat(a.Value, b.Value), nil
	}
	af, aok := calendarMillis[a.Unit]
	bf, bok := calendarMillis[b.Unit]
	if !aok || !bok {
		return 0, fmt.Errorf("incompatible units %q and %q", a.Unit, b.Unit)
	}
	return cmpFloat(a.Value*af, b.Value*bf), nil
}

func (defaultBackend) Convert(q Quantity, targetUnit string) (Quantity, bool) {
	if q.Unit == targetUnit {
		return q, true
	}
	sf, sok := calendarMillis[q.Unit]
	tf, tok := calendarMillis[targetUnit]
	if !sok || !tok {
		return Quantity{}, false
	}
	return Quantity{Value: q.Value * sf / tf, Unit: targetUnit}, true
}

func cmpFloat(a, b float64) int {
	if math.Abs(a-b) < 1e-9 {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}
