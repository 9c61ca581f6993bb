// Package risk computes NEN2535 alarm-routing capacity maxima from performance
// requirement rows. It is pure: no I/O, no clock, no storage.
package risk

import (
	"fmt"
	"math"

	"atriumforms/internal/domain"
)

// Supported normering editions.
const (
	NormeringNEN2535_2009Plus  = "NEN2535_2009_PLUS"
	NormeringNEN2535_1996_2008 = "NEN2535_1996_2008"
)

// Weighted detector multipliers. Fixed domain constants, not configurable.
const (
	weightAutomatisch = 1
	weightHandbrand   = 1
	weightVlam        = 5
	weightLijnvormig  = 10
	weightAspiratie   = 1
)

// ValidationError names the offending field; it is never silently coerced.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RowResult carries per-row computed numbers. A nil maximum means "not
// applicable": either the doormelding mode disables that direction or no risk
// class letter exists for the function under the active normering.
type RowResult struct {
	GebruikersfunctieKey string   `json:"gebruikersfunctie_key"`
	RowLabel             string   `json:"row_label,omitempty"`
	Doormelding          string   `json:"doormelding"`
	Weighted             int      `json:"weighted"`
	RiskIntern           *string  `json:"risk_intern,omitempty"`
	RiskExtern           *string  `json:"risk_extern,omitempty"`
	InternMax            *float64 `json:"intern_max"`
	ExternMax            *float64 `json:"extern_max"`
}

// Totals aggregates per doormelding group. A nil total means no row in that
// group had its relevant maximum computed; that is distinct from a zero sum.
type Totals struct {
	InternTotal *float64 `json:"intern_total"`
	ExternTotal *float64 `json:"extern_total"`
}

type Result struct {
	PerRow []RowResult `json:"per_row"`
	Totals Totals      `json:"totals"`
}

// Weighted returns the weighted detector count for a row.
func Weighted(row domain.PerformanceRow) int {
	return row.AutomatischeMelders*weightAutomatisch +
		row.Handbrandmelders*weightHandbrand +
		row.Vlamdetectie*weightVlam +
		row.LijnvormigeRookmelders*weightLijnvormig +
		row.AspiratieOpeningen*weightAspiratie
}

func factor2009Plus(letter string) float64 {
	switch letter {
	case "A":
		return 0.5
	case "B":
		return 1
	case "C":
		return 1.5
	case "D":
		return 2
	case "E":
		return 3
	}
	return 0
}

func factor1996Intern(letter string) float64 {
	switch letter {
	case "A":
		return 1
	case "B":
		return 2
	case "C":
		return 3
	}
	return 0
}

func factor1996Extern(letter string) float64 {
	switch letter {
	case "A":
		return 0.5
	case "B":
		return 1
	case "C":
		return 1.5
	}
	return 0
}

func internFactor(normeringKey string, letter string) float64 {
	if normeringKey == NormeringNEN2535_1996_2008 {
		return factor1996Intern(letter)
	}
	return factor2009Plus(letter)
}

func externFactor(normeringKey string, letter string) float64 {
	if normeringKey == NormeringNEN2535_1996_2008 {
		return factor1996Extern(letter)
	}
	return factor2009Plus(letter)
}

// round2 rounds to 2 decimals, half away from zero on the decimal value.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ComputeRow derives one row's weighted count and maxima. The classification
// may be the zero value when no matrix row exists for the function; both
// letters are then nil and both maxima come out nil.
func ComputeRow(row domain.PerformanceRow, normeringKey string, class domain.RiskClass) RowResult {
	res := RowResult{
		GebruikersfunctieKey: row.GebruikersfunctieKey,
		RowLabel:             row.RowLabel,
		Doormelding:          row.Doormelding,
		Weighted:             Weighted(row),
		RiskIntern:           class.RiskIntern,
		RiskExtern:           class.RiskExtern,
	}
	internOn := row.Doormelding == domain.DoormeldingMetVertraging
	externOn := row.Doormelding == domain.DoormeldingMetVertraging || row.Doormelding == domain.DoormeldingZonderVertraging
	if internOn && class.RiskIntern != nil {
		m := round2(float64(res.Weighted) / 100 * internFactor(normeringKey, *class.RiskIntern))
		res.InternMax = &m
	}
	if externOn && class.RiskExtern != nil {
		m := round2(float64(res.Weighted) / 100 * externFactor(normeringKey, *class.RiskExtern))
		res.ExternMax = &m
	}
	return res
}

// ComputeTotals sums computed maxima per doormelding group.
func ComputeTotals(perRow []RowResult) Totals {
	var t Totals
	for _, r := range perRow {
		if r.Doormelding == domain.DoormeldingMetVertraging && r.InternMax != nil {
			sum := *r.InternMax
			if t.InternTotal != nil {
				sum += *t.InternTotal
			}
			t.InternTotal = &sum
		}
		externGroup := r.Doormelding == domain.DoormeldingMetVertraging || r.Doormelding == domain.DoormeldingZonderVertraging
		if externGroup && r.ExternMax != nil {
			sum := *r.ExternMax
			if t.ExternTotal != nil {
				sum += *t.ExternTotal
			}
			t.ExternTotal = &sum
		}
	}
	if t.InternTotal != nil {
		v := round2(*t.InternTotal)
		t.InternTotal = &v
	}
	if t.ExternTotal != nil {
		v := round2(*t.ExternTotal)
		t.ExternTotal = &v
	}
	return t
}

// Validate fails fast on malformed input; nothing is clamped.
func Validate(normeringKey string, rows []domain.PerformanceRow, matrix map[string]domain.RiskClass) error {
	switch normeringKey {
	case NormeringNEN2535_2009Plus, NormeringNEN2535_1996_2008:
	default:
		return ValidationError{Field: "normering_key", Reason: fmt.Sprintf("unknown normering %q", normeringKey)}
	}
	for i, row := range rows {
		prefix := fmt.Sprintf("rows[%d]", i)
		if row.GebruikersfunctieKey == "" {
			return ValidationError{Field: prefix + ".gebruikersfunctie_key", Reason: "must not be empty"}
		}
		if len(matrix) > 0 {
			if _, ok := matrix[row.GebruikersfunctieKey]; !ok {
				return ValidationError{Field: prefix + ".gebruikersfunctie_key", Reason: fmt.Sprintf("%q not in risk matrix for %s", row.GebruikersfunctieKey, normeringKey)}
			}
		}
		switch row.Doormelding {
		case domain.DoormeldingGeen, domain.DoormeldingZonderVertraging, domain.DoormeldingMetVertraging:
		default:
			return ValidationError{Field: prefix + ".doormelding", Reason: fmt.Sprintf("unknown mode %q", row.Doormelding)}
		}
		counts := map[string]int{
			"automatische_melders":    row.AutomatischeMelders,
			"handbrandmelders":        row.Handbrandmelders,
			"vlamdetectie":            row.Vlamdetectie,
			"lijnvormige_rookmelders": row.LijnvormigeRookmelders,
			"aspiratie_openingen":     row.AspiratieOpeningen,
		}
		for field, v := range counts {
			if v < 0 {
				return ValidationError{Field: prefix + "." + field, Reason: "must not be negative"}
			}
		}
	}
	return nil
}

// Compute validates and then derives per-row results and aggregate totals.
func Compute(normeringKey string, rows []domain.PerformanceRow, matrix map[string]domain.RiskClass) (Result, error) {
	if err := Validate(normeringKey, rows, matrix); err != nil {
		return Result{}, err
	}
	res := Result{PerRow: make([]RowResult, 0, len(rows))}
	for _, row := range rows {
		res.PerRow = append(res.PerRow, ComputeRow(row, normeringKey, matrix[row.GebruikersfunctieKey]))
	}
	res.Totals = ComputeTotals(res.PerRow)
	return res, nil
}
