package risk_test

import (
	"errors"
	"testing"

	"atriumforms/internal/domain"
	"atriumforms/internal/risk"
)

func str(s string) *string { return &s }

func matrix2009() map[string]domain.RiskClass {
	return map[string]domain.RiskClass{
		"kantoor": {NormeringKey: risk.NormeringNEN2535_2009Plus, GebruikersfunctieKey: "kantoor", RiskIntern: str("B"), RiskExtern: str("C")},
		"winkel":  {NormeringKey: risk.NormeringNEN2535_2009Plus, GebruikersfunctieKey: "winkel", RiskIntern: str("C"), RiskExtern: nil},
	}
}

func TestWeighted(t *testing.T) {
	row := domain.PerformanceRow{
		AutomatischeMelders:    10,
		Handbrandmelders:       5,
		Vlamdetectie:           3,
		LijnvormigeRookmelders: 2,
		AspiratieOpeningen:     0,
	}
	// 10*1 + 5*1 + 3*5 + 2*10 = 50
	if got := risk.Weighted(row); got != 50 {
		t.Fatalf("weighted = %d, want 50", got)
	}
}

func TestComputeRowWithVertraging(t *testing.T) {
	row := domain.PerformanceRow{
		GebruikersfunctieKey:   "kantoor",
		Doormelding:            domain.DoormeldingMetVertraging,
		AutomatischeMelders:    10,
		Handbrandmelders:       5,
		Vlamdetectie:           3,
		LijnvormigeRookmelders: 2,
	}
	res := risk.ComputeRow(row, risk.NormeringNEN2535_2009Plus, matrix2009()["kantoor"])
	if res.Weighted != 50 {
		t.Fatalf("weighted = %d, want 50", res.Weighted)
	}
	if res.InternMax == nil || *res.InternMax != 0.50 {
		t.Fatalf("intern max = %v, want 0.50", res.InternMax)
	}
	if res.ExternMax == nil || *res.ExternMax != 0.75 {
		t.Fatalf("extern max = %v, want 0.75", res.ExternMax)
	}
}

func TestComputeRowZonderVertraging(t *testing.T) {
	row := domain.PerformanceRow{
		GebruikersfunctieKey: "kantoor",
		Doormelding:          domain.DoormeldingZonderVertraging,
		AutomatischeMelders:  100,
	}
	res := risk.ComputeRow(row, risk.NormeringNEN2535_2009Plus, matrix2009()["kantoor"])
	if res.InternMax != nil {
		t.Fatalf("intern max should not apply without vertraging, got %v", *res.InternMax)
	}
	if res.ExternMax == nil || *res.ExternMax != 1.50 {
		t.Fatalf("extern max = %v, want 1.50", res.ExternMax)
	}
}

func TestComputeRowGeenDoormelding(t *testing.T) {
	row := domain.PerformanceRow{
		GebruikersfunctieKey: "kantoor",
		Doormelding:          domain.DoormeldingGeen,
		AutomatischeMelders:  100,
	}
	res := risk.ComputeRow(row, risk.NormeringNEN2535_2009Plus, matrix2009()["kantoor"])
	if res.InternMax != nil || res.ExternMax != nil {
		t.Fatalf("GEEN must produce no maxima, got intern=%v extern=%v", res.InternMax, res.ExternMax)
	}
	if res.Weighted != 100 {
		t.Fatalf("weighted still computed, got %d", res.Weighted)
	}
}

func TestNilLetterVersusUnknownLetter(t *testing.T) {
	// nil extern letter: no classification, extern max stays nil.
	row := domain.PerformanceRow{
		GebruikersfunctieKey: "winkel",
		Doormelding:          domain.DoormeldingMetVertraging,
		AutomatischeMelders:  40,
	}
	res := risk.ComputeRow(row, risk.NormeringNEN2535_2009Plus, matrix2009()["winkel"])
	if res.ExternMax != nil {
		t.Fatalf("nil extern letter must yield nil max, got %v", *res.ExternMax)
	}
	if res.InternMax == nil || *res.InternMax != 0.60 {
		t.Fatalf("intern max = %v, want 0.60", res.InternMax)
	}

	// present but unknown letter: factor 0, max 0.00. Distinct from nil.
	class := domain.RiskClass{RiskIntern: str("Z")}
	res = risk.ComputeRow(row, risk.NormeringNEN2535_2009Plus, class)
	if res.InternMax == nil || *res.InternMax != 0 {
		t.Fatalf("unknown letter must yield 0.00, got %v", res.InternMax)
	}
}

func TestNormering1996SplitFactors(t *testing.T) {
	class := domain.RiskClass{RiskIntern: str("C"), RiskExtern: str("C")}
	row := domain.PerformanceRow{
		GebruikersfunctieKey: "industrie",
		Doormelding:          domain.DoormeldingMetVertraging,
		AutomatischeMelders:  100,
	}
	res := risk.ComputeRow(row, risk.NormeringNEN2535_1996_2008, class)
	// intern C=3, extern C=1.5 under the 1996/2008 edition.
	if res.InternMax == nil || *res.InternMax != 3.00 {
		t.Fatalf("intern max = %v, want 3.00", res.InternMax)
	}
	if res.ExternMax == nil || *res.ExternMax != 1.50 {
		t.Fatalf("extern max = %v, want 1.50", res.ExternMax)
	}
}

func TestComputeTotalsApplicability(t *testing.T) {
	rows := []domain.PerformanceRow{
		{GebruikersfunctieKey: "kantoor", Doormelding: domain.DoormeldingMetVertraging, AutomatischeMelders: 50},
		{GebruikersfunctieKey: "kantoor", Doormelding: domain.DoormeldingZonderVertraging, AutomatischeMelders: 30},
		{GebruikersfunctieKey: "kantoor", Doormelding: domain.DoormeldingGeen, AutomatischeMelders: 99},
	}
	res, err := risk.Compute(risk.NormeringNEN2535_2009Plus, rows, matrix2009())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	// intern group: only the MET row. 50/100*1 = 0.50
	if res.Totals.InternTotal == nil || *res.Totals.InternTotal != 0.50 {
		t.Fatalf("intern total = %v, want 0.50", res.Totals.InternTotal)
	}
	// extern group: MET + ZONDER. 0.75 + 0.45 = 1.20
	if res.Totals.ExternTotal == nil || *res.Totals.ExternTotal != 1.20 {
		t.Fatalf("extern total = %v, want 1.20", res.Totals.ExternTotal)
	}
}

func TestComputeTotalsAllGeen(t *testing.T) {
	rows := []domain.PerformanceRow{
		{GebruikersfunctieKey: "kantoor", Doormelding: domain.DoormeldingGeen, AutomatischeMelders: 10},
	}
	res, err := risk.Compute(risk.NormeringNEN2535_2009Plus, rows, matrix2009())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if res.Totals.InternTotal != nil || res.Totals.ExternTotal != nil {
		t.Fatalf("totals must be nil when no row contributes, got %+v", res.Totals)
	}
}

func TestValidateRejectsBadInput(t *testing.T) {
	cases := []struct {
		name      string
		normering string
		rows      []domain.PerformanceRow
		field     string
	}{
		{
			name:      "unknown normering",
			normering: "NEN9999",
			field:     "normering_key",
		},
		{
			name:      "empty function key",
			normering: risk.NormeringNEN2535_2009Plus,
			rows:      []domain.PerformanceRow{{Doormelding: domain.DoormeldingGeen}},
			field:     "rows[0].gebruikersfunctie_key",
		},
		{
			name:      "function not in matrix",
			normering: risk.NormeringNEN2535_2009Plus,
			rows:      []domain.PerformanceRow{{GebruikersfunctieKey: "onbekend", Doormelding: domain.DoormeldingGeen}},
			field:     "rows[0].gebruikersfunctie_key",
		},
		{
			name:      "unknown doormelding",
			normering: risk.NormeringNEN2535_2009Plus,
			rows:      []domain.PerformanceRow{{GebruikersfunctieKey: "kantoor", Doormelding: "MISSCHIEN"}},
			field:     "rows[0].doormelding",
		},
		{
			name:      "negative count",
			normering: risk.NormeringNEN2535_2009Plus,
			rows:      []domain.PerformanceRow{{GebruikersfunctieKey: "kantoor", Doormelding: domain.DoormeldingGeen, Vlamdetectie: -1}},
			field:     "rows[0].vlamdetectie",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := risk.Compute(tc.normering, tc.rows, matrix2009())
			var ve risk.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tc.field {
				t.Fatalf("field = %s, want %s", ve.Field, tc.field)
			}
		})
	}
}
