package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"atriumforms/internal/domain"
	"atriumforms/internal/events"
	"atriumforms/internal/repo"
	"atriumforms/internal/risk"
)

// DemoInstallation is the installation code the seed creates.
const DemoInstallation = "X1"

// DemoForm is the form definition code the seed creates.
const DemoForm = "opleveringsformulier"

// Seed populates a workspace with a demo installation, catalogs, the risk
// classification matrix and a form definition. Seeding a workspace twice is
// refused: when the demo installation already exists an error is returned and
// nothing is written.
func Seed(ctx context.Context, conn *sql.DB, actorID string) error {
	r := repo.Repo{DB: conn}
	if _, err := r.GetInstallation(ctx, DemoInstallation); err == nil {
		return fmt.Errorf("installation %s already seeded", DemoInstallation)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := seedCatalogs(ctx, r, tx); err != nil {
		return err
	}
	if err := seedRiskMatrix(ctx, r, tx); err != nil {
		return err
	}
	if err := seedInstallation(ctx, r, tx, now); err != nil {
		return err
	}
	if err := seedFormDefinition(ctx, r, tx, now); err != nil {
		return err
	}
	w := events.Writer{DB: conn}
	if err := w.Append(ctx, tx, events.TypeInstallationSeeded, DemoInstallation, "installation", DemoInstallation, actorID, events.EventPayload{
		"form_code": DemoForm,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func seedCatalogs(ctx context.Context, r repo.Repo, tx *sql.Tx) error {
	catalogs := map[string][]domain.CatalogEntry{
		"document_types": {
			{Key: "pve", Label: "Programma van Eisen", Active: true, SortOrder: 1},
			{Key: "blokschema", Label: "Blokschema", Active: true, SortOrder: 2},
			{Key: "projectieplan", Label: "Projectieplan", Active: true, SortOrder: 3},
			{Key: "logboek", Label: "Logboek", Active: true, SortOrder: 4},
		},
		"normeringen": {
			{Key: risk.NormeringNEN2535_1996_2008, Label: "NEN 2535:1996/2008", Active: true, SortOrder: 1},
			{Key: risk.NormeringNEN2535_2009Plus, Label: "NEN 2535:2009 en later", Active: true, SortOrder: 2},
		},
		"gebruikersfuncties": {
			{Key: "bijeenkomst", Label: "Bijeenkomstfunctie", Active: true, SortOrder: 1},
			{Key: "gezondheidszorg", Label: "Gezondheidszorgfunctie", Active: true, SortOrder: 2},
			{Key: "industrie", Label: "Industriefunctie", Active: true, SortOrder: 3},
			{Key: "kantoor", Label: "Kantoorfunctie", Active: true, SortOrder: 4},
			{Key: "logies", Label: "Logiesfunctie", Active: true, SortOrder: 5},
			{Key: "onderwijs", Label: "Onderwijsfunctie", Active: true, SortOrder: 6},
			{Key: "winkel", Label: "Winkelfunctie", Active: true, SortOrder: 7},
		},
		"brandmeld_types": {
			{Key: "volledig", Label: "Volledige bewaking", Active: true, SortOrder: 1},
			{Key: "gedeeltelijk", Label: "Gedeeltelijke bewaking", Active: true, SortOrder: 2},
			{Key: "niet_automatisch", Label: "Niet-automatische bewaking", Active: true, SortOrder: 3},
		},
	}
	for name, entries := range catalogs {
		for _, entry := range entries {
			if err := r.InsertCatalogEntry(ctx, tx, name, entry); err != nil {
				return fmt.Errorf("seed catalog %s: %w", name, err)
			}
		}
	}
	return nil
}

func seedRiskMatrix(ctx context.Context, r repo.Repo, tx *sql.Tx) error {
	str := func(s string) *string { return &s }
	matrix := []domain.RiskClass{
		{NormeringKey: risk.NormeringNEN2535_2009Plus, GebruikersfunctieKey: "bijeenkomst", RiskIntern: str("B"), RiskExtern: str("C")},
		{NormeringKey: risk.NormeringNEN2535_2009Plus, GebruikersfunctieKey: "gezondheidszorg", RiskIntern: str("A"), RiskExtern: str("B")},
		{NormeringKey: risk.NormeringNEN2535_2009Plus, GebruikersfunctieKey: "industrie", RiskIntern: str("D"), RiskExtern: str("E")},
		{NormeringKey: risk.NormeringNEN2535_2009Plus, GebruikersfunctieKey: "kantoor", RiskIntern: str("C"), RiskExtern: str("C")},
		{NormeringKey: risk.NormeringNEN2535_2009Plus, GebruikersfunctieKey: "logies", RiskIntern: str("A"), RiskExtern: str("B")},
		{NormeringKey: risk.NormeringNEN2535_2009Plus, GebruikersfunctieKey: "onderwijs", RiskIntern: str("B"), RiskExtern: str("C")},
		{NormeringKey: risk.NormeringNEN2535_2009Plus, GebruikersfunctieKey: "winkel", RiskIntern: str("C"), RiskExtern: nil},
		{NormeringKey: risk.NormeringNEN2535_1996_2008, GebruikersfunctieKey: "bijeenkomst", RiskIntern: str("B"), RiskExtern: str("B")},
		{NormeringKey: risk.NormeringNEN2535_1996_2008, GebruikersfunctieKey: "gezondheidszorg", RiskIntern: str("A"), RiskExtern: str("A")},
		{NormeringKey: risk.NormeringNEN2535_1996_2008, GebruikersfunctieKey: "industrie", RiskIntern: str("C"), RiskExtern: str("C")},
		{NormeringKey: risk.NormeringNEN2535_1996_2008, GebruikersfunctieKey: "kantoor", RiskIntern: str("B"), RiskExtern: str("C")},
		{NormeringKey: risk.NormeringNEN2535_1996_2008, GebruikersfunctieKey: "logies", RiskIntern: str("A"), RiskExtern: str("A")},
	}
	for _, rc := range matrix {
		if err := r.UpsertRiskClass(ctx, tx, rc); err != nil {
			return fmt.Errorf("seed risk matrix: %w", err)
		}
	}
	return nil
}

func seedInstallation(ctx context.Context, r repo.Repo, tx *sql.Tx, now string) error {
	str := func(s string) *string { return &s }
	intp := func(i int) *int { return &i }

	ins := domain.Installation{
		Code:             DemoInstallation,
		Name:             "Zorgcentrum De Linde",
		Place:            "Apeldoorn",
		InstallationType: "brandmeld",
		CreatedAt:        now,
	}
	if err := r.InsertInstallation(ctx, tx, ins); err != nil {
		return err
	}

	record := map[string]any{
		"naam":            "Zorgcentrum De Linde",
		"plaats":          "Apeldoorn",
		"adres":           "Lindelaan 12",
		"postcode":        "7311 AB",
		"centrale_type":   "NSC Solution F1",
		"kenmerk":         "2024-0117",
		"contactpersoon":  "J. van Dam",
		"telefoonnummer":  "055-1234567",
		"pac_aansluiting": "PAC-44812",
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := r.UpsertAtriumRecord(ctx, tx, domain.AtriumRecord{
		InstallationCode: ins.Code,
		Record:           raw,
		SyncedAt:         now,
	}); err != nil {
		return err
	}

	type fieldSeed struct {
		def     domain.FieldDefinition
		options []domain.FieldOption
		value   json.RawMessage
	}
	fields := []fieldSeed{
		{
			def: domain.FieldDefinition{
				ID: uuid.New().String(), FieldKey: "naam", Label: "Naam object",
				Source: "atrium", ExternalColumn: str("naam"), Active: true, SortOrder: 1, CreatedAt: now,
			},
		},
		{
			def: domain.FieldDefinition{
				ID: uuid.New().String(), FieldKey: "plaats", Label: "Plaats",
				Source: "atrium", ExternalColumn: str("plaats"), Active: true, SortOrder: 2, CreatedAt: now,
			},
		},
		{
			def: domain.FieldDefinition{
				ID: uuid.New().String(), FieldKey: "centrale_type", Label: "Type brandmeldcentrale",
				Source: "atrium", ExternalColumn: str("centrale_type"), Active: true, SortOrder: 3, CreatedAt: now,
			},
		},
		{
			def: domain.FieldDefinition{
				ID: uuid.New().String(), FieldKey: "omvang_bewaking", Label: "Omvang van de bewaking",
				Source: "custom", Active: true, SortOrder: 10, CreatedAt: now,
			},
			options: []domain.FieldOption{
				{Value: "volledig", Label: "Volledige bewaking", SortOrder: 1, Active: true},
				{Value: "gedeeltelijk", Label: "Gedeeltelijke bewaking", SortOrder: 2, Active: true},
			},
			value: json.RawMessage(`"volledig"`),
		},
		{
			def: domain.FieldDefinition{
				ID: uuid.New().String(), FieldKey: "doormelding_aanwezig", Label: "Doormelding aanwezig",
				Source: "custom", Active: true, SortOrder: 11, CreatedAt: now,
			},
			value: json.RawMessage(`true`),
		},
	}
	for _, f := range fields {
		if err := r.InsertFieldDefinition(ctx, tx, f.def); err != nil {
			return err
		}
		for _, o := range f.options {
			o.ID = uuid.New().String()
			o.FieldDefinitionID = f.def.ID
			if err := r.InsertFieldOption(ctx, tx, o); err != nil {
				return err
			}
		}
		if f.value != nil {
			if err := r.UpsertFieldValue(ctx, tx, domain.FieldValue{
				ID:                uuid.New().String(),
				InstallationCode:  ins.Code,
				FieldDefinitionID: f.def.ID,
				Value:             f.value,
				UpdatedAt:         now,
			}); err != nil {
				return err
			}
		}
	}

	supplies := []domain.EnergySupply{
		{Soort: "netvoeding", Capaciteit: str("230V/6A"), Opmerking: "Groep 12 in meterkast", SortOrder: 1},
		{Soort: "accu", Capaciteit: str("2x 12V 26Ah"), AutonomieUren: intp(24), SortOrder: 2},
	}
	for _, es := range supplies {
		es.ID = uuid.New().String()
		es.InstallationCode = ins.Code
		es.CreatedAt = now
		if err := r.InsertEnergySupply(ctx, tx, es); err != nil {
			return err
		}
	}

	docs := []domain.Document{
		{DocumentTypeKey: "pve", Title: "Programma van Eisen v2.1", FileName: "pve-x1-v21.pdf"},
		{DocumentTypeKey: "blokschema", Title: "Blokschema begane grond", FileName: "blokschema-bg.pdf"},
	}
	for _, d := range docs {
		d.ID = uuid.New().String()
		d.InstallationCode = ins.Code
		d.UploadedBy = "seed"
		d.CreatedAt = now
		if err := r.InsertDocument(ctx, tx, d); err != nil {
			return err
		}
	}

	header := domain.PerformanceHeader{
		ID:               uuid.New().String(),
		InstallationCode: ins.Code,
		NormeringKey:     risk.NormeringNEN2535_2009Plus,
		Opmerking:        "Conform PvE v2.1",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := r.UpsertPerformanceHeader(ctx, tx, header); err != nil {
		return err
	}
	rows := []domain.PerformanceRow{
		{
			GebruikersfunctieKey: "gezondheidszorg", RowLabel: "Verpleegafdeling",
			Doormelding:         domain.DoormeldingMetVertraging,
			AutomatischeMelders: 42, Handbrandmelders: 8, SortOrder: 1,
		},
		{
			GebruikersfunctieKey: "bijeenkomst", RowLabel: "Restaurant",
			Doormelding:         domain.DoormeldingZonderVertraging,
			AutomatischeMelders: 12, Handbrandmelders: 2, Vlamdetectie: 1, SortOrder: 2,
		},
		{
			GebruikersfunctieKey: "kantoor", RowLabel: "Kantoorvleugel",
			Doormelding:         domain.DoormeldingGeen,
			AutomatischeMelders: 18, Handbrandmelders: 3, SortOrder: 3,
		},
	}
	for _, row := range rows {
		row.ID = uuid.New().String()
		row.HeaderID = header.ID
		row.CreatedAt = now
		if err := r.InsertPerformanceRow(ctx, tx, row); err != nil {
			return err
		}
	}
	return nil
}

func seedFormDefinition(ctx context.Context, r repo.Repo, tx *sql.Tx, now string) error {
	def := map[string]any{
		"title": "Opleveringsformulier brandmeldinstallatie",
		"pages": []map[string]any{
			{
				"name": "algemeen",
				"elements": []map[string]any{
					{
						"type": "text", "name": "naam", "title": "Naam object",
						"bind": map[string]any{"key": "naam", "kind": "prefill", "mode": "overwrite-if-unchanged", "refreshable": true},
					},
					{
						"type": "text", "name": "plaats", "title": "Plaats",
						"bind": map[string]any{"key": "plaats", "kind": "prefill", "mode": "overwrite-if-empty"},
					},
					{
						"type": "text", "name": "centrale_type", "title": "Type brandmeldcentrale",
						"bind": map[string]any{"key": "centrale_type", "kind": "prefill", "mode": "overwrite-if-empty"},
					},
					{
						"type": "text", "name": "datum_oplevering", "title": "Datum oplevering",
						"bind": map[string]any{"key": "today", "kind": "calculated", "mode": "overwrite-if-empty"},
					},
				},
			},
			{
				"name": "bewaking",
				"elements": []map[string]any{
					{
						"type": "dropdown", "name": "omvang_bewaking", "title": "Omvang van de bewaking",
						"bind":    map[string]any{"key": "omvang_bewaking", "kind": "prefill", "mode": "overwrite-if-empty"},
						"choices": map[string]any{"key": "omvang_bewaking_opties", "mode": "replace"},
					},
					{
						"type": "dropdown", "name": "brandmeld_type", "title": "Type bewaking",
						"choices": map[string]any{"key": "k_brandmeld_types", "mode": "replace"},
					},
				},
			},
			{
				"name": "installatie",
				"elements": []map[string]any{
					{
						"type": "matrix", "name": "energievoorzieningen", "title": "Energievoorzieningen",
						"bind": map[string]any{"key": "es_regels", "kind": "prefill", "mode": "always-overwrite", "refreshable": true},
					},
					{
						"type": "matrix", "name": "documenten", "title": "Documenten",
						"bind": map[string]any{"key": "documenten", "kind": "prefill", "mode": "always-overwrite", "refreshable": true},
					},
					{
						"type": "matrix", "name": "pve_regels", "title": "Prestatie-eisen",
						"bind": map[string]any{"key": "pve_regels", "kind": "prefill", "mode": "always-overwrite", "refreshable": true},
					},
				},
			},
		},
	}
	raw, err := json.Marshal(def)
	if err != nil {
		return err
	}
	return r.UpsertFormDefinition(ctx, tx, domain.FormDefinition{
		Code:       DemoForm,
		Title:      "Opleveringsformulier brandmeldinstallatie",
		Definition: raw,
		Active:     true,
		CreatedAt:  now,
	})
}
