package domain

import "encoding/json"

type Installation struct {
	Code             string `json:"code"`
	Name             string `json:"name"`
	Place            string `json:"place,omitempty"`
	InstallationType string `json:"installation_type,omitempty"`
	CreatedAt        string `json:"created_at" format:"date-time"`
}

// AtriumRecord is the externally synced column-keyed record for an installation.
type AtriumRecord struct {
	InstallationCode string          `json:"installation_code"`
	Record           json.RawMessage `json:"record"`
	SyncedAt         string          `json:"synced_at" format:"date-time"`
}

type FieldDefinition struct {
	ID               string  `json:"id"`
	FieldKey         string  `json:"field_key"`
	Label            string  `json:"label"`
	Source           string  `json:"source" enum:"atrium,custom"`
	ExternalColumn   *string `json:"external_column,omitempty"`
	InstallationType *string `json:"installation_type,omitempty"`
	Active           bool    `json:"active"`
	SortOrder        int     `json:"sort_order"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

type FieldOption struct {
	ID                string `json:"id"`
	FieldDefinitionID string `json:"field_definition_id"`
	Value             string `json:"value"`
	Label             string `json:"label"`
	SortOrder         int    `json:"sort_order"`
	Active            bool   `json:"active"`
}

type FieldValue struct {
	ID                string          `json:"id"`
	InstallationCode  string          `json:"installation_code"`
	FieldDefinitionID string          `json:"field_definition_id"`
	Value             json.RawMessage `json:"value"`
	UpdatedAt         string          `json:"updated_at" format:"date-time"`
}

type EnergySupply struct {
	ID               string  `json:"id"`
	InstallationCode string  `json:"installation_code"`
	Soort            string  `json:"soort"`
	Capaciteit       *string `json:"capaciteit,omitempty"`
	AutonomieUren    *int    `json:"autonomie_uren,omitempty"`
	Opmerking        string  `json:"opmerking,omitempty"`
	SortOrder        int     `json:"sort_order"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

type Document struct {
	ID               string `json:"id"`
	InstallationCode string `json:"installation_code"`
	DocumentTypeKey  string `json:"document_type_key"`
	Title            string `json:"title"`
	FileName         string `json:"file_name,omitempty"`
	UploadedBy       string `json:"uploaded_by,omitempty"`
	CreatedAt        string `json:"created_at" format:"date-time"`
}

type PerformanceHeader struct {
	ID               string `json:"id"`
	InstallationCode string `json:"installation_code"`
	NormeringKey     string `json:"normering_key"`
	Opmerking        string `json:"opmerking,omitempty"`
	CreatedAt        string `json:"created_at" format:"date-time"`
	UpdatedAt        string `json:"updated_at" format:"date-time"`
}

// Doormelding modes for a performance requirement row.
const (
	DoormeldingGeen             = "GEEN"
	DoormeldingZonderVertraging = "ZONDER_VERTRAGING"
	DoormeldingMetVertraging    = "MET_VERTRAGING"
)

type PerformanceRow struct {
	ID                     string `json:"id"`
	HeaderID               string `json:"header_id"`
	GebruikersfunctieKey   string `json:"gebruikersfunctie_key"`
	RowLabel               string `json:"row_label,omitempty"`
	Doormelding            string `json:"doormelding" enum:"GEEN,ZONDER_VERTRAGING,MET_VERTRAGING"`
	AutomatischeMelders    int    `json:"automatische_melders"`
	Handbrandmelders       int    `json:"handbrandmelders"`
	Vlamdetectie           int    `json:"vlamdetectie"`
	LijnvormigeRookmelders int    `json:"lijnvormige_rookmelders"`
	AspiratieOpeningen     int    `json:"aspiratie_openingen"`
	SortOrder              int    `json:"sort_order"`
	CreatedAt              string `json:"created_at" format:"date-time"`
}

// RiskClass is the (normering, gebruikersfunctie) classification lookup row.
// A nil letter means no class exists for that pairing.
type RiskClass struct {
	NormeringKey         string  `json:"normering_key"`
	GebruikersfunctieKey string  `json:"gebruikersfunctie_key"`
	RiskIntern           *string `json:"risk_intern,omitempty"`
	RiskExtern           *string `json:"risk_extern,omitempty"`
}

type CatalogEntry struct {
	Key       string `json:"key"`
	Label     string `json:"label"`
	Active    bool   `json:"active"`
	SortOrder int    `json:"sort_order"`
}

type FormDefinition struct {
	Code       string          `json:"code"`
	Title      string          `json:"title"`
	Definition json.RawMessage `json:"definition"`
	Active     bool            `json:"active"`
	CreatedAt  string          `json:"created_at" format:"date-time"`
}

// Form instance statuses.
const (
	StatusConcept       = "CONCEPT"
	StatusIngediend     = "INGEDIEND"
	StatusInBehandeling = "IN_BEHANDELING"
	StatusAfgehandeld   = "AFGEHANDELD"
	StatusIngetrokken   = "INGETROKKEN"
)

type FormInstance struct {
	ID               string          `json:"id"`
	InstallationCode string          `json:"installation_code"`
	FormCode         string          `json:"form_code"`
	Status           string          `json:"status" enum:"CONCEPT,INGEDIEND,IN_BEHANDELING,AFGEHANDELD,INGETROKKEN"`
	DraftRev         int64           `json:"draft_rev"`
	Answers          json.RawMessage `json:"answers"`
	Definition       json.RawMessage `json:"definition"`
	CreatedBy        string          `json:"created_by,omitempty"`
	CreatedAt        string          `json:"created_at" format:"date-time"`
	UpdatedAt        string          `json:"updated_at" format:"date-time"`
}

// Option is the single normalized choice shape used at the resolver boundary.
type Option struct {
	Value string `json:"value"`
	Text  string `json:"text"`
}

// ResolvedItem kinds.
const (
	KindValue   = "value"
	KindChoices = "choices"
)

// ResolvedItem is one unit of prefill data. For kind "value" Value holds any
// JSON document (which may be the JSON null); for kind "choices" Choices holds
// the normalized option list.
type ResolvedItem struct {
	Kind    string          `json:"kind" enum:"value,choices"`
	Key     string          `json:"key"`
	Value   json.RawMessage `json:"value,omitempty"`
	Choices []Option        `json:"choices,omitempty"`
}

type Event struct {
	ID               int64  `json:"id"`
	TS               string `json:"ts" format:"date-time"`
	Type             string `json:"type"`
	InstallationCode string `json:"installation_code,omitempty"`
	EntityKind       string `json:"entity_kind"`
	EntityID         string `json:"entity_id,omitempty"`
	ActorID          string `json:"actor_id"`
	Payload          string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
