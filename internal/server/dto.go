package server

import (
	"encoding/json"

	"atriumforms/internal/domain"
	"atriumforms/internal/risk"
)

type InstallationResponse struct {
	Code             string `json:"code"`
	Name             string `json:"name"`
	Place            string `json:"place,omitempty"`
	InstallationType string `json:"installation_type,omitempty"`
	CreatedAt        string `json:"created_at"`
}

func installationResponse(ins domain.Installation) InstallationResponse {
	return InstallationResponse{
		Code:             ins.Code,
		Name:             ins.Name,
		Place:            ins.Place,
		InstallationType: ins.InstallationType,
		CreatedAt:        ins.CreatedAt,
	}
}

func mapInstallations(items []domain.Installation) []InstallationResponse {
	out := make([]InstallationResponse, 0, len(items))
	for _, ins := range items {
		out = append(out, installationResponse(ins))
	}
	return out
}

type PrefillRequest struct {
	Keys []string `json:"keys"`
}

type PrefillResponse struct {
	Items []domain.ResolvedItem `json:"items"`
}

type InstanceResponse struct {
	ID               string          `json:"id"`
	InstallationCode string          `json:"installation_code"`
	FormCode         string          `json:"form_code"`
	Status           string          `json:"status"`
	DraftRev         int64           `json:"draft_rev"`
	Answers          json.RawMessage `json:"answers"`
	Definition       json.RawMessage `json:"definition,omitempty"`
	CreatedBy        string          `json:"created_by,omitempty"`
	CreatedAt        string          `json:"created_at"`
	UpdatedAt        string          `json:"updated_at"`
}

func instanceResponse(fi domain.FormInstance) InstanceResponse {
	return InstanceResponse{
		ID:               fi.ID,
		InstallationCode: fi.InstallationCode,
		FormCode:         fi.FormCode,
		Status:           fi.Status,
		DraftRev:         fi.DraftRev,
		Answers:          fi.Answers,
		Definition:       fi.Definition,
		CreatedBy:        fi.CreatedBy,
		CreatedAt:        fi.CreatedAt,
		UpdatedAt:        fi.UpdatedAt,
	}
}

// InstanceEnvelope is the canonical single-instance response shape. Every
// endpoint that returns one instance wraps it in {"item": ...} so clients
// never have to probe alternative property names.
type InstanceEnvelope struct {
	Item InstanceResponse `json:"item"`
}

func instanceEnvelope(fi domain.FormInstance) InstanceEnvelope {
	return InstanceEnvelope{Item: instanceResponse(fi)}
}

func mapInstances(items []domain.FormInstance) []InstanceResponse {
	out := make([]InstanceResponse, 0, len(items))
	for _, fi := range items {
		// Listing omits the definition snapshot to keep payloads small.
		r := instanceResponse(fi)
		r.Definition = nil
		out = append(out, r)
	}
	return out
}

type SaveAnswersRequest struct {
	Answers          json.RawMessage `json:"answers"`
	ExpectedDraftRev int64           `json:"expected_draft_rev"`
}

type SubmitRequest struct {
	Answers          json.RawMessage `json:"answers,omitempty"`
	ExpectedDraftRev int64           `json:"expected_draft_rev,omitempty"`
}

type RiskRowRequest struct {
	GebruikersfunctieKey   string `json:"gebruikersfunctie_key"`
	RowLabel               string `json:"row_label,omitempty"`
	Doormelding            string `json:"doormelding"`
	AutomatischeMelders    int    `json:"automatische_melders,omitempty"`
	Handbrandmelders       int    `json:"handbrandmelders,omitempty"`
	Vlamdetectie           int    `json:"vlamdetectie,omitempty"`
	LijnvormigeRookmelders int    `json:"lijnvormige_rookmelders,omitempty"`
	AspiratieOpeningen     int    `json:"aspiratie_openingen,omitempty"`
}

type RiskComputeRequest struct {
	Normering string           `json:"normering"`
	Rows      []RiskRowRequest `json:"rows"`
}

func performanceRows(rows []RiskRowRequest) []domain.PerformanceRow {
	out := make([]domain.PerformanceRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.PerformanceRow{
			GebruikersfunctieKey:   r.GebruikersfunctieKey,
			RowLabel:               r.RowLabel,
			Doormelding:            r.Doormelding,
			AutomatischeMelders:    r.AutomatischeMelders,
			Handbrandmelders:       r.Handbrandmelders,
			Vlamdetectie:           r.Vlamdetectie,
			LijnvormigeRookmelders: r.LijnvormigeRookmelders,
			AspiratieOpeningen:     r.AspiratieOpeningen,
		})
	}
	return out
}

type RiskResponse struct {
	Normering string           `json:"normering"`
	PerRow    []risk.RowResult `json:"per_row"`
	Totals    risk.Totals      `json:"totals"`
}

func riskResponse(normering string, res risk.Result) RiskResponse {
	return RiskResponse{Normering: normering, PerRow: res.PerRow, Totals: res.Totals}
}

type CatalogResponse struct {
	Name  string                `json:"name"`
	Items []domain.CatalogEntry `json:"items"`
}

type EventResponse struct {
	ID               int64           `json:"id"`
	TS               string          `json:"ts"`
	Type             string          `json:"type"`
	InstallationCode string          `json:"installation_code,omitempty"`
	EntityKind       string          `json:"entity_kind"`
	EntityID         string          `json:"entity_id,omitempty"`
	ActorID          string          `json:"actor_id"`
	Payload          json.RawMessage `json:"payload"`
}

func eventResponse(evt domain.Event) EventResponse {
	payload := json.RawMessage(`{}`)
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return EventResponse{
		ID:               evt.ID,
		TS:               evt.TS,
		Type:             evt.Type,
		InstallationCode: evt.InstallationCode,
		EntityKind:       evt.EntityKind,
		EntityID:         evt.EntityID,
		ActorID:          evt.ActorID,
		Payload:          payload,
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, evt := range items {
		out = append(out, eventResponse(evt))
	}
	return out
}
