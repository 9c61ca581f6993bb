package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"atriumforms/internal/app"
	"atriumforms/internal/config"
	"atriumforms/internal/db"
	"atriumforms/internal/domain"
	"atriumforms/internal/engine"
	"atriumforms/internal/migrate"
	"atriumforms/internal/server"
)

type apiEnv struct {
	srv *httptest.Server
	eng engine.Engine
}

func newAPIEnv(t *testing.T) apiEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := app.Seed(context.Background(), conn, "seeder"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	handler, err := server.New(server.Config{
		Engine: eng,
		Auth:   server.AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return apiEnv{srv: srv, eng: eng}
}

func (env apiEnv) do(t *testing.T, method, urlPath string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, env.srv.URL+urlPath, reader)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-Actor-Id", "tester")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, urlPath, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, raw
}

func decode(t *testing.T, raw []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func TestHealthNeedsNoAuth(t *testing.T) {
	env := newAPIEnv(t)
	resp, err := http.Get(env.srv.URL + "/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	env := newAPIEnv(t)
	resp, err := http.Get(env.srv.URL + "/v1/installations")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestGetInstallation(t *testing.T) {
	env := newAPIEnv(t)

	resp, raw := env.do(t, http.MethodGet, "/v1/installations/"+app.DemoInstallation, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, raw)
	}
	var ins server.InstallationResponse
	decode(t, raw, &ins)
	if ins.Code != app.DemoInstallation || ins.Name == "" {
		t.Fatalf("installation = %+v", ins)
	}

	resp, raw = env.do(t, http.MethodGet, "/v1/installations/ONBEKEND", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d: %s", resp.StatusCode, raw)
	}
	var envlp errorEnvelope
	decode(t, raw, &envlp)
	if envlp.Error.Code != "not_found" {
		t.Fatalf("error code = %s", envlp.Error.Code)
	}
}

func TestPrefillEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	resp, raw := env.do(t, http.MethodPost, "/v1/installations/X1/forms/opleveringsformulier/prefill", map[string]any{
		"keys": []string{"naam", "es_regels", "k_document_types", "bestaat_niet"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, raw)
	}
	var body server.PrefillResponse
	decode(t, raw, &body)
	if len(body.Items) != 3 {
		t.Fatalf("items = %+v", body.Items)
	}
	for _, item := range body.Items {
		if item.Key == "bestaat_niet" {
			t.Fatal("unknown key must be absent from the result")
		}
	}
}

func TestInstanceFlow(t *testing.T) {
	env := newAPIEnv(t)

	resp, raw := env.do(t, http.MethodPost, "/v1/installations/X1/forms/opleveringsformulier/instances", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start status = %d: %s", resp.StatusCode, raw)
	}
	var wrap server.InstanceEnvelope
	decode(t, raw, &wrap)
	inst := wrap.Item
	if inst.Status != domain.StatusConcept || inst.DraftRev != 0 {
		t.Fatalf("instance = %+v", inst)
	}
	if inst.CreatedBy != "tester" {
		t.Fatalf("created_by = %s, want actor from X-Actor-Id", inst.CreatedBy)
	}

	resp, raw = env.do(t, http.MethodPut, "/v1/instances/"+inst.ID+"/answers", map[string]any{
		"answers":            map[string]any{"naam": "De Linde"},
		"expected_draft_rev": 0,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save status = %d: %s", resp.StatusCode, raw)
	}
	decode(t, raw, &wrap)
	inst = wrap.Item
	if inst.DraftRev != 1 {
		t.Fatalf("draft_rev = %d, want 1", inst.DraftRev)
	}

	// Stale rev gets the conflict envelope.
	resp, raw = env.do(t, http.MethodPut, "/v1/instances/"+inst.ID+"/answers", map[string]any{
		"answers":            map[string]any{"naam": "concurrent"},
		"expected_draft_rev": 0,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("stale save status = %d: %s", resp.StatusCode, raw)
	}
	var envlp errorEnvelope
	decode(t, raw, &envlp)
	if envlp.Error.Code != "draft_rev_conflict" {
		t.Fatalf("error code = %s", envlp.Error.Code)
	}
	if envlp.Error.Details["draft_rev"] != float64(1) {
		t.Fatalf("details = %v", envlp.Error.Details)
	}

	resp, raw = env.do(t, http.MethodPost, "/v1/instances/"+inst.ID+"/submit", map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status = %d: %s", resp.StatusCode, raw)
	}
	decode(t, raw, &wrap)
	inst = wrap.Item
	if inst.Status != domain.StatusIngediend {
		t.Fatalf("status = %s", inst.Status)
	}

	// Saving a submitted instance is an invalid transition.
	resp, raw = env.do(t, http.MethodPut, "/v1/instances/"+inst.ID+"/answers", map[string]any{
		"answers":            map[string]any{},
		"expected_draft_rev": 1,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d: %s", resp.StatusCode, raw)
	}
	decode(t, raw, &envlp)
	if envlp.Error.Code != "invalid_transition" {
		t.Fatalf("error code = %s", envlp.Error.Code)
	}

	resp, raw = env.do(t, http.MethodPost, "/v1/instances/"+inst.ID+"/behandel", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("behandel status = %d: %s", resp.StatusCode, raw)
	}
	resp, raw = env.do(t, http.MethodPost, "/v1/instances/"+inst.ID+"/afhandel", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("afhandel status = %d: %s", resp.StatusCode, raw)
	}
	decode(t, raw, &wrap)
	inst = wrap.Item
	if inst.Status != domain.StatusAfgehandeld {
		t.Fatalf("status = %s", inst.Status)
	}
}

func TestListInstances(t *testing.T) {
	env := newAPIEnv(t)

	env.do(t, http.MethodPost, "/v1/installations/X1/forms/opleveringsformulier/instances", nil)
	env.do(t, http.MethodPost, "/v1/installations/X1/forms/opleveringsformulier/instances", nil)

	resp, raw := env.do(t, http.MethodGet, "/v1/installations/X1/instances?form_code=opleveringsformulier", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, raw)
	}
	var items []server.InstanceResponse
	decode(t, raw, &items)
	if len(items) != 2 {
		t.Fatalf("instances = %d", len(items))
	}
	if len(items[0].Definition) != 0 {
		t.Fatal("listing must omit the definition snapshot")
	}

	resp, raw = env.do(t, http.MethodGet, "/v1/installations/ONBEKEND/instances", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d: %s", resp.StatusCode, raw)
	}
}

func TestRiskEndpoints(t *testing.T) {
	env := newAPIEnv(t)

	resp, raw := env.do(t, http.MethodGet, "/v1/installations/X1/risk", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, raw)
	}
	var body server.RiskResponse
	decode(t, raw, &body)
	if body.Normering != "NEN2535_2009_PLUS" || len(body.PerRow) != 3 {
		t.Fatalf("risk = %+v", body)
	}

	resp, raw = env.do(t, http.MethodPost, "/v1/risk/compute", map[string]any{
		"normering": "NEN2535_2009_PLUS",
		"rows": []map[string]any{{
			"gebruikersfunctie_key": "kantoor",
			"doormelding":           "ONZIN",
		}},
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d: %s", resp.StatusCode, raw)
	}
	var envlp errorEnvelope
	decode(t, raw, &envlp)
	if envlp.Error.Code != "validation_failed" {
		t.Fatalf("error code = %s", envlp.Error.Code)
	}

	// Omitted counts default to zero; the row must still reach the computation.
	resp, raw = env.do(t, http.MethodPost, "/v1/risk/compute", map[string]any{
		"normering": "NEN2535_2009_PLUS",
		"rows": []map[string]any{{
			"gebruikersfunctie_key": "kantoor",
			"doormelding":           "MET_VERTRAGING",
			"automatische_melders":  40,
		}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("partial row status = %d: %s", resp.StatusCode, raw)
	}
	decode(t, raw, &body)
	if len(body.PerRow) != 1 || body.PerRow[0].Weighted != 40 {
		t.Fatalf("partial row result = %+v", body)
	}

	resp, raw = env.do(t, http.MethodPost, "/v1/risk/compute", map[string]any{"rows": []map[string]any{}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing normering status = %d: %s", resp.StatusCode, raw)
	}
}

func TestCatalogEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	resp, raw := env.do(t, http.MethodGet, "/v1/catalogs/document_types", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, raw)
	}
	var body server.CatalogResponse
	decode(t, raw, &body)
	if body.Name != "document_types" || len(body.Items) != 4 {
		t.Fatalf("catalog = %+v", body)
	}

	resp, raw = env.do(t, http.MethodGet, "/v1/catalogs/bestaat_niet", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d: %s", resp.StatusCode, raw)
	}
}

func TestEventsEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	env.do(t, http.MethodPost, "/v1/installations/X1/forms/opleveringsformulier/instances", nil)

	resp, raw := env.do(t, http.MethodGet, "/v1/events?installation=X1&type=form.created", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, raw)
	}
	var items []server.EventResponse
	decode(t, raw, &items)
	if len(items) != 1 || items[0].Type != "form.created" {
		t.Fatalf("events = %+v", items)
	}
	if items[0].ActorID != "tester" {
		t.Fatalf("actor = %s", items[0].ActorID)
	}
}
