package config_test

import (
	"strings"
	"testing"

	"atriumforms/internal/config"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()
	if cfg.Server.Addr != ":8480" {
		t.Fatalf("addr = %s", cfg.Server.Addr)
	}
	if cfg.Server.BasePath != "/v1" {
		t.Fatalf("base path = %s", cfg.Server.BasePath)
	}
	if !cfg.Auth.AllowLegacyActorHeader {
		t.Fatal("legacy actor header should default to allowed")
	}
	if cfg.Auth.PrincipalCacheTTL != "5m" {
		t.Fatalf("principal cache ttl = %s", cfg.Auth.PrincipalCacheTTL)
	}
	if cfg.Lifecycle.Variant != "strict" {
		t.Fatalf("variant = %s", cfg.Lifecycle.Variant)
	}
}

func TestActionTablePrecedence(t *testing.T) {
	var cfg config.Config
	if got := cfg.ActionTable()["CONCEPT"]; len(got) != 3 {
		t.Fatalf("empty config should resolve to strict table, got %v", got)
	}

	cfg.Lifecycle.Variant = "loose"
	if got := cfg.ActionTable()["INGETROKKEN"]; len(got) != 2 {
		t.Fatalf("loose INGETROKKEN = %v", got)
	}

	cfg.Lifecycle.Table = map[string][]string{"CONCEPT": {config.ActionSave}}
	if got := cfg.ActionTable()["CONCEPT"]; len(got) != 1 || got[0] != config.ActionSave {
		t.Fatalf("explicit table must win over variant, got %v", got)
	}
}

func TestFromYAMLValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "bad variant",
			yaml: "lifecycle:\n  variant: medium\n",
			want: "variant must be strict or loose",
		},
		{
			name: "unknown status",
			yaml: "lifecycle:\n  table:\n    ZWEVEND: [save]\n",
			want: "unknown status",
		},
		{
			name: "unknown action",
			yaml: "lifecycle:\n  table:\n    CONCEPT: [archiveren]\n",
			want: "unknown action",
		},
		{
			name: "incomplete explicit table",
			yaml: "lifecycle:\n  table:\n    CONCEPT: [save]\n    INGEDIEND: [withdraw]\n    IN_BEHANDELING: []\n    AFGEHANDELD: []\n",
			want: "missing status INGETROKKEN",
		},
		{
			name: "webhook without url",
			yaml: "webhooks:\n  - events: [form.submitted]\n",
			want: "webhooks[0].url is required",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestFromYAMLFullTable(t *testing.T) {
	raw := `
lifecycle:
  table:
    CONCEPT: [save, submit, withdraw]
    INGEDIEND: [withdraw, behandel, afhandel]
    IN_BEHANDELING: [afhandel]
    AFGEHANDELD: []
    INGETROKKEN: [reopen]
webhooks:
  - url: http://127.0.0.1:9/hook
    events: [form.submitted]
    timeout_seconds: 3
`
	cfg, err := config.FromYAML([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := cfg.ActionTable()["IN_BEHANDELING"]; len(got) != 1 || got[0] != config.ActionAfhandel {
		t.Fatalf("IN_BEHANDELING = %v", got)
	}
	if len(cfg.Webhooks) != 1 || cfg.Webhooks[0].TimeoutSeconds != 3 {
		t.Fatalf("webhooks = %+v", cfg.Webhooks)
	}
}
