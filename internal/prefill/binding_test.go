package prefill_test

import (
	"encoding/json"
	"testing"
	"time"

	"atriumforms/internal/domain"
	"atriumforms/internal/prefill"
)

func bind(question, key, mode string, refreshable bool) prefill.QuestionBinding {
	return prefill.QuestionBinding{
		Question: question,
		Bind:     &prefill.BindingDescriptor{Key: key, Kind: prefill.KindPrefill, Mode: mode, Refreshable: refreshable},
	}
}

func payloadWith(values map[string]any) prefill.Payload {
	return prefill.Payload{Values: values, Choices: map[string][]domain.Option{}}
}

func TestOverwriteIfEmpty(t *testing.T) {
	eng := prefill.NewEngine()
	model := prefill.NewModel()
	bindings := []prefill.QuestionBinding{bind("naam", "naam", prefill.ModeOverwriteIfEmpty, false)}

	eng.Apply(model, bindings, payloadWith(map[string]any{"naam": "De Linde"}), prefill.ApplyOptions{})
	if model.Answers["naam"] != "De Linde" {
		t.Fatalf("empty answer should be filled, got %v", model.Answers["naam"])
	}

	model.Answers["naam"] = "Handmatig"
	eng.Apply(model, bindings, payloadWith(map[string]any{"naam": "De Linde"}), prefill.ApplyOptions{})
	if model.Answers["naam"] != "Handmatig" {
		t.Fatalf("non-empty answer must survive, got %v", model.Answers["naam"])
	}
}

func TestAlwaysOverwrite(t *testing.T) {
	eng := prefill.NewEngine()
	model := prefill.NewModel()
	model.Answers["plaats"] = "Oud"
	bindings := []prefill.QuestionBinding{bind("plaats", "plaats", prefill.ModeAlwaysOverwrite, false)}

	eng.Apply(model, bindings, payloadWith(map[string]any{"plaats": "Apeldoorn"}), prefill.ApplyOptions{})
	if model.Answers["plaats"] != "Apeldoorn" {
		t.Fatalf("always-overwrite must replace, got %v", model.Answers["plaats"])
	}
}

func TestOverwriteIfUnchangedRefreshesOwnWrites(t *testing.T) {
	eng := prefill.NewEngine()
	model := prefill.NewModel()
	bindings := []prefill.QuestionBinding{bind("naam", "naam", prefill.ModeOverwriteIfUnchanged, true)}

	eng.Apply(model, bindings, payloadWith(map[string]any{"naam": "v1"}), prefill.ApplyOptions{})
	if model.Answers["naam"] != "v1" {
		t.Fatalf("first apply: %v", model.Answers["naam"])
	}

	// The answer is still exactly what the engine wrote, so a refresh may
	// replace it.
	eng.Apply(model, bindings, payloadWith(map[string]any{"naam": "v2"}), prefill.ApplyOptions{})
	if model.Answers["naam"] != "v2" {
		t.Fatalf("untouched write should refresh, got %v", model.Answers["naam"])
	}

	// The user edited the field; later refreshes must leave it alone.
	model.Answers["naam"] = "aangepast"
	eng.Apply(model, bindings, payloadWith(map[string]any{"naam": "v3"}), prefill.ApplyOptions{})
	if model.Answers["naam"] != "aangepast" {
		t.Fatalf("user edit must survive refresh, got %v", model.Answers["naam"])
	}
}

func TestAbsentKeyNeverOverwrites(t *testing.T) {
	eng := prefill.NewEngine()
	model := prefill.NewModel()
	model.Answers["naam"] = "bestaand"
	bindings := []prefill.QuestionBinding{bind("naam", "naam", prefill.ModeAlwaysOverwrite, false)}

	eng.Apply(model, bindings, payloadWith(map[string]any{}), prefill.ApplyOptions{})
	if model.Answers["naam"] != "bestaand" {
		t.Fatalf("absent key must not touch the answer, got %v", model.Answers["naam"])
	}
}

func TestPresentNullIsData(t *testing.T) {
	eng := prefill.NewEngine()
	model := prefill.NewModel()
	model.Answers["naam"] = "bestaand"
	bindings := []prefill.QuestionBinding{bind("naam", "naam", prefill.ModeAlwaysOverwrite, false)}

	eng.Apply(model, bindings, payloadWith(map[string]any{"naam": nil}), prefill.ApplyOptions{})
	if model.Answers["naam"] != nil {
		t.Fatalf("present null should overwrite under always-overwrite, got %v", model.Answers["naam"])
	}
}

func TestOnlyRefreshable(t *testing.T) {
	eng := prefill.NewEngine()
	model := prefill.NewModel()
	bindings := []prefill.QuestionBinding{
		bind("naam", "naam", prefill.ModeAlwaysOverwrite, true),
		bind("plaats", "plaats", prefill.ModeAlwaysOverwrite, false),
	}
	payload := payloadWith(map[string]any{"naam": "a", "plaats": "b"})

	eng.Apply(model, bindings, payload, prefill.ApplyOptions{OnlyRefreshable: true})
	if model.Answers["naam"] != "a" {
		t.Fatalf("refreshable binding should apply, got %v", model.Answers["naam"])
	}
	if _, ok := model.Answers["plaats"]; ok {
		t.Fatalf("non-refreshable binding must be skipped, got %v", model.Answers["plaats"])
	}
}

func TestCalculatedToday(t *testing.T) {
	eng := prefill.NewEngine()
	eng.Now = func() time.Time { return time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC) }
	model := prefill.NewModel()
	bindings := []prefill.QuestionBinding{{
		Question: "datum",
		Bind:     &prefill.BindingDescriptor{Key: "today", Kind: prefill.KindCalculated, Mode: prefill.ModeOverwriteIfEmpty},
	}}

	eng.Apply(model, bindings, payloadWith(nil), prefill.ApplyOptions{})
	if model.Answers["datum"] != "2024-03-15" {
		t.Fatalf("datum = %v, want 2024-03-15", model.Answers["datum"])
	}
}

func TestChoicesReplaceAndMerge(t *testing.T) {
	eng := prefill.NewEngine()
	model := prefill.NewModel()
	model.Options["omvang"] = []domain.Option{
		{Value: "volledig", Text: "Volledig (oud)"},
		{Value: "ruimte", Text: "Ruimtebewaking"},
	}

	incoming := []domain.Option{
		{Value: "volledig", Text: "Volledige bewaking"},
		{Value: "niet", Text: "Niet-automatisch"},
	}
	payload := prefill.Payload{Values: map[string]any{}, Choices: map[string][]domain.Option{"omvang_opties": incoming}}

	merge := []prefill.QuestionBinding{{
		Question: "omvang",
		Choices:  &prefill.ChoiceDescriptor{Key: "omvang_opties", Mode: prefill.ChoicesMerge},
	}}
	eng.Apply(model, merge, payload, prefill.ApplyOptions{})
	got := model.Options["omvang"]
	want := []domain.Option{
		{Value: "volledig", Text: "Volledige bewaking"},
		{Value: "ruimte", Text: "Ruimtebewaking"},
		{Value: "niet", Text: "Niet-automatisch"},
	}
	if len(got) != len(want) {
		t.Fatalf("merged options = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("merged options[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	replace := []prefill.QuestionBinding{{
		Question: "omvang",
		Choices:  &prefill.ChoiceDescriptor{Key: "omvang_opties", Mode: prefill.ChoicesReplace},
	}}
	eng.Apply(model, replace, payload, prefill.ApplyOptions{})
	if len(model.Options["omvang"]) != 2 {
		t.Fatalf("replace should drop existing entries, got %v", model.Options["omvang"])
	}
}

func TestPayloadFromItems(t *testing.T) {
	items := []domain.ResolvedItem{
		{Kind: domain.KindValue, Key: "naam", Value: json.RawMessage(`"De Linde"`)},
		{Kind: domain.KindValue, Key: "leeg", Value: json.RawMessage(`null`)},
		{Kind: domain.KindChoices, Key: "typed", Choices: []domain.Option{{Value: "a", Text: "A"}}},
		{Kind: domain.KindChoices, Key: "raw", Value: json.RawMessage(`["x", {"id": "y", "label": "Y"}]`)},
	}
	p := prefill.PayloadFromItems(items)

	if p.Values["naam"] != "De Linde" {
		t.Fatalf("naam = %v", p.Values["naam"])
	}
	if v, ok := p.Values["leeg"]; !ok || v != nil {
		t.Fatalf("null value must be present as nil, got (%v, %v)", v, ok)
	}
	if len(p.Choices["typed"]) != 1 || p.Choices["typed"][0].Value != "a" {
		t.Fatalf("typed choices = %v", p.Choices["typed"])
	}
	raw := p.Choices["raw"]
	if len(raw) != 2 || raw[0] != (domain.Option{Value: "x", Text: "x"}) || raw[1] != (domain.Option{Value: "y", Text: "Y"}) {
		t.Fatalf("raw choices = %v", raw)
	}
}

func TestParseDefinitionFlattensPanels(t *testing.T) {
	def := json.RawMessage(`{
		"pages": [{
			"elements": [
				{"name": "naam", "bind": {"key": "naam", "kind": "prefill", "mode": "overwrite-if-empty"}},
				{"name": "paneel", "elements": [
					{"name": "omvang", "choices": {"key": "omvang_opties", "mode": "replace"}}
				]}
			]
		}]
	}`)
	bindings, err := prefill.ParseDefinition(def)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(bindings) != 2 {
		t.Fatalf("bindings = %+v", bindings)
	}
	if bindings[0].Question != "naam" || bindings[1].Question != "omvang" {
		t.Fatalf("unexpected questions: %s, %s", bindings[0].Question, bindings[1].Question)
	}

	keys := prefill.CollectKeys(bindings)
	if len(keys) != 2 || keys[0] != "naam" || keys[1] != "omvang_opties" {
		t.Fatalf("keys = %v", keys)
	}
}
