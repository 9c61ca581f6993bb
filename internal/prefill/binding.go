package prefill

import (
	"encoding/json"
	"reflect"
	"time"

	"atriumforms/internal/domain"
)

// Model is the live in-memory form state the binding engine mutates: answers
// and option lists keyed by question name.
type Model struct {
	Answers map[string]any
	Options map[string][]domain.Option
}

func NewModel() *Model {
	return &Model{
		Answers: map[string]any{},
		Options: map[string][]domain.Option{},
	}
}

// Payload is the resolver output indexed for binding. Presence in Values is
// significant: an absent key means "no data, leave the question alone" while a
// present nil means the source answered null.
type Payload struct {
	Values  map[string]any
	Choices map[string][]domain.Option
}

// PayloadFromItems indexes resolver items. Choices arriving as a raw JSON
// array (older response shapes) are normalized through the option aliases.
func PayloadFromItems(items []domain.ResolvedItem) Payload {
	p := Payload{Values: map[string]any{}, Choices: map[string][]domain.Option{}}
	for _, item := range items {
		switch item.Kind {
		case domain.KindValue:
			var v any
			if len(item.Value) > 0 {
				_ = json.Unmarshal(item.Value, &v)
			}
			p.Values[item.Key] = v
		case domain.KindChoices:
			if item.Choices != nil {
				p.Choices[item.Key] = item.Choices
			} else if len(item.Value) > 0 {
				if opts, ok := NormalizeOptions(item.Value); ok {
					p.Choices[item.Key] = opts
				}
			}
		}
	}
	return p
}

// NormalizeOptions collapses historical option shapes to the typed contract.
// Value falls back through value/id/key, text through text/label/name; plain
// strings become identical value and text.
func NormalizeOptions(raw json.RawMessage) ([]domain.Option, bool) {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false
	}
	out := make([]domain.Option, 0, len(entries))
	for _, entry := range entries {
		var s string
		if err := json.Unmarshal(entry, &s); err == nil {
			out = append(out, domain.Option{Value: s, Text: s})
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(entry, &obj); err != nil {
			continue
		}
		value := firstString(obj, "value", "id", "key")
		text := firstString(obj, "text", "label", "name")
		if value == "" && text == "" {
			continue
		}
		if text == "" {
			text = value
		}
		if value == "" {
			value = text
		}
		out = append(out, domain.Option{Value: value, Text: text})
	}
	return out, true
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := obj[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Engine applies resolved payloads to a model under the per-question overwrite
// policy. It remembers the last value it wrote per question so the
// overwrite-if-unchanged mode can refresh its own untouched writes without
// ever clobbering a user edit. The memory lives for the engine's lifetime;
// discarding the form session discards it.
type Engine struct {
	Now         func() time.Time
	lastApplied map[string]any
}

func NewEngine() *Engine {
	return &Engine{Now: time.Now, lastApplied: map[string]any{}}
}

type ApplyOptions struct {
	// OnlyRefreshable limits the pass to bindings flagged refreshable, the
	// behavior of an explicit refresh on an already-open form.
	OnlyRefreshable bool
}

// Apply folds the payload into the model.
func (e *Engine) Apply(model *Model, bindings []QuestionBinding, payload Payload, opts ApplyOptions) {
	for _, qb := range bindings {
		if qb.Bind != nil {
			e.applyBinding(model, qb.Question, *qb.Bind, payload, opts)
		}
		if qb.Choices != nil {
			applyChoices(model, qb.Question, *qb.Choices, payload)
		}
	}
}

func (e *Engine) applyBinding(model *Model, question string, b BindingDescriptor, payload Payload, opts ApplyOptions) {
	if opts.OnlyRefreshable && !b.Refreshable {
		return
	}
	var next any
	switch b.Kind {
	case KindCalculated:
		v, ok := e.calculate(b.Key)
		if !ok {
			return
		}
		next = v
	case KindPrefill:
		v, ok := payload.Values[b.Key]
		if !ok {
			// No data for this key; never overwrite with "no data".
			return
		}
		next = v
	default:
		return
	}

	current := model.Answers[question]
	overwrite := false
	switch b.Mode {
	case ModeAlwaysOverwrite:
		overwrite = true
	case ModeOverwriteIfEmpty:
		overwrite = isEmpty(current)
	case ModeOverwriteIfUnchanged:
		if isEmpty(current) {
			overwrite = true
		} else if last, ok := e.lastApplied[question]; ok && reflect.DeepEqual(current, last) {
			overwrite = true
		}
	}
	if !overwrite {
		return
	}
	model.Answers[question] = next
	e.lastApplied[question] = deepCopy(next)
}

func (e *Engine) calculate(key string) (any, bool) {
	switch key {
	case "today":
		now := time.Now
		if e.Now != nil {
			now = e.Now
		}
		return now().Format("2006-01-02"), true
	}
	return nil, false
}

func applyChoices(model *Model, question string, c ChoiceDescriptor, payload Payload) {
	incoming, ok := payload.Choices[c.Key]
	if !ok {
		return
	}
	switch c.Mode {
	case ChoicesMerge:
		model.Options[question] = mergeOptions(model.Options[question], incoming)
	default:
		model.Options[question] = append([]domain.Option(nil), incoming...)
	}
}

// mergeOptions unions by value; incoming entries override duplicates in place,
// new entries append.
func mergeOptions(existing, incoming []domain.Option) []domain.Option {
	out := append([]domain.Option(nil), existing...)
	index := make(map[string]int, len(out))
	for i, o := range out {
		index[o.Value] = i
	}
	for _, o := range incoming {
		if i, ok := index[o.Value]; ok {
			out[i] = o
			continue
		}
		index[o.Value] = len(out)
		out = append(out, o)
	}
	return out
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	}
	return v
}
