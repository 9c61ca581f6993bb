package prefill

import (
	"encoding/json"
	"fmt"
)

// Binding modes.
const (
	ModeOverwriteIfEmpty     = "overwrite-if-empty"
	ModeAlwaysOverwrite      = "always-overwrite"
	ModeOverwriteIfUnchanged = "overwrite-if-unchanged"
)

// Binding kinds.
const (
	KindPrefill    = "prefill"
	KindCalculated = "calculated"
)

// Choice merge modes.
const (
	ChoicesReplace = "replace"
	ChoicesMerge   = "merge"
)

// BindingDescriptor is attached to a form-definition question. Calculated
// bindings never consult the resolver.
type BindingDescriptor struct {
	Key         string `json:"key"`
	Kind        string `json:"kind" enum:"prefill,calculated"`
	Mode        string `json:"mode" enum:"overwrite-if-empty,always-overwrite,overwrite-if-unchanged"`
	Refreshable bool   `json:"refreshable"`
}

// ChoiceDescriptor is attached to a selectable question.
type ChoiceDescriptor struct {
	Key  string `json:"key"`
	Mode string `json:"mode" enum:"replace,merge"`
}

// QuestionBinding pairs a question name with its declared descriptors.
type QuestionBinding struct {
	Question string
	Bind     *BindingDescriptor
	Choices  *ChoiceDescriptor
}

type definitionElement struct {
	Name     string              `json:"name"`
	Bind     *BindingDescriptor  `json:"bind"`
	Choices  *ChoiceDescriptor   `json:"choices"`
	Elements []definitionElement `json:"elements"`
}

type definitionDoc struct {
	Pages []struct {
		Elements []definitionElement `json:"elements"`
	} `json:"pages"`
	Elements []definitionElement `json:"elements"`
}

// ParseDefinition walks a survey definition and collects each question's
// binding and choice descriptors. Nested panels are flattened.
func ParseDefinition(def json.RawMessage) ([]QuestionBinding, error) {
	if len(def) == 0 {
		return nil, nil
	}
	var doc definitionDoc
	if err := json.Unmarshal(def, &doc); err != nil {
		return nil, fmt.Errorf("parse form definition: %w", err)
	}
	var out []QuestionBinding
	var walk func(els []definitionElement)
	walk = func(els []definitionElement) {
		for _, el := range els {
			if el.Name != "" && (el.Bind != nil || el.Choices != nil) {
				out = append(out, QuestionBinding{Question: el.Name, Bind: el.Bind, Choices: el.Choices})
			}
			if len(el.Elements) > 0 {
				walk(el.Elements)
			}
		}
	}
	for _, p := range doc.Pages {
		walk(p.Elements)
	}
	walk(doc.Elements)
	return out, nil
}

// CollectKeys returns the distinct semantic keys a definition references,
// in first-seen order. Calculated bindings are excluded: they never hit the
// resolver.
func CollectKeys(bindings []QuestionBinding) []string {
	seen := map[string]bool{}
	var keys []string
	add := func(k string) {
		if k == "" || seen[k] {
			return
		}
		seen[k] = true
		keys = append(keys, k)
	}
	for _, qb := range bindings {
		if qb.Bind != nil && qb.Bind.Kind == KindPrefill {
			add(qb.Bind.Key)
		}
		if qb.Choices != nil {
			add(qb.Choices.Key)
		}
	}
	return keys
}
