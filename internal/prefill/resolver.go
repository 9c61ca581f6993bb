package prefill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"atriumforms/internal/domain"
	"atriumforms/internal/repo"
)

// Fixed semantic keys gating the aggregate rule sets. When requested, each
// always yields exactly one item, empty or null when the installation has no
// matching rows.
const (
	KeyEnergieRegels = "es_regels"
	KeyDocumenten    = "documenten"
	KeyPveHeader     = "pve_header"
	KeyPveRegels     = "pve_regels"
)

// Custom-field option lists are requested under the field key plus this suffix
// so the value and choices sources keep disjoint key namespaces.
const optionsSuffix = "_opties"

// catalogKeys maps gated catalog keys to their repo catalog names.
var catalogKeys = map[string]string{
	"k_document_types":     "document_types",
	"k_normeringen":        "normeringen",
	"k_gebruikersfuncties": "gebruikersfuncties",
	"k_brandmeld_types":    "brandmeld_types",
}

var jsonNull = json.RawMessage("null")

// Resolver gathers prefill values from the heterogeneous domain sources and
// emits a flat, uniform item set. Read-only; it never mutates any store.
type Resolver struct {
	Repo repo.Repo
}

type sourceFunc func(ctx context.Context, ins domain.Installation, want map[string]bool) ([]domain.ResolvedItem, error)

// Resolve evaluates every source for the requested keys and unions the
// results. The requested key list is deduplicated first; an empty set returns
// without touching any source. Keys that no source answered are simply absent
// from the result; the caller derives its unknown-keys warning from that.
func (r Resolver) Resolve(ctx context.Context, code, formCode string, keys []string) ([]domain.ResolvedItem, error) {
	ins, err := r.Repo.GetInstallation(ctx, code)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("installation %s: %w", code, err)
		}
		return nil, err
	}

	want := map[string]bool{}
	for _, k := range keys {
		want[k] = true
	}
	if len(want) == 0 {
		return []domain.ResolvedItem{}, nil
	}

	// Registration order is the tie-break order: the first source to produce
	// a key wins. Namespaces are disjoint so this only matters as an invariant.
	sources := []sourceFunc{
		r.atriumSource,
		r.customValueSource,
		r.customChoicesSource,
		r.aggregateSource,
		r.catalogSource,
	}

	results := make([][]domain.ResolvedItem, len(sources))
	errs := make([]error, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src sourceFunc) {
			defer wg.Done()
			results[i], errs[i] = src(ctx, ins, want)
		}(i, src)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	seen := map[string]bool{}
	var items []domain.ResolvedItem
	for _, batch := range results {
		for _, item := range batch {
			if !want[item.Key] || seen[item.Key] {
				continue
			}
			seen[item.Key] = true
			items = append(items, item)
		}
	}
	if items == nil {
		items = []domain.ResolvedItem{}
	}
	return items, nil
}

// atriumSource joins the synced external record against the active atrium
// field-definition mapping. A missing external row still answers every mapped
// requested key, with null.
func (r Resolver) atriumSource(ctx context.Context, ins domain.Installation, want map[string]bool) ([]domain.ResolvedItem, error) {
	defs, err := r.Repo.ListActiveFieldDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	type mapping struct {
		column string
		key    string
	}
	var mappings []mapping
	for _, fd := range defs {
		if fd.Source != "atrium" || fd.ExternalColumn == nil {
			continue
		}
		if want[fd.FieldKey] {
			mappings = append(mappings, mapping{column: *fd.ExternalColumn, key: fd.FieldKey})
		}
	}
	if len(mappings) == 0 {
		return nil, nil
	}

	record := map[string]json.RawMessage{}
	rec, err := r.Repo.GetAtriumRecord(ctx, ins.Code)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if err == nil && len(rec.Record) > 0 {
		if err := json.Unmarshal(rec.Record, &record); err != nil {
			return nil, fmt.Errorf("atrium record for %s: %w", ins.Code, err)
		}
	}

	var items []domain.ResolvedItem
	for _, m := range mappings {
		value := jsonNull
		if raw, ok := record[m.column]; ok && len(raw) > 0 {
			value = raw
		}
		items = append(items, domain.ResolvedItem{Kind: domain.KindValue, Key: m.key, Value: value})
	}
	return items, nil
}

// customValueSource answers every requested key that names an active custom
// field definition. A known key always produces an item, null when the field
// is scoped to another installation type or no value row exists yet.
func (r Resolver) customValueSource(ctx context.Context, ins domain.Installation, want map[string]bool) ([]domain.ResolvedItem, error) {
	defs, err := r.Repo.ListActiveFieldDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	var items []domain.ResolvedItem
	for _, fd := range defs {
		if fd.Source != "custom" || !want[fd.FieldKey] {
			continue
		}
		value := jsonNull
		typeMatches := fd.InstallationType == nil || (ins.InstallationType != "" && *fd.InstallationType == ins.InstallationType)
		if typeMatches {
			fv, err := r.Repo.GetFieldValue(ctx, ins.Code, fd.ID)
			if err != nil && !errors.Is(err, repo.ErrNotFound) {
				return nil, err
			}
			if err == nil && len(fv.Value) > 0 {
				value = fv.Value
			}
		}
		items = append(items, domain.ResolvedItem{Kind: domain.KindValue, Key: fd.FieldKey, Value: value})
	}
	return items, nil
}

// customChoicesSource answers "<field_key>_opties" requests with the field's
// active option list, empty when no options are defined.
func (r Resolver) customChoicesSource(ctx context.Context, ins domain.Installation, want map[string]bool) ([]domain.ResolvedItem, error) {
	wanted := map[string]bool{}
	for k := range want {
		if strings.HasSuffix(k, optionsSuffix) {
			wanted[strings.TrimSuffix(k, optionsSuffix)] = true
		}
	}
	if len(wanted) == 0 {
		return nil, nil
	}
	defs, err := r.Repo.ListActiveFieldDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	var items []domain.ResolvedItem
	for _, fd := range defs {
		if fd.Source != "custom" || !wanted[fd.FieldKey] {
			continue
		}
		opts, err := r.Repo.ListFieldOptions(ctx, fd.ID)
		if err != nil {
			return nil, err
		}
		choices := make([]domain.Option, 0, len(opts))
		for _, o := range opts {
			choices = append(choices, domain.Option{Value: o.Value, Text: o.Label})
		}
		items = append(items, domain.ResolvedItem{Kind: domain.KindChoices, Key: fd.FieldKey + optionsSuffix, Choices: choices})
	}
	return items, nil
}

// aggregateSource handles the fixed gated keys. A requested gated key always
// yields exactly one item; "no rows yet" is an empty array or null, never an
// absent key, so the UI can render an empty state instead of an error.
func (r Resolver) aggregateSource(ctx context.Context, ins domain.Installation, want map[string]bool) ([]domain.ResolvedItem, error) {
	var items []domain.ResolvedItem

	if want[KeyEnergieRegels] {
		rows, err := r.Repo.ListEnergySupplies(ctx, ins.Code)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			rows = []domain.EnergySupply{}
		}
		raw, err := json.Marshal(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, domain.ResolvedItem{Kind: domain.KindValue, Key: KeyEnergieRegels, Value: raw})
	}

	if want[KeyDocumenten] {
		docs, err := r.Repo.ListDocuments(ctx, ins.Code)
		if err != nil {
			return nil, err
		}
		if docs == nil {
			docs = []domain.Document{}
		}
		raw, err := json.Marshal(docs)
		if err != nil {
			return nil, err
		}
		items = append(items, domain.ResolvedItem{Kind: domain.KindValue, Key: KeyDocumenten, Value: raw})
	}

	if want[KeyPveHeader] || want[KeyPveRegels] {
		header, err := r.Repo.GetPerformanceHeader(ctx, ins.Code)
		headerMissing := errors.Is(err, repo.ErrNotFound)
		if err != nil && !headerMissing {
			return nil, err
		}
		if want[KeyPveHeader] {
			value := jsonNull
			if !headerMissing {
				raw, err := json.Marshal(header)
				if err != nil {
					return nil, err
				}
				value = raw
			}
			items = append(items, domain.ResolvedItem{Kind: domain.KindValue, Key: KeyPveHeader, Value: value})
		}
		if want[KeyPveRegels] {
			rows := []domain.PerformanceRow{}
			if !headerMissing {
				rows, err = r.Repo.ListPerformanceRows(ctx, header.ID)
				if err != nil {
					return nil, err
				}
				if rows == nil {
					rows = []domain.PerformanceRow{}
				}
			}
			raw, err := json.Marshal(rows)
			if err != nil {
				return nil, err
			}
			items = append(items, domain.ResolvedItem{Kind: domain.KindValue, Key: KeyPveRegels, Value: raw})
		}
	}

	return items, nil
}

// catalogSource answers the static catalog keys with active entries as
// normalized options.
func (r Resolver) catalogSource(ctx context.Context, ins domain.Installation, want map[string]bool) ([]domain.ResolvedItem, error) {
	var items []domain.ResolvedItem
	for key, catalog := range catalogKeys {
		if !want[key] {
			continue
		}
		entries, err := r.Repo.ListCatalog(ctx, catalog)
		if err != nil {
			return nil, err
		}
		choices := make([]domain.Option, 0, len(entries))
		for _, e := range entries {
			choices = append(choices, domain.Option{Value: e.Key, Text: e.Label})
		}
		items = append(items, domain.ResolvedItem{Kind: domain.KindChoices, Key: key, Choices: choices})
	}
	return items, nil
}
