// Package audit scores a catalog against the stores without resolving
// anything, and reports duplicate canonical records.
package audit

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/okian/bikeharvest/internal/domain/model"
	"github.com/okian/bikeharvest/internal/domain/normalize"
	"github.com/okian/bikeharvest/internal/domain/resolve"
	"github.com/okian/bikeharvest/internal/domain/types"
	"github.com/okian/bikeharvest/internal/domain/workqueue"
	"github.com/okian/bikeharvest/pkg/logger"
)

// Store is the read-only view the audit needs.
type Store interface {
	workqueue.Lookup
	Canonicals(ctx context.Context) ([]*model.CanonicalRecord, error)
}

// CombinationGroup is a set of canonical records sharing make, model, year
// and variant.
type CombinationGroup struct {
	Combination   model.Combination `json:"combination"`
	SyntheticKeys []string          `json:"synthetic_keys"`
}

// SyntheticKeyGroup is a synthetic key claimed by more than one source key.
type SyntheticKeyGroup struct {
	SyntheticKey string   `json:"synthetic_key"`
	Keys         []string `json:"keys"`
}

// Report is the outcome of one audit. Synthetic-key duplicates are
// integrity defects: a synthetic key must map to exactly one source key.
type Report struct {
	Entries                int                    `json:"entries"`
	DuplicateCatalogKeys   int                    `json:"duplicate_catalog_keys"`
	Buckets                map[types.Priority]int `json:"buckets"`
	Issues                 map[string]int         `json:"issues"`
	Canonicals             int                    `json:"canonicals"`
	CombinationDuplicates  []CombinationGroup     `json:"combination_duplicates"`
	SyntheticKeyDuplicates []SyntheticKeyGroup    `json:"synthetic_key_duplicates"`
}

// Auditor scores catalogs. Scoring goes through the same classification the
// work queue uses, so bucket counts match what a forced run would see.
type Auditor struct {
	builder *workqueue.Builder
	decoder workqueue.Decoder
	log     logger.Logger
}

// New creates an Auditor.
func New(opts ...Option) *Auditor {
	a := &Auditor{decoder: resolve.NewDecoder()}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = logger.Get().Named("audit")
	}
	a.builder = workqueue.NewBuilder(
		workqueue.WithDecoder(a.decoder),
		workqueue.WithLogger(a.log),
	)
	return a
}

// Run scores every entry and inspects the canonical store.
func (a *Auditor) Run(ctx context.Context, entries []model.CatalogEntry, store Store) (*Report, error) {
	if store == nil {
		return nil, ErrNoStore
	}
	items, sum, err := a.builder.Build(ctx, entries, store, workqueue.BuildOptions{Force: true})
	if err != nil {
		return nil, fmt.Errorf("score catalog: %w", err)
	}

	rep := &Report{
		Entries:              sum.CatalogEntries,
		DuplicateCatalogKeys: sum.DuplicateKeys,
		Buckets:              sum.Buckets,
		Issues:               map[string]int{},
	}
	for _, it := range items {
		for _, issue := range it.Score.Issues {
			rep.Issues[issue]++
		}
	}

	canonicals, err := store.Canonicals(ctx)
	if err != nil {
		return nil, fmt.Errorf("list canonical records: %w", err)
	}
	rep.Canonicals = len(canonicals)
	rep.CombinationDuplicates = combinationDuplicates(canonicals)
	rep.SyntheticKeyDuplicates = syntheticKeyDuplicates(entries, canonicals)

	a.log.Info(ctx, "audit finished",
		logger.Int("entries", rep.Entries),
		logger.Int("canonicals", rep.Canonicals),
		logger.Int("combination_duplicates", len(rep.CombinationDuplicates)),
		logger.Int("synthetic_key_duplicates", len(rep.SyntheticKeyDuplicates)),
	)
	return rep, nil
}

// combinationDuplicates groups records by their folded identity tuple.
// Variant names repeated under different models land in different groups.
func combinationDuplicates(recs []*model.CanonicalRecord) []CombinationGroup {
	byCombo := map[model.Combination][]string{}
	var order []model.Combination
	for _, rec := range recs {
		c := rec.Combination()
		if _, ok := byCombo[c]; !ok {
			order = append(order, c)
		}
		byCombo[c] = append(byCombo[c], rec.SyntheticKey)
	}

	var out []CombinationGroup
	for _, c := range order {
		keys := byCombo[c]
		if len(keys) < 2 {
			continue
		}
		sort.Strings(keys)
		out = append(out, CombinationGroup{Combination: c, SyntheticKeys: keys})
	}
	return out
}

// syntheticKeyDuplicates finds synthetic keys derived from, or stored
// against, more than one source key.
func syntheticKeyDuplicates(entries []model.CatalogEntry, recs []*model.CanonicalRecord) []SyntheticKeyGroup {
	owners := map[string]map[string]struct{}{}
	add := func(synthetic, key string) {
		if owners[synthetic] == nil {
			owners[synthetic] = map[string]struct{}{}
		}
		owners[synthetic][key] = struct{}{}
	}
	for _, e := range entries {
		add(normalize.SyntheticKey(e.Key), e.Key)
	}
	for _, rec := range recs {
		if rec.RawKey != "" {
			add(rec.SyntheticKey, rec.RawKey)
		}
	}

	var out []SyntheticKeyGroup
	for synthetic, keys := range owners {
		if len(keys) < 2 {
			continue
		}
		g := SyntheticKeyGroup{SyntheticKey: synthetic}
		for k := range keys {
			g.Keys = append(g.Keys, k)
		}
		sort.Strings(g.Keys)
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SyntheticKey < out[j].SyntheticKey })
	return out
}

// WriteText prints rep for humans.
func WriteText(w io.Writer, rep *Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "catalog entries: %d (duplicate keys: %d)\n", rep.Entries, rep.DuplicateCatalogKeys)
	for p := types.PriorityFailed; p <= types.PriorityNeverScraped; p++ {
		fmt.Fprintf(&b, "  priority %s: %d\n", p, rep.Buckets[p])
	}

	if len(rep.Issues) > 0 {
		b.WriteString("issues:\n")
		names := make([]string, 0, len(rep.Issues))
		for name := range rep.Issues {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "  %s: %d\n", name, rep.Issues[name])
		}
	}

	fmt.Fprintf(&b, "canonical records: %d\n", rep.Canonicals)
	fmt.Fprintf(&b, "combination duplicates: %d\n", len(rep.CombinationDuplicates))
	for _, g := range rep.CombinationDuplicates {
		c := g.Combination
		fmt.Fprintf(&b, "  %s %s %d %q: %s\n", c.Make, c.Model, c.Year, c.Variant, strings.Join(g.SyntheticKeys, ", "))
	}
	fmt.Fprintf(&b, "synthetic key duplicates: %d\n", len(rep.SyntheticKeyDuplicates))
	for _, g := range rep.SyntheticKeyDuplicates {
		fmt.Fprintf(&b, "  %s: %s\n", g.SyntheticKey, strings.Join(g.Keys, ", "))
	}

	_, err := io.WriteString(w, b.String())
	return err
}
