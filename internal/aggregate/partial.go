// Package aggregate is the grouping engine: it folds cleaned records into
// per-key accumulators in one pass, merges partial results from parallel
// workers, and finalizes them into ordered, limited relations.
package aggregate

import (
	"fmt"
	"slices"

	"salesagg/internal/sales"
)

// Partial holds the running groups for one Spec. A Partial is owned by a
// single goroutine; independent Partials over disjoint inputs are combined
// with Merge, which is associative and commutative.
type Partial struct {
	spec    *Spec
	groups  map[Key]*group
	rows    int64
	unknown int64
}

// NewPartial returns an empty accumulator for spec.
func NewPartial(spec *Spec) *Partial {
	return &Partial{spec: spec, groups: make(map[Key]*group)}
}

// Spec returns the spec the partial accumulates for.
func (p *Partial) Spec() *Spec { return p.spec }

// Rows returns the number of records folded in.
func (p *Partial) Rows() int64 { return p.rows }

// UnknownKeys returns how many records landed in the unknown bucket.
func (p *Partial) UnknownKeys() int64 { return p.unknown }

// Groups returns the number of distinct keys seen so far.
func (p *Partial) Groups() int { return len(p.groups) }

// Add folds one record into its group.
func (p *Partial) Add(c *sales.Cleaned) {
	var key Key
	if !p.spec.Global() {
		k, err := p.spec.Key(c)
		if err != nil {
			k = Key{Unknown: true}
			p.unknown++
		}
		key = k
	}
	g, ok := p.groups[key]
	if !ok {
		g = newGroup(key, p.spec.Metrics)
		p.groups[key] = g
	}
	g.add(p.spec.Metrics, c)
	p.rows++
}

// Merge folds o into p and leaves o empty. Both must share the same Spec.
func (p *Partial) Merge(o *Partial) error {
	if o.spec != p.spec {
		return fmt.Errorf("aggregate: merge %q into %q: spec mismatch", o.spec.Name, p.spec.Name)
	}
	if len(o.groups) > len(p.groups) {
		p.groups, o.groups = o.groups, p.groups
	}
	for k, og := range o.groups {
		if g, ok := p.groups[k]; ok {
			g.merge(p.spec.Metrics, og)
		} else {
			p.groups[k] = og
		}
	}
	p.rows += o.rows
	p.unknown += o.unknown
	o.groups = make(map[Key]*group)
	o.rows, o.unknown = 0, 0
	return nil
}

// MergeAll folds every partial into the first and returns it. All partials
// must share one Spec; the rest are left empty.
func MergeAll(ps []*Partial) (*Partial, error) {
	if len(ps) == 0 {
		return nil, fmt.Errorf("aggregate: merge of no partials")
	}
	root := ps[0]
	for _, p := range ps[1:] {
		if err := root.Merge(p); err != nil {
			return nil, err
		}
	}
	return root, nil
}

type finalRow struct {
	key  Key
	vals []any
}

// Finalize renders the groups into a relation: metric values are computed,
// rows are ordered by the spec (ties by ascending key) and cut to the limit.
// Finalize releases the accumulator state; the Partial is empty afterwards.
func (p *Partial) Finalize() *Relation {
	s := p.spec
	if s.Global() && len(p.groups) == 0 {
		p.groups[Key{}] = newGroup(Key{}, s.Metrics)
	}

	rows := make([]finalRow, 0, len(p.groups))
	for k, g := range p.groups {
		vals := make([]any, len(s.Metrics))
		for i, m := range s.Metrics {
			vals[i] = g.accs[i].value(m)
		}
		rows = append(rows, finalRow{key: k, vals: vals})
	}

	oi := s.orderIndex()
	slices.SortFunc(rows, func(a, b finalRow) int {
		if oi >= 0 {
			c := compareValues(a.vals[oi], b.vals[oi])
			if s.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return compareKeys(a.key, b.key)
	})

	groups := len(rows)
	if s.Limit > 0 && len(rows) > s.Limit {
		rows = rows[:s.Limit]
	}

	rel := &Relation{
		Name:        s.Name,
		Columns:     s.Columns(),
		Rows:        make([][]any, 0, len(rows)),
		Groups:      groups,
		InputRows:   p.rows,
		UnknownKeys: p.unknown,
	}
	label := s.unknownLabel()
	for _, r := range rows {
		out := make([]any, 0, len(s.KeyColumns)+len(r.vals))
		switch len(s.KeyColumns) {
		case 1:
			out = append(out, keyText(r.key.A, r.key.Unknown, label))
		case 2:
			out = append(out, keyText(r.key.A, r.key.Unknown, label), keyText(r.key.B, r.key.Unknown, label))
		}
		out = append(out, r.vals...)
		rel.Rows = append(rel.Rows, out)
	}

	p.groups = make(map[Key]*group)
	p.rows, p.unknown = 0, 0
	return rel
}

func keyText(v string, unknown bool, label string) string {
	if unknown {
		return label
	}
	return v
}

// Aggregate runs spec over records in a single pass and finalizes the result.
func Aggregate(spec *Spec, records []*sales.Cleaned) *Relation {
	p := NewPartial(spec)
	for _, c := range records {
		p.Add(c)
	}
	return p.Finalize()
}
