package aggregate

import (
	"context"
	"fmt"

	"salesagg/internal/sales"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"
)

// PartitionOf maps an invoice id onto one of n workers. All lines of an
// invoice land on the same worker, so per-worker distinct-invoice sets stay
// disjoint and the merge step unions less.
func PartitionOf(invoice string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(xxh3.HashString(invoice) % uint64(n))
}

// AggregateParallel splits records across workers by invoice, aggregates each
// share into its own Partial, merges them, and finalizes. The result is
// identical to Aggregate over the same records.
func AggregateParallel(ctx context.Context, spec *Spec, records []*sales.Cleaned, workers int) (*Relation, error) {
	if workers < 1 {
		workers = 1
	}
	shares := make([][]*sales.Cleaned, workers)
	for _, c := range records {
		w := PartitionOf(c.InvoiceNo, workers)
		shares[w] = append(shares[w], c)
	}

	partials := make([]*Partial, workers)
	g, ctx := errgroup.WithContext(ctx)
	for w := range shares {
		w := w
		g.Go(func() error {
			p := NewPartial(spec)
			for i, c := range shares[w] {
				if i%4096 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				p.Add(c)
			}
			partials[w] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", spec.Name, err)
	}

	root, err := MergeAll(partials)
	if err != nil {
		return nil, err
	}
	return root.Finalize(), nil
}
