package report

import (
	"context"
	"fmt"
	"log"
	"time"

	"salesagg/internal/aggregate"
	"salesagg/internal/sales"

	"golang.org/x/sync/errgroup"
)

// Runner evaluates several report specs over one cleaned stream. Records are
// routed to workers by invoice id; each worker keeps one Partial per spec,
// and the partials are merged once the stream ends.
type Runner struct {
	Specs   []*aggregate.Spec
	Workers int
	// Buffer is the per-worker channel capacity.
	Buffer int
}

// Run consumes in until it is closed and returns one finalized relation per
// spec, in spec order. A canceled ctx aborts the run.
func (r *Runner) Run(ctx context.Context, in <-chan *sales.Cleaned) ([]*aggregate.Relation, error) {
	workers := max(r.Workers, 1)
	buffer := max(r.Buffer, 1)

	partials := make([][]*aggregate.Partial, workers)
	lanes := make([]chan *sales.Cleaned, workers)
	for w := range lanes {
		lanes[w] = make(chan *sales.Cleaned, buffer)
		partials[w] = make([]*aggregate.Partial, len(r.Specs))
		for i, s := range r.Specs {
			partials[w][i] = aggregate.NewPartial(s)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	// Dispatcher: route by invoice so distinct-invoice sets stay worker-local.
	g.Go(func() error {
		defer func() {
			for _, l := range lanes {
				close(l)
			}
		}()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case c, ok := <-in:
				if !ok {
					return nil
				}
				select {
				case lanes[aggregate.PartitionOf(c.InvoiceNo, workers)] <- c:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		}
	})

	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			ps := partials[w]
			for c := range lanes[w] {
				for _, p := range ps {
					p.Add(c)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("report: aggregate: %w", err)
	}

	out := make([]*aggregate.Relation, len(r.Specs))
	perSpec := make([]*aggregate.Partial, workers)
	for i, s := range r.Specs {
		start := time.Now()
		for w := range perSpec {
			perSpec[w] = partials[w][i]
		}
		root, err := aggregate.MergeAll(perSpec)
		if err != nil {
			return nil, err
		}
		out[i] = root.Finalize()
		log.Printf("report: name=%s groups=%d rows=%d unknown_keys=%d finalize=%s",
			s.Name, out[i].Groups, len(out[i].Rows), out[i].UnknownKeys,
			time.Since(start).Truncate(time.Microsecond))
	}
	return out, nil
}
