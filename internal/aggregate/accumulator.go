package aggregate

import (
	"time"

	"salesagg/internal/sales"

	"github.com/shopspring/decimal"
)

// avgScale is the number of fractional digits kept by averages.
const avgScale = 6

// acc is a tagged accumulator; which fields are live depends on the metric.
type acc struct {
	n   int64 // rows folded in
	i   int64
	d   decimal.Decimal
	t   time.Time
	set map[string]struct{}
}

// group is the running state of one key.
type group struct {
	key  Key
	rows int64
	accs []acc
}

func newGroup(key Key, ms []Metric) *group {
	g := &group{key: key, accs: make([]acc, len(ms))}
	for i, m := range ms {
		if m.Op == OpCountDistinct {
			g.accs[i].set = make(map[string]struct{})
		}
	}
	return g
}

func (g *group) add(ms []Metric, c *sales.Cleaned) {
	g.rows++
	for i := range ms {
		a := &g.accs[i]
		m := ms[i]
		switch m.Op {
		case OpCountDistinct:
			a.set[m.Field.str(c)] = struct{}{}
		case OpSum, OpAvg:
			if m.Field.kind() == KindInt {
				a.i += c.Quantity
			} else {
				a.d = a.d.Add(m.Field.dec(c))
			}
		case OpMin, OpMax:
			a.fold(m, c)
		}
		a.n++
	}
}

// fold keeps the smallest (OpMin) or largest (OpMax) value seen.
func (a *acc) fold(m Metric, c *sales.Cleaned) {
	first := a.n == 0
	switch m.Field.kind() {
	case KindInt:
		if first || better(m.Op, cmpInt(c.Quantity, a.i)) {
			a.i = c.Quantity
		}
	case KindDecimal:
		v := m.Field.dec(c)
		if first || better(m.Op, v.Cmp(a.d)) {
			a.d = v
		}
	case KindTime:
		v := m.Field.instant(c)
		if first || better(m.Op, v.Compare(a.t)) {
			a.t = v
		}
	}
}

func better(op Op, cmp int) bool {
	if op == OpMin {
		return cmp < 0
	}
	return cmp > 0
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// merge folds o into g. Sums add, distinct sets union, extremes recompute.
func (g *group) merge(ms []Metric, o *group) {
	g.rows += o.rows
	for i := range ms {
		a, b := &g.accs[i], &o.accs[i]
		m := ms[i]
		switch m.Op {
		case OpCountDistinct:
			if len(b.set) > len(a.set) {
				a.set, b.set = b.set, a.set
			}
			for k := range b.set {
				a.set[k] = struct{}{}
			}
		case OpSum, OpAvg:
			a.i += b.i
			a.d = a.d.Add(b.d)
		case OpMin, OpMax:
			if b.n > 0 {
				switch {
				case a.n == 0:
					a.i, a.d, a.t = b.i, b.d, b.t
				case m.Field.kind() == KindInt && better(m.Op, cmpInt(b.i, a.i)):
					a.i = b.i
				case m.Field.kind() == KindDecimal && better(m.Op, b.d.Cmp(a.d)):
					a.d = b.d
				case m.Field.kind() == KindTime && better(m.Op, b.t.Compare(a.t)):
					a.t = b.t
				}
			}
		}
		a.n += b.n
	}
}

// value renders the finished metric. Averages and extremes over no rows are
// nil (NULL).
func (a *acc) value(m Metric) any {
	switch m.Op {
	case OpCountDistinct:
		return int64(len(a.set))
	case OpSum:
		if m.Field.kind() == KindInt {
			return a.i
		}
		return a.d
	case OpAvg:
		if a.n == 0 {
			return nil
		}
		sum := a.d
		if m.Field.kind() == KindInt {
			sum = decimal.NewFromInt(a.i)
		}
		return sum.DivRound(decimal.NewFromInt(a.n), avgScale)
	case OpMin, OpMax:
		if a.n == 0 {
			return nil
		}
		switch m.Field.kind() {
		case KindInt:
			return a.i
		case KindDecimal:
			return a.d
		default:
			return a.t
		}
	}
	return nil
}
