package report

import (
	"fmt"
	"time"

	"salesagg/internal/aggregate"

	"github.com/shopspring/decimal"
)

// KPI is the headline block shown on the sales dashboard.
type KPI struct {
	TotalRevenue    decimal.Decimal
	TotalOrders     int64
	UniqueCustomers int64
	// AvgOrderValue is revenue per distinct invoice, unlike the per-line
	// averages in the relations.
	AvgOrderValue decimal.Decimal
	First, Last   time.Time
}

// KPIs derives the dashboard headline numbers from the summary relation.
func KPIs(summary *aggregate.Relation) (KPI, error) {
	if summary == nil || summary.Name != Summary || len(summary.Rows) != 1 {
		return KPI{}, fmt.Errorf("report: kpis need the one-row %s relation", Summary)
	}
	row := summary.Rows[0]
	get := func(col string) any {
		if i := summary.ColumnIndex(col); i >= 0 {
			return row[i]
		}
		return nil
	}

	var k KPI
	k.TotalRevenue, _ = get("TotalRevenue").(decimal.Decimal)
	k.TotalOrders, _ = get("TotalInvoices").(int64)
	k.UniqueCustomers, _ = get("TotalCustomers").(int64)
	k.First, _ = get("FirstTransaction").(time.Time)
	k.Last, _ = get("LastTransaction").(time.Time)
	if k.TotalOrders > 0 {
		k.AvgOrderValue = k.TotalRevenue.DivRound(decimal.NewFromInt(k.TotalOrders), 2)
	}
	return k, nil
}
