/*
projection.go - The Aggregator: per-worker totals as a pure projection

PURPOSE:
  Derives WorkerTotal rows from a version's line items. The result is a
  pure function of the multiset of (order, calculation) pairs: no running
  counters, no incremental patches, nothing that depends on iteration order.

KEY INSIGHT:
  A line counts toward exactly one of company/client based on its
  IsClientPayment flag. The flag is an explicit field, never recovered
  from the worker name.

DRIFT:
  Drifted compares stored totals against a fresh projection. The Version
  Store repairs drift by replacing the stored rows.

EXAMPLE:
  totals := payout.ProjectVersion(versionID, lines)
  // totals is sorted by worker name

SEE ALSO:
  - versions.go: reprojects after every mutation
*/
package payout

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Project groups lines by worker and sums them. Input order does not matter.
func Project(lines []Line) map[string]WorkerTotal {
	out := make(map[string]WorkerTotal)
	for _, line := range lines {
		w := line.Order.Worker
		t, ok := out[w]
		if !ok {
			t = WorkerTotal{
				Worker:         w,
				CompanyAmount:  decimal.Zero,
				ClientAmount:   decimal.Zero,
				TotalAmount:    decimal.Zero,
				FuelTotal:      decimal.Zero,
				TransportTotal: decimal.Zero,
			}
		}

		calc := line.Calculation
		t.OrdersCount++
		if line.Order.IsClientPayment {
			t.ClientOrdersCount++
			t.ClientAmount = t.ClientAmount.Add(calc.Total)
		} else {
			t.CompanyOrdersCount++
			t.CompanyAmount = t.CompanyAmount.Add(calc.Total)
		}
		t.TotalAmount = t.TotalAmount.Add(calc.Total)
		t.FuelTotal = t.FuelTotal.Add(calc.FuelPayment)
		t.TransportTotal = t.TransportTotal.Add(calc.Transport)
		out[w] = t
	}
	return out
}

// ProjectVersion projects lines and stamps the version, sorted by worker.
func ProjectVersion(versionID VersionID, lines []Line) []WorkerTotal {
	totals := SortedTotals(Project(lines))
	for i := range totals {
		totals[i].VersionID = versionID
	}
	return totals
}

// SortedTotals flattens a projection ordered by worker name.
func SortedTotals(m map[string]WorkerTotal) []WorkerTotal {
	out := make([]WorkerTotal, 0, len(m))
	for _, t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Worker < out[j].Worker })
	return out
}

// Drifted returns the workers whose stored totals differ from the projection,
// including workers present on only one side. Sorted.
func Drifted(stored, projected []WorkerTotal) []string {
	want := make(map[string]WorkerTotal, len(projected))
	for _, t := range projected {
		want[t.Worker] = t
	}

	seen := make(map[string]bool, len(stored))
	var workers []string
	for _, t := range stored {
		seen[t.Worker] = true
		p, ok := want[t.Worker]
		if !ok || !p.Equal(t) {
			workers = append(workers, t.Worker)
		}
	}
	for _, t := range projected {
		if !seen[t.Worker] {
			workers = append(workers, t.Worker)
		}
	}
	sort.Strings(workers)
	return workers
}
