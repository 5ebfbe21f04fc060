package payout_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payout-engine/payout"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func line(worker, key string, client bool, total, fuel, transport string) payout.Line {
	return payout.Line{
		Order: payout.Order{Worker: worker, Key: key, IsClientPayment: client, ServicePayment: dec(total)},
		Calculation: payout.Calculation{
			Total:       dec(total),
			FuelPayment: dec(fuel),
			Transport:   dec(transport),
		},
	}
}

func TestProject_SplitsByClientFlagNotByName(t *testing.T) {
	// GIVEN: One worker with company and client orders, and a name that
	// looks like a client-payment label but is not flagged as one
	lines := []payout.Line{
		line("Ivanov Ivan", "1", false, "1000", "200", "0"),
		line("Ivanov Ivan", "2", true, "500.50", "0", "1000"),
		line("Ivanov Ivan (client payment)", "3", false, "300", "0", "0"),
	}

	// WHEN: Projecting
	totals := payout.Project(lines)

	// THEN: Base names group, the flag alone decides company vs client
	require.Len(t, totals, 2)
	iv := totals["Ivanov Ivan"]
	assert.Equal(t, 2, iv.OrdersCount)
	assert.Equal(t, 1, iv.CompanyOrdersCount)
	assert.Equal(t, 1, iv.ClientOrdersCount)
	assert.True(t, iv.CompanyAmount.Equal(dec("1000")))
	assert.True(t, iv.ClientAmount.Equal(dec("500.50")))
	assert.True(t, iv.TotalAmount.Equal(dec("1500.50")))
	assert.True(t, iv.FuelTotal.Equal(dec("200")))
	assert.True(t, iv.TransportTotal.Equal(dec("1000")))

	odd := totals["Ivanov Ivan (client payment)"]
	assert.Equal(t, 0, odd.ClientOrdersCount)
	assert.True(t, odd.CompanyAmount.Equal(dec("300")))
}

func TestProject_EmptyInput(t *testing.T) {
	assert.Empty(t, payout.Project(nil))
	assert.Empty(t, payout.ProjectVersion("v1", []payout.Line{}))
}

func TestProject_ShuffleIdempotent(t *testing.T) {
	// GIVEN: A random multiset of lines
	rng := rand.New(rand.NewSource(42))
	var lines []payout.Line
	for i := 0; i < 300; i++ {
		lines = append(lines, line(
			fmt.Sprintf("worker-%d", rng.Intn(7)),
			fmt.Sprint(i),
			rng.Intn(2) == 0,
			fmt.Sprintf("%d.%02d", rng.Intn(20000), rng.Intn(100)),
			fmt.Sprint(rng.Intn(3000)),
			fmt.Sprint(rng.Intn(2)*1000),
		))
	}
	want := payout.ProjectVersion("v", lines)

	// WHEN: Projecting permutations
	for i := 0; i < 20; i++ {
		shuffled := append([]payout.Line(nil), lines...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		// THEN: Output is identical, down to the decimal string form
		got := payout.ProjectVersion("v", shuffled)
		require.Equal(t, len(want), len(got))
		for j := range want {
			assert.True(t, want[j].Equal(got[j]))
			assert.Equal(t, want[j].TotalAmount.String(), got[j].TotalAmount.String())
		}
	}
}

func TestDrifted(t *testing.T) {
	lines := []payout.Line{
		line("A", "1", false, "100", "0", "0"),
		line("B", "2", true, "50", "0", "0"),
	}
	projected := payout.ProjectVersion("v", lines)

	assert.Empty(t, payout.Drifted(projected, projected))

	stale := append([]payout.WorkerTotal(nil), projected...)
	stale[0].TotalAmount = dec("99")
	stale = append(stale, payout.WorkerTotal{Worker: "C"})
	assert.Equal(t, []string{"A", "C"}, payout.Drifted(stale, projected))

	assert.Equal(t, []string{"B"}, payout.Drifted(projected[:1], projected))
}
