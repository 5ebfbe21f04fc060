package fee_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payout-engine/fee"
	"github.com/warp/payout-engine/payout"
)

func TestParsePercent(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"30,00 %", "30"},
		{"30.5%", "30.5"},
		{" 45 ", "45"},
		{"100", "100"},
		{"", "0"},
		{"   ", "0"},
		{"12 %", "12"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := fee.ParsePercent(tt.raw)
			require.NoError(t, err)
			assert.True(t, got.Equal(dec(tt.want)), "got %s", got)
		})
	}
}

func TestParsePercent_Malformed(t *testing.T) {
	got, err := fee.ParsePercent("30,00,00 %")

	assert.True(t, got.IsZero())
	assert.True(t, errors.Is(err, payout.ErrMalformedPercentage))

	var mpe *payout.MalformedPercentageError
	require.True(t, errors.As(err, &mpe))
	assert.Equal(t, "30,00,00 %", mpe.Raw)
}

func TestParsePercent_RejectsLooseForms(t *testing.T) {
	for _, raw := range []string{"3%0", "1e1 %", "1E2", "30 %%", "%", "3 0", "30,5,0"} {
		t.Run(raw, func(t *testing.T) {
			got, err := fee.ParsePercent(raw)
			assert.True(t, got.IsZero())
			assert.ErrorIs(t, err, payout.ErrMalformedPercentage)
		})
	}
}
