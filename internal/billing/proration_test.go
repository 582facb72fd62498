package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProrateValues(t *testing.T) {
	cases := []struct {
		name        string
		cadenceDays int
		priceCents  int64
		want        int64
	}{
		{"biweekly", 14, 2000, 4286},
		{"monthly", 30, 2000, 2000},
		{"quarterly", 90, 2000, 667},
		{"weekly", 7, 700, 3000},
		{"every 45 days", 45, 3000, 2000},
		{"zero price", 14, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Prorate(tc.cadenceDays, tc.priceCents)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestProrateMonotonicity(t *testing.T) {
	// For fixed price, shorter cadences cost more per cycle.
	biweekly, err := Prorate(14, 2000)
	require.NoError(t, err)
	monthly, err := Prorate(30, 2000)
	require.NoError(t, err)
	quarterly, err := Prorate(90, 2000)
	require.NoError(t, err)
	assert.Greater(t, biweekly, monthly)
	assert.Greater(t, monthly, quarterly)

	// For fixed cadence, higher prices cost more.
	cheap, err := Prorate(14, 1000)
	require.NoError(t, err)
	expensive, err := Prorate(14, 2000)
	require.NoError(t, err)
	assert.Greater(t, expensive, cheap)
}

func TestProrateRejectsBadInput(t *testing.T) {
	_, err := Prorate(0, 1000)
	require.Error(t, err)
	_, err = Prorate(-5, 1000)
	require.Error(t, err)
	_, err = Prorate(14, -1)
	require.Error(t, err)
}

func TestChargeDescriptionRegimes(t *testing.T) {
	cases := []struct {
		cadenceDays int
		want        string
	}{
		{30, "Monthly delivery"},
		{15, "2x per month"},
		{10, "3x per month"},
		{14, "~2.14x per month"},
		{7, "~4.29x per month"},
		{90, "partial monthly charge (~0.33x per month)"},
		{45, "partial monthly charge (~0.67x per month)"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ChargeDescription(tc.cadenceDays), "cadence %d", tc.cadenceDays)
	}
}

func TestChargeDescriptionIgnoresPrice(t *testing.T) {
	// Price never changes the wording for the monthly regime.
	for _, price := range []int64{1, 2000, 999999} {
		amount, err := Prorate(30, price)
		require.NoError(t, err)
		assert.Equal(t, price, amount)
		assert.Equal(t, "Monthly delivery", ChargeDescription(30))
	}
}
