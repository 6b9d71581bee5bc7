package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCalculateFreezing(t *testing.T) {
	tests := []struct {
		name          string
		amount        string
		marketRate    string
		markupPercent string
		feePercent    string
		wantAdjusted  string
		wantFrozen    string
		wantFee       string
		wantTotal     string
	}{
		{
			name:          "typical card payment",
			amount:        "5000",
			marketRate:    "95.50",
			markupPercent: "2",
			feePercent:    "1.5",
			wantAdjusted:  "93.59",
			wantFrozen:    "53.43",
			wantFee:       "0.80",
			wantTotal:     "54.23",
		},
		{
			name:          "no markup no fee",
			amount:        "1000",
			marketRate:    "100",
			markupPercent: "0",
			feePercent:    "0",
			wantAdjusted:  "100",
			wantFrozen:    "10",
			wantFee:       "0",
			wantTotal:     "10",
		},
		{
			name:          "frozen rounds up",
			amount:        "100",
			marketRate:    "3",
			markupPercent: "0",
			feePercent:    "0",
			wantAdjusted:  "3",
			wantFrozen:    "33.34",
			wantFee:       "0",
			wantTotal:     "33.34",
		},
		{
			name:          "commission rounds down",
			amount:        "100",
			marketRate:    "10",
			markupPercent: "0",
			feePercent:    "1.99",
			wantAdjusted:  "10",
			wantFrozen:    "10",
			wantFee:       "0.19",
			wantTotal:     "10.19",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateFreezing(d(tt.amount), d(tt.marketRate), d(tt.markupPercent), d(tt.feePercent))
			require.NoError(t, err)
			assert.True(t, d(tt.wantAdjusted).Equal(got.AdjustedRate), "adjusted rate: want %s, got %s", tt.wantAdjusted, got.AdjustedRate)
			assert.True(t, d(tt.wantFrozen).Equal(got.FrozenAmount), "frozen: want %s, got %s", tt.wantFrozen, got.FrozenAmount)
			assert.True(t, d(tt.wantFee).Equal(got.Commission), "commission: want %s, got %s", tt.wantFee, got.Commission)
			assert.True(t, d(tt.wantTotal).Equal(got.TotalRequired), "total: want %s, got %s", tt.wantTotal, got.TotalRequired)
		})
	}
}

func TestCalculateFreezingRejectsBadInputs(t *testing.T) {
	_, err := CalculateFreezing(d("0"), d("95.50"), d("2"), d("1.5"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = CalculateFreezing(d("-5"), d("95.50"), d("2"), d("1.5"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = CalculateFreezing(d("5000"), d("0"), d("2"), d("1.5"))
	assert.ErrorIs(t, err, ErrInvalidRate)

	// markup that wipes out the rate entirely
	_, err = CalculateFreezing(d("5000"), d("95.50"), d("100"), d("1.5"))
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestCalculateFreezingDeterministic(t *testing.T) {
	first, err := CalculateFreezing(d("5000"), d("95.50"), d("2"), d("1.5"))
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		again, err := CalculateFreezing(d("5000"), d("95.50"), d("2"), d("1.5"))
		require.NoError(t, err)
		assert.True(t, first.FrozenAmount.Equal(again.FrozenAmount))
		assert.True(t, first.Commission.Equal(again.Commission))
		assert.True(t, first.TotalRequired.Equal(again.TotalRequired))
	}
}
