package domain

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeeRate_Fee(t *testing.T) {
	tests := []struct {
		name  string
		bps   uint64
		price uint64
		want  uint64
	}{
		{name: "2.5% of 400", bps: 250, price: 400, want: 10},
		{name: "truncates", bps: 250, price: 39, want: 0},
		{name: "zero rate", bps: 0, price: 1000, want: 0},
		{name: "full rate", bps: MaxFeeBps, price: 1000, want: 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate, err := NewFeeRate(tt.bps)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rate.Fee(uint256.NewInt(tt.price)).Uint64())
		})
	}
}

func TestFeeRate_FeeOnMaxPrice(t *testing.T) {
	var price uint256.Int
	price.SetAllOne()

	fee := FeeRate(MaxFeeBps).Fee(&price)
	assert.True(t, fee.Eq(&price))
}

func TestNewFeeRate_OutOfRange(t *testing.T) {
	_, err := NewFeeRate(MaxFeeBps + 1)
	assert.ErrorIs(t, err, ErrInvalidFeeRate)
}

func TestFeeRateFromPercent(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{in: "2.5", want: 250},
		{in: " 2.5% ", want: 250},
		{in: "100", want: MaxFeeBps},
		{in: "0", want: 0},
		{in: "0.005", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "100.01", wantErr: true},
		{in: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			rate, err := FeeRateFromPercent(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, rate.Bps())
			assert.Equal(t, tt.in != "0", rate.Percent().IsPositive())
		})
	}
}

func TestSplitSale(t *testing.T) {
	split, err := SplitSale(uint256.NewInt(400), uint256.NewInt(40), 250)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), split.Price.Uint64())
	assert.Equal(t, uint64(40), split.Royalty.Uint64())
	assert.Equal(t, uint64(10), split.PlatformFee.Uint64())
	assert.Equal(t, uint64(350), split.SellerShare.Uint64())

	split, err = SplitSale(uint256.NewInt(400), nil, 250)
	require.NoError(t, err)
	assert.Equal(t, uint64(390), split.SellerShare.Uint64())

	split, err = SplitSale(uint256.NewInt(400), uint256.NewInt(390), 250)
	require.NoError(t, err)
	assert.True(t, split.SellerShare.IsZero())

	_, err = SplitSale(uint256.NewInt(400), uint256.NewInt(391), 250)
	assert.ErrorIs(t, err, ErrFeeExceedsPrice)

	var huge uint256.Int
	huge.SetAllOne()
	_, err = SplitSale(uint256.NewInt(400), &huge, 250)
	assert.ErrorIs(t, err, ErrFeeExceedsPrice)
}

func TestParseAmountAndFormatUnits(t *testing.T) {
	amount, err := ParseAmount(" 1500000000000000000 ")
	require.NoError(t, err)
	assert.Equal(t, "1.5", FormatUnits(amount, 18))
	assert.Equal(t, "1500000000000000000", FormatUnits(amount, 0))
	assert.Equal(t, "0", FormatUnits(nil, 18))

	_, err = ParseAmount("-1")
	assert.Error(t, err)
	_, err = ParseAmount("1.5")
	assert.Error(t, err)
}
