package domain

import (
	"strings"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// MaxFeeBps is the denominator of basis-point rates.
const MaxFeeBps = 10000

var bpsDenominator = uint256.NewInt(MaxFeeBps)

// FeeRate immutable platform fee rate in basis points.
type FeeRate uint16

// NewFeeRate validates bps against the 0..10000 range.
func NewFeeRate(bps uint64) (FeeRate, error) {
	if bps > MaxFeeBps {
		return 0, errors.Wrapf(ErrInvalidFeeRate, "got %d", bps)
	}
	return FeeRate(bps), nil
}

// FeeRateFromPercent converts a percent value like "2.5" into basis points.
// Fractions of a basis point are rejected.
func FeeRateFromPercent(percent string) (FeeRate, error) {
	p, err := decimal.NewFromString(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(percent), "%")))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid fee percent %q", percent)
	}
	bps := p.Mul(decimal.NewFromInt(100))
	if !bps.IsInteger() || bps.IsNegative() {
		return 0, errors.Wrapf(ErrInvalidFeeRate, "fee percent %s is not a whole number of bps", p.String())
	}
	if bps.GreaterThan(decimal.NewFromInt(MaxFeeBps)) {
		return 0, errors.Wrapf(ErrInvalidFeeRate, "got %s%%", p.String())
	}
	return FeeRate(bps.IntPart()), nil
}

// Bps returns the rate in basis points.
func (r FeeRate) Bps() uint64 {
	return uint64(r)
}

// Percent returns the rate as a percent decimal.
func (r FeeRate) Percent() decimal.Decimal {
	return decimal.New(int64(r), -2)
}

// Fee computes price * bps / 10000, truncating.
func (r FeeRate) Fee(price *uint256.Int) *uint256.Int {
	// the result is bounded by price since bps <= 10000, so it never overflows.
	fee, _ := new(uint256.Int).MulDivOverflow(price, uint256.NewInt(uint64(r)), bpsDenominator)
	return fee
}

// SaleSplit distribution of a sale price.
type SaleSplit struct {
	Price       *uint256.Int
	Royalty     *uint256.Int
	PlatformFee *uint256.Int
	SellerShare *uint256.Int
}

// SplitSale computes seller share = price - royalty - fee.
// Truncation remainders of the fee stay with the seller.
func SplitSale(price, royalty *uint256.Int, rate FeeRate) (SaleSplit, error) {
	if royalty == nil {
		royalty = new(uint256.Int)
	}
	fee := rate.Fee(price)

	deductions, overflow := new(uint256.Int).AddOverflow(royalty, fee)
	if overflow {
		return SaleSplit{}, ErrFeeExceedsPrice
	}
	share, underflow := new(uint256.Int).SubOverflow(price, deductions)
	if underflow {
		return SaleSplit{}, errors.Wrapf(ErrFeeExceedsPrice, "price %s royalty %s fee %s", price.Dec(), royalty.Dec(), fee.Dec())
	}

	return SaleSplit{
		Price:       new(uint256.Int).Set(price),
		Royalty:     new(uint256.Int).Set(royalty),
		PlatformFee: fee,
		SellerShare: share,
	}, nil
}

// ParseAmount parses a decimal amount in the smallest currency unit.
func ParseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(strings.TrimSpace(s))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid amount %q", s)
	}
	return v, nil
}

// FormatUnits renders an amount with the given number of decimals, e.g. wei as ether with 18.
func FormatUnits(amount *uint256.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount.ToBig(), -decimals).String()
}
