package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Listing open offer to sell an asset at a fixed price.
// The zero value is the "not listed" sentinel: a listing exists exactly when Price != 0.
type Listing struct {
	// Seller account that listed the asset.
	Seller common.Address
	// Price asking price in the smallest currency unit.
	Price uint256.Int
}

// NewListing creates a listing for seller at price.
func NewListing(seller common.Address, price *uint256.Int) Listing {
	l := Listing{Seller: seller}
	if price != nil {
		l.Price.Set(price)
	}
	return l
}

// Listed reports whether the listing is active.
func (l Listing) Listed() bool {
	return !l.Price.IsZero()
}

// PriceValue returns a copy of the price.
func (l Listing) PriceValue() *uint256.Int {
	return new(uint256.Int).Set(&l.Price)
}

// String returns a human-readable string representation.
func (l Listing) String() string {
	if !l.Listed() {
		return "not listed"
	}
	return fmt.Sprintf("seller: %s price: %s", l.Seller.Hex(), l.Price.Dec())
}

// ActiveListing bundles a listing with its key.
type ActiveListing struct {
	Key     AssetKey
	Listing Listing
}
