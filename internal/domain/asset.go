// Package domain defines core data structures used throughout the marketplace ledger.
package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// AssetKey identifies a non-fungible asset: collection contract plus token id.
// It is comparable and can be used as a map key.
type AssetKey struct {
	// Collection collection contract address.
	Collection common.Address
	// TokenID item identifier inside the collection.
	TokenID uint256.Int
}

// NewAssetKey creates a key for the given collection and token id.
func NewAssetKey(collection common.Address, tokenID *uint256.Int) AssetKey {
	key := AssetKey{Collection: collection}
	if tokenID != nil {
		key.TokenID.Set(tokenID)
	}
	return key
}

// ParseAssetKey builds a key from a hex collection address and a decimal token id.
func ParseAssetKey(collection, tokenID string) (AssetKey, error) {
	if !common.IsHexAddress(collection) {
		return AssetKey{}, errors.Errorf("invalid collection address %q", collection)
	}
	id, err := uint256.FromDecimal(strings.TrimSpace(tokenID))
	if err != nil {
		return AssetKey{}, errors.Wrapf(err, "invalid token id %q", tokenID)
	}
	return NewAssetKey(common.HexToAddress(collection), id), nil
}

// ID returns a copy of the token id.
func (k AssetKey) ID() *uint256.Int {
	return new(uint256.Int).Set(&k.TokenID)
}

// Less orders keys by collection, then token id.
func (k AssetKey) Less(other AssetKey) bool {
	if c := k.Collection.Cmp(other.Collection); c != 0 {
		return c < 0
	}
	return k.TokenID.Lt(&other.TokenID)
}

// String returns the string representation.
func (k AssetKey) String() string {
	return fmt.Sprintf("%s/%s", k.Collection.Hex(), k.TokenID.Dec())
}
