// Package royalty provides a royalty oracle configured per collection, with
// optional per-token overrides, computing the creator cut the way ERC-2981 does.
package royalty

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/pandamarket/internal/domain"
)

// Terms royalty receiver and rate.
type Terms struct {
	Receiver common.Address
	Rate     domain.FeeRate
}

// Oracle answers royalty lookups. Assets of unknown collections owe nothing.
type Oracle struct {
	mu          sync.RWMutex
	collections map[common.Address]Terms
	tokens      map[domain.AssetKey]Terms
}

// NewOracle creates an oracle with the given per-collection terms.
func NewOracle(collections map[common.Address]Terms) (*Oracle, error) {
	o := &Oracle{
		collections: make(map[common.Address]Terms, len(collections)),
		tokens:      make(map[domain.AssetKey]Terms),
	}
	for collection, terms := range collections {
		if err := o.SetCollection(collection, terms); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// SetCollection sets default terms of a collection.
func (o *Oracle) SetCollection(collection common.Address, terms Terms) error {
	if err := validate(terms); err != nil {
		return errors.Wrapf(err, "collection %s", collection.Hex())
	}

	o.mu.Lock()
	o.collections[collection] = terms
	o.mu.Unlock()
	return nil
}

// SetToken overrides terms of a single token.
func (o *Oracle) SetToken(key domain.AssetKey, terms Terms) error {
	if err := validate(terms); err != nil {
		return errors.Wrapf(err, "token %s", key)
	}

	o.mu.Lock()
	o.tokens[key] = terms
	o.mu.Unlock()
	return nil
}

func validate(terms Terms) error {
	if terms.Rate.Bps() > domain.MaxFeeBps {
		return domain.ErrInvalidFeeRate
	}
	if terms.Rate.Bps() > 0 && terms.Receiver == (common.Address{}) {
		return errors.New("royalty receiver is required for a non-zero rate")
	}
	return nil
}

// RoyaltyInfo returns the receiver and salePrice * rate / 10000.
func (o *Oracle) RoyaltyInfo(_ context.Context, key domain.AssetKey, salePrice *uint256.Int) (common.Address, *uint256.Int, error) {
	if salePrice == nil {
		salePrice = new(uint256.Int)
	}

	o.mu.RLock()
	terms, ok := o.tokens[key]
	if !ok {
		terms, ok = o.collections[key.Collection]
	}
	o.mu.RUnlock()

	if !ok {
		return common.Address{}, new(uint256.Int), nil
	}
	return terms.Receiver, terms.Rate.Fee(salePrice), nil
}
