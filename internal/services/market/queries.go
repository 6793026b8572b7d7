package market

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/pandamarket/internal/domain"
)

// GetListed returns the listing for key; the zero value means not listed.
func (e *Engine) GetListed(key domain.AssetKey) domain.Listing {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.listings.Get(key)
}

// Listings returns all active listings ordered by key.
func (e *Engine) Listings() []domain.ActiveListing {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.listings.All()
}

// GetProceeds returns the withdrawable balance of account.
func (e *Engine) GetProceeds(account common.Address) *uint256.Int {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.ledger.Balance(account)
}

// GetTreasuryBalance returns the accumulated platform fees.
func (e *Engine) GetTreasuryBalance() *uint256.Int {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.ledger.Treasury()
}

// GetMarketFee previews the platform fee for a sale at price.
func (e *Engine) GetMarketFee(price *uint256.Int) *uint256.Int {
	if price == nil {
		return new(uint256.Int)
	}
	return e.cfg.FeeRate.Fee(price)
}

// GetRoyaltyData previews the royalty receiver and amount for a sale at price.
func (e *Engine) GetRoyaltyData(ctx context.Context, key domain.AssetKey, price *uint256.Int) (common.Address, *uint256.Int, error) {
	if price == nil {
		price = new(uint256.Int)
	}
	receiver, amount, err := e.royalty.RoyaltyInfo(ctx, key, price)
	if err != nil {
		return common.Address{}, nil, errors.Wrapf(err, "get royalty info of %s", key)
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	return receiver, amount, nil
}

// Operator returns the account allowed to withdraw the treasury.
func (e *Engine) Operator() common.Address {
	return e.cfg.Operator
}

// Address returns the account the marketplace transfers assets as.
func (e *Engine) Address() common.Address {
	return e.cfg.Address
}

// FeeRate returns the platform fee rate.
func (e *Engine) FeeRate() domain.FeeRate {
	return e.cfg.FeeRate
}
