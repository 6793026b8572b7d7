package market

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/pandamarket/internal/domain"
	"github.com/vadiminshakov/pandamarket/internal/storage/ledger"
	"go.uber.org/zap"
)

// List offers an owned asset for sale. No funds move.
func (e *Engine) List(ctx context.Context, key domain.AssetKey, price *uint256.Int, caller common.Address) (domain.Event, error) {
	ctx, release, err := e.begin(ctx)
	if err != nil {
		return domain.Event{}, err
	}
	defer release()

	if price == nil || price.IsZero() {
		return domain.Event{}, domain.ErrPriceMustBeNonZero
	}

	owner, err := e.custody.OwnerOf(ctx, key)
	if err != nil {
		return domain.Event{}, errors.Wrapf(err, "get owner of %s", key)
	}
	if owner != caller {
		return domain.Event{}, domain.ErrNotOwner
	}

	if e.GetListed(key).Listed() {
		return domain.Event{}, domain.ErrAlreadyListed
	}

	approved, err := e.custody.IsApprovedForTransfer(ctx, key, e.cfg.Address)
	if err != nil {
		return domain.Event{}, errors.Wrapf(err, "check transfer approval of %s", key)
	}
	if !approved {
		return domain.Event{}, domain.ErrNotApproved
	}

	event := e.newEvent(domain.EventListed)
	event.Asset = key
	event.Seller = caller
	event.Price.Set(price)

	committed, err := e.commit(ctx, event, false)
	if err != nil {
		return committed, err
	}

	e.logger.Info("asset listed",
		zap.String("asset", key.String()),
		zap.String("seller", caller.Hex()),
		zap.String("price", price.Dec()))
	return committed, nil
}

// Buy purchases a listed asset. payment must cover the price; the excess is
// credited back to the buyer's proceeds. Royalty, platform fee and seller share
// are credited and the asset changes hands as one unit: if the custody transfer
// fails nothing is applied.
func (e *Engine) Buy(ctx context.Context, key domain.AssetKey, caller common.Address, payment *uint256.Int) (domain.Event, error) {
	ctx, release, err := e.begin(ctx)
	if err != nil {
		return domain.Event{}, err
	}
	defer release()

	if payment == nil {
		payment = new(uint256.Int)
	}

	listing := e.GetListed(key)
	if !listing.Listed() {
		return domain.Event{}, domain.ErrNotListed
	}
	price := listing.PriceValue()
	if payment.Lt(price) {
		return domain.Event{}, domain.ErrInsufficientPayment
	}

	receiver, royalty, err := e.royalty.RoyaltyInfo(ctx, key, price)
	if err != nil {
		return domain.Event{}, errors.Wrapf(err, "get royalty info of %s", key)
	}
	if royalty == nil {
		royalty = new(uint256.Int)
	}
	if receiver == (common.Address{}) && !royalty.IsZero() {
		e.logger.Warn("royalty without receiver, amount stays with the seller",
			zap.String("asset", key.String()),
			zap.String("royalty", royalty.Dec()))
		royalty = new(uint256.Int)
	}

	split, err := domain.SplitSale(price, royalty, e.cfg.FeeRate)
	if err != nil {
		return domain.Event{}, err
	}
	excess := new(uint256.Int).Sub(payment, price)

	event := e.newEvent(domain.EventBought)
	event.Asset = key
	event.Seller = listing.Seller
	event.Buyer = caller
	event.Price.Set(split.Price)
	event.RoyaltyReceiver = receiver
	event.Royalty.Set(split.Royalty)
	event.PlatformFee.Set(split.PlatformFee)
	event.SellerShare.Set(split.SellerShare)
	event.Excess.Set(excess)

	e.stateMu.RLock()
	err = e.ledger.CheckCredits(split.PlatformFee,
		ledger.Credit{Account: receiver, Amount: split.Royalty},
		ledger.Credit{Account: listing.Seller, Amount: split.SellerShare},
		ledger.Credit{Account: caller, Amount: excess},
	)
	e.stateMu.RUnlock()
	if err != nil {
		e.logger.Error("sale would overflow the ledger", zap.String("asset", key.String()), zap.Error(err))
		return domain.Event{}, err
	}

	if err := e.custody.Transfer(ctx, key, listing.Seller, caller); err != nil {
		return domain.Event{}, errors.Wrapf(err, "transfer %s to %s", key, caller.Hex())
	}

	committed, err := e.commit(ctx, event, true)
	if err != nil {
		return committed, err
	}

	e.logger.Info("asset bought",
		zap.String("asset", key.String()),
		zap.String("buyer", caller.Hex()),
		zap.String("seller", listing.Seller.Hex()),
		zap.String("price", split.Price.Dec()),
		zap.String("royalty", split.Royalty.Dec()),
		zap.String("platform_fee", split.PlatformFee.Dec()),
		zap.String("seller_share", split.SellerShare.Dec()),
		zap.String("excess", excess.Dec()))
	return committed, nil
}

// Cancel removes the caller's listing. No funds move.
func (e *Engine) Cancel(ctx context.Context, key domain.AssetKey, caller common.Address) (domain.Event, error) {
	ctx, release, err := e.begin(ctx)
	if err != nil {
		return domain.Event{}, err
	}
	defer release()

	listing := e.GetListed(key)
	if !listing.Listed() {
		return domain.Event{}, domain.ErrNotListed
	}
	if listing.Seller != caller {
		return domain.Event{}, domain.ErrNotOwner
	}

	event := e.newEvent(domain.EventCancelled)
	event.Asset = key

	committed, err := e.commit(ctx, event, false)
	if err != nil {
		return committed, err
	}

	e.logger.Info("listing cancelled", zap.String("asset", key.String()), zap.String("seller", caller.Hex()))
	return committed, nil
}

// Update changes the price of the caller's listing. It is announced as a listed event.
func (e *Engine) Update(ctx context.Context, key domain.AssetKey, newPrice *uint256.Int, caller common.Address) (domain.Event, error) {
	ctx, release, err := e.begin(ctx)
	if err != nil {
		return domain.Event{}, err
	}
	defer release()

	listing := e.GetListed(key)
	if !listing.Listed() {
		return domain.Event{}, domain.ErrNotListed
	}
	if listing.Seller != caller {
		return domain.Event{}, domain.ErrNotOwner
	}
	if newPrice == nil || newPrice.IsZero() {
		return domain.Event{}, domain.ErrPriceMustBeNonZero
	}

	event := e.newEvent(domain.EventListed)
	event.Asset = key
	event.Seller = listing.Seller
	event.Price.Set(newPrice)

	committed, err := e.commit(ctx, event, false)
	if err != nil {
		return committed, err
	}

	e.logger.Info("listing updated",
		zap.String("asset", key.String()),
		zap.String("old_price", listing.Price.Dec()),
		zap.String("price", newPrice.Dec()))
	return committed, nil
}

// WithdrawProceeds pays out the caller's whole balance and resets it to zero.
// If the payment fails the balance is kept.
func (e *Engine) WithdrawProceeds(ctx context.Context, caller common.Address) (domain.Event, error) {
	ctx, release, err := e.begin(ctx)
	if err != nil {
		return domain.Event{}, err
	}
	defer release()

	amount := e.GetProceeds(caller)
	if amount.IsZero() {
		return domain.Event{}, domain.ErrNothingToWithdraw
	}

	return e.withdraw(ctx, caller, amount, false)
}

// WithdrawTreasury pays out the accumulated platform fees to the operator.
func (e *Engine) WithdrawTreasury(ctx context.Context, caller common.Address) (domain.Event, error) {
	ctx, release, err := e.begin(ctx)
	if err != nil {
		return domain.Event{}, err
	}
	defer release()

	if caller != e.cfg.Operator {
		return domain.Event{}, domain.ErrNotOperator
	}
	amount := e.GetTreasuryBalance()
	if amount.IsZero() {
		return domain.Event{}, domain.ErrNothingToWithdraw
	}

	return e.withdraw(ctx, caller, amount, true)
}

func (e *Engine) withdraw(ctx context.Context, to common.Address, amount *uint256.Int, treasury bool) (domain.Event, error) {
	event := e.newEvent(domain.EventWithdrawn)
	event.Account = to
	event.Amount.Set(amount)
	event.Treasury = treasury

	if err := e.payer.Pay(ctx, to, amount); err != nil {
		return domain.Event{}, errors.Wrapf(err, "pay %s to %s", amount.Dec(), to.Hex())
	}

	committed, err := e.commit(ctx, event, true)
	if err != nil {
		return committed, err
	}

	e.logger.Info("withdrawn",
		zap.String("account", to.Hex()),
		zap.String("amount", amount.Dec()),
		zap.Bool("treasury", treasury))
	return committed, nil
}
