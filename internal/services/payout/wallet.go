// Package payout implements a simulated payment rail: withdrawn amounts are
// credited to per-account wallets kept in a JSON state file.
package payout

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/pandamarket/internal/domain"
	"github.com/vadiminshakov/pandamarket/internal/storage/simstate"
	"github.com/vadiminshakov/pandamarket/pkg/retrier"
	"go.uber.org/zap"
)

// Wallet simulated payment rail.
type Wallet struct {
	mu       sync.RWMutex
	balances map[common.Address]*uint256.Int
	store    *simstate.Store
	retrier  *retrier.Retrier
	logger   *zap.Logger
}

// NewWallet creates a wallet. Saving the state is retried with backoff before a
// payment is reported as failed.
func NewWallet(store *simstate.Store, logger *zap.Logger, opts ...retrier.Option) (*Wallet, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = append([]retrier.Option{
		retrier.WithInitialInterval(50 * time.Millisecond),
		retrier.WithMaxInterval(time.Second),
		retrier.WithMaxRetries(3),
		retrier.WithRetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
	}, opts...)

	w := &Wallet{
		balances: make(map[common.Address]*uint256.Int),
		store:    store,
		retrier:  retrier.New(opts...),
		logger:   logger,
	}
	if err := w.restore(); err != nil {
		return nil, errors.Wrap(err, "restore payout wallet")
	}
	return w, nil
}

// Pay credits amount to the wallet of to.
func (w *Wallet) Pay(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return errors.New("payout to zero address")
	}
	if amount == nil || amount.IsZero() {
		return errors.New("payout amount must be positive")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	prev := w.balanceLocked(to)
	next, overflow := new(uint256.Int).AddOverflow(prev, amount)
	if overflow {
		return errors.Wrapf(domain.ErrOverflow, "payout %s to %s", amount.Dec(), to.Hex())
	}
	w.balances[to] = next

	state := w.stateLocked()
	if err := w.retrier.Do(ctx, func(context.Context) error {
		return w.store.Save(state)
	}); err != nil {
		w.balances[to] = prev
		return errors.Wrap(err, "save payout wallet")
	}

	w.logger.Info("payout sent", zap.String("to", to.Hex()), zap.String("amount", amount.Dec()))
	return nil
}

// Balance returns everything paid out to account so far.
func (w *Wallet) Balance(account common.Address) *uint256.Int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.balanceLocked(account)
}

func (w *Wallet) balanceLocked(account common.Address) *uint256.Int {
	if b, ok := w.balances[account]; ok {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int)
}

func (w *Wallet) stateLocked() map[string]string {
	state := make(map[string]string, len(w.balances))
	for account, b := range w.balances {
		state[account.Hex()] = b.Dec()
	}
	return state
}

func (w *Wallet) restore() error {
	var state map[string]string
	ok, err := w.store.Load(&state)
	if err != nil || !ok {
		return err
	}
	for account, v := range state {
		if !common.IsHexAddress(account) {
			return errors.Errorf("invalid account %q", account)
		}
		amount, err := domain.ParseAmount(v)
		if err != nil {
			return err
		}
		w.balances[common.HexToAddress(account)] = amount
	}
	return nil
}
