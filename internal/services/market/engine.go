// Package market implements the marketplace engine: listing lifecycle, sale fee
// distribution and proceeds bookkeeping.
package market

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/pandamarket/internal/domain"
	"github.com/vadiminshakov/pandamarket/internal/storage/journal"
	"github.com/vadiminshakov/pandamarket/internal/storage/ledger"
	"github.com/vadiminshakov/pandamarket/internal/storage/listings"
	"github.com/vadiminshakov/pandamarket/pkg/retrier"
	"go.uber.org/zap"
)

const (
	defaultSnapshotEvery = 500
	defaultLockTimeout   = 30 * time.Second
)

// Custody is the system of record for asset ownership and transfer approval.
type Custody interface {
	OwnerOf(ctx context.Context, key domain.AssetKey) (common.Address, error)
	IsApprovedForTransfer(ctx context.Context, key domain.AssetKey, operator common.Address) (bool, error)
	Transfer(ctx context.Context, key domain.AssetKey, from, to common.Address) error
}

// RoyaltyOracle returns the royalty receiver and owed amount for a sale.
type RoyaltyOracle interface {
	RoyaltyInfo(ctx context.Context, key domain.AssetKey, salePrice *uint256.Int) (common.Address, *uint256.Int, error)
}

// Payer is the payment rail used to pay out withdrawals.
type Payer interface {
	Pay(ctx context.Context, to common.Address, amount *uint256.Int) error
}

// Journal persists committed events.
type Journal interface {
	Append(event domain.Event) (domain.Event, error)
	SaveSnapshot(snapshot journal.Snapshot) error
	Load() (*journal.Snapshot, []domain.Event, error)
}

// Publisher receives every committed event.
type Publisher interface {
	Publish(event domain.Event)
}

// Config is fixed at construction.
type Config struct {
	// Operator account allowed to withdraw the treasury.
	Operator common.Address
	// Address the marketplace acts as when asking custody for transfer approval.
	Address common.Address
	// FeeRate platform fee rate.
	FeeRate domain.FeeRate
	// SnapshotEvery number of committed events between journal snapshots.
	SnapshotEvery int
}

// Option defines a function to configure the Engine.
type Option func(*Engine)

// WithJournal persists events to j and replays it on construction.
func WithJournal(j Journal) Option {
	return func(e *Engine) {
		if j != nil {
			e.journal = j
		}
	}
}

// WithPublisher fans committed events out to p.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// WithJournalRetry configures how a failed journal append is retried.
func WithJournalRetry(opts ...retrier.Option) Option {
	return func(e *Engine) {
		e.appendRetrier = retrier.New(opts...)
	}
}

// WithLockTimeout bounds how long a mutating operation waits for the one in flight.
func WithLockTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.lockTimeout = d
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine is the sole writer of the listing store, the ledger and the treasury.
//
// Mutating operations are serialized by the tx slot for their whole duration,
// external calls included. A waiting operation gives up after lockTimeout or when
// its context is done. stateMu guards the stores and is held only to read or to
// apply a committed event, so queries never observe a half-applied operation.
//
// If an event cannot be journaled after its external effect happened, the engine
// is faulted: the state in memory is ahead of the journal and every later
// mutation fails until the process is restarted by an operator.
type Engine struct {
	tx      chan struct{}
	stateMu sync.RWMutex

	cfg       Config
	listings  *listings.Store
	ledger    *ledger.Ledger
	custody   Custody
	royalty   RoyaltyOracle
	payer     Payer
	journal   Journal
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time

	appendRetrier *retrier.Retrier
	lockTimeout   time.Duration

	// guarded by tx
	sinceSnapshot int
	faulted       error
}

// NewEngine creates an engine and rebuilds its state from the journal, if one is configured.
func NewEngine(cfg Config, custody Custody, royalty RoyaltyOracle, payer Payer, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if custody == nil {
		return nil, errors.New("custody service is required")
	}
	if royalty == nil {
		return nil, errors.New("royalty oracle is required")
	}
	if payer == nil {
		return nil, errors.New("payer is required")
	}
	if cfg.FeeRate.Bps() > domain.MaxFeeBps {
		return nil, errors.Wrapf(domain.ErrInvalidFeeRate, "got %d", cfg.FeeRate.Bps())
	}
	if cfg.SnapshotEvery <= 0 {
		cfg.SnapshotEvery = defaultSnapshotEvery
	}

	e := &Engine{
		cfg:      cfg,
		listings: listings.NewStore(),
		ledger:   ledger.New(),
		custody:  custody,
		royalty:  royalty,
		payer:    payer,
		journal:  &memoryJournal{},
		logger:   logger,
		now:      time.Now,
		tx:       make(chan struct{}, 1),
		appendRetrier: retrier.New(
			retrier.WithInitialInterval(50*time.Millisecond),
			retrier.WithMaxInterval(time.Second),
			retrier.WithMaxRetries(3),
		),
		lockTimeout: defaultLockTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.replay(); err != nil {
		return nil, errors.Wrap(err, "replay market journal")
	}

	logger.Info("marketplace init",
		zap.String("operator", cfg.Operator.Hex()),
		zap.String("address", cfg.Address.Hex()),
		zap.Uint64("fee_bps", cfg.FeeRate.Bps()),
		zap.Int("listings", e.listings.Len()),
		zap.String("treasury", e.ledger.Treasury().Dec()))

	return e, nil
}

func (e *Engine) replay() error {
	snapshot, events, err := e.journal.Load()
	if err != nil {
		return err
	}

	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if snapshot != nil {
		active, err := snapshot.ToActiveListings()
		if err != nil {
			return err
		}
		if err := e.ledger.Restore(snapshot.Ledger); err != nil {
			return err
		}
		e.listings.Reset(active)
	}

	for _, event := range events {
		if err := e.apply(event); err != nil {
			return errors.Wrapf(err, "apply event #%d", event.Sequence)
		}
	}
	e.sinceSnapshot = len(events)

	return nil
}

type txKey struct{}

// begin serializes a mutating operation and marks ctx so that collaborators
// calling back into the engine with it are rejected at once. A call with any
// other context waits for the slot at most lockTimeout.
func (e *Engine) begin(ctx context.Context) (context.Context, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if owner, ok := ctx.Value(txKey{}).(*Engine); ok && owner == e {
		return nil, nil, domain.ErrReentrantCall
	}

	timer := time.NewTimer(e.lockTimeout)
	defer timer.Stop()
	select {
	case e.tx <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-timer.C:
		return nil, nil, errors.Wrapf(domain.ErrBusy, "waited %s", e.lockTimeout)
	}
	release := func() { <-e.tx }

	if e.faulted != nil {
		release()
		return nil, nil, errors.Wrap(domain.ErrJournalFaulted, e.faulted.Error())
	}

	return context.WithValue(ctx, txKey{}, e), release, nil
}

func (e *Engine) newEvent(t domain.EventType) domain.Event {
	return domain.Event{
		Type: t,
		ID:   uuid.New().String(),
		Time: e.now().UTC(),
	}
}

// commit journals and applies a staged event. A failed append is retried. When the
// event follows a completed external effect, a journal failure does not stop the
// in-memory apply: the effect already happened and the ledger has to reflect it.
// The engine is faulted then, so nothing is journaled on top of the missing event.
func (e *Engine) commit(ctx context.Context, event domain.Event, externalDone bool) (domain.Event, error) {
	if externalDone {
		ctx = context.WithoutCancel(ctx)
	}

	var committed domain.Event
	journalErr := e.appendRetrier.Do(ctx, func(context.Context) error {
		var err error
		committed, err = e.journal.Append(event)
		if err != nil {
			e.logger.Warn("journal append failed", zap.String("event", event.String()), zap.Error(err))
		}
		return err
	})
	if journalErr != nil {
		if !externalDone {
			return event, errors.Wrap(journalErr, "journal event")
		}
		e.faulted = errors.Wrapf(journalErr, "journal %s", event.String())
		e.logger.Error("journal append failed after external effect, state applied in memory only, engine faulted",
			zap.String("event", event.String()),
			zap.Error(journalErr))
		committed = event
	}

	e.stateMu.Lock()
	err := e.apply(committed)
	e.stateMu.Unlock()
	if err != nil {
		e.logger.Error("failed to apply staged event", zap.String("event", committed.String()), zap.Error(err))
		return committed, err
	}

	if journalErr != nil {
		return committed, errors.Wrap(journalErr, "journal event")
	}

	e.sinceSnapshot++
	if e.sinceSnapshot >= e.cfg.SnapshotEvery {
		e.saveSnapshot(committed.Sequence)
	}
	if e.publisher != nil {
		e.publisher.Publish(committed)
	}

	return committed, nil
}

func (e *Engine) saveSnapshot(seq uint64) {
	e.stateMu.RLock()
	snapshot := journal.Snapshot{
		Sequence: seq,
		Listings: journal.NewStoredListings(e.listings.All()),
		Ledger:   e.ledger.Snapshot(),
	}
	e.stateMu.RUnlock()

	if err := e.journal.SaveSnapshot(snapshot); err != nil {
		e.logger.Warn("failed to save market snapshot", zap.Uint64("seq", seq), zap.Error(err))
		return
	}
	e.sinceSnapshot = 0
	e.logger.Debug("market snapshot saved", zap.Uint64("seq", seq))
}

// apply mutates the stores according to a committed event. Caller holds stateMu.
func (e *Engine) apply(event domain.Event) error {
	switch event.Type {
	case domain.EventListed:
		if event.Price.IsZero() {
			return domain.ErrPriceMustBeNonZero
		}
		e.listings.Put(event.Asset, event.Seller, &event.Price)
	case domain.EventCancelled:
		e.listings.Clear(event.Asset)
	case domain.EventBought:
		credits := []ledger.Credit{
			{Account: event.RoyaltyReceiver, Amount: &event.Royalty},
			{Account: event.Seller, Amount: &event.SellerShare},
			{Account: event.Buyer, Amount: &event.Excess},
		}
		if err := e.ledger.CheckCredits(&event.PlatformFee, credits...); err != nil {
			return err
		}
		for _, c := range credits {
			if err := e.ledger.Credit(c.Account, c.Amount); err != nil {
				return err
			}
		}
		if err := e.ledger.TreasuryCredit(&event.PlatformFee); err != nil {
			return err
		}
		e.listings.Clear(event.Asset)
	case domain.EventWithdrawn:
		current := e.ledger.Balance(event.Account)
		if event.Treasury {
			current = e.ledger.Treasury()
		}
		if !current.Eq(&event.Amount) {
			return errors.Errorf("withdrawal of %s does not match balance %s of %s", event.Amount.Dec(), current.Dec(), event.Account.Hex())
		}
		var err error
		if event.Treasury {
			_, err = e.ledger.TreasuryWithdraw()
		} else {
			_, err = e.ledger.Withdraw(event.Account)
		}
		return err
	default:
		return errors.Errorf("unknown event type %q", event.Type)
	}
	return nil
}

// memoryJournal keeps nothing; it only numbers events.
type memoryJournal struct {
	seq uint64
}

func (j *memoryJournal) Append(event domain.Event) (domain.Event, error) {
	j.seq++
	event.Sequence = j.seq
	return event, nil
}

func (j *memoryJournal) SaveSnapshot(journal.Snapshot) error {
	j.seq++
	return nil
}

func (j *memoryJournal) Load() (*journal.Snapshot, []domain.Event, error) {
	return nil, nil, nil
}
