package market

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/vadiminshakov/pandamarket/internal/domain"
	"github.com/vadiminshakov/pandamarket/internal/storage/journal"
)

type fakeCustody struct {
	owners      map[domain.AssetKey]common.Address
	approved    map[domain.AssetKey]bool
	transferErr error
	onTransfer  func(ctx context.Context)
	transfers   int
}

func newFakeCustody() *fakeCustody {
	return &fakeCustody{
		owners:   make(map[domain.AssetKey]common.Address),
		approved: make(map[domain.AssetKey]bool),
	}
}

func (c *fakeCustody) mint(key domain.AssetKey, owner common.Address) {
	c.owners[key] = owner
	c.approved[key] = true
}

func (c *fakeCustody) OwnerOf(_ context.Context, key domain.AssetKey) (common.Address, error) {
	owner, ok := c.owners[key]
	if !ok {
		return common.Address{}, errors.Errorf("unknown asset %s", key)
	}
	return owner, nil
}

func (c *fakeCustody) IsApprovedForTransfer(_ context.Context, key domain.AssetKey, _ common.Address) (bool, error) {
	return c.approved[key], nil
}

func (c *fakeCustody) Transfer(ctx context.Context, key domain.AssetKey, from, to common.Address) error {
	if c.onTransfer != nil {
		c.onTransfer(ctx)
	}
	if c.transferErr != nil {
		return c.transferErr
	}
	if c.owners[key] != from {
		return errors.Errorf("%s is not owned by %s", key, from.Hex())
	}
	c.owners[key] = to
	c.approved[key] = false
	c.transfers++
	return nil
}

type fakeRoyalty struct {
	receiver common.Address
	amount   *uint256.Int
	err      error
}

func (r *fakeRoyalty) RoyaltyInfo(context.Context, domain.AssetKey, *uint256.Int) (common.Address, *uint256.Int, error) {
	if r.err != nil {
		return common.Address{}, nil, r.err
	}
	if r.amount == nil {
		return r.receiver, new(uint256.Int), nil
	}
	return r.receiver, new(uint256.Int).Set(r.amount), nil
}

type payerMock struct {
	mock.Mock
}

func (m *payerMock) Pay(ctx context.Context, to common.Address, amount *uint256.Int) error {
	args := m.Called(ctx, to, amount)
	return args.Error(0)
}

func amountEq(v uint64) interface{} {
	return mock.MatchedBy(func(a *uint256.Int) bool {
		return a.Eq(uint256.NewInt(v))
	})
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(event domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// flakyJournal accepts appends until failAt is reached. failures limits how many
// appends fail from then on; zero fails all of them.
type flakyJournal struct {
	seq      uint64
	appended []domain.Event
	failAt   int
	failures int
	failed   int
}

func (j *flakyJournal) Append(event domain.Event) (domain.Event, error) {
	if j.failAt > 0 && len(j.appended)+1 >= j.failAt && (j.failures == 0 || j.failed < j.failures) {
		j.failed++
		return event, errors.New("disk full")
	}
	j.seq++
	event.Sequence = j.seq
	j.appended = append(j.appended, event)
	return event, nil
}

func (j *flakyJournal) SaveSnapshot(journal.Snapshot) error {
	return nil
}

func (j *flakyJournal) Load() (*journal.Snapshot, []domain.Event, error) {
	return nil, append([]domain.Event(nil), j.appended...), nil
}
