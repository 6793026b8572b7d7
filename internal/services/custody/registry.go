// Package custody provides an in-process asset registry: ownership records and
// per-asset or per-owner transfer approvals, in the manner of an ERC-721 contract.
package custody

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/pandamarket/internal/domain"
	"github.com/vadiminshakov/pandamarket/internal/storage/simstate"
	"go.uber.org/zap"
)

var (
	ErrUnknownAsset      = errors.New("unknown asset")
	ErrAssetExists       = errors.New("asset already registered")
	ErrTransferForbidden = errors.New("transfer is not authorized")
	ErrZeroAddress       = errors.New("zero address")
)

type record struct {
	owner    common.Address
	approved common.Address
}

// Registry tracks ownership and approvals of assets.
type Registry struct {
	mu        sync.RWMutex
	assets    map[domain.AssetKey]record
	operators map[common.Address]map[common.Address]bool
	logger    *zap.Logger
	store     *simstate.Store
}

// NewRegistry creates a registry. If store is not nil the registry state is
// restored from it and saved after every mutation.
func NewRegistry(store *simstate.Store, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		assets:    make(map[domain.AssetKey]record),
		operators: make(map[common.Address]map[common.Address]bool),
		logger:    logger,
		store:     store,
	}
	if err := r.restore(); err != nil {
		return nil, errors.Wrap(err, "restore custody registry")
	}

	logger.Info("custody registry init", zap.Int("assets", len(r.assets)), zap.String("state", store.Path()))
	return r, nil
}

// Register records a new asset owned by owner.
func (r *Registry) Register(key domain.AssetKey, owner common.Address) error {
	if owner == (common.Address{}) {
		return ErrZeroAddress
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.assets[key]; ok {
		return errors.Wrap(ErrAssetExists, key.String())
	}
	r.assets[key] = record{owner: owner}

	return r.persist()
}

// Approve allows operator to transfer one asset. Only the owner may approve;
// approving the zero address revokes.
func (r *Registry) Approve(key domain.AssetKey, owner, operator common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.assets[key]
	if !ok {
		return errors.Wrap(ErrUnknownAsset, key.String())
	}
	if rec.owner != owner {
		return domain.ErrNotOwner
	}
	rec.approved = operator
	r.assets[key] = rec

	return r.persist()
}

// SetApprovalForAll allows or revokes operator for every asset of owner.
func (r *Registry) SetApprovalForAll(owner, operator common.Address, approved bool) error {
	if operator == (common.Address{}) {
		return ErrZeroAddress
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ops := r.operators[owner]
	if approved {
		if ops == nil {
			ops = make(map[common.Address]bool)
			r.operators[owner] = ops
		}
		ops[operator] = true
	} else if ops != nil {
		delete(ops, operator)
		if len(ops) == 0 {
			delete(r.operators, owner)
		}
	}

	return r.persist()
}

// OwnerOf returns the owner of the asset.
func (r *Registry) OwnerOf(_ context.Context, key domain.AssetKey) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.assets[key]
	if !ok {
		return common.Address{}, errors.Wrap(ErrUnknownAsset, key.String())
	}
	return rec.owner, nil
}

// IsApprovedForTransfer reports whether operator may move the asset on behalf of its owner.
func (r *Registry) IsApprovedForTransfer(_ context.Context, key domain.AssetKey, operator common.Address) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.assets[key]
	if !ok {
		return false, errors.Wrap(ErrUnknownAsset, key.String())
	}
	return r.approvedLocked(rec, operator), nil
}

func (r *Registry) approvedLocked(rec record, operator common.Address) bool {
	if operator == (common.Address{}) {
		return false
	}
	return rec.approved == operator || r.operators[rec.owner][operator]
}

// Transfer moves the asset from one owner to another. The per-asset approval is
// cleared, as an ERC-721 transfer does.
func (r *Registry) Transfer(_ context.Context, key domain.AssetKey, from, to common.Address) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.assets[key]
	if !ok {
		return errors.Wrap(ErrUnknownAsset, key.String())
	}
	if rec.owner != from {
		return errors.Wrapf(ErrTransferForbidden, "%s is not owned by %s", key, from.Hex())
	}

	prev := rec
	r.assets[key] = record{owner: to}
	if err := r.persist(); err != nil {
		r.assets[key] = prev
		return err
	}

	r.logger.Debug("asset transferred",
		zap.String("asset", key.String()),
		zap.String("from", from.Hex()),
		zap.String("to", to.Hex()))
	return nil
}

// Assets returns all registered assets of owner, sorted.
func (r *Registry) Assets(owner common.Address) []domain.AssetKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.AssetKey
	for key, rec := range r.assets {
		if rec.owner == owner {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

type storedAsset struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
	Owner      string `json:"owner"`
	Approved   string `json:"approved,omitempty"`
}

type registryState struct {
	Assets    []storedAsset       `json:"assets"`
	Operators map[string][]string `json:"operators,omitempty"`
}

// persist saves the state. Caller holds mu.
func (r *Registry) persist() error {
	if r.store == nil {
		return nil
	}

	state := registryState{
		Assets:    make([]storedAsset, 0, len(r.assets)),
		Operators: make(map[string][]string, len(r.operators)),
	}
	for key, rec := range r.assets {
		sa := storedAsset{
			Collection: key.Collection.Hex(),
			TokenID:    key.TokenID.Dec(),
			Owner:      rec.owner.Hex(),
		}
		if rec.approved != (common.Address{}) {
			sa.Approved = rec.approved.Hex()
		}
		state.Assets = append(state.Assets, sa)
	}
	sort.Slice(state.Assets, func(i, j int) bool {
		if state.Assets[i].Collection != state.Assets[j].Collection {
			return state.Assets[i].Collection < state.Assets[j].Collection
		}
		return state.Assets[i].TokenID < state.Assets[j].TokenID
	})
	for owner, ops := range r.operators {
		for op := range ops {
			state.Operators[owner.Hex()] = append(state.Operators[owner.Hex()], op.Hex())
		}
		sort.Strings(state.Operators[owner.Hex()])
	}

	return errors.Wrap(r.store.Save(state), "save custody registry")
}

func (r *Registry) restore() error {
	var state registryState
	ok, err := r.store.Load(&state)
	if err != nil || !ok {
		return err
	}

	for _, sa := range state.Assets {
		key, err := domain.ParseAssetKey(sa.Collection, sa.TokenID)
		if err != nil {
			return err
		}
		if !common.IsHexAddress(sa.Owner) {
			return errors.Errorf("invalid owner %q of %s", sa.Owner, key)
		}
		rec := record{owner: common.HexToAddress(sa.Owner)}
		if sa.Approved != "" {
			if !common.IsHexAddress(sa.Approved) {
				return errors.Errorf("invalid approved operator %q of %s", sa.Approved, key)
			}
			rec.approved = common.HexToAddress(sa.Approved)
		}
		r.assets[key] = rec
	}
	for owner, ops := range state.Operators {
		if !common.IsHexAddress(owner) {
			return errors.Errorf("invalid owner %q in operator approvals", owner)
		}
		set := make(map[common.Address]bool, len(ops))
		for _, op := range ops {
			if !common.IsHexAddress(op) {
				return errors.Errorf("invalid operator %q of %s", op, owner)
			}
			set[common.HexToAddress(op)] = true
		}
		r.operators[common.HexToAddress(owner)] = set
	}
	return nil
}
