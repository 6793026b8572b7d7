package journal

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/pandamarket/internal/domain"
	"github.com/vadiminshakov/pandamarket/internal/storage/ledger"
)

const (
	DefaultDir             = "./wal/market"
	DefaultSegmentLimit    = 1000
	DefaultMaxSegments     = 100
	eventKeyPrefix         = "market_event_"
	snapshotKey            = "market_snapshot"
	defaultSegmentFilePref = "market_"
)

// Config configures the WAL backing the journal.
type Config struct {
	Dir              string
	SegmentThreshold int
	MaxSegments      int
}

// StoredListing serializable active listing.
type StoredListing struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
	Seller     string `json:"seller"`
	Price      string `json:"price"`
}

// Snapshot full marketplace state as of Sequence.
// The WAL rotates old segments away, so replay starts from the latest snapshot.
type Snapshot struct {
	Sequence uint64          `json:"seq"`
	Listings []StoredListing `json:"listings"`
	Ledger   ledger.Snapshot `json:"ledger"`
}

// NewStoredListings converts active listings into their stored representation.
func NewStoredListings(active []domain.ActiveListing) []StoredListing {
	out := make([]StoredListing, 0, len(active))
	for _, a := range active {
		out = append(out, StoredListing{
			Collection: a.Key.Collection.Hex(),
			TokenID:    a.Key.TokenID.Dec(),
			Seller:     a.Listing.Seller.Hex(),
			Price:      a.Listing.Price.Dec(),
		})
	}
	return out
}

// ToActiveListings reconstructs listings from stored data.
func (s *Snapshot) ToActiveListings() ([]domain.ActiveListing, error) {
	out := make([]domain.ActiveListing, 0, len(s.Listings))
	for _, sl := range s.Listings {
		key, err := domain.ParseAssetKey(sl.Collection, sl.TokenID)
		if err != nil {
			return nil, errors.Wrap(err, "decode listing key")
		}
		if !common.IsHexAddress(sl.Seller) {
			return nil, errors.Errorf("invalid seller %q of %s", sl.Seller, key)
		}
		price, err := domain.ParseAmount(sl.Price)
		if err != nil {
			return nil, errors.Wrapf(err, "decode listing price of %s", key)
		}
		out = append(out, domain.ActiveListing{
			Key:     key,
			Listing: domain.NewListing(common.HexToAddress(sl.Seller), price),
		})
	}
	return out, nil
}

// WALStore persists committed marketplace events and periodic snapshots in a WAL.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes a WAL-backed journal under the configured directory.
func NewWALStore(cfg Config) (*WALStore, error) {
	if cfg.Dir == "" {
		cfg.Dir = DefaultDir
	}
	if cfg.SegmentThreshold <= 0 {
		cfg.SegmentThreshold = DefaultSegmentLimit
	}
	if cfg.MaxSegments <= 0 {
		cfg.MaxSegments = DefaultMaxSegments
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              cfg.Dir,
		Prefix:           defaultSegmentFilePref,
		SegmentThreshold: cfg.SegmentThreshold,
		MaxSegments:      cfg.MaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init market journal WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Append writes the event and returns it with Sequence set to its WAL index.
func (s *WALStore) Append(event domain.Event) (domain.Event, error) {
	if s == nil || s.wal == nil {
		return event, errors.New("market journal is not initialized")
	}
	if !event.Type.IsValid() {
		return event, errors.Errorf("unknown event type %q", event.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	event.Sequence = s.wal.CurrentIndex() + 1
	payload, err := json.Marshal(event)
	if err != nil {
		return event, errors.Wrap(err, "marshal market event")
	}

	if err := s.wal.Write(event.Sequence, eventKeyPrefix+string(event.Type), payload); err != nil {
		return event, errors.Wrapf(err, "write market event #%d", event.Sequence)
	}
	return event, nil
}

// SaveSnapshot writes a full state snapshot.
func (s *WALStore) SaveSnapshot(snapshot Snapshot) error {
	if s == nil || s.wal == nil {
		return errors.New("market journal is not initialized")
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(err, "marshal market snapshot")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Write(s.wal.CurrentIndex()+1, snapshotKey, payload)
}

// Load returns the latest snapshot (nil if none) and all events written after it.
func (s *WALStore) Load() (*Snapshot, []domain.Event, error) {
	if s == nil || s.wal == nil {
		return nil, nil, errors.New("market journal is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		snapshot  *Snapshot
		events    []domain.Event
		decodeErr error
	)
	for msg := range s.wal.Iterator() {
		if decodeErr != nil {
			continue
		}
		switch {
		case msg.Key == snapshotKey:
			var snap Snapshot
			if err := json.Unmarshal(msg.Value, &snap); err != nil {
				decodeErr = errors.Wrap(err, "decode market snapshot")
				continue
			}
			snapshot = &snap
			events = events[:0]
		case strings.HasPrefix(msg.Key, eventKeyPrefix):
			var event domain.Event
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				decodeErr = errors.Wrap(err, "decode market event")
				continue
			}
			events = append(events, event)
		}
	}
	if decodeErr != nil {
		return nil, nil, decodeErr
	}

	return snapshot, events, nil
}

// EventsAfter returns all events with a sequence greater than seq that are still in the WAL.
func (s *WALStore) EventsAfter(seq uint64) ([]domain.Event, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("market journal is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.wal.CurrentIndex() <= seq {
		return nil, nil
	}

	var (
		events    []domain.Event
		decodeErr error
	)
	for msg := range s.wal.Iterator() {
		if decodeErr != nil || !strings.HasPrefix(msg.Key, eventKeyPrefix) {
			continue
		}
		var event domain.Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			decodeErr = errors.Wrap(err, "decode market event")
			continue
		}
		if event.Sequence > seq {
			events = append(events, event)
		}
	}
	if decodeErr != nil {
		return nil, decodeErr
	}

	return events, nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("market journal is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
