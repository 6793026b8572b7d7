package listings

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/vadiminshakov/pandamarket/internal/domain"
)

// Store keyed mapping from asset to its active listing.
// It does no validation and is not safe for concurrent use; the engine serializes access.
type Store struct {
	listings map[domain.AssetKey]domain.Listing
}

// NewStore creates an empty listing store.
func NewStore() *Store {
	return &Store{listings: make(map[domain.AssetKey]domain.Listing)}
}

// Put inserts or overwrites the listing for key. Callers guarantee price > 0.
func (s *Store) Put(key domain.AssetKey, seller common.Address, price *uint256.Int) {
	s.listings[key] = domain.NewListing(seller, price)
}

// Get returns the listing for key, or the zero-price sentinel if absent.
func (s *Store) Get(key domain.AssetKey) domain.Listing {
	return s.listings[key]
}

// Clear resets key to absent.
func (s *Store) Clear(key domain.AssetKey) {
	delete(s.listings, key)
}

// Len returns the number of active listings.
func (s *Store) Len() int {
	return len(s.listings)
}

// All returns active listings ordered by key.
func (s *Store) All() []domain.ActiveListing {
	out := make([]domain.ActiveListing, 0, len(s.listings))
	for key, l := range s.listings {
		out = append(out, domain.ActiveListing{Key: key, Listing: l})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.Less(out[j].Key)
	})
	return out
}

// Reset replaces the content of the store.
func (s *Store) Reset(active []domain.ActiveListing) {
	s.listings = make(map[domain.AssetKey]domain.Listing, len(active))
	for _, a := range active {
		if a.Listing.Listed() {
			s.listings[a.Key] = a.Listing
		}
	}
}
