package listings

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/pandamarket/internal/domain"
)

var (
	collection = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	seller     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func TestStore_GetAbsentReturnsSentinel(t *testing.T) {
	s := NewStore()
	l := s.Get(domain.NewAssetKey(collection, uint256.NewInt(1)))
	assert.False(t, l.Listed())
	assert.True(t, l.Price.IsZero())
}

func TestStore_PutGetClear(t *testing.T) {
	s := NewStore()
	key := domain.NewAssetKey(collection, uint256.NewInt(7))

	s.Put(key, seller, uint256.NewInt(400))
	l := s.Get(key)
	require.True(t, l.Listed())
	assert.Equal(t, seller, l.Seller)
	assert.Equal(t, uint64(400), l.Price.Uint64())

	s.Put(key, seller, uint256.NewInt(500))
	l = s.Get(key)
	assert.Equal(t, uint64(500), l.Price.Uint64())
	assert.Equal(t, 1, s.Len())

	s.Clear(key)
	assert.False(t, s.Get(key).Listed())
	assert.Equal(t, 0, s.Len())
}

func TestStore_AllOrderedAndReset(t *testing.T) {
	s := NewStore()
	s.Put(domain.NewAssetKey(collection, uint256.NewInt(3)), seller, uint256.NewInt(1))
	s.Put(domain.NewAssetKey(collection, uint256.NewInt(1)), seller, uint256.NewInt(1))
	s.Put(domain.NewAssetKey(collection, uint256.NewInt(2)), seller, uint256.NewInt(1))

	all := s.All()
	require.Len(t, all, 3)
	for i, a := range all {
		assert.Equal(t, uint64(i+1), a.Key.TokenID.Uint64())
	}

	restored := NewStore()
	restored.Reset(append(all, domain.ActiveListing{Key: domain.NewAssetKey(collection, uint256.NewInt(9))}))
	assert.Equal(t, 3, restored.Len(), "zero-price entries are not active listings")
	assert.Equal(t, all, restored.All())
}
