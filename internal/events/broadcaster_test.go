package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/pandamarket/internal/domain"
)

func TestBroadcaster_FanOutAndDrop(t *testing.T) {
	b := NewBroadcaster(1)
	fast := b.Subscribe()
	slow := b.Subscribe()
	require.Equal(t, 2, b.Subscribers())

	b.Publish(domain.Event{Type: domain.EventListed, Sequence: 1})
	assert.Equal(t, uint64(1), (<-fast).Sequence)

	b.Publish(domain.Event{Type: domain.EventCancelled, Sequence: 2})
	assert.Equal(t, uint64(2), (<-fast).Sequence)
	assert.Equal(t, uint64(1), b.Dropped(), "slow subscriber buffer was full")

	assert.Equal(t, uint64(1), (<-slow).Sequence)

	b.Unsubscribe(slow)
	b.Unsubscribe(slow)
	_, open := <-slow
	assert.False(t, open)
	assert.Equal(t, 1, b.Subscribers())
}
