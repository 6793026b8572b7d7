package simstate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Owners map[string]string `json:"owners"`
}

func TestStore_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, "Custody Registry")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "custody_registry.json"), store.Path())

	var empty sample
	ok, err := store.Load(&empty)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save(sample{Owners: map[string]string{"a": "b"}}))

	var loaded sample
	ok, err = store.Load(&loaded)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", loaded.Owners["a"])

	_, err = os.Stat(store.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestStore_InvalidScope(t *testing.T) {
	_, err := NewStore(t.TempDir(), "  ***  ")
	assert.Error(t, err)
}

func TestStore_NilIsNoop(t *testing.T) {
	var store *Store
	ok, err := store.Load(&sample{})
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, store.Save(sample{}))
}

func TestSanitizeScope(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"payouts", "payouts"},
		{"  Panda-Market / Custody ", "panda_market_custody"},
		{"__x__", "x"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeScope(tt.in), tt.in)
	}
}
