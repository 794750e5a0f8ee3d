package category

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/taskforge/pkg/types"
)

func TestStoreSaveAndLoadAllRoundTrips(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	c := types.NewCategory("batch")
	c.FirstAllocation = types.Resources{Cores: 2, Memory: 1 << 20}
	require.NoError(t, store.Save(c))

	loaded, err := store.LoadAll()
	require.NoError(t, err)
	got, ok := loaded["batch"]
	require.True(t, ok)
	assert.Equal(t, c.FirstAllocation, got.FirstAllocation)
}

func TestLoadIntoRestoresCategoriesAndArmsStore(t *testing.T) {
	dir := t.TempDir()

	store, err := OpenStore(dir)
	require.NoError(t, err)
	c := types.NewCategory("batch")
	c.MaxAllocation = types.Resources{Cores: 8}
	require.NoError(t, store.Save(c))
	require.NoError(t, store.Close())

	store, err = OpenStore(dir)
	require.NoError(t, err)
	defer store.Close()

	e := NewEngine()
	require.NoError(t, e.LoadInto(store))

	restored := e.Get("batch")
	assert.Equal(t, float64(8), restored.MaxAllocation.Cores)
	assert.NotNil(t, restored.Buckets)

	e.Observe(&types.Task{Category: "batch", Result: types.ResultSuccess, Measured: types.Resources{Cores: 3}})

	reopened, err := store.LoadAll()
	require.NoError(t, err)
	assert.NotNil(t, reopened["batch"])
}

func TestLoadIntoPreservesDefaultCategoryPointer(t *testing.T) {
	dir := t.TempDir()

	store, err := OpenStore(dir)
	require.NoError(t, err)
	def := types.NewCategory("default")
	def.FastAbortMultiplier = 5.0
	require.NoError(t, store.Save(def))
	require.NoError(t, store.Close())

	store, err = OpenStore(dir)
	require.NoError(t, err)
	defer store.Close()

	e := NewEngine()
	require.NoError(t, e.LoadInto(store))

	assert.Equal(t, 5.0, e.defaultCat.FastAbortMultiplier)
	assert.Same(t, e.categories["default"], e.defaultCat)
}
