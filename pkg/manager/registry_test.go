package manager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/taskforge/pkg/cache"
	"github.com/cuemby/taskforge/pkg/types"
	"github.com/cuemby/taskforge/pkg/wire"
)

func TestBlockListBlocksAndExpires(t *testing.T) {
	bl := NewBlockList(16)
	assert.False(t, bl.Blocked("host-a"))

	bl.Block("host-a", time.Now().Add(-time.Second))
	assert.False(t, bl.Blocked("host-a"), "a block whose until time already passed should be treated as expired")

	bl.Block("host-b", time.Now().Add(time.Hour))
	assert.True(t, bl.Blocked("host-b"))
}

func TestBlockListIndefiniteBlock(t *testing.T) {
	bl := NewBlockList(16)
	bl.Block("host-a", time.Time{})
	assert.True(t, bl.Blocked("host-a"))
}

func TestBlockListUnblock(t *testing.T) {
	bl := NewBlockList(16)
	bl.Block("host-a", time.Time{})
	bl.Unblock("host-a")
	assert.False(t, bl.Blocked("host-a"))
}

func TestApplyAsyncResourceUpdatesDimension(t *testing.T) {
	w := types.NewWorker("w1")
	ok := ApplyAsync(w, wire.Message{Verb: "resource", Args: []string{"cores", "8", "1", "8"}}, cache.NewTable())

	assert.True(t, ok)
	assert.Equal(t, int64(8), w.Resources.Cores.Total)
}

func TestApplyAsyncInfoDraining(t *testing.T) {
	w := types.NewWorker("w1")
	ApplyAsync(w, wire.Message{Verb: "info", Args: []string{"draining", "1"}}, cache.NewTable())
	assert.True(t, w.Draining)

	ApplyAsync(w, wire.Message{Verb: "info", Args: []string{"draining", "0"}}, cache.NewTable())
	assert.False(t, w.Draining)
}

func TestApplyAsyncFeature(t *testing.T) {
	w := types.NewWorker("w1")
	ok := ApplyAsync(w, wire.Message{Verb: "feature", Args: []string{"gpu"}}, cache.NewTable())
	assert.True(t, ok)
	assert.True(t, w.Features["gpu"])
}

func TestApplyAsyncUnknownVerbReturnsFalse(t *testing.T) {
	w := types.NewWorker("w1")
	ok := ApplyAsync(w, wire.Message{Verb: "nonsense"}, cache.NewTable())
	assert.False(t, ok)
}
