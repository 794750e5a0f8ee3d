package category

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/taskforge/pkg/types"
)

func TestEscalateFollowsFirstMaxErrorLadder(t *testing.T) {
	e := NewEngine()
	task := &types.Task{Category: "batch", AllocLabel: types.AllocFirst}

	assert.Equal(t, types.AllocMax, e.Escalate(task))
	task.AllocLabel = types.AllocMax
	assert.Equal(t, types.AllocError, e.Escalate(task))
}

func TestObserveUpdatesObservedMaxOnSuccess(t *testing.T) {
	e := NewEngine()
	task := &types.Task{Category: "batch", Result: types.ResultSuccess, Measured: types.Resources{Cores: 2, Memory: 4 << 20}}

	e.Observe(task)

	c := e.Get("batch")
	assert.Equal(t, 2.0, c.Stats.ObservedMax.Cores)
	assert.Equal(t, int64(4<<20), c.Stats.ObservedMax.Memory)
}

func TestObserveIgnoresNonModelUpdatingOutcome(t *testing.T) {
	e := NewEngine()
	task := &types.Task{Category: "batch", Result: types.ResultInputMissing, Measured: types.Resources{Cores: 4}}

	e.Observe(task)

	c := e.Get("batch")
	assert.Equal(t, 0.0, c.Stats.ObservedMax.Cores)
	assert.Equal(t, int64(0), c.Stats.RuntimeSamples)
}

func TestObserveAccumulatesAverageRuntime(t *testing.T) {
	e := NewEngine()
	t1 := &types.Task{Category: "batch", Result: types.ResultSuccess, Timings: types.Timings{ExecuteLast: 10 * time.Second}}
	t2 := &types.Task{Category: "batch", Result: types.ResultSuccess, Timings: types.Timings{ExecuteLast: 20 * time.Second}}

	e.Observe(t1)
	e.Observe(t2)

	c := e.Get("batch")
	require.Equal(t, int64(2), c.Stats.RuntimeSamples)
	assert.Equal(t, 15*time.Second, c.Stats.AverageRuntime())
}

func TestFastAbortThresholdDisabledByDefault(t *testing.T) {
	e := NewEngine()
	task := &types.Task{Category: "batch"}
	trip, k := e.FastAbortThreshold(task, time.Hour)
	assert.False(t, trip)
	assert.Equal(t, 0.0, k)
}

func TestFastAbortThresholdNoSamplesNeverTrips(t *testing.T) {
	e := NewEngine()
	c := e.Get("batch")
	c.FastAbortMultiplier = 2.0

	trip, k := e.FastAbortThreshold(&types.Task{Category: "batch"}, time.Hour)
	assert.False(t, trip)
	assert.Equal(t, 2.0, k)
}

func TestFastAbortThresholdTripsPastBound(t *testing.T) {
	e := NewEngine()
	c := e.Get("batch")
	c.FastAbortMultiplier = 2.0

	e.Observe(&types.Task{Category: "batch", Result: types.ResultSuccess, Timings: types.Timings{ExecuteLast: 10 * time.Second}})

	trip, _ := e.FastAbortThreshold(&types.Task{Category: "batch"}, 25*time.Second)
	assert.True(t, trip, "25s exceeds 2x10s average")

	trip, _ = e.FastAbortThreshold(&types.Task{Category: "batch"}, 15*time.Second)
	assert.False(t, trip, "15s is within 2x10s average")
}

func TestFastAbortMultiplierInheritsFromDefault(t *testing.T) {
	e := NewEngine()
	e.defaultCat.FastAbortMultiplier = 3.0

	got := e.fastAbortMultiplier(e.Get("unconfigured"))
	assert.Equal(t, 3.0, got)
}
