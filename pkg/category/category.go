// Package category implements the resource-learning and escalation
// engine of spec §4.H: per-category first/max allocations, bucketing
// modes, and the FIRST -> MAX -> ERROR escalation ladder driven by
// RESOURCE_EXHAUSTION.
package category

import (
	"sync"
	"time"

	"github.com/cuemby/taskforge/pkg/log"
	"github.com/cuemby/taskforge/pkg/metrics"
	"github.com/cuemby/taskforge/pkg/types"
)

// outcomesThatUpdateModel are the task results spec §4.H says make an
// observation meaningful enough to fold into the category's model.
var outcomesThatUpdateModel = map[types.ResultCode]bool{
	types.ResultSuccess:             true,
	types.ResultSignal:              true,
	types.ResultResourceExhaustion:  true,
	types.ResultTaskMaxRunTime:      true,
	types.ResultDiskAllocFull:       true,
	types.ResultOutputTransferError: true,
}

// Engine owns every category's learned model. Like every other manager
// table, it is touched only from the event-loop goroutine.
type Engine struct {
	mu         sync.Mutex // not locked; persistence runs inline on the event loop
	categories map[string]*types.Category
	defaultCat *types.Category
	store      *Store // nil disables persistence
}

// NewEngine creates an engine with a "default" category, whose
// FastAbortMultiplier other categories inherit when unset (spec §4.H).
func NewEngine() *Engine {
	def := types.NewCategory("default")
	return &Engine{
		categories: map[string]*types.Category{"default": def},
		defaultCat: def,
	}
}

// Get returns the named category, creating it on first mention (spec
// §3: "Categories are created on first mention.").
func (e *Engine) Get(name string) *types.Category {
	if name == "" {
		name = "default"
	}
	if c, ok := e.categories[name]; ok {
		return c
	}
	c := types.NewCategory(name)
	e.categories[name] = c
	return c
}

// All returns every known category, for status reporting.
func (e *Engine) All() []*types.Category {
	out := make([]*types.Category, 0, len(e.categories))
	for _, c := range e.categories {
		out = append(out, c)
	}
	return out
}

// fastAbortMultiplier resolves a category's multiplier, inheriting from
// "default" when the category itself has none set.
func (e *Engine) fastAbortMultiplier(c *types.Category) float64 {
	if c.FastAbortMultiplier > 0 {
		return c.FastAbortMultiplier
	}
	return e.defaultCat.FastAbortMultiplier
}

// FastAbortThreshold reports whether elapsed exceeds the category's
// fast-abort bound (spec §4.H: "k x average_task_time + fast_abort_count"),
// and the multiplier itself (0 means fast-abort is disabled for t's
// category). average_task_time of zero (no samples yet) never triggers.
func (e *Engine) FastAbortThreshold(t *types.Task, elapsed time.Duration) (bool, float64) {
	c := e.Get(t.Category)
	k := e.fastAbortMultiplier(c)
	if k <= 0 {
		return false, 0
	}
	avg := c.Stats.AverageRuntime()
	if avg == 0 {
		return false, k
	}
	bound := time.Duration(k*float64(avg)) + time.Duration(c.FastAbortCount)*time.Second
	return elapsed > bound, k
}

// TaskMinResources is the lower bound on the resource box for a task's
// current attempt, used for scheduler feasibility checks.
func (e *Engine) TaskMinResources(t *types.Task) types.Resources {
	c := e.Get(t.Category)
	return c.MinResources
}

// TaskMaxResources is the cap on the resource box for a task's current
// attempt.
func (e *Engine) TaskMaxResources(t *types.Task) types.Resources {
	c := e.Get(t.Category)
	if t.AllocLabel == types.AllocMax && nonzero(c.MaxAllocation) {
		return c.MaxAllocation
	}
	if nonzero(c.FirstAllocation) {
		return c.FirstAllocation
	}
	return c.MaxAllocation
}

func nonzero(r types.Resources) bool {
	return r.Cores != 0 || r.Memory != 0 || r.Disk != 0 || r.GPUs != 0
}

// Escalate implements the resource-exhaustion handling of spec §4.F: on
// RESOURCE_EXHAUSTION it picks the task's next allocation label along the
// FIRST -> MAX -> ERROR ladder.
func (e *Engine) Escalate(t *types.Task) types.AllocationLabel {
	switch t.AllocLabel {
	case types.AllocFirst:
		return types.AllocMax
	default:
		return types.AllocError
	}
}

// Observe folds a completed attempt's measured resources into the
// category's model, but only for outcomes spec §4.H flags as meaningful.
func (e *Engine) Observe(t *types.Task) {
	if !outcomesThatUpdateModel[t.Result] {
		return
	}
	c := e.Get(t.Category)

	c.Stats.TotalRuntime += t.Timings.ExecuteLast
	c.Stats.RuntimeSamples++

	if t.Measured.Cores > c.Stats.ObservedMax.Cores {
		c.Stats.ObservedMax.Cores = t.Measured.Cores
	}
	if t.Measured.Memory > c.Stats.ObservedMax.Memory {
		c.Stats.ObservedMax.Memory = t.Measured.Memory
	}
	if t.Measured.Disk > c.Stats.ObservedMax.Disk {
		c.Stats.ObservedMax.Disk = t.Measured.Disk
	}
	if t.Measured.GPUs > c.Stats.ObservedMax.GPUs {
		c.Stats.ObservedMax.GPUs = t.Measured.GPUs
	}

	switch c.Mode {
	case types.AllocModeMax:
		c.MaxAllocation = c.Stats.ObservedMax
	case types.AllocModeMinWaste, types.AllocModeMaxThroughput:
		c.FirstAllocation = bucketGuess(c, t.Measured)
	case types.AllocModeGreedyBucketing:
		addBucketSample(c, t.Measured)
		c.FirstAllocation = greedyBucketGuess(c)
	case types.AllocModeExhaustiveBucketing:
		addBucketSample(c, t.Measured)
		c.FirstAllocation = exhaustiveBucketGuess(c)
	default: // AllocModeFixed: first allocation never changes automatically
	}

	metrics.CategoryAllocation.WithLabelValues(c.Name, "first").Set(float64(c.FirstAllocation.Cores))
	metrics.CategoryAllocation.WithLabelValues(c.Name, "max").Set(float64(c.MaxAllocation.Cores))
	logEvent(c, t)

	if e.store != nil {
		if err := e.store.Save(c); err != nil {
			log.WithCategory(c.Name).Warn().Err(err).Msg("category snapshot save failed")
		}
	}
}

func logEvent(c *types.Category, t *types.Task) {
	log.WithCategory(c.Name).Debug().
		Str("result", t.Result.String()).
		Int64("task_id", t.ID).
		Msg("category model updated")
}

// RecordSubmission updates the per-category task counters of spec §8
// invariant 7.
func (e *Engine) RecordSubmission(category string) {
	c := e.Get(category)
	c.Stats.TasksSubmitted++
	c.Stats.TasksWaiting++
}

// RecordDispatch moves the counters from waiting to on-workers.
func (e *Engine) RecordDispatch(category string) {
	c := e.Get(category)
	c.Stats.TasksWaiting--
	c.Stats.TasksOnWorkers++
}

// RecordRequeue moves the counters back from on-workers to waiting.
func (e *Engine) RecordRequeue(category string) {
	c := e.Get(category)
	c.Stats.TasksOnWorkers--
	c.Stats.TasksWaiting++
}

// RecordTerminal moves the counters from on-workers/waiting to a terminal
// bucket: done, failed, or cancelled.
func (e *Engine) RecordTerminal(category string, wasOnWorker bool, result types.ResultCode, canceled bool) {
	c := e.Get(category)
	if wasOnWorker {
		c.Stats.TasksOnWorkers--
	} else {
		c.Stats.TasksWaiting--
	}
	switch {
	case canceled:
		c.Stats.TasksCancelled++
	case result == types.ResultSuccess:
		c.Stats.TasksDone++
	default:
		c.Stats.TasksFailed++
	}
}
