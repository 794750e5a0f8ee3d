package scheduler

import (
	"time"

	"github.com/cuemby/taskforge/pkg/cache"
	"github.com/cuemby/taskforge/pkg/category"
	"github.com/cuemby/taskforge/pkg/types"
)

// Candidate pairs a worker with the resource box it would give a task,
// so policies can compare boxes without recomputing them.
type Candidate struct {
	Worker *types.Worker
	Box    types.Resources
}

// Candidates filters workers down to the ones a task could run on right
// now, per spec §4.G:
//
//   - not draining;
//   - not on the blocked-host set;
//   - not already at the factory's worker cap;
//   - declares every feature tag the task requires;
//   - has enough idle capacity for the computed resource box;
//   - if the task has an end time, the worker can plausibly finish by then.
func Candidates(t *types.Task, workers map[string]*types.Worker, blocked map[string]bool, factoryCounts map[string]int, factoryCaps map[string]int, categories *category.Engine, proportional, wholeTasks bool, now time.Time) []Candidate {
	var out []Candidate
	for _, w := range workers {
		if w.Draining {
			continue
		}
		if blocked[w.Hashkey] || blocked[w.Host] {
			continue
		}
		if w.Factory != "" {
			if cap, ok := factoryCaps[w.Factory]; ok && factoryCounts[w.Factory] >= cap {
				continue
			}
		}
		if !w.HasFeatures(t.RequiredFeatures) {
			continue
		}
		box := ResourceBox(t, w, categories, proportional, wholeTasks)
		if !fits(box, w) {
			continue
		}
		if !t.Request.End.IsZero() && box.WallTime > 0 {
			if now.Add(box.WallTime).After(t.Request.End) {
				continue
			}
		}
		out = append(out, Candidate{Worker: w, Box: box})
	}
	return out
}

// fits reports whether worker w has enough idle capacity for box, i.e.
// box.dim <= total.dim - inUse.dim for every dimension (spec §8 invariant
// 2: "no worker's committed resource usage may exceed its total").
func fits(box types.Resources, w *types.Worker) bool {
	if box.Cores > float64(w.Resources.Cores.Total-w.Resources.Cores.InUse) {
		return false
	}
	if box.Memory > w.Resources.Memory.Total-w.Resources.Memory.InUse {
		return false
	}
	if box.Disk > w.Resources.Disk.Total-w.Resources.Disk.InUse {
		return false
	}
	if box.GPUs > w.Resources.GPUs.Total-w.Resources.GPUs.InUse {
		return false
	}
	return true
}

// cachedInputBytes sums the size of t's input artifacts already present
// on w, for the FILES policy's "most data already local" comparison.
func cachedInputBytes(t *types.Task, w *types.Worker, replicas *cache.Table) int64 {
	var total int64
	for _, m := range t.Inputs {
		name := m.Artifact.CacheName()
		if name == "" {
			continue
		}
		if r, ok := w.CurrentFiles[name]; ok && r.State == types.ReplicaReady {
			total += r.Size
		}
	}
	return total
}
