package scheduler

import (
	"math/rand"
	"sort"

	"github.com/cuemby/taskforge/pkg/cache"
	"github.com/cuemby/taskforge/pkg/types"
)

// Pick applies policy to choose one candidate for task t, returning nil
// if candidates is empty. Each policy is a total order over candidates;
// ties fall back to worker hashkey for determinism in tests.
func Pick(policy types.SchedulingPolicy, t *types.Task, candidates []Candidate, replicas *cache.Table, rng *rand.Rand) *Candidate {
	if len(candidates) == 0 {
		return nil
	}
	sorted := append([]Candidate(nil), candidates...)

	switch policy {
	case types.ScheduleFiles:
		sort.SliceStable(sorted, func(i, j int) bool {
			bi := cachedInputBytes(t, sorted[i].Worker, replicas)
			bj := cachedInputBytes(t, sorted[j].Worker, replicas)
			if bi != bj {
				return bi > bj
			}
			return sorted[i].Worker.Hashkey < sorted[j].Worker.Hashkey
		})
	case types.ScheduleTime:
		sort.SliceStable(sorted, func(i, j int) bool {
			if sorted[i].Worker.AvgTaskTime != sorted[j].Worker.AvgTaskTime {
				return sorted[i].Worker.AvgTaskTime < sorted[j].Worker.AvgTaskTime
			}
			return sorted[i].Worker.Hashkey < sorted[j].Worker.Hashkey
		})
	case types.ScheduleWorstFit:
		sort.SliceStable(sorted, func(i, j int) bool {
			idle1 := idleFraction(sorted[i].Worker)
			idle2 := idleFraction(sorted[j].Worker)
			if idle1 != idle2 {
				return idle1 > idle2
			}
			return sorted[i].Worker.Hashkey < sorted[j].Worker.Hashkey
		})
	case types.ScheduleRand:
		idx := 0
		if rng != nil {
			idx = rng.Intn(len(sorted))
		}
		return &sorted[idx]
	case types.ScheduleFCFS:
		fallthrough
	default:
		sort.SliceStable(sorted, func(i, j int) bool {
			if sorted[i].Worker.ConnectedAt != sorted[j].Worker.ConnectedAt {
				return sorted[i].Worker.ConnectedAt.Before(sorted[j].Worker.ConnectedAt)
			}
			return sorted[i].Worker.Hashkey < sorted[j].Worker.Hashkey
		})
	}
	return &sorted[0]
}

// idleFraction is the average fraction of idle capacity across cores,
// memory, and disk, used by WORST-FIT to spread load across the most
// lightly loaded workers.
func idleFraction(w *types.Worker) float64 {
	var sum float64
	var n int
	if w.Resources.Cores.Total > 0 {
		sum += float64(w.Resources.Cores.Total-w.Resources.Cores.InUse) / float64(w.Resources.Cores.Total)
		n++
	}
	if w.Resources.Memory.Total > 0 {
		sum += float64(w.Resources.Memory.Total-w.Resources.Memory.InUse) / float64(w.Resources.Memory.Total)
		n++
	}
	if w.Resources.Disk.Total > 0 {
		sum += float64(w.Resources.Disk.Total-w.Resources.Disk.InUse) / float64(w.Resources.Disk.Total)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
