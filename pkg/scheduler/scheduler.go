package scheduler

import (
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/taskforge/pkg/cache"
	"github.com/cuemby/taskforge/pkg/category"
	"github.com/cuemby/taskforge/pkg/config"
	"github.com/cuemby/taskforge/pkg/log"
	"github.com/cuemby/taskforge/pkg/metrics"
	"github.com/cuemby/taskforge/pkg/types"
)

// Scheduler picks, one task per event-loop tick, which ready task runs
// on which worker (spec §4.G). It holds no goroutine of its own: the
// event loop calls Dispatch() once per tick and commits at most one
// assignment, matching spec §4.J's "a tick commits at most one new task
// dispatch" step.
type Scheduler struct {
	cfg        *config.Config
	categories *category.Engine
	logger     zerolog.Logger
	rng        *rand.Rand

	factoryCounts map[string]int
	factoryCaps   map[string]int
	blocked       map[string]bool
}

// New creates a scheduler bound to cfg's tunables and the shared
// category engine.
func New(cfg *config.Config, categories *category.Engine) *Scheduler {
	return &Scheduler{
		cfg:           cfg,
		categories:    categories,
		logger:        log.WithComponent("scheduler"),
		rng:           rand.New(rand.NewSource(1)),
		factoryCounts: make(map[string]int),
		factoryCaps:   make(map[string]int),
		blocked:       make(map[string]bool),
	}
}

// Block adds a host or hashkey to the blocked-host set, e.g. after
// repeated task failures attributed to that worker.
func (s *Scheduler) Block(hostOrHashkey string) { s.blocked[hostOrHashkey] = true }

// Unblock removes an entry from the blocked-host set.
func (s *Scheduler) Unblock(hostOrHashkey string) { delete(s.blocked, hostOrHashkey) }

// SetFactoryCap records the maximum number of workers a factory may
// contribute at once.
func (s *Scheduler) SetFactoryCap(factory string, n int) { s.factoryCaps[factory] = n }

// Assignment is the outcome of one Dispatch call: task t should be
// committed onto worker w with resource box.
type Assignment struct {
	Task   *types.Task
	Worker *types.Worker
	Box    types.Resources
}

// Dispatch scans ready, in ready-queue order, for the first task with at
// least one feasible worker, and returns that task's own declared
// policy's pick (spec §3's per-task policy selection among
// FCFS/FILES/TIME/WORST-FIT/RAND). It returns nil if nothing is
// dispatchable this tick. Dispatch does not mutate task or worker
// state; the caller (the event loop) commits the assignment and updates
// the resource/replica tables.
func (s *Scheduler) Dispatch(ready []*types.Task, workers map[string]*types.Worker, replicas *cache.Table, now time.Time) *Assignment {
	s.recountFactories(workers)

	for _, t := range ready {
		timer := metrics.NewTimer()
		candidates := Candidates(t, workers, s.blocked, s.factoryCounts, s.factoryCaps, s.categories, s.cfg.ProportionalResources, s.cfg.ProportionalWholeTasks, now)
		if len(candidates) == 0 {
			continue
		}
		pick := Pick(t.Policy, t, candidates, replicas, s.rng)
		timer.ObserveDuration(metrics.TaskDispatchLatency)
		if pick == nil {
			continue
		}
		s.logger.Debug().
			Int64("task_id", t.ID).
			Str("worker", pick.Worker.Hashkey).
			Str("policy", policyName(t.Policy)).
			Msg("task dispatched")
		return &Assignment{Task: t, Worker: pick.Worker, Box: pick.Box}
	}
	return nil
}

// Infeasible returns the ready tasks that cannot fit on any currently
// connected worker even when idle (spec §4.G's periodic health check),
// so the caller can fail them with RESOURCE_EXHAUSTION rather than
// starve forever. largestWorker is the manager's largest-worker cache
// (spec §4.B), the per-dimension maxima over the connected workers: a
// task whose box fits no single connected worker is still spared if its
// category/request footprint fits within those maxima.
func (s *Scheduler) Infeasible(ready []*types.Task, workers map[string]*types.Worker, largestWorker types.Resources, now time.Time) []*types.Task {
	var out []*types.Task
	for _, t := range ready {
		if fitsAnyIdleWorker(t, workers, s.categories, s.cfg.ProportionalResources, s.cfg.ProportionalWholeTasks, largestWorker) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func fitsAnyIdleWorker(t *types.Task, workers map[string]*types.Worker, categories *category.Engine, proportional, wholeTasks bool, largestWorker types.Resources) bool {
	if len(workers) == 0 {
		return true // no workers connected yet is not the task's fault
	}
	for _, w := range workers {
		box := ResourceBox(t, w, categories, proportional, wholeTasks)
		if box.Cores <= float64(w.Resources.Cores.Total) &&
			box.Memory <= w.Resources.Memory.Total &&
			box.Disk <= w.Resources.Disk.Total &&
			box.GPUs <= w.Resources.GPUs.Total {
			return true
		}
	}
	box := categories.TaskMaxResources(t)
	overlayRequest(&box, t.Request)
	return box.Cores <= largestWorker.Cores &&
		box.Memory <= largestWorker.Memory &&
		box.Disk <= largestWorker.Disk &&
		box.GPUs <= largestWorker.GPUs
}

func (s *Scheduler) recountFactories(workers map[string]*types.Worker) {
	for k := range s.factoryCounts {
		delete(s.factoryCounts, k)
	}
	for _, w := range workers {
		if w.Factory != "" {
			s.factoryCounts[w.Factory]++
		}
	}
}

func policyName(p types.SchedulingPolicy) string {
	switch p {
	case types.ScheduleFiles:
		return "files"
	case types.ScheduleTime:
		return "time"
	case types.ScheduleWorstFit:
		return "worst-fit"
	case types.ScheduleRand:
		return "rand"
	default:
		return "fcfs"
	}
}
