package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/taskforge/pkg/cache"
	"github.com/cuemby/taskforge/pkg/category"
	"github.com/cuemby/taskforge/pkg/config"
	"github.com/cuemby/taskforge/pkg/types"
)

func newTestWorker(hashkey string, cores, memory int64) *types.Worker {
	w := types.NewWorker(hashkey)
	w.Resources.Cores.Total = cores
	w.Resources.Memory.Total = memory
	w.Resources.Disk.Total = 10 * 1024 * 1024 * 1024
	w.ConnectedAt = time.Now()
	return w
}

func newTestTask(id int64, cores float64, memory int64) *types.Task {
	t := &types.Task{
		ID:       id,
		Category: "default",
		Request:  types.Resources{Cores: cores, Memory: memory},
		State:    types.TaskReady,
	}
	return t
}

func TestDispatchPicksFeasibleWorker(t *testing.T) {
	cfg := config.Default()
	cats := category.NewEngine()
	s := New(cfg, cats)

	workers := map[string]*types.Worker{
		"w1": newTestWorker("w1", 4, 4<<30),
	}
	task := newTestTask(1, 1, 1<<30)

	assignment := s.Dispatch([]*types.Task{task}, workers, cache.NewTable(), time.Now())
	require.NotNil(t, assignment)
	assert.Equal(t, "w1", assignment.Worker.Hashkey)
	assert.GreaterOrEqual(t, assignment.Box.Cores, 1.0)
}

func TestDispatchSkipsOverloadedWorker(t *testing.T) {
	cfg := config.Default()
	cats := category.NewEngine()
	s := New(cfg, cats)

	full := newTestWorker("full", 2, 2<<30)
	full.Resources.Cores.InUse = 2
	workers := map[string]*types.Worker{"full": full}

	task := newTestTask(1, 1, 1<<20)
	assignment := s.Dispatch([]*types.Task{task}, workers, cache.NewTable(), time.Now())
	assert.Nil(t, assignment)
}

func TestDispatchRespectsBlockedHost(t *testing.T) {
	cfg := config.Default()
	cats := category.NewEngine()
	s := New(cfg, cats)
	s.Block("blocked-host")

	w := newTestWorker("blocked-host", 4, 4<<30)
	workers := map[string]*types.Worker{"blocked-host": w}

	task := newTestTask(1, 1, 1<<20)
	assignment := s.Dispatch([]*types.Task{task}, workers, cache.NewTable(), time.Now())
	assert.Nil(t, assignment)
}

func TestDispatchRequiresFeatures(t *testing.T) {
	cfg := config.Default()
	cats := category.NewEngine()
	s := New(cfg, cats)

	w := newTestWorker("w1", 4, 4<<30)
	workers := map[string]*types.Worker{"w1": w}

	task := newTestTask(1, 1, 1<<20)
	task.RequiredFeatures = []string{"gpu-a100"}

	assignment := s.Dispatch([]*types.Task{task}, workers, cache.NewTable(), time.Now())
	assert.Nil(t, assignment)

	w.Features = map[string]bool{"gpu-a100": true}
	assignment = s.Dispatch([]*types.Task{task}, workers, cache.NewTable(), time.Now())
	assert.NotNil(t, assignment)
}

func TestWorstFitPrefersLeastLoadedWorker(t *testing.T) {
	cfg := config.Default()
	cats := category.NewEngine()

	busy := newTestWorker("busy", 8, 8<<30)
	busy.Resources.Cores.InUse = 6
	idle := newTestWorker("idle", 8, 8<<30)

	workers := map[string]*types.Worker{"busy": busy, "idle": idle}
	candidates := Candidates(newTestTask(1, 1, 1<<20), workers, nil, nil, nil, cats, cfg.ProportionalResources, cfg.ProportionalWholeTasks, time.Now())
	require.Len(t, candidates, 2)

	pick := Pick(types.ScheduleWorstFit, newTestTask(1, 1, 1<<20), candidates, cache.NewTable(), nil)
	require.NotNil(t, pick)
	assert.Equal(t, "idle", pick.Worker.Hashkey)
}

func TestDispatchHonorsTasksOwnPolicy(t *testing.T) {
	cfg := config.Default()
	cats := category.NewEngine()
	s := New(cfg, cats)

	busy := newTestWorker("busy", 8, 8<<30)
	busy.Resources.Cores.InUse = 6
	idle := newTestWorker("idle", 8, 8<<30)
	workers := map[string]*types.Worker{"busy": busy, "idle": idle}

	task := newTestTask(1, 1, 1<<20)
	task.Policy = types.ScheduleWorstFit

	assignment := s.Dispatch([]*types.Task{task}, workers, cache.NewTable(), time.Now())
	require.NotNil(t, assignment)
	assert.Equal(t, "idle", assignment.Worker.Hashkey, "task's own WORST_FIT policy should prefer the least-loaded worker")
}

func TestResourceBoxDefaultsToWholeWorkerWithoutProportional(t *testing.T) {
	cats := category.NewEngine()
	w := newTestWorker("w1", 4, 8<<30)

	task := newTestTask(1, 0, 0)
	box := ResourceBox(task, w, cats, false, false)
	assert.Equal(t, 4.0, box.Cores)
	assert.Equal(t, int64(8<<30), box.Memory)
}

func TestResourceBoxHonorsExplicitRequest(t *testing.T) {
	cats := category.NewEngine()
	w := newTestWorker("w1", 8, 16<<30)

	task := newTestTask(1, 2, 2<<30)
	box := ResourceBox(task, w, cats, true, false)
	assert.Equal(t, 2.0, box.Cores)
	assert.Equal(t, int64(2<<30), box.Memory)
}

func TestInfeasibleFlagsTaskThatFitsNoWorker(t *testing.T) {
	cfg := config.Default()
	cats := category.NewEngine()
	s := New(cfg, cats)

	w := newTestWorker("w1", 2, 2<<30)
	workers := map[string]*types.Worker{"w1": w}

	huge := newTestTask(1, 100, 100<<30)
	infeasible := s.Infeasible([]*types.Task{huge}, workers, types.Resources{}, time.Now())
	assert.Len(t, infeasible, 1)

	small := newTestTask(2, 1, 1<<20)
	infeasible = s.Infeasible([]*types.Task{small}, workers, types.Resources{}, time.Now())
	assert.Empty(t, infeasible)
}

func TestInfeasibleSparesTaskThatFitsLargestWorkerCache(t *testing.T) {
	cfg := config.Default()
	cats := category.NewEngine()
	s := New(cfg, cats)

	w := newTestWorker("w1", 2, 2<<30)
	workers := map[string]*types.Worker{"w1": w}

	// Nothing currently connected can run this, but the largestWorker
	// cache passed in is big enough, so it's given the benefit of the
	// doubt rather than failed outright.
	task := newTestTask(1, 8, 8<<30)
	largestWorker := types.Resources{Cores: 8, Memory: 8 << 30, Disk: 10 * 1024 * 1024 * 1024}

	infeasible := s.Infeasible([]*types.Task{task}, workers, largestWorker, time.Now())
	assert.Empty(t, infeasible)
}
