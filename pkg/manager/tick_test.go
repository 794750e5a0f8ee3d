package manager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/taskforge/pkg/types"
)

func runningTaskOnWorker(m *Manager, w *types.Worker, commitStart time.Time) *types.Task {
	task := newTestTask("batch", 1)
	m.submit(task)
	setState(task, types.TaskRunning)
	task.WorkerHash = w.Hashkey
	task.Timings.CommitStart = commitStart
	w.CurrentTasks[task.ID] = task
	m.workers[w.Hashkey] = w
	return task
}

func TestFastAbortScanRequeuesStragglerAndArmsAlarm(t *testing.T) {
	m := newTestManager()
	cat := m.categories.Get("batch")
	cat.FastAbortMultiplier = 2.0
	cat.Stats.TotalRuntime = 10 * time.Second
	cat.Stats.RuntimeSamples = 1

	w := types.NewWorker("w1")
	w.Host = "10.0.0.1"
	task := runningTaskOnWorker(m, w, time.Now().Add(-30*time.Second))

	m.fastAbortScan()

	assert.Equal(t, types.TaskReady, task.State)
	assert.Empty(t, task.WorkerHash)
	require.Contains(t, m.ready, task)
	assert.True(t, w.SlowTaskAlarm)
	assert.Contains(t, m.workers, "w1", "first trip only arms the alarm, worker stays connected")
}

func TestFastAbortScanBlocksWorkerOnSecondConsecutiveTrip(t *testing.T) {
	m := newTestManager()
	cat := m.categories.Get("batch")
	cat.FastAbortMultiplier = 2.0
	cat.Stats.TotalRuntime = 10 * time.Second
	cat.Stats.RuntimeSamples = 1

	w := types.NewWorker("w1")
	w.Host = "10.0.0.1"
	w.SlowTaskAlarm = true
	runningTaskOnWorker(m, w, time.Now().Add(-30*time.Second))

	m.fastAbortScan()

	assert.NotContains(t, m.workers, "w1")
	assert.True(t, m.blocked.Blocked("10.0.0.1"))
}

func TestFastAbortScanIgnoresTaskWithinBound(t *testing.T) {
	m := newTestManager()
	cat := m.categories.Get("batch")
	cat.FastAbortMultiplier = 2.0
	cat.Stats.TotalRuntime = 10 * time.Second
	cat.Stats.RuntimeSamples = 1

	w := types.NewWorker("w1")
	task := runningTaskOnWorker(m, w, time.Now().Add(-5*time.Second))

	m.fastAbortScan()

	assert.Equal(t, types.TaskRunning, task.State)
	assert.Contains(t, m.workers, "w1")
}

func TestShutdownIdleWorkersRemovesDrainedWorkerWithNoTasks(t *testing.T) {
	m := newTestManager()
	w := types.NewWorker("w1")
	w.Draining = true
	m.workers[w.Hashkey] = w

	m.shutdownIdleWorkers()

	assert.NotContains(t, m.workers, "w1")
}

func TestRecordReplicaMetricsDoesNotPanicWithNoReplicas(t *testing.T) {
	m := newTestManager()
	w := types.NewWorker("w1")
	m.workers[w.Hashkey] = w

	m.recordReplicaMetrics() // must not panic with an empty CurrentFiles map
}

func TestShutdownIdleWorkersKeepsDrainedWorkerWithTasks(t *testing.T) {
	m := newTestManager()
	w := types.NewWorker("w1")
	w.Draining = true
	task := newTestTask("default", 1)
	m.submit(task)
	w.CurrentTasks[task.ID] = task
	m.workers[w.Hashkey] = w

	m.shutdownIdleWorkers()

	assert.Contains(t, m.workers, "w1")
}
