package manager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/taskforge/pkg/config"
	"github.com/cuemby/taskforge/pkg/types"
)

func newTestManager() *Manager {
	cfg := config.Default()
	cfg.WaitForWorkers = 0
	return New(cfg)
}

func newTestTask(category string, cores float64) *types.Task {
	return &types.Task{
		CommandLine: "echo hi",
		Category:    category,
		Request:     types.Resources{Cores: cores, Memory: 1 << 20},
		State:       types.TaskReady,
	}
}

func TestSubmitAssignsIDAndQueuesReady(t *testing.T) {
	m := newTestManager()
	task := newTestTask("default", 1)

	id := m.submit(task)

	assert.Equal(t, int64(1), id)
	assert.Equal(t, types.TaskReady, task.State)
	require.Len(t, m.ready, 1)
	assert.Same(t, task, m.ready[0])
}

func TestSubmitOrdersReadyByPriorityDescending(t *testing.T) {
	m := newTestManager()
	low := newTestTask("default", 1)
	low.Priority = 1
	high := newTestTask("default", 1)
	high.Priority = 5

	m.submit(low)
	m.submit(high)

	require.Len(t, m.ready, 2)
	assert.Same(t, high, m.ready[0])
	assert.Same(t, low, m.ready[1])
}

func TestInsertReadyHeadBypassesPriority(t *testing.T) {
	m := newTestManager()
	high := newTestTask("default", 1)
	high.Priority = 10
	m.submit(high)

	exhausted := newTestTask("default", 1)
	exhausted.Priority = 0
	m.tasks[100] = exhausted
	m.insertReadyHead(exhausted)

	require.Len(t, m.ready, 2)
	assert.Same(t, exhausted, m.ready[0], "resource-exhaustion resubmission jumps the queue regardless of priority")
}

func TestCancelReadyTaskRemovesFromQueue(t *testing.T) {
	m := newTestManager()
	task := newTestTask("default", 1)
	m.submit(task)

	ok := m.cancel(task.ID)

	assert.True(t, ok)
	assert.Equal(t, types.TaskCanceled, task.State)
	assert.Empty(t, m.ready)
}

func TestCancelUnknownTaskReturnsFalse(t *testing.T) {
	m := newTestManager()
	assert.False(t, m.cancel(999))
}

func TestCancelRunningTaskReleasesResources(t *testing.T) {
	m := newTestManager()
	task := newTestTask("default", 2)
	m.submit(task)

	w := types.NewWorker("w1")
	w.Resources.Cores.Total = 4
	w.Resources.Cores.InUse = 2
	m.workers[w.Hashkey] = w
	task.WorkerHash = w.Hashkey
	task.Allocated = types.Resources{Cores: 2}
	w.CurrentTasks[task.ID] = task
	setState(task, types.TaskRunning)

	ok := m.cancel(task.ID)

	require.True(t, ok)
	assert.Equal(t, types.TaskCanceled, task.State)
	assert.Equal(t, int64(0), w.Resources.Cores.InUse)
	assert.NotContains(t, w.CurrentTasks, task.ID)
}

func TestRemoveWorkerRequeuesCurrentTasks(t *testing.T) {
	m := newTestManager()
	task := newTestTask("default", 1)
	m.submit(task)

	w := types.NewWorker("w1")
	setState(task, types.TaskRunning)
	task.WorkerHash = w.Hashkey
	w.CurrentTasks[task.ID] = task
	m.workers[w.Hashkey] = w
	m.removeReady(task)

	m.removeWorker(w, "test")

	assert.Equal(t, types.TaskReady, task.State)
	assert.Empty(t, task.WorkerHash)
	require.Len(t, m.ready, 1)
	assert.Same(t, task, m.ready[0])
	assert.NotContains(t, m.workers, "w1")
}

func TestHandleReapParksWhenNothingRetrieved(t *testing.T) {
	m := newTestManager()
	resp := make(chan *types.Task, 1)
	m.handleReap(reapRequest{resp: resp})

	require.Len(t, m.parkedReaps, 1)
	select {
	case <-resp:
		t.Fatal("Reap should not have returned yet")
	default:
	}
}

func TestHandleReapAnswersImmediatelyWhenRetrievedTaskExists(t *testing.T) {
	m := newTestManager()
	task := newTestTask("default", 1)
	m.submit(task)
	setState(task, types.TaskRetrieved)

	resp := make(chan *types.Task, 1)
	m.handleReap(reapRequest{resp: resp})

	require.Empty(t, m.parkedReaps)
	got := <-resp
	assert.Same(t, task, got)
	assert.Equal(t, types.TaskDone, task.State)
	assert.False(t, task.Timings.Done.IsZero())
}

func TestDrainParkedReapsAnswersOnceTaskLands(t *testing.T) {
	m := newTestManager()
	resp := make(chan *types.Task, 1)
	m.handleReap(reapRequest{resp: resp})
	require.Len(t, m.parkedReaps, 1)

	task := newTestTask("default", 1)
	m.submit(task)
	setState(task, types.TaskRetrieved)

	m.drainParkedReaps()

	require.Empty(t, m.parkedReaps)
	got := <-resp
	assert.Same(t, task, got)
}

func TestExpireTasksMarksTaskTimeoutPastEndTime(t *testing.T) {
	m := newTestManager()
	task := newTestTask("default", 1)
	task.Request.End = time.Now().Add(-time.Second)
	m.submit(task)

	m.expireTasks()

	assert.Equal(t, types.TaskRetrieved, task.State)
	assert.Equal(t, types.ResultTaskTimeout, task.Result)
	assert.Empty(t, m.ready)
}

func TestExpireTasksMarksMaxRetriesExceeded(t *testing.T) {
	m := newTestManager()
	task := newTestTask("default", 1)
	task.Retry.MaxRetries = 1
	m.submit(task)
	task.TryCount = 2

	m.expireTasks()

	assert.Equal(t, types.ResultMaxRetries, task.Result)
}
