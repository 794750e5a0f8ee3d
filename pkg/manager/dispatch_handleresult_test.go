package manager

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/taskforge/pkg/types"
	"github.com/cuemby/taskforge/pkg/wire"
)

func resultMsg(status, exitCode int, execUsec int64, taskID int64) wire.Message {
	return wire.Message{Verb: "result", Args: []string{
		strconv.Itoa(status),
		strconv.Itoa(exitCode),
		"0",
		strconv.FormatInt(execUsec, 10),
		strconv.FormatInt(taskID, 10),
	}}
}

func TestHandleResultSuccessTransitionsToWaitingRetrieval(t *testing.T) {
	m := newTestManager()
	task := newTestTask("batch", 1)
	m.submit(task)
	setState(task, types.TaskRunning)
	w := types.NewWorker("w1")

	m.handleResult(w, resultMsg(0, 0, 5_000_000, task.ID), []byte("hello"))

	assert.Equal(t, types.TaskWaitingRetrieval, task.State)
	assert.Equal(t, types.ResultSuccess, task.Result)
	assert.Equal(t, "hello", task.Stdout)
}

func TestHandleResultResourceExhaustionEscalatesAllocLabel(t *testing.T) {
	m := newTestManager()
	task := newTestTask("batch", 1)
	m.submit(task)
	setState(task, types.TaskRunning)
	task.AllocLabel = types.AllocFirst
	w := types.NewWorker("w1")

	m.handleResult(w, resultMsg(int(resultStatusResourceExhaustion), 0, 1000, task.ID), nil)

	assert.Equal(t, types.ResultResourceExhaustion, task.Result)
	assert.Equal(t, types.AllocMax, task.AllocLabel)
}

func TestHandleResultEscalatesFromMaxToError(t *testing.T) {
	m := newTestManager()
	task := newTestTask("batch", 1)
	m.submit(task)
	setState(task, types.TaskRunning)
	task.AllocLabel = types.AllocMax
	w := types.NewWorker("w1")

	m.handleResult(w, resultMsg(int(resultStatusResourceExhaustion), 0, 1000, task.ID), nil)

	assert.Equal(t, types.AllocError, task.AllocLabel)
}

func TestHandleResultIgnoresUnknownTask(t *testing.T) {
	m := newTestManager()
	w := types.NewWorker("w1")
	// must not panic when the task id doesn't exist.
	m.handleResult(w, resultMsg(0, 0, 0, 999), nil)
}

func TestHandleResultTruncatesStdoutPastCap(t *testing.T) {
	m := newTestManager()
	m.cfg.StdoutCapBytes = 4
	task := newTestTask("batch", 1)
	m.submit(task)
	setState(task, types.TaskRunning)
	w := types.NewWorker("w1")

	m.handleResult(w, resultMsg(0, 0, 0, task.ID), []byte("0123456789"))

	assert.Equal(t, "0123", task.Stdout)
	assert.True(t, task.StdoutTruncated)
}
