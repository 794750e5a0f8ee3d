package manager

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/taskforge/pkg/types"
)

func TestOpenTxnLogNilPathIsNoOp(t *testing.T) {
	l, err := openTxnLog("")
	require.NoError(t, err)
	assert.Nil(t, l)

	l.logTask(&types.Task{ID: 1}, "READY", "")
	assert.NoError(t, l.Close())
}

func TestTxnLogWritesTaskAndWorkerEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txn.log")
	l, err := openTxnLog(path)
	require.NoError(t, err)
	defer l.Close()

	l.logTask(&types.Task{ID: 42}, "READY", "")
	l.logWorker(types.NewWorker("w1"), "CONNECTION")

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "TASK 42 READY")
	assert.Contains(t, string(contents), "WORKER w1 CONNECTION")
}

func TestOpenStatsLogNilPathIsNoOp(t *testing.T) {
	l, err := openStatsLog("")
	require.NoError(t, err)
	assert.Nil(t, l)

	l.Snapshot(newTestManager())
	assert.NoError(t, l.Close())
}

func TestStatsLogSnapshotWritesCounters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.log")
	l, err := openStatsLog(path)
	require.NoError(t, err)
	defer l.Close()

	m := newTestManager()
	task := newTestTask("default", 1)
	m.submit(task)
	w := types.NewWorker("w1")
	w.Resources.Cores.Total = 4
	m.workers[w.Hashkey] = w

	l.Snapshot(m)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "# time workers")
	assert.NotEmpty(t, contents)
}
