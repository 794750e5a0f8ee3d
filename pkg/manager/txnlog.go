package manager

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cuemby/taskforge/pkg/types"
)

// txnLogger is the append-only transaction log of spec §6: one record
// per state-change, in the line shapes documented in spec §4.F/§4.G
// and grounded in original_source's vine_txn_log.c. A nil *txnLogger is
// a valid no-op logger, so callers never need to check cfg.TxnLogPath
// themselves.
type txnLogger struct {
	mu   sync.Mutex
	f    *os.File
}

// openTxnLog creates (or appends to) the transaction log at path,
// writing a header comment on first open. An empty path disables
// logging and returns a nil *txnLogger.
func openTxnLog(path string) (*txnLogger, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open transaction log: %w", err)
	}
	fmt.Fprintf(f, "# time task/worker/category event details\n")
	return &txnLogger{f: f}, nil
}

func (l *txnLogger) Close() error {
	if l == nil {
		return nil
	}
	return l.f.Close()
}

func (l *txnLogger) write(line string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.f, "%d %s\n", time.Now().Unix(), line)
	l.f.Sync()
}

// logTask writes a `TASK <id> <state> [details]` record.
func (l *txnLogger) logTask(t *types.Task, state, details string) {
	if details == "" {
		l.write(fmt.Sprintf("TASK %d %s", t.ID, state))
		return
	}
	l.write(fmt.Sprintf("TASK %d %s %s", t.ID, state, details))
}

// logWorker writes a `WORKER <id> <event>` record, e.g.
// "CONNECTION", "DISCONNECTION <reason>", or "RESOURCES {...}".
func (l *txnLogger) logWorker(w *types.Worker, event string) {
	l.write(fmt.Sprintf("WORKER %s %s", w.Hashkey, event))
}

// logCategory writes a `CATEGORY <name> (MAX|MIN|FIRST) {...}` record.
func (l *txnLogger) logCategory(name, kind string, r types.Resources) {
	l.write(fmt.Sprintf("CATEGORY %s %s {cores=%.2f,memory=%d,disk=%d,gpus=%d}",
		name, kind, r.Cores, r.Memory, r.Disk, r.GPUs))
}

// logTransfer writes a `TRANSFER (INPUT|OUTPUT) <id> <cache> <MB> <s>
// <worker-hashkey>` record.
func (l *txnLogger) logTransfer(direction string, taskID int64, cacheName string, bytes int64, d time.Duration, workerHash string) {
	mb := float64(bytes) / (1 << 20)
	l.write(fmt.Sprintf("TRANSFER %s %d %s %.3f %.3f %s", direction, taskID, cacheName, mb, d.Seconds(), workerHash))
}

// statsLogger is the tab/space-separated queue-stats snapshot log of
// spec §6, written once per event-loop tick whether or not anything
// changed; it is not driven by individual events. A nil *statsLogger is
// a valid no-op.
type statsLogger struct {
	mu sync.Mutex
	f  *os.File
}

func openStatsLog(path string) (*statsLogger, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open queue-stats log: %w", err)
	}
	fmt.Fprintf(f, "# time workers tasks_waiting tasks_running tasks_done total_cores total_memory total_disk\n")
	return &statsLogger{f: f}, nil
}

func (l *statsLogger) Close() error {
	if l == nil {
		return nil
	}
	return l.f.Close()
}

// Snapshot writes one line of aggregate queue state.
func (l *statsLogger) Snapshot(m *Manager) {
	if l == nil {
		return
	}
	var waiting, running, done int
	for _, t := range m.tasks {
		switch t.State {
		case types.TaskReady:
			waiting++
		case types.TaskRunning:
			running++
		case types.TaskDone, types.TaskRetrieved:
			done++
		}
	}
	var cores, memory, disk int64
	for _, w := range m.workers {
		cores += w.Resources.Cores.Total
		memory += w.Resources.Memory.Total
		disk += w.Resources.Disk.Total
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.f, "%d %d %d %d %d %d %d %d\n",
		time.Now().Unix(), len(m.workers), waiting, running, done, cores, memory, disk)
	l.f.Sync()
}
