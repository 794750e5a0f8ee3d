package manager

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/taskforge/pkg/auth"
	"github.com/cuemby/taskforge/pkg/cache"
	"github.com/cuemby/taskforge/pkg/category"
	"github.com/cuemby/taskforge/pkg/config"
	"github.com/cuemby/taskforge/pkg/log"
	"github.com/cuemby/taskforge/pkg/metrics"
	"github.com/cuemby/taskforge/pkg/replicate"
	"github.com/cuemby/taskforge/pkg/scheduler"
	"github.com/cuemby/taskforge/pkg/transfer"
	"github.com/cuemby/taskforge/pkg/types"
	"github.com/cuemby/taskforge/pkg/wire"
)

// Manager owns every table spec §5 says belongs to the single
// event-loop goroutine: the worker registry, the cache-replica index,
// the task tables, the ready queue, and the category/scheduler/
// replication engines built on top of them. Nothing here is safe for
// concurrent access except where a field's own doc comment says so
// (Submit/Cancel/Reap/Status are the only entry points safe to call from
// outside the event-loop goroutine, and they hand off over channels).
type Manager struct {
	cfg        *config.Config
	logger     zerolog.Logger
	challenge  *auth.Challenge
	blocked    *BlockList
	categories *category.Engine
	scheduler  *scheduler.Scheduler
	replicas   *cache.Table
	replicateQ *replicate.Queue

	workers map[string]*types.Worker // hashkey -> worker
	conns   map[string]*wire.Conn    // hashkey -> underlying connection
	tasks   map[int64]*types.Task    // task-id -> task

	// watches holds one open transfer.WatchState per (task-id,
	// remote-name) pair currently receiving `update` records (spec
	// §4.F), keyed by watchKey.
	watches map[string]*transfer.WatchState

	ready      []*types.Task // priority-ordered, highest priority first
	nextTaskID int64

	txnLog   *txnLogger
	statsLog *statsLogger

	// submitCh/cancelCh/reapCh let API-facing goroutines (the CLI, an
	// HTTP handler) hand work to the event loop without touching any
	// table directly, matching spec §5's single-writer model.
	submitCh chan submitRequest
	cancelCh chan cancelRequest
	reapCh   chan reapRequest
	statusCh chan statusRequest

	// parkedReaps holds Reap() calls that arrived with no RETRIEVED task
	// on hand yet; drainParkedReaps answers them as tasks land there.
	parkedReaps []reapRequest

	mu        sync.Mutex // not locked by any method; the tables are event-loop owned
	startedAt time.Time

	catStore *category.Store // nil unless OpenCategoryStore succeeded

	// largestWorker is the per-dimension maximum Total resources across
	// every currently connected worker (spec §4.B: "the largest-worker
	// cache is recomputed" on removal). It is a snapshot of the table,
	// not a running historical max -- it shrinks back down once the
	// worker that set it disconnects.
	largestWorker types.Resources
}

type submitRequest struct {
	task *types.Task
	resp chan int64
}

type cancelRequest struct {
	taskID int64
	resp   chan bool
}

type reapRequest struct {
	resp chan *types.Task
}

// New builds a Manager ready to run its event loop, but does not start
// accepting connections (see Run in tick.go).
func New(cfg *config.Config) *Manager {
	cats := category.NewEngine()
	return &Manager{
		cfg:        cfg,
		logger:     log.WithComponent("manager"),
		challenge:  auth.NewChallenge(cfg.Password),
		blocked:    NewBlockList(1024),
		categories: cats,
		scheduler:  scheduler.New(cfg, cats),
		replicas:   cache.NewTable(),
		replicateQ: replicate.NewQueue(),
		workers:    make(map[string]*types.Worker),
		conns:      make(map[string]*wire.Conn),
		tasks:      make(map[int64]*types.Task),
		watches:    make(map[string]*transfer.WatchState),
		submitCh:   make(chan submitRequest, 64),
		cancelCh:   make(chan cancelRequest, 64),
		reapCh:     make(chan reapRequest, 64),
		statusCh:   make(chan statusRequest, 64),
		startedAt:  time.Now(),
	}
}

// OpenCategoryStore opens (or creates) the bbolt-backed category
// snapshot database under dataDir, loads any previously learned
// allocations into the category engine, and arms the engine to persist
// further updates there. Call before Run; call CloseCategoryStore on
// shutdown. A manager with no call to this is equivalent to warren
// running with persistence disabled -- learned allocations just don't
// survive a restart.
func (m *Manager) OpenCategoryStore(dataDir string) error {
	store, err := category.OpenStore(dataDir)
	if err != nil {
		return fmt.Errorf("open category store: %w", err)
	}
	if err := m.categories.LoadInto(store); err != nil {
		store.Close()
		return fmt.Errorf("load category store: %w", err)
	}
	m.catStore = store
	return nil
}

// CloseCategoryStore closes the category database opened by
// OpenCategoryStore, if any.
func (m *Manager) CloseCategoryStore() error {
	if m.catStore == nil {
		return nil
	}
	return m.catStore.Close()
}

// Submit hands a new task to the event loop and returns its assigned
// id. Safe to call from any goroutine.
func (m *Manager) Submit(t *types.Task) int64 {
	resp := make(chan int64, 1)
	m.submitCh <- submitRequest{task: t, resp: resp}
	return <-resp
}

// Cancel requests cancellation of taskID and reports whether the task
// was found. Safe to call from any goroutine.
func (m *Manager) Cancel(taskID int64) bool {
	resp := make(chan bool, 1)
	m.cancelCh <- cancelRequest{taskID: taskID, resp: resp}
	return <-resp
}

// Reap blocks until a RETRIEVED task is available to finalize as DONE,
// returning it. Safe to call from any goroutine.
func (m *Manager) Reap() *types.Task {
	resp := make(chan *types.Task, 1)
	m.reapCh <- reapRequest{resp: resp}
	return <-resp
}

// setState transitions t to newState, keeping the TasksByState gauge an
// accurate live count rather than a monotonically growing counter.
func setState(t *types.Task, newState types.TaskState) {
	metrics.TasksByState.WithLabelValues(t.State.String()).Dec()
	t.State = newState
	metrics.TasksByState.WithLabelValues(t.State.String()).Inc()
}

// submit is the event-loop-side handler for a submitRequest: assigns an
// id, inserts into the ready queue in priority order, and records
// category/metric bookkeeping (spec §4.F: "submission assigns a fresh
// monotonically increasing task-id and transitions to READY").
func (m *Manager) submit(t *types.Task) int64 {
	if t.State != types.TaskReady || t.TryCount != 0 {
		t.Reset()
	}
	m.nextTaskID++
	t.ID = m.nextTaskID
	t.Timings.Submitted = time.Now()
	m.tasks[t.ID] = t
	m.insertReady(t)

	m.categories.RecordSubmission(t.Category)
	metrics.TasksSubmittedTotal.Inc()
	metrics.TasksByState.WithLabelValues(t.State.String()).Inc() // first time this task is tracked, no prior state to decrement
	m.txnLog.logTask(t, "READY", "")
	return t.ID
}

// insertReady inserts t into the ready queue ordered by descending
// priority, stable on ties (spec §5: "ready queue is ordered by task
// priority, higher first").
func (m *Manager) insertReady(t *types.Task) {
	idx := len(m.ready)
	for i, other := range m.ready {
		if t.Priority > other.Priority {
			idx = i
			break
		}
	}
	m.ready = append(m.ready, nil)
	copy(m.ready[idx+1:], m.ready[idx:])
	m.ready[idx] = t
}

// insertReadyHead pushes t to the front of the ready queue regardless
// of priority, used for resource-exhaustion resubmission (spec §4.F:
// "resubmission after exhaustion goes to the head of the ready list,
// not priority-ordered, so that large tasks get a chance").
func (m *Manager) insertReadyHead(t *types.Task) {
	m.ready = append([]*types.Task{t}, m.ready...)
}

// removeReady drops t from the ready queue if present.
func (m *Manager) removeReady(t *types.Task) {
	for i, other := range m.ready {
		if other == t {
			m.ready = append(m.ready[:i], m.ready[i+1:]...)
			return
		}
	}
}

// cancel implements spec §4.J's cancellation: removes a task from any
// state, sending `kill` if it was running.
func (m *Manager) cancel(taskID int64) bool {
	t, ok := m.tasks[taskID]
	if !ok {
		return false
	}
	wasOnWorker := t.State == types.TaskRunning
	if wasOnWorker {
		if w, ok := m.workers[t.WorkerHash]; ok {
			m.killTaskOnWorker(w, t)
		}
		m.clearWatches(t.ID)
	} else {
		m.removeReady(t)
	}
	setState(t, types.TaskCanceled)
	m.categories.RecordTerminal(t.Category, wasOnWorker, t.Result, true)
	m.txnLog.logTask(t, "CANCELED", "")
	return true
}

// killTaskOnWorker sends `kill <task-id>` and releases the worker's
// committed resources and current-files entries for t's uncacheable
// inputs and all outputs (spec §4.J).
func (m *Manager) killTaskOnWorker(w *types.Worker, t *types.Task) {
	if conn, ok := m.conns[w.Hashkey]; ok {
		_ = conn.SendLine(m.cfg.ShortTimeout, "kill %d", t.ID)
	}
	m.releaseResources(w, t.Allocated)
	delete(w.CurrentTasks, t.ID)
	for _, mnt := range t.Inputs {
		if name := mnt.Artifact.CacheName(); !mnt.Artifact.Cacheable && name != "" {
			m.unlinkReplica(w, name)
		}
	}
	for _, mnt := range t.Outputs {
		if name := mnt.Artifact.CacheName(); name != "" {
			m.unlinkReplica(w, name)
		}
	}
}

// releaseResources subtracts box from w's in-use resource counters,
// floored at zero in case of any accounting drift.
func (m *Manager) releaseResources(w *types.Worker, box types.Resources) {
	w.Resources.Cores.InUse -= int64(box.Cores)
	w.Resources.Memory.InUse -= box.Memory
	w.Resources.Disk.InUse -= box.Disk
	w.Resources.GPUs.InUse -= box.GPUs
	if w.Resources.Cores.InUse < 0 {
		w.Resources.Cores.InUse = 0
	}
	if w.Resources.Memory.InUse < 0 {
		w.Resources.Memory.InUse = 0
	}
	if w.Resources.Disk.InUse < 0 {
		w.Resources.Disk.InUse = 0
	}
	if w.Resources.GPUs.InUse < 0 {
		w.Resources.GPUs.InUse = 0
	}
}

// removeWorker implements the removal policy of spec §4.B/§4.J: every
// current task on the worker is re-queued to READY with its attempt
// counter adjusted, the worker drops out of the cross-worker file
// index, and the worker record itself is discarded.
func (m *Manager) removeWorker(w *types.Worker, reason string) {
	for _, t := range w.CurrentTasks {
		setState(t, types.TaskReady)
		t.WorkerHash = ""
		t.Timings.ExecuteFailure += time.Since(t.Timings.CommitStart)
		m.categories.RecordRequeue(t.Category)
		m.insertReady(t)
		m.clearWatches(t.ID)
	}
	m.replicas.RemoveWorker(w)
	delete(m.workers, w.Hashkey)
	if conn, ok := m.conns[w.Hashkey]; ok {
		conn.Close()
		delete(m.conns, w.Hashkey)
	}
	metrics.WorkersConnected.Dec()
	metrics.WorkersRemovedTotal.WithLabelValues(reason).Inc()
	m.txnLog.logWorker(w, fmt.Sprintf("DISCONNECTION %s", reason))
	m.logger.Info().Str("worker", w.Hashkey).Str("reason", reason).Msg("worker removed")
	m.recomputeLargestWorker()
}

// recomputeLargestWorker rebuilds the largest-worker cache by scanning
// every currently connected worker's declared Total resources, keeping
// the per-dimension maximum. Called whenever the worker table or a
// worker's own resource declaration changes: on removal (spec §4.B),
// admission, and a `resource` async-status update.
func (m *Manager) recomputeLargestWorker() {
	var max types.Resources
	for _, w := range m.workers {
		if c := float64(w.Resources.Cores.Total); c > max.Cores {
			max.Cores = c
		}
		if mem := w.Resources.Memory.Total; mem > max.Memory {
			max.Memory = mem
		}
		if d := w.Resources.Disk.Total; d > max.Disk {
			max.Disk = d
		}
		if g := w.Resources.GPUs.Total; g > max.GPUs {
			max.GPUs = g
		}
	}
	m.largestWorker = max
}
