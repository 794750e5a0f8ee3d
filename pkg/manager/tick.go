package manager

import (
	"crypto/tls"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/taskforge/pkg/metrics"
	"github.com/cuemby/taskforge/pkg/replicate"
	"github.com/cuemby/taskforge/pkg/transfer"
	"github.com/cuemby/taskforge/pkg/types"
	"github.com/cuemby/taskforge/pkg/wire"
)

// pollInterval is this implementation's analog of spec §4.J step 2's
// "poll the existing socket set with a short timeout": the granularity
// at which the single event-loop goroutine wakes to run the periodic
// steps (dispatch, keepalive, replication sweep, catalog) even when no
// worker message has arrived.
const pollInterval = 200 * time.Millisecond

// Run starts accepting worker connections on ln and runs the event loop
// until done is closed. It is the single goroutine that ever touches
// m's tables (spec §5).
func (m *Manager) Run(ln net.Listener, tlsConf *tls.Config, done <-chan struct{}) error {
	var err error
	m.txnLog, err = openTxnLog(m.cfg.TxnLogPath)
	if err != nil {
		return err
	}
	defer m.txnLog.Close()
	m.statsLog, err = openStatsLog(m.cfg.QueueLogPath)
	if err != nil {
		return err
	}
	defer m.statsLog.Close()

	regCh := make(chan registration, 32)
	msgCh := make(chan workerMsg, 256)
	go m.acceptLoop(ln, tlsConf, regCh, msgCh, done)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastCatalog time.Time
	for {
		select {
		case <-done:
			return nil

		case reg := <-regCh:
			m.registerWorker(reg)

		case wm := <-msgCh:
			m.handleWorkerMsg(wm)

		case req := <-m.submitCh:
			req.resp <- m.submit(req.task)

		case req := <-m.cancelCh:
			req.resp <- m.cancel(req.taskID)

		case req := <-m.reapCh:
			m.handleReap(req)

		case req := <-m.statusCh:
			req.resp <- m.buildStatusDocument(req.kind)

		case <-ticker.C:
			m.tick(&lastCatalog)
		}
	}
}

// handleReap answers a Reap() request immediately if a RETRIEVED task is
// on hand, finalizing it as DONE, or parks the request for the next tick
// that produces one (spec §4.F's RETRIEVED -> DONE step is driven by the
// caller actually collecting the result, not by the event loop alone).
func (m *Manager) handleReap(req reapRequest) {
	t := m.popRetrieved()
	if t == nil {
		m.parkedReaps = append(m.parkedReaps, req)
		return
	}
	m.finalizeDone(t, req)
}

func (m *Manager) finalizeDone(t *types.Task, req reapRequest) {
	setState(t, types.TaskDone)
	t.Timings.Done = time.Now()
	m.txnLog.logTask(t, "DONE", t.Result.String())
	req.resp <- t
}

// tick runs the periodic steps of spec §4.J not already driven by a
// channel event: output retrieval, expiry, dispatch, keepalives,
// replication sweep, and catalog update.
func (m *Manager) tick(lastCatalog *time.Time) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.EventLoopTickDuration)

	m.retrieveOneWaitingTask()
	m.drainParkedReaps()
	m.expireTasks()
	m.failInfeasibleTasks()
	m.dispatchOne()
	m.sendKeepalives()
	m.fastAbortScan()
	m.shutdownIdleWorkers()
	m.runReplicationSweep()
	m.recordReplicaMetrics()
	m.statsLog.Snapshot(m)

	if m.cfg.CatalogUpdateInterval > 0 && time.Since(*lastCatalog) >= m.cfg.CatalogUpdateInterval {
		m.updateCatalog()
		*lastCatalog = time.Now()
	}
}

// drainParkedReaps answers any Reap() calls that were waiting on a
// RETRIEVED task when they arrived, now that one may exist.
func (m *Manager) drainParkedReaps() {
	for len(m.parkedReaps) > 0 {
		t := m.popRetrieved()
		if t == nil {
			return
		}
		req := m.parkedReaps[0]
		m.parkedReaps = m.parkedReaps[1:]
		m.finalizeDone(t, req)
	}
}

// registerWorker admits reg into the worker table (spec §4.J step 1,
// folded into the channel-driven loop rather than a blocking Accept
// inside the loop itself).
func (m *Manager) registerWorker(reg registration) {
	m.workers[reg.worker.Hashkey] = reg.worker
	m.conns[reg.worker.Hashkey] = reg.conn
	metrics.WorkersConnected.Inc()
	m.txnLog.logWorker(reg.worker, "CONNECTION")
	m.logger.Info().Str("worker", reg.worker.Hashkey).Str("host", reg.worker.Host).Msg("worker connected")
	m.recomputeLargestWorker()
}

// handleWorkerMsg classifies and dispatches one message from a worker
// (spec §4.J step 3): async-status lines update the worker record in
// place; `result` lines transition a task to WAITING_RETRIEVAL. A reader
// error removes the worker as a WorkerFailure.
func (m *Manager) handleWorkerMsg(wm workerMsg) {
	w, ok := m.workers[wm.hashkey]
	if !ok {
		return // worker was already removed; message is stale
	}
	if wm.err != nil {
		m.removeWorker(w, "connection error: "+wm.err.Error())
		return
	}
	if ApplyAsync(w, wm.msg, m.replicas) {
		if wm.msg.Verb == "resource" {
			m.recomputeLargestWorker()
		}
		return
	}
	switch wm.msg.Verb {
	case "result":
		m.handleResult(w, wm.msg, wm.bulk)
	case "update":
		m.handleUpdate(wm.msg, wm.bulk)
	default:
		m.logger.Debug().Str("worker", w.Hashkey).Str("verb", wm.msg.Verb).Msg("unhandled message")
	}
}

// handleUpdate applies one `update <task-id> <remote-name> <offset>
// <length>` record (spec §4.F) to the watched output mount it names,
// opening the local watch target on first sight of that (task,
// remote-name) pair.
func (m *Manager) handleUpdate(msg wire.Message, bulk []byte) {
	taskID, err := strconv.ParseInt(msg.Arg(0), 10, 64)
	if err != nil {
		return
	}
	remote, err := wire.DecodeName(msg.Arg(1))
	if err != nil {
		return
	}
	offset, err := strconv.ParseInt(msg.Arg(2), 10, 64)
	if err != nil {
		return
	}
	length, err := strconv.ParseInt(msg.Arg(3), 10, 64)
	if err != nil {
		return
	}

	t, ok := m.tasks[taskID]
	if !ok {
		return
	}
	key := watchKey(taskID, remote)
	ws, ok := m.watches[key]
	if !ok {
		mnt := watchedMount(t, remote)
		if mnt == nil {
			return // not a watched output; ignore
		}
		local := filepath.Join(m.outputRoot(t), remote)
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			m.logger.Warn().Err(err).Str("path", local).Msg("create watch directory failed")
			return
		}
		ws, err = transfer.NewWatchState(local)
		if err != nil {
			m.logger.Warn().Err(err).Str("path", local).Msg("open watch target failed")
			return
		}
		m.watches[key] = ws
	}
	if err := ws.ApplyUpdate(offset, length, bulk); err != nil {
		m.logger.Warn().Err(err).Int64("task_id", taskID).Str("remote", remote).Msg("apply watch update failed")
	}
}

// watchedMount returns t's output mount named remote if it has the
// watch flag set, or nil if remote names no such mount.
func watchedMount(t *types.Task, remote string) *types.Mount {
	for i := range t.Outputs {
		if t.Outputs[i].RemoteName == remote && t.Outputs[i].Artifact.Watch {
			return &t.Outputs[i]
		}
	}
	return nil
}

func watchKey(taskID int64, remote string) string {
	return strconv.FormatInt(taskID, 10) + "/" + remote
}

// clearWatches drops every open watch target belonging to taskID, e.g.
// once the task is retrieved or requeued and its `update` stream is
// done.
func (m *Manager) clearWatches(taskID int64) {
	prefix := strconv.FormatInt(taskID, 10) + "/"
	for key := range m.watches {
		if strings.HasPrefix(key, prefix) {
			delete(m.watches, key)
		}
	}
}

// handleResult applies `result <status> <exit> <stdout-len> <exec-usec>
// <task-id>` plus its bulk stdout payload, transitioning RUNNING ->
// WAITING_RETRIEVAL (spec §4.F). A nonzero status means the worker
// itself could not run the task (signal, resource exhaustion, etc) and
// is recorded as the task's result directly rather than left SUCCESS.
// A RESOURCE_EXHAUSTION result escalates the allocation label; unless
// the new label is ERROR, the task is released from w and requeued at
// the head of the ready queue instead of waiting for retrieval.
func (m *Manager) handleResult(w *types.Worker, msg wire.Message, bulk []byte) {
	taskID, err := strconv.ParseInt(msg.Arg(4), 10, 64)
	if err != nil {
		return
	}
	t, ok := m.tasks[taskID]
	if !ok || t.State != types.TaskRunning {
		return
	}
	status, _ := strconv.Atoi(msg.Arg(0))
	exitCode, _ := strconv.Atoi(msg.Arg(1))
	execUsec, _ := strconv.ParseInt(msg.Arg(3), 10, 64)

	t.ExitCode = exitCode
	t.Timings.ExecuteLast = time.Duration(execUsec) * time.Microsecond
	t.Timings.ExecuteAll += t.Timings.ExecuteLast
	metrics.TaskExecuteDuration.WithLabelValues(t.Category).Observe(t.Timings.ExecuteLast.Seconds())

	stdout := bulk
	if m.cfg.StdoutCapBytes > 0 && len(stdout) > m.cfg.StdoutCapBytes {
		stdout = stdout[:m.cfg.StdoutCapBytes]
		t.StdoutTruncated = true
	}
	t.Stdout = string(stdout)

	switch resultStatus(status) {
	case resultStatusSignal:
		t.SetResult(types.ResultSignal)
	case resultStatusResourceExhaustion:
		t.SetResult(types.ResultResourceExhaustion)
	case resultStatusMaxRunTime:
		t.SetResult(types.ResultTaskMaxRunTime)
	case resultStatusDiskFull:
		t.SetResult(types.ResultDiskAllocFull)
	case resultStatusRMonitorError:
		t.SetResult(types.ResultRMonitorError)
	default:
		t.SetResult(types.ResultSuccess)
	}

	w.SlowTaskAlarm = false
	setState(t, types.TaskWaitingRetrieval)
	m.txnLog.logTask(t, "WAITING_RETRIEVAL", t.Result.String())

	if t.Result == types.ResultResourceExhaustion && t.AllocLabel != types.AllocError {
		t.AllocLabel = m.categories.Escalate(t)
		if t.AllocLabel != types.AllocError {
			m.categories.Observe(t)
			m.releaseResources(w, t.Allocated)
			delete(w.CurrentTasks, t.ID)
			m.clearWatches(t.ID)
			t.WorkerHash = ""
			setState(t, types.TaskReady)
			m.categories.RecordRequeue(t.Category)
			m.insertReadyHead(t)
			m.txnLog.logTask(t, "READY", "resource-exhaustion")
		}
	}
}

// resultStatus mirrors the worker's reported completion status codes
// (spec §4.A `result` line, status field).
type resultStatus int

const (
	resultStatusOK resultStatus = iota
	resultStatusSignal
	resultStatusResourceExhaustion
	resultStatusMaxRunTime
	resultStatusDiskFull
	resultStatusRMonitorError
)

// popRetrieved returns the first task in RETRIEVED state, for Reap(), or
// nil if none is ready.
func (m *Manager) popRetrieved() *types.Task {
	for _, t := range m.tasks {
		if t.State == types.TaskRetrieved {
			return t
		}
	}
	return nil
}

// retrieveOneWaitingTask fetches outputs for at most one task in
// WAITING_RETRIEVAL per tick, so the loop stays responsive (spec §4.J
// step 5).
func (m *Manager) retrieveOneWaitingTask() {
	for _, t := range m.tasks {
		if t.State != types.TaskWaitingRetrieval {
			continue
		}
		w, ok := m.workers[t.WorkerHash]
		if !ok {
			setState(t, types.TaskReady)
			continue
		}
		conn, ok := m.conns[w.Hashkey]
		if !ok {
			setState(t, types.TaskReady)
			continue
		}
		missing, bytesRecv, err := transfer.RetrieveOutputs(conn, t, m.outputRoot(t), m.cfg.LongTimeout, nil)
		if err != nil {
			m.removeWorker(w, "output retrieval failed: "+err.Error())
			return
		}
		t.BytesRecv += bytesRecv
		metrics.TransferBytesTotal.WithLabelValues("output").Add(float64(bytesRecv))
		for _, mo := range missing {
			t.SetResult(types.ResultOutputMissing)
			m.logger.Warn().Int64("task_id", t.ID).Str("output", mo.RemoteName).Msg("output missing")
		}
		if err := transfer.CleanupUncacheableInputs(conn, t, m.cfg.ShortTimeout); err != nil {
			m.removeWorker(w, "cleanup failed: "+err.Error())
			return
		}
		m.releaseResources(w, t.Allocated)
		delete(w.CurrentTasks, t.ID)
		m.clearWatches(t.ID)
		setState(t, types.TaskRetrieved)
		t.Timings.Retrieval = time.Now()
		m.categories.Observe(t)
		m.categories.RecordTerminal(t.Category, true, t.Result, false)
		metrics.TasksCompletedTotal.WithLabelValues(t.Result.String()).Inc()
		m.txnLog.logTask(t, "RETRIEVED", t.Result.String())
		return
	}
}

// outputRoot is the local directory t's outputs are staged into.
func (m *Manager) outputRoot(t *types.Task) string {
	return filepath.Join(m.cfg.WorkDir, strconv.FormatInt(t.ID, 10))
}

// expireTasks finalizes READY tasks whose end time has passed or whose
// retry budget is exhausted (spec §4.F, §4.J step 6).
func (m *Manager) expireTasks() {
	now := time.Now()
	for _, t := range m.tasks {
		if t.State != types.TaskReady {
			continue
		}
		if !t.Request.End.IsZero() && now.After(t.Request.End) {
			m.finalizeReady(t, types.ResultTaskTimeout)
			continue
		}
		if t.ExceedsRetries() {
			m.finalizeReady(t, types.ResultMaxRetries)
		}
	}
}

// failInfeasibleTasks implements spec §4.G's periodic health check: a
// READY task that fits no currently connected worker, and would not
// even fit the largest-worker cache (per-dimension maxima over the
// currently connected workers), is finalized as
// RESOURCE_EXHAUSTION rather than left starving forever.
func (m *Manager) failInfeasibleTasks() {
	for _, t := range m.scheduler.Infeasible(m.ready, m.workers, m.largestWorker, time.Now()) {
		m.finalizeReady(t, types.ResultResourceExhaustion)
	}
}

func (m *Manager) finalizeReady(t *types.Task, result types.ResultCode) {
	m.removeReady(t)
	t.SetResult(result)
	setState(t, types.TaskRetrieved)
	m.categories.RecordTerminal(t.Category, false, t.Result, false)
	metrics.TasksCompletedTotal.WithLabelValues(t.Result.String()).Inc()
	m.txnLog.logTask(t, "RETRIEVED", t.Result.String())
}

// dispatchOne commits at most one READY task to a worker per tick
// (spec §4.G, §4.J step 7), gated on wait_for_workers.
func (m *Manager) dispatchOne() {
	if len(m.workers) < m.cfg.WaitForWorkers {
		return
	}
	assignment := m.scheduler.Dispatch(m.ready, m.workers, m.replicas, time.Now())
	if assignment == nil {
		return
	}
	m.commit(assignment.Task, assignment.Worker, assignment.Box)
}

// commit performs the READY -> RUNNING transition: records the
// assignment in both directions, updates in-use resources, stages any
// input not already resident on w, and sends the task directive (spec
// §4.F, §4.E).
func (m *Manager) commit(t *types.Task, w *types.Worker, box types.Resources) {
	plan := transfer.StageInputs(t, w, m.workers, m.replicas, m.originalSources(t),
		m.cfg.FileSourceMaxTransfers, m.cfg.WorkerSourceMaxTransfers)
	if len(plan.Missing) > 0 {
		m.finalizeReady(t, types.ResultInputMissing)
		return
	}

	m.removeReady(t)
	t.WorkerHash = w.Hashkey
	t.Allocated = box
	t.TryCount++
	t.Timings.CommitStart = time.Now()
	w.CurrentTasks[t.ID] = t

	w.Resources.Cores.InUse += int64(box.Cores)
	w.Resources.Memory.InUse += box.Memory
	w.Resources.Disk.InUse += box.Disk
	w.Resources.GPUs.InUse += box.GPUs

	setState(t, types.TaskRunning)
	m.categories.RecordDispatch(t.Category)
	m.txnLog.logTask(t, "RUNNING", w.Hashkey)

	conn, ok := m.conns[w.Hashkey]
	if !ok {
		return
	}
	if err := m.sendPutURLs(conn, plan); err != nil {
		m.removeWorker(w, "input staging failed: "+err.Error())
		return
	}
	if err := m.sendTaskDirectives(conn, t, box); err != nil {
		m.removeWorker(w, "task dispatch failed: "+err.Error())
	}
}

// originalSources maps each of t's input cache-names back to its
// submit-time origin (a URL artifact, or the manager itself for a local
// file), the "original source" StageInputs prefers while it is under its
// concurrent-use cap (spec §4.E).
func (m *Manager) originalSources(t *types.Task) map[string]transfer.Source {
	out := make(map[string]transfer.Source, len(t.Inputs))
	for _, mnt := range t.Inputs {
		name := mnt.Artifact.CacheName()
		if name == "" {
			continue
		}
		switch mnt.Artifact.Kind {
		case types.ArtifactURL:
			out[name] = transfer.Source{CacheName: name, Endpoint: mnt.Artifact.URL}
		case types.ArtifactLocalFile, types.ArtifactBuffer:
			out[name] = transfer.Source{CacheName: name, Endpoint: m.cfg.ProjectName}
		}
	}
	return out
}

// sendPutURLs issues one `puturl` directive per staged input (spec §4.E).
func (m *Manager) sendPutURLs(conn *wire.Conn, plan transfer.Plan) error {
	to := m.cfg.ShortTimeout
	for _, d := range plan.Directives {
		cacheable := 0
		if d.Cacheable {
			cacheable = 1
		}
		if err := conn.SendLine(to, "puturl %s %s %d %d", d.URL, wire.EncodeName(d.CacheName), cacheable, m.cfg.TempReplicaCount); err != nil {
			return err
		}
	}
	return nil
}

// sendTaskDirectives emits the manager -> worker directive sequence for
// a freshly committed task (spec §6): the resource box, the command
// line, and an end-time bound if the task has one. Staging of input
// artifacts not yet resident on w is handled by pkg/transfer before
// commit is reached.
func (m *Manager) sendTaskDirectives(conn *wire.Conn, t *types.Task, box types.Resources) error {
	to := m.cfg.ShortTimeout
	if err := conn.SendLine(to, "task %d", t.ID); err != nil {
		return err
	}
	if err := conn.SendLine(to, "category %s", t.Category); err != nil {
		return err
	}
	if err := conn.SendLine(to, "cores %d", int64(box.Cores)); err != nil {
		return err
	}
	if err := conn.SendLine(to, "memory %d", box.Memory); err != nil {
		return err
	}
	if err := conn.SendLine(to, "disk %d", box.Disk); err != nil {
		return err
	}
	if err := conn.SendLine(to, "gpus %d", box.GPUs); err != nil {
		return err
	}
	if !t.Request.End.IsZero() {
		if err := conn.SendLine(to, "end_time %d", t.Request.End.Unix()); err != nil {
			return err
		}
	}
	if err := conn.SendLine(to, "cmd %d", len(t.CommandLine)); err != nil {
		return err
	}
	if err := conn.SendBytes(to, []byte(t.CommandLine)); err != nil {
		return err
	}
	t.BytesSent += int64(len(t.CommandLine))
	metrics.TransferBytesTotal.WithLabelValues("input").Add(float64(len(t.CommandLine)))
	return nil
}

// sendKeepalives issues keepalives past the configured interval and
// drops workers past the keepalive timeout without a reply (spec §4.J
// step 8).
func (m *Manager) sendKeepalives() {
	now := time.Now()
	for hashkey, w := range m.workers {
		if !w.LastMsgAt.IsZero() && now.Sub(w.LastMsgAt) > m.cfg.KeepaliveTimeout {
			m.removeWorker(w, "keepalive timeout")
			continue
		}
		conn, ok := m.conns[hashkey]
		if !ok {
			continue
		}
		if now.Sub(conn.LastSendAt) > m.cfg.KeepaliveInterval {
			_ = conn.SendLine(m.cfg.ShortTimeout, "check")
		}
	}
}

// fastAbortScan implements spec §4.H/§4.J step 9: a RUNNING task whose
// wall-time exceeds its category's k*average_task_time+fast_abort_count
// bound is killed and reassigned. A worker whose second consecutive task
// trips fast-abort is blocked by host and removed.
func (m *Manager) fastAbortScan() {
	now := time.Now()
	for _, t := range m.tasks {
		if t.State != types.TaskRunning {
			continue
		}
		w, ok := m.workers[t.WorkerHash]
		if !ok {
			continue
		}
		elapsed := now.Sub(t.Timings.CommitStart)
		trip, _ := m.categories.FastAbortThreshold(t, elapsed)
		if !trip {
			continue
		}
		m.killTaskOnWorker(w, t)
		setState(t, types.TaskReady)
		t.WorkerHash = ""
		t.Timings.ExecuteFailure += elapsed
		m.categories.RecordRequeue(t.Category)
		m.insertReady(t)
		m.clearWatches(t.ID)
		metrics.FastAbortsTotal.WithLabelValues(t.Category).Inc()
		m.txnLog.logTask(t, "READY", "fast-abort")

		if w.SlowTaskAlarm {
			m.blocked.Block(w.Host, now.Add(m.cfg.FastAbortBlockTimeout))
			m.removeWorker(w, "fast_abort")
			continue
		}
		w.SlowTaskAlarm = true
	}
}

// shutdownIdleWorkers drops workers that announced draining (spec §4.J
// step 9: "shut down drained idle workers") once their last task has
// retrieved, rather than leaving them connected with nothing to run.
func (m *Manager) shutdownIdleWorkers() {
	for _, w := range m.workers {
		if w.Draining && len(w.CurrentTasks) == 0 {
			m.removeWorker(w, "drained")
		}
	}
}

// runReplicationSweep drives pkg/replicate's Tick over the replication
// queue (spec §4.I, §4.J step 10): launch transfers, requeue
// unresolvable attempts, and drop artifacts with no ready holder left.
func (m *Manager) runReplicationSweep() {
	replicate.Sweep(m.replicateQ, m.replicas, m.replicas.Names(), m.workers)

	outcomes := replicate.Tick(m.replicateQ, m.replicas, m.workers,
		m.cfg.WorkerSourceMaxTransfers, m.cfg.WorkerSourceMaxTransfers, m.cfg.AttemptScheduleDepth)

	for _, o := range outcomes {
		switch {
		case o.Plan != nil:
			m.launchReplication(o.Plan)
		case o.Requeue:
			m.replicateQ.Requeue(o.CacheName, 1)
		case o.Prune:
			// no ready holder remains; nothing left to replicate from.
		}
	}
	metrics.ReplicationQueueDepth.Set(float64(m.replicateQ.Len()))
	m.pruneRedundantReplicas()
}

// pruneRedundantReplicas implements spec §4.I's redundant-replica
// cleanup and disk-load shifting paragraphs: once a temp artifact has
// more live replicas than its target, shed copies from the heaviest
// holders; then, if its single heaviest remaining holder is more loaded
// than some other peer could become by taking it on, nudge a transfer
// there and let the next sweep's cleanup pass retire the old copy.
func (m *Manager) pruneRedundantReplicas() {
	for _, name := range m.replicas.Names() {
		target := m.replicateQ.Target(name)
		for _, ev := range replicate.PruneRedundant(name, target, m.replicas, m.workers, m.cacheInUse) {
			m.unlinkReplica(ev.Worker, ev.CacheName)
		}

		holders := m.replicas.ReadyHolders(m.workers, name)
		src := replicate.ShiftSource(holders, m.workers)
		if src == nil {
			continue
		}
		replica, ok := src.CurrentFiles[name]
		if !ok {
			continue
		}
		if dst := replicate.ShiftCandidate(name, replica.Size, src, m.workers); dst != nil {
			m.launchReplication(&replicate.Plan{CacheName: name, Source: src, Dest: dst})
		}
	}
}

// cacheInUse reports whether any task currently running on workerHash
// has cacheName mounted as an input, the exemption PruneRedundant's
// caller must honor (spec §4.I: "not actively in use as an input of a
// currently running task").
func (m *Manager) cacheInUse(workerHash, cacheName string) bool {
	w, ok := m.workers[workerHash]
	if !ok {
		return false
	}
	for _, t := range w.CurrentTasks {
		for _, mnt := range t.Inputs {
			if mnt.Artifact.CacheName() == cacheName {
				return true
			}
		}
	}
	return false
}

// unlinkReplica tells w to drop cacheName (spec §4.D: "a replica is
// removed ... by the manager sending unlink") and retires it from the
// cross-worker index immediately rather than waiting for a
// cache-invalid report.
func (m *Manager) unlinkReplica(w *types.Worker, cacheName string) {
	if conn, ok := m.conns[w.Hashkey]; ok {
		_ = conn.SendLine(m.cfg.ShortTimeout, "unlink %s", wire.EncodeName(cacheName))
	}
	m.replicas.Remove(w, cacheName)
}

// launchReplication issues `puturl` on the destination worker pointing
// at the source's transfer endpoint, the peer-to-peer half of spec §4.E.
func (m *Manager) launchReplication(p *replicate.Plan) {
	destConn, ok := m.conns[p.Dest.Hashkey]
	if !ok {
		return
	}
	endpoint := p.Source.Host + ":" + strconv.Itoa(p.Source.TransferPort)
	name := wire.EncodeName(p.CacheName)
	if err := destConn.SendLine(m.cfg.ShortTimeout, "puturl http://%s/%s %s 1 %d", endpoint, name, name, m.cfg.TempReplicaCount); err != nil {
		m.removeWorker(p.Dest, "replication directive failed: "+err.Error())
		return
	}
	if r, ok := p.Source.CurrentFiles[p.CacheName]; ok {
		r.OutgoingTransfers++
		metrics.TransferBytesTotal.WithLabelValues("peer").Add(float64(r.Size))
	}
}

// recordReplicaMetrics tallies every worker's current replica records by
// state into the taskforge_replicas_by_state gauge (spec §4.D).
func (m *Manager) recordReplicaMetrics() {
	counts := map[types.ReplicaState]int{}
	for _, w := range m.workers {
		for _, r := range w.CurrentFiles {
			counts[r.State]++
		}
	}
	for _, state := range []types.ReplicaState{types.ReplicaCreating, types.ReplicaReady, types.ReplicaDeleting} {
		metrics.ReplicasByState.WithLabelValues(state.String()).Set(float64(counts[state]))
	}
}
