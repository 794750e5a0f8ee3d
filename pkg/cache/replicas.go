package cache

import "github.com/cuemby/taskforge/pkg/types"

// Table is the global cache-name -> set-of-workers index (spec §4.D).
// Per-worker replica records live on types.Worker.CurrentFiles; Table is
// the derived, lockstep-maintained cross index. It is not safe for
// concurrent use — like every other table owned by the manager, it is
// touched only from the single event-loop goroutine (spec §5).
type Table struct {
	holders map[string]map[string]bool // cache-name -> set of worker hashkeys
}

// NewTable creates an empty replica index.
func NewTable() *Table {
	return &Table{holders: make(map[string]map[string]bool)}
}

// Insert records that worker now holds a replica of cacheName. It sets
// worker.CurrentFiles[cacheName] and the cross-worker side together, keeping invariant 2 of
// spec §8 ("every cache-name in a worker's current-files is in the global
// index with that worker in its set, and conversely").
func (t *Table) Insert(worker *types.Worker, cacheName string, replica *types.Replica) {
	worker.CurrentFiles[cacheName] = replica
	set, ok := t.holders[cacheName]
	if !ok {
		set = make(map[string]bool)
		t.holders[cacheName] = set
	}
	set[worker.Hashkey] = true
}

// Remove drops one worker's replica of cacheName from both sides.
func (t *Table) Remove(worker *types.Worker, cacheName string) {
	delete(worker.CurrentFiles, cacheName)
	if set, ok := t.holders[cacheName]; ok {
		delete(set, worker.Hashkey)
		if len(set) == 0 {
			delete(t.holders, cacheName)
		}
	}
}

// RemoveWorker drops every replica the worker held, e.g. on disconnect.
func (t *Table) RemoveWorker(worker *types.Worker) {
	for name := range worker.CurrentFiles {
		if set, ok := t.holders[name]; ok {
			delete(set, worker.Hashkey)
			if len(set) == 0 {
				delete(t.holders, name)
			}
		}
	}
	worker.CurrentFiles = make(map[string]*types.Replica)
}

// Holders returns the hashkeys of every worker currently recorded as
// holding cacheName, regardless of replica state.
func (t *Table) Holders(cacheName string) []string {
	set, ok := t.holders[cacheName]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for hk := range set {
		out = append(out, hk)
	}
	return out
}

// ReadyHolders returns the subset of Holders whose local replica record is
// in the READY state — the only ones eligible to serve a peer transfer
// (spec §3, "Replica record").
func (t *Table) ReadyHolders(workers map[string]*types.Worker, cacheName string) []string {
	var out []string
	for _, hk := range t.Holders(cacheName) {
		w, ok := workers[hk]
		if !ok {
			continue
		}
		r, ok := w.CurrentFiles[cacheName]
		if !ok || r.State != types.ReplicaReady {
			continue
		}
		out = append(out, hk)
	}
	return out
}

// ReplicaCount is the number of workers currently holding any replica
// (regardless of state) of cacheName.
func (t *Table) ReplicaCount(cacheName string) int {
	return len(t.holders[cacheName])
}

// Names returns every cache-name the index currently tracks, regardless
// of replica state or holder count. Used by the redundancy sweeper
// (spec §4.I) to scan every known artifact each tick rather than only
// the ones already queued for replication.
func (t *Table) Names() []string {
	out := make([]string, 0, len(t.holders))
	for name := range t.holders {
		out = append(out, name)
	}
	return out
}
