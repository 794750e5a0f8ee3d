package replicate

import (
	"github.com/cuemby/taskforge/pkg/cache"
	"github.com/cuemby/taskforge/pkg/types"
)

// Plan is one replication to launch: copy cacheName from Source to Dest
// as a peer transfer (spec §4.E, §4.I step 3).
type Plan struct {
	CacheName string
	Source    *types.Worker
	Dest      *types.Worker
}

// Outcome classifies what happened to one popped queue item, so the
// caller (the event loop) knows whether to launch a transfer, re-queue,
// or prune and reschedule the producing recovery task.
type Outcome struct {
	CacheName string
	Plan      *Plan
	Requeue   bool
	Prune     bool
}

// Tick pops up to attemptScheduleDepth artifacts from q and resolves
// each to a Plan, a re-queue, or a prune, per spec §4.I steps 1-2 and
// the no-source / no-destination / no-ready-holders fallbacks.
func Tick(q *Queue, replicas *cache.Table, workers map[string]*types.Worker, outgoingCap, incomingCap int, attemptScheduleDepth int) []Outcome {
	names := q.Pop(attemptScheduleDepth)
	outcomes := make([]Outcome, 0, len(names))

	for _, name := range names {
		holders := replicas.ReadyHolders(workers, name)
		if len(holders) == 0 {
			outcomes = append(outcomes, Outcome{CacheName: name, Prune: true})
			continue
		}

		src := pickSourceWorker(holders, workers, outgoingCap)
		if src == nil {
			outcomes = append(outcomes, Outcome{CacheName: name, Requeue: true})
			continue
		}

		dst := pickDestWorker(name, src, workers, incomingCap)
		if dst == nil {
			outcomes = append(outcomes, Outcome{CacheName: name, Requeue: true})
			continue
		}

		outcomes = append(outcomes, Outcome{CacheName: name, Plan: &Plan{CacheName: name, Source: src, Dest: dst}})
	}
	return outcomes
}

// pickSourceWorker chooses the READY holder with the fewest outgoing
// transfers, staying under outgoingCap.
func pickSourceWorker(holders []string, workers map[string]*types.Worker, outgoingCap int) *types.Worker {
	var best *types.Worker
	bestOutgoing := int(^uint(0) >> 1)
	for _, hashkey := range holders {
		w, ok := workers[hashkey]
		if !ok {
			continue
		}
		var outgoing int
		for _, r := range w.CurrentFiles {
			outgoing += r.OutgoingTransfers
		}
		if outgoing >= outgoingCap {
			continue
		}
		if outgoing < bestOutgoing {
			bestOutgoing = outgoing
			best = w
		}
	}
	return best
}

// pickDestWorker chooses a worker that does not already hold cacheName,
// is on a different host than src, is under incomingCap, and has the
// most free disk among eligible candidates.
func pickDestWorker(cacheName string, src *types.Worker, workers map[string]*types.Worker, incomingCap int) *types.Worker {
	var best *types.Worker
	var bestFree int64 = -1
	for _, w := range workers {
		if w.Hashkey == src.Hashkey || w.Host == src.Host {
			continue
		}
		if _, has := w.CurrentFiles[cacheName]; has {
			continue
		}
		var incoming int
		for _, r := range w.CurrentFiles {
			incoming += r.IncomingTransfers
		}
		if incoming >= incomingCap {
			continue
		}
		free := w.Resources.Disk.Total - w.Resources.Disk.InUse
		if free > bestFree {
			bestFree = free
			best = w
		}
	}
	return best
}
