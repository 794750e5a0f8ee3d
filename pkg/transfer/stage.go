// Package transfer implements the input-staging, output-retrieval, and
// peer-replication operations of spec §4.E: moving artifacts
// manager<->worker and worker<->worker, and mapping transport failures
// onto the WorkerFailure / AppFailure / ManagerFailure taxonomy.
package transfer

import (
	"fmt"

	"github.com/cuemby/taskforge/pkg/cache"
	"github.com/cuemby/taskforge/pkg/types"
)

// Source describes one candidate origin for an input: either the
// manager itself (the task's submitter process) or a worker already
// holding a READY replica.
type Source struct {
	Worker   *types.Worker // nil means "the manager"
	Endpoint string        // host:port of the transfer listener
	CacheName string
}

// Plan is the set of puturl directives needed to stage every missing
// input of a task onto the destination worker.
type Plan struct {
	Directives []PutURL
	Missing    []string // cache-names with no eligible source at all
}

// PutURL is one `puturl <url> <cache-name> <cacheable> ...` directive to
// send to the destination worker (spec §4.E, §4.A).
type PutURL struct {
	CacheName string
	URL       string
	Cacheable bool
}

// StageInputs builds the transfer plan for every input mount of t that
// is not already present on dest, per spec §4.E: prefer the original
// source, otherwise any worker with a READY replica under its own
// transfer cap, ties broken by fewest outgoing transfers. An original
// source with no Worker is always used; no per-source concurrent-use
// count is kept, and one bound to a worker is used while that worker's
// in-use core count is under perSourceCap.
func StageInputs(t *types.Task, dest *types.Worker, workers map[string]*types.Worker, replicas *cache.Table, originals map[string]Source, perSourceCap, workerTransferCap int) Plan {
	var plan Plan
	for _, m := range t.Inputs {
		name := m.Artifact.CacheName()
		if name == "" {
			continue
		}
		if r, ok := dest.CurrentFiles[name]; ok && r.State == types.ReplicaReady {
			continue // already local
		}
		src, ok := pickSource(name, workers, replicas, originals, perSourceCap, workerTransferCap)
		if !ok {
			plan.Missing = append(plan.Missing, name)
			continue
		}
		plan.Directives = append(plan.Directives, PutURL{
			CacheName: name,
			URL:       fmt.Sprintf("worker://%s/%s", src.Endpoint, name),
			Cacheable: m.Artifact.Cacheable,
		})
	}
	return plan
}

// pickSource chooses the best holder of cacheName, preferring the
// original source as described on StageInputs.
func pickSource(cacheName string, workers map[string]*types.Worker, replicas *cache.Table, originals map[string]Source, perSourceCap, workerTransferCap int) (Source, bool) {
	if orig, ok := originals[cacheName]; ok {
		if orig.Worker == nil || orig.Worker.Resources.Cores.InUse < int64(perSourceCap) {
			return orig, true
		}
	}

	holders := replicas.ReadyHolders(workers, cacheName)
	var best *types.Worker
	bestOutgoing := int(^uint(0) >> 1)
	for _, hashkey := range holders {
		w, ok := workers[hashkey]
		if !ok {
			continue
		}
		r := w.CurrentFiles[cacheName]
		if r == nil || r.OutgoingTransfers >= workerTransferCap {
			continue
		}
		if r.OutgoingTransfers < bestOutgoing {
			bestOutgoing = r.OutgoingTransfers
			best = w
		}
	}
	if best == nil {
		return Source{}, false
	}
	return Source{Worker: best, Endpoint: fmt.Sprintf("%s:%d", best.Host, best.TransferPort), CacheName: cacheName}, true
}
