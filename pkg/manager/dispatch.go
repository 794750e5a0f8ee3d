package manager

import (
	"strconv"
	"time"

	"github.com/cuemby/taskforge/pkg/cache"
	"github.com/cuemby/taskforge/pkg/types"
	"github.com/cuemby/taskforge/pkg/wire"
)

// ApplyAsync updates w in place from one async-status line, per spec
// §4.B's enumeration of `info`/`resource`/`feature`/`cache-update`/
// `cache-invalid`/`alive`. replicas is kept in lockstep for
// `cache-update` (new/refreshed READY replica). It reports whether msg
// was in fact an async-status line it knew how to apply.
func ApplyAsync(w *types.Worker, msg wire.Message, replicas *cache.Table) bool {
	switch msg.Verb {
	case "alive":
		w.LastMsgAt = time.Now()
	case "info":
		applyInfo(w, msg)
	case "resource":
		applyResource(w, msg)
	case "feature":
		name, err := wire.DecodeName(msg.Arg(0))
		if err == nil {
			w.Features[name] = true
		}
	case "cache-update":
		applyCacheUpdate(w, msg, replicas)
	case "cache-invalid":
		applyCacheInvalid(w, msg, replicas)
	case "available_results":
		// handled by the event loop's result-draining step; nothing to
		// mutate on the worker record itself.
	default:
		return false
	}
	w.LastMsgAt = time.Now()
	return true
}

func applyInfo(w *types.Worker, msg wire.Message) {
	field, value := msg.Arg(0), msg.Arg(1)
	switch field {
	case "factory_name":
		w.Factory = value
	case "worker_id":
		w.WorkerID = value
	case "end_time":
		if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
			w.EndTime = time.Unix(secs, 0)
		}
	case "tasks_completed":
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			w.TasksCompleted = n
		}
	case "draining":
		w.Draining = value == "1"
	}
}

func applyResource(w *types.Worker, msg wire.Message) {
	name := msg.Arg(0)
	total, _ := strconv.ParseInt(msg.Arg(1), 10, 64)
	smallest, _ := strconv.ParseInt(msg.Arg(2), 10, 64)
	largest, _ := strconv.ParseInt(msg.Arg(3), 10, 64)

	dim := dimFor(w, name)
	if dim == nil {
		return
	}
	dim.Total = total
	dim.Smallest = smallest
	dim.Largest = largest
}

func dimFor(w *types.Worker, name string) *types.ResourceDim {
	switch name {
	case "cores":
		return &w.Resources.Cores
	case "memory":
		return &w.Resources.Memory
	case "disk":
		return &w.Resources.Disk
	case "gpus":
		return &w.Resources.GPUs
	default:
		return nil
	}
}

func applyCacheUpdate(w *types.Worker, msg wire.Message, replicas *cache.Table) {
	name, err := wire.DecodeName(msg.Arg(0))
	if err != nil {
		return
	}
	size, _ := strconv.ParseInt(msg.Arg(1), 10, 64)
	xferUsec, _ := strconv.ParseInt(msg.Arg(2), 10, 64)

	r, ok := w.CurrentFiles[name]
	if !ok {
		r = &types.Replica{CacheName: name}
	}
	r.Size = size
	r.TransferTime = time.Duration(xferUsec) * time.Microsecond
	r.Mtime = time.Now()
	r.State = types.ReplicaReady
	replicas.Insert(w, name, r)
}

// applyCacheInvalid drops a replica on an explicit invalidation. The
// trailing length-prefixed reason message (spec §6: "cache-invalid
// <cache-name> <len>\n<bytes>") is consumed by the caller's reader loop
// before ApplyAsync is invoked; this table has no field to keep the
// reason in, and it is discarded without being logged.
func applyCacheInvalid(w *types.Worker, msg wire.Message, replicas *cache.Table) {
	name, err := wire.DecodeName(msg.Arg(0))
	if err != nil {
		return
	}
	replicas.Remove(w, name)
}
