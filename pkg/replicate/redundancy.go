package replicate

import (
	"sort"

	"github.com/cuemby/taskforge/pkg/cache"
	"github.com/cuemby/taskforge/pkg/types"
)

// Eviction names a replica to drop during redundancy cleanup.
type Eviction struct {
	Worker    *types.Worker
	CacheName string
}

// PruneRedundant removes replicas of cacheName from the most heavily
// loaded workers until the live count equals target, per spec §4.I's
// "redundant-replica cleanup" paragraph. A replica currently serving as
// an input of a running task is never a candidate.
func PruneRedundant(cacheName string, target int, replicas *cache.Table, workers map[string]*types.Worker, inUseBy func(workerHash, cacheName string) bool) []Eviction {
	holders := replicas.ReadyHolders(workers, cacheName)
	if len(holders) <= target {
		return nil
	}

	type candidate struct {
		hashkey string
		load    float64
	}
	var cands []candidate
	for _, hashkey := range holders {
		if inUseBy(hashkey, cacheName) {
			continue
		}
		w := workers[hashkey]
		if w == nil {
			continue
		}
		cands = append(cands, candidate{hashkey: hashkey, load: loadFraction(w)})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].load > cands[j].load })

	excess := len(holders) - target
	var evictions []Eviction
	for i := 0; i < excess && i < len(cands); i++ {
		evictions = append(evictions, Eviction{Worker: workers[cands[i].hashkey], CacheName: cacheName})
	}
	return evictions
}

// loadFraction is the average committed fraction across cores, memory,
// and disk, used both for redundancy cleanup and disk-load shifting.
func loadFraction(w *types.Worker) float64 {
	var sum float64
	var n int
	if w.Resources.Cores.Total > 0 {
		sum += float64(w.Resources.Cores.InUse) / float64(w.Resources.Cores.Total)
		n++
	}
	if w.Resources.Memory.Total > 0 {
		sum += float64(w.Resources.Memory.InUse) / float64(w.Resources.Memory.Total)
		n++
	}
	if w.Resources.Disk.Total > 0 {
		sum += float64(w.Resources.Disk.InUse) / float64(w.Resources.Disk.Total)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// ShiftCandidate finds a lighter peer that could take over cacheName
// from src without becoming heavier than src would be after removing
// it, per spec §4.I's "disk-load shifting" paragraph. The caller
// launches a peer transfer to dst and relies on the redundancy sweeper
// to clean up src's original replica once the new one is ready.
func ShiftCandidate(cacheName string, size int64, src *types.Worker, workers map[string]*types.Worker) *types.Worker {
	srcAfter := loadAfterRemoval(src, size)
	var best *types.Worker
	bestLoad := srcAfter
	for _, w := range workers {
		if w.Hashkey == src.Hashkey {
			continue
		}
		if _, has := w.CurrentFiles[cacheName]; has {
			continue
		}
		after := loadAfterAddition(w, size)
		if after >= srcAfter {
			continue
		}
		if best == nil || loadFraction(w) < bestLoad {
			best = w
			bestLoad = loadFraction(w)
		}
	}
	return best
}

// ShiftSource picks the most heavily loaded worker among holders as the
// disk-load-shifting candidate's source, per spec §4.I's "if a worker
// holds a temp artifact and is more heavily loaded" test.
func ShiftSource(holders []string, workers map[string]*types.Worker) *types.Worker {
	var best *types.Worker
	bestLoad := -1.0
	for _, hashkey := range holders {
		w := workers[hashkey]
		if w == nil {
			continue
		}
		if l := loadFraction(w); l > bestLoad {
			bestLoad = l
			best = w
		}
	}
	return best
}

func loadAfterRemoval(w *types.Worker, size int64) float64 {
	if w.Resources.Disk.Total == 0 {
		return 0
	}
	inUse := w.Resources.Disk.InUse - size
	if inUse < 0 {
		inUse = 0
	}
	return float64(inUse) / float64(w.Resources.Disk.Total)
}

func loadAfterAddition(w *types.Worker, size int64) float64 {
	if w.Resources.Disk.Total == 0 {
		return 1
	}
	return float64(w.Resources.Disk.InUse+size) / float64(w.Resources.Disk.Total)
}
