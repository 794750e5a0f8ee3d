package replicate

import (
	"sort"
)

// ProducerInfo is the subset of a producing task's timing needed to
// compute recovery-time penalties: how long it ran, and which artifact
// (if any) it consumed as its own input (to walk the producer sub-DAG).
type ProducerInfo struct {
	ExecuteTime      float64 // seconds
	ParentCacheNames []string
}

// Penalty computes spec §4.I's checkpoint retention penalty for one
// artifact: 0.5*(critical path recovery time) + 0.5*(total recovery
// time) over the producer sub-DAG: critical is the producer's own execute
// time plus the largest critical time among the artifacts it consumed,
// total is its execute time plus the sum of their total times.
func Penalty(cacheName string, producers map[string]ProducerInfo) float64 {
	critical, total := recoveryTimes(cacheName, producers, make(map[string]bool))
	return 0.5*critical + 0.5*total
}

// recoveryTimes returns (criticalPathTime, totalTime) for recovering
// cacheName from scratch: the producer's own execute time, plus the max
// (critical) or sum (total) over its parents' recovery times.
func recoveryTimes(cacheName string, producers map[string]ProducerInfo, visiting map[string]bool) (float64, float64) {
	info, ok := producers[cacheName]
	if !ok || visiting[cacheName] {
		return 0, 0
	}
	visiting[cacheName] = true
	defer delete(visiting, cacheName)

	var maxParent, sumParent float64
	for _, parent := range info.ParentCacheNames {
		c, t := recoveryTimes(parent, producers, visiting)
		if c > maxParent {
			maxParent = c
		}
		sumParent += t
	}
	return info.ExecuteTime + maxParent, info.ExecuteTime + sumParent
}

// Checkpointed tracks per-worker byte usage of checkpointed artifacts,
// for the eviction-by-efficiency decision below.
type Checkpointed struct {
	CacheName string
	Size      int64
	Penalty   float64
}

// efficiency is penalty per byte: a cheap artifact to recover, or a
// large one, is a worse use of checkpoint space than a costly, small one.
func (c Checkpointed) efficiency() float64 {
	if c.Size == 0 {
		return 0
	}
	return c.Penalty / float64(c.Size)
}

// PlanEviction decides whether admitting candidate onto a full
// checkpoint worker is worth evicting some existing checkpointed set,
// per spec §4.I: evict only if it both frees enough room and improves
// overall efficiency (the evicted set's aggregate efficiency must be
// worse than the candidate's).
//
// existing is every artifact currently checkpointed on the worker;
// freeBytes is the worker's currently free space. Returns the artifacts
// to evict, or nil if no eviction is justified.
func PlanEviction(candidateName string, candidateSize int64, candidatePenalty float64, existing []Checkpointed, freeBytes int64) []string {
	if candidateSize <= freeBytes {
		return nil // already fits, nothing to evict
	}
	needed := candidateSize - freeBytes

	sorted := append([]Checkpointed(nil), existing...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].efficiency() < sorted[j].efficiency() })

	candEff := Checkpointed{CacheName: candidateName, Size: candidateSize, Penalty: candidatePenalty}.efficiency()

	var evicted []string
	var freed int64
	var evictedPenalty, evictedBytes float64
	for _, c := range sorted {
		if freed >= needed {
			break
		}
		evicted = append(evicted, c.CacheName)
		freed += c.Size
		evictedPenalty += c.Penalty
		evictedBytes += float64(c.Size)
	}
	if freed < needed {
		return nil // cannot free enough room regardless of efficiency
	}
	evictedSetEff := 0.0
	if evictedBytes > 0 {
		evictedSetEff = evictedPenalty / evictedBytes
	}
	if evictedSetEff >= candEff {
		return nil // evicting would not improve overall efficiency
	}
	return evicted
}
