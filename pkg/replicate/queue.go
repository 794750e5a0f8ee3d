// Package replicate implements the replication and optional checkpoint
// engine of spec §4.I: maintaining a target replica count for Temp
// artifacts, peer-to-peer transfer scheduling, penalty-based checkpoint
// retention, redundant-replica cleanup, and disk-load shifting.
package replicate

import (
	"container/heap"

	"github.com/cuemby/taskforge/pkg/cache"
	"github.com/cuemby/taskforge/pkg/types"
)

// item is one queued replication request. Lower priority value pops
// first; re-queues after a failed attempt lower the priority (push the
// item later) so other artifacts get a turn.
type item struct {
	cacheName string
	priority  int
	index     int
}

type priorityQueue []*item

func (pq priorityQueue) Len() int            { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool  { return pq[i].priority < pq[j].priority }
func (pq priorityQueue) Swap(i, j int)       { pq[i], pq[j] = pq[j], pq[i]; pq[i].index = i; pq[j].index = j }
func (pq *priorityQueue) Push(x interface{}) {
	it := x.(*item)
	it.index = len(*pq)
	*pq = append(*pq, it)
}
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return it
}

// Queue tracks which Temp artifacts need more (or fewer) replicas.
type Queue struct {
	pq      priorityQueue
	queued  map[string]bool
	targets map[string]int
}

// NewQueue creates an empty replication queue.
func NewQueue() *Queue {
	return &Queue{queued: make(map[string]bool), targets: make(map[string]int)}
}

// SetTarget records the desired live replica count for an artifact.
func (q *Queue) SetTarget(cacheName string, target int) { q.targets[cacheName] = target }

// Target returns the desired replica count, defaulting to 1.
func (q *Queue) Target(cacheName string) int {
	if t, ok := q.targets[cacheName]; ok {
		return t
	}
	return 1
}

// Enqueue adds cacheName at the given priority unless it is already
// queued.
func (q *Queue) Enqueue(cacheName string, priority int) {
	if q.queued[cacheName] {
		return
	}
	heap.Push(&q.pq, &item{cacheName: cacheName, priority: priority})
	q.queued[cacheName] = true
}

// Requeue lowers cacheName's priority and re-enqueues it, the
// no-suitable-source/destination path of spec §4.I.
func (q *Queue) Requeue(cacheName string, lowerBy int) {
	q.queued[cacheName] = false
	q.Enqueue(cacheName, lowerBy)
}

// Len returns the number of artifacts currently queued for replication.
func (q *Queue) Len() int { return q.pq.Len() }

// Pop removes and returns up to n cache-names in priority order.
func (q *Queue) Pop(n int) []string {
	var out []string
	for len(out) < n && q.pq.Len() > 0 {
		it := heap.Pop(&q.pq).(*item)
		q.queued[it.cacheName] = false
		out = append(out, it.cacheName)
	}
	return out
}

// Sweep scans every Temp artifact holder record and enqueues any whose
// live READY replica count is below target, per spec §4.I's first
// paragraph.
func Sweep(q *Queue, replicas *cache.Table, cacheNames []string, workers map[string]*types.Worker) {
	for _, name := range cacheNames {
		holders := replicas.ReadyHolders(workers, name)
		if len(holders) == 0 {
			continue
		}
		if len(holders) < q.Target(name) {
			q.Enqueue(name, 0)
		}
	}
}
