package replicate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/taskforge/pkg/cache"
	"github.com/cuemby/taskforge/pkg/types"
)

func worker(hashkey, host string, diskTotal, diskInUse int64) *types.Worker {
	w := types.NewWorker(hashkey)
	w.Host = host
	w.Resources.Disk.Total = diskTotal
	w.Resources.Disk.InUse = diskInUse
	return w
}

func TestQueueEnqueueDedupesAndPopsInPriorityOrder(t *testing.T) {
	q := NewQueue()
	q.Enqueue("b", 5)
	q.Enqueue("a", 1)
	q.Enqueue("a", 1) // dup, ignored

	popped := q.Pop(2)
	assert.Equal(t, []string{"a", "b"}, popped)
}

func TestQueueRequeueLowersPriority(t *testing.T) {
	q := NewQueue()
	q.Enqueue("a", 0)
	q.Pop(1)
	q.Requeue("a", 10)
	q.Enqueue("b", 1)

	popped := q.Pop(2)
	assert.Equal(t, []string{"b", "a"}, popped)
}

func TestTickPrunesArtifactWithNoReadyHolders(t *testing.T) {
	q := NewQueue()
	q.Enqueue("gone", 0)
	replicas := cache.NewTable()

	outcomes := Tick(q, replicas, map[string]*types.Worker{}, 2, 2, 10)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Prune)
}

func TestTickLaunchesTransferToDifferentHostWithMostFreeDisk(t *testing.T) {
	q := NewQueue()
	q.Enqueue("art", 0)

	src := worker("src", "host-a", 100, 0)
	src.CurrentFiles["art"] = &types.Replica{State: types.ReplicaReady, OutgoingTransfers: 0}
	tight := worker("tight", "host-b", 100, 90)
	roomy := worker("roomy", "host-c", 100, 10)

	replicas := cache.NewTable()
	replicas.Insert(src, "art", src.CurrentFiles["art"])

	workers := map[string]*types.Worker{"src": src, "tight": tight, "roomy": roomy}
	outcomes := Tick(q, replicas, workers, 2, 2, 10)
	require.Len(t, outcomes, 1)
	require.NotNil(t, outcomes[0].Plan)
	assert.Equal(t, "roomy", outcomes[0].Plan.Dest.Hashkey)
	assert.Equal(t, "src", outcomes[0].Plan.Source.Hashkey)
}

func TestPruneRedundantSkipsReplicasInUse(t *testing.T) {
	light := worker("light", "host-a", 100, 10)
	heavy := worker("heavy", "host-b", 100, 90)
	light.CurrentFiles["art"] = &types.Replica{State: types.ReplicaReady}
	heavy.CurrentFiles["art"] = &types.Replica{State: types.ReplicaReady}

	replicas := cache.NewTable()
	replicas.Insert(light, "art", light.CurrentFiles["art"])
	replicas.Insert(heavy, "art", heavy.CurrentFiles["art"])

	workers := map[string]*types.Worker{"light": light, "heavy": heavy}
	inUse := func(hashkey, cacheName string) bool { return hashkey == "heavy" }

	evictions := PruneRedundant("art", 1, replicas, workers, inUse)
	require.Len(t, evictions, 1)
	assert.Equal(t, "light", evictions[0].Worker.Hashkey)
}

func TestPenaltyIsZeroForArtifactWithNoProducer(t *testing.T) {
	p := Penalty("orphan", map[string]ProducerInfo{})
	assert.Zero(t, p)
}

func TestPenaltyAccountsForProducerChain(t *testing.T) {
	producers := map[string]ProducerInfo{
		"root":  {ExecuteTime: 10},
		"child": {ExecuteTime: 5, ParentCacheNames: []string{"root"}},
	}
	p := Penalty("child", producers)
	// critical = total = 5 + 10 = 15; penalty = 0.5*15 + 0.5*15 = 15
	assert.Equal(t, 15.0, p)
}

func TestPlanEvictionRequiresBothRoomAndEfficiencyGain(t *testing.T) {
	existing := []Checkpointed{
		{CacheName: "cheap", Size: 100, Penalty: 1}, // efficiency 0.01
	}
	evicted := PlanEviction("pricey", 100, 50, existing, 0)
	require.Len(t, evicted, 1)
	assert.Equal(t, "cheap", evicted[0])

	noRoom := PlanEviction("pricey", 1000, 50, existing, 0)
	assert.Nil(t, noRoom)
}
