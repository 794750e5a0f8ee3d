package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/taskforge/pkg/cache"
	"github.com/cuemby/taskforge/pkg/types"
)

func TestStageInputsSkipsAlreadyLocal(t *testing.T) {
	dest := types.NewWorker("dest")
	dest.CurrentFiles["cached-input"] = &types.Replica{State: types.ReplicaReady}

	art := &types.Artifact{Kind: types.ArtifactLocalFile, Path: "/tmp/in"}
	art.SetCacheName("cached-input")
	task := &types.Task{Inputs: []types.Mount{{Artifact: art}}}

	plan := StageInputs(task, dest, map[string]*types.Worker{"dest": dest}, cache.NewTable(), nil, 1, 1)
	assert.Empty(t, plan.Directives)
	assert.Empty(t, plan.Missing)
}

func TestStageInputsUsesOriginalSourceUnderCap(t *testing.T) {
	dest := types.NewWorker("dest")
	art := &types.Artifact{Kind: types.ArtifactLocalFile, Path: "/tmp/in"}
	art.SetCacheName("fresh-input")
	task := &types.Task{Inputs: []types.Mount{{Artifact: art}}}

	originals := map[string]Source{
		"fresh-input": {Worker: nil, Endpoint: "manager:9000", CacheName: "fresh-input"},
	}

	plan := StageInputs(task, dest, map[string]*types.Worker{"dest": dest}, cache.NewTable(), originals, 1, 1)
	require.Len(t, plan.Directives, 1)
	assert.Equal(t, "fresh-input", plan.Directives[0].CacheName)
	assert.Contains(t, plan.Directives[0].URL, "manager:9000")
}

func TestStageInputsFallsBackToPeerReplica(t *testing.T) {
	dest := types.NewWorker("dest")
	holder := types.NewWorker("holder")
	holder.Host = "10.0.0.5"
	holder.TransferPort = 9123
	holder.CurrentFiles["peer-input"] = &types.Replica{State: types.ReplicaReady, OutgoingTransfers: 0}

	replicas := cache.NewTable()
	replicas.Insert(holder, "peer-input", holder.CurrentFiles["peer-input"])

	art := &types.Artifact{Kind: types.ArtifactLocalFile, Path: "/tmp/in"}
	art.SetCacheName("peer-input")
	task := &types.Task{Inputs: []types.Mount{{Artifact: art}}}

	workers := map[string]*types.Worker{"dest": dest, "holder": holder}
	plan := StageInputs(task, dest, workers, replicas, nil, 1, 1)
	require.Len(t, plan.Directives, 1)
	assert.Contains(t, plan.Directives[0].URL, "10.0.0.5:9123")
}

func TestStageInputsReportsMissingWithNoSource(t *testing.T) {
	dest := types.NewWorker("dest")
	art := &types.Artifact{Kind: types.ArtifactLocalFile, Path: "/tmp/in"}
	art.SetCacheName("nowhere")
	task := &types.Task{Inputs: []types.Mount{{Artifact: art}}}

	plan := StageInputs(task, dest, map[string]*types.Worker{"dest": dest}, cache.NewTable(), nil, 1, 1)
	assert.Empty(t, plan.Directives)
	assert.Equal(t, []string{"nowhere"}, plan.Missing)
}
