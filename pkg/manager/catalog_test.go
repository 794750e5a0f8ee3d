package manager

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/taskforge/pkg/types"
)

func TestBuildCatalogDocumentTalliesTasksAndWorkers(t *testing.T) {
	m := newTestManager()
	m.cfg.ProjectName = "test-project"

	ready := newTestTask("batch", 1)
	m.submit(ready)

	running := newTestTask("batch", 1)
	m.submit(running)
	setState(running, types.TaskRunning)

	w := types.NewWorker("w1")
	w.Resources.Cores.Total = 4
	w.Resources.Memory.Total = 8 << 20
	m.workers[w.Hashkey] = w

	doc := m.buildCatalogDocument()

	assert.Equal(t, "test-project", doc.Project)
	assert.Equal(t, 1, doc.Workers)
	assert.Equal(t, 1, doc.TasksReady)
	assert.Equal(t, 1, doc.TasksRunning)
	assert.Equal(t, int64(4), doc.TotalCores)
	stats, ok := doc.Categories["batch"]
	assert.True(t, ok)
	assert.Equal(t, int64(2), stats.Submitted)
}

func TestUpdateCatalogNoOpWithoutHosts(t *testing.T) {
	m := newTestManager()
	m.updateCatalog() // must not panic or block with no catalog hosts configured
}
