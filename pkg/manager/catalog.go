package manager

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/taskforge/pkg/types"
)

// catalogDocument is the periodic summary the manager advertises to its
// configured catalog hosts (spec §6: "address, port, SSL flag, project
// name, owner, counters, per-category stats, total/committed
// resources"). The catalog's own wire format is an external collaborator
// this repository does not standardize on, so this document is this
// implementation's own reasonable shape rather than a byte-for-byte
// reproduction of any particular catalog server's schema.
type catalogDocument struct {
	Project     string              `json:"project"`
	StartedAt   int64               `json:"started"`
	Workers     int                 `json:"workers"`
	TasksReady  int                 `json:"tasks_waiting"`
	TasksRunning int                `json:"tasks_running"`
	TotalCores  int64               `json:"total_cores"`
	TotalMemory int64               `json:"total_memory_mb"`
	TotalDisk   int64               `json:"total_disk_mb"`
	Categories  map[string]catStats `json:"categories,omitempty"`
}

type catStats struct {
	Submitted int64 `json:"tasks_submitted"`
	Dispatched int64 `json:"tasks_dispatched"`
	Completed int64 `json:"tasks_completed"`
}

// leanCatalogDocSize is the size budget past which the lean variant
// (category stats dropped) is sent instead (spec §6).
const leanCatalogDocSize = 64 * 1024

// updateCatalog snapshots the current summary document from the event
// loop (cheap, no I/O) and hands it to a detached goroutine that does
// the actual network PUTs, so a slow or unreachable catalog host never
// blocks the event loop (spec §5's no-blocking-I/O-in-the-loop rule).
func (m *Manager) updateCatalog() {
	if len(m.cfg.CatalogHosts) == 0 {
		return
	}
	doc := m.buildCatalogDocument()
	hosts := append([]string(nil), m.cfg.CatalogHosts...)
	go sendCatalogDocument(doc, hosts, m.logger)
}

// sendCatalogDocument performs the actual HTTP PUTs. It touches no
// Manager state and is safe to run on its own goroutine.
func sendCatalogDocument(doc catalogDocument, hosts []string, logger zerolog.Logger) {
	body, err := json.Marshal(doc)
	if err != nil {
		logger.Warn().Err(err).Msg("catalog document marshal failed")
		return
	}
	if len(body) > leanCatalogDocSize {
		doc.Categories = nil
		if body, err = json.Marshal(doc); err != nil {
			return
		}
	}

	client := &http.Client{Timeout: 10 * time.Second}
	for _, host := range hosts {
		req, err := http.NewRequest(http.MethodPut, host, bytes.NewReader(body))
		if err != nil {
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			logger.Debug().Err(err).Str("host", host).Msg("catalog update failed")
			continue
		}
		resp.Body.Close()
	}
}

// buildCatalogDocument must only be called from the event-loop goroutine:
// it reads m.tasks/m.workers directly.
func (m *Manager) buildCatalogDocument() catalogDocument {
	doc := catalogDocument{
		Project:   m.cfg.ProjectName,
		StartedAt: m.startedAt.Unix(),
		Workers:   len(m.workers),
	}
	for _, t := range m.tasks {
		switch t.State {
		case types.TaskReady:
			doc.TasksReady++
		case types.TaskRunning:
			doc.TasksRunning++
		}
	}
	for _, w := range m.workers {
		doc.TotalCores += w.Resources.Cores.Total
		doc.TotalMemory += w.Resources.Memory.Total / (1 << 20)
		doc.TotalDisk += w.Resources.Disk.Total / (1 << 20)
	}
	doc.Categories = make(map[string]catStats)
	for _, c := range m.categories.All() {
		doc.Categories[c.Name] = catStats{
			Submitted:  c.Stats.TasksSubmitted,
			Dispatched: c.Stats.TasksOnWorkers,
			Completed:  c.Stats.TasksDone,
		}
	}
	return doc
}
