package manager

import (
	"encoding/json"
	"time"

	"github.com/cuemby/taskforge/pkg/types"
)

// statusRequest is a worker-link or HTTP status query handed to the
// event loop (spec §6: "Status query via worker link" and "HTTP
// introspection"), mirroring the submitCh/cancelCh/reapCh pattern since
// only the event loop may read m.tasks/m.workers/m.categories.
type statusRequest struct {
	kind string
	resp chan []byte
}

// Status answers one of the five status-query kinds cctools' work_queue
// calls queue_status/task_status/worker_status/resources_status/
// wable_status, producing the JSON array spec §6 requires. Safe to call
// from any goroutine; unknown kinds return nil.
func (m *Manager) Status(kind string) []byte {
	resp := make(chan []byte, 1)
	m.statusCh <- statusRequest{kind: kind, resp: resp}
	return <-resp
}

// buildStatusDocument is the event-loop-side implementation of Status,
// grounded in work_queue.c's construct_status_message: queue_status and
// resources_status both report the single queue-wide summary,
// task_status and worker_status each report one array entry per live
// record, and wable_status reports one entry per category's learned
// model.
func (m *Manager) buildStatusDocument(kind string) []byte {
	switch kind {
	case "queue_status", "resources_status":
		return marshalArray(m.queueSummary())
	case "task_status":
		return marshalArray(m.taskSummaries())
	case "worker_status":
		return marshalArray(m.workerSummaries())
	case "wable_status":
		return marshalArray(m.categorySummaries())
	default:
		return nil
	}
}

func marshalArray(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// queueStatus is the one-element array body for queue_status/
// resources_status: aggregate counters across every table the event
// loop owns.
type queueStatus struct {
	TasksWaiting     int       `json:"tasks_waiting"`
	TasksRunning     int       `json:"tasks_running"`
	TasksComplete    int64     `json:"tasks_complete"`
	WorkersConnected int       `json:"workers_connected"`
	TotalCores       int64     `json:"total_cores"`
	TotalMemory      int64     `json:"total_memory"`
	TotalDisk        int64     `json:"total_disk"`
	TotalGPUs        int64     `json:"total_gpus"`
	StartTime        time.Time `json:"start_time"`
	ProjectName      string    `json:"project_name"`
}

func (m *Manager) queueSummary() []queueStatus {
	var running, done int64
	for _, t := range m.tasks {
		if t.State == types.TaskRunning {
			running++
		}
		if t.State == types.TaskDone {
			done++
		}
	}
	var cores, memory, disk, gpus int64
	for _, w := range m.workers {
		cores += w.Resources.Cores.Total
		memory += w.Resources.Memory.Total
		disk += w.Resources.Disk.Total
		gpus += w.Resources.GPUs.Total
	}
	return []queueStatus{{
		TasksWaiting:     len(m.ready),
		TasksRunning:     int(running),
		TasksComplete:    done,
		WorkersConnected: len(m.workers),
		TotalCores:       cores,
		TotalMemory:      memory,
		TotalDisk:        disk,
		TotalGPUs:        gpus,
		StartTime:        m.startedAt,
		ProjectName:      m.cfg.ProjectName,
	}}
}

// taskStatus is one array entry of task_status, mirroring
// task_to_jx's fields plus the running-task timestamps
// construct_status_message adds for tasks with a worker assigned.
type taskStatus struct {
	TaskID      int64  `json:"task_id"`
	State       string `json:"state"`
	Category    string `json:"category"`
	Priority    int    `json:"priority"`
	CommandLine string `json:"command_line"`
	Host        string `json:"host,omitempty"`
	AddressPort string `json:"address_port,omitempty"`

	TimeSubmitted   int64 `json:"time_when_submitted"`
	TimeCommitStart int64 `json:"time_when_commit_start,omitempty"`
	CurrentTime     int64 `json:"current_time"`
}

func (m *Manager) taskSummaries() []taskStatus {
	out := make([]taskStatus, 0, len(m.tasks))
	now := time.Now()
	for _, t := range m.tasks {
		ts := taskStatus{
			TaskID:        t.ID,
			State:         t.State.String(),
			Category:      t.Category,
			Priority:      t.Priority,
			CommandLine:   t.CommandLine,
			TimeSubmitted: t.Timings.Submitted.Unix(),
			CurrentTime:   now.Unix(),
		}
		if w, ok := m.workers[t.WorkerHash]; ok {
			ts.Host = w.Host
			ts.AddressPort = w.Hashkey
			if !t.Timings.CommitStart.IsZero() {
				ts.TimeCommitStart = t.Timings.CommitStart.Unix()
			}
		}
		out = append(out, ts)
	}
	return out
}

// workerStatus is one array entry of worker_status, mirroring
// worker_to_jx's resource and task-count fields.
type workerStatus struct {
	Hashkey        string `json:"hashkey"`
	Host           string `json:"host"`
	OS             string `json:"os"`
	Arch           string `json:"arch"`
	Version        string `json:"version"`
	Cores          int64  `json:"cores"`
	CoresInUse     int64  `json:"cores_inuse"`
	Memory         int64  `json:"memory"`
	MemoryInUse    int64  `json:"memory_inuse"`
	Disk           int64  `json:"disk"`
	DiskInUse      int64  `json:"disk_inuse"`
	GPUs           int64  `json:"gpus"`
	GPUsInUse      int64  `json:"gpus_inuse"`
	TasksRunning   int    `json:"tasks_running"`
	TasksCompleted int64  `json:"tasks_complete"`
	Draining       bool   `json:"draining"`
}

func (m *Manager) workerSummaries() []workerStatus {
	out := make([]workerStatus, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, workerStatus{
			Hashkey:        w.Hashkey,
			Host:           w.Host,
			OS:             w.OS,
			Arch:           w.Arch,
			Version:        w.Version,
			Cores:          w.Resources.Cores.Total,
			CoresInUse:     w.Resources.Cores.InUse,
			Memory:         w.Resources.Memory.Total,
			MemoryInUse:    w.Resources.Memory.InUse,
			Disk:           w.Resources.Disk.Total,
			DiskInUse:      w.Resources.Disk.InUse,
			GPUs:           w.Resources.GPUs.Total,
			GPUsInUse:      w.Resources.GPUs.InUse,
			TasksRunning:   len(w.CurrentTasks),
			TasksCompleted: w.TasksCompleted,
			Draining:       w.Draining,
		})
	}
	return out
}

// categoryStatus is one array entry of wable_status, named after the
// "workable" categories whose learned allocations it reports.
type categoryStatus struct {
	Category       string  `json:"category"`
	Mode           int     `json:"allocation_mode"`
	FirstCores     float64 `json:"first_cores"`
	FirstMemory    int64   `json:"first_memory"`
	FirstDisk      int64   `json:"first_disk"`
	MaxCores       float64 `json:"max_cores"`
	MaxMemory      int64   `json:"max_memory"`
	MaxDisk        int64   `json:"max_disk"`
	TasksWaiting   int64   `json:"tasks_waiting"`
	TasksOnWorkers int64   `json:"tasks_on_workers"`
	TasksDone      int64   `json:"tasks_done"`
	TasksFailed    int64   `json:"tasks_failed"`
	AverageRuntime float64 `json:"average_task_time"`
}

func (m *Manager) categorySummaries() []categoryStatus {
	cats := m.categories.All()
	out := make([]categoryStatus, 0, len(cats))
	for _, c := range cats {
		out = append(out, categoryStatus{
			Category:       c.Name,
			Mode:           int(c.Mode),
			FirstCores:     c.FirstAllocation.Cores,
			FirstMemory:    c.FirstAllocation.Memory,
			FirstDisk:      c.FirstAllocation.Disk,
			MaxCores:       c.MaxAllocation.Cores,
			MaxMemory:      c.MaxAllocation.Memory,
			MaxDisk:        c.MaxAllocation.Disk,
			TasksWaiting:   c.Stats.TasksWaiting,
			TasksOnWorkers: c.Stats.TasksOnWorkers,
			TasksDone:      c.Stats.TasksDone,
			TasksFailed:    c.Stats.TasksFailed,
			AverageRuntime: c.Stats.AverageRuntime().Seconds(),
		})
	}
	return out
}
