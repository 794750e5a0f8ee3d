package transfer

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/taskforge/pkg/types"
	"github.com/cuemby/taskforge/pkg/wire"
)

// RetrieveOutputs fetches every output mount of t from conn (a
// connection to the worker that ran it) into localRoot, per spec §4.E:
// issue `get <cache-name>`, stream the item-transfer protocol, and
// collect missing-output subrecords rather than failing the whole
// retrieval. Success-only / failure-only mounts are skipped based on
// the task's exit code.
func RetrieveOutputs(conn *wire.Conn, t *types.Task, localRoot string, timeout time.Duration, limiter *wire.Limiter) ([]wire.MissingOutput, int64, error) {
	var missing []wire.MissingOutput
	var total int64
	succeeded := t.ExitCode == 0

	for _, m := range t.Outputs {
		if m.Artifact.SuccessOnly && !succeeded {
			continue
		}
		if m.Artifact.FailureOnly && succeeded {
			continue
		}
		name := m.Artifact.CacheName()
		if err := conn.SendLine(timeout, "get %s", wire.EncodeName(name)); err != nil {
			return missing, total, types.NewWorkerFailure(t.WorkerHash, fmt.Errorf("request output %s: %w", name, err))
		}
		localPath := filepath.Join(localRoot, m.RemoteName)
		n, m2, err := wire.GetItem(conn, localPath, timeout, limiter)
		total += n
		missing = append(missing, m2...)
		if err != nil {
			return missing, total, types.NewWorkerFailure(t.WorkerHash, fmt.Errorf("retrieve output %s: %w", name, err))
		}
	}
	return missing, total, nil
}

// CleanupUncacheableInputs issues `unlink <cache-name>` for every input
// mount of t that is not cacheable, completing the
// WAITING_RETRIEVAL -> RETRIEVED step of spec §4.F.
func CleanupUncacheableInputs(conn *wire.Conn, t *types.Task, timeout time.Duration) error {
	for _, m := range t.Inputs {
		if m.Artifact.Cacheable {
			continue
		}
		name := m.Artifact.CacheName()
		if err := conn.SendLine(timeout, "unlink %s", wire.EncodeName(name)); err != nil {
			return types.NewWorkerFailure(t.WorkerHash, fmt.Errorf("unlink %s: %w", name, err))
		}
	}
	return nil
}
