package transfer

import (
	"fmt"
	"os"
)

// WatchState tracks one output mount's watch progress across the
// `update <task-id> <remote-name> <offset> <length>` lines a worker
// emits for a mount with the watch flag set (spec §4.F).
type WatchState struct {
	LocalPath string
	lastSize  int64
	active    bool
}

// NewWatchState opens (or truncates) localPath for incremental writes.
func NewWatchState(localPath string) (*WatchState, error) {
	f, err := os.OpenFile(localPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open watch target %s: %w", localPath, err)
	}
	f.Close()
	return &WatchState{LocalPath: localPath, active: true}, nil
}

// ApplyUpdate appends the bytes of one `update` record at offset,
// unless the reported size has shrunk, in which case the mount is
// downgraded to "no longer watched" rather than failed (spec §4.F).
func (w *WatchState) ApplyUpdate(offset, length int64, data []byte) error {
	if !w.active {
		return nil
	}
	if offset < w.lastSize {
		w.active = false
		return nil
	}
	f, err := os.OpenFile(w.LocalPath, os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("reopen watch target %s: %w", w.LocalPath, err)
	}
	defer f.Close()
	if _, err := f.WriteAt(data, offset); err != nil {
		return fmt.Errorf("write watch target %s: %w", w.LocalPath, err)
	}
	w.lastSize = offset + length
	return nil
}
