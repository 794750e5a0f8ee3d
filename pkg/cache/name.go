// Package cache implements the content-addressed artifact-naming scheme
// (spec §3, §4.C) and the cross-worker replica index (spec §4.D).
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/cuemby/taskforge/pkg/types"
)

// uncacheableSeq makes the cache-name of a non-cacheable artifact unique
// per task instance, so the worker is told not to keep the file after the
// task completes (spec §4.C, last bullet).
var uncacheableSeq uint64

// Name computes the deterministic cache-name of an artifact and memoizes
// it on the artifact itself. Calling Name on two cacheable, non-buffer
// artifacts with the same fingerprint (including two clones of the same
// artifact) returns the same string — the round-trip law in spec §8. A
// buffer, or an uncacheable artifact, gets a fresh name each time one
// without a memoized name is passed in.
func Name(a *types.Artifact) string {
	if existing := a.CacheName(); existing != "" {
		return existing
	}

	var name string
	switch a.Kind {
	case types.ArtifactLocalFile:
		name = localFileName(a)
	case types.ArtifactURL:
		name = fmt.Sprintf("url-%s", shortHash(a.URL))
	case types.ArtifactMiniTask:
		cmd := ""
		if a.Producer != nil {
			cmd = a.Producer.CommandLine
		}
		name = fmt.Sprintf("minitask-%s", shortHash(cmd))
	case types.ArtifactBuffer:
		// Buffers are never shareable: a fresh identifier every time.
		name = fmt.Sprintf("buffer-%s", uuid.New().String())
	case types.ArtifactEmptyDir:
		name = "emptydir"
	case types.ArtifactTemp:
		name = fmt.Sprintf("temp-%s", shortHash(a.Path))
	default:
		name = fmt.Sprintf("unknown-%s", uuid.New().String())
	}

	if !a.Cacheable && a.Kind != types.ArtifactBuffer {
		seq := atomic.AddUint64(&uncacheableSeq, 1)
		name = fmt.Sprintf("%s-instance-%d", name, seq)
	}

	a.SetCacheName(name)
	return name
}

// localFileName hashes the absolute source path (and, for a partial-file
// mount, the byte range) so distinct ranges of the same file never alias,
// while keeping the basename visible for debuggability.
func localFileName(a *types.Artifact) string {
	base := filepath.Base(a.Path)
	fingerprint := a.Path
	if a.Range.Offset != 0 || a.Range.Length != 0 {
		fingerprint = fmt.Sprintf("%s:%d:%d", a.Path, a.Range.Offset, a.Range.Length)
	}
	return fmt.Sprintf("file-%s-%s", shortHash(fingerprint), base)
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
