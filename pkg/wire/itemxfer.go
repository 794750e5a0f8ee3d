package wire

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const putChunkSize = 64 * 1024

// PutItem recursively sends a local filesystem entry to the peer,
// following the recursive protocol of spec §4.A:
//
//	dir <name> / <children...> / end     -- directory
//	symlink <name> <length>\n<target>     -- symlink (inner links not followed)
//	file <name> <length> <mode>\n<bytes>  -- regular file
//
// The top-level path's own symlink-ness is followed (os.Stat), but a
// symlink encountered while recursing into a directory is sent as a
// symlink record rather than dereferenced.
func PutItem(conn *Conn, localPath, remoteName string, timeout time.Duration, limiter *Limiter) (int64, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", localPath, err)
	}
	return putEntry(conn, localPath, remoteName, info, timeout, limiter, true)
}

func putEntry(conn *Conn, localPath, remoteName string, info os.FileInfo, timeout time.Duration, limiter *Limiter, topLevel bool) (int64, error) {
	if !topLevel {
		if lst, err := os.Lstat(localPath); err == nil && lst.Mode()&os.ModeSymlink != 0 {
			return putSymlink(conn, localPath, remoteName, timeout)
		}
	}

	switch {
	case info.IsDir():
		return putDir(conn, localPath, remoteName, timeout, limiter)
	default:
		return putFile(conn, localPath, remoteName, info, timeout, limiter)
	}
}

func putDir(conn *Conn, localPath, remoteName string, timeout time.Duration, limiter *Limiter) (int64, error) {
	if err := conn.SendLine(timeout, "dir %s", EncodeName(remoteName)); err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(localPath)
	if err != nil {
		return 0, fmt.Errorf("readdir %s: %w", localPath, err)
	}
	var total int64
	for _, e := range entries {
		childLocal := filepath.Join(localPath, e.Name())
		childRemote := filepath.Join(remoteName, e.Name())
		info, err := e.Info()
		if err != nil {
			return total, fmt.Errorf("stat %s: %w", childLocal, err)
		}
		n, err := putEntry(conn, childLocal, childRemote, info, timeout, limiter, false)
		total += n
		if err != nil {
			return total, err
		}
	}
	if err := conn.SendLine(timeout, "end"); err != nil {
		return total, err
	}
	return total, nil
}

func putSymlink(conn *Conn, localPath, remoteName string, timeout time.Duration) (int64, error) {
	target, err := os.Readlink(localPath)
	if err != nil {
		return 0, fmt.Errorf("readlink %s: %w", localPath, err)
	}
	if err := conn.SendLine(timeout, "symlink %s %d", EncodeName(remoteName), len(target)); err != nil {
		return 0, err
	}
	if err := conn.SendBytes(timeout, []byte(target)); err != nil {
		return 0, err
	}
	return int64(len(target)), nil
}

func putFile(conn *Conn, localPath, remoteName string, info os.FileInfo, timeout time.Duration, limiter *Limiter) (int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	size := info.Size()
	if err := conn.SendLine(timeout, "file %s %d %o", EncodeName(remoteName), size, info.Mode().Perm()); err != nil {
		return 0, err
	}

	var sent int64
	buf := make([]byte, putChunkSize)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if err := conn.SendBytes(timeout, buf[:n]); err != nil {
				return sent, err
			}
			limiter.Shape(n)
			sent += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return sent, fmt.Errorf("read %s: %w", localPath, rerr)
		}
	}
	return sent, nil
}

// MissingOutput records one `error <name> <errno>` child reported during
// GetItem: the remote object was missing, which marks that specific
// output without failing the whole retrieval (spec §4.E).
type MissingOutput struct {
	RemoteName string
	Errno      string
}

// GetItem recursively receives the mirror of PutItem's protocol into
// localPath, creating parent directories as needed. An `error` record for
// a child is appended to the returned missing list rather than aborting.
func GetItem(conn *Conn, localPath string, timeout time.Duration, limiter *Limiter) (int64, []MissingOutput, error) {
	return getEntry(conn, localPath, timeout, limiter)
}

func getEntry(conn *Conn, localPath string, timeout time.Duration, limiter *Limiter) (int64, []MissingOutput, error) {
	line, err := conn.RecvLine(timeout)
	if err != nil {
		return 0, nil, err
	}
	msg := Parse(line)
	switch msg.Verb {
	case "dir":
		return getDir(conn, localPath, timeout, limiter)
	case "file":
		n, err := getFile(conn, localPath, msg, timeout, limiter)
		return n, nil, err
	case "symlink":
		err := getSymlink(conn, localPath, msg, timeout)
		return 0, nil, err
	case "error":
		return 0, []MissingOutput{{RemoteName: msg.Arg(0), Errno: msg.Arg(1)}}, nil
	default:
		return 0, nil, fmt.Errorf("unexpected item record %q", msg.Verb)
	}
}

func getDir(conn *Conn, localPath string, timeout time.Duration, limiter *Limiter) (int64, []MissingOutput, error) {
	if err := os.MkdirAll(localPath, 0755); err != nil {
		return 0, nil, fmt.Errorf("mkdir %s: %w", localPath, err)
	}
	return getDirBody(conn, localPath, timeout, limiter)
}

// getDirBody consumes a nested "dir" body's children already declared by
// the parent's loop (the opening "dir <name>" line was already read by
// the caller in getDir).
func getDirBody(conn *Conn, localPath string, timeout time.Duration, limiter *Limiter) (int64, []MissingOutput, error) {
	var total int64
	var missing []MissingOutput
	for {
		line, err := conn.RecvLine(timeout)
		if err != nil {
			return total, missing, err
		}
		msg := Parse(line)
		if msg.Verb == "end" {
			return total, missing, nil
		}
		name, err := DecodeName(msg.Arg(0))
		if err != nil {
			return total, missing, err
		}
		childLocal := filepath.Join(localPath, filepath.Base(name))
		switch msg.Verb {
		case "file":
			n, err := getFile(conn, childLocal, msg, timeout, limiter)
			total += n
			if err != nil {
				return total, missing, err
			}
		case "dir":
			if err := os.MkdirAll(childLocal, 0755); err != nil {
				return total, missing, err
			}
			n, m, err := getDirBody(conn, childLocal, timeout, limiter)
			total += n
			missing = append(missing, m...)
			if err != nil {
				return total, missing, err
			}
		case "symlink":
			if err := getSymlinkBody(conn, childLocal, msg, timeout); err != nil {
				return total, missing, err
			}
		case "error":
			missing = append(missing, MissingOutput{RemoteName: msg.Arg(0), Errno: msg.Arg(1)})
		default:
			return total, missing, fmt.Errorf("unexpected child record %q", msg.Verb)
		}
	}
}

func getFile(conn *Conn, localPath string, msg Message, timeout time.Duration, limiter *Limiter) (int64, error) {
	var length int64
	var mode int
	if _, err := fmt.Sscanf(msg.Arg(1)+" "+msg.Arg(2), "%d %o", &length, &mode); err != nil {
		return 0, fmt.Errorf("parse file record: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(localPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(mode)|0600)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", localPath, err)
	}
	defer f.Close()

	remaining := length
	buf := make([]byte, putChunkSize)
	var received int64
	for remaining > 0 {
		n := int64(len(buf))
		if n > remaining {
			n = remaining
		}
		chunk, err := conn.RecvBytes(timeout, int(n))
		if err != nil {
			return received, err
		}
		if _, err := f.Write(chunk); err != nil {
			return received, fmt.Errorf("write %s: %w", localPath, err)
		}
		limiter.Shape(len(chunk))
		received += int64(len(chunk))
		remaining -= int64(len(chunk))
	}
	return received, nil
}

func getSymlink(conn *Conn, localPath string, msg Message, timeout time.Duration) error {
	return getSymlinkBody(conn, localPath, msg, timeout)
}

func getSymlinkBody(conn *Conn, localPath string, msg Message, timeout time.Duration) error {
	var length int
	if _, err := fmt.Sscanf(msg.Arg(1), "%d", &length); err != nil {
		return fmt.Errorf("parse symlink record: %w", err)
	}
	target, err := conn.RecvBytes(timeout, length)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return err
	}
	_ = os.Remove(localPath)
	if err := os.Symlink(string(target), localPath); err != nil {
		return fmt.Errorf("symlink %s: %w", localPath, err)
	}
	return nil
}
