// Package manager implements the worker registry (spec §4.B), the task
// state machine (spec §4.F), and the single-threaded event loop (spec
// §4.J) that ties together wire, cache, category, scheduler, transfer,
// and replicate into one running queue.
package manager

import (
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/cuemby/taskforge/pkg/auth"
	"github.com/cuemby/taskforge/pkg/log"
	"github.com/cuemby/taskforge/pkg/wire"
)

// protocolVersion is the handshake version this manager accepts; a
// mismatch causes the worker to be blocked by host (spec §4.B).
const protocolVersion = "1"

// BlockList is the two-tier blocked-host check of the expanded worker
// registry: a bloom filter front-ends an exact expiry map so a busy
// manager can reject a repeat offender's handshake without touching the
// exact-match table on the common "definitely not blocked" path.
type BlockList struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	exact  map[string]time.Time // host -> blocked-until; zero means indefinite
}

// NewBlockList creates a block list sized for up to capacity entries at
// a 1% false-positive rate.
func NewBlockList(capacity uint) *BlockList {
	return &BlockList{
		filter: bloom.NewWithEstimates(capacity, 0.01),
		exact:  make(map[string]time.Time),
	}
}

// Block adds host to the blocked set, optionally until a future time
// (zero means indefinite, e.g. a version mismatch).
func (b *BlockList) Block(host string, until time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filter.AddString(host)
	b.exact[host] = until
}

// Unblock removes host from the blocked set.
func (b *BlockList) Unblock(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.exact, host)
	// the bloom filter itself cannot forget a member; a false positive
	// after unblocking just costs one extra exact-map lookup that
	// correctly reports "not blocked".
}

// Blocked reports whether host is currently blocked. The bloom filter
// first rules out the overwhelming majority of hosts in O(1) without a
// map lookup; only a possible member pays for the exact check.
func (b *BlockList) Blocked(host string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.filter.TestString(host) {
		return false
	}
	until, ok := b.exact[host]
	if !ok {
		return false // bloom false positive
	}
	if until.IsZero() {
		return true
	}
	if time.Now().After(until) {
		delete(b.exact, host)
		return false
	}
	return true
}

// Handshake is the parsed `workqueue <protocol> <host> <os> <arch>
// <version>` line a worker sends immediately after connecting (spec
// §6).
type Handshake struct {
	Protocol string
	Host     string
	OS       string
	Arch     string
	Version  string
}

// Authenticate performs the optional challenge/response exchange of
// spec §4.B before any protocol line is read, when challenge is
// non-nil.
func Authenticate(conn *wire.Conn, challenge *auth.Challenge, timeout time.Duration) error {
	if challenge == nil {
		return nil
	}
	nonce, err := challenge.Nonce()
	if err != nil {
		return fmt.Errorf("generate auth challenge: %w", err)
	}
	if err := conn.SendLine(timeout, "auth-challenge %s", nonce); err != nil {
		return fmt.Errorf("send auth challenge: %w", err)
	}
	line, err := conn.RecvLine(timeout)
	if err != nil {
		return fmt.Errorf("recv auth response: %w", err)
	}
	msg := wire.Parse(line)
	if msg.Verb != "auth-response" || !challenge.Verify(nonce, msg.Arg(0)) {
		return fmt.Errorf("authentication failed")
	}
	return nil
}

// ReadHandshake reads and parses the worker's initial handshake line.
func ReadHandshake(conn *wire.Conn, timeout time.Duration) (Handshake, error) {
	line, err := conn.RecvLine(timeout)
	if err != nil {
		return Handshake{}, fmt.Errorf("recv handshake: %w", err)
	}
	return parseHandshakeLine(line)
}

// parseHandshakeLine is ReadHandshake's parsing half, split out so a
// line already consumed off the wire (the no-password status-query peek
// in conn.go's admit) can be classified without a second RecvLine.
func parseHandshakeLine(line string) (Handshake, error) {
	msg := wire.Parse(line)
	if msg.Verb != "workqueue" {
		return Handshake{}, fmt.Errorf("unexpected handshake verb %q", msg.Verb)
	}
	return Handshake{
		Protocol: msg.Arg(0),
		Host:     msg.Arg(1),
		OS:       msg.Arg(2),
		Arch:     msg.Arg(3),
		Version:  msg.Arg(4),
	}, nil
}

// CheckVersion reports whether hs declares the protocol version this
// manager speaks, logging and blocking the host on mismatch (spec
// §4.B: "a version mismatch causes the worker to be blocked by host").
func CheckVersion(hs Handshake, blocked *BlockList) bool {
	if hs.Protocol == protocolVersion {
		return true
	}
	log.WithComponent("registry").Warn().
		Str("host", hs.Host).
		Str("declared_protocol", hs.Protocol).
		Msg("worker protocol version mismatch, blocking host")
	blocked.Block(hs.Host, time.Time{})
	return false
}
