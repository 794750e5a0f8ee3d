package manager

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/taskforge/pkg/types"
	"github.com/cuemby/taskforge/pkg/wire"
)

// workerMsg is one parsed line (plus any bulk payload it declared)
// forwarded from a per-worker reader goroutine to the event loop, or a
// terminal error closing that worker's stream. This is the channel
// boundary spec §9's single-threaded design note (b) describes: per-
// worker goroutines only do framed I/O, the event loop owns all state.
type workerMsg struct {
	hashkey string
	msg     wire.Message
	bulk    []byte
	err     error
}

// registration is a newly admitted worker handed from the accept loop
// to the event loop.
type registration struct {
	worker *types.Worker
	conn   *wire.Conn
}

// acceptLoop accepts raw connections, performs the admission sequence
// of spec §4.B (TLS wrap, optional auth challenge, handshake, version
// check), and hands successfully admitted workers to regCh. It never
// touches any table the event loop owns.
func (m *Manager) acceptLoop(ln net.Listener, tlsConf *tls.Config, regCh chan<- registration, msgCh chan<- workerMsg, done <-chan struct{}) {
	for {
		raw, err := ln.Accept()
		if err != nil {
			select {
			case <-done:
				return
			default:
				m.logger.Error().Err(err).Msg("accept failed")
				continue
			}
		}
		go m.admit(raw, tlsConf, regCh, msgCh, done)
	}
}

// admit runs the per-connection handshake sequence before registering
// the worker with the event loop. Failures here never escalate to a
// WorkerFailure against an already-registered worker — the connection
// is simply closed.
func (m *Manager) admit(raw net.Conn, tlsConf *tls.Config, regCh chan<- registration, msgCh chan<- workerMsg, done <-chan struct{}) {
	if tlsConf != nil {
		raw = tls.Server(raw, tlsConf)
	}
	conn := wire.NewConn(raw)

	host, _, _ := net.SplitHostPort(conn.RemoteAddr())
	if m.blocked.Blocked(host) {
		conn.Close()
		return
	}

	// A status-query connection (spec §6's worker-link queries and HTTP
	// introspection) never speaks the auth-challenge/handshake sequence
	// at all, so it can only be recognized by peeking the first line --
	// which is only safe when no password is configured, since a
	// password-protected manager must speak its auth-challenge first
	// and a real worker is correctly waiting for it rather than sending
	// anything.  With a password set, these queries are only reachable
	// over the HTTP metrics listener (see cmd/taskforge-manager).
	var firstLine string
	if m.challenge == nil {
		line, err := conn.RecvLine(m.cfg.ShortTimeout)
		if err != nil {
			conn.Close()
			return
		}
		if m.serveStatusQuery(conn, line) {
			conn.Close()
			return
		}
		firstLine = line
	} else if err := Authenticate(conn, m.challenge, m.cfg.ShortTimeout); err != nil {
		m.logger.Warn().Err(err).Str("remote", conn.RemoteAddr()).Msg("worker authentication failed")
		conn.Close()
		return
	}

	var hs Handshake
	var err error
	if firstLine != "" {
		hs, err = parseHandshakeLine(firstLine)
	} else {
		hs, err = ReadHandshake(conn, m.cfg.ShortTimeout)
	}
	if err != nil {
		m.logger.Warn().Err(err).Str("remote", conn.RemoteAddr()).Msg("worker handshake failed")
		conn.Close()
		return
	}
	if !CheckVersion(hs, m.blocked) || m.blocked.Blocked(hs.Host) {
		conn.Close()
		return
	}

	w := types.NewWorker(conn.RemoteAddr())
	w.Host = hs.Host
	w.OS = hs.OS
	w.Arch = hs.Arch
	w.Version = hs.Version
	if hs.Host == "forwarding" {
		w.Kind = types.WorkerForwarding
	}

	select {
	case regCh <- registration{worker: w, conn: conn}:
	case <-done:
		conn.Close()
		return
	}

	go readerLoop(w.Hashkey, conn, m.cfg.KeepaliveTimeout, msgCh, done)
}

// bulkPayloadVerbs are the control lines followed by a length-prefixed
// byte stream, keyed by which argument position carries the length
// (spec §6).
var bulkPayloadVerbs = map[string]int{
	"result":        2, // result <status> <exit> <stdout-len> <exec-usec> <task-id>
	"cache-invalid": 1, // cache-invalid <cache-name> <len>
	"update":        3, // update <task-id> <remote> <offset> <len>
}

// readerLoop forwards every line on conn as a workerMsg until the
// connection fails or done is closed. Messages that declare a bulk
// payload (`result`, `cache-invalid`, `update`) have that payload read
// here too, since only the reader goroutine is allowed to touch the
// socket; the event loop never calls RecvLine/RecvBytes directly.
func readerLoop(hashkey string, conn *wire.Conn, keepaliveTimeout time.Duration, msgCh chan<- workerMsg, done <-chan struct{}) {
	// The read timeout is generous relative to the keepalive interval:
	// a worker that truly went silent is caught by the event loop's own
	// keepalive-timeout bookkeeping, not by this goroutine blocking
	// forever on one RecvLine.
	readTimeout := keepaliveTimeout * 2
	for {
		line, err := conn.RecvLine(readTimeout)
		if err != nil {
			send(msgCh, workerMsg{hashkey: hashkey, err: err}, done)
			return
		}
		msg := wire.Parse(line)

		var bulk []byte
		if argIdx, ok := bulkPayloadVerbs[msg.Verb]; ok {
			n, perr := strconv.Atoi(msg.Arg(argIdx))
			if perr == nil && n > 0 {
				bulk, err = conn.RecvBytes(readTimeout, n)
				if err != nil {
					send(msgCh, workerMsg{hashkey: hashkey, err: err}, done)
					return
				}
			}
		}

		send(msgCh, workerMsg{hashkey: hashkey, msg: msg, bulk: bulk}, done)
	}
}

func send(msgCh chan<- workerMsg, wm workerMsg, done <-chan struct{}) {
	select {
	case msgCh <- wm:
	case <-done:
	}
}

// statusVerbs are the bare worker-link queries of spec §6: each
// produces a JSON array and closes the connection, no handshake
// involved.
var statusVerbs = map[string]bool{
	"queue_status":     true,
	"task_status":      true,
	"worker_status":    true,
	"resources_status": true,
	"wable_status":     true,
}

// serveStatusQuery recognizes firstLine as one of the five worker-link
// status verbs or an HTTP `GET <path> HTTP/1.x` introspection request,
// serves it, and reports true. Anything else is not a status query and
// firstLine should be handled as the worker's handshake instead.
func (m *Manager) serveStatusQuery(conn *wire.Conn, firstLine string) bool {
	msg := wire.Parse(firstLine)
	if statusVerbs[msg.Verb] {
		body := m.Status(msg.Verb)
		if body == nil {
			body = []byte("[]")
		}
		_ = conn.SendBytes(m.cfg.ShortTimeout, body)
		return true
	}
	if msg.Verb == "GET" {
		m.serveHTTPStatus(conn, strings.TrimPrefix(msg.Arg(0), "/"))
		return true
	}
	return false
}

// serveHTTPStatus answers a `GET /<kind> HTTP/1.x` request the way
// work_queue.c's process_http_request does: drain the remaining request
// headers, then send one JSON response and let the caller close the
// connection.
func (m *Manager) serveHTTPStatus(conn *wire.Conn, kind string) {
	for {
		line, err := conn.RecvLine(m.cfg.ShortTimeout)
		if err != nil || line == "" {
			break
		}
	}
	body := m.Status(kind)
	status := "200 OK"
	if body == nil {
		body = []byte(`{"error":"unknown status request"}`)
		status = "404 Not Found"
	}
	resp := fmt.Sprintf("HTTP/1.1 %s\r\nContent-Type: application/json\r\nConnection: close\r\n\r\n", status)
	_ = conn.SendBytes(m.cfg.ShortTimeout, []byte(resp))
	_ = conn.SendBytes(m.cfg.ShortTimeout, body)
}
