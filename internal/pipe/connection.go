// Package pipe implements Component E: a pipelined connection
// multiplexer with one writer and a FIFO-ordered reader per TCP
// socket, grounded on as_pipe.c.
package pipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"dkvbatch/internal/obslog"
	"dkvbatch/internal/wire"
)

const (
	defaultSendBuffer = 128 * 1024
	defaultRecvBuffer = 128 * 1024
)

// ErrCanceled is returned by Submit once a connection has begun
// canceling in-flight work; the caller should acquire a fresh
// connection from the pool and retry there.
var ErrCanceled = errors.New("pipe: connection canceling")

// ErrQueueFull is returned when a connection's pipeline depth limit
// is reached; the pool should route the command to a different
// connection rather than block the writer.
var ErrQueueFull = errors.New("pipe: pipeline queue full")

// CancelSource records why a connection was canceled, mirroring
// as_pipe.c's CANCEL_CONNECTION_SOCKET/RESPONSE/TIMEOUT.
type CancelSource int

const (
	CancelSocket CancelSource = iota
	CancelResponse
	CancelTimeout
)

func (s CancelSource) String() string {
	switch s {
	case CancelSocket:
		return "socket"
	case CancelResponse:
		return "response"
	case CancelTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// submission is one pipelined request awaiting its response, kept in
// FIFO order by the connection's queue channel (spec.md §4.E's
// "readers: a FIFO of parsers awaiting the next frame"). parse may be
// invoked more than once for a single submission: a node's sub-batch
// response can span several frames, and it reports done=false to ask
// the reader for another one before the connection moves on to the
// next queued submission.
type submission struct {
	parse func(frame []byte) (done bool, err error)
	done  chan<- error
}

// Connection is one pipelined socket: a single writer goroutine at a
// time (serialized by writeMu) and a dedicated reader goroutine that
// drains responses strictly in submission order.
type Connection struct {
	conn net.Conn
	addr string

	writeMu sync.Mutex
	queue   chan *submission
	scratch []byte

	inflight  atomic.Int32
	canceling atomic.Bool
	canceled  atomic.Bool
	inPool    atomic.Bool
	closeOnce sync.Once
	readerWG  sync.WaitGroup

	// dispatch serializes delivery of each submission's completion,
	// matching as_pipe_read_start's pipe_cb_calling guard (spec.md
	// §4.E): if completing one submission synchronously triggers
	// another (a retry resubmitted inline on the same connection, say),
	// that delivery is queued rather than invoked re-entrantly from
	// inside the reader loop.
	dispatch *Listener
}

// Dial opens a new pipelined connection, applying the socket tuning
// as_pipe_modify_fd performs, and starts its reader goroutine.
func Dial(ctx context.Context, addr string, queueDepth int) (*Connection, error) {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("pipe: dial %s: %w", addr, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if rawConn, rcErr := tcpConn.SyscallConn(); rcErr == nil {
			_ = rawConn.Control(func(fd uintptr) {
				if tuneErr := tuneSocket(int(fd), defaultSendBuffer, defaultRecvBuffer); tuneErr != nil {
					obslog.Warn("pipe: socket tuning failed for %s: %v", addr, tuneErr)
				}
			})
		}
	}

	if queueDepth < 1 {
		queueDepth = 1
	}
	c := &Connection{
		conn:     conn,
		addr:     addr,
		queue:    make(chan *submission, queueDepth),
		scratch:  make([]byte, 0, 16*1024),
		dispatch: NewListener(queueDepth),
	}
	c.readerWG.Add(1)
	go c.readLoop()
	return c, nil
}

// Load reports the connection's current pipeline depth, used by the
// pool to pick the least-loaded connection once it has stopped
// opening new ones (as_pipe_get_connection).
func (c *Connection) Load() int { return int(c.inflight.Load()) }

// Submit writes payload and registers parse to run against the next
// frame (or frames, if parse asks for more by returning done=false)
// read off the socket, in FIFO order with every other pending
// submission on this connection.
func (c *Connection) Submit(payload []byte, parse func(frame []byte) (done bool, err error)) (<-chan error, error) {
	if c.canceling.Load() || c.canceled.Load() {
		return nil, ErrCanceled
	}
	done := make(chan error, 1)
	sub := &submission{parse: parse, done: done}

	// Enqueue and write under the same lock so the queue order always
	// matches the order requests reach the socket.
	c.writeMu.Lock()
	select {
	case c.queue <- sub:
	default:
		c.writeMu.Unlock()
		return nil, ErrQueueFull
	}
	c.inflight.Add(1)

	_, err := c.conn.Write(payload)
	c.writeMu.Unlock()
	if err != nil {
		c.Cancel(CancelSocket)
		return nil, fmt.Errorf("pipe: write to %s: %w", c.addr, err)
	}
	return done, nil
}

// readLoop is the connection's single reader; it owns scratch and the
// socket's read side for the connection's lifetime.
func (c *Connection) readLoop() {
	defer c.readerWG.Done()
	for sub := range c.queue {
		if !c.readSubmission(sub) {
			return
		}
	}
}

// readSubmission reads frames for sub until its parse callback reports
// done or an error, keeping the connection's inflight counter and
// done channel contracts the same regardless of how many frames the
// response took. It returns false once the connection has been
// canceled and the reader should stop.
func (c *Connection) readSubmission(sub *submission) bool {
	for {
		frame, err := readFrame(c.conn, &c.scratch)
		if err != nil {
			c.inflight.Add(-1)
			c.Cancel(CancelSocket)
			c.deliver(sub, err)
			c.drain(err)
			return false
		}

		done, perr := sub.parse(frame)
		if perr != nil {
			c.inflight.Add(-1)
			c.deliver(sub, perr)
			if !FatalToConnection(classifyParseError(perr)) {
				// Per-command failure (e.g. a stop-batch result code):
				// the offending reader is removed, the byte stream is
				// still well-formed, and the connection stays in the
				// pool for the next queued submission.
				return true
			}
			c.Cancel(CancelResponse)
			c.drain(perr)
			return false
		}
		if done {
			c.inflight.Add(-1)
			c.deliver(sub, nil)
			return true
		}
		// More frames belong to this same submission; keep reading
		// without returning it to the inflight count or consuming
		// another queue entry.
	}
}

// deliver completes sub with err, routed through the connection's
// dispatch guard so a completion that re-enters this connection (e.g.
// resubmits inline) is queued instead of recursing into the reader.
func (c *Connection) deliver(sub *submission, err error) {
	c.dispatch.Dispatch(func() {
		sub.done <- err
		close(sub.done)
	})
}

// drain fails every submission still queued behind a canceled
// connection, matching cancel_connection's "fail every pending
// command" sweep.
func (c *Connection) drain(cause error) {
	for {
		select {
		case sub, ok := <-c.queue:
			if !ok {
				return
			}
			c.deliver(sub, cause)
		default:
			return
		}
	}
}

// Cancel marks the connection as no longer reusable. It reports
// whether this call performed the transition (false if the connection
// was already canceling/canceled), matching as_pipe's guard against
// double-cancellation.
func (c *Connection) Cancel(source CancelSource) bool {
	if !c.canceling.CompareAndSwap(false, true) {
		return false
	}
	obslog.Warn("pipe: canceling connection to %s (%s)", c.addr, source)
	c.canceled.Store(true)
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
	return true
}

// Canceled reports whether the connection has been removed from
// service and must not be returned to a pool.
func (c *Connection) Canceled() bool { return c.canceled.Load() }

// SetDeadline applies an absolute deadline to the underlying socket,
// used for per-command total-timeout enforcement.
func (c *Connection) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// Close closes the connection directly, bypassing cancellation
// bookkeeping; used when a pool evicts an idle connection.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
	// An idle reader waits on the queue, not the socket; a no-op
	// submission wakes it so its read fails on the closed socket and it
	// exits. A full queue means the reader is busy and will hit the
	// closed socket on its own.
	wake := &submission{parse: func([]byte) (bool, error) { return true, nil }, done: make(chan error, 1)}
	select {
	case c.queue <- wake:
	default:
	}
	c.readerWG.Wait()
	return nil
}

// readFrame is a var, not a direct call, so tests can substitute a
// fake framer; production code delegates to wire.ReadFrame.
var readFrame = func(r io.Reader, scratch *[]byte) ([]byte, error) {
	return wire.ReadFrame(r, scratch)
}
