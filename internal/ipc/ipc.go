// Package ipc implements the wire codec and connection listener of spec
// §4.A: length-prefixed JSON frames over a local stream socket. The
// socket-bind sequence (remove stale path, listen, chmod) is grounded on
// the teacher's internal/server.Start, generalized from its HTTP-over-Unix-
// socket transport to the raw framed protocol spec §6 requires.
package ipc

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"runtime"
	"sync"
	"syscall"

	"github.com/standardbeagle/probelsp/internal/logging"
	"github.com/standardbeagle/probelsp/internal/rpc"
)

var logger = logging.For("ipc")

// MaxFrameBytes is the spec §6 cap on a single message body.
const MaxFrameBytes = 10 * 1024 * 1024

// ErrFrameTooLarge is returned by ReadFrame when the declared length exceeds
// MaxFrameBytes.
var ErrFrameTooLarge = fmt.Errorf("ipc: frame exceeds %d bytes", MaxFrameBytes)

// WriteFrame writes a 4-byte big-endian length prefix followed by body.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameBytes {
		return ErrFrameTooLarge
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameBytes {
		return nil, ErrFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// DefaultSocketPath returns the spec §6 default: PROBE_LSP_SOCKET_PATH if
// set, else a per-uid path under XDG_RUNTIME_DIR (or /tmp) on POSIX, or a
// named pipe path on Windows.
func DefaultSocketPath() string {
	if p := os.Getenv("PROBE_LSP_SOCKET_PATH"); p != "" {
		return p
	}
	if runtime.GOOS == "windows" {
		user := os.Getenv("USERNAME")
		if user == "" {
			user = "default"
		}
		return `\\.\pipe\probe-lsp-` + user
	}
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return fmt.Sprintf("%s/probe-lsp-%d.sock", dir, os.Getuid())
}

// Handler processes one decoded request frame and returns the response
// frame to write back. It is supplied by the request router (§4.B).
type Handler func(body []byte) []byte

// Listener binds a Unix domain socket (POSIX) and accepts framed
// connections, dispatching each frame to Handler and writing back its
// response. One goroutine per connection; frames within a connection are
// processed sequentially.
type Listener struct {
	path     string
	ln       net.Listener
	abstract bool // bound to an abstract-namespace address; nothing to unlink on Close

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	closing bool
}

// Listen binds path. On Linux an abstract-namespace socket is tried first
// (a NUL-prefixed address, never visible in the filesystem and needing no
// cleanup). If that bind fails with EADDRINUSE, Listen returns an error, as
// the address is already served by a running daemon; on any other failure —
// and on every non-Linux platform — it falls back to the ordinary
// filesystem socket at path, first probing for and
// removing a stale leftover from a prior unclean shutdown (connect-then-
// remove, never a blind remove, so a socket still served by a live process
// is left alone).
func Listen(path string) (*Listener, error) {
	if runtime.GOOS == "linux" {
		ln, err := net.Listen("unix", abstractAddr(path))
		if err == nil {
			return &Listener{path: path, ln: ln, abstract: true, conns: make(map[net.Conn]struct{})}, nil
		}
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("ipc: abstract socket for %s already in use by a running daemon", path)
		}
		logger.Warn("abstract socket bind failed, falling back to filesystem socket %s: %v", path, err)
	}

	if err := removeStaleSocket(path); err != nil {
		return nil, err
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("ipc: listen on %s: %w", path, err)
	}
	if runtime.GOOS != "windows" {
		_ = os.Chmod(path, 0o600)
	}
	return &Listener{path: path, ln: ln, conns: make(map[net.Conn]struct{})}, nil
}

// Dial connects to the daemon listening at path, trying the same
// abstract-namespace address Listen binds first on Linux before falling
// back to the filesystem socket — the connect-side half of Listen's bind
// sequence, so a client never needs to know which one the daemon picked.
func Dial(path string) (net.Conn, error) {
	if runtime.GOOS == "linux" {
		if conn, err := net.Dial("unix", abstractAddr(path)); err == nil {
			return conn, nil
		}
	}
	return net.Dial("unix", path)
}

// abstractAddr derives a Linux abstract-namespace socket address from a
// filesystem path: a leading NUL byte puts it outside the filesystem
// namespace entirely, per unix(7).
func abstractAddr(path string) string {
	return "\x00probelsp" + path
}

// removeStaleSocket deletes path only if dialing it fails (nothing is
// listening) — a live daemon's socket is never clobbered.
func removeStaleSocket(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil // nothing there
	}
	conn, err := net.Dial("unix", path)
	if err == nil {
		conn.Close()
		return fmt.Errorf("ipc: socket %s already in use by a running daemon", path)
	}
	if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
		return fmt.Errorf("ipc: remove stale socket %s: %w", path, rmErr)
	}
	return nil
}

// Serve accepts connections until Close is called, handing each frame to
// handle.
func (l *Listener) Serve(handle Handler) error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			l.mu.Lock()
			closing := l.closing
			l.mu.Unlock()
			if closing {
				return nil
			}
			return err
		}
		l.mu.Lock()
		l.conns[conn] = struct{}{}
		l.mu.Unlock()
		go l.serveConn(conn, handle)
	}
}

func (l *Listener) serveConn(conn net.Conn, handle Handler) {
	defer func() {
		conn.Close()
		l.mu.Lock()
		delete(l.conns, conn)
		l.mu.Unlock()
	}()

	r := bufio.NewReader(conn)
	for {
		body, err := ReadFrame(r)
		if err != nil {
			if errors.Is(err, ErrFrameTooLarge) {
				logger.Warn("connection framing error: %v", err)
				writeParseError(conn, err)
			} else if !errors.Is(err, io.EOF) {
				logger.Debug("connection read error: %v", err)
			}
			return
		}
		resp := handle(body)
		if writeErr := WriteFrame(conn, resp); writeErr != nil {
			logger.Warn("connection write error: %v", writeErr)
			return
		}
	}
}

// writeParseError sends a best-effort ParseError response frame ahead of
// dropping a connection that violated framing, per spec §5's acceptance
// scenario for an oversized frame.
func writeParseError(conn net.Conn, cause error) {
	resp := rpc.Response{JSONRPC: "2.0", Error: rpc.NewError(rpc.CodeParseError, cause.Error())}
	body, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = WriteFrame(conn, body)
}

// Close stops accepting new connections, closes all in-flight connections,
// and removes the socket file.
func (l *Listener) Close() error {
	l.mu.Lock()
	l.closing = true
	conns := make([]net.Conn, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	err := l.ln.Close()
	for _, c := range conns {
		c.Close()
	}
	if !l.abstract && runtime.GOOS != "windows" {
		_ = os.Remove(l.path)
	}
	return err
}

// Addr returns the bound socket path.
func (l *Listener) Addr() string { return l.path }
