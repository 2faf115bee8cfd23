package lspmanager

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/standardbeagle/probelsp/internal/logging"
)

var logger = logging.For("lspmanager")

// ErrServerExited is returned by a call made after the server has exited. A
// request still pending when the server's stdout reaches EOF fails with an
// LSP error carrying the same message.
var ErrServerExited = fmt.Errorf("lspmanager: server exited")

// transport abstracts a running LSP subprocess so tests can substitute a
// pipe-backed fake instead of spawning a real binary.
type transport interface {
	io.Writer
	io.Closer
	Reader() *bufio.Reader
	Wait() error
}

type processTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader
}

func spawnProcess(ctx context.Context, command string, args []string, dir string) (*processTransport, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = dir
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", command, err)
	}
	return &processTransport{cmd: cmd, stdin: stdin, reader: bufio.NewReader(stdout)}, nil
}

func (p *processTransport) Write(b []byte) (int, error) { return p.stdin.Write(b) }
func (p *processTransport) Reader() *bufio.Reader        { return p.reader }
func (p *processTransport) Close() error {
	p.stdin.Close()
	return p.cmd.Process.Kill()
}
func (p *processTransport) Wait() error { return p.cmd.Wait() }

// server is one running LSP subprocess bound to a single workspace root.
type server struct {
	language string
	root     string
	tr       transport

	mu      sync.Mutex
	pending map[int64]chan rpcMessage
	suspect bool
	exited  bool

	nextID int64
}

func newServer(ctx context.Context, language, root, command string, args []string) (*server, error) {
	tr, err := spawnProcess(ctx, command, args, root)
	if err != nil {
		return nil, err
	}
	return newServerWithTransport(ctx, language, root, tr)
}

// newServerWithTransport builds a server over an already-connected
// transport, skipping subprocess spawn. Used directly by tests against a
// pipe-backed fake LSP server.
func newServerWithTransport(ctx context.Context, language, root string, tr transport) (*server, error) {
	s := &server{language: language, root: root, tr: tr, pending: make(map[int64]chan rpcMessage)}
	go s.readLoop()
	if err := s.handshake(ctx); err != nil {
		s.kill()
		return nil, err
	}
	return s, nil
}

func (s *server) handshake(ctx context.Context) error {
	initParams, _ := json.Marshal(map[string]any{
		"processId": nil,
		"rootUri":   "file://" + s.root,
		"capabilities": map[string]any{},
	})
	if _, err := s.call(ctx, "initialize", initParams, 10*time.Second); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	return writeMessage(noResponseWriter{s}, rpcMessage{JSONRPC: "2.0", Method: "initialized", Params: json.RawMessage("{}")})
}

// noResponseWriter adapts server.tr for a fire-and-forget notification
// write without going through the request/response bookkeeping of call().
type noResponseWriter struct{ s *server }

func (w noResponseWriter) Write(b []byte) (int, error) { return w.s.tr.Write(b) }

func (s *server) readLoop() {
	for {
		raw, err := readMessage(s.tr.Reader())
		if err != nil {
			s.onExit()
			return
		}
		var msg rpcMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Method != "" {
			continue // notification from server; no outstanding consumer in this contract
		}
		id, ok := numericID(msg.ID)
		if !ok {
			continue
		}
		s.mu.Lock()
		ch, ok := s.pending[id]
		if ok {
			delete(s.pending, id)
		}
		s.mu.Unlock()
		if ok {
			ch <- msg
		}
	}
}

func numericID(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

func (s *server) onExit() {
	s.mu.Lock()
	s.exited = true
	pending := s.pending
	s.pending = make(map[int64]chan rpcMessage)
	s.mu.Unlock()

	for _, ch := range pending {
		ch <- rpcMessage{Error: &rpcError{Code: -32000, Message: ErrServerExited.Error()}}
	}
}

func (s *server) isExited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited
}

func (s *server) markSuspect() {
	s.mu.Lock()
	wasSuspect := s.suspect
	s.suspect = true
	s.mu.Unlock()
	if wasSuspect {
		s.kill()
	}
}

func (s *server) isSuspect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suspect
}

func (s *server) kill() {
	s.tr.Close()
}

// call issues a request and waits for its response, cancelling via
// $/cancelRequest if the deadline elapses first.
func (s *server) call(ctx context.Context, method string, params json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	id := atomic.AddInt64(&s.nextID, 1)
	ch := make(chan rpcMessage, 1)

	s.mu.Lock()
	if s.exited {
		s.mu.Unlock()
		return nil, ErrServerExited
	}
	s.pending[id] = ch
	s.mu.Unlock()

	if err := writeMessage(s.tr, rpcMessage{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case msg := <-ch:
		if msg.Error != nil {
			return nil, msg.Error
		}
		return msg.Result, nil
	case <-cctx.Done():
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		cancelParams, _ := json.Marshal(map[string]any{"id": id})
		writeMessage(noResponseWriter{s}, rpcMessage{JSONRPC: "2.0", Method: "$/cancelRequest", Params: cancelParams})
		s.markSuspect()
		return nil, fmt.Errorf("lspmanager: request %s timed out: %w", method, cctx.Err())
	}
}
