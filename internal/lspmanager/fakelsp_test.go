package lspmanager

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
)

// fakeLSP is an in-process stand-in for a real LSP subprocess, connected to
// the code under test over an io.Pipe instead of stdio. It answers
// initialize/initialized automatically and lets a test script the
// response to any other method; a request for an unscripted method is
// left unanswered.
type fakeLSP struct {
	toServer   *io.PipeWriter
	fromServer *io.PipeReader
	reader     *bufio.Reader // what the test harness reads (server's writes)
	writer     io.Writer     // what the test harness writes (server's reads)

	mu        sync.Mutex
	responses map[string]json.RawMessage
	closed    bool
}

// newFakeLSP returns (serverSideTransport, testHarness). serverSideTransport
// satisfies the lspmanager transport interface and is handed to
// newServerWithTransport in place of a spawned subprocess.
func newFakeLSP() (transport, *fakeLSP) {
	clientToServer, serverReadsFromClient := io.Pipe()
	serverToClient, clientReadsFromServer := io.Pipe()

	f := &fakeLSP{
		toServer:   clientToServer,
		fromServer: clientReadsFromServer,
		reader:     bufio.NewReader(serverReadsFromClient),
		writer:     serverToClient,
		responses:  make(map[string]json.RawMessage),
	}
	go f.serve()

	return &pipeTransport{w: clientToServer, r: bufio.NewReader(clientReadsFromServer), closer: clientToServer, closer2: clientReadsFromServer}, f
}

// setResponse scripts the result returned for every later call to method.
func (f *fakeLSP) setResponse(method string, result any) {
	b, _ := json.Marshal(result)
	f.mu.Lock()
	f.responses[method] = b
	f.mu.Unlock()
}

func (f *fakeLSP) serve() {
	for {
		raw, err := readMessage(f.reader)
		if err != nil {
			return
		}
		var msg rpcMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Method == "initialized" || msg.Method == "$/cancelRequest" {
			continue // notifications, no response expected
		}
		if msg.ID == nil {
			continue
		}

		var result json.RawMessage
		if msg.Method == "initialize" {
			result = json.RawMessage(`{"capabilities":{}}`)
		} else {
			f.mu.Lock()
			result = f.responses[msg.Method]
			f.mu.Unlock()
			if result == nil {
				continue // unscripted method: no response, so the caller times out
			}
		}

		writeMessage(f.writer, rpcMessage{JSONRPC: "2.0", ID: msg.ID, Result: result})
	}
}

func (f *fakeLSP) close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()
	f.toServer.Close()
	f.fromServer.Close()
}

type pipeTransport struct {
	w       io.Writer
	r       *bufio.Reader
	closer  io.Closer
	closer2 io.Closer
}

func (p *pipeTransport) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipeTransport) Reader() *bufio.Reader        { return p.r }
func (p *pipeTransport) Close() error {
	p.closer2.Close()
	return p.closer.Close()
}
func (p *pipeTransport) Wait() error { return nil }

// fakeSpawn builds a Manager.spawn replacement that creates one fakeLSP per
// spawn call, recording each in fakes so a test can script per-server
// responses after acquisition.
func fakeSpawn(fakes *[]*fakeLSP) func(ctx context.Context, language, root, command string, args []string) (*server, error) {
	return func(ctx context.Context, language, root, command string, args []string) (*server, error) {
		tr, fake := newFakeLSP()
		*fakes = append(*fakes, fake)
		return newServerWithTransport(ctx, language, root, tr)
	}
}
