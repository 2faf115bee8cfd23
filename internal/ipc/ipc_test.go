package ipc

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte(`{"hello":"world"}`)))

	r := bufio.NewReader(&buf)
	body, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, `{"hello":"world"}`, string(body))
}

func TestWriteFrameRejectsOversizeBody(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, make([]byte, MaxFrameBytes+1))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestListenAcceptsAndEchoesFrames(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "test.sock")
	l, err := Listen(sockPath)
	require.NoError(t, err)
	defer l.Close()

	go l.Serve(func(body []byte) []byte {
		return append([]byte("echo:"), body...)
	})

	conn, err := Dial(sockPath)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, WriteFrame(conn, []byte("ping")))
	r := bufio.NewReader(conn)
	resp, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, "echo:ping", string(resp))
}

func TestServeConnRespondsParseErrorBeforeDroppingOversizeFrame(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "oversize.sock")
	l, err := Listen(sockPath)
	require.NoError(t, err)
	defer l.Close()

	go l.Serve(func(body []byte) []byte { return body })

	conn, err := Dial(sockPath)
	require.NoError(t, err)
	defer conn.Close()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], MaxFrameBytes+1)
	_, err = conn.Write(lenBuf[:])
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	resp, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Contains(t, string(resp), `"code":-32700`)
}

func TestListenRebindsAfterStaleSocketRemoved(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "stale.sock")
	l1, err := Listen(sockPath)
	require.NoError(t, err)
	l1.Close() // leaves no live listener; socket file is removed by Close

	l2, err := Listen(sockPath)
	require.NoError(t, err)
	defer l2.Close()
}

func TestListenRefusesWhenSocketIsLive(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "live.sock")
	l1, err := Listen(sockPath)
	require.NoError(t, err)
	defer l1.Close()
	go l1.Serve(func(body []byte) []byte { return body })

	_, err = Listen(sockPath)
	assert.Error(t, err)
}

func TestDefaultSocketPathHonorsEnvOverride(t *testing.T) {
	t.Setenv("PROBE_LSP_SOCKET_PATH", "/custom/path.sock")
	assert.Equal(t, "/custom/path.sock", DefaultSocketPath())
}
