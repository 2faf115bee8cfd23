package logbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/probelsp/internal/logging"
)

func push(b *Buffer, msg string) {
	b.Push(logging.Record{Level: logging.LevelInfo, Target: "t", Message: msg})
}

func TestSequenceMonotonic(t *testing.T) {
	b := New(1000)
	for i := 0; i < 50; i++ {
		push(b, "m")
	}
	all := b.GetAll()
	require.Len(t, all, 50)
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i].Sequence, all[i-1].Sequence)
	}
}

func TestRotationNeverReusesSequence(t *testing.T) {
	b := New(5)
	for i := 0; i < 12; i++ {
		push(b, "m")
	}
	all := b.GetAll()
	require.Len(t, all, 5)
	assert.Equal(t, uint64(8), all[0].Sequence)
	assert.Equal(t, uint64(12), all[len(all)-1].Sequence)
}

func TestGetSinceSequenceSubsetOfGetAll(t *testing.T) {
	b := New(100)
	for i := 0; i < 30; i++ {
		push(b, "m")
	}
	since := b.GetSinceSequence(10, 0)
	all := b.GetAll()

	allSeqs := make(map[uint64]bool, len(all))
	for _, e := range all {
		allSeqs[e.Sequence] = true
	}
	for _, e := range since {
		assert.True(t, allSeqs[e.Sequence])
		assert.Greater(t, e.Sequence, uint64(10))
	}
}

func TestGetLast(t *testing.T) {
	b := New(100)
	for i := 0; i < 10; i++ {
		push(b, "m")
	}
	last3 := b.GetLast(3)
	require.Len(t, last3, 3)
	assert.Equal(t, uint64(10), last3[2].Sequence)
}

func TestMessageTruncation(t *testing.T) {
	b := New(10)
	long := make([]byte, maxMessageBytes+500)
	for i := range long {
		long[i] = 'x'
	}
	push(b, string(long))
	all := b.GetAll()
	require.Len(t, all, 1)
	assert.Len(t, all[0].Message, maxMessageBytes)
}

func TestClear(t *testing.T) {
	b := New(10)
	push(b, "m")
	b.Clear()
	assert.Empty(t, b.GetAll())
}
