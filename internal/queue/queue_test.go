package queue

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/probelsp/internal/types"
)

func item(id uint64, p types.Priority, path string) types.QueueItem {
	return types.QueueItem{ID: id, Priority: p, FilePath: path}
}

func TestPriorityOrdering(t *testing.T) {
	q := New(Unlimited)
	prios := []types.Priority{types.PriorityLow, types.PriorityCritical, types.PriorityMedium, types.PriorityHigh, types.PriorityLow}
	paths := []string{"a", "b", "c", "d", "e"}
	for i := range prios {
		ok := q.Enqueue(item(uint64(i+1), prios[i], paths[i]))
		require.True(t, ok)
	}

	var got []string
	for {
		it, ok := q.Dequeue()
		if !ok {
			break
		}
		got = append(got, it.FilePath)
	}
	assert.Equal(t, []string{"b", "d", "c", "a", "e"}, got)
}

func TestCapacityRejection(t *testing.T) {
	q := New(3)
	for i := 0; i < 3; i++ {
		assert.True(t, q.Enqueue(item(uint64(i+1), types.PriorityLow, "x")))
	}
	assert.False(t, q.Enqueue(item(4, types.PriorityLow, "x")))
	assert.Equal(t, 3, q.GetMetrics().Total)
}

func TestPausedQueueRejectsEverything(t *testing.T) {
	q := New(Unlimited)
	q.Pause()
	assert.True(t, q.IsPaused())
	assert.False(t, q.Enqueue(item(1, types.PriorityHigh, "x")))
	_, ok := q.Dequeue()
	assert.False(t, ok)
}

func TestEnqueueBatchEquivalence(t *testing.T) {
	items := []types.QueueItem{
		item(1, types.PriorityLow, "a"),
		item(2, types.PriorityHigh, "b"),
		item(3, types.PriorityHigh, "c"),
	}

	batched := New(Unlimited)
	batched.EnqueueBatch(items)

	iterated := New(Unlimited)
	for _, it := range items {
		iterated.Enqueue(it)
	}

	assert.Equal(t, iterated.GetMetrics(), batched.GetMetrics())

	for {
		a, aok := batched.Dequeue()
		b, bok := iterated.Dequeue()
		require.Equal(t, aok, bok)
		if !aok {
			break
		}
		assert.Equal(t, a, b)
	}
}

func TestRemoveMatching(t *testing.T) {
	q := New(Unlimited)
	for i := 1; i <= 6; i++ {
		q.Enqueue(item(uint64(i), types.PriorityMedium, "f"))
	}
	removed := q.RemoveMatching(func(it types.QueueItem) bool { return it.ID%2 == 0 })
	assert.Equal(t, 3, removed)

	var ids []uint64
	for {
		it, ok := q.Dequeue()
		if !ok {
			break
		}
		ids = append(ids, it.ID)
	}
	assert.Equal(t, []uint64{1, 3, 5}, ids)
}

func TestMetricsInvariants(t *testing.T) {
	q := New(Unlimited)
	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		if rnd.Intn(3) == 0 {
			q.Dequeue()
			continue
		}
		p := types.Priority(rnd.Intn(4))
		q.Enqueue(types.QueueItem{ID: q.NextID(), Priority: p, EstSize: int64(rnd.Intn(100))})

		m := q.GetMetrics()
		sum := 0
		for _, c := range m.PerPriority {
			sum += c
		}
		assert.Equal(t, m.Total, sum)
		assert.Equal(t, m.Total, int(m.TotalEnqueued-m.TotalDequeued))
	}
}

func TestClearPriority(t *testing.T) {
	q := New(Unlimited)
	for i := 0; i < 4; i++ {
		q.Enqueue(item(uint64(i), types.PriorityHigh, "x"))
	}
	q.Enqueue(item(100, types.PriorityLow, "y"))

	before := q.GetMetrics().Total
	removed := q.ClearPriority(types.PriorityHigh)
	after := q.GetMetrics().Total

	assert.Equal(t, 4, removed)
	assert.Equal(t, before-4, after)
	assert.Equal(t, 0, q.LenForPriority(types.PriorityHigh))
}
