package datastructures

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkLinks walks the chain from head and verifies that every next link is
// mirrored by a prev link and that the walk ends at tail after size nodes.
func checkLinks[T any](t *testing.T, l *List[T]) {
	t.Helper()

	if l.size == 0 {
		require.Equal(t, nilSlot, l.head)
		require.Equal(t, nilSlot, l.tail)
		return
	}
	require.NotEqual(t, nilSlot, l.head)
	require.NotEqual(t, nilSlot, l.tail)
	require.Equal(t, nilSlot, l.nodes[l.head].prev)
	require.Equal(t, nilSlot, l.nodes[l.tail].next)

	steps := 0
	n := l.head
	for l.nodes[n].next != nilSlot {
		m := l.nodes[n].next
		require.Equal(t, n, l.nodes[m].prev, "asymmetric link at step %d", steps)
		n = m
		steps++
		require.LessOrEqual(t, steps, l.size, "chain longer than size")
	}
	require.Equal(t, l.tail, n)
	require.Equal(t, l.size-1, steps)
}

func TestAddFirst(t *testing.T) {
	l := NewList[string]()
	l.AddFirst("value1")
	l.AddFirst("value2")

	assert.Equal(t, 2, l.Size())
	assert.Equal(t, []string{"value2", "value1"}, l.Values())
	checkLinks(t, l)
}

func TestAddLast(t *testing.T) {
	l := NewList[int]()
	for i := 0; i < 10; i++ {
		l.AddLast(i)
	}

	require.Equal(t, 10, l.Size())
	for i := 0; i < 10; i++ {
		v, err := l.Get(i)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	checkLinks(t, l)
}

func TestRemoveFirst(t *testing.T) {
	l := NewList[string]()
	l.AddFirst("value1")
	l.AddFirst("value2")

	val, err := l.RemoveFirst()
	require.NoError(t, err)
	assert.Equal(t, "value2", val)
	assert.Equal(t, 1, l.Size())
	checkLinks(t, l)
}

func TestRemoveLast(t *testing.T) {
	l := NewList[string]()
	l.AddLast("value1")
	l.AddLast("value2")

	val, err := l.RemoveLast()
	require.NoError(t, err)
	assert.Equal(t, "value2", val)
	assert.Equal(t, 1, l.Size())
	checkLinks(t, l)
}

func TestAddRemoveRestoresEnds(t *testing.T) {
	l := NewList[int]()
	l.AddLast(1)
	l.AddLast(2)
	head, tail := l.head, l.tail

	l.AddFirst(7)
	v, err := l.RemoveFirst()
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 2, l.Size())
	assert.Equal(t, head, l.head)
	assert.Equal(t, tail, l.tail)

	l.AddLast(8)
	v, err = l.RemoveLast()
	require.NoError(t, err)
	assert.Equal(t, 8, v)
	assert.Equal(t, 2, l.Size())
	checkLinks(t, l)
}

func TestEmptyList(t *testing.T) {
	l := NewList[int]()
	assert.True(t, l.IsEmpty())

	_, err := l.GetFirst()
	assert.ErrorIs(t, err, ErrEmptyList)
	_, err = l.GetLast()
	assert.ErrorIs(t, err, ErrEmptyList)
	_, err = l.RemoveFirst()
	assert.ErrorIs(t, err, ErrEmptyList)
	_, err = l.RemoveLast()
	assert.ErrorIs(t, err, ErrEmptyList)

	assert.Equal(t, 0, l.Size())
	checkLinks(t, l)
}

func TestIndexOutOfRange(t *testing.T) {
	l := NewList[int]()
	l.AddLast(1)
	l.AddLast(2)

	for _, i := range []int{-1, 2, 3} {
		_, err := l.Get(i)
		assert.ErrorIs(t, err, ErrIndexOutOfRange, "get %d", i)
		_, err = l.Remove(i)
		assert.ErrorIs(t, err, ErrIndexOutOfRange, "remove %d", i)
		_, err = l.Set(i, 0)
		assert.ErrorIs(t, err, ErrIndexOutOfRange, "set %d", i)
	}
	for _, i := range []int{-1, 3} {
		err := l.Add(i, 0)
		assert.ErrorIs(t, err, ErrIndexOutOfRange, "add %d", i)
	}

	// failed calls leave the list untouched
	assert.Equal(t, []int{1, 2}, l.Values())
	checkLinks(t, l)

	_, err := NewList[int]().Get(0)
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
}

func TestAddAtBoundaries(t *testing.T) {
	l := NewList[int]()
	require.NoError(t, l.Add(0, 2))
	require.NoError(t, l.Add(0, 1))
	require.NoError(t, l.Add(l.Size(), 3))

	assert.Equal(t, []int{1, 2, 3}, l.Values())
	checkLinks(t, l)
}

func TestGetMatchesEnds(t *testing.T) {
	l := NewList[int]()
	for i := 0; i < 7; i++ {
		l.AddLast(i * 10)
	}

	first, err := l.GetFirst()
	require.NoError(t, err)
	v, err := l.Get(0)
	require.NoError(t, err)
	assert.Equal(t, first, v)

	last, err := l.GetLast()
	require.NoError(t, err)
	v, err = l.Get(l.Size() - 1)
	require.NoError(t, err)
	assert.Equal(t, last, v)
}

func TestRemoveShiftsSuccessors(t *testing.T) {
	l := NewList[int]()
	for i := 0; i < 9; i++ {
		l.AddLast(i)
	}

	for _, i := range []int{0, 3, 4, 2} {
		next, err := l.Get(i + 1)
		require.NoError(t, err)
		size := l.Size()

		_, err = l.Remove(i)
		require.NoError(t, err)
		assert.Equal(t, size-1, l.Size())

		v, err := l.Get(i)
		require.NoError(t, err)
		assert.Equal(t, next, v)
		checkLinks(t, l)
	}
}

func TestRemoveSoleNode(t *testing.T) {
	l := NewList[string]()
	l.AddLast("only")

	v, err := l.Remove(0)
	require.NoError(t, err)
	assert.Equal(t, "only", v)
	assert.True(t, l.IsEmpty())
	checkLinks(t, l)
}

func TestScenario(t *testing.T) {
	l := NewList[int]()
	l.AddLast(1)
	l.AddLast(2)
	l.AddLast(3)
	require.Equal(t, 3, l.Size())
	assert.Equal(t, []int{1, 2, 3}, l.Values())

	require.NoError(t, l.Add(1, 9))
	assert.Equal(t, []int{1, 9, 2, 3}, l.Values())
	assert.Equal(t, 4, l.Size())

	v, err := l.Remove(0)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, []int{9, 2, 3}, l.Values())

	v, err = l.RemoveLast()
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Equal(t, []int{9, 2}, l.Values())

	l.Clear()
	assert.Equal(t, 0, l.Size())
	assert.True(t, l.IsEmpty())
	checkLinks(t, l)
}

func TestClearIdempotent(t *testing.T) {
	l := NewList[int]()
	l.Clear()
	l.Clear()
	assert.Equal(t, 0, l.Size())
	assert.True(t, l.IsEmpty())

	l.AddLast(4)
	assert.Equal(t, []int{4}, l.Values())
	checkLinks(t, l)
}

func TestSlotReuse(t *testing.T) {
	l := NewList[int]()
	for i := 0; i < 4; i++ {
		l.AddLast(i)
	}
	arena := len(l.nodes)

	for i := 0; i < 100; i++ {
		_, err := l.Remove(2)
		require.NoError(t, err)
		require.NoError(t, l.Add(1, i))
	}
	assert.Equal(t, arena, len(l.nodes))
	assert.Equal(t, 4, l.Size())
	checkLinks(t, l)
}

func TestTraversalFromBothEnds(t *testing.T) {
	l := NewList[int]()
	for i := 0; i < 11; i++ {
		l.AddLast(i)
	}
	// every index lands on the same value whichever end the walk starts from
	for i := 0; i < l.Size(); i++ {
		v, err := l.Get(i)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}

	old, err := l.Set(8, 80)
	require.NoError(t, err)
	assert.Equal(t, 8, old)
	v, err := l.Get(8)
	require.NoError(t, err)
	assert.Equal(t, 80, v)
}

func TestRange(t *testing.T) {
	l := NewList[string]()
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		l.AddLast(s)
	}

	tests := []struct {
		name        string
		start, stop int
		want        []string
	}{
		{"all", 0, -1, []string{"a", "b", "c", "d", "e"}},
		{"middle", 1, 3, []string{"b", "c", "d"}},
		{"negative", -2, -1, []string{"d", "e"}},
		{"clamped", -100, 100, []string{"a", "b", "c", "d", "e"}},
		{"inverted", 3, 1, []string{}},
		{"past end", 5, 10, []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, l.Range(tc.start, tc.stop))
		})
	}

	assert.Equal(t, []string{}, NewList[string]().Range(0, -1))
}

func TestEachStops(t *testing.T) {
	l := NewList[int]()
	for i := 0; i < 5; i++ {
		l.AddLast(i)
	}
	var seen []int
	l.Each(func(i, v int) bool {
		seen = append(seen, v)
		return i < 2
	})
	assert.Equal(t, []int{0, 1, 2}, seen)
}

func BenchmarkGetMiddle(b *testing.B) {
	l := NewList[int]()
	for i := 0; i < 1024; i++ {
		l.AddLast(i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = l.Get(i % l.Size())
	}
}
