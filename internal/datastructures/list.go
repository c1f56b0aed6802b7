package datastructures

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyList is returned by end access and removal on an empty list.
	ErrEmptyList = errors.New("list is empty")
	// ErrIndexOutOfRange is returned when an index falls outside the valid range.
	ErrIndexOutOfRange = errors.New("index out of range")
)

// nilSlot marks an absent link.
const nilSlot = -1

type (
	// List is a doubly linked list whose nodes live in an arena owned by the
	// list. Links are slot indices into that arena; released slots are kept
	// on a free-list and reused by later insertions.
	//
	// A List is not safe for concurrent use.
	List[T any] struct {
		nodes []node[T]
		free  []int
		head  int
		tail  int
		size  int
	}

	// node is an element in the doubly linked list.
	node[T any] struct {
		value T
		prev  int
		next  int
	}
)

// NewList creates a new empty list.
func NewList[T any]() *List[T] {
	return &List[T]{head: nilSlot, tail: nilSlot}
}

// Size returns the number of elements in the list.
func (l *List[T]) Size() int {
	return l.size
}

// IsEmpty reports whether the list holds no elements.
func (l *List[T]) IsEmpty() bool {
	return l.size == 0
}

// AddFirst adds a value to the head of the list.
func (l *List[T]) AddFirst(value T) {
	n := l.alloc(value)
	if l.size == 0 {
		l.head = n
		l.tail = n
	} else {
		l.nodes[n].next = l.head
		l.nodes[l.head].prev = n
		l.head = n
	}
	l.size++
}

// AddLast adds a value to the tail of the list.
func (l *List[T]) AddLast(value T) {
	n := l.alloc(value)
	if l.size == 0 {
		l.head = n
		l.tail = n
	} else {
		l.nodes[n].prev = l.tail
		l.nodes[l.tail].next = n
		l.tail = n
	}
	l.size++
}

// Add inserts value so that it occupies position index, shifting later
// elements towards the tail. index may equal Size, which appends.
func (l *List[T]) Add(index int, value T) error {
	if index < 0 || index > l.size {
		return l.indexError(index)
	}
	switch index {
	case 0:
		l.AddFirst(value)
	case l.size:
		l.AddLast(value)
	default:
		succ := l.slotAt(index)
		pred := l.nodes[succ].prev
		n := l.alloc(value)
		l.nodes[n].prev = pred
		l.nodes[n].next = succ
		l.nodes[pred].next = n
		l.nodes[succ].prev = n
		l.size++
	}
	return nil
}

// GetFirst returns the value at the head of the list.
func (l *List[T]) GetFirst() (T, error) {
	if l.size == 0 {
		var zero T
		return zero, ErrEmptyList
	}
	return l.nodes[l.head].value, nil
}

// GetLast returns the value at the tail of the list.
func (l *List[T]) GetLast() (T, error) {
	if l.size == 0 {
		var zero T
		return zero, ErrEmptyList
	}
	return l.nodes[l.tail].value, nil
}

// Get returns the value at position index.
func (l *List[T]) Get(index int) (T, error) {
	if index < 0 || index >= l.size {
		var zero T
		return zero, l.indexError(index)
	}
	return l.nodes[l.slotAt(index)].value, nil
}

// Set replaces the value at position index and returns the previous one.
func (l *List[T]) Set(index int, value T) (T, error) {
	if index < 0 || index >= l.size {
		var zero T
		return zero, l.indexError(index)
	}
	n := l.slotAt(index)
	old := l.nodes[n].value
	l.nodes[n].value = value
	return old, nil
}

// RemoveFirst removes and returns the value at the head of the list.
func (l *List[T]) RemoveFirst() (T, error) {
	if l.size == 0 {
		var zero T
		return zero, ErrEmptyList
	}
	return l.unlink(l.head), nil
}

// RemoveLast removes and returns the value at the tail of the list.
func (l *List[T]) RemoveLast() (T, error) {
	if l.size == 0 {
		var zero T
		return zero, ErrEmptyList
	}
	return l.unlink(l.tail), nil
}

// Remove removes and returns the value at position index.
func (l *List[T]) Remove(index int) (T, error) {
	if index < 0 || index >= l.size {
		var zero T
		return zero, l.indexError(index)
	}
	return l.unlink(l.slotAt(index)), nil
}

// Clear removes all elements from the list.
func (l *List[T]) Clear() {
	l.nodes = nil
	l.free = nil
	l.head = nilSlot
	l.tail = nilSlot
	l.size = 0
}

// Each calls fn for every value from head to tail until fn returns false.
func (l *List[T]) Each(fn func(index int, value T) bool) {
	i := 0
	for n := l.head; n != nilSlot; n = l.nodes[n].next {
		if !fn(i, l.nodes[n].value) {
			return
		}
		i++
	}
}

// Values returns a copy of the list contents from head to tail.
func (l *List[T]) Values() []T {
	values := make([]T, 0, l.size)
	l.Each(func(_ int, v T) bool {
		values = append(values, v)
		return true
	})
	return values
}

// Range returns the values between start and stop inclusive. Negative
// offsets count from the tail, -1 being the last element. Out of range
// offsets are clamped and an empty window yields an empty slice.
func (l *List[T]) Range(start, stop int) []T {
	if start < 0 {
		start += l.size
	}
	if stop < 0 {
		stop += l.size
	}
	if start < 0 {
		start = 0
	}
	if stop >= l.size {
		stop = l.size - 1
	}
	if start > stop || start >= l.size {
		return []T{}
	}

	values := make([]T, 0, stop-start+1)
	for n, i := l.slotAt(start), start; i <= stop; n, i = l.nodes[n].next, i+1 {
		values = append(values, l.nodes[n].value)
	}
	return values
}

// slotAt walks to position index from the closer end. index must be valid.
func (l *List[T]) slotAt(index int) int {
	if index < l.size/2 {
		n := l.head
		for i := 0; i < index; i++ {
			n = l.nodes[n].next
		}
		return n
	}
	n := l.tail
	for i := l.size - 1; i > index; i-- {
		n = l.nodes[n].prev
	}
	return n
}

// alloc takes a slot from the free-list, or grows the arena.
func (l *List[T]) alloc(value T) int {
	nd := node[T]{value: value, prev: nilSlot, next: nilSlot}
	if k := len(l.free); k > 0 {
		n := l.free[k-1]
		l.free = l.free[:k-1]
		l.nodes[n] = nd
		return n
	}
	l.nodes = append(l.nodes, nd)
	return len(l.nodes) - 1
}

// unlink detaches slot n, joins its neighbours and releases the slot.
func (l *List[T]) unlink(n int) T {
	nd := l.nodes[n]
	if nd.prev != nilSlot {
		l.nodes[nd.prev].next = nd.next
	} else {
		l.head = nd.next
	}
	if nd.next != nilSlot {
		l.nodes[nd.next].prev = nd.prev
	} else {
		l.tail = nd.prev
	}
	l.size--

	// zero the slot so the arena does not pin the value
	l.nodes[n] = node[T]{prev: nilSlot, next: nilSlot}
	l.free = append(l.free, n)
	return nd.value
}

func (l *List[T]) indexError(index int) error {
	return fmt.Errorf("%w: index %d, size %d", ErrIndexOutOfRange, index, l.size)
}
