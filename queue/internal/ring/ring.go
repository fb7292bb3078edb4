// Package ring provides a fixed-capacity circular buffer, the storage
// primitive FIFOQueue is built on. It is grounded on catrate's
// ringBuffer (github.com/joeycumines/go-utilpkg/catrate): the same
// read/write cursor pair over a backing slice, modulo-indexed rather
// than power-of-two-masked since queue capacities are caller-chosen
// arbitrary sizes, not rounded up to the next power of two.
package ring

// Ring is a fixed-capacity FIFO over a backing slice supplied at
// construction (so static and dynamic storage are just "caller-owned
// array" vs "heap-allocated slice" at the call site).
type Ring[E any] struct {
	s    []E
	r, w uint // read and write cursors, each in [0, len(s))
	n    int  // number of live elements; tracked separately since r==w is ambiguous between empty and full
}

// New wraps storage as an empty ring of capacity len(storage). storage
// is retained, not copied.
func New[E any](storage []E) *Ring[E] {
	return &Ring[E]{s: storage}
}

// Len returns the number of stored elements.
func (x *Ring[E]) Len() int { return x.n }

// Cap returns the fixed capacity.
func (x *Ring[E]) Cap() int { return len(x.s) }

// Full reports whether the ring has no free slots.
func (x *Ring[E]) Full() bool { return x.n == len(x.s) }

// Empty reports whether the ring holds no elements.
func (x *Ring[E]) Empty() bool { return x.n == 0 }

// PushBack appends value at the tail. The caller must ensure the ring
// is not Full (the queue package checks Full under its mutex, waiting
// on a condition variable, before ever calling this).
func (x *Ring[E]) PushBack(value E) {
	if x.n == len(x.s) {
		panic("ring: push into full ring")
	}
	x.s[x.w] = value
	x.w = x.next(x.w)
	x.n++
}

// PopFront removes and returns the element at the head. The caller
// must ensure the ring is not Empty.
func (x *Ring[E]) PopFront() E {
	if x.n == 0 {
		panic("ring: pop from empty ring")
	}
	var zero E
	v := x.s[x.r]
	x.s[x.r] = zero // drop the reference so a pointer/interface element isn't pinned
	x.r = x.next(x.r)
	x.n--
	return v
}

// Front returns the head element without removing it. The caller must
// ensure the ring is not Empty.
func (x *Ring[E]) Front() E { return x.s[x.r] }

func (x *Ring[E]) next(i uint) uint {
	i++
	if i == uint(len(x.s)) {
		return 0
	}
	return i
}
