package capture

import "sync/atomic"

// cell holds the latest value of one field. The detection cycle is the only
// writer; readers load at the moment of use.
type cell[T any] struct {
	p atomic.Pointer[T]
}

func (c *cell[T]) Store(v T) {
	c.p.Store(&v)
}

func (c *cell[T]) Load() (T, bool) {
	p := c.p.Load()
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}

func (c *cell[T]) Clear() {
	c.p.Store(nil)
}
