package gsplat

import (
	"runtime"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

var ErrClosed = errors.New("gsplat: context closed")

// Context is the execution context every operator runs in. It bounds the
// number of goroutines a call fans out to. Calls block until all of their
// work is done, so a Context may be reused across iterations but must not
// be shared by concurrent calls that expect ordering between them.
type Context struct {
	workers int
	closed  atomic.Bool
}

// NewContext returns a context running at most workers goroutines per call.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewContext(workers int) *Context {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Context{workers: workers}
}

func (c *Context) Workers() int {
	return c.workers
}

// Close releases the context. Operators called afterwards return ErrClosed.
// Closing twice is a no-op.
func (c *Context) Close() error {
	c.closed.Store(true)
	return nil
}

// forEach runs fn for every i in [0,n) with bounded parallelism and
// returns the first error.
func (c *Context) forEach(n int, fn func(i int) error) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if n == 0 {
		return nil
	}
	var g errgroup.Group
	g.SetLimit(c.workers)
	for i := range n {
		g.Go(func() error {
			return fn(i)
		})
	}
	return g.Wait()
}

// forChunks splits [0,n) into contiguous ranges, one batch of goroutines.
func (c *Context) forChunks(n int, fn func(lo, hi int)) error {
	if n == 0 {
		return c.forEach(0, nil)
	}
	chunks := min(c.workers*4, n)
	size := (n + chunks - 1) / chunks
	return c.forEach(chunks, func(k int) error {
		lo := k * size
		hi := min(lo+size, n)
		if lo < hi {
			fn(lo, hi)
		}
		return nil
	})
}
