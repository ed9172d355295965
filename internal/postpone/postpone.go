// Package postpone defers heavy side-effect calls to the end of a
// transactional scope.
//
// A decision cycle must be transactional at the side-effect level: no
// scout-history or trade-log writes may leak unless the whole jump completes.
// A Context is owned by a single worker goroutine; it is not safe for
// concurrent use.
package postpone

// Context carries the postpone flag and the deferred call list for one worker.
type Context struct {
	postponing bool
	deferred   []func()
}

// New creates an empty postpone context.
func New() *Context {
	return &Context{}
}

// Heavy runs fn inline, unless a Scope is open, in which case fn is appended
// to the deferred list and executed when the scope exits.
func (c *Context) Heavy(fn func()) {
	if c.postponing {
		c.deferred = append(c.deferred, fn)
		return
	}
	fn()
}

// Scope marks heavy calls for deferral while body runs, then drains them in
// insertion order. The drain happens even when body returns an error or
// panics. A nested Scope is a no-op flag-wise: the body runs and its heavy
// calls enqueue onto the enclosing scope.
func (c *Context) Scope(body func() error) error {
	if c.postponing {
		return body()
	}
	c.postponing = true
	defer func() {
		c.postponing = false
		calls := c.deferred
		c.deferred = nil
		for _, fn := range calls {
			fn()
		}
	}()
	return body()
}
