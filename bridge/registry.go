package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrReleased is returned for a handle whose closure was released.
var ErrReleased = errors.New("bridge: closure released")

// Handle is the opaque context value passed through native code in place of
// a Go closure.
type Handle uintptr

// Mode selects how a closure is delivered.
type Mode int

const (
	// InlineMode runs the closure on the invoking goroutine. Blocks that
	// return a value use it.
	InlineMode Mode = iota
	// ListenerMode queues invocations from foreign contexts on the owner.
	ListenerMode
)

func (m Mode) String() string {
	if m == ListenerMode {
		return "listener"
	}
	return "inline"
}

// Closure is a registered Go function reachable from native code through its
// Handle.
type Closure struct {
	handle   Handle
	fn       any
	owner    *Executor
	mode     Mode
	registry *Registry
	released atomic.Bool
	calls    atomic.Int64
}

// Handle returns the native context value of the closure.
func (c *Closure) Handle() Handle { return c.handle }

// Func returns the registered Go function.
func (c *Closure) Func() any { return c.fn }

// Owner returns the executor the closure was created on, or nil.
func (c *Closure) Owner() *Executor { return c.owner }

// Mode returns the delivery mode.
func (c *Closure) Mode() Mode { return c.mode }

// Calls returns the number of deliveries started so far.
func (c *Closure) Calls() int64 { return c.calls.Load() }

// Invoke delivers one call. call receives the registered function and
// performs the typed invocation. In ListenerMode a call from a context other
// than the owner is queued and Invoke returns once it is queued.
func (c *Closure) Invoke(ctx context.Context, call func(fn any)) error {
	if c.released.Load() {
		return ErrReleased
	}
	if c.mode == InlineMode || c.owner == nil || FromContext(ctx) == c.owner {
		c.calls.Add(1)
		call(c.fn)
		return nil
	}
	return c.owner.Post(func(context.Context) {
		c.calls.Add(1)
		call(c.fn)
	})
}

// Release frees the handle. It succeeds exactly once.
func (c *Closure) Release() error {
	return c.registry.Release(c.handle)
}

// Registry maps handles to closures.
type Registry struct {
	mu      sync.Mutex
	next    Handle
	entries map[Handle]*Closure
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Handle]*Closure)}
}

// DefaultRegistry is used by the package-level functions and generated code.
var DefaultRegistry = NewRegistry()

// Register stores fn and returns its closure. owner may be nil for closures
// that are only ever invoked inline.
func (r *Registry) Register(fn any, owner *Executor, mode Mode) *Closure {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	c := &Closure{handle: r.next, fn: fn, owner: owner, mode: mode, registry: r}
	r.entries[c.handle] = c
	return c
}

// Lookup returns the live closure for h.
func (r *Registry) Lookup(h Handle) (*Closure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.entries[h]
	if !ok {
		return nil, fmt.Errorf("handle %d: %w", h, ErrReleased)
	}
	return c, nil
}

// Release removes h. A second release of the same handle fails.
func (r *Registry) Release(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.entries[h]
	if !ok {
		return fmt.Errorf("handle %d: %w", h, ErrReleased)
	}
	c.released.Store(true)
	delete(r.entries, h)
	return nil
}

// Len returns the number of live closures.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Register stores fn in DefaultRegistry.
func Register(fn any, owner *Executor, mode Mode) *Closure {
	return DefaultRegistry.Register(fn, owner, mode)
}

// Invoke looks up h in DefaultRegistry and delivers one call. Trampolines
// call it with context.Background, so listener blocks always reach their
// owner through its queue.
func Invoke(ctx context.Context, h Handle, call func(fn any)) error {
	c, err := DefaultRegistry.Lookup(h)
	if err != nil {
		return err
	}
	return c.Invoke(ctx, call)
}

// Release frees h in DefaultRegistry. Native block disposal calls it.
func Release(h Handle) error {
	return DefaultRegistry.Release(h)
}

// ReportDeliveryError logs a call that could not be delivered to a Go
// closure. Trampolines have no caller to return the error to.
func ReportDeliveryError(block string, err error) {
	Logger().Error("block delivery failed", zap.String("block", block), zap.Error(err))
}
