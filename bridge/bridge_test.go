package bridge

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// Test Plan:
// - Inline closures run on the invoking goroutine, even when the owner is busy
// - Listener closures invoked from another context are queued on the owner
// - Listener closures invoked from the owner run inline
// - Every event is delivered exactly once under concurrent invocation
// - Handles release exactly once and released handles cannot be invoked
// - Executor.Close drains queued work and then rejects posts
// - Nullable, Retained and Resource keep their single-ownership contracts
// - Undeliverable calls are logged
// - CString and GoString copy NUL-terminated strings both ways

// blockOwner occupies e until the returned func is called.
func blockOwner(t *testing.T, e *Executor) func() {
	t.Helper()
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, e.Post(func(context.Context) {
		close(started)
		<-release
	}))
	<-started
	return func() { close(release) }
}

func TestClosure_InlineRunsOnCaller(t *testing.T) {
	t.Parallel()

	owner := NewExecutor("owner")
	defer owner.Close()
	reg := NewRegistry()

	var calls atomic.Int32
	c := reg.Register(func(x int32) int32 { calls.Add(1); return x * 2 }, owner, InlineMode)

	unblock := blockOwner(t, owner)
	defer unblock()

	var got int32
	done := make(chan error)
	go func() {
		done <- c.Invoke(context.Background(), func(fn any) {
			got = fn.(func(int32) int32)(21)
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("inline invocation waited for the owner")
	}
	assert.Equal(t, int32(42), got)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClosure_ListenerQueuedOnOwner(t *testing.T) {
	t.Parallel()

	owner := NewExecutor("owner")
	reg := NewRegistry()

	var calls atomic.Int32
	var ranOn *Executor
	c := reg.Register(func() { calls.Add(1) }, owner, ListenerMode)

	unblock := blockOwner(t, owner)

	done := make(chan error)
	go func() {
		done <- c.Invoke(context.Background(), func(fn any) {
			fn.(func())()
		})
	}()
	require.NoError(t, <-done)
	assert.Zero(t, calls.Load(), "listener must not run on the invoking goroutine")

	require.NoError(t, owner.Post(func(ctx context.Context) { ranOn = FromContext(ctx) }))
	unblock()
	require.NoError(t, owner.Close())

	assert.Equal(t, int32(1), calls.Load())
	assert.Same(t, owner, ranOn)
}

func TestClosure_ListenerFromOwnerRunsInline(t *testing.T) {
	t.Parallel()

	owner := NewExecutor("owner")
	defer owner.Close()
	reg := NewRegistry()

	var calls atomic.Int32
	c := reg.Register(func() { calls.Add(1) }, owner, ListenerMode)

	err := owner.Do(context.Background(), func(ctx context.Context) {
		require.NoError(t, c.Invoke(ctx, func(fn any) { fn.(func())() }))
		assert.Equal(t, int32(1), calls.Load(), "delivered before Invoke returned")
	})
	require.NoError(t, err)
}

func TestClosure_ExactlyOncePerEvent(t *testing.T) {
	t.Parallel()

	const (
		senders = 32
		events  = 50
	)

	for _, mode := range []Mode{InlineMode, ListenerMode} {
		t.Run(mode.String(), func(t *testing.T) {
			t.Parallel()

			owner := NewExecutor("owner")
			reg := NewRegistry()

			var mu sync.Mutex
			seen := make(map[int]int)
			c := reg.Register(func(id int) {
				mu.Lock()
				seen[id]++
				mu.Unlock()
			}, owner, mode)

			var wg sync.WaitGroup
			for s := range senders {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for e := range events {
						id := s*events + e
						assert.NoError(t, c.Invoke(context.Background(), func(fn any) {
							fn.(func(int))(id)
						}))
					}
				}()
			}
			wg.Wait()
			require.NoError(t, owner.Close())

			require.Len(t, seen, senders*events)
			for id, n := range seen {
				assert.Equal(t, 1, n, "event %d", id)
			}
			assert.EqualValues(t, senders*events, c.Calls())
		})
	}
}

func TestRegistry_Release(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	c := reg.Register(func() {}, nil, InlineMode)
	other := reg.Register(func() {}, nil, InlineMode)
	assert.NotEqual(t, c.Handle(), other.Handle())
	assert.Equal(t, 2, reg.Len())

	got, err := reg.Lookup(c.Handle())
	require.NoError(t, err)
	assert.Same(t, c, got)

	require.NoError(t, c.Release())
	assert.ErrorIs(t, c.Release(), ErrReleased)
	assert.Equal(t, 1, reg.Len())

	_, err = reg.Lookup(c.Handle())
	assert.ErrorIs(t, err, ErrReleased)
	err = c.Invoke(context.Background(), func(any) { t.Error("released closure invoked") })
	assert.ErrorIs(t, err, ErrReleased)
}

func TestDefaultRegistry(t *testing.T) {
	t.Parallel()

	c := Register(func(x int) int { return x + 1 }, nil, InlineMode)
	var got int
	require.NoError(t, Invoke(context.Background(), c.Handle(), func(fn any) {
		got = fn.(func(int) int)(1)
	}))
	assert.Equal(t, 2, got)

	require.NoError(t, Release(c.Handle()))
	assert.ErrorIs(t, Invoke(context.Background(), c.Handle(), func(any) {}), ErrReleased)
}

func TestExecutor_CloseDrains(t *testing.T) {
	t.Parallel()

	e := NewExecutor("drain")
	var order []int
	for i := range 100 {
		require.NoError(t, e.Post(func(context.Context) { order = append(order, i) }))
	}
	require.NoError(t, e.Close())

	require.Len(t, order, 100)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
	assert.ErrorIs(t, e.Post(func(context.Context) {}), ErrExecutorClosed)
	require.NoError(t, e.Close(), "closing twice is allowed")
}

func TestExecutor_PanicDoesNotStopLoop(t *testing.T) {
	t.Parallel()

	e := NewExecutor("panics")
	require.NoError(t, e.Post(func(context.Context) { panic("boom") }))
	var ran atomic.Bool
	require.NoError(t, e.Do(context.Background(), func(context.Context) { ran.Store(true) }))
	require.NoError(t, e.Close())
	assert.True(t, ran.Load())
}

func TestNullable(t *testing.T) {
	t.Parallel()

	some := Some(int32(7))
	v, ok := some.Get()
	assert.True(t, ok)
	assert.Equal(t, int32(7), v)
	assert.Equal(t, int32(7), some.OrElse(1))

	none := None[int32]()
	assert.False(t, none.Valid())
	assert.Equal(t, int32(1), none.OrElse(1))

	var zero Nullable[string]
	assert.False(t, zero.Valid(), "the zero value is absent")

	obj := FromPtr(0x10, ObjectAt)
	got, ok := obj.Get()
	require.True(t, ok)
	assert.Equal(t, uintptr(0x10), got.Ptr())
	assert.False(t, FromPtr(0, ObjectAt).Valid())

	assert.True(t, NonZero(unsafe.Pointer(&v)).Valid())
	assert.False(t, NonZero[unsafe.Pointer](nil).Valid())
}

// Not parallel: replaces the package logger.
func TestReportDeliveryError(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	prev := Logger()
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(prev) })

	ReportDeliveryError("CompletionHandler", ErrReleased)

	entries := logs.FilterMessage("block delivery failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "CompletionHandler", entries[0].ContextMap()["block"])
}

type countingObject struct {
	releases *atomic.Int32
}

func (o countingObject) Release() { o.releases.Add(1) }

func TestRetained_ReleaseOnce(t *testing.T) {
	t.Parallel()

	var n atomic.Int32
	r := Retain(countingObject{releases: &n})
	copied := r
	r.Release()
	copied.Release()
	r.Release()
	assert.Equal(t, int32(1), n.Load())
	assert.Same(t, &n, r.Get().releases)
}

type recordingMessenger struct {
	mu       sync.Mutex
	sent     []Message
	released []uintptr
}

func (m *recordingMessenger) Send(msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	if msg.Return != nil {
		*(*int32)(msg.Return) = 42
	}
	return nil
}

func (m *recordingMessenger) Release(obj uintptr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = append(m.released, obj)
}

// Not parallel: installs the process-wide messenger.
func TestSend(t *testing.T) {
	SetMessenger(nil)
	assert.ErrorIs(t, Send(Message{Selector: "call:"}), ErrNoMessenger)

	m := &recordingMessenger{}
	SetMessenger(m)
	defer SetMessenger(nil)

	var result int32
	x := int32(3)
	obj := ObjectAt(0x1000)
	require.NoError(t, Send(Message{
		Receiver: obj.Ptr(),
		Selector: "call:",
		Types:    "ii",
		Return:   unsafe.Pointer(&result),
		Args:     []unsafe.Pointer{unsafe.Pointer(&x)},
	}))
	assert.Equal(t, int32(42), result)
	require.Len(t, m.sent, 1)
	assert.Equal(t, "call:", m.sent[0].Selector)

	obj.Release()
	ObjectAt(0).Release()
	assert.Equal(t, []uintptr{0x1000}, m.released)
}

func TestResource_CloseFreesOnce(t *testing.T) {
	t.Parallel()

	var frees atomic.Int32
	r := NewResource(0xbeef, func(ptr uintptr) error {
		assert.Equal(t, uintptr(0xbeef), ptr)
		frees.Add(1)
		return nil
	}, nil)

	assert.Equal(t, uintptr(0xbeef), r.Ptr())
	r.Close()
	r.Close()
	assert.Equal(t, int32(1), frees.Load())
}

func TestResource_ErrorCallback(t *testing.T) {
	t.Parallel()

	var got error
	r := NewResource(1, func(uintptr) error { return errors.New("error") }, func(err error) { got = err })
	r.Close()
	require.Error(t, got)
	assert.Equal(t, "error", got.Error())
}

func TestResource_FreedWhenUnreachable(t *testing.T) {
	t.Parallel()

	var frees atomic.Int32
	func() {
		r := NewResource(2, func(uintptr) error { frees.Add(1); return nil }, nil)
		_ = r.Ptr()
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return frees.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCString_RoundTrip(t *testing.T) {
	t.Parallel()

	p := CString("hello")
	require.NotNil(t, p)
	assert.Equal(t, "hello", GoString(p))
	assert.Equal(t, byte(0), *(*byte)(unsafe.Add(unsafe.Pointer(p), 5)))

	assert.Equal(t, "", GoString(CString("")))
	assert.Equal(t, "", GoString(nil))
}
