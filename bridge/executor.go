package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrExecutorClosed is returned when posting to a closed Executor.
var ErrExecutorClosed = errors.New("bridge: executor closed")

// Task is a unit of work run by an Executor. The context identifies the
// executor running it.
type Task func(ctx context.Context)

type executorKey struct{}

// FromContext returns the Executor running the current task, or nil.
func FromContext(ctx context.Context) *Executor {
	if ctx == nil {
		return nil
	}
	e, _ := ctx.Value(executorKey{}).(*Executor)
	return e
}

// Executor is an execution context: one goroutine draining a FIFO queue.
// Posting never blocks, so native threads can hand work over without
// waiting for the owner.
type Executor struct {
	name string
	ctx  context.Context

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Task
	closed bool
	done   chan struct{}
}

// NewExecutor starts an executor.
func NewExecutor(name string) *Executor {
	e := &Executor{
		name: name,
		done: make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	e.ctx = context.WithValue(context.Background(), executorKey{}, e)
	go e.loop()
	return e
}

// Name returns the executor name.
func (e *Executor) Name() string {
	return e.name
}

// Context returns a context bound to the executor. Closures owned by e and
// invoked with this context run inline.
func (e *Executor) Context() context.Context {
	return e.ctx
}

// Post queues task. Tasks run in posting order.
func (e *Executor) Post(task Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrExecutorClosed
	}
	e.queue = append(e.queue, task)
	e.cond.Signal()
	return nil
}

// Do runs task on the executor and waits for it to finish. Called from the
// executor itself it runs task inline.
func (e *Executor) Do(ctx context.Context, task Task) error {
	if FromContext(ctx) == e {
		task(ctx)
		return nil
	}
	finished := make(chan struct{})
	if err := e.Post(func(ctx context.Context) {
		defer close(finished)
		task(ctx)
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects new tasks, runs the queued ones and waits for the executor
// goroutine to exit.
func (e *Executor) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.done
		return nil
	}
	e.closed = true
	e.cond.Signal()
	e.mu.Unlock()

	<-e.done
	return nil
}

func (e *Executor) loop() {
	defer close(e.done)
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		task := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		e.run(task)
	}
}

func (e *Executor) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			Logger().Error("block delivery panicked",
				zap.String("executor", e.name),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	task(e.ctx)
}
