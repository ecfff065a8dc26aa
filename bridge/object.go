package bridge

import (
	"errors"
	"sync"
	"sync/atomic"
	"unsafe"
)

// ErrNoMessenger is returned by Send before a Messenger is installed.
var ErrNoMessenger = errors.New("bridge: no Objective-C messenger installed")

// Object is a reference to an Objective-C object. Generated class wrappers
// embed it.
type Object struct {
	ptr uintptr
}

// ObjectAt wraps a raw object pointer.
func ObjectAt(ptr uintptr) Object { return Object{ptr: ptr} }

// Ptr returns the raw object pointer.
func (o Object) Ptr() uintptr { return o.ptr }

// IsNil reports whether the reference is empty.
func (o Object) IsNil() bool { return o.ptr == 0 }

// Release drops one reference to the object.
func (o Object) Release() {
	if o.ptr != 0 {
		messenger().Release(o.ptr)
	}
}

// Releaser is implemented by every object wrapper.
type Releaser interface {
	Release()
}

// Retained is an object returned with a +1 reference. The caller owns it and
// must call Release exactly once; later calls are no-ops.
type Retained[T Releaser] struct {
	obj  T
	done *atomic.Bool
}

// Retain takes ownership of obj.
func Retain[T Releaser](obj T) Retained[T] {
	return Retained[T]{obj: obj, done: new(atomic.Bool)}
}

// Get returns the owned object without transferring ownership.
func (r Retained[T]) Get() T { return r.obj }

// Release gives up ownership.
func (r Retained[T]) Release() {
	if r.done != nil && r.done.CompareAndSwap(false, true) {
		r.obj.Release()
	}
}

// Message is one Objective-C message send. Types is the Objective-C type
// encoding of the return value followed by the arguments.
type Message struct {
	Receiver uintptr
	Class    string // set for class methods, Receiver is then resolved by name
	Selector string
	Types    string
	Return   unsafe.Pointer
	Args     []unsafe.Pointer
}

// Messenger sends Objective-C messages. The host installs a platform
// implementation with SetMessenger.
type Messenger interface {
	Send(msg Message) error
	Release(obj uintptr)
}

var (
	messengerMu sync.RWMutex
	current     Messenger
)

// SetMessenger installs m for all generated wrappers.
func SetMessenger(m Messenger) {
	messengerMu.Lock()
	defer messengerMu.Unlock()
	current = m
}

func messenger() Messenger {
	messengerMu.RLock()
	defer messengerMu.RUnlock()
	if current == nil {
		return noMessenger{}
	}
	return current
}

// Send delivers msg through the installed Messenger.
func Send(msg Message) error {
	return messenger().Send(msg)
}

type noMessenger struct{}

func (noMessenger) Send(Message) error { return ErrNoMessenger }
func (noMessenger) Release(uintptr)    {}
