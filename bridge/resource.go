package bridge

import (
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// FreeFunc releases a native resource. A non-nil error is reported to the
// resource's error callback.
type FreeFunc func(ptr uintptr) error

// Resource owns a native pointer and frees it exactly once: on Close, or
// when the Resource becomes unreachable.
type Resource struct {
	ptr     uintptr
	state   *freeState
	cleanup runtime.Cleanup
}

// freeState must not reference the Resource, or the cleanup never runs.
type freeState struct {
	once    sync.Once
	ptr     uintptr
	free    FreeFunc
	onError func(error)
}

func (s *freeState) run() {
	s.once.Do(func() {
		if err := s.free(s.ptr); err != nil {
			if s.onError != nil {
				s.onError(err)
				return
			}
			Logger().Warn("freeing native resource failed",
				zap.Uintptr("ptr", s.ptr), zap.Error(err))
		}
	})
}

// NewResource attaches free to ptr. onError may be nil.
func NewResource(ptr uintptr, free FreeFunc, onError func(error)) *Resource {
	state := &freeState{ptr: ptr, free: free, onError: onError}
	r := &Resource{ptr: ptr, state: state}
	r.cleanup = runtime.AddCleanup(r, func(s *freeState) { s.run() }, state)
	return r
}

// Ptr returns the native pointer.
func (r *Resource) Ptr() uintptr { return r.ptr }

// Close frees the resource now. Later calls and the cleanup do nothing.
func (r *Resource) Close() {
	r.cleanup.Stop()
	r.state.run()
}
