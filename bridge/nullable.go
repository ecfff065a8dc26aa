package bridge

// Nullable is a value that may be absent. Generated signatures use it for
// pointers and objects annotated nullable; non-null ones are plain values,
// so absence cannot be passed where a value is required.
type Nullable[T any] struct {
	value T
	valid bool
}

// Some wraps a present value.
func Some[T any](v T) Nullable[T] {
	return Nullable[T]{value: v, valid: true}
}

// None returns an absent value.
func None[T any]() Nullable[T] {
	return Nullable[T]{}
}

// Valid reports whether a value is present.
func (n Nullable[T]) Valid() bool { return n.valid }

// Get returns the value and whether it is present.
func (n Nullable[T]) Get() (T, bool) { return n.value, n.valid }

// OrElse returns the value, or def when absent.
func (n Nullable[T]) OrElse(def T) T {
	if !n.valid {
		return def
	}
	return n.value
}

// FromPtr wraps a nullable native pointer. A zero pointer is None.
func FromPtr[T any](ptr uintptr, wrap func(uintptr) T) Nullable[T] {
	if ptr == 0 {
		return None[T]()
	}
	return Some(wrap(ptr))
}

// NonZero returns None for the zero value of T and Some otherwise.
func NonZero[T comparable](v T) Nullable[T] {
	var zero T
	if v == zero {
		return None[T]()
	}
	return Some(v)
}
