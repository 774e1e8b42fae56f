// Package indicator implements the per-session motion detectors used for
// liveness: eye blinks, mouth movement and head movement.
//
// Each detector is a small hysteresis state machine. A condition that holds
// across several frames is counted once, on the frame where it starts.
package indicator

// window is a bounded rolling history of recent values, oldest first.
type window[T any] struct {
	values []T
	size   int
}

func newWindow[T any](size int) window[T] {
	if size < 1 {
		size = 1
	}
	return window[T]{values: make([]T, 0, size), size: size}
}

func (w *window[T]) push(v T) {
	if len(w.values) == w.size {
		copy(w.values, w.values[1:])
		w.values = w.values[:len(w.values)-1]
	}
	w.values = append(w.values, v)
}

func (w *window[T]) snapshot() []T {
	return append([]T(nil), w.values...)
}

func (w *window[T]) clear() { w.values = w.values[:0] }
