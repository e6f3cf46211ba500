package buffer

// Window is a fixed-capacity ordered window. The insertion side is fixed
// at construction: newest entries go to the back by default, or to the
// front when newestFirst is set. When full, the entry on the opposite
// side is evicted.
type Window[T any] struct {
	entries     []T
	start       int
	count       int
	newestFirst bool
}

func NewWindow[T any](size int, newestFirst bool) *Window[T] {
	if size <= 0 {
		size = 1
	}
	return &Window[T]{
		entries:     make([]T, size),
		newestFirst: newestFirst,
	}
}

func (w *Window[T]) Add(entry T) {
	if w == nil || len(w.entries) == 0 {
		return
	}

	n := len(w.entries)
	if w.newestFirst {
		w.start = (w.start - 1 + n) % n
		w.entries[w.start] = entry
		if w.count < n {
			w.count++
		}
		return
	}

	if w.count < n {
		index := (w.start + w.count) % n
		w.entries[index] = entry
		w.count++
		return
	}

	w.entries[w.start] = entry
	w.start = (w.start + 1) % n
}

func (w *Window[T]) Len() int {
	if w == nil {
		return 0
	}
	return w.count
}

func (w *Window[T]) Cap() int {
	if w == nil {
		return 0
	}
	return len(w.entries)
}

// Snapshot copies the window contents out in window order: oldest to
// newest for the default side, newest to oldest when newestFirst.
func (w *Window[T]) Snapshot() []T {
	if w == nil || w.count == 0 {
		return nil
	}

	out := make([]T, w.count)
	for i := 0; i < w.count; i++ {
		index := (w.start + i) % len(w.entries)
		out[i] = w.entries[index]
	}
	return out
}
