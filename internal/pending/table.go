package pending

import (
	"sync"

	"github.com/signetd/signet/pkg/cerr"
)

// Entry is a request suspended on a user decision. It carries the context
// needed to finish the request once the decision arrives and a one-shot
// channel the suspended handler waits on.
type Entry[T any] struct {
	Type   string
	Domain string
	Data   []byte

	mu     sync.Mutex
	window string
	done   chan T
}

func NewEntry[T any](reqType, domain string, data []byte) *Entry[T] {
	return &Entry[T]{
		Type:   reqType,
		Domain: domain,
		Data:   data,
		done:   make(chan T, 1),
	}
}

// SetWindow records the prompt surface handle opened for this entry.
func (e *Entry[T]) SetWindow(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.window = id
}

func (e *Entry[T]) Window() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.window
}

// Resolve delivers the final value to the suspended waiter. Only the first
// call has any effect; later values are dropped.
func (e *Entry[T]) Resolve(v T) {
	select {
	case e.done <- v:
	default:
	}
}

// Done returns the channel the final value is delivered on.
func (e *Entry[T]) Done() <-chan T {
	return e.done
}

// Table tracks suspended requests by id. Registration is fail-fast on
// duplicates and Take atomically removes an entry, so each id is resolved
// at most once no matter how many results race for it.
type Table[T any] struct {
	mu      sync.Mutex
	entries map[string]*Entry[T]
}

func NewTable[T any]() *Table[T] {
	return &Table[T]{entries: make(map[string]*Entry[T])}
}

// Register adds an entry under the given id. It fails with an AlreadyExists
// error if the id is already pending; the existing entry is untouched.
func (t *Table[T]) Register(id string, e *Entry[T]) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; ok {
		return cerr.NewError(cerr.AlreadyExists, "request is already pending", nil)
	}
	t.entries[id] = e
	return nil
}

// Take removes and returns the entry for the given id. Exactly one caller
// observes ok for any registered id.
func (t *Table[T]) Take(id string) (*Entry[T], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return e, ok
}

// Len returns the number of suspended requests.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
