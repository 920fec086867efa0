// Package secret wraps credential material so it is wiped from memory
// when no longer needed, instead of lingering until garbage collection.
package secret

import "sync"

// Text holds a secret string in a mutable buffer that Zero overwrites.
// The zero value is empty and safe to use.
type Text struct {
	mu sync.Mutex
	b  []byte
}

func New(s string) *Text {
	return &Text{b: []byte(s)}
}

// Reveal returns the secret value. Callers must not retain the result
// longer than the operation that needs it.
func (t *Text) Reveal() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.b)
}

func (t *Text) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.b)
}

// Zero overwrites the stored bytes. The Text is empty afterwards.
func (t *Text) Zero() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	Wipe(t.b)
	t.b = nil
}

// String masks the value so secrets cannot leak through logging.
func (t *Text) String() string { return "[redacted]" }

// Wipe overwrites a byte slice in place.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
