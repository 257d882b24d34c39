package agent

import "sync"

// tailBuffer keeps the last size bytes written to it. The runtime's stderr is
// captured here so failures can report what the process printed last.
type tailBuffer struct {
	mu   sync.Mutex
	buf  []byte
	head int
	full bool
}

func newTailBuffer(size int) *tailBuffer {
	if size <= 0 {
		size = 8 * 1024
	}
	return &tailBuffer{buf: make([]byte, size)}
}

// Write implements io.Writer, overwriting the oldest bytes when full.
func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(p)
	if n >= len(t.buf) {
		copy(t.buf, p[n-len(t.buf):])
		t.head = 0
		t.full = true
		return n, nil
	}
	for len(p) > 0 {
		c := copy(t.buf[t.head:], p)
		p = p[c:]
		t.head += c
		if t.head == len(t.buf) {
			t.head = 0
			t.full = true
		}
	}
	return n, nil
}

// String returns the retained bytes in write order.
func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full {
		return string(t.buf[:t.head])
	}
	return string(t.buf[t.head:]) + string(t.buf[:t.head])
}
