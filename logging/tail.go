package logging

import (
	"sync"
)

const DefaultTailBytes = 64 * 1024

// TailBuffer keeps only the last N bytes written to it so a representative
// snippet of process output can be logged without retaining all of it.
type TailBuffer struct {
	maxBytes int

	mu       sync.Mutex
	total    int64
	contents []byte
	overflow bool
}

func NewTailBuffer(maxBytes int) *TailBuffer {
	if maxBytes <= 0 {
		maxBytes = DefaultTailBytes
	}
	return &TailBuffer{
		maxBytes: maxBytes,
		contents: make([]byte, 0, maxBytes),
	}
}

func (b *TailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total += int64(len(p))
	if len(b.contents)+len(p) <= b.maxBytes {
		b.contents = append(b.contents, p...)
		return len(p), nil
	}

	// Append then trim front to keep the most recent bytes
	b.contents = append(b.contents, p...)
	if len(b.contents) > b.maxBytes {
		b.contents = b.contents[len(b.contents)-b.maxBytes:]
		b.overflow = true
	}
	return len(p), nil
}

func (b *TailBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := make([]byte, len(b.contents))
	copy(cp, b.contents)
	return cp
}

func (b *TailBuffer) String() string {
	return string(b.Bytes())
}

func (b *TailBuffer) TotalBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

func (b *TailBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflow || int64(len(b.contents)) < b.total
}
