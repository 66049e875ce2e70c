package scep

import (
	"io"
	"sync"
)

// LockedReader serializes reads from an io.Reader that is not safe for
// concurrent use, such as a seeded test source shared by a service.
type LockedReader struct {
	mu sync.Mutex
	r  io.Reader
}

// NewLockedReader wraps r.
func NewLockedReader(r io.Reader) *LockedReader {
	return &LockedReader{r: r}
}

// Read implements io.Reader.
func (l *LockedReader) Read(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Read(p)
}
