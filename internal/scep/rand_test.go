package scep

import (
	"bytes"
	"io"
	"sync"
	"testing"
)

func TestU_LockedReader_Concurrent(t *testing.T) {
	const workers, chunk = 8, 16
	r := NewLockedReader(&countingReader{})

	var mu sync.Mutex
	var total int
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, chunk)
			if _, err := io.ReadFull(r, buf); err != nil {
				t.Errorf("ReadFull() error = %v", err)
				return
			}
			mu.Lock()
			total += len(buf)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if total != workers*chunk {
		t.Errorf("read %d bytes, want %d", total, workers*chunk)
	}
	next := make([]byte, 1)
	_, _ = r.Read(next)
	if next[0] != byte(workers*chunk) {
		t.Errorf("next byte = %d, want %d", next[0], byte(workers*chunk))
	}
}

func TestU_LockedReader_PassesThroughEOF(t *testing.T) {
	r := NewLockedReader(bytes.NewReader([]byte{1, 2}))
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != io.ErrUnexpectedEOF {
		t.Errorf("ReadFull() error = %v, want io.ErrUnexpectedEOF", err)
	}
}
