package audio

import (
	"bytes"
	"sync"
	"testing"
)

func TestNewBuffer(t *testing.T) {
	tests := []struct {
		name      string
		maxSize   int
		expectErr bool
	}{
		{"valid", 1024, false},
		{"zero", 0, true},
		{"negative", -5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := NewBuffer(tt.maxSize)
			if tt.expectErr {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if buf.Len() != 0 {
				t.Errorf("Expected empty buffer, got %d bytes", buf.Len())
			}
		})
	}
}

func TestBufferPeekDiscard(t *testing.T) {
	buf, _ := NewBuffer(1024)
	buf.Append([]byte{1, 2, 3, 4, 5, 6})

	if got := buf.Peek(4); !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("Peek(4) = %v", got)
	}
	if got := buf.Peek(10); got != nil {
		t.Errorf("Peek beyond length should be nil, got %v", got)
	}

	peeked := buf.Peek(2)
	peeked[0] = 99
	if buf.Peek(1)[0] != 1 {
		t.Error("Peek should return a copy")
	}

	if n := buf.Discard(4); n != 4 {
		t.Errorf("Discard(4) = %d", n)
	}
	if got := buf.Peek(2); !bytes.Equal(got, []byte{5, 6}) {
		t.Errorf("after discard Peek(2) = %v", got)
	}
	if n := buf.Discard(10); n != 2 {
		t.Errorf("Discard past end = %d, want 2", n)
	}
}

func TestBufferOverflowTrim(t *testing.T) {
	buf, _ := NewBuffer(1000)

	if trimmed := buf.Append(make([]byte, 1000)); trimmed != 0 {
		t.Errorf("filling to capacity should not trim, got %d", trimmed)
	}

	tail := []byte{7, 7, 8, 8}
	trimmed := buf.Append(tail)
	if trimmed != 304 {
		t.Errorf("trimmed = %d, want 304", trimmed)
	}
	if buf.Len() != 700 {
		t.Errorf("Len() = %d, want 700", buf.Len())
	}

	// The newest bytes survive.
	all := buf.Peek(buf.Len())
	if !bytes.Equal(all[len(all)-4:], tail) {
		t.Errorf("tail = %v, want %v", all[len(all)-4:], tail)
	}

	stats := buf.GetStats()
	if stats.TrimEvents != 1 || stats.TotalTrimmed != 304 || stats.TotalAppended != 1004 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestBufferConcurrentAppend(t *testing.T) {
	buf, _ := NewBuffer(1 << 20)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				buf.Append(make([]byte, 64))
			}
		}()
	}
	wg.Wait()

	if buf.Len() != 10*100*64 {
		t.Errorf("Len() = %d, want %d", buf.Len(), 10*100*64)
	}
}
