package queue

import "testing"

func TestBoundedDropOldest(t *testing.T) {
	q := NewBounded[int](3)

	var dropped []int
	for i := 0; i < 5; i++ {
		if evicted, ok := q.Enqueue(i); ok {
			dropped = append(dropped, evicted)
		}
	}

	if len(dropped) != 2 || dropped[0] != 0 || dropped[1] != 1 {
		t.Errorf("dropped = %v, want [0 1]", dropped)
	}
	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}

	got := q.DrainUpTo(10)
	want := []int{2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("DrainUpTo()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestBoundedDrainUpTo(t *testing.T) {
	tests := []struct {
		name     string
		items    int
		n        int
		wantLen  int
		wantLeft int
	}{
		{"empty queue", 0, 2, 0, 0},
		{"partial drain", 5, 2, 2, 3},
		{"drain more than available", 3, 4, 3, 0},
		{"zero", 3, 0, 0, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewBounded[int](10)
			for i := 0; i < tt.items; i++ {
				q.Enqueue(i)
			}
			got := q.DrainUpTo(tt.n)
			if len(got) != tt.wantLen {
				t.Errorf("drained %d items, want %d", len(got), tt.wantLen)
			}
			if q.Len() != tt.wantLeft {
				t.Errorf("Len() = %d, want %d", q.Len(), tt.wantLeft)
			}
		})
	}
}

func TestBoundedSetCapacity(t *testing.T) {
	q := NewBounded[string](4)
	for _, s := range []string{"a", "b", "c", "d"} {
		q.Enqueue(s)
	}

	evicted := q.SetCapacity(2)
	if len(evicted) != 2 || evicted[0] != "a" || evicted[1] != "b" {
		t.Errorf("evicted = %v, want [a b]", evicted)
	}
	if q.Cap() != 2 || q.Len() != 2 {
		t.Errorf("Cap()=%d Len()=%d", q.Cap(), q.Len())
	}

	if front, _ := q.Dequeue(); front != "c" {
		t.Errorf("front = %q, want c", front)
	}
	if n := q.Clear(); n != 1 {
		t.Errorf("Clear() = %d, want 1", n)
	}
	if _, ok := q.Dequeue(); ok {
		t.Error("Dequeue on empty queue should fail")
	}
}
