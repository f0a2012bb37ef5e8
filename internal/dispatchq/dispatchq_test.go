package dispatchq

import (
	"sync"
	"testing"
	"time"
)

func TestQueuePreservesOrder(t *testing.T) {
	q := New()
	defer q.Close()

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		q.Push(func() {
			mu.Lock()
			got = append(got, i)
			n := len(got)
			mu.Unlock()
			if n == 100 {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for queue to drain")
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("position %d: got %d", i, v)
		}
	}
}

func TestPushAfterCloseIsDropped(t *testing.T) {
	q := New()
	q.Close()
	q.Close()

	ran := make(chan struct{}, 1)
	q.Push(func() { ran <- struct{}{} })

	select {
	case <-ran:
		t.Fatal("function ran after Close")
	case <-time.After(50 * time.Millisecond):
	}
	select {
	case <-q.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestCloseFromInsideQueuedFunction(t *testing.T) {
	q := New()
	second := make(chan struct{}, 1)
	closed := make(chan struct{})
	q.Push(func() {
		q.Close()
		close(closed)
	})
	q.Push(func() { second <- struct{}{} })

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
	select {
	case <-second:
		t.Fatal("pending function ran after Close")
	case <-time.After(50 * time.Millisecond):
	}
}
