package queue

import (
	"sync"
	"testing"
	"time"
)

func TestQueue_PushPopOrder(t *testing.T) {
	q := New[int](10)

	for i := 0; i < 5; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}
	if q.Len() != 5 {
		t.Errorf("Len() = %d, want 5", q.Len())
	}

	for i := 0; i < 5; i++ {
		v, ok := q.TryPop()
		if !ok {
			t.Fatalf("TryPop() returned false for item %d", i)
		}
		if v != i {
			t.Errorf("popped %d, want %d", v, i)
		}
	}

	if _, ok := q.TryPop(); ok {
		t.Error("TryPop() on empty queue returned true")
	}
}

func TestQueue_GrowsAt70Percent(t *testing.T) {
	q := New[int](10)

	for i := 0; i < 7; i++ {
		q.Push(i)
	}

	stats := q.Stats()
	if stats.Capacity != 20 {
		t.Errorf("Capacity = %d, want 20", stats.Capacity)
	}
	if stats.Grows != 1 {
		t.Errorf("Grows = %d, want 1", stats.Grows)
	}
}

func TestQueue_ManyGrowsKeepOrder(t *testing.T) {
	q := New[int](4)

	for i := 0; i < 100; i++ {
		q.Push(i)
	}
	if stats := q.Stats(); stats.Len != 100 || stats.Grows < 3 {
		t.Errorf("stats = %+v, want 100 items after at least 3 grows", stats)
	}

	for i := 0; i < 100; i++ {
		if v, _ := q.TryPop(); v != i {
			t.Fatalf("popped %d, want %d", v, i)
		}
	}
}

func TestQueue_WrapAroundThenGrow(t *testing.T) {
	q := New[int](5)

	q.Push(1)
	q.Push(2)
	q.Push(3)
	q.TryPop()
	q.TryPop()
	q.Push(4)
	q.Push(5)
	q.Push(6)
	q.Push(7)
	q.Push(8)

	for _, want := range []int{3, 4, 5, 6, 7, 8} {
		got, ok := q.TryPop()
		if !ok || got != want {
			t.Fatalf("TryPop() = %d, %v; want %d, true", got, ok, want)
		}
	}
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := New[string](1)
	got := make(chan string, 1)

	go func() {
		if v, ok := q.Pop(); ok {
			got <- v
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push("connect")

	select {
	case v := <-got:
		if v != "connect" {
			t.Errorf("popped %q, want connect", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for blocked Pop")
	}
}

func TestQueue_CloseDrainsThenStops(t *testing.T) {
	q := New[int](10)
	q.Push(1)
	q.Push(2)
	q.Close()

	if q.Push(3) {
		t.Error("Push should return false after Close")
	}
	for _, want := range []int{1, 2} {
		if v, ok := q.Pop(); !ok || v != want {
			t.Errorf("Pop() = %d, %v; want %d, true", v, ok, want)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop should return false when closed and empty")
	}
}

func TestQueue_CloseUnblocksPop(t *testing.T) {
	q := New[int](10)
	done := make(chan bool, 1)

	go func() {
		_, ok := q.Pop()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Pop should return false when closed and empty")
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock Pop")
	}
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := New[int](2)
	const producers, perProducer = 8, 250

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(p*perProducer + i)
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for {
		v, ok := q.TryPop()
		if !ok {
			break
		}
		seen[v] = true
	}
	if len(seen) != producers*perProducer {
		t.Errorf("popped %d distinct items, want %d", len(seen), producers*perProducer)
	}
}

func TestNew_MinCapacity(t *testing.T) {
	for _, c := range []int{0, -5} {
		if got := New[int](c).Stats().Capacity; got != 1 {
			t.Errorf("New(%d) capacity = %d, want 1", c, got)
		}
	}
}
