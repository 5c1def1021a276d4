package bridge_test

import (
	"sync"
	"testing"
	"time"

	"github.com/Harsh-BH/appjob/internal/bridge"
)

func TestQueue_DrainPreservesOrder(t *testing.T) {
	q := bridge.NewQueue[int]()
	for i := 0; i < 5; i++ {
		q.Push(i)
	}

	if q.Len() != 5 {
		t.Fatalf("expected 5 queued items, got %d", q.Len())
	}

	got := q.Drain()
	for i, v := range got {
		if v != i {
			t.Errorf("item %d: expected %d, got %d", i, i, v)
		}
	}
	if q.Drain() != nil {
		t.Error("expected nil after second drain")
	}
}

func TestQueue_ReadySignalsAfterPush(t *testing.T) {
	q := bridge.NewQueue[string]()

	select {
	case <-q.Ready():
		t.Fatal("ready fired on empty queue")
	default:
	}

	q.Push("a")
	q.Push("b")

	select {
	case <-q.Ready():
	case <-time.After(time.Second):
		t.Fatal("ready did not fire after push")
	}
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := bridge.NewQueue[int]()

	const producers, perProducer = 8, 100
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

	got := q.Drain()
	if len(got) != producers*perProducer {
		t.Fatalf("expected %d items, got %d", producers*perProducer, len(got))
	}

	// Items from one producer stay in order.
	last := make(map[int]int)
	for _, v := range got {
		p := v / perProducer
		if prev, ok := last[p]; ok && v < prev {
			t.Fatalf("producer %d out of order: %d after %d", p, v, prev)
		}
		last[p] = v
	}
}
