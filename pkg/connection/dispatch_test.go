package connection

import (
	"sync"
	"testing"
	"time"
)

func TestDispatcherPreservesOrder(t *testing.T) {
	d := &dispatcher{}

	var got []Reason
	d.subscribe(func(c StatusChange) {
		got = append(got, c.Reason)
	})

	want := []Reason{ReasonConnectionOK, ReasonCommunicationError, ReasonConnectionOK, ReasonClientClose}
	for _, r := range want {
		d.enqueue(StatusChange{Reason: r})
	}
	d.flush()

	if len(got) != len(want) {
		t.Fatalf("delivered %d changes, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("change %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDispatcherNeverConcurrent(t *testing.T) {
	d := &dispatcher{}

	var active, maxActive, delivered int
	var mu sync.Mutex
	d.subscribe(func(StatusChange) {
		mu.Lock()
		active++
		delivered++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(100 * time.Microsecond)
		mu.Lock()
		active--
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				d.enqueue(StatusChange{})
				d.flush()
			}
		}()
	}
	wg.Wait()
	d.flush()

	if maxActive != 1 {
		t.Errorf("observer ran %d times concurrently", maxActive)
	}
	if delivered != 80 {
		t.Errorf("delivered %d changes, want 80", delivered)
	}
}

func TestDispatcherFlushFromObserver(t *testing.T) {
	d := &dispatcher{}

	var got []Reason
	d.subscribe(func(c StatusChange) {
		got = append(got, c.Reason)
		if c.Reason == ReasonConnectionOK {
			d.enqueue(StatusChange{Reason: ReasonClientClose})
			d.flush()
			if len(got) != 1 {
				t.Errorf("nested flush delivered while observer was running")
			}
		}
	})

	d.enqueue(StatusChange{Reason: ReasonConnectionOK})
	d.flush()

	if len(got) != 2 || got[1] != ReasonClientClose {
		t.Errorf("got %v, want [CONNECTION_OK CLIENT_CLOSE]", got)
	}
}

func TestDispatcherFlushFromOtherGoroutine(t *testing.T) {
	d := &dispatcher{}

	done := make(chan struct{})
	d.subscribe(func(c StatusChange) {
		if c.Reason != ReasonConnectionOK {
			return
		}
		// Hand the follow-up to another goroutine and wait for it.
		go func() {
			d.enqueue(StatusChange{Reason: ReasonClientClose})
			d.flush()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("flush on another goroutine blocked on the running observer")
		}
	})

	d.enqueue(StatusChange{Reason: ReasonConnectionOK})
	d.flush()
}
