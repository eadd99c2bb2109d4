package broadcaster

import (
	"sync"
	"testing"
	"time"
)

func drain(t *testing.T, sub *Subscription, n int, timeout time.Duration) [][]byte {
	t.Helper()
	out := make([][]byte, 0, n)
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case chunk, ok := <-sub.ch:
			if !ok {
				return out
			}
			out = append(out, chunk)
		case <-deadline:
			t.Fatalf("timed out waiting for %d chunks, got %d", n, len(out))
		}
	}
	return out
}

// Seed scenario 1: fan-out.
func TestFanOut(t *testing.T) {
	b := New(10, 10)
	chunks := [][]byte{[]byte("A"), []byte("B"), []byte("C")}

	subs := make([]*Subscription, 3)
	for i := range subs {
		subs[i] = b.Subscribe()
	}

	for _, c := range chunks {
		if err := b.Publish(c); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	for _, sub := range subs {
		got := drain(t, sub, 3, time.Second)
		for i, c := range got {
			if string(c) != string(chunks[i]) {
				t.Errorf("subscriber got %q at %d, want %q", c, i, chunks[i])
			}
		}
	}

	// A fourth subscriber added after publishing receives the replay
	// snapshot in order.
	late := b.Subscribe()
	got := drain(t, late, 3, time.Second)
	for i, c := range got {
		if string(c) != string(chunks[i]) {
			t.Errorf("late subscriber got %q at %d, want %q", c, i, chunks[i])
		}
	}
}

// Seed scenario 2: slow consumer isolation.
func TestSlowConsumerIsolation(t *testing.T) {
	const queueDepth = 2
	const total = 100

	b := New(10, queueDepth)

	fast1 := b.Subscribe()
	fast2 := b.Subscribe()
	slow := b.Subscribe()

	var wg sync.WaitGroup
	fastResults := make([][][]byte, 2)
	wg.Add(2)
	go func() { defer wg.Done(); fastResults[0] = drain(t, fast1, total, 5*time.Second) }()
	go func() { defer wg.Done(); fastResults[1] = drain(t, fast2, total, 5*time.Second) }()

	for i := 1; i <= total; i++ {
		if err := b.Publish([]byte{byte(i)}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		// Pace the producer so the fast consumers keep up: wait until both
		// have taken the chunk before publishing the next one.
		paceDeadline := time.Now().Add(5 * time.Second)
		for (len(fast1.ch) > 0 || len(fast2.ch) > 0) && time.Now().Before(paceDeadline) {
			time.Sleep(10 * time.Microsecond)
		}
	}

	wg.Wait()

	for subIdx, got := range fastResults {
		if len(got) != total {
			t.Fatalf("fast consumer %d got %d chunks, want %d", subIdx, len(got), total)
		}
		for i, c := range got {
			if c[0] != byte(i+1) {
				t.Errorf("fast consumer %d: chunk %d = %d, want %d", subIdx, i, c[0], i+1)
			}
		}
	}

	// The slow consumer never read: its queue holds only the most recent
	// queueDepth chunks, and the rest were dropped.
	time.Sleep(50 * time.Millisecond) // let delivery goroutines settle
	remaining := len(slow.ch)
	if remaining != queueDepth {
		t.Errorf("slow consumer queue length = %d, want %d", remaining, queueDepth)
	}
	if slow.Dropped() != total-queueDepth {
		t.Errorf("slow consumer dropped = %d, want %d", slow.Dropped(), total-queueDepth)
	}

	// What remains must be the most recent queueDepth chunks, in order.
	var last []byte
	for i := 0; i < queueDepth; i++ {
		c := <-slow.ch
		if i > 0 && c[0] <= last[0] {
			t.Errorf("expected increasing order in retained tail")
		}
		last = c
	}
	if last[0] != byte(total) {
		t.Errorf("last retained chunk = %d, want %d", last[0], total)
	}
}

func TestUnsubscribeClosesSubscription(t *testing.T) {
	b := New(5, 5)
	sub := b.Subscribe()
	b.Unsubscribe(sub)

	if _, ok := sub.Next(); ok {
		t.Error("expected Next to report closed after Unsubscribe")
	}
	if b.ActiveSubscriptions() != 0 {
		t.Error("expected 0 active subscriptions after Unsubscribe")
	}
}

func TestCloseIsIdempotentAndClosesSubscriptions(t *testing.T) {
	b := New(5, 5)
	sub := b.Subscribe()

	b.Close()
	b.Close() // must not panic

	if _, ok := sub.Next(); ok {
		t.Error("expected subscription closed after broadcaster Close")
	}

	if err := b.Publish([]byte("x")); err != ErrClosed {
		t.Errorf("Publish after close = %v, want ErrClosed", err)
	}

	late := b.Subscribe()
	if _, ok := late.Next(); ok {
		t.Error("expected subscribe-after-close to yield an already-closed subscription")
	}
}

func TestReplayBufferEvictsFIFO(t *testing.T) {
	b := New(2, 10)
	b.Publish([]byte("1"))
	b.Publish([]byte("2"))
	b.Publish([]byte("3")) // evicts "1"

	sub := b.Subscribe()
	got := drain(t, sub, 2, time.Second)
	if string(got[0]) != "2" || string(got[1]) != "3" {
		t.Errorf("replay tail = %q, %q, want 2, 3", got[0], got[1])
	}
}

func TestNoDuplicateChunksWithinSubscription(t *testing.T) {
	b := New(0, 50)
	sub := b.Subscribe()

	for i := 0; i < 20; i++ {
		b.Publish([]byte{byte(i)})
	}
	got := drain(t, sub, 20, time.Second)
	seen := map[byte]bool{}
	for _, c := range got {
		if seen[c[0]] {
			t.Fatalf("chunk %d delivered more than once", c[0])
		}
		seen[c[0]] = true
	}
}
