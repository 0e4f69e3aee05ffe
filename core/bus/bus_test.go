package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/villagehq/village-core/core/events"
)

func collectInto(mu *sync.Mutex, sink *[]events.Event) func(events.Event) {
	return func(event events.Event) {
		mu.Lock()
		defer mu.Unlock()
		*sink = append(*sink, event)
	}
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestPublishReachesAllTopicSubscribers(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	var first, second []events.Event
	b.Subscribe(collectInto(&mu, &first), "c1")
	b.Subscribe(collectInto(&mu, &second), "c1")

	b.Publish("c1", events.NewCallStatus("c1", "ringing"))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(first) == 1 && len(second) == 1
	})
}

func TestPublishIgnoresOtherTopics(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	var got []events.Event
	b.Subscribe(collectInto(&mu, &got), "c1")

	b.Publish("c2", events.NewCallStatus("c2", "ringing"))
	b.Publish("c1", events.NewCallStatus("c1", "ringing"))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if id, _ := events.SessionOf(got[0]); id != "c1" {
		t.Fatalf("expected only c1 events, got %s", id)
	}
}

func TestSubscriberOnMultipleTopicsReceivesBoth(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	var got []events.Event
	s := b.Subscribe(collectInto(&mu, &got), "c1")
	s.Also("room-42")

	b.Publish("c1", events.NewCallStatus("c1", "ringing"))
	b.Publish("room-42", events.NewCallStatus("c1", "in_progress"))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})
}

func TestCloseIsolatesOtherSubscribers(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	var kept, dropped []events.Event
	b.Subscribe(collectInto(&mu, &kept), "c1")
	leaver := b.Subscribe(collectInto(&mu, &dropped), "c1")

	leaver.Close()
	b.Publish("c1", events.NewCallStatus("c1", "in_progress"))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(kept) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if len(dropped) != 0 {
		t.Fatalf("expected closed subscriber to receive nothing, got %d", len(dropped))
	}
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	b := New(WithQueueSize(2))
	defer b.Close()

	release := make(chan struct{})
	b.Subscribe(func(events.Event) { <-release }, "c1")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish("c1", events.NewTimerUpdate("c1", i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a stalled subscriber")
	}
	close(release)
}

func TestOverflowDropsOldestNotNewest(t *testing.T) {
	var droppedMu sync.Mutex
	var droppedKinds []events.Event
	b := New(
		WithQueueSize(1),
		WithDropCallback(func(_ string, event events.Event) {
			droppedMu.Lock()
			defer droppedMu.Unlock()
			droppedKinds = append(droppedKinds, event)
		}),
	)
	defer b.Close()

	release := make(chan struct{})
	var mu sync.Mutex
	var got []events.Event
	started := make(chan struct{})
	var startOnce sync.Once
	b.Subscribe(func(event events.Event) {
		startOnce.Do(func() { close(started) })
		<-release
		mu.Lock()
		got = append(got, event)
		mu.Unlock()
	}, "c1")

	b.Publish("c1", events.NewTimerUpdate("c1", 0))
	<-started // handler now stalled on event 0, queue empty
	b.Publish("c1", events.NewTimerUpdate("c1", 1))
	b.Publish("c1", events.NewTimerUpdate("c1", 2))
	close(release)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})

	mu.Lock()
	last := got[len(got)-1].(events.TimerUpdate)
	mu.Unlock()
	if last.ElapsedSeconds != 2 {
		t.Fatalf("expected the newest event to survive overflow, got tick %d", last.ElapsedSeconds)
	}
	droppedMu.Lock()
	defer droppedMu.Unlock()
	if len(droppedKinds) != 1 {
		t.Fatalf("expected exactly one dropped event, got %d", len(droppedKinds))
	}
	if dropped := droppedKinds[0].(events.TimerUpdate); dropped.ElapsedSeconds != 1 {
		t.Fatalf("expected the oldest queued event to be dropped, got tick %d", dropped.ElapsedSeconds)
	}
}

func TestSubscribeAfterBusCloseIsInert(t *testing.T) {
	b := New()
	b.Close()

	s := b.Subscribe(func(events.Event) { t.Fatal("handler must not run") }, "c1")
	b.Publish("c1", events.NewCallStatus("c1", "ringing"))
	time.Sleep(20 * time.Millisecond)
	s.Close()
}
