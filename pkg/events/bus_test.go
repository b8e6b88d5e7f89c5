package events

import (
	"testing"
	"time"
)

func nextOrTimeout(t *testing.T, sub *Subscription) Message {
	t.Helper()
	type result struct {
		msg Message
		ok  bool
	}
	ch := make(chan result, 1)
	go func() {
		msg, ok := sub.Next()
		ch <- result{msg, ok}
	}()
	select {
	case r := <-ch:
		if !r.ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return r.msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestSubscribeDeliversInitialSnapshot(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe("acme", map[string]string{"env/dev": "abc123"})
	defer sub.Close()

	msg := nextOrTimeout(t, sub)
	if msg.Type != MessageInitial {
		t.Fatalf("first message type = %q, want initial", msg.Type)
	}
	if msg.Branches["env/dev"] != "abc123" {
		t.Errorf("initial branches = %v", msg.Branches)
	}
	// Absent master is populated with the zero sentinel.
	if msg.Branches["master"] != "0000000000000000000000000000000000000000" {
		t.Errorf("master sentinel = %q", msg.Branches["master"])
	}
}

func TestPublishMatchesProducer(t *testing.T) {
	bus := NewBus(nil)
	acme := bus.Subscribe("acme", nil)
	defer acme.Close()
	other := bus.Subscribe("other", nil)
	defer other.Close()

	// Drain initial snapshots.
	nextOrTimeout(t, acme)
	nextOrTimeout(t, other)

	bus.Publish(PushEvent{Repo: "acme", Changes: []Change{
		{Type: "head", Ref: "env/dev", Before: "aaa", After: "bbb"},
	}})

	msg := nextOrTimeout(t, acme)
	if msg.Type != MessagePush {
		t.Fatalf("message type = %q, want push", msg.Type)
	}
	if len(msg.Changes) != 1 || msg.Changes[0].Ref != "env/dev" {
		t.Errorf("changes = %v", msg.Changes)
	}

	// The other producer's subscriber must not see the event.
	bus.Publish(PushEvent{Repo: "other", Changes: []Change{{Type: "head", Ref: "x"}}})
	msg = nextOrTimeout(t, other)
	if msg.Type != MessagePush || msg.Changes[0].Ref != "x" {
		t.Errorf("other subscriber got %v", msg)
	}
}

func TestPublishPreservesOrder(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe("acme", nil)
	defer sub.Close()
	nextOrTimeout(t, sub)

	for i := 0; i < 10; i++ {
		bus.Publish(PushEvent{Repo: "acme", Changes: []Change{
			{Type: "head", Ref: "env/dev", After: string(rune('a' + i))},
		}})
	}
	for i := 0; i < 10; i++ {
		msg := nextOrTimeout(t, sub)
		if got := msg.Changes[0].After; got != string(rune('a'+i)) {
			t.Fatalf("message %d = %q, out of order", i, got)
		}
	}
}

func TestCloseDeregisters(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe("acme", nil)
	if n := bus.SubscriberCount(); n != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1", n)
	}

	sub.Close()
	if n := bus.SubscriberCount(); n != 0 {
		t.Fatalf("SubscriberCount() after Close = %d, want 0", n)
	}

	// Close is idempotent and Next drains to done.
	sub.Close()
	nextOrTimeout(t, sub) // initial snapshot was queued before Close
	if _, ok := sub.Next(); ok {
		t.Error("Next() returned a message after drain on a closed subscription")
	}
}
