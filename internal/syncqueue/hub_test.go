package syncqueue

import "testing"

func TestHubNotifiesAllListeners(t *testing.T) {
	h := newHub(nil)

	var first, second int
	h.subscribe(func(QueueStatus, []Item) { first++ })
	h.subscribe(func(QueueStatus, []Item) { second++ })

	h.notify(QueueStatus{Total: 1}, nil)
	h.notify(QueueStatus{Total: 2}, nil)

	if first != 2 || second != 2 {
		t.Fatalf("expected both listeners notified twice, got %d and %d", first, second)
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	h := newHub(nil)

	var calls int
	handle := h.subscribe(func(QueueStatus, []Item) { calls++ })
	h.notify(QueueStatus{}, nil)
	h.unsubscribe(handle)
	h.notify(QueueStatus{}, nil)

	if calls != 1 {
		t.Fatalf("expected 1 delivery, got %d", calls)
	}
}

func TestHubIsolatesPanickingListener(t *testing.T) {
	h := newHub(nil)

	h.subscribe(func(QueueStatus, []Item) { panic("broken listener") })
	var survived bool
	h.subscribe(func(QueueStatus, []Item) { survived = true })

	h.notify(QueueStatus{}, nil)

	if !survived {
		t.Fatal("panic in one listener must not block the others")
	}
}
