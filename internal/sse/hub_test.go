package sse

import "testing"

func TestBroadcastReachesWatchersCaseInsensitively(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	ch, unsubscribe := hub.Subscribe("Box@Temp.test")
	defer unsubscribe()
	other, unsubscribeOther := hub.Subscribe("other@temp.test")
	defer unsubscribeOther()

	hub.Broadcast([]string{"box@temp.test", "BOX@TEMP.TEST", ""}, []byte("frame"))

	select {
	case got := <-ch:
		if string(got) != "frame" {
			t.Errorf("payload: got %q", got)
		}
	default:
		t.Fatal("watcher did not receive frame")
	}
	select {
	case <-ch:
		t.Fatal("duplicate addresses must deliver once")
	default:
	}
	select {
	case <-other:
		t.Fatal("unrelated watcher received frame")
	default:
	}
}

func TestUnsubscribeClosesAndForgets(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	ch, unsubscribe := hub.Subscribe("a@temp.test")
	if hub.Watchers("A@temp.test") != 1 {
		t.Fatal("expected one watcher")
	}
	unsubscribe()
	unsubscribe()

	if _, ok := <-ch; ok {
		t.Error("channel must be closed after unsubscribe")
	}
	if hub.Watchers("a@temp.test") != 0 {
		t.Error("watcher must be removed")
	}
	hub.Broadcast([]string{"a@temp.test"}, []byte("late"))
}

func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	ch, unsubscribe := hub.Subscribe("a@temp.test")
	defer unsubscribe()

	for i := 0; i < subscriberBuffer+3; i++ {
		hub.Broadcast([]string{"a@temp.test"}, []byte("x"))
	}
	if len(ch) != subscriberBuffer {
		t.Errorf("buffered frames: got %d, want %d", len(ch), subscriberBuffer)
	}
}
