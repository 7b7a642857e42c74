package hub

import (
	"testing"
	"time"
)

func recv(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case payload := <-ch:
		return payload
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for payload")
		return nil
	}
}

func TestRegisterQueuesWelcome(t *testing.T) {
	h := New(time.Second)
	client := h.Register("display-1", []byte(`{"type":"connection_established"}`))

	got := recv(t, client.Send)
	if string(got) != `{"type":"connection_established"}` {
		t.Fatalf("unexpected welcome payload: %s", got)
	}
	if h.Len() != 1 {
		t.Fatalf("expected 1 client, got %d", h.Len())
	}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	h := New(time.Second)
	a := h.Register("a", nil)
	b := h.Register("b", nil)

	h.Broadcast([]byte("hello"))

	if got := string(recv(t, a.Send)); got != "hello" {
		t.Fatalf("client a got %q", got)
	}
	if got := string(recv(t, b.Send)); got != "hello" {
		t.Fatalf("client b got %q", got)
	}
}

func TestBroadcastDropsSlowClient(t *testing.T) {
	h := New(50 * time.Millisecond)
	slow := h.Register("slow", nil)
	fast := h.Register("fast", nil)

	// Fill the slow client's buffer so the next broadcast has to wait on it.
	for i := 0; i < defaultSendBuffer; i++ {
		slow.Send <- []byte("filler")
	}

	h.Broadcast([]byte("event"))

	select {
	case <-slow.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("slow client was not dropped")
	}
	if h.Len() != 1 {
		t.Fatalf("expected only the fast client to remain, got %d", h.Len())
	}
	if got := string(recv(t, fast.Send)); got != "event" {
		t.Fatalf("fast client got %q", got)
	}
}

func TestLateClientMissesEarlierBroadcasts(t *testing.T) {
	h := New(time.Second)
	early := h.Register("early", nil)

	h.Broadcast([]byte("first"))

	late := h.Register("late", nil)
	h.Broadcast([]byte("second"))

	if got := string(recv(t, early.Send)); got != "first" {
		t.Fatalf("early client got %q", got)
	}
	if got := string(recv(t, early.Send)); got != "second" {
		t.Fatalf("early client got %q", got)
	}
	if got := string(recv(t, late.Send)); got != "second" {
		t.Fatalf("late client got %q, must only see broadcasts after joining", got)
	}
	select {
	case payload := <-late.Send:
		t.Fatalf("late client received extra payload %q", payload)
	default:
	}
}

func TestBroadcastDeliversInPublishOrder(t *testing.T) {
	h := New(time.Second)
	client := h.Register("display", nil)

	payloads := []string{"one", "two", "three"}
	for _, payload := range payloads {
		h.Broadcast([]byte(payload))
	}

	for _, want := range payloads {
		if got := string(recv(t, client.Send)); got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	h := New(time.Second)
	client := h.Register("once", nil)

	h.Unregister("once")
	h.Unregister("once")

	select {
	case <-client.Done():
	default:
		t.Fatal("done channel not closed after unregister")
	}
	if h.Len() != 0 {
		t.Fatalf("expected 0 clients, got %d", h.Len())
	}
}

func TestBroadcastAfterUnregisterSkipsClient(t *testing.T) {
	h := New(time.Second)
	client := h.Register("gone", nil)
	h.Unregister("gone")

	h.Broadcast([]byte("missed"))

	select {
	case payload := <-client.Send:
		t.Fatalf("unregistered client received %q", payload)
	default:
	}
}
