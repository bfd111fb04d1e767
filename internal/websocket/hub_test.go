package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
)

// mockClient creates a Client with a send channel but no real connection.
func mockClient(hub *Hub, userID int64) *Client {
	return &Client{
		hub:    hub,
		userID: userID,
		send:   make(chan []byte, sendBufferSize),
	}
}

func receive(t *testing.T, c *Client) (Message, bool) {
	t.Helper()
	select {
	case data := <-c.send:
		var got Message
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return got, true
	default:
		return Message{}, false
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(slog.Default())

	c1 := mockClient(hub, 1)
	c2 := mockClient(hub, 1)
	c3 := mockClient(hub, 2)
	hub.Register(c1)
	hub.Register(c2)
	hub.Register(c3)

	if got := hub.ClientCount(); got != 3 {
		t.Fatalf("expected 3 clients, got %d", got)
	}

	hub.Unregister(c1)
	hub.SendTo(NewMessage("group", "updated", 7, nil), 1)
	if _, ok := receive(t, c2); !ok {
		t.Error("user 1 should still be reachable through c2")
	}
	hub.Unregister(c2)
	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client, got %d", got)
	}
}

func TestDoubleUnregister(t *testing.T) {
	hub := NewHub(slog.Default())
	c := mockClient(hub, 1)
	hub.Register(c)
	hub.Unregister(c)
	// Should not panic
	hub.Unregister(c)

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestSendToTargetsUsers(t *testing.T) {
	hub := NewHub(slog.Default())

	alice := mockClient(hub, 1)
	aliceTab := mockClient(hub, 1)
	bob := mockClient(hub, 2)
	hub.Register(alice)
	hub.Register(aliceTab)
	hub.Register(bob)

	hub.SendTo(NewMessage("notification", "created", 42, nil), 1, 3)

	for _, c := range []*Client{alice, aliceTab} {
		got, ok := receive(t, c)
		if !ok {
			t.Fatal("user 1 connection received nothing")
		}
		if got.Type != "notification_created" || got.ID != 42 {
			t.Errorf("message = %+v", got)
		}
	}
	if _, ok := receive(t, bob); ok {
		t.Error("user 2 received a message addressed to user 1")
	}
}

func TestFullBufferMarksClientLagging(t *testing.T) {
	hub := NewHub(slog.Default())
	c := mockClient(hub, 1)
	hub.Register(c)

	for i := range sendBufferSize {
		hub.SendTo(NewMessage("notification", "created", int64(i), nil), 1)
	}
	if c.lagging.Load() {
		t.Fatal("client lagging before its buffer filled")
	}
	for i := range 5 {
		hub.SendTo(NewMessage("notification", "created", int64(sendBufferSize+i), nil), 1)
	}
	if got := len(c.send); got != sendBufferSize {
		t.Errorf("buffered %d messages, want %d", got, sendBufferSize)
	}
	if !c.lagging.Load() {
		t.Error("client not marked lagging after a dropped message")
	}
}

func TestConcurrentSendAndRegister(t *testing.T) {
	hub := NewHub(slog.Default())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(id int64) {
			defer wg.Done()
			c := mockClient(hub, id)
			hub.Register(c)
			hub.Unregister(c)
		}(int64(i))
		go func(id int64) {
			defer wg.Done()
			hub.SendTo(NewMessage("event", "approved", id, nil), id)
		}(int64(i))
	}
	wg.Wait()

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("expected 0 clients, got %d", got)
	}
}
