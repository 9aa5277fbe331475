package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/manpreetbhatti/coderelay/backend/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})
	return hub
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func expectFrame(t *testing.T, c *Client) protocol.Envelope {
	t.Helper()
	select {
	case frame, ok := <-c.Messages():
		if !ok {
			t.Fatal("Client queue closed")
		}
		env, err := protocol.Decode(frame)
		if err != nil {
			t.Fatalf("Failed to decode frame: %v", err)
		}
		return env
	case <-time.After(time.Second):
		t.Fatal("Expected a frame, got none")
	}
	return protocol.Envelope{}
}

func expectSilence(t *testing.T, c *Client) {
	t.Helper()
	select {
	case frame := <-c.Messages():
		t.Fatalf("Expected no frame, got %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func joined(t *testing.T, hub *Hub, roomID string) *Client {
	t.Helper()
	c := NewClient(hub)
	hub.Register(c)
	hub.Join(c, roomID)
	return c
}

func TestHubCreation(t *testing.T) {
	hub := NewHub(testLogger())
	if hub == nil {
		t.Fatal("Hub should not be nil")
	}
	if hub.rooms == nil {
		t.Error("Hub rooms map should be initialized")
	}
	if hub.clients == nil {
		t.Error("Hub clients map should be initialized")
	}
}

func TestHubCounts(t *testing.T) {
	hub := startHub(t)

	if hub.GetRoomCount() != 0 {
		t.Errorf("Expected 0 rooms, got %d", hub.GetRoomCount())
	}

	joined(t, hub, "room-1")
	joined(t, hub, "room-1")
	joined(t, hub, "room-2")
	lonely := NewClient(hub)
	hub.Register(lonely)

	waitFor(t, "clients", func() bool { return hub.GetClientCount() == 4 })
	waitFor(t, "rooms", func() bool { return hub.GetRoomCount() == 2 })

	active := hub.GetActiveRooms()
	if active["room-1"] != 2 || active["room-2"] != 1 {
		t.Errorf("Unexpected active rooms: %v", active)
	}
}

func TestBroadcastExceptSkipsSender(t *testing.T) {
	hub := startHub(t)

	a := joined(t, hub, "r")
	b := joined(t, hub, "r")
	c := joined(t, hub, "r")

	hub.BroadcastExcept("r", a, protocol.EventCodeUpdate, "print(1)")

	for _, peer := range []*Client{b, c} {
		env := expectFrame(t, peer)
		if env.Event != protocol.EventCodeUpdate {
			t.Errorf("Expected %s, got %s", protocol.EventCodeUpdate, env.Event)
		}
		var code string
		if err := json.Unmarshal(env.Data, &code); err != nil || code != "print(1)" {
			t.Errorf("Expected code 'print(1)', got %q (%v)", code, err)
		}
	}
	expectSilence(t, a)
}

func TestBroadcastStaysInRoom(t *testing.T) {
	hub := startHub(t)

	sender := joined(t, hub, "room-a")
	same := joined(t, hub, "room-a")
	other := joined(t, hub, "room-b")

	hub.BroadcastExcept("room-a", sender, protocol.EventLanguageUpdate, "cpp")

	expectFrame(t, same)
	expectSilence(t, other)
}

func TestSendToTargetsOneClient(t *testing.T) {
	hub := startHub(t)

	a := joined(t, hub, "r")
	b := joined(t, hub, "r")

	hub.SendTo(a, protocol.EventExecutionResult, map[string]string{"output": "5"})

	env := expectFrame(t, a)
	if env.Event != protocol.EventExecutionResult {
		t.Errorf("Expected %s, got %s", protocol.EventExecutionResult, env.Event)
	}
	expectSilence(t, b)
}

func TestSendToPreservesOrder(t *testing.T) {
	hub := startHub(t)
	c := joined(t, hub, "r")

	hub.SendTo(c, protocol.EventCodeUpdate, "first")
	hub.SendTo(c, protocol.EventLanguageUpdate, "python")

	if env := expectFrame(t, c); env.Event != protocol.EventCodeUpdate {
		t.Errorf("Expected code first, got %s", env.Event)
	}
	if env := expectFrame(t, c); env.Event != protocol.EventLanguageUpdate {
		t.Errorf("Expected language second, got %s", env.Event)
	}
}

func TestSecondJoinIgnored(t *testing.T) {
	hub := startHub(t)

	c := joined(t, hub, "first")
	hub.Join(c, "second")
	peer := joined(t, hub, "second")

	waitFor(t, "membership", func() bool { return hub.GetRoomCount() == 2 })
	if got := hub.GetActiveRooms()["second"]; got != 1 {
		t.Errorf("Expected 1 member in second room, got %d", got)
	}

	hub.BroadcastExcept("second", peer, protocol.EventCodeUpdate, "x")
	expectSilence(t, c)
}

func TestUnregisterLeavesRoom(t *testing.T) {
	hub := startHub(t)

	a := joined(t, hub, "r")
	b := joined(t, hub, "r")
	hub.Unregister(a)

	waitFor(t, "unregister", func() bool { return hub.GetClientCount() == 1 })
	if _, ok := <-a.Messages(); ok {
		t.Error("Expected queue of departed client to be closed")
	}

	hub.BroadcastExcept("r", b, protocol.EventCodeUpdate, "x")
	hub.Unregister(b)
	waitFor(t, "empty room", func() bool { return hub.GetRoomCount() == 0 })

	// A second unregister is harmless
	hub.Unregister(b)
}

func TestSendToDepartedClient(t *testing.T) {
	hub := startHub(t)

	gone := joined(t, hub, "r")
	hub.Unregister(gone)
	hub.SendTo(gone, protocol.EventExecutionResult, map[string]string{"output": "late"})

	stay := joined(t, hub, "r")
	hub.SendTo(stay, protocol.EventCodeUpdate, "ok")
	expectFrame(t, stay)
}

func TestSlowClientDropped(t *testing.T) {
	hub := startHub(t)

	slow := joined(t, hub, "r")
	sender := joined(t, hub, "r")

	for i := 0; i < sendBuffer+1; i++ {
		hub.BroadcastExcept("r", sender, protocol.EventCodeUpdate, "spam")
	}

	waitFor(t, "slow client drop", func() bool { return hub.GetClientCount() == 1 })

	// The slow member's queue was filled and then closed
	received := 0
	timeout := time.After(time.Second)
	for open := true; open; {
		select {
		case _, ok := <-slow.Messages():
			if ok {
				received++
			}
			open = ok
		case <-timeout:
			t.Fatal("Slow client queue was never closed")
		}
	}
	if received != sendBuffer {
		t.Errorf("Expected %d queued frames before the drop, got %d", sendBuffer, received)
	}

	// The sender is still connected and reachable
	hub.SendTo(sender, protocol.EventCodeUpdate, "still here")
	expectFrame(t, sender)
	if hub.GetActiveRooms()["r"] != 1 {
		t.Errorf("Expected sender to remain in the room, got %v", hub.GetActiveRooms())
	}
}

func TestBindRoomOnce(t *testing.T) {
	c := NewClient(NewHub(testLogger()))

	if !c.BindRoom("a") {
		t.Fatal("First bind should succeed")
	}
	if c.BindRoom("b") {
		t.Error("Second bind should be refused")
	}
	if c.RoomID() != "a" {
		t.Errorf("Expected room 'a', got %q", c.RoomID())
	}
}

func TestShutdownClosesClients(t *testing.T) {
	hub := NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	c := joined(t, hub, "r")
	cancel()
	<-hub.Done()

	if _, ok := <-c.Messages(); ok {
		t.Error("Expected queue to be closed on shutdown")
	}

	// Calls after shutdown return instead of blocking
	hub.SendTo(c, protocol.EventCodeUpdate, "x")
	hub.Register(NewClient(hub))
}
