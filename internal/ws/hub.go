package ws

import (
	"context"
	"log/slog"
	"sync"

	"github.com/manpreetbhatti/coderelay/backend/internal/metrics"
	"github.com/manpreetbhatti/coderelay/backend/internal/protocol"
)

// Tracks live connections and their room membership. All map mutation happens
// on the Run goroutine; the getters only read.
type Hub struct {
	// Every registered client and the room it joined ("" until it joins)
	clients map[*Client]string

	// Room members by room id
	rooms map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	// Joins, broadcasts and unicasts share one queue so their order is kept
	outbound chan *Message

	done chan struct{}
	log  *slog.Logger
	mu   sync.RWMutex
}

// Message is a frame queued for delivery. Target set means unicast;
// otherwise it goes to every member of RoomID except Sender.
type Message struct {
	RoomID string
	Target *Client
	Sender *Client
	Event  string
	Data   []byte

	// Adds Target to RoomID instead of delivering anything
	join bool
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]string),
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		outbound:   make(chan *Message, 256),
		done:       make(chan struct{}),
		log:        logger,
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			close(h.done)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = ""
			total := len(h.clients)
			h.mu.Unlock()
			metrics.Connections.Inc()
			h.log.Debug("client.registered", "client", client.id, "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case message := <-h.outbound:
			h.mu.Lock()
			h.dispatch(message)
			h.mu.Unlock()
		}
	}
}

// Done is closed once Run has returned
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) addMember(client *Client, roomID string) {
	current, ok := h.clients[client]
	if !ok {
		// disconnected before the join was processed
		return
	}
	if current != "" {
		h.log.Warn("client.join.ignored", "client", client.id, "room", roomID, "current", current)
		return
	}

	h.clients[client] = roomID
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][client] = true
	h.log.Info("client.joined", "client", client.id, "room", roomID, "members", len(h.rooms[roomID]))
}

// remove must be called with mu held. Safe to call twice.
func (h *Hub) remove(client *Client) {
	roomID, ok := h.clients[client]
	if !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	metrics.Connections.Dec()

	if clients, ok := h.rooms[roomID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.rooms, roomID)
			h.log.Debug("room.idle", "room", roomID)
		} else {
			h.log.Info("client.left", "client", client.id, "room", roomID, "remaining", len(clients))
		}
	}
}

func (h *Hub) dispatch(message *Message) {
	if message.join {
		h.addMember(message.Target, message.RoomID)
		return
	}

	if message.Target != nil {
		if _, ok := h.clients[message.Target]; ok {
			h.deliver(message.Target, message.Data)
		}
		return
	}

	for client := range h.rooms[message.RoomID] {
		if client != message.Sender {
			h.deliver(client, message.Data)
		}
	}
}

// A client that cannot keep up is dropped instead of stalling the room
func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		h.log.Warn("client.slow", "client", client.id)
		h.remove(client)
	}
}

// Register adds a connection; it receives nothing until it joins a room
// except unicasts addressed to it.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes the connection from every room and closes its queue
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Join adds the connection to a room. A connection joins at most one room.
// Frames queued before the join never reach it.
func (h *Hub) Join(client *Client, roomID string) {
	h.enqueue(&Message{RoomID: roomID, Target: client, join: true})
}

// BroadcastExcept queues payload for every member of roomID other than sender
func (h *Hub) BroadcastExcept(roomID string, sender *Client, event string, payload any) {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		h.log.Error("broadcast.encode", "event", event, "err", err)
		return
	}
	metrics.Broadcasts.WithLabelValues(event).Inc()
	h.enqueue(&Message{RoomID: roomID, Sender: sender, Event: event, Data: data})
}

// SendTo queues payload for one connection. No-op if it has gone away.
func (h *Hub) SendTo(client *Client, event string, payload any) {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		h.log.Error("unicast.encode", "event", event, "err", err)
		return
	}
	h.enqueue(&Message{Target: client, Event: event, Data: data})
}

func (h *Hub) enqueue(m *Message) {
	select {
	case h.outbound <- m:
	case <-h.done:
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		h.remove(client)
	}
	h.log.Info("hub.stopped")
}

// Returns the number of rooms with at least one member
func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Returns member counts by room id
func (h *Hub) GetActiveRooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	active := make(map[string]int, len(h.rooms))
	for roomID, clients := range h.rooms {
		active[roomID] = len(clients)
	}
	return active
}
