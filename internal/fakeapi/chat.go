package fakeapi

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"

	"github.com/bnema/possync/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func withUser(ctx context.Context, user domain.UserProfile) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

func userFrom(ctx context.Context) domain.UserProfile {
	user, _ := ctx.Value(userKey{}).(domain.UserProfile)
	return user
}

func (s *Server) createMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReceiverID string `json:"receiver_id"`
		Body       string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ReceiverID == "" || req.Body == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "receiver_id and body are required"})
		return
	}

	msg := s.storeMessage(userFrom(r.Context()), req.ReceiverID, req.Body)
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) storeMessage(sender domain.UserProfile, receiverID, body string) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := domain.Message{
		ID:            uuid.NewString(),
		SenderID:      sender.ID,
		ReceiverID:    receiverID,
		Body:          body,
		CreatedAt:     s.now().UTC(),
		SenderDisplay: sender.Label(),
	}
	s.messages = append(s.messages, msg)
	return msg
}

func (s *Server) conversation(w http.ResponseWriter, r *http.Request) {
	me := userFrom(r.Context()).ID
	peer := chi.URLParam(r, "peer")

	s.mu.Lock()
	out := []domain.Message{}
	for _, msg := range s.messages {
		if (msg.SenderID == me && msg.ReceiverID == peer) || (msg.SenderID == peer && msg.ReceiverID == me) {
			out = append(out, msg)
		}
	}
	s.mu.Unlock()

	slices.SortStableFunc(out, func(a, b domain.Message) int { return a.CreatedAt.Compare(b.CreatedAt) })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	updated := s.markReadFrom(chi.URLParam(r, "peer"), userFrom(r.Context()).ID)
	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

func (s *Server) markReadFrom(senderID, receiverID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := 0
	for i := range s.messages {
		if s.messages[i].SenderID == senderID && s.messages[i].ReceiverID == receiverID && !s.messages[i].Read {
			s.messages[i].Read = true
			updated++
		}
	}
	return updated
}

func (s *Server) messageByID(id string) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.IndexFunc(s.messages, func(m domain.Message) bool { return m.ID == id })
	if idx < 0 {
		return domain.Message{}, false
	}
	return s.messages[idx], true
}

// DeliverMessage persists a message from one user to another and pushes it
// to the receiver's open sockets, as if the sender chatted from another
// device.
func (s *Server) DeliverMessage(from domain.UserProfile, receiverID, body string) domain.Message {
	msg := s.storeMessage(from, receiverID, body)
	s.hub.sendTo(receiverID, frame{Type: "new_message", Message: &msg})
	return msg
}

// PushTyping sends a typing indicator about userID to receiverID.
func (s *Server) PushTyping(userID, receiverID string, typing bool) {
	s.hub.sendTo(receiverID, frame{Type: "typing_indicator", UserID: userID, IsTyping: typing})
}

// DropSockets closes every open socket from the server side.
func (s *Server) DropSockets() {
	s.hub.closeAll()
}

// RejectSockets makes the handshake fail with 503 until called with false.
func (s *Server) RejectSockets(reject bool) {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.reject = reject
}

func (s *Server) SocketCount(userID string) int {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return len(s.hub.clients[userID])
}

type frame struct {
	Type       string          `json:"type"`
	UserID     string          `json:"user_id,omitempty"`
	IsTyping   bool            `json:"is_typing,omitempty"`
	Message    *domain.Message `json:"message,omitempty"`
	ReceiverID string          `json:"receiver_id,omitempty"`
	SenderID   string          `json:"sender_id,omitempty"`
	Body       string          `json:"body,omitempty"`
	MessageID  string          `json:"message_id,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	conn    *websocket.Conn
	user    domain.UserProfile
	writeMu sync.Mutex
}

func (c *client) send(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(f)
}

type hub struct {
	server  *Server
	mu      sync.Mutex
	reject  bool
	clients map[string]map[*client]struct{}
}

func newHub(s *Server) *hub {
	return &hub{server: s, clients: map[string]map[*client]struct{}{}}
}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	reject := h.reject
	h.mu.Unlock()
	if reject {
		http.Error(w, "socket service unavailable", http.StatusServiceUnavailable)
		return
	}

	user, ok := h.server.userForAccess(r.URL.Query().Get("token"))
	if !ok {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{conn: conn, user: user}
	h.mu.Lock()
	if h.clients[user.ID] == nil {
		h.clients[user.ID] = map[*client]struct{}{}
	}
	h.clients[user.ID][c] = struct{}{}
	h.mu.Unlock()

	if err := c.send(frame{Type: "connection_established", UserID: user.ID}); err != nil {
		h.remove(c)
		return
	}

	go h.readPump(c)
}

func (h *hub) readPump(c *client) {
	defer h.remove(c)

	for {
		var in frame
		if err := c.conn.ReadJSON(&in); err != nil {
			return
		}

		switch in.Type {
		case "chat_message":
			h.relayChat(c, in)
		case "typing_start", "typing_stop":
			h.sendTo(in.ReceiverID, frame{Type: "typing_indicator", UserID: c.user.ID, IsTyping: in.Type == "typing_start"})
		case "mark_read":
			h.server.markReadFrom(in.SenderID, c.user.ID)
		}
	}
}

// relayChat forwards an already persisted message when message_id is set and
// persists the frame otherwise.
func (h *hub) relayChat(c *client, in frame) {
	var msg domain.Message
	if in.MessageID != "" {
		stored, ok := h.server.messageByID(in.MessageID)
		if !ok || stored.SenderID != c.user.ID {
			return
		}
		msg = stored
	} else {
		if in.ReceiverID == "" || in.Body == "" {
			return
		}
		msg = h.server.storeMessage(c.user, in.ReceiverID, in.Body)
	}

	h.sendTo(msg.ReceiverID, frame{Type: "new_message", Message: &msg})
	h.sendTo(msg.SenderID, frame{Type: "message_sent", Message: &msg})
}

func (h *hub) sendTo(userID string, f frame) {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.send(f); err != nil {
			h.remove(c)
		}
	}
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	if set, ok := h.clients[c.user.ID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.user.ID)
		}
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}

func (h *hub) closeAll() {
	h.mu.Lock()
	var all []*client
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.clients = map[string]map[*client]struct{}{}
	h.mu.Unlock()

	for _, c := range all {
		_ = c.conn.Close()
	}
}
