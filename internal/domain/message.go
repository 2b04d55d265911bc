package domain

import "time"

// Message is either pending (LocalID set, ID empty) while optimistically displayed,
// or confirmed once the server assigned an ID.
type Message struct {
	ID            string    `json:"id,omitempty"`
	LocalID       string    `json:"-"`
	SenderID      string    `json:"sender_id"`
	ReceiverID    string    `json:"receiver_id"`
	Body          string    `json:"body"`
	CreatedAt     time.Time `json:"created_at"`
	SenderDisplay string    `json:"sender_display,omitempty"`
	Read          bool      `json:"read,omitempty"`
}

func (m Message) Confirmed() bool {
	return m.ID != ""
}

func (m Message) Pending() bool {
	return m.ID == "" && m.LocalID != ""
}

// Peer returns the other participant of the message from userID's point of view.
func (m Message) Peer(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}
