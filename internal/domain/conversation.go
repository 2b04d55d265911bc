package domain

import (
	"slices"
)

// Conversation is the canonical message list for one peer: unique by server id,
// ordered by CreatedAt with arrival order breaking ties. It is not safe for
// concurrent use; callers serialise access.
type Conversation struct {
	PeerID  string
	entries []conversationEntry
	arrival uint64
	ids     map[string]struct{}
}

type conversationEntry struct {
	msg     Message
	arrival uint64
}

func NewConversation(peerID string) *Conversation {
	return &Conversation{PeerID: peerID, ids: map[string]struct{}{}}
}

// Merge adds messages not already present and returns how many were added.
// Messages arriving over any transport go through here.
func (c *Conversation) Merge(messages ...Message) int {
	added := 0
	for _, msg := range messages {
		if c.known(msg) {
			continue
		}
		c.append(msg)
		added++
	}
	if added > 0 {
		c.sort()
	}
	return added
}

// AddPending appends an optimistic message that has no server id yet.
func (c *Conversation) AddPending(msg Message) bool {
	if msg.LocalID == "" || msg.ID != "" {
		return false
	}
	if c.indexOfLocal(msg.LocalID) >= 0 {
		return false
	}
	c.append(msg)
	c.sort()
	return true
}

// Confirm replaces the pending message localID with its server-confirmed form.
// When the confirmed id already arrived through another transport the pending
// entry is dropped instead, so the id stays unique.
func (c *Conversation) Confirm(localID string, confirmed Message) bool {
	idx := c.indexOfLocal(localID)
	if idx < 0 {
		c.Merge(confirmed)
		return false
	}

	if confirmed.ID != "" && c.Contains(confirmed.ID) {
		c.entries = slices.Delete(c.entries, idx, idx+1)
		return true
	}

	confirmed.LocalID = localID
	c.entries[idx].msg = confirmed
	if confirmed.ID != "" {
		c.ids[confirmed.ID] = struct{}{}
	}
	c.sort()
	return true
}

// Discard removes a pending message, used when its remote write failed.
func (c *Conversation) Discard(localID string) bool {
	idx := c.indexOfLocal(localID)
	if idx < 0 {
		return false
	}
	c.entries = slices.Delete(c.entries, idx, idx+1)
	return true
}

func (c *Conversation) Contains(id string) bool {
	if id == "" {
		return false
	}
	_, ok := c.ids[id]
	return ok
}

// MarkReadFrom flags every message sent by senderID as read.
func (c *Conversation) MarkReadFrom(senderID string) int {
	marked := 0
	for i := range c.entries {
		msg := &c.entries[i].msg
		if msg.SenderID == senderID && !msg.Read {
			msg.Read = true
			marked++
		}
	}
	return marked
}

func (c *Conversation) Unread(userID string) int {
	count := 0
	for _, entry := range c.entries {
		if entry.msg.ReceiverID == userID && !entry.msg.Read {
			count++
		}
	}
	return count
}

func (c *Conversation) Len() int {
	return len(c.entries)
}

// Messages returns a copy of the ordered list.
func (c *Conversation) Messages() []Message {
	out := make([]Message, 0, len(c.entries))
	for _, entry := range c.entries {
		out = append(out, entry.msg)
	}
	return out
}

func (c *Conversation) known(msg Message) bool {
	if msg.ID != "" {
		return c.Contains(msg.ID)
	}
	return msg.LocalID != "" && c.indexOfLocal(msg.LocalID) >= 0
}

func (c *Conversation) append(msg Message) {
	if c.ids == nil {
		c.ids = map[string]struct{}{}
	}
	c.arrival++
	c.entries = append(c.entries, conversationEntry{msg: msg, arrival: c.arrival})
	if msg.ID != "" {
		c.ids[msg.ID] = struct{}{}
	}
}

func (c *Conversation) indexOfLocal(localID string) int {
	if localID == "" {
		return -1
	}
	for i, entry := range c.entries {
		if entry.msg.LocalID == localID && entry.msg.ID == "" {
			return i
		}
	}
	return -1
}

func (c *Conversation) sort() {
	slices.SortStableFunc(c.entries, func(a, b conversationEntry) int {
		if cmp := a.msg.CreatedAt.Compare(b.msg.CreatedAt); cmp != 0 {
			return cmp
		}
		if a.arrival < b.arrival {
			return -1
		}
		if a.arrival > b.arrival {
			return 1
		}
		return 0
	})
}
