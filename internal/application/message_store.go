package application

import (
	"slices"
	"sync"

	"github.com/bnema/possync/internal/domain"
)

// MessageStore holds the canonical conversation per peer. The chat service and
// the channel manager both write through it; every call is atomic.
type MessageStore struct {
	mu            sync.Mutex
	conversations map[string]*domain.Conversation
}

func NewMessageStore() *MessageStore {
	return &MessageStore{conversations: map[string]*domain.Conversation{}}
}

func (s *MessageStore) Merge(peerID string, messages ...domain.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversation(peerID).Merge(messages...)
}

func (s *MessageStore) AddPending(peerID string, msg domain.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversation(peerID).AddPending(msg)
}

func (s *MessageStore) Confirm(peerID, localID string, confirmed domain.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversation(peerID).Confirm(localID, confirmed)
}

func (s *MessageStore) Discard(peerID, localID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversation(peerID).Discard(localID)
}

func (s *MessageStore) Contains(peerID, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[peerID]
	return ok && conv.Contains(id)
}

func (s *MessageStore) MarkReadFrom(peerID, senderID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversation(peerID).MarkReadFrom(senderID)
}

func (s *MessageStore) Unread(peerID, userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[peerID]
	if !ok {
		return 0
	}
	return conv.Unread(userID)
}

func (s *MessageStore) Messages(peerID string) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[peerID]
	if !ok {
		return nil
	}
	return conv.Messages()
}

func (s *MessageStore) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := make([]string, 0, len(s.conversations))
	for peer := range s.conversations {
		peers = append(peers, peer)
	}
	slices.Sort(peers)
	return peers
}

func (s *MessageStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = map[string]*domain.Conversation{}
}

func (s *MessageStore) conversation(peerID string) *domain.Conversation {
	conv, ok := s.conversations[peerID]
	if !ok {
		conv = domain.NewConversation(peerID)
		s.conversations[peerID] = conv
	}
	return conv
}
