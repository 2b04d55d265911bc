package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/bnema/possync/internal/domain"
	"github.com/bnema/possync/internal/ports"
	"github.com/google/uuid"
)

const EndpointChatMessages = "/chat/messages/"

func ConversationEndpoint(peerID string) string {
	return "/chat/conversations/" + url.PathEscape(peerID) + "/"
}

func conversationSubscription(peerID string) string {
	return "chat:" + peerID
}

type sendMessageRequest struct {
	ReceiverID string `json:"receiver_id"`
	Body       string `json:"body"`
}

// ChatService persists chat over REST and uses the realtime channel, when
// present and online, as a delivery accelerant.
type ChatService struct {
	orchestrator *Orchestrator
	messages     *MessageStore
	channel      *ChannelManager
	session      *Session
	clock        ports.Clock
	logger       *slog.Logger
	newLocalID   func() string
}

func NewChatService(orchestrator *Orchestrator, messages *MessageStore, channel *ChannelManager, session *Session, opts ...Option) *ChatService {
	o := buildOptions(opts)
	if messages == nil {
		messages = NewMessageStore()
	}
	return &ChatService{
		orchestrator: orchestrator,
		messages:     messages,
		channel:      channel,
		session:      session,
		clock:        o.clock,
		logger:       o.logger,
		newLocalID:   uuid.NewString,
	}
}

// Conversation fetches the history with peerID, merges it into the canonical
// list and returns that list.
func (s *ChatService) Conversation(ctx context.Context, peerID string) ([]domain.Message, error) {
	if strings.TrimSpace(peerID) == "" {
		return nil, errors.New("peer id is required")
	}

	_, err := FetchInto(ctx, s.orchestrator, conversationSubscription(peerID), ConversationEndpoint(peerID), func(history []domain.Message) {
		s.messages.Merge(peerID, history...)
	})
	if err != nil {
		return nil, err
	}
	return s.messages.Messages(peerID), nil
}

// Messages returns the canonical list without touching the network.
func (s *ChatService) Messages(peerID string) []domain.Message {
	return s.messages.Messages(peerID)
}

// Send shows the message immediately as pending, writes it over REST and
// replaces the pending entry with the confirmed one. On failure the pending
// entry is removed.
func (s *ChatService) Send(ctx context.Context, peerID, body string) (domain.Message, error) {
	if strings.TrimSpace(peerID) == "" {
		return domain.Message{}, errors.New("peer id is required")
	}
	if strings.TrimSpace(body) == "" {
		return domain.Message{}, errors.New("message body is required")
	}

	user, _, err := s.session.User(ctx)
	if err != nil {
		return domain.Message{}, fmt.Errorf("read user profile: %w", err)
	}

	pending := domain.Message{
		LocalID:    s.newLocalID(),
		SenderID:   user.ID,
		ReceiverID: peerID,
		Body:       body,
		CreatedAt:  s.clock.Now(),
	}
	s.messages.AddPending(peerID, pending)

	payload, err := s.orchestrator.Call(ctx, Request{
		Method: http.MethodPost,
		Path:   EndpointChatMessages,
		Body:   sendMessageRequest{ReceiverID: peerID, Body: body},
	})
	if err != nil {
		s.messages.Discard(peerID, pending.LocalID)
		return domain.Message{}, fmt.Errorf("send message: %w", err)
	}

	var confirmed domain.Message
	if err := decodePayload(payload, &confirmed); err != nil || confirmed.ID == "" {
		s.messages.Discard(peerID, pending.LocalID)
		s.orchestrator.Invalidate(ConversationEndpoint(peerID))
		if err == nil {
			err = errors.New("response carries no message id")
		}
		return domain.Message{}, fmt.Errorf("decode sent message: %w", err)
	}
	if confirmed.CreatedAt.IsZero() {
		confirmed.CreatedAt = pending.CreatedAt
	}
	s.messages.Confirm(peerID, pending.LocalID, confirmed)
	s.orchestrator.Invalidate(ConversationEndpoint(peerID))

	if s.channel != nil {
		if err := s.channel.Send(peerID, body, confirmed.ID); err != nil && !errors.Is(err, domain.ErrChannelUnavailable) {
			s.logger.Debug("channel relay failed", "error", err)
		}
	}

	return confirmed, nil
}

func (s *ChatService) MarkRead(ctx context.Context, peerID string) error {
	if _, err := s.orchestrator.Call(ctx, Request{Method: http.MethodPut, Path: ConversationEndpoint(peerID) + "read/"}); err != nil {
		return fmt.Errorf("mark conversation read: %w", err)
	}
	s.messages.MarkReadFrom(peerID, peerID)
	s.orchestrator.Invalidate(ConversationEndpoint(peerID))

	if s.channel != nil {
		if err := s.channel.MarkRead(peerID); err != nil && !errors.Is(err, domain.ErrChannelUnavailable) {
			s.logger.Debug("channel mark read failed", "error", err)
		}
	}
	return nil
}

func (s *ChatService) UnreadCount(ctx context.Context, peerID string) (int, error) {
	user, _, err := s.session.User(ctx)
	if err != nil {
		return 0, fmt.Errorf("read user profile: %w", err)
	}
	return s.messages.Unread(peerID, user.ID), nil
}

// Typing forwards a typing state change; it fails with ErrChannelUnavailable
// while offline.
func (s *ChatService) Typing(peerID string, typing bool) error {
	if s.channel == nil {
		return domain.ErrChannelUnavailable
	}
	if typing {
		return s.channel.StartTyping(peerID)
	}
	return s.channel.StopTyping(peerID)
}
