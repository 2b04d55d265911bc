package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/bnema/possync/internal/domain"
	"github.com/bnema/possync/internal/ports"
	"github.com/cenkalti/backoff/v4"
)

const (
	defaultMaxAttempts = 5
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 30 * time.Second

	// maxAcked bounds how many own-send ids are kept for echo filtering.
	maxAcked = 1024

	directionInbound  = "inbound"
	directionOutbound = "outbound"
)

const (
	frameConnectionEstablished = "connection_established"
	frameNewMessage            = "new_message"
	frameMessageSent           = "message_sent"
	frameTypingIndicator       = "typing_indicator"

	frameChatMessage = "chat_message"
	frameTypingStart = "typing_start"
	frameTypingStop  = "typing_stop"
	frameMarkRead    = "mark_read"
)

// ErrChannelClosed is returned by WaitForState when the manager closes first.
var ErrChannelClosed = errors.New("channel manager closed")

type ChannelConfig struct {
	// URL is the socket endpoint; the access token is added as ?token= at
	// every connect.
	URL         string
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

type ChannelEventKind string

const (
	ChannelStateChanged ChannelEventKind = "state_changed"
	ChannelEstablished  ChannelEventKind = "established"
	ChannelMessage      ChannelEventKind = "message"
	ChannelAcked        ChannelEventKind = "acked"
	ChannelTyping       ChannelEventKind = "typing"
)

type ChannelEvent struct {
	Kind    ChannelEventKind
	State   domain.ConnectionState
	Message domain.Message
	UserID  string
	Typing  bool
	// Attempt and Delay describe the scheduled reconnect on RECONNECTING.
	Attempt int
	Delay   time.Duration
	Err     error
}

type inboundFrame struct {
	Type     string          `json:"type"`
	UserID   string          `json:"user_id,omitempty"`
	IsTyping bool            `json:"is_typing,omitempty"`
	Message  *domain.Message `json:"message,omitempty"`
}

type outboundFrame struct {
	Type       string `json:"type"`
	ReceiverID string `json:"receiver_id,omitempty"`
	SenderID   string `json:"sender_id,omitempty"`
	Body       string `json:"body,omitempty"`
	// MessageID points the relay at an already persisted message.
	MessageID string `json:"message_id,omitempty"`
}

type timerHandle interface {
	Stop() bool
}

type channelObserver struct {
	id int
	fn func(ChannelEvent)
}

// ChannelManager owns the realtime connection and its reconnect state
// machine. Callbacks from stale connections or timers are ignored through
// the generation counter, bumped by Stop.
type ChannelManager struct {
	session  *Session
	dialer   ports.SocketDialer
	messages *MessageStore
	cfg      ChannelConfig
	logger   *slog.Logger
	metrics  ports.SyncMetrics

	afterFunc func(time.Duration, func()) timerHandle

	mu         sync.Mutex
	state      domain.ConnectionState
	gen        uint64
	attempt    int
	backoff    *backoff.ExponentialBackOff
	conn       ports.SocketConn
	timer      timerHandle
	dialCtx    context.Context
	cancelDial context.CancelFunc
	userID     string
	typing     map[string]struct{}
	acked      map[string]struct{}
	ackOrder   []string

	writeMu sync.Mutex

	observers    []channelObserver
	nextObserver int
	queue        []ChannelEvent
	wake         chan struct{}
	done         chan struct{}
	closeOnce    sync.Once
}

func NewChannelManager(session *Session, dialer ports.SocketDialer, messages *MessageStore, cfg ChannelConfig, opts ...Option) *ChannelManager {
	o := buildOptions(opts)
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if messages == nil {
		messages = NewMessageStore()
	}

	c := &ChannelManager{
		session:  session,
		dialer:   dialer,
		messages: messages,
		cfg:      cfg,
		logger:   o.logger,
		metrics:  o.metrics,
		afterFunc: func(d time.Duration, f func()) timerHandle {
			return time.AfterFunc(d, f)
		},
		state: domain.StateDisconnected,
		backoff: backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(cfg.BaseDelay),
			backoff.WithMultiplier(2),
			backoff.WithRandomizationFactor(0),
			backoff.WithMaxInterval(cfg.MaxDelay),
			backoff.WithMaxElapsedTime(0),
		),
		typing: map[string]struct{}{},
		acked:  map[string]struct{}{},
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go c.dispatch()
	return c
}

// Start opens the channel with the current access token. It is a no-op
// while a connection is already live or being retried.
func (c *ChannelManager) Start(ctx context.Context) error {
	token, err := c.session.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("read access token: %w", err)
	}
	if token == "" {
		return domain.ErrNoSession
	}
	user, _, err := c.session.User(ctx)
	if err != nil {
		return fmt.Errorf("read user profile: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != domain.StateDisconnected && c.state != domain.StateFailed {
		return nil
	}

	c.gen++
	gen := c.gen
	c.attempt = 0
	c.backoff.Reset()
	c.userID = user.ID
	dialCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.dialCtx = dialCtx
	c.cancelDial = cancel

	c.setStateLocked(domain.StateConnecting, nil)
	go c.connect(dialCtx, gen)
	return nil
}

// Stop closes the connection and cancels any scheduled reconnect.
func (c *ChannelManager) Stop() {
	c.mu.Lock()
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
		c.dialCtx = nil
	}
	conn := c.conn
	c.conn = nil
	c.attempt = 0
	clear(c.typing)
	clear(c.acked)
	c.ackOrder = c.ackOrder[:0]
	if c.state != domain.StateDisconnected {
		c.setStateLocked(domain.StateDisconnected, nil)
	}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// Reset leaves any state, FAILED included, and connects again.
func (c *ChannelManager) Reset(ctx context.Context) error {
	c.Stop()
	return c.Start(ctx)
}

// Close stops the channel and the event dispatcher. The manager is unusable
// afterwards.
func (c *ChannelManager) Close() {
	c.Stop()
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *ChannelManager) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *ChannelManager) Online() bool {
	return c.State().Online()
}

func (c *ChannelManager) TypingUsers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	users := make([]string, 0, len(c.typing))
	for user := range c.typing {
		users = append(users, user)
	}
	slices.Sort(users)
	return users
}

// Acknowledged reports whether the server acked id as one of our own sends.
func (c *ChannelManager) Acknowledged(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.acked[id]
	return ok
}

// Subscribe registers fn for channel events, delivered in order on one
// goroutine. The returned func unsubscribes.
func (c *ChannelManager) Subscribe(fn func(ChannelEvent)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextObserver++
	id := c.nextObserver
	c.observers = append(c.observers, channelObserver{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.observers = slices.DeleteFunc(c.observers, func(o channelObserver) bool { return o.id == id })
	}
}

// Send relays a chat message. messageID is the server id when the message was
// already written over REST, empty otherwise.
func (c *ChannelManager) Send(receiverID, body, messageID string) error {
	return c.write(outboundFrame{Type: frameChatMessage, ReceiverID: receiverID, Body: body, MessageID: messageID})
}

func (c *ChannelManager) StartTyping(receiverID string) error {
	return c.write(outboundFrame{Type: frameTypingStart, ReceiverID: receiverID})
}

func (c *ChannelManager) StopTyping(receiverID string) error {
	return c.write(outboundFrame{Type: frameTypingStop, ReceiverID: receiverID})
}

func (c *ChannelManager) MarkRead(senderID string) error {
	return c.write(outboundFrame{Type: frameMarkRead, SenderID: senderID})
}

func (c *ChannelManager) write(frame outboundFrame) error {
	c.mu.Lock()
	conn := c.conn
	online := c.state.Online()
	c.mu.Unlock()
	if !online || conn == nil {
		return domain.ErrChannelUnavailable
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", frame.Type, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(data); err != nil {
		return fmt.Errorf("%w: write %s frame: %w", domain.ErrTransport, frame.Type, err)
	}
	c.metrics.ChannelMessage(directionOutbound)
	return nil
}

func (c *ChannelManager) connect(ctx context.Context, gen uint64) {
	token, err := c.session.AccessToken(ctx)
	if err == nil && token == "" {
		err = domain.ErrNoSession
	}

	var conn ports.SocketConn
	if err == nil {
		conn, err = c.dialer.Dial(ctx, socketURL(c.cfg.URL, token))
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.logger.Debug("channel dial failed", "attempt", c.attempt, "error", err)
		c.failLocked(gen, err)
		c.mu.Unlock()
		return
	}

	c.conn = conn
	c.attempt = 0
	c.backoff.Reset()
	c.setStateLocked(domain.StateConnected, nil)
	c.mu.Unlock()

	go c.read(gen, conn)
}

func (c *ChannelManager) read(gen uint64, conn ports.SocketConn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.dropped(gen, conn, err)
			return
		}
		c.metrics.ChannelMessage(directionInbound)
		c.handleFrame(gen, data)
	}
}

func (c *ChannelManager) dropped(gen uint64, conn ports.SocketConn, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.conn != conn {
		return
	}
	_ = conn.Close()
	c.conn = nil
	clear(c.typing)
	c.logger.Info("channel connection lost", "error", cause)
	c.failLocked(gen, cause)
}

// failLocked moves to RECONNECTING with the next backoff delay, or to FAILED
// once the attempts are used up.
func (c *ChannelManager) failLocked(gen uint64, cause error) {
	if c.attempt >= c.cfg.MaxAttempts {
		c.logger.Warn("channel reconnect attempts exhausted", "attempt", c.attempt, "error", cause)
		c.setStateLocked(domain.StateFailed, cause)
		return
	}

	delay := min(c.backoff.NextBackOff(), c.cfg.MaxDelay)
	c.attempt++
	c.metrics.ChannelReconnect()
	c.logger.Info("channel reconnect scheduled", "attempt", c.attempt, "delay", delay)
	c.state = domain.StateReconnecting
	c.metrics.ChannelState(c.state)
	c.emitLocked(ChannelEvent{Kind: ChannelStateChanged, State: c.state, Attempt: c.attempt, Delay: delay, Err: cause})
	c.timer = c.afterFunc(delay, func() { c.redial(gen) })
}

func (c *ChannelManager) redial(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != domain.StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.setStateLocked(domain.StateConnecting, nil)
	ctx := c.dialCtx
	c.mu.Unlock()

	c.connect(ctx, gen)
}

func (c *ChannelManager) handleFrame(gen uint64, data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.logger.Debug("ignoring malformed channel frame", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}

	switch frame.Type {
	case frameConnectionEstablished:
		if c.userID == "" {
			c.userID = frame.UserID
		}
		c.emitLocked(ChannelEvent{Kind: ChannelEstablished, State: c.state, UserID: frame.UserID})
	case frameNewMessage:
		if frame.Message == nil {
			return
		}
		msg := *frame.Message
		if msg.ReceiverID != c.userID || msg.ID == "" {
			return
		}
		if _, own := c.acked[msg.ID]; own {
			return
		}
		if c.messages.Merge(msg.SenderID, msg) > 0 {
			c.emitLocked(ChannelEvent{Kind: ChannelMessage, State: c.state, Message: msg, UserID: msg.SenderID})
		}
	case frameMessageSent:
		if frame.Message == nil || frame.Message.ID == "" {
			return
		}
		c.ackLocked(frame.Message.ID)
		c.emitLocked(ChannelEvent{Kind: ChannelAcked, State: c.state, Message: *frame.Message})
	case frameTypingIndicator:
		if frame.UserID == "" {
			return
		}
		if frame.IsTyping {
			c.typing[frame.UserID] = struct{}{}
		} else {
			delete(c.typing, frame.UserID)
		}
		c.emitLocked(ChannelEvent{Kind: ChannelTyping, State: c.state, UserID: frame.UserID, Typing: frame.IsTyping})
	default:
		c.logger.Debug("ignoring channel frame", "type", frame.Type)
	}
}

// ackLocked remembers id, forgetting the oldest ack past maxAcked.
func (c *ChannelManager) ackLocked(id string) {
	if _, ok := c.acked[id]; ok {
		return
	}
	if len(c.ackOrder) >= maxAcked {
		delete(c.acked, c.ackOrder[0])
		c.ackOrder = slices.Delete(c.ackOrder, 0, 1)
	}
	c.acked[id] = struct{}{}
	c.ackOrder = append(c.ackOrder, id)
}

func (c *ChannelManager) setStateLocked(state domain.ConnectionState, cause error) {
	c.state = state
	c.metrics.ChannelState(state)
	c.logger.Debug("channel state", "state", state)
	c.emitLocked(ChannelEvent{Kind: ChannelStateChanged, State: state, Err: cause})
}

func (c *ChannelManager) emitLocked(event ChannelEvent) {
	c.queue = append(c.queue, event)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *ChannelManager) dispatch() {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}

		for {
			c.mu.Lock()
			if len(c.queue) == 0 {
				c.mu.Unlock()
				break
			}
			batch := c.queue
			c.queue = nil
			observers := slices.Clone(c.observers)
			c.mu.Unlock()

			for _, event := range batch {
				for _, observer := range observers {
					observer.fn(event)
				}
			}
		}
	}
}

func socketURL(base, token string) string {
	parsed, err := url.Parse(base)
	if err != nil {
		return base
	}
	query := parsed.Query()
	query.Set("token", token)
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

// WaitForState blocks until the channel reaches one of states or ctx ends.
func (c *ChannelManager) WaitForState(ctx context.Context, states ...domain.ConnectionState) (domain.ConnectionState, error) {
	reached := make(chan domain.ConnectionState, 1)
	unsubscribe := c.Subscribe(func(event ChannelEvent) {
		if event.Kind == ChannelStateChanged && slices.Contains(states, event.State) {
			select {
			case reached <- event.State:
			default:
			}
		}
	})
	defer unsubscribe()

	if current := c.State(); slices.Contains(states, current) {
		return current, nil
	}

	select {
	case state := <-reached:
		return state, nil
	case <-c.done:
		return c.State(), ErrChannelClosed
	case <-ctx.Done():
		return c.State(), ctx.Err()
	}
}
