package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	statusadapter "github.com/bnema/possync/internal/adapters/render/status"
	"github.com/bnema/possync/internal/application"
	"github.com/bnema/possync/internal/domain"
	"github.com/bnema/possync/internal/metrics"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newChatCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Read and send chat messages",
	}

	cmd.AddCommand(newChatHistoryCmd(c), newChatSendCmd(c), newChatWatchCmd(c))

	return cmd
}

func newChatHistoryCmd(c *cli) *cobra.Command {
	var asJSON bool
	var markRead bool

	cmd := &cobra.Command{
		Use:   "history <peer>",
		Short: "Print the conversation with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			peer := args[0]

			var messages []domain.Message
			err := withSpinner(cmd, "Fetching conversation...", func(ctx context.Context) error {
				var err error
				messages, err = c.app.chat.Conversation(ctx, peer)
				return err
			})
			if err != nil {
				return explain(err)
			}
			if markRead {
				if err := c.app.chat.MarkRead(ctx, peer); err != nil {
					return explain(err)
				}
			}

			if asJSON {
				return writeJSON(cmd, messages)
			}
			user, _, err := c.app.session.User(ctx)
			if err != nil {
				return err
			}
			rendered, err := statusadapter.Conversation(peer, user.ID, messages, c.renderOptions())
			return writeRendered(cmd, rendered, err)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	cmd.Flags().BoolVar(&markRead, "mark-read", false, "Mark the peer's messages as read")

	return cmd
}

func newChatSendCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "send <peer> <body>",
		Short: "Send a message to a peer",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := c.app.chat.Send(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return explain(err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Sent message %s\n", msg.ID)
			return err
		},
	}
}

// chatBackend narrows ChatService to one peer for the live view.
type chatBackend struct {
	chat *application.ChatService
	peer string
}

func (b chatBackend) Messages() []domain.Message {
	return b.chat.Messages(b.peer)
}

func (b chatBackend) Send(ctx context.Context, body string) error {
	_, err := b.chat.Send(ctx, b.peer, body)
	return err
}

func (b chatBackend) Typing(typing bool) error {
	return b.chat.Typing(b.peer, typing)
}

func watchEventFor(event application.ChannelEvent, peer string) (statusadapter.WatchEvent, bool) {
	switch event.Kind {
	case application.ChannelStateChanged:
		return statusadapter.WatchEvent{State: event.State, Attempt: event.Attempt, Delay: event.Delay}, true
	case application.ChannelTyping:
		if event.UserID != peer {
			return statusadapter.WatchEvent{}, false
		}
		return statusadapter.WatchEvent{HasTyping: true, PeerTyping: event.Typing}, true
	case application.ChannelMessage:
		if event.UserID != peer {
			return statusadapter.WatchEvent{Description: "new message from " + event.UserID}, true
		}
		return statusadapter.WatchEvent{HasTyping: true, PeerTyping: false}, true
	case application.ChannelAcked:
		return statusadapter.WatchEvent{}, true
	default:
		return statusadapter.WatchEvent{}, false
	}
}

func newChatWatchCmd(c *cli) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch <peer>",
		Short: "Open a live conversation with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer := args[0]
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			user, _, err := c.app.session.User(ctx)
			if err != nil {
				return err
			}
			if _, err := c.app.chat.Conversation(ctx, peer); err != nil {
				return explain(err)
			}
			if err := c.app.chat.MarkRead(ctx, peer); err != nil {
				c.app.logger.Warn("mark read failed", "error", err)
			}

			relay := newWatchRelay()
			events := make(chan statusadapter.WatchEvent)
			go relay.run(ctx, events)
			unsubscribe := c.app.channel.Subscribe(func(event application.ChannelEvent) {
				if update, ok := watchEventFor(event, peer); ok {
					relay.push(update)
				}
			})
			defer unsubscribe()

			if err := c.app.channel.Start(ctx); err != nil {
				return explain(err)
			}
			defer c.app.channel.Stop()

			group, groupCtx := errgroup.WithContext(ctx)
			if metricsAddr == "" {
				metricsAddr = c.app.settings.Metrics.Addr
			}
			if metricsAddr != "" {
				group.Go(func() error {
					return metrics.Serve(groupCtx, metricsAddr, c.app.registry)
				})
			}

			expired := make(chan error, 1)
			group.Go(func() error {
				err := c.app.monitor.Run(groupCtx, c.app.settings.Session.CheckInterval)
				if errors.Is(err, domain.ErrSessionExpired) || errors.Is(err, domain.ErrNoSession) {
					expired <- err
					cancel()
					return nil
				}
				return err
			})

			model := statusadapter.NewWatchModel(ctx, peer, user.ID, chatBackend{chat: c.app.chat, peer: peer}, events)
			program := tea.NewProgram(model,
				tea.WithContext(ctx),
				tea.WithInput(cmd.InOrStdin()),
				tea.WithOutput(cmd.OutOrStdout()),
			)
			_, runErr := program.Run()

			cancel()
			groupErr := group.Wait()

			select {
			case err := <-expired:
				return explain(err)
			default:
			}
			if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) && !errors.Is(runErr, context.Canceled) {
				return runErr
			}
			if groupErr != nil && !errors.Is(groupErr, context.Canceled) {
				return groupErr
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address while watching (e.g. :9464)")

	return cmd
}

// watchRelay hands channel events to the watch UI without ever blocking the
// channel dispatcher. Events that arrive while the UI is busy are merged into
// one pending update.
type watchRelay struct {
	mu      sync.Mutex
	pending statusadapter.WatchEvent
	queued  bool
	wake    chan struct{}
}

func newWatchRelay() *watchRelay {
	return &watchRelay{wake: make(chan struct{}, 1)}
}

func (r *watchRelay) push(update statusadapter.WatchEvent) {
	r.mu.Lock()
	r.pending = mergeWatchEvents(r.pending, update)
	r.queued = true
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *watchRelay) take() (statusadapter.WatchEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	update, ok := r.pending, r.queued
	r.pending, r.queued = statusadapter.WatchEvent{}, false
	return update, ok
}

// run forwards pending updates to events until ctx is done.
func (r *watchRelay) run(ctx context.Context, events chan<- statusadapter.WatchEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
		}
		update, ok := r.take()
		if !ok {
			continue
		}
		select {
		case events <- update:
		case <-ctx.Done():
			return
		}
	}
}

// mergeWatchEvents folds next into prev. The latest connection state, typing
// flag and note win.
func mergeWatchEvents(prev, next statusadapter.WatchEvent) statusadapter.WatchEvent {
	if next.State != "" {
		prev.State, prev.Attempt, prev.Delay = next.State, next.Attempt, next.Delay
	}
	if next.HasTyping {
		prev.HasTyping, prev.PeerTyping = true, next.PeerTyping
	}
	if next.Description != "" {
		prev.Description = next.Description
	}
	return prev
}
