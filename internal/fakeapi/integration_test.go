package fakeapi_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bnema/possync/internal/adapters/auth"
	"github.com/bnema/possync/internal/adapters/realtime/gorilla"
	"github.com/bnema/possync/internal/adapters/secrets/memory"
	"github.com/bnema/possync/internal/application"
	"github.com/bnema/possync/internal/domain"
	"github.com/bnema/possync/internal/fakeapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = domain.UserProfile{ID: "U1", Username: "alice", DisplayName: "Alice", Role: "manager"}
	bob   = domain.UserProfile{ID: "U2", Username: "bob", DisplayName: "Bob", Role: "cashier"}
)

type client struct {
	session  *application.Session
	auth     *application.AuthService
	gateway  *application.Gateway
	orch     *application.Orchestrator
	retail   *application.RetailService
	chat     *application.ChatService
	channel  *application.ChannelManager
	messages *application.MessageStore
}

func newClient(t *testing.T, srv *fakeapi.Server) *client {
	t.Helper()

	session := application.NewSession(memory.NewStore())
	exchanger := auth.TokenClient{API: auth.DefaultAPI(srv.URL()), HTTPClient: http.DefaultClient}
	refresher := application.NewRefresher(session, exchanger)
	gateway, err := application.NewGateway(srv.URL(), http.DefaultClient, session, refresher)
	require.NoError(t, err)

	orch := application.NewOrchestrator(gateway, application.NewResponseCache(time.Minute, nil), time.Millisecond)
	messages := application.NewMessageStore()
	channel := application.NewChannelManager(session, gorilla.Dialer{HandshakeTimeout: time.Second}, messages, application.ChannelConfig{
		URL:         srv.SocketURL(),
		MaxAttempts: 5,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    40 * time.Millisecond,
	})
	t.Cleanup(channel.Close)

	return &client{
		session:  session,
		auth:     application.NewAuthService(session, exchanger, gateway),
		gateway:  gateway,
		orch:     orch,
		retail:   application.NewRetailService(orch),
		chat:     application.NewChatService(orch, messages, channel, session),
		channel:  channel,
		messages: messages,
	}
}

func newServer(t *testing.T) *fakeapi.Server {
	t.Helper()

	srv := fakeapi.New()
	t.Cleanup(srv.Close)
	srv.AddUser(alice, "alice-pw")
	srv.AddUser(bob, "bob-pw")
	return srv
}

func TestLoginThenTransparentRefreshOnExpiredAccessToken(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	srv.SeedProducts(domain.Product{ID: "p1", SKU: "SKU-1", Name: "Coffee", PriceCents: 350, Stock: 2})
	srv.SeedSales(domain.Sale{ID: "s1", ProductID: "p1", Quantity: 1, TotalCents: 350, SoldAt: time.Now()})
	c := newClient(t, srv)
	ctx := context.Background()

	profile, err := c.auth.Login(ctx, "alice", "alice-pw")
	require.NoError(t, err)
	assert.Equal(t, alice, profile)

	products, err := c.retail.Products(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Coffee", products[0].Name)

	srv.ExpireAccessTokens()

	sales, err := c.retail.Sales(ctx)
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, 1, srv.RefreshCalls())

	var wg sync.WaitGroup
	errs := make([]error, 3)
	fetches := []func(context.Context) error{
		func(ctx context.Context) error { _, err := c.retail.Credits(ctx); return err },
		func(ctx context.Context) error { _, err := c.retail.Deposits(ctx); return err },
		func(ctx context.Context) error { _, err := c.retail.Summary(ctx); return err },
	}
	for i, fetch := range fetches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = fetch(ctx)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, srv.RefreshCalls(), "the refreshed token is reused")
	assert.Equal(t, 2, srv.Calls(http.MethodGet, "/api/sales/"))

	tokens, err := c.session.Tokens(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.Access)
	assert.NotEmpty(t, tokens.Refresh)
}

func TestRevokedRefreshTokenExpiresSession(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	c := newClient(t, srv)
	ctx := context.Background()

	_, err := c.auth.Login(ctx, "alice", "alice-pw")
	require.NoError(t, err)

	srv.ExpireAccessTokens()
	srv.RevokeRefreshTokens()

	_, err = c.retail.Summary(ctx)
	require.ErrorIs(t, err, domain.ErrSessionExpired)

	anonymous, err := c.session.Anonymous(ctx)
	require.NoError(t, err)
	assert.True(t, anonymous)

	_, err = c.auth.Login(ctx, "alice", "wrong")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestOptimisticOrderUpdateRollsBackOnServerRejection(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	srv.SeedOrders(domain.PurchaseOrder{ID: "po1", Supplier: "Acme", Status: domain.OrderPending, TotalCents: 5000})
	c := newClient(t, srv)
	ctx := context.Background()

	_, err := c.auth.Login(ctx, "alice", "alice-pw")
	require.NoError(t, err)
	_, err = c.retail.PurchaseOrders(ctx)
	require.NoError(t, err)

	srv.FailNext(http.MethodPatch, "/api/purchase-orders/po1/", http.StatusInternalServerError, 1)
	err = c.retail.UpdatePurchaseOrderStatus(ctx, "po1", domain.OrderApproved)
	require.Error(t, err)
	assert.Equal(t, domain.OrderPending, c.retail.PurchaseOrdersView()[0].Status)
	assert.Equal(t, domain.OrderPending, srv.Orders()[0].Status)

	require.NoError(t, c.retail.UpdatePurchaseOrderStatus(ctx, "po1", domain.OrderApproved))
	assert.Equal(t, domain.OrderApproved, c.retail.PurchaseOrdersView()[0].Status)
	assert.Equal(t, domain.OrderApproved, srv.Orders()[0].Status)
	assert.Equal(t, 1, c.retail.SummaryView().OpenOrders)
}

func TestChatDeliversOverChannelWithoutDuplicates(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	ctx := context.Background()

	a := newClient(t, srv)
	_, err := a.auth.Login(ctx, "alice", "alice-pw")
	require.NoError(t, err)
	b := newClient(t, srv)
	_, err = b.auth.Login(ctx, "bob", "bob-pw")
	require.NoError(t, err)

	require.NoError(t, a.channel.Start(ctx))
	require.NoError(t, b.channel.Start(ctx))
	waitConnected(t, a.channel)
	waitConnected(t, b.channel)

	sent, err := a.chat.Send(ctx, bob.ID, "Delivery is here")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return b.messages.Contains(alice.ID, sent.ID)
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return a.channel.Acknowledged(sent.ID)
	}, 2*time.Second, 10*time.Millisecond)

	history, err := b.chat.Conversation(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, sent.ID, history[0].ID)
	assert.Len(t, srv.Messages(), 1, "relay must not persist the message twice")
	assert.Len(t, a.chat.Messages(bob.ID), 1)

	unread, err := b.chat.UnreadCount(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
	require.NoError(t, b.chat.MarkRead(ctx, alice.ID))
	assert.True(t, srv.Messages()[0].Read)
}

func TestChannelTypingIndicatorReachesPeer(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	ctx := context.Background()

	a := newClient(t, srv)
	_, err := a.auth.Login(ctx, "alice", "alice-pw")
	require.NoError(t, err)
	b := newClient(t, srv)
	_, err = b.auth.Login(ctx, "bob", "bob-pw")
	require.NoError(t, err)

	require.NoError(t, a.channel.Start(ctx))
	require.NoError(t, b.channel.Start(ctx))
	waitConnected(t, a.channel)
	waitConnected(t, b.channel)

	require.NoError(t, a.chat.Typing(bob.ID, true))
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{alice.ID}, b.channel.TypingUsers())
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.chat.Typing(bob.ID, false))
	require.Eventually(t, func() bool {
		return len(b.channel.TypingUsers()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChannelReconnectsAfterServerDropAndFailsWhenRejected(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	ctx := context.Background()
	a := newClient(t, srv)
	_, err := a.auth.Login(ctx, "alice", "alice-pw")
	require.NoError(t, err)

	require.NoError(t, a.channel.Start(ctx))
	waitConnected(t, a.channel)

	srv.DropSockets()
	require.Eventually(t, func() bool {
		return a.channel.State() == domain.StateConnected && srv.SocketCount(alice.ID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	msg := srv.DeliverMessage(bob, alice.ID, "after reconnect")
	require.Eventually(t, func() bool {
		return a.messages.Contains(bob.ID, msg.ID)
	}, 2*time.Second, 10*time.Millisecond)

	srv.RejectSockets(true)
	srv.DropSockets()

	waitCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	state, err := a.channel.WaitForState(waitCtx, domain.StateFailed)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, state)
	require.ErrorIs(t, a.channel.Send(bob.ID, "offline", ""), domain.ErrChannelUnavailable)

	srv.RejectSockets(false)
	require.NoError(t, a.channel.Reset(ctx))
	waitConnected(t, a.channel)
}

func waitConnected(t *testing.T, channel *application.ChannelManager) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	state, err := channel.WaitForState(ctx, domain.StateConnected)
	require.NoError(t, err)
	require.Equal(t, domain.StateConnected, state)
}
