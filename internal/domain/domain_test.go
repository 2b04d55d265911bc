package domain

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationMergeDeduplicatesAcrossTransports(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rng := rand.New(rand.NewPCG(7, 11))

	for round := 0; round < 50; round++ {
		messages := make([]Message, 0, 20)
		for i := 0; i < 20; i++ {
			messages = append(messages, Message{
				ID:         fmt.Sprintf("m%d", i),
				SenderID:   "U1",
				ReceiverID: "U2",
				CreatedAt:  base.Add(time.Duration(rng.IntN(10)) * time.Minute),
			})
		}

		conv := NewConversation("U1")
		// every message shows up over HTTP and the channel, in random order
		deliveries := append(append([]Message{}, messages...), messages...)
		rng.Shuffle(len(deliveries), func(i, j int) { deliveries[i], deliveries[j] = deliveries[j], deliveries[i] })
		for _, msg := range deliveries {
			conv.Merge(msg)
		}

		got := conv.Messages()
		require.Len(t, got, len(messages))
		seen := map[string]bool{}
		for i, msg := range got {
			assert.False(t, seen[msg.ID], "duplicate id %s", msg.ID)
			seen[msg.ID] = true
			if i > 0 {
				assert.False(t, msg.CreatedAt.Before(got[i-1].CreatedAt), "list not ordered at %d", i)
			}
		}
	}
}

func TestConversationEqualTimestampsKeepArrivalOrder(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	conv := NewConversation("U1")
	conv.Merge(Message{ID: "b", CreatedAt: at})
	conv.Merge(Message{ID: "a", CreatedAt: at}, Message{ID: "early", CreatedAt: at.Add(-time.Second)})
	conv.Merge(Message{ID: "c", CreatedAt: at})

	ids := []string{}
	for _, msg := range conv.Messages() {
		ids = append(ids, msg.ID)
	}
	assert.Equal(t, []string{"early", "b", "a", "c"}, ids)
}

func TestConversationConfirmReplacesPending(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	conv := NewConversation("U2")
	require.True(t, conv.AddPending(Message{LocalID: "local-1", SenderID: "U1", ReceiverID: "U2", Body: "Hello", CreatedAt: at}))
	require.Equal(t, 1, conv.Len())
	assert.True(t, conv.Messages()[0].Pending())

	require.True(t, conv.Confirm("local-1", Message{ID: "m1", SenderID: "U1", ReceiverID: "U2", Body: "Hello", CreatedAt: at}))
	got := conv.Messages()
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].ID)
	assert.Equal(t, "local-1", got[0].LocalID)

	assert.Zero(t, conv.Merge(Message{ID: "m1", SenderID: "U1", ReceiverID: "U2", Body: "Hello", CreatedAt: at}))
	assert.Equal(t, 1, conv.Len())
}

func TestConversationConfirmDropsPendingWhenIDAlreadyArrived(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	conv := NewConversation("U2")
	conv.AddPending(Message{LocalID: "local-1", Body: "Hello", CreatedAt: at})
	conv.Merge(Message{ID: "m1", Body: "Hello", CreatedAt: at})
	require.Equal(t, 2, conv.Len())

	conv.Confirm("local-1", Message{ID: "m1", Body: "Hello", CreatedAt: at})
	got := conv.Messages()
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].ID)
}

func TestConversationDiscardAndUnread(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	conv := NewConversation("U2")
	conv.AddPending(Message{LocalID: "local-1", SenderID: "U1", ReceiverID: "U2", CreatedAt: at})
	conv.Merge(
		Message{ID: "m1", SenderID: "U2", ReceiverID: "U1", CreatedAt: at},
		Message{ID: "m2", SenderID: "U2", ReceiverID: "U1", CreatedAt: at.Add(time.Minute)},
	)

	assert.True(t, conv.Discard("local-1"))
	assert.False(t, conv.Discard("local-1"))
	assert.Equal(t, 2, conv.Unread("U1"))
	assert.Equal(t, 2, conv.MarkReadFrom("U2"))
	assert.Zero(t, conv.Unread("U1"))
}

func TestPurchaseOrderStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from PurchaseOrderStatus
		to   PurchaseOrderStatus
		want bool
	}{
		{from: OrderPending, to: OrderApproved, want: true},
		{from: OrderPending, to: OrderCancelled, want: true},
		{from: OrderApproved, to: OrderReceived, want: true},
		{from: OrderPending, to: OrderReceived, want: false},
		{from: OrderReceived, to: OrderCancelled, want: false},
		{from: OrderCancelled, to: OrderPending, want: false},
	}

	for _, tc := range tests {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			assert.Equal(t, tc.want, tc.from.CanTransitionTo(tc.to))
		})
	}

	_, err := ParsePurchaseOrderStatus("shipped")
	require.Error(t, err)
}

func TestConnectionStateOnlineAndIndex(t *testing.T) {
	t.Parallel()

	assert.True(t, StateConnected.Online())
	assert.False(t, StateReconnecting.Online())
	assert.Equal(t, 0, StateDisconnected.Index())
	assert.Equal(t, 4, StateFailed.Index())
}

func TestFormatCents(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "12.05", FormatCents(1205))
	assert.Equal(t, "-0.50", FormatCents(-50))
	assert.Equal(t, "0.00", FormatCents(0))
}
