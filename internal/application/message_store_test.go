package application

import (
	"sync"
	"testing"
	"time"

	"github.com/bnema/possync/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestMessageStoreConcurrentMergesStayUnique(t *testing.T) {
	t.Parallel()

	store := NewMessageStore()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	messages := make([]domain.Message, 50)
	for i := range messages {
		messages[i] = domain.Message{ID: string(rune('A' + i)), SenderID: "U2", ReceiverID: "U1", CreatedAt: base.Add(time.Duration(i%7) * time.Second)}
	}

	var wg sync.WaitGroup
	for transport := 0; transport < 2; transport++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, msg := range messages {
				store.Merge("U2", msg)
			}
		}()
	}
	wg.Wait()

	got := store.Messages("U2")
	assert.Len(t, got, len(messages))
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].CreatedAt.Before(got[i-1].CreatedAt))
	}
	assert.Equal(t, []string{"U2"}, store.Peers())
	assert.Nil(t, store.Messages("U9"))
	assert.Equal(t, []string{"U2"}, store.Peers(), "reads do not create conversations")
}
