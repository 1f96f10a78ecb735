package notify

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDrain(t *testing.T) {
	q := NewQueue(2)
	q.Notify(LevelInfo, "one")
	q.Notify(LevelWarning, "two")
	q.Notify(LevelError, "three")

	assert.Equal(t, 2, q.Len())
	items := q.Drain()
	require.Len(t, items, 2)
	assert.Equal(t, "two", items[0].Message)
	assert.Equal(t, LevelError, items[1].Level)
	assert.False(t, items[1].At.IsZero())

	assert.Empty(t, q.Drain())
}

func TestQueueConcurrentNotify(t *testing.T) {
	q := NewQueue(100)
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Notify(LevelInfo, "x")
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, q.Len())
}

func TestFromContext(t *testing.T) {
	q := NewQueue(0)
	assert.Equal(t, Discard, FromContext(context.Background(), Discard))

	ctx := WithNotifier(context.Background(), q)
	FromContext(ctx, Discard).Notify(LevelSuccess, "saved")
	assert.Equal(t, 1, q.Len())
}
