package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestQueue_FIFO(t *testing.T) {
	ctx := context.Background()
	q := New(newTestClient(t), "q")

	head, err := q.Peek(ctx)
	require.NoError(t, err)
	assert.Nil(t, head)

	for _, item := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, []byte(item)))
	}
	size, err := q.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)

	var got []string
	for {
		head, err := q.Peek(ctx)
		require.NoError(t, err)
		if head == nil {
			break
		}
		got = append(got, string(head))
		require.NoError(t, q.RemoveHead(ctx, head))
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestQueue_RemoveHead_Mismatch(t *testing.T) {
	ctx := context.Background()
	q := New(newTestClient(t), "q")
	require.NoError(t, q.Enqueue(ctx, []byte("a")))

	assert.ErrorIs(t, q.RemoveHead(ctx, []byte("b")), ErrHeadChanged)
	size, _ := q.Size(ctx)
	assert.Equal(t, int64(1), size)

	empty := New(q.client, "empty")
	assert.ErrorIs(t, empty.RemoveHead(ctx, []byte("a")), ErrHeadChanged)
}

func TestQueue_MoveHeadTo(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	queues := ForWebhook(client, 7)
	assert.Equal(t, "killtracker:webhook:7:main_queue", queues.Main.Key())
	assert.Equal(t, "killtracker:webhook:7:error_queue", queues.Errors.Key())

	require.NoError(t, queues.Main.Enqueue(ctx, []byte("m1")))
	require.NoError(t, queues.Main.Enqueue(ctx, []byte("m2")))

	require.NoError(t, queues.Main.MoveHeadTo(ctx, queues.Errors, []byte("m1")))
	assert.ErrorIs(t, queues.Main.MoveHeadTo(ctx, queues.Errors, []byte("m1")), ErrHeadChanged)

	main, err := queues.Main.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("m2")}, main)
	errs, err := queues.Errors.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("m1")}, errs)
}

func TestQueue_MoveAllTo(t *testing.T) {
	ctx := context.Background()
	queues := ForWebhook(newTestClient(t), 1)
	require.NoError(t, queues.Main.Enqueue(ctx, []byte("pending")))
	for _, item := range []string{"e1", "e2"} {
		require.NoError(t, queues.Errors.Enqueue(ctx, []byte(item)))
	}

	n, err := queues.Errors.MoveAllTo(ctx, queues.Main)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	main, _ := queues.Main.All(ctx)
	assert.Equal(t, [][]byte{[]byte("pending"), []byte("e1"), []byte("e2")}, main)
	size, _ := queues.Errors.Size(ctx)
	assert.Zero(t, size)

	n, err = queues.Errors.MoveAllTo(ctx, queues.Main)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueue_Clear(t *testing.T) {
	ctx := context.Background()
	q := New(newTestClient(t), "q")
	require.NoError(t, q.Enqueue(ctx, []byte("a")))
	require.NoError(t, q.Enqueue(ctx, []byte("b")))

	n, err := q.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	size, _ := q.Size(ctx)
	assert.Zero(t, size)
}

func TestQueue_ConcurrentEnqueue(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	const writers, perWriter = 8, 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			q := New(client, "shared")
			for i := 0; i < perWriter; i++ {
				assert.NoError(t, q.Enqueue(ctx, []byte(fmt.Sprintf("%d-%d", w, i))))
			}
		}(w)
	}
	wg.Wait()

	items, err := New(client, "shared").All(ctx)
	require.NoError(t, err)
	require.Len(t, items, writers*perWriter)

	// per-writer order is kept and nothing is duplicated
	next := make(map[int]int)
	seen := make(map[string]bool)
	for _, item := range items {
		var w, i int
		_, err := fmt.Sscanf(string(item), "%d-%d", &w, &i)
		require.NoError(t, err)
		assert.Equal(t, next[w], i)
		next[w]++
		assert.False(t, seen[string(item)])
		seen[string(item)] = true
	}
}
