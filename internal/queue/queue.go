package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// ErrHeadChanged is returned when the head no longer holds the expected item.
var ErrHeadChanged = errors.New("queue head changed")

// removeHeadScript pops the head only if it still equals ARGV[1].
var removeHeadScript = redis.NewScript(`
local head = redis.call("LINDEX", KEYS[1], 0)
if head == false or head ~= ARGV[1] then
	return 0
end
redis.call("LPOP", KEYS[1])
return 1
`)

// moveHeadScript moves the head of KEYS[1] to the tail of KEYS[2] only if
// it still equals ARGV[1].
var moveHeadScript = redis.NewScript(`
local head = redis.call("LINDEX", KEYS[1], 0)
if head == false or head ~= ARGV[1] then
	return 0
end
redis.call("LPOP", KEYS[1])
redis.call("RPUSH", KEYS[2], head)
return 1
`)

// moveAllScript appends every item of KEYS[1] to KEYS[2] in order.
var moveAllScript = redis.NewScript(`
local n = 0
while true do
	local item = redis.call("LPOP", KEYS[1])
	if not item then
		return n
	end
	redis.call("RPUSH", KEYS[2], item)
	n = n + 1
end
`)

// Queue is a durable FIFO of opaque items stored in one Redis list.
// Every operation is a single atomic command or script, so concurrent
// producers and consumers need no further locking.
type Queue struct {
	client *redis.Client
	key    string
}

func New(client *redis.Client, key string) *Queue {
	return &Queue{client: client, key: key}
}

// Key returns the Redis key backing the queue.
func (q *Queue) Key() string {
	return q.key
}

// Enqueue appends item at the tail.
func (q *Queue) Enqueue(ctx context.Context, item []byte) error {
	if err := q.client.RPush(ctx, q.key, item).Err(); err != nil {
		return fmt.Errorf("failed to enqueue to %s: %w", q.key, err)
	}
	return nil
}

// Peek returns the head without removing it, or nil when the queue is empty.
func (q *Queue) Peek(ctx context.Context) ([]byte, error) {
	item, err := q.client.LIndex(ctx, q.key, 0).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to peek %s: %w", q.key, err)
	}
	return item, nil
}

// RemoveHead drops the head if it still equals expected.
func (q *Queue) RemoveHead(ctx context.Context, expected []byte) error {
	n, err := removeHeadScript.Run(ctx, q.client, []string{q.key}, expected).Int()
	if err != nil {
		return fmt.Errorf("failed to remove head of %s: %w", q.key, err)
	}
	if n == 0 {
		return ErrHeadChanged
	}
	return nil
}

// MoveHeadTo moves the head to the tail of dst if it still equals expected.
func (q *Queue) MoveHeadTo(ctx context.Context, dst *Queue, expected []byte) error {
	n, err := moveHeadScript.Run(ctx, q.client, []string{q.key, dst.key}, expected).Int()
	if err != nil {
		return fmt.Errorf("failed to move head of %s to %s: %w", q.key, dst.key, err)
	}
	if n == 0 {
		return ErrHeadChanged
	}
	return nil
}

// MoveAllTo appends every item to dst, keeping order, and returns the count.
func (q *Queue) MoveAllTo(ctx context.Context, dst *Queue) (int, error) {
	n, err := moveAllScript.Run(ctx, q.client, []string{q.key, dst.key}).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to move %s to %s: %w", q.key, dst.key, err)
	}
	return n, nil
}

// Size returns the number of queued items.
func (q *Queue) Size(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get size of %s: %w", q.key, err)
	}
	return n, nil
}

// Clear removes all items and returns how many were dropped.
func (q *Queue) Clear(ctx context.Context) (int64, error) {
	pipe := q.client.TxPipeline()
	size := pipe.LLen(ctx, q.key)
	pipe.Del(ctx, q.key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to clear %s: %w", q.key, err)
	}
	return size.Val(), nil
}

// All returns every item, head first.
func (q *Queue) All(ctx context.Context) ([][]byte, error) {
	items, err := q.client.LRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", q.key, err)
	}
	out := make([][]byte, len(items))
	for i, item := range items {
		out[i] = []byte(item)
	}
	return out, nil
}

// WebhookQueues are the two queues of one webhook.
type WebhookQueues struct {
	Main   *Queue
	Errors *Queue
}

// ForWebhook returns the queues of webhook id.
func ForWebhook(client *redis.Client, id int64) WebhookQueues {
	return WebhookQueues{
		Main:   New(client, fmt.Sprintf("killtracker:webhook:%d:main_queue", id)),
		Errors: New(client, fmt.Sprintf("killtracker:webhook:%d:error_queue", id)),
	}
}
