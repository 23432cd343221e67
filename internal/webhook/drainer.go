package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"killtracker/internal/cache"
	"killtracker/internal/models"
	"killtracker/internal/queue"
	"killtracker/internal/repository"
	"killtracker/internal/tasks"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrWebhookNotFound is returned when the webhook id is unknown.
var ErrWebhookNotFound = errors.New("webhook not found")

const (
	taskDrain = "drain_webhook"

	// lockMargin keeps the draining lock alive past the scheduled wait.
	lockMargin = time.Minute
	// releaseTimeout bounds lock release during shutdown.
	releaseTimeout = 5 * time.Second
	// rateLimitMargin is added to a retry-after before the next attempt.
	rateLimitMargin = 500 * time.Millisecond
)

// WebhookStore loads webhooks.
type WebhookStore interface {
	GetWebhook(ctx context.Context, id int64) (*models.Webhook, error)
}

// QueueStats describes the delivery state of one webhook.
type QueueStats struct {
	WebhookID      int64   `json:"webhook_id"`
	MainSize       int64   `json:"main_queue_size"`
	ErrorSize      int64   `json:"error_queue_size"`
	IsRateLimited  bool    `json:"is_rate_limited"`
	BlockedSeconds float64 `json:"blocked_seconds"`
	IsDraining     bool    `json:"is_draining"`
}

// Drainer sends the queued messages of a webhook one at a time.
//
// A drain holds a per-webhook lock in Redis from its first step until the
// queue is empty, so concurrent drain requests for the same webhook are
// no-ops. Waits between steps are rescheduled tasks, never sleeps.
type Drainer struct {
	client     *redis.Client
	kv         cache.KVStore
	webhooks   WebhookStore
	transport  Transport
	dispatcher tasks.Dispatcher
	sendDelay  time.Duration
	username   string
	avatarURL  string
	logger     *zap.Logger
}

func NewDrainer(
	client *redis.Client,
	kv cache.KVStore,
	webhooks WebhookStore,
	transport Transport,
	dispatcher tasks.Dispatcher,
	sendDelay time.Duration,
	username, avatarURL string,
	logger *zap.Logger,
) *Drainer {
	return &Drainer{
		client:     client,
		kv:         kv,
		webhooks:   webhooks,
		transport:  transport,
		dispatcher: dispatcher,
		sendDelay:  sendDelay,
		username:   username,
		avatarURL:  avatarURL,
		logger:     logger.Named("webhook"),
	}
}

func blockedKey(id int64) string  { return fmt.Sprintf("killtracker:webhook:%d:blocked", id) }
func drainingKey(id int64) string { return fmt.Sprintf("killtracker:webhook:%d:draining", id) }

// Enqueue appends msg to the main queue of webhook id.
func (d *Drainer) Enqueue(ctx context.Context, id int64, msg *models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}
	if err := queue.ForWebhook(d.client, id).Main.Enqueue(ctx, data); err != nil {
		return err
	}
	enqueuedTotal.Inc()
	return nil
}

// QueueSize returns the number of messages waiting for webhook id.
func (d *Drainer) QueueSize(ctx context.Context, id int64) (int64, error) {
	return queue.ForWebhook(d.client, id).Main.Size(ctx)
}

// RequestDrain dispatches a drain of webhook id.
func (d *Drainer) RequestDrain(id int64) {
	d.dispatcher.Dispatch(tasks.WebhookKey(id), taskDrain, func(ctx context.Context) error {
		return d.Drain(ctx, id)
	})
}

// Drain starts sending the main queue of webhook id. It does nothing while
// the webhook is rate limited or another drain is in progress.
func (d *Drainer) Drain(ctx context.Context, id int64) error {
	logger := d.logger.With(zap.Int64("webhook_id", id))

	blocked, err := d.kv.TTL(ctx, blockedKey(id))
	switch {
	case err == nil:
		logger.Info("webhook is rate limited, drain skipped", zap.Duration("blocked_for", blocked))
		return nil
	case !errors.Is(err, cache.ErrCacheMiss):
		return fmt.Errorf("failed to read blocked flag: %w", err)
	}

	lock, ok, err := cache.TryLock(ctx, d.kv, drainingKey(id), d.sendDelay+lockMargin)
	if err != nil {
		return fmt.Errorf("failed to acquire drain lock: %w", err)
	}
	if !ok {
		logger.Debug("webhook is already draining")
		return nil
	}
	return d.step(ctx, id, lock)
}

// step sends the head message and schedules the next step.
func (d *Drainer) step(ctx context.Context, id int64, lock *cache.Lock) error {
	logger := d.logger.With(zap.Int64("webhook_id", id))

	w, err := d.webhooks.GetWebhook(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Info("webhook not found, drain stopped")
		return d.release(ctx, lock)
	}
	if err != nil {
		_ = d.release(ctx, lock)
		return fmt.Errorf("failed to load webhook %d: %w", id, err)
	}
	if !w.IsEnabled {
		logger.Info("webhook is disabled, drain stopped")
		return d.release(ctx, lock)
	}

	queues := queue.ForWebhook(d.client, id)
	head, err := queues.Main.Peek(ctx)
	if err != nil {
		_ = d.release(ctx, lock)
		return err
	}
	if head == nil {
		logger.Info("queue is empty")
		return d.finish(ctx, id, lock)
	}

	wait, limited, err := d.deliver(ctx, w, queues, head)
	if err != nil {
		_ = d.release(ctx, lock)
		return err
	}
	if !limited {
		size, err := queues.Main.Size(ctx)
		if err != nil {
			_ = d.release(ctx, lock)
			return err
		}
		if size == 0 {
			return d.finish(ctx, id, lock)
		}
	}

	ok, err := lock.Refresh(ctx, wait+lockMargin)
	if err != nil {
		return fmt.Errorf("failed to refresh drain lock: %w", err)
	}
	if !ok {
		logger.Warn("drain lock lost, stopping")
		return nil
	}
	d.dispatcher.DispatchAfter(wait, tasks.WebhookKey(id), taskDrain, func(ctx context.Context) error {
		return d.step(ctx, id, lock)
	})
	return nil
}

// deliver sends head and updates the queues. It returns how long to wait
// before the next step and whether the endpoint rate limited us.
func (d *Drainer) deliver(ctx context.Context, w *models.Webhook, queues queue.WebhookQueues, head []byte) (time.Duration, bool, error) {
	logger := d.logger.With(zap.Int64("webhook_id", w.ID))

	var msg models.Message
	if err := json.Unmarshal(head, &msg); err != nil {
		logger.Warn("unreadable message moved to error queue", zap.Error(err))
		if err := queues.Main.MoveHeadTo(ctx, queues.Errors, head); err != nil && !errors.Is(err, queue.ErrHeadChanged) {
			return 0, false, err
		}
		messagesTotal.WithLabelValues("invalid").Inc()
		return 0, false, nil
	}

	err := d.transport.Send(ctx, w.URL, &msg)
	if err != nil && ctx.Err() != nil {
		// shutting down: the head stays queued for the next run
		return 0, false, ctx.Err()
	}

	var limited *RateLimitedError
	switch {
	case err == nil:
		if err := queues.Main.RemoveHead(ctx, head); err != nil {
			if !errors.Is(err, queue.ErrHeadChanged) {
				return 0, false, err
			}
			logger.Warn("queue head changed while sending", zap.String("message_id", msg.ID))
		}
		messagesTotal.WithLabelValues("sent").Inc()
		logger.Debug("message sent", zap.String("message_id", msg.ID))
		return d.sendDelay, false, nil

	case errors.As(err, &limited):
		if err := d.kv.Set(ctx, blockedKey(w.ID), "1", limited.RetryAfter); err != nil {
			return 0, false, fmt.Errorf("failed to set blocked flag: %w", err)
		}
		messagesTotal.WithLabelValues("rate_limited").Inc()
		logger.Info("webhook rate limited", zap.Duration("retry_after", limited.RetryAfter))
		return limited.RetryAfter + rateLimitMargin, true, nil

	default:
		if err := queues.Main.MoveHeadTo(ctx, queues.Errors, head); err != nil && !errors.Is(err, queue.ErrHeadChanged) {
			return 0, false, err
		}
		messagesTotal.WithLabelValues("failed").Inc()
		logger.Warn("failed to send message, moved to error queue",
			zap.String("webhook", w.Name),
			zap.String("url", RedactURL(w.URL)),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return d.sendDelay, false, nil
	}
}

// finish releases the lock and starts a new drain when messages arrived
// after the queue was seen empty.
func (d *Drainer) finish(ctx context.Context, id int64, lock *cache.Lock) error {
	if err := d.release(ctx, lock); err != nil {
		return err
	}
	size, err := queue.ForWebhook(d.client, id).Main.Size(ctx)
	if err != nil {
		return err
	}
	if size > 0 {
		d.RequestDrain(id)
	}
	return nil
}

// release frees the lock even when ctx is already cancelled.
func (d *Drainer) release(ctx context.Context, lock *cache.Lock) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := lock.Release(ctx); err != nil {
		return fmt.Errorf("failed to release drain lock: %w", err)
	}
	return nil
}

// SendTestMessage sends a message straight to webhook id, bypassing the queue.
func (d *Drainer) SendTestMessage(ctx context.Context, id int64) error {
	w, err := d.getWebhook(ctx, id)
	if err != nil {
		return err
	}
	msg := models.NewMessage(fmt.Sprintf("Test message from killtracker for webhook **%s**.", w.Name))
	msg.Username = d.username
	msg.AvatarURL = d.avatarURL
	if err := d.transport.Send(ctx, w.URL, msg); err != nil {
		return fmt.Errorf("failed to send test message to %s: %w", w, err)
	}
	d.logger.Info("test message sent", zap.Int64("webhook_id", id))
	return nil
}

// ResetFailedMessages moves every failed message of webhook id back into
// the main queue and returns how many were moved.
func (d *Drainer) ResetFailedMessages(ctx context.Context, id int64) (int, error) {
	queues := queue.ForWebhook(d.client, id)
	n, err := queues.Errors.MoveAllTo(ctx, queues.Main)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		d.logger.Info("failed messages requeued", zap.Int64("webhook_id", id), zap.Int("count", n))
	}
	return n, nil
}

// FailedMessages returns the error queue of webhook id, oldest first.
// Unreadable items are skipped.
func (d *Drainer) FailedMessages(ctx context.Context, id int64) ([]*models.Message, error) {
	items, err := queue.ForWebhook(d.client, id).Errors.All(ctx)
	if err != nil {
		return nil, err
	}
	messages := make([]*models.Message, 0, len(items))
	for _, item := range items {
		var msg models.Message
		if err := json.Unmarshal(item, &msg); err != nil {
			d.logger.Warn("skipping unreadable failed message", zap.Int64("webhook_id", id), zap.Error(err))
			continue
		}
		messages = append(messages, &msg)
	}
	return messages, nil
}

// Stats reports queue sizes and flags of webhook id.
func (d *Drainer) Stats(ctx context.Context, id int64) (*QueueStats, error) {
	if _, err := d.getWebhook(ctx, id); err != nil {
		return nil, err
	}
	queues := queue.ForWebhook(d.client, id)
	stats := &QueueStats{WebhookID: id}

	var err error
	if stats.MainSize, err = queues.Main.Size(ctx); err != nil {
		return nil, err
	}
	if stats.ErrorSize, err = queues.Errors.Size(ctx); err != nil {
		return nil, err
	}

	blocked, err := d.kv.TTL(ctx, blockedKey(id))
	switch {
	case err == nil:
		stats.IsRateLimited = true
		stats.BlockedSeconds = blocked.Seconds()
	case !errors.Is(err, cache.ErrCacheMiss):
		return nil, err
	}

	_, err = d.kv.Get(ctx, drainingKey(id))
	switch {
	case err == nil:
		stats.IsDraining = true
	case !errors.Is(err, cache.ErrCacheMiss):
		return nil, err
	}
	return stats, nil
}

func (d *Drainer) getWebhook(ctx context.Context, id int64) (*models.Webhook, error) {
	w, err := d.webhooks.GetWebhook(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("webhook %d: %w", id, ErrWebhookNotFound)
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}
