package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"killtracker/internal/cache"
	"killtracker/internal/config"
	"killtracker/internal/models"
	"killtracker/internal/repository"
	"killtracker/internal/tasks"

	"go.uber.org/zap"
)

const (
	taskRunTracker      = "run_tracker"
	taskGenerateMessage = "generate_message"
	taskStoreKillmail   = "store_killmail"
	taskDeleteStale     = "delete_stale_killmails"

	keyESIOnline  = "killtracker:esi_online"
	keyStaleSweep = "killtracker:stale_sweep"
)

func dedupKey(id int64) string { return fmt.Sprintf("killtracker:killmail:%d:seen", id) }

// Feed yields the next killmail, or nil when none is available.
type Feed interface {
	FetchOne(ctx context.Context) (*models.Killmail, error)
}

// KillmailFetcher loads one killmail by id.
type KillmailFetcher interface {
	FetchKillmail(ctx context.Context, id int64) (*models.Killmail, error)
}

// HealthChecker reports whether the game API is reachable.
type HealthChecker interface {
	IsOnline(ctx context.Context) (bool, error)
}

type TrackerStore interface {
	GetTracker(ctx context.Context, id int64) (*models.Tracker, error)
	ListEnabled(ctx context.Context) ([]*models.Tracker, error)
}

type WebhookLister interface {
	ListEnabled(ctx context.Context) ([]*models.Webhook, error)
}

type KillmailStore interface {
	Store(ctx context.Context, km *models.Killmail) (bool, error)
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

// Catalog fills the static universe data needed to evaluate a killmail.
type Catalog interface {
	EnsureSolarSystems(ctx context.Context, ids ...int64) error
	EnsureShipTypes(ctx context.Context, ids ...int64) error
}

type Matcher interface {
	Match(t *models.Tracker, km *models.Killmail) (*models.Killmail, bool)
}

type MessageComposer interface {
	ComposeWithRetry(ctx context.Context, t *models.Tracker, km *models.Killmail) (*models.Message, error)
}

// Delivery is the webhook queue side of the service.
type Delivery interface {
	Enqueue(ctx context.Context, webhookID int64, msg *models.Message) error
	RequestDrain(webhookID int64)
	QueueSize(ctx context.Context, webhookID int64) (int64, error)
	ResetFailedMessages(ctx context.Context, webhookID int64) (int, error)
}

// Deps are the collaborators of Killtracker.
type Deps struct {
	Feed       Feed
	Lookup     KillmailFetcher
	Health     HealthChecker
	KV         cache.KVStore
	Trackers   TrackerStore
	Webhooks   WebhookLister
	Killmails  KillmailStore
	Catalog    Catalog
	Matcher    Matcher
	Composer   MessageComposer
	Delivery   Delivery
	Dispatcher tasks.Dispatcher
}

// CycleStats summarizes one cycle.
type CycleStats struct {
	Skipped    bool
	Fetched    int
	Duplicates int
	Dispatched int
	Requeued   int
}

// Killtracker pulls killmails from the feed and fans them out to trackers.
type Killtracker struct {
	cfg  *config.Config
	deps Deps
	now  func() time.Time

	logger *zap.Logger
}

func NewKilltracker(cfg *config.Config, deps Deps, logger *zap.Logger) *Killtracker {
	return &Killtracker{
		cfg:    cfg,
		deps:   deps,
		now:    time.Now,
		logger: logger.Named("killtracker"),
	}
}

// RunCycle runs one pass: health check, requeue failed messages, then pull
// killmails until the feed is empty or the per-run budget is used.
func (k *Killtracker) RunCycle(ctx context.Context) (*CycleStats, error) {
	stats := &CycleStats{}

	if !k.isOnline(ctx) {
		k.logger.Info("ESI is offline, skipping cycle")
		stats.Skipped = true
		cyclesTotal.WithLabelValues("skipped").Inc()
		return stats, nil
	}

	if err := k.run(ctx, stats); err != nil {
		cyclesTotal.WithLabelValues("error").Inc()
		return stats, err
	}
	cyclesTotal.WithLabelValues("ok").Inc()

	k.logger.Info("cycle finished",
		zap.Int("fetched", stats.Fetched),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("dispatched", stats.Dispatched),
		zap.Int("requeued", stats.Requeued),
	)
	return stats, nil
}

func (k *Killtracker) run(ctx context.Context, stats *CycleStats) error {
	webhooks, err := k.deps.Webhooks.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("failed to list webhooks: %w", err)
	}
	for _, w := range webhooks {
		n, err := k.deps.Delivery.ResetFailedMessages(ctx, w.ID)
		if err != nil {
			return fmt.Errorf("failed to reset failed messages of %s: %w", w, err)
		}
		if n > 0 {
			stats.Requeued += n
			k.deps.Delivery.RequestDrain(w.ID)
		}
	}

	trackers, err := k.deps.Trackers.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("failed to list trackers: %w", err)
	}

	deadline := k.now().Add(k.cfg.Tracker.MaxDurationPerRun)
	for stats.Fetched < k.cfg.Tracker.MaxKillmailsPerRun && k.now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		km, err := k.deps.Feed.FetchOne(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch killmail: %w", err)
		}
		if km == nil {
			break
		}
		stats.Fetched++

		fresh, err := cache.MarkOnce(ctx, k.deps.KV, dedupKey(km.ID), k.cfg.Tracker.DedupTTL)
		if err != nil {
			return fmt.Errorf("failed to mark %s: %w", km, err)
		}
		if !fresh {
			stats.Duplicates++
			killmailsTotal.WithLabelValues("duplicate").Inc()
			k.logger.Debug("skipping duplicate killmail", zap.Int64("killmail_id", km.ID))
			continue
		}
		killmailsTotal.WithLabelValues("new").Inc()

		n, err := k.dispatchKillmail(ctx, km, trackers)
		if err != nil {
			return err
		}
		stats.Dispatched += n
	}

	if k.cfg.Storage.Enabled {
		if err := k.scheduleSweep(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ProcessKillmail loads killmail id by lookup and runs it through all
// enabled trackers, bypassing deduplication.
func (k *Killtracker) ProcessKillmail(ctx context.Context, id int64) (int, error) {
	km, err := k.deps.Lookup.FetchKillmail(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch killmail %d: %w", id, err)
	}
	if km == nil {
		return 0, fmt.Errorf("killmail %d: %w", id, repository.ErrNotFound)
	}
	trackers, err := k.deps.Trackers.ListEnabled(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list trackers: %w", err)
	}
	return k.dispatchKillmail(ctx, km, trackers)
}

func (k *Killtracker) dispatchKillmail(ctx context.Context, km *models.Killmail, trackers []*models.Tracker) (int, error) {
	if km.SolarSystemID != nil {
		if err := k.deps.Catalog.EnsureSolarSystems(ctx, *km.SolarSystemID); err != nil {
			k.logger.Warn("failed to load solar system", zap.Int64("killmail_id", km.ID), zap.Error(err))
		}
	}
	shipTypes := make([]int64, 0)
	for id := range km.ShipTypeIDs() {
		shipTypes = append(shipTypes, id)
	}
	if err := k.deps.Catalog.EnsureShipTypes(ctx, shipTypes...); err != nil {
		k.logger.Warn("failed to load ship types", zap.Int64("killmail_id", km.ID), zap.Error(err))
	}

	data, err := km.AsJSON()
	if err != nil {
		return 0, fmt.Errorf("failed to serialize %s: %w", km, err)
	}

	dispatched := 0
	for _, t := range trackers {
		trackerID := t.ID
		k.deps.Dispatcher.Dispatch(tasks.TrackerKey(trackerID), taskRunTracker, func(ctx context.Context) error {
			return k.RunTracker(ctx, trackerID, data)
		})
		dispatched++
	}
	if k.cfg.Storage.Enabled {
		k.deps.Dispatcher.Dispatch(tasks.KillmailKey(km.ID), taskStoreKillmail, func(ctx context.Context) error {
			return k.StoreKillmail(ctx, data)
		})
		dispatched++
	}
	return dispatched, nil
}

// RunTracker evaluates one killmail against one tracker.
func (k *Killtracker) RunTracker(ctx context.Context, trackerID int64, killmailJSON []byte) error {
	tracker, err := k.getTracker(ctx, trackerID)
	if err != nil || tracker == nil {
		return err
	}
	km, err := models.KillmailFromJSON(killmailJSON)
	if err != nil {
		return fmt.Errorf("failed to read killmail: %w", err)
	}

	matched, ok := k.deps.Matcher.Match(tracker, km)
	if ok {
		matchesTotal.Inc()
		k.logger.Info("killmail matched tracker",
			zap.Int64("killmail_id", km.ID),
			zap.Int64("tracker_id", tracker.ID),
			zap.String("tracker", tracker.Name),
		)
		data, err := matched.AsJSON()
		if err != nil {
			return fmt.Errorf("failed to serialize %s: %w", matched, err)
		}
		// composition may back off between retries, so it runs off the lanes
		k.deps.Dispatcher.Go(taskGenerateMessage, func(ctx context.Context) error {
			return k.GenerateMessage(ctx, trackerID, data)
		})
		return nil
	}

	// keep messages moving for quiet trackers
	size, err := k.deps.Delivery.QueueSize(ctx, tracker.WebhookID)
	if err != nil {
		return err
	}
	if size > 0 {
		k.deps.Delivery.RequestDrain(tracker.WebhookID)
	}
	return nil
}

// GenerateMessage composes the message for a matched killmail, queues it
// and requests a drain of the tracker's webhook.
func (k *Killtracker) GenerateMessage(ctx context.Context, trackerID int64, killmailJSON []byte) error {
	tracker, err := k.getTracker(ctx, trackerID)
	if err != nil || tracker == nil {
		return err
	}
	km, err := models.KillmailFromJSON(killmailJSON)
	if err != nil {
		return fmt.Errorf("failed to read killmail: %w", err)
	}

	msg, err := k.deps.Composer.ComposeWithRetry(ctx, tracker, km)
	if err != nil {
		compositionFailuresTotal.Inc()
		return fmt.Errorf("tracker %d: %w", trackerID, err)
	}
	if err := k.deps.Delivery.Enqueue(ctx, tracker.WebhookID, msg); err != nil {
		return fmt.Errorf("failed to enqueue message for %s: %w", km, err)
	}
	k.deps.Delivery.RequestDrain(tracker.WebhookID)
	return nil
}

// StoreKillmail persists a killmail. Storing the same id twice is logged
// and otherwise ignored.
func (k *Killtracker) StoreKillmail(ctx context.Context, killmailJSON []byte) error {
	km, err := models.KillmailFromJSON(killmailJSON)
	if err != nil {
		return fmt.Errorf("failed to read killmail: %w", err)
	}
	created, err := k.deps.Killmails.Store(ctx, km)
	if err != nil {
		return err
	}
	if !created {
		k.logger.Warn("killmail already stored", zap.Int64("killmail_id", km.ID))
	}
	return nil
}

// DeleteStaleKillmails removes stored killmails older than the configured
// retention and returns how many were deleted.
func (k *Killtracker) DeleteStaleKillmails(ctx context.Context) (int64, error) {
	before := k.now().AddDate(0, 0, -k.cfg.Storage.PurgeAfterDays)
	n, err := k.deps.Killmails.DeleteStale(ctx, before)
	if err != nil {
		return 0, err
	}
	k.logger.Info("stale killmails deleted", zap.Int64("count", n), zap.Time("before", before))
	return n, nil
}

func (k *Killtracker) scheduleSweep(ctx context.Context) error {
	due, err := k.deps.KV.SetNX(ctx, keyStaleSweep, "1", k.cfg.Storage.SweepInterval)
	if err != nil {
		return fmt.Errorf("failed to check sweep flag: %w", err)
	}
	if due {
		k.deps.Dispatcher.Dispatch(taskDeleteStale, taskDeleteStale, func(ctx context.Context) error {
			_, err := k.DeleteStaleKillmails(ctx)
			return err
		})
	}
	return nil
}

// isOnline checks ESI health, caching the answer. Check failures count as
// offline and are not cached.
func (k *Killtracker) isOnline(ctx context.Context) bool {
	cached, err := k.deps.KV.Get(ctx, keyESIOnline)
	if err == nil {
		return cached == "1"
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		k.logger.Warn("failed to read health cache", zap.Error(err))
	}

	online, err := k.deps.Health.IsOnline(ctx)
	if err != nil {
		k.logger.Warn("ESI health check failed", zap.Error(err))
		return false
	}
	value := "0"
	if online {
		value = "1"
	}
	if err := k.deps.KV.Set(ctx, keyESIOnline, value, k.cfg.ESI.HealthCacheTTL); err != nil {
		k.logger.Warn("failed to cache ESI health", zap.Error(err))
	}
	return online
}

// getTracker returns nil without error when the tracker is gone or disabled.
func (k *Killtracker) getTracker(ctx context.Context, id int64) (*models.Tracker, error) {
	tracker, err := k.deps.Trackers.GetTracker(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		k.logger.Info("tracker no longer exists", zap.Int64("tracker_id", id))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !tracker.IsEnabled {
		k.logger.Info("tracker is disabled", zap.Int64("tracker_id", id))
		return nil, nil
	}
	return tracker, nil
}
