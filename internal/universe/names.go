package universe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"killtracker/internal/feed"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrNamesUnavailable means names cannot be resolved at all and callers
// should fall back to ids.
var ErrNamesUnavailable = errors.New("name resolution unavailable")

// NameSource resolves ids to names upstream.
type NameSource interface {
	Names(ctx context.Context, ids []int64) (map[int64]string, error)
}

// NameCache resolves names through a Redis hash in front of NameSource.
type NameCache struct {
	client *redis.Client
	source NameSource
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

func NewNameCache(client *redis.Client, source NameSource, ttl time.Duration, logger *zap.Logger) *NameCache {
	return &NameCache{
		client: client,
		source: source,
		key:    "killtracker:names",
		ttl:    ttl,
		logger: logger.Named("names"),
	}
}

// ResolveNames returns the names known for ids. Ids unknown upstream are
// left out of the result.
func (n *NameCache) ResolveNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	names := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	fields := make([]string, len(ids))
	for i, id := range ids {
		fields[i] = strconv.FormatInt(id, 10)
	}
	cached, err := n.client.HMGet(ctx, n.key, fields...).Result()
	if err != nil {
		n.logger.Warn("failed to read name cache", zap.Error(err))
		cached = make([]any, len(ids))
	}

	var missing []int64
	for i, v := range cached {
		if s, ok := v.(string); ok {
			names[ids[i]] = s
		} else {
			missing = append(missing, ids[i])
		}
	}
	if len(missing) == 0 {
		return names, nil
	}
	if n.source == nil {
		return names, ErrNamesUnavailable
	}

	fetched, err := n.source.Names(ctx, missing)
	if err != nil {
		var statusErr *feed.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return names, fmt.Errorf("%w: %v", ErrNamesUnavailable, err)
		}
		return nil, err
	}
	if len(fetched) == 0 {
		return names, nil
	}

	values := make(map[string]any, len(fetched))
	for id, name := range fetched {
		names[id] = name
		values[strconv.FormatInt(id, 10)] = name
	}
	pipe := n.client.TxPipeline()
	pipe.HSet(ctx, n.key, values)
	if n.ttl > 0 {
		pipe.Expire(ctx, n.key, n.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		n.logger.Warn("failed to write name cache", zap.Error(err))
	}
	return names, nil
}
