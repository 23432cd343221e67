package feed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"killtracker/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// BodyFetcher fetches a killmail body by id and hash.
type BodyFetcher interface {
	Killmail(ctx context.Context, id int64, hash string) (*ESIKillmail, error)
}

// RedisQClient pulls killmails from the zKillboard RedisQ long-poll feed.
type RedisQClient struct {
	httpClient *resty.Client
	url        string
	queueID    string
	ttw        int
	bodies     BodyFetcher
	logger     *zap.Logger
}

// NewRedisQClient creates a feed client. timeout must exceed ttw seconds.
func NewRedisQClient(url, queueID string, ttw int, timeout time.Duration, userAgent string, bodies BodyFetcher, logger *zap.Logger) *RedisQClient {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent)

	return &RedisQClient{
		httpClient: client,
		url:        url,
		queueID:    queueID,
		ttw:        ttw,
		bodies:     bodies,
		logger:     logger.Named("redisq"),
	}
}

// FetchOne issues one poll. It returns nil without error when no package is
// ready.
func (c *RedisQClient) FetchOne(ctx context.Context) (*models.Killmail, error) {
	req := c.httpClient.R().SetContext(ctx)
	if c.queueID != "" {
		req.SetQueryParam("queueID", c.queueID)
	}
	if c.ttw > 0 {
		req.SetQueryParam("ttw", strconv.Itoa(c.ttw))
	}

	var body RedisQResponse
	resp, err := req.SetResult(&body).Get(c.url)
	if err != nil {
		return nil, fmt.Errorf("failed to poll RedisQ: %w", err)
	}
	if resp.IsError() {
		return nil, &StatusError{URL: c.url, StatusCode: resp.StatusCode()}
	}
	if body.Package == nil {
		c.logger.Debug("no killmail package available")
		return nil, nil
	}

	km, err := KillmailFromPackage(body.Package)
	if errors.Is(err, ErrMissingBody) && c.bodies != nil && body.Package.Zkb.Hash != "" {
		esi, err := c.bodies.Killmail(ctx, body.Package.KillID, body.Package.Zkb.Hash)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch body of killmail %d: %w", body.Package.KillID, err)
		}
		if esi.KillmailID == 0 {
			esi.KillmailID = body.Package.KillID
		}
		return KillmailFromBody(body.Package.Zkb, esi)
	}
	if err != nil {
		return nil, err
	}
	if km.SolarSystemID == nil {
		c.logger.Info("killmail without solar system", zap.Int64("killmail_id", km.ID))
	}
	return km, nil
}
