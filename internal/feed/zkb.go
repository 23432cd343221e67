package feed

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"killtracker/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ZkbClient queries the zKillboard API.
type ZkbClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewZkbClient creates a client for the zKillboard API rooted at baseURL.
func NewZkbClient(baseURL, userAgent string, timeout time.Duration, logger *zap.Logger) *ZkbClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(1*time.Second).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent)

	return &ZkbClient{httpClient: client, logger: logger.Named("zkb")}
}

// Lookup returns the valuation entry of a killmail, or nil when unknown.
func (c *ZkbClient) Lookup(ctx context.Context, id int64) (*ZkbLookupEntry, error) {
	var entries []ZkbLookupEntry
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		SetResult(&entries).
		Get("/killID/{id}/")
	if err != nil {
		return nil, fmt.Errorf("failed to look up killmail %d: %w", id, err)
	}
	if resp.IsError() {
		return nil, &StatusError{URL: resp.Request.URL, StatusCode: resp.StatusCode()}
	}
	for i := range entries {
		if entries[i].KillmailID == id {
			return &entries[i], nil
		}
	}
	return nil, nil
}

// LookupFetcher builds killmails by id from the zKillboard API and ESI.
type LookupFetcher struct {
	zkb    *ZkbClient
	bodies BodyFetcher
	logger *zap.Logger
}

func NewLookupFetcher(zkb *ZkbClient, bodies BodyFetcher, logger *zap.Logger) *LookupFetcher {
	return &LookupFetcher{zkb: zkb, bodies: bodies, logger: logger}
}

// FetchKillmail returns the killmail with id, or nil when zKillboard does
// not know it.
func (f *LookupFetcher) FetchKillmail(ctx context.Context, id int64) (*models.Killmail, error) {
	entry, err := f.zkb.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		f.logger.Info("killmail not found on zKillboard", zap.Int64("killmail_id", id))
		return nil, nil
	}
	body, err := f.bodies.Killmail(ctx, id, entry.Zkb.Hash)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch body of killmail %d: %w", id, err)
	}
	return KillmailFromLookup(entry, body)
}
