package feed

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// esiNamesChunk is the maximum number of ids ESI accepts per names request.
const esiNamesChunk = 1000

// StatusError is returned for non-success upstream responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.URL, e.StatusCode)
}

// ESISolarSystem is the subset of /universe/systems/{id}/ we use.
type ESISolarSystem struct {
	SystemID        int64   `json:"system_id"`
	Name            string  `json:"name"`
	SecurityStatus  float64 `json:"security_status"`
	ConstellationID int64   `json:"constellation_id"`
}

// ESIConstellation is the subset of /universe/constellations/{id}/ we use.
type ESIConstellation struct {
	ConstellationID int64  `json:"constellation_id"`
	Name            string `json:"name"`
	RegionID        int64  `json:"region_id"`
}

// ESIType is the subset of /universe/types/{id}/ we use.
type ESIType struct {
	TypeID  int64  `json:"type_id"`
	Name    string `json:"name"`
	GroupID int64  `json:"group_id"`
}

// ESIName is one element of the /universe/names/ response.
type ESIName struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// ESIStatus is the /status/ response.
type ESIStatus struct {
	Players       int    `json:"players"`
	ServerVersion string `json:"server_version"`
	VIP           bool   `json:"vip"`
}

// ESIClient talks to the EVE Swagger Interface.
type ESIClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewESIClient creates an ESI client rooted at baseURL.
func NewESIClient(baseURL, userAgent string, timeout time.Duration, logger *zap.Logger) *ESIClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(3*time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent)

	return &ESIClient{
		httpClient: client,
		logger:     logger.Named("esi"),
	}
}

func (c *ESIClient) get(ctx context.Context, path string, params map[string]string, result any) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParams(params).
		SetResult(result).
		Get(path)
	if err != nil {
		return fmt.Errorf("failed to call ESI %s: %w", path, err)
	}
	if resp.IsError() {
		return &StatusError{URL: resp.Request.URL, StatusCode: resp.StatusCode()}
	}
	return nil
}

// Killmail fetches the killmail body for id and hash.
func (c *ESIClient) Killmail(ctx context.Context, id int64, hash string) (*ESIKillmail, error) {
	var body ESIKillmail
	err := c.get(ctx, "/killmails/{id}/{hash}/", map[string]string{
		"id":   strconv.FormatInt(id, 10),
		"hash": hash,
	}, &body)
	if err != nil {
		return nil, err
	}
	return &body, nil
}

// IsOnline reports whether ESI serves data. VIP mode counts as offline.
func (c *ESIClient) IsOnline(ctx context.Context) (bool, error) {
	var status ESIStatus
	if err := c.get(ctx, "/status/", nil, &status); err != nil {
		return false, err
	}
	return !status.VIP, nil
}

// SolarSystem fetches one solar system.
func (c *ESIClient) SolarSystem(ctx context.Context, id int64) (*ESISolarSystem, error) {
	var system ESISolarSystem
	if err := c.get(ctx, "/universe/systems/{id}/", map[string]string{"id": strconv.FormatInt(id, 10)}, &system); err != nil {
		return nil, err
	}
	return &system, nil
}

// Constellation fetches one constellation.
func (c *ESIClient) Constellation(ctx context.Context, id int64) (*ESIConstellation, error) {
	var constellation ESIConstellation
	if err := c.get(ctx, "/universe/constellations/{id}/", map[string]string{"id": strconv.FormatInt(id, 10)}, &constellation); err != nil {
		return nil, err
	}
	return &constellation, nil
}

// Type fetches one inventory type.
func (c *ESIClient) Type(ctx context.Context, id int64) (*ESIType, error) {
	var typ ESIType
	if err := c.get(ctx, "/universe/types/{id}/", map[string]string{"id": strconv.FormatInt(id, 10)}, &typ); err != nil {
		return nil, err
	}
	return &typ, nil
}

// Names resolves ids to names, batching large requests.
func (c *ESIClient) Names(ctx context.Context, ids []int64) (map[int64]string, error) {
	names := make(map[int64]string, len(ids))
	for start := 0; start < len(ids); start += esiNamesChunk {
		end := min(start+esiNamesChunk, len(ids))
		var result []ESIName
		resp, err := c.httpClient.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(ids[start:end]).
			SetResult(&result).
			Post("/universe/names/")
		if err != nil {
			return nil, fmt.Errorf("failed to call ESI names: %w", err)
		}
		if resp.IsError() {
			return nil, &StatusError{URL: resp.Request.URL, StatusCode: resp.StatusCode()}
		}
		for _, n := range result {
			names[n.ID] = n.Name
		}
	}
	c.logger.Debug("resolved names", zap.Int("requested", len(ids)), zap.Int("resolved", len(names)))
	return names, nil
}
