package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"killtracker/internal/models"

	"github.com/go-resty/resty/v2"
)

// defaultRetryAfter is used when a 429 carries no usable wait hint.
const defaultRetryAfter = 5 * time.Second

// Transport delivers one message to a webhook URL.
type Transport interface {
	Send(ctx context.Context, webhookURL string, msg *models.Message) error
}

// RateLimitedError is returned when the endpoint answered 429.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// SendError is returned for any other non-success response.
type SendError struct {
	StatusCode int
	Body       string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("webhook returned status %d: %s", e.StatusCode, e.Body)
}

// DiscordTransport posts messages to Discord webhooks.
type DiscordTransport struct {
	httpClient *resty.Client
}

func NewDiscordTransport(timeout time.Duration, userAgent string) *DiscordTransport {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", userAgent)
	return &DiscordTransport{httpClient: client}
}

// Send executes the webhook. Errors never carry the webhook token.
func (t *DiscordTransport) Send(ctx context.Context, webhookURL string, msg *models.Message) error {
	resp, err := t.httpClient.R().
		SetContext(ctx).
		SetQueryParam("wait", "true").
		SetBody(msg.WebhookParams()).
		Post(webhookURL)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = RedactURL(urlErr.URL)
		}
		return fmt.Errorf("failed to post to %s: %w", RedactURL(webhookURL), err)
	}

	switch {
	case resp.IsSuccess():
		return nil
	case resp.StatusCode() == http.StatusTooManyRequests:
		return &RateLimitedError{RetryAfter: parseRetryAfter(resp.Body(), resp.Header().Get("Retry-After"))}
	default:
		body := strings.TrimSpace(string(resp.Body()))
		if len(body) > 512 {
			body = body[:512]
		}
		return &SendError{StatusCode: resp.StatusCode(), Body: body}
	}
}

// parseRetryAfter reads Discord's retry_after (seconds, fractional) from the
// body and falls back to the Retry-After header.
func parseRetryAfter(body []byte, header string) time.Duration {
	var payload struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.RetryAfter > 0 {
		return time.Duration(math.Ceil(payload.RetryAfter*1000)) * time.Millisecond
	}
	if seconds, err := strconv.ParseFloat(strings.TrimSpace(header), 64); err == nil && seconds > 0 {
		return time.Duration(math.Ceil(seconds*1000)) * time.Millisecond
	}
	return defaultRetryAfter
}

// RedactURL strips the secret token from a Discord webhook URL for logging.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	u.User = nil
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, p := range parts {
		if p == "webhooks" && i+2 < len(parts) {
			for j := i + 2; j < len(parts); j++ {
				parts[j] = "***"
			}
			break
		}
	}
	u.Path = "/" + strings.Join(parts, "/")
	return u.String()
}
