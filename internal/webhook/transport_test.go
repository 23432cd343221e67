package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"killtracker/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordTransport_Send(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "true", r.URL.Query().Get("wait"))
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &body))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"1"}`))
	}))
	defer server.Close()

	msg := models.NewMessage("hello")
	msg.Username = "Killtracker"
	err := NewDiscordTransport(5*time.Second, "test").Send(context.Background(), server.URL+"/api/webhooks/1/token", msg)
	require.NoError(t, err)
	assert.Equal(t, "hello", body["content"])
	assert.Equal(t, "Killtracker", body["username"])
}

func TestDiscordTransport_RateLimited(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		body    string
		wantDur time.Duration
	}{
		{name: "body", body: `{"message":"You are being rate limited.","retry_after":1.5,"global":false}`, wantDur: 1500 * time.Millisecond},
		{name: "header", header: "3", body: `{}`, wantDur: 3 * time.Second},
		{name: "none", body: ``, wantDur: defaultRetryAfter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.header != "" {
					w.Header().Set("Retry-After", tt.header)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			err := NewDiscordTransport(5*time.Second, "test").Send(context.Background(), server.URL, models.NewMessage("x"))
			var limited *RateLimitedError
			require.True(t, errors.As(err, &limited), "got %v", err)
			assert.Equal(t, tt.wantDur, limited.RetryAfter)
		})
	}
}

func TestDiscordTransport_PermanentFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":50006,"message":"Cannot send an empty message"}`))
	}))
	defer server.Close()

	err := NewDiscordTransport(5*time.Second, "test").Send(context.Background(), server.URL, models.NewMessage(""))
	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr))
	assert.Equal(t, http.StatusBadRequest, sendErr.StatusCode)
	assert.Contains(t, sendErr.Body, "empty message")
}

func TestDiscordTransport_NetworkErrorHidesToken(t *testing.T) {
	err := NewDiscordTransport(time.Second, "test").
		Send(context.Background(), "http://127.0.0.1:1/api/webhooks/1/SECRET", models.NewMessage("hi"))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET")
	assert.Contains(t, err.Error(), "/api/webhooks/1/***")
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://discord.com/api/webhooks/123/***",
		RedactURL("https://discord.com/api/webhooks/123/abcDEF?wait=true"))
	assert.Equal(t, "https://example.com/hook", RedactURL("https://example.com/hook"))
	assert.Equal(t, "<invalid url>", RedactURL("://bad"))
}
