package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"killtracker/internal/webhook"

	"go.uber.org/zap"
)

const webhooksPrefix = "/api/v1/webhooks/"

// Queues is the webhook delivery side exposed over HTTP.
type Queues interface {
	Stats(ctx context.Context, id int64) (*webhook.QueueStats, error)
	ResetFailedMessages(ctx context.Context, id int64) (int, error)
	RequestDrain(id int64)
}

// Pinger checks one dependency.
type Pinger func(ctx context.Context) error

// StatusHandler serves health and queue status.
type StatusHandler struct {
	queues Queues
	checks map[string]Pinger
	logger *zap.Logger
}

func NewStatusHandler(queues Queues, checks map[string]Pinger, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{queues: queues, checks: checks, logger: logger}
}

// Health pings every dependency and answers 503 when one fails.
func (s *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	status := http.StatusOK
	results := make(map[string]string, len(s.checks))
	for name, ping := range s.checks {
		if err := ping(r.Context()); err != nil {
			s.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	if status != http.StatusOK {
		writeJSON(w, status, Result[map[string]string]{Code: ResultError, Type: "error", Message: "unhealthy", Result: results})
		return
	}
	writeJSON(w, status, Ok(results))
}

// Webhook serves GET {id}/queues and POST {id}/reset-failed.
func (s *StatusHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, webhooksPrefix), "/")
	if len(parts) != 2 {
		writeJSON(w, http.StatusNotFound, Fail("not found"))
		return
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, Fail("invalid webhook id"))
		return
	}

	switch parts[1] {
	case "queues":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.queueStats(w, r, id)
	case "reset-failed":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.resetFailed(w, r, id)
	default:
		writeJSON(w, http.StatusNotFound, Fail("not found"))
	}
}

func (s *StatusHandler) queueStats(w http.ResponseWriter, r *http.Request, id int64) {
	stats, err := s.queues.Stats(r.Context(), id)
	if err != nil {
		s.writeError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(stats))
}

func (s *StatusHandler) resetFailed(w http.ResponseWriter, r *http.Request, id int64) {
	if _, err := s.queues.Stats(r.Context(), id); err != nil {
		s.writeError(w, id, err)
		return
	}
	n, err := s.queues.ResetFailedMessages(r.Context(), id)
	if err != nil {
		s.writeError(w, id, err)
		return
	}
	if n > 0 {
		s.queues.RequestDrain(id)
	}
	writeJSON(w, http.StatusOK, Ok(map[string]int{"requeued": n}))
}

func (s *StatusHandler) writeError(w http.ResponseWriter, id int64, err error) {
	if errors.Is(err, webhook.ErrWebhookNotFound) {
		writeJSON(w, http.StatusNotFound, Fail(err.Error()))
		return
	}
	s.logger.Error("webhook request failed", zap.Int64("webhook_id", id), zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, Fail("internal error"))
}
