package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sneh-joshi/litemq/internal/broker"
)

// Handler groups all HTTP request handlers around a Broker.
type Handler struct {
	broker *broker.Broker
	logger *slog.Logger
}

// ─── DTOs ─────────────────────────────────────────────────────────────────────

type healthResp struct {
	Status   string `json:"status"`
	NodeID   string `json:"node_id"`
	Queues   int    `json:"queues"`
	Uptime   string `json:"uptime"`
	UptimeMs int64  `json:"uptime_ms"`
	Error    string `json:"error,omitempty"`
}

type queueListResp struct {
	Queues []broker.QueueInfo `json:"queues"`
}

type lengthResp struct {
	Queue  string `json:"queue"`
	Length int64  `json:"length"`
}

type enqueueResp struct {
	Length int64 `json:"length"`
}

type purgeResp struct {
	Removed int64 `json:"removed"`
}

// ─── Health ───────────────────────────────────────────────────────────────────

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	up := h.broker.Uptime()
	resp := healthResp{
		Status:   "ok",
		NodeID:   h.broker.NodeID().String(),
		Queues:   len(h.broker.Queues()),
		Uptime:   up.Round(time.Second).String(),
		UptimeMs: up.Milliseconds(),
	}
	if err := h.broker.Health(); err != nil {
		resp.Status = "unavailable"
		resp.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ─── Queues ───────────────────────────────────────────────────────────────────

func (h *Handler) listQueues(w http.ResponseWriter, r *http.Request) {
	queues := h.broker.Queues()
	if queues == nil {
		queues = []broker.QueueInfo{}
	}
	writeJSON(w, http.StatusOK, queueListResp{Queues: queues})
}

func (h *Handler) queueLength(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("queue")
	writeJSON(w, http.StatusOK, lengthResp{Queue: name, Length: h.broker.Length(name)})
}

func (h *Handler) purge(w http.ResponseWriter, r *http.Request) {
	n, err := h.broker.Purge(r.Context(), r.PathValue("queue"))
	if err != nil {
		h.writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, purgeResp{Removed: n})
}

func (h *Handler) flush(w http.ResponseWriter, r *http.Request) {
	if err := h.broker.Flush(r.Context()); err != nil {
		h.writeBrokerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Messages ─────────────────────────────────────────────────────────────────

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, broker.ErrMessageTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	n, err := h.broker.Enqueue(r.Context(), r.PathValue("queue"), data)
	if err != nil {
		h.writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, enqueueResp{Length: n})
}

// dequeue blocks until a message arrives. With ?timeout= it gives up after
// that long and answers 204 No Content, leaving the queue untouched.
func (h *Handler) dequeue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	timedOut := func() bool { return false }
	if v := r.URL.Query().Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "timeout must be a positive duration such as 5s"})
			return
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
		timedOut = func() bool { return r.Context().Err() == nil && ctx.Err() != nil }
	}

	data, err := h.broker.Dequeue(ctx, r.PathValue("queue"))
	if err != nil {
		if timedOut() {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.writeBrokerError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// writeBrokerError maps broker errors to HTTP status codes.
func (h *Handler) writeBrokerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, broker.ErrInvalidQueueName):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, broker.ErrMessageTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err)
	case errors.Is(err, broker.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads the answer.
		writeError(w, 499, err)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err)
	default:
		h.logger.Error("http request failed", "err", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
