package api

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/alanbjordan/Veteran-Support-Agent/internal/analytics"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/log"
)

// AnalyticsStore is the slice of the analytics store the handler needs.
type AnalyticsStore interface {
	Summary(ctx context.Context) (analytics.Summary, error)
	Reset(ctx context.Context) error
	Log(ctx context.Context, id int64) (*analytics.RequestLog, error)
	Export(ctx context.Context) ([]analytics.ExportRow, error)
}

// AnalyticsHandler handles the analytics endpoints.
type AnalyticsHandler struct {
	store  AnalyticsStore
	logger log.Logger
}

// NewAnalyticsHandler creates an analytics handler.
func NewAnalyticsHandler(store AnalyticsStore, logger log.Logger) *AnalyticsHandler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &AnalyticsHandler{store: store, logger: logger}
}

// RegisterRoutes registers analytics routes on the given mux.
func (h *AnalyticsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/analytics/summary", h.summary)
	mux.HandleFunc("POST /api/analytics/reset", h.reset)
	mux.HandleFunc("GET /api/analytics/log/{id}", h.requestLog)
	mux.HandleFunc("GET /api/analytics/download", h.download)
}

func (h *AnalyticsHandler) summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.store.Summary(r.Context())
	if err != nil {
		h.logger.Error("failed to build analytics summary", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build analytics summary")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *AnalyticsHandler) reset(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Reset(r.Context()); err != nil {
		h.logger.Error("failed to reset analytics", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reset analytics")
		return
	}

	summary, err := h.store.Summary(r.Context())
	if err != nil {
		h.logger.Error("failed to build analytics summary", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build analytics summary")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Analytics data and request logs reset successfully",
		"analytics": summary,
	})
}

func (h *AnalyticsHandler) requestLog(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid log id")
		return
	}

	entry, err := h.store.Log(r.Context(), id)
	if errors.Is(err, analytics.ErrLogNotFound) {
		writeError(w, http.StatusNotFound, "request log not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to fetch request log", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch request log")
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// download streams all usage records as a CSV report.
func (h *AnalyticsHandler) download(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.Export(r.Context())
	if err != nil {
		h.logger.Error("failed to export usage records", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to export usage records")
		return
	}

	filename := fmt.Sprintf("analytics_report_%s.csv", time.Now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{
		"Date", "Model", "Prompt Tokens", "Completion Tokens", "Total Tokens",
		"Prompt Cost", "Completion Cost", "Total Cost",
	})
	for _, row := range rows {
		_ = cw.Write([]string{
			row.Date.UTC().Format("2006-01-02 15:04:05"),
			row.Model,
			strconv.Itoa(row.PromptTokens),
			strconv.Itoa(row.CompletionTokens),
			strconv.Itoa(row.TotalTokens),
			strconv.FormatFloat(row.PromptCost, 'f', -1, 64),
			strconv.FormatFloat(row.CompletionCost, 'f', -1, 64),
			strconv.FormatFloat(row.TotalCost, 'f', -1, 64),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.Error("failed to stream CSV report", "error", err)
	}
}
