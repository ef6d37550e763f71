package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/alanbjordan/Veteran-Support-Agent/internal/credits"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/log"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/rag"
)

// SearchHandler exposes the retrieval pipeline directly, without a chat
// turn around it.
type SearchHandler struct {
	searcher *rag.Searcher
	logger   log.Logger
}

// NewSearchHandler creates a search handler.
func NewSearchHandler(searcher *rag.Searcher, logger log.Logger) *SearchHandler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &SearchHandler{searcher: searcher, logger: logger}
}

// RegisterRoutes registers search routes on the given mux.
func (h *SearchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/search", h.search)
}

// searchRequest is the search endpoint's request body.
type searchRequest struct {
	Corpus string `json:"corpus"`
	Query  string `json:"query"`
	UserID int64  `json:"user_id"`
}

type searchResponse struct {
	Corpus  string `json:"corpus"`
	Results string `json:"results"`
}

func (h *SearchHandler) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "Query cannot be empty")
		return
	}

	var results string
	var err error
	switch strings.ToUpper(strings.TrimSpace(req.Corpus)) {
	case "CFR":
		results, err = h.searcher.SearchCFR(r.Context(), req.UserID, req.Query)
	case "M21":
		results, err = h.searcher.SearchM21(r.Context(), req.UserID, req.Query)
	default:
		writeError(w, http.StatusBadRequest, "corpus must be CFR or M21")
		return
	}
	if err != nil {
		h.logger.Error("search request failed",
			"request_id", RequestID(r.Context()),
			"corpus", req.Corpus,
			"error", err)
		switch {
		case errors.Is(err, credits.ErrInsufficientCredits):
			writeError(w, http.StatusPaymentRequired, "insufficient credits")
		case errors.Is(err, credits.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "user has no credit account")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Corpus:  strings.ToUpper(strings.TrimSpace(req.Corpus)),
		Results: results,
	})
}
