package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/alanbjordan/Veteran-Support-Agent/internal/chat"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/credits"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/log"
)

// MaxMessageLength bounds a single chat message.
const MaxMessageLength = 8000

// ChatHandler handles the chat endpoint.
type ChatHandler struct {
	service *chat.Service
	logger  log.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(service *chat.Service, logger log.Logger) *ChatHandler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &ChatHandler{service: service, logger: logger}
}

// RegisterRoutes registers chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.chat)
}

// chatRequest is the chat endpoint's request body.
type chatRequest struct {
	Message             string         `json:"message"`
	ConversationHistory []chat.Message `json:"conversation_history"`
	UserID              int64          `json:"user_id"`
}

func (h *ChatHandler) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "Message cannot be empty")
		return
	}
	if len(req.Message) > MaxMessageLength {
		writeError(w, http.StatusBadRequest, "Message too long")
		return
	}

	result, err := h.service.ProcessChat(r.Context(), req.Message, req.ConversationHistory, req.UserID)
	if err != nil {
		h.writeChatError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *ChatHandler) writeChatError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("chat request failed",
		"request_id", RequestID(r.Context()),
		"error", err)

	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "Message cannot be empty")
	case errors.Is(err, credits.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, "insufficient credits")
	case errors.Is(err, credits.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user has no credit account")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
