// ABOUTME: chi HTTP handler exposing a Memory backend as the REST envelope API
// ABOUTME: Used by cmd/fake-backend and by the REST client tests

package backend

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389/alumni-dm/internal/auth"
)

// HandlerOptions configures NewHandler.
type HandlerOptions struct {
	Verifier auth.TokenVerifier
	Logger   *slog.Logger
	// Middlewares run before authentication (CORS, request logging).
	Middlewares []func(http.Handler) http.Handler
}

type apiHandler struct {
	mem    *Memory
	logger *slog.Logger
}

// NewHandler builds the API router for mem. Every /api route requires a bearer
// token accepted by opts.Verifier; the token's subject is the viewer.
func NewHandler(mem *Memory, opts HandlerOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &apiHandler{mem: mem, logger: logger.With("component", "api")}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	for _, mw := range opts.Middlewares {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]string{"status": "ok"}, "")
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.HTTPAuthMiddleware(opts.Verifier))

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", h.listConversations)
			r.Post("/", h.getOrCreateConversation)
			r.Get("/{id}/messages", h.listMessages)
			r.Post("/{id}/messages", h.sendMessage)
			r.Post("/{id}/read", h.markRead)
		})
		r.Delete("/messages/{id}", h.deleteMessage)
	})

	return r
}

func (h *apiHandler) viewerBackend(r *http.Request) Backend {
	viewer, _ := auth.FromContext(r.Context())
	return h.mem.ForViewer(viewer.ID)
}

func (h *apiHandler) listConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.viewerBackend(r).ListConversations(r.Context())
	h.respond(w, convs, err)
}

func (h *apiHandler) getOrCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, nil, "invalid request body")
		return
	}
	conv, err := h.viewerBackend(r).GetOrCreateConversation(r.Context(), req.UserID)
	h.respond(w, conv, err)
}

func (h *apiHandler) listMessages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeEnvelope(w, http.StatusBadRequest, nil, "invalid limit")
			return
		}
		limit = n
	}
	msgs, err := h.viewerBackend(r).ListMessages(r.Context(), chi.URLParam(r, "id"), limit)
	h.respond(w, msgs, err)
}

func (h *apiHandler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, nil, "invalid request body")
		return
	}
	msg, err := h.viewerBackend(r).SendMessage(r.Context(), chi.URLParam(r, "id"), req.Content)
	if err == nil {
		h.logger.Debug("message stored",
			"conversation_id", msg.ConversationID,
			"message_id", msg.ID,
			"sender_id", msg.Sender.ID)
	}
	h.respond(w, msg, err)
}

func (h *apiHandler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	err := h.viewerBackend(r).DeleteMessage(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, nil, err)
}

func (h *apiHandler) markRead(w http.ResponseWriter, r *http.Request) {
	err := h.viewerBackend(r).MarkConversationRead(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, nil, err)
}

func (h *apiHandler) respond(w http.ResponseWriter, data any, err error) {
	if err == nil {
		writeEnvelope(w, http.StatusOK, data, "")
		return
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		writeEnvelope(w, apiErr.Status, nil, apiErr.Message)
		return
	}
	h.logger.Error("request failed", "error", err)
	writeEnvelope(w, http.StatusInternalServerError, nil, "internal error")
}

func writeEnvelope(w http.ResponseWriter, status int, data any, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope[any]{
		Success: status < 400,
		Data:    data,
		Message: msg,
	})
}
