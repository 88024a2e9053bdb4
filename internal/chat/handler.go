package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"tradiehub/internal/apperr"
	"tradiehub/internal/logger"
	myMiddleware "tradiehub/internal/middleware"
	"tradiehub/internal/participant"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Mobile clients send no Origin; browsers are gated by the token.
	},
}

var ErrRateLimited = fmt.Errorf("%w: sending too fast", apperr.ErrRateLimited)

// SendLimiter throttles sends per participant key.
type SendLimiter interface {
	Allow(key string) bool
}

type Handler struct {
	service *Service
	hub     *Hub
	limiter SendLimiter
}

func NewHandler(service *Service, hub *Hub, limiter SendLimiter) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		limiter: limiter,
	}
}

func caller(w http.ResponseWriter, r *http.Request) (participant.Participant, bool) {
	p, ok := myMiddleware.ParticipantFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}
	return p, ok
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		apperr.WriteError(w, fmt.Errorf("%w: %v", apperr.ErrValidation, err))
		return false
	}
	return true
}

// SendMessage handles POST /api/chats/messages.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	sender, ok := caller(w, r)
	if !ok {
		return
	}
	var req SendMessageRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.service.SendMessage(r.Context(), sender, &req)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusCreated, res)
}

// CreateRoom handles POST /api/chats/rooms.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	var req CreateRoomRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.service.CreateRoom(r.Context(), p, &req)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, res)
}

// Messages handles GET /api/chats/{threadID}/messages?offset=&limit=.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	offset, _ := strconv.ParseInt(r.URL.Query().Get("offset"), 10, 64)
	limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)

	msgs, err := h.service.History(r.Context(), chi.URLParam(r, "threadID"), p, offset, limit)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, msgs)
}

// Chats handles GET /api/chats.
func (h *Handler) Chats(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	chats, err := h.service.Chats(r.Context(), p)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, chats)
}

// Stats handles GET /api/chats/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	st, err := h.service.Stats(r.Context(), p)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, st)
}

// Search handles GET /api/chats/search?q=&thread_id=&offset=&limit=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	v := r.URL.Query()
	offset, _ := strconv.ParseInt(v.Get("offset"), 10, 64)
	limit, _ := strconv.ParseInt(v.Get("limit"), 10, 64)

	msgs, err := h.service.Search(r.Context(), p, SearchQuery{
		Text:     v.Get("q"),
		ThreadID: v.Get("thread_id"),
		Offset:   offset,
		Limit:    limit,
	})
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, msgs)
}

// MarkRead handles POST /api/chats/{threadID}/read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	n, err := h.service.MarkRead(r.Context(), chi.URLParam(r, "threadID"), p)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, map[string]int{"marked": n})
}

// Reconcile handles POST /api/chats/{threadID}/reconcile.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	n, err := h.service.Reconcile(r.Context(), chi.URLParam(r, "threadID"), p)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, map[string]int{"inserted": n})
}

// Block handles POST /api/chats/blocks.
func (h *Handler) Block(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	var req BlockRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.service.Block(r.Context(), p, req.Blocked); err != nil {
		apperr.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unblock handles DELETE /api/chats/blocks/{kind}/{id}.
func (h *Handler) Unblock(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	blocked, err := participant.Parse(chi.URLParam(r, "kind") + ":" + chi.URLParam(r, "id"))
	if err != nil {
		apperr.WriteError(w, fmt.Errorf("%w: %v", ErrInvalidParticipant, err))
		return
	}
	if err := h.service.Unblock(r.Context(), p, blocked); err != nil {
		apperr.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServeWs upgrades the connection and subscribes it to the caller's messages.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "participant", p.String(), "error", err)
		return
	}

	client := NewClient(h.hub, conn, p, func(ctx context.Context, msg *WSMessage) (*SendMessageResponse, error) {
		if h.limiter != nil && !h.limiter.Allow(p.Key()) {
			return nil, ErrRateLimited
		}
		return h.service.SendMessage(ctx, p, &SendMessageRequest{
			Receiver: msg.Receiver,
			Message:  msg.Content,
			ReplyTo:  msg.ReplyTo,
		})
	})
	if !h.hub.join(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// Routes mounts the chat endpoints on r. sendLimit, when non-nil, wraps the
// send endpoint.
func (h *Handler) Routes(r chi.Router, sendLimit func(http.Handler) http.Handler) {
	send := r
	if sendLimit != nil {
		send = r.With(sendLimit)
	}
	send.Post("/chats/messages", h.SendMessage)
	r.Get("/chats", h.Chats)
	r.Get("/chats/stats", h.Stats)
	r.Get("/chats/search", h.Search)
	r.Post("/chats/rooms", h.CreateRoom)
	r.Get("/chats/{threadID}/messages", h.Messages)
	r.Post("/chats/{threadID}/read", h.MarkRead)
	r.Post("/chats/{threadID}/reconcile", h.Reconcile)
	r.Post("/chats/blocks", h.Block)
	r.Delete("/chats/blocks/{kind}/{id}", h.Unblock)
}
