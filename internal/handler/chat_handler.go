package handler

import (
	"net/http"
	"strings"

	"eyeworks-storefront/internal/domain"
	"eyeworks-storefront/internal/middleware"
	"eyeworks-storefront/internal/service"
	"eyeworks-storefront/internal/session"
	"eyeworks-storefront/internal/websocket"
	"eyeworks-storefront/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

type ChatHandler struct {
	chat     *service.ChatService
	hub      *websocket.Manager
	validate *validator.Validate
}

func NewChatHandler(chat *service.ChatService, hub *websocket.Manager) *ChatHandler {
	return &ChatHandler{
		chat:     chat,
		hub:      hub,
		validate: validator.New(),
	}
}

// StartSession records the visitor's chat session, remembering the name
// they gave for later sends.
func (h *ChatHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req domain.StartChatRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	profile := session.NewProfile(middleware.GetStorage(r))
	name := strings.TrimSpace(req.UserName)
	if name != "" {
		if err := profile.SetUserName(name); err != nil {
			log.Warn().Err(err).Msg("failed to remember chat name")
		}
	} else {
		name = profile.UserName()
	}

	s, err := h.chat.EnsureSession(r.Context(), middleware.GetSessionID(r), name, req.UserEmail)
	if err != nil {
		writeError(w, err, "Failed to start chat session")
		return
	}
	response.Success(w, s)
}

func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	h.history(w, r, middleware.GetSessionID(r))
}

func (h *ChatHandler) history(w http.ResponseWriter, r *http.Request, sessionID string) {
	messages, err := h.chat.History(r.Context(), sessionID)
	if err != nil {
		writeError(w, err, "Failed to load messages")
		return
	}
	unread := 0
	for _, m := range messages {
		if m.Role.Replier() && !m.IsRead {
			unread++
		}
	}
	response.Success(w, domain.ChatThreadResponse{
		SessionID:   sessionID,
		Messages:    messages,
		UnreadCount: unread,
	})
}

// Send posts a visitor message and waits for the automated reply.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req domain.SendMessageRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	name := req.UserName
	if name == "" {
		name = session.NewProfile(middleware.GetStorage(r)).UserName()
	}

	stream, err := h.chat.Open(r.Context(), middleware.GetSessionID(r))
	if err != nil {
		writeError(w, err, "Failed to open chat")
		return
	}
	defer stream.Close()

	if _, err := stream.Send(r.Context(), req.Message, name); err != nil {
		writeError(w, err, "Failed to send message")
		return
	}
	response.Created(w, stream.Thread())
}

func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.chat.MarkRead(r.Context(), middleware.GetSessionID(r))
	if err != nil {
		writeError(w, err, "Failed to mark messages as read")
		return
	}
	response.Success(w, map[string]int{"updated": n})
}

func (h *ChatHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.chat.ListActiveSessions(r.Context())
	if err != nil {
		writeError(w, err, "Failed to list chat sessions")
		return
	}
	if sessions == nil {
		sessions = []domain.ChatSession{}
	}
	response.Success(w, sessions)
}

func (h *ChatHandler) SessionHistory(w http.ResponseWriter, r *http.Request) {
	h.history(w, r, mux.Vars(r)["sessionId"])
}

func (h *ChatHandler) StaffSend(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	var req domain.StaffMessageRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	stream, err := h.chat.Open(r.Context(), sessionID)
	if err != nil {
		writeError(w, err, "Failed to open chat")
		return
	}
	defer stream.Close()

	msg, err := stream.SendStaff(r.Context(), req.Message, middleware.GetStaffName(r))
	if err != nil {
		writeError(w, err, "Failed to send message")
		return
	}
	response.Created(w, msg)
}

// CloseSession marks the session closed and tells its open widgets.
func (h *ChatHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	s, err := h.chat.CloseSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, err, "Failed to close chat session")
		return
	}
	if err := h.hub.BroadcastToSession(sessionID, websocket.TypeSessionClosed,
		websocket.SessionClosedPayload{SessionID: sessionID}); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to notify chat widgets")
	}
	response.Success(w, s)
}
