package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"eyeworks-storefront/internal/collection"
	"eyeworks-storefront/internal/domain"
	"eyeworks-storefront/internal/middleware"
	"eyeworks-storefront/internal/realtime"
	"eyeworks-storefront/internal/service"
	"eyeworks-storefront/internal/store"
	"eyeworks-storefront/internal/websocket"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const socketRequestTimeout = 30 * time.Second

var errUnknownMessage = errors.New("unknown message type")

func newUpgrader(readBuffer, writeBuffer int) ws.Upgrader {
	return ws.Upgrader{
		ReadBufferSize:  readBuffer,
		WriteBufferSize: writeBuffer,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// upgradeHeader carries cookies set by earlier middleware into the
// handshake response, which the upgrader writes itself.
func upgradeHeader(w http.ResponseWriter) http.Header {
	cookies := w.Header().Values("Set-Cookie")
	if len(cookies) == 0 {
		return nil
	}
	return http.Header{"Set-Cookie": cookies}
}

// ChatSocketHandler hosts one chat stream per websocket connection and
// pushes a snapshot of the thread whenever it changes.
type ChatSocketHandler struct {
	hub      *websocket.Manager
	chat     *service.ChatService
	upgrader ws.Upgrader

	mu      sync.Mutex
	streams map[string]*service.ChatStream
}

func NewChatSocketHandler(hub *websocket.Manager, chat *service.ChatService, readBuffer, writeBuffer int) *ChatSocketHandler {
	return &ChatSocketHandler{
		hub:      hub,
		chat:     chat,
		upgrader: newUpgrader(readBuffer, writeBuffer),
		streams:  make(map[string]*service.ChatStream),
	}
}

// HandleConnection serves /ws/chat. Visitors get their own session; staff
// may attach to any session with ?session_id=.
func (h *ChatSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	staff := middleware.GetStaffName(r)
	sessionID := middleware.GetSessionID(r)
	if target := r.URL.Query().Get("session_id"); target != "" {
		if staff == "" {
			http.Error(w, "staff token required", http.StatusForbidden)
			return
		}
		sessionID = target
	}
	if sessionID == "" {
		http.Error(w, "missing session", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, upgradeHeader(w))
	if err != nil {
		log.Warn().Err(err).Msg("failed to upgrade chat connection")
		return
	}

	client := websocket.NewClient(uuid.New().String(), sessionID, staff, conn, h.hub)
	if err := h.hub.Register(client); err != nil {
		conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.ClosePolicyViolation, err.Error()))
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := h.chat.Open(ctx, sessionID)
	if err != nil {
		cancel()
		conn.Close()
		h.hub.Remove(client)
		return
	}

	h.mu.Lock()
	h.streams[client.ID] = stream
	h.mu.Unlock()

	unsubscribe := stream.OnChange(func(collection.State[domain.ChatMessage]) {
		client.SendMessage(websocket.TypeSnapshot, stream.Thread())
	})
	client.OnClose(func() {
		unsubscribe()
		cancel()
		stream.Close()
		h.mu.Lock()
		delete(h.streams, client.ID)
		h.mu.Unlock()
	})
	client.SendMessage(websocket.TypeSnapshot, stream.Thread())

	go client.WritePump()
	go client.ReadPump()
}

func (h *ChatSocketHandler) stream(clientID string) *service.ChatStream {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.streams[clientID]
}

func (h *ChatSocketHandler) HandleWebSocketMessage(client *websocket.Client, msg *websocket.Message) error {
	stream := h.stream(client.ID)
	if stream == nil {
		return fmt.Errorf("no chat stream for client %s", client.ID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), socketRequestTimeout)
	defer cancel()

	switch msg.Type {
	case websocket.TypeSend:
		var payload websocket.SendPayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}
		var (
			saved domain.ChatMessage
			err   error
		)
		if client.IsStaff() {
			saved, err = stream.SendStaff(ctx, payload.Message, client.StaffName)
		} else {
			saved, err = stream.Send(ctx, payload.Message, payload.UserName)
		}
		if err != nil {
			return client.SendMessage(websocket.TypeAck, websocket.AckPayload{Success: false, Error: err.Error()})
		}
		return client.SendMessage(websocket.TypeAck, websocket.AckPayload{ID: saved.ID, Success: true})

	case websocket.TypeMarkRead:
		return stream.MarkRead(ctx)

	case websocket.TypeFocus:
		var payload websocket.FocusPayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return stream.SetForeground(ctx, payload.Visible)

	default:
		return fmt.Errorf("%w: %s", errUnknownMessage, msg.Type)
	}
}

// ChangeSocketHandler relays a table's change feed to a websocket.
type ChangeSocketHandler struct {
	hub      *websocket.Manager
	broker   *realtime.Broker
	upgrader ws.Upgrader
}

func NewChangeSocketHandler(hub *websocket.Manager, broker *realtime.Broker, readBuffer, writeBuffer int) *ChangeSocketHandler {
	return &ChangeSocketHandler{
		hub:      hub,
		broker:   broker,
		upgrader: newUpgrader(readBuffer, writeBuffer),
	}
}

// changeFilter decides what a caller may follow. The inventory is public,
// visitors may follow only their own chat thread, and everything else is
// for staff.
func changeFilter(table, group, sessionID string, staff bool) (realtime.Filter, int, error) {
	switch table {
	case store.TableInventory:
		return realtime.Filter{}, 0, nil
	case store.TableChatMessages:
		if !staff {
			if group != "" && group != sessionID {
				return realtime.Filter{}, http.StatusForbidden, errors.New("not your chat session")
			}
			group = sessionID
		}
		if group == "" {
			return realtime.Filter{}, 0, nil
		}
		return realtime.Filter{Field: "session_id", Value: group}, 0, nil
	case store.TableChatSessions, store.TableAppointments:
		if !staff {
			return realtime.Filter{}, http.StatusForbidden, errors.New("staff token required")
		}
		return realtime.Filter{}, 0, nil
	}
	return realtime.Filter{}, http.StatusBadRequest, fmt.Errorf("unknown table %q", table)
}

// HandleConnection serves /ws/changes?table=&group=.
func (h *ChangeSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	table := q.Get("table")
	staff := middleware.GetStaffName(r)
	filter, status, err := changeFilter(table, q.Get("group"), middleware.GetSessionID(r), staff != "")
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, upgradeHeader(w))
	if err != nil {
		log.Warn().Err(err).Msg("failed to upgrade change connection")
		return
	}

	client := websocket.NewClient(uuid.New().String(), "", staff, conn, h.hub)
	if err := h.hub.Register(client); err != nil {
		conn.Close()
		return
	}
	go client.WritePump()
	go client.ReadPump()

	sub, err := h.broker.Subscribe(table, filter,
		func(c store.Change) { client.SendMessage(websocket.TypeChange, c) },
		func(connected bool) {
			client.SendMessage(websocket.TypeStatus, websocket.StatusPayload{Connected: connected, Table: table})
		},
	)
	if err != nil {
		log.Error().Err(err).Str("table", table).Msg("failed to relay changes")
		client.SendMessage(websocket.TypeError, websocket.ErrorPayload{Error: "change feed unavailable"})
		h.hub.Remove(client)
		return
	}
	client.OnClose(func() { sub.Close() })
}

// HandleWebSocketMessage rejects everything but pings, which the hub
// answers itself.
func (h *ChangeSocketHandler) HandleWebSocketMessage(client *websocket.Client, msg *websocket.Message) error {
	return fmt.Errorf("%w: %s", errUnknownMessage, msg.Type)
}
