package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrTooManyConnections = errors.New("too many connections for session")

type Options struct {
	MaxConnPerSession int
	MaxMessageSize    int64
	WriteWait         time.Duration
	PongWait          time.Duration
	PingPeriod        time.Duration
}

// Manager is a connection hub. Clients are indexed by the chat session they
// belong to; connections without a session are not limited.
type Manager struct {
	clients      map[string]*Client
	sessionIndex map[string]map[string]bool
	clientsMutex sync.RWMutex
	Unregister   chan *Client
	done         chan struct{}
	stopOnce     sync.Once

	maxConnPerSession int
	maxMessageSize    int64
	writeWait         time.Duration
	pongWait          time.Duration
	pingPeriod        time.Duration
	messageHandler    MessageHandler
}

type MessageHandler interface {
	HandleWebSocketMessage(client *Client, msg *Message) error
}

func NewManager(opts Options) *Manager {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 64 << 10
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}
	if opts.PingPeriod <= 0 || opts.PingPeriod >= opts.PongWait {
		opts.PingPeriod = opts.PongWait * 9 / 10
	}
	return &Manager{
		clients:           make(map[string]*Client),
		sessionIndex:      make(map[string]map[string]bool),
		Unregister:        make(chan *Client),
		done:              make(chan struct{}),
		maxConnPerSession: opts.MaxConnPerSession,
		maxMessageSize:    opts.MaxMessageSize,
		writeWait:         opts.WriteWait,
		pongWait:          opts.PongWait,
		pingPeriod:        opts.PingPeriod,
	}
}

func (m *Manager) SetMessageHandler(handler MessageHandler) {
	m.messageHandler = handler
}

// Run processes unregistrations until ctx is done, then closes every
// remaining client.
func (m *Manager) Run(ctx context.Context) {
	defer m.stop()
	for {
		select {
		case client := <-m.Unregister:
			m.unregisterClient(client)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.clientsMutex.Lock()
		clients := make([]*Client, 0, len(m.clients))
		for _, c := range m.clients {
			clients = append(clients, c)
		}
		m.clients = make(map[string]*Client)
		m.sessionIndex = make(map[string]map[string]bool)
		m.clientsMutex.Unlock()

		for _, c := range clients {
			c.close()
		}
	})
}

func (m *Manager) Register(client *Client) error {
	select {
	case <-m.done:
		return errors.New("websocket manager stopped")
	default:
	}

	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if sid := client.SessionID; sid != "" {
		if m.sessionIndex[sid] == nil {
			m.sessionIndex[sid] = make(map[string]bool)
		}
		if m.maxConnPerSession > 0 && len(m.sessionIndex[sid]) >= m.maxConnPerSession {
			log.Warn().Str("session_id", sid).Msg("max connections reached for session")
			return ErrTooManyConnections
		}
		m.sessionIndex[sid][client.ID] = true
	}
	m.clients[client.ID] = client

	log.Debug().Str("client_id", client.ID).Str("session_id", client.SessionID).
		Bool("staff", client.IsStaff()).Msg("client registered")
	return nil
}

// Remove unregisters client through the hub, or directly once it stopped.
func (m *Manager) Remove(client *Client) {
	select {
	case m.Unregister <- client:
	case <-m.done:
		m.unregisterClient(client)
	}
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	_, ok := m.clients[client.ID]
	if ok {
		delete(m.clients, client.ID)
		if ids := m.sessionIndex[client.SessionID]; ids != nil {
			delete(ids, client.ID)
			if len(ids) == 0 {
				delete(m.sessionIndex, client.SessionID)
			}
		}
	}
	m.clientsMutex.Unlock()

	// Close hooks may call back into the manager.
	client.close()
	if ok {
		log.Debug().Str("client_id", client.ID).Msg("client unregistered")
	}
}

func (m *Manager) processMessage(client *Client, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Warn().Err(err).Str("client_id", client.ID).Msg("error unmarshaling message")
		client.SendMessage(TypeError, ErrorPayload{Error: "malformed message"})
		return
	}

	if msg.Type == TypePing {
		client.SendMessage(TypePong, nil)
		return
	}

	if m.messageHandler == nil {
		return
	}
	if err := m.messageHandler.HandleWebSocketMessage(client, &msg); err != nil {
		log.Warn().Err(err).Str("client_id", client.ID).Str("type", string(msg.Type)).Msg("error handling message")
		client.SendMessage(TypeError, ErrorPayload{Error: err.Error()})
	}
}

func (m *Manager) BroadcastToSession(sessionID string, msgType MessageType, payload interface{}) error {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	messageBytes, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	m.clientsMutex.RLock()
	targets := make([]*Client, 0, len(m.sessionIndex[sessionID]))
	for clientID := range m.sessionIndex[sessionID] {
		targets = append(targets, m.clients[clientID])
	}
	m.clientsMutex.RUnlock()

	for _, client := range targets {
		if !client.Enqueue(messageBytes) {
			log.Warn().Str("client_id", client.ID).Msg("send buffer full, dropping broadcast")
		}
	}
	return nil
}

func (m *Manager) SendToClient(clientID string, msgType MessageType, payload interface{}) error {
	m.clientsMutex.RLock()
	client, exists := m.clients[clientID]
	m.clientsMutex.RUnlock()
	if !exists {
		return nil
	}
	return client.SendMessage(msgType, payload)
}

func (m *Manager) SessionConnections(sessionID string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()
	return len(m.sessionIndex[sessionID])
}

func (m *Manager) Count() int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()
	return len(m.clients)
}
