package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"eyeworks-storefront/internal/collection"
	"eyeworks-storefront/internal/domain"
	"eyeworks-storefront/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultVisitorName = "Guest"
	DefaultStaffName   = "Staff"
)

type ChatConfig struct {
	// MatchWindow bounds the timestamp difference under which an incoming
	// row with the same role and text is taken for an echo of a local send.
	MatchWindow time.Duration
	// ReplyDelay is the pause before the automated reply is written.
	ReplyDelay time.Duration
}

type ChatService struct {
	messages  repository.ChatMessageRepository
	sessions  repository.ChatSessionRepository
	responder *Responder
	cfg       ChatConfig
	now       func() time.Time
}

func NewChatService(
	messages repository.ChatMessageRepository,
	sessions repository.ChatSessionRepository,
	responder *Responder,
	cfg ChatConfig,
) *ChatService {
	return &ChatService{
		messages:  messages,
		sessions:  sessions,
		responder: responder,
		cfg:       cfg,
		now:       time.Now,
	}
}

func chatSchema(window time.Duration) collection.Schema[domain.ChatMessage] {
	return collection.Schema[domain.ChatMessage]{
		ID:        func(m domain.ChatMessage) string { return m.ID },
		WithID:    func(m domain.ChatMessage, id string) domain.ChatMessage { m.ID = id; return m },
		GroupKey:  func(m domain.ChatMessage) string { return m.SessionID },
		Timestamp: func(m domain.ChatMessage) time.Time { return m.Timestamp },
		ClientRef: domain.ChatMessage.ClientRef,
		Similar: func(a, b domain.ChatMessage) bool {
			return a.Role == b.Role && a.Message == b.Message
		},
		Window: window,
	}
}

func (s *ChatService) EnsureSession(ctx context.Context, sessionID, userName, userEmail string) (*domain.ChatSession, error) {
	if sessionID == "" {
		return nil, ErrNoSession
	}
	return s.sessions.Ensure(ctx, domain.ChatSession{
		SessionID: sessionID,
		UserName:  userName,
		UserEmail: userEmail,
		Status:    domain.SessionActive,
	})
}

func (s *ChatService) ListActiveSessions(ctx context.Context) ([]domain.ChatSession, error) {
	return s.sessions.ListActive(ctx)
}

func (s *ChatService) CloseSession(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	return s.sessions.UpdateStatus(ctx, sessionID, domain.SessionClosed)
}

func (s *ChatService) History(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	if sessionID == "" {
		return nil, ErrNoSession
	}
	return s.messages.History(ctx, sessionID)
}

// MarkRead marks a session's replies read without opening a stream.
func (s *ChatService) MarkRead(ctx context.Context, sessionID string) (int, error) {
	if sessionID == "" {
		return 0, ErrNoSession
	}
	return s.messages.MarkRead(ctx, sessionID)
}

// Open loads the session's history and subscribes to its new messages.
// Load and subscribe failures do not fail Open: they are recorded in the
// stream's state and the stream keeps working for sends.
func (s *ChatService) Open(ctx context.Context, sessionID string) (*ChatStream, error) {
	if sessionID == "" {
		return nil, ErrNoSession
	}
	st := &ChatStream{
		svc:       s,
		sessionID: sessionID,
		coll: collection.New(chatSchema(s.cfg.MatchWindow), s.messages.Source(),
			collection.WithName("chat"), collection.WithClock(s.now)),
	}
	if _, err := st.coll.Load(ctx, sessionID); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("chat history unavailable")
	}
	if err := st.coll.Subscribe(ctx, sessionID, st.onMessage, nil); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("chat updates unavailable")
	}
	return st, nil
}

// ChatStream is one open view of a chat session.
type ChatStream struct {
	svc       *ChatService
	sessionID string
	coll      *collection.Collection[domain.ChatMessage]

	sendMu sync.Mutex

	mu         sync.Mutex
	foreground bool
}

func (c *ChatStream) SessionID() string { return c.sessionID }

// Send posts a visitor message and then the automated reply: the keyword
// answer when the thread was empty, the waiting notice otherwise.
func (c *ChatStream) Send(ctx context.Context, text, userName string) (domain.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ChatMessage{}, ErrEmptyMessage
	}
	if userName = strings.TrimSpace(userName); userName == "" {
		userName = DefaultVisitorName
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	wasEmpty := c.coll.Len() == 0
	saved, err := c.post(ctx, domain.ChatMessage{
		Role:     domain.RoleVisitor,
		Message:  text,
		UserName: userName,
	})
	if err != nil {
		return domain.ChatMessage{}, err
	}

	reply := WaitingReply
	if wasEmpty {
		reply = c.svc.responder.Reply(text)
	}
	if err := c.autoReply(ctx, reply); err != nil {
		log.Warn().Err(err).Str("session_id", c.sessionID).Msg("automated reply failed")
	}
	return saved, nil
}

func (c *ChatStream) autoReply(ctx context.Context, reply string) error {
	if d := c.svc.cfg.ReplyDelay; d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	msg := domain.ChatMessage{Role: domain.RoleAssistant, Message: reply}
	_, err := c.post(ctx, msg)
	if err == nil || reply == FallbackReply || reply == WaitingReply {
		return err
	}
	log.Warn().Err(err).Str("session_id", c.sessionID).Msg("keyword reply failed, sending fallback")
	msg.Message = FallbackReply
	_, err = c.post(ctx, msg)
	return err
}

// SendStaff posts a staff reply. Staff messages are stored already read.
func (c *ChatStream) SendStaff(ctx context.Context, text, staffName string) (domain.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ChatMessage{}, ErrEmptyMessage
	}
	if staffName == "" {
		staffName = DefaultStaffName
	}
	return c.post(ctx, domain.ChatMessage{
		Role:     domain.RoleStaff,
		Message:  text,
		UserName: staffName,
		IsRead:   true,
	})
}

func (c *ChatStream) post(ctx context.Context, msg domain.ChatMessage) (domain.ChatMessage, error) {
	msg.SessionID = c.sessionID
	msg.Timestamp = c.svc.now()
	msg.Metadata = &domain.MessageMetadata{
		ClientRef: uuid.NewString(),
		Automated: msg.Role == domain.RoleAssistant,
	}

	localID := c.coll.InsertOptimistic(msg)
	saved, err := c.coll.Confirm(ctx, localID, func(ctx context.Context) (domain.ChatMessage, error) {
		return c.svc.messages.Create(ctx, msg)
	})
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("failed to send message: %w", err)
	}
	return saved, nil
}

// MarkRead marks the session's replies read in the store and locally.
func (c *ChatStream) MarkRead(ctx context.Context) error {
	if _, err := c.svc.messages.MarkRead(ctx, c.sessionID); err != nil {
		return err
	}
	for _, m := range c.coll.Items() {
		if m.Role.Replier() && !m.IsRead {
			c.coll.Update(m.ID, func(m domain.ChatMessage) domain.ChatMessage {
				m.IsRead = true
				return m
			})
		}
	}
	return nil
}

// SetForeground records whether the visitor is looking at the thread.
// Becoming visible marks replies read.
func (c *ChatStream) SetForeground(ctx context.Context, visible bool) error {
	c.mu.Lock()
	c.foreground = visible
	c.mu.Unlock()
	if visible {
		return c.MarkRead(ctx)
	}
	return nil
}

func (c *ChatStream) onMessage(m domain.ChatMessage) {
	c.mu.Lock()
	visible := c.foreground
	c.mu.Unlock()
	if !visible || !m.Role.Replier() || m.IsRead {
		return
	}
	// Runs on the feed's delivery goroutine; the update must not wait on it.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.MarkRead(ctx); err != nil {
			log.Warn().Err(err).Str("session_id", c.sessionID).Msg("failed to mark messages as read")
		}
	}()
}

func (c *ChatStream) UnreadCount() int {
	n := 0
	for _, m := range c.coll.Items() {
		if m.Role.Replier() && !m.IsRead {
			n++
		}
	}
	return n
}

func (c *ChatStream) Items() []domain.ChatMessage {
	return c.coll.Items()
}

func (c *ChatStream) Entries() []collection.Entry[domain.ChatMessage] {
	return c.coll.Entries()
}

func (c *ChatStream) State() collection.State[domain.ChatMessage] {
	return c.coll.State()
}

func (c *ChatStream) OnChange(fn func(collection.State[domain.ChatMessage])) func() {
	return c.coll.OnChange(fn)
}

// Thread renders the stream for API responses.
func (c *ChatStream) Thread() domain.ChatThreadResponse {
	st := c.coll.State()
	resp := domain.ChatThreadResponse{
		SessionID:   c.sessionID,
		Messages:    st.Items,
		UnreadCount: c.UnreadCount(),
		Connected:   st.IsConnected,
	}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	return resp
}

// Clear empties the local view. Stored messages are untouched.
func (c *ChatStream) Clear() {
	c.coll.Clear()
}

func (c *ChatStream) Close() error {
	return c.coll.Close()
}
