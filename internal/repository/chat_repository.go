package repository

import (
	"context"
	"errors"
	"fmt"

	"eyeworks-storefront/internal/collection"
	"eyeworks-storefront/internal/domain"
	"eyeworks-storefront/internal/realtime"
	"eyeworks-storefront/internal/store"
)

type ChatMessageRepository interface {
	History(ctx context.Context, sessionID string) ([]domain.ChatMessage, error)
	Create(ctx context.Context, msg domain.ChatMessage) (domain.ChatMessage, error)
	MarkRead(ctx context.Context, sessionID string) (int, error)
	Source() collection.Source[domain.ChatMessage]
}

type chatMessageRepository struct {
	table  *store.Table[domain.ChatMessage]
	source *tableSource[domain.ChatMessage]
}

func NewChatMessageRepository(backend store.Backend, broker *realtime.Broker) ChatMessageRepository {
	table := store.NewTable[domain.ChatMessage](backend, store.TableChatMessages)
	return &chatMessageRepository{
		table:  table,
		source: newTableSource(table, broker, "session_id", store.Order{Field: "timestamp"}),
	}
}

func (r *chatMessageRepository) History(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	return r.source.Load(ctx, sessionID)
}

func (r *chatMessageRepository) Create(ctx context.Context, msg domain.ChatMessage) (domain.ChatMessage, error) {
	msg.ID = ""
	saved, err := r.table.Insert(ctx, msg)
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("failed to create chat message: %w", err)
	}
	return saved, nil
}

// MarkRead flips every unread reply in the session to read and returns how
// many rows changed.
func (r *chatMessageRepository) MarkRead(ctx context.Context, sessionID string) (int, error) {
	rows, err := r.table.Update(ctx, []store.Filter{
		store.Eq("session_id", sessionID),
		store.Eq("is_read", false),
		store.In("role", string(domain.RoleAssistant), string(domain.RoleStaff), "admin"),
	}, map[string]any{"is_read": true})
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages as read: %w", err)
	}
	return len(rows), nil
}

func (r *chatMessageRepository) Source() collection.Source[domain.ChatMessage] {
	return r.source
}

type ChatSessionRepository interface {
	Get(ctx context.Context, sessionID string) (*domain.ChatSession, error)
	Ensure(ctx context.Context, session domain.ChatSession) (*domain.ChatSession, error)
	ListActive(ctx context.Context) ([]domain.ChatSession, error)
	UpdateStatus(ctx context.Context, sessionID string, status domain.SessionStatus) (*domain.ChatSession, error)
}

type chatSessionRepository struct {
	table *store.Table[domain.ChatSession]
}

func NewChatSessionRepository(backend store.Backend) ChatSessionRepository {
	return &chatSessionRepository{
		table: store.NewTable[domain.ChatSession](backend, store.TableChatSessions),
	}
}

func (r *chatSessionRepository) Get(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	s, err := r.table.Get(ctx, store.Eq("session_id", sessionID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get chat session: %w", err)
	}
	return &s, nil
}

// Ensure returns the session row for session.SessionID, creating it when
// missing. A concurrent creator wins and its row is returned.
func (r *chatSessionRepository) Ensure(ctx context.Context, session domain.ChatSession) (*domain.ChatSession, error) {
	existing, err := r.Get(ctx, session.SessionID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	if session.Status == "" {
		session.Status = domain.SessionActive
	}
	s, err := r.table.Upsert(ctx, "session_id", session)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat session: %w", err)
	}
	return &s, nil
}

func (r *chatSessionRepository) ListActive(ctx context.Context) ([]domain.ChatSession, error) {
	sessions, err := r.table.Select(ctx, store.Query{
		Filters: []store.Filter{store.Eq("status", string(domain.SessionActive))},
		Order:   store.Order{Field: "updated_at", Desc: true},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list chat sessions: %w", err)
	}
	return sessions, nil
}

func (r *chatSessionRepository) UpdateStatus(ctx context.Context, sessionID string, status domain.SessionStatus) (*domain.ChatSession, error) {
	rows, err := r.table.Update(ctx, []store.Filter{store.Eq("session_id", sessionID)},
		map[string]any{"status": string(status)})
	if err != nil {
		return nil, fmt.Errorf("failed to update chat session: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrSessionNotFound
	}
	return &rows[0], nil
}
