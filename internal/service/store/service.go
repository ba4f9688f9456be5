package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"seylanebot/internal/models"
)

// Service persists conversations, messages and settings. Query text is written
// with "?" placeholders and rebound for the active driver.
type Service struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewService builds a store on top of an open database handle.
func NewService(db *sqlx.DB) *Service {
	return &Service{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// DB exposes the handle for health checks.
func (s *Service) DB() *sqlx.DB { return s.db }

type conversationRow struct {
	ID            int64          `db:"id"`
	ChannelUserID string         `db:"channel_user_id"`
	DisplayName   sql.NullString `db:"display_name"`
	Status        string         `db:"status"`
	LastMessageAt time.Time      `db:"last_message_at"`
	CreatedAt     time.Time      `db:"created_at"`
	MessageCount  int64          `db:"message_count"`
}

func (r conversationRow) model() models.Conversation {
	return models.Conversation{
		ID:            r.ID,
		ChannelUserID: r.ChannelUserID,
		DisplayName:   r.DisplayName.String,
		Status:        models.ConversationStatus(r.Status),
		LastMessageAt: r.LastMessageAt,
		CreatedAt:     r.CreatedAt,
		MessageCount:  r.MessageCount,
	}
}

const conversationColumns = `id, channel_user_id, display_name, status, last_message_at, created_at`

func (s *Service) q(query string) string { return s.db.Rebind(query) }

// insert runs an INSERT and returns the generated id. pgx has no LastInsertId.
func (s *Service) insert(ctx context.Context, query string, args ...any) (int64, error) {
	if s.db.DriverName() == "pgx" {
		var id int64
		if err := s.db.QueryRowxContext(ctx, s.q(query+" RETURNING id"), args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ConversationByChannelUser returns sql.ErrNoRows when the user never wrote in.
func (s *Service) ConversationByChannelUser(ctx context.Context, channelUserID string) (*models.Conversation, error) {
	var row conversationRow
	err := s.db.GetContext(ctx, &row,
		s.q(`SELECT `+conversationColumns+` FROM conversations WHERE channel_user_id = ?`),
		channelUserID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get conversation by user: %w", err)
	}
	conv := row.model()
	return &conv, nil
}

// GetOrCreateConversation returns the conversation for a channel user, creating
// it on first contact. displayName is only consulted when a row is created and
// may return "" when no profile is available.
func (s *Service) GetOrCreateConversation(ctx context.Context, channelUserID string, displayName func(context.Context) string) (*models.Conversation, bool, error) {
	channelUserID = strings.TrimSpace(channelUserID)
	if channelUserID == "" {
		return nil, false, errors.New("channel user id is required")
	}
	conv, err := s.ConversationByChannelUser(ctx, channelUserID)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	var name string
	if displayName != nil {
		name = strings.TrimSpace(displayName(ctx))
	}
	now := s.now()
	id, err := s.insert(ctx,
		`INSERT INTO conversations (channel_user_id, display_name, status, last_message_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		channelUserID, nullString(name), string(models.StatusActive), now, now,
	)
	if err != nil {
		// a concurrent first message may have created the row
		if existing, lookupErr := s.ConversationByChannelUser(ctx, channelUserID); lookupErr == nil {
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("create conversation: %w", err)
	}
	return &models.Conversation{
		ID:            id,
		ChannelUserID: channelUserID,
		DisplayName:   name,
		Status:        models.StatusActive,
		LastMessageAt: now,
		CreatedAt:     now,
	}, true, nil
}

// TouchConversation records activity on the conversation.
func (s *Service) TouchConversation(ctx context.Context, conversationID int64) error {
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE conversations SET last_message_at = ? WHERE id = ?`),
		s.now(), conversationID,
	)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListConversations returns conversations ordered by last activity with message counts.
func (s *Service) ListConversations(ctx context.Context, limit, offset int) ([]models.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var rows []conversationRow
	err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT c.id, c.channel_user_id, c.display_name, c.status, c.last_message_at, c.created_at,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id) AS message_count
		FROM conversations c
		ORDER BY c.last_message_at DESC, c.id DESC
		LIMIT ? OFFSET ?`), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	out := make([]models.Conversation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

// GetConversation returns one conversation and its messages oldest-first.
func (s *Service) GetConversation(ctx context.Context, id int64) (*models.Conversation, []*models.Message, error) {
	var row conversationRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, sql.ErrNoRows
		}
		return nil, nil, fmt.Errorf("get conversation: %w", err)
	}
	conv := row.model()

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows,
		s.q(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC`), id,
	); err != nil {
		return &conv, nil, fmt.Errorf("list messages: %w", err)
	}
	conv.MessageCount = int64(len(rows))
	messages := make([]*models.Message, 0, len(rows))
	for _, r := range rows {
		messages = append(messages, r.model())
	}
	return &conv, messages, nil
}

// UpdateConversationStatus moves a conversation between active, archived and blocked.
func (s *Service) UpdateConversationStatus(ctx context.Context, id int64, status models.ConversationStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE conversations SET status = ? WHERE id = ?`), string(status), id)
	if err != nil {
		return fmt.Errorf("update conversation status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conversation rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
