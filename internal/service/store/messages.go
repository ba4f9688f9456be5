package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"seylanebot/internal/models"
)

type messageRow struct {
	ID             int64          `db:"id"`
	ConversationID int64          `db:"conversation_id"`
	Role           string         `db:"role"`
	Content        string         `db:"content"`
	Intent         sql.NullString `db:"intent"`
	IntentData     sql.NullString `db:"intent_data"`
	CreatedAt      time.Time      `db:"created_at"`
}

const messageColumns = `id, conversation_id, role, content, intent, intent_data, created_at`

func (r messageRow) model() *models.Message {
	msg := &models.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		Role:           models.Role(r.Role),
		Content:        r.Content,
		Intent:         models.IntentType(r.Intent.String),
		CreatedAt:      r.CreatedAt,
	}
	if r.IntentData.Valid && r.IntentData.String != "" {
		var params models.IntentParams
		if err := json.Unmarshal([]byte(r.IntentData.String), &params); err == nil {
			msg.IntentData = &params
		}
	}
	return msg
}

// InsertMessage stores a message and returns it with id and timestamp populated.
func (s *Service) InsertMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	if msg.ConversationID <= 0 {
		return nil, errors.New("conversation_id is required")
	}
	if msg.Role == "" {
		return nil, errors.New("role is required")
	}
	intentData, err := encodeParams(msg.IntentData)
	if err != nil {
		return nil, err
	}
	now := s.now()
	id, err := s.insert(ctx,
		`INSERT INTO messages (conversation_id, role, content, intent, intent_data, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ConversationID, string(msg.Role), msg.Content, nullString(string(msg.Intent)), intentData, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	msg.ID = id
	msg.CreatedAt = now
	return &msg, nil
}

// UpdateMessageIntent attaches a classification result to a stored user message.
func (s *Service) UpdateMessageIntent(ctx context.Context, messageID int64, intent models.IntentType, params *models.IntentParams) error {
	intentData, err := encodeParams(params)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE messages SET intent = ?, intent_data = ? WHERE id = ?`),
		nullString(string(intent)), intentData, messageID,
	)
	if err != nil {
		return fmt.Errorf("update message intent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("message rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RecentMessages returns the newest limit messages of a conversation in chronological order.
func (s *Service) RecentMessages(ctx context.Context, conversationID int64, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows,
		s.q(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? ORDER BY id DESC LIMIT ?`),
		conversationID, limit,
	); err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	out := make([]*models.Message, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r.model()
	}
	return out, nil
}

// FindRecentUserMessage scans the newest window messages, newest first, for a
// user message whose content matches exactly. Returns sql.ErrNoRows when none match.
func (s *Service) FindRecentUserMessage(ctx context.Context, conversationID int64, content string, window int) (int64, error) {
	if window <= 0 {
		return 0, sql.ErrNoRows
	}
	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows,
		s.q(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? ORDER BY id DESC LIMIT ?`),
		conversationID, window,
	); err != nil {
		return 0, fmt.Errorf("scan recent messages: %w", err)
	}
	for _, r := range rows {
		if r.Role == string(models.RoleUser) && r.Content == content {
			return r.ID, nil
		}
	}
	return 0, sql.ErrNoRows
}

// RecentLogs returns the newest messages joined with their conversation owner.
func (s *Service) RecentLogs(ctx context.Context, limit int) ([]models.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	type logRow struct {
		messageRow
		ChannelUserID string         `db:"channel_user_id"`
		DisplayName   sql.NullString `db:"display_name"`
	}
	var rows []logRow
	if err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT m.id, m.conversation_id, m.role, m.content, m.intent, m.intent_data, m.created_at,
			c.channel_user_id, c.display_name
		FROM messages m
		INNER JOIN conversations c ON c.id = m.conversation_id
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?`), limit,
	); err != nil {
		return nil, fmt.Errorf("recent logs: %w", err)
	}
	out := make([]models.LogEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.LogEntry{
			ID:             r.ID,
			ConversationID: r.ConversationID,
			Role:           models.Role(r.Role),
			Content:        r.Content,
			Intent:         models.IntentType(r.Intent.String),
			CreatedAt:      r.CreatedAt,
			ChannelUserID:  r.ChannelUserID,
			DisplayName:    r.DisplayName.String,
		})
	}
	return out, nil
}

func encodeParams(params *models.IntentParams) (sql.NullString, error) {
	if params == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode intent data: %w", err)
	}
	if s := strings.TrimSpace(string(raw)); s == "{}" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}
