package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"seylanebot/internal/models"
)

type settingRow struct {
	Key         string         `db:"key_name"`
	Value       string         `db:"value"`
	Description sql.NullString `db:"description"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r settingRow) model() models.Setting {
	return models.Setting{Key: r.Key, Value: r.Value, Description: r.Description.String, UpdatedAt: r.UpdatedAt}
}

// ListSettings returns every stored setting as written, secrets still sealed.
func (s *Service) ListSettings(ctx context.Context) ([]models.Setting, error) {
	var rows []settingRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT key_name, value, description, updated_at FROM settings ORDER BY key_name`,
	); err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	out := make([]models.Setting, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

// GetSetting returns sql.ErrNoRows when the key was never written.
func (s *Service) GetSetting(ctx context.Context, key string) (*models.Setting, error) {
	var row settingRow
	err := s.db.GetContext(ctx, &row,
		s.q(`SELECT key_name, value, description, updated_at FROM settings WHERE key_name = ?`), key,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get setting: %w", err)
	}
	setting := row.model()
	return &setting, nil
}

// UpsertSetting writes a value; an empty description keeps the stored one.
func (s *Service) UpsertSetting(ctx context.Context, key, value, description string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("setting key is required")
	}
	var query string
	if s.db.DriverName() == "mysql" {
		query = `INSERT INTO settings (key_name, value, description, updated_at) VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE value = VALUES(value),
				description = COALESCE(VALUES(description), description),
				updated_at = VALUES(updated_at)`
	} else {
		query = `INSERT INTO settings (key_name, value, description, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(key_name) DO UPDATE SET value = excluded.value,
				description = COALESCE(excluded.description, settings.description),
				updated_at = excluded.updated_at`
	}
	if _, err := s.db.ExecContext(ctx, s.q(query), key, value, nullString(description), s.now()); err != nil {
		return fmt.Errorf("store setting %s: %w", key, err)
	}
	return nil
}

// DeleteSetting removes a key so lower configuration layers apply again.
func (s *Service) DeleteSetting(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM settings WHERE key_name = ?`), key)
	if err != nil {
		return fmt.Errorf("delete setting: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
