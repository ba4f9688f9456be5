package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"seylanebot/internal/models"
)

const DefaultArchiveInterval = time.Hour

// ArchiveIdle archives active conversations whose last message is older than before.
// Blocked conversations are left untouched.
func (s *Service) ArchiveIdle(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE conversations SET status = ? WHERE status = ? AND last_message_at < ?`),
		string(models.StatusArchived), string(models.StatusActive), before,
	)
	if err != nil {
		return 0, fmt.Errorf("archive idle conversations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("archived rows affected: %w", err)
	}
	return n, nil
}

// StartArchiver periodically archives conversations idle for longer than maxIdle.
// A non-positive maxIdle disables it.
func (s *Service) StartArchiver(ctx context.Context, maxIdle, interval time.Duration, logger *slog.Logger) {
	if maxIdle <= 0 {
		return
	}
	if interval <= 0 {
		interval = DefaultArchiveInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	go s.archiveLoop(ctx, maxIdle, interval, logger)
}

func (s *Service) archiveLoop(ctx context.Context, maxIdle, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.ArchiveIdle(ctx, s.now().Add(-maxIdle))
			if err != nil {
				logger.Error("archive idle conversations", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("archived idle conversations", "count", n)
			}
		}
	}
}
