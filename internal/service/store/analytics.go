package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"seylanebot/internal/models"
)

type Overview struct {
	TotalConversations  int64 `json:"totalConversations"`
	TotalMessages       int64 `json:"totalMessages"`
	ActiveConversations int64 `json:"activeConversations"`
	ProductSearches     int64 `json:"productSearches"`
}

type DailyCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

type IntentCount struct {
	Intent string `db:"intent" json:"intent"`
	Count  int64  `db:"count" json:"count"`
}

// Overview returns dashboard totals. Active means a message in the last 24 hours.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	var out Overview
	if err := s.db.GetContext(ctx, &out.TotalConversations, `SELECT COUNT(*) FROM conversations`); err != nil {
		return out, fmt.Errorf("count conversations: %w", err)
	}
	if err := s.db.GetContext(ctx, &out.TotalMessages, `SELECT COUNT(*) FROM messages`); err != nil {
		return out, fmt.Errorf("count messages: %w", err)
	}
	since := s.now().Add(-24 * time.Hour)
	if err := s.db.GetContext(ctx, &out.ActiveConversations,
		s.q(`SELECT COUNT(*) FROM conversations WHERE last_message_at >= ?`), since,
	); err != nil {
		return out, fmt.Errorf("count active conversations: %w", err)
	}
	if err := s.db.GetContext(ctx, &out.ProductSearches,
		s.q(`SELECT COUNT(*) FROM messages WHERE intent = ?`), string(models.IntentProductSearch),
	); err != nil {
		return out, fmt.Errorf("count product searches: %w", err)
	}
	return out, nil
}

// MessagesOverTime buckets messages of the last days by UTC calendar day.
// Bucketing happens here so the query stays portable across drivers.
func (s *Service) MessagesOverTime(ctx context.Context, days int) ([]DailyCount, error) {
	if days <= 0 {
		days = 30
	}
	since := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	var stamps []time.Time
	if err := s.db.SelectContext(ctx, &stamps,
		s.q(`SELECT created_at FROM messages WHERE created_at >= ?`), since,
	); err != nil {
		return nil, fmt.Errorf("messages over time: %w", err)
	}
	counts := make(map[string]int64)
	for _, ts := range stamps {
		counts[ts.UTC().Format("2006-01-02")]++
	}
	out := make([]DailyCount, 0, len(counts))
	for day, n := range counts {
		out = append(out, DailyCount{Date: day, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// IntentDistribution counts classified messages per intent, most frequent first.
func (s *Service) IntentDistribution(ctx context.Context) ([]IntentCount, error) {
	var out []IntentCount
	if err := s.db.SelectContext(ctx, &out, `
		SELECT intent, COUNT(*) AS count
		FROM messages
		WHERE intent IS NOT NULL
		GROUP BY intent
		ORDER BY count DESC, intent ASC`,
	); err != nil {
		return nil, fmt.Errorf("intent distribution: %w", err)
	}
	return out, nil
}
