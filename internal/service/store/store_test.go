package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"seylanebot/internal/config"
	"seylanebot/internal/models"
	"seylanebot/internal/storage"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}}
	db, err := storage.Open("sqlite3", cfg)
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db))
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestService(t *testing.T) *Service {
	return NewService(openTestDB(t))
}

func TestGetOrCreateConversationLooksUpNameOnce(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	calls := 0
	name := func(context.Context) string {
		calls++
		return "shopper"
	}

	conv, created, err := svc.GetOrCreateConversation(ctx, "ig-1", name)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "shopper", conv.DisplayName)
	require.Equal(t, models.StatusActive, conv.Status)

	again, created, err := svc.GetOrCreateConversation(ctx, "ig-1", name)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, conv.ID, again.ID)
	require.Equal(t, 1, calls)
}

func TestGetOrCreateConversationWithoutProfile(t *testing.T) {
	svc := newTestService(t)
	conv, _, err := svc.GetOrCreateConversation(context.Background(), "ig-2", func(context.Context) string { return "" })
	require.NoError(t, err)
	require.Empty(t, conv.DisplayName)

	_, _, err = svc.GetOrCreateConversation(context.Background(), "  ", nil)
	require.Error(t, err)
}

func TestRecentMessagesReturnsNewestInOrder(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	conv, _, err := svc.GetOrCreateConversation(ctx, "ig-3", nil)
	require.NoError(t, err)

	for _, text := range []string{"m1", "m2", "m3", "m4", "m5"} {
		_, err := svc.InsertMessage(ctx, models.Message{ConversationID: conv.ID, Role: models.RoleUser, Content: text})
		require.NoError(t, err)
	}

	got, err := svc.RecentMessages(ctx, conv.ID, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "m3", got[0].Content)
	require.Equal(t, "m4", got[1].Content)
	require.Equal(t, "m5", got[2].Content)

	none, err := svc.RecentMessages(ctx, conv.ID, 0)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestUpdateMessageIntentRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	conv, _, err := svc.GetOrCreateConversation(ctx, "ig-4", nil)
	require.NoError(t, err)
	msg, err := svc.InsertMessage(ctx, models.Message{ConversationID: conv.ID, Role: models.RoleUser, Content: "red dress under 50"})
	require.NoError(t, err)

	maxPrice := 50.0
	params := &models.IntentParams{ProductType: "dress", Color: "red", MaxPrice: &maxPrice}
	require.NoError(t, svc.UpdateMessageIntent(ctx, msg.ID, models.IntentProductSearch, params))

	_, messages, err := svc.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, models.IntentProductSearch, messages[0].Intent)
	require.NotNil(t, messages[0].IntentData)
	require.Equal(t, "red", messages[0].IntentData.Color)
	require.InDelta(t, 50.0, *messages[0].IntentData.MaxPrice, 0.001)

	err = svc.UpdateMessageIntent(ctx, 9999, models.IntentGreeting, nil)
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestFindRecentUserMessageHonorsWindow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	conv, _, err := svc.GetOrCreateConversation(ctx, "ig-5", nil)
	require.NoError(t, err)

	first, err := svc.InsertMessage(ctx, models.Message{ConversationID: conv.ID, Role: models.RoleUser, Content: "hi"})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := svc.InsertMessage(ctx, models.Message{ConversationID: conv.ID, Role: models.RoleAssistant, Content: "hi"})
		require.NoError(t, err)
	}

	_, err = svc.FindRecentUserMessage(ctx, conv.ID, "hi", 5)
	require.ErrorIs(t, err, sql.ErrNoRows)

	id, err := svc.FindRecentUserMessage(ctx, conv.ID, "hi", 6)
	require.NoError(t, err)
	require.Equal(t, first.ID, id)
}

func TestListConversationsOrderedByActivity(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	svc.now = func() time.Time { return base }
	older, _, err := svc.GetOrCreateConversation(ctx, "ig-old", nil)
	require.NoError(t, err)
	_, err = svc.InsertMessage(ctx, models.Message{ConversationID: older.ID, Role: models.RoleUser, Content: "one"})
	require.NoError(t, err)

	svc.now = func() time.Time { return base.Add(time.Hour) }
	newer, _, err := svc.GetOrCreateConversation(ctx, "ig-new", nil)
	require.NoError(t, err)

	list, err := svc.ListConversations(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, newer.ID, list[0].ID)
	require.Equal(t, int64(0), list[0].MessageCount)
	require.Equal(t, older.ID, list[1].ID)
	require.Equal(t, int64(1), list[1].MessageCount)

	svc.now = func() time.Time { return base.Add(2 * time.Hour) }
	require.NoError(t, svc.TouchConversation(ctx, older.ID))
	list, err = svc.ListConversations(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, older.ID, list[0].ID)
}

func TestUpdateConversationStatus(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	conv, _, err := svc.GetOrCreateConversation(ctx, "ig-6", nil)
	require.NoError(t, err)

	require.NoError(t, svc.UpdateConversationStatus(ctx, conv.ID, models.StatusBlocked))
	got, err := svc.ConversationByChannelUser(ctx, "ig-6")
	require.NoError(t, err)
	require.Equal(t, models.StatusBlocked, got.Status)

	require.Error(t, svc.UpdateConversationStatus(ctx, conv.ID, "deleted"))
	require.ErrorIs(t, svc.UpdateConversationStatus(ctx, 4242, models.StatusActive), sql.ErrNoRows)

	_, _, err = svc.GetConversation(ctx, 4242)
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestAnalytics(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	svc.now = func() time.Time { return now.Add(-72 * time.Hour) }
	stale, _, err := svc.GetOrCreateConversation(ctx, "ig-stale", nil)
	require.NoError(t, err)
	_, err = svc.InsertMessage(ctx, models.Message{ConversationID: stale.ID, Role: models.RoleUser, Content: "old", Intent: models.IntentGreeting})
	require.NoError(t, err)

	svc.now = func() time.Time { return now }
	fresh, _, err := svc.GetOrCreateConversation(ctx, "ig-fresh", nil)
	require.NoError(t, err)
	for _, intent := range []models.IntentType{models.IntentProductSearch, models.IntentProductSearch, ""} {
		_, err := svc.InsertMessage(ctx, models.Message{ConversationID: fresh.ID, Role: models.RoleUser, Content: "x", Intent: intent})
		require.NoError(t, err)
	}

	overview, err := svc.Overview(ctx)
	require.NoError(t, err)
	require.Equal(t, Overview{TotalConversations: 2, TotalMessages: 4, ActiveConversations: 1, ProductSearches: 2}, overview)

	dist, err := svc.IntentDistribution(ctx)
	require.NoError(t, err)
	require.Equal(t, []IntentCount{{Intent: "product_search", Count: 2}, {Intent: "greeting", Count: 1}}, dist)

	series, err := svc.MessagesOverTime(ctx, 30)
	require.NoError(t, err)
	require.Len(t, series, 2)
	require.Equal(t, int64(1), series[0].Count)
	require.Equal(t, int64(3), series[1].Count)
	require.Equal(t, now.Format("2006-01-02"), series[1].Date)

	logs, err := svc.RecentLogs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, "ig-fresh", logs[0].ChannelUserID)
}

func TestSettingsUpsertKeepsDescription(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.UpsertSetting(ctx, "WOOCOMMERCE_URL", "https://a.example", "store url"))
	require.NoError(t, svc.UpsertSetting(ctx, "WOOCOMMERCE_URL", "https://b.example", ""))

	got, err := svc.GetSetting(ctx, "WOOCOMMERCE_URL")
	require.NoError(t, err)
	require.Equal(t, "https://b.example", got.Value)
	require.Equal(t, "store url", got.Description)

	all, err := svc.ListSettings(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	_, err = svc.GetSetting(ctx, "MISSING")
	require.ErrorIs(t, err, sql.ErrNoRows)

	require.NoError(t, svc.DeleteSetting(ctx, "WOOCOMMERCE_URL"))
	require.ErrorIs(t, svc.DeleteSetting(ctx, "WOOCOMMERCE_URL"), sql.ErrNoRows)
}

func TestArchiveIdleSkipsBlocked(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	idle, _, err := svc.GetOrCreateConversation(ctx, "ig-idle", nil)
	require.NoError(t, err)
	blocked, _, err := svc.GetOrCreateConversation(ctx, "ig-blocked", nil)
	require.NoError(t, err)
	require.NoError(t, svc.UpdateConversationStatus(ctx, blocked.ID, models.StatusBlocked))

	n, err := svc.ArchiveIdle(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	got, _, err := svc.GetConversation(ctx, idle.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusArchived, got.Status)
	got, _, err = svc.GetConversation(ctx, blocked.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusBlocked, got.Status)
}
