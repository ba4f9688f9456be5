package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"seylanebot/internal/models"
	"seylanebot/internal/service/llm"
)

type scriptedLLM struct {
	reply   string
	err     error
	system  string
	history []models.ChatTurn
}

func (s *scriptedLLM) Complete(_ context.Context, systemPrompt string, history []models.ChatTurn, _ ...llm.CallOption) (string, error) {
	s.system = systemPrompt
	s.history = history
	return s.reply, s.err
}

func TestClassifyProductSearch(t *testing.T) {
	fake := &scriptedLLM{reply: "```json\n{\"intent\":\"product_search\",\"confidence\":0.92,\"parameters\":{\"productType\":\"dress\",\"color\":\"red\",\"maxPrice\":50},\"requiresCatalogLookup\":true}\n```"}
	c := NewClassifier(fake)

	got, outcome := c.Classify(context.Background(), "red dress under $50", nil)
	require.True(t, outcome.OK())
	require.Equal(t, models.IntentProductSearch, got.Intent)
	require.InDelta(t, 0.92, got.Confidence, 0.0001)
	require.True(t, got.WantsCatalog())
	require.Equal(t, "dress", got.Parameters.ProductType)
	require.InDelta(t, 50, *got.Parameters.MaxPrice, 0.0001)
	require.Nil(t, got.Parameters.MinPrice)
}

func TestClassifyTrimsHistoryToWindow(t *testing.T) {
	fake := &scriptedLLM{reply: `{"intent":"greeting","confidence":0.99,"requiresCatalogLookup":false}`}
	c := NewClassifier(fake)

	var history []models.ChatTurn
	for i := 0; i < 10; i++ {
		history = append(history, models.ChatTurn{Role: models.RoleUser, Content: string(rune('a' + i))})
	}
	got, outcome := c.Classify(context.Background(), "hi", history)
	require.True(t, outcome.OK())
	require.Equal(t, models.IntentGreeting, got.Intent)
	require.False(t, got.WantsCatalog())

	require.Len(t, fake.history, 6)
	require.Equal(t, "f", fake.history[0].Content)
	require.Equal(t, `Analyze this message: "hi"`, fake.history[5].Content)
	require.Contains(t, fake.system, "Respond ONLY with valid JSON")
	require.Len(t, history, 10)
}

func TestClassifyFallsBackOnModelError(t *testing.T) {
	c := NewClassifier(&scriptedLLM{err: &llm.Error{Kind: models.FailureAuth, Err: errors.New("401")}})
	got, outcome := c.Classify(context.Background(), "hi", nil)
	require.Equal(t, models.DefaultIntent(), got)
	require.Equal(t, models.FailureAuth, outcome.Kind)
}

func TestClassifyFallsBackOnGarbage(t *testing.T) {
	for _, reply := range []string{"sure! the user greets you", `{"intent": "shopping"}`, `{"intent": 3}`} {
		c := NewClassifier(&scriptedLLM{reply: reply})
		got, outcome := c.Classify(context.Background(), "hi", nil)
		require.Equal(t, models.DefaultIntent(), got, reply)
		require.Equal(t, models.FailureParse, outcome.Kind, reply)
		require.False(t, got.RequiresCatalogLookup)
	}
}

func TestClassifyWithoutClient(t *testing.T) {
	got, outcome := NewClassifier(nil).Classify(context.Background(), "hi", nil)
	require.Equal(t, models.IntentUnknown, got.Intent)
	require.Equal(t, models.FailureNotConfigured, outcome.Kind)
}

func TestParseAcceptsLegacyFlagAndClampsConfidence(t *testing.T) {
	got, err := Parse(`Here you go: {"intent":"PRODUCT_SEARCH","confidence":1.7,"requiresWooCommerce":true}`)
	require.NoError(t, err)
	require.Equal(t, models.IntentProductSearch, got.Intent)
	require.Equal(t, 1.0, got.Confidence)
	require.True(t, got.RequiresCatalogLookup)

	got, err = Parse(`{"intent":"help"}`)
	require.NoError(t, err)
	require.Equal(t, 0.5, got.Confidence)
	require.False(t, got.RequiresCatalogLookup)
}
