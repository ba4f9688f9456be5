package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"seylanebot/internal/models"
	"seylanebot/internal/service/llm"
)

// DefaultWindow is how many trailing turns the classifier shows the model.
const DefaultWindow = 5

const systemPrompt = `You are an AI assistant that analyzes customer messages for an e-commerce store.
Your job is to classify the intent and extract relevant parameters.

Intent types:
- product_search: Customer looking for products
- general_question: Questions about the store, shipping, returns, etc.
- greeting: Hello, hi, hey, etc.
- order_status: Asking about existing orders
- help: Need assistance or information
- goodbye: Ending conversation
- unknown: Cannot determine intent

For product_search, extract:
- productType (e.g., "dress", "shoes", "laptop")
- color (if mentioned)
- minPrice and maxPrice (if mentioned, in USD)
- category (e.g., "clothing", "electronics")
- size (if mentioned)
- brand (if mentioned)
- keywords (array of search terms)

Respond ONLY with valid JSON in this format:
{
  "intent": "product_search",
  "confidence": 0.95,
  "parameters": {
    "productType": "dress",
    "color": "red",
    "maxPrice": 50,
    "keywords": ["red", "dress", "affordable"]
  },
  "requiresCatalogLookup": true
}`

// Classifier turns a message into an IntentAnalysis with one model call.
type Classifier struct {
	client llm.Client
	window int
	logger *slog.Logger
}

type Option func(*Classifier)

func WithWindow(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.window = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewClassifier(client llm.Client, opts ...Option) *Classifier {
	c := &Classifier{client: client, window: DefaultWindow, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify never fails: any model or parse problem yields DefaultIntent and a
// non-OK outcome describing why.
func (c *Classifier) Classify(ctx context.Context, text string, history []models.ChatTurn) (models.IntentAnalysis, models.Outcome) {
	if c.client == nil {
		return models.DefaultIntent(), models.Failed(models.FailureNotConfigured, errors.New("no language model"))
	}
	turns := append([]models.ChatTurn{}, models.LastTurns(history, c.window)...)
	turns = append(turns, models.ChatTurn{Role: models.RoleUser, Content: `Analyze this message: "`+text+`"`})

	content, err := c.client.Complete(ctx, systemPrompt, turns, llm.WithTemperature(0.3), llm.WithMaxTokens(300))
	if err != nil {
		c.logger.Debug("intent classification call failed", "error", err)
		return models.DefaultIntent(), models.Failed(llm.KindOf(err), err)
	}
	analysis, err := Parse(content)
	if err != nil {
		c.logger.Debug("intent classification unparseable", "error", err)
		return models.DefaultIntent(), models.Failed(models.FailureParse, err)
	}
	return analysis, models.Succeeded()
}

type wireAnalysis struct {
	Intent                string               `json:"intent"`
	Confidence            *float64             `json:"confidence"`
	Parameters            *models.IntentParams `json:"parameters"`
	RequiresCatalogLookup *bool                `json:"requiresCatalogLookup"`
	RequiresWooCommerce   *bool                `json:"requiresWooCommerce"`
}

// Parse decodes a model reply. Code fences and surrounding prose are tolerated;
// an intent outside the known set is a parse error.
func Parse(content string) (models.IntentAnalysis, error) {
	raw := extractJSON(content)
	if raw == "" {
		return models.IntentAnalysis{}, errors.New("no JSON object in reply")
	}
	var wire wireAnalysis
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return models.IntentAnalysis{}, fmt.Errorf("decode intent: %w", err)
	}
	intent := models.IntentType(strings.ToLower(strings.TrimSpace(wire.Intent)))
	if !intent.Known() {
		return models.IntentAnalysis{}, fmt.Errorf("unknown intent %q", wire.Intent)
	}

	analysis := models.IntentAnalysis{Intent: intent, Confidence: 0.5, Parameters: wire.Parameters}
	if wire.Confidence != nil {
		analysis.Confidence = clamp(*wire.Confidence)
	}
	switch {
	case wire.RequiresCatalogLookup != nil:
		analysis.RequiresCatalogLookup = *wire.RequiresCatalogLookup
	case wire.RequiresWooCommerce != nil:
		analysis.RequiresCatalogLookup = *wire.RequiresWooCommerce
	}
	return analysis, nil
}

func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
