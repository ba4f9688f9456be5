package reply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"seylanebot/internal/models"
	"seylanebot/internal/service/llm"
)

// Apology is returned whenever the model cannot produce a reply.
const Apology = "I apologize, but I had trouble processing that. Could you try rephrasing?"

const DefaultWindow = 5

const personaPrompt = `You are a friendly and helpful customer service assistant for an online store.
Your goal is to help customers find products and answer their questions.

Guidelines:
- Be conversational and warm
- Keep responses concise (2-3 sentences max)
- If showing products, describe them enthusiastically
- Always be helpful and positive
- Use emojis sparingly (1-2 max)`

const productPromptTemplate = `You are writing a friendly product recommendation message.
The customer searched for: "%s"

Create an engaging message (2-3 sentences) that:
1. Acknowledges what they're looking for
2. Mentions you found %d product(s)
3. Encourages them to check out the products

Be enthusiastic but not pushy. Use 1-2 emojis max.`

// Generator writes replies in the store persona.
type Generator struct {
	client    llm.Client
	knowledge string
	window    int
	logger    *slog.Logger
}

type Option func(*Generator)

// WithKnowledge appends store facts to every conversational prompt.
func WithKnowledge(text string) Option {
	return func(g *Generator) { g.knowledge = strings.TrimSpace(text) }
}

func WithWindow(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.window = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func NewGenerator(client llm.Client, opts ...Option) *Generator {
	g := &Generator{client: client, window: DefaultWindow, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Conversational answers a non-catalog turn. On failure it returns Apology.
func (g *Generator) Conversational(ctx context.Context, text string, history []models.ChatTurn, intent models.IntentType) (string, models.Outcome) {
	if g.client == nil {
		return Apology, models.Failed(models.FailureNotConfigured, errors.New("no language model"))
	}
	system := personaPrompt
	if intent != "" && intent != models.IntentUnknown {
		system += "\n\nCustomer intent: " + string(intent)
	}
	if g.knowledge != "" {
		system += "\n\nAdditional context: " + g.knowledge
	}
	turns := append([]models.ChatTurn{}, models.LastTurns(history, g.window)...)
	turns = append(turns, models.ChatTurn{Role: models.RoleUser, Content: text})

	out, err := g.client.Complete(ctx, system, turns, llm.WithTemperature(0.7), llm.WithMaxTokens(200))
	if err != nil {
		g.logger.Debug("conversational reply failed", "error", err)
		return Apology, models.Failed(llm.KindOf(err), err)
	}
	return strings.TrimSpace(out), models.Succeeded()
}

// ProductSummary introduces search results. An empty list is answered without
// calling the model.
func (g *Generator) ProductSummary(ctx context.Context, products []models.Product, query string) (string, models.Outcome) {
	if len(products) == 0 {
		return NotFound(query), models.Succeeded()
	}
	if g.client == nil {
		return Apology, models.Failed(models.FailureNotConfigured, errors.New("no language model"))
	}
	names := make([]string, 0, len(products))
	for _, p := range products {
		names = append(names, p.Name)
	}
	system := fmt.Sprintf(productPromptTemplate, query, len(products))
	turns := []models.ChatTurn{{Role: models.RoleUser, Content: "Products found: " + strings.Join(names, ", ")}}

	out, err := g.client.Complete(ctx, system, turns, llm.WithTemperature(0.8), llm.WithMaxTokens(150))
	if err != nil {
		kind := llm.KindOf(err)
		g.logger.Debug("product summary failed", "error", err)
		if kind == models.FailureEmpty {
			return FoundCount(len(products)), models.Failed(kind, err)
		}
		return Apology, models.Failed(kind, err)
	}
	return strings.TrimSpace(out), models.Succeeded()
}

// NotFound is the reply for a search with no matches.
func NotFound(query string) string {
	return fmt.Sprintf("I couldn't find any products matching %q. Could you try describing what you're looking for in a different way? 😊", query)
}

func FoundCount(n int) string {
	suffix := ""
	if n > 1 {
		suffix = "s"
	}
	return fmt.Sprintf("Great! I found %d product%s for you! 🎉", n, suffix)
}
