package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"seylanebot/internal/models"
	"seylanebot/internal/service/catalog"
	"seylanebot/internal/service/instagram"
	"seylanebot/internal/service/intent"
	"seylanebot/internal/service/llm"
	"seylanebot/internal/service/reply"
	"seylanebot/internal/settings"
)

type IntentClassifier interface {
	Classify(ctx context.Context, text string, history []models.ChatTurn) (models.IntentAnalysis, models.Outcome)
}

type CatalogSearcher interface {
	IsReady() bool
	Search(ctx context.Context, analysis models.IntentAnalysis) ([]models.Product, models.Outcome)
}

type ReplyGenerator interface {
	Conversational(ctx context.Context, text string, history []models.ChatTurn, intent models.IntentType) (string, models.Outcome)
	ProductSummary(ctx context.Context, products []models.Product, query string) (string, models.Outcome)
}

// Messenger is the outbound side of the messaging gateway.
type Messenger interface {
	Deliver(ctx context.Context, recipientID, text string) bool
	Typing(ctx context.Context, recipientID string, on bool) bool
	DeliverWithTypingIndicator(ctx context.Context, recipientID, text string, delay time.Duration) bool
	DeliverProductDigest(ctx context.Context, recipientID, intro string, products []models.Product, limit int) bool
	UserProfile(ctx context.Context, userID string) string
}

// Verifier answers the webhook subscription handshake.
type Verifier interface {
	VerifyHandshake(mode, token, challenge string) (string, bool)
}

// ConnectionChecker proves an external credential works.
type ConnectionChecker interface {
	TestConnection(ctx context.Context) models.ConnectionResult
}

// Services is one immutable set of clients built from a settings snapshot.
// Turns hold on to the bundle they started with.
type Services struct {
	Snapshot   settings.Snapshot
	Classifier IntentClassifier
	Catalog    CatalogSearcher
	Generator  ReplyGenerator
	Gateway    Messenger
	Verifier   Verifier
	Checks     map[string]ConnectionChecker

	builder *Builder
}

// Reconfigure builds a fresh bundle from snap. The receiver is untouched.
func (s *Services) Reconfigure(ctx context.Context, snap settings.Snapshot) (*Services, error) {
	if s.builder == nil {
		return nil, fmt.Errorf("services were not built by a builder")
	}
	return s.builder.Build(ctx, snap)
}

// Builder turns snapshots into Services.
type Builder struct {
	Knowledge  string
	DigestMode string
	Logger     *slog.Logger
}

func (b *Builder) Build(ctx context.Context, snap settings.Snapshot) (*Services, error) {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	llmSvc, err := llm.New(ctx, llm.Config{
		Provider: snap.LLMProvider,
		Model:    snap.LLMModel,
		BaseURL:  snap.LLMBaseURL,
		APIKey:   snap.LLMAPIKey,
	})
	if err != nil {
		return nil, err
	}
	woo := catalog.NewWooCommerce(catalog.Config{
		URL:            snap.WooURL,
		ConsumerKey:    snap.WooConsumerKey,
		ConsumerSecret: snap.WooConsumerSecret,
	})
	gateway := instagram.NewGateway(
		instagram.NewClient(instagram.Config{AccessToken: snap.InstagramAccessToken, GraphBase: snap.InstagramGraphBase}),
		instagram.WithVerifyToken(snap.InstagramVerifyToken),
		instagram.WithDigestMode(b.DigestMode),
		instagram.WithLogger(logger.With("component", "instagram")),
	)
	return &Services{
		Snapshot:   snap,
		Classifier: intent.NewClassifier(llmSvc, intent.WithLogger(logger.With("component", "intent"))),
		Catalog:    catalog.NewAdapter(woo, logger.With("component", "catalog")),
		Generator: reply.NewGenerator(llmSvc,
			reply.WithKnowledge(b.Knowledge),
			reply.WithLogger(logger.With("component", "reply")),
		),
		Gateway:  gateway,
		Verifier: gateway,
		Checks: map[string]ConnectionChecker{
			"openai":      llmSvc,
			"woocommerce": woo,
			"instagram":   gateway,
		},
		builder: b,
	}, nil
}

// Hub publishes the current Services.
type Hub struct {
	current atomic.Pointer[Services]
	logger  *slog.Logger
}

func NewHub(initial *Services, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{logger: logger}
	h.current.Store(initial)
	return h
}

func (h *Hub) Current() *Services { return h.current.Load() }

// Apply swaps in a bundle built from snap. On failure the old bundle stays.
func (h *Hub) Apply(ctx context.Context, snap settings.Snapshot) error {
	cur := h.Current()
	if cur == nil {
		return fmt.Errorf("no services to reconfigure")
	}
	if cur.Snapshot == snap {
		return nil
	}
	next, err := cur.Reconfigure(ctx, snap)
	if err != nil {
		h.logger.Error("reconfigure services", "error", err)
		return err
	}
	h.current.Store(next)
	h.logger.Info("services reconfigured", "llm_provider", snap.LLMProvider, "catalog_ready", next.Catalog.IsReady())
	return nil
}
