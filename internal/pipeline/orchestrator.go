package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"seylanebot/internal/config"
	"seylanebot/internal/models"
	"seylanebot/internal/service/reply"
)

// ErrorReply is sent when a turn fails outside the component guards.
const ErrorReply = "I apologize, but I encountered an error processing your message. Please try again or contact support if the issue persists."

const attachWindow = 5

// Store is the persistence surface a turn touches.
type Store interface {
	RecentMessages(ctx context.Context, conversationID int64, limit int) ([]*models.Message, error)
	InsertMessage(ctx context.Context, msg models.Message) (*models.Message, error)
	UpdateMessageIntent(ctx context.Context, messageID int64, intent models.IntentType, params *models.IntentParams) error
	FindRecentUserMessage(ctx context.Context, conversationID int64, content string, window int) (int64, error)
	GetOrCreateConversation(ctx context.Context, channelUserID string, displayName func(context.Context) string) (*models.Conversation, bool, error)
	TouchConversation(ctx context.Context, conversationID int64) error
	UpdateConversationStatus(ctx context.Context, id int64, status models.ConversationStatus) error
}

// Turn is one stored user message waiting for a reply.
type Turn struct {
	ConversationID int64
	SenderID       string
	Text           string
	UserMessageID  int64
}

// Result summarizes what a turn did.
type Result struct {
	Intent    models.IntentAnalysis
	Reply     string
	Products  int
	Delivered bool
	Fallback  bool
}

type Options struct {
	HistoryWindow      int
	CallTimeout        time.Duration
	TypingDelay        time.Duration
	ProductTypingDelay time.Duration
	DigestCap          int
	AttachMode         string
}

// OptionsFromConfig maps basic_config onto orchestrator options.
func OptionsFromConfig(b config.BasicConfig) Options {
	return Options{
		HistoryWindow:      b.HistoryWindow,
		CallTimeout:        b.CallTimeoutDuration(),
		TypingDelay:        b.TypingDelay(),
		ProductTypingDelay: b.ProductTypingDelay(),
		DigestCap:          b.DigestCap,
		AttachMode:         b.IntentAttachMode,
	}
}

// Orchestrator runs the classify, search, generate, deliver and persist
// sequence for one turn.
type Orchestrator struct {
	store  Store
	hub    *Hub
	opts   Options
	logger *slog.Logger
}

func NewOrchestrator(store Store, hub *Hub, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 10
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if opts.DigestCap <= 0 {
		opts.DigestCap = 3
	}
	return &Orchestrator{store: store, hub: hub, opts: opts, logger: logger}
}

// ProcessTurn always ends with one assistant message stored, or a logged
// attempt to store one.
func (o *Orchestrator) ProcessTurn(ctx context.Context, turn Turn) (res Result) {
	logger := o.logger.With("turn_id", uuid.NewString(), "conversation_id", turn.ConversationID, "sender_id", turn.SenderID)
	svc := o.hub.Current()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("turn panicked", "panic", r)
			res = o.fallback(ctx, logger, svc, turn, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := o.run(ctx, logger, svc, turn, &res); err != nil {
		logger.Error("turn failed", "error", err)
		return o.fallback(ctx, logger, svc, turn, err)
	}
	logger.Info("turn processed", "intent", res.Intent.Intent, "confidence", res.Intent.Confidence,
		"products", res.Products, "delivered", res.Delivered)
	return res
}

func (o *Orchestrator) run(ctx context.Context, logger *slog.Logger, svc *Services, turn Turn, res *Result) error {
	if svc == nil {
		return errors.New("no services configured")
	}
	history := o.history(ctx, logger, turn)

	cctx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
	analysis, outcome := svc.Classifier.Classify(cctx, turn.Text, history)
	cancel()
	if !outcome.OK() {
		logger.Warn("intent classification degraded", "kind", outcome.Kind, "error", outcome.Err)
	}
	res.Intent = analysis
	o.attachIntent(ctx, logger, turn, analysis)

	if analysis.WantsCatalog() {
		cctx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
		products, outcome := svc.Catalog.Search(cctx, analysis)
		cancel()
		if !outcome.OK() {
			logger.Warn("catalog search degraded", "kind", outcome.Kind, "error", outcome.Err)
		}
		res.Products = len(products)

		cctx, cancel = context.WithTimeout(ctx, o.opts.CallTimeout)
		summary, outcome := svc.Generator.ProductSummary(cctx, products, turn.Text)
		cancel()
		if !outcome.OK() {
			logger.Warn("product summary degraded", "kind", outcome.Kind, "error", outcome.Err)
		}
		res.Reply = summary
		res.Delivered = o.deliverProducts(ctx, svc, turn.SenderID, summary, products)
	} else {
		cctx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
		text, outcome := svc.Generator.Conversational(cctx, turn.Text, history, analysis.Intent)
		cancel()
		if !outcome.OK() {
			logger.Warn("reply generation degraded", "kind", outcome.Kind, "error", outcome.Err)
			if canned, ok := reply.CannedReply(analysis.Intent); ok {
				text = canned
			}
		}
		res.Reply = text
		dctx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout+o.opts.TypingDelay)
		res.Delivered = svc.Gateway.DeliverWithTypingIndicator(dctx, turn.SenderID, text, o.opts.TypingDelay)
		cancel()
	}
	if !res.Delivered {
		logger.Warn("reply not delivered")
	}

	_, err := o.store.InsertMessage(ctx, models.Message{
		ConversationID: turn.ConversationID,
		Role:           models.RoleAssistant,
		Content:        res.Reply,
		Intent:         analysis.Intent,
		IntentData:     analysis.Parameters,
	})
	if err != nil {
		return fmt.Errorf("persist reply: %w", err)
	}
	return nil
}

// deliverProducts wraps the summary and digest in one typing indicator.
func (o *Orchestrator) deliverProducts(ctx context.Context, svc *Services, recipient, summary string, products []models.Product) bool {
	dctx, cancel := context.WithTimeout(ctx, 2*o.opts.CallTimeout+o.opts.ProductTypingDelay)
	defer cancel()

	svc.Gateway.Typing(dctx, recipient, true)
	defer svc.Gateway.Typing(context.WithoutCancel(dctx), recipient, false)

	if err := pause(dctx, o.opts.ProductTypingDelay); err != nil {
		return false
	}
	ok := svc.Gateway.Deliver(dctx, recipient, summary)
	if len(products) > 0 {
		ok = svc.Gateway.DeliverProductDigest(dctx, recipient, "", products, o.opts.DigestCap) && ok
	}
	return ok
}

// history loads recent context without the message being answered.
func (o *Orchestrator) history(ctx context.Context, logger *slog.Logger, turn Turn) []models.ChatTurn {
	msgs, err := o.store.RecentMessages(ctx, turn.ConversationID, o.opts.HistoryWindow+1)
	if err != nil {
		logger.Warn("load history failed", "error", err)
		return nil
	}
	kept := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		if turn.UserMessageID != 0 && m.ID == turn.UserMessageID {
			continue
		}
		kept = append(kept, m)
	}
	return models.LastTurns(models.Turns(kept), o.opts.HistoryWindow)
}

func (o *Orchestrator) attachIntent(ctx context.Context, logger *slog.Logger, turn Turn, analysis models.IntentAnalysis) {
	id := turn.UserMessageID
	if o.opts.AttachMode == config.AttachByContent || id == 0 {
		found, err := o.store.FindRecentUserMessage(ctx, turn.ConversationID, turn.Text, attachWindow)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				logger.Warn("find user message failed", "error", err)
			}
			return
		}
		id = found
	}
	if err := o.store.UpdateMessageIntent(ctx, id, analysis.Intent, analysis.Parameters); err != nil {
		logger.Warn("attach intent failed", "message_id", id, "error", err)
	}
}

func (o *Orchestrator) fallback(ctx context.Context, logger *slog.Logger, svc *Services, turn Turn, cause error) Result {
	res := Result{Reply: ErrorReply, Fallback: true, Intent: models.DefaultIntent()}
	if svc != nil && svc.Gateway != nil {
		dctx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
		res.Delivered = svc.Gateway.Deliver(dctx, turn.SenderID, ErrorReply)
		cancel()
	}
	if _, err := o.store.InsertMessage(ctx, models.Message{
		ConversationID: turn.ConversationID,
		Role:           models.RoleAssistant,
		Content:        ErrorReply,
	}); err != nil {
		logger.Error("persist fallback reply failed", "error", err, "cause", cause)
	}
	return res
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
