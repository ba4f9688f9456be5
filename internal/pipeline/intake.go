package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"seylanebot/internal/models"
	"seylanebot/internal/service/instagram"
)

const (
	dedupePrefix = "seylane:mid:"
	dedupeTTL    = 24 * time.Hour
)

// Deduper is satisfied by *redis.Client.
type Deduper interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
}

// Intake stores an inbound message and decides whether it gets an answer.
type Intake struct {
	store  Store
	hub    *Hub
	dedupe Deduper
	logger *slog.Logger
}

func NewIntake(store Store, hub *Hub, dedupe Deduper, logger *slog.Logger) *Intake {
	if logger == nil {
		logger = slog.Default()
	}
	return &Intake{store: store, hub: hub, dedupe: dedupe, logger: logger}
}

// Accept persists the user message. It returns ok=false for redeliveries and
// for blocked conversations, which are stored but not answered.
func (in *Intake) Accept(ctx context.Context, ev *instagram.InboundEvent) (Turn, bool, error) {
	if ev == nil {
		return Turn{}, false, nil
	}
	if in.duplicate(ctx, ev.MID) {
		in.logger.Info("duplicate delivery dropped", "mid", ev.MID, "sender_id", ev.SenderID)
		return Turn{}, false, nil
	}

	conv, isNew, err := in.store.GetOrCreateConversation(ctx, ev.SenderID, in.displayName(ev.SenderID))
	if err != nil {
		return Turn{}, false, fmt.Errorf("get conversation: %w", err)
	}
	if isNew {
		in.logger.Info("conversation started", "conversation_id", conv.ID, "sender_id", ev.SenderID, "display_name", conv.DisplayName)
	}
	if conv.Status == models.StatusArchived {
		if err := in.store.UpdateConversationStatus(ctx, conv.ID, models.StatusActive); err != nil {
			in.logger.Warn("reactivate conversation failed", "conversation_id", conv.ID, "error", err)
		}
	}
	if err := in.store.TouchConversation(ctx, conv.ID); err != nil {
		in.logger.Warn("touch conversation failed", "conversation_id", conv.ID, "error", err)
	}

	msg, err := in.store.InsertMessage(ctx, models.Message{
		ConversationID: conv.ID,
		Role:           models.RoleUser,
		Content:        ev.Text,
	})
	if err != nil {
		return Turn{}, false, fmt.Errorf("store user message: %w", err)
	}
	turn := Turn{ConversationID: conv.ID, SenderID: ev.SenderID, Text: ev.Text, UserMessageID: msg.ID}
	if conv.Status == models.StatusBlocked {
		in.logger.Info("message from blocked conversation stored without reply", "conversation_id", conv.ID)
		return turn, false, nil
	}
	return turn, true, nil
}

func (in *Intake) duplicate(ctx context.Context, mid string) bool {
	if in.dedupe == nil || mid == "" {
		return false
	}
	fresh, err := in.dedupe.SetNX(ctx, dedupePrefix+mid, 1, dedupeTTL)
	if err != nil {
		in.logger.Warn("dedupe check failed", "mid", mid, "error", err)
		return false
	}
	return !fresh
}

func (in *Intake) displayName(senderID string) func(context.Context) string {
	return func(ctx context.Context) string {
		svc := in.hub.Current()
		if svc == nil || svc.Gateway == nil {
			return ""
		}
		return svc.Gateway.UserProfile(ctx, senderID)
	}
}
