package instagram

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"seylanebot/internal/models"
)

const (
	DigestPerProduct = "per_product"
	DigestBatched    = "batched"
	DefaultDigestCap = 3
)

// Messenger is the Graph surface the gateway drives.
type Messenger interface {
	Configured() bool
	SendText(ctx context.Context, recipientID, text string) error
	SendAction(ctx context.Context, recipientID, action string) error
	Profile(ctx context.Context, userID string) (*Profile, error)
	Me(ctx context.Context) (*Profile, error)
}

// InboundEvent is a normalized inbound text message.
type InboundEvent struct {
	SenderID string
	Text     string
	MID      string
}

type GatewayOption func(*Gateway)

func WithVerifyToken(token string) GatewayOption {
	return func(g *Gateway) { g.verifyToken = strings.TrimSpace(token) }
}

func WithDigestMode(mode string) GatewayOption {
	return func(g *Gateway) {
		if mode == DigestBatched {
			g.digestMode = DigestBatched
		}
	}
}

func WithLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// Gateway is the fail-soft messaging boundary: sends report success as a bool.
type Gateway struct {
	client      Messenger
	verifyToken string
	digestMode  string
	logger      *slog.Logger
}

func NewGateway(client Messenger, opts ...GatewayOption) *Gateway {
	g := &Gateway{client: client, digestMode: DigestPerProduct, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// VerifyHandshake echoes the challenge for a subscribe request with the right token.
func (g *Gateway) VerifyHandshake(mode, token, challenge string) (string, bool) {
	if g.verifyToken == "" || mode != "subscribe" {
		return "", false
	}
	if !hmac.Equal([]byte(token), []byte(g.verifyToken)) {
		return "", false
	}
	return challenge, true
}

type webhookEnvelope struct {
	Object string `json:"object"`
	Entry  []struct {
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Message *struct {
				MID    string `json:"mid"`
				Text   string `json:"text"`
				IsEcho bool   `json:"is_echo"`
			} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

// ParseInboundEvent extracts the first messaging entry. Envelopes without a
// text message yield nil and no error.
func ParseInboundEvent(raw []byte) (*InboundEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}
	if env.Object != "instagram" || len(env.Entry) == 0 || len(env.Entry[0].Messaging) == 0 {
		return nil, nil
	}
	m := env.Entry[0].Messaging[0]
	if m.Message == nil || m.Message.IsEcho || strings.TrimSpace(m.Message.Text) == "" || m.Sender.ID == "" {
		return nil, nil
	}
	return &InboundEvent{SenderID: m.Sender.ID, Text: m.Message.Text, MID: m.Message.MID}, nil
}

// VerifySignature checks an X-Hub-Signature-256 header against the body.
func VerifySignature(body []byte, header, appSecret string) bool {
	if appSecret == "" || !strings.HasPrefix(header, "sha256=") {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.TrimPrefix(header, "sha256=")), []byte(computed))
}

// Deliver sends one text and reports whether it went out.
func (g *Gateway) Deliver(ctx context.Context, recipientID, text string) bool {
	if err := g.client.SendText(ctx, recipientID, text); err != nil {
		g.logger.Warn("instagram send failed", "recipient", recipientID, "error", err)
		return false
	}
	return true
}

// Typing toggles the composing indicator, best-effort.
func (g *Gateway) Typing(ctx context.Context, recipientID string, on bool) bool {
	action := ActionTypingOff
	if on {
		action = ActionTypingOn
	}
	if err := g.client.SendAction(ctx, recipientID, action); err != nil {
		g.logger.Debug("instagram sender action failed", "action", action, "error", err)
		return false
	}
	return true
}

// DeliverWithTypingIndicator shows the indicator for delay, sends text, then
// clears the indicator. Only the send decides the result.
func (g *Gateway) DeliverWithTypingIndicator(ctx context.Context, recipientID, text string, delay time.Duration) bool {
	g.Typing(ctx, recipientID, true)
	if err := sleep(ctx, delay); err != nil {
		return false
	}
	ok := g.Deliver(ctx, recipientID, text)
	g.Typing(context.WithoutCancel(ctx), recipientID, false)
	return ok
}

// DeliverProductDigest sends intro (when non-empty) and at most limit products.
// Per-product mode sends one message per product; batched mode sends a single list.
func (g *Gateway) DeliverProductDigest(ctx context.Context, recipientID, intro string, products []models.Product, limit int) bool {
	if limit <= 0 {
		limit = DefaultDigestCap
	}
	if len(products) > limit {
		products = products[:limit]
	}
	ok := true
	if strings.TrimSpace(intro) != "" {
		ok = g.Deliver(ctx, recipientID, intro)
	}
	if len(products) == 0 {
		return ok
	}
	if g.digestMode == DigestBatched {
		return g.Deliver(ctx, recipientID, FormatProductList(products)) && ok
	}
	for _, p := range products {
		if !g.Deliver(ctx, recipientID, FormatProduct(p)) {
			ok = false
		}
	}
	return ok
}

// UserProfile looks up a display name. Failure yields "".
func (g *Gateway) UserProfile(ctx context.Context, userID string) string {
	p, err := g.client.Profile(ctx, userID)
	if err != nil {
		g.logger.Debug("instagram profile lookup failed", "user", userID, "error", err)
		return ""
	}
	return p.DisplayName()
}

func (g *Gateway) TestConnection(ctx context.Context) models.ConnectionResult {
	if g.client == nil || !g.client.Configured() {
		return models.ConnectionResult{Success: false, Message: "Access token not configured"}
	}
	me, err := g.client.Me(ctx)
	if err != nil {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.Message != "" {
			return models.ConnectionResult{Success: false, Message: statusErr.Message}
		}
		return models.ConnectionResult{Success: false, Message: err.Error()}
	}
	name := me.Name
	if name == "" {
		name = me.ID
	}
	return models.ConnectionResult{Success: true, Message: "Connected successfully to account: " + name}
}

// FormatProduct renders one digest entry.
func FormatProduct(p models.Product) string {
	return fmt.Sprintf("\n%s\n💰 %s\n🔗 %s", p.Name, p.Price, p.Permalink)
}

// FormatProductList renders all products as a single numbered message.
func FormatProductList(products []models.Product) string {
	if len(products) == 0 {
		return ""
	}
	suffix := ""
	if len(products) > 1 {
		suffix = "s"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Here are %d product%s I found:\n\n", len(products), suffix)
	for i, p := range products {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, p.Name)
		fmt.Fprintf(&b, "   💰 Price: %s\n", p.Price)
		fmt.Fprintf(&b, "   🔗 %s\n", p.Permalink)
		if p.OnSale && p.SalePrice != "" {
			b.WriteString("   🏷️ On Sale!\n")
		}
	}
	return b.String()
}

func sleep(ctx context.Context, d time.Duration) error {
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
