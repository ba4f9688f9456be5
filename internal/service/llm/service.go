package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"seylanebot/internal/models"
)

// Client is the completion surface the classifier and reply generator depend on.
type Client interface {
	Complete(ctx context.Context, systemPrompt string, history []models.ChatTurn, opts ...CallOption) (string, error)
}

// Config selects a provider and its credentials.
type Config struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

// Error carries the failure kind of a completion call.
type Error struct {
	Kind models.FailureKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "llm: " + string(e.Kind)
	}
	return fmt.Sprintf("llm %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from err, defaulting to transport.
func KindOf(err error) models.FailureKind {
	if err == nil {
		return models.FailureNone
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return models.FailureTransport
}

var ErrNotConfigured = &Error{Kind: models.FailureNotConfigured, Err: errors.New("api key not configured")}

type callOptions struct {
	temperature *float32
	maxTokens   *int
}

type CallOption func(*callOptions)

func WithTemperature(t float32) CallOption {
	return func(o *callOptions) { o.temperature = &t }
}

func WithMaxTokens(n int) CallOption {
	return func(o *callOptions) { o.maxTokens = &n }
}

// Service runs one-shot completions against an eino chat model.
type Service struct {
	chatModel model.BaseChatModel
	provider  string
	modelName string
}

// New builds the provider's chat model. A missing API key yields a service
// whose calls fail with ErrNotConfigured.
func New(ctx context.Context, cfg Config) (*Service, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "openai"
	}
	svc := &Service{provider: provider, modelName: cfg.Model}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return svc, nil
	}

	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch provider {
	case "openai":
		modelName := cfg.Model
		if modelName == "" {
			modelName = "gpt-4"
		}
		svc.modelName = modelName
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   modelName,
			APIKey:  cfg.APIKey,
		})
	case "gemini":
		client, clientErr := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
		if clientErr != nil {
			return nil, fmt.Errorf("new gemini client: %w", clientErr)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  cfg.Model,
		})
	case "claude":
		var baseURL *string
		if cfg.BaseURL != "" {
			baseURL = &cfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   baseURL,
			MaxTokens: 1024,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	svc.chatModel = chatModel
	return svc, nil
}

// NewWithModel wraps an existing chat model.
func NewWithModel(chatModel model.BaseChatModel, provider string) *Service {
	return &Service{chatModel: chatModel, provider: provider}
}

func (s *Service) Provider() string { return s.provider }

// Configured reports whether calls can reach a provider.
func (s *Service) Configured() bool { return s != nil && s.chatModel != nil }

// Complete sends the system prompt followed by history and returns the reply text.
func (s *Service) Complete(ctx context.Context, systemPrompt string, history []models.ChatTurn, opts ...CallOption) (string, error) {
	if !s.Configured() {
		return "", ErrNotConfigured
	}
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}
	var modelOpts []model.Option
	if co.temperature != nil {
		modelOpts = append(modelOpts, model.WithTemperature(*co.temperature))
	}
	if co.maxTokens != nil {
		modelOpts = append(modelOpts, model.WithMaxTokens(*co.maxTokens))
	}

	resp, err := s.chatModel.Generate(ctx, convertMessages(systemPrompt, history), modelOpts...)
	if err != nil {
		return "", &Error{Kind: classify(ctx, err), Err: err}
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", &Error{Kind: models.FailureEmpty, Err: errors.New("empty completion")}
	}
	return resp.Content, nil
}

// TestConnection asks for a tiny completion to prove the credentials work.
func (s *Service) TestConnection(ctx context.Context) models.ConnectionResult {
	if !s.Configured() {
		return models.ConnectionResult{Success: false, Message: "API key not configured"}
	}
	name := providerLabel(s.provider)
	_, err := s.Complete(ctx, "", []models.ChatTurn{{Role: models.RoleUser, Content: `Say "Hello"`}}, WithMaxTokens(10))
	if err != nil {
		if KindOf(err) == models.FailureEmpty {
			return models.ConnectionResult{Success: false, Message: "Unexpected response from " + name}
		}
		return models.ConnectionResult{Success: false, Message: err.Error()}
	}
	return models.ConnectionResult{Success: true, Message: name + " connected successfully"}
}

func providerLabel(provider string) string {
	switch provider {
	case "openai":
		return "OpenAI"
	case "claude":
		return "Claude"
	case "gemini":
		return "Gemini"
	}
	return provider
}

func convertMessages(systemPrompt string, history []models.ChatTurn) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history)+1)
	if systemPrompt != "" {
		messages = append(messages, schema.SystemMessage(systemPrompt))
	}
	for _, turn := range history {
		var role schema.RoleType
		switch turn.Role {
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}
		messages = append(messages, &schema.Message{Role: role, Content: turn.Content})
	}
	return messages
}

func classify(ctx context.Context, err error) models.FailureKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return models.FailureTransport
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"401", "403", "unauthorized", "invalid api key", "incorrect api key", "authentication", "permission"} {
		if strings.Contains(msg, marker) {
			return models.FailureAuth
		}
	}
	return models.FailureTransport
}
