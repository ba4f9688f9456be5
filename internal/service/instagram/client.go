package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultGraphBase = "https://graph.facebook.com/v18.0"

const (
	ActionTypingOn  = "typing_on"
	ActionTypingOff = "typing_off"
)

// ErrNotConfigured is returned when no page access token is set.
var ErrNotConfigured = errors.New("instagram: access token not configured")

// HTTPStatusError captures non-2xx responses from the Graph API.
type HTTPStatusError struct {
	StatusCode int
	Path       string
	Message    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("instagram: unexpected status %d from %s: %s", e.StatusCode, e.Path, e.Message)
}

// Profile is the subset of a Graph user node the bot reads.
type Profile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

// DisplayName prefers the username, then the name.
func (p *Profile) DisplayName() string {
	if p == nil {
		return ""
	}
	if p.Username != "" {
		return p.Username
	}
	return p.Name
}

type Config struct {
	AccessToken string
	GraphBase   string
}

// Client talks to the Graph API send and user endpoints.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func NewClient(cfg Config, opts ...ClientOption) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.GraphBase), "/")
	if base == "" {
		base = DefaultGraphBase
	}
	c := &Client{
		baseURL:    base,
		token:      strings.TrimSpace(cfg.AccessToken),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Configured() bool { return c != nil && c.token != "" }

type recipient struct {
	ID string `json:"id"`
}

type textMessage struct {
	Text string `json:"text"`
}

type sendRequest struct {
	Recipient    recipient    `json:"recipient"`
	Message      *textMessage `json:"message,omitempty"`
	SenderAction string       `json:"sender_action,omitempty"`
}

// SendText posts one text message to the recipient.
func (c *Client) SendText(ctx context.Context, recipientID, text string) error {
	return c.post(ctx, "/me/messages", sendRequest{
		Recipient: recipient{ID: recipientID},
		Message:   &textMessage{Text: text},
	})
}

// SendAction posts a sender action such as typing_on.
func (c *Client) SendAction(ctx context.Context, recipientID, action string) error {
	return c.post(ctx, "/me/messages", sendRequest{
		Recipient:    recipient{ID: recipientID},
		SenderAction: action,
	})
}

func (c *Client) Profile(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	if err := c.get(ctx, "/"+url.PathEscape(userID), url.Values{"fields": {"name,username"}}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Me returns the account that owns the access token.
func (c *Client) Me(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := c.get(ctx, "/me", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) endpoint(path string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("access_token", c.token)
	return c.baseURL + path + "?" + params.Encode()
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("instagram: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path, nil), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("instagram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, nil)
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, params), nil)
	if err != nil {
		return fmt.Errorf("instagram: create request: %w", err)
	}
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, path string, out any) error {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("instagram: request %s: %w", path, redactToken(err, c.token))
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, Path: path, Message: graphMessage(buf)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("instagram: decode response: %w", err)
	}
	return nil
}

// graphMessage pulls error.message out of a Graph API error body.
func graphMessage(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return strings.TrimSpace(string(body))
}

// redactToken keeps the access token out of url errors that end up in logs.
func redactToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "REDACTED"))
}
