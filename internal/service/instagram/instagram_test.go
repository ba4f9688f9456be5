package instagram

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"seylanebot/internal/models"
)

type graphCall struct {
	Path    string
	Token   string
	Request sendRequest
}

func newGraphServer(t *testing.T, status int) (*httptest.Server, *[]graphCall) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []graphCall
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := graphCall{Path: r.URL.Path, Token: r.URL.Query().Get("access_token")}
		if r.Method == http.MethodPost {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&call.Request))
		}
		mu.Lock()
		calls = append(calls, call)
		mu.Unlock()
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"Invalid OAuth access token."}}`))
			return
		}
		switch r.URL.Path {
		case "/me":
			_, _ = w.Write([]byte(`{"id":"17841","name":"Seylane Store"}`))
		case "/me/messages":
			_, _ = w.Write([]byte(`{"recipient_id":"1","message_id":"m1"}`))
		default:
			require.Equal(t, "name,username", r.URL.Query().Get("fields"))
			_, _ = w.Write([]byte(`{"id":"42","name":"Sara","username":"sara.shop"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestClientSendsTextAndActions(t *testing.T) {
	srv, calls := newGraphServer(t, http.StatusOK)
	client := NewClient(Config{AccessToken: "page-token", GraphBase: srv.URL})

	require.NoError(t, client.SendText(context.Background(), "42", "hello"))
	require.NoError(t, client.SendAction(context.Background(), "42", ActionTypingOn))

	require.Len(t, *calls, 2)
	first := (*calls)[0]
	require.Equal(t, "/me/messages", first.Path)
	require.Equal(t, "page-token", first.Token)
	require.Equal(t, "42", first.Request.Recipient.ID)
	require.Equal(t, "hello", first.Request.Message.Text)
	require.Equal(t, ActionTypingOn, (*calls)[1].Request.SenderAction)
	require.Nil(t, (*calls)[1].Request.Message)

	p, err := client.Profile(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, "sara.shop", p.DisplayName())
}

func TestClientErrors(t *testing.T) {
	err := NewClient(Config{}).SendText(context.Background(), "1", "x")
	require.ErrorIs(t, err, ErrNotConfigured)

	srv, _ := newGraphServer(t, http.StatusUnauthorized)
	err = NewClient(Config{AccessToken: "bad", GraphBase: srv.URL}).SendText(context.Background(), "1", "x")
	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	require.Equal(t, "Invalid OAuth access token.", statusErr.Message)
}

func TestVerifyHandshakeIsIdempotent(t *testing.T) {
	g := NewGateway(NewClient(Config{}), WithVerifyToken("secret"))
	for i := 0; i < 2; i++ {
		got, ok := g.VerifyHandshake("subscribe", "secret", "12345")
		require.True(t, ok)
		require.Equal(t, "12345", got)

		_, ok = g.VerifyHandshake("subscribe", "wrong", "12345")
		require.False(t, ok)
	}
	_, ok := g.VerifyHandshake("unsubscribe", "secret", "1")
	require.False(t, ok)

	_, ok = NewGateway(NewClient(Config{})).VerifyHandshake("subscribe", "", "1")
	require.False(t, ok)
}

func TestParseInboundEvent(t *testing.T) {
	text := `{"object":"instagram","entry":[{"messaging":[{"sender":{"id":"42"},"message":{"mid":"m.1","text":"hi"}}]}]}`
	ev, err := ParseInboundEvent([]byte(text))
	require.NoError(t, err)
	require.Equal(t, &InboundEvent{SenderID: "42", Text: "hi", MID: "m.1"}, ev)

	ignored := []string{
		`{"object":"page","entry":[{"messaging":[{"sender":{"id":"42"},"message":{"text":"hi"}}]}]}`,
		`{"object":"instagram","entry":[]}`,
		`{"object":"instagram","entry":[{"messaging":[{"sender":{"id":"42"},"read":{"mid":"m.1"}}]}]}`,
		`{"object":"instagram","entry":[{"messaging":[{"sender":{"id":"42"},"message":{"mid":"m.2","attachments":[{"type":"image"}]}}]}]}`,
		`{"object":"instagram","entry":[{"messaging":[{"sender":{"id":"42"},"message":{"mid":"m.3","text":"echo","is_echo":true}}]}]}`,
	}
	for _, raw := range ignored {
		ev, err := ParseInboundEvent([]byte(raw))
		require.NoError(t, err)
		require.Nil(t, ev, raw)
	}

	_, err = ParseInboundEvent([]byte("not json"))
	require.Error(t, err)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"object":"instagram"}`)
	mac := hmac.New(sha256.New, []byte("app-secret"))
	mac.Write(body)
	header := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	require.True(t, VerifySignature(body, header, "app-secret"))
	require.False(t, VerifySignature(body, header, "other"))
	require.False(t, VerifySignature(body, strings.TrimPrefix(header, "sha256="), "app-secret"))
	require.False(t, VerifySignature(body, header, ""))
}

type recordingMessenger struct {
	mu      sync.Mutex
	texts   []string
	actions []string
	sendErr error
	profErr error
}

func (m *recordingMessenger) Configured() bool { return true }

func (m *recordingMessenger) SendText(_ context.Context, _ string, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	return m.sendErr
}

func (m *recordingMessenger) SendAction(_ context.Context, _ string, action string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, action)
	return errors.New("actions unsupported")
}

func (m *recordingMessenger) Profile(context.Context, string) (*Profile, error) {
	if m.profErr != nil {
		return nil, m.profErr
	}
	return &Profile{ID: "42", Name: "Sara"}, nil
}

func (m *recordingMessenger) Me(context.Context) (*Profile, error) {
	return &Profile{ID: "17841"}, nil
}

func sampleProducts(n int) []models.Product {
	out := make([]models.Product, n)
	for i := range out {
		out[i] = models.Product{Name: "Dress " + string(rune('A'+i)), Price: "49.00", Permalink: "https://shop.example/p"}
	}
	return out
}

func TestDeliverProductDigestCapsProducts(t *testing.T) {
	m := &recordingMessenger{}
	g := NewGateway(m)

	require.True(t, g.DeliverProductDigest(context.Background(), "42", "Found these!", sampleProducts(7), 3))
	require.Len(t, m.texts, 4)
	require.Equal(t, "Found these!", m.texts[0])
	require.Equal(t, "\nDress A\n💰 49.00\n🔗 https://shop.example/p", m.texts[1])

	m.texts = nil
	require.True(t, g.DeliverProductDigest(context.Background(), "42", "", sampleProducts(2), 0))
	require.Len(t, m.texts, 2)
}

func TestDeliverProductDigestBatched(t *testing.T) {
	m := &recordingMessenger{}
	g := NewGateway(m, WithDigestMode(DigestBatched))
	products := sampleProducts(5)
	products[1].OnSale = true
	products[1].SalePrice = "39.00"

	require.True(t, g.DeliverProductDigest(context.Background(), "42", "Intro", products, 3))
	require.Len(t, m.texts, 2)
	list := m.texts[1]
	require.True(t, strings.HasPrefix(list, "Here are 3 products I found:\n\n1. Dress A\n"))
	require.Contains(t, list, "   🏷️ On Sale!\n")
	require.NotContains(t, list, "Dress D")
}

func TestDeliverIsFailSoft(t *testing.T) {
	m := &recordingMessenger{sendErr: errors.New("boom")}
	g := NewGateway(m)
	require.False(t, g.Deliver(context.Background(), "42", "hi"))
	require.False(t, g.DeliverProductDigest(context.Background(), "42", "intro", sampleProducts(2), 3))
}

func TestDeliverWithTypingIndicator(t *testing.T) {
	m := &recordingMessenger{}
	g := NewGateway(m)
	start := time.Now()
	require.True(t, g.DeliverWithTypingIndicator(context.Background(), "42", "hello", 20*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	require.Equal(t, []string{"hello"}, m.texts)
	require.Equal(t, []string{ActionTypingOn, ActionTypingOff}, m.actions)
}

func TestUserProfileAndConnection(t *testing.T) {
	m := &recordingMessenger{}
	g := NewGateway(m)
	require.Equal(t, "Sara", g.UserProfile(context.Background(), "42"))

	m.profErr = errors.New("gone")
	require.Equal(t, "", g.UserProfile(context.Background(), "42"))

	res := g.TestConnection(context.Background())
	require.True(t, res.Success)
	require.Equal(t, "Connected successfully to account: 17841", res.Message)

	res = NewGateway(NewClient(Config{})).TestConnection(context.Background())
	require.False(t, res.Success)
	require.Equal(t, "Access token not configured", res.Message)

	srv, _ := newGraphServer(t, http.StatusOK)
	res = NewGateway(NewClient(Config{AccessToken: "t", GraphBase: srv.URL})).TestConnection(context.Background())
	require.True(t, res.Success)
	require.Equal(t, "Connected successfully to account: Seylane Store", res.Message)
}
