package settings

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"seylanebot/internal/config"
	"seylanebot/internal/models"
	"seylanebot/internal/redis"
)

type memoryStore struct {
	mu     sync.Mutex
	values map[string]string
	lists  int
}

func newMemoryStore() *memoryStore { return &memoryStore{values: map[string]string{}} }

func (s *memoryStore) ListSettings(context.Context) ([]models.Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	out := make([]models.Setting, 0, len(s.values))
	for k, v := range s.values {
		out = append(out, models.Setting{Key: k, Value: v})
	}
	return out, nil
}

func (s *memoryStore) GetSetting(_ context.Context, key string) (*models.Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &models.Setting{Key: key, Value: v}, nil
}

func (s *memoryStore) UpsertSetting(_ context.Context, key, value, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *memoryStore) DeleteSetting(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		return sql.ErrNoRows
	}
	delete(s.values, key)
	return nil
}

type memoryCache struct {
	mu        sync.Mutex
	data      map[string]string
	published []string
	handler   func(string)
}

func newMemoryCache() *memoryCache { return &memoryCache{data: map[string]string{}} }

func (c *memoryCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return "", redis.ErrCacheMiss
	}
	return v, nil
}

func (c *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		c.data[key] = string(v)
	case string:
		c.data[key] = v
	}
	return nil
}

func (c *memoryCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func (c *memoryCache) Publish(_ context.Context, _ string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, payload.(string))
	return nil
}

func (c *memoryCache) Subscribe(_ context.Context, _ string, handler func(string)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
	return nil
}

type staticParams map[string]string

func (p staticParams) GetByPrefix(context.Context, string) (map[string]string, error) {
	return p, nil
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Instagram.VerifyToken = "file-verify"
	cfg.WooCommerce.URL = "https://file.example/"
	cfg.Providers["openai"] = config.ProviderConfig{Model: "gpt-4", APIKey: "sk-file"}
	cfg.Providers["claude"] = config.ProviderConfig{Model: "claude-sonnet", APIKey: "claude-file"}
	return cfg
}

func TestSnapshotLayering(t *testing.T) {
	store := newMemoryStore()
	params := staticParams{KeyWooURL: "https://ssm.example", KeyOpenAIAPIKey: "sk-ssm"}
	mgr, err := NewManager(testConfig(), store, WithParamStore(params, "/seylane"))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, mgr.RefreshParams(ctx))

	require.NoError(t, mgr.Set(ctx, map[string]string{KeyOpenAIAPIKey: "sk-db", KeyInstagramVerifyToken: ""}))

	snap, err := mgr.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, "https://ssm.example", snap.WooURL)
	require.Equal(t, "sk-db", snap.LLMAPIKey)
	require.Equal(t, "file-verify", snap.InstagramVerifyToken)
	require.Equal(t, "openai", snap.LLMProvider)
	require.Equal(t, "gpt-4", snap.LLMModel)
}

func TestSnapshotFollowsProviderSwitch(t *testing.T) {
	mgr, err := NewManager(testConfig(), newMemoryStore())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, mgr.Set(ctx, map[string]string{KeyLLMProvider: "claude"}))

	snap, err := mgr.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, "claude", snap.LLMProvider)
	require.Equal(t, "claude-file", snap.LLMAPIKey)
	require.Equal(t, "claude-sonnet", snap.LLMModel)
	require.Equal(t, "https://file.example", snap.WooURL)
}

func TestSecretsSealedAndMasked(t *testing.T) {
	cipher, err := newSecretCipher(strings.Repeat("k", 32))
	require.NoError(t, err)
	store := newMemoryStore()
	store.values[KeyWooConsumerSecret] = "legacy-plain-secret"
	mgr, err := NewManager(testConfig(), store, WithCipher(cipher))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, mgr.Set(ctx, map[string]string{KeyOpenAIAPIKey: "sk-secret-1234", KeyLLMModel: "gpt-4o"}))
	require.True(t, strings.HasPrefix(store.values[KeyOpenAIAPIKey], sealedPrefix))
	require.Equal(t, "gpt-4o", store.values[KeyLLMModel])

	snap, err := mgr.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, "sk-secret-1234", snap.LLMAPIKey)
	require.Equal(t, "legacy-plain-secret", snap.WooConsumerSecret)
	require.Equal(t, "gpt-4o", snap.LLMModel)

	listed, err := mgr.List(ctx)
	require.NoError(t, err)
	require.Equal(t, "****1234", listed[KeyOpenAIAPIKey])
	require.Equal(t, "gpt-4o", listed[KeyLLMModel])

	one, err := mgr.Get(ctx, KeyOpenAIAPIKey)
	require.NoError(t, err)
	require.Equal(t, "****1234", one)

	_, err = mgr.Get(ctx, "NOPE")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteFallsBackToLowerLayers(t *testing.T) {
	store := newMemoryStore()
	mgr, err := NewManager(testConfig(), store)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, mgr.Set(ctx, map[string]string{KeyWooURL: "https://db.example"}))
	snap, err := mgr.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, "https://db.example", snap.WooURL)

	var got []Snapshot
	mgr.OnChange(func(s Snapshot) { got = append(got, s) })
	require.NoError(t, mgr.Delete(ctx, KeyWooURL))
	require.Len(t, got, 1)
	require.Equal(t, "https://file.example", got[0].WooURL)

	require.ErrorIs(t, mgr.Delete(ctx, KeyWooURL), ErrNotFound)
}

func TestCacheServesReadsAndWritesInvalidate(t *testing.T) {
	store := newMemoryStore()
	cache := newMemoryCache()
	mgr, err := NewManager(testConfig(), store, WithCache(cache))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = mgr.Snapshot(ctx)
	require.NoError(t, err)
	_, err = mgr.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, store.lists)

	require.NoError(t, mgr.Set(ctx, map[string]string{KeyWooURL: "https://db.example"}))
	require.Equal(t, []string{mgr.instance}, cache.published)

	snap, err := mgr.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, "https://db.example", snap.WooURL)
	require.Equal(t, 2, store.lists)
}

func TestOnChangeAndWatch(t *testing.T) {
	cache := newMemoryCache()
	mgr, err := NewManager(testConfig(), newMemoryStore(), WithCache(cache))
	require.NoError(t, err)
	ctx := context.Background()

	var got []Snapshot
	mgr.OnChange(func(s Snapshot) { got = append(got, s) })

	require.NoError(t, mgr.Set(ctx, map[string]string{KeyInstagramAccessToken: "page-token"}))
	require.Len(t, got, 1)
	require.Equal(t, "page-token", got[0].InstagramAccessToken)

	require.NoError(t, mgr.Watch(ctx))
	require.NotNil(t, cache.handler)
	cache.handler(mgr.instance)
	require.Len(t, got, 1)
	cache.handler("other-instance")
	require.Len(t, got, 2)
}

func TestNilRedisClientDisablesCache(t *testing.T) {
	var client *redis.Client
	mgr, err := NewManager(testConfig(), newMemoryStore(), WithCache(client))
	require.NoError(t, err)
	require.Nil(t, mgr.cache)
	require.NoError(t, mgr.Watch(context.Background()))
}

func TestMask(t *testing.T) {
	require.Equal(t, "", Mask(""))
	require.Equal(t, "****", Mask("abc"))
	require.Equal(t, "****wxyz", Mask("abcdwxyz"))
	require.True(t, IsSecret("instagram_verify_token"))
	require.False(t, IsSecret(KeyWooURL))
}
