package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"seylanebot/internal/config"
	"seylanebot/internal/models"
	"seylanebot/internal/redis"
)

const (
	cacheKey          = "seylane:settings"
	cacheTTL          = 10 * time.Minute
	invalidateChannel = "seylane:settings:invalidate"
)

// ErrNotFound is returned by Get for keys that were never stored.
var ErrNotFound = errors.New("setting not found")

// Store is the persistence surface the manager needs.
type Store interface {
	ListSettings(ctx context.Context) ([]models.Setting, error)
	GetSetting(ctx context.Context, key string) (*models.Setting, error)
	UpsertSetting(ctx context.Context, key, value, description string) error
	DeleteSetting(ctx context.Context, key string) error
}

// ParamSource loads settings kept outside the database.
type ParamSource interface {
	GetByPrefix(ctx context.Context, prefix string) (map[string]string, error)
}

// Cache is satisfied by *redis.Client.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Publish(ctx context.Context, channel string, payload interface{}) error
	Subscribe(ctx context.Context, channel string, handler func(payload string)) error
}

type Option func(*Manager)

func WithParamStore(src ParamSource, prefix string) Option {
	return func(m *Manager) {
		if src != nil && strings.TrimSpace(prefix) != "" {
			m.params = src
			m.prefix = prefix
		}
	}
}

func WithCache(cache Cache) Option {
	return func(m *Manager) { m.cache = cache }
}

func WithCipher(c *Cipher) Option {
	return func(m *Manager) { m.cipher = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Manager resolves settings in layers: config and environment, then the
// parameter store, then the database. Later layers win when non-empty.
type Manager struct {
	base      map[string]string
	graphBase string
	store     Store
	params    ParamSource
	prefix    string
	cache     Cache
	cipher    *Cipher
	logger    *slog.Logger
	instance  string

	mu        sync.RWMutex
	remote    map[string]string
	listeners []func(Snapshot)
}

func NewManager(cfg *config.Config, store Store, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	if store == nil {
		return nil, errors.New("settings store required")
	}
	m := &Manager{
		base:      baseValues(cfg),
		graphBase: cfg.Instagram.GraphBase,
		store:     store,
		logger:    slog.Default(),
		instance:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cache != nil && isNilRedis(m.cache) {
		m.cache = nil
	}
	return m, nil
}

func isNilRedis(c Cache) bool {
	rc, ok := c.(*redis.Client)
	return ok && rc == nil
}

// RefreshParams reloads the parameter store layer.
func (m *Manager) RefreshParams(ctx context.Context) error {
	if m.params == nil {
		return nil
	}
	values, err := m.params.GetByPrefix(ctx, m.prefix)
	if err != nil {
		return fmt.Errorf("load parameter store settings: %w", err)
	}
	m.mu.Lock()
	m.remote = values
	m.mu.Unlock()
	m.logger.Info("parameter store settings loaded", "count", len(values), "prefix", m.prefix)
	return nil
}

// Snapshot returns the effective settings right now.
func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	stored, err := m.storedValues(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	merged := make(map[string]string, len(m.base)+len(stored))
	for k, v := range m.base {
		merged[k] = v
	}
	m.mu.RLock()
	for k, v := range m.remote {
		if strings.TrimSpace(v) != "" {
			merged[k] = v
		}
	}
	m.mu.RUnlock()
	for k, v := range stored {
		if strings.TrimSpace(v) != "" {
			merged[k] = v
		}
	}
	return snapshotFrom(merged, m.graphBase), nil
}

// storedValues returns decrypted database settings, served from cache when possible.
func (m *Manager) storedValues(ctx context.Context) (map[string]string, error) {
	sealed, ok := m.cachedValues(ctx)
	if !ok {
		rows, err := m.store.ListSettings(ctx)
		if err != nil {
			return nil, fmt.Errorf("list settings: %w", err)
		}
		sealed = make(map[string]string, len(rows))
		for _, row := range rows {
			sealed[row.Key] = row.Value
		}
		m.fillCache(ctx, sealed)
	}
	out := make(map[string]string, len(sealed))
	for k, v := range sealed {
		plain, err := m.open(v)
		if err != nil {
			m.logger.Warn("setting could not be decrypted", "key", k, "error", err)
			continue
		}
		out[k] = plain
	}
	return out, nil
}

func (m *Manager) cachedValues(ctx context.Context) (map[string]string, bool) {
	if m.cache == nil {
		return nil, false
	}
	raw, err := m.cache.Get(ctx, cacheKey)
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			m.logger.Warn("settings cache read failed", "error", err)
		}
		return nil, false
	}
	var values map[string]string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		m.logger.Warn("settings cache decode failed", "error", err)
		return nil, false
	}
	return values, true
}

func (m *Manager) fillCache(ctx context.Context, sealed map[string]string) {
	if m.cache == nil {
		return
	}
	data, err := json.Marshal(sealed)
	if err != nil {
		return
	}
	if err := m.cache.Set(ctx, cacheKey, data, cacheTTL); err != nil {
		m.logger.Warn("settings cache write failed", "error", err)
	}
}

// Set stores the given values, sealing secrets, then notifies listeners here
// and on other instances.
func (m *Manager) Set(ctx context.Context, values map[string]string) error {
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			return errors.New("setting key is required")
		}
		stored := value
		if IsSecret(key) && m.cipher != nil && value != "" {
			sealed, err := m.cipher.Seal(value)
			if err != nil {
				return fmt.Errorf("seal %s: %w", key, err)
			}
			stored = sealed
		}
		if err := m.store.UpsertSetting(ctx, key, stored, ""); err != nil {
			return err
		}
	}
	m.invalidate(ctx)
	m.notify(ctx)
	return nil
}

// Delete removes a stored value so the config and parameter store layers
// apply to it again.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if err := m.store.DeleteSetting(ctx, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	m.invalidate(ctx)
	m.notify(ctx)
	return nil
}

// Get returns one stored value, masked when secret.
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	row, err := m.store.GetSetting(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	plain, err := m.open(row.Value)
	if err != nil {
		return "", fmt.Errorf("decrypt %s: %w", key, err)
	}
	if IsSecret(key) {
		return Mask(plain), nil
	}
	return plain, nil
}

// List returns all stored settings with secrets masked.
func (m *Manager) List(ctx context.Context) (map[string]string, error) {
	values, err := m.storedValues(ctx)
	if err != nil {
		return nil, err
	}
	for k, v := range values {
		if IsSecret(k) {
			values[k] = Mask(v)
		}
	}
	return values, nil
}

// OnChange registers fn to receive a fresh snapshot after every write.
func (m *Manager) OnChange(fn func(Snapshot)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Watch follows writes made by other instances until ctx is done.
func (m *Manager) Watch(ctx context.Context) error {
	if m.cache == nil {
		return nil
	}
	return m.cache.Subscribe(ctx, invalidateChannel, func(payload string) {
		if payload == m.instance {
			return
		}
		m.logger.Debug("settings changed on another instance", "origin", payload)
		m.notify(ctx)
	})
}

func (m *Manager) invalidate(ctx context.Context) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Del(ctx, cacheKey); err != nil {
		m.logger.Warn("settings cache invalidate failed", "error", err)
	}
	if err := m.cache.Publish(ctx, invalidateChannel, m.instance); err != nil {
		m.logger.Warn("settings invalidation publish failed", "error", err)
	}
}

func (m *Manager) notify(ctx context.Context) {
	m.mu.RLock()
	listeners := append([]func(Snapshot){}, m.listeners...)
	m.mu.RUnlock()
	if len(listeners) == 0 {
		return
	}
	snap, err := m.Snapshot(ctx)
	if err != nil {
		m.logger.Error("rebuild settings snapshot", "error", err)
		return
	}
	for _, fn := range listeners {
		fn(snap)
	}
}

func (m *Manager) open(value string) (string, error) {
	if m.cipher == nil {
		if strings.HasPrefix(value, sealedPrefix) {
			return "", fmt.Errorf("%s not set", KeyEnv)
		}
		return value, nil
	}
	return m.cipher.Open(value)
}
