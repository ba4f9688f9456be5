package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Redis       RedisConfig               `json:"redis" yaml:"redis"`
	Providers   map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Instagram   InstagramConfig           `json:"instagram" yaml:"instagram"`
	WooCommerce WooCommerceConfig         `json:"woocommerce" yaml:"woocommerce"`
	ParamStore  ParamStoreConfig          `json:"param_store" yaml:"param_store"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	Model   string `json:"model" yaml:"model"`
	APIKey  string `json:"api_key" yaml:"api_key"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	Params   string `json:"params" yaml:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type InstagramConfig struct {
	AccessToken string `json:"page_access_token" yaml:"page_access_token"`
	VerifyToken string `json:"verify_token" yaml:"verify_token"`
	AppSecret   string `json:"app_secret" yaml:"app_secret"`
	GraphBase   string `json:"graph_base" yaml:"graph_base"`
}

type WooCommerceConfig struct {
	URL            string `json:"url" yaml:"url"`
	ConsumerKey    string `json:"consumer_key" yaml:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret" yaml:"consumer_secret"`
}

// ParamStoreConfig enables the SSM settings layer when Prefix is set.
type ParamStoreConfig struct {
	Prefix string `json:"prefix" yaml:"prefix"`
	Region string `json:"region" yaml:"region"`
}

type BasicConfig struct {
	ServerAddress          string `json:"server_address" yaml:"server_address"`
	LogLevel               string `json:"log_level" yaml:"log_level"`
	Database               string `json:"database" yaml:"database"`
	AdminToken             string `json:"admin_token" yaml:"admin_token"`
	LLMProvider            string `json:"llm_provider" yaml:"llm_provider"`
	KnowledgeFile          string `json:"knowledge_file" yaml:"knowledge_file"`
	MinWorkers             int    `json:"min_workers" yaml:"min_workers"`
	MaxWorkers             int    `json:"max_workers" yaml:"max_workers"`
	QueueSize              int    `json:"queue_size" yaml:"queue_size"`
	WorkerIdleTimeout      int    `json:"worker_idle_timeout" yaml:"worker_idle_timeout"` // seconds
	CallTimeout            int    `json:"call_timeout" yaml:"call_timeout"`               // seconds
	TypingDelayMs          int    `json:"typing_delay_ms" yaml:"typing_delay_ms"`
	ProductTypingDelayMs   int    `json:"product_typing_delay_ms" yaml:"product_typing_delay_ms"`
	HistoryWindow          int    `json:"history_window" yaml:"history_window"`
	DigestCap              int    `json:"digest_cap" yaml:"digest_cap"`
	DigestMode             string `json:"digest_mode" yaml:"digest_mode"`
	IntentAttachMode       string `json:"intent_attach_mode" yaml:"intent_attach_mode"`
	SerializeConversations *bool  `json:"serialize_conversations" yaml:"serialize_conversations"`
	ArchiveAfterHours      int    `json:"archive_after_hours" yaml:"archive_after_hours"` // 0 disables
}

const (
	DigestPerProduct = "per_product"
	DigestBatched    = "batched"

	AttachByID      = "id"
	AttachByContent = "content"
)

// Defaults returns a configuration that runs against a local sqlite file.
func Defaults() *Config {
	serialize := true
	return &Config{
		BasicConfig: BasicConfig{
			ServerAddress:          ":3000",
			LogLevel:               "info",
			Database:               "sqlite3",
			LLMProvider:            "openai",
			MinWorkers:             2,
			MaxWorkers:             16,
			QueueSize:              256,
			WorkerIdleTimeout:      60,
			CallTimeout:            10,
			TypingDelayMs:          1000,
			ProductTypingDelayMs:   1500,
			HistoryWindow:          10,
			DigestCap:              3,
			DigestMode:             DigestPerProduct,
			IntentAttachMode:       AttachByID,
			SerializeConversations: &serialize,
		},
		Databases: map[string]DatabaseConfig{
			"sqlite3": {DSN: "file:seylane.db?_foreign_keys=on"},
		},
		Providers: map[string]ProviderConfig{
			"openai": {Model: "gpt-4"},
		},
	}
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing default file is not an error: defaults plus environment apply.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	cfg := Defaults()
	data, err := os.ReadFile(absPath)
	switch {
	case err == nil:
		if err := decode(absPath, data, cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	for name, db := range cfg.Databases {
		if db.DSN != "" && isSQLite(name) && !strings.HasPrefix(db.DSN, "file:") && !strings.HasPrefix(db.DSN, ":memory:") && !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}

	cfg.ApplyEnv()
	cfg.fillDefaults()
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
	}
	return nil
}

// ApplyEnv overlays the dashboard keys and deployment knobs from the environment.
func (c *Config) ApplyEnv() {
	setString(&c.Instagram.AccessToken, "INSTAGRAM_PAGE_ACCESS_TOKEN")
	setString(&c.Instagram.VerifyToken, "INSTAGRAM_VERIFY_TOKEN")
	setString(&c.Instagram.AppSecret, "INSTAGRAM_APP_SECRET")
	setString(&c.WooCommerce.URL, "WOOCOMMERCE_URL")
	setString(&c.WooCommerce.ConsumerKey, "WOOCOMMERCE_CONSUMER_KEY")
	setString(&c.WooCommerce.ConsumerSecret, "WOOCOMMERCE_CONSUMER_SECRET")
	setString(&c.BasicConfig.AdminToken, "SEYLANE_ADMIN_TOKEN")
	setString(&c.BasicConfig.LLMProvider, "LLM_PROVIDER")
	setString(&c.BasicConfig.ServerAddress, "SEYLANE_ADDR")
	setString(&c.BasicConfig.Database, "SEYLANE_DB")
	setString(&c.ParamStore.Prefix, "SEYLANE_PARAM_PREFIX")
	if port := os.Getenv("PORT"); port != "" {
		if _, err := strconv.Atoi(port); err == nil {
			c.BasicConfig.ServerAddress = ":" + port
		}
	}

	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	provider := c.BasicConfig.LLMProvider
	if provider == "" {
		provider = "openai"
	}
	prov := c.Providers[provider]
	setString(&prov.APIKey, strings.ToUpper(provider)+"_API_KEY")
	setString(&prov.Model, "LLM_MODEL")
	c.Providers[provider] = prov
}

func (c *Config) fillDefaults() {
	def := Defaults().BasicConfig
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = def.ServerAddress
	}
	if b.LLMProvider == "" {
		b.LLMProvider = def.LLMProvider
	}
	if b.Database == "" {
		b.Database = def.Database
	}
	if b.ArchiveAfterHours < 0 {
		b.ArchiveAfterHours = 0
	}
	if b.MinWorkers <= 0 {
		b.MinWorkers = def.MinWorkers
	}
	if b.MaxWorkers < b.MinWorkers {
		b.MaxWorkers = b.MinWorkers
	}
	if b.QueueSize <= 0 {
		b.QueueSize = def.QueueSize
	}
	if b.CallTimeout <= 0 {
		b.CallTimeout = def.CallTimeout
	}
	if b.HistoryWindow <= 0 {
		b.HistoryWindow = def.HistoryWindow
	}
	if b.DigestCap <= 0 {
		b.DigestCap = def.DigestCap
	}
	if b.DigestMode != DigestBatched {
		b.DigestMode = DigestPerProduct
	}
	if b.IntentAttachMode != AttachByContent {
		b.IntentAttachMode = AttachByID
	}
	if b.SerializeConversations == nil {
		b.SerializeConversations = def.SerializeConversations
	}
}

// CallTimeoutDuration is the per external call deadline.
func (b BasicConfig) CallTimeoutDuration() time.Duration {
	return time.Duration(b.CallTimeout) * time.Second
}

func (b BasicConfig) TypingDelay() time.Duration {
	return time.Duration(b.TypingDelayMs) * time.Millisecond
}

func (b BasicConfig) ProductTypingDelay() time.Duration {
	return time.Duration(b.ProductTypingDelayMs) * time.Millisecond
}

func (b BasicConfig) ArchiveAfter() time.Duration {
	return time.Duration(b.ArchiveAfterHours) * time.Hour
}

func (b BasicConfig) Serialize() bool {
	return b.SerializeConversations == nil || *b.SerializeConversations
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func isSQLite(name string) bool {
	name = strings.ToLower(name)
	return name == "sqlite" || name == "sqlite3"
}
