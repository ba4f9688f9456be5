package settings

import (
	"strings"

	"seylanebot/internal/config"
)

// Dashboard keys, named as the operator sees them.
const (
	KeyInstagramAccessToken = "INSTAGRAM_PAGE_ACCESS_TOKEN"
	KeyInstagramVerifyToken = "INSTAGRAM_VERIFY_TOKEN"
	KeyInstagramAppSecret   = "INSTAGRAM_APP_SECRET"
	KeyOpenAIAPIKey         = "OPENAI_API_KEY"
	KeyLLMProvider          = "LLM_PROVIDER"
	KeyLLMModel             = "LLM_MODEL"
	KeyWooURL               = "WOOCOMMERCE_URL"
	KeyWooConsumerKey       = "WOOCOMMERCE_CONSUMER_KEY"
	KeyWooConsumerSecret    = "WOOCOMMERCE_CONSUMER_SECRET"
)

// Snapshot is an immutable view of the effective settings. Clients are built
// from a snapshot and never observe later writes.
type Snapshot struct {
	InstagramAccessToken string
	InstagramVerifyToken string
	InstagramAppSecret   string
	InstagramGraphBase   string

	LLMProvider string
	LLMModel    string
	LLMBaseURL  string
	LLMAPIKey   string

	WooURL            string
	WooConsumerKey    string
	WooConsumerSecret string
}

// APIKeyName returns the settings key that holds the provider's credential.
func APIKeyName(provider string) string {
	return strings.ToUpper(strings.TrimSpace(provider)) + "_API_KEY"
}

func modelKeyName(provider string) string {
	return strings.ToUpper(strings.TrimSpace(provider)) + "_MODEL"
}

func baseURLKeyName(provider string) string {
	return strings.ToUpper(strings.TrimSpace(provider)) + "_BASE_URL"
}

// IsSecret reports whether a key is sealed at rest and masked on read.
func IsSecret(key string) bool {
	key = strings.ToUpper(key)
	return strings.HasSuffix(key, "_TOKEN") || strings.HasSuffix(key, "_KEY") || strings.HasSuffix(key, "_SECRET")
}

// Mask hides all but the last four characters of a secret.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}

// baseValues flattens file and environment configuration into the key space.
func baseValues(cfg *config.Config) map[string]string {
	values := map[string]string{
		KeyInstagramAccessToken: cfg.Instagram.AccessToken,
		KeyInstagramVerifyToken: cfg.Instagram.VerifyToken,
		KeyInstagramAppSecret:   cfg.Instagram.AppSecret,
		KeyLLMProvider:          cfg.BasicConfig.LLMProvider,
		KeyWooURL:               cfg.WooCommerce.URL,
		KeyWooConsumerKey:       cfg.WooCommerce.ConsumerKey,
		KeyWooConsumerSecret:    cfg.WooCommerce.ConsumerSecret,
	}
	for name, prov := range cfg.Providers {
		values[APIKeyName(name)] = prov.APIKey
		values[modelKeyName(name)] = prov.Model
		values[baseURLKeyName(name)] = prov.BaseURL
	}
	return values
}

func snapshotFrom(values map[string]string, graphBase string) Snapshot {
	provider := strings.ToLower(strings.TrimSpace(values[KeyLLMProvider]))
	if provider == "" {
		provider = "openai"
	}
	model := strings.TrimSpace(values[KeyLLMModel])
	if model == "" {
		model = strings.TrimSpace(values[modelKeyName(provider)])
	}
	return Snapshot{
		InstagramAccessToken: strings.TrimSpace(values[KeyInstagramAccessToken]),
		InstagramVerifyToken: strings.TrimSpace(values[KeyInstagramVerifyToken]),
		InstagramAppSecret:   strings.TrimSpace(values[KeyInstagramAppSecret]),
		InstagramGraphBase:   graphBase,
		LLMProvider:          provider,
		LLMModel:             model,
		LLMBaseURL:           strings.TrimSpace(values[baseURLKeyName(provider)]),
		LLMAPIKey:            strings.TrimSpace(values[APIKeyName(provider)]),
		WooURL:               strings.TrimRight(strings.TrimSpace(values[KeyWooURL]), "/"),
		WooConsumerKey:       strings.TrimSpace(values[KeyWooConsumerKey]),
		WooConsumerSecret:    strings.TrimSpace(values[KeyWooConsumerSecret]),
	}
}
