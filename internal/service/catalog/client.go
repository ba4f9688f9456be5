package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"seylanebot/internal/models"
)

// DefaultPageSize caps every product query server-side.
const DefaultPageSize = 5

// ErrNotConfigured is returned when the store URL or credentials are missing.
var ErrNotConfigured = errors.New("woocommerce: not configured")

// HTTPStatusError captures non-2xx responses from the store API.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Message    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("woocommerce: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Message)
}

// Query is the filter spec sent to the products endpoint. Zero values are omitted.
type Query struct {
	Search   string
	Category string
	MinPrice *float64
	MaxPrice *float64
	PerPage  int
}

func (q Query) values() url.Values {
	v := url.Values{}
	perPage := q.PerPage
	if perPage <= 0 {
		perPage = DefaultPageSize
	}
	v.Set("per_page", strconv.Itoa(perPage))
	v.Set("status", "publish")
	v.Set("stock_status", "instock")
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.Category != "" {
		v.Set("category", q.Category)
	}
	if q.MinPrice != nil && *q.MinPrice > 0 {
		v.Set("min_price", formatPrice(*q.MinPrice))
	}
	if q.MaxPrice != nil && *q.MaxPrice > 0 {
		v.Set("max_price", formatPrice(*q.MaxPrice))
	}
	return v
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

type Config struct {
	URL            string
	ConsumerKey    string
	ConsumerSecret string
}

// WooCommerce talks to the wc/v3 REST API with query string authentication.
type WooCommerce struct {
	baseURL    string
	key        string
	secret     string
	httpClient *http.Client
}

type Option func(*WooCommerce)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *WooCommerce) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func NewWooCommerce(cfg Config, opts ...Option) *WooCommerce {
	c := &WooCommerce{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.URL), "/"),
		key:        strings.TrimSpace(cfg.ConsumerKey),
		secret:     strings.TrimSpace(cfg.ConsumerSecret),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether URL and both credentials are present.
func (c *WooCommerce) Configured() bool {
	return c != nil && c.baseURL != "" && c.key != "" && c.secret != ""
}

func (c *WooCommerce) URL() string { return c.baseURL }

// QueryProducts lists published in-stock products matching q.
func (c *WooCommerce) QueryProducts(ctx context.Context, q Query) ([]models.Product, error) {
	var products []models.Product
	if err := c.get(ctx, "products", q.values(), &products); err != nil {
		return nil, err
	}
	return products, nil
}

// SearchByKeyword is a plain text search without intent parameters.
func (c *WooCommerce) SearchByKeyword(ctx context.Context, keyword string, limit int) ([]models.Product, error) {
	return c.QueryProducts(ctx, Query{Search: strings.TrimSpace(keyword), PerPage: limit})
}

// Product fetches a single product by id.
func (c *WooCommerce) Product(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	if err := c.get(ctx, "products/"+strconv.FormatInt(id, 10), nil, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

// Categories lists up to 100 product categories.
func (c *WooCommerce) Categories(ctx context.Context) ([]models.ProductCategory, error) {
	var categories []models.ProductCategory
	if err := c.get(ctx, "products/categories", url.Values{"per_page": {"100"}}, &categories); err != nil {
		return nil, err
	}
	return categories, nil
}

// TestConnection fetches one product to prove the credentials work.
func (c *WooCommerce) TestConnection(ctx context.Context) models.ConnectionResult {
	if !c.Configured() {
		return models.ConnectionResult{Success: false, Message: "WooCommerce API not configured. Check credentials."}
	}
	var probe []json.RawMessage
	if err := c.get(ctx, "products", url.Values{"per_page": {"1"}}, &probe); err != nil {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.Message != "" {
			return models.ConnectionResult{Success: false, Message: statusErr.Message}
		}
		return models.ConnectionResult{Success: false, Message: "Failed to connect to WooCommerce"}
	}
	return models.ConnectionResult{Success: true, Message: "Connected successfully to " + c.baseURL}
}

func (c *WooCommerce) endpoint(path string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("consumer_key", c.key)
	params.Set("consumer_secret", c.secret)
	return c.baseURL + "/wp-json/wc/v3/" + path + "?" + params.Encode()
}

func (c *WooCommerce) get(ctx context.Context, path string, params url.Values, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	endpoint := c.endpoint(path, params)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("woocommerce: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("woocommerce: request %s: %w", path, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        c.baseURL + "/wp-json/wc/v3/" + path,
			Message:    apiMessage(buf),
		}
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 4<<20)).Decode(out); err != nil {
		return &decodeError{err: err}
	}
	return nil
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "woocommerce: decode response: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

// apiMessage pulls the "message" field out of a WooCommerce error body.
func apiMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(body))
}
