package catalog

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"seylanebot/internal/models"
)

// Client is the product source behind the adapter.
type Client interface {
	Configured() bool
	QueryProducts(ctx context.Context, q Query) ([]models.Product, error)
}

// Adapter maps intent parameters to catalog queries and narrows the results.
type Adapter struct {
	client Client
	logger *slog.Logger
}

func NewAdapter(client Client, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{client: client, logger: logger}
}

// IsReady reports whether a search could reach the catalog at all.
func (a *Adapter) IsReady() bool {
	return a != nil && a.client != nil && a.client.Configured()
}

// Search never fails: unreachable catalogs yield an empty list and a non-OK outcome.
// An empty list with an OK outcome means nothing matched.
func (a *Adapter) Search(ctx context.Context, analysis models.IntentAnalysis) ([]models.Product, models.Outcome) {
	if !a.IsReady() {
		return nil, models.Failed(models.FailureNotConfigured, ErrNotConfigured)
	}
	query := BuildQuery(analysis.Parameters)
	a.logger.Debug("catalog search", "search", query.Search, "category", query.Category)

	products, err := a.client.QueryProducts(ctx, query)
	if err != nil {
		return nil, models.Failed(failureKind(err), err)
	}
	filtered := FilterProducts(products, analysis.Parameters)
	a.logger.Debug("catalog search done", "fetched", len(products), "kept", len(filtered))
	return filtered, models.Succeeded()
}

// BuildQuery prefers keywords over the product type for the search string.
func BuildQuery(params *models.IntentParams) Query {
	q := Query{PerPage: DefaultPageSize}
	if params == nil {
		return q
	}
	if kw := joinKeywords(params.Keywords); kw != "" {
		q.Search = kw
	} else if pt := strings.TrimSpace(params.ProductType); pt != "" {
		q.Search = pt
	}
	q.Category = strings.TrimSpace(params.Category)
	q.MinPrice = params.MinPrice
	q.MaxPrice = params.MaxPrice
	return q
}

func joinKeywords(keywords []string) string {
	parts := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			parts = append(parts, k)
		}
	}
	return strings.Join(parts, " ")
}

// FilterProducts narrows by color, then size, then brand. Each step only runs
// when its parameter is present, and an emptied list stays empty.
func FilterProducts(products []models.Product, params *models.IntentParams) []models.Product {
	if params == nil {
		return products
	}
	out := products
	if params.Color != "" {
		out = filterByAttribute(out, "color", params.Color)
	}
	if params.Size != "" {
		out = filterByAttribute(out, "size", params.Size)
	}
	if params.Brand != "" {
		brand := strings.ToLower(params.Brand)
		out = filter(out, func(p models.Product) bool {
			return strings.Contains(strings.ToLower(p.Name), brand)
		})
	}
	return out
}

func filterByAttribute(products []models.Product, name, value string) []models.Product {
	value = strings.ToLower(value)
	return filter(products, func(p models.Product) bool {
		for _, attr := range p.Attributes {
			if !strings.EqualFold(attr.Name, name) {
				continue
			}
			for _, opt := range attr.Options {
				if strings.Contains(strings.ToLower(opt), value) {
					return true
				}
			}
			return false
		}
		return false
	})
}

func filter(products []models.Product, keep func(models.Product) bool) []models.Product {
	out := make([]models.Product, 0, len(products))
	for _, p := range products {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

func failureKind(err error) models.FailureKind {
	if errors.Is(err, ErrNotConfigured) {
		return models.FailureNotConfigured
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden {
			return models.FailureAuth
		}
		return models.FailureTransport
	}
	var decErr *decodeError
	if errors.As(err, &decErr) {
		return models.FailureParse
	}
	return models.FailureTransport
}
