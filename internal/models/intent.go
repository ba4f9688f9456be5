package models

type IntentType string

const (
	IntentProductSearch   IntentType = "product_search"
	IntentGeneralQuestion IntentType = "general_question"
	IntentGreeting        IntentType = "greeting"
	IntentOrderStatus     IntentType = "order_status"
	IntentHelp            IntentType = "help"
	IntentGoodbye         IntentType = "goodbye"
	IntentUnknown         IntentType = "unknown"
)

// Known reports whether the intent belongs to the closed vocabulary.
func (i IntentType) Known() bool {
	switch i {
	case IntentProductSearch, IntentGeneralQuestion, IntentGreeting,
		IntentOrderStatus, IntentHelp, IntentGoodbye, IntentUnknown:
		return true
	}
	return false
}

// IntentParams holds the structured search parameters extracted for product_search.
type IntentParams struct {
	ProductType string   `json:"productType,omitempty"`
	Color       string   `json:"color,omitempty"`
	MinPrice    *float64 `json:"minPrice,omitempty"`
	MaxPrice    *float64 `json:"maxPrice,omitempty"`
	Category    string   `json:"category,omitempty"`
	Size        string   `json:"size,omitempty"`
	Brand       string   `json:"brand,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
}

// IntentAnalysis is produced fresh for every turn and never cached.
type IntentAnalysis struct {
	Intent                IntentType    `json:"intent"`
	Confidence            float64       `json:"confidence"`
	Parameters            *IntentParams `json:"parameters,omitempty"`
	RequiresCatalogLookup bool          `json:"requiresCatalogLookup"`
}

// DefaultIntent is the low-confidence fallback used whenever classification fails.
func DefaultIntent() IntentAnalysis {
	return IntentAnalysis{Intent: IntentUnknown, Confidence: 0.5}
}

// WantsCatalog is the only branching rule: confidence never gates behavior.
func (a IntentAnalysis) WantsCatalog() bool {
	return a.RequiresCatalogLookup && a.Intent == IntentProductSearch
}
