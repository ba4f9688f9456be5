package models

type ProductCategory struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type ProductAttribute struct {
	Name    string   `json:"name"`
	Options []string `json:"options"`
}

// Product mirrors the subset of the WooCommerce v3 product resource the bot reads.
type Product struct {
	ID               int64              `json:"id"`
	Name             string             `json:"name"`
	Slug             string             `json:"slug"`
	Permalink        string             `json:"permalink"`
	Price            string             `json:"price"`
	RegularPrice     string             `json:"regular_price"`
	SalePrice        string             `json:"sale_price"`
	OnSale           bool               `json:"on_sale"`
	ShortDescription string             `json:"short_description"`
	SKU              string             `json:"sku"`
	StockStatus      string             `json:"stock_status"`
	Categories       []ProductCategory  `json:"categories"`
	Attributes       []ProductAttribute `json:"attributes"`
}
