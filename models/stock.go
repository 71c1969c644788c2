package models

import "time"

// StockResult is one item's availability as observed by a stock source.
type StockResult struct {
	TCIN          string    `csv:"tcin" json:"tcin"`
	Title         string    `csv:"title" json:"title"`
	Available     bool      `csv:"available" json:"available"`
	Preorder      bool      `csv:"preorder" json:"preorder"`
	Price         float64   `csv:"price" json:"price"`
	PurchaseLimit int       `csv:"purchase_limit" json:"purchase_limit"`
	SellerType    string    `csv:"seller_type" json:"seller_type"`
	CheckedAt     time.Time `csv:"checked_at" json:"checked_at"`
}
