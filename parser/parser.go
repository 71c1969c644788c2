// Package parser turns raw redsky product payloads into stock results. It
// is purely functional so availability logic stays testable without HTTP.
package parser

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/atmosphericc/stockwatch/models"
)

// Seller type labels derived from the fulfillment block.
const (
	SellerTarget     = "target"
	SellerThirdParty = "third-party"
	SellerPreorder   = "target-preorder"
)

// Availability status values observed on preorder listings.
const (
	statusPreorderSellable   = "PRE_ORDER_SELLABLE"
	statusPreorderUnsellable = "PRE_ORDER_UNSELLABLE"
)

type productResponse struct {
	Data struct {
		Product struct {
			Price struct {
				CurrentRetail float64 `json:"current_retail"`
			} `json:"price"`
			Item struct {
				ProductDescription struct {
					Title string `json:"title"`
				} `json:"product_description"`
				Fulfillment struct {
					IsMarketplace   bool `json:"is_marketplace"`
					PurchaseLimit   int  `json:"purchase_limit"`
					ShippingOptions struct {
						AvailabilityStatus string `json:"availability_status"`
					} `json:"shipping_options"`
				} `json:"fulfillment"`
				EligibilityRules struct {
					ShipToGuest struct {
						IsActive bool `json:"is_active"`
					} `json:"ship_to_guest"`
				} `json:"eligibility_rules"`
				MMBVContent struct {
					StreetDate string `json:"street_date"`
				} `json:"mmbv_content"`
			} `json:"item"`
		} `json:"product"`
	} `json:"data"`
}

// ParseProductResponse extracts one item's availability from a redsky
// pdp_client_v1 payload.
func ParseProductResponse(tcin string, data []byte, now time.Time) (models.StockResult, error) {
	var resp productResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return models.StockResult{}, fmt.Errorf("parse product response for %s: %w", tcin, err)
	}

	product := resp.Data.Product
	item := product.Item
	if item.ProductDescription.Title == "" {
		return models.StockResult{}, fmt.Errorf("product response for %s missing title", tcin)
	}

	result := models.StockResult{
		TCIN:          tcin,
		Title:         NormalizeTitle(item.ProductDescription.Title),
		Price:         product.Price.CurrentRetail,
		PurchaseLimit: item.Fulfillment.PurchaseLimit,
		CheckedAt:     now,
	}

	shipToGuest := item.EligibilityRules.ShipToGuest.IsActive
	purchaseLimit := item.Fulfillment.PurchaseLimit

	// Preorder listings expose an explicit sellable flag instead of the
	// usual eligibility rules.
	switch item.Fulfillment.ShippingOptions.AvailabilityStatus {
	case statusPreorderSellable:
		result.Preorder = true
		result.Available = true
		result.SellerType = SellerPreorder
		return result, nil
	case statusPreorderUnsellable:
		result.Preorder = true
		result.Available = false
		result.SellerType = SellerPreorder
		return result, nil
	}

	if item.Fulfillment.IsMarketplace {
		result.Available = purchaseLimit > 0
		result.SellerType = SellerThirdParty
		return result, nil
	}

	result.Available = shipToGuest && purchaseLimit >= 2
	result.SellerType = SellerTarget

	// Preorder bundles ship without the guest eligibility rule; a single
	// purchase limit on a high-ticket listing marks one.
	if !shipToGuest && purchaseLimit == 1 && product.Price.CurrentRetail >= 400 {
		result.Available = true
		result.Preorder = item.MMBVContent.StreetDate != ""
		result.SellerType = SellerPreorder
	}

	return result, nil
}

// NormalizeTitle trims whitespace and truncates very long product names.
// Truncation happens on rune boundaries so multi-byte titles stay valid
// UTF-8.
func NormalizeTitle(title string) string {
	title = strings.TrimSpace(title)
	if runes := []rune(title); len(runes) > 80 {
		title = strings.TrimSpace(string(runes[:80]))
	}
	return title
}
