// Package stock polls third-party product availability. Two sources share
// one interface: APISource hits the retailer's product API, SiteSource
// scrapes the product page. Both yield per-TCIN stock results; a TCIN
// missing from a result map means "not observed this pass".
package stock

import (
	"context"

	"github.com/atmosphericc/stockwatch/models"
)

// Source yields current availability per tracked TCIN.
type Source interface {
	Check(ctx context.Context) (map[string]models.StockResult, error)
}
