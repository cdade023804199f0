package entity

import (
	"encoding/json"
	"fmt"
)

// ActionPayload is the tagged union of per-type payloads. Exactly one
// variant must be populated, matching the request's action type.
type ActionPayload struct {
	PriceUpdate    *PriceUpdatePayload    `json:"price_update,omitempty"`
	ReorderStock   *ReorderStockPayload   `json:"reorder_stock,omitempty"`
	LaunchCampaign *LaunchCampaignPayload `json:"launch_campaign,omitempty"`
	AdjustDiscount *AdjustDiscountPayload `json:"adjust_discount,omitempty"`
}

// PriceUpdatePayload changes the list price of a single SKU
type PriceUpdatePayload struct {
	TargetSKU string  `json:"target_sku"`
	NewPrice  float64 `json:"new_price"`
	Currency  string  `json:"currency,omitempty"`
}

// ReorderStockPayload raises a purchase order for a SKU
type ReorderStockPayload struct {
	TargetSKU  string `json:"target_sku"`
	Quantity   int    `json:"quantity"`
	SupplierID string `json:"supplier_id,omitempty"`
}

// LaunchCampaignPayload starts a promotional campaign over a SKU set
type LaunchCampaignPayload struct {
	CampaignName string   `json:"campaign_name"`
	TargetSKUs   []string `json:"target_skus"`
	Budget       float64  `json:"budget"`
	DurationDays int      `json:"duration_days"`
}

// AdjustDiscountPayload changes the discount percentage on a SKU
type AdjustDiscountPayload struct {
	TargetSKU   string  `json:"target_sku"`
	DiscountPct float64 `json:"discount_pct"`
}

// Variant returns the populated payload variant for the given action type.
// Bulk updates carry per-member payloads, so the bulk type has no variant
// of its own.
func (p *ActionPayload) Variant(actionType ActionType) (interface{}, error) {
	switch actionType {
	case ActionTypePriceUpdate:
		if p.PriceUpdate == nil {
			return nil, fmt.Errorf("price_update payload is required")
		}
		return p.PriceUpdate, nil
	case ActionTypeReorderStock:
		if p.ReorderStock == nil {
			return nil, fmt.Errorf("reorder_stock payload is required")
		}
		return p.ReorderStock, nil
	case ActionTypeLaunchCampaign:
		if p.LaunchCampaign == nil {
			return nil, fmt.Errorf("launch_campaign payload is required")
		}
		return p.LaunchCampaign, nil
	case ActionTypeAdjustDiscount:
		if p.AdjustDiscount == nil {
			return nil, fmt.Errorf("adjust_discount payload is required")
		}
		return p.AdjustDiscount, nil
	default:
		return nil, fmt.Errorf("no payload variant for action type %s", actionType)
	}
}

// DecodePayload decodes a stored payload for the given action type
func DecodePayload(actionType ActionType, raw json.RawMessage) (*ActionPayload, error) {
	var payload ActionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", actionType, err)
	}
	if _, err := payload.Variant(actionType); err != nil {
		return nil, err
	}
	return &payload, nil
}
