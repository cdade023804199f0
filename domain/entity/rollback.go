package entity

import (
	"encoding/json"
	"fmt"
	"time"
)

// RollbackSchemaVersion stamps every snapshot so historically stored
// records keep decoding after future payload changes.
const RollbackSchemaVersion = 1

// RollbackKind tags the snapshot variant inside the stored blob
type RollbackKind string

const (
	RollbackKindPrice    RollbackKind = "price"
	RollbackKindStock    RollbackKind = "stock"
	RollbackKindCampaign RollbackKind = "campaign"
	RollbackKindDiscount RollbackKind = "discount"
)

// RollbackData is the pre-mutation snapshot captured by the executor.
// Exactly one variant is set, matching the action type.
type RollbackData struct {
	SchemaVersion int          `json:"schema_version"`
	Kind          RollbackKind `json:"kind"`
	CapturedAt    time.Time    `json:"captured_at"`

	Price    *PriceSnapshot    `json:"price,omitempty"`
	Stock    *StockSnapshot    `json:"stock,omitempty"`
	Campaign *CampaignSnapshot `json:"campaign,omitempty"`
	Discount *DiscountSnapshot `json:"discount,omitempty"`
}

// PriceSnapshot records the price before a price_update
type PriceSnapshot struct {
	SKU      string  `json:"sku"`
	OldPrice float64 `json:"old_price"`
	Currency string  `json:"currency,omitempty"`
}

// StockSnapshot records on-hand quantity before a reorder_stock
type StockSnapshot struct {
	SKU         string `json:"sku"`
	OldQuantity int    `json:"old_quantity"`
}

// CampaignSnapshot records the created campaign so it can be cancelled
type CampaignSnapshot struct {
	CampaignID   string   `json:"campaign_id"`
	CampaignName string   `json:"campaign_name"`
	TargetSKUs   []string `json:"target_skus"`
}

// DiscountSnapshot records the discount before an adjust_discount
type DiscountSnapshot struct {
	SKU            string  `json:"sku"`
	OldDiscountPct float64 `json:"old_discount_pct"`
}

// NewRollbackData builds a version-stamped snapshot envelope
func NewRollbackData(kind RollbackKind) *RollbackData {
	return &RollbackData{
		SchemaVersion: RollbackSchemaVersion,
		Kind:          kind,
		CapturedAt:    time.Now().UTC(),
	}
}

// Encode serializes the snapshot for atomic persistence with the
// transition into "executing"
func (r *RollbackData) Encode() (json.RawMessage, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rollback data: %w", err)
	}
	return data, nil
}

// DecodeRollbackData reads a stored snapshot back
func DecodeRollbackData(raw json.RawMessage) (*RollbackData, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("rollback data is empty")
	}
	var data RollbackData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode rollback data: %w", err)
	}
	if data.SchemaVersion == 0 || data.SchemaVersion > RollbackSchemaVersion {
		return nil, fmt.Errorf("unsupported rollback schema version %d", data.SchemaVersion)
	}
	if data.Kind == "" {
		return nil, fmt.Errorf("rollback data has no kind tag")
	}
	return &data, nil
}
