package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/shelfwise/action-engine/domain/entity"
)

// SKUSnapshot is the read-only view of a catalog item at a point in time.
// The executor serializes it into rollback data before any mutation.
type SKUSnapshot struct {
	SKU         string  `json:"sku" msgpack:"sku"`
	Name        string  `json:"name" msgpack:"name"`
	Price       float64 `json:"price" msgpack:"price"`
	Currency    string  `json:"currency" msgpack:"currency"`
	Quantity    int     `json:"quantity" msgpack:"quantity"`
	DiscountPct float64 `json:"discount_pct" msgpack:"discount_pct"`
}

// CatalogReader reads current SKU state from the inventory system.
// Implementations must be side-effect-free.
type CatalogReader interface {
	GetSKU(ctx context.Context, sku string) (*SKUSnapshot, error)
}

// ChangeResult reports the outcome of a mutating call against the
// commerce system, including which downstream systems acknowledged.
type ChangeResult struct {
	// ActualImpact is the measured delta when the target system returns
	// one; nil means reconcile later.
	ActualImpact *float64 `json:"actual_impact,omitempty"`

	// AffectedSystems names the systems the change fans out to
	AffectedSystems []string `json:"affected_systems,omitempty"`

	// SyncStatus maps each affected system to pending/synced/failed.
	// Fan-out is best effort; no cross-system atomicity is assumed.
	SyncStatus map[string]string `json:"sync_status,omitempty"`

	// ExternalRefs carries IDs minted by the target system, e.g. the
	// campaign ID for launch_campaign
	ExternalRefs map[string]string `json:"external_refs,omitempty"`

	// Metrics carries measurable success metrics when available
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// CommerceGateway performs the actual mutations against the pricing and
// inventory systems. One forward call per action type; inverses are used
// by the rollback path.
type CommerceGateway interface {
	ApplyPriceChange(ctx context.Context, sku string, newPrice float64) (*ChangeResult, error)

	// ApplyStockChange sets the absolute on-hand level. The executor
	// computes the target level from the captured snapshot plus the
	// reorder quantity, which makes the stored old quantity a complete
	// inverse on its own.
	ApplyStockChange(ctx context.Context, sku string, quantity int, supplierID string) (*ChangeResult, error)
	ApplyDiscountChange(ctx context.Context, sku string, discountPct float64) (*ChangeResult, error)
	LaunchCampaign(ctx context.Context, campaignID string, payload *entity.LaunchCampaignPayload) (*ChangeResult, error)
	CancelCampaign(ctx context.Context, campaignID string) (*ChangeResult, error)
}

// InsightProvider proposes action candidates from the upstream
// recommendation engine. The engine only consumes its output; it never
// calls back into this core.
type InsightProvider interface {
	ProposeActions(ctx context.Context, userID uuid.UUID) ([]*entity.ActionRequest, error)
}
