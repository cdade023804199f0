package entity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RuleType identifies a validation rule's behavior
type RuleType string

const (
	RuleTypeMaxPriceChangePct   RuleType = "max_price_change_pct"
	RuleTypeMinPrice            RuleType = "min_price"
	RuleTypeMaxReorderQuantity  RuleType = "max_reorder_quantity"
	RuleTypeRequireReason       RuleType = "require_reason"
	RuleTypeRequireManualReview RuleType = "require_manual_review"
	RuleTypeMaxExpectedImpact   RuleType = "max_expected_impact"
	RuleTypeMinConfidence       RuleType = "min_confidence"
)

// ValidationRule is a tenant-owned, per-action-type business rule applied
// before any state is persisted. Column-exact with action_validation_rules.
type ValidationRule struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	UserID     uuid.UUID       `json:"user_id" db:"user_id"`
	ActionType ActionType      `json:"action_type" db:"action_type"`
	RuleType   RuleType        `json:"rule_type" db:"rule_type"`
	RuleConfig json.RawMessage `json:"rule_config" db:"rule_config"`
	Enabled    bool            `json:"enabled" db:"enabled"`
	Priority   int             `json:"priority" db:"priority"`
	CreatedBy  string          `json:"created_by" db:"created_by"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

// RuleConfigValues is the decoded shape shared by the built-in rule types.
// Unused fields stay at their zero value for a given rule type.
type RuleConfigValues struct {
	MaxChangePct  float64 `json:"max_change_pct,omitempty"`
	MinPrice      float64 `json:"min_price,omitempty"`
	MaxQuantity   int     `json:"max_quantity,omitempty"`
	MaxImpact     float64 `json:"max_impact,omitempty"`
	MinConfidence float64 `json:"min_confidence,omitempty"`
	AutoApprove   bool    `json:"auto_approve,omitempty"`
	Soft          bool    `json:"soft,omitempty"`
	Message       string  `json:"message,omitempty"`
}

// DecodeConfig reads the rule's opaque config into its typed shape
func (r *ValidationRule) DecodeConfig() (*RuleConfigValues, error) {
	values := &RuleConfigValues{}
	if len(r.RuleConfig) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(r.RuleConfig, values); err != nil {
		return nil, fmt.Errorf("rule %s has malformed config: %w", r.ID, err)
	}
	return values, nil
}

// RuleViolation explains which rule a request violated and why
type RuleViolation struct {
	Rule    string `json:"rule"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ValidationResult is the outcome of running a request through the
// validation engine. A request with hard violations never reaches the
// durable store.
type ValidationResult struct {
	Valid             bool            `json:"valid"`
	Violations        []RuleViolation `json:"violations,omitempty"`
	Warnings          []RuleViolation `json:"warnings,omitempty"`
	ExpectedImpact    float64         `json:"expected_impact"`
	ForceManualReview bool            `json:"force_manual_review"`
	AutoApprovable    bool            `json:"auto_approvable"`

	// CurrentPrice is the read-only observation used for percentage risk
	// thresholds, when the target SKU resolves to a priced item.
	CurrentPrice *float64 `json:"current_price,omitempty"`
}
