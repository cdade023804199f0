package usecase

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/shelfwise/action-engine/domain/entity"
	"github.com/shelfwise/action-engine/domain/repository"
	"github.com/shelfwise/action-engine/domain/service"
	"github.com/shelfwise/action-engine/pkg/logging"
	"github.com/shelfwise/action-engine/pkg/metrics"
)

// ValidationEngine checks an incoming request against built-in structural
// rules and tenant-owned business rules before anything is persisted.
// Validation is a pure check against current system state obtained
// read-only from the catalog; it has no side effects.
type ValidationEngine struct {
	rules   repository.RuleRepository
	catalog service.CatalogReader
	logger  *logging.Logger
	metrics *metrics.Collector
}

// NewValidationEngine creates the validation engine
func NewValidationEngine(rules repository.RuleRepository, catalog service.CatalogReader, logger *logging.Logger, collector *metrics.Collector) *ValidationEngine {
	return &ValidationEngine{
		rules:   rules,
		catalog: catalog,
		logger:  logger.WithComponent("validation_engine"),
		metrics: collector,
	}
}

// Validate runs the full rule set for the request's action type.
// Structural checks run first; tenant rules follow in priority order,
// higher first. A hard failure stops evaluation; soft rules aggregate
// into warnings. Returns an error only for infrastructure failures.
func (v *ValidationEngine) Validate(ctx context.Context, req *entity.ActionRequest) (*entity.ValidationResult, error) {
	result := &entity.ValidationResult{Valid: true}

	v.checkStructure(req, result)
	if !result.Valid {
		v.countFailures(req, result)
		return result, nil
	}

	snapshot, err := v.observeTarget(ctx, req, result)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		v.countFailures(req, result)
		return result, nil
	}

	result.ExpectedImpact = req.ExpectedImpact
	if result.ExpectedImpact == 0 {
		result.ExpectedImpact = estimateImpact(req, snapshot)
	}

	rules, err := v.rules.ListEnabled(ctx, req.UserID, req.ActionType)
	if err != nil {
		return nil, fmt.Errorf("failed to load validation rules: %w", err)
	}

	for _, rule := range rules {
		violation, err := v.evaluateRule(rule, req, result, snapshot)
		if err != nil {
			v.logger.Warn("skipping unevaluable rule",
				zap.String("rule_id", rule.ID.String()),
				zap.String("rule_type", string(rule.RuleType)),
				zap.Error(err),
			)
			continue
		}
		if violation == nil {
			continue
		}

		cfg, _ := rule.DecodeConfig()
		if cfg != nil && cfg.Soft {
			result.Warnings = append(result.Warnings, *violation)
			continue
		}
		result.Valid = false
		result.Violations = append(result.Violations, *violation)
		break // first hard failure wins
	}

	v.countFailures(req, result)
	return result, nil
}

// checkStructure performs the built-in per-type shape and sanity checks
func (v *ValidationEngine) checkStructure(req *entity.ActionRequest, result *entity.ValidationResult) {
	fail := func(rule, field, message string) {
		result.Valid = false
		result.Violations = append(result.Violations, entity.RuleViolation{
			Rule: rule, Field: field, Message: message,
		})
	}

	if !req.ActionType.IsKnown() {
		fail("action_type", "action_type", fmt.Sprintf("unknown action type %q", req.ActionType))
		return
	}
	if req.ActionType == entity.ActionTypeBulkUpdate {
		fail("action_type", "action_type", "bulk_update must be submitted as a batch of member actions")
		return
	}
	if req.ConfidenceScore < 0 || req.ConfidenceScore > 1 {
		fail("confidence_score", "confidence_score", "confidence score must be within [0,1]")
	}

	variant, err := req.Payload.Variant(req.ActionType)
	if err != nil {
		fail("payload_shape", "payload", err.Error())
		return
	}

	switch p := variant.(type) {
	case *entity.PriceUpdatePayload:
		if strings.TrimSpace(p.TargetSKU) == "" {
			fail("required_fields", "target_sku", "price_update requires target_sku")
		}
		if p.NewPrice <= 0 {
			fail("numeric_sanity", "new_price", "price must be greater than zero")
		}
		if req.TargetSKU == "" {
			req.TargetSKU = p.TargetSKU
		}
	case *entity.ReorderStockPayload:
		if strings.TrimSpace(p.TargetSKU) == "" {
			fail("required_fields", "target_sku", "reorder_stock requires target_sku")
		}
		if p.Quantity < 0 {
			fail("numeric_sanity", "quantity", "reorder quantity must not be negative")
		} else if p.Quantity == 0 {
			fail("numeric_sanity", "quantity", "reorder quantity must be greater than zero")
		}
		if req.TargetSKU == "" {
			req.TargetSKU = p.TargetSKU
		}
	case *entity.LaunchCampaignPayload:
		if strings.TrimSpace(p.CampaignName) == "" {
			fail("required_fields", "campaign_name", "launch_campaign requires campaign_name")
		}
		if len(p.TargetSKUs) == 0 {
			fail("required_fields", "target_skus", "launch_campaign requires at least one target SKU")
		}
		if p.Budget <= 0 {
			fail("numeric_sanity", "budget", "campaign budget must be greater than zero")
		}
		if p.DurationDays <= 0 {
			fail("numeric_sanity", "duration_days", "campaign duration must be at least one day")
		}
		if len(req.TargetSKUs) == 0 {
			req.TargetSKUs = p.TargetSKUs
		}
	case *entity.AdjustDiscountPayload:
		if strings.TrimSpace(p.TargetSKU) == "" {
			fail("required_fields", "target_sku", "adjust_discount requires target_sku")
		}
		if p.DiscountPct < 0 || p.DiscountPct > 90 {
			fail("numeric_sanity", "discount_pct", "discount must be within [0,90] percent")
		}
		if req.TargetSKU == "" {
			req.TargetSKU = p.TargetSKU
		}
	}
}

// observeTarget reads current SKU state for percentage thresholds and
// existence checks. Campaigns validate each member SKU.
func (v *ValidationEngine) observeTarget(ctx context.Context, req *entity.ActionRequest, result *entity.ValidationResult) (*service.SKUSnapshot, error) {
	var primary *service.SKUSnapshot
	for i, sku := range req.SKUs() {
		snapshot, err := v.catalog.GetSKU(ctx, sku)
		if err != nil {
			result.Valid = false
			result.Violations = append(result.Violations, entity.RuleViolation{
				Rule: "sku_exists", Field: "target_sku",
				Message: fmt.Sprintf("SKU %s could not be resolved: %v", sku, err),
			})
			return nil, nil
		}
		if i == 0 {
			primary = snapshot
			result.CurrentPrice = &snapshot.Price
		}
	}
	return primary, nil
}

// evaluateRule applies one tenant rule; returns the violation, if any
func (v *ValidationEngine) evaluateRule(rule *entity.ValidationRule, req *entity.ActionRequest, result *entity.ValidationResult, snapshot *service.SKUSnapshot) (*entity.RuleViolation, error) {
	cfg, err := rule.DecodeConfig()
	if err != nil {
		return nil, err
	}

	violation := func(field, message string) *entity.RuleViolation {
		if cfg.Message != "" {
			message = cfg.Message
		}
		return &entity.RuleViolation{Rule: string(rule.RuleType), Field: field, Message: message}
	}

	switch rule.RuleType {
	case entity.RuleTypeMaxPriceChangePct:
		p := req.Payload.PriceUpdate
		if p == nil || snapshot == nil || snapshot.Price == 0 {
			return nil, nil
		}
		pct := math.Abs(p.NewPrice-snapshot.Price) / snapshot.Price * 100
		if pct > cfg.MaxChangePct {
			return violation("new_price", fmt.Sprintf("price change of %.1f%% exceeds the %.1f%% limit", pct, cfg.MaxChangePct)), nil
		}

	case entity.RuleTypeMinPrice:
		p := req.Payload.PriceUpdate
		if p != nil && p.NewPrice < cfg.MinPrice {
			return violation("new_price", fmt.Sprintf("price %.2f is below the floor of %.2f", p.NewPrice, cfg.MinPrice)), nil
		}

	case entity.RuleTypeMaxReorderQuantity:
		p := req.Payload.ReorderStock
		if p != nil && cfg.MaxQuantity > 0 && p.Quantity > cfg.MaxQuantity {
			return violation("quantity", fmt.Sprintf("reorder quantity %d exceeds the limit of %d", p.Quantity, cfg.MaxQuantity)), nil
		}

	case entity.RuleTypeRequireReason:
		if strings.TrimSpace(req.Reason) == "" {
			return violation("reason", "a reason is required for this action type"), nil
		}

	case entity.RuleTypeRequireManualReview:
		result.ForceManualReview = true
		if cfg.AutoApprove {
			result.AutoApprovable = true
		}

	case entity.RuleTypeMaxExpectedImpact:
		if cfg.MaxImpact > 0 && math.Abs(result.ExpectedImpact) > cfg.MaxImpact {
			return violation("expected_impact", fmt.Sprintf("expected impact %.2f exceeds the limit of %.2f", result.ExpectedImpact, cfg.MaxImpact)), nil
		}

	case entity.RuleTypeMinConfidence:
		if req.ConfidenceScore < cfg.MinConfidence {
			return violation("confidence_score", fmt.Sprintf("confidence %.2f is below the required %.2f", req.ConfidenceScore, cfg.MinConfidence)), nil
		}

	default:
		return nil, fmt.Errorf("unknown rule type %q", rule.RuleType)
	}

	return nil, nil
}

// estimateImpact computes an expected impact when the caller supplied none
func estimateImpact(req *entity.ActionRequest, snapshot *service.SKUSnapshot) float64 {
	if snapshot == nil {
		return 0
	}
	switch req.ActionType {
	case entity.ActionTypePriceUpdate:
		return (req.Payload.PriceUpdate.NewPrice - snapshot.Price) * float64(snapshot.Quantity)
	case entity.ActionTypeReorderStock:
		return -snapshot.Price * float64(req.Payload.ReorderStock.Quantity)
	case entity.ActionTypeLaunchCampaign:
		return -req.Payload.LaunchCampaign.Budget
	case entity.ActionTypeAdjustDiscount:
		delta := req.Payload.AdjustDiscount.DiscountPct - snapshot.DiscountPct
		return -delta / 100 * snapshot.Price * float64(snapshot.Quantity)
	}
	return 0
}

func (v *ValidationEngine) countFailures(req *entity.ActionRequest, result *entity.ValidationResult) {
	for _, violation := range result.Violations {
		v.metrics.ValidationFailures.WithLabelValues(string(req.ActionType), violation.Rule).Inc()
	}
}
