package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfwise/action-engine/domain/entity"
)

func addRule(t *testing.T, rig *testRig, userID uuid.UUID, actionType entity.ActionType, ruleType entity.RuleType, priority int, config entity.RuleConfigValues) {
	t.Helper()
	raw, err := json.Marshal(config)
	require.NoError(t, err)
	require.NoError(t, rig.rules.Create(context.Background(), &entity.ValidationRule{
		ID:         uuid.New(),
		UserID:     userID,
		ActionType: actionType,
		RuleType:   ruleType,
		RuleConfig: raw,
		Enabled:    true,
		Priority:   priority,
		CreatedBy:  "tester",
		CreatedAt:  time.Now().UTC(),
	}))
}

func TestValidateAcceptsWellFormedPriceUpdate(t *testing.T) {
	rig := newTestRig()
	req := priceRequest(uuid.New(), "SKU-1", 21)

	result, err := rig.validator.Validate(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, result.Valid)
	assert.Empty(t, result.Violations)
	require.NotNil(t, result.CurrentPrice)
	assert.Equal(t, 20.0, *result.CurrentPrice)
}

func TestValidateRejectsUnknownActionType(t *testing.T) {
	rig := newTestRig()
	req := priceRequest(uuid.New(), "SKU-1", 21)
	req.ActionType = "delete_everything"

	result, err := rig.validator.Validate(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, result.Valid)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, "action_type", result.Violations[0].Rule)
}

func TestValidateRejectsDirectBulkUpdate(t *testing.T) {
	rig := newTestRig()
	req := priceRequest(uuid.New(), "SKU-1", 21)
	req.ActionType = entity.ActionTypeBulkUpdate

	result, err := rig.validator.Validate(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, result.Valid)
}

func TestValidateRejectsNonPositivePrice(t *testing.T) {
	rig := newTestRig()
	req := priceRequest(uuid.New(), "SKU-1", 0)

	result, err := rig.validator.Validate(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, result.Valid)
	require.NotEmpty(t, result.Violations)
	assert.Equal(t, "numeric_sanity", result.Violations[0].Rule)
}

func TestValidateRejectsZeroReorderQuantity(t *testing.T) {
	rig := newTestRig()
	req := reorderRequest(uuid.New(), "SKU-1", 0)

	result, err := rig.validator.Validate(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, result.Valid)
}

func TestValidateRejectsConfidenceOutOfRange(t *testing.T) {
	rig := newTestRig()
	req := priceRequest(uuid.New(), "SKU-1", 21)
	req.ConfidenceScore = 1.2

	result, err := rig.validator.Validate(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, result.Valid)
}

func TestValidateRejectsUnresolvableSKU(t *testing.T) {
	rig := newTestRig()
	req := priceRequest(uuid.New(), "SKU-MISSING", 21)

	result, err := rig.validator.Validate(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, result.Valid)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, "sku_exists", result.Violations[0].Rule)
}

func TestValidateCampaignChecksEveryMemberSKU(t *testing.T) {
	rig := newTestRig()
	req := campaignRequest(uuid.New(), "spring-sale", []string{"SKU-1", "SKU-MISSING"})

	result, err := rig.validator.Validate(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, result.Valid)
}

func TestValidateMaxPriceChangeRule(t *testing.T) {
	rig := newTestRig()
	userID := uuid.New()
	addRule(t, rig, userID, entity.ActionTypePriceUpdate, entity.RuleTypeMaxPriceChangePct, 10, entity.RuleConfigValues{MaxChangePct: 15})

	// 20 -> 30 is a 50% change
	req := priceRequest(userID, "SKU-1", 30)
	result, err := rig.validator.Validate(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, result.Valid)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, string(entity.RuleTypeMaxPriceChangePct), result.Violations[0].Rule)
}

func TestValidateSoftRuleBecomesWarning(t *testing.T) {
	rig := newTestRig()
	userID := uuid.New()
	addRule(t, rig, userID, entity.ActionTypePriceUpdate, entity.RuleTypeMinPrice, 10, entity.RuleConfigValues{MinPrice: 25, Soft: true})

	req := priceRequest(userID, "SKU-1", 21)
	result, err := rig.validator.Validate(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, result.Valid)
	assert.Empty(t, result.Violations)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, string(entity.RuleTypeMinPrice), result.Warnings[0].Rule)
}

func TestValidateFirstHardFailureStopsEvaluation(t *testing.T) {
	rig := newTestRig()
	userID := uuid.New()
	addRule(t, rig, userID, entity.ActionTypePriceUpdate, entity.RuleTypeMinPrice, 20, entity.RuleConfigValues{MinPrice: 25})
	addRule(t, rig, userID, entity.ActionTypePriceUpdate, entity.RuleTypeRequireReason, 10, entity.RuleConfigValues{})

	req := priceRequest(userID, "SKU-1", 21)
	req.Reason = ""
	result, err := rig.validator.Validate(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, result.Valid)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, string(entity.RuleTypeMinPrice), result.Violations[0].Rule)
}

func TestValidateRequireReasonRule(t *testing.T) {
	rig := newTestRig()
	userID := uuid.New()
	addRule(t, rig, userID, entity.ActionTypePriceUpdate, entity.RuleTypeRequireReason, 10, entity.RuleConfigValues{})

	req := priceRequest(userID, "SKU-1", 21)
	req.Reason = "   "
	result, err := rig.validator.Validate(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, result.Valid)
}

func TestValidateMinConfidenceRule(t *testing.T) {
	rig := newTestRig()
	userID := uuid.New()
	addRule(t, rig, userID, entity.ActionTypePriceUpdate, entity.RuleTypeMinConfidence, 10, entity.RuleConfigValues{MinConfidence: 0.95})

	req := priceRequest(userID, "SKU-1", 21)
	result, err := rig.validator.Validate(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, result.Valid)
}

func TestValidateManualReviewRuleFlagsResult(t *testing.T) {
	rig := newTestRig()
	userID := uuid.New()
	addRule(t, rig, userID, entity.ActionTypePriceUpdate, entity.RuleTypeRequireManualReview, 10, entity.RuleConfigValues{})

	req := priceRequest(userID, "SKU-1", 21)
	result, err := rig.validator.Validate(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, result.Valid)
	assert.True(t, result.ForceManualReview)
}

func TestValidateRulesAreScopedToTenant(t *testing.T) {
	rig := newTestRig()
	owner := uuid.New()
	addRule(t, rig, owner, entity.ActionTypePriceUpdate, entity.RuleTypeMinPrice, 10, entity.RuleConfigValues{MinPrice: 25})

	other := priceRequest(uuid.New(), "SKU-1", 21)
	result, err := rig.validator.Validate(context.Background(), other)
	require.NoError(t, err)

	assert.True(t, result.Valid)
}

func TestValidateEstimatesImpactWhenCallerOmitsIt(t *testing.T) {
	rig := newTestRig()
	req := priceRequest(uuid.New(), "SKU-1", 22)
	req.ExpectedImpact = 0

	result, err := rig.validator.Validate(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, result.Valid)
	// (22 - 20) * 100 units on hand
	assert.InDelta(t, 200, result.ExpectedImpact, 0.001)
}
