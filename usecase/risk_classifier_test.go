package usecase

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/shelfwise/action-engine/domain/entity"
)

func classify(req *entity.ActionRequest, validation *entity.ValidationResult) RiskAssessment {
	return NewRiskClassifier(DefaultRiskConfig()).Classify(req, validation)
}

func TestClassifySmallImpactIsLowRisk(t *testing.T) {
	req := priceRequest(uuid.New(), "SKU-1", 21)
	assessment := classify(req, &entity.ValidationResult{Valid: true, ExpectedImpact: 50})

	assert.Equal(t, entity.RiskLevelLow, assessment.Level)
	assert.False(t, assessment.RequiresApproval)
}

func TestClassifyAbsoluteImpactThresholdRequiresApproval(t *testing.T) {
	req := priceRequest(uuid.New(), "SKU-1", 21)
	assessment := classify(req, &entity.ValidationResult{Valid: true, ExpectedImpact: 1500})

	assert.Equal(t, entity.RiskLevelHigh, assessment.Level)
	assert.True(t, assessment.RequiresApproval)
}

func TestClassifyCriticalImpactThreshold(t *testing.T) {
	req := priceRequest(uuid.New(), "SKU-1", 21)
	assessment := classify(req, &entity.ValidationResult{Valid: true, ExpectedImpact: -20000})

	assert.Equal(t, entity.RiskLevelCritical, assessment.Level)
	assert.True(t, assessment.RequiresApproval)
}

func TestClassifyPercentagePriceChange(t *testing.T) {
	// 20 -> 26 is a 30% move against a 10% threshold
	req := priceRequest(uuid.New(), "SKU-1", 26)
	current := 20.0
	assessment := classify(req, &entity.ValidationResult{Valid: true, ExpectedImpact: 100, CurrentPrice: &current})

	assert.Equal(t, entity.RiskLevelHigh, assessment.Level)
	assert.True(t, assessment.RequiresApproval)
}

func TestClassifyLargeReorder(t *testing.T) {
	req := reorderRequest(uuid.New(), "SKU-1", 800)
	assessment := classify(req, &entity.ValidationResult{Valid: true, ExpectedImpact: 100})

	assert.Equal(t, entity.RiskLevelHigh, assessment.Level)
	assert.True(t, assessment.RequiresApproval)
}

func TestClassifyCampaignIsAtLeastMedium(t *testing.T) {
	req := campaignRequest(uuid.New(), "spring-sale", []string{"SKU-1"})
	assessment := classify(req, &entity.ValidationResult{Valid: true, ExpectedImpact: 200})

	assert.Equal(t, entity.RiskLevelMedium, assessment.Level)
	assert.False(t, assessment.RequiresApproval)
}

func TestClassifyLowConfidenceRaisesRisk(t *testing.T) {
	req := priceRequest(uuid.New(), "SKU-1", 21)
	req.ConfidenceScore = 0.3
	assessment := classify(req, &entity.ValidationResult{Valid: true, ExpectedImpact: 50})

	assert.Equal(t, entity.RiskLevelMedium, assessment.Level)
	assert.False(t, assessment.RequiresApproval)
}

func TestClassifyLowConfidenceOnMediumBecomesHigh(t *testing.T) {
	req := campaignRequest(uuid.New(), "spring-sale", []string{"SKU-1"})
	req.ConfidenceScore = 0.3
	assessment := classify(req, &entity.ValidationResult{Valid: true, ExpectedImpact: 200})

	assert.Equal(t, entity.RiskLevelHigh, assessment.Level)
	assert.True(t, assessment.RequiresApproval)
}

func TestClassifyManualReviewRuleForcesApproval(t *testing.T) {
	req := priceRequest(uuid.New(), "SKU-1", 21)
	assessment := classify(req, &entity.ValidationResult{Valid: true, ExpectedImpact: 50, ForceManualReview: true})

	assert.True(t, assessment.RequiresApproval)
	assert.True(t, assessment.Level.AtLeast(entity.RiskLevelMedium))
}

func TestClassifyAutoApprovableOnlyBelowHigh(t *testing.T) {
	req := priceRequest(uuid.New(), "SKU-1", 21)

	medium := classify(req, &entity.ValidationResult{Valid: true, ExpectedImpact: 50, ForceManualReview: true, AutoApprovable: true})
	assert.True(t, medium.AutoApprovable)

	high := classify(req, &entity.ValidationResult{Valid: true, ExpectedImpact: 5000, ForceManualReview: true, AutoApprovable: true})
	assert.True(t, high.RequiresApproval)
	assert.False(t, high.AutoApprovable)
}

func TestClassifyReasonJoinsAllContributions(t *testing.T) {
	req := reorderRequest(uuid.New(), "SKU-1", 800)
	assessment := classify(req, &entity.ValidationResult{Valid: true, ExpectedImpact: 1500})

	assert.Len(t, assessment.Reasons, 2)
	assert.NotEmpty(t, assessment.Reason())
}
