package usecase

import (
	"fmt"
	"math"

	"github.com/shelfwise/action-engine/domain/entity"
)

// RiskConfig holds the thresholds the classifier scores against
type RiskConfig struct {
	// AbsoluteImpactThreshold marks an action high risk once
	// |expected_impact| reaches it
	AbsoluteImpactThreshold float64 `mapstructure:"absolute_impact_threshold"`

	// CriticalImpactThreshold marks an action critical
	CriticalImpactThreshold float64 `mapstructure:"critical_impact_threshold"`

	// PercentImpactThreshold marks a price change high risk once the
	// change exceeds this percentage of the current price
	PercentImpactThreshold float64 `mapstructure:"percent_impact_threshold"`

	// ConfidenceFloor bumps the risk of low-confidence recommendations
	ConfidenceFloor float64 `mapstructure:"confidence_floor"`

	// ReorderQuantityThreshold marks large reorders high risk
	ReorderQuantityThreshold int `mapstructure:"reorder_quantity_threshold"`
}

// DefaultRiskConfig returns the thresholds used when none are configured
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		AbsoluteImpactThreshold:  1000,
		CriticalImpactThreshold:  10000,
		PercentImpactThreshold:   10,
		ConfidenceFloor:          0.5,
		ReorderQuantityThreshold: 500,
	}
}

// RiskAssessment is the classifier's verdict
type RiskAssessment struct {
	Level            entity.RiskLevel `json:"risk_level"`
	RequiresApproval bool             `json:"requires_approval"`
	AutoApprovable   bool             `json:"auto_approvable"`
	Reasons          []string         `json:"reasons,omitempty"`
}

// Reason joins the individual risk reasons into one approval reason
func (a *RiskAssessment) Reason() string {
	if len(a.Reasons) == 0 {
		return "risk threshold reached"
	}
	out := a.Reasons[0]
	for _, r := range a.Reasons[1:] {
		out += "; " + r
	}
	return out
}

// RiskClassifier scores an action's potential impact and decides whether
// it needs human approval. Classify is a pure function of its inputs so
// the decision is deterministic and trivially testable.
type RiskClassifier struct {
	config RiskConfig
}

// NewRiskClassifier creates a classifier with the given thresholds
func NewRiskClassifier(config RiskConfig) *RiskClassifier {
	return &RiskClassifier{config: config}
}

// Classify derives the risk level from impact magnitude, action type
// sensitivity, and recommendation confidence. Approval is required for
// high and critical risk, or whenever a validation rule demanded manual
// review.
func (c *RiskClassifier) Classify(req *entity.ActionRequest, validation *entity.ValidationResult) RiskAssessment {
	assessment := RiskAssessment{Level: entity.RiskLevelLow}

	raise := func(level entity.RiskLevel, reason string) {
		if level.AtLeast(assessment.Level) {
			assessment.Level = level
		}
		assessment.Reasons = append(assessment.Reasons, reason)
	}

	impact := math.Abs(validation.ExpectedImpact)
	if c.config.CriticalImpactThreshold > 0 && impact >= c.config.CriticalImpactThreshold {
		raise(entity.RiskLevelCritical, fmt.Sprintf("expected impact %.2f reaches the critical threshold %.2f", impact, c.config.CriticalImpactThreshold))
	} else if c.config.AbsoluteImpactThreshold > 0 && impact >= c.config.AbsoluteImpactThreshold {
		raise(entity.RiskLevelHigh, fmt.Sprintf("expected impact %.2f reaches the approval threshold %.2f", impact, c.config.AbsoluteImpactThreshold))
	}

	if req.ActionType == entity.ActionTypePriceUpdate && validation.CurrentPrice != nil && *validation.CurrentPrice > 0 {
		p := req.Payload.PriceUpdate
		if p != nil {
			pct := math.Abs(p.NewPrice-*validation.CurrentPrice) / *validation.CurrentPrice * 100
			if c.config.PercentImpactThreshold > 0 && pct >= c.config.PercentImpactThreshold {
				raise(entity.RiskLevelHigh, fmt.Sprintf("price change of %.1f%% exceeds the %.1f%% risk threshold", pct, c.config.PercentImpactThreshold))
			}
		}
	}

	if req.ActionType == entity.ActionTypeReorderStock {
		p := req.Payload.ReorderStock
		if p != nil && c.config.ReorderQuantityThreshold > 0 && p.Quantity >= c.config.ReorderQuantityThreshold {
			raise(entity.RiskLevelHigh, fmt.Sprintf("reorder of %d units exceeds the quantity threshold %d", p.Quantity, c.config.ReorderQuantityThreshold))
		}
	}
	if req.ActionType == entity.ActionTypeLaunchCampaign {
		raise(entity.RiskLevelMedium, "campaign launches carry inherent spend risk")
	}

	if req.ConfidenceScore > 0 && req.ConfidenceScore < c.config.ConfidenceFloor {
		if assessment.Level.AtLeast(entity.RiskLevelMedium) {
			raise(entity.RiskLevelHigh, fmt.Sprintf("confidence %.2f is below the floor %.2f", req.ConfidenceScore, c.config.ConfidenceFloor))
		} else {
			raise(entity.RiskLevelMedium, fmt.Sprintf("confidence %.2f is below the floor %.2f", req.ConfidenceScore, c.config.ConfidenceFloor))
		}
	}

	if validation.ForceManualReview {
		assessment.RequiresApproval = true
		assessment.Reasons = append(assessment.Reasons, "a validation rule requires manual review")
		if !assessment.Level.AtLeast(entity.RiskLevelMedium) {
			assessment.Level = entity.RiskLevelMedium
		}
	}

	if assessment.Level.AtLeast(entity.RiskLevelHigh) {
		assessment.RequiresApproval = true
	}

	// The narrow auto-approve policy only short-circuits the gate below
	// high risk.
	if validation.AutoApprovable && !assessment.Level.AtLeast(entity.RiskLevelHigh) {
		assessment.AutoApprovable = assessment.RequiresApproval
	}

	return assessment
}
