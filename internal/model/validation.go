package model

import "time"

// ValidationType is one of the eight scored quality dimensions.
type ValidationType string

const (
	ValidateBrandVoice         ValidationType = "brand_voice"
	ValidateAuthenticity       ValidationType = "authenticity"
	ValidatePersonaAlignment   ValidationType = "persona_alignment"
	ValidateEthicalIntegration ValidationType = "ethical_integration"
	ValidateProhibitedLanguage ValidationType = "prohibited_language"
	ValidateQualityStandards   ValidationType = "quality_standards"
	ValidateTemplateCompliance ValidationType = "template_compliance"
	ValidateTransparency       ValidationType = "transparency"
)

// ValidationTypes lists every validation type in a stable order.
var ValidationTypes = []ValidationType{
	ValidateBrandVoice,
	ValidateAuthenticity,
	ValidatePersonaAlignment,
	ValidateEthicalIntegration,
	ValidateProhibitedLanguage,
	ValidateQualityStandards,
	ValidateTemplateCompliance,
	ValidateTransparency,
}

// Severity ranks a validation issue.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities, higher is worse.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// ValidationIssue is one finding of a validator.
type ValidationIssue struct {
	Type       ValidationType `json:"validation_type"`
	Severity   Severity       `json:"severity"`
	Message    string         `json:"message"`
	Suggestion string         `json:"suggestion,omitempty"`
	Line       int            `json:"line,omitempty"`
}

// ValidationResult is the scored outcome of validating one piece of content.
type ValidationResult struct {
	ID           string                     `json:"id"`
	ContentID    string                     `json:"content_id"`
	PlanID       string                     `json:"plan_id,omitempty"`
	Scores       map[ValidationType]float64 `json:"scores"`
	Weights      map[ValidationType]float64 `json:"weights,omitempty"`
	OverallScore float64                    `json:"overall_score"`
	Threshold    float64                    `json:"threshold"`
	Issues       []ValidationIssue          `json:"issues"`
	Passed       bool                       `json:"passed"`
	Realtime     bool                       `json:"realtime,omitempty"`
	RuleVersion  string                     `json:"rule_version,omitempty"`
	ValidatedAt  time.Time                  `json:"validated_at"`
}

// HasCritical reports whether any issue is critical.
func (r *ValidationResult) HasCritical() bool {
	for _, is := range r.Issues {
		if is.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// CountSeverity returns how many issues have severity s.
func (r *ValidationResult) CountSeverity(s Severity) int {
	n := 0
	for _, is := range r.Issues {
		if is.Severity == s {
			n++
		}
	}
	return n
}
