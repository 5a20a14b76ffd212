package domain

// Decision is the authoritative outcome for a payment attempt. The same
// values are used for card-testing tracker recommendations.
type Decision string

const (
	DecisionAllow  Decision = "ALLOW"
	DecisionReview Decision = "REVIEW"
	DecisionBlock  Decision = "BLOCK"
)

// Confidence expresses how sure the engine is about its decision.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Severity grades a single factor.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Factor is one named, weighted contributor to a risk score. Positive
// weights add risk, negative weights reduce it.
type Factor struct {
	Type        string   `json:"type"`
	Weight      int      `json:"weight"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// Adjustments reports the magnitude of risk-adding and risk-reducing
// contributions behind a score.
type Adjustments struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
}

// FraudResult is the scoring output for one transaction.
type FraudResult struct {
	Decision          Decision    `json:"decision"`
	RiskScore         int         `json:"riskScore"`
	Factors           []Factor    `json:"factors"`
	Confidence        Confidence  `json:"confidence"`
	RecommendedAction string      `json:"recommendedAction"`
	Adjustments       Adjustments `json:"adjustments"`
}

// RiskLevel is the display bucket of a composite score.
type RiskLevel string

const (
	RiskMinimal  RiskLevel = "minimal"
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskElevated RiskLevel = "elevated"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// CompositeScore merges the fraud score and the card-testing suspicion
// score for display. It never carries a decision of its own.
type CompositeScore struct {
	Score     int                `json:"score"`
	Level     RiskLevel          `json:"level"`
	Breakdown CompositeBreakdown `json:"breakdown"`
}

// CompositeBreakdown retains the inputs of a composite score.
type CompositeBreakdown struct {
	FraudScore      int        `json:"fraudScore"`
	FraudWeight     float64    `json:"fraudWeight"`
	SuspicionScore  *int       `json:"suspicionScore,omitempty"`
	SuspicionWeight float64    `json:"suspicionWeight"`
	Decision        Decision   `json:"decision"`
	Confidence      Confidence `json:"confidence"`
}
