package decision

import "github.com/opensource-finance/harrier/internal/domain"

// AutoRefundScore is the minimum risk score of a blocked payment that makes
// it refund-eligible without a confirmed outcome.
const AutoRefundScore = 80

// ShouldAutoRefund reports whether the refund collaborator should act on a
// payment: fraud was confirmed, or the payment was blocked with a risk
// score of at least AutoRefundScore.
func ShouldAutoRefund(a *domain.Assessment, actual domain.ActualOutcome) bool {
	if actual == domain.OutcomeFraudConfirmed {
		return true
	}
	if a == nil {
		return false
	}
	return a.Decision == domain.DecisionBlock && a.Result.RiskScore >= AutoRefundScore
}

// ShouldAlert reports whether an assessment goes to the alerting collaborator.
func ShouldAlert(a *domain.Assessment) bool {
	return a.Decision != domain.DecisionAllow
}
