// Package policy combines a score with a checklist's auto-fail rules and the
// reviewer's requested decision into the final, authoritative outcome.
package policy

import (
	"fmt"

	"qcline/internal/domain"
	"qcline/internal/scoring"
)

const (
	WarnAutoFailRequired  = "auto_fail_required"
	WarnAutoFailCritical  = "auto_fail_critical"
	WarnThresholdOverride = "threshold_override"
)

// Decide applies, in order: required-item auto-fail, critical-item auto-fail,
// then the checklist's output type against the rounded score. The requested
// decision can never lift an auto-fail; when the final outcome differs from
// what the reviewer asked for, a warning explains why.
func Decide(cl domain.Checklist, res scoring.Result, requested domain.RequestedDecision) (domain.FinalDecision, error) {
	switch requested {
	case domain.RequestApproved, domain.RequestRejected, domain.RequestRework:
	default:
		return domain.FinalDecision{}, fmt.Errorf("%w: requested decision %q", domain.ErrInvalidInput, requested)
	}
	dec := domain.FinalDecision{Score: res.Score}

	switch {
	case cl.AutoFailOnRequiredItemFail && !res.AllRequiredPassed:
		dec.Outcome = domain.OutcomeFail
		if requested != domain.RequestRejected {
			dec.Warnings = append(dec.Warnings, domain.DecisionWarning{
				Code:    WarnAutoFailRequired,
				Message: fmt.Sprintf("a required checklist item failed; recorded as Fail instead of %s", requested),
			})
		}
		return dec, nil
	case cl.AutoFailOnCriticalItemFail && res.AnyCriticalFailed:
		dec.Outcome = domain.OutcomeFail
		if requested != domain.RequestRejected {
			dec.Warnings = append(dec.Warnings, domain.DecisionWarning{
				Code:    WarnAutoFailCritical,
				Message: fmt.Sprintf("a critical (High severity) item failed; recorded as Fail instead of %s", requested),
			})
		}
		return dec, nil
	}

	outcome, err := byThreshold(cl, res.Score, requested)
	if err != nil {
		return domain.FinalDecision{}, err
	}
	dec.Outcome = outcome
	if outcome != outcomeFor(requested) {
		dec.Warnings = append(dec.Warnings, domain.DecisionWarning{
			Code: WarnThresholdOverride,
			Message: fmt.Sprintf("score %d under %s thresholds (pass %d, rework %d) yields %s, not %s",
				res.Score, cl.OutputType, cl.PassThreshold, cl.ReworkThreshold, outcome, requested),
		})
	}
	return dec, nil
}

func byThreshold(cl domain.Checklist, score int, requested domain.RequestedDecision) (domain.Outcome, error) {
	switch cl.OutputType {
	case domain.OutputPercentage:
		// Percentage has no rework band; an explicit rework request is honored.
		if requested == domain.RequestRework {
			return domain.OutcomeRework, nil
		}
		if score >= cl.PassThreshold {
			return domain.OutcomePass, nil
		}
		return domain.OutcomeFail, nil
	case domain.OutputPassFail:
		if score >= cl.PassThreshold {
			return domain.OutcomePass, nil
		}
		return domain.OutcomeFail, nil
	case domain.OutputPassReworkFail:
		switch {
		case score >= cl.PassThreshold:
			return domain.OutcomePass, nil
		case score >= cl.ReworkThreshold:
			return domain.OutcomeRework, nil
		default:
			return domain.OutcomeFail, nil
		}
	default:
		return "", fmt.Errorf("%w: unknown qc output type %q", domain.ErrInvalidChecklist, cl.OutputType)
	}
}

func outcomeFor(r domain.RequestedDecision) domain.Outcome {
	switch r {
	case domain.RequestApproved:
		return domain.OutcomePass
	case domain.RequestRework:
		return domain.OutcomeRework
	default:
		return domain.OutcomeFail
	}
}
