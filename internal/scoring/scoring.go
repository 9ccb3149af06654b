// Package scoring turns a checklist and a reviewer's item outcomes into a
// score. It performs no I/O and is safe for concurrent use.
package scoring

import (
	"fmt"

	"qcline/internal/domain"
)

// Result is the output of Score. Thresholds downstream compare against Score,
// never RawScore.
type Result struct {
	RawScore          float64  `json:"raw_score"`
	Score             int      `json:"score"`
	AllRequiredPassed bool     `json:"all_required_passed"`
	AnyCriticalFailed bool     `json:"any_critical_failed"`
	Passed            int      `json:"passed"`
	Total             int      `json:"total"`
	Missing           []string `json:"missing,omitempty"`
}

// Score evaluates cl against evals. Items with no evaluation count as Fail.
// Evaluations naming unknown items, repeating an item or carrying an unknown
// outcome are rejected with domain.ErrInvalidEvaluation.
func Score(cl domain.Checklist, evals []domain.ItemEvaluation) (Result, error) {
	outcomes, err := index(cl, evals)
	if err != nil {
		return Result{}, err
	}
	if len(cl.Items) == 0 {
		return Result{}, domain.ErrEmptyChecklist
	}

	res := Result{AllRequiredPassed: true, Total: len(cl.Items)}
	var num, den int64
	for _, it := range cl.Items {
		outcome, ok := outcomes[it.ID]
		if !ok {
			outcome = domain.ItemFail
			res.Missing = append(res.Missing, it.ID)
		}
		passed := outcome == domain.ItemPass
		if passed {
			res.Passed++
		}
		if it.IsRequired && !passed {
			res.AllRequiredPassed = false
		}
		if it.Severity == domain.SeverityHigh && !passed {
			res.AnyCriticalFailed = true
		}
		switch cl.ScoringMode {
		case domain.ScoringBinary:
			den++
			if passed {
				num++
			}
		case domain.ScoringWeighted:
			w := int64(it.DefaultScore)
			if w < 0 {
				w = 0
			}
			den += w
			if passed {
				num += w
			}
		default:
			return Result{}, fmt.Errorf("%w: unknown scoring mode %q", domain.ErrInvalidChecklist, cl.ScoringMode)
		}
	}
	if den == 0 {
		return Result{}, domain.ErrZeroWeightChecklist
	}
	res.RawScore = 100 * float64(num) / float64(den)
	res.Score = RoundPercent(num, den)
	return res, nil
}

// RoundPercent returns 100*num/den rounded half-up, computed on integers so
// that results at .5 boundaries do not depend on floating point error.
func RoundPercent(num, den int64) int {
	if den <= 0 {
		return 0
	}
	return int((200*num + den) / (2 * den))
}

func index(cl domain.Checklist, evals []domain.ItemEvaluation) (map[string]domain.ItemOutcome, error) {
	known := make(map[string]struct{}, len(cl.Items))
	for _, it := range cl.Items {
		known[it.ID] = struct{}{}
	}
	out := make(map[string]domain.ItemOutcome, len(evals))
	for _, ev := range evals {
		if _, ok := known[ev.ItemID]; !ok {
			return nil, fmt.Errorf("%w: item %q is not part of checklist %s", domain.ErrInvalidEvaluation, ev.ItemID, cl.ID)
		}
		if _, dup := out[ev.ItemID]; dup {
			return nil, fmt.Errorf("%w: item %q evaluated more than once", domain.ErrInvalidEvaluation, ev.ItemID)
		}
		switch ev.Outcome {
		case domain.ItemPass, domain.ItemFail:
		default:
			return nil, fmt.Errorf("%w: item %q has outcome %q", domain.ErrInvalidEvaluation, ev.ItemID, ev.Outcome)
		}
		out[ev.ItemID] = ev.Outcome
	}
	return out, nil
}
