// Package improve implements spec §4.7/§4.8's Improvement Loop and
// Long-Run Loop, grounded on the teacher's generational candidate-scoring
// loop in internal/evolve/evolve.go (Program, ProgramDatabase,
// RunAlphaEvolve), generalized from "evolve source code" to "evaluate
// arbitrary metric snapshots against an objective/constraint policy".
package improve

import (
	"context"
	"fmt"

	"github.com/rlmrun/rlm/internal/rlm/policy"
)

// Evaluator runs one candidate and returns its metric snapshot. A thrown
// error is recorded as a candidate-local evaluation_error and the loop
// continues with the next candidate, per spec §7.
type Evaluator func(ctx context.Context, candidate any) (policy.MetricSnapshot, error)

// CandidateResult is one candidate's outcome from an Improvement Loop
// round.
type CandidateResult struct {
	Candidate  any
	Accepted   bool
	Reasons    []string
	Snapshot   *policy.MetricSnapshot
	Score      float64
	ScoreDelta float64
	Error      error
}

// RoundInput bundles the inputs to one Improvement Loop round.
type RoundInput struct {
	Baseline               policy.MetricSnapshot
	BaselineScore          float64
	Policy                 policy.Policy
	Candidates             []any
	Evaluate               Evaluator
	UpdateBaselineOnAccept bool
}

// RoundResult is the outcome of one Improvement Loop round.
type RoundResult struct {
	Results             []CandidateResult
	BestAccepted        *CandidateResult
	FinalBaseline       policy.MetricSnapshot
	FinalBaselineScore  float64
}

// RunRound implements spec §4.7: evaluate each candidate in input order,
// validate its snapshot against the policy, score it, and decide
// acceptance. If UpdateBaselineOnAccept, the running baseline advances on
// each acceptance, so later candidates in the same round compare against
// it.
func RunRound(ctx context.Context, in RoundInput) RoundResult {
	baseline := in.Baseline
	baselineScore := in.BaselineScore

	results := make([]CandidateResult, 0, len(in.Candidates))
	var best *CandidateResult

	for _, candidate := range in.Candidates {
		snapshot, err := in.Evaluate(ctx, candidate)
		if err != nil {
			results = append(results, CandidateResult{
				Candidate: candidate,
				Accepted:  false,
				Reasons:   []string{"evaluation_error"},
				Error:     err,
			})
			continue
		}

		reasons, invalid := validateSnapshot(in.Policy, baseline, snapshot)

		var score, scoreDelta float64
		if invalid {
			reasons = append([]string{"invalid_snapshot"}, reasons...)
		} else {
			score, _ = policy.ScoreSnapshot(in.Policy, snapshot)
			scoreDelta = score - baselineScore
			if scoreDelta < in.Policy.MinScoreDelta {
				reasons = append(reasons, "score_delta_too_small")
			}
		}

		result := CandidateResult{
			Candidate:  candidate,
			Accepted:   len(reasons) == 0,
			Reasons:    reasons,
			Snapshot:   &snapshot,
			Score:      score,
			ScoreDelta: scoreDelta,
		}
		results = append(results, result)

		if result.Accepted {
			if best == nil || result.Score > best.Score {
				r := result
				best = &r
			}
			if in.UpdateBaselineOnAccept {
				baseline = snapshot
				baselineScore = score
			}
		}
	}

	return RoundResult{
		Results:            results,
		BestAccepted:       best,
		FinalBaseline:      baseline,
		FinalBaselineScore: baselineScore,
	}
}

// validateSnapshot implements spec §4.7 step 2. invalid reports whether
// any invalid_metric/metric_missing/invalid_constraint_source reason was
// produced, which gates whether "invalid_snapshot" is prepended.
func validateSnapshot(pol policy.Policy, baseline, snapshot policy.MetricSnapshot) (reasons []string, invalid bool) {
	for _, obj := range pol.Objectives {
		v, ok := snapshot.Metrics[obj.Key]
		if !ok {
			reasons = append(reasons, fmt.Sprintf("metric_missing:%s", obj.Key))
			invalid = true
			continue
		}
		if v != v || v > maxFinite || v < -maxFinite {
			reasons = append(reasons, fmt.Sprintf("invalid_metric:%s", obj.Key))
			invalid = true
		}
	}

	for _, c := range pol.Constraints {
		actual, ok := snapshot.Metrics[c.Key]
		if !ok {
			reasons = append(reasons, fmt.Sprintf("metric_missing:%s", c.Key))
			invalid = true
			continue
		}
		target, err := policy.ConstraintTarget(c, baseline.Metrics[c.Key])
		if err != nil {
			reasons = append(reasons, err.Error())
			invalid = true
			continue
		}
		if !policy.CompareConstraint(c, actual, target) {
			reasons = append(reasons, fmt.Sprintf("constraint_failed:%s", c.Key))
		}
	}

	for gate, ok := range snapshot.Gates {
		if !ok {
			reasons = append(reasons, fmt.Sprintf("gate_failed:%s", gate))
		}
	}

	return reasons, invalid
}

const maxFinite = 1.7976931348623157e+308
