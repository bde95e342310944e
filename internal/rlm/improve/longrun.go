package improve

import (
	"context"

	"github.com/rlmrun/rlm/internal/rlm/policy"
)

// GenerateCandidates produces the next round's candidates from the
// running Long-Run context; an empty slice stops the loop.
type GenerateCandidates func(ctx context.Context, lrc LongRunContext) ([]any, error)

// OnAccepted optionally folds an accepted round's best candidate into the
// loop's opaque state.
type OnAccepted func(state any, accepted CandidateResult) any

// LongRunContext is passed to GenerateCandidates each iteration, per spec
// §4.8 step 1.
type LongRunContext struct {
	Iteration       int
	State           any
	Baseline        policy.MetricSnapshot
	BaselineScore   float64
	Rounds          []RoundResult
	AcceptedHistory []CandidateResult
}

// LongRunInput configures RunLongRunLoop.
type LongRunInput struct {
	Baseline               policy.MetricSnapshot
	Policy                 policy.Policy
	MaxIterations          int
	StopWhenNoAccept       bool
	UpdateBaselineOnAccept bool
	GenerateCandidates     GenerateCandidates
	Evaluate               Evaluator
	OnAccepted             OnAccepted
	InitialState           any
}

// LongRunResult is spec §4.8's returned report.
type LongRunResult struct {
	Rounds             []RoundResult
	AcceptedHistory    []CandidateResult
	FinalBaseline      policy.MetricSnapshot
	FinalBaselineScore float64
	FinalState         any
}

// RunLongRunLoop implements spec §4.8: iterate 0..MaxIterations-1,
// generating and scoring one round of candidates per iteration, advancing
// the baseline on each round's best acceptance.
func RunLongRunLoop(ctx context.Context, in LongRunInput) (LongRunResult, error) {
	baseline := in.Baseline
	baselineScore, _ := policy.ScoreSnapshot(in.Policy, baseline)
	state := in.InitialState

	var rounds []RoundResult
	var history []CandidateResult

	for i := 0; i < in.MaxIterations; i++ {
		lrc := LongRunContext{
			Iteration:       i,
			State:           state,
			Baseline:        baseline,
			BaselineScore:   baselineScore,
			Rounds:          rounds,
			AcceptedHistory: history,
		}
		candidates, err := in.GenerateCandidates(ctx, lrc)
		if err != nil {
			return LongRunResult{}, err
		}
		if len(candidates) == 0 {
			break
		}

		round := RunRound(ctx, RoundInput{
			Baseline:               baseline,
			BaselineScore:          baselineScore,
			Policy:                 in.Policy,
			Candidates:             candidates,
			Evaluate:               in.Evaluate,
			UpdateBaselineOnAccept: in.UpdateBaselineOnAccept,
		})
		rounds = append(rounds, round)

		for _, r := range round.Results {
			if r.Accepted {
				history = append(history, r)
			}
		}

		if round.BestAccepted != nil {
			baseline = *round.BestAccepted.Snapshot
			baselineScore = round.BestAccepted.Score
			if in.OnAccepted != nil {
				state = in.OnAccepted(state, *round.BestAccepted)
			}
		} else if in.StopWhenNoAccept {
			break
		}
	}

	return LongRunResult{
		Rounds:             rounds,
		AcceptedHistory:    history,
		FinalBaseline:      baseline,
		FinalBaselineScore: baselineScore,
		FinalState:         state,
	}, nil
}
