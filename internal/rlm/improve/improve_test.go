package improve

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlmrun/rlm/internal/rlm/policy"
)

func snapshotOf(v float64) policy.MetricSnapshot {
	return policy.MetricSnapshot{Metrics: map[string]float64{"score": v}}
}

func simplePolicy() policy.Policy {
	return policy.Policy{
		Objectives: []policy.Objective{{Key: "score", Direction: policy.Maximize, Weight: 1}},
	}
}

func TestRunRound_AcceptsImprovingCandidate(t *testing.T) {
	result := RunRound(context.Background(), RoundInput{
		Baseline:      snapshotOf(1),
		BaselineScore: 1,
		Policy:        simplePolicy(),
		Candidates:    []any{"a"},
		Evaluate: func(ctx context.Context, candidate any) (policy.MetricSnapshot, error) {
			return snapshotOf(2), nil
		},
	})
	require.Len(t, result.Results, 1)
	assert.True(t, result.Results[0].Accepted)
	require.NotNil(t, result.BestAccepted)
	assert.Equal(t, 2.0, result.BestAccepted.Score)
}

func TestRunRound_RejectsScoreDeltaBelowMinimum(t *testing.T) {
	pol := simplePolicy()
	pol.MinScoreDelta = 5
	result := RunRound(context.Background(), RoundInput{
		Baseline:      snapshotOf(1),
		BaselineScore: 1,
		Policy:        pol,
		Candidates:    []any{"a"},
		Evaluate: func(ctx context.Context, candidate any) (policy.MetricSnapshot, error) {
			return snapshotOf(2), nil
		},
	})
	assert.False(t, result.Results[0].Accepted)
	assert.Contains(t, result.Results[0].Reasons, "score_delta_too_small")
	assert.Nil(t, result.BestAccepted)
}

func TestRunRound_ConstraintFailureRejectsCandidate(t *testing.T) {
	pol := simplePolicy()
	pol.Constraints = []policy.Constraint{
		{Key: "score", Comparator: policy.Gte, Value: 10, Source: policy.SourceAbsolute},
	}
	result := RunRound(context.Background(), RoundInput{
		Baseline:      snapshotOf(1),
		BaselineScore: 1,
		Policy:        pol,
		Candidates:    []any{"a"},
		Evaluate: func(ctx context.Context, candidate any) (policy.MetricSnapshot, error) {
			return snapshotOf(2), nil
		},
	})
	assert.False(t, result.Results[0].Accepted)
	assert.Contains(t, result.Results[0].Reasons, "constraint_failed:score")
}

func TestRunRound_EvaluationErrorIsRecordedAndLoopContinues(t *testing.T) {
	result := RunRound(context.Background(), RoundInput{
		Baseline:      snapshotOf(1),
		BaselineScore: 1,
		Policy:        simplePolicy(),
		Candidates:    []any{"bad", "good"},
		Evaluate: func(ctx context.Context, candidate any) (policy.MetricSnapshot, error) {
			if candidate == "bad" {
				return policy.MetricSnapshot{}, errors.New("boom")
			}
			return snapshotOf(2), nil
		},
	})
	require.Len(t, result.Results, 2)
	assert.False(t, result.Results[0].Accepted)
	assert.Equal(t, []string{"evaluation_error"}, result.Results[0].Reasons)
	assert.True(t, result.Results[1].Accepted)
}

func TestRunRound_MissingMetricIsInvalidSnapshot(t *testing.T) {
	result := RunRound(context.Background(), RoundInput{
		Baseline:      snapshotOf(1),
		BaselineScore: 1,
		Policy:        simplePolicy(),
		Candidates:    []any{"a"},
		Evaluate: func(ctx context.Context, candidate any) (policy.MetricSnapshot, error) {
			return policy.MetricSnapshot{Metrics: map[string]float64{}}, nil
		},
	})
	assert.False(t, result.Results[0].Accepted)
	assert.Contains(t, result.Results[0].Reasons, "invalid_snapshot")
}

func TestRunRound_UpdateBaselineOnAcceptAffectsLaterCandidatesInRound(t *testing.T) {
	values := map[string]float64{"first": 2, "second": 3}
	result := RunRound(context.Background(), RoundInput{
		Baseline:               snapshotOf(1),
		BaselineScore:          1,
		Policy:                 simplePolicy(),
		Candidates:             []any{"first", "second"},
		UpdateBaselineOnAccept: true,
		Evaluate: func(ctx context.Context, candidate any) (policy.MetricSnapshot, error) {
			return snapshotOf(values[candidate.(string)]), nil
		},
	})
	assert.Equal(t, 3.0, result.FinalBaselineScore)
	assert.True(t, result.Results[0].Accepted)
	assert.True(t, result.Results[1].Accepted)
	assert.Equal(t, 1.0, result.Results[1].ScoreDelta)
}

func TestRunRound_BestAcceptedIsHighestScoring(t *testing.T) {
	values := map[string]float64{"a": 2, "b": 4, "c": 3}
	result := RunRound(context.Background(), RoundInput{
		Baseline:      snapshotOf(1),
		BaselineScore: 1,
		Policy:        simplePolicy(),
		Candidates:    []any{"a", "b", "c"},
		Evaluate: func(ctx context.Context, candidate any) (policy.MetricSnapshot, error) {
			return snapshotOf(values[candidate.(string)]), nil
		},
	})
	require.NotNil(t, result.BestAccepted)
	assert.Equal(t, "b", result.BestAccepted.Candidate)
}
