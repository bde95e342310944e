package plan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlmrun/rlm/internal/rlm/provider"
)

func TestPlanner_Plan_SingleMode(t *testing.T) {
	scripted := provider.NewScripted(`{"mode":"single","task":"summarize the doc","profile":"hybrid"}`)
	p := New(scripted)

	pl, err := p.Plan(context.Background(), "summarize the doc")
	require.NoError(t, err)
	assert.Equal(t, ModeSingle, pl.Mode)
	assert.Equal(t, "summarize the doc", pl.Task)
	assert.Equal(t, ProfileHybrid, pl.Profile)
}

func TestPlanner_Plan_LongRunModeWithObjectives(t *testing.T) {
	scripted := provider.NewScripted(`{
		"mode": "long_run",
		"task": "optimize the summary",
		"longRun": {
			"maxIterations": 3,
			"stopWhenNoAccept": true,
			"objectives": [{"key": "quality", "direction": "maximize", "symbol": "quality_metric", "weight": 2}],
			"constraints": [{"key": "length", "comparator": "lte", "value": 500, "source": "absolute"}]
		}
	}`)
	p := New(scripted)

	pl, err := p.Plan(context.Background(), "optimize the summary")
	require.NoError(t, err)
	assert.Equal(t, ModeLongRun, pl.Mode)
	require.NotNil(t, pl.LongRun)
	assert.Equal(t, 3, pl.LongRun.MaxIterations)
	assert.True(t, pl.LongRun.StopWhenNoAccept)
	require.Len(t, pl.LongRun.Objectives, 1)
	assert.Equal(t, "quality_metric", pl.LongRun.Objectives[0].Symbol)
	require.Len(t, pl.LongRun.Constraints, 1)
	assert.Equal(t, 500.0, pl.LongRun.Constraints[0].Value)
}

func TestPlanner_Plan_LongRunWithoutLongRunBlockDegradesToSingle(t *testing.T) {
	scripted := provider.NewScripted(`{"mode":"long_run","task":"do the thing"}`)
	p := New(scripted)

	pl, err := p.Plan(context.Background(), "do the thing")
	require.NoError(t, err)
	assert.Equal(t, ModeSingle, pl.Mode)
	assert.Nil(t, pl.LongRun)
}

func TestPlanner_Plan_MalformedResponseFallsBackToDefaultPlan(t *testing.T) {
	scripted := provider.NewScripted(`not json at all`)
	p := New(scripted)

	pl, err := p.Plan(context.Background(), "do something")
	require.NoError(t, err)
	assert.Equal(t, ModeSingle, pl.Mode)
	assert.Equal(t, "do something", pl.Task)
	assert.Equal(t, ProfilePure, pl.Profile)
}

func TestPlanner_Plan_UnknownModeDefaultsToSingle(t *testing.T) {
	scripted := provider.NewScripted(`{"mode":"bogus","task":"x"}`)
	p := New(scripted)

	pl, err := p.Plan(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, ModeSingle, pl.Mode)
}

func TestPlanner_Plan_BudgetOverridesAreParsed(t *testing.T) {
	scripted := provider.NewScripted(`{
		"mode": "single",
		"task": "summarize",
		"budget": {"maxSteps": 12, "maxDepth": 3}
	}`)
	p := New(scripted)

	pl, err := p.Plan(context.Background(), "summarize")
	require.NoError(t, err)
	require.NotNil(t, pl.BudgetOverrides)
	require.NotNil(t, pl.BudgetOverrides.MaxSteps)
	assert.Equal(t, 12, *pl.BudgetOverrides.MaxSteps)
	require.NotNil(t, pl.BudgetOverrides.MaxDepth)
	assert.Equal(t, 3, *pl.BudgetOverrides.MaxDepth)
	assert.Nil(t, pl.BudgetOverrides.MaxSubCalls)
}

func TestPlanner_Plan_MissingBudgetLeavesOverridesNil(t *testing.T) {
	scripted := provider.NewScripted(`{"mode":"single","task":"x"}`)
	p := New(scripted)

	pl, err := p.Plan(context.Background(), "x")
	require.NoError(t, err)
	assert.Nil(t, pl.BudgetOverrides)
}

func TestPlanner_Plan_EmptyBudgetObjectLeavesOverridesNil(t *testing.T) {
	scripted := provider.NewScripted(`{"mode":"single","task":"x","budget":{}}`)
	p := New(scripted)

	pl, err := p.Plan(context.Background(), "x")
	require.NoError(t, err)
	assert.Nil(t, pl.BudgetOverrides)
}
