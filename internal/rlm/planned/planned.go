// Package planned implements spec §4.9's Planned Executor: it bridges a
// Planner's output to either the Root Loop (single mode) or the Long-Run
// Loop (long_run mode).
package planned

import (
	"context"
	"fmt"

	"github.com/rlmrun/rlm/internal/rlm"
	"github.com/rlmrun/rlm/internal/rlm/improve"
	"github.com/rlmrun/rlm/internal/rlm/plan"
	"github.com/rlmrun/rlm/internal/rlm/policy"
)

// MetricSymbolArgs is the payload handed to a MetricSymbol, mirroring
// spec §4.9's "{args:{candidate, iteration, state, metricKey, task}}".
type MetricSymbolArgs struct {
	Candidate any
	Iteration int
	State     any
	MetricKey string
	Task      string
}

// MetricSymbol computes one metric value for one candidate. Metric
// symbols must return a finite number, per spec §6.
type MetricSymbol func(ctx context.Context, args MetricSymbolArgs) (float64, error)

// Options configures a PlannedExecutor.
type Options struct {
	// BaseBudgetOverrides are caller-supplied, highest precedence: they are
	// applied last, after profile defaults and plan overrides.
	BaseBudgetOverrides *rlm.BudgetOverrides
	// ProfileDefaults map a plan.Profile to its default budget overrides.
	ProfileDefaults map[plan.Profile]*rlm.BudgetOverrides
	// Symbols resolves a long_run objective/constraint's Symbol field.
	Symbols map[string]MetricSymbol
	// GenerateCandidates supplies each long_run round's candidate pool;
	// required only for long_run plans.
	GenerateCandidates improve.GenerateCandidates
	// Baseline is the long_run loop's starting snapshot.
	Baseline policy.MetricSnapshot
}

// PlannedExecutor bridges plan.Plan to RootLoop/LongRunLoop.
type PlannedExecutor struct {
	RootLoop *rlm.RootLoop
	Options  Options
}

// New builds a PlannedExecutor bound to rl.
func New(rl *rlm.RootLoop, opts Options) *PlannedExecutor {
	return &PlannedExecutor{RootLoop: rl, Options: opts}
}

// Execute runs env through either the Root Loop or the Long-Run Loop
// depending on pl.Mode, per spec §4.9.
func (pe *PlannedExecutor) Execute(ctx context.Context, env *rlm.Environment, pl *plan.Plan) (any, error) {
	switch pl.Mode {
	case plan.ModeSingle:
		return pe.executeSingle(ctx, env, pl)
	case plan.ModeLongRun:
		return pe.executeLongRun(ctx, pl)
	default:
		return nil, fmt.Errorf("planned: unknown plan mode %q", pl.Mode)
	}
}

// executeSingle compiles the plan into root-loop budget overrides
// (profile defaults -> plan overrides -> caller base options, shallow
// merge, each layer winning over the previous) and runs the Root Loop.
func (pe *PlannedExecutor) executeSingle(ctx context.Context, env *rlm.Environment, pl *plan.Plan) (any, error) {
	if defaults, ok := pe.Options.ProfileDefaults[pl.Profile]; ok {
		env.Budget.ApplyOverrides(defaults)
	}
	if pl.BudgetOverrides != nil {
		env.Budget.ApplyOverrides(pl.BudgetOverrides)
	}
	if pe.Options.BaseBudgetOverrides != nil {
		env.Budget.ApplyOverrides(pe.Options.BaseBudgetOverrides)
	}
	return pe.RootLoop.Run(ctx, env, pl.Task)
}

// executeLongRun synthesizes a Policy from the plan's longRun block and
// runs the Long-Run Loop, resolving each objective/constraint's metric
// via the caller-supplied symbol table.
func (pe *PlannedExecutor) executeLongRun(ctx context.Context, pl *plan.Plan) (any, error) {
	if pl.LongRun == nil {
		return nil, fmt.Errorf("planned: long_run plan missing longRun block")
	}
	if pe.Options.GenerateCandidates == nil {
		return nil, fmt.Errorf("planned: long_run plan requires GenerateCandidates")
	}

	pol := buildPolicy(pl.LongRun)

	var current improve.LongRunContext
	wrappedGenerate := func(ctx context.Context, lrc improve.LongRunContext) ([]any, error) {
		current = lrc
		return pe.Options.GenerateCandidates(ctx, lrc)
	}
	evaluate := func(ctx context.Context, candidate any) (policy.MetricSnapshot, error) {
		return pe.evaluateCandidate(ctx, candidate, current, pl, pol)
	}

	maxIterations := pl.LongRun.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 1
	}

	return improve.RunLongRunLoop(ctx, improve.LongRunInput{
		Baseline:               pe.Options.Baseline,
		Policy:                 pol,
		MaxIterations:          maxIterations,
		StopWhenNoAccept:       pl.LongRun.StopWhenNoAccept,
		UpdateBaselineOnAccept: true,
		GenerateCandidates:     wrappedGenerate,
		Evaluate:               evaluate,
	})
}

func (pe *PlannedExecutor) evaluateCandidate(ctx context.Context, candidate any, lrc improve.LongRunContext, pl *plan.Plan, pol policy.Policy) (policy.MetricSnapshot, error) {
	metrics := make(map[string]float64, len(pol.Objectives)+len(pol.Constraints))

	resolve := func(key, symbol string) error {
		if _, done := metrics[key]; done {
			return nil
		}
		fn, ok := pe.Options.Symbols[symbol]
		if !ok {
			return fmt.Errorf("planned: unknown metric symbol %q for key %q", symbol, key)
		}
		v, err := fn(ctx, MetricSymbolArgs{
			Candidate: candidate,
			Iteration: lrc.Iteration,
			State:     lrc.State,
			MetricKey: key,
			Task:      pl.Task,
		})
		if err != nil {
			return err
		}
		metrics[key] = v
		return nil
	}

	for _, obj := range pol.Objectives {
		symbol := obj.Symbol
		if symbol == "" {
			symbol = obj.Key
		}
		if err := resolve(obj.Key, symbol); err != nil {
			return policy.MetricSnapshot{}, err
		}
	}
	for _, c := range pol.Constraints {
		symbol := c.Symbol
		if symbol == "" {
			symbol = c.Key
		}
		if err := resolve(c.Key, symbol); err != nil {
			return policy.MetricSnapshot{}, err
		}
	}

	return policy.MetricSnapshot{Metrics: metrics}, nil
}

func buildPolicy(lr *plan.LongRunSpec) policy.Policy {
	pol := policy.Policy{MinScoreDelta: lr.MinScoreDelta}
	for _, o := range lr.Objectives {
		pol.Objectives = append(pol.Objectives, policy.Objective{
			Key:       o.Key,
			Direction: policy.Direction(o.Direction),
			Symbol:    o.Symbol,
			Weight:    o.Weight,
		})
	}
	for _, c := range lr.Constraints {
		pol.Constraints = append(pol.Constraints, policy.Constraint{
			Key:        c.Key,
			Comparator: policy.Comparator(c.Comparator),
			Value:      c.Value,
			Symbol:     c.Symbol,
			Source:     policy.Source(c.Source),
		})
	}
	return pol
}
