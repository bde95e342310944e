package rlm

import (
	"context"

	"github.com/rlmrun/rlm/internal/observability"
)

// ChildRunner executes a full Root Loop for a child environment and
// returns its final value. RootLoop.Run satisfies this signature; keeping
// it as a function value (rather than importing RootLoop's type) lets
// SubRLMDispatcher live alongside RootLoop in the same package without a
// structural dependency either way.
type ChildRunner func(ctx context.Context, env *Environment, task string) (string, error)

// SubRLMDispatcher implements spec §4.5: cached, depth- and budget-checked
// child-RLM invocation. It is cheap to construct and holds no state beyond
// the runner it wraps.
type SubRLMDispatcher struct {
	RunChild ChildRunner
	// Tracer is optional; when set, each non-cached dispatch gets an OTel
	// span. Purely additive.
	Tracer *observability.Tracer
}

// SubCallRequest is one sub_map (or equivalent) invocation.
type SubCallRequest struct {
	// Query is the rendered task text handed to the child as its
	// objective.
	Query string
	// SubPrompt is the document text the child environment is scoped to.
	SubPrompt string
	// BudgetOverrides, if non-nil, are applied on top of the inherited
	// parent limits when deriving the child's budget.
	BudgetOverrides *BudgetOverrides
}

type subCallFingerprintKey struct {
	PromptID  string
	Query     string
	SubPrompt string
	Options   *BudgetOverrides
}

// Dispatch runs the protocol in spec §4.5 steps 1-6 against parent's shared
// cache and budget.
func (d *SubRLMDispatcher) Dispatch(ctx context.Context, parent *Environment, req SubCallRequest) (string, error) {
	fp := fingerprint16(subCallFingerprintKey{
		PromptID:  parent.PromptID,
		Query:     req.Query,
		SubPrompt: req.SubPrompt,
		Options:   req.BudgetOverrides,
	})

	if cached, ok := parent.Cache.Get(fp); ok {
		parent.Trace.append(TraceEvent{
			Kind:       TraceSubCall,
			Cached:     true,
			ResultMeta: preview(cached),
		})
		return cached, nil
	}

	if err := parent.Budget.EnsureNextDepth(); err != nil {
		return "", err
	}
	if err := parent.Budget.ConsumeSubCall(); err != nil {
		return "", err
	}

	child := parent.deriveChild(req.SubPrompt, req.BudgetOverrides)

	var endSpan func(error)
	if d.Tracer != nil {
		ctx, endSpan = d.Tracer.Start(ctx, "rlm.sub_call", child.PromptID, child.Budget.Depth, map[string]any{
			"query": req.Query,
		})
	}
	final, err := d.RunChild(ctx, child, req.Query)
	if endSpan != nil {
		endSpan(err)
	}
	if err != nil {
		return "", err
	}

	parent.Cache.Put(fp, final)
	parent.Trace.append(TraceEvent{
		Kind:       TraceSubCall,
		Cached:     false,
		ResultMeta: preview(final),
		Depth:      child.Budget.Depth,
	})
	return final, nil
}
