// Package plan implements spec §4.9's Planner: one LM call that converts a
// user request into a structured Plan, grounded on the teacher's
// internal/agent/planner.go (LLMPlanner.Plan parses a single JSON object
// out of a streamed response) and internal/agent/critic.go's structured
// self-correction pattern.
package plan

import (
	"context"
	"encoding/json"

	"github.com/rlmrun/rlm/internal/rlm"
	"github.com/rlmrun/rlm/internal/rlm/provider"
)

// Mode selects single-action execution versus iterated optimization.
type Mode string

const (
	ModeSingle  Mode = "single"
	ModeLongRun Mode = "long_run"
)

// Profile selects the Root Loop's heuristic behavior.
type Profile string

const (
	ProfilePure   Profile = "pure"
	ProfileHybrid Profile = "hybrid"
)

// ObjectiveSpec mirrors policy.Objective in plan-wire form.
type ObjectiveSpec struct {
	Key       string  `json:"key"`
	Direction string  `json:"direction"`
	Symbol    string  `json:"symbol"`
	Weight    float64 `json:"weight"`
}

// ConstraintSpec mirrors policy.Constraint in plan-wire form.
type ConstraintSpec struct {
	Key        string  `json:"key"`
	Comparator string  `json:"comparator"`
	Value      float64 `json:"value"`
	Symbol     string  `json:"symbol"`
	Source     string  `json:"source"`
}

// LongRunSpec is the plan's `longRun` block.
type LongRunSpec struct {
	Objectives       []ObjectiveSpec `json:"objectives"`
	Constraints      []ConstraintSpec `json:"constraints"`
	MaxIterations    int             `json:"maxIterations"`
	StopWhenNoAccept bool            `json:"stopWhenNoAccept"`
	MinScoreDelta    float64         `json:"minScoreDelta"`
}

// Plan is spec §3's Plan data model.
type Plan struct {
	Mode            Mode
	Task            string
	Profile         Profile
	Symbols         []string
	BudgetOverrides *rlm.BudgetOverrides
	LongRun         *LongRunSpec
}

// defaultPlan implements the "Plan coercion fallback" design note: a
// malformed plan defaults to {mode:single, task:<user input>}.
func defaultPlan(userInput string) *Plan {
	return &Plan{Mode: ModeSingle, Task: userInput, Profile: ProfilePure}
}

const plannerSystemPrompt = `You convert a user request into a structured execution plan for a
Recursive Language Model runtime. Respond with exactly one JSON object
describing the plan: {mode: "single"|"long_run", task, profile?,
symbols?, budget?, longRun?}. Use "long_run" only when the request names
explicit objectives or constraints to optimize against.`

// Planner wraps one LMProvider call behind the Plan contract.
type Planner struct {
	Provider provider.LMProvider
}

// New builds a Planner.
func New(prov provider.LMProvider) *Planner {
	return &Planner{Provider: prov}
}

// Plan implements spec §4.9: call the LM once, parse its first JSON
// object, and coerce it field-by-field. Parse or validation failure falls
// back to a safe single-mode default plan rather than erroring.
func (p *Planner) Plan(ctx context.Context, userInput string) (*Plan, error) {
	requestPayload, _ := json.Marshal(map[string]any{"kind": "plan_request", "input": userInput})
	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: plannerSystemPrompt},
		{Role: provider.RoleUser, Content: string(requestPayload)},
	}
	result, err := p.Provider.Complete(ctx, messages, &provider.CompleteOptions{
		ResponseFormat: &provider.ResponseFormat{Type: "json_schema", JSONSchema: planJSONSchema()},
	})
	if err != nil {
		return defaultPlan(userInput), nil
	}

	raw, err := rlm.ExtractFirstJSONObject(result.Text)
	if err != nil {
		return defaultPlan(userInput), nil
	}

	return coercePlan(raw, userInput), nil
}

func coercePlan(raw map[string]any, userInput string) *Plan {
	mode, _ := raw["mode"].(string)
	task, _ := raw["task"].(string)
	if task == "" {
		task = userInput
	}
	pl := &Plan{Mode: Mode(mode), Task: task, Profile: ProfilePure}
	if pl.Mode != ModeSingle && pl.Mode != ModeLongRun {
		pl.Mode = ModeSingle
	}
	if profile, ok := raw["profile"].(string); ok && profile == string(ProfileHybrid) {
		pl.Profile = ProfileHybrid
	}
	if syms, ok := raw["symbols"].([]any); ok {
		for _, s := range syms {
			if str, ok := s.(string); ok {
				pl.Symbols = append(pl.Symbols, str)
			}
		}
	}
	if budget, ok := raw["budget"].(map[string]any); ok {
		pl.BudgetOverrides = coerceBudgetOverrides(budget)
	}

	if pl.Mode == ModeLongRun {
		lr, ok := raw["longRun"].(map[string]any)
		if !ok {
			// "the only automatic promotion is: mode=='long_run' &&
			// longRun==undefined -> degrade to single" (design notes).
			pl.Mode = ModeSingle
			return pl
		}
		pl.LongRun = coerceLongRun(lr)
	}
	return pl
}

func coerceLongRun(raw map[string]any) *LongRunSpec {
	spec := &LongRunSpec{MaxIterations: 1}
	if v, ok := raw["maxIterations"].(float64); ok {
		spec.MaxIterations = int(v)
	}
	if v, ok := raw["stopWhenNoAccept"].(bool); ok {
		spec.StopWhenNoAccept = v
	}
	if v, ok := raw["minScoreDelta"].(float64); ok {
		spec.MinScoreDelta = v
	}
	if objs, ok := raw["objectives"].([]any); ok {
		for _, o := range objs {
			m, ok := o.(map[string]any)
			if !ok {
				continue
			}
			obj := ObjectiveSpec{Weight: 1}
			obj.Key, _ = m["key"].(string)
			obj.Direction, _ = m["direction"].(string)
			obj.Symbol, _ = m["symbol"].(string)
			if w, ok := m["weight"].(float64); ok {
				obj.Weight = w
			}
			spec.Objectives = append(spec.Objectives, obj)
		}
	}
	if cons, ok := raw["constraints"].([]any); ok {
		for _, c := range cons {
			m, ok := c.(map[string]any)
			if !ok {
				continue
			}
			con := ConstraintSpec{}
			con.Key, _ = m["key"].(string)
			con.Comparator, _ = m["comparator"].(string)
			con.Symbol, _ = m["symbol"].(string)
			con.Source, _ = m["source"].(string)
			if v, ok := m["value"].(float64); ok {
				con.Value = v
			}
			spec.Constraints = append(spec.Constraints, con)
		}
	}
	return spec
}

// coerceBudgetOverrides mirrors internal/config/config.go's
// BudgetConfig.ToOverrides(): only fields actually present become
// non-nil pointers, so unset fields fall back to whatever the layer below
// already set.
func coerceBudgetOverrides(raw map[string]any) *rlm.BudgetOverrides {
	o := &rlm.BudgetOverrides{}
	hasOverride := false
	if v, ok := raw["maxSteps"].(float64); ok {
		n := int(v)
		o.MaxSteps = &n
		hasOverride = true
	}
	if v, ok := raw["maxSubCalls"].(float64); ok {
		n := int(v)
		o.MaxSubCalls = &n
		hasOverride = true
	}
	if v, ok := raw["maxDepth"].(float64); ok {
		n := int(v)
		o.MaxDepth = &n
		hasOverride = true
	}
	if v, ok := raw["maxPromptReadChars"].(float64); ok {
		n := int(v)
		o.MaxPromptReadChars = &n
		hasOverride = true
	}
	if v, ok := raw["maxTimeMs"].(float64); ok {
		n := int(v)
		o.MaxTimeMs = &n
		hasOverride = true
	}
	if !hasOverride {
		return nil
	}
	return o
}

func planJSONSchema() *provider.JSONSchema {
	return &provider.JSONSchema{
		Name:        "rlm_plan",
		Description: "Execution plan for the RLM runtime",
		Schema: map[string]any{
			"type":     "object",
			"required": []string{"mode", "task"},
			"properties": map[string]any{
				"mode":    map[string]any{"type": "string", "enum": []string{"single", "long_run"}},
				"task":    map[string]any{"type": "string"},
				"profile": map[string]any{"type": []string{"string", "null"}},
				"symbols": map[string]any{"type": []string{"array", "null"}},
				"budget":  map[string]any{"type": []string{"object", "null"}},
				"longRun": map[string]any{"type": []string{"object", "null"}},
			},
			"additionalProperties": true,
		},
	}
}
