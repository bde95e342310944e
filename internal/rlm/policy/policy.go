// Package policy implements spec §3/§4.7's MetricSnapshot, Policy,
// Objective, and Constraint types and the linear scoreSnapshot function,
// grounded on the teacher's program-scoring model in
// internal/evolve/evolve.go, generalized from "evolve source code" to
// "evaluate arbitrary metric snapshots against an objective/constraint
// policy".
package policy

import (
	"fmt"
	"math"
)

// Direction is an objective's optimization sense.
type Direction string

const (
	Minimize Direction = "minimize"
	Maximize Direction = "maximize"
)

// Comparator is a constraint's test operator.
type Comparator string

const (
	Lt  Comparator = "lt"
	Lte Comparator = "lte"
	Gt  Comparator = "gt"
	Gte Comparator = "gte"
	Eq  Comparator = "eq"
)

// Source selects how a constraint's target value is computed relative to
// the baseline snapshot.
type Source string

const (
	SourceAbsolute   Source = "absolute"
	SourceDelta      Source = "delta"
	SourceRatio      Source = "ratio"
	SourceDeltaRatio Source = "delta_ratio"
)

// Objective is one scored dimension of a Policy.
type Objective struct {
	Key       string
	Direction Direction
	Symbol    string
	Weight    float64 // default 1, must be >= 0
}

func (o Objective) weight() float64 {
	if o.Weight == 0 {
		return 1
	}
	return o.Weight
}

// Constraint is one hard gate a candidate snapshot must satisfy.
type Constraint struct {
	Key        string
	Comparator Comparator
	Value      float64
	Symbol     string
	Source     Source
}

// Policy bundles the objectives/constraints an ImprovementLoop round
// scores and validates against.
type Policy struct {
	Objectives     []Objective
	Constraints    []Constraint
	MinScoreDelta  float64
}

// MetricSnapshot is a finite-valued metric bundle, spec §3.
type MetricSnapshot struct {
	Metrics map[string]float64
	Gates   map[string]bool
	Meta    map[string]any
}

// ScoreSnapshot computes spec §3's invariant linear score:
// Σ_i (direction_i == maximize ? +value_i : -value_i) · weight_i.
func ScoreSnapshot(policy Policy, snapshot MetricSnapshot) (float64, error) {
	var score float64
	for _, obj := range policy.Objectives {
		v, ok := snapshot.Metrics[obj.Key]
		if !ok {
			return 0, fmt.Errorf("metric_missing:%s", obj.Key)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("invalid_metric:%s", obj.Key)
		}
		signed := v
		if obj.Direction == Minimize {
			signed = -v
		}
		score += signed * obj.weight()
	}
	return score, nil
}

// ConstraintTarget computes the value a constraint's comparator is tested
// against, per spec §4.7's absolute|delta|ratio|delta_ratio sources.
func ConstraintTarget(c Constraint, baselineValue float64) (float64, error) {
	switch c.Source {
	case "", SourceAbsolute:
		return c.Value, nil
	case SourceDelta:
		return baselineValue + c.Value, nil
	case SourceRatio:
		if baselineValue == 0 {
			return 0, fmt.Errorf("invalid_constraint_source:%s", c.Key)
		}
		return baselineValue * c.Value, nil
	case SourceDeltaRatio:
		if baselineValue == 0 {
			return 0, fmt.Errorf("invalid_constraint_source:%s", c.Key)
		}
		return baselineValue + baselineValue*c.Value, nil
	default:
		return 0, fmt.Errorf("invalid_constraint_source:%s", c.Key)
	}
}

// CompareConstraint evaluates actual against target per c.Comparator.
func CompareConstraint(c Constraint, actual, target float64) bool {
	switch c.Comparator {
	case Lt:
		return actual < target
	case Lte:
		return actual <= target
	case Gt:
		return actual > target
	case Gte:
		return actual >= target
	case Eq:
		return actual == target
	default:
		return false
	}
}
