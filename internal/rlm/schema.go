package rlm

import "github.com/rlmrun/rlm/internal/rlm/provider"

// actionJSONSchema implements spec §6: a schema requiring `op` to be one
// of the known action names, additionalProperties:true, and nullable
// typed slots for the action fields listed below. maxTokens, overlap and
// concurrency have no slot of their own and pass through
// additionalProperties. The Root Loop's coercion
// layer remains defensive regardless of whether a provider honors this.
func actionJSONSchema() *provider.JSONSchema {
	nullableString := map[string]any{"type": []string{"string", "null"}}
	nullableNumber := map[string]any{"type": []string{"number", "null"}}
	nullableBool := map[string]any{"type": []string{"boolean", "null"}}
	nullableArray := map[string]any{"type": []string{"array", "null"}}
	nullableObject := map[string]any{"type": []string{"object", "null"}}

	ops := make([]string, 0, len(knownOps))
	for op := range knownOps {
		ops = append(ops, op)
	}

	return &provider.JSONSchema{
		Name:        "rlm_action",
		Description: "One RLM action per turn",
		Schema: map[string]any{
			"type":     "object",
			"required": []string{"op"},
			"properties": map[string]any{
				"op":            map[string]any{"type": "string", "enum": ops},
				"start":         nullableNumber,
				"end":           nullableNumber,
				"out":           nullableString,
				"format":        nullableString,
				"title":         nullableString,
				"columns":       nullableArray,
				"equals":        nullableString,
				"comparator":    nullableString,
				"includeHeader": nullableBool,
				"separator":     nullableString,
				"needle":        nullableString,
				"from":          nullableString,
				"maxLines":      nullableNumber,
				"column":        map[string]any{},
				"delimiter":     nullableString,
				"index":         nullableNumber,
				"in":            nullableString,
				"queryTemplate": nullableString,
				"limit":         nullableNumber,
				"sep":           nullableString,
				"path":          nullableString,
				"value":         map[string]any{},
				"symbol":        nullableString,
				"args":          nullableObject,
				"input":         map[string]any{},
			},
			"additionalProperties": true,
		},
	}
}

func actionResponseFormat() *provider.ResponseFormat {
	return &provider.ResponseFormat{Type: "json_schema", JSONSchema: actionJSONSchema()}
}
