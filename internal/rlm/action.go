package rlm

import "strings"

// knownOps is the required action set from spec §4.4, plus the optional
// call_symbol action.
var knownOps = map[string]bool{
	"prompt_meta":         true,
	"doc_parse":           true,
	"doc_select_section":  true,
	"doc_table_sum":       true,
	"doc_select_rows":     true,
	"doc_project_columns": true,
	"slice_prompt":        true,
	"find":                true,
	"chunk_newlines":      true,
	"chunk_tokens":        true,
	"sum_csv_column":      true,
	"pick_word":           true,
	"sub_map":             true,
	"reduce_join":         true,
	"set":                 true,
	"finalize":            true,
	"call_symbol":         true,
}

// conventionalOutDefaults fills a missing `out` field per spec §4.4's "e.g."
// list, extended to every action that writes its result under `out`
// except call_symbol, which has no default.
var conventionalOutDefaults = map[string]string{
	"doc_parse":           "doc",
	"doc_select_section":  "section",
	"doc_table_sum":       "sum",
	"doc_select_rows":     "rows",
	"doc_project_columns": "projected",
	"slice_prompt":        "slice",
	"find":                "hits",
	"chunk_newlines":      "chunks",
	"chunk_tokens":        "chunks",
	"sum_csv_column":      "sum",
	"pick_word":           "word",
	"sub_map":             "mapped",
	"reduce_join":         "joined",
}

// Action is the coerced, flat representation of one LM-emitted action.
// Fields are populated per-Op; the ActionInterpreter reads only the fields
// relevant to Op, never probing unrelated ones.
type Action struct {
	Op string

	Out           string
	In            string
	Format        string
	Delimiter     string
	Title         string
	Column        any
	Comparator    string
	Value         any
	Columns       []any
	Separator     string
	IncludeHeader bool
	Start         int
	End           int
	Needle        string
	From          string
	MaxLines      int
	MaxTokens     int
	Overlap       int
	Index         int
	QueryTemplate string
	Limit         int
	Concurrency   int
	Sep           string
	Path          string
	Symbol        string
	Args          map[string]any
	Input         any

	// FinalizeInline carries the compatibility shapes
	// {op:finalize, env:{final:v}} / {op:finalize, value:v}.
	FinalizeInline *string
}

// CoerceAction implements spec §4.4's coercion layer: it tolerates the
// LM's slightly-off-spec JSON (aliased fields, stringly-typed numbers and
// booleans, conventional `out` defaults) and returns either a valid typed
// Action or a DSLError.
func CoerceAction(raw map[string]any) (*Action, error) {
	op, _ := raw["op"].(string)
	if op == "" {
		return nil, dslErrorf("action missing op")
	}
	if !knownOps[op] {
		return nil, dslErrorf("unknown op: %s", op)
	}

	applyCommonAliases(raw, op)

	a := &Action{Op: op}
	a.Out = coerceString(raw["out"])
	if a.Out == "" {
		a.Out = conventionalOutDefaults[op]
	}
	a.In = coerceString(raw["in"])
	a.Format = coerceString(raw["format"])
	a.Delimiter = coerceString(raw["delimiter"])
	a.Title = coerceString(raw["title"])
	a.Column = raw["column"]
	a.Comparator = coerceString(raw["comparator"])
	a.Value = raw["value"]
	a.Columns = coerceAnySlice(raw["columns"])
	a.Separator = coerceString(raw["separator"])
	a.IncludeHeader = coerceBool(raw["includeHeader"])
	a.Start = coerceInt(raw["start"])
	a.End = coerceInt(raw["end"])
	a.Needle = coerceString(raw["needle"])
	a.From = coerceString(raw["from"])
	a.MaxLines = coerceInt(raw["maxLines"])
	a.MaxTokens = coerceInt(raw["maxTokens"])
	a.Overlap = coerceInt(raw["overlap"])
	a.Index = coerceInt(raw["index"])
	a.QueryTemplate = coerceString(raw["queryTemplate"])
	a.Limit = coerceInt(raw["limit"])
	a.Concurrency = coerceInt(raw["concurrency"])
	a.Sep = coerceString(raw["sep"])
	a.Path = coerceString(raw["path"])
	a.Symbol = coerceString(raw["symbol"])
	if m, ok := raw["args"].(map[string]any); ok {
		a.Args = m
	}
	a.Input = raw["input"]

	if op == "finalize" {
		if env, ok := raw["env"].(map[string]any); ok {
			if v, ok := env["final"]; ok {
				s := stringifyValue(v)
				a.FinalizeInline = &s
			}
		} else if v, ok := raw["value"]; ok && a.From == "" {
			s := stringifyValue(v)
			a.FinalizeInline = &s
		}
	}

	return a, nil
}

// applyCommonAliases normalizes alternate field names the LM may emit,
// in place, before typed extraction.
func applyCommonAliases(raw map[string]any, op string) {
	if v, ok := raw["whereColumn"]; ok {
		setIfAbsent(raw, "column", v)
	}
	if v, ok := raw["cols"]; ok {
		setIfAbsent(raw, "columns", v)
	}
	if op != "reduce_join" {
		if v, ok := raw["sep"]; ok {
			setIfAbsent(raw, "separator", v)
		}
	}
	if v, ok := raw["match"]; ok {
		setIfAbsent(raw, "value", v)
	}
	if v, ok := raw["equals"]; ok {
		setIfAbsent(raw, "value", v)
	}
	if v, ok := raw["operator"]; ok {
		setIfAbsent(raw, "comparator", v)
	}
	switch op {
	case "finalize":
		for _, alias := range []string{"path", "key"} {
			if v, ok := raw[alias]; ok {
				setIfAbsent(raw, "from", v)
			}
		}
	case "set":
		if v, ok := raw["key"]; ok {
			setIfAbsent(raw, "path", v)
		}
	}
}

func setIfAbsent(m map[string]any, key string, v any) {
	if _, exists := m[key]; !exists {
		m[key] = v
	}
}

func coerceString(v any) string {
	s, _ := v.(string)
	return s
}

func coerceBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	default:
		return false
	}
}

func coerceInt(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case string:
		if n, ok := asFiniteNumber(t); ok {
			return int(n)
		}
	}
	return 0
}

func coerceAnySlice(v any) []any {
	s, _ := v.([]any)
	return s
}
