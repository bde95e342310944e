package rlm

import (
	"encoding/csv"
	"strconv"
	"strings"
)

// parseCSVTable parses prompt into rows using the standard library's csv
// reader (quote-aware), then applies spec §3's header-detection heuristic.
func parseCSVTable(prompt, delimiter string) (*CSVTable, error) {
	if delimiter == "" {
		delimiter = ","
	}
	r := csv.NewReader(strings.NewReader(prompt))
	r.Comma = rune(delimiter[0])
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, dslErrorf("csv parse error: %v", err)
	}
	// Drop a single trailing wholly-empty record produced by a trailing
	// newline in the prompt.
	if n := len(records); n > 0 && len(records[n-1]) == 1 && records[n-1][0] == "" {
		records = records[:n-1]
	}

	table := &CSVTable{Delimiter: delimiter}
	if len(records) == 0 {
		return table, nil
	}

	hasHeader := false
	if len(records) >= 2 {
		row0, row1 := records[0], records[1]
		row0AllNonNumeric := true
		for _, c := range row0 {
			if _, ok := asFiniteNumber(c); ok {
				row0AllNonNumeric = false
				break
			}
		}
		typeChange := false
		for i := 0; i < len(row0) && i < len(row1); i++ {
			_, h0Numeric := asFiniteNumber(row0[i])
			_, h1Numeric := asFiniteNumber(row1[i])
			if !h0Numeric && h1Numeric {
				typeChange = true
				break
			}
		}
		hasHeader = row0AllNonNumeric && typeChange
	}

	if hasHeader {
		table.Headers = records[0]
		table.Rows = records[1:]
	} else {
		width := len(records[0])
		headers := make([]string, width)
		for i := range headers {
			headers[i] = "col" + strconv.Itoa(i)
		}
		table.Headers = headers
		table.Rows = records
	}
	return table, nil
}

// resolveColumn implements spec §4.3's column resolution: a numeric index
// must be a non-negative integer; a string column first exact-matches
// headers, then case-insensitively.
func (t *CSVTable) resolveColumn(col any) (int, error) {
	switch c := col.(type) {
	case float64:
		idx := int(c)
		if idx < 0 || float64(idx) != c {
			return 0, dslErrorf("csv column not found: %v", col)
		}
		if idx >= len(t.Headers) {
			return 0, dslErrorf("csv column not found: %v", col)
		}
		return idx, nil
	case int:
		if c < 0 || c >= len(t.Headers) {
			return 0, dslErrorf("csv column not found: %v", col)
		}
		return c, nil
	case string:
		for i, h := range t.Headers {
			if h == c {
				return i, nil
			}
		}
		lower := strings.ToLower(c)
		for i, h := range t.Headers {
			if strings.ToLower(h) == lower {
				return i, nil
			}
		}
		return 0, dslErrorf("csv column not found: %s", c)
	default:
		return 0, dslErrorf("csv column not found: %v", col)
	}
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// SumColumn implements doc_table_sum: sum numeric cells, skipping empty and
// non-numeric ones.
func (t *CSVTable) SumColumn(col any) (float64, error) {
	idx, err := t.resolveColumn(col)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, row := range t.Rows {
		cell := strings.TrimSpace(cellAt(row, idx))
		if cell == "" {
			continue
		}
		if n, ok := asFiniteNumber(cell); ok {
			sum += n
		}
	}
	return sum, nil
}

// RowComparator enumerates doc_select_rows comparators.
type RowComparator string

const (
	CmpEq       RowComparator = "eq"
	CmpContains RowComparator = "contains"
	CmpGt       RowComparator = "gt"
	CmpGte      RowComparator = "gte"
	CmpLt       RowComparator = "lt"
	CmpLte      RowComparator = "lte"
)

// normalizeCellValue implements spec §4.3's null-normalization: null
// becomes empty string.
func normalizeCellValue(v any) string {
	if v == nil {
		return ""
	}
	return stringifyValue(v)
}

func compareRow(cell string, cmp RowComparator, value any) bool {
	cellTrim := strings.TrimSpace(cell)
	switch cmp {
	case CmpEq, "":
		return cellTrim == strings.TrimSpace(normalizeCellValue(value))
	case CmpContains:
		return strings.Contains(cellTrim, normalizeCellValue(value))
	case CmpGt, CmpGte, CmpLt, CmpLte:
		cn, ok1 := asFiniteNumber(cellTrim)
		vn, ok2 := asFiniteNumber(value)
		if !ok1 || !ok2 {
			return false
		}
		switch cmp {
		case CmpGt:
			return cn > vn
		case CmpGte:
			return cn >= vn
		case CmpLt:
			return cn < vn
		case CmpLte:
			return cn <= vn
		}
	}
	return false
}

// SelectRows implements doc_select_rows, returning a new filtered CSVTable.
func (t *CSVTable) SelectRows(col any, cmp RowComparator, value any) (*CSVTable, error) {
	idx, err := t.resolveColumn(col)
	if err != nil {
		return nil, err
	}
	if cmp == "" {
		cmp = CmpEq
	}
	out := &CSVTable{Delimiter: t.Delimiter, Headers: t.Headers}
	for _, row := range t.Rows {
		if compareRow(cellAt(row, idx), cmp, value) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

// ProjectedColumns is the doc_project_columns result shape.
type ProjectedColumns struct {
	Headers []string
	Rows    [][]string
	Indices []int
}

// ProjectColumns implements doc_project_columns.
func (t *CSVTable) ProjectColumns(columns []any) (*ProjectedColumns, error) {
	if len(columns) == 0 {
		return nil, dslErrorf("doc_project_columns requires a non-empty columns list")
	}
	indices := make([]int, len(columns))
	headers := make([]string, len(columns))
	for i, c := range columns {
		idx, err := t.resolveColumn(c)
		if err != nil {
			return nil, err
		}
		indices[i] = idx
		headers[i] = t.Headers[idx]
	}
	rows := make([][]string, len(t.Rows))
	for r, row := range t.Rows {
		projected := make([]string, len(indices))
		for i, idx := range indices {
			projected[i] = cellAt(row, idx)
		}
		rows[r] = projected
	}
	return &ProjectedColumns{Headers: headers, Rows: rows, Indices: indices}, nil
}

// JoinedLines renders projected rows (and optionally the header) as
// separator-joined strings, per doc_project_columns.
func (p *ProjectedColumns) JoinedLines(separator string, includeHeader bool) []string {
	lines := make([]string, 0, len(p.Rows)+1)
	if includeHeader {
		lines = append(lines, strings.Join(p.Headers, separator))
	}
	for _, row := range p.Rows {
		lines = append(lines, strings.Join(row, separator))
	}
	return lines
}
