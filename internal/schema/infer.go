package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Rana718/crashetl/internal/types"
)

type nativeKind int

const (
	kindNone nativeKind = iota
	kindString
	kindNumber
	kindBool
	kindDocument
)

func (k nativeKind) String() string {
	switch k {
	case kindString:
		return "string"
	case kindNumber:
		return "number"
	case kindBool:
		return "bool"
	case kindDocument:
		return "object/array"
	}
	return "null"
}

func kindOf(v any) (nativeKind, error) {
	switch v.(type) {
	case nil:
		return kindNone, nil
	case string:
		return kindString, nil
	case json.Number:
		return kindNumber, nil
	case bool:
		return kindBool, nil
	case map[string]any, []any:
		return kindDocument, nil
	}
	return kindNone, fmt.Errorf("unsupported value type %T", v)
}

// Options tune inference. Hints give the type of a column whose values are
// all null; without a hint such a column is text.
type Options struct {
	Hints map[string]types.ColumnType
}

// Infer derives one column definition per table column from its non-null
// values, choosing the narrowest type every value satisfies.
func Infer(table *types.Table, opts Options) ([]types.SchemaColumn, error) {
	columns := make([]types.SchemaColumn, len(table.Columns))
	for i, name := range table.Columns {
		values, _ := table.Column(name)
		col, err := inferColumn(name, values)
		if err != nil {
			return nil, err
		}
		if col.allNull {
			if hint, ok := opts.Hints[name]; ok {
				col.Type = hint
			}
		}
		columns[i] = col.SchemaColumn
	}
	return columns, nil
}

type inferred struct {
	types.SchemaColumn
	allNull bool
}

func inferColumn(name string, values []any) (inferred, error) {
	col := inferred{SchemaColumn: types.SchemaColumn{Name: name, Type: types.ColumnText}}

	kind := kindNone
	for row, v := range values {
		k, err := kindOf(v)
		if err != nil {
			return col, fmt.Errorf("column %q row %d: %w", name, row, err)
		}
		if k == kindNone {
			col.Nullable = true
			continue
		}
		if kind != kindNone && kind != k {
			return col, fmt.Errorf("column %q mixes %s and %s values", name, kind, k)
		}
		kind = k
	}

	switch kind {
	case kindNone:
		col.allNull = true
	case kindBool:
		col.Type = types.ColumnBoolean
	case kindDocument:
		col.Type = types.ColumnJSON
	case kindNumber:
		col.Type = numberType(values)
	case kindString:
		col.Type = stringType(values)
	}
	return col, nil
}

func numberType(values []any) types.ColumnType {
	for _, v := range values {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
			return types.ColumnFloat
		}
	}
	return types.ColumnInteger
}

func stringType(values []any) types.ColumnType {
	isInt, isFloat, isBool, isTime := true, true, true, true
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if isInt && !looksInteger(s) {
			isInt = false
		}
		if isFloat && !looksFloat(s) {
			isFloat = false
		}
		if isBool && s != "true" && s != "false" {
			isBool = false
		}
		if isTime {
			if _, err := types.ParseTimestamp(s); err != nil {
				isTime = false
			}
		}
		if !isInt && !isFloat && !isBool && !isTime {
			return types.ColumnText
		}
	}

	switch {
	case isInt:
		return types.ColumnInteger
	case isFloat:
		return types.ColumnFloat
	case isBool:
		return types.ColumnBoolean
	case isTime:
		return types.ColumnTimestamp
	}
	return types.ColumnText
}

// looksInteger accepts base-10 int64 values without leading zeros or a plus
// sign, so identifiers like "007" stay text.
func looksInteger(s string) bool {
	digits := s
	if len(digits) > 0 && digits[0] == '-' {
		digits = digits[1:]
	}
	if digits == "" || (len(digits) > 1 && digits[0] == '0') {
		return false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return false
		}
	}
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

func looksFloat(s string) bool {
	if s == "" || leadingZero(s) {
		return false
	}
	// ParseFloat also takes inf, nan and hex forms; those stay text
	for _, c := range s {
		if (c < '0' || c > '9') && c != '-' && c != '.' && c != 'e' && c != 'E' && c != '+' {
			return false
		}
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func leadingZero(s string) bool {
	if s[0] == '-' {
		s = s[1:]
	}
	return len(s) > 1 && s[0] == '0' && s[1] >= '0' && s[1] <= '9'
}

// Convert turns a cell into the driver value for a column of type t.
func Convert(t types.ColumnType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case types.ColumnInteger:
		s, err := scalarString(v)
		if err != nil {
			return nil, err
		}
		return strconv.ParseInt(s, 10, 64)
	case types.ColumnFloat:
		s, err := scalarString(v)
		if err != nil {
			return nil, err
		}
		return strconv.ParseFloat(s, 64)
	case types.ColumnBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			return strconv.ParseBool(b)
		}
	case types.ColumnTimestamp:
		if s, ok := v.(string); ok {
			return types.ParseTimestamp(s)
		}
		if ts, ok := v.(time.Time); ok {
			return ts, nil
		}
	case types.ColumnJSON:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	case types.ColumnText:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return scalarString(v)
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, t)
}

func scalarString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	}
	return "", fmt.Errorf("unexpected %T for scalar column", v)
}

// ConvertRows converts every cell of table against columns.
func ConvertRows(table *types.Table, columns []types.SchemaColumn) ([][]any, error) {
	rows := make([][]any, len(table.Rows))
	for r, row := range table.Rows {
		out := make([]any, len(columns))
		for i, col := range columns {
			if i >= len(row) {
				continue
			}
			v, err := Convert(col.Type, row[i])
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", r, col.Name, err)
			}
			out[i] = v
		}
		rows[r] = out
	}
	return rows, nil
}
