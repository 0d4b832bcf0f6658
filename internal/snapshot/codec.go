package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind is the per-column cell encoding stored in the snapshot header.
type Kind string

const (
	KindText   Kind = "text"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
	KindJSON   Kind = "json"
)

// NullMarker marks a null cell. Text starting with a backslash is escaped by
// doubling the leading backslash, so the marker never collides with data.
const NullMarker = `\N`

func nativeKind(v any) (Kind, bool) {
	switch v.(type) {
	case nil:
		return "", false
	case string:
		return KindText, true
	case json.Number:
		return KindNumber, true
	case bool:
		return KindBool, true
	default:
		return KindJSON, true
	}
}

// columnKind picks one encoding for every cell of a column. Columns that mix
// native kinds fall back to json so each cell keeps its own type.
func columnKind(values []any) Kind {
	var kind Kind
	for _, v := range values {
		k, ok := nativeKind(v)
		if !ok {
			continue
		}
		if kind == "" {
			kind = k
			continue
		}
		if kind != k {
			return KindJSON
		}
	}
	if kind == "" {
		return KindText
	}
	return kind
}

func encodeCell(kind Kind, v any) (string, error) {
	if v == nil {
		return NullMarker, nil
	}
	switch kind {
	case KindText:
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("expected string, got %T", v)
		}
		if strings.HasPrefix(s, `\`) {
			return `\` + s, nil
		}
		return s, nil
	case KindNumber:
		n, ok := v.(json.Number)
		if !ok {
			return "", fmt.Errorf("expected number, got %T", v)
		}
		return n.String(), nil
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return "", fmt.Errorf("expected bool, got %T", v)
		}
		if b {
			return "true", nil
		}
		return "false", nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

func decodeCell(kind Kind, cell string) (any, error) {
	if cell == NullMarker {
		return nil, nil
	}
	switch kind {
	case KindText:
		if strings.HasPrefix(cell, `\`) {
			return cell[1:], nil
		}
		return cell, nil
	case KindNumber:
		n := json.Number(cell)
		if _, err := n.Float64(); err != nil {
			return nil, fmt.Errorf("invalid number %q", cell)
		}
		return n, nil
	case KindBool:
		switch cell {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("invalid bool %q", cell)
	case KindJSON:
		dec := json.NewDecoder(bytes.NewReader([]byte(cell)))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("invalid json cell: %w", err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("unknown column kind %q", kind)
}

func headerCell(name string, kind Kind) string {
	return name + ":" + string(kind)
}

// parseHeaderCell splits "name:kind"; a cell without a known kind is text.
func parseHeaderCell(cell string) (string, Kind) {
	idx := strings.LastIndex(cell, ":")
	if idx < 0 {
		return cell, KindText
	}
	switch k := Kind(cell[idx+1:]); k {
	case KindText, KindNumber, KindBool, KindJSON:
		return cell[:idx], k
	}
	return cell, KindText
}
