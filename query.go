package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/orian/configdesk/models"
)

// columnSet maps document fields that live in their own column.
type columnSet map[string]string

var liveColumns = columnSet{
	models.FieldOID:        "oid",
	models.FieldID:         "doc_id",
	models.FieldLastModify: "last_modify",
}

var historyColumns = columnSet{
	models.FieldOID:        "oid",
	models.FieldID:         "doc_id",
	models.FieldLastModify: "last_modify",
	models.FieldNVer:       "n_ver",
	models.FieldTag:        "tag",
	models.FieldComment:    "comment",
}

// whereClause renders f as a SQL condition with "?" placeholders.
// An empty filter renders as "".
func whereClause(d dialect, cols columnSet, f models.Filter) (string, []any, error) {
	if f.IsEmpty() {
		return "", nil, nil
	}
	var parts []string
	var args []any

	for _, field := range f.Keys() {
		cond, arg, err := fieldCondition(d, cols, field, f.Fields[field])
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, cond)
		args = append(args, arg...)
	}

	for _, sub := range f.And {
		cond, subArgs, err := whereClause(d, cols, sub)
		if err != nil {
			return "", nil, err
		}
		if cond == "" {
			continue
		}
		parts = append(parts, "("+cond+")")
		args = append(args, subArgs...)
	}

	return strings.Join(parts, " AND "), args, nil
}

func fieldCondition(d dialect, cols columnSet, field string, value any) (string, []any, error) {
	if !models.ValidFieldName(field) {
		return "", nil, fmt.Errorf("%w: %q", models.ErrInvalidField, field)
	}

	if col, ok := cols[field]; ok {
		if value == nil {
			return col + " IS NULL", nil, nil
		}
		v, err := columnValue(field, value)
		if err != nil {
			return "", nil, err
		}
		return col + " = ?", []any{v}, nil
	}

	expr := d.JSONField("body", field)
	if value == nil {
		return expr + " IS NULL", nil, nil
	}
	return expr + " = ?", []any{jsonText(value)}, nil
}

func columnValue(field string, value any) (any, error) {
	switch field {
	case models.FieldNVer:
		n, ok := models.AsInt64(value)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be an integer, got %v", models.ErrInvalidField, field, value)
		}
		return n, nil
	case models.FieldLastModify:
		t, ok := value.(time.Time)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a time, got %T", models.ErrInvalidField, field, value)
		}
		return t.UTC(), nil
	}
	if s, ok := value.(string); ok {
		return s, nil
	}
	return fmt.Sprint(value), nil
}

// jsonText renders a filter value the way the store prints a JSON scalar as text.
func jsonText(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int, int32, int64, uint, uint32, uint64:
		return fmt.Sprintf("%d", v)
	case json.Number:
		return v.String()
	case time.Time:
		return v.Format(time.RFC3339Nano)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(raw)
}

// orderClause renders the sort keys; insertion order always breaks ties.
func orderClause(d dialect, cols columnSet, sorts []models.SortField) (string, error) {
	parts := make([]string, 0, len(sorts)+1)
	for _, s := range sorts {
		if !models.ValidFieldName(s.Field) {
			return "", fmt.Errorf("%w: %q", models.ErrInvalidField, s.Field)
		}
		expr, ok := cols[s.Field]
		if !ok {
			expr = d.JSONField("body", s.Field)
		}
		dir := "ASC"
		if s.Direction == models.Descending {
			dir = "DESC"
		}
		parts = append(parts, expr+" "+dir)
	}
	parts = append(parts, "seq ASC")
	return "ORDER BY " + strings.Join(parts, ", "), nil
}

// encodeBody serializes the non-reserved fields of doc.
func encodeBody(doc models.Document, reserved func(string) bool) (string, error) {
	body := make(map[string]any, len(doc))
	for k, v := range doc {
		if reserved(k) {
			continue
		}
		body[k] = v
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode document body: %w", err)
	}
	return string(raw), nil
}

func decodeBody(body string) (models.Document, error) {
	doc := models.Document{}
	if body == "" {
		return doc, nil
	}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document body: %w", err)
	}
	if doc == nil {
		doc = models.Document{}
	}
	return doc, nil
}

// docIDValue extracts the "id" field for the doc_id column.
func docIDValue(doc models.Document) any {
	switch v := doc[models.FieldID].(type) {
	case nil:
		return nil
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
