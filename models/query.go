package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Filter selects documents by exact field equality. Every entry of Fields
// must match, and so must every sub-filter in And. The zero Filter matches
// everything.
type Filter struct {
	Fields map[string]any
	And    []Filter
}

// Where builds a filter from a field map.
func Where(fields map[string]any) Filter {
	return Filter{Fields: fields}
}

// Eq builds a single-field filter.
func Eq(field string, value any) Filter {
	return Filter{Fields: map[string]any{field: value}}
}

// And combines filters; a document matches when it matches all of them.
func And(filters ...Filter) Filter {
	return Filter{And: filters}
}

// IsEmpty reports whether the filter matches every document.
func (f Filter) IsEmpty() bool {
	if len(f.Fields) > 0 {
		return false
	}
	for _, sub := range f.And {
		if !sub.IsEmpty() {
			return false
		}
	}
	return true
}

// Keys returns the field names of f (not of its sub-filters) in sorted order.
func (f Filter) Keys() []string {
	keys := make([]string, 0, len(f.Fields))
	for k := range f.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UnmarshalJSON accepts {"field": value, ...} and {"$and": [filter, ...]}.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("filter must be a JSON object: %w", err)
	}

	out := Filter{}
	for key, val := range raw {
		if key == "$and" {
			if err := json.Unmarshal(val, &out.And); err != nil {
				return fmt.Errorf("$and must be a list of filters: %w", err)
			}
			continue
		}
		if strings.HasPrefix(key, "$") {
			return fmt.Errorf("%w: unsupported operator %q", ErrInvalidField, key)
		}
		var v any
		if err := json.Unmarshal(val, &v); err != nil {
			return err
		}
		if out.Fields == nil {
			out.Fields = make(map[string]any)
		}
		out.Fields[key] = v
	}
	*f = out
	return nil
}

// Direction is a sort direction.
type Direction int

const (
	Ascending  Direction = 1
	Descending Direction = -1
)

// SortField orders results by one field.
type SortField struct {
	Field     string
	Direction Direction
}

// Asc sorts by field, smallest first.
func Asc(field string) SortField {
	return SortField{Field: field, Direction: Ascending}
}

// Desc sorts by field, largest first.
func Desc(field string) SortField {
	return SortField{Field: field, Direction: Descending}
}

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidFieldName reports whether name can be used in a filter or sort.
func ValidFieldName(name string) bool {
	return fieldNamePattern.MatchString(name)
}
