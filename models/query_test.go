package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterUnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Filter
		wantErr error
	}{
		{
			name:  "empty object",
			input: `{}`,
			want:  Filter{},
		},
		{
			name:  "plain fields",
			input: `{"id": "cfg", "n_ver": 2}`,
			want:  Filter{Fields: map[string]any{"id": "cfg", "n_ver": float64(2)}},
		},
		{
			name:  "and",
			input: `{"id": "cfg", "$and": [{"tag": "GA"}, {"comment": null}]}`,
			want: Filter{
				Fields: map[string]any{"id": "cfg"},
				And: []Filter{
					{Fields: map[string]any{"tag": "GA"}},
					{Fields: map[string]any{"comment": nil}},
				},
			},
		},
		{
			name:    "unsupported operator",
			input:   `{"$or": []}`,
			wantErr: ErrInvalidField,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f Filter
			err := json.Unmarshal([]byte(tt.input), &f)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, f)
		})
	}

	var f Filter
	assert.Error(t, json.Unmarshal([]byte(`[1]`), &f))
	assert.Error(t, json.Unmarshal([]byte(`{"$and": {"a": 1}}`), &f))
}

func TestFilterHelpers(t *testing.T) {
	assert.True(t, Filter{}.IsEmpty())
	assert.True(t, And(Filter{}, Filter{}).IsEmpty())
	assert.False(t, And(Filter{}, Eq("a", 1)).IsEmpty())
	assert.False(t, Eq("a", nil).IsEmpty())

	f := Where(map[string]any{"b": 1, "a": 2, "c": 3})
	assert.Equal(t, []string{"a", "b", "c"}, f.Keys())

	assert.Equal(t, SortField{Field: "n_ver", Direction: Descending}, Desc("n_ver"))
	assert.Equal(t, SortField{Field: "tag", Direction: Ascending}, Asc("tag"))
}

func TestValidFieldName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"id", true},
		{"_id", true},
		{"last_modify", true},
		{"Field2", true},
		{"", false},
		{"2field", false},
		{"a.b", false},
		{"a b", false},
		{"x'--", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidFieldName(tt.name), tt.name)
	}
}
