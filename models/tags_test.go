package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseVersionRef(t *testing.T) {
	tests := []struct {
		ref        string
		wantNVer   int64
		wantTag    string
		wantNumber bool
	}{
		{ref: "3", wantNVer: 3, wantNumber: true},
		{ref: " 12 ", wantNVer: 12, wantNumber: true},
		{ref: "draft", wantTag: "DRAFT"},
		{ref: "v1.2", wantTag: "V1.2"},
		{ref: "0", wantTag: "0"},
		{ref: "-1", wantTag: "-1"},
		{ref: "", wantTag: ""},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			nVer, tag, isNumber := ParseVersionRef(tt.ref)
			assert.Equal(t, tt.wantNumber, isNumber)
			assert.Equal(t, tt.wantNVer, nVer)
			assert.Equal(t, tt.wantTag, tag)
		})
	}
}

func TestNormalizeTag(t *testing.T) {
	assert.Equal(t, "DRAFT", NormalizeTag("draft"))
	assert.Equal(t, "GA", NormalizeTag("Ga"))
	assert.Equal(t, "", NormalizeTag(""))
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2026, 10, 18, 14, 3, 59, 123456000, time.UTC)
	assert.Equal(t, "18/10/2026, 14:03:59", FormatTimestamp(ts))

	cet := time.FixedZone("CET", 3600)
	assert.Equal(t, "01/02/2024, 23:30:00", FormatTimestamp(time.Date(2024, 2, 2, 0, 30, 0, 0, cet)))
}
