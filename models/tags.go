package models

import (
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is how commit and modification times are shown to API
// callers, e.g. "18/10/2026, 14:03:59".
const TimestampLayout = "02/01/2006, 15:04:05"

// NormalizeTag returns the stored form of a commit tag.
//
// Tags are case-insensitive and stored upper-cased:
//   - "draft" -> "DRAFT"
//   - "v1.2"  -> "V1.2"
//   - ""      -> ""
func NormalizeTag(tag string) string {
	return strings.ToUpper(tag)
}

// ParseVersionRef interprets a history reference from a URL path.
// A reference made of digits only is a version number; anything else is a tag.
//
// Examples:
//   - "3"     -> nVer=3, isNumber=true
//   - "draft" -> tag="DRAFT", isNumber=false
func ParseVersionRef(ref string) (nVer int64, tag string, isNumber bool) {
	ref = strings.TrimSpace(ref)
	if n, err := strconv.ParseInt(ref, 10, 64); err == nil && n > 0 {
		return n, "", true
	}
	return 0, NormalizeTag(ref), false
}

// FormatTimestamp renders t in TimestampLayout, in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
