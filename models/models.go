// Package models defines the core data types for configdesk,
// a configuration-control service that keeps scenario graphs under version control.
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Reserved document fields. They are owned by the repository and live in
// dedicated columns rather than in the stored document body.
const (
	FieldOID        = "_id"
	FieldID         = "id"
	FieldLastModify = "last_modify"
	FieldNVer       = "n_ver"
	FieldTag        = "tag"
	FieldComment    = "comment"
	FieldGraph      = "graph"
)

// Document is a schemaless record: a field-name to value map as it would
// come out of a JSON decoder.
//
// Documents returned by the repository always carry "_id" and "last_modify";
// "id" is present when the document was stored with one.
type Document map[string]any

// GetString returns the field as a string, or "" when it is missing or not a string.
func (d Document) GetString(key string) string {
	s, _ := d[key].(string)
	return s
}

// GetTime returns the field as a time, or the zero time.
func (d Document) GetTime(key string) time.Time {
	t, _ := d[key].(time.Time)
	return t
}

// GetInt returns the field as an int64 when it holds any numeric value.
func (d Document) GetInt(key string) (int64, bool) {
	return AsInt64(d[key])
}

// Clone returns a shallow copy of the document.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// ToDocument converts v into a Document. Maps are copied; any other value
// is shape-converted through its JSON representation, so it must encode to a
// JSON object.
func ToDocument(v any) (Document, error) {
	switch t := v.(type) {
	case nil:
		return nil, fmt.Errorf("document is nil")
	case Document:
		return t.Clone(), nil
	case map[string]any:
		return Document(t).Clone(), nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("document must encode to a JSON object: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("document is null")
	}
	return doc, nil
}

// AsInt64 converts any integral numeric value (or decimal string) to int64.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case float64:
		return int64(n), n == float64(int64(n))
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// VersionRecord is one immutable entry of a document's version trail.
type VersionRecord struct {
	// OID is the storage identity of the record itself, distinct from the
	// live document's.
	OID string `json:"_id"`

	// ID is the configuration identifier the record belongs to.
	ID string `json:"id"`

	// NVer numbers the records of one ID: 1, 2, 3...
	NVer int64 `json:"n_ver"`

	// Tag is upper-cased; empty when the commit was untagged.
	Tag string `json:"tag"`

	// Comment is the commit message, possibly empty.
	Comment string `json:"comment"`

	// LastModify is the commit timestamp (UTC).
	LastModify time.Time `json:"last_modify"`

	// Fields holds the snapshot of every other live-document field.
	Fields map[string]any `json:"-"`
}

// Document flattens the record into its stored shape.
func (v *VersionRecord) Document() Document {
	doc := make(Document, len(v.Fields)+6)
	for k, val := range v.Fields {
		doc[k] = val
	}
	doc[FieldOID] = v.OID
	doc[FieldID] = v.ID
	doc[FieldNVer] = v.NVer
	doc[FieldTag] = v.Tag
	doc[FieldComment] = v.Comment
	doc[FieldLastModify] = v.LastModify
	return doc
}

// MarshalJSON renders the record the way it is stored, snapshot fields included.
func (v *VersionRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any(v.Document()))
}

// VersionRecordFromDocument is the inverse of VersionRecord.Document.
func VersionRecordFromDocument(doc Document) *VersionRecord {
	rec := &VersionRecord{
		OID:        doc.GetString(FieldOID),
		ID:         doc.GetString(FieldID),
		Tag:        doc.GetString(FieldTag),
		Comment:    doc.GetString(FieldComment),
		LastModify: doc.GetTime(FieldLastModify),
		Fields:     make(map[string]any),
	}
	rec.NVer, _ = doc.GetInt(FieldNVer)
	for k, val := range doc {
		if IsReservedHistoryField(k) {
			continue
		}
		rec.Fields[k] = val
	}
	return rec
}

// IsReservedField reports whether a field is kept outside a live document body.
func IsReservedField(name string) bool {
	return name == FieldOID || name == FieldID || name == FieldLastModify
}

// IsReservedHistoryField reports whether a field is kept outside a version record body.
func IsReservedHistoryField(name string) bool {
	return IsReservedField(name) || name == FieldNVer || name == FieldTag || name == FieldComment
}

// InsertResult reports the identities minted by an insert, in input order.
type InsertResult struct {
	InsertedIDs []string `json:"inserted_ids"`
}

// DeleteResult reports how many live documents were removed.
type DeleteResult struct {
	DeletedCount int64 `json:"deleted_count"`
}

// UpdateResult reports how many documents matched and were rewritten.
type UpdateResult struct {
	MatchedCount  int64 `json:"matched_count"`
	ModifiedCount int64 `json:"modified_count"`
}

// Validity window given to scenarios created without one.
var (
	DefaultScenarioStart = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
	DefaultScenarioEnd   = time.Date(2099, time.December, 31, 23, 59, 59, 0, time.UTC)
)

// Scenario is the metadata record a configuration graph hangs off.
type Scenario struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"idUser,omitempty"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	StartDate    *time.Time `json:"startDate,omitempty"`
	EndDate      *time.Time `json:"endDate,omitempty"`
	IncreaseTime int        `json:"increaseTime"`
	Locked       bool       `json:"locked"`
	CreatedAt    time.Time  `json:"createDate"`
	ModifiedAt   time.Time  `json:"modifyDate"`
}

// GraphSummary is the commit state of one configuration graph.
type GraphSummary struct {
	// LastModify is when the live graph last changed.
	LastModify time.Time

	// LastCommit, Comment describe the newest version; nil when never committed.
	LastCommit *time.Time
	Comment    string

	// LastTag is the tag of the newest version that has one.
	LastTag string
}
