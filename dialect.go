package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
)

// dialect hides the SQL differences between the supported stores.
// Queries are written with "?" placeholders and passed through Rebind.
type dialect interface {
	Name() string
	DriverName() string
	Rebind(query string) string
	// JSONParam wraps the placeholder of a document body parameter.
	JSONParam() string
	// JSONField extracts a top-level body field as text.
	JSONField(column, field string) string
	// SetFields renders an expression that drops keys from the body in
	// column and then merges values, a JSON object, into it.
	SetFields(column string, keys []string, values string) (string, []any, error)
	// IsConflict reports errors that a retried transaction may not hit again.
	IsConflict(err error) bool
}

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(driver) {
	case "", DriverDuckDB:
		return duckDBDialect{}, nil
	case DriverPostgres, "pgx":
		return postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}

type duckDBDialect struct{}

func (duckDBDialect) Name() string               { return DriverDuckDB }
func (duckDBDialect) DriverName() string         { return "duckdb" }
func (duckDBDialect) Rebind(query string) string { return query }
func (duckDBDialect) JSONParam() string          { return "?" }

func (duckDBDialect) JSONField(column, field string) string {
	return fmt.Sprintf("json_extract_string(%s, '$.%s')", column, field)
}

// SetFields applies two JSON merge patches: one nulling every key, which
// removes it, then one with the new values.
func (duckDBDialect) SetFields(column string, keys []string, values string) (string, []any, error) {
	if len(keys) == 0 {
		return column, nil, nil
	}
	removal := make(map[string]any, len(keys))
	for _, k := range keys {
		removal[k] = nil
	}
	patch, err := json.Marshal(removal)
	if err != nil {
		return "", nil, err
	}
	expr := fmt.Sprintf(
		"CAST(json_merge_patch(json_merge_patch(CAST(%s AS JSON), CAST(? AS JSON)), CAST(? AS JSON)) AS VARCHAR)",
		column,
	)
	return expr, []any{string(patch), values}, nil
}

func (duckDBDialect) IsConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Constraint Error") ||
		strings.Contains(msg, "Duplicate key") ||
		strings.Contains(strings.ToLower(msg), "conflict")
}

type postgresDialect struct{}

func (postgresDialect) Name() string       { return DriverPostgres }
func (postgresDialect) DriverName() string { return "pgx" }
func (postgresDialect) JSONParam() string  { return "CAST(? AS JSONB)" }

func (postgresDialect) JSONField(column, field string) string {
	return fmt.Sprintf("(%s ->> '%s')", column, field)
}

// Rebind turns "?" placeholders into "$1", "$2", ... outside quoted literals.
func (postgresDialect) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (postgresDialect) SetFields(column string, keys []string, values string) (string, []any, error) {
	if len(keys) == 0 {
		return column, nil, nil
	}
	var b strings.Builder
	b.WriteString("((")
	b.WriteString(column)
	args := make([]any, 0, len(keys)+1)
	for _, k := range keys {
		b.WriteString(" - CAST(? AS TEXT)")
		args = append(args, k)
	}
	b.WriteString(") || CAST(? AS JSONB))")
	return b.String(), append(args, values), nil
}

func (postgresDialect) IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// unique_violation, serialization_failure
		return pgErr.Code == "23505" || pgErr.Code == "40001"
	}
	return false
}
