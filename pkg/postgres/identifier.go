// Package postgres holds SQL quoting helpers that follow PostgreSQL (and ANSI) rules.
// SQLite accepts the same forms.
package postgres

import (
	"strings"
)

// QuoteIdentifier wraps an identifier in double quotes, doubling any embedded
// double quote: `schema"name` → `"schema""name"`.
func QuoteIdentifier(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

// QuoteQualifiedName quotes schema.table; an empty schema yields just the table.
func QuoteQualifiedName(schema, table string) string {
	if schema == "" {
		return QuoteIdentifier(table)
	}
	return QuoteIdentifier(schema) + "." + QuoteIdentifier(table)
}

// QuoteLiteral renders s as a single-quoted string literal.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
