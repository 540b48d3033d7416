package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple identifier", "public", `"public"`},
		{"identifier with underscore", "session_ledger", `"session_ledger"`},
		{"identifier with quotes", `schema"name`, `"schema""name"`},
		{"empty string", "", `""`},
		{"mixed case", "PublicSchema", `"PublicSchema"`},
		{"with spaces", "schema name", `"schema name"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, QuoteIdentifier(tt.input))
		})
	}
}

func TestQuoteQualifiedName(t *testing.T) {
	assert.Equal(t, `"public"."accounts"`, QuoteQualifiedName("public", "accounts"))
	assert.Equal(t, `"accounts"`, QuoteQualifiedName("", "accounts"))
}

func TestQuoteLiteral(t *testing.T) {
	assert.Equal(t, `'plain'`, QuoteLiteral("plain"))
	assert.Equal(t, `'o''brien'`, QuoteLiteral("o'brien"))
	assert.Equal(t, `''`, QuoteLiteral(""))
}
