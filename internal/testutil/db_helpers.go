package testutil

import (
	"context"
	"fmt"
	"testing"

	"sessiondb/internal/driver"
	"sessiondb/pkg/postgres"
)

func withContext(msg, contextMsg string) string {
	if contextMsg != "" {
		return fmt.Sprintf("%s (%s)", msg, contextMsg)
	}
	return msg
}

// CreateTable cria uma tabela com as colunas especificadas na conexão.
func CreateTable(t *testing.T, conn driver.Conn, tableName string, columns string) {
	t.Helper()
	if _, err := conn.Exec(context.Background(), fmt.Sprintf("CREATE TABLE %s (%s)", postgres.QuoteIdentifier(tableName), columns)); err != nil {
		t.Fatalf("Failed to create table %s: %v", tableName, err)
	}
}

// InsertRow insere uma linha e exige que exatamente uma linha seja afetada.
func InsertRow(t *testing.T, conn driver.Conn, tableName string, values string, contextMessage string) {
	t.Helper()
	res, err := conn.Exec(context.Background(), fmt.Sprintf("INSERT INTO %s %s", postgres.QuoteIdentifier(tableName), values))
	if err != nil {
		t.Fatalf("%s: %v", withContext("Failed to insert row into "+tableName, contextMessage), err)
	}
	if res.RowsAffected != 1 {
		t.Fatalf("%s", withContext(fmt.Sprintf("INSERT into %s should affect 1 row, got: %d", tableName, res.RowsAffected), contextMessage))
	}
}

// InsertRowWithName insere uma linha com a coluna name.
func InsertRowWithName(t *testing.T, conn driver.Conn, tableName string, nameValue string, contextMessage string) {
	t.Helper()
	InsertRow(t, conn, tableName, "(name) VALUES ("+postgres.QuoteLiteral(nameValue)+")", contextMessage)
}

// AssertTableCount verifica que a contagem de linhas na tabela corresponde ao valor esperado.
func AssertTableCount(t *testing.T, conn driver.Conn, tableName string, expectedCount int, contextMsg string) {
	t.Helper()
	res, err := conn.Exec(context.Background(), fmt.Sprintf("SELECT COUNT(*) FROM %s", postgres.QuoteIdentifier(tableName)))
	if err != nil {
		t.Fatalf("%s: %v", withContext("Failed to check table count for "+tableName, contextMsg), err)
	}
	if len(res.Rows) != 1 || len(res.Rows[0]) != 1 {
		t.Fatalf("%s", withContext(fmt.Sprintf("COUNT(*) on %s returned %d rows", tableName, len(res.Rows)), contextMsg))
	}
	count := fmt.Sprint(res.Rows[0][0])
	if count != fmt.Sprint(expectedCount) {
		t.Fatalf("%s", withContext(fmt.Sprintf("Table %s count = %s, want %d", tableName, count, expectedCount), contextMsg))
	}
}
