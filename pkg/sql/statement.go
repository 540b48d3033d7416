// Package sql classifies SQL text for the query history using pg_query_go/v5.
// Statements that PostgreSQL's parser rejects (MySQL or SQLite syntax) fall
// back to keyword matching.
package sql

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v5"
)

// ParseStatements parses SQL and returns one RawStmt per statement.
func ParseStatements(sql string) ([]*pg_query.RawStmt, error) {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return nil, err
	}
	if tree == nil || tree.Stmts == nil {
		return nil, nil
	}
	return tree.Stmts, nil
}

// ClassifyStatement returns the statement kind: SELECT, INSERT, UPDATE, DELETE, BEGIN, COMMIT,
// ROLLBACK, SAVEPOINT, RELEASE, DEALLOCATE, SET, CREATE, ALTER, DROP, TRUNCATE, OTHER.
func ClassifyStatement(stmt *pg_query.Node) string {
	if stmt == nil {
		return "OTHER"
	}
	switch {
	case stmt.GetSelectStmt() != nil:
		return "SELECT"
	case stmt.GetInsertStmt() != nil:
		return "INSERT"
	case stmt.GetUpdateStmt() != nil:
		return "UPDATE"
	case stmt.GetDeleteStmt() != nil:
		return "DELETE"
	case stmt.GetVariableSetStmt() != nil:
		return "SET"
	case stmt.GetCreateStmt() != nil:
		return "CREATE"
	case stmt.GetAlterTableStmt() != nil:
		return "ALTER"
	case stmt.GetDropStmt() != nil:
		return "DROP"
	case stmt.GetTruncateStmt() != nil:
		return "TRUNCATE"
	case stmt.GetDeallocateStmt() != nil:
		return "DEALLOCATE"
	}
	if t := stmt.GetTransactionStmt(); t != nil {
		switch t.GetKind() {
		case pg_query.TransactionStmtKind_TRANS_STMT_BEGIN, pg_query.TransactionStmtKind_TRANS_STMT_START:
			return "BEGIN"
		case pg_query.TransactionStmtKind_TRANS_STMT_COMMIT:
			return "COMMIT"
		case pg_query.TransactionStmtKind_TRANS_STMT_ROLLBACK, pg_query.TransactionStmtKind_TRANS_STMT_ROLLBACK_TO:
			return "ROLLBACK"
		case pg_query.TransactionStmtKind_TRANS_STMT_SAVEPOINT:
			return "SAVEPOINT"
		case pg_query.TransactionStmtKind_TRANS_STMT_RELEASE:
			return "RELEASE"
		}
	}
	return "OTHER"
}

// StatementKind classifies the first statement of query.
func StatementKind(query string) string {
	stmts, err := ParseStatements(query)
	if err != nil || len(stmts) == 0 || stmts[0].Stmt == nil {
		return kindFallback(query)
	}
	return ClassifyStatement(stmts[0].Stmt)
}

var fallbackKinds = []string{
	"SELECT", "INSERT", "UPDATE", "DELETE", "REPLACE", "CREATE", "DROP", "ALTER", "TRUNCATE",
	"SET", "SAVEPOINT", "RELEASE", "ROLLBACK", "COMMIT", "BEGIN", "PRAGMA", "SHOW",
}

func kindFallback(query string) string {
	upper := strings.ToUpper(strings.TrimSpace(query))
	for _, prefix := range fallbackKinds {
		if strings.HasPrefix(upper, prefix) {
			return prefix
		}
	}
	if strings.HasPrefix(upper, "START TRANSACTION") {
		return "BEGIN"
	}
	return "OTHER"
}

// IsNoise reports statements that should not be recorded in query history:
// empty text and DEALLOCATE sent by drivers after prepared statements.
func IsNoise(query string) bool {
	q := strings.TrimSpace(query)
	if q == "" {
		return true
	}
	stmts, err := ParseStatements(q)
	if err != nil || len(stmts) == 0 || stmts[0].Stmt == nil {
		uq := strings.ToUpper(q)
		return strings.HasPrefix(uq, "DEALLOCATE") && (len(uq) == 10 || uq[10] == ' ' || uq[10] == '\t')
	}
	return stmts[0].Stmt.GetDeallocateStmt() != nil
}
