package sql

import (
	"testing"
	"time"
)

func TestStatementKind(t *testing.T) {
	cases := []struct {
		query string
		want  string
	}{
		{"SELECT 1", "SELECT"},
		{"insert into t (a) values (1)", "INSERT"},
		{"UPDATE t SET a = 1", "UPDATE"},
		{"DELETE FROM t", "DELETE"},
		{"BEGIN", "BEGIN"},
		{"START TRANSACTION", "BEGIN"},
		{"COMMIT", "COMMIT"},
		{"ROLLBACK TO SAVEPOINT s1", "ROLLBACK"},
		{"SAVEPOINT s1", "SAVEPOINT"},
		{"CREATE TABLE t (a int)", "CREATE"},
		{"TRUNCATE t", "TRUNCATE"},
		// MySQL / SQLite syntax pg_query rejects
		{"REPLACE INTO t VALUES (1)", "REPLACE"},
		{"PRAGMA journal_mode", "PRAGMA"},
		{"LOCK TABLES t WRITE", "OTHER"},
	}
	for _, c := range cases {
		if got := StatementKind(c.query); got != c.want {
			t.Errorf("StatementKind(%q) = %q, want %q", c.query, got, c.want)
		}
	}
}

func TestIsNoise(t *testing.T) {
	cases := []struct {
		query string
		noise bool
	}{
		{"", true},
		{"   ", true},
		{"DEALLOCATE", true},
		{"deallocate pdo_stmt_00000001", true},
		{"DEALLOCATE ALL", true},
		{"deallocate\tpdo_stmt_00000001", true},
		{"DEALLOCATES", false},
		{"SELECT 1", false},
		{"RELEASE SAVEPOINT s1", false},
	}
	for _, c := range cases {
		if got := IsNoise(c.query); got != c.noise {
			t.Errorf("IsNoise(%q) = %v, want %v", c.query, got, c.noise)
		}
	}
}

func TestSubstituteParams(t *testing.T) {
	t.Run("dollar", func(t *testing.T) {
		got := SubstituteParams("SELECT $1, $2", []any{10, "foo"})
		if got != "SELECT 10, 'foo'" {
			t.Errorf("got %q", got)
		}
	})
	t.Run("dollar_repeated", func(t *testing.T) {
		got := SubstituteParams("SELECT $1 WHERE a = $1", []any{int64(7)})
		if got != "SELECT 7 WHERE a = 7" {
			t.Errorf("got %q", got)
		}
	})
	t.Run("question_marks", func(t *testing.T) {
		got := SubstituteParams("UPDATE t SET a = ?, b = '?' WHERE id = ?", []any{"it's", 3})
		if got != "UPDATE t SET a = 'it''s', b = '?' WHERE id = 3" {
			t.Errorf("got %q", got)
		}
	})
	t.Run("no_args", func(t *testing.T) {
		if got := SubstituteParams("SELECT ?", nil); got != "SELECT ?" {
			t.Errorf("got %q", got)
		}
	})
}

func TestFormatArg(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	cases := []struct {
		in   any
		want string
	}{
		{nil, "NULL"},
		{true, "true"},
		{1.5, "1.5"},
		{[]byte("x"), "'x'"},
		{ts, "'2024-01-02T03:04:05Z'"},
	}
	for _, c := range cases {
		if got := FormatArg(c.in); got != c.want {
			t.Errorf("FormatArg(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}
