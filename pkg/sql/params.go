package sql

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	pg_query "github.com/pganalyze/pg_query_go/v5"

	"sessiondb/pkg/postgres"
)

type paramRefPos struct {
	location int
	number   int32
}

func collectParamRefs(node *pg_query.Node, out *[]paramRefPos) {
	walkNodeTree(node, func(n *pg_query.Node) {
		if pr := n.GetParamRef(); pr != nil {
			*out = append(*out, paramRefPos{location: int(pr.GetLocation()), number: pr.GetNumber()})
		}
	})
}

// walkNodeTree visits node and every descendant *pg_query.Node via reflection over the oneof wrappers.
func walkNodeTree(node *pg_query.Node, visit func(*pg_query.Node)) {
	if node == nil {
		return
	}
	visit(node)
	oneof := reflect.ValueOf(node).Elem().FieldByName("Node")
	if !oneof.IsValid() || oneof.IsNil() {
		return
	}
	walkValue(reflect.ValueOf(oneof.Interface()), visit)
}

var nodeType = reflect.TypeOf((*pg_query.Node)(nil))

func walkValue(v reflect.Value, visit func(*pg_query.Node)) {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if !f.CanInterface() {
			continue
		}
		switch f.Kind() {
		case reflect.Ptr:
			walkChild(f, visit)
		case reflect.Slice:
			for j := 0; j < f.Len(); j++ {
				walkChild(f.Index(j), visit)
			}
		}
	}
}

func walkChild(f reflect.Value, visit func(*pg_query.Node)) {
	if f.Kind() != reflect.Ptr || f.IsNil() {
		return
	}
	if f.Type() == nodeType {
		walkNodeTree(f.Interface().(*pg_query.Node), visit)
		return
	}
	if f.Elem().Kind() == reflect.Struct {
		walkValue(f, visit)
	}
}

// FormatArg renders one bind argument as a SQL literal for display.
func FormatArg(v any) string {
	if v == nil {
		return "NULL"
	}
	switch x := v.(type) {
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case []byte:
		return quote(string(x))
	case string:
		return quote(x)
	case time.Time:
		return quote(x.Format(time.RFC3339Nano))
	default:
		return quote(fmt.Sprint(v))
	}
}

func quote(s string) string {
	return postgres.QuoteLiteral(s)
}

// SubstituteParams returns query with its placeholders replaced by literal args,
// for display only. PostgreSQL $n references are located through the parse tree;
// anything else is treated as positional '?' placeholders.
func SubstituteParams(query string, args []any) string {
	if len(args) == 0 {
		return query
	}
	if strings.Contains(query, "$1") {
		if out, ok := substituteDollar(query, args); ok {
			return out
		}
		return substituteDollarFallback(query, args)
	}
	return substituteQuestion(query, args)
}

func substituteDollar(query string, args []any) (string, bool) {
	stmts, err := ParseStatements(query)
	if err != nil || len(stmts) == 0 || stmts[0].Stmt == nil {
		return "", false
	}
	var refs []paramRefPos
	collectParamRefs(stmts[0].Stmt, &refs)
	if len(refs) == 0 {
		return "", false
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].location < refs[j].location })

	var out strings.Builder
	prev := 0
	for _, r := range refs {
		pos := r.location
		// pg_query locations are 0-based byte offsets of the '$'
		if pos < prev || pos >= len(query) || query[pos] != '$' {
			return "", false
		}
		end := pos + 1
		for end < len(query) && query[end] >= '0' && query[end] <= '9' {
			end++
		}
		out.WriteString(query[prev:pos])
		if idx := int(r.number) - 1; idx >= 0 && idx < len(args) {
			out.WriteString(FormatArg(args[idx]))
		} else {
			out.WriteString(query[pos:end])
		}
		prev = end
	}
	out.WriteString(query[prev:])
	return out.String(), true
}

func substituteDollarFallback(query string, args []any) string {
	for i := len(args) - 1; i >= 0; i-- {
		query = strings.ReplaceAll(query, "$"+strconv.Itoa(i+1), FormatArg(args[i]))
	}
	return query
}

// substituteQuestion replaces '?' outside quoted strings, left to right.
func substituteQuestion(query string, args []any) string {
	var out strings.Builder
	next := 0
	var inQuote byte
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case inQuote != 0:
			if c == inQuote {
				inQuote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			inQuote = c
		case c == '?' && next < len(args):
			out.WriteString(FormatArg(args[next]))
			next++
			continue
		}
		out.WriteByte(c)
	}
	return out.String()
}
