// Package guard rejects SQL that could modify data or the server. It backs the
// read-only mode of the agent tools.
package guard

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shakram02/go-sql-agent/internal/sqlsplit"
)

// ErrForbidden is matched by every rejection returned from Validate.
var ErrForbidden = errors.New("query rejected in read-only mode")

type rejection struct {
	msg string
}

func (r *rejection) Error() string        { return r.msg }
func (r *rejection) Is(target error) bool { return target == ErrForbidden }

func reject(format string, args ...any) error {
	return &rejection{msg: fmt.Sprintf(format, args...)}
}

// Rule is one forbidden construct.
type Rule struct {
	re   *regexp.Regexp
	desc string
}

// Keyword matches name as a whole word.
func Keyword(name string) Rule {
	return Rule{
		re:   regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])` + regexp.QuoteMeta(name) + `(?:[^a-zA-Z_]|$)`),
		desc: name,
	}
}

// Function matches a call to name.
func Function(name string) Rule {
	return Rule{
		re:   regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\s*\(`),
		desc: name + "()",
	}
}

// Pattern matches expr; desc names it in the error.
func Pattern(expr, desc string) Rule {
	return Rule{re: regexp.MustCompile(expr), desc: desc}
}

// Rules are the dialect-specific checks layered on top of the common ones. Patterns and
// Functions are matched against the raw text, Keywords and Statements against the text
// with literals and comments removed.
type Rules struct {
	Allowed    []string
	Patterns   []Rule
	Functions  []Rule
	Keywords   []Rule
	Statements []Rule
}

// DefaultAllowed are the leading keywords accepted by every dialect.
var DefaultAllowed = []string{"SELECT", "WITH", "SHOW", "DESCRIBE", "DESC", "EXPLAIN"}

var commonKeywords = []Rule{
	Keyword("INSERT"),
	Keyword("UPDATE"),
	Keyword("DELETE"),
	Keyword("DROP"),
	Keyword("CREATE"),
	Keyword("ALTER"),
	Keyword("TRUNCATE"),
	Keyword("GRANT"),
	Keyword("REVOKE"),
	Keyword("MERGE"),
}

// SET statements, not columns or tables named "set".
var setStatement = regexp.MustCompile(`(?i)(?:^|;)\s*SET\b`)

// Guard validates SQL for one dialect.
type Guard struct {
	dialect sqlsplit.Dialect
	rules   Rules
	allowed map[string]bool
}

// New returns a guard scanning with d and applying rules.
func New(d sqlsplit.Dialect, rules Rules) *Guard {
	g := &Guard{dialect: d, rules: rules, allowed: make(map[string]bool)}
	for _, kw := range DefaultAllowed {
		g.allowed[kw] = true
	}
	for _, kw := range rules.Allowed {
		g.allowed[strings.ToUpper(kw)] = true
	}
	return g
}

// Validate returns nil when sql is a single read-only statement.
func (g *Guard) Validate(sql string) error {
	if strings.TrimSpace(sql) == "" {
		return reject("empty query")
	}

	first := sqlsplit.FirstKeyword(sql)
	if !g.allowed[first] {
		return reject("only %s queries are allowed", g.allowedList())
	}
	if stmts := g.dialect.Split(sql); len(stmts) > 1 {
		return reject("multiple statements are not allowed")
	}

	stripped := g.dialect.Strip(sql)
	for _, r := range g.rules.Patterns {
		if r.re.MatchString(sql) {
			return reject("query contains forbidden pattern: %s", r.desc)
		}
	}
	for _, r := range g.rules.Functions {
		if r.re.MatchString(sql) {
			return reject("query contains forbidden function: %s", r.desc)
		}
	}
	for _, r := range commonKeywords {
		if r.re.MatchString(stripped) {
			return reject("query contains forbidden keyword: %s", r.desc)
		}
	}
	if setStatement.MatchString(stripped) {
		return reject("SET statements are not allowed")
	}
	for _, r := range g.rules.Keywords {
		if r.re.MatchString(stripped) {
			return reject("query contains forbidden keyword: %s", r.desc)
		}
	}
	for _, r := range g.rules.Statements {
		if r.re.MatchString(stripped) {
			return reject("%s are not allowed", r.desc)
		}
	}
	return nil
}

func (g *Guard) allowedList() string {
	kws := append([]string(nil), DefaultAllowed...)
	for _, kw := range g.rules.Allowed {
		kws = append(kws, strings.ToUpper(kw))
	}
	return strings.Join(kws, ", ")
}
