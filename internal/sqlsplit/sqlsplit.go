// Package sqlsplit tokenizes raw SQL text just enough to find statement boundaries,
// skipping string literals, comments and quoted identifiers.
//
// The zero Dialect is the default splitter: it only understands single-quoted literals
// (with the '' escape), -- line comments and /* */ block comments. Dialect plugins turn on
// the extra rules their engine needs.
package sqlsplit

import "strings"

// QuoteKind says how a dialect treats double-quoted text.
type QuoteKind int

const (
	QuoteNone QuoteKind = iota
	QuoteString
	QuoteIdent
)

// Dialect configures the scanner.
type Dialect struct {
	HashComments     bool // # line comments (MySQL)
	BackslashEscapes bool // \' inside literals (MySQL)
	DollarQuotes     bool // $$...$$ and $tag$...$tag$ bodies (PostgreSQL)
	DoubleQuotes     QuoteKind
	Backticks        bool
	Brackets         bool
	DelimiterCommand bool // client-side "DELIMITER $$" lines (MySQL)
	TriggerBodies    bool // CREATE TRIGGER ... BEGIN ... END bodies (SQLite)
}

// Default is the fallback used when a plugin has no splitter of its own.
var Default = Dialect{}

// Split splits sql with the default rules.
func Split(sql string) []string {
	return Default.Split(sql)
}

type spanKind int

const (
	spanCode spanKind = iota
	spanString
	spanComment
	spanIdent
)

// Split returns the trimmed, non-empty statements of sql in order. Statements holding
// nothing but comments are dropped.
func (d Dialect) Split(sql string) []string {
	var (
		out       []string
		start     int
		delim     = ";"
		depth     int
		words     int
		inTrigger bool
	)
	emit := func(end int) {
		stmt := strings.TrimSpace(sql[start:end])
		if stmt != "" && strings.TrimSpace(d.Strip(stmt)) != "" {
			out = append(out, stmt)
		}
		depth, words, inTrigger = 0, 0, false
	}

	n := len(sql)
	for i := 0; i < n; {
		if kind, end := d.span(sql, i); kind != spanCode {
			i = end
			continue
		}

		if d.DelimiterCommand && atLineStart(sql, i) && isDelimiterCommand(sql[i:]) {
			emit(i)
			end := lineEnd(sql, i)
			if next := strings.TrimSpace(sql[i+len("DELIMITER") : end]); next != "" {
				delim = next
			}
			i, start = end, end
			continue
		}

		if d.TriggerBodies && isWordStart(sql, i) {
			end := wordEnd(sql, i)
			word := strings.ToUpper(sql[i:end])
			words++
			switch {
			case words <= 4 && word == "TRIGGER" && firstWord(sql[start:i]) == "CREATE":
				inTrigger = true
			case inTrigger && (word == "BEGIN" || word == "CASE"):
				depth++
			case inTrigger && word == "END" && depth > 0:
				depth--
			}
			i = end
			continue
		}

		if depth == 0 && strings.HasPrefix(sql[i:], delim) {
			emit(i)
			i += len(delim)
			start = i
			continue
		}
		i++
	}
	emit(n)
	return out
}

// Strip replaces string literals with an empty placeholder and comments with a single
// space, leaving code and quoted identifiers intact. The result is safe for keyword
// matching.
func (d Dialect) Strip(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))
	for i := 0; i < len(sql); {
		kind, end := d.span(sql, i)
		switch kind {
		case spanComment:
			b.WriteByte(' ')
		case spanString:
			if sql[i] == '"' {
				b.WriteString(`""`)
			} else {
				b.WriteString("''")
			}
		case spanIdent:
			b.WriteString(sql[i:end])
		default:
			b.WriteByte(sql[i])
			i++
			continue
		}
		i = end
	}
	return b.String()
}

// FirstKeyword returns the upper-cased first word of sql, skipping whitespace, comments
// and opening parentheses.
func FirstKeyword(sql string) string {
	return firstWord(sql)
}

func firstWord(sql string) string {
	d := Dialect{HashComments: true}
	for i := 0; i < len(sql); {
		if kind, end := d.span(sql, i); kind == spanComment {
			i = end
			continue
		}
		c := sql[i]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '(' {
			i++
			continue
		}
		if !isWordByte(c) {
			return ""
		}
		return strings.ToUpper(sql[i:wordEnd(sql, i)])
	}
	return ""
}

// span returns the kind and end offset of the literal, comment or quoted identifier
// starting at i. spanCode means sql[i] starts none of them.
func (d Dialect) span(sql string, i int) (spanKind, int) {
	n := len(sql)
	c := sql[i]
	switch {
	case c == '-' && i+1 < n && sql[i+1] == '-':
		return spanComment, lineEnd(sql, i)
	case c == '#' && d.HashComments:
		return spanComment, lineEnd(sql, i)
	case c == '/' && i+1 < n && sql[i+1] == '*':
		end := strings.Index(sql[i+2:], "*/")
		if end < 0 {
			return spanComment, n
		}
		return spanComment, i + 2 + end + 2
	case c == '\'':
		return spanString, quotedEnd(sql, i, '\'', d.BackslashEscapes)
	case c == '"' && d.DoubleQuotes == QuoteString:
		return spanString, quotedEnd(sql, i, '"', d.BackslashEscapes)
	case c == '"' && d.DoubleQuotes == QuoteIdent:
		return spanIdent, quotedEnd(sql, i, '"', false)
	case c == '`' && d.Backticks:
		return spanIdent, closeAt(sql, i, '`')
	case c == '[' && d.Brackets:
		return spanIdent, closeAt(sql, i, ']')
	case c == '$' && d.DollarQuotes:
		if end, ok := dollarEnd(sql, i); ok {
			return spanString, end
		}
	}
	return spanCode, i
}

// quotedEnd finds the end of a literal opened at i. A doubled quote does not close it.
func quotedEnd(sql string, i int, q byte, backslash bool) int {
	n := len(sql)
	for j := i + 1; j < n; j++ {
		switch {
		case sql[j] == q && j+1 < n && sql[j+1] == q:
			j++
		case sql[j] == q:
			return j + 1
		case backslash && sql[j] == '\\':
			j++
		}
	}
	return n
}

func closeAt(sql string, i int, q byte) int {
	idx := strings.IndexByte(sql[i+1:], q)
	if idx < 0 {
		return len(sql)
	}
	return i + 1 + idx + 1
}

// dollarEnd matches $$...$$ or $tag$...$tag$. Positional parameters such as $1 are not tags.
func dollarEnd(sql string, i int) (int, bool) {
	j := i + 1
	if j < len(sql) && sql[j] >= '0' && sql[j] <= '9' {
		return 0, false
	}
	for j < len(sql) && isWordByte(sql[j]) && sql[j] != '$' {
		j++
	}
	if j >= len(sql) || sql[j] != '$' {
		return 0, false
	}
	tag := sql[i : j+1]
	closing := strings.Index(sql[j+1:], tag)
	if closing < 0 {
		return 0, false
	}
	return j + 1 + closing + len(tag), true
}

func lineEnd(sql string, i int) int {
	if idx := strings.IndexByte(sql[i:], '\n'); idx >= 0 {
		return i + idx
	}
	return len(sql)
}

func atLineStart(sql string, i int) bool {
	for j := i - 1; j >= 0; j-- {
		switch sql[j] {
		case ' ', '\t', '\r':
		case '\n':
			return true
		default:
			return false
		}
	}
	return true
}

func isDelimiterCommand(s string) bool {
	const kw = "DELIMITER"
	if len(s) <= len(kw) || !strings.EqualFold(s[:len(kw)], kw) {
		return false
	}
	return s[len(kw)] == ' ' || s[len(kw)] == '\t'
}

func isWordStart(sql string, i int) bool {
	c := sql[i]
	if !(c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
		return false
	}
	return i == 0 || !isWordByte(sql[i-1])
}

func wordEnd(sql string, i int) int {
	for i < len(sql) && isWordByte(sql[i]) {
		i++
	}
	return i
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
