// Package sqlguard enforces the read-only policy on queries before submission.
//
// The guard is lexical: it never parses table or column semantics and has no
// schema knowledge. Keywords that appear in string literals, quoted
// identifiers, or comments are ignored.
package sqlguard

import (
	"athena-runner/internal/domain"
)

// StatementKind is the leading keyword of an accepted statement.
type StatementKind string

// Accepted statement forms.
const (
	KindSelect StatementKind = "SELECT"
	KindWith   StatementKind = "WITH"
	KindValues StatementKind = "VALUES"
)

var allowedLeading = map[string]StatementKind{
	"SELECT": KindSelect,
	"WITH":   KindWith,
	"VALUES": KindValues,
}

// forbidden keywords are rejected anywhere in the statement.
var forbidden = map[string]bool{
	"INSERT":   true,
	"UPDATE":   true,
	"DELETE":   true,
	"DROP":     true,
	"ALTER":    true,
	"CREATE":   true,
	"TRUNCATE": true,
	"MERGE":    true,
	"GRANT":    true,
	"REVOKE":   true,
	"REPLACE":  true, // allowed only as the replace() string function
}

// Validate returns nil when sql is a single read-only statement, or a
// *domain.PolicyViolationError naming the offending keyword or reason.
func Validate(sql string) error {
	_, err := Classify(sql)
	return err
}

// Classify validates sql and returns the leading keyword of the statement.
func Classify(sql string) (StatementKind, error) {
	toks := Tokenize(sql)

	stmts := splitStatements(toks)
	for _, stmt := range stmts {
		if last := stmt[len(stmt)-1]; last.Type == TokenIllegal {
			return "", domain.ErrPolicyViolation("", "%s at offset %d", last.Literal, last.Pos)
		}
	}
	switch len(stmts) {
	case 0:
		return "", domain.ErrPolicyViolation("", "empty query")
	case 1:
	default:
		return "", domain.ErrPolicyViolation("", "multiple statements (%d found)", len(stmts))
	}
	stmt := stmts[0]

	if kw, ok := findForbidden(stmt); ok {
		return "", domain.ErrPolicyViolation(kw, "%s is not allowed; only SELECT queries are permitted", kw)
	}

	lead, ok := leadingWord(stmt)
	if !ok {
		return "", domain.ErrPolicyViolation("", "unable to determine statement type; only SELECT queries are permitted")
	}
	kind, ok := allowedLeading[lead]
	if !ok {
		return "", domain.ErrPolicyViolation(lead, "statement type %s is not allowed; only SELECT queries are permitted", lead)
	}
	return kind, nil
}

// splitStatements groups tokens by top-level semicolons and drops empty groups,
// so a single trailing semicolon is not a second statement.
func splitStatements(toks []Token) [][]Token {
	var (
		stmts   [][]Token
		current []Token
	)
	for _, tok := range toks {
		if tok.Type == TokenSemicolon {
			if len(current) > 0 {
				stmts = append(stmts, current)
			}
			current = nil
			continue
		}
		current = append(current, tok)
	}
	if len(current) > 0 {
		stmts = append(stmts, current)
	}
	return stmts
}

func findForbidden(stmt []Token) (string, bool) {
	for i, tok := range stmt {
		if tok.Type != TokenWord {
			continue
		}
		kw := tok.Upper()
		if !forbidden[kw] {
			continue
		}
		if kw == "REPLACE" && i+1 < len(stmt) && stmt[i+1].Type == TokenLParen {
			continue
		}
		return kw, true
	}
	return "", false
}

// leadingWord returns the first keyword, skipping opening parentheses of a
// parenthesized query such as "(SELECT 1) UNION (SELECT 2)".
func leadingWord(stmt []Token) (string, bool) {
	for _, tok := range stmt {
		switch tok.Type {
		case TokenLParen:
			continue
		case TokenWord:
			return tok.Upper(), true
		default:
			return "", false
		}
	}
	return "", false
}
