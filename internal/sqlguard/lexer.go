package sqlguard

import (
	"strings"
	"unicode"
)

// TokenType represents the type of a lexical token.
type TokenType int

// Token types produced by the lexer. Operators the guard does not care about
// collapse into TokenPunct.
const (
	TokenEOF     TokenType = iota // end of input
	TokenIllegal                  // unterminated literal or comment
	TokenWord                     // unquoted identifier or keyword
	TokenQuoted                   // "ident" or `ident`
	TokenNumber                   // 123, 45.67, 1e10
	TokenString                   // 'hello' or $$hello$$
	TokenSemicolon                // ;
	TokenLParen                   // (
	TokenRParen                   // )
	TokenPunct                    // any other operator or punctuation
)

// Token is a lexical token. Pos is the byte offset of its first character.
type Token struct {
	Type    TokenType
	Literal string
	Pos     int
}

// Upper returns the literal upper-cased, for keyword comparison.
func (t Token) Upper() string { return strings.ToUpper(t.Literal) }

// Lexer tokenizes SQL input. It understands enough of the Trino/Athena
// dialect to never mistake string contents, quoted identifiers, or comments
// for keywords.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // NUL = EOF
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) atEOF() bool { return l.pos >= len(l.input) }

// NextToken returns the next token from the input.
func (l *Lexer) NextToken() Token {
	if pos, ok := l.skipWhitespaceAndComments(); !ok {
		return Token{Type: TokenIllegal, Literal: "unterminated block comment", Pos: pos}
	}

	start := l.pos
	if l.atEOF() {
		return Token{Type: TokenEOF, Pos: start}
	}

	switch l.ch {
	case ';':
		l.readChar()
		return Token{Type: TokenSemicolon, Literal: ";", Pos: start}
	case '(':
		l.readChar()
		return Token{Type: TokenLParen, Literal: "(", Pos: start}
	case ')':
		l.readChar()
		return Token{Type: TokenRParen, Literal: ")", Pos: start}
	case '\'':
		lit, ok := l.readDelimited('\'')
		if !ok {
			return Token{Type: TokenIllegal, Literal: "unterminated string literal", Pos: start}
		}
		return Token{Type: TokenString, Literal: lit, Pos: start}
	case '"', '`':
		lit, ok := l.readDelimited(l.ch)
		if !ok {
			return Token{Type: TokenIllegal, Literal: "unterminated quoted identifier", Pos: start}
		}
		return Token{Type: TokenQuoted, Literal: lit, Pos: start}
	case '$':
		if tag, ok := l.dollarTag(); ok {
			lit, ok := l.readDollarQuoted(tag)
			if !ok {
				return Token{Type: TokenIllegal, Literal: "unterminated dollar-quoted string", Pos: start}
			}
			return Token{Type: TokenString, Literal: lit, Pos: start}
		}
	}

	switch {
	case isLetter(l.ch) || l.ch == '_':
		return Token{Type: TokenWord, Literal: l.readIdentifier(), Pos: start}
	case isDigit(l.ch):
		return Token{Type: TokenNumber, Literal: l.readNumber(), Pos: start}
	default:
		ch := l.ch
		l.readChar()
		return Token{Type: TokenPunct, Literal: string(ch), Pos: start}
	}
}

// skipWhitespaceAndComments skips whitespace and SQL comments. ok is false
// when a block comment is never closed; pos is where that comment starts.
func (l *Lexer) skipWhitespaceAndComments() (pos int, ok bool) {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' || l.ch == '\f' || l.ch == '\v' {
			l.readChar()
		}
		// Line comment (-- ...)
		if l.ch == '-' && l.peekChar() == '-' {
			for l.ch != '\n' && !l.atEOF() {
				l.readChar()
			}
			continue
		}
		// Block comment (/* ... */)
		if l.ch == '/' && l.peekChar() == '*' {
			start := l.pos
			l.readChar() // skip /
			l.readChar() // skip *
			closed := false
			for !l.atEOF() {
				if l.ch == '*' && l.peekChar() == '/' {
					l.readChar() // skip *
					l.readChar() // skip /
					closed = true
					break
				}
				l.readChar()
			}
			if !closed {
				return start, false
			}
			continue
		}
		return l.pos, true
	}
}

// dollarTag reports whether a dollar-quote opener ($$ or $tag$) starts at the
// current position and returns it. A tag never starts with a digit, so $1
// stays punctuation.
func (l *Lexer) dollarTag() (string, bool) {
	end := l.pos + 1
	for end < len(l.input) {
		ch := l.input[end]
		if ch == '$' {
			return l.input[l.pos : end+1], true
		}
		if !(isLetter(ch) || ch == '_' || (isDigit(ch) && end > l.pos+1)) {
			return "", false
		}
		end++
	}
	return "", false
}

// readDollarQuoted consumes a dollar-quoted string opened by tag and returns
// its body. ok is false, with the input consumed, when tag never closes.
func (l *Lexer) readDollarQuoted(tag string) (lit string, ok bool) {
	bodyStart := l.pos + len(tag)
	i := strings.Index(l.input[bodyStart:], tag)
	if i < 0 {
		l.seek(len(l.input))
		return l.input[bodyStart:], false
	}
	l.seek(bodyStart + i + len(tag))
	return l.input[bodyStart : bodyStart+i], true
}

// seek moves the lexer so the current char is input[pos].
func (l *Lexer) seek(pos int) {
	l.readPos = pos
	l.readChar()
}

// readDelimited reads a literal enclosed in quote, where a doubled quote is
// an escaped quote. ok is false when input ends before the closing quote.
func (l *Lexer) readDelimited(quote byte) (lit string, ok bool) {
	l.readChar() // skip opening quote
	var result strings.Builder
	for !l.atEOF() {
		if l.ch == quote {
			if l.peekChar() == quote {
				result.WriteByte(quote)
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar() // skip closing quote
			return result.String(), true
		}
		result.WriteByte(l.ch)
		l.readChar()
	}
	return result.String(), false
}

func (l *Lexer) readIdentifier() string {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	return l.input[start:l.pos]
}

// readNumber reads a numeric literal (integer, decimal, or scientific).
func (l *Lexer) readNumber() string {
	start := l.pos
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar() // skip .
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	if (l.ch == 'e' || l.ch == 'E') && (isDigit(l.peekChar()) || l.peekChar() == '+' || l.peekChar() == '-') {
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return l.input[start:l.pos]
}

// Tokenize returns every token up to, but excluding, EOF.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var toks []Token
	for {
		tok := l.NextToken()
		if tok.Type == TokenEOF {
			return toks
		}
		toks = append(toks, tok)
		if tok.Type == TokenIllegal {
			return toks
		}
	}
}

func isLetter(ch byte) bool {
	return ch >= 0x80 || unicode.IsLetter(rune(ch))
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
