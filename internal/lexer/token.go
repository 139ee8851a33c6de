package lexer

import "fmt"

// TokenType represents the type of a token.
type TokenType int

// Token types recognized by the reader.
const (
	TokenEOF TokenType = iota
	TokenError
	TokenLParen
	TokenRParen
	TokenQuote
	TokenString
	TokenInt
	TokenFloat
	TokenSymbol
)

var tokenNames = map[TokenType]string{
	TokenEOF:    "EOF",
	TokenError:  "ERROR",
	TokenLParen: "LPAREN",
	TokenRParen: "RPAREN",
	TokenQuote:  "QUOTE",
	TokenString: "STRING",
	TokenInt:    "INT",
	TokenFloat:  "FLOAT",
	TokenSymbol: "SYMBOL",
}

// String returns a string representation of the token type.
func (tt TokenType) String() string {
	if name, ok := tokenNames[tt]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(tt))
}

// Token is one lexeme. The discriminant is Type: Int carries the value of
// an INT token, Float of a FLOAT token, and Text the raw lexeme for
// everything else (without delimiters for STRING).
type Token struct {
	Type  TokenType
	Text  string
	Int   int64
	Float float64
	Line  int
	Col   int
}

func (t Token) String() string {
	switch t.Type {
	case TokenInt:
		return fmt.Sprintf("%s(%d)", t.Type, t.Int)
	case TokenFloat:
		return fmt.Sprintf("%s(%g)", t.Type, t.Float)
	default:
		return fmt.Sprintf("%s(%q)", t.Type, t.Text)
	}
}
