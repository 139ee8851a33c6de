package lexer

import (
	"strings"
	"testing"
)

func collect(t *testing.T, input string) []Token {
	t.Helper()
	l := New(strings.NewReader(input))
	var tokens []Token
	for {
		tok := l.Next()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			return tokens
		}
	}
}

func TestTokenizeForm(t *testing.T) {
	tokens := collect(t, "(define x 42)")

	want := []TokenType{TokenLParen, TokenSymbol, TokenSymbol, TokenInt, TokenRParen, TokenEOF}
	if len(tokens) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(tokens), len(want), tokens)
	}
	for i, tt := range want {
		if tokens[i].Type != tt {
			t.Errorf("token %d = %v, want %v", i, tokens[i], tt)
		}
	}
	if tokens[1].Text != "define" || tokens[2].Text != "x" {
		t.Errorf("symbol text = %q, %q", tokens[1].Text, tokens[2].Text)
	}
	if tokens[3].Int != 42 {
		t.Errorf("int value = %d, want 42", tokens[3].Int)
	}
}

func TestTokenizeNumbers(t *testing.T) {
	t.Run("Int", func(t *testing.T) {
		tokens := collect(t, "123 ")
		if tokens[0].Type != TokenInt || tokens[0].Int != 123 {
			t.Fatalf("got %v", tokens[0])
		}
	})

	t.Run("Float", func(t *testing.T) {
		tokens := collect(t, "3.25 ")
		if tokens[0].Type != TokenFloat || tokens[0].Float != 3.25 {
			t.Fatalf("got %v", tokens[0])
		}
	})

	t.Run("IntAtEOF", func(t *testing.T) {
		tokens := collect(t, "7")
		if tokens[0].Type != TokenInt || tokens[0].Int != 7 {
			t.Fatalf("got %v", tokens[0])
		}
	})

	t.Run("IntAgainstParen", func(t *testing.T) {
		tokens := collect(t, "(1)")
		want := []TokenType{TokenLParen, TokenInt, TokenRParen, TokenEOF}
		for i, tt := range want {
			if tokens[i].Type != tt {
				t.Fatalf("token %d = %v, want %v", i, tokens[i], tt)
			}
		}
	})

	t.Run("MalformedNumber", func(t *testing.T) {
		tokens := collect(t, "12a")
		last := tokens[len(tokens)-1]
		if last.Type != TokenError {
			t.Fatalf("got %v, want error token", last)
		}
	})
}

func TestTokenizeString(t *testing.T) {
	tokens := collect(t, `"hello world"`)
	if tokens[0].Type != TokenString || tokens[0].Text != "hello world" {
		t.Fatalf("got %v", tokens[0])
	}

	unterminated := collect(t, `"no end`)
	last := unterminated[len(unterminated)-1]
	if last.Type != TokenError {
		t.Fatalf("unterminated string: got %v, want error token", last)
	}
}

func TestTokenizeQuote(t *testing.T) {
	tokens := collect(t, "'(a)")
	want := []TokenType{TokenQuote, TokenLParen, TokenSymbol, TokenRParen, TokenEOF}
	for i, tt := range want {
		if tokens[i].Type != tt {
			t.Fatalf("token %d = %v, want %v", i, tokens[i], tt)
		}
	}
}

func TestSymbolsMayContainDigits(t *testing.T) {
	tokens := collect(t, "x12 ")
	if tokens[0].Type != TokenSymbol || tokens[0].Text != "x12" {
		t.Fatalf("got %v", tokens[0])
	}
}

func TestLineTracking(t *testing.T) {
	tokens := collect(t, "a\nb\nc")
	lines := []int{1, 2, 3}
	for i, want := range lines {
		if tokens[i].Line != want {
			t.Errorf("token %d on line %d, want %d", i, tokens[i].Line, want)
		}
	}
}

func TestErrorCharacter(t *testing.T) {
	tokens := collect(t, "#")
	if tokens[0].Type != TokenError || tokens[0].Text != "#" {
		t.Fatalf("got %v", tokens[0])
	}
}

func TestEmptyInput(t *testing.T) {
	tokens := collect(t, "")
	if len(tokens) != 1 || tokens[0].Type != TokenEOF {
		t.Fatalf("got %v", tokens)
	}
}
