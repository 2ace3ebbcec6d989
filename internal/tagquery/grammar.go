package tagquery

import (
	"sync"

	"github.com/alecthomas/participle/v2"
)

// Grammar mirrors SPEC_FULL.md §4.7's precedence (low to high): OR < AND <
// NOT < atom/group. Each level only recurses into the next-tighter level,
// so "a or b and c" parses as "a or (b and c)" without an explicit
// precedence-climbing table.
type orExpr struct {
	Left *andExpr   `parser:"@@"`
	Rest []*andExpr `parser:"( OR @@ )*"`
}

type andExpr struct {
	Left *notExpr   `parser:"@@"`
	Rest []*notExpr `parser:"( AND @@ )*"`
}

type notExpr struct {
	Negated bool  `parser:"( @NOT )?"`
	Atom    *atom `parser:"@@"`
}

type atom struct {
	Tag   *string `parser:"( @IDENT"`
	Group *orExpr `parser:"| LPAREN @@ RPAREN )"`
}

var (
	parserOnce sync.Once
	grammar    *participle.Parser[orExpr]
	grammarErr error
)

func buildGrammar() (*participle.Parser[orExpr], error) {
	parserOnce.Do(func() {
		grammar, grammarErr = participle.Build[orExpr](
			participle.Lexer(Definition),
			participle.UseLookahead(2),
		)
	})
	return grammar, grammarErr
}
