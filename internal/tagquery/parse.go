package tagquery

import (
	"fmt"

	"github.com/1mcp-ai/1mcp/internal/errs"
)

// Parse accepts any of the three equivalent surface syntaxes SPEC_FULL.md
// §4.7 describes and returns the normalized AST. A comma-only expression
// with no other operators still round-trips correctly since ',' already
// tokenizes as OR — "simple form" needs no separate code path.
func Parse(input string) (Node, error) {
	p, err := buildGrammar()
	if err != nil {
		return nil, fmt.Errorf("tagquery: grammar build: %w", err)
	}

	tree, err := p.ParseString("", input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}

	return fromOr(tree), nil
}

func fromOr(e *orExpr) Node {
	children := make([]Node, 0, 1+len(e.Rest))
	children = append(children, fromAnd(e.Left))
	for _, r := range e.Rest {
		children = append(children, fromAnd(r))
	}
	if len(children) == 1 {
		return children[0]
	}
	return Or{Children: children}
}

func fromAnd(e *andExpr) Node {
	children := make([]Node, 0, 1+len(e.Rest))
	children = append(children, fromNot(e.Left))
	for _, r := range e.Rest {
		children = append(children, fromNot(r))
	}
	if len(children) == 1 {
		return children[0]
	}
	return And{Children: children}
}

func fromNot(e *notExpr) Node {
	child := fromAtom(e.Atom)
	if e.Negated {
		return Not{Child: child}
	}
	return child
}

func fromAtom(a *atom) Node {
	if a.Tag != nil {
		return Tag{Name: *a.Tag}
	}
	return fromOr(a.Group)
}
