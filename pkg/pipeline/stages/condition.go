package stages

import (
	"fmt"
	"regexp"
	"strings"
)

// Condition is a compiled `when` guard expression.
//
// Supported grammar:
//
//	<expr>  ::= <or>
//	<or>    ::= <and> ( "||" <and> )*
//	<and>   ::= <atom> ( "&&" <atom> )*
//	<atom>  ::= "!" <atom> | "(" <expr> ")" | <key> <op> <value> | <key>
//	<op>    ::= "==" | "!=" | "~="
//	<key>   ::= alphanumeric + _ + .
//	<value> ::= single-quoted | double-quoted | bare word
//
// The key "input" names the whole input value; any other key, optionally
// prefixed with "input.", is looked up by dotted path in map input. "~="
// matches the value as a regular expression. A bare key is truthy if it
// exists and is non-empty.
type Condition struct {
	src  string
	eval func(input any) bool
}

// CompileCondition parses expr once so it can be evaluated per input.
func CompileCondition(expr string) (*Condition, error) {
	p := &condParser{input: strings.TrimSpace(expr)}
	fn, err := p.parseOr()
	if err == nil {
		p.skipWS()
		if p.pos < len(p.input) {
			err = fmt.Errorf("unexpected %q at pos %d", p.input[p.pos:], p.pos)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("condition %q: %w", expr, err)
	}
	return &Condition{src: expr, eval: fn}, nil
}

// Eval reports whether input satisfies the condition.
func (c *Condition) Eval(input any) bool { return c.eval(input) }

func (c *Condition) String() string { return c.src }

type predicate = func(input any) bool

type condParser struct {
	input string
	pos   int
}

func (p *condParser) peek() string {
	if p.pos >= len(p.input) {
		return ""
	}
	return p.input[p.pos:]
}

func (p *condParser) skipWS() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *condParser) parseOr() (predicate, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		p.skipWS()
		if !strings.HasPrefix(p.peek(), "||") {
			return left, nil
		}
		p.pos += 2
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l := left
		left = func(in any) bool { return l(in) || right(in) }
	}
}

func (p *condParser) parseAnd() (predicate, error) {
	left, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	for {
		p.skipWS()
		if !strings.HasPrefix(p.peek(), "&&") {
			return left, nil
		}
		p.pos += 2
		right, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		l := left
		left = func(in any) bool { return l(in) && right(in) }
	}
}

func (p *condParser) parseAtom() (predicate, error) {
	p.skipWS()
	if p.pos >= len(p.input) {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	if p.input[p.pos] == '!' && !strings.HasPrefix(p.peek(), "!=") {
		p.pos++
		inner, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		return func(in any) bool { return !inner(in) }, nil
	}
	if p.input[p.pos] == '(' {
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		p.skipWS()
		if p.pos >= len(p.input) || p.input[p.pos] != ')' {
			return nil, fmt.Errorf("expected ')'")
		}
		p.pos++
		return inner, nil
	}

	key := p.parseKey()
	if key == "" {
		return nil, fmt.Errorf("expected identifier at pos %d in %q", p.pos, p.input)
	}
	p.skipWS()
	rest := p.peek()
	switch {
	case strings.HasPrefix(rest, "=="), strings.HasPrefix(rest, "!="):
		negate := rest[0] == '!'
		p.pos += 2
		p.skipWS()
		want := p.parseValue()
		return func(in any) bool {
			v, _ := lookup(in, key)
			return (asString(v) == want) != negate
		}, nil
	case strings.HasPrefix(rest, "~="):
		p.pos += 2
		p.skipWS()
		re, err := regexp.Compile(p.parseValue())
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		return func(in any) bool {
			v, ok := lookup(in, key)
			return ok && re.MatchString(asString(v))
		}, nil
	}
	return func(in any) bool {
		v, ok := lookup(in, key)
		return ok && asString(v) != ""
	}, nil
}

func (p *condParser) parseKey() string {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '_' || c == '.' {
			p.pos++
		} else {
			break
		}
	}
	return p.input[start:p.pos]
}

func (p *condParser) parseValue() string {
	if p.pos >= len(p.input) {
		return ""
	}
	quote := p.input[p.pos]
	if quote == '\'' || quote == '"' {
		p.pos++
		start := p.pos
		for p.pos < len(p.input) && p.input[p.pos] != quote {
			p.pos++
		}
		val := p.input[start:p.pos]
		if p.pos < len(p.input) {
			p.pos++ // closing quote
		}
		return val
	}
	return p.parseKey()
}

// lookup resolves a dotted key against the input value.
func lookup(input any, key string) (any, bool) {
	if key == "input" {
		return input, input != nil
	}
	key = strings.TrimPrefix(key, "input.")
	cur := input
	for _, seg := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[seg]; !ok {
			return nil, false
		}
	}
	return cur, true
}
