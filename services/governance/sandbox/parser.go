// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import (
	"fmt"
	"strconv"
)

// =============================================================================
// AST
// =============================================================================

// exprNode is a node of the parsed expression tree.
type exprNode interface {
	isExpr()
}

type numberLit struct {
	value float64
}

type boolLit struct {
	value bool
}

// identRef reads a variable from the frozen snapshot by its dotted path.
type identRef struct {
	name string
	pos  int
}

// callExpr invokes one of the pure helper functions (min, max, abs).
type callExpr struct {
	fn   string
	args []exprNode
	pos  int
}

type unaryExpr struct {
	op      tokenKind
	operand exprNode
	pos     int
}

type binaryExpr struct {
	op    tokenKind
	left  exprNode
	right exprNode
	pos   int
}

func (numberLit) isExpr()  {}
func (boolLit) isExpr()    {}
func (identRef) isExpr()   {}
func (callExpr) isExpr()   {}
func (unaryExpr) isExpr()  {}
func (binaryExpr) isExpr() {}

// =============================================================================
// Parser
// =============================================================================

// maxParseDepth bounds expression nesting so a pathological input cannot
// exhaust the goroutine stack.
const maxParseDepth = 200

// parser is a recursive-descent parser over the lexed token stream.
//
// Grammar, loosest to tightest binding:
//
//	expr       = and ( "||" and )*
//	and        = cmp ( "&&" cmp )*
//	cmp        = add [ ( "==" | "!=" | "<" | "<=" | ">" | ">=" ) add ]
//	add        = mul ( ( "+" | "-" ) mul )*
//	mul        = unary ( ( "*" | "/" | "%" ) unary )*
//	unary      = ( "-" | "!" ) unary | primary
//	primary    = NUMBER | BOOL | IDENT [ "(" args ")" ] | "(" expr ")"
//	args       = expr ( "," expr )*
//
// Comparison is non-associative: "a < b < c" is a parse error rather than a
// silently surprising chain.
type parser struct {
	tokens []token
	pos    int
	depth  int
}

// parse lexes and parses a full expression, requiring that all input is
// consumed.
func parse(input string) (exprNode, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	if tok := p.peek(); tok.kind != tokenEOF {
		return nil, fmt.Errorf("unexpected %s at position %d", tok.kind, tok.pos)
	}
	return node, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokenEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind tokenKind) (token, error) {
	tok := p.peek()
	if tok.kind != kind {
		return token{}, fmt.Errorf("expected %s but found %s at position %d", kind, tok.kind, tok.pos)
	}
	return p.next(), nil
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxParseDepth {
		return fmt.Errorf("expression nesting exceeds %d levels", maxParseDepth)
	}
	return nil
}

func (p *parser) leave() {
	p.depth--
}

func (p *parser) parseOr() (exprNode, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokenOr {
		op := p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binaryExpr{op: tokenOr, left: left, right: right, pos: op.pos}
	}
	return left, nil
}

func (p *parser) parseAnd() (exprNode, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokenAnd {
		op := p.next()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = binaryExpr{op: tokenAnd, left: left, right: right, pos: op.pos}
	}
	return left, nil
}

func (p *parser) parseComparison() (exprNode, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	switch p.peek().kind {
	case tokenEq, tokenNeq, tokenLt, tokenLte, tokenGt, tokenGte:
		op := p.next()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		if k := p.peek().kind; k == tokenEq || k == tokenNeq || k == tokenLt ||
			k == tokenLte || k == tokenGt || k == tokenGte {
			return nil, fmt.Errorf("chained comparison at position %d; use '&&' to combine comparisons", p.peek().pos)
		}
		return binaryExpr{op: op.kind, left: left, right: right, pos: op.pos}, nil
	}
	return left, nil
}

func (p *parser) parseAdditive() (exprNode, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		k := p.peek().kind
		if k != tokenPlus && k != tokenMinus {
			return left, nil
		}
		op := p.next()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = binaryExpr{op: op.kind, left: left, right: right, pos: op.pos}
	}
}

func (p *parser) parseMultiplicative() (exprNode, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		k := p.peek().kind
		if k != tokenStar && k != tokenSlash && k != tokenPercent {
			return left, nil
		}
		op := p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binaryExpr{op: op.kind, left: left, right: right, pos: op.pos}
	}
}

func (p *parser) parseUnary() (exprNode, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	switch p.peek().kind {
	case tokenMinus, tokenNot:
		op := p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryExpr{op: op.kind, operand: operand, pos: op.pos}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (exprNode, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	tok := p.peek()
	switch tok.kind {
	case tokenNumber:
		p.next()
		v, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at position %d", tok.text, tok.pos)
		}
		return numberLit{value: v}, nil

	case tokenBool:
		p.next()
		return boolLit{value: tok.text == "true"}, nil

	case tokenIdent:
		p.next()
		if p.peek().kind == tokenLParen {
			return p.parseCall(tok)
		}
		return identRef{name: tok.text, pos: tok.pos}, nil

	case tokenLParen:
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenRParen); err != nil {
			return nil, err
		}
		return inner, nil
	}

	return nil, fmt.Errorf("expected a value but found %s at position %d", tok.kind, tok.pos)
}

func (p *parser) parseCall(fn token) (exprNode, error) {
	if _, err := p.expect(tokenLParen); err != nil {
		return nil, err
	}

	var args []exprNode
	if p.peek().kind != tokenRParen {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind != tokenComma {
				break
			}
			p.next()
		}
	}

	if _, err := p.expect(tokenRParen); err != nil {
		return nil, err
	}
	return callExpr{fn: fn.text, args: args, pos: fn.pos}, nil
}
