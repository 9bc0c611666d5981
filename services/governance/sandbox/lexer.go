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

import "fmt"

// =============================================================================
// Tokens
// =============================================================================

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenNumber
	tokenBool
	tokenIdent
	tokenPlus
	tokenMinus
	tokenStar
	tokenSlash
	tokenPercent
	tokenEq
	tokenNeq
	tokenLt
	tokenLte
	tokenGt
	tokenGte
	tokenAnd
	tokenOr
	tokenNot
	tokenLParen
	tokenRParen
	tokenComma
)

// String renders the token kind for error messages.
func (k tokenKind) String() string {
	switch k {
	case tokenEOF:
		return "end of expression"
	case tokenNumber:
		return "number"
	case tokenBool:
		return "boolean"
	case tokenIdent:
		return "identifier"
	case tokenPlus:
		return "'+'"
	case tokenMinus:
		return "'-'"
	case tokenStar:
		return "'*'"
	case tokenSlash:
		return "'/'"
	case tokenPercent:
		return "'%'"
	case tokenEq:
		return "'=='"
	case tokenNeq:
		return "'!='"
	case tokenLt:
		return "'<'"
	case tokenLte:
		return "'<='"
	case tokenGt:
		return "'>'"
	case tokenGte:
		return "'>='"
	case tokenAnd:
		return "'&&'"
	case tokenOr:
		return "'||'"
	case tokenNot:
		return "'!'"
	case tokenLParen:
		return "'('"
	case tokenRParen:
		return "')'"
	case tokenComma:
		return "','"
	}
	return "unknown token"
}

// token is a single lexeme with its byte offset in the source expression.
type token struct {
	kind tokenKind
	text string
	pos  int
}

// =============================================================================
// Lexer
// =============================================================================

// lex tokenizes a condition expression.
//
// The token set is deliberately closed: numbers, booleans, dotted
// identifiers, arithmetic and comparison operators, logical operators,
// parentheses, and commas. There are no string literals, no assignment, and
// no bracket or arrow forms, so expressions cannot name anything outside
// the frozen variable snapshot.
func lex(input string) ([]token, error) {
	var tokens []token
	i := 0

	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case isDigit(c):
			start := i
			for i < len(input) && isDigit(input[i]) {
				i++
			}
			if i+1 < len(input) && input[i] == '.' && isDigit(input[i+1]) {
				i++
				for i < len(input) && isDigit(input[i]) {
					i++
				}
			}
			tokens = append(tokens, token{tokenNumber, input[start:i], start})

		case isIdentStart(c):
			start := i
			for i < len(input) && isIdentPart(input[i]) {
				i++
			}
			// Dotted paths (metrics.quality_score) are one identifier.
			for i+1 < len(input) && input[i] == '.' && isIdentStart(input[i+1]) {
				i++
				for i < len(input) && isIdentPart(input[i]) {
					i++
				}
			}
			text := input[start:i]
			switch text {
			case "true", "false":
				tokens = append(tokens, token{tokenBool, text, start})
			default:
				tokens = append(tokens, token{tokenIdent, text, start})
			}

		case c == '&':
			if i+1 < len(input) && input[i+1] == '&' {
				tokens = append(tokens, token{tokenAnd, "&&", i})
				i += 2
			} else {
				return nil, fmt.Errorf("unexpected '&' at position %d (did you mean '&&'?)", i)
			}

		case c == '|':
			if i+1 < len(input) && input[i+1] == '|' {
				tokens = append(tokens, token{tokenOr, "||", i})
				i += 2
			} else {
				return nil, fmt.Errorf("unexpected '|' at position %d (did you mean '||'?)", i)
			}

		case c == '=':
			if i+1 < len(input) && input[i+1] == '=' {
				tokens = append(tokens, token{tokenEq, "==", i})
				i += 2
			} else {
				return nil, fmt.Errorf("assignment is not supported (position %d); use '==' for comparison", i)
			}

		case c == '!':
			if i+1 < len(input) && input[i+1] == '=' {
				tokens = append(tokens, token{tokenNeq, "!=", i})
				i += 2
			} else {
				tokens = append(tokens, token{tokenNot, "!", i})
				i++
			}

		case c == '<':
			if i+1 < len(input) && input[i+1] == '=' {
				tokens = append(tokens, token{tokenLte, "<=", i})
				i += 2
			} else {
				tokens = append(tokens, token{tokenLt, "<", i})
				i++
			}

		case c == '>':
			if i+1 < len(input) && input[i+1] == '=' {
				tokens = append(tokens, token{tokenGte, ">=", i})
				i += 2
			} else {
				tokens = append(tokens, token{tokenGt, ">", i})
				i++
			}

		case c == '+':
			tokens = append(tokens, token{tokenPlus, "+", i})
			i++
		case c == '-':
			tokens = append(tokens, token{tokenMinus, "-", i})
			i++
		case c == '*':
			tokens = append(tokens, token{tokenStar, "*", i})
			i++
		case c == '/':
			tokens = append(tokens, token{tokenSlash, "/", i})
			i++
		case c == '%':
			tokens = append(tokens, token{tokenPercent, "%", i})
			i++
		case c == '(':
			tokens = append(tokens, token{tokenLParen, "(", i})
			i++
		case c == ')':
			tokens = append(tokens, token{tokenRParen, ")", i})
			i++
		case c == ',':
			tokens = append(tokens, token{tokenComma, ",", i})
			i++

		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
		}
	}

	tokens = append(tokens, token{tokenEOF, "", len(input)})
	return tokens, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}
