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
	"context"
	"fmt"
	"math"
	"sort"
)

// =============================================================================
// Values
// =============================================================================

type valueKind int

const (
	numberValue valueKind = iota
	boolValue
)

func (k valueKind) String() string {
	if k == boolValue {
		return "boolean"
	}
	return "number"
}

// value is the tagged result of evaluating a subexpression. The interpreter
// has exactly two kinds: numbers and booleans.
type value struct {
	kind  valueKind
	num   float64
	truth bool
}

func numberOf(v float64) value {
	return value{kind: numberValue, num: v}
}

func boolOf(b bool) value {
	return value{kind: boolValue, truth: b}
}

// =============================================================================
// Interpreter
// =============================================================================

// stepCheckInterval controls how often the interpreter polls the context
// deadline. Every node evaluation counts as one step.
const stepCheckInterval = 256

// interpreter walks the AST against a frozen variable snapshot. It holds no
// mutable environment: there is no assignment form in the grammar, so the
// snapshot cannot change during evaluation.
type interpreter struct {
	ctx   context.Context
	env   *snapshot
	steps int64
}

// eval evaluates one node, polling the deadline on a fixed step interval so
// a long evaluation is preempted promptly when the sandbox times out.
func (it *interpreter) eval(node exprNode) (value, error) {
	it.steps++
	if it.steps%stepCheckInterval == 0 {
		if err := it.ctx.Err(); err != nil {
			return value{}, err
		}
	}

	switch n := node.(type) {
	case numberLit:
		return numberOf(n.value), nil

	case boolLit:
		return boolOf(n.value), nil

	case identRef:
		return it.lookup(n)

	case callExpr:
		return it.call(n)

	case unaryExpr:
		return it.evalUnary(n)

	case binaryExpr:
		return it.evalBinary(n)
	}

	return value{}, fmt.Errorf("internal: unknown expression node %T", node)
}

func (it *interpreter) lookup(ref identRef) (value, error) {
	if v, ok := it.env.numbers[ref.name]; ok {
		return numberOf(v), nil
	}
	if b, ok := it.env.bools[ref.name]; ok {
		return boolOf(b), nil
	}
	return value{}, fmt.Errorf("unknown identifier %q at position %d (known: %s)",
		ref.name, ref.pos, it.env.describeKeys())
}

func (it *interpreter) call(c callExpr) (value, error) {
	args := make([]value, 0, len(c.args))
	for _, argNode := range c.args {
		v, err := it.eval(argNode)
		if err != nil {
			return value{}, err
		}
		args = append(args, v)
	}

	switch c.fn {
	case "min":
		return foldNumeric(c, args, math.Min)
	case "max":
		return foldNumeric(c, args, math.Max)
	case "abs":
		if len(args) != 1 {
			return value{}, fmt.Errorf("abs expects 1 argument, got %d (position %d)", len(args), c.pos)
		}
		if args[0].kind != numberValue {
			return value{}, fmt.Errorf("abs expects a number, got %s (position %d)", args[0].kind, c.pos)
		}
		return numberOf(math.Abs(args[0].num)), nil
	}

	return value{}, fmt.Errorf("unknown function %q at position %d (allowed: abs, max, min)", c.fn, c.pos)
}

// foldNumeric reduces min/max over one or more numeric arguments.
func foldNumeric(c callExpr, args []value, combine func(float64, float64) float64) (value, error) {
	if len(args) == 0 {
		return value{}, fmt.Errorf("%s expects at least 1 argument (position %d)", c.fn, c.pos)
	}
	for i, a := range args {
		if a.kind != numberValue {
			return value{}, fmt.Errorf("%s argument %d is a %s, expected a number (position %d)",
				c.fn, i+1, a.kind, c.pos)
		}
	}
	acc := args[0].num
	for _, a := range args[1:] {
		acc = combine(acc, a.num)
	}
	return numberOf(acc), nil
}

func (it *interpreter) evalUnary(u unaryExpr) (value, error) {
	operand, err := it.eval(u.operand)
	if err != nil {
		return value{}, err
	}

	switch u.op {
	case tokenMinus:
		if operand.kind != numberValue {
			return value{}, fmt.Errorf("unary '-' needs a number, got %s (position %d)", operand.kind, u.pos)
		}
		return numberOf(-operand.num), nil

	case tokenNot:
		if operand.kind != boolValue {
			return value{}, fmt.Errorf("'!' needs a boolean, got %s (position %d)", operand.kind, u.pos)
		}
		return boolOf(!operand.truth), nil
	}

	return value{}, fmt.Errorf("internal: unknown unary operator %s", u.op)
}

func (it *interpreter) evalBinary(b binaryExpr) (value, error) {
	// Logical operators short-circuit; everything else is strict.
	switch b.op {
	case tokenAnd, tokenOr:
		return it.evalLogical(b)
	}

	left, err := it.eval(b.left)
	if err != nil {
		return value{}, err
	}
	right, err := it.eval(b.right)
	if err != nil {
		return value{}, err
	}

	switch b.op {
	case tokenPlus, tokenMinus, tokenStar, tokenSlash, tokenPercent:
		return evalArithmetic(b, left, right)
	case tokenEq, tokenNeq:
		return evalEquality(b, left, right)
	case tokenLt, tokenLte, tokenGt, tokenGte:
		return evalOrdering(b, left, right)
	}

	return value{}, fmt.Errorf("internal: unknown binary operator %s", b.op)
}

func (it *interpreter) evalLogical(b binaryExpr) (value, error) {
	left, err := it.eval(b.left)
	if err != nil {
		return value{}, err
	}
	if left.kind != boolValue {
		return value{}, fmt.Errorf("%s needs boolean operands, got %s (position %d)", b.op, left.kind, b.pos)
	}

	if b.op == tokenAnd && !left.truth {
		return boolOf(false), nil
	}
	if b.op == tokenOr && left.truth {
		return boolOf(true), nil
	}

	right, err := it.eval(b.right)
	if err != nil {
		return value{}, err
	}
	if right.kind != boolValue {
		return value{}, fmt.Errorf("%s needs boolean operands, got %s (position %d)", b.op, right.kind, b.pos)
	}
	return boolOf(right.truth), nil
}

func evalArithmetic(b binaryExpr, left, right value) (value, error) {
	if left.kind != numberValue || right.kind != numberValue {
		return value{}, fmt.Errorf("%s needs numeric operands, got %s and %s (position %d)",
			b.op, left.kind, right.kind, b.pos)
	}

	switch b.op {
	case tokenPlus:
		return numberOf(left.num + right.num), nil
	case tokenMinus:
		return numberOf(left.num - right.num), nil
	case tokenStar:
		return numberOf(left.num * right.num), nil
	case tokenSlash:
		if right.num == 0 {
			return value{}, fmt.Errorf("division by zero at position %d", b.pos)
		}
		return numberOf(left.num / right.num), nil
	case tokenPercent:
		if right.num == 0 {
			return value{}, fmt.Errorf("modulo by zero at position %d", b.pos)
		}
		return numberOf(math.Mod(left.num, right.num)), nil
	}

	return value{}, fmt.Errorf("internal: unknown arithmetic operator %s", b.op)
}

func evalEquality(b binaryExpr, left, right value) (value, error) {
	if left.kind != right.kind {
		return value{}, fmt.Errorf("cannot compare %s with %s (position %d)", left.kind, right.kind, b.pos)
	}

	var equal bool
	if left.kind == numberValue {
		equal = left.num == right.num
	} else {
		equal = left.truth == right.truth
	}

	if b.op == tokenNeq {
		equal = !equal
	}
	return boolOf(equal), nil
}

func evalOrdering(b binaryExpr, left, right value) (value, error) {
	if left.kind != numberValue || right.kind != numberValue {
		return value{}, fmt.Errorf("%s needs numeric operands, got %s and %s (position %d)",
			b.op, left.kind, right.kind, b.pos)
	}

	var result bool
	switch b.op {
	case tokenLt:
		result = left.num < right.num
	case tokenLte:
		result = left.num <= right.num
	case tokenGt:
		result = left.num > right.num
	case tokenGte:
		result = left.num >= right.num
	}
	return boolOf(result), nil
}

// =============================================================================
// Frozen Snapshot
// =============================================================================

// snapshot is the frozen variable environment for one evaluation. It is
// built by deep-copying the caller's data before evaluation starts, and the
// interpreter only ever reads it.
type snapshot struct {
	numbers map[string]float64
	bools   map[string]bool
}

// describeKeys lists the available identifiers, sorted, for error messages.
func (s *snapshot) describeKeys() string {
	keys := make([]string, 0, len(s.numbers)+len(s.bools))
	for k := range s.numbers {
		keys = append(keys, k)
	}
	for k := range s.bools {
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return "none"
	}
	sort.Strings(keys)

	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ", "
		}
		out += k
	}
	return out
}
