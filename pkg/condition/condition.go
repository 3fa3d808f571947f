// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package condition evaluates the boolean edge conditions of graph
// patterns. Condition text is template-rendered first, so `{{ }}` references
// collapse into literal values; the rendered expression is then evaluated by
// a closed parser supporting comparisons, and/or/not, membership, numeric
// and string literals, and a short whitelist of string methods. There is no
// function call surface beyond that whitelist.
package condition

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/teradata-labs/weft/pkg/template"
)

// Error is a failed condition evaluation. The graph executor treats any
// Error as fatal for the run.
type Error struct {
	Expr   string
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("condition %q failed: %s", e.Expr, e.Detail)
}

// stringMethods is the closed whitelist of methods callable on string
// values. Anything else is rejected at parse time.
var stringMethods = map[string]bool{
	"lower":      true,
	"upper":      true,
	"startswith": true,
	"endswith":   true,
	"contains":   true,
}

// Evaluate renders expr against ctx and evaluates the result as a boolean.
// The literal expression "else" always evaluates true, so graph specs can
// declare an explicit fall-through edge.
func Evaluate(expr string, ctx template.Context) (bool, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" || trimmed == "else" {
		return true, nil
	}

	rendered, err := template.Render(trimmed, ctx)
	if err != nil {
		return false, &Error{Expr: expr, Detail: err.Error()}
	}
	rendered = strings.TrimSpace(rendered)
	if rendered == "else" {
		return true, nil
	}

	toks, lerr := lex(rendered)
	if lerr != nil {
		return false, &Error{Expr: expr, Detail: lerr.Error()}
	}
	p := &parser{toks: toks}
	v, perr := p.parseOr()
	if perr != nil {
		return false, &Error{Expr: expr, Detail: perr.Error()}
	}
	if p.peek().kind != kindEOF {
		return false, &Error{Expr: expr, Detail: fmt.Sprintf("unexpected trailing token %q", p.peek().text)}
	}
	return truthy(v), nil
}

type tokenKind int

const (
	kindEOF tokenKind = iota
	kindWord
	kindNumber
	kindString
	kindOp
)

type token struct {
	kind tokenKind
	text string
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case unicode.IsLetter(rune(c)) || c == '_':
			start := i
			for i < len(src) && (unicode.IsLetter(rune(src[i])) || unicode.IsDigit(rune(src[i])) || src[i] == '_') {
				i++
			}
			toks = append(toks, token{kindWord, src[start:i]})
		case unicode.IsDigit(rune(c)):
			start := i
			for i < len(src) && (unicode.IsDigit(rune(src[i])) || src[i] == '.') {
				i++
			}
			toks = append(toks, token{kindNumber, src[start:i]})
		case c == '\'' || c == '"':
			quote := c
			i++
			start := i
			for i < len(src) && src[i] != quote {
				i++
			}
			if i >= len(src) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			toks = append(toks, token{kindString, src[start:i]})
			i++
		case strings.HasPrefix(src[i:], "==") || strings.HasPrefix(src[i:], "!=") ||
			strings.HasPrefix(src[i:], "<=") || strings.HasPrefix(src[i:], ">="):
			toks = append(toks, token{kindOp, src[i : i+2]})
			i += 2
		case strings.ContainsRune("<>().,", rune(c)):
			toks = append(toks, token{kindOp, string(c)})
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q", c)
		}
	}
	toks = append(toks, token{kindEOF, ""})
	return toks, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != kindEOF {
		p.pos++
	}
	return t
}

func (p *parser) acceptOp(text string) bool {
	if t := p.peek(); t.kind == kindOp && t.text == text {
		p.next()
		return true
	}
	return false
}

func (p *parser) acceptWord(text string) bool {
	if t := p.peek(); t.kind == kindWord && t.text == text {
		p.next()
		return true
	}
	return false
}

func (p *parser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptWord("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = truthy(left) || truthy(right)
	}
	return left, nil
}

func (p *parser) parseAnd() (any, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.acceptWord("and") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = truthy(left) && truthy(right)
	}
	return left, nil
}

func (p *parser) parseNot() (any, error) {
	if p.acceptWord("not") {
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return !truthy(inner), nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (any, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind == kindOp && isCompareOp(t.text) {
		p.next()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return compare(t.text, left, right)
	}
	if t.kind == kindWord && t.text == "in" {
		p.next()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		ls, lok := left.(string)
		rs, rok := right.(string)
		if !lok || !rok {
			return nil, fmt.Errorf("'in' requires string operands")
		}
		return strings.Contains(rs, ls), nil
	}
	if t.kind == kindWord && t.text == "not" {
		// x not in y
		save := p.pos
		p.next()
		if p.acceptWord("in") {
			right, err := p.parsePrimary()
			if err != nil {
				return nil, err
			}
			ls, lok := left.(string)
			rs, rok := right.(string)
			if !lok || !rok {
				return nil, fmt.Errorf("'not in' requires string operands")
			}
			return !strings.Contains(rs, ls), nil
		}
		p.pos = save
	}
	return left, nil
}

// parsePrimary parses a literal, a parenthesized expression, or either
// followed by a chain of whitelisted string-method calls.
func (p *parser) parsePrimary() (any, error) {
	var v any
	t := p.peek()
	switch {
	case t.kind == kindNumber:
		p.next()
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", t.text)
		}
		v = f

	case t.kind == kindString:
		p.next()
		v = t.text

	case t.kind == kindWord && (t.text == "true" || t.text == "True"):
		p.next()
		v = true

	case t.kind == kindWord && (t.text == "false" || t.text == "False"):
		p.next()
		v = false

	case t.kind == kindWord:
		// A bare word in rendered text is a string value: template
		// substitution strips quoting, so `{{ x }} == 'done'` renders to
		// `done == 'done'`.
		p.next()
		v = t.text

	case t.kind == kindOp && t.text == "(":
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.acceptOp(")") {
			return nil, fmt.Errorf("missing closing ')'")
		}
		v = inner

	default:
		return nil, fmt.Errorf("unexpected token %q", t.text)
	}

	for p.acceptOp(".") {
		name := p.next()
		if name.kind != kindWord {
			return nil, fmt.Errorf("expected method name after '.', got %q", name.text)
		}
		if !stringMethods[name.text] {
			return nil, fmt.Errorf("method %q is not whitelisted", name.text)
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("method .%s requires a string receiver, got %T", name.text, v)
		}
		var args []string
		if !p.acceptOp("(") {
			return nil, fmt.Errorf("method .%s requires call parentheses", name.text)
		}
		for !p.acceptOp(")") {
			arg, err := p.parsePrimary()
			if err != nil {
				return nil, err
			}
			as, ok := arg.(string)
			if !ok {
				return nil, fmt.Errorf("method .%s arguments must be strings", name.text)
			}
			args = append(args, as)
			if !p.acceptOp(",") && p.peek().text != ")" {
				return nil, fmt.Errorf("expected ',' or ')' in method arguments")
			}
		}
		out, err := callMethod(s, name.text, args)
		if err != nil {
			return nil, err
		}
		v = out
	}
	return v, nil
}

func callMethod(recv, name string, args []string) (any, error) {
	switch name {
	case "lower":
		if len(args) != 0 {
			return nil, fmt.Errorf("lower takes no arguments")
		}
		return strings.ToLower(recv), nil
	case "upper":
		if len(args) != 0 {
			return nil, fmt.Errorf("upper takes no arguments")
		}
		return strings.ToUpper(recv), nil
	case "startswith":
		if len(args) != 1 {
			return nil, fmt.Errorf("startswith takes one argument")
		}
		return strings.HasPrefix(recv, args[0]), nil
	case "endswith":
		if len(args) != 1 {
			return nil, fmt.Errorf("endswith takes one argument")
		}
		return strings.HasSuffix(recv, args[0]), nil
	case "contains":
		if len(args) != 1 {
			return nil, fmt.Errorf("contains takes one argument")
		}
		return strings.Contains(recv, args[0]), nil
	}
	return nil, fmt.Errorf("method %q is not whitelisted", name)
}

func isCompareOp(op string) bool {
	switch op {
	case "==", "!=", "<", "<=", ">", ">=":
		return true
	}
	return false
}

func compare(op string, left, right any) (bool, error) {
	if lf, lok := toFloat(left); lok {
		if rf, rok := toFloat(right); rok {
			switch op {
			case "==":
				return lf == rf, nil
			case "!=":
				return lf != rf, nil
			case "<":
				return lf < rf, nil
			case "<=":
				return lf <= rf, nil
			case ">":
				return lf > rf, nil
			case ">=":
				return lf >= rf, nil
			}
		}
	}
	switch op {
	case "==":
		return equal(left, right), nil
	case "!=":
		return !equal(left, right), nil
	}
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		switch op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}
	return false, fmt.Errorf("cannot order %T %s %T", left, op, right)
}

func equal(a, b any) bool {
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ab == bb
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as == bs
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != "" && t != "false" && t != "False"
	}
	return v != nil
}
