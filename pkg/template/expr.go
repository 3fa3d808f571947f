// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package template

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"
)

// undefined is the sentinel carried through a filter pipeline when a path
// does not resolve. The default(v) filter absorbs it; anything else surfaces
// a strict-undefined error.
type undefinedVal struct {
	name string
}

// exprToken kinds.
type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokNumber
	tokString
	tokOp     // == != <= >= < > ( ) [ ] . , |
	tokKeyword // and or not in true false
)

type exprToken struct {
	kind tokKind
	text string
	pos  int
}

var exprKeywords = map[string]bool{
	"and": true, "or": true, "not": true, "in": true, "true": true, "false": true,
}

// lexExpr tokenizes one expression.
func lexExpr(src string) ([]exprToken, error) {
	var toks []exprToken
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
			word := src[start:i]
			kind := tokIdent
			if exprKeywords[word] {
				kind = tokKeyword
			}
			toks = append(toks, exprToken{kind, word, start})
		case unicode.IsDigit(rune(c)) || (c == '-' && i+1 < len(src) && unicode.IsDigit(rune(src[i+1])) && expectsValue(toks)):
			start := i
			i++
			for i < len(src) && (unicode.IsDigit(rune(src[i])) || src[i] == '.') {
				i++
			}
			toks = append(toks, exprToken{tokNumber, src[start:i], start})
		case c == '\'' || c == '"':
			quote := c
			start := i
			i++
			var sb strings.Builder
			for i < len(src) && src[i] != quote {
				if src[i] == '\\' && i+1 < len(src) {
					i++
				}
				sb.WriteByte(src[i])
				i++
			}
			if i >= len(src) {
				return nil, fmt.Errorf("unterminated string at offset %d", start)
			}
			i++ // closing quote
			toks = append(toks, exprToken{tokString, sb.String(), start})
		case strings.HasPrefix(src[i:], "==") || strings.HasPrefix(src[i:], "!=") ||
			strings.HasPrefix(src[i:], "<=") || strings.HasPrefix(src[i:], ">="):
			toks = append(toks, exprToken{tokOp, src[i : i+2], i})
			i += 2
		case strings.ContainsRune("<>()[].,|", rune(c)):
			toks = append(toks, exprToken{tokOp, string(c), i})
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
		}
	}
	toks = append(toks, exprToken{tokEOF, "", len(src)})
	return toks, nil
}

// expectsValue reports whether a '-' at the current position starts a
// negative literal rather than a binary operator.
func expectsValue(toks []exprToken) bool {
	if len(toks) == 0 {
		return true
	}
	last := toks[len(toks)-1]
	return last.kind == tokOp || last.kind == tokKeyword
}

// exprNode is the closed expression AST.
type exprNode interface{}

type litNode struct{ val any }

type pathNode struct {
	root     string
	segments []pathSeg // applied left to right
}

type pathSeg struct {
	attr  string   // set for .name access
	index exprNode // set for [expr] access
}

type filterNode struct {
	input exprNode
	name  string
	args  []exprNode
}

type binaryNode struct {
	op          string // == != < <= > >= in and or
	left, right exprNode
}

type notNode struct{ inner exprNode }

// exprParser is a recursive-descent parser over the token stream.
type exprParser struct {
	toks []exprToken
	pos  int
}

func parseExpr(src string) (exprNode, error) {
	toks, err := lexExpr(src)
	if err != nil {
		return nil, err
	}
	p := &exprParser{toks: toks}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("unexpected trailing token %q", p.peek().text)
	}
	return node, nil
}

func (p *exprParser) peek() exprToken { return p.toks[p.pos] }

func (p *exprParser) next() exprToken {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *exprParser) accept(kind tokKind, text string) bool {
	t := p.peek()
	if t.kind == kind && t.text == text {
		p.next()
		return true
	}
	return false
}

func (p *exprParser) parseOr() (exprNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept(tokKeyword, "or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseAnd() (exprNode, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.accept(tokKeyword, "and") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseNot() (exprNode, error) {
	if p.accept(tokKeyword, "not") {
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notNode{inner: inner}, nil
	}
	return p.parseComparison()
}

func (p *exprParser) parseComparison() (exprNode, error) {
	left, err := p.parsePipeline()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind == tokOp && (t.text == "==" || t.text == "!=" || t.text == "<" || t.text == "<=" || t.text == ">" || t.text == ">=") {
		p.next()
		right, err := p.parsePipeline()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: t.text, left: left, right: right}, nil
	}
	if t.kind == tokKeyword && t.text == "in" {
		p.next()
		right, err := p.parsePipeline()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: "in", left: left, right: right}, nil
	}
	return left, nil
}

func (p *exprParser) parsePipeline() (exprNode, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.accept(tokOp, "|") {
		name := p.next()
		if name.kind != tokIdent {
			return nil, fmt.Errorf("expected filter name after '|', got %q", name.text)
		}
		var args []exprNode
		if p.accept(tokOp, "(") {
			for !p.accept(tokOp, ")") {
				arg, err := p.parsePrimary()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if !p.accept(tokOp, ",") && p.peek().text != ")" {
					return nil, fmt.Errorf("expected ',' or ')' in filter arguments")
				}
			}
		}
		left = &filterNode{input: left, name: name.text, args: args}
	}
	return left, nil
}

func (p *exprParser) parsePrimary() (exprNode, error) {
	t := p.peek()
	switch {
	case t.kind == tokNumber:
		p.next()
		if strings.Contains(t.text, ".") {
			f, err := strconv.ParseFloat(t.text, 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %q", t.text)
			}
			return &litNode{val: f}, nil
		}
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", t.text)
		}
		return &litNode{val: n}, nil

	case t.kind == tokString:
		p.next()
		return &litNode{val: t.text}, nil

	case t.kind == tokKeyword && (t.text == "true" || t.text == "false"):
		p.next()
		return &litNode{val: t.text == "true"}, nil

	case t.kind == tokOp && t.text == "(":
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.accept(tokOp, ")") {
			return nil, fmt.Errorf("missing closing ')'")
		}
		return inner, nil

	case t.kind == tokIdent:
		p.next()
		node := &pathNode{root: t.text}
		for {
			if p.accept(tokOp, ".") {
				attr := p.next()
				if attr.kind != tokIdent {
					return nil, fmt.Errorf("expected attribute name after '.', got %q", attr.text)
				}
				node.segments = append(node.segments, pathSeg{attr: attr.text})
			} else if p.accept(tokOp, "[") {
				idx, err := p.parseOr()
				if err != nil {
					return nil, err
				}
				if !p.accept(tokOp, "]") {
					return nil, fmt.Errorf("missing closing ']'")
				}
				node.segments = append(node.segments, pathSeg{index: idx})
			} else {
				break
			}
		}
		return node, nil
	}
	return nil, fmt.Errorf("unexpected token %q", t.text)
}

// evalExpr evaluates an expression against the context. Undefined paths
// surface as undefinedVal so that a downstream default() filter can absorb
// them; callers that need a concrete value use resolveDefined.
func evalExpr(node exprNode, ctx Context) (any, *Error) {
	switch n := node.(type) {
	case *litNode:
		return n.val, nil

	case *pathNode:
		return evalPath(n, ctx)

	case *filterNode:
		in, err := evalExpr(n.input, ctx)
		if err != nil {
			return nil, err
		}
		args := make([]any, 0, len(n.args))
		for _, a := range n.args {
			v, err := evalExpr(a, ctx)
			if err != nil {
				return nil, err
			}
			if u, ok := v.(undefinedVal); ok {
				return nil, &Error{Kind: KindUndefined, Detail: fmt.Sprintf("undefined variable %q in filter argument", u.name)}
			}
			args = append(args, v)
		}
		return applyFilter(n.name, in, args)

	case *notNode:
		v, err := resolveDefined(n.inner, ctx)
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil

	case *binaryNode:
		return evalBinary(n, ctx)
	}
	return nil, &Error{Kind: KindSyntax, Detail: "unknown expression node"}
}

// resolveDefined evaluates node and rejects undefined results.
func resolveDefined(node exprNode, ctx Context) (any, *Error) {
	v, err := evalExpr(node, ctx)
	if err != nil {
		return nil, err
	}
	if u, ok := v.(undefinedVal); ok {
		return nil, &Error{Kind: KindUndefined, Detail: fmt.Sprintf("undefined variable %q", u.name)}
	}
	return v, nil
}

func evalPath(n *pathNode, ctx Context) (any, *Error) {
	if strings.HasPrefix(n.root, "__") {
		return nil, &Error{Kind: KindSecurityViolation, Detail: fmt.Sprintf("access to dunder name %q is forbidden", n.root)}
	}
	cur, ok := ctx[n.root]
	if !ok {
		return undefinedVal{name: n.root}, nil
	}
	ref := n.root
	for _, seg := range n.segments {
		if seg.attr != "" {
			if strings.HasPrefix(seg.attr, "__") {
				return nil, &Error{Kind: KindSecurityViolation, Detail: fmt.Sprintf("access to dunder attribute %q is forbidden", seg.attr)}
			}
			next, ok := attrLookup(cur, seg.attr)
			if !ok {
				return undefinedVal{name: ref + "." + seg.attr}, nil
			}
			cur = next
			ref = ref + "." + seg.attr
			continue
		}
		idxVal, err := evalExpr(seg.index, ctx)
		if err != nil {
			return nil, err
		}
		if u, ok := idxVal.(undefinedVal); ok {
			return nil, &Error{Kind: KindUndefined, Detail: fmt.Sprintf("undefined variable %q in index expression", u.name)}
		}
		next, ok, serr := indexLookup(cur, idxVal)
		if serr != nil {
			return nil, serr
		}
		if !ok {
			return undefinedVal{name: fmt.Sprintf("%s[%v]", ref, idxVal)}, nil
		}
		cur = next
		ref = fmt.Sprintf("%s[%v]", ref, idxVal)
	}
	return cur, nil
}

// attrLookup resolves dotted access over maps.
func attrLookup(v any, name string) (any, bool) {
	switch m := v.(type) {
	case map[string]any:
		out, ok := m[name]
		return out, ok
	case map[string]string:
		out, ok := m[name]
		return out, ok
	case Context:
		out, ok := m[name]
		return out, ok
	}
	return nil, false
}

// indexLookup resolves bracket access over slices and maps.
func indexLookup(v any, idx any) (any, bool, *Error) {
	switch c := v.(type) {
	case []any:
		i, ok := toInt(idx)
		if !ok {
			return nil, false, &Error{Kind: KindSyntax, Detail: fmt.Sprintf("non-integer index %v on list", idx)}
		}
		if i < 0 || i >= len(c) {
			return nil, false, nil
		}
		return c[i], true, nil
	case []string:
		i, ok := toInt(idx)
		if !ok {
			return nil, false, &Error{Kind: KindSyntax, Detail: fmt.Sprintf("non-integer index %v on list", idx)}
		}
		if i < 0 || i >= len(c) {
			return nil, false, nil
		}
		return c[i], true, nil
	case map[string]any:
		key, ok := idx.(string)
		if !ok {
			return nil, false, &Error{Kind: KindSyntax, Detail: fmt.Sprintf("non-string key %v on map", idx)}
		}
		if strings.HasPrefix(key, "__") {
			return nil, false, &Error{Kind: KindSecurityViolation, Detail: fmt.Sprintf("access to dunder key %q is forbidden", key)}
		}
		out, ok := c[key]
		return out, ok, nil
	}
	return nil, false, nil
}

func evalBinary(n *binaryNode, ctx Context) (any, *Error) {
	// and/or short-circuit before the right side is touched.
	switch n.op {
	case "and":
		lv, err := resolveDefined(n.left, ctx)
		if err != nil {
			return nil, err
		}
		if !truthy(lv) {
			return false, nil
		}
		rv, err := resolveDefined(n.right, ctx)
		if err != nil {
			return nil, err
		}
		return truthy(rv), nil
	case "or":
		lv, err := resolveDefined(n.left, ctx)
		if err != nil {
			return nil, err
		}
		if truthy(lv) {
			return true, nil
		}
		rv, err := resolveDefined(n.right, ctx)
		if err != nil {
			return nil, err
		}
		return truthy(rv), nil
	}

	lv, err := resolveDefined(n.left, ctx)
	if err != nil {
		return nil, err
	}
	rv, err := resolveDefined(n.right, ctx)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return looseEqual(lv, rv), nil
	case "!=":
		return !looseEqual(lv, rv), nil
	case "in":
		return contains(rv, lv)
	case "<", "<=", ">", ">=":
		lf, lok := toFloat(lv)
		rf, rok := toFloat(rv)
		if !lok || !rok {
			return nil, &Error{Kind: KindSyntax, Detail: fmt.Sprintf("cannot order %T %s %T", lv, n.op, rv)}
		}
		switch n.op {
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		default:
			return lf >= rf, nil
		}
	}
	return nil, &Error{Kind: KindSyntax, Detail: fmt.Sprintf("unknown operator %q", n.op)}
}

// looseEqual compares across numeric types and otherwise falls back to
// reflect.DeepEqual.
func looseEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	return reflect.DeepEqual(a, b)
}

// contains implements the `in` operator for strings, lists, and maps.
func contains(container, item any) (bool, *Error) {
	switch c := container.(type) {
	case string:
		s, ok := item.(string)
		if !ok {
			return false, &Error{Kind: KindSyntax, Detail: "left side of 'in' must be a string when right side is a string"}
		}
		return strings.Contains(c, s), nil
	case []any:
		for _, v := range c {
			if looseEqual(v, item) {
				return true, nil
			}
		}
		return false, nil
	case []string:
		for _, v := range c {
			if looseEqual(v, item) {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		key, ok := item.(string)
		if !ok {
			return false, nil
		}
		_, exists := c[key]
		return exists, nil
	}
	return false, &Error{Kind: KindSyntax, Detail: fmt.Sprintf("'in' not supported on %T", container)}
}

// truthy follows template semantics: empty and zero are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		if f, ok := toFloat(v); ok {
			return f != 0
		}
		return true
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int32:
		return int(t), true
	case int64:
		return int(t), true
	case float64:
		if t == float64(int(t)) {
			return int(t), true
		}
	}
	return 0, false
}
