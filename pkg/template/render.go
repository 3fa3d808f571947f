// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package template renders the sandboxed prompt templates used throughout
// workflow specs. The language is deliberately small: `{{ expr }}`
// substitutions with a whitelisted filter pipeline, and `{% if %}` /
// `{% for %}` control blocks. There is no attribute access into Go values,
// no method calls, and no way to reach outside the provided context.
// Undefined variables are errors, never silent empty strings.
package template

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/internal/log"
)

// Context is the variable scope a template renders against. Values are
// plain data: strings, numbers, bools, []any, and nested map[string]any.
type Context map[string]any

// clone returns a shallow copy so loop bodies can shadow variables without
// mutating the caller's scope.
func (c Context) clone() Context {
	out := make(Context, len(c)+1)
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Snapshot returns a shallow copy safe to hand to concurrent readers
// while the original keeps growing. Values are shared; the context
// contract is append-only, so shared values never mutate.
func (c Context) Snapshot() Context {
	return c.clone()
}

// Render renders tmpl against ctx. Any failure returns a *Error; the
// partial output is discarded.
func Render(tmpl string, ctx Context) (string, error) {
	nodes, perr := parseTemplate(tmpl)
	if perr != nil {
		perr.Preview = preview(tmpl)
		return "", perr
	}
	var sb strings.Builder
	if rerr := renderNodes(&sb, nodes, ctx); rerr != nil {
		rerr.Preview = preview(tmpl)
		if rerr.Kind == KindSecurityViolation {
			log.Warn("template sandbox violation",
				zap.String("violation_type", string(rerr.Kind)),
				zap.String("detail", rerr.Detail),
				zap.String("template_preview", rerr.Preview))
		}
		return "", rerr
	}
	return sb.String(), nil
}

// RenderAll renders each template in order, returning the first failure.
func RenderAll(tmpls []string, ctx Context) ([]string, error) {
	out := make([]string, len(tmpls))
	for i, t := range tmpls {
		s, err := Render(t, ctx)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// tmplNode is one parsed template element.
type tmplNode interface{}

type textNode struct{ text string }

type outputNode struct {
	expr exprNode
	src  string
}

type ifNode struct {
	branches []ifBranch // if/elif arms in order
	elseBody []tmplNode // nil when there is no else
}

type ifBranch struct {
	cond exprNode
	body []tmplNode
}

type forNode struct {
	loopVar string
	over    exprNode
	body    []tmplNode
}

// rawTag is a lexed {{ }} or {% %} tag before block structure is imposed.
type rawTag struct {
	kind string // "text", "output", "stmt"
	text string
}

// lexTemplate splits the template into text runs and tags.
func lexTemplate(tmpl string) ([]rawTag, *Error) {
	var tags []rawTag
	i := 0
	for i < len(tmpl) {
		open := strings.IndexAny(tmpl[i:], "{")
		if open < 0 {
			tags = append(tags, rawTag{kind: "text", text: tmpl[i:]})
			break
		}
		open += i
		var closer, kind string
		switch {
		case strings.HasPrefix(tmpl[open:], "{{"):
			closer, kind = "}}", "output"
		case strings.HasPrefix(tmpl[open:], "{%"):
			closer, kind = "%}", "stmt"
		default:
			// A lone brace is literal text.
			tags = append(tags, rawTag{kind: "text", text: tmpl[i : open+1]})
			i = open + 1
			continue
		}
		if open > i {
			tags = append(tags, rawTag{kind: "text", text: tmpl[i:open]})
		}
		end := strings.Index(tmpl[open+2:], closer)
		if end < 0 {
			return nil, &Error{Kind: KindSyntax, Detail: fmt.Sprintf("unclosed %q tag", tmpl[open:open+2])}
		}
		inner := strings.TrimSpace(tmpl[open+2 : open+2+end])
		tags = append(tags, rawTag{kind: kind, text: inner})
		i = open + 2 + end + 2
	}
	return tags, nil
}

// parseTemplate lexes and builds the block tree.
func parseTemplate(tmpl string) ([]tmplNode, *Error) {
	tags, err := lexTemplate(tmpl)
	if err != nil {
		return nil, err
	}
	p := &tmplParser{tags: tags}
	nodes, err := p.parseBlock(nil)
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tags) {
		return nil, &Error{Kind: KindSyntax, Detail: fmt.Sprintf("unexpected {%% %s %%}", p.tags[p.pos].text)}
	}
	return nodes, nil
}

type tmplParser struct {
	tags []rawTag
	pos  int
}

// parseBlock consumes nodes until EOF or one of the terminator statements
// (endif, elif, else, endfor). The terminator is left unconsumed.
func (p *tmplParser) parseBlock(terminators []string) ([]tmplNode, *Error) {
	var nodes []tmplNode
	for p.pos < len(p.tags) {
		tag := p.tags[p.pos]
		switch tag.kind {
		case "text":
			nodes = append(nodes, &textNode{text: tag.text})
			p.pos++

		case "output":
			expr, err := parseExpr(tag.text)
			if err != nil {
				return nil, &Error{Kind: KindSyntax, Detail: err.Error()}
			}
			nodes = append(nodes, &outputNode{expr: expr, src: tag.text})
			p.pos++

		case "stmt":
			word := firstWord(tag.text)
			for _, t := range terminators {
				if word == t {
					return nodes, nil
				}
			}
			switch word {
			case "if":
				node, err := p.parseIf(tag.text)
				if err != nil {
					return nil, err
				}
				nodes = append(nodes, node)
			case "for":
				node, err := p.parseFor(tag.text)
				if err != nil {
					return nil, err
				}
				nodes = append(nodes, node)
			default:
				return nil, &Error{Kind: KindSyntax, Detail: fmt.Sprintf("unknown statement %q", word)}
			}
		}
	}
	if len(terminators) > 0 {
		return nil, &Error{Kind: KindSyntax, Detail: fmt.Sprintf("missing {%% %s %%}", terminators[len(terminators)-1])}
	}
	return nodes, nil
}

func (p *tmplParser) parseIf(stmt string) (*ifNode, *Error) {
	node := &ifNode{}
	condSrc := strings.TrimSpace(strings.TrimPrefix(stmt, "if"))
	for {
		cond, err := parseExpr(condSrc)
		if err != nil {
			return nil, &Error{Kind: KindSyntax, Detail: err.Error()}
		}
		p.pos++ // consume the if/elif tag
		body, perr := p.parseBlock([]string{"elif", "else", "endif"})
		if perr != nil {
			return nil, perr
		}
		node.branches = append(node.branches, ifBranch{cond: cond, body: body})

		tag := p.tags[p.pos]
		word := firstWord(tag.text)
		if word == "elif" {
			condSrc = strings.TrimSpace(strings.TrimPrefix(tag.text, "elif"))
			continue
		}
		if word == "else" {
			p.pos++
			elseBody, perr := p.parseBlock([]string{"endif"})
			if perr != nil {
				return nil, perr
			}
			node.elseBody = elseBody
		}
		p.pos++ // consume endif
		return node, nil
	}
}

func (p *tmplParser) parseFor(stmt string) (*forNode, *Error) {
	// {% for item in expr %}
	rest := strings.TrimSpace(strings.TrimPrefix(stmt, "for"))
	parts := strings.SplitN(rest, " in ", 2)
	if len(parts) != 2 {
		return nil, &Error{Kind: KindSyntax, Detail: fmt.Sprintf("malformed for statement %q", stmt)}
	}
	loopVar := strings.TrimSpace(parts[0])
	if !isIdent(loopVar) {
		return nil, &Error{Kind: KindSyntax, Detail: fmt.Sprintf("bad loop variable %q", loopVar)}
	}
	over, err := parseExpr(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, &Error{Kind: KindSyntax, Detail: err.Error()}
	}
	p.pos++ // consume the for tag
	body, perr := p.parseBlock([]string{"endfor"})
	if perr != nil {
		return nil, perr
	}
	p.pos++ // consume endfor
	return &forNode{loopVar: loopVar, over: over, body: body}, nil
}

func renderNodes(sb *strings.Builder, nodes []tmplNode, ctx Context) *Error {
	for _, node := range nodes {
		switch n := node.(type) {
		case *textNode:
			sb.WriteString(n.text)

		case *outputNode:
			v, err := resolveDefined(n.expr, ctx)
			if err != nil {
				return err
			}
			sb.WriteString(stringify(v))

		case *ifNode:
			taken := false
			for _, br := range n.branches {
				v, err := resolveDefined(br.cond, ctx)
				if err != nil {
					return err
				}
				if truthy(v) {
					if err := renderNodes(sb, br.body, ctx); err != nil {
						return err
					}
					taken = true
					break
				}
			}
			if !taken && n.elseBody != nil {
				if err := renderNodes(sb, n.elseBody, ctx); err != nil {
					return err
				}
			}

		case *forNode:
			v, err := resolveDefined(n.over, ctx)
			if err != nil {
				return err
			}
			items, err := iterable(v)
			if err != nil {
				return err
			}
			scope := ctx.clone()
			for _, item := range items {
				scope[n.loopVar] = item
				if err := renderNodes(sb, n.body, scope); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// iterable converts a loop target into a concrete slice.
func iterable(v any) ([]any, *Error) {
	switch c := v.(type) {
	case []any:
		return c, nil
	case []string:
		out := make([]any, len(c))
		for i, s := range c {
			out[i] = s
		}
		return out, nil
	case []map[string]any:
		out := make([]any, len(c))
		for i, m := range c {
			out[i] = m
		}
		return out, nil
	}
	return nil, &Error{Kind: KindSyntax, Detail: fmt.Sprintf("cannot iterate over %T", v)}
}

// stringify renders a value into template output.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func firstWord(s string) string {
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i]
	}
	return s
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			continue
		}
		if i > 0 && r >= '0' && r <= '9' {
			continue
		}
		return false
	}
	return true
}
