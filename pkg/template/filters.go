// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package template

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// filterFunc applies one whitelisted filter. in may be the undefined
// sentinel; only default() is allowed to absorb it.
type filterFunc func(in any, args []any) (any, *Error)

// filters is the closed whitelist. Any other name is a sandbox violation,
// not a lookup miss.
var filters = map[string]filterFunc{
	"lower":    filterLower,
	"upper":    filterUpper,
	"title":    filterTitle,
	"tojson":   filterToJSON,
	"truncate": filterTruncate,
	"default":  filterDefault,
	"replace":  filterReplace,
}

func applyFilter(name string, in any, args []any) (any, *Error) {
	fn, ok := filters[name]
	if !ok {
		return nil, &Error{Kind: KindSecurityViolation, Detail: fmt.Sprintf("filter %q is not whitelisted", name)}
	}
	if _, undef := in.(undefinedVal); undef && name != "default" {
		u := in.(undefinedVal)
		return nil, &Error{Kind: KindUndefined, Detail: fmt.Sprintf("undefined variable %q", u.name)}
	}
	return fn(in, args)
}

func filterLower(in any, args []any) (any, *Error) {
	s, err := asString(in, "lower")
	if err != nil {
		return nil, err
	}
	return strings.ToLower(s), nil
}

func filterUpper(in any, args []any) (any, *Error) {
	s, err := asString(in, "upper")
	if err != nil {
		return nil, err
	}
	return strings.ToUpper(s), nil
}

func filterTitle(in any, args []any) (any, *Error) {
	s, err := asString(in, "title")
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	capNext := true
	for _, r := range s {
		if unicode.IsSpace(r) {
			capNext = true
			sb.WriteRune(r)
			continue
		}
		if capNext {
			sb.WriteRune(unicode.ToUpper(r))
			capNext = false
		} else {
			sb.WriteRune(unicode.ToLower(r))
		}
	}
	return sb.String(), nil
}

func filterToJSON(in any, args []any) (any, *Error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, &Error{Kind: KindFilter, Detail: fmt.Sprintf("tojson: %v", err)}
	}
	return string(data), nil
}

func filterTruncate(in any, args []any) (any, *Error) {
	if len(args) != 1 {
		return nil, &Error{Kind: KindFilter, Detail: "truncate requires exactly one argument"}
	}
	n, ok := toInt(args[0])
	if !ok || n < 0 {
		return nil, &Error{Kind: KindFilter, Detail: "truncate argument must be a non-negative integer"}
	}
	s, err := asString(in, "truncate")
	if err != nil {
		return nil, err
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s, nil
	}
	return string(runes[:n]), nil
}

func filterDefault(in any, args []any) (any, *Error) {
	if len(args) != 1 {
		return nil, &Error{Kind: KindFilter, Detail: "default requires exactly one argument"}
	}
	if _, undef := in.(undefinedVal); undef {
		return args[0], nil
	}
	if in == nil {
		return args[0], nil
	}
	if s, ok := in.(string); ok && s == "" {
		return args[0], nil
	}
	return in, nil
}

func filterReplace(in any, args []any) (any, *Error) {
	if len(args) != 2 {
		return nil, &Error{Kind: KindFilter, Detail: "replace requires exactly two arguments"}
	}
	old, ok1 := args[0].(string)
	repl, ok2 := args[1].(string)
	if !ok1 || !ok2 {
		return nil, &Error{Kind: KindFilter, Detail: "replace arguments must be strings"}
	}
	s, err := asString(in, "replace")
	if err != nil {
		return nil, err
	}
	return strings.ReplaceAll(s, old, repl), nil
}

func asString(in any, filter string) (string, *Error) {
	switch s := in.(type) {
	case string:
		return s, nil
	case nil:
		return "", nil
	default:
		return stringify(in), nil
	}
}
