// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package template

import "fmt"

// ErrorKind classifies render failures.
type ErrorKind string

const (
	// KindSyntax is a malformed template or expression.
	KindSyntax ErrorKind = "syntax"

	// KindUndefined is a reference to a name the context does not hold.
	// Undefined variables are strict: there is no silent empty-string
	// substitution.
	KindUndefined ErrorKind = "undefined_variable"

	// KindSecurityViolation is an attempt to escape the sandbox: dunder
	// attribute access or a filter outside the whitelist.
	KindSecurityViolation ErrorKind = "security_violation"

	// KindFilter is a whitelisted filter applied to an incompatible value.
	KindFilter ErrorKind = "filter"
)

// Error is a failed render. Preview holds the head of the offending template
// for log correlation.
type Error struct {
	Kind    ErrorKind
	Detail  string
	Preview string
}

func (e *Error) Error() string {
	return fmt.Sprintf("template render failed (%s): %s", e.Kind, e.Detail)
}

// preview truncates a template for inclusion in errors and logs.
func preview(tmpl string) string {
	const n = 80
	if len(tmpl) <= n {
		return tmpl
	}
	return tmpl[:n] + "..."
}
