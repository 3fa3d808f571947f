// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// HITLState is everything a human needs to answer a gate: the rendered
// prompt, optional context display, and the gate's declared default.
type HITLState struct {
	StageID         string
	Prompt          string
	ContextDisplay  string
	DefaultResponse string
	TimeoutSeconds  int
}

// HITLHandler answers a gate in-process. When no handler is registered
// the executor pauses the session durably instead.
type HITLHandler func(ctx context.Context, state HITLState) (string, error)

// HITLError reports an unusable human response.
type HITLError struct {
	Response string
	Reason   string
}

func (e *HITLError) Error() string {
	return fmt.Sprintf("invalid HITL response %q: %s", e.Response, e.Reason)
}

// IsHITLError reports whether err is (or wraps) a HITLError.
func IsHITLError(err error) bool {
	var he *HITLError
	return errors.As(err, &he)
}

// ParseReviewResponse interprets a router-review response. The grammar is
// closed: "approved" accepts the router's chosen route, "route:<id>"
// overrides to the named route. Anything else is rejected.
func ParseReviewResponse(response string) (override string, err error) {
	trimmed := strings.TrimSpace(response)
	if trimmed == "approved" {
		return "", nil
	}
	if rest, ok := strings.CutPrefix(trimmed, "route:"); ok {
		route := strings.TrimSpace(rest)
		if route == "" {
			return "", &HITLError{Response: response, Reason: "route override names no route"}
		}
		return route, nil
	}
	return "", &HITLError{Response: response, Reason: `expected "approved" or "route:<id>"`}
}
