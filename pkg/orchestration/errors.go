// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"fmt"

	"github.com/teradata-labs/weft/pkg/session"
)

// ParseError is a stage that was expected to return structured JSON but
// did not, after the allowed clarification retries.
type ParseError struct {
	StageID  string
	Attempts int
	Detail   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: unparseable structured output after %d attempts: %s", e.StageID, e.Attempts, e.Detail)
}

// RoutingError is a routing pattern that could not select a route.
type RoutingError struct {
	Route string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("router selected %q but no such route exists and no \"else\" route is declared", e.Route)
}

// GraphError is a graph pattern that exhausted its iteration allowance.
type GraphError struct {
	Node          string
	MaxIterations int
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("nodes.%s: graph exceeded max_iterations (%d); the edge conditions admit a cycle", e.Node, e.MaxIterations)
}

// CapabilityError is a spec feature this engine does not implement.
type CapabilityError struct {
	Feature string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("workflow requires unsupported feature: %s", e.Feature)
}

// pauseSignal threads a human gate up through nested executors and
// fail-fast groups to the dispatching run loop, which converts it into a
// paused RunResult. It never escapes the package.
type pauseSignal struct {
	marker *session.PauseMarker
}

func (p *pauseSignal) Error() string {
	return fmt.Sprintf("paused for human input at %s", p.marker.StageID)
}
