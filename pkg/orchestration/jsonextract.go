// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Structured stage outputs are parsed with three strategies in order:
// direct JSON, fenced code-block extraction, then the first JSON value
// found by regex. Models wrap JSON in prose often enough that all three
// earn their keep.

var (
	fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	jsonObjectRe  = regexp.MustCompile(`(?s)\{.*\}`)
	jsonArrayRe   = regexp.MustCompile(`(?s)\[.*\]`)
)

// extractJSONObject pulls one JSON object out of raw model output.
func extractJSONObject(raw string) (map[string]any, error) {
	var obj map[string]any
	for _, candidate := range jsonCandidates(raw, jsonObjectRe) {
		if err := json.Unmarshal([]byte(candidate), &obj); err == nil {
			return obj, nil
		}
	}
	return nil, fmt.Errorf("no JSON object found in response")
}

// extractJSONArray pulls one JSON array of objects out of raw model
// output.
func extractJSONArray(raw string) ([]map[string]any, error) {
	for _, candidate := range jsonCandidates(raw, jsonArrayRe) {
		var arr []map[string]any
		if err := json.Unmarshal([]byte(candidate), &arr); err == nil {
			return arr, nil
		}
	}
	return nil, fmt.Errorf("no JSON array found in response")
}

// jsonCandidates yields parse candidates in decreasing strictness.
func jsonCandidates(raw string, bare *regexp.Regexp) []string {
	candidates := []string{strings.TrimSpace(raw)}
	for _, m := range fencedBlockRe.FindAllStringSubmatch(raw, -1) {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	if m := bare.FindString(raw); m != "" {
		candidates = append(candidates, m)
	}
	return candidates
}

// clarifyInstruction prefixes a retry prompt after a parse failure.
func clarifyInstruction(want string) string {
	return fmt.Sprintf("Your previous response could not be parsed. Respond with only a valid JSON %s, no surrounding prose.\n\n", want)
}
