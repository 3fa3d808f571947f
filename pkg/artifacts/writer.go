// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package artifacts renders and writes the output files a workflow
// declares, after its pattern has completed.
package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/spec"
	"github.com/teradata-labs/weft/pkg/template"
)

// ErrorKind classifies artifact failures.
type ErrorKind string

const (
	// KindRender is a path or content template failure.
	KindRender ErrorKind = "render"

	// KindOverwrite means the target exists and overwriting is disabled.
	KindOverwrite ErrorKind = "overwrite"

	// KindPath is a rendered path escaping the output directory.
	KindPath ErrorKind = "path"

	// KindIO is a filesystem failure.
	KindIO ErrorKind = "io"
)

// Error is a failed artifact write.
type Error struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("artifact %s: %s: %v", e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("artifact %s: %s", e.Path, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// IsError extracts an artifact *Error from err, if any.
func IsError(err error) (*Error, bool) {
	var ae *Error
	ok := errors.As(err, &ae)
	return ae, ok
}

// Writer renders declared artifacts against the final execution context
// and writes them under the output directory.
type Writer struct {
	OutputDir      string
	ForceOverwrite bool
	Logger         *zap.Logger
}

// Write renders every artifact and writes it atomically. It returns the
// absolute paths actually written. The first failure aborts the batch;
// earlier files stay on disk.
func (w *Writer) Write(arts []spec.Artifact, ctx template.Context) ([]string, error) {
	if len(arts) == 0 {
		return nil, nil
	}
	logger := w.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	outDir, err := filepath.Abs(w.OutputDir)
	if err != nil {
		return nil, &Error{Kind: KindIO, Path: w.OutputDir, Err: err}
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, &Error{Kind: KindIO, Path: outDir, Err: err}
	}

	var written []string
	for _, art := range arts {
		relPath, err := template.Render(art.PathTemplate, ctx)
		if err != nil {
			return written, &Error{Kind: KindRender, Path: art.PathTemplate, Err: err}
		}
		content, err := template.Render(art.ContentTemplate, ctx)
		if err != nil {
			return written, &Error{Kind: KindRender, Path: relPath, Err: err}
		}

		target, err := containedPath(outDir, relPath)
		if err != nil {
			return written, err
		}

		if !w.ForceOverwrite {
			if _, err := os.Stat(target); err == nil {
				return written, &Error{Kind: KindOverwrite, Path: target}
			}
		}

		if err := writeAtomic(target, []byte(content)); err != nil {
			return written, err
		}
		logger.Info("artifact written",
			zap.String("path", target),
			zap.Int("bytes", len(content)))
		written = append(written, target)
	}
	return written, nil
}

// containedPath joins rel under dir and rejects any escape via absolute
// paths or parent traversal.
func containedPath(dir, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", &Error{Kind: KindPath, Path: rel, Err: fmt.Errorf("artifact path must be relative")}
	}
	target := filepath.Clean(filepath.Join(dir, rel))
	if target != dir && !strings.HasPrefix(target, dir+string(filepath.Separator)) {
		return "", &Error{Kind: KindPath, Path: rel, Err: fmt.Errorf("artifact path escapes output directory")}
	}
	return target, nil
}

// writeAtomic writes via temp file and rename so readers never observe a
// partial artifact.
func writeAtomic(target string, content []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &Error{Kind: KindIO, Path: target, Err: err}
	}
	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return &Error{Kind: KindIO, Path: target, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &Error{Kind: KindIO, Path: target, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &Error{Kind: KindIO, Path: target, Err: err}
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return &Error{Kind: KindIO, Path: target, Err: err}
	}
	return nil
}
