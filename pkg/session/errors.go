// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package session

import (
	"errors"
	"fmt"
)

// ErrorKind classifies session failures.
type ErrorKind string

const (
	// KindNotFound means no session exists under the requested id.
	KindNotFound ErrorKind = "not_found"

	// KindSpecChanged means the current spec is incompatible with the
	// session: the hash differs under strict resume, or the session
	// references a stage the amended spec no longer declares.
	KindSpecChanged ErrorKind = "spec_changed"

	// KindCorrupt means the session file exists but does not decode.
	KindCorrupt ErrorKind = "corrupt"

	// KindIO is a storage read or write failure.
	KindIO ErrorKind = "io"
)

// Error is a session store or checkpoint failure.
type Error struct {
	Kind      ErrorKind
	SessionID string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session %s: %s: %v", e.SessionID, e.Kind, e.Err)
	}
	return fmt.Sprintf("session %s: %s", e.SessionID, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a missing-session error.
func IsNotFound(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == KindNotFound
}

// AsError extracts a session *Error from err, if any.
func AsError(err error) (*Error, bool) {
	var se *Error
	ok := errors.As(err, &se)
	return se, ok
}
