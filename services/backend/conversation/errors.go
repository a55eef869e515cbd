// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"fmt"
	"strings"
)

// ConfigurationError reports required resource identifiers that are unset.
// It is a setup error: the process cannot serve any turn until redeployed.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("conversation resource not configured: missing %s", strings.Join(e.Missing, ", "))
}

// SessionCreateError reports a failed session creation.
// The caller should retry the turn without a handle.
type SessionCreateError struct {
	Parent string
	Err    error
}

func (e *SessionCreateError) Error() string {
	return fmt.Sprintf("create conversation under %s: %v", e.Parent, e.Err)
}

func (e *SessionCreateError) Unwrap() error { return e.Err }

// ConverseError reports a failed converse call on an existing session.
// The caller should retry the turn with the same handle.
type ConverseError struct {
	Handle string
	Err    error
}

func (e *ConverseError) Error() string {
	return fmt.Sprintf("converse on %s: %v", e.Handle, e.Err)
}

func (e *ConverseError) Unwrap() error { return e.Err }
