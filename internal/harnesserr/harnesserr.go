/*
Copyright 2025 Google LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package harnesserr defines the stable error categories surfaced on the
// wire and at the CLI boundary.
package harnesserr

import (
	"errors"
	"fmt"
)

// Code identifies one of the error categories a caller can branch on.
type Code string

const (
	SchemaIncompatible Code = "schema_incompatible"
	IOError            Code = "io_error"
	ParseError         Code = "parse_error"
	PlaybackMiss       Code = "playback_miss"
	SessionConflict    Code = "session_conflict"
	InterceptInvalid   Code = "intercept_invalid"
	Internal           Code = "internal"
)

// Error is a typed error carrying a stable Code and human-readable Message,
// so the wire and CLI layers never need to parse an error string to decide
// how to react.
type Error struct {
	Code    Code
	Message string
	Cause   error

	// Hash and SessionID are populated for playback_miss errors so the
	// caller can report what was searched for.
	Hash      string
	SessionID string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no wrapped cause.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error that wraps cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// PlaybackMissErr builds the structured playback_miss error spec.md §4.D/§7
// requires, carrying the computed hash and session id.
func PlaybackMissErr(sessionID, hash string) *Error {
	return &Error{
		Code:      PlaybackMiss,
		Message:   fmt.Sprintf("no recorded match for hash %s in session %s", hash, sessionID),
		Hash:      hash,
		SessionID: sessionID,
	}
}

// As reports whether err (or something it wraps) is an *Error, returning it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
