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

package handler

import "encoding/json"

// ControlRequest is a frame on the control channel (spec.md §6).
type ControlRequest struct {
	Channel   string          `json:"channel"`
	RequestID string          `json:"requestId"`
	Payload   json.RawMessage `json:"payload"`
}

// ControlError is the error shape embedded in a ControlResponse.
type ControlError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ControlResponse answers a ControlRequest.
type ControlResponse struct {
	Channel   string          `json:"channel"`
	RequestID string          `json:"requestId"`
	Success   bool            `json:"success"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     *ControlError   `json:"error,omitempty"`
}

// channelPeek extracts just the "channel" discriminator from an inbound
// frame, so the connection loop can decide how to decode the rest.
type channelPeek struct {
	Channel string `json:"channel"`
}

// CreateSessionParams is the payload of a create_session control command.
type CreateSessionParams struct {
	SessionID     string `json:"sessionId"`
	Mode          string `json:"mode"`
	RecordingPath string `json:"recordingPath,omitempty"`
}

// CloseSessionParams is the payload of a close_session control command.
type CloseSessionParams struct {
	SessionID string `json:"sessionId"`
}

// RegisterInterceptParams is the payload of a register_intercept control
// command.
type RegisterInterceptParams struct {
	SessionID  string          `json:"sessionId,omitempty"`
	Service    string          `json:"service"`
	URLPattern string          `json:"urlPattern,omitempty"`
	Response   json.RawMessage `json:"response"`
	Times      *int            `json:"times,omitempty"`
}

// UnregisterInterceptParams is the payload of an unregister_intercept
// control command.
type UnregisterInterceptParams struct {
	SessionID   string `json:"sessionId,omitempty"`
	InterceptID string `json:"interceptId"`
}

// controlCommand is the decoded shape of ControlRequest.Payload: a command
// name plus its own parameters.
type controlCommand struct {
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params"`
}

// ProgramError is the error frame sent back on the program channel when a
// command cannot be answered without closing the connection — chiefly a
// playback_miss (spec.md §7, "session continues").
type ProgramError struct {
	Channel  string       `json:"channel"`
	StreamID string       `json:"streamId"`
	TraceID  string       `json:"traceId"`
	Error    ControlError `json:"error"`
}
