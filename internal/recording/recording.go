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

// Package recording implements the persisted recording format (spec.md §3,
// §4.B): eager and lazy loaders, the saver, and append.
package recording

import (
	"encoding/json"
	"time"

	"github.com/google/replay-harness/internal/envelope"
)

// CurrentSchemaVersion is the only schemaVersion LoadEager/LoadLazy accept.
const CurrentSchemaVersion = 1

// Direction is which way a RecordedMessage travelled relative to the
// harness.
type Direction string

const (
	ToHarness   Direction = "to_harness"
	FromHarness Direction = "from_harness"
)

// RecordedMessage is one persisted message, eagerly decoded.
type RecordedMessage struct {
	Envelope   envelope.Envelope `json:"envelope"`
	RecordedAt time.Time         `json:"recordedAt"`
	Direction  Direction         `json:"direction"`
	Hash       string            `json:"hash,omitempty"`
}

// Recording is the full persisted document, eagerly decoded.
type Recording struct {
	SchemaVersion int               `json:"schemaVersion"`
	ScenarioName  string            `json:"scenarioName"`
	RecordedAt    time.Time         `json:"recordedAt"`
	Messages      []RecordedMessage `json:"messages"`
}

// Append returns a new Recording with message appended, preserving
// insertion order. The receiver is not mutated.
func Append(r Recording, msg RecordedMessage) Recording {
	out := r
	out.Messages = make([]RecordedMessage, len(r.Messages)+1)
	copy(out.Messages, r.Messages)
	out.Messages[len(r.Messages)] = msg
	return out
}

// New creates an empty Recording stamped with the current schema version.
func New(scenarioName string, recordedAt time.Time) Recording {
	return Recording{
		SchemaVersion: CurrentSchemaVersion,
		ScenarioName:  scenarioName,
		RecordedAt:    recordedAt,
	}
}

// rawRecording mirrors Recording but keeps Messages as raw JSON so LoadLazy
// can hand them to the streaming array parser without decoding payloads.
type rawRecording struct {
	SchemaVersion int             `json:"schemaVersion"`
	ScenarioName  string          `json:"scenarioName"`
	RecordedAt    time.Time       `json:"recordedAt"`
	Messages      json.RawMessage `json:"messages"`
}

// rawHashPeek is used to cheaply extract the "hash" field of a raw message
// without decoding its envelope or payload.
type rawHashPeek struct {
	Hash string `json:"hash"`
}
