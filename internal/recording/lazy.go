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

package recording

import (
	"bytes"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/google/replay-harness/internal/harnesserr"
)

// yieldEveryChars and yieldEveryElements are the chunked-yield grains
// spec.md §4.B/§5 mandate for the streaming loader.
const (
	yieldEveryChars    = 10_000
	yieldEveryElements = 50
)

// LazyMessage is a message kept as raw JSON, with only its hash extracted,
// until something calls Decode.
type LazyMessage struct {
	// Raw is the full, as-stored JSON for this message.
	Raw json.RawMessage
	// Hash is extracted cheaply from Raw without decoding the envelope.
	Hash string
	// Index is this message's position in the recording.
	Index int

	decoded *RecordedMessage
}

// Decode fully parses the message's envelope and payload. The result is
// cached, so repeated calls don't re-decode.
func (m *LazyMessage) Decode() (RecordedMessage, error) {
	if m.decoded != nil {
		return *m.decoded, nil
	}
	var rm RecordedMessage
	if err := json.Unmarshal(m.Raw, &rm); err != nil {
		return RecordedMessage{}, harnesserr.Wrap(harnesserr.ParseError, err, "decode recorded message %d", m.Index)
	}
	m.decoded = &rm
	return rm, nil
}

// IsDecoded reports whether Decode has already been called for this
// message, used by tests to verify lazy loading left untouched entries raw.
func (m *LazyMessage) IsDecoded() bool {
	return m.decoded != nil
}

// LazyRecording is the in-memory form of a recording whose per-message
// payloads are left as raw JSON until needed (spec.md GLOSSARY).
type LazyRecording struct {
	SchemaVersion int
	ScenarioName  string
	RecordedAt    time.Time
	Messages      []*LazyMessage
}

// ParseLazy parses data (an already decompressed JSON document) into a
// LazyRecording, rejecting it with schema_incompatible if its schemaVersion
// is not CurrentSchemaVersion. Messages are read by a streaming array parser that
// extracts per-element raw JSON substrings without decoding their
// interiors. It yields to the scheduler every yieldEveryChars characters
// scanned and every yieldEveryElements elements emitted, per spec.md §4.B.
func ParseLazy(data []byte) (*LazyRecording, error) {
	var raw rawRecording
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, harnesserr.Wrap(harnesserr.ParseError, err, "parse recording envelope")
	}
	if raw.SchemaVersion != CurrentSchemaVersion {
		return nil, harnesserr.New(harnesserr.SchemaIncompatible,
			"recording schemaVersion %d does not match current schema version %d", raw.SchemaVersion, CurrentSchemaVersion)
	}

	messages, err := streamMessages(raw.Messages)
	if err != nil {
		return nil, err
	}

	return &LazyRecording{
		SchemaVersion: raw.SchemaVersion,
		ScenarioName:  raw.ScenarioName,
		RecordedAt:    raw.RecordedAt,
		Messages:      messages,
	}, nil
}

// streamMessages walks the raw "messages" JSON array, emitting one
// *LazyMessage per element without decoding payload interiors, yielding the
// scheduler periodically so a large recording never blocks other sessions.
func streamMessages(arr json.RawMessage) ([]*LazyMessage, error) {
	if len(arr) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(arr))
	tok, err := dec.Token()
	if err != nil {
		return nil, harnesserr.Wrap(harnesserr.ParseError, err, "read messages array start")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, harnesserr.New(harnesserr.ParseError, "messages is not a JSON array")
	}

	var (
		out            []*LazyMessage
		lastYieldChars int64
		index          int
	)
	for dec.More() {
		var elem json.RawMessage
		if err := dec.Decode(&elem); err != nil {
			return nil, harnesserr.Wrap(harnesserr.ParseError, err, "decode message %d", index)
		}

		var peek rawHashPeek
		// A surface-level lookup only: malformed elements still get an
		// entry (with an empty hash) rather than aborting the whole load.
		_ = json.Unmarshal(elem, &peek)

		out = append(out, &LazyMessage{Raw: elem, Hash: peek.Hash, Index: index})
		index++

		if index%yieldEveryElements == 0 {
			runtime.Gosched()
		}
		if offset := dec.InputOffset(); offset-lastYieldChars >= yieldEveryChars {
			runtime.Gosched()
			lastYieldChars = offset
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, harnesserr.Wrap(harnesserr.ParseError, err, "read messages array end")
	}
	return out, nil
}

// ToEager fully decodes every message, producing the same shape LoadEager
// would have produced directly. Useful for tests asserting lazy/eager
// equivalence (spec.md §8 invariant E).
func (lr *LazyRecording) ToEager() (Recording, error) {
	r := Recording{
		SchemaVersion: lr.SchemaVersion,
		ScenarioName:  lr.ScenarioName,
		RecordedAt:    lr.RecordedAt,
		Messages:      make([]RecordedMessage, len(lr.Messages)),
	}
	for i, m := range lr.Messages {
		rm, err := m.Decode()
		if err != nil {
			return Recording{}, fmt.Errorf("decode message %d: %w", i, err)
		}
		r.Messages[i] = rm
	}
	return r, nil
}
