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

// Package recorder implements record-mode capture: appending every message
// that crosses the harness to an in-memory log and flushing it to the
// recording store at session close (spec.md §4.E).
package recorder

import (
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/google/replay-harness/internal/envelope"
	"github.com/google/replay-harness/internal/recording"
	"github.com/google/replay-harness/internal/redact"
)

// Recorder accumulates RecordedMessages for one session in file order and
// writes them out once, at Flush.
type Recorder struct {
	mu       sync.Mutex
	rec      recording.Recording
	redactor *redact.Redactor
}

// New creates a Recorder for scenarioName, stamped with the current time.
func New(scenarioName string) *Recorder {
	return &Recorder{rec: recording.New(scenarioName, time.Now().UTC())}
}

// SetRedactor configures the Redactor applied to every payload from here on.
// A nil Redactor (the default) persists payloads unmodified.
func (r *Recorder) SetRedactor(redactor *redact.Redactor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redactor = redactor
}

// Append records env as having travelled in direction. CommandOpen payloads
// are hashed so the message can later be matched by Player; other payload
// kinds carry no hash. The hash is always computed from env's original
// payload, before any configured Redactor scrubs the copy that gets
// persisted, so replay matching is unaffected by redaction.
func (r *Recorder) Append(direction recording.Direction, env envelope.Envelope) error {
	var hash string
	if env.Payload.Kind == envelope.KindCommandOpen {
		h, err := env.Payload.Hash()
		if err != nil {
			return err
		}
		hash = h
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	env.Payload.Data = r.redactor.Payload(env.Payload.Data)
	r.rec = recording.Append(r.rec, recording.RecordedMessage{
		Envelope:   env,
		RecordedAt: time.Now().UTC(),
		Direction:  direction,
		Hash:       hash,
	})
	return nil
}

// Len reports how many messages have been appended so far.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rec.Messages)
}

// Flush writes the accumulated recording to path on fs, compressing it per
// internal/recording's store conventions.
func (r *Recorder) Flush(fs afero.Fs, path string) error {
	r.mu.Lock()
	rec := r.rec
	r.mu.Unlock()
	return recording.Save(fs, path, rec)
}
