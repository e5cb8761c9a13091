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

// Package session implements the registry binding a session id to its mode,
// Recorder/Player, and Interceptor (spec.md §3, §4.G).
package session

import (
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/google/replay-harness/internal/hashindex"
	"github.com/google/replay-harness/internal/harnesserr"
	"github.com/google/replay-harness/internal/headerrules"
	"github.com/google/replay-harness/internal/intercept"
	"github.com/google/replay-harness/internal/player"
	"github.com/google/replay-harness/internal/recorder"
	"github.com/google/replay-harness/internal/recording"
	"github.com/google/replay-harness/internal/redact"
)

// Mode is which of the three harness modes a session runs in.
type Mode string

const (
	Passthrough Mode = "passthrough"
	Record      Mode = "record"
	Playback    Mode = "playback"
)

// Session is one named, exclusively-owned recorder/player/interceptor
// triple plus its recording path, guarded by the Registry's mutex.
type Session struct {
	ID            string
	Mode          Mode
	RecordingPath string
	OpenedAt      time.Time

	Recorder    *recorder.Recorder
	Player      *player.Player
	Interceptor *intercept.Interceptor

	// Streams is the per-session originalId<->liveId bijection the Handler
	// maintains for playback id translation (spec.md §4.H).
	Streams *StreamTranslator

	// HeaderRules rewrites response header values before any reply
	// (intercept, passthrough, record or playback) reaches the program
	// channel (supplemented feature 2). Shared process-wide, set by the
	// Registry at Create.
	HeaderRules *headerrules.Set

	dirty bool
}

// StreamTranslator maintains the bijection between a recording's original
// stream/trace ids and the live ids a replaying program presents, built
// incrementally as matches occur (spec.md §4.H "Id translation").
type StreamTranslator struct {
	mu             sync.Mutex
	originalToLive map[string]string
	liveToOriginal map[string]string
}

func newStreamTranslator() *StreamTranslator {
	return &StreamTranslator{
		originalToLive: make(map[string]string),
		liveToOriginal: make(map[string]string),
	}
}

// Bind records that liveID (presented by the live connection) corresponds
// to originalID (recorded in the file), the first time a stream is matched.
// Re-binding an already-bound pair is a no-op.
func (t *StreamTranslator) Bind(originalID, liveID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.originalToLive[originalID]; ok {
		return
	}
	t.originalToLive[originalID] = liveID
	t.liveToOriginal[liveID] = originalID
}

// Live translates an original (recorded) id to its live counterpart, if
// bound.
func (t *StreamTranslator) Live(originalID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.originalToLive[originalID]
	return id, ok
}

// Original translates a live id back to its original (recorded)
// counterpart, if bound.
func (t *StreamTranslator) Original(liveID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.liveToOriginal[liveID]
	return id, ok
}

// Registry is the server-wide mapping of sessionId -> Session, the only
// cross-session shared structure (spec.md §5), guarded by single-writer
// discipline via mu.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	// closed remembers every id this registry has successfully closed, so
	// a repeat close_session call is idempotent (spec.md §8) while a
	// close_session for an id that never existed still fails.
	closed map[string]bool

	// global holds intercepts registered without a sessionId (or with one
	// that names no live session), consulted after a session's own
	// intercepts.
	global *intercept.Interceptor

	// redactor and headerRules are process-wide (configured once from the
	// CLI/config, not per-session) and handed to every session Create
	// builds: redactor to Record-mode sessions' Recorders, headerRules to
	// every session regardless of mode.
	redactor    *redact.Redactor
	headerRules *headerrules.Set

	fs afero.Fs
	// now is overridable for deterministic tests.
	now func() time.Time
}

// NewRegistry returns an empty Registry backed by fs for recorder flushes.
func NewRegistry(fs afero.Fs) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		closed:   make(map[string]bool),
		global:   intercept.New(),
		fs:       fs,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Global returns the registry-wide intercept list consulted when a
// session's own intercepts don't match (Open Question 1).
func (r *Registry) Global() *intercept.Interceptor {
	return r.global
}

// SetRedactor configures the Redactor every Record-mode session's Recorder
// is built with from here on. Sessions already created keep whatever
// Redactor they were built with.
func (r *Registry) SetRedactor(redactor *redact.Redactor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redactor = redactor
}

// SetHeaderRules configures the header rewrite rules every session Create
// builds from here on carries.
func (r *Registry) SetHeaderRules(rules *headerrules.Set) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.headerRules = rules
}

// Create registers a new session. Creating a session with an id that
// already exists fails with session_conflict (spec.md §4.G). For Record
// mode a fresh Recorder is built; for Playback mode rec must be the loaded
// recording and idx its hash index.
func (r *Registry) Create(id string, mode Mode, recordingPath string, rec *recording.LazyRecording, idx *hashindex.Index) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; exists {
		return nil, harnesserr.New(harnesserr.SessionConflict, "session %s already exists", id)
	}

	s := &Session{
		ID:            id,
		Mode:          mode,
		RecordingPath: recordingPath,
		OpenedAt:      r.now(),
		Interceptor:   intercept.New(),
		Streams:       newStreamTranslator(),
		HeaderRules:   r.headerRules,
	}
	switch mode {
	case Record:
		s.Recorder = recorder.New(id)
		s.Recorder.SetRedactor(r.redactor)
	case Playback:
		s.Player = player.New(rec, idx)
	case Passthrough:
		// Neither a Recorder nor a Player is needed.
	}

	r.sessions[id] = s
	return s, nil
}

// Get returns the session for id, if any.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns a snapshot of all live sessions.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Close removes id from the registry, flushing its recorder to disk first
// if it was in Record mode. Closing an id that never existed fails with
// session_conflict; closing an id this registry has already closed is
// idempotent and succeeds without error (spec.md §4.G/§8).
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, exists := r.sessions[id]
	if !exists {
		alreadyClosed := r.closed[id]
		r.mu.Unlock()
		if alreadyClosed {
			return nil
		}
		return harnesserr.New(harnesserr.SessionConflict, "no such session %s", id)
	}
	delete(r.sessions, id)
	r.closed[id] = true
	r.mu.Unlock()

	if s.Mode == Record && s.Recorder != nil {
		if err := s.Recorder.Flush(r.fs, s.RecordingPath); err != nil {
			return harnesserr.Wrap(harnesserr.IOError, err, "flush recording for session %s", id)
		}
	}
	return nil
}
