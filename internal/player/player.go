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

// Package player implements playback-mode matching against a loaded
// recording: finding the next unconsumed message for a request hash and
// keeping the paired from_harness response in sync (spec.md §4.D).
package player

import (
	"encoding/json"
	"sync"

	"github.com/google/replay-harness/internal/hashindex"
	"github.com/google/replay-harness/internal/harnesserr"
	"github.com/google/replay-harness/internal/recording"
)

// streamPeek extracts just enough of a raw message to drive pairing without
// decoding its payload.
type streamPeek struct {
	Direction recording.Direction `json:"direction"`
	Envelope  struct {
		StreamID string `json:"streamId"`
	} `json:"envelope"`
}

// Player answers findMatch/consumeByHash lookups against one loaded
// recording for the lifetime of a playback-mode session.
type Player struct {
	mu sync.Mutex

	lr    *recording.LazyRecording
	index *hashindex.Index

	// next is the next not-yet-handed-out position within each hash's
	// bucket; a monotonically advancing pointer per bucket rather than a
	// per-entry consumed set, per spec.md §9's design note.
	next map[string]int
	// consumed marks message positions (by index into lr.Messages) that
	// have been handed out or paired off, so the paired from_harness
	// response for a match is never independently matched again.
	consumed map[int]bool
}

// New builds a Player over an already-loaded recording and its hash index.
func New(lr *recording.LazyRecording, index *hashindex.Index) *Player {
	return &Player{
		lr:       lr,
		index:    index,
		next:     make(map[string]int),
		consumed: make(map[int]bool),
	}
}

// Match is one successful lookup result: the position in the recording and
// its fully decoded message.
type Match struct {
	Index   int
	Message recording.RecordedMessage
}

// FindMatch returns the next unconsumed recorded message for hash, in file
// order, and marks its paired from_harness response consumed too. A
// playback miss is not an error: ok is false and err is nil.
func (p *Player) FindMatch(hash string) (match Match, ok bool, err error) {
	p.mu.Lock()
	entry, found := p.takeLocked(hash)
	p.mu.Unlock()
	if !found {
		return Match{}, false, nil
	}

	msg, err := entry.Raw.Decode()
	if err != nil {
		return Match{}, false, err
	}

	p.pairConsume(entry.Index)
	return Match{Index: entry.Index, Message: msg}, true, nil
}

// ConsumeByHash marks the next unconsumed entry for hash (and its paired
// response) consumed without returning it, for when an intercept has
// already supplied the response that a recorded match would otherwise have
// served (spec.md §4.F). ok is false if there was nothing left to consume.
func (p *Player) ConsumeByHash(hash string) (ok bool, err error) {
	p.mu.Lock()
	entry, found := p.takeLocked(hash)
	p.mu.Unlock()
	if !found {
		return false, nil
	}
	p.pairConsume(entry.Index)
	return true, nil
}

// takeLocked advances hash's bucket pointer past the next unconsumed entry
// and returns it. Callers must hold p.mu.
func (p *Player) takeLocked(hash string) (hashindex.Entry, bool) {
	bucket := p.index.Bucket(hash)
	ptr := p.next[hash]
	for ptr < len(bucket) {
		entry := bucket[ptr]
		ptr++
		if p.consumed[entry.Index] {
			continue
		}
		p.consumed[entry.Index] = true
		p.next[hash] = ptr
		return entry, true
	}
	p.next[hash] = ptr
	return hashindex.Entry{}, false
}

// pairConsume marks the from_harness response paired with the to_harness
// command at index consumed too, so the response can never be independently
// matched by a later findMatch/consumeByHash call. The normal case is that
// index+1 already is that response; if it belongs to a different stream
// (an out-of-order recording), pairConsume falls back to scanning forward
// for the nearest unconsumed from_harness message on the same stream, and
// if none is found, falls back to the literal index+1 position.
func (p *Player) pairConsume(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index+1 >= len(p.lr.Messages) {
		return
	}

	next := p.lr.Messages[index+1]
	nextPeek, ok := p.peek(next)
	if !ok || nextPeek.Direction != recording.FromHarness {
		// Nothing response-shaped immediately follows; there is no paired
		// response to consume (e.g. back-to-back commands with no
		// intervening event).
		return
	}

	streamID := p.peekStreamID(index)
	if nextPeek.Envelope.StreamID == streamID {
		p.consumed[next.Index] = true
		return
	}

	for i := index + 2; i < len(p.lr.Messages); i++ {
		if p.consumed[p.lr.Messages[i].Index] {
			continue
		}
		peek, ok := p.peek(p.lr.Messages[i])
		if !ok || peek.Direction != recording.FromHarness || peek.Envelope.StreamID != streamID {
			continue
		}
		p.consumed[p.lr.Messages[i].Index] = true
		return
	}

	// No matching from_harness message found anywhere ahead; fall back to
	// the literal positional pairing.
	p.consumed[next.Index] = true
}

func (p *Player) peekStreamID(index int) string {
	peek, ok := p.peek(p.lr.Messages[index])
	if !ok {
		return ""
	}
	return peek.Envelope.StreamID
}

func (p *Player) peek(m *recording.LazyMessage) (streamPeek, bool) {
	var sp streamPeek
	if err := json.Unmarshal(m.Raw, &sp); err != nil {
		return streamPeek{}, false
	}
	return sp, true
}

// MissErr builds the playback_miss error FindMatch's caller should surface
// when ok is false.
func MissErr(sessionID, hash string) error {
	return harnesserr.PlaybackMissErr(sessionID, hash)
}

// ResponseFor returns the from_harness message recorded immediately after
// index, decoded: the literal paired response a Handler sends back for a
// match at index (spec.md §4.D, "Contract for the paired response").
func (p *Player) ResponseFor(index int) (recording.RecordedMessage, bool, error) {
	if index+1 >= len(p.lr.Messages) {
		return recording.RecordedMessage{}, false, nil
	}
	msg, err := p.lr.Messages[index+1].Decode()
	if err != nil {
		return recording.RecordedMessage{}, false, err
	}
	return msg, true, nil
}
