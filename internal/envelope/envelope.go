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

// Package envelope defines the on-wire message shape shared by every
// channel (program, platform, control) and the content-addressed hash used
// to match requests against a recording.
package envelope

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Channel identifies which side of the harness a connection speaks for.
type Channel string

const (
	ChannelProgram  Channel = "program"
	ChannelPlatform Channel = "platform"
	ChannelControl  Channel = "control"
)

// PayloadKind tags the variant carried by an Envelope's Payload.
type PayloadKind string

const (
	KindCommandOpen  PayloadKind = "CommandOpen"
	KindCommandClose PayloadKind = "CommandClose"
	KindEventOpen    PayloadKind = "EventOpen"
	KindEventClose   PayloadKind = "EventClose"
)

// Payload is the tagged variant inside an Envelope.
type Payload struct {
	Kind    PayloadKind     `json:"kind"`
	Service string          `json:"service,omitempty"`
	Data    json.RawMessage `json:"payload,omitempty"`
}

// Envelope is the common wrapper described in spec.md §3.
type Envelope struct {
	StreamID          string    `json:"streamId"`
	TraceID           string    `json:"traceId"`
	CausationStreamID string    `json:"causationStreamId,omitempty"`
	ParentStreamID    string    `json:"parentStreamId,omitempty"`
	SiblingIndex      int       `json:"siblingIndex"`
	EventSeq          int       `json:"eventSeq"`
	Timestamp         time.Time `json:"timestamp"`
	Channel           Channel   `json:"channel"`
	PayloadHash       string    `json:"payloadHash,omitempty"`
	Payload           Payload   `json:"payload"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewULID generates a time-ordered, lexically-sortable identifier using the
// monotonic ULID entropy source. It is used for both streamId and traceId.
// Monotonic is not safe for concurrent use, so generation is serialized.
func NewULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Hash computes the SHA-256 of the canonical JSON of {service, payload} per
// spec.md §4.A. It is only meaningful for CommandOpen payloads.
func (p Payload) Hash() (string, error) {
	return HashServicePayload(p.Service, p.Data)
}

// HashServicePayload is the standalone form of Payload.Hash, usable before
// an Envelope has been fully constructed.
func HashServicePayload(service string, payload json.RawMessage) (string, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	combined, err := json.Marshal(struct {
		Service string          `json:"service"`
		Payload json.RawMessage `json:"payload"`
	}{Service: service, Payload: payload})
	if err != nil {
		return "", fmt.Errorf("marshal hash input: %w", err)
	}
	canon, err := Canonicalize(combined)
	if err != nil {
		return "", fmt.Errorf("canonicalize hash input: %w", err)
	}
	return sha256Hex(canon), nil
}
