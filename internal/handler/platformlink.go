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

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/replay-harness/internal/envelope"
)

// PlatformLink forwards a program-channel command to the upstream-adapter
// side and waits for its EventClose reply. The upstream client itself is an
// external collaborator (spec.md §1); PlatformLink is only the contract a
// Handler needs against it, plus the wiring to an actual platform
// connection bound to the same session.
type PlatformLink interface {
	Forward(ctx context.Context, cmd envelope.Envelope) (envelope.Envelope, error)
}

// WSPlatformLink bridges program-channel commands to a platform connection
// bound to the same session: it sends the command as a JSON frame and waits
// for the EventClose carrying the matching streamId.
type WSPlatformLink struct {
	conn wsConn

	mu      sync.Mutex
	pending map[string]chan envelope.Envelope
}

// NewWSPlatformLink wraps conn, the platform-channel connection for one
// session.
func NewWSPlatformLink(conn wsConn) *WSPlatformLink {
	return &WSPlatformLink{conn: conn, pending: make(map[string]chan envelope.Envelope)}
}

// Forward sends cmd to the platform connection and blocks until its
// EventClose reply arrives on the same stream, or ctx is done.
func (l *WSPlatformLink) Forward(ctx context.Context, cmd envelope.Envelope) (envelope.Envelope, error) {
	ch := make(chan envelope.Envelope, 1)
	l.mu.Lock()
	l.pending[cmd.StreamID] = ch
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.pending, cmd.StreamID)
		l.mu.Unlock()
	}()

	if err := l.conn.WriteJSON(cmd); err != nil {
		return envelope.Envelope{}, fmt.Errorf("forward command to platform: %w", err)
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return envelope.Envelope{}, ctx.Err()
	}
}

// Dispatch routes an event arriving on the platform connection to the
// goroutine blocked in Forward for its stream, if any. The platform read
// loop (run by the Server for the platform-channel connection) calls this
// for every EventOpen/EventClose it receives.
func (l *WSPlatformLink) Dispatch(ev envelope.Envelope) bool {
	l.mu.Lock()
	ch, ok := l.pending[ev.StreamID]
	l.mu.Unlock()
	if !ok {
		return false
	}
	if ev.Payload.Kind != envelope.KindEventClose {
		// EventOpen precedes EventClose on the same stream; only the
		// terminal event completes Forward's wait.
		return true
	}
	ch <- ev
	return true
}
