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

// Package server implements §4.I: accepting WebSocket connections on a TCP
// port or a UNIX domain socket, dispatching each to a handler.Handler, and
// shutting down cleanly.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/gorilla/websocket"

	"github.com/google/replay-harness/internal/envelope"
	"github.com/google/replay-harness/internal/handler"
	"github.com/google/replay-harness/internal/hashindex"
	"github.com/google/replay-harness/internal/recording"
	"github.com/google/replay-harness/internal/session"
)

// upgrader mirrors the teacher's proxy upgrader (recording_https_proxy.go):
// generous buffers and no origin restriction, since this is a local test
// harness rather than a public-facing service.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server accepts connections and dispatches them to per-connection Handlers
// sharing one session.Registry and handler.PlatformLinks.
type Server struct {
	registry *session.Registry
	loader   handler.Loader
	links    *handler.PlatformLinks

	// defaultMode and recordingPathFor resolve the process-wide --mode and
	// --recording-path/--recording-dir flags (spec.md §6) into the session
	// an implicit ?session=<id> connection gets auto-created into, the
	// first time that id is seen.
	defaultMode      session.Mode
	recordingPathFor func(sessionID string) string

	httpServer *http.Server
}

// New builds a Server over registry, using loader to resolve playback
// recordings. defaultMode and recordingPathFor configure the session an
// implicit ?session=<id> connection is auto-created into.
func New(registry *session.Registry, loader handler.Loader, defaultMode session.Mode, recordingPathFor func(sessionID string) string) *Server {
	return &Server{
		registry:         registry,
		loader:           loader,
		links:            handler.NewPlatformLinks(),
		defaultMode:      defaultMode,
		recordingPathFor: recordingPathFor,
	}
}

// ListenTCP binds a TCP listener on port.
func ListenTCP(port int) (net.Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", port, err)
	}
	return ln, nil
}

// ListenUnix binds a UNIX domain socket listener at path, removing any stale
// socket file left behind by a previous run first.
func ListenUnix(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket %s: %w", path, err)
	}
	return ln, nil
}

// Serve accepts connections on ln until ctx is cancelled, at which point it
// shuts down cleanly: closing every session (flushing recorders), then
// stopping acceptance (spec.md §4.I). It blocks until shutdown completes.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.httpServer = &http.Server{Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// shutdown closes every live session (flushing recorders in Record mode)
// before stopping the HTTP server from accepting further connections.
func (s *Server) shutdown() error {
	for _, sess := range s.registry.List() {
		_ = s.registry.Close(sess.ID)
	}
	return s.httpServer.Close()
}

// handleUpgrade upgrades an incoming connection and dispatches it to a new
// Handler. The "session" and "channel" query parameters implement the
// ?session=<id> URL selector (spec.md §4.I); a connection with neither set
// is left unbound and must create or attach to a session via control
// commands, each of which carries its own sessionId.
func (s *Server) handleUpgrade(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}

	h := handler.New(s.registry, s.loader, s.links, conn)

	sessionID := req.URL.Query().Get("session")
	channel := envelope.Channel(req.URL.Query().Get("channel"))
	if sessionID != "" && (channel == envelope.ChannelProgram || channel == envelope.ChannelPlatform) {
		if _, ok := s.registry.Get(sessionID); !ok {
			if err := s.createImplicitSession(sessionID); err != nil {
				conn.Close()
				return
			}
		}
		if err := h.Bind(sessionID, channel); err != nil {
			conn.Close()
			return
		}
	}

	// A hijacked websocket connection outlives this handler's invocation, so
	// it must not inherit a context that's cancelled when handleUpgrade
	// returns (spec.md §5: "no server-side request timeout on replay
	// operations").
	go h.Serve(context.Background())
}

// createImplicitSession creates sessionID in the server's default mode, the
// first time a ?session=<id> connection names an id the registry hasn't
// seen yet (spec.md §3 "Lifecycle": "...or implicitly by a connection whose
// URL carries a session=... selector").
func (s *Server) createImplicitSession(sessionID string) error {
	path := ""
	if s.recordingPathFor != nil {
		path = s.recordingPathFor(sessionID)
	}

	var (
		lr  *recording.LazyRecording
		idx *hashindex.Index
	)
	if s.defaultMode == session.Playback {
		loaded, built, err := s.loader.LoadPlayback(path)
		if err != nil {
			return err
		}
		lr, idx = loaded, built
	}

	_, err := s.registry.Create(sessionID, s.defaultMode, path, lr, idx)
	return err
}
