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

// Package handler implements the per-connection state machine that routes
// requests through Intercept -> Player/Upstream -> Recorder (spec.md §4.H).
package handler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/replay-harness/internal/envelope"
	"github.com/google/replay-harness/internal/harnesserr"
	"github.com/google/replay-harness/internal/hashindex"
	"github.com/google/replay-harness/internal/player"
	"github.com/google/replay-harness/internal/recording"
	"github.com/google/replay-harness/internal/session"
)

// State is where a connection sits in the Unbound -> Bound -> Closed
// lifecycle (spec.md §4.H).
type State int

const (
	StateUnbound State = iota
	StateBound
	StateClosed
)

// wsConn is the subset of *websocket.Conn the handler needs, so tests can
// substitute an in-memory fake instead of a real socket.
type wsConn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Loader resolves the recording + hash index a new Playback session needs.
// It is the seam the Server fills in with internal/recording +
// internal/hashindex against the real filesystem.
type Loader interface {
	LoadPlayback(path string) (*recording.LazyRecording, *hashindex.Index, error)
}

// Handler drives one connection: reading frames, dispatching them, writing
// replies. One Handler serves exactly one wsConn for its lifetime.
type Handler struct {
	registry *session.Registry
	loader   Loader
	conn     wsConn

	// platformLinks lets a program-channel Handler find the PlatformLink a
	// platform-channel connection registered for the same session.
	platformLinks *PlatformLinks

	mu        sync.Mutex
	state     State
	channel   envelope.Channel
	sessionID string
	sess      *session.Session

	// fifo serializes program-channel command processing within this
	// connection, per spec.md §5's FIFO-per-session requirement.
	fifo sync.Mutex
}

// PlatformLinks maps a session id to the PlatformLink its bound
// platform connection exposes, so a program-channel Handler can forward to
// it without the two connections knowing about each other directly.
type PlatformLinks struct {
	mu    sync.Mutex
	links map[string]PlatformLink
}

// NewPlatformLinks returns an empty registry, shared by every
// Handler the Server creates.
func NewPlatformLinks() *PlatformLinks {
	return &PlatformLinks{links: make(map[string]PlatformLink)}
}

func (r *PlatformLinks) Set(sessionID string, link PlatformLink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links[sessionID] = link
}

func (r *PlatformLinks) Get(sessionID string) (PlatformLink, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[sessionID]
	return l, ok
}

func (r *PlatformLinks) Delete(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.links, sessionID)
}

// New creates a Handler for one connection.
func New(registry *session.Registry, loader Loader, links *PlatformLinks, conn wsConn) *Handler {
	return &Handler{
		registry:      registry,
		loader:        loader,
		conn:          conn,
		platformLinks: links,
		state:         StateUnbound,
	}
}

// Bind attaches this connection to sessionID on the given channel, either
// from a ?session= URL selector (Server) or a control bind command.
func (h *Handler) Bind(sessionID string, channel envelope.Channel) error {
	sess, ok := h.registry.Get(sessionID)
	if !ok {
		return harnesserr.New(harnesserr.SessionConflict, "no such session %s", sessionID)
	}
	h.mu.Lock()
	h.sessionID = sessionID
	h.channel = channel
	h.sess = sess
	h.state = StateBound
	h.mu.Unlock()

	if channel == envelope.ChannelPlatform {
		h.platformLinks.Set(sessionID, NewWSPlatformLink(h.conn))
	}
	return nil
}

// Close marks the connection closed and, if it was the platform side,
// unregisters its PlatformLink.
func (h *Handler) Close() {
	h.mu.Lock()
	h.state = StateClosed
	sessionID, channel := h.sessionID, h.channel
	h.mu.Unlock()

	if channel == envelope.ChannelPlatform && sessionID != "" {
		h.platformLinks.Delete(sessionID)
	}
	h.conn.Close()
}

// HandleProgramCommand implements the request flow of spec.md §4.H for a
// CommandOpen received on the program channel, returning the envelope to
// send back to the client. A playback_miss is returned as an *harnesserr.Error
// so the caller can render it as a structured error frame without killing
// the session.
func (h *Handler) HandleProgramCommand(ctx context.Context, cmd envelope.Envelope) (envelope.Envelope, error) {
	h.fifo.Lock()
	defer h.fifo.Unlock()

	h.mu.Lock()
	sess := h.sess
	h.mu.Unlock()
	if sess == nil {
		return envelope.Envelope{}, harnesserr.New(harnesserr.Internal, "program command on unbound connection")
	}

	hash, err := cmd.Payload.Hash()
	if err != nil {
		return envelope.Envelope{}, harnesserr.Wrap(harnesserr.Internal, err, "hash command payload")
	}
	cmd.PayloadHash = hash

	var reply envelope.Envelope
	if resp, ok := matchIntercept(sess, h.registry, cmd.Payload.Service, cmd.Payload.Data); ok {
		reply, err = h.handleInterceptHit(sess, cmd, hash, resp)
	} else {
		switch sess.Mode {
		case session.Passthrough:
			reply, err = h.forward(ctx, sess, cmd)
		case session.Record:
			reply, err = h.handleRecord(ctx, sess, cmd)
		case session.Playback:
			reply, err = h.handlePlayback(sess, cmd, hash)
		default:
			err = harnesserr.New(harnesserr.Internal, "session %s has unknown mode", sess.ID)
		}
	}
	if err != nil {
		return envelope.Envelope{}, err
	}

	reply.Payload.Data, err = sess.HeaderRules.Apply(reply.Payload.Service, reply.Payload.Data)
	if err != nil {
		return envelope.Envelope{}, harnesserr.Wrap(harnesserr.Internal, err, "apply header rules for session %s", sess.ID)
	}
	return reply, nil
}

// matchIntercept consults the session's own intercepts, then the registry's
// global list (Open Question 1's resolution).
func matchIntercept(sess *session.Session, registry *session.Registry, service string, payload []byte) ([]byte, bool) {
	if resp, ok := sess.Interceptor.Match(service, payload); ok {
		return resp, true
	}
	return registry.Global().Match(service, payload)
}

func (h *Handler) handleInterceptHit(sess *session.Session, cmd envelope.Envelope, hash string, resp []byte) (envelope.Envelope, error) {
	switch sess.Mode {
	case session.Playback:
		if sess.Player != nil {
			if _, err := sess.Player.ConsumeByHash(hash); err != nil {
				return envelope.Envelope{}, err
			}
		}
	case session.Record:
		if err := sess.Recorder.Append(recording.ToHarness, cmd); err != nil {
			return envelope.Envelope{}, err
		}
	}

	reply := syntheticEventClose(cmd, resp)

	if sess.Mode == session.Record {
		if err := sess.Recorder.Append(recording.FromHarness, reply); err != nil {
			return envelope.Envelope{}, err
		}
	}
	return reply, nil
}

func syntheticEventClose(cmd envelope.Envelope, data []byte) envelope.Envelope {
	return envelope.Envelope{
		StreamID:  cmd.StreamID,
		TraceID:   cmd.TraceID,
		Timestamp: time.Now().UTC(),
		Channel:   envelope.ChannelProgram,
		Payload: envelope.Payload{
			Kind:    envelope.KindEventClose,
			Service: cmd.Payload.Service,
			Data:    data,
		},
	}
}

func (h *Handler) forward(ctx context.Context, sess *session.Session, cmd envelope.Envelope) (envelope.Envelope, error) {
	link, ok := h.platformLinks.Get(sess.ID)
	if !ok {
		return envelope.Envelope{}, harnesserr.New(harnesserr.Internal, "session %s has no bound platform connection", sess.ID)
	}
	reply, err := link.Forward(ctx, cmd)
	if err != nil {
		return envelope.Envelope{}, harnesserr.Wrap(harnesserr.IOError, err, "forward to platform for session %s", sess.ID)
	}
	return reply, nil
}

func (h *Handler) handleRecord(ctx context.Context, sess *session.Session, cmd envelope.Envelope) (envelope.Envelope, error) {
	if err := sess.Recorder.Append(recording.ToHarness, cmd); err != nil {
		return envelope.Envelope{}, err
	}
	reply, err := h.forward(ctx, sess, cmd)
	if err != nil {
		return envelope.Envelope{}, err
	}
	if err := sess.Recorder.Append(recording.FromHarness, reply); err != nil {
		return envelope.Envelope{}, err
	}
	return reply, nil
}

func (h *Handler) handlePlayback(sess *session.Session, cmd envelope.Envelope, hash string) (envelope.Envelope, error) {
	match, ok, err := sess.Player.FindMatch(hash)
	if err != nil {
		return envelope.Envelope{}, err
	}
	if !ok {
		return envelope.Envelope{}, player.MissErr(sess.ID, hash)
	}

	resp, ok, err := sess.Player.ResponseFor(match.Index)
	if err != nil {
		return envelope.Envelope{}, err
	}
	if !ok {
		return envelope.Envelope{}, player.MissErr(sess.ID, hash)
	}

	return h.translateRecordedReply(sess, cmd, resp.Envelope), nil
}

// translateRecordedReply substitutes the recorded reply's original
// stream/trace/causation/parent ids for their live counterparts, binding
// the original->live pair on first use, and retimes the reply to now
// (spec.md §4.H "Id translation").
func (h *Handler) translateRecordedReply(sess *session.Session, cmd envelope.Envelope, recorded envelope.Envelope) envelope.Envelope {
	sess.Streams.Bind(recorded.StreamID, cmd.StreamID)
	sess.Streams.Bind(recorded.TraceID, cmd.TraceID)

	out := recorded
	out.StreamID = cmd.StreamID
	out.TraceID = cmd.TraceID
	out.Timestamp = time.Now().UTC()
	if recorded.CausationStreamID != "" {
		if live, ok := sess.Streams.Live(recorded.CausationStreamID); ok {
			out.CausationStreamID = live
		}
	}
	if recorded.ParentStreamID != "" {
		if live, ok := sess.Streams.Live(recorded.ParentStreamID); ok {
			out.ParentStreamID = live
		}
	}
	return out
}

// Serve reads frames off the connection until it errors or ctx is done,
// dispatching each by its "channel" discriminator (spec.md §4.H/§6). It
// returns once the connection is no longer usable; callers run it in its own
// goroutine per accepted connection.
func (h *Handler) Serve(ctx context.Context) {
	defer h.Close()
	for {
		var raw json.RawMessage
		if err := h.conn.ReadJSON(&raw); err != nil {
			return
		}

		var peek channelPeek
		if err := json.Unmarshal(raw, &peek); err != nil {
			// Malformed framing closes only this connection (spec.md §7).
			return
		}

		switch envelope.Channel(peek.Channel) {
		case envelope.ChannelControl:
			h.serveControlFrame(raw)
		case envelope.ChannelProgram:
			if !h.serveProgramFrame(ctx, raw) {
				return
			}
		case envelope.ChannelPlatform:
			h.servePlatformFrame(raw)
		default:
			// Unrecognised channel on an otherwise well-formed frame: ignore
			// it rather than tearing down the connection.
		}
	}
}

func (h *Handler) serveControlFrame(raw json.RawMessage) {
	var req ControlRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}
	resp := h.HandleControl(req)
	_ = h.conn.WriteJSON(resp)
}

// serveProgramFrame handles one program-channel envelope, returning false if
// the connection should be torn down (a write failure, not a playback miss).
func (h *Handler) serveProgramFrame(ctx context.Context, raw json.RawMessage) bool {
	var cmd envelope.Envelope
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return false
	}

	reply, err := h.HandleProgramCommand(ctx, cmd)
	if err != nil {
		return h.conn.WriteJSON(programError(cmd, err)) == nil
	}
	return h.conn.WriteJSON(reply) == nil
}

func programError(cmd envelope.Envelope, err error) ProgramError {
	code := string(harnesserr.Internal)
	if herr, ok := harnesserr.As(err); ok {
		code = string(herr.Code)
	}
	return ProgramError{
		Channel:  string(envelope.ChannelProgram),
		StreamID: cmd.StreamID,
		TraceID:  cmd.TraceID,
		Error:    ControlError{Message: err.Error(), Code: code},
	}
}

// servePlatformFrame routes an EventOpen/EventClose arriving on the platform
// connection to the goroutine blocked in WSPlatformLink.Forward for its
// stream.
func (h *Handler) servePlatformFrame(raw json.RawMessage) {
	var ev envelope.Envelope
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}

	h.mu.Lock()
	sess := h.sess
	h.mu.Unlock()
	if sess == nil {
		return
	}
	if link, ok := h.platformLinks.Get(sess.ID); ok {
		if wl, ok := link.(*WSPlatformLink); ok {
			wl.Dispatch(ev)
		}
	}
}

// HandleControl dispatches one control-channel command (spec.md §6).
func (h *Handler) HandleControl(req ControlRequest) ControlResponse {
	var cmd controlCommand
	if err := json.Unmarshal(req.Payload, &cmd); err != nil {
		return errorResponse(req.RequestID, harnesserr.Wrap(harnesserr.ParseError, err, "malformed control payload"))
	}

	switch cmd.Command {
	case "get_status":
		return h.handleGetStatus(req.RequestID)
	case "create_session":
		return h.handleCreateSession(req.RequestID, cmd.Params)
	case "close_session":
		return h.handleCloseSession(req.RequestID, cmd.Params)
	case "list_sessions":
		return h.handleListSessions(req.RequestID)
	case "register_intercept":
		return h.handleRegisterIntercept(req.RequestID, cmd.Params)
	case "unregister_intercept":
		return h.handleUnregisterIntercept(req.RequestID, cmd.Params)
	default:
		return errorResponse(req.RequestID, harnesserr.New(harnesserr.InterceptInvalid, "unrecognised control command %q", cmd.Command))
	}
}

func errorResponse(requestID string, err error) ControlResponse {
	code := string(harnesserr.Internal)
	if herr, ok := harnesserr.As(err); ok {
		code = string(herr.Code)
	}
	return ControlResponse{
		Channel:   "control",
		RequestID: requestID,
		Success:   false,
		Error:     &ControlError{Message: err.Error(), Code: code},
	}
}

func okResponse(requestID string, payload any) ControlResponse {
	data, err := json.Marshal(payload)
	if err != nil {
		return errorResponse(requestID, harnesserr.Wrap(harnesserr.Internal, err, "marshal control response"))
	}
	return ControlResponse{Channel: "control", RequestID: requestID, Success: true, Payload: data}
}
