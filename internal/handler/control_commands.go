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
	"encoding/json"

	"github.com/google/replay-harness/internal/envelope"
	"github.com/google/replay-harness/internal/harnesserr"
	"github.com/google/replay-harness/internal/hashindex"
	"github.com/google/replay-harness/internal/intercept"
	"github.com/google/replay-harness/internal/recording"
	"github.com/google/replay-harness/internal/session"
)

type statusPayload struct {
	SessionCount int    `json:"sessionCount"`
	BoundSession string `json:"boundSession,omitempty"`
}

func (h *Handler) handleGetStatus(requestID string) ControlResponse {
	h.mu.Lock()
	sessionID := h.sessionID
	h.mu.Unlock()
	return okResponse(requestID, statusPayload{
		SessionCount: len(h.registry.List()),
		BoundSession: sessionID,
	})
}

func (h *Handler) handleCreateSession(requestID string, params json.RawMessage) ControlResponse {
	var p CreateSessionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errorResponse(requestID, harnesserr.Wrap(harnesserr.ParseError, err, "malformed create_session params"))
	}

	mode := session.Mode(p.Mode)
	var (
		lr  *recording.LazyRecording
		idx *hashindex.Index
	)
	if mode == session.Playback {
		loaded, built, err := h.loader.LoadPlayback(p.RecordingPath)
		if err != nil {
			return errorResponse(requestID, err)
		}
		lr, idx = loaded, built
	}

	sess, err := h.registry.Create(p.SessionID, mode, p.RecordingPath, lr, idx)
	if err != nil {
		return errorResponse(requestID, err)
	}

	h.mu.Lock()
	h.sessionID = sess.ID
	h.sess = sess
	h.state = StateBound
	h.mu.Unlock()

	return okResponse(requestID, map[string]string{"sessionId": sess.ID})
}

func (h *Handler) handleCloseSession(requestID string, params json.RawMessage) ControlResponse {
	var p CloseSessionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errorResponse(requestID, harnesserr.Wrap(harnesserr.ParseError, err, "malformed close_session params"))
	}
	if err := h.registry.Close(p.SessionID); err != nil {
		return errorResponse(requestID, err)
	}
	return okResponse(requestID, nil)
}

type sessionSummary struct {
	ID       string `json:"id"`
	Mode     string `json:"mode"`
	OpenedAt string `json:"openedAt"`
}

func (h *Handler) handleListSessions(requestID string) ControlResponse {
	sessions := h.registry.List()
	out := make([]sessionSummary, len(sessions))
	for i, s := range sessions {
		out[i] = sessionSummary{ID: s.ID, Mode: string(s.Mode), OpenedAt: s.OpenedAt.Format("2006-01-02T15:04:05Z07:00")}
	}
	return okResponse(requestID, out)
}

func (h *Handler) handleRegisterIntercept(requestID string, params json.RawMessage) ControlResponse {
	var p RegisterInterceptParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errorResponse(requestID, harnesserr.Wrap(harnesserr.ParseError, err, "malformed register_intercept params"))
	}
	if p.Service == "" {
		return errorResponse(requestID, harnesserr.New(harnesserr.InterceptInvalid, "register_intercept requires a service"))
	}

	ic := &intercept.Intercept{
		ID:       envelope.NewULID(),
		Matcher:  intercept.Matcher{Service: p.Service, URLPattern: p.URLPattern},
		Response: p.Response,
		Times:    p.Times,
	}

	target := h.interceptorFor(p.SessionID)
	target.Register(ic)

	return okResponse(requestID, map[string]string{"interceptId": ic.ID})
}

func (h *Handler) handleUnregisterIntercept(requestID string, params json.RawMessage) ControlResponse {
	var p UnregisterInterceptParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errorResponse(requestID, harnesserr.Wrap(harnesserr.ParseError, err, "malformed unregister_intercept params"))
	}

	target := h.interceptorFor(p.SessionID)
	if !target.Unregister(p.InterceptID) {
		return errorResponse(requestID, harnesserr.New(harnesserr.InterceptInvalid, "no such intercept %s", p.InterceptID))
	}
	return okResponse(requestID, nil)
}

// interceptorFor resolves which Interceptor a register/unregister_intercept
// call targets: the named session's own list if sessionID is set and
// resolves, otherwise the registry-wide global list (Open Question 1).
func (h *Handler) interceptorFor(sessionID string) *intercept.Interceptor {
	if sessionID != "" {
		if sess, ok := h.registry.Get(sessionID); ok {
			return sess.Interceptor
		}
	}
	return h.registry.Global()
}
