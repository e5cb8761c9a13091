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

// Package intercept implements registered synthetic responses that
// pre-empt both passthrough and playback (spec.md §4.F).
package intercept

import (
	"encoding/json"
	"strings"
	"sync"
)

// Matcher is the condition an inbound command must satisfy for an
// Intercept to apply.
type Matcher struct {
	// Service must equal the command's service exactly.
	Service string
	// URLPattern, if set, must be a substring of payload.url (when that
	// field exists and is a string). Absent means any payload matches.
	URLPattern string
}

// Intercept is one registered synthetic response.
type Intercept struct {
	ID       string
	Matcher  Matcher
	Response json.RawMessage
	// Times is the use-count limit; nil means unlimited.
	Times *int
	Uses  int
}

// urlPayload is the surface-level shape intercept matching inspects to
// check Matcher.URLPattern; payload is otherwise opaque.
type urlPayload struct {
	URL string `json:"url"`
}

// Interceptor holds one ordered list of registered intercepts, consulted in
// insertion order on every inbound command.
type Interceptor struct {
	mu         sync.Mutex
	intercepts []*Intercept
}

// New returns an empty Interceptor.
func New() *Interceptor {
	return &Interceptor{}
}

// Register appends ic to the active list.
func (i *Interceptor) Register(ic *Intercept) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.intercepts = append(i.intercepts, ic)
}

// Unregister removes the intercept with the given id, if present. It
// reports whether anything was removed.
func (i *Interceptor) Unregister(id string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	for idx, ic := range i.intercepts {
		if ic.ID == id {
			i.intercepts = append(i.intercepts[:idx], i.intercepts[idx+1:]...)
			return true
		}
	}
	return false
}

// List returns a snapshot of the currently active intercepts, in insertion
// order.
func (i *Interceptor) List() []*Intercept {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]*Intercept, len(i.intercepts))
	copy(out, i.intercepts)
	return out
}

// Match walks the active list in insertion order and returns the response
// of the first intercept whose Matcher is satisfied by service/payload,
// incrementing its Uses and retiring it if Uses reaches Times.
func (i *Interceptor) Match(service string, payload json.RawMessage) (json.RawMessage, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for idx, ic := range i.intercepts {
		if !matches(ic.Matcher, service, payload) {
			continue
		}
		ic.Uses++
		resp := ic.Response
		if ic.Times != nil && ic.Uses >= *ic.Times {
			i.intercepts = append(i.intercepts[:idx], i.intercepts[idx+1:]...)
		}
		return resp, true
	}
	return nil, false
}

func matches(m Matcher, service string, payload json.RawMessage) bool {
	if m.Service != service {
		return false
	}
	if m.URLPattern == "" {
		return true
	}
	var up urlPayload
	if err := json.Unmarshal(payload, &up); err != nil {
		return false
	}
	return strings.Contains(up.URL, m.URLPattern)
}
