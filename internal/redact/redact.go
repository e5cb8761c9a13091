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

// Package redact scrubs operator-supplied secret substrings out of whatever
// the harness is about to persist or print: a recorded payload before it
// hits the recording store, or a reply before an example client logs it.
// Every method is nil-receiver safe, so a harness run with no configured
// secrets carries a *Redactor around unconditionally and it's simply a
// no-op.
package redact

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Placeholder replaces every matched secret.
const Placeholder = "REDACTED"

// Redactor replaces a fixed set of secret substrings wherever they appear.
type Redactor struct {
	re *regexp.Regexp
}

// New compiles secrets into a Redactor. Empty strings are ignored; a
// Redactor with nothing to match is still safe to call methods on.
func New(secrets []string) (*Redactor, error) {
	var quoted []string
	for _, s := range secrets {
		if s != "" {
			quoted = append(quoted, regexp.QuoteMeta(s))
		}
	}
	if len(quoted) == 0 {
		return &Redactor{}, nil
	}
	re, err := regexp.Compile(strings.Join(quoted, "|"))
	if err != nil {
		return nil, err
	}
	return &Redactor{re: re}, nil
}

// String redacts secrets found in input.
func (r *Redactor) String(input string) string {
	if r == nil || r.re == nil {
		return input
	}
	return r.re.ReplaceAllString(input, Placeholder)
}

// Bytes redacts secrets found in input, leaving a nil input nil.
func (r *Redactor) Bytes(input []byte) []byte {
	if r == nil || r.re == nil || input == nil {
		return input
	}
	return r.re.ReplaceAll(input, []byte(Placeholder))
}

// Payload redacts every string leaf inside an opaque JSON payload — the
// shape a CommandOpen/EventOpen/EventClose carries (spec.md §3) — without
// disturbing its structure. A payload that doesn't decode as JSON (or is
// empty) is returned byte-redacted instead, so malformed input still gets
// scrubbed rather than silently skipped.
func (r *Redactor) Payload(data json.RawMessage) json.RawMessage {
	if r == nil || r.re == nil || len(data) == 0 {
		return data
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return r.Bytes(data)
	}

	out, err := json.Marshal(r.walk(v))
	if err != nil {
		return r.Bytes(data)
	}
	return out
}

func (r *Redactor) walk(v any) any {
	switch val := v.(type) {
	case string:
		return r.String(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = r.walk(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = r.walk(child)
		}
		return out
	default:
		return v
	}
}
