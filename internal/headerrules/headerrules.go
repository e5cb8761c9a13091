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

// Package headerrules applies regex-based header value rewrites to a
// response payload before it is forwarded or replayed, generalizing the
// upstream-proxy response header rewriting into a rule that operates on the
// envelope's opaque JSON payload instead of an http.Header.
package headerrules

import (
	"encoding/json"
	"regexp"
)

// Rule rewrites one header value inside a response payload shaped like
// {"headers": {"<Header>": "value" | ["value", ...]}, ...}, matching on the
// header name and a regex applied to each of its string values.
type Rule struct {
	// Service restricts the rule to responses for that service; empty
	// means every service.
	Service string
	Header  string
	Regex   string
	Replace string

	re *regexp.Regexp
}

// Compile parses Regex once, so Apply doesn't recompile it per call. Rules
// built by hand must call Compile before use; rules decoded from JSON/YAML
// should call it immediately after decoding.
func (r *Rule) Compile() error {
	re, err := regexp.Compile(r.Regex)
	if err != nil {
		return err
	}
	r.re = re
	return nil
}

// Set is an ordered list of header rewrite rules, all applied to a matching
// response in sequence.
type Set struct {
	rules []*Rule
}

// NewSet compiles every rule and returns a Set, or the first compile error.
func NewSet(rules []*Rule) (*Set, error) {
	for _, r := range rules {
		if err := r.Compile(); err != nil {
			return nil, err
		}
	}
	return &Set{rules: rules}, nil
}

// Apply rewrites matching header values inside payload (a
// {"headers": {...}, ...} shaped JSON document) for the given service,
// returning the rewritten payload. Payloads with no "headers" object, or
// with a "headers" value that isn't a JSON object, are returned unchanged.
func (s *Set) Apply(service string, payload json.RawMessage) (json.RawMessage, error) {
	if s == nil || len(s.rules) == 0 || len(payload) == 0 {
		return payload, nil
	}

	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return payload, nil
	}
	headersAny, ok := doc["headers"]
	if !ok {
		return payload, nil
	}
	headers, ok := headersAny.(map[string]any)
	if !ok {
		return payload, nil
	}

	for _, rule := range s.rules {
		if rule.Service != "" && rule.Service != service {
			continue
		}
		value, ok := headers[rule.Header]
		if !ok {
			continue
		}
		headers[rule.Header] = rewriteHeaderValue(value, rule.re, rule.Replace)
	}
	doc["headers"] = headers

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func rewriteHeaderValue(value any, re *regexp.Regexp, replace string) any {
	switch v := value.(type) {
	case string:
		return re.ReplaceAllString(v, replace)
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = rewriteHeaderValue(elem, re, replace)
		}
		return out
	default:
		return value
	}
}
