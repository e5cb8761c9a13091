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

package intercept

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func TestMatch_ExactServiceNoPattern(t *testing.T) {
	i := New()
	i.Register(&Intercept{ID: "1", Matcher: Matcher{Service: "http"}, Response: json.RawMessage(`{"ok":true}`)})

	resp, ok := i.Match("http", json.RawMessage(`{"url":"https://example.com"}`))
	require.True(t, ok)
	require.JSONEq(t, `{"ok":true}`, string(resp))

	_, ok = i.Match("llm", json.RawMessage(`{}`))
	require.False(t, ok)
}

func TestMatch_URLPatternSubstring(t *testing.T) {
	i := New()
	i.Register(&Intercept{
		ID:      "1",
		Matcher: Matcher{Service: "http", URLPattern: "/widgets"},
		Response: json.RawMessage(`{"synthetic":true}`),
	})

	_, ok := i.Match("http", json.RawMessage(`{"url":"https://api.example.com/widgets/42"}`))
	require.True(t, ok)

	_, ok = i.Match("http", json.RawMessage(`{"url":"https://api.example.com/other"}`))
	require.False(t, ok)
}

func TestMatch_URLPatternDoesNotMatchWhenPayloadHasNoURLField(t *testing.T) {
	i := New()
	i.Register(&Intercept{ID: "1", Matcher: Matcher{Service: "http", URLPattern: "/widgets"}})

	_, ok := i.Match("http", json.RawMessage(`{"other":1}`))
	require.False(t, ok, "a urlPattern with no url field present must not match")
}

func TestMatch_FirstRegisteredWins(t *testing.T) {
	i := New()
	i.Register(&Intercept{ID: "first", Matcher: Matcher{Service: "http"}, Response: json.RawMessage(`"a"`)})
	i.Register(&Intercept{ID: "second", Matcher: Matcher{Service: "http"}, Response: json.RawMessage(`"b"`)})

	resp, ok := i.Match("http", json.RawMessage(`{}`))
	require.True(t, ok)
	require.Equal(t, `"a"`, string(resp))
}

func TestMatch_RetiresAfterTimesUses(t *testing.T) {
	i := New()
	i.Register(&Intercept{ID: "1", Matcher: Matcher{Service: "http"}, Times: intPtr(2)})

	_, ok := i.Match("http", json.RawMessage(`{}`))
	require.True(t, ok)
	require.Len(t, i.List(), 1)

	_, ok = i.Match("http", json.RawMessage(`{}`))
	require.True(t, ok)
	require.Empty(t, i.List(), "intercept must retire once uses reaches times")

	_, ok = i.Match("http", json.RawMessage(`{}`))
	require.False(t, ok)
}

func TestMatch_UnlimitedUsesNeverRetires(t *testing.T) {
	i := New()
	i.Register(&Intercept{ID: "1", Matcher: Matcher{Service: "http"}})

	for n := 0; n < 5; n++ {
		_, ok := i.Match("http", json.RawMessage(`{}`))
		require.True(t, ok)
	}
	require.Len(t, i.List(), 1)
}

func TestUnregister_RemovesById(t *testing.T) {
	i := New()
	i.Register(&Intercept{ID: "1", Matcher: Matcher{Service: "http"}})
	i.Register(&Intercept{ID: "2", Matcher: Matcher{Service: "llm"}})

	require.True(t, i.Unregister("1"))
	require.False(t, i.Unregister("1"), "unregistering twice finds nothing the second time")

	list := i.List()
	require.Len(t, list, 1)
	require.Equal(t, "2", list[0].ID)
}
