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

package session

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/google/replay-harness/internal/harnesserr"
)

func TestCreate_DuplicateIdFails(t *testing.T) {
	r := NewRegistry(afero.NewMemMapFs())
	_, err := r.Create("s1", Passthrough, "", nil, nil)
	require.NoError(t, err)

	_, err = r.Create("s1", Passthrough, "", nil, nil)
	require.Error(t, err)
	herr, ok := harnesserr.As(err)
	require.True(t, ok)
	require.Equal(t, harnesserr.SessionConflict, herr.Code)
}

func TestClose_UnknownIdFails(t *testing.T) {
	r := NewRegistry(afero.NewMemMapFs())
	err := r.Close("nonexistent")
	require.Error(t, err)
	herr, ok := harnesserr.As(err)
	require.True(t, ok)
	require.Equal(t, harnesserr.SessionConflict, herr.Code)
}

func TestClose_IsIdempotentAfterFirstClose(t *testing.T) {
	r := NewRegistry(afero.NewMemMapFs())
	_, err := r.Create("s1", Passthrough, "", nil, nil)
	require.NoError(t, err)

	require.NoError(t, r.Close("s1"))
	require.NoError(t, r.Close("s1"), "second close of a session already closed must be a no-op")
}

func TestClose_RecordModeFlushesRecorder(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := NewRegistry(fs)
	path := "/recordings/s1/platform-recording.json"
	_, err := r.Create("s1", Record, path, nil, nil)
	require.NoError(t, err)

	require.NoError(t, r.Close("s1"))

	_, err = fs.Stat(path + ".zstd")
	require.NoError(t, err, "record-mode close must flush the recorder to disk")
}

func TestList_ReturnsAllLiveSessions(t *testing.T) {
	r := NewRegistry(afero.NewMemMapFs())
	_, err := r.Create("s1", Passthrough, "", nil, nil)
	require.NoError(t, err)
	_, err = r.Create("s2", Passthrough, "", nil, nil)
	require.NoError(t, err)

	require.Len(t, r.List(), 2)
	require.NoError(t, r.Close("s1"))
	require.Len(t, r.List(), 1)
}

func TestStreamTranslator_BindIsFirstWriteWins(t *testing.T) {
	tr := newStreamTranslator()
	tr.Bind("orig-1", "live-1")
	tr.Bind("orig-1", "live-2") // should be ignored, already bound

	live, ok := tr.Live("orig-1")
	require.True(t, ok)
	require.Equal(t, "live-1", live)

	orig, ok := tr.Original("live-1")
	require.True(t, ok)
	require.Equal(t, "orig-1", orig)

	_, ok = tr.Original("live-2")
	require.False(t, ok)
}
