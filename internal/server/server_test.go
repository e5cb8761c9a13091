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

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/google/replay-harness/internal/hashindex"
	"github.com/google/replay-harness/internal/recording"
	"github.com/google/replay-harness/internal/session"
)

type memLoader struct{ fs afero.Fs }

func (l memLoader) LoadPlayback(path string) (*recording.LazyRecording, *hashindex.Index, error) {
	lr, err := recording.LoadLazy(l.fs, path)
	if err != nil {
		return nil, nil, err
	}
	return lr, hashindex.Build(lr), nil
}

func TestServer_AcceptsControlConnectionAndCreatesSession(t *testing.T) {
	registry := session.NewRegistry(afero.NewMemMapFs())
	srv := New(registry, memLoader{fs: afero.NewMemMapFs()}, session.Passthrough, nil)

	ln, err := ListenTCP(0)
	require.NoError(t, err)
	addr := ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx, ln) }()

	url := fmt.Sprintf("ws://%s/?channel=control", addr)
	var conn *websocket.Conn
	for i := 0; i < 20; i++ {
		conn, _, err = websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	defer conn.Close()

	payload, err := json.Marshal(map[string]any{"command": "create_session", "params": map[string]any{"sessionId": "s1", "mode": "passthrough"}})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(map[string]any{"channel": "control", "requestId": "r1", "payload": json.RawMessage(payload)}))

	var resp struct {
		Success bool `json:"success"`
	}
	require.NoError(t, conn.ReadJSON(&resp))
	require.True(t, resp.Success)

	_, ok := registry.Get("s1")
	require.True(t, ok)

	cancel()
	select {
	case err := <-serveErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}
