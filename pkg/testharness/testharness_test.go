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

package testharness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStart_ParsesReadinessLine(t *testing.T) {
	p, err := Start(context.Background(), Options{
		Path:    "/bin/sh",
		Args:    []string{"-c", "echo 'Harness server listening on port 9877'; sleep 5"},
		Timeout: 2 * time.Second,
	})
	require.NoError(t, err)
	require.Equal(t, "port 9877", p.Ready())
	require.NoError(t, p.Stop(time.Second))
}

func TestStart_TimesOutWithoutReadinessLine(t *testing.T) {
	_, err := Start(context.Background(), Options{
		Path:    "/bin/sh",
		Args:    []string{"-c", "sleep 5"},
		Timeout: 200 * time.Millisecond,
	})
	require.Error(t, err)
}

func TestStart_ReportsEarlyExit(t *testing.T) {
	_, err := Start(context.Background(), Options{
		Path:    "/bin/sh",
		Args:    []string{"-c", "exit 1"},
		Timeout: time.Second,
	})
	require.Error(t, err)
}
