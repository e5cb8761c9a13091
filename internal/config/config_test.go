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

package config

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
)

func TestReadFileWithFs(t *testing.T) {
	tests := []struct {
		name        string
		fileContent string
		filePath    string
		wantErr     bool
		wantConfig  Config
	}{
		{
			name: "valid config",
			fileContent: `mode: record
recording_dir: /recordings
secrets:
  - sk-test-1`,
			filePath: "/test-config.yaml",
			wantErr:  false,
			wantConfig: Config{
				Mode:         Record,
				Port:         9876,
				RecordingDir: "/recordings",
				Secrets:      []string{"sk-test-1"},
			},
		},
		{
			name:        "non-existent file",
			fileContent: "",
			filePath:    "/non-existent.yaml",
			wantErr:     true,
		},
		{
			name:        "invalid yaml",
			fileContent: "invalid: - yaml: content",
			filePath:    "/invalid.yaml",
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			if tt.fileContent != "" {
				err := afero.WriteFile(fs, tt.filePath, []byte(tt.fileContent), 0644)
				if err != nil {
					t.Fatalf("Failed to write test file: %v", err)
				}
			}

			got, err := ReadFileWithFs(fs, tt.filePath)

			if (err != nil) != tt.wantErr {
				t.Errorf("ReadFileWithFs() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tt.wantConfig, got, "Config structs should match")
		})
	}
}

func TestDefault_IsPassthroughOnDefaultPort(t *testing.T) {
	cfg := Default()
	assert.Equal(t, Passthrough, cfg.Mode)
	assert.Equal(t, 9876, cfg.Port)
}

func TestRecordingPathFor_PrefersExplicitPath(t *testing.T) {
	cfg := Config{RecordingPath: "/explicit.json", RecordingDir: "/dir"}
	got := cfg.RecordingPathFor("s1", func(dir, id string) string { return dir + "/" + id })
	assert.Equal(t, "/explicit.json", got)
}

func TestRecordingPathFor_FallsBackToDir(t *testing.T) {
	cfg := Config{RecordingDir: "/dir"}
	got := cfg.RecordingPathFor("s1", func(dir, id string) string { return dir + "/" + id })
	assert.Equal(t, "/dir/s1", got)
}
