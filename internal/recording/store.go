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

package recording

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"

	"github.com/google/replay-harness/internal/harnesserr"
)

// readAndDecompress loads path (decompressing if it is zstd-compressed,
// either because its name ends in .zstd or because only the .zstd sibling
// of an otherwise-bare path exists) and returns the raw JSON bytes.
func readAndDecompress(fs afero.Fs, path string) ([]byte, error) {
	target := path
	compressed := strings.HasSuffix(path, ".zstd")
	if !compressed {
		if _, err := fs.Stat(path); err != nil {
			if zpath := path + ".zstd"; fileExists(fs, zpath) {
				target = zpath
				compressed = true
			} else {
				return nil, harnesserr.Wrap(harnesserr.IOError, err, "open recording %s", path)
			}
		}
	}

	data, err := afero.ReadFile(fs, target)
	if err != nil {
		return nil, harnesserr.Wrap(harnesserr.IOError, err, "read recording %s", target)
	}
	if !compressed {
		return data, nil
	}

	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, harnesserr.Wrap(harnesserr.IOError, err, "init zstd reader for %s", target)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, harnesserr.Wrap(harnesserr.IOError, err, "decompress %s", target)
	}
	return out, nil
}

func fileExists(fs afero.Fs, path string) bool {
	_, err := fs.Stat(path)
	return err == nil
}

// LoadEager reads path, validates its schema version, and fully decodes
// every message (spec.md §4.B).
func LoadEager(fs afero.Fs, path string) (Recording, error) {
	data, err := readAndDecompress(fs, path)
	if err != nil {
		return Recording{}, err
	}
	var r Recording
	if err := json.Unmarshal(data, &r); err != nil {
		return Recording{}, harnesserr.Wrap(harnesserr.ParseError, err, "parse recording %s", path)
	}
	if r.SchemaVersion != CurrentSchemaVersion {
		return Recording{}, harnesserr.New(harnesserr.SchemaIncompatible,
			"recording %s has schemaVersion %d, want %d", path, r.SchemaVersion, CurrentSchemaVersion)
	}
	return r, nil
}

// LoadLazy reads path the same way LoadEager does, but parses messages with
// the chunk-yielding streaming array parser instead of decoding them all
// up front (spec.md §4.B).
func LoadLazy(fs afero.Fs, path string) (*LazyRecording, error) {
	data, err := readAndDecompress(fs, path)
	if err != nil {
		return nil, err
	}
	return ParseLazy(data)
}

// Save marshals r as JSON and writes it zstd-compressed to path+".zstd";
// the uncompressed JSON is never written to path. Any file already at path
// is removed after the compressed write succeeds, so only the compressed
// form remains on disk.
func Save(fs afero.Fs, path string, r Recording) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return harnesserr.Wrap(harnesserr.IOError, err, "create recording directory for %s", path)
	}

	data, err := json.Marshal(r)
	if err != nil {
		return harnesserr.Wrap(harnesserr.Internal, err, "marshal recording")
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return harnesserr.Wrap(harnesserr.IOError, err, "init zstd writer")
	}
	defer enc.Close()
	compressed := enc.EncodeAll(data, make([]byte, 0, len(data)))

	zpath := path + ".zstd"
	if err := afero.WriteFile(fs, zpath, compressed, 0o644); err != nil {
		return harnesserr.Wrap(harnesserr.IOError, err, "write %s", zpath)
	}

	if fileExists(fs, path) {
		if err := fs.Remove(path); err != nil && !os.IsNotExist(err) {
			return harnesserr.Wrap(harnesserr.IOError, err, "remove uncompressed %s after compression", path)
		}
	}
	return nil
}

// PathFor builds the conventional per-session recording path used when the
// CLI is started with --recording-dir (spec.md §6): <dir>/<sessionId>/platform-recording.json.
func PathFor(recordingDir, sessionID string) string {
	return filepath.Join(recordingDir, sessionID, "platform-recording.json")
}
