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

// Package config holds the harness's runtime configuration: CLI flags with
// an optional YAML file supplying defaults flags override.
package config

import (
	"fmt"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v2"
)

// Mode mirrors session.Mode but is decoded independently so this package
// doesn't depend on internal/session.
type Mode string

const (
	Passthrough Mode = "passthrough"
	Record      Mode = "record"
	Playback    Mode = "playback"
)

// Config is the harness's fully-resolved runtime configuration (spec.md §6).
type Config struct {
	Mode Mode `yaml:"mode"`

	Port   int    `yaml:"port"`
	Socket string `yaml:"socket"`

	RecordingPath string `yaml:"recording_path"`
	RecordingDir  string `yaml:"recording_dir"`

	// Secrets are substrings redacted from recorded payloads before they are
	// written to disk (supplemented feature 1). echoclient takes its own
	// --secret flags and does not read this config.
	Secrets []string `yaml:"secrets"`

	// HeaderRules rewrites response header values in every reply sent back
	// on the program channel: intercept, passthrough, record and playback
	// (supplemented feature 2). Decoded as a
	// plain struct rather than internal/headerrules.Rule so this package
	// stays independent of it, matching Mode's relationship to
	// internal/session.Mode above.
	HeaderRules []HeaderRule `yaml:"header_rules"`
}

// HeaderRule is the YAML-decodable shape of an internal/headerrules.Rule.
type HeaderRule struct {
	Service string `yaml:"service"`
	Header  string `yaml:"header"`
	Regex   string `yaml:"regex"`
	Replace string `yaml:"replace"`
}

// Default returns the configuration spec.md §6's flag defaults describe:
// passthrough mode on port 9876.
func Default() Config {
	return Config{Mode: Passthrough, Port: 9876}
}

// ReadFile loads YAML defaults from filename on the real filesystem.
func ReadFile(filename string) (Config, error) {
	return ReadFileWithFs(afero.NewOsFs(), filename)
}

// ReadFileWithFs loads YAML defaults from filename on fs, starting from
// Default() so an omitted field keeps its default value.
func ReadFileWithFs(fs afero.Fs, filename string) (Config, error) {
	cfg := Default()
	buf, err := afero.ReadFile(fs, filename)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed parsing %s: %w", filename, err)
	}
	return cfg, nil
}

// RecordingPathFor resolves the path a session's recording should be loaded
// from or saved to: RecordingPath directly if set (single-session mode), or
// <RecordingDir>/<sessionId>/platform-recording.json if RecordingDir is set.
func (c Config) RecordingPathFor(sessionID string, pathFor func(dir, id string) string) string {
	if c.RecordingPath != "" {
		return c.RecordingPath
	}
	if c.RecordingDir != "" {
		return pathFor(c.RecordingDir, sessionID)
	}
	return ""
}
