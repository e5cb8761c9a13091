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

// Package cmd implements the replay harness's command-line entrypoint
// (spec.md §6): a single binary selecting its mode via --mode rather than a
// verb per mode, since one session registry may carry sessions in any mode
// at once.
package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/google/replay-harness/internal/config"
	"github.com/google/replay-harness/internal/hashindex"
	"github.com/google/replay-harness/internal/headerrules"
	"github.com/google/replay-harness/internal/redact"
	"github.com/google/replay-harness/internal/recording"
	"github.com/google/replay-harness/internal/server"
	"github.com/google/replay-harness/internal/session"
)

var (
	cfgFile       string
	modeFlag      string
	portFlag      int
	socketFlag    string
	recordingPath string
	recordingDir  string
	secretFlags   []string
)

var rootCmd = &cobra.Command{
	Use:   "replay",
	Short: "A WebSocket record/replay proxy test harness",
	Long: `replay runs a WebSocket-based test harness that operates in one of
three modes: passthrough (forward to a real upstream), record (forward and
persist the exchange), or playback (answer purely from a stored recording).`,
	RunE: runServer,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "optional YAML config file supplying defaults")
	rootCmd.Flags().StringVar(&modeFlag, "mode", "", "passthrough, record, or playback (default passthrough)")
	rootCmd.Flags().IntVar(&portFlag, "port", 0, "TCP port to listen on (default 9876)")
	rootCmd.Flags().StringVar(&socketFlag, "socket", "", "UNIX domain socket path to listen on, instead of --port")
	rootCmd.Flags().StringVar(&recordingPath, "recording-path", "", "single recording file path (record/playback)")
	rootCmd.Flags().StringVar(&recordingDir, "recording-dir", "", "per-session recording directory (record/playback)")
	rootCmd.Flags().StringArrayVar(&secretFlags, "secret", nil, "substring to redact from persisted payloads (repeatable)")
}

// Execute runs the root command, returning the process exit code spec.md §6
// specifies: 0 on clean shutdown, 1 on startup or fatal runtime error.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		loaded, err := config.ReadFile(cfgFile)
		if err != nil {
			return config.Config{}, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
		cfg = loaded
	}
	if modeFlag != "" {
		cfg.Mode = config.Mode(modeFlag)
	}
	if portFlag != 0 {
		cfg.Port = portFlag
	}
	if socketFlag != "" {
		cfg.Socket = socketFlag
	}
	if recordingPath != "" {
		cfg.RecordingPath = recordingPath
	}
	if recordingDir != "" {
		cfg.RecordingDir = recordingDir
	}
	cfg.Secrets = append(cfg.Secrets, secretFlags...)
	return cfg, nil
}

// fsLoader satisfies handler.Loader against the real filesystem.
type fsLoader struct{ fs afero.Fs }

func (l fsLoader) LoadPlayback(path string) (*recording.LazyRecording, *hashindex.Index, error) {
	lr, err := recording.LoadLazy(l.fs, path)
	if err != nil {
		return nil, nil, err
	}
	return lr, hashindex.Build(lr), nil
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fs := afero.NewOsFs()
	registry := session.NewRegistry(fs)

	redactor, err := redact.New(cfg.Secrets)
	if err != nil {
		return fmt.Errorf("build redactor: %w", err)
	}
	registry.SetRedactor(redactor)

	rules := make([]*headerrules.Rule, 0, len(cfg.HeaderRules))
	for _, hr := range cfg.HeaderRules {
		rules = append(rules, &headerrules.Rule{
			Service: hr.Service,
			Header:  hr.Header,
			Regex:   hr.Regex,
			Replace: hr.Replace,
		})
	}
	ruleSet, err := headerrules.NewSet(rules)
	if err != nil {
		return fmt.Errorf("build header rules: %w", err)
	}
	registry.SetHeaderRules(ruleSet)

	mode := session.Mode(cfg.Mode)
	pathFor := func(sessionID string) string {
		return cfg.RecordingPathFor(sessionID, recording.PathFor)
	}
	srv := server.New(registry, fsLoader{fs: fs}, mode, pathFor)

	var (
		ln        net.Listener
		readiness string
	)
	if cfg.Socket != "" {
		ln, err = server.ListenUnix(cfg.Socket)
		readiness = fmt.Sprintf("Harness server listening on socket %s", cfg.Socket)
	} else {
		port := cfg.Port
		if port == 0 {
			port = 9876
		}
		ln, err = server.ListenTCP(port)
		readiness = fmt.Sprintf("Harness server listening on port %d", port)
	}
	if err != nil {
		return err
	}
	fmt.Println(readiness)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Serve(ctx, ln)
}
