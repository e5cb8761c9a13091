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

// Command echoclient is a minimal program-under-test: it connects to a
// harness's program channel, opens one "echo" command with a message, and
// prints whatever EventClose comes back. It exists to exercise the harness
// end-to-end without a real upstream service, and as a worked example of
// what a program under test's wire usage looks like (spec.md §2, §4.C).
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/google/replay-harness/internal/envelope"
	"github.com/google/replay-harness/internal/redact"
)

var (
	addr       string
	sessionID  string
	message    string
	secretArgs []string
)

var rootCmd = &cobra.Command{
	Use:   "echoclient",
	Short: "Send one echo command through a replay harness and print the reply",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", "ws://127.0.0.1:9876", "harness base URL, e.g. ws://127.0.0.1:9876")
	rootCmd.Flags().StringVar(&sessionID, "session", "echoclient-session", "sessionId to bind the connection to")
	rootCmd.Flags().StringVar(&message, "message", "hello", "message field sent in the echo command's payload")
	rootCmd.Flags().StringArrayVar(&secretArgs, "secret", nil, "substring to redact from the printed reply (repeatable)")
}

func run(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/?session=%s&channel=program", addr, sessionID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	streamID := envelope.NewULID()
	payload, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return err
	}

	req := envelope.Envelope{
		StreamID:  streamID,
		TraceID:   streamID,
		Channel:   envelope.ChannelProgram,
		Timestamp: time.Now().UTC(),
		Payload: envelope.Payload{
			Kind:    envelope.KindCommandOpen,
			Service: "echo",
			Data:    payload,
		},
	}
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write command: %w", err)
	}

	var reply envelope.Envelope
	if err := conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("read reply: %w", err)
	}

	redactor, err := redact.New(secretArgs)
	if err != nil {
		return fmt.Errorf("build redactor: %w", err)
	}
	fmt.Printf("%s\n", redactor.Payload(reply.Payload.Data))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
