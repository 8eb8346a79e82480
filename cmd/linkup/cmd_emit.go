package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(emitCmd)
	emitCmd.AddCommand(emitConnectionRequestCmd, emitStoryDeleteCmd, emitClerkCmd)
	emitCmd.PersistentFlags().String("addr", "http://localhost:4000", "daemon base URL")
}

var emitCmd = &cobra.Command{
	Use:   "emit",
	Short: "Emit an event to a running daemon",
}

func postJSON(cmd *cobra.Command, path string, body []byte) error {
	addr, _ := cmd.Flags().GetString("addr")
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(addr+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(out))
	return nil
}

var emitConnectionRequestCmd = &cobra.Command{
	Use:   "connection-request <connection-id>",
	Short: "Trigger the connection-request reminder workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := fmt.Sprintf(`{"connectionId":%q}`, args[0])
		return postJSON(cmd, "/webhook/app/connection-request", []byte(body))
	},
}

var emitStoryDeleteCmd = &cobra.Command{
	Use:   "story-delete <story-id>",
	Short: "Schedule a story for deletion in 24 hours",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := fmt.Sprintf(`{"storyId":%q}`, args[0])
		return postJSON(cmd, "/webhook/app/story-delete", []byte(body))
	},
}

var emitClerkCmd = &cobra.Command{
	Use:   "clerk <payload-file>",
	Short: "Deliver a raw identity-provider webhook body from a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read payload file: %w", err)
		}
		return postJSON(cmd, "/webhook/clerk", body)
	},
}
