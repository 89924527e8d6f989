package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/relaychat/semsearch/internal/config"
)

// --- search ---

// searchOutput mirrors the POST /v1/search response.
type searchOutput struct {
	Results []struct {
		Message struct {
			ID           string    `json:"id"`
			Conversation string    `json:"conversation"`
			Sender       string    `json:"sender"`
			Text         string    `json:"text"`
			CreatedAt    time.Time `json:"created_at"`
		} `json:"message"`
		Similarity float64 `json:"similarity"`
		Score      float64 `json:"score"`
	} `json:"results"`
	Metadata struct {
		Total   int           `json:"total"`
		Elapsed time.Duration `json:"elapsed"`
		Partial bool          `json:"partial"`
	} `json:"metadata"`
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search messages by meaning",
	Long: `Search messages by meaning.

Examples:
  semsearch search "what did we decide about the payment provider"
  semsearch search "deployment plan" --conversation team-infra --limit 5
  semsearch search "incident followups" --after 2025-06-01T00:00:00Z --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")
		conversation, _ := cmd.Flags().GetString("conversation")
		after, _ := cmd.Flags().GetString("after")
		before, _ := cmd.Flags().GetString("before")
		asJSON, _ := cmd.Flags().GetBool("json")

		body := map[string]any{"query": query}
		if limit > 0 {
			body["limit"] = limit
		}
		if conversation != "" {
			body["conversation"] = conversation
		}
		if err := addTimeFilter(body, "after", after); err != nil {
			return err
		}
		if err := addTimeFilter(body, "before", before); err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/search", body)
		if err != nil {
			return err
		}

		var out searchOutput
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}

		printResults(out)
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 0, "maximum results (0 uses the server default)")
	searchCmd.Flags().String("conversation", "", "restrict to one conversation")
	searchCmd.Flags().String("after", "", "only messages created after this RFC 3339 time")
	searchCmd.Flags().String("before", "", "only messages created before this RFC 3339 time")
	searchCmd.Flags().Bool("json", false, "print raw JSON results")
}

func addTimeFilter(body map[string]any, name, value string) error {
	if value == "" {
		return nil
	}
	if _, err := time.Parse(time.RFC3339, value); err != nil {
		return fmt.Errorf("invalid --%s %q: want RFC 3339, like 2025-06-01T00:00:00Z", name, value)
	}
	body[name] = value
	return nil
}

func printResults(out searchOutput) {
	if len(out.Results) == 0 {
		fmt.Println("No messages found.")
		return
	}

	for i, r := range out.Results {
		header := colorize(colorBold, fmt.Sprintf("Result %d", i+1))
		fmt.Printf("\n%s [score: %.3f]\n", header, r.Score)
		fmt.Printf("  %s in %s at %s\n",
			r.Message.Sender,
			r.Message.Conversation,
			r.Message.CreatedAt.Format(time.RFC3339),
		)
		fmt.Printf("  %s\n", truncate(r.Message.Text, 300))
	}

	if out.Metadata.Partial {
		printWarning("Some messages could not be fetched; results may be incomplete.")
	}
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "..."
}

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index <message-id>",
	Short: "Index one stored message synchronously",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/index", map[string]string{"id": args[0]})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Indexed %s", args[0])
		return nil
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex <message-id>...",
	Short: "Re-index messages whose vectors are stale or missing",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		failures := reindexMessages(cmd.Context(), client, args)
		if failures > 0 {
			return fmt.Errorf("%d of %d messages failed", failures, len(args))
		}
		printSuccess("Reindexed %d messages", len(args))
		return nil
	},
}

func reindexMessages(ctx context.Context, client *apiClient, ids []string) int {
	failures := 0
	for _, id := range ids {
		printStep("Indexing %s...", id)
		resp, err := client.post(ctx, "/v1/index", map[string]string{"id": id})
		if err != nil {
			printError("Failed to index %s: %v", id, err)
			failures++
			continue
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			printError("Failed to index %s: %v", id, err)
			failures++
		}
	}
	return failures
}

// --- status ---

// statusOutput mirrors the GET /v1/status response.
type statusOutput struct {
	Circuits []struct {
		Name     string `json:"name"`
		State    string `json:"state"`
		Failures int    `json:"failures"`
	} `json:"circuits"`
	QueueDepth int            `json:"queue_depth"`
	Messages   map[string]int `json:"messages"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show indexing and dependency status",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/status")
		if err != nil {
			printStatus("Server", "stopped")
			return nil
		}

		var status statusOutput
		if err := decodeJSON(resp, &status); err != nil {
			return err
		}

		printStatus("Server", "running")
		printStatus("Queue depth", "%d", status.QueueDepth)
		for _, c := range status.Circuits {
			state := c.State
			if c.Failures > 0 {
				state = fmt.Sprintf("%s (%d recent failures)", c.State, c.Failures)
			}
			printStatus("Circuit "+c.Name, "%s", state)
		}
		printStatus("Messages", "%d indexed, %d pending, %d failed",
			status.Messages["indexed"], status.Messages["pending"], status.Messages["failed"])
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List settable configuration keys and their environment variables",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, k := range config.Keys() {
			fmt.Printf("  %s  (%s)\n", colorize(colorBold, k.Key), k.EnvVar)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configKeysCmd)
}
