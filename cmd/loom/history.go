package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"loom/internal/history"
	"loom/internal/logging"
	"loom/internal/types"
)

var (
	historyCursor string
	historyLimit  int
	historyAll    bool
	historyLocal  bool
)

var historyCmd = &cobra.Command{
	Use:   "history <conversation-id>",
	Short: "Page older messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg)
		conversationID := args[0]

		if historyLocal {
			return printLocalSnapshot(cmd.Context(), conversationID)
		}

		client := history.NewWithToken(cfg.ServerBaseURL(), resolveToken(cfg))
		limit := historyLimit
		if limit <= 0 {
			limit = cfg.PageSize()
		}
		cursor := historyCursor
		for {
			page, err := client.Page(cmd.Context(), conversationID, cursor, limit)
			if err != nil {
				if apiErr := history.AsAPIError(err); apiErr != nil {
					return fmt.Errorf("history: %s", apiErr.Message)
				}
				return err
			}
			printMessages(page.Messages)
			if !historyAll || !page.Pagination.HasMore || page.Pagination.NextCursor == "" {
				if page.Pagination.HasMore {
					fmt.Fprintf(os.Stderr, "more available; next cursor: %s\n", page.Pagination.NextCursor)
				}
				return nil
			}
			cursor = page.Pagination.NextCursor
			log.Debug("following history cursor", logging.F("cursor", cursor))
		}
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyCursor, "cursor", "", "Start paging from this cursor")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "Messages per page (default from config)")
	historyCmd.Flags().BoolVar(&historyAll, "all", false, "Follow cursors until the history is exhausted")
	historyCmd.Flags().BoolVar(&historyLocal, "local", false, "Read the locally saved snapshot instead of the server")
}

func printLocalSnapshot(ctx context.Context, conversationID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	snapshots := openSnapshotStore(newLogger(cfg))
	if snapshots == nil {
		return fmt.Errorf("no local snapshot store")
	}
	defer snapshots.Close()

	snapshot, ok, err := snapshots.Load(ctx, conversationID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no local snapshot for %s", conversationID)
	}
	fmt.Printf("snapshot saved at %s\n", snapshot.SavedAt)
	printMessages(snapshot.Messages)
	return nil
}

func printMessages(messages []types.Message) {
	for _, message := range messages {
		content := strings.TrimSpace(message.Content)
		if content != "" {
			fmt.Printf("%s> %s\n", roleLabel(message.Role), content)
		}
		for _, call := range message.ToolCalls {
			name := call.Name
			if name == "" {
				name = "tool"
			}
			fmt.Printf("  [%s %s: %s]\n", call.Type, name, call.Status)
		}
	}
}
