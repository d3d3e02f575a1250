package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"loom/internal/stream"
	"loom/internal/types"
)

var sendTimeout time.Duration

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <message...>",
	Short: "Send a message and print the reply",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg)
		conversationID := args[0]
		content := strings.Join(args[1:], " ")

		client := buildClient(cfg, log, noticePrinter{})
		defer client.Close()

		updates, cancel := client.Subscribe()
		defer cancel()

		ctx := cmd.Context()
		if err := client.Connect(ctx, conversationID); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		if err := client.SendMessage(ctx, content, nil); err != nil {
			return fmt.Errorf("send: %w", err)
		}

		reply, err := awaitReply(client, updates, sendTimeout)
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 2*time.Minute, "How long to wait for the reply")
}

// awaitReply watches state until the turn settles: loading was observed and
// has cleared, or an error landed in state.
func awaitReply(client *stream.Client, updates <-chan *types.StreamState, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	sawLoading := client.State().Loading
	for {
		select {
		case <-timer.C:
			return "", errors.New("timed out waiting for reply")
		case state, ok := <-updates:
			if !ok {
				return "", errors.New("stream closed before reply")
			}
			if state.Err != nil {
				return "", fmt.Errorf("server error: %s", state.Err.Error())
			}
			if state.RetryFailure != nil {
				return "", fmt.Errorf("retry failed: %s", state.RetryFailure.Message)
			}
			if state.ConnectionState.Terminal() {
				return "", fmt.Errorf("connection %s before reply", state.ConnectionState)
			}
			if state.Loading {
				sawLoading = true
				continue
			}
			if !sawLoading {
				continue
			}
			if reply := lastAssistantContent(state); reply != "" {
				return reply, nil
			}
		}
	}
}

func lastAssistantContent(state *types.StreamState) string {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		message := state.Messages[i]
		if message.Role != types.RoleAssistant {
			continue
		}
		if text := strings.TrimSpace(message.Content); text != "" {
			return text
		}
	}
	return ""
}
