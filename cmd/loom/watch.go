package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/protocol"
	"loom/internal/store"
	"loom/internal/stream"
	"loom/internal/types"
)

var watchNoPersist bool

var watchCmd = &cobra.Command{
	Use:   "watch <conversation-id>",
	Short: "Follow a conversation's live stream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg)
		conversationID := args[0]

		sinks := []stream.EventSink{noticePrinter{}}
		if !watchNoPersist {
			if snapshots := openSnapshotStore(log); snapshots != nil {
				defer snapshots.Close()
				sinks = append(sinks, store.NewSnapshotSink(snapshots, log))
			}
		}

		client := buildClient(cfg, log, sinks...)
		defer client.Close()

		updates, cancel := client.Subscribe()
		defer cancel()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := client.Connect(ctx, conversationID); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		fmt.Printf("watching %s (ctrl-c to stop)\n", conversationID)

		r := newTranscriptRenderer(os.Stdout)
		for {
			select {
			case <-ctx.Done():
				fmt.Println()
				return nil
			case state, ok := <-updates:
				if !ok {
					return nil
				}
				r.Render(state)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchNoPersist, "no-persist", false, "Do not save transcript snapshots locally")
}

func openSnapshotStore(log logging.Logger) store.SnapshotStore {
	path, err := config.SnapshotDBPath()
	if err != nil {
		log.Warn("snapshot db path unavailable", logging.F("error", err))
		return nil
	}
	snapshots, err := store.NewBboltSnapshotStore(path)
	if err != nil {
		log.Warn("snapshot store unavailable", logging.F("error", err))
		return nil
	}
	return snapshots
}

// noticePrinter surfaces side notifications on stderr, away from the
// transcript on stdout.
type noticePrinter struct{}

func (noticePrinter) StateChanged(*types.StreamState, protocol.Event) {}

func (noticePrinter) Notify(notice types.Notice) {
	if notice.Message != "" {
		fmt.Fprintf(os.Stderr, "! %s: %s\n", notice.Kind, notice.Message)
		return
	}
	fmt.Fprintf(os.Stderr, "! %s\n", notice.Kind)
}
