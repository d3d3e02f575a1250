// Command loom is a terminal client for streaming conversation servers. It
// mirrors the live event stream into a local transcript, sends messages, and
// pages older history over HTTP.
package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"loom/internal/config"
	"loom/internal/history"
	"loom/internal/logging"
	"loom/internal/stream"
	"loom/internal/transport"
)

var (
	serverFlag   string
	tokenFlag    string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "Terminal client for streaming conversations",
	Long: `Loom attaches to a conversation's event stream, reconstructs the
transcript locally, and keeps it consistent across deltas, tool calls,
interrupts, and reconnects.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "", "Server base URL (default from config)")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "Bearer token (default from config or token file)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return config.Config{}, err
	}
	if serverFlag != "" {
		cfg.Server.URL = serverFlag
	}
	if tokenFlag != "" {
		cfg.Server.Token = tokenFlag
	}
	if logLevelFlag != "" {
		cfg.Logging.Level = logLevelFlag
	}
	return cfg, nil
}

func newLogger(cfg config.Config) logging.Logger {
	return logging.New(os.Stderr, logging.ParseLevel(cfg.LogLevel()))
}

// resolveToken prefers the inline token and falls back to the token file.
func resolveToken(cfg config.Config) string {
	if token := cfg.Token(); token != "" {
		return token
	}
	path, err := cfg.ResolveTokenPath()
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// buildClient wires config, transport, history, and the stream client
// together. Extra sinks observe every transition alongside the subscriber
// channel.
func buildClient(cfg config.Config, log logging.Logger, extra ...stream.EventSink) *stream.Client {
	token := resolveToken(cfg)

	var sink stream.EventSink
	switch len(extra) {
	case 0:
		sink = nil
	case 1:
		sink = extra[0]
	default:
		sink = stream.MultiSink(extra)
	}

	client := stream.New(stream.Config{
		History:  history.NewWithToken(cfg.ServerBaseURL(), token),
		Sink:     sink,
		Logger:   log.With(logging.F("component", "stream")),
		PageSize: cfg.PageSize(),
	})
	ws := transport.New(transport.Config{
		BaseURL:              cfg.ServerBaseURL(),
		Token:                token,
		PingInterval:         cfg.PingInterval(),
		MaxReconnectAttempts: cfg.ReconnectMaxAttempts(),
		Logger:               log.With(logging.F("component", "transport")),
	}, client)
	client.SetTransport(ws)
	return client
}
