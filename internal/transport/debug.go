package transport

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"loom/internal/config"
)

var (
	streamDebug     bool
	streamDebugOnce sync.Once

	streamLogger     *log.Logger
	streamLoggerOnce sync.Once
)

// streamDebugEnabled reports whether frame-level stream logging is on, either
// from LOOM_STREAM_DEBUG=1 or from the [debug] section of the config file.
// The config read is cached for the process lifetime.
func streamDebugEnabled() bool {
	if strings.TrimSpace(os.Getenv("LOOM_STREAM_DEBUG")) == "1" {
		return true
	}
	streamDebugOnce.Do(func() {
		cfg, err := config.LoadConfig()
		if err != nil {
			return
		}
		streamDebug = cfg.StreamDebugEnabled()
	})
	return streamDebug
}

func streamDebugLogger() *log.Logger {
	if !streamDebugEnabled() {
		return nil
	}
	streamLoggerOnce.Do(func() {
		path := ""
		if home, err := os.UserHomeDir(); err == nil && home != "" {
			path = filepath.Join(home, ".loom", "ws-stream.log")
		}
		if path == "" {
			path = filepath.Join(os.TempDir(), "loom-ws-stream.log")
		}
		_ = os.MkdirAll(filepath.Dir(path), 0o700)
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			streamLogger = log.New(os.Stderr, "ws-stream ", log.LstdFlags)
			return
		}
		streamLogger = log.New(file, "ws-stream ", log.LstdFlags)
	})
	return streamLogger
}

func streamLogf(format string, args ...any) {
	logger := streamDebugLogger()
	if logger == nil {
		return
	}
	logger.Printf(format, args...)
}
