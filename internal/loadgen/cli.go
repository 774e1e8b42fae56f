package loadgen

import (
	"fmt"
	"os"
	"time"

	"github.com/okian/presence/pkg/logger"
)

// SetupLogging sends log output to the console and logFile. If logFile is
// empty, a timestamped filename is generated.
func SetupLogging(logFile string, verbose bool) error {
	if logFile == "" {
		logFile = "loadgen_" + time.Now().Format("20060102_150405") + ".log"
	}
	if err := logger.Init(logger.WithFile(logFile)); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		_ = logger.SetLevelString("debug")
	}
	return nil
}

// ShowHelp prints usage information for the load generator.
func ShowHelp() {
	os.Stdout.WriteString(`Presence Load Generator
=======================

Drives concurrent liveness sessions against a running presence service.
Each simulated user opens a session, streams synthetic frames and ends it.

Usage:
  go run ./cmd/loadgen [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -users int
        Number of simulated users (default 100)
  -frames int
        Frames probed per session (default 20)
  -size int
        Edge length of the synthetic frames in pixels (default 160)
  -workers int
        Number of concurrent workers (default CPU cores * 2)
  -timeout duration
        HTTP request timeout (default 30s)
  -report string
        Output file for the JSON report (default: loadgen_report_TIMESTAMP.json)
  -log string
        Log file for run output (default: loadgen_TIMESTAMP.log)
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  # Run with default settings
  go run ./cmd/loadgen

  # Heavier run against another host
  go run ./cmd/loadgen -users 2000 -workers 64 -url http://presence.internal:9080
`)
}
