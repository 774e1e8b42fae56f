package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/presence/internal/loadgen"
	"github.com/okian/presence/pkg/logger"
)

// Default configuration constants.
const (
	defaultUsers     = 100
	defaultFrames    = 20
	defaultFrameSize = 160
	defaultWorkers   = 2 // multiplier for runtime.NumCPU()
	defaultTimeout   = 30 * time.Second
	defaultRunLimit  = 10 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		users      = flag.Int("users", defaultUsers, "Number of simulated users")
		frames     = flag.Int("frames", defaultFrames, "Frames probed per session")
		size       = flag.Int("size", defaultFrameSize, "Edge length of the synthetic frames in pixels")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		reportFile = flag.String("report", "", "Output file for the JSON report (default: loadgen_report_TIMESTAMP.json)")
		logFile    = flag.String("log", "", "Log file for run output (default: loadgen_TIMESTAMP.log)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		loadgen.ShowHelp()
		return
	}

	if err := loadgen.SetupLogging(*logFile, *verbose); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		return
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunLimit)
	defer cancel()

	config := &loadgen.Config{
		BaseURL:       *baseURL,
		Users:         *users,
		FramesPerUser: *frames,
		Workers:       *workers,
		Timeout:       *timeout,
		FrameSize:     *size,
		ReportFile:    *reportFile,
		LogFile:       *logFile,
		Verbose:       *verbose,
	}

	if _, err := loadgen.Run(ctx, config); err != nil {
		logger.Get().Error(ctx, "load run failed", logger.Error(err))
		return
	}
}
