package loadgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/presence/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
	reportPermission    = 0600
)

// Errors returned by Run.
var (
	ErrUnhealthy    = errors.New("service is not healthy")
	ErrNoSessions   = errors.New("no liveness session could be created")
	ErrInvalidUsers = errors.New("users, frames and workers must be positive")
)

// Run drives the configured number of users through a liveness session
// each and returns the collected statistics.
func Run(ctx context.Context, config *Config) (*Stats, error) {
	if config.Users <= 0 || config.FramesPerUser <= 0 || config.Workers <= 0 {
		return nil, ErrInvalidUsers
	}
	log := logger.Named("loadgen")
	log.Info(ctx, "starting presence load run",
		logger.String("baseURL", config.BaseURL),
		logger.Int("users", config.Users),
		logger.Int("framesPerUser", config.FramesPerUser),
		logger.Int("workers", config.Workers),
		logger.Duration("timeout", config.Timeout),
		logger.Bool("verbose", config.Verbose))

	client := newHTTPClient(config.BaseURL, config.Timeout)

	// Step 1: Check service health
	if err := checkServiceHealth(ctx, client); err != nil {
		return nil, err
	}

	// Step 2: Render capture sequences
	size := config.FrameSize
	if size <= 0 {
		size = DefaultFrameSize
	}
	users, err := generateUsers(config.Users, config.FramesPerUser, size)
	if err != nil {
		return nil, fmt.Errorf("frame generation failed: %w", err)
	}
	log.Info(ctx, "frames rendered", logger.Int("users", len(users)))

	// Step 3: Drive sessions concurrently
	t := newTally()
	t.start = time.Now()
	runUsers(ctx, log, config, client, users, t)

	// Step 4: Summarise and verify
	stats := t.stats(len(users))
	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(log, stats)

	if err := saveReport(ctx, log, config, stats); err != nil {
		log.Warn(ctx, "failed to save report", logger.Error(err))
	}
	if err := verifyStats(stats); err != nil {
		return stats, err
	}
	log.Info(ctx, "load run completed")
	return stats, nil
}

// checkServiceHealth verifies the service answers its readiness probe.
func checkServiceHealth(ctx context.Context, client *HTTPClient) error {
	resp, err := client.Do(ctx, http.MethodGet, pathHealth, "", nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}
	if resp.Status != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnhealthy, resp.Status)
	}
	return nil
}

func runUsers(ctx context.Context, log logger.Logger, config *Config, client *HTTPClient, users []user, t *tally) {
	userChan := make(chan user, config.Workers*WorkerChannelMultiplier)
	var (
		wg   sync.WaitGroup
		done atomic.Int64
	)

	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range userChan {
				if ctx.Err() != nil {
					continue
				}
				runSession(ctx, client, u, t)
				done.Add(1)
			}
		}()
	}

	progressDone := make(chan struct{})
	if config.Verbose {
		go func() {
			ticker := time.NewTicker(ProgressInterval)
			defer ticker.Stop()
			for {
				select {
				case <-progressDone:
					return
				case <-ticker.C:
					log.Info(ctx, "progress",
						logger.Int("usersDone", int(done.Load())),
						logger.Int("users", len(users)))
				}
			}
		}()
	}

	go func() {
		defer close(userChan)
		for _, u := range users {
			select {
			case <-ctx.Done():
				return
			case userChan <- u:
			}
		}
	}()

	wg.Wait()
	close(progressDone)
}

// runSession opens a session, probes every frame in order and ends it.
func runSession(ctx context.Context, client *HTTPClient, u user, t *tally) {
	resp, err := client.Do(ctx, http.MethodPost, pathSessions, u.ID, nil)
	if err != nil || resp.Status != http.StatusCreated {
		t.sessionFailed(resp)
		return
	}
	var sess sessionResponse
	if err := json.Unmarshal(resp.Body, &sess); err != nil || sess.SessionID == "" {
		t.sessionFailed(response{})
		return
	}
	t.sessionCreated()

	for i, frame := range u.Frames {
		if ctx.Err() != nil {
			break
		}
		resp, err := client.Do(ctx, http.MethodPost, pathProbe, u.ID, probeRequest{
			SessionID:  sess.SessionID,
			Frame:      frame,
			FrameIndex: i,
			Timestamp:  float64(i) / FramesPerSecond,
		})
		if err != nil {
			t.probeFailed(response{})
			continue
		}
		if resp.Status != http.StatusOK {
			t.probeFailed(resp)
			continue
		}
		var res probeResponse
		if err := json.Unmarshal(resp.Body, &res); err != nil {
			t.probeFailed(response{})
			continue
		}
		t.probe(res.Status, resp.Latency)
	}

	// Ending uses a fresh context so a cancelled run still releases sessions.
	endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), client.client.Timeout)
	defer cancel()
	if resp, err := client.Do(endCtx, http.MethodDelete, pathSessions+"/"+sess.SessionID, u.ID, nil); err == nil && resp.Status == http.StatusNoContent {
		t.sessionEnded()
	}
}

// saveReport writes stats as JSON.
func saveReport(ctx context.Context, log logger.Logger, config *Config, stats *Stats) error {
	filename := config.ReportFile
	if filename == "" {
		filename = "loadgen_report_" + time.Now().Format("20060102_150405") + ".json"
	}
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := MarshalReport(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(filename, data, reportPermission); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	log.Info(ctx, "report saved", logger.String("filename", filename))
	return nil
}

func displayFinalStats(log logger.Logger, stats *Stats) {
	var successRate, probesPerSecond float64
	if stats.ProbesSent > 0 {
		successRate = float64(stats.ProbesSent-stats.ProbesFailed) / float64(stats.ProbesSent) * PercentageMultiplier
	}
	if stats.Duration > 0 {
		probesPerSecond = float64(stats.ProbesSent) / stats.Duration.Seconds()
	}
	log.Info(context.Background(), "final statistics",
		logger.Int("sessionsCreated", stats.SessionsCreated),
		logger.Int("sessionsFailed", stats.SessionsFailed),
		logger.Int("sessionsEnded", stats.SessionsEnded),
		logger.Int("probesSent", stats.ProbesSent),
		logger.Int("probesFailed", stats.ProbesFailed),
		logger.Int("rateLimited", stats.RateLimited),
		logger.Any("statuses", stats.Statuses),
		logger.Any("errorTypes", stats.ErrorTypes),
		logger.Float64("latencyP50Ms", stats.LatencyP50Millis),
		logger.Float64("latencyP95Ms", stats.LatencyP95Millis),
		logger.Float64("successRate", successRate),
		logger.Float64("probesPerSecond", probesPerSecond),
		logger.Duration("duration", stats.Duration))
}
