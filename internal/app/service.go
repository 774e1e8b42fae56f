// Package service composes the verification domain with its adapters and
// implements the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/presence/internal/adapters/detector"
	"github.com/okian/presence/internal/adapters/mq/queue"
	"github.com/okian/presence/internal/adapters/mq/worker"
	"github.com/okian/presence/internal/adapters/notify"
	"github.com/okian/presence/internal/adapters/repository"
	"github.com/okian/presence/internal/config"
	"github.com/okian/presence/internal/domain/attempts"
	"github.com/okian/presence/internal/domain/audit"
	"github.com/okian/presence/internal/domain/embedding"
	"github.com/okian/presence/internal/domain/enrollment"
	"github.com/okian/presence/internal/domain/frontal"
	"github.com/okian/presence/internal/domain/geo"
	"github.com/okian/presence/internal/domain/liveness"
	"github.com/okian/presence/internal/domain/pipeline"
	"github.com/okian/presence/internal/domain/pose"
	"github.com/okian/presence/internal/domain/quality"
	"github.com/okian/presence/internal/domain/scoring"
	"github.com/okian/presence/internal/domain/spoof"
	"github.com/okian/presence/pkg/logger"
	"github.com/okian/presence/pkg/metrics"
)

const (
	auditFlushInterval   = 30 * time.Second
	counterPruneInterval = time.Hour
	stopTimeout          = 30 * time.Second
)

// ErrNotStarted is returned by operations called before Start.
var ErrNotStarted = errors.New("service not started")

// Service implements the API dependencies for the verification system.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config
	now func() time.Time

	// Injected or built in Start.
	store    repository.Store
	counter  attempts.Counter
	detector pipeline.FaceDetector
	pose     pipeline.PoseEstimator
	embedder embedding.Embedder
	spoof    spoof.Detector

	// Built in Start.
	queue      *queue.InMemoryQueue
	pool       *worker.Pool
	scorer     *scoring.Scorer
	sessions   *liveness.SessionStore
	frontal    frontal.Validator
	gate       quality.Gate
	audit      *audit.Log
	hub        *notify.Hub
	dispatcher *notify.Dispatcher
	enroller   *enrollment.Aggregator
	pipeline   *pipeline.Pipeline

	// State
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	logger logger.Logger
}

// New constructs a Service. Components are created by Start.
func New(opts ...Option) *Service {
	s := &Service{
		cfg: config.New(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start connects the backends, starts the worker pool and the janitors.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Named("service")
	}
	cfg := s.cfg
	s.logger.Info(ctx, "starting verification service...")

	if err := s.openBackends(ctx); err != nil {
		return err
	}

	s.scorer = scoring.New(
		scoring.WithWeights(cfg.WeightBlink, cfg.WeightMouth, cfg.WeightHead),
		scoring.WithThreshold(cfg.LivenessThreshold),
		scoring.WithMaxIndicators(cfg.LivenessMaxIndicators),
	)
	settings := liveness.Settings{
		EARThreshold:    cfg.EARThreshold,
		MARThreshold:    cfg.MARThreshold,
		HeadThreshold:   cfg.HeadThresholdDeg,
		HistorySize:     cfg.HistorySize,
		HeadHistorySize: cfg.HeadHistorySize,
	}
	s.sessions = liveness.NewSessionStore(
		func() *liveness.Analyzer { return liveness.NewAnalyzer(settings, s.scorer) },
		liveness.WithTTL(cfg.SessionTTL()),
		liveness.WithClock(s.now),
	)
	s.frontal = frontal.New(cfg.FrontalYawTolerance, cfg.FrontalPitchTolerance, cfg.FrontalRollTolerance)
	s.gate = quality.DefaultGate()

	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(cfg.QueueSize))
	s.pool = worker.NewPool(cfg.WorkerCount, s.queue, worker.WithPoolLogger(s.logger.Named("worker-pool")))

	if s.detector == nil {
		if cfg.DetectorURL != "" {
			s.detector = detector.New(cfg.DetectorURL, detector.WithConnections(s.pool.Size()))
		} else {
			s.logger.Warn(ctx, "detector_url not set; frames cannot be analysed")
			s.detector = detector.Disabled{}
		}
	}
	if s.pose == nil {
		s.pose = pose.New()
	}
	if s.embedder == nil {
		s.embedder = embedding.NewPixelEmbedder(cfg.EmbeddingDim, embedding.DefaultSeed)
	}
	if s.spoof == nil {
		s.spoof = spoof.NewHeuristic(cfg.DeepfakeThreshold)
	}

	s.audit = audit.New(audit.WithStore(s.store), audit.WithClock(s.now))
	s.hub = notify.NewHub()
	s.dispatcher = notify.NewDispatcher(s.hub, s.store, notify.WithClock(s.now))

	s.enroller = enrollment.New(s.pose,
		enrollment.WithMinImages(cfg.EnrollMinImages),
		enrollment.WithMinValidFrames(cfg.EnrollMinValidFrames),
		enrollment.WithMinPoseRange(cfg.EnrollMinYawRange, cfg.EnrollMinPitchRange),
		enrollment.WithFrontalValidator(s.frontal),
	)

	p, err := pipeline.New(pipeline.Dependencies{
		Detector:   s.detector,
		Pose:       s.pose,
		Sessions:   s.sessions,
		Scorer:     s.scorer,
		Spoof:      s.spoof,
		Embedder:   s.embedder,
		Templates:  s.store,
		Attendance: s.store,
		Counter:    s.counter,
		Classes:    s.store,
		Notifier:   s.dispatcher,
		Audit:      s.audit,
	},
		pipeline.WithArea(geo.Area{Latitude: cfg.LocationLat, Longitude: cfg.LocationLon, RadiusMeters: cfg.LocationRadiusM}),
		pipeline.WithSimilarityThreshold(cfg.SimilarityThreshold),
		pipeline.WithMaxAttempts(cfg.MaxGPSInvalidAttempts),
		pipeline.WithQualityGate(s.gate),
		pipeline.WithFrontalValidator(s.frontal),
		pipeline.WithExecutor(s.pool),
		pipeline.WithClock(s.now),
		pipeline.WithLocation(cfg.Location()),
	)
	if err != nil {
		s.closeBackends(ctx)
		return fmt.Errorf("build pipeline: %w", err)
	}
	s.pipeline = p

	// Background work outlives the start request but not Stop.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.pool.Start(runCtx)
	s.startJanitors(runCtx)

	s.started = true
	s.logger.Info(ctx, "verification service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queue.Capacity()),
		logger.String("store", cfg.StoreBackend),
		logger.String("counter", cfg.CounterBackend),
		logger.Any("stages", p.Stages()),
	)
	return nil
}

func (s *Service) openBackends(ctx context.Context) error {
	cfg := s.cfg
	if s.store == nil {
		switch cfg.StoreBackend {
		case config.BackendMongo:
			st, err := repository.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			s.store = st
		case config.BackendMemory, "":
			s.store = repository.NewMemoryStore()
		default:
			return fmt.Errorf("%w: store %q", repository.ErrUnknownBackend, cfg.StoreBackend)
		}
	}
	if s.counter == nil {
		switch cfg.CounterBackend {
		case config.BackendRedis:
			c, err := repository.NewRedisCounter(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
			if err != nil {
				s.closeBackends(ctx)
				return fmt.Errorf("open counter: %w", err)
			}
			s.counter = c
		case config.BackendMemory, "":
			s.counter = attempts.NewInMemory()
		default:
			s.closeBackends(ctx)
			return fmt.Errorf("%w: counter %q", repository.ErrUnknownBackend, cfg.CounterBackend)
		}
	}
	return nil
}

func (s *Service) closeBackends(ctx context.Context) {
	if s.store != nil {
		if err := s.store.Close(ctx); err != nil {
			s.logger.Warn(ctx, "close store", logger.Error(err))
		}
	}
	if c, ok := s.counter.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			s.logger.Warn(ctx, "close counter", logger.Error(err))
		}
	}
	if d, ok := s.detector.(interface{ Close() error }); ok {
		_ = d.Close()
	}
}

// Stop drains the worker pool, flushes the audit backlog and closes the
// backends.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	s.logger.Info(ctx, "stopping verification service...")

	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool did not drain, stopping workers", logger.Error(err))
		s.pool.Stop()
	}
	s.cancel()
	s.wg.Wait()
	s.hub.Close()

	if n := s.audit.Flush(ctx); n > 0 {
		s.logger.Warn(ctx, "audit backlog not persisted", logger.Int("pending", n))
	}
	s.closeBackends(ctx)

	s.started = false
	s.logger.Info(ctx, "verification service stopped")
}

func (s *Service) startJanitors(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sessions.Run(ctx, 0)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.every(ctx, auditFlushInterval, func() {
			if s.audit.Pending() > 0 {
				if n := s.audit.Flush(ctx); n > 0 {
					s.logger.Info(ctx, "audit backlog replayed", logger.Int("count", n))
				}
			}
		})
	}()

	// Redis keys expire on their own.
	if mem, ok := s.counter.(*attempts.InMemory); ok {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.every(ctx, counterPruneInterval, func() {
				cutoff := s.pipeline.Date(s.now().AddDate(0, 0, -1))
				if n := mem.Prune(cutoff); n > 0 {
					s.logger.Debug(ctx, "pruned attempt counters", logger.Int("count", n))
				}
			})
		}()
	}
}

func (s *Service) every(ctx context.Context, d time.Duration, fn func()) {
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// Ready reports whether the backends answer.
func (s *Service) Ready(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if p, ok := s.counter.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("counter: %w", err)
		}
	}
	return nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.cfg.WorkerCount,
		"queueSize":   s.cfg.QueueSize,
	}

	if s.started {
		queueLen := s.queue.Len(ctx)
		stats["workerCount"] = s.pool.Size()
		stats["queueLength"] = queueLen
		stats["activeSessions"] = s.sessions.Size()
		stats["instructorConnections"] = s.hub.Connections()
		stats["auditBacklog"] = s.audit.Pending()
		stats["stages"] = s.pipeline.Stages()

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateWorkerCount(s.pool.Size())
	}

	return stats
}

func (s *Service) running() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}
