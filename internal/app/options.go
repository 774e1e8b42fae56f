package service

import (
	"time"

	"github.com/okian/presence/internal/adapters/repository"
	"github.com/okian/presence/internal/config"
	"github.com/okian/presence/internal/domain/attempts"
	"github.com/okian/presence/internal/domain/embedding"
	"github.com/okian/presence/internal/domain/pipeline"
	"github.com/okian/presence/internal/domain/spoof"
	"github.com/okian/presence/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the configuration. The default is config.New().
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore replaces the store chosen by store_backend.
func WithStore(st repository.Store) Option {
	return func(s *Service) {
		s.store = st
	}
}

// WithCounter replaces the attempt counter chosen by counter_backend.
func WithCounter(c attempts.Counter) Option {
	return func(s *Service) {
		s.counter = c
	}
}

// WithDetector replaces the landmark service client.
func WithDetector(d pipeline.FaceDetector) Option {
	return func(s *Service) {
		s.detector = d
	}
}

// WithPoseEstimator replaces the PnP estimator.
func WithPoseEstimator(p pipeline.PoseEstimator) Option {
	return func(s *Service) {
		s.pose = p
	}
}

// WithEmbedder replaces the pixel projection embedder.
func WithEmbedder(e embedding.Embedder) Option {
	return func(s *Service) {
		s.embedder = e
	}
}

// WithSpoofDetector replaces the image statistics heuristic.
func WithSpoofDetector(d spoof.Detector) Option {
	return func(s *Service) {
		s.spoof = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}
