package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if PRESENCE_CONFIG is set
//  3. env (prefix PRESENCE_)
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("PRESENCE_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
		}
	}

	// PRESENCE_QUEUE_SIZE -> queue_size. Underscores are kept to match the
	// flat koanf tags.
	envProvider := env.Provider("PRESENCE_", ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), "presence_")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return invalid("addr must not be empty")
	}
	for name, v := range map[string]float64{
		"liveness_threshold":   c.LivenessThreshold,
		"similarity_threshold": c.SimilarityThreshold,
		"deepfake_threshold":   c.DeepfakeThreshold,
		"weight_blink":         c.WeightBlink,
		"weight_mouth":         c.WeightMouth,
		"weight_head":          c.WeightHead,
	} {
		if v < 0 || v > 1 {
			return invalid("%s must be within [0,1], got %v", name, v)
		}
	}
	if c.FrontalYawTolerance <= 0 || c.FrontalPitchTolerance <= 0 || c.FrontalRollTolerance <= 0 {
		return invalid("frontal tolerances must be positive")
	}
	if c.MaxGPSInvalidAttempts < 1 {
		return invalid("max_gps_invalid_attempts must be at least 1")
	}
	if c.LocationRadiusM <= 0 {
		return invalid("location_radius_m must be positive")
	}
	switch c.StoreBackend {
	case BackendMemory:
	case BackendMongo:
		if c.MongoURI == "" {
			return backendErr(ErrMissingEndpoint, "mongo_uri is required for the mongo store")
		}
	default:
		return backendErr(ErrUnknownBackend, "store_backend %q", c.StoreBackend)
	}
	switch c.CounterBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			return backendErr(ErrMissingEndpoint, "redis_addr is required for the redis counter")
		}
	default:
		return backendErr(ErrUnknownBackend, "counter_backend %q", c.CounterBackend)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return invalid("timezone %q: %v", c.Timezone, err)
	}
	return nil
}

// Location resolves Timezone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SessionTTL returns SessionTTLSec as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSec) * time.Second
}

// RequestTimeout returns RequestTimeoutMS as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func backendErr(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrInvalidConfig, kind, fmt.Sprintf(format, args...))
}
