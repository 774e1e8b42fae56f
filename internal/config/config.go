// Package config defines service configuration and how it is loaded.
package config

import (
	"runtime"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`
	// LogFile enables a rotating file sink when set.
	LogFile string `koanf:"log_file"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// WorkerCount sets the number of analysis workers.
	WorkerCount int `koanf:"worker_count"`
	// QueueSize bounds the in-memory task queue.
	QueueSize int `koanf:"queue_size"`
	// RequestTimeoutMS caps how long a request may wait for analysis.
	RequestTimeoutMS int `koanf:"request_timeout_ms"`

	RateLimitRPS   float64 `koanf:"rate_limit_rps"`
	RateLimitBurst int     `koanf:"rate_limit_burst"`

	LivenessThreshold     float64 `koanf:"liveness_threshold"`
	LivenessMaxIndicators int     `koanf:"liveness_max_indicators"`
	WeightBlink           float64 `koanf:"weight_blink"`
	WeightMouth           float64 `koanf:"weight_mouth"`
	WeightHead            float64 `koanf:"weight_head"`
	EARThreshold          float64 `koanf:"ear_threshold"`
	MARThreshold          float64 `koanf:"mar_threshold"`
	HeadThresholdDeg      float64 `koanf:"head_threshold_deg"`
	HistorySize           int     `koanf:"history_size"`
	HeadHistorySize       int     `koanf:"head_history_size"`

	FrontalYawTolerance   float64 `koanf:"frontal_yaw_tolerance"`
	FrontalPitchTolerance float64 `koanf:"frontal_pitch_tolerance"`
	FrontalRollTolerance  float64 `koanf:"frontal_roll_tolerance"`

	EnrollMinImages      int     `koanf:"enroll_min_images"`
	EnrollMinValidFrames int     `koanf:"enroll_min_valid_frames"`
	EnrollMinYawRange    float64 `koanf:"enroll_min_yaw_range"`
	EnrollMinPitchRange  float64 `koanf:"enroll_min_pitch_range"`

	SimilarityThreshold   float64 `koanf:"similarity_threshold"`
	DeepfakeThreshold     float64 `koanf:"deepfake_threshold"`
	MaxGPSInvalidAttempts int     `koanf:"max_gps_invalid_attempts"`

	// LocationLat, LocationLon and LocationRadiusM describe the authorized area.
	LocationLat     float64 `koanf:"location_lat"`
	LocationLon     float64 `koanf:"location_lon"`
	LocationRadiusM float64 `koanf:"location_radius_m"`

	// SessionTTLSec is the idle expiry of a liveness session.
	SessionTTLSec int `koanf:"session_ttl_sec"`

	// StoreBackend is memory or mongo.
	StoreBackend  string `koanf:"store_backend"`
	MongoURI      string `koanf:"mongo_uri"`
	MongoDatabase string `koanf:"mongo_database"`

	// CounterBackend is memory or redis.
	CounterBackend string `koanf:"counter_backend"`
	RedisAddr      string `koanf:"redis_addr"`
	RedisPassword  string `koanf:"redis_password"`
	RedisDB        int    `koanf:"redis_db"`

	// DetectorURL is the WebSocket endpoint of the landmark service.
	DetectorURL string `koanf:"detector_url"`

	EmbeddingDim        int `koanf:"embedding_dim"`
	SuspiciousThreshold int `koanf:"suspicious_threshold"`

	// Timezone names the zone used for the attendance and attempt day.
	Timezone string `koanf:"timezone"`
}

// Backends.
const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"
	BackendRedis  = "redis"
)

// New returns a Config holding the defaults.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		LogFormat:             "text",
		Addr:                  ":9080",
		WorkerCount:           runtime.NumCPU(),
		QueueSize:             1024,
		RequestTimeoutMS:      10_000,
		RateLimitRPS:          20,
		RateLimitBurst:        40,
		LivenessThreshold:     0.6,
		LivenessMaxIndicators: 10,
		WeightBlink:           0.4,
		WeightMouth:           0.3,
		WeightHead:            0.3,
		EARThreshold:          0.2,
		MARThreshold:          0.5,
		HeadThresholdDeg:      5,
		HistorySize:           5,
		HeadHistorySize:       10,
		FrontalYawTolerance:   15,
		FrontalPitchTolerance: 15,
		FrontalRollTolerance:  10,
		EnrollMinImages:       20,
		EnrollMinValidFrames:  15,
		EnrollMinYawRange:     25,
		EnrollMinPitchRange:   10,
		SimilarityThreshold:   0.75,
		DeepfakeThreshold:     0.7,
		MaxGPSInvalidAttempts: 2,
		LocationRadiusM:       100,
		SessionTTLSec:         120,
		StoreBackend:          BackendMemory,
		MongoDatabase:         "presence",
		CounterBackend:        BackendMemory,
		EmbeddingDim:          256,
		SuspiciousThreshold:   5,
		Timezone:              "UTC",
	}
}
