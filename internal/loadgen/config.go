package loadgen

import "time"

// Config holds configuration for a load run.
type Config struct {
	BaseURL       string        // Base URL of the service
	Users         int           // Number of simulated users
	FramesPerUser int           // Probe frames sent per liveness session
	Workers       int           // Number of concurrent workers
	Timeout       time.Duration // HTTP request timeout
	FrameSize     int           // Edge length of the synthetic frames in pixels
	ReportFile    string        // Output file for the run report
	LogFile       string        // Log file for run output
	Verbose       bool          // Enable verbose logging
}

// sessionResponse mirrors POST /v1/liveness/sessions.
type sessionResponse struct {
	SessionID string `json:"session_id"`
	ExpiresAt string `json:"expires_at"`
}

// probeRequest mirrors the body of POST /v1/liveness.
type probeRequest struct {
	SessionID  string  `json:"session_id"`
	Frame      string  `json:"frame"`
	FrameIndex int     `json:"frame_index"`
	Timestamp  float64 `json:"timestamp"`
}

// probeResponse holds the fields of a liveness verdict the run tallies.
type probeResponse struct {
	FaceDetected bool    `json:"face_detected"`
	Score        float64 `json:"liveness_score"`
	Status       string  `json:"status"`
}

// errorResponse mirrors the service error envelope.
type errorResponse struct {
	Status    string `json:"status"`
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

// Stats holds run statistics.
type Stats struct {
	Users            int            `json:"users"`
	SessionsCreated  int            `json:"sessions_created"`
	SessionsFailed   int            `json:"sessions_failed"`
	SessionsEnded    int            `json:"sessions_ended"`
	ProbesSent       int            `json:"probes_sent"`
	ProbesFailed     int            `json:"probes_failed"`
	RateLimited      int            `json:"rate_limited"`
	Statuses         map[string]int `json:"statuses"`
	ErrorTypes       map[string]int `json:"error_types"`
	LatencyP50Millis float64        `json:"latency_p50_ms"`
	LatencyP95Millis float64        `json:"latency_p95_ms"`
	LatencyMaxMillis float64        `json:"latency_max_ms"`
	StartTime        time.Time      `json:"start_time"`
	EndTime          time.Time      `json:"end_time"`
	Duration         time.Duration  `json:"duration_ns"`
}
