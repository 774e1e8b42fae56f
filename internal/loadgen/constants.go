package loadgen

import "time"

// Route paths on the presence API.
const (
	pathHealth   = "/healthz"
	pathSessions = "/v1/liveness/sessions"
	pathProbe    = "/v1/liveness"
	userHeader   = "X-User-ID"
)

// Worker configuration constants.
const (
	WorkerChannelMultiplier = 2
	ProgressInterval        = time.Second
)

// Frame timing: probes are stamped as if captured at this rate.
const (
	FramesPerSecond      = 10
	DefaultFrameSize     = 160
	PercentageMultiplier = 100
)
