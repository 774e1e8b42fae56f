package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/okian/presence/internal/domain/types"
	"github.com/okian/presence/pkg/logger"
)

// Suspicious-activity defaults.
const (
	DefaultSuspiciousThreshold = 5
	suspiciousWindow           = 50
)

// ReasonClean is reported when nothing exceeds the threshold.
const ReasonClean = "no suspicious activity detected"

// Report is the suspicious-activity verdict for one user.
type Report struct {
	IsSuspicious        bool   `json:"is_suspicious"`
	Reason              string `json:"reason"`
	FailedLiveness      int    `json:"failed_liveness_count"`
	FailedCaptures      int    `json:"failed_capture_count"`
	AttemptsNoIndicator int    `json:"no_indicators_count"`
}

// DetectSuspicious looks at the latest fifty liveness and capture entries.
// A user is suspicious when failed liveness frames, failed captures or frames
// without any indicator exceed threshold.
func (l *Log) DetectSuspicious(ctx context.Context, userID string, threshold int) (Report, error) {
	if threshold <= 0 {
		threshold = DefaultSuspiciousThreshold
	}
	frames, err := l.LivenessLogs(ctx, userID, suspiciousWindow)
	if err != nil {
		return Report{}, err
	}
	captures, err := l.CaptureLogs(ctx, userID, suspiciousWindow)
	if err != nil {
		return Report{}, err
	}

	var r Report
	for _, f := range frames {
		if f.Status == types.StatusNoLiveness {
			r.FailedLiveness++
		}
		if f.Indicators.None() {
			r.AttemptsNoIndicator++
		}
	}
	for _, c := range captures {
		if !c.CaptureSuccess {
			r.FailedCaptures++
		}
	}

	var reasons []string
	if r.FailedLiveness > threshold {
		reasons = append(reasons, fmt.Sprintf("failed liveness attempts: %d", r.FailedLiveness))
	}
	if r.FailedCaptures > threshold {
		reasons = append(reasons, fmt.Sprintf("failed capture attempts: %d", r.FailedCaptures))
	}
	if r.AttemptsNoIndicator > threshold {
		reasons = append(reasons, fmt.Sprintf("attempts without indicators: %d", r.AttemptsNoIndicator))
	}
	r.IsSuspicious = len(reasons) > 0
	r.Reason = ReasonClean
	if r.IsSuspicious {
		r.Reason = strings.Join(reasons, "; ")
		l.logger.Warn(ctx, "suspicious activity detected",
			logger.String("user_id", userID),
			logger.Int("failed_liveness", r.FailedLiveness),
			logger.Int("failed_captures", r.FailedCaptures),
			logger.Int("no_indicators", r.AttemptsNoIndicator))
	}
	return r, nil
}
