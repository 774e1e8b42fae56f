package service

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"sync"
	"time"

	"github.com/okian/presence/internal/domain/audit"
	"github.com/okian/presence/internal/domain/enrollment"
	"github.com/okian/presence/internal/domain/frontal"
	"github.com/okian/presence/internal/domain/imaging"
	"github.com/okian/presence/internal/domain/model"
	"github.com/okian/presence/internal/domain/pipeline"
	"github.com/okian/presence/internal/domain/quality"
	"github.com/okian/presence/internal/domain/types"
	"github.com/okian/presence/pkg/logger"
	"github.com/okian/presence/pkg/metrics"
)

// SessionInfo describes a created liveness session.
type SessionInfo struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ProbeInput is one liveness frame.
type ProbeInput struct {
	UserID     string
	SessionID  string
	Frame      imaging.Source
	FrameIndex int
	Timestamp  float64
}

// PoseReport is the result of a frontal pose check.
type PoseReport struct {
	FaceDetected bool              `json:"face_detected"`
	Quality      quality.Report    `json:"quality"`
	Pose         *types.PoseAngles `json:"pose,omitempty"`
	Fallback     bool              `json:"pose_fallback"`
	Frontal      *frontal.Report   `json:"frontal,omitempty"`
}

// EnrollmentResult is a stored template summary.
type EnrollmentResult struct {
	Status  string             `json:"status"`
	Summary enrollment.Summary `json:"summary"`
}

// CreateSession starts a liveness session for userID.
func (s *Service) CreateSession(ctx context.Context, userID string) (SessionInfo, error) {
	if err := s.running(); err != nil {
		return SessionInfo{}, err
	}
	sess, err := s.sessions.Create(ctx, userID)
	if err != nil {
		return SessionInfo{}, err
	}
	return SessionInfo{SessionID: sess.ID, ExpiresAt: sess.ExpiresAt()}, nil
}

// EndSession discards a session and its detector state.
func (s *Service) EndSession(ctx context.Context, userID, sessionID string) error {
	if err := s.running(); err != nil {
		return err
	}
	return s.sessions.Delete(ctx, sessionID, userID)
}

// Probe feeds one frame to the caller's session and returns the running
// liveness verdict. A frame without a face is reported, not rejected.
func (s *Service) Probe(ctx context.Context, in ProbeInput) (types.LivenessResult, error) {
	if err := s.running(); err != nil {
		return types.LivenessResult{}, err
	}
	sess, err := s.sessions.Get(ctx, in.SessionID, in.UserID)
	if err != nil {
		return types.LivenessResult{}, err
	}

	var res types.LivenessResult
	err = s.pool.Run(ctx, func(ctx context.Context) error {
		frame, err := in.Frame.Decode()
		if err != nil {
			return err
		}
		face, size, err := s.detect(ctx, frame)
		if err != nil {
			return err
		}
		if face == nil {
			res = sess.Analyze(nil, types.PoseAngles{})
			return nil
		}
		angles, _ := s.pose.EstimateFace(ctx, *face, size)
		res = sess.Analyze(face, angles)
		return nil
	})
	if err != nil {
		return types.LivenessResult{}, err
	}

	metrics.RecordLivenessFrame(string(res.Status), res.Score)
	// Degraded writes are kept locally and replayed.
	_ = s.audit.LogLiveness(ctx, model.LivenessLogEntry{
		UserID:     in.UserID,
		SessionID:  in.SessionID,
		FrameIndex: in.FrameIndex,
		Timestamp:  in.Timestamp,
		Score:      res.Score,
		Indicators: res.Indicators,
		Guidance:   res.Guidance,
		Status:     res.Status,
		Pose:       res.Pose,
		FaceFound:  res.FaceDetected,
	})
	return res, nil
}

// ValidatePose reports the head pose of the largest face and whether it is
// frontal enough to capture.
func (s *Service) ValidatePose(ctx context.Context, src imaging.Source) (PoseReport, error) {
	if err := s.running(); err != nil {
		return PoseReport{}, err
	}
	var rep PoseReport
	err := s.pool.Run(ctx, func(ctx context.Context) error {
		frame, err := src.Decode()
		if err != nil {
			return err
		}
		rep.Quality = s.gate.Check(frame)
		face, size, err := s.detect(ctx, frame)
		if err != nil || face == nil {
			return err
		}
		angles, fellBack := s.pose.EstimateFace(ctx, *face, size)
		fr := s.frontal.Validate(angles)
		rep.FaceDetected = true
		rep.Pose = &angles
		rep.Fallback = fellBack
		rep.Frontal = &fr
		return nil
	})
	return rep, err
}

// CheckIn runs the verification pipeline. Rejections are *pipeline.Rejection.
func (s *Service) CheckIn(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	return s.pipeline.CheckIn(ctx, req)
}

// Enroll builds and stores a template from frames. Each frame is decoded and
// analysed on the worker pool; frames that fail analysis are dropped, not fatal.
func (s *Service) Enroll(ctx context.Context, userID string, frames []imaging.Source) (EnrollmentResult, error) {
	if err := s.running(); err != nil {
		return EnrollmentResult{}, err
	}
	if err := s.enroller.CheckInput(len(frames)); err != nil {
		metrics.RecordEnrollment(pipeline.Code(err), 0)
		return EnrollmentResult{Summary: enrollment.Summary{TotalSamples: len(frames)}}, err
	}

	candidates := make([]enrollment.Candidate, len(frames))
	errs := make([]error, len(frames))
	var wg sync.WaitGroup
	for i, frame := range frames {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.pool.Run(ctx, func(ctx context.Context) error {
				candidates[i] = s.candidate(ctx, frame)
				return nil
			})
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			metrics.RecordEnrollment(pipeline.CodeInternal, 0)
			return EnrollmentResult{}, fmt.Errorf("analyse enrollment frame: %w", err)
		}
	}

	tpl, summary, err := s.enroller.Aggregate(ctx, userID, candidates)
	if err != nil {
		metrics.RecordEnrollment(pipeline.Code(err), summary.SamplesUsed)
		s.logger.Info(ctx, "enrollment rejected",
			logger.String("user_id", userID), logger.String("error_type", pipeline.Code(err)))
		return EnrollmentResult{Summary: summary}, err
	}
	if err := s.store.SaveTemplate(ctx, tpl); err != nil {
		metrics.RecordEnrollment(pipeline.CodeInternal, summary.SamplesUsed)
		return EnrollmentResult{Summary: summary}, fmt.Errorf("save template: %w", err)
	}
	metrics.RecordEnrollment(pipeline.StatusSuccess, summary.SamplesUsed)
	s.logger.Info(ctx, "enrollment stored",
		logger.String("user_id", userID),
		logger.Int("samples", summary.SamplesUsed),
		logger.Float64("yaw_range", summary.YawRange),
		logger.Float64("pitch_range", summary.PitchRange))
	return EnrollmentResult{Status: pipeline.StatusSuccess, Summary: summary}, nil
}

// candidate never fails; a frame it cannot use carries a discard reason, no
// face or no vector.
func (s *Service) candidate(ctx context.Context, src imaging.Source) enrollment.Candidate {
	c := enrollment.Candidate{}
	frame, err := src.Decode()
	if err != nil {
		c.Discard = enrollment.DiscardInvalidFrame
		s.logger.Debug(ctx, "enrollment frame discarded", logger.Error(err))
		return c
	}
	b := frame.Bounds()
	c.Size = types.Size{Width: b.Dx(), Height: b.Dy()}
	if !s.gate.Check(frame).OK {
		c.Discard = enrollment.DiscardLowQuality
		return c
	}
	face, _, err := s.detect(ctx, frame)
	if err != nil || face == nil {
		return c
	}
	c.Face = face
	vec, err := s.embedder.Embed(ctx, frame, *face)
	if err == nil {
		c.Embedding = vec
	}
	return c
}

// detect returns the largest face, or nil when there is none.
func (s *Service) detect(ctx context.Context, frame image.Image) (*types.Face, types.Size, error) {
	if frame == nil {
		return nil, types.Size{}, nil
	}
	b := frame.Bounds()
	size := types.Size{Width: b.Dx(), Height: b.Dy()}
	faces, err := s.detector.Detect(ctx, frame)
	if err != nil {
		return nil, size, fmt.Errorf("detect face: %w", err)
	}
	var best *types.Face
	for i := range faces {
		if best == nil || faces[i].Box.W*faces[i].Box.H > best.Box.W*best.Box.H {
			best = &faces[i]
		}
	}
	return best, size, nil
}

// LivenessLogs returns a user's liveness audit trail, newest first.
func (s *Service) LivenessLogs(ctx context.Context, userID string, limit int) ([]model.LivenessLogEntry, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	return s.audit.LivenessLogs(ctx, userID, limit)
}

// CaptureLogs returns a user's capture audit trail, newest first.
func (s *Service) CaptureLogs(ctx context.Context, userID string, limit int) ([]model.CaptureLogEntry, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	return s.audit.CaptureLogs(ctx, userID, limit)
}

// GPSLogs returns a student's out-of-range location attempts, newest first.
func (s *Service) GPSLogs(ctx context.Context, studentID string, limit int) ([]model.GPSAuditEntry, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	return s.audit.GPSLogs(ctx, studentID, limit)
}

// Suspicious evaluates a user's recent audit trail. threshold <= 0 selects
// the configured default.
func (s *Service) Suspicious(ctx context.Context, userID string, threshold int) (audit.Report, error) {
	if err := s.running(); err != nil {
		return audit.Report{}, err
	}
	if threshold <= 0 {
		threshold = s.cfg.SuspiciousThreshold
	}
	return s.audit.DetectSuspicious(ctx, userID, threshold)
}

// ServeInstructor upgrades the request to an instructor notification socket.
func (s *Service) ServeInstructor(w http.ResponseWriter, r *http.Request, instructorID string) error {
	if err := s.running(); err != nil {
		return err
	}
	return s.dispatcher.ServeInstructor(w, r, instructorID)
}

// SaveClass registers a class and its instructor.
func (s *Service) SaveClass(ctx context.Context, c model.ClassInfo) error {
	if err := s.running(); err != nil {
		return err
	}
	return s.store.SaveClass(ctx, c)
}
