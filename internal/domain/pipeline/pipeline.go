// Package pipeline runs the check-in decision: pre-checks, then the liveness,
// spoof, identity and location stages in a fixed order, then the attendance
// write. Every attempt, accepted or rejected, leaves a capture log entry.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"

	"github.com/okian/presence/internal/domain/attempts"
	"github.com/okian/presence/internal/domain/embedding"
	"github.com/okian/presence/internal/domain/frontal"
	"github.com/okian/presence/internal/domain/geo"
	"github.com/okian/presence/internal/domain/imaging"
	"github.com/okian/presence/internal/domain/liveness"
	"github.com/okian/presence/internal/domain/model"
	"github.com/okian/presence/internal/domain/quality"
	"github.com/okian/presence/internal/domain/scoring"
	"github.com/okian/presence/internal/domain/spoof"
	"github.com/okian/presence/internal/domain/types"
	"github.com/okian/presence/pkg/logger"
	"github.com/okian/presence/pkg/metrics"
)

// Default policy values.
const (
	DefaultSimilarityThreshold = 0.75
	DefaultRadiusMeters        = 100.0
)

// Stage names, including the pre-checks that run before the ordered stages.
const (
	StageAttendance = "attendance"
	StageSession    = "session"
	StageQuality    = "quality"
	StageDetection  = "detection"
	StageLiveness   = "liveness"
	StageSpoof      = "spoof"
	StageIdentity   = "identity"
	StageLocation   = "location"
	StageRecord     = "record"
)

// StatusSuccess is the result status of an accepted check-in.
const StatusSuccess = "success"

// FaceDetector localizes faces and their landmarks in a frame.
type FaceDetector interface {
	Detect(ctx context.Context, img image.Image) ([]types.Face, error)
}

// PoseEstimator yields a pose for a face, falling back when solving fails.
type PoseEstimator interface {
	EstimateFace(ctx context.Context, face types.Face, size types.Size) (types.PoseAngles, bool)
}

// Sessions resolves the caller's liveness session.
type Sessions interface {
	Get(ctx context.Context, id, userID string) (*liveness.Session, error)
}

// TemplateStore returns nil without error when the user is not enrolled.
type TemplateStore interface {
	GetTemplate(ctx context.Context, userID string) (*model.EnrollmentTemplate, error)
}

// AttendanceStore holds accepted check-ins. RecordAttendance reports an
// existing record for the day with an error wrapping ErrAlreadyCheckedInToday.
type AttendanceStore interface {
	HasAttendance(ctx context.Context, studentID, classID, date string) (bool, error)
	RecordAttendance(ctx context.Context, rec model.AttendanceRecord) error
}

// ClassDirectory returns nil without error for unknown classes.
type ClassDirectory interface {
	GetClass(ctx context.Context, classID string) (*model.ClassInfo, error)
}

// Notifier pushes a message to an instructor. delivered is false when the
// message was queued for later delivery.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) (delivered bool, err error)
}

// AuditLog receives every frame, capture and out-of-range attempt.
type AuditLog interface {
	LogLiveness(ctx context.Context, e model.LivenessLogEntry) error
	LogCapture(ctx context.Context, e model.CaptureLogEntry) error
	LogGPS(ctx context.Context, e model.GPSAuditEntry) error
}

// Executor runs CPU-bound work off the caller's goroutine.
type Executor interface {
	Run(ctx context.Context, fn func(context.Context) error) error
}

type inline struct{}

func (inline) Run(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }

// Dependencies are the collaborators every Pipeline needs.
type Dependencies struct {
	Detector   FaceDetector
	Pose       PoseEstimator
	Sessions   Sessions
	Scorer     *scoring.Scorer
	Spoof      spoof.Detector
	Embedder   embedding.Embedder
	Templates  TemplateStore
	Attendance AttendanceStore
	Counter    attempts.Counter
	Classes    ClassDirectory
	Notifier   Notifier
	Audit      AuditLog
}

// Request is one check-in.
type Request struct {
	StudentID string
	ClassID   string
	SessionID string
	Latitude  float64
	Longitude float64
	Frame     imaging.Source
}

// Attempt carries a request through the stages. Stages read what earlier
// steps produced and add their own results.
type Attempt struct {
	Request Request
	Key     model.AttemptKey
	Now     time.Time

	Session      *liveness.Session
	Frame        image.Image
	Face         types.Face
	Size         types.Size
	Pose         types.PoseAngles
	PoseFallback bool
	Frontal      frontal.Report

	Liveness   types.LivenessResult
	Spoof      spoof.Result
	Similarity float64
	Distance   float64

	Validations model.Validations
}

// Result is an accepted check-in.
type Result struct {
	Status      string                 `json:"status"`
	CheckInTime time.Time              `json:"check_in_time"`
	Record      model.AttendanceRecord `json:"-"`
	Validations model.Validations      `json:"validations"`
	Frontal     frontal.Report         `json:"frontal"`
	Liveness    types.LivenessResult   `json:"liveness"`
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	deps        Dependencies
	stages      []Stage
	gate        quality.Gate
	frontal     frontal.Validator
	area        geo.Area
	similarity  float64
	maxAttempts int
	exec        Executor
	now         func() time.Time
	location    *time.Location
	logger      logger.Logger
}

// New creates a Pipeline. Missing optional collaborators (Classes, Notifier,
// Audit) disable the features they serve.
func New(deps Dependencies, opts ...Option) (*Pipeline, error) {
	if deps.Detector == nil || deps.Pose == nil || deps.Sessions == nil || deps.Spoof == nil ||
		deps.Embedder == nil || deps.Templates == nil || deps.Attendance == nil || deps.Counter == nil {
		return nil, ErrMissingDependency
	}
	if deps.Scorer == nil {
		deps.Scorer = scoring.New()
	}
	p := &Pipeline{
		deps:        deps,
		gate:        quality.DefaultGate(),
		frontal:     frontal.New(0, 0, 0),
		area:        geo.Area{RadiusMeters: DefaultRadiusMeters},
		similarity:  DefaultSimilarityThreshold,
		maxAttempts: attempts.DefaultMaxAttempts,
		exec:        inline{},
		now:         time.Now,
		location:    time.UTC,
		logger:      logger.Named("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.stages = []Stage{
		&livenessStage{p: p},
		&spoofStage{p: p},
		&identityStage{p: p},
		&locationStage{p: p},
	}
	return p, nil
}

// Stages returns the stage names in evaluation order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// MaxAttempts returns the daily invalid-location limit.
func (p *Pipeline) MaxAttempts() int { return p.maxAttempts }

// Date returns the attempt key date for t.
func (p *Pipeline) Date(t time.Time) string {
	return t.In(p.location).Format(model.DateLayout)
}

// CheckIn evaluates one request on the executor, frame decoding included.
// Rejections are returned as *Rejection; any other error is an
// infrastructure failure.
func (p *Pipeline) CheckIn(ctx context.Context, req Request) (*Result, error) {
	var res *Result
	err := p.exec.Run(ctx, func(ctx context.Context) error {
		var err error
		res, err = p.checkIn(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) checkIn(ctx context.Context, req Request) (*Result, error) {
	now := p.now()
	a := &Attempt{
		Request: req,
		Now:     now,
		Key:     model.AttemptKey{StudentID: req.StudentID, ClassID: req.ClassID, Date: p.Date(now)},
	}

	if err := p.evaluate(ctx, a); err != nil {
		if rej, ok := AsRejection(err); ok {
			rej.Validations = a.Validations
			metrics.RecordCheckIn(rej.Code())
			p.logger.Info(ctx, "check-in rejected",
				logger.String("student_id", req.StudentID),
				logger.String("class_id", req.ClassID),
				logger.String("stage", rej.Stage),
				logger.String("error_type", rej.Code()))
		} else {
			metrics.RecordCheckIn(CodeInternal)
			p.logger.Error(ctx, "check-in failed",
				logger.String("student_id", req.StudentID),
				logger.String("class_id", req.ClassID),
				logger.Error(err))
		}
		p.logCapture(ctx, a, err)
		return nil, err
	}

	rec := model.AttendanceRecord{
		ID:          uuid.NewString(),
		StudentID:   req.StudentID,
		ClassID:     req.ClassID,
		Date:        a.Key.Date,
		CheckInTime: now.UTC(),
		Location:    model.Location{Latitude: req.Latitude, Longitude: req.Longitude},
		Status:      "present",
		Validations: a.Validations,
	}
	if err := p.deps.Attendance.RecordAttendance(ctx, rec); err != nil {
		if errors.Is(err, ErrAlreadyCheckedInToday) {
			// A concurrent check-in won the race.
			rej := reject(StageRecord, ErrAlreadyCheckedInToday, "You have already checked in to this class today")
			rej.Validations = a.Validations
			metrics.RecordCheckIn(rej.Code())
			p.logCapture(ctx, a, rej)
			return nil, rej
		}
		err = fmt.Errorf("record attendance: %w", err)
		metrics.RecordCheckIn(CodeInternal)
		p.logCapture(ctx, a, err)
		return nil, err
	}
	metrics.RecordCheckIn(StatusSuccess)
	p.logCapture(ctx, a, nil)
	p.notifyInstructor(ctx, a, model.NotificationAttendanceUpdate,
		fmt.Sprintf("Student %s checked in", req.StudentID),
		map[string]any{
			"check_in_time":    rec.CheckInTime,
			"similarity_score": a.Similarity,
			"liveness_score":   a.Liveness.Score,
			"distance_meters":  a.Distance,
		})

	p.logger.Info(ctx, "check-in recorded",
		logger.String("student_id", req.StudentID),
		logger.String("class_id", req.ClassID),
		logger.Float64("similarity", a.Similarity),
		logger.Float64("distance_m", a.Distance))

	return &Result{
		Status:      StatusSuccess,
		CheckInTime: rec.CheckInTime,
		Record:      rec,
		Validations: a.Validations,
		Frontal:     a.Frontal,
		Liveness:    a.Liveness,
	}, nil
}

// evaluate runs the pre-checks and then each stage, stopping at the first failure.
func (p *Pipeline) evaluate(ctx context.Context, a *Attempt) error {
	req := a.Request

	done, err := p.deps.Attendance.HasAttendance(ctx, req.StudentID, req.ClassID, a.Key.Date)
	if err != nil {
		return fmt.Errorf("attendance lookup: %w", err)
	}
	if done {
		return reject(StageAttendance, ErrAlreadyCheckedInToday, "You have already checked in to this class today")
	}

	if err := p.checkBlocked(ctx, a); err != nil {
		return err
	}

	sess, err := p.deps.Sessions.Get(ctx, req.SessionID, req.StudentID)
	if err != nil {
		return reject(StageSession, ErrSessionNotFound, "Liveness session expired or unknown, please start again")
	}
	a.Session = sess

	frame, err := req.Frame.Decode()
	if err != nil {
		metrics.RecordStageOutcome(StageQuality, CodeInvalidFrame)
		kind := ErrInvalidFrame
		if errors.Is(err, ErrEmptyFrame) {
			kind = ErrEmptyFrame
		}
		return reject(StageQuality, kind, "The photo could not be read, please capture again")
	}
	a.Frame = frame
	if q := p.gate.Check(frame); !q.OK {
		metrics.RecordStageOutcome(StageQuality, CodeLowImageQuality)
		return reject(StageQuality, ErrLowImageQuality, q.Reason)
	}

	faces, err := p.deps.Detector.Detect(ctx, frame)
	if err != nil {
		return fmt.Errorf("detect face: %w", err)
	}
	if len(faces) == 0 {
		metrics.RecordStageOutcome(StageDetection, CodeNoFace)
		return reject(StageDetection, ErrNoFaceDetected, "No face detected, please look at the camera")
	}
	a.Face = largest(faces)
	b := frame.Bounds()
	a.Size = types.Size{Width: b.Dx(), Height: b.Dy()}
	a.Pose, a.PoseFallback = p.deps.Pose.EstimateFace(ctx, a.Face, a.Size)
	a.Frontal = p.frontal.Validate(a.Pose)

	for _, s := range p.stages {
		if err := s.Evaluate(ctx, a); err != nil {
			metrics.RecordStageOutcome(s.Name(), Code(err))
			return err
		}
		metrics.RecordStageOutcome(s.Name(), "pass")
	}
	return nil
}

// checkBlocked rejects up front once the daily invalid-location limit is
// reached, whatever the other stages would decide.
func (p *Pipeline) checkBlocked(ctx context.Context, a *Attempt) error {
	c, err := p.deps.Counter.Get(ctx, a.Key)
	if err != nil {
		p.logger.Warn(ctx, "attempt counter unavailable",
			logger.String("key", a.Key.String()), logger.Error(err))
		return nil
	}
	if c.AttemptCount < p.maxAttempts {
		return nil
	}
	dist, _, _ := p.area.Contains(a.Request.Latitude, a.Request.Longitude)
	metrics.RecordGPSInvalidAttempt(true)
	p.logGPS(ctx, a, dist, c.AttemptCount, true)
	return &Rejection{
		Stage:         StageLocation,
		Kind:          ErrGPSMaxAttemptsReached,
		Message:       fmt.Sprintf("Maximum invalid location attempts (%d) reached for today", p.maxAttempts),
		Distance:      dist,
		AttemptNumber: c.AttemptCount,
	}
}

func (p *Pipeline) logCapture(ctx context.Context, a *Attempt, err error) {
	if p.deps.Audit == nil {
		return
	}
	e := model.CaptureLogEntry{
		UserID:           a.Request.StudentID,
		SessionID:        a.Request.SessionID,
		ClassID:          a.Request.ClassID,
		LivenessVerified: a.Liveness.Status == types.StatusLivenessVerified,
		LivenessScore:    a.Liveness.Score,
		FrontalFaceValid: a.Frontal.IsFrontal,
		CaptureSuccess:   err == nil,
	}
	if a.Size.Width > 0 {
		pose := a.Pose
		e.Pose = &pose
	}
	if err != nil {
		e.ErrorType = Code(err)
		e.ErrorMessage = err.Error()
		e.FailedStage = StageRecord
		if rej, ok := AsRejection(err); ok {
			e.FailedStage = rej.Stage
			e.ErrorMessage = rej.Message
		}
	}
	if err := p.deps.Audit.LogCapture(ctx, e); err != nil && !errors.Is(err, ErrPersistenceDegraded) {
		p.logger.Warn(ctx, "capture log failed", logger.Error(err))
	}
}

func (p *Pipeline) logGPS(ctx context.Context, a *Attempt, dist float64, attempt int, blocked bool) {
	if p.deps.Audit == nil {
		return
	}
	_ = p.deps.Audit.LogGPS(ctx, model.GPSAuditEntry{
		StudentID:      a.Request.StudentID,
		ClassID:        a.Request.ClassID,
		Latitude:       a.Request.Latitude,
		Longitude:      a.Request.Longitude,
		DistanceMeters: dist,
		AttemptNumber:  attempt,
		Blocked:        blocked,
		FaceSimilarity: a.Similarity,
		Timestamp:      a.Now.UTC(),
	})
}

// notifyInstructor looks up the class instructor and pushes a message. Any
// failure is logged and swallowed.
func (p *Pipeline) notifyInstructor(ctx context.Context, a *Attempt, kind, msg string, data map[string]any) {
	if p.deps.Notifier == nil || p.deps.Classes == nil {
		return
	}
	class, err := p.deps.Classes.GetClass(ctx, a.Request.ClassID)
	if err != nil || class == nil || class.InstructorID == "" {
		p.logger.Debug(ctx, "no instructor to notify",
			logger.String("class_id", a.Request.ClassID), logger.Error(err))
		return
	}
	n := model.Notification{
		ID:           uuid.NewString(),
		InstructorID: class.InstructorID,
		Type:         kind,
		ClassID:      class.ID,
		StudentID:    a.Request.StudentID,
		Message:      msg,
		Data:         data,
		CreatedAt:    a.Now.UTC(),
	}
	delivered, err := p.deps.Notifier.Notify(ctx, n)
	if err != nil {
		p.logger.Warn(ctx, "instructor notification failed",
			logger.String("instructor_id", class.InstructorID), logger.Error(err))
		return
	}
	p.logger.Debug(ctx, "instructor notified",
		logger.String("instructor_id", class.InstructorID),
		logger.String("type", kind),
		logger.Bool("delivered", delivered))
}

func largest(faces []types.Face) types.Face {
	best := faces[0]
	for _, f := range faces[1:] {
		if f.Box.W*f.Box.H > best.Box.W*best.Box.H {
			best = f
		}
	}
	return best
}
