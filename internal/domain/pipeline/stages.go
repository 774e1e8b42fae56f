package pipeline

import (
	"context"
	"fmt"

	"github.com/okian/presence/internal/domain/embedding"
	"github.com/okian/presence/internal/domain/model"
	"github.com/okian/presence/pkg/logger"
	"github.com/okian/presence/pkg/metrics"
)

// Stage is one gate of the check-in decision. Evaluate returns a *Rejection
// to stop the attempt or any other error for an infrastructure failure.
type Stage interface {
	Name() string
	Evaluate(ctx context.Context, a *Attempt) error
}

// livenessStage feeds the check-in frame into the session and requires the
// accumulated score to pass.
type livenessStage struct{ p *Pipeline }

func (s *livenessStage) Name() string { return StageLiveness }

func (s *livenessStage) Evaluate(ctx context.Context, a *Attempt) error {
	face := a.Face
	res := a.Session.Analyze(&face, a.Pose)
	_, frames := a.Session.Last()
	a.Liveness = res
	metrics.RecordLivenessFrame(string(res.Status), res.Score)

	if s.p.deps.Audit != nil {
		_ = s.p.deps.Audit.LogLiveness(ctx, model.LivenessLogEntry{
			UserID:     a.Request.StudentID,
			SessionID:  a.Session.ID,
			FrameIndex: frames - 1,
			Timestamp:  float64(a.Now.UnixMilli()) / 1000,
			Score:      res.Score,
			Indicators: res.Indicators,
			Guidance:   res.Guidance,
			Status:     res.Status,
			Pose:       res.Pose,
			FaceFound:  res.FaceDetected,
		})
	}

	verified := s.p.deps.Scorer.IsVerified(res.Score)
	a.Validations.Liveness = &model.StageValidation{
		IsValid: verified,
		Score:   res.Score,
		Message: res.Guidance,
	}
	if !verified {
		return reject(StageLiveness, ErrLivenessBelowThreshold,
			fmt.Sprintf("Liveness score %.2f is below %.2f. %s", res.Score, s.p.deps.Scorer.Threshold(), res.Guidance))
	}
	return nil
}

// spoofStage runs the replaceable image-level spoof detector.
type spoofStage struct{ p *Pipeline }

func (s *spoofStage) Name() string { return StageSpoof }

func (s *spoofStage) Evaluate(ctx context.Context, a *Attempt) error {
	face := a.Face
	r, err := s.p.deps.Spoof.Detect(ctx, a.Frame, &face)
	if err != nil {
		return fmt.Errorf("spoof check: %w", err)
	}
	a.Spoof = r
	v := &model.StageValidation{IsValid: !r.IsFake, Score: r.RealScore, Message: "Image looks genuine"}
	a.Validations.Spoof = v
	if r.IsFake {
		v.Message = fmt.Sprintf("Possible replay or synthetic image (confidence %.2f)", r.FakeConfidence)
		return reject(StageSpoof, ErrDeepfakeSuspected, v.Message)
	}
	return nil
}

// identityStage compares a fresh embedding against the enrolled template.
type identityStage struct{ p *Pipeline }

func (s *identityStage) Name() string { return StageIdentity }

func (s *identityStage) Evaluate(ctx context.Context, a *Attempt) error {
	tpl, err := s.p.deps.Templates.GetTemplate(ctx, a.Request.StudentID)
	if err != nil {
		return fmt.Errorf("load template: %w", err)
	}
	if tpl == nil || len(tpl.Embedding) == 0 {
		a.Validations.Face = &model.FaceValidation{Message: "Face not enrolled"}
		return reject(StageIdentity, ErrNotEnrolled, "Face not enrolled, please complete enrollment first")
	}

	vec, err := s.p.deps.Embedder.Embed(ctx, a.Frame, a.Face)
	if err != nil {
		a.Validations.Face = &model.FaceValidation{Message: "Could not compute face embedding"}
		return &Rejection{Stage: StageIdentity, Kind: fmt.Errorf("%w: %w", ErrEmbeddingFailure, err), Message: "Could not compute face embedding"}
	}

	a.Similarity = embedding.Cosine(vec, tpl.Embedding)
	ok := a.Similarity >= s.p.similarity
	v := &model.FaceValidation{IsValid: ok, SimilarityScore: a.Similarity, Message: "Face matches enrollment"}
	a.Validations.Face = v
	if !ok {
		v.Message = fmt.Sprintf("Face does not match enrollment (similarity %.2f, need %.2f)", a.Similarity, s.p.similarity)
		return reject(StageIdentity, ErrEmbeddingMismatch, v.Message)
	}
	return nil
}

// locationStage checks the reported fix and charges out-of-range attempts
// against the daily counter.
type locationStage struct{ p *Pipeline }

func (s *locationStage) Name() string { return StageLocation }

func (s *locationStage) Evaluate(ctx context.Context, a *Attempt) error {
	p := s.p
	req := a.Request
	dist, inside, err := p.area.Contains(req.Latitude, req.Longitude)
	if err != nil {
		a.Validations.GPS = &model.GPSValidation{Message: "Invalid coordinates"}
		return reject(StageLocation, ErrGPSOutOfRange, "Invalid coordinates")
	}
	a.Distance = dist
	v := &model.GPSValidation{IsValid: inside, DistanceMeters: dist, Message: "Location verified"}
	a.Validations.GPS = v
	if inside {
		return nil
	}

	out, err := p.deps.Counter.Register(ctx, a.Key, model.GPSAttempt{
		Timestamp:      a.Now.UTC(),
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
		DistanceMeters: dist,
		FaceSimilarity: a.Similarity,
	}, p.maxAttempts)
	if err != nil {
		p.logger.Warn(ctx, "attempt counter write failed",
			logger.String("key", a.Key.String()), logger.Error(err))
		v.Message = fmt.Sprintf("You are %.0f m from the class location", dist)
		p.logGPS(ctx, a, dist, 0, false)
		return &Rejection{Stage: StageLocation, Kind: ErrGPSOutOfRange, Message: v.Message, Distance: dist}
	}
	metrics.RecordGPSInvalidAttempt(out.Blocked)
	p.logGPS(ctx, a, dist, out.AttemptNumber, out.Blocked)

	if out.Blocked {
		v.Message = fmt.Sprintf("Maximum invalid location attempts (%d) reached for today", p.maxAttempts)
		return &Rejection{
			Stage:         StageLocation,
			Kind:          ErrGPSMaxAttemptsReached,
			Message:       v.Message,
			Distance:      dist,
			AttemptNumber: out.AttemptNumber,
		}
	}

	p.notifyInstructor(ctx, a, model.NotificationGPSInvalid,
		fmt.Sprintf("Student %s tried to check in %.0f m away (attempt %d of %d)", req.StudentID, dist, out.AttemptNumber, p.maxAttempts),
		map[string]any{
			"distance_meters":    dist,
			"attempt_number":     out.AttemptNumber,
			"remaining_attempts": out.Remaining,
			"face_similarity":    a.Similarity,
		})

	v.Message = fmt.Sprintf("You are %.0f m from the class location. %d attempt(s) remaining today", dist, out.Remaining)
	return &Rejection{
		Stage:         StageLocation,
		Kind:          ErrGPSOutOfRange,
		Message:       v.Message,
		Distance:      dist,
		AttemptNumber: out.AttemptNumber,
		Remaining:     out.Remaining,
	}
}
