package service_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math/rand"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/presence/internal/app"
	"github.com/okian/presence/internal/adapters/repository"
	"github.com/okian/presence/internal/config"
	"github.com/okian/presence/internal/domain/attempts"
	"github.com/okian/presence/internal/domain/enrollment"
	"github.com/okian/presence/internal/domain/imaging"
	"github.com/okian/presence/internal/domain/liveness"
	"github.com/okian/presence/internal/domain/model"
	"github.com/okian/presence/internal/domain/pipeline"
	"github.com/okian/presence/internal/domain/spoof"
	"github.com/okian/presence/internal/domain/types"
)

type stubDetector struct {
	mu    sync.Mutex
	faces []types.Face
}

func (d *stubDetector) set(faces ...types.Face) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faces = faces
}

func (d *stubDetector) Detect(context.Context, image.Image) ([]types.Face, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]types.Face(nil), d.faces...), nil
}

// stubPose hands out queued angles in order, then the fixed angles.
type stubPose struct {
	mu     sync.Mutex
	queue  []types.PoseAngles
	angles types.PoseAngles
}

func (p *stubPose) set(a types.PoseAngles) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.angles = a
}

func (p *stubPose) push(a ...types.PoseAngles) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, a...)
}

func (p *stubPose) EstimateFace(context.Context, types.Face, types.Size) (types.PoseAngles, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) > 0 {
		a := p.queue[0]
		p.queue = p.queue[1:]
		return a, false
	}
	return p.angles, false
}

type fixedEmbedder struct{ vector []float64 }

func (e fixedEmbedder) Embed(context.Context, image.Image, types.Face) ([]float64, error) {
	return append([]float64(nil), e.vector...), nil
}

type realFace struct{}

func (realFace) Detect(context.Context, image.Image, *types.Face) (spoof.Result, error) {
	return spoof.Result{RealScore: 0.9, FakeConfidence: 0.1}, nil
}

// eyes returns a 68-point landmark set whose eye aspect ratio is ear.
func eyes(ear float64) types.Face {
	l := make(types.LandmarkSet, types.LandmarkCount)
	for _, start := range []int{types.LeftEyeStart, types.RightEyeStart} {
		x0 := float64(start * 4)
		h := ear * 30
		l[start+0] = types.Point{X: x0, Y: 100}
		l[start+1] = types.Point{X: x0 + 10, Y: 100 - h/2}
		l[start+2] = types.Point{X: x0 + 20, Y: 100 - h/2}
		l[start+3] = types.Point{X: x0 + 30, Y: 100}
		l[start+4] = types.Point{X: x0 + 20, Y: 100 + h/2}
		l[start+5] = types.Point{X: x0 + 10, Y: 100 + h/2}
	}
	return types.Face{Box: types.FaceBox{X: 8, Y: 8, W: 48, H: 48}, Landmarks: l}
}

func frame() imaging.Source { return imaging.FromImage(noisy(64, 64, 128, 60)) }

func noisy(w, h int, base uint8, spread int) *image.Gray {
	rng := rand.New(rand.NewSource(3)) //nolint:gosec // deterministic test data
	g := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := int(base) + rng.Intn(2*spread+1) - spread
			g.SetGray(x, y, color.Gray{Y: uint8(max(0, min(255, v)))})
		}
	}
	return g
}

type fixture struct {
	svc      *service.Service
	store    *repository.MemoryStore
	detector *stubDetector
	pose     *stubPose
	now      time.Time
}

func newFixture(ctx context.Context) *fixture {
	cfg := config.New()
	cfg.WorkerCount = 2
	cfg.QueueSize = 64
	cfg.LivenessMaxIndicators = 1
	cfg.LocationLat = 35.7
	cfg.LocationLon = 51.4

	f := &fixture{
		store:    repository.NewMemoryStore(),
		detector: &stubDetector{},
		pose:     &stubPose{},
		now:      time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC),
	}
	f.detector.set(eyes(0.33))
	f.svc = service.New(
		service.WithConfig(cfg),
		service.WithStore(f.store),
		service.WithCounter(attempts.NewInMemory()),
		service.WithDetector(f.detector),
		service.WithPoseEstimator(f.pose),
		service.WithEmbedder(fixedEmbedder{vector: []float64{1, 0, 0}}),
		service.WithSpoofDetector(realFace{}),
		service.WithClock(func() time.Time { return f.now }),
	)
	So(f.svc.Start(ctx), ShouldBeNil)
	So(f.svc.SaveClass(ctx, model.ClassInfo{ID: "c-1", InstructorID: "t-1"}), ShouldBeNil)
	return f
}

// blink feeds open, closed and open eyes with a head turn on the last frame.
func (f *fixture) blink(ctx context.Context, sessionID string) types.LivenessResult {
	var res types.LivenessResult
	for i, step := range []struct {
		ear float64
		yaw float64
	}{{0.33, 0}, {0.1, 0}, {0.33, 10}} {
		f.detector.set(eyes(step.ear))
		f.pose.set(types.PoseAngles{Yaw: step.yaw})
		var err error
		res, err = f.svc.Probe(ctx, service.ProbeInput{
			UserID:     "s-1",
			SessionID:  sessionID,
			Frame:      frame(),
			FrameIndex: i,
			Timestamp:  float64(i) / 10,
		})
		So(err, ShouldBeNil)
	}
	return res
}

func request(sessionID string, lat, lon float64) pipeline.Request {
	return pipeline.Request{
		StudentID: "s-1",
		ClassID:   "c-1",
		SessionID: sessionID,
		Latitude:  lat,
		Longitude: lon,
		Frame:     frame(),
	}
}

func TestServiceLifecycle(t *testing.T) {
	Convey("Given a service that was never started", t, func() {
		svc := service.New()

		Convey("Then operations are refused", func() {
			_, err := svc.CreateSession(context.Background(), "s-1")
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(errors.Is(svc.Ready(context.Background()), service.ErrNotStarted), ShouldBeTrue)
			So(svc.GetStats()["started"], ShouldBeFalse)
		})

		Convey("Then Stop is a no-op", func() {
			So(func() { svc.Stop() }, ShouldNotPanic)
		})
	})

	Convey("Given a started service", t, func() {
		ctx := context.Background()
		f := newFixture(ctx)
		Reset(func() { f.svc.Stop() })

		Convey("Then it is ready and reports its components", func() {
			So(f.svc.Ready(ctx), ShouldBeNil)
			stats := f.svc.GetStats()
			So(stats["started"], ShouldBeTrue)
			So(stats["workerCount"], ShouldEqual, 2)
			So(stats["stages"], ShouldResemble, []string{
				pipeline.StageLiveness, pipeline.StageSpoof, pipeline.StageIdentity, pipeline.StageLocation,
			})
		})

		Convey("Then a second Start is harmless", func() {
			So(f.svc.Start(ctx), ShouldBeNil)
		})

		Convey("When it is stopped", func() {
			f.svc.Stop()

			Convey("Then operations are refused again", func() {
				_, err := f.svc.CreateSession(ctx, "s-1")
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			})
		})
	})
}

func TestServiceLiveness(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		f := newFixture(ctx)
		Reset(func() { f.svc.Stop() })

		sess, err := f.svc.CreateSession(ctx, "s-1")
		So(err, ShouldBeNil)
		So(sess.SessionID, ShouldNotBeEmpty)
		So(sess.ExpiresAt.After(f.now), ShouldBeTrue)

		Convey("When a blink and a head turn are seen", func() {
			res := f.blink(ctx, sess.SessionID)

			Convey("Then liveness is verified", func() {
				So(res.FaceDetected, ShouldBeTrue)
				So(res.Status, ShouldEqual, types.StatusLivenessVerified)
				So(res.Indicators.BlinkDetected || res.Indicators.BlinkCount > 0, ShouldBeTrue)
			})

			Convey("Then every frame is in the audit trail", func() {
				logs, err := f.svc.LivenessLogs(ctx, "s-1", 10)
				So(err, ShouldBeNil)
				So(logs, ShouldHaveLength, 3)
				So(logs[0].FrameIndex, ShouldEqual, 2)
				So(logs[0].SessionID, ShouldEqual, sess.SessionID)
			})
		})

		Convey("When a frame has no face", func() {
			f.detector.set()
			res, err := f.svc.Probe(ctx, service.ProbeInput{UserID: "s-1", SessionID: sess.SessionID, Frame: frame()})

			Convey("Then it is reported, not rejected", func() {
				So(err, ShouldBeNil)
				So(res.FaceDetected, ShouldBeFalse)
				So(res.Status, ShouldEqual, types.StatusNoFace)
			})
		})

		Convey("When the frame cannot be decoded", func() {
			_, err := f.svc.Probe(ctx, service.ProbeInput{UserID: "s-1", SessionID: sess.SessionID, Frame: imaging.FromBase64("not-an-image")})

			Convey("Then the decode error is returned", func() {
				So(errors.Is(err, imaging.ErrInvalidFrame), ShouldBeTrue)
			})
		})

		Convey("When another user probes the session", func() {
			_, err := f.svc.Probe(ctx, service.ProbeInput{UserID: "s-2", SessionID: sess.SessionID, Frame: frame()})

			Convey("Then the session is not found", func() {
				So(errors.Is(err, liveness.ErrSessionNotFound), ShouldBeTrue)
			})
		})

		Convey("When the session is ended", func() {
			So(f.svc.EndSession(ctx, "s-1", sess.SessionID), ShouldBeNil)
			_, err := f.svc.Probe(ctx, service.ProbeInput{UserID: "s-1", SessionID: sess.SessionID, Frame: frame()})

			Convey("Then it can no longer be probed", func() {
				So(errors.Is(err, liveness.ErrSessionNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestServiceValidatePose(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		f := newFixture(ctx)
		Reset(func() { f.svc.Stop() })

		Convey("When the head faces the camera", func() {
			f.pose.set(types.PoseAngles{Yaw: 3, Pitch: -2})
			rep, err := f.svc.ValidatePose(ctx, frame())

			Convey("Then the pose is frontal", func() {
				So(err, ShouldBeNil)
				So(rep.FaceDetected, ShouldBeTrue)
				So(rep.Quality.OK, ShouldBeTrue)
				So(rep.Frontal.IsFrontal, ShouldBeTrue)
			})
		})

		Convey("When the head is turned away", func() {
			f.pose.set(types.PoseAngles{Yaw: 40})
			rep, err := f.svc.ValidatePose(ctx, frame())

			Convey("Then the report says why", func() {
				So(err, ShouldBeNil)
				So(rep.Frontal.IsFrontal, ShouldBeFalse)
				So(rep.Frontal.YawValid, ShouldBeFalse)
			})
		})

		Convey("When no face is found", func() {
			f.detector.set()
			rep, err := f.svc.ValidatePose(ctx, frame())

			Convey("Then no pose is reported", func() {
				So(err, ShouldBeNil)
				So(rep.FaceDetected, ShouldBeFalse)
				So(rep.Pose, ShouldBeNil)
				So(rep.Frontal, ShouldBeNil)
			})
		})
	})
}

func TestServiceCheckIn(t *testing.T) {
	Convey("Given an enrolled student with a live session", t, func() {
		ctx := context.Background()
		f := newFixture(ctx)
		Reset(func() { f.svc.Stop() })

		So(f.store.SaveTemplate(ctx, model.EnrollmentTemplate{UserID: "s-1", Embedding: []float64{1, 0, 0}}), ShouldBeNil)
		sess, err := f.svc.CreateSession(ctx, "s-1")
		So(err, ShouldBeNil)
		f.blink(ctx, sess.SessionID)

		Convey("When the student is on campus", func() {
			res, err := f.svc.CheckIn(ctx, request(sess.SessionID, 35.7, 51.4))

			Convey("Then attendance is recorded", func() {
				So(err, ShouldBeNil)
				So(res.Status, ShouldEqual, pipeline.StatusSuccess)
				ok, err := f.store.HasAttendance(ctx, "s-1", "c-1", "2026-10-15")
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
			})

			Convey("Then the offline instructor's notification is queued", func() {
				pending, err := f.store.TakePending(ctx, "t-1")
				So(err, ShouldBeNil)
				So(pending, ShouldHaveLength, 1)
				So(pending[0].Type, ShouldEqual, model.NotificationAttendanceUpdate)
				So(pending[0].StudentID, ShouldEqual, "s-1")
			})

			Convey("Then the capture is audited and nothing looks suspicious", func() {
				logs, err := f.svc.CaptureLogs(ctx, "s-1", 10)
				So(err, ShouldBeNil)
				So(logs, ShouldHaveLength, 1)
				So(logs[0].CaptureSuccess, ShouldBeTrue)
				rep, err := f.svc.Suspicious(ctx, "s-1", 0)
				So(err, ShouldBeNil)
				So(rep.IsSuspicious, ShouldBeFalse)
			})
		})

		Convey("When the student is far away", func() {
			_, err := f.svc.CheckIn(ctx, request(sess.SessionID, 35.8, 51.4))

			Convey("Then the attempt is counted", func() {
				So(pipeline.Code(err), ShouldEqual, pipeline.CodeGPSInvalid)
				rej, ok := pipeline.AsRejection(err)
				So(ok, ShouldBeTrue)
				So(rej.AttemptNumber, ShouldEqual, 1)
				So(rej.Remaining, ShouldEqual, 1)
				ok, _ = f.store.HasAttendance(ctx, "s-1", "c-1", "2026-10-15")
				So(ok, ShouldBeFalse)
			})
		})
	})
}

func TestServiceEnroll(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		f := newFixture(ctx)
		Reset(func() { f.svc.Stop() })

		frames := func(n int) []imaging.Source {
			out := make([]imaging.Source, n)
			for i := range out {
				out[i] = frame()
			}
			return out
		}

		Convey("When twenty frames sweep the head around", func() {
			for i := 0; i < 20; i++ {
				t := float64(i) / 19
				f.pose.push(types.PoseAngles{Yaw: -14 + 28*t, Pitch: -7 + 14*t})
			}
			res, err := f.svc.Enroll(ctx, "s-1", frames(20))

			Convey("Then a template is stored", func() {
				So(err, ShouldBeNil)
				So(res.Status, ShouldEqual, pipeline.StatusSuccess)
				So(res.Summary.SamplesUsed, ShouldEqual, 20)
				So(res.Summary.YawRange, ShouldAlmostEqual, 28, 1e-9)
				tpl, err := f.store.GetTemplate(ctx, "s-1")
				So(err, ShouldBeNil)
				So(tpl, ShouldNotBeNil)
				So(tpl.SampleCount, ShouldEqual, 20)
			})
		})

		Convey("When one of twenty frames is unreadable and another too dark", func() {
			for i := 0; i < 18; i++ {
				t := float64(i) / 17
				f.pose.push(types.PoseAngles{Yaw: -14 + 28*t, Pitch: -7 + 14*t})
			}
			batch := frames(20)
			batch[4] = imaging.FromBase64("not-an-image")
			batch[9] = imaging.FromImage(noisy(64, 64, 10, 5))
			res, err := f.svc.Enroll(ctx, "s-1", batch)

			Convey("Then only those frames are dropped and the template is stored", func() {
				So(err, ShouldBeNil)
				So(res.Status, ShouldEqual, pipeline.StatusSuccess)
				So(res.Summary.SamplesUsed, ShouldEqual, 18)
				So(res.Summary.TotalSamples, ShouldEqual, 20)
				So(res.Summary.Discarded[enrollment.DiscardInvalidFrame], ShouldEqual, 1)
				So(res.Summary.Discarded[enrollment.DiscardLowQuality], ShouldEqual, 1)
				So(res.Summary.Discarded[enrollment.DiscardNoFace], ShouldEqual, 0)
			})
		})

		Convey("When six frames are unreadable", func() {
			batch := frames(20)
			for i := 0; i < 6; i++ {
				batch[i] = imaging.FromBase64("not-an-image")
			}
			res, err := f.svc.Enroll(ctx, "s-1", batch)

			Convey("Then the frame policy rejects the batch", func() {
				So(errors.Is(err, enrollment.ErrInsufficientFrames), ShouldBeTrue)
				So(res.Summary.SamplesUsed, ShouldEqual, 14)
				So(res.Summary.Discarded[enrollment.DiscardInvalidFrame], ShouldEqual, 6)
			})
		})

		Convey("When the head never moves", func() {
			res, err := f.svc.Enroll(ctx, "s-1", frames(20))

			Convey("Then diversity is insufficient", func() {
				So(errors.Is(err, enrollment.ErrInsufficientPoseDiversity), ShouldBeTrue)
				So(res.Summary.SamplesUsed, ShouldEqual, 20)
				tpl, _ := f.store.GetTemplate(ctx, "s-1")
				So(tpl, ShouldBeNil)
			})
		})

		Convey("When too few frames are sent", func() {
			res, err := f.svc.Enroll(ctx, "s-1", frames(5))

			Convey("Then nothing is analysed", func() {
				So(errors.Is(err, enrollment.ErrTooFewImages), ShouldBeTrue)
				So(pipeline.Code(err), ShouldEqual, pipeline.CodeTooFewImages)
				So(res.Summary.TotalSamples, ShouldEqual, 5)
			})
		})
	})
}
