package liveness_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/presence/internal/domain/liveness"
	"github.com/okian/presence/internal/domain/scoring"
	"github.com/okian/presence/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

// eyes returns a 68-point face whose eye aspect ratio is ear.
func eyes(ear float64) *types.Face {
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
	return &types.Face{Box: types.FaceBox{W: 100, H: 100}, Landmarks: l}
}

func newAnalyzer() *liveness.Analyzer {
	return liveness.NewAnalyzer(liveness.Settings{}, scoring.New(scoring.WithMaxIndicators(2)))
}

func TestAnalyzer(t *testing.T) {
	Convey("Given an analyzer", t, func() {
		a := newAnalyzer()

		Convey("When no face is found", func() {
			r := a.Analyze(nil, types.PoseAngles{})

			Convey("Then the frame reports no_face with zero score", func() {
				So(r.FaceDetected, ShouldBeFalse)
				So(r.Status, ShouldEqual, types.StatusNoFace)
				So(r.Score, ShouldEqual, 0)
				So(r.Guidance, ShouldEqual, scoring.GuidanceNoFace)
			})
		})

		Convey("When the user blinks twice and turns their head", func() {
			var r types.LivenessResult
			frames := []struct {
				ear float64
				yaw float64
			}{{0.3, 0}, {0.1, 0}, {0.3, 0}, {0.1, 10}, {0.3, 20}, {0.3, 30}}
			for _, f := range frames {
				r = a.Analyze(eyes(f.ear), types.PoseAngles{Yaw: f.yaw})
			}

			Convey("Then indicator counts accumulate across frames", func() {
				So(r.FaceDetected, ShouldBeTrue)
				So(r.Indicators.BlinkCount, ShouldEqual, 2)
				So(r.Indicators.HeadMovementCount, ShouldEqual, 3)
				So(r.Indicators.HeadMovementDetected, ShouldBeTrue)
				// blink 0.4*1 + head 0.3*1
				So(r.Score, ShouldAlmostEqual, 0.7, 1e-9)
				So(r.Status, ShouldEqual, types.StatusLivenessVerified)
				So(r.Pose.Yaw, ShouldEqual, 30)
			})

			Convey("Then reset starts from scratch", func() {
				a.Reset()
				r = a.Analyze(eyes(0.3), types.PoseAngles{})
				So(r.Indicators.BlinkCount, ShouldEqual, 0)
				So(r.Status, ShouldEqual, types.StatusNoLiveness)
			})
		})
	})
}

func TestSessionStore(t *testing.T) {
	Convey("Given a session store with a controllable clock", t, func() {
		ctx := context.Background()
		now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
		var ids int
		store := liveness.NewSessionStore(newAnalyzer,
			liveness.WithTTL(time.Minute),
			liveness.WithClock(func() time.Time { return now }),
			liveness.WithIDGenerator(func() string { ids++; return fmt.Sprintf("s-%d", ids) }),
		)

		Convey("When two sessions are created", func() {
			a, err := store.Create(ctx, "alice")
			So(err, ShouldBeNil)
			b, err := store.Create(ctx, "bob")
			So(err, ShouldBeNil)

			Convey("Then detector state is isolated per session", func() {
				a.Analyze(eyes(0.3), types.PoseAngles{})
				a.Analyze(eyes(0.1), types.PoseAngles{})
				rb := b.Analyze(eyes(0.3), types.PoseAngles{})
				So(rb.Indicators.BlinkCount, ShouldEqual, 0)
				last, frames := a.Last()
				So(last.Indicators.BlinkCount, ShouldEqual, 1)
				So(frames, ShouldEqual, 2)
			})

			Convey("Then a session is only visible to its owner", func() {
				_, err := store.Get(ctx, a.ID, "bob")
				So(errors.Is(err, liveness.ErrSessionNotFound), ShouldBeTrue)
				got, err := store.Get(ctx, a.ID, "alice")
				So(err, ShouldBeNil)
				So(got, ShouldEqual, a)
			})

			Convey("Then activity extends the expiry", func() {
				now = now.Add(50 * time.Second)
				_, err := store.Get(ctx, a.ID, "alice")
				So(err, ShouldBeNil)
				now = now.Add(50 * time.Second)
				_, err = store.Get(ctx, a.ID, "alice")
				So(err, ShouldBeNil)
			})

			Convey("Then an expired session is never revived", func() {
				now = now.Add(2 * time.Minute)
				_, err := store.Get(ctx, a.ID, "alice")
				So(errors.Is(err, liveness.ErrSessionNotFound), ShouldBeTrue)
				So(store.Size(), ShouldEqual, 1)
				_, err = store.Get(ctx, a.ID, "alice")
				So(errors.Is(err, liveness.ErrSessionNotFound), ShouldBeTrue)
			})

			Convey("Then sweep drops expired sessions", func() {
				now = now.Add(2 * time.Minute)
				So(store.Sweep(), ShouldEqual, 2)
				So(store.Size(), ShouldEqual, 0)
			})

			Convey("Then delete ends a session", func() {
				So(store.Delete(ctx, b.ID, "bob"), ShouldBeNil)
				So(errors.Is(store.Delete(ctx, b.ID, "bob"), liveness.ErrSessionNotFound), ShouldBeTrue)
				So(store.Size(), ShouldEqual, 1)
			})
		})
	})

	Convey("Given a store bounded to one session", t, func() {
		ctx := context.Background()
		now := time.Now()
		store := liveness.NewSessionStore(newAnalyzer,
			liveness.WithMaxSessions(1),
			liveness.WithTTL(time.Second),
			liveness.WithClock(func() time.Time { return now }),
		)
		_, err := store.Create(ctx, "alice")
		So(err, ShouldBeNil)

		Convey("When another session is requested while the first is live", func() {
			_, err := store.Create(ctx, "bob")

			Convey("Then creation is refused", func() {
				So(errors.Is(err, liveness.ErrSessionLimit), ShouldBeTrue)
			})
		})

		Convey("When the first session has expired", func() {
			now = now.Add(2 * time.Second)
			_, err := store.Create(ctx, "bob")

			Convey("Then it is swept to make room", func() {
				So(err, ShouldBeNil)
				So(store.Size(), ShouldEqual, 1)
			})
		})
	})

	Convey("Given concurrent frames on one session", t, func() {
		ctx := context.Background()
		store := liveness.NewSessionStore(newAnalyzer)
		sess, err := store.Create(ctx, "alice")
		So(err, ShouldBeNil)

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				sess.Analyze(eyes(0.3), types.PoseAngles{})
			}()
		}
		wg.Wait()

		Convey("Then every frame is applied", func() {
			_, frames := sess.Last()
			So(frames, ShouldEqual, 50)
		})
	})
}
