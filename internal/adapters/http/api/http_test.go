package api_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/presence/internal/adapters/detector"
	"github.com/okian/presence/internal/adapters/http/api"
	service "github.com/okian/presence/internal/app"
	"github.com/okian/presence/internal/domain/audit"
	"github.com/okian/presence/internal/domain/enrollment"
	"github.com/okian/presence/internal/domain/imaging"
	"github.com/okian/presence/internal/domain/liveness"
	"github.com/okian/presence/internal/domain/model"
	"github.com/okian/presence/internal/domain/pipeline"
	"github.com/okian/presence/internal/domain/types"
)

type mockDeps struct {
	mu sync.Mutex

	readyErr   error
	sessionErr error
	probeErr   error
	checkInErr error
	enrollErr  error
	serveErr   error
	enrollRes  service.EnrollmentResult

	probes    []service.ProbeInput
	checkIns  []pipeline.Request
	enrolled  int
	readable  int
	limits    []int
	threshold int
}

func (m *mockDeps) Ready(context.Context) error { return m.readyErr }

func (m *mockDeps) CreateSession(_ context.Context, userID string) (service.SessionInfo, error) {
	if m.sessionErr != nil {
		return service.SessionInfo{}, m.sessionErr
	}
	return service.SessionInfo{SessionID: "sess-" + userID, ExpiresAt: time.Date(2026, 10, 15, 9, 2, 0, 0, time.UTC)}, nil
}

func (m *mockDeps) EndSession(_ context.Context, _, sessionID string) error {
	if sessionID != "sess-s-1" {
		return liveness.ErrSessionNotFound
	}
	return nil
}

func (m *mockDeps) Probe(_ context.Context, in service.ProbeInput) (types.LivenessResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes = append(m.probes, in)
	if _, err := in.Frame.Decode(); err != nil {
		return types.LivenessResult{}, err
	}
	if m.probeErr != nil {
		return types.LivenessResult{}, m.probeErr
	}
	return types.LivenessResult{FaceDetected: true, Score: 0.7, Status: types.StatusLivenessVerified}, nil
}

func (m *mockDeps) ValidatePose(_ context.Context, src imaging.Source) (service.PoseReport, error) {
	if _, err := src.Decode(); err != nil {
		return service.PoseReport{}, err
	}
	return service.PoseReport{FaceDetected: true, Pose: &types.PoseAngles{Yaw: 3}}, nil
}

func (m *mockDeps) CheckIn(_ context.Context, req pipeline.Request) (*pipeline.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkIns = append(m.checkIns, req)
	if m.checkInErr != nil {
		return nil, m.checkInErr
	}
	return &pipeline.Result{
		Status:      pipeline.StatusSuccess,
		CheckInTime: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC),
	}, nil
}

func (m *mockDeps) Enroll(_ context.Context, _ string, frames []imaging.Source) (service.EnrollmentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrolled = len(frames)
	for _, f := range frames {
		if _, err := f.Decode(); err == nil {
			m.readable++
		}
	}
	return m.enrollRes, m.enrollErr
}

func (m *mockDeps) LivenessLogs(_ context.Context, userID string, limit int) ([]model.LivenessLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = append(m.limits, limit)
	return []model.LivenessLogEntry{{UserID: userID, FrameIndex: 1}}, nil
}

func (m *mockDeps) CaptureLogs(_ context.Context, _ string, limit int) ([]model.CaptureLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = append(m.limits, limit)
	return []model.CaptureLogEntry{}, nil
}

func (m *mockDeps) GPSLogs(_ context.Context, studentID string, limit int) ([]model.GPSAuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = append(m.limits, limit)
	return []model.GPSAuditEntry{
		{StudentID: studentID, AttemptNumber: 2, Blocked: true},
		{StudentID: studentID, AttemptNumber: 1},
	}, nil
}

func (m *mockDeps) Suspicious(_ context.Context, _ string, threshold int) (audit.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threshold = threshold
	return audit.Report{Reason: audit.ReasonClean}, nil
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func (m *mockDeps) ServeInstructor(w http.ResponseWriter, r *http.Request, id string) error {
	if m.serveErr != nil {
		return m.serveErr
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.WriteMessage(websocket.TextMessage, []byte("hello "+id))
}

type staticStats map[string]interface{}

func (s staticStats) GetStats() map[string]interface{} { return s }

func newMux(deps *mockDeps, opts ...api.Option) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, staticStats{"started": true}, opts...).Register(context.Background(), mux)
	return mux
}

func frame() string {
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 4)
	}
	img.SetGray(0, 0, color.Gray{Y: 255})
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func do(mux http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if user != "" {
		req.Header.Set(api.UserHeader, user)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeBody(w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return out
}

func TestHealth(t *testing.T) {
	Convey("Given the API", t, func() {
		deps := &mockDeps{}
		mux := newMux(deps)

		Convey("When the backends answer", func() {
			w := do(mux, http.MethodGet, "/healthz", "", nil)

			Convey("Then the service is ok", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decodeBody(w)["status"], ShouldEqual, "ok")
			})
		})

		Convey("When a backend is down", func() {
			deps.readyErr = errors.New("store: connection refused")
			w := do(mux, http.MethodGet, "/healthz", "", nil)

			Convey("Then the probe fails", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
				So(decodeBody(w)["error"], ShouldContainSubstring, "connection refused")
			})
		})

		Convey("Then metrics and stats are served", func() {
			So(do(mux, http.MethodGet, "/metrics", "", nil).Code, ShouldEqual, http.StatusOK)
			w := do(mux, http.MethodGet, "/stats", "", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decodeBody(w)["started"], ShouldEqual, true)
			So(decodeBody(w)["taken_at"], ShouldNotBeEmpty)
			So(w.Header().Get("Cache-Control"), ShouldEqual, "no-store")
		})
	})
}

func TestLivenessRoutes(t *testing.T) {
	Convey("Given the API", t, func() {
		deps := &mockDeps{}
		mux := newMux(deps)

		Convey("When the identity header is missing", func() {
			w := do(mux, http.MethodPost, "/v1/liveness/sessions", "", nil)

			Convey("Then the call is unauthorized", func() {
				So(w.Code, ShouldEqual, http.StatusUnauthorized)
				So(decodeBody(w)["error_type"], ShouldEqual, "unauthorized")
			})
		})

		Convey("When a session is created", func() {
			w := do(mux, http.MethodPost, "/v1/liveness/sessions", "s-1", nil)

			Convey("Then its id and expiry are returned", func() {
				So(w.Code, ShouldEqual, http.StatusCreated)
				body := decodeBody(w)
				So(body["session_id"], ShouldEqual, "sess-s-1")
				So(body["expires_at"], ShouldEqual, "2026-10-15T09:02:00Z")
			})
		})

		Convey("When a session is ended", func() {
			So(do(mux, http.MethodDelete, "/v1/liveness/sessions/sess-s-1", "s-1", nil).Code, ShouldEqual, http.StatusNoContent)
			w := do(mux, http.MethodDelete, "/v1/liveness/sessions/other", "s-1", nil)

			Convey("Then unknown sessions are not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(decodeBody(w)["error_type"], ShouldEqual, pipeline.CodeSessionNotFound)
			})
		})

		Convey("When a frame is probed", func() {
			w := do(mux, http.MethodPost, "/v1/liveness", "s-1", map[string]any{
				"session_id": "sess-s-1", "frame": frame(), "frame_index": 4, "timestamp": 0.4,
			})

			Convey("Then the encoded frame reaches the service", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decodeBody(w)["status"], ShouldEqual, string(types.StatusLivenessVerified))
				So(deps.probes, ShouldHaveLength, 1)
				So(deps.probes[0].UserID, ShouldEqual, "s-1")
				So(deps.probes[0].FrameIndex, ShouldEqual, 4)
				So(deps.probes[0].Frame.Encoded, ShouldEqual, frame())
				img, err := deps.probes[0].Frame.Decode()
				So(err, ShouldBeNil)
				So(img.Bounds().Dx(), ShouldEqual, 8)
			})
		})

		Convey("When the frame is not an image", func() {
			w := do(mux, http.MethodPost, "/v1/liveness", "s-1", map[string]any{
				"session_id": "sess-s-1", "frame": base64.StdEncoding.EncodeToString([]byte("not an image")),
			})

			Convey("Then decoding fails in the service and it is a bad frame", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decodeBody(w)["error_type"], ShouldEqual, "invalid_frame")
				So(deps.probes, ShouldHaveLength, 1)
			})
		})

		Convey("When the body is incomplete", func() {
			w := do(mux, http.MethodPost, "/v1/liveness", "s-1", map[string]any{"frame": frame()})

			Convey("Then validation names the field", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decodeBody(w)["message"], ShouldContainSubstring, "SessionID")
			})
		})

		Convey("When the session has expired", func() {
			deps.probeErr = fmt.Errorf("probe: %w", liveness.ErrSessionNotFound)
			w := do(mux, http.MethodPost, "/v1/liveness", "s-1", map[string]any{"session_id": "old", "frame": frame()})

			Convey("Then it is not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When no landmark service is configured", func() {
			deps.probeErr = fmt.Errorf("detect: %w", detector.ErrNotConfigured)
			w := do(mux, http.MethodPost, "/v1/liveness", "s-1", map[string]any{"session_id": "sess-s-1", "frame": frame()})

			Convey("Then it is unavailable", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
				So(decodeBody(w)["error_type"], ShouldEqual, "unavailable")
			})
		})

		Convey("When the service is stopped", func() {
			deps.sessionErr = service.ErrNotStarted
			w := do(mux, http.MethodPost, "/v1/liveness/sessions", "s-1", nil)

			Convey("Then it is unavailable", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			})
		})

		Convey("When a pose is validated", func() {
			w := do(mux, http.MethodPost, "/v1/pose/validate", "s-1", map[string]any{"frame": frame()})

			Convey("Then the report is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decodeBody(w)["face_detected"], ShouldEqual, true)
			})
		})
	})
}

func TestCheckInRoute(t *testing.T) {
	Convey("Given the API", t, func() {
		deps := &mockDeps{}
		mux := newMux(deps)
		body := map[string]any{"class_id": "c-1", "session_id": "sess-s-1", "lat": 35.7, "lon": 51.4, "frame": frame()}

		Convey("When every stage passes", func() {
			w := do(mux, http.MethodPost, "/v1/checkin", "s-1", body)

			Convey("Then the caller is checked in", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				res := decodeBody(w)
				So(res["status"], ShouldEqual, pipeline.StatusSuccess)
				So(res["check_in_time"], ShouldEqual, "2026-10-15T09:00:00Z")
				So(deps.checkIns[0].StudentID, ShouldEqual, "s-1")
				So(deps.checkIns[0].Latitude, ShouldEqual, 35.7)
			})
		})

		Convey("When the location is outside the area", func() {
			deps.checkInErr = &pipeline.Rejection{
				Stage: pipeline.StageLocation, Kind: pipeline.ErrGPSOutOfRange, Message: "outside the authorized area",
				Distance: 11119.5, AttemptNumber: 1, Remaining: 1,
			}
			w := do(mux, http.MethodPost, "/v1/checkin", "s-1", body)

			Convey("Then the attempt details are returned with 403", func() {
				So(w.Code, ShouldEqual, http.StatusForbidden)
				res := decodeBody(w)
				So(res["status"], ShouldEqual, "failed")
				So(res["error_type"], ShouldEqual, pipeline.CodeGPSInvalid)
				So(res["attempt_number"], ShouldEqual, 1.0)
				So(res["remaining_attempts"], ShouldEqual, 1.0)
				So(res["distance"], ShouldAlmostEqual, 11119.5)
			})
		})

		Convey("When liveness was not shown", func() {
			deps.checkInErr = &pipeline.Rejection{Stage: pipeline.StageLiveness, Kind: pipeline.ErrLivenessBelowThreshold, Message: "blink"}
			w := do(mux, http.MethodPost, "/v1/checkin", "s-1", body)

			Convey("Then no location fields are sent", func() {
				So(w.Code, ShouldEqual, http.StatusForbidden)
				res := decodeBody(w)
				So(res["error_type"], ShouldEqual, pipeline.CodeLivenessFailed)
				_, has := res["attempt_number"]
				So(has, ShouldBeFalse)
			})
		})

		Convey("When the frame could not be decoded", func() {
			deps.checkInErr = &pipeline.Rejection{Stage: pipeline.StageQuality, Kind: pipeline.ErrInvalidFrame, Message: "could not be read"}
			body["frame"] = base64.StdEncoding.EncodeToString([]byte("not an image"))
			w := do(mux, http.MethodPost, "/v1/checkin", "s-1", body)

			Convey("Then the raw frame reached the pipeline and the rejection is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				res := decodeBody(w)
				So(res["error_type"], ShouldEqual, pipeline.CodeInvalidFrame)
				So(res["stage"], ShouldEqual, pipeline.StageQuality)
				So(deps.checkIns, ShouldHaveLength, 1)
			})
		})

		Convey("When the student already checked in", func() {
			deps.checkInErr = &pipeline.Rejection{Stage: pipeline.StageAttendance, Kind: pipeline.ErrAlreadyCheckedInToday}
			So(do(mux, http.MethodPost, "/v1/checkin", "s-1", body).Code, ShouldEqual, http.StatusConflict)
		})

		Convey("When the coordinates are impossible", func() {
			body["lat"] = 120.0
			w := do(mux, http.MethodPost, "/v1/checkin", "s-1", body)

			Convey("Then the request never reaches the pipeline", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(deps.checkIns, ShouldBeEmpty)
			})
		})

		Convey("When the coordinates are missing", func() {
			delete(body, "lon")
			So(do(mux, http.MethodPost, "/v1/checkin", "s-1", body).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the body is not JSON", func() {
			So(do(mux, http.MethodPost, "/v1/checkin", "s-1", "{").Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestEnrollmentRoute(t *testing.T) {
	Convey("Given the API", t, func() {
		deps := &mockDeps{}
		mux := newMux(deps)
		frames := func(n int) map[string]any {
			out := make([]string, n)
			for i := range out {
				out[i] = frame()
			}
			return map[string]any{"frames": out}
		}

		Convey("When enough frames are sent", func() {
			deps.enrollRes = service.EnrollmentResult{
				Status:  pipeline.StatusSuccess,
				Summary: enrollment.Summary{SamplesUsed: 18, TotalSamples: 20, YawRange: 28, PitchRange: 12},
			}
			w := do(mux, http.MethodPost, "/v1/enrollment", "s-1", frames(20))

			Convey("Then the summary is flat in the body", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				res := decodeBody(w)
				So(res["status"], ShouldEqual, pipeline.StatusSuccess)
				So(res["samples_used"], ShouldEqual, 18.0)
				So(res["yaw_range"], ShouldEqual, 28.0)
				So(deps.enrolled, ShouldEqual, 20)
			})
		})

		Convey("When one of twenty frames is unreadable", func() {
			deps.enrollRes = service.EnrollmentResult{
				Status: pipeline.StatusSuccess,
				Summary: enrollment.Summary{
					SamplesUsed: 19, TotalSamples: 20, YawRange: 28, PitchRange: 12,
					Discarded: map[string]int{enrollment.DiscardInvalidFrame: 1},
				},
			}
			body := frames(20)
			body["frames"].([]string)[7] = "not-an-image"
			w := do(mux, http.MethodPost, "/v1/enrollment", "s-1", body)

			Convey("Then the batch still reaches the service and is stored", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				res := decodeBody(w)
				So(res["status"], ShouldEqual, pipeline.StatusSuccess)
				So(res["discarded"], ShouldResemble, map[string]any{enrollment.DiscardInvalidFrame: 1.0})
				So(deps.enrolled, ShouldEqual, 20)
				So(deps.readable, ShouldEqual, 19)
			})
		})

		Convey("When the unreadable frame leaves too few usable ones", func() {
			deps.enrollErr = fmt.Errorf("%w: 14 of 20 usable, need 15", enrollment.ErrInsufficientFrames)
			deps.enrollRes = service.EnrollmentResult{Summary: enrollment.Summary{SamplesUsed: 14, TotalSamples: 20}}
			body := frames(20)
			body["frames"].([]string)[0] = "not-an-image"
			w := do(mux, http.MethodPost, "/v1/enrollment", "s-1", body)

			Convey("Then the policy decides, not the decoder", func() {
				So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
				So(decodeBody(w)["error_type"], ShouldEqual, pipeline.CodeInsufficientFrames)
			})
		})

		Convey("When too few frames are sent", func() {
			deps.enrollErr = enrollment.ErrTooFewImages
			deps.enrollRes = service.EnrollmentResult{Summary: enrollment.Summary{TotalSamples: 3}}
			w := do(mux, http.MethodPost, "/v1/enrollment", "s-1", frames(3))

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				res := decodeBody(w)
				So(res["error_type"], ShouldEqual, pipeline.CodeTooFewImages)
				So(res["total_samples"], ShouldEqual, 3.0)
			})
		})

		Convey("When the head barely moved", func() {
			deps.enrollErr = fmt.Errorf("%w: yaw range 4.0", enrollment.ErrInsufficientPoseDiversity)
			w := do(mux, http.MethodPost, "/v1/enrollment", "s-1", frames(20))

			Convey("Then the frames are unprocessable", func() {
				So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
				So(decodeBody(w)["error_type"], ShouldEqual, pipeline.CodeInsufficientDiversity)
			})
		})

		Convey("When too many frames are sent", func() {
			w := do(mux, http.MethodPost, "/v1/enrollment", "s-1", frames(61))

			Convey("Then the request is refused before decoding", func() {
				So(w.Code, ShouldEqual, http.StatusRequestEntityTooLarge)
				So(deps.enrolled, ShouldEqual, 0)
			})
		})
	})
}

func TestAuditRoutes(t *testing.T) {
	Convey("Given the API", t, func() {
		deps := &mockDeps{}
		mux := newMux(deps)

		Convey("When logs are listed", func() {
			w := do(mux, http.MethodGet, "/v1/audit/s-1/liveness", "", nil)
			do(mux, http.MethodGet, "/v1/audit/s-1/captures?limit=5000", "", nil)

			Convey("Then the default and ceiling limits apply", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decodeBody(w)["count"], ShouldEqual, 1.0)
				So(deps.limits, ShouldResemble, []int{100, 1000})
			})
		})

		Convey("When location attempts are listed", func() {
			w := do(mux, http.MethodGet, "/v1/audit/s-1/gps?limit=7", "", nil)

			Convey("Then they come back newest first", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				body := decodeBody(w)
				So(body["count"], ShouldEqual, 2.0)
				logs := body["logs"].([]any)
				So(logs[0].(map[string]any)["blocked"], ShouldEqual, true)
				So(deps.limits, ShouldResemble, []int{7})
			})
		})

		Convey("When the limit is garbage", func() {
			So(do(mux, http.MethodGet, "/v1/audit/s-1/liveness?limit=abc", "", nil).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When suspicious activity is queried", func() {
			w := do(mux, http.MethodGet, "/v1/audit/s-1/suspicious?threshold=3", "", nil)

			Convey("Then the threshold is passed through", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.threshold, ShouldEqual, 3)
				So(decodeBody(w)["is_suspicious"], ShouldEqual, false)
			})
		})
	})
}

func TestRateLimit(t *testing.T) {
	Convey("Given a limiter with a burst of one", t, func() {
		deps := &mockDeps{}
		mux := newMux(deps, api.WithRateLimiter(api.NewRateLimiter(0.001, 1)))

		first := do(mux, http.MethodPost, "/v1/liveness/sessions", "s-1", nil)
		second := do(mux, http.MethodPost, "/v1/liveness/sessions", "s-1", nil)
		other := do(mux, http.MethodPost, "/v1/liveness/sessions", "s-2", nil)

		Convey("Then the second call of one caller is throttled", func() {
			So(first.Code, ShouldEqual, http.StatusCreated)
			So(second.Code, ShouldEqual, http.StatusTooManyRequests)
			So(decodeBody(second)["error_type"], ShouldEqual, "rate_limited")
			So(other.Code, ShouldEqual, http.StatusCreated)
		})

		Convey("Then health checks are never throttled", func() {
			So(do(mux, http.MethodGet, "/healthz", "s-1", nil).Code, ShouldEqual, http.StatusOK)
		})
	})
}

func TestInstructorSocket(t *testing.T) {
	Convey("Given the API behind a real listener", t, func() {
		deps := &mockDeps{}
		srv := httptest.NewServer(newMux(deps))
		Reset(srv.Close)
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws/instructors/t-1"

		Convey("When an instructor connects", func() {
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			So(err, ShouldBeNil)
			defer conn.Close()
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, msg, err := conn.ReadMessage()

			Convey("Then the upgrade passes through the middleware", func() {
				So(err, ShouldBeNil)
				So(string(msg), ShouldEqual, "hello t-1")
			})
		})

		Convey("When the service is stopped", func() {
			deps.serveErr = service.ErrNotStarted
			_, resp, err := websocket.DefaultDialer.Dial(url, nil)

			Convey("Then the handshake is refused", func() {
				So(err, ShouldNotBeNil)
				So(resp, ShouldNotBeNil)
				So(resp.StatusCode, ShouldEqual, http.StatusServiceUnavailable)
			})
		})
	})
}
