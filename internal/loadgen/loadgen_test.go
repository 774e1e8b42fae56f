package loadgen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

// fakeService answers the liveness routes the way the presence API does.
type fakeService struct {
	mu       sync.Mutex
	sessions map[string]string
	probes   int
	ended    int
	refuse   bool
	next     int
}

func newFakeService() *fakeService {
	return &fakeService{sessions: map[string]string{}}
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /v1/liveness/sessions", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.refuse {
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(errorResponse{Status: "failed", ErrorType: "rate_limited"})
			return
		}
		f.next++
		id := "sess-" + strconv.Itoa(f.next)
		f.sessions[id] = r.Header.Get(userHeader)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(sessionResponse{SessionID: id, ExpiresAt: time.Now().Format(time.RFC3339)})
	})
	mux.HandleFunc("POST /v1/liveness", func(w http.ResponseWriter, r *http.Request) {
		var req probeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Frame == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		owner, ok := f.sessions[req.SessionID]
		f.probes++
		f.mu.Unlock()
		if !ok || owner != r.Header.Get(userHeader) {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(errorResponse{Status: "failed", ErrorType: "session_not_found"})
			return
		}
		status := "no_liveness"
		if req.FrameIndex > 0 {
			status = "liveness_verified"
		}
		_ = json.NewEncoder(w).Encode(probeResponse{FaceDetected: true, Score: 0.9, Status: status})
	})
	mux.HandleFunc("DELETE /v1/liveness/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.sessions, r.PathValue("id"))
		f.ended++
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func testConfig(url, dir string) *Config {
	return &Config{
		BaseURL:       url,
		Users:         6,
		FramesPerUser: 3,
		Workers:       3,
		Timeout:       5 * time.Second,
		FrameSize:     32,
		ReportFile:    filepath.Join(dir, "report.json"),
	}
}

func TestRun(t *testing.T) {
	Convey("Given a healthy service", t, func() {
		fake := newFakeService()
		srv := httptest.NewServer(fake.handler())
		defer srv.Close()
		cfg := testConfig(srv.URL, t.TempDir())

		Convey("When every user runs a session", func() {
			stats, err := Run(context.Background(), cfg)

			Convey("Then every session is opened, probed and ended", func() {
				So(err, ShouldBeNil)
				So(stats.SessionsCreated, ShouldEqual, 6)
				So(stats.SessionsEnded, ShouldEqual, 6)
				So(stats.ProbesSent, ShouldEqual, 18)
				So(stats.ProbesFailed, ShouldEqual, 0)
				So(stats.Statuses["no_liveness"], ShouldEqual, 6)
				So(stats.Statuses["liveness_verified"], ShouldEqual, 12)
				So(stats.LatencyMaxMillis, ShouldBeGreaterThanOrEqualTo, stats.LatencyP50Millis)
				So(fake.sessions, ShouldBeEmpty)
			})

			Convey("Then the report is written", func() {
				raw, readErr := os.ReadFile(cfg.ReportFile)
				So(readErr, ShouldBeNil)
				var saved Stats
				So(json.Unmarshal(raw, &saved), ShouldBeNil)
				So(saved.ProbesSent, ShouldEqual, 18)
			})
		})

		Convey("When the service refuses sessions", func() {
			fake.refuse = true
			stats, err := Run(context.Background(), cfg)

			Convey("Then the run fails with the refusal tallied", func() {
				So(errors.Is(err, ErrNoSessions), ShouldBeTrue)
				So(stats.SessionsFailed, ShouldEqual, 6)
				So(stats.RateLimited, ShouldEqual, 6)
				So(stats.ErrorTypes["rate_limited"], ShouldEqual, 6)
			})
		})
	})

	Convey("Given a service that is down", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := Run(context.Background(), testConfig(srv.URL, t.TempDir()))
		So(errors.Is(err, ErrUnhealthy), ShouldBeTrue)
	})

	Convey("Given a config without users", t, func() {
		cfg := testConfig("http://127.0.0.1:0", t.TempDir())
		cfg.Users = 0
		_, err := Run(context.Background(), cfg)
		So(err, ShouldEqual, ErrInvalidUsers)
	})
}

func TestFrameSequence(t *testing.T) {
	Convey("Given a rendered capture sequence", t, func() {
		seq, err := frameSequence(4, 24)
		So(err, ShouldBeNil)
		So(seq, ShouldHaveLength, 4)

		Convey("Then frames are base64 JPEG", func() {
			for _, f := range seq {
				So(strings.HasPrefix(f, "/9j/"), ShouldBeTrue)
			}
		})
	})

	Convey("Given generated users", t, func() {
		users, err := generateUsers(3, 2, 16)
		So(err, ShouldBeNil)
		So(users[0].ID, ShouldNotEqual, users[1].ID)
		So(users[2].Frames, ShouldHaveLength, 2)
	})
}

func TestVerifyStats(t *testing.T) {
	Convey("An unknown liveness status fails verification", t, func() {
		err := verifyStats(&Stats{SessionsCreated: 1, Statuses: map[string]int{"maybe": 1}})
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "maybe")
	})
}
