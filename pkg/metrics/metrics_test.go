package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestNewManager(t *testing.T) {
	Convey("Given a fresh registry", t, func() {
		registry := prometheus.NewRegistry()

		Convey("When creating a manager with custom options", func() {
			m := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithLatencyBuckets([]float64{1, 10, 100}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then collectors are registered under the namespace", func() {
				So(m, ShouldNotBeNil)
				m.checkIns.WithLabelValues("success").Inc()

				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := map[string]bool{}
				for _, f := range families {
					names[f.GetName()] = true
				}
				So(names["test_unit_checkins_total"], ShouldBeTrue)
			})
		})

		Convey("When the same registry is reused", func() {
			NewManager(WithPrometheusRegistry(registry))

			Convey("Then registering twice panics", func() {
				So(func() { NewManager(WithPrometheusRegistry(registry)) }, ShouldPanic)
			})
		})
	})
}

func TestGlobalRecorders(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording check-in results", func() {
			before := testutil.ToFloat64(globalManager.checkIns.WithLabelValues("face_mismatch"))
			RecordCheckIn("face_mismatch")
			RecordCheckIn("face_mismatch")

			Convey("Then the labelled counter advances", func() {
				after := testutil.ToFloat64(globalManager.checkIns.WithLabelValues("face_mismatch"))
				So(after-before, ShouldEqual, 2)
			})
		})

		Convey("When recording audit writes", func() {
			before := testutil.ToFloat64(globalManager.auditWrites.WithLabelValues("capture", "degraded"))
			RecordAuditWrite("capture", false)

			Convey("Then failures are labelled degraded", func() {
				So(testutil.ToFloat64(globalManager.auditWrites.WithLabelValues("capture", "degraded"))-before, ShouldEqual, 1)
			})
		})

		Convey("When moving gauges", func() {
			UpdateActiveSessions(7)
			AddWorkerBusy(2)
			AddWorkerBusy(-1)

			Convey("Then gauges hold the latest value", func() {
				So(testutil.ToFloat64(globalManager.activeSessions), ShouldEqual, 7)
				So(testutil.ToFloat64(globalManager.workerBusy), ShouldBeGreaterThanOrEqualTo, 1)
			})
		})

		Convey("When recording the remaining helpers", func() {
			So(func() {
				RecordLivenessFrame("no_liveness", 0.2)
				RecordPoseFallback()
				RecordPoseSolveLatency(3)
				RecordStageOutcome("liveness", "pass")
				RecordEnrollment("success", 18)
				RecordGPSInvalidAttempt(true)
				RecordNotification("queued")
				UpdateInstructorConnections(1)
				UpdateQueueSize(3)
				UpdateQueueCapacity(10)
				RecordQueueRejection()
				UpdateWorkerCount(4)
				RecordTaskLatency(12)
				RecordTaskError()
				RecordHTTPRequest("checkin", "POST", "200", 42)
				RecordRateLimited("checkin")
				UpdateSystemMemoryUsage(1024)
				UpdateSystemGoroutineCount(10)
			}, ShouldNotPanic)
			So(GetRegistry(), ShouldNotBeNil)
		})
	})
}
