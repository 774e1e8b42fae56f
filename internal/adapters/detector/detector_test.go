package detector_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/presence/internal/adapters/detector"
	"github.com/okian/presence/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

// landmarkService answers every decodable JPEG frame with one face the size
// of the frame, or with an error message for anything else.
func landmarkService(conns *atomic.Int32, closeAfter int) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns.Add(1)
		defer conn.Close()
		for served := 0; closeAfter <= 0 || served < closeAfter; served++ {
			kind, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			resp := detector.Response{}
			img, err := jpeg.Decode(bytes.NewReader(msg))
			if kind != websocket.BinaryMessage || err != nil {
				resp.Error = "bad frame"
			} else {
				b := img.Bounds()
				resp.Faces = []types.Face{{
					Box:       types.FaceBox{X: 0, Y: 0, W: b.Dx(), H: b.Dy()},
					Landmarks: make(types.LandmarkSet, 68),
				}}
			}
			out, _ := json.Marshal(resp)
			if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func frame(w, h int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i % 251)
	}
	img.Set(0, 0, color.Gray{Y: 255})
	return img
}

func TestClient(t *testing.T) {
	Convey("Given a landmark service", t, func() {
		ctx := context.Background()
		var conns atomic.Int32
		srv := landmarkService(&conns, 0)
		defer srv.Close()

		c := detector.New(wsURL(srv))
		defer c.Close()

		Convey("When two frames are sent", func() {
			faces, err := c.Detect(ctx, frame(64, 48))
			So(err, ShouldBeNil)
			again, err2 := c.Detect(ctx, frame(32, 32))

			Convey("Then both are answered over one connection", func() {
				So(err2, ShouldBeNil)
				So(faces, ShouldHaveLength, 1)
				So(faces[0].Box.W, ShouldEqual, 64)
				So(faces[0].Landmarks, ShouldHaveLength, 68)
				So(again[0].Box.H, ShouldEqual, 32)
				So(conns.Load(), ShouldEqual, 1)
			})
		})
	})

	Convey("Given a service that answers only once three frames are in flight", t, func() {
		ctx := context.Background()
		var conns, arrived atomic.Int32
		var together atomic.Bool
		upgrader := websocket.Upgrader{}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			conns.Add(1)
			defer conn.Close()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
				arrived.Add(1)
				deadline := time.Now().Add(2 * time.Second)
				for arrived.Load() < 3 && time.Now().Before(deadline) {
					time.Sleep(time.Millisecond)
				}
				if arrived.Load() >= 3 {
					together.Store(true)
				}
				out, _ := json.Marshal(detector.Response{Faces: []types.Face{{Box: types.FaceBox{W: 1, H: 1}}}})
				if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
					return
				}
			}
		}))
		defer srv.Close()

		c := detector.New(wsURL(srv), detector.WithConnections(3))
		defer c.Close()

		Convey("When three workers detect at once", func() {
			var wg sync.WaitGroup
			errs := make([]error, 3)
			for i := range errs {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, errs[i] = c.Detect(ctx, frame(16, 16))
				}()
			}
			wg.Wait()

			Convey("Then each uses its own connection concurrently", func() {
				for _, err := range errs {
					So(err, ShouldBeNil)
				}
				So(c.Size(), ShouldEqual, 3)
				So(conns.Load(), ShouldEqual, 3)
				So(together.Load(), ShouldBeTrue)
			})

			Convey("Then closing drops the connections and later calls redial", func() {
				So(c.Close(), ShouldBeNil)
				arrived.Store(2)
				_, err := c.Detect(ctx, frame(16, 16))
				So(err, ShouldBeNil)
				So(conns.Load(), ShouldEqual, 4)
			})
		})

		Convey("When the caller gives up while the only connection is busy", func() {
			single := detector.New(wsURL(srv))
			defer single.Close()
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = single.Detect(ctx, frame(16, 16))
			}()
			for arrived.Load() < 1 {
				time.Sleep(time.Millisecond)
			}
			short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()
			_, err := single.Detect(short, frame(16, 16))
			wg.Wait()

			Convey("Then it stops waiting with the context error", func() {
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
			})
		})
	})

	Convey("Given a service that hangs up after every frame", t, func() {
		ctx := context.Background()
		var conns atomic.Int32
		srv := landmarkService(&conns, 1)
		defer srv.Close()

		c := detector.New(wsURL(srv))
		defer c.Close()

		Convey("Then the client redials transparently", func() {
			for i := 0; i < 3; i++ {
				faces, err := c.Detect(ctx, frame(16, 16))
				So(err, ShouldBeNil)
				So(faces, ShouldHaveLength, 1)
			}
			So(conns.Load(), ShouldBeGreaterThanOrEqualTo, 2)
		})
	})

	Convey("Given no service", t, func() {
		c := detector.New("ws://127.0.0.1:1/none")

		Convey("Then detection fails", func() {
			_, err := c.Detect(context.Background(), frame(8, 8))
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Given the disabled detector", t, func() {
		_, err := detector.Disabled{}.Detect(context.Background(), frame(8, 8))
		So(errors.Is(err, detector.ErrNotConfigured), ShouldBeTrue)
	})
}
