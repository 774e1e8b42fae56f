package imaging_test

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/okian/presence/internal/domain/imaging"
	. "github.com/smartystreets/goconvey/convey"
)

func uniform(w, h int, v uint8) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = v
	}
	return g
}

func checker(w, h int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				g.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return g
}

func encodePNG(img image.Image) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func TestDecode(t *testing.T) {
	Convey("Given a PNG frame", t, func() {
		raw := encodePNG(checker(16, 8))
		b64 := base64.StdEncoding.EncodeToString(raw)

		Convey("When decoded from plain base64", func() {
			img, err := imaging.DecodeFrame(b64)

			Convey("Then the image keeps its size", func() {
				So(err, ShouldBeNil)
				So(img.Bounds().Dx(), ShouldEqual, 16)
				So(img.Bounds().Dy(), ShouldEqual, 8)
			})
		})

		Convey("When sent as a data URL without padding", func() {
			trimmed := "data:image/png;base64," + base64.RawStdEncoding.EncodeToString(raw)
			img, err := imaging.DecodeFrame(trimmed)

			Convey("Then it still decodes", func() {
				So(err, ShouldBeNil)
				So(img, ShouldNotBeNil)
			})
		})

		Convey("When the payload is garbage", func() {
			_, err := imaging.DecodeFrame("not-an-image!!")

			Convey("Then the frame is invalid", func() {
				So(errors.Is(err, imaging.ErrInvalidFrame), ShouldBeTrue)
			})
		})

		Convey("When the payload is blank", func() {
			_, err := imaging.DecodeFrame("   ")

			Convey("Then the frame is empty", func() {
				So(errors.Is(err, imaging.ErrEmptyFrame), ShouldBeTrue)
			})
		})
	})

	Convey("Given an oversized image", t, func() {
		img := imaging.Fit(image.NewRGBA(image.Rect(0, 0, 2560, 1440)), imaging.MaxDimension)

		Convey("Then it is scaled to fit keeping aspect ratio", func() {
			So(img.Bounds().Dx(), ShouldEqual, 1280)
			So(img.Bounds().Dy(), ShouldEqual, 720)
		})
	})

	Convey("Given a crop rectangle partly outside the image", t, func() {
		img := imaging.Crop(checker(10, 10), image.Rect(5, 5, 20, 20))

		Convey("Then the crop is clipped", func() {
			So(img.Bounds().Dx(), ShouldEqual, 5)
			So(img.Bounds().Dy(), ShouldEqual, 5)
		})
	})
}

func TestStats(t *testing.T) {
	Convey("Given a flat gray image", t, func() {
		g := uniform(20, 20, 100)

		Convey("Then it has its level as mean and no variation", func() {
			So(imaging.Mean(g), ShouldEqual, 100)
			So(imaging.Variance(g), ShouldEqual, 0)
			So(imaging.LaplacianVariance(g), ShouldEqual, 0)
			So(imaging.EdgeDensity(g, 30), ShouldEqual, 0)
			So(imaging.TextureComplexity(g, 1), ShouldEqual, 0)
		})
	})

	Convey("Given a checkerboard", t, func() {
		g := checker(20, 20)

		Convey("Then it is sharp and full of edges", func() {
			So(imaging.Mean(g), ShouldAlmostEqual, 127.5, 1e-9)
			So(imaging.LaplacianVariance(g), ShouldBeGreaterThan, 1000)
			So(imaging.TextureComplexity(g, 1), ShouldAlmostEqual, 1.0/8, 1e-9)
		})
	})

	Convey("Given a color image", t, func() {
		img := image.NewRGBA(image.Rect(0, 0, 4, 4))
		for i := 0; i < len(img.Pix); i += 4 {
			img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 255, 255, 255, 255
		}

		Convey("Then gray conversion keeps white white", func() {
			So(imaging.Mean(imaging.Gray(img)), ShouldEqual, 255)
		})
	})

	Convey("Given images too small for a neighbourhood", t, func() {
		g := uniform(2, 2, 10)

		Convey("Then neighbourhood stats are zero", func() {
			So(imaging.LaplacianVariance(g), ShouldEqual, 0)
			So(imaging.EdgeDensity(g, 1), ShouldEqual, 0)
			So(imaging.TextureComplexity(g, 1), ShouldEqual, 0)
		})
	})
}

func TestSource(t *testing.T) {
	Convey("Given frame sources", t, func() {
		Convey("An in-memory image is returned as is", func() {
			img := checker(4, 4)
			got, err := imaging.FromImage(img).Decode()
			So(err, ShouldBeNil)
			So(got, ShouldEqual, img)
		})

		Convey("Base64 text is decoded on demand", func() {
			got, err := imaging.FromBase64(base64.StdEncoding.EncodeToString(encodePNG(checker(6, 3)))).Decode()
			So(err, ShouldBeNil)
			So(got.Bounds().Dx(), ShouldEqual, 6)
		})

		Convey("Garbage and empty text fail with the frame errors", func() {
			_, err := imaging.FromBase64("not-an-image").Decode()
			So(errors.Is(err, imaging.ErrInvalidFrame), ShouldBeTrue)
			_, err = imaging.Source{}.Decode()
			So(errors.Is(err, imaging.ErrEmptyFrame), ShouldBeTrue)
		})
	})
}
