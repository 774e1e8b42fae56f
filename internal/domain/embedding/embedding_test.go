package embedding_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/okian/presence/internal/domain/embedding"
	"github.com/okian/presence/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func pattern(shift int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			g.SetGray(x, y, color.Gray{Y: uint8((x*7 + y*3 + shift) % 256)})
		}
	}
	return g
}

func TestVectors(t *testing.T) {
	Convey("Given vectors", t, func() {
		Convey("Then cosine handles parallel, opposite and degenerate inputs", func() {
			So(embedding.Cosine([]float64{1, 2}, []float64{2, 4}), ShouldAlmostEqual, 1, 1e-12)
			So(embedding.Cosine([]float64{1, 0}, []float64{-1, 0}), ShouldAlmostEqual, -1, 1e-12)
			So(embedding.Cosine([]float64{0, 0}, []float64{1, 0}), ShouldEqual, 0)
			So(embedding.Cosine([]float64{1}, []float64{1, 0}), ShouldEqual, 0)
		})

		Convey("Then normalize yields unit length without touching the input", func() {
			in := []float64{3, 4}
			out := embedding.Normalize(in)
			So(embedding.Norm(out), ShouldAlmostEqual, 1, 1e-12)
			So(in, ShouldResemble, []float64{3, 4})
			So(embedding.Normalize([]float64{0, 0}), ShouldResemble, []float64{0, 0})
		})

		Convey("Then mean and std are component-wise", func() {
			vs := [][]float64{{1, 2}, {3, 2}}
			mean := embedding.Mean(vs)
			So(mean, ShouldResemble, []float64{2, 2})
			So(embedding.Std(vs, mean), ShouldResemble, []float64{1, 0})
			So(embedding.Mean([][]float64{{1}, {1, 2}}), ShouldBeNil)
			So(embedding.Average([]float64{1, 0}), ShouldEqual, 0.5)
		})

		Convey("Then empty and mismatched inputs are refused rather than panicking", func() {
			So(embedding.Norm(nil), ShouldEqual, 0)
			So(embedding.Mean(nil), ShouldBeNil)
			So(embedding.Std([][]float64{{1, 2}, {3}}, []float64{2, 2}), ShouldBeNil)
			So(embedding.Std([][]float64{{1, 2}}, []float64{1}), ShouldBeNil)
			So(embedding.Average(nil), ShouldEqual, 0)
		})
	})
}

func TestPixelEmbedder(t *testing.T) {
	Convey("Given two pixel embedders with the same seed", t, func() {
		a := embedding.NewPixelEmbedder(0, embedding.DefaultSeed)
		b := embedding.NewPixelEmbedder(0, embedding.DefaultSeed)
		ctx := context.Background()
		face := types.Face{Box: types.FaceBox{X: 8, Y: 8, W: 48, H: 48}}

		Convey("When embedding the same face", func() {
			va, err := a.Embed(ctx, pattern(0), face)
			So(err, ShouldBeNil)
			vb, err := b.Embed(ctx, pattern(0), face)
			So(err, ShouldBeNil)

			Convey("Then the vectors are identical and unit length", func() {
				So(a.Dimension(), ShouldEqual, embedding.DefaultDimension)
				So(va, ShouldHaveLength, embedding.DefaultDimension)
				So(va, ShouldResemble, vb)
				So(embedding.Norm(va), ShouldAlmostEqual, 1, 1e-9)
			})
		})

		Convey("When the face region is flat", func() {
			flat := image.NewGray(image.Rect(0, 0, 32, 32))
			_, err := a.Embed(ctx, flat, types.Face{})

			Convey("Then embedding fails", func() {
				So(errors.Is(err, embedding.ErrEmbeddingFailure), ShouldBeTrue)
			})
		})
	})
}
