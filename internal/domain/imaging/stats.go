package imaging

import (
	"image"
	"image/color"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Gray converts img to 8-bit luma.
func Gray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			g.SetGray(x, y, color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray))
		}
	}
	return g
}

func at(g *image.Gray, x, y int) float64 {
	return float64(g.Pix[(y-g.Rect.Min.Y)*g.Stride+(x-g.Rect.Min.X)])
}

// Mean returns the average luma in [0,255].
func Mean(g *image.Gray) float64 {
	v := luma(g)
	if len(v) == 0 {
		return 0
	}
	return stat.Mean(v, nil)
}

// Variance returns the luma variance.
func Variance(g *image.Gray) float64 {
	v := luma(g)
	if len(v) == 0 {
		return 0
	}
	return stat.PopVariance(v, nil)
}

// LaplacianVariance is the variance of the 4-neighbour Laplacian over the
// image interior. Low values mean a blurry frame.
func LaplacianVariance(g *image.Gray) float64 {
	b := g.Bounds()
	if b.Dx() < 3 || b.Dy() < 3 {
		return 0
	}
	lap := make([]float64, 0, (b.Dx()-2)*(b.Dy()-2))
	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		for x := b.Min.X + 1; x < b.Max.X-1; x++ {
			lap = append(lap, at(g, x-1, y)+at(g, x+1, y)+at(g, x, y-1)+at(g, x, y+1)-4*at(g, x, y))
		}
	}
	return stat.PopVariance(lap, nil)
}

// luma flattens g row by row.
func luma(g *image.Gray) []float64 {
	b := g.Bounds()
	out := make([]float64, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out = append(out, at(g, x, y))
		}
	}
	return out
}

// EdgeDensity is the share of interior pixels whose central-difference
// gradient exceeds threshold.
func EdgeDensity(g *image.Gray, threshold float64) float64 {
	b := g.Bounds()
	if b.Dx() < 3 || b.Dy() < 3 {
		return 0
	}
	edges, n := 0, 0
	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		for x := b.Min.X + 1; x < b.Max.X-1; x++ {
			gx := at(g, x+1, y) - at(g, x-1, y)
			gy := at(g, x, y+1) - at(g, x, y-1)
			if math.Hypot(gx, gy) > threshold {
				edges++
			}
			n++
		}
	}
	return float64(edges) / float64(n)
}

// TextureComplexity samples 8-neighbour local binary patterns on a grid and
// returns the entropy of their histogram scaled to [0,1]. Flat or printed
// surfaces repeat few patterns and score low.
func TextureComplexity(g *image.Gray, step int) float64 {
	b := g.Bounds()
	if b.Dx() < 3 || b.Dy() < 3 {
		return 0
	}
	if step < 1 {
		step = 1
	}
	offsets := [8][2]int{{-1, -1}, {0, -1}, {1, -1}, {1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}}
	var hist [256]int
	n := 0
	for y := b.Min.Y + 1; y < b.Max.Y-1; y += step {
		for x := b.Min.X + 1; x < b.Max.X-1; x += step {
			c := at(g, x, y)
			var code uint8
			for bit, o := range offsets {
				if at(g, x+o[0], y+o[1]) >= c {
					code |= 1 << bit
				}
			}
			hist[code]++
			n++
		}
	}
	var entropy float64
	for _, c := range hist {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(n)
		entropy -= p * math.Log2(p)
	}
	return entropy / 8
}
