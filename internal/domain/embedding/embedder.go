package embedding

import (
	"context"
	"errors"
	"image"
	"math/rand"

	"golang.org/x/image/draw"

	"github.com/okian/presence/internal/domain/imaging"
	"github.com/okian/presence/internal/domain/types"
)

// ErrEmbeddingFailure is returned when no vector can be produced for a face.
var ErrEmbeddingFailure = errors.New("embedding failure")

// Embedder produces a unit-norm identity vector for a detected face.
type Embedder interface {
	Embed(ctx context.Context, img image.Image, face types.Face) ([]float64, error)
}

// Pixel embedder defaults.
const (
	DefaultDimension = 256
	DefaultSeed      = 12345
	patchSide        = 16
)

// PixelEmbedder projects a normalized grayscale face patch through a fixed
// random matrix. It is deterministic for a given seed and dimension and
// serves when no model service is configured.
type PixelEmbedder struct {
	dim        int
	projection [][]float64
}

// NewPixelEmbedder builds the projection matrix. dim <= 0 selects DefaultDimension.
func NewPixelEmbedder(dim int, seed int64) *PixelEmbedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // fixed projection, not a secret
	inputs := patchSide * patchSide
	proj := make([][]float64, dim)
	for i := range proj {
		row := make([]float64, inputs)
		for j := range row {
			row[j] = rng.NormFloat64()
		}
		proj[i] = row
	}
	return &PixelEmbedder{dim: dim, projection: proj}
}

// Dimension returns the output length.
func (p *PixelEmbedder) Dimension() int { return p.dim }

// Embed implements Embedder.
func (p *PixelEmbedder) Embed(ctx context.Context, img image.Image, face types.Face) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	region := img
	if face.Box.W > 0 && face.Box.H > 0 {
		b := img.Bounds()
		region = imaging.Crop(img, image.Rect(
			b.Min.X+face.Box.X, b.Min.Y+face.Box.Y,
			b.Min.X+face.Box.X+face.Box.W, b.Min.Y+face.Box.Y+face.Box.H,
		))
	}
	if region.Bounds().Empty() {
		return nil, ErrEmbeddingFailure
	}

	patch := image.NewGray(image.Rect(0, 0, patchSide, patchSide))
	draw.ApproxBiLinear.Scale(patch, patch.Bounds(), region, region.Bounds(), draw.Src, nil)

	in := make([]float64, len(patch.Pix))
	for i, v := range patch.Pix {
		in[i] = float64(v) / 255
	}
	mean := Average(in)
	for i := range in {
		in[i] -= mean
	}
	if Norm(in) == 0 {
		return nil, ErrEmbeddingFailure
	}

	out := make([]float64, p.dim)
	for i, row := range p.projection {
		var s float64
		for j, w := range row {
			s += w * in[j]
		}
		out[i] = s
	}
	return Normalize(out), nil
}
