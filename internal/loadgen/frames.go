package loadgen

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"math/big"

	"github.com/google/uuid"
)

// Frame synthesis constants.
const (
	jpegQuality     = 85
	backgroundLevel = 40
	faceLevel       = 180
	noiseAmplitude  = 12
	swayPixels      = 3.0
)

// user is one simulated person with a pre-rendered capture sequence.
type user struct {
	ID     string
	Frames []string
}

// generateUsers creates n users with unique IDs and frames frames each.
func generateUsers(n, frames, size int) ([]user, error) {
	users := make([]user, n)
	for i := range users {
		seq, err := frameSequence(frames, size)
		if err != nil {
			return nil, fmt.Errorf("user %d: %w", i, err)
		}
		users[i] = user{ID: "load-" + uuid.NewString(), Frames: seq}
	}
	return users, nil
}

// frameSequence renders a bright oval on a dark field that sways from side
// to side across the sequence, base64 JPEG encoded.
func frameSequence(n, size int) ([]string, error) {
	out := make([]string, n)
	for i := range out {
		phase := 0.0
		if n > 1 {
			phase = 2 * math.Pi * float64(i) / float64(n-1)
		}
		img := renderFrame(size, swayPixels*math.Sin(phase))
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, fmt.Errorf("encode frame %d: %w", i, err)
		}
		out[i] = base64.StdEncoding.EncodeToString(buf.Bytes())
	}
	return out, nil
}

func renderFrame(size int, shift float64) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, size, size))
	cx, cy := float64(size)/2+shift, float64(size)/2
	rx, ry := float64(size)/4, float64(size)/3
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := (float64(x)-cx)/rx, (float64(y)-cy)/ry
			level := backgroundLevel
			if dx*dx+dy*dy <= 1 {
				level = faceLevel
			}
			img.SetGray(x, y, color.Gray{Y: uint8(level + noise())})
		}
	}
	return img
}

// noise returns a value in [0, noiseAmplitude).
func noise() int {
	n, err := rand.Int(rand.Reader, big.NewInt(noiseAmplitude))
	if err != nil {
		return 0
	}
	return int(n.Int64())
}
