// Package imaging decodes client frames and computes the grayscale
// statistics used by the quality gate and spoof heuristic.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder
)

// MaxDimension is the longest side kept after decoding. Larger frames are
// scaled down before analysis.
const MaxDimension = 1280

var (
	// ErrEmptyFrame is returned for missing frame data.
	ErrEmptyFrame = errors.New("empty frame")
	// ErrInvalidFrame is returned when the frame is not valid base64 or not a supported image.
	ErrInvalidFrame = errors.New("invalid frame")
)

// DecodeBase64 accepts raw or data-URL base64, tolerating missing padding
// and whitespace, and returns the image bytes.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+1:]
	}
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, ErrEmptyFrame
	}
	s = strings.TrimRight(s, "=")
	enc := base64.RawStdEncoding
	if strings.ContainsAny(s, "-_") {
		enc = base64.RawURLEncoding
	}
	b, err := enc.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return b, nil
}

// Decode parses JPEG, PNG or WebP bytes and bounds the result to MaxDimension.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyFrame
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return Fit(img, MaxDimension), format, nil
}

// DecodeFrame is DecodeBase64 followed by Decode.
func DecodeFrame(s string) (image.Image, error) {
	data, err := DecodeBase64(s)
	if err != nil {
		return nil, err
	}
	img, _, err := Decode(data)
	return img, err
}

// Fit scales img down so that neither side exceeds limit.
func Fit(img image.Image, limit int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if limit <= 0 || (w <= limit && h <= limit) {
		return img
	}
	if w >= h {
		h = h * limit / w
		w = limit
	} else {
		w = w * limit / h
		h = limit
	}
	dst := image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Crop returns the part of img inside r, clipped to the image bounds.
func Crop(img image.Image, r image.Rectangle) image.Image {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

// Source is a frame as it arrived: base64 text still to be decoded, or an
// image already in memory. Decoding is deferred so it runs wherever the
// caller schedules CPU-bound work.
type Source struct {
	Encoded string
	Image   image.Image
}

// FromBase64 wraps an undecoded frame.
func FromBase64(s string) Source { return Source{Encoded: s} }

// FromImage wraps a decoded frame.
func FromImage(img image.Image) Source { return Source{Image: img} }

// Decode returns the image, decoding Encoded when no Image is set.
func (s Source) Decode() (image.Image, error) {
	if s.Image != nil {
		return s.Image, nil
	}
	return DecodeFrame(s.Encoded)
}
