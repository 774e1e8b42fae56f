// Package embedding holds identity vector helpers and a deterministic
// fallback embedder.
package embedding

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Cosine returns the cosine similarity of a and b clamped to [-1,1]. Vectors
// of different length or zero norm score 0.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return math.Max(-1, math.Min(1, floats.Dot(a, b)/(na*nb)))
}

// Norm returns the L2 norm of v.
func Norm(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return floats.Norm(v, 2)
}

// Normalize returns v scaled to unit length. A zero vector is returned as a copy.
func Normalize(v []float64) []float64 {
	out := append([]float64(nil), v...)
	if n := Norm(v); n != 0 {
		floats.Scale(1/n, out)
	}
	return out
}

// Mean returns the component-wise mean. All vectors must share a length;
// it returns nil otherwise.
func Mean(vs [][]float64) []float64 {
	if !sameLength(vs) {
		return nil
	}
	out := make([]float64, len(vs[0]))
	for _, v := range vs {
		floats.Add(out, v)
	}
	floats.Scale(1/float64(len(vs)), out)
	return out
}

// Std returns the component-wise population standard deviation around mean.
func Std(vs [][]float64, mean []float64) []float64 {
	if len(mean) == 0 || !sameLength(vs) || len(vs[0]) != len(mean) {
		return nil
	}
	out := make([]float64, len(mean))
	col := make([]float64, len(vs))
	for i := range out {
		for j, v := range vs {
			col[j] = v[i]
		}
		out[i] = math.Sqrt(stat.MomentAbout(2, col, mean[i], nil))
	}
	return out
}

// Average returns the arithmetic mean of v.
func Average(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return stat.Mean(v, nil)
}

func sameLength(vs [][]float64) bool {
	if len(vs) == 0 {
		return false
	}
	for _, v := range vs[1:] {
		if len(v) != len(vs[0]) {
			return false
		}
	}
	return true
}
