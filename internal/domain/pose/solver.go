package pose

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

type vec3 [3]float64

type mat3 [3][3]float64

var identity3 = mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

// flipY is a 180 degree turn about the vertical axis.
var flipY = mat3{{-1, 0, 0}, {0, 1, 0}, {0, 0, -1}}

func (a mat3) mul(b mat3) mat3 {
	var out mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] += a[i][k] * b[k][j]
			}
		}
	}
	return out
}

func (a mat3) apply(v vec3) vec3 {
	return vec3{
		a[0][0]*v[0] + a[0][1]*v[1] + a[0][2]*v[2],
		a[1][0]*v[0] + a[1][1]*v[1] + a[1][2]*v[2],
		a[2][0]*v[0] + a[2][1]*v[1] + a[2][2]*v[2],
	}
}

func (a mat3) dense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		a[0][0], a[0][1], a[0][2],
		a[1][0], a[1][1], a[1][2],
		a[2][0], a[2][1], a[2][2],
	})
}

func mat3From(d mat.Matrix) mat3 {
	var out mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = d.At(i, j)
		}
	}
	return out
}

// rodrigues converts a rotation vector to a rotation matrix.
func rodrigues(w vec3) mat3 {
	theta := math.Sqrt(w[0]*w[0] + w[1]*w[1] + w[2]*w[2])
	if theta < 1e-12 {
		return mat3{
			{1, -w[2], w[1]},
			{w[2], 1, -w[0]},
			{-w[1], w[0], 1},
		}
	}
	k := vec3{w[0] / theta, w[1] / theta, w[2] / theta}
	s, c := math.Sincos(theta)
	v := 1 - c
	return mat3{
		{c + k[0]*k[0]*v, k[0]*k[1]*v - k[2]*s, k[0]*k[2]*v + k[1]*s},
		{k[1]*k[0]*v + k[2]*s, c + k[1]*k[1]*v, k[1]*k[2]*v - k[0]*s},
		{k[2]*k[0]*v - k[1]*s, k[2]*k[1]*v + k[0]*s, c + k[2]*k[2]*v},
	}
}

// rotationVector is the inverse of rodrigues.
func rotationVector(r mat3) vec3 {
	cosTheta := (r[0][0] + r[1][1] + r[2][2] - 1) / 2
	cosTheta = math.Max(-1, math.Min(1, cosTheta))
	theta := math.Acos(cosTheta)

	switch {
	case theta < 1e-9:
		return vec3{(r[2][1] - r[1][2]) / 2, (r[0][2] - r[2][0]) / 2, (r[1][0] - r[0][1]) / 2}
	case math.Pi-theta < 1e-6:
		// Axis from the symmetric part; sign fixed against the largest component.
		k := vec3{
			math.Sqrt(math.Max(0, (r[0][0]+1)/2)),
			math.Sqrt(math.Max(0, (r[1][1]+1)/2)),
			math.Sqrt(math.Max(0, (r[2][2]+1)/2)),
		}
		switch {
		case k[0] >= k[1] && k[0] >= k[2]:
			k[1] = math.Copysign(k[1], r[0][1]+r[1][0])
			k[2] = math.Copysign(k[2], r[0][2]+r[2][0])
		case k[1] >= k[2]:
			k[0] = math.Copysign(k[0], r[0][1]+r[1][0])
			k[2] = math.Copysign(k[2], r[1][2]+r[2][1])
		default:
			k[0] = math.Copysign(k[0], r[0][2]+r[2][0])
			k[1] = math.Copysign(k[1], r[1][2]+r[2][1])
		}
		return vec3{k[0] * theta, k[1] * theta, k[2] * theta}
	default:
		f := theta / (2 * math.Sin(theta))
		return vec3{(r[2][1] - r[1][2]) * f, (r[0][2] - r[2][0]) * f, (r[1][0] - r[0][1]) * f}
	}
}

// orthonormalize returns the rotation closest to m in the Frobenius sense.
func orthonormalize(m mat3) (mat3, bool) {
	var svd mat.SVD
	if !svd.Factorize(m.dense(), mat.SVDFull) {
		return mat3{}, false
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	var r mat.Dense
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		// Reflect the last singular direction to land on SO(3).
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		r.Mul(&u, v.T())
	}
	return mat3From(&r), true
}

// solution is a camera-frame pose of the face model.
type solution struct {
	rotation    mat3
	translation vec3
	cost        float64
}

type problem struct {
	model []vec3
	// observed points in normalized camera coordinates
	image         [][2]float64
	maxIterations int
}

func (p *problem) residuals(params [6]float64, out []float64) bool {
	r := rodrigues(vec3{params[0], params[1], params[2]})
	for i, x := range p.model {
		c := r.apply(x)
		c[0] += params[3]
		c[1] += params[4]
		c[2] += params[5]
		if c[2] <= 1e-9 {
			return false
		}
		out[2*i] = c[0]/c[2] - p.image[i][0]
		out[2*i+1] = c[1]/c[2] - p.image[i][1]
	}
	return true
}

func sumSquares(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return s
}

// directLinear estimates [R|t] from the linear projection equations. It
// needs at least six non-degenerate correspondences.
func (p *problem) directLinear() (solution, bool) {
	n := len(p.model)
	a := mat.NewDense(2*n, 12, nil)
	for i, x := range p.model {
		u, v := p.image[i][0], p.image[i][1]
		h := [4]float64{x[0], x[1], x[2], 1}
		for j := 0; j < 4; j++ {
			a.Set(2*i, j, h[j])
			a.Set(2*i, 8+j, -u*h[j])
			a.Set(2*i+1, 4+j, h[j])
			a.Set(2*i+1, 8+j, -v*h[j])
		}
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return solution{}, false
	}
	var v mat.Dense
	svd.VTo(&v)
	_, cols := v.Dims()
	proj := mat.Col(nil, cols-1, &v)

	var m mat3
	var t vec3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[i][j] = proj[4*i+j]
		}
		t[i] = proj[4*i+3]
	}
	det := mat.Det(m.dense())
	if det == 0 || math.IsNaN(det) {
		return solution{}, false
	}
	scale := math.Cbrt(det)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[i][j] /= scale
		}
		t[i] /= scale
	}
	r, ok := orthonormalize(m)
	if !ok || t[2] <= 0 {
		return solution{}, false
	}
	return solution{rotation: r, translation: t}, true
}

// refine runs Levenberg-Marquardt on the reprojection error starting from init.
func (p *problem) refine(init solution) (solution, bool) {
	const (
		step       = 1e-7
		tolerance  = 1e-12
		lambdaInit = 1e-3
		lambdaMax  = 1e12
	)

	w := rotationVector(init.rotation)
	params := [6]float64{w[0], w[1], w[2], init.translation[0], init.translation[1], init.translation[2]}
	m := 2 * len(p.model)
	res := make([]float64, m)
	trial := make([]float64, m)
	if !p.residuals(params, res) {
		return solution{}, false
	}
	cost := sumSquares(res)
	lambda := lambdaInit
	converged := false

	jac := mat.NewDense(m, 6, nil)
	for iter := 0; iter < p.maxIterations; iter++ {
		for j := 0; j < 6; j++ {
			plus, minus := params, params
			plus[j] += step
			minus[j] -= step
			if !p.residuals(plus, trial) {
				return solution{}, false
			}
			col := make([]float64, m)
			copy(col, trial)
			if !p.residuals(minus, trial) {
				return solution{}, false
			}
			for i := 0; i < m; i++ {
				jac.Set(i, j, (col[i]-trial[i])/(2*step))
			}
		}

		var jtj mat.Dense
		jtj.Mul(jac.T(), jac)
		var grad mat.VecDense
		grad.MulVec(jac.T(), mat.NewVecDense(m, res))

		accepted := false
		for lambda <= lambdaMax {
			damped := mat.DenseCopyOf(&jtj)
			for i := 0; i < 6; i++ {
				damped.Set(i, i, jtj.At(i, i)*(1+lambda)+1e-12)
			}
			var delta mat.VecDense
			if err := delta.SolveVec(damped, &grad); err != nil {
				lambda *= 10
				continue
			}
			next := params
			var stepNorm float64
			for i := 0; i < 6; i++ {
				next[i] -= delta.AtVec(i)
				stepNorm += delta.AtVec(i) * delta.AtVec(i)
			}
			if p.residuals(next, trial) {
				if c := sumSquares(trial); c <= cost {
					params = next
					copy(res, trial)
					if cost-c <= tolerance*(cost+tolerance) || math.Sqrt(stepNorm) < tolerance {
						converged = true
					}
					cost = c
					lambda = math.Max(lambda/10, 1e-12)
					accepted = true
					break
				}
			}
			if math.Sqrt(stepNorm) < tolerance {
				converged = true
				break
			}
			lambda *= 10
		}
		if converged || cost < 1e-24 {
			converged = true
			break
		}
		if !accepted {
			break
		}
	}
	if !converged || math.IsNaN(cost) || math.IsInf(cost, 0) {
		return solution{}, false
	}
	return solution{
		rotation:    rodrigues(vec3{params[0], params[1], params[2]}),
		translation: vec3{params[3], params[4], params[5]},
		cost:        cost,
	}, true
}

// solve tries each starting point and keeps the best converged result.
func (p *problem) solve(starts []solution) (solution, bool) {
	var best solution
	found := false
	for _, s := range starts {
		sol, ok := p.refine(s)
		if !ok {
			continue
		}
		if !found || sol.cost < best.cost {
			best = sol
			found = true
		}
	}
	return best, found
}
