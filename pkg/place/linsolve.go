package place

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrNotConverged indicates the conjugate-gradient solve hit its iteration
// cap before reaching the requested tolerance.
var ErrNotConverged = errors.New("place: conjugate gradient did not converge")

// linearSystem assembles one dimension of the bound-to-bound quadratic
// model: a symmetric positive-definite sparse matrix in coordinate form
// plus a right-hand side. Springs to fixed positions fold into the
// diagonal and the rhs.
type linearSystem struct {
	n    int
	diag []float64
	rhs  []float64

	// Off-diagonal entries, stored once per symmetric pair (i < j).
	rows []int
	cols []int
	vals []float64
}

func newLinearSystem(n int) *linearSystem {
	return &linearSystem{
		n:    n,
		diag: make([]float64, n),
		rhs:  make([]float64, n),
	}
}

// addSpring connects two movable variables with weight w.
func (s *linearSystem) addSpring(i, j int, w float64) {
	if i == j {
		return
	}
	s.diag[i] += w
	s.diag[j] += w
	if i > j {
		i, j = j, i
	}
	s.rows = append(s.rows, i)
	s.cols = append(s.cols, j)
	s.vals = append(s.vals, -w)
}

// addAnchor connects variable i to a fixed position with weight w. Both
// fixed-block springs and pseudo-anchors reduce to this.
func (s *linearSystem) addAnchor(i int, pos, w float64) {
	s.diag[i] += w
	s.rhs[i] += w * pos
}

// mulVec computes y = A x.
func (s *linearSystem) mulVec(y, x []float64) {
	for i := range y {
		y[i] = s.diag[i] * x[i]
	}
	for k, v := range s.vals {
		i, j := s.rows[k], s.cols[k]
		y[i] += v * x[j]
		y[j] += v * x[i]
	}
}

// solve runs Jacobi-preconditioned conjugate gradient starting from x0
// (which is overwritten with the solution). Variables with an empty row
// (no springs at all) keep their initial value.
func (s *linearSystem) solve(x0 []float64, tol float64, maxIter int) error {
	n := s.n
	if n == 0 {
		return nil
	}

	// Guard empty rows so the preconditioner stays finite.
	for i := 0; i < n; i++ {
		if s.diag[i] == 0 {
			s.diag[i] = 1
			s.rhs[i] = x0[i]
		}
	}

	r := make([]float64, n)
	z := make([]float64, n)
	p := make([]float64, n)
	ap := make([]float64, n)

	s.mulVec(r, x0)
	floats.SubTo(r, s.rhs, r) // r = b - A x0

	bNorm := floats.Norm(s.rhs, 2)
	if bNorm == 0 {
		bNorm = 1
	}
	if floats.Norm(r, 2)/bNorm <= tol {
		return nil
	}

	for i := 0; i < n; i++ {
		z[i] = r[i] / s.diag[i]
	}
	copy(p, z)
	rz := floats.Dot(r, z)

	if maxIter <= 0 {
		maxIter = 2 * n
	}
	for iter := 0; iter < maxIter; iter++ {
		s.mulVec(ap, p)
		den := floats.Dot(p, ap)
		if den <= 0 || math.IsNaN(den) {
			break
		}
		alpha := rz / den
		floats.AddScaled(x0, alpha, p)
		floats.AddScaled(r, -alpha, ap)

		if floats.Norm(r, 2)/bNorm <= tol {
			return nil
		}

		for i := 0; i < n; i++ {
			z[i] = r[i] / s.diag[i]
		}
		rzNext := floats.Dot(r, z)
		beta := rzNext / rz
		rz = rzNext
		for i := 0; i < n; i++ {
			p[i] = z[i] + beta*p[i]
		}
	}

	if floats.Norm(r, 2)/bNorm <= tol {
		return nil
	}
	return ErrNotConverged
}
