package linear

import (
	"fmt"
	"math"

	"mdflow/internal/system"
)

// Preconditioner approximately applies the inverse of the scope Jacobian
// (or its transpose in reverse mode) to v.
type Preconditioner interface {
	Precondition(g *system.Group, v []float64, mode system.Mode) ([]float64, error)
}

// GMRES solves J·x = rhs matrix-free, building the solution from repeated
// Jacobian-vector products through the scope's apply-linear operator. An
// optional preconditioner (left-applied) accelerates convergence for
// strongly coupled scopes.
type GMRES struct {
	MaxIter int
	Atol    float64
	Rtol    float64
	Precon  Preconditioner
}

// NewGMRES returns a Krylov solver with the default tolerances.
func NewGMRES() *GMRES {
	return &GMRES{MaxIter: 100, Atol: 1e-12, Rtol: 1e-10}
}

// Prepare is a no-op beyond preconditioner setup; the operator is applied
// fresh at every product.
func (s *GMRES) Prepare(g *system.Group) error {
	if p, ok := s.Precon.(interface {
		Prepare(*system.Group) error
	}); ok {
		return p.Prepare(g)
	}
	return nil
}

// Solve runs Arnoldi/GMRES on the (preconditioned) operator.
func (s *GMRES) Solve(g *system.Group, rhs []float64, mode system.Mode) ([]float64, error) {
	n := g.NumStates()
	if !finiteSlice(rhs) {
		return nil, fmt.Errorf("%w: non-finite right-hand side in %q", system.ErrLinearNoConvergence, g.Path())
	}
	apply := func(v []float64) ([]float64, error) {
		w := g.ApplyLinear(v, mode)
		if s.Precon != nil {
			return s.Precon.Precondition(g, w, mode)
		}
		return w, nil
	}
	b := rhs
	if s.Precon != nil {
		pb, err := s.Precon.Precondition(g, rhs, mode)
		if err != nil {
			return nil, err
		}
		b = pb
	}

	m := s.MaxIter
	if m > n {
		m = n
	}
	beta := norm2(b)
	x := make([]float64, n)
	if beta <= s.Atol {
		return x, nil
	}
	target := math.Max(s.Atol, s.Rtol*beta)

	v := make([][]float64, 1, m+1)
	v[0] = scaled(b, 1/beta)
	h := make([][]float64, m+1)
	for i := range h {
		h[i] = make([]float64, m)
	}
	cs := make([]float64, m)
	sn := make([]float64, m)
	res := make([]float64, m+1)
	res[0] = beta

	k := 0
	converged := false
	for j := 0; j < m; j++ {
		w, err := apply(v[j])
		if err != nil {
			return nil, err
		}
		if !finiteSlice(w) {
			return nil, fmt.Errorf("%w: non-finite operator product in %q", system.ErrLinearNoConvergence, g.Path())
		}
		for i := 0; i <= j; i++ {
			h[i][j] = dot(w, v[i])
			axpy(w, -h[i][j], v[i])
		}
		h[j+1][j] = norm2(w)
		breakdown := h[j+1][j] < 1e-14*beta
		if !breakdown {
			v = append(v, scaled(w, 1/h[j+1][j]))
		}
		for i := 0; i < j; i++ {
			t := cs[i]*h[i][j] + sn[i]*h[i+1][j]
			h[i+1][j] = -sn[i]*h[i][j] + cs[i]*h[i+1][j]
			h[i][j] = t
		}
		r := math.Hypot(h[j][j], h[j+1][j])
		cs[j] = h[j][j] / r
		sn[j] = h[j+1][j] / r
		h[j][j] = r
		h[j+1][j] = 0
		res[j+1] = -sn[j] * res[j]
		res[j] = cs[j] * res[j]
		k = j + 1
		if math.Abs(res[j+1]) <= target || breakdown {
			converged = true
			break
		}
	}

	// back substitution for the Krylov coefficients
	y := make([]float64, k)
	for i := k - 1; i >= 0; i-- {
		sum := res[i]
		for j := i + 1; j < k; j++ {
			sum -= h[i][j] * y[j]
		}
		y[i] = sum / h[i][i]
	}
	for i := 0; i < k; i++ {
		axpy(x, y[i], v[i])
	}
	if !converged {
		return x, fmt.Errorf("%w: gmres hit %d iterations in %q (|r|=%.3g)",
			system.ErrLinearNoConvergence, k, g.Path(), math.Abs(res[k]))
	}
	return x, nil
}

func norm2(s []float64) float64 {
	sum := 0.0
	for _, x := range s {
		sum += x * x
	}
	return math.Sqrt(sum)
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// axpy computes dst += alpha*v.
func axpy(dst []float64, alpha float64, v []float64) {
	for i := range dst {
		dst[i] += alpha * v[i]
	}
}

func scaled(s []float64, alpha float64) []float64 {
	out := make([]float64, len(s))
	for i, x := range s {
		out[i] = alpha * x
	}
	return out
}
