// Package linear implements the linear solvers used by Newton iterations
// and the total-derivative engine: a dense LU direct solver over the
// assembled residual Jacobian, a matrix-free GMRES Krylov solver, and a
// block Gauss-Seidel relaxation usable standalone or as a preconditioner.
package linear

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"mdflow/internal/system"
)

// Direct assembles the scope's residual Jacobian from declared partials and
// LU-factorizes it once per linearization point. Exact up to numerical
// precision; intended for small to medium systems.
type Direct struct {
	lu *mat.LU
	n  int
}

// NewDirect returns a direct solver.
func NewDirect() *Direct { return &Direct{} }

// Prepare assembles and factorizes the Jacobian at the current state.
// Singular or non-finite factorizations are reported as a linear solve
// failure rather than a raw numerical error.
func (d *Direct) Prepare(g *system.Group) error {
	j, err := g.AssembleJacobian()
	if err != nil {
		return err
	}
	if !finiteMat(j) {
		return fmt.Errorf("%w: non-finite jacobian entry in %q", system.ErrLinearNoConvergence, g.Path())
	}
	d.n = g.NumStates()
	d.lu = &mat.LU{}
	d.lu.Factorize(j)
	return nil
}

// Solve computes J·x = rhs, or the transposed system in reverse mode.
func (d *Direct) Solve(g *system.Group, rhs []float64, mode system.Mode) ([]float64, error) {
	if d.lu == nil {
		if err := d.Prepare(g); err != nil {
			return nil, err
		}
	}
	if !finiteSlice(rhs) {
		return nil, fmt.Errorf("%w: non-finite right-hand side in %q", system.ErrLinearNoConvergence, g.Path())
	}
	out := mat.NewVecDense(d.n, nil)
	b := mat.NewVecDense(d.n, rhs)
	if err := d.lu.SolveVecTo(out, mode == system.Reverse, b); err != nil {
		return nil, fmt.Errorf("%w: singular jacobian in %q", system.ErrLinearNoConvergence, g.Path())
	}
	x := out.RawVector().Data
	if !finiteSlice(x) {
		return nil, fmt.Errorf("%w: non-finite solution in %q", system.ErrLinearNoConvergence, g.Path())
	}
	return x, nil
}

func finiteMat(m *mat.Dense) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

func finiteSlice(s []float64) bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
