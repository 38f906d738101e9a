package solver

import (
	"mdflow/internal/system"
)

// BlockGS is a fixed-point nonlinear block Gauss-Seidel: it sweeps the
// children in order, transferring and solving each, until the group
// residual meets tolerance. Children must converge their own states, so
// cycles of self-solving components resolve without a Jacobian.
type BlockGS struct {
	MaxIter int
	Atol    float64
	Rtol    float64

	history  []Iteration
	monitors []system.Monitor
}

// NewBlockGS returns a block Gauss-Seidel solver with the conventional
// defaults.
func NewBlockGS() *BlockGS {
	return &BlockGS{MaxIter: 25, Atol: 1e-10, Rtol: 1e-10}
}

// AddMonitor registers an iteration observer.
func (s *BlockGS) AddMonitor(m system.Monitor) { s.monitors = append(s.monitors, m) }

// History returns the iteration records of the most recent solve.
func (s *BlockGS) History() []Iteration { return s.history }

func (s *BlockGS) record(g *system.Group, iter int, norm float64) {
	s.history = append(s.history, Iteration{Iter: iter, Norm: norm})
	for _, m := range s.monitors {
		m.OnIteration(g.Path(), iter, norm)
	}
}

// SolveSystem iterates transfer-then-solve sweeps to a fixed point.
func (s *BlockGS) SolveSystem(g *system.Group) error {
	s.history = s.history[:0]
	g.GuessCascade()
	norm, err := g.EvalResiduals()
	if err != nil {
		return err
	}
	norm0 := norm
	s.record(g, 0, norm)
	if norm0 == 0 {
		return nil
	}
	for iter := 1; norm > s.Atol && norm/norm0 > s.Rtol; iter++ {
		if iter > s.MaxIter {
			return &system.SolveError{Path: g.Path(), Iter: iter - 1, Norm: norm, Wrapped: system.ErrMaxIter}
		}
		if err := g.RunOnceIteration(); err != nil {
			return err
		}
		if norm, err = g.EvalResiduals(); err != nil {
			return err
		}
		s.record(g, iter, norm)
	}
	return nil
}
