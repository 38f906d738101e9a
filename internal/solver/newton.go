// Package solver implements the nonlinear solvers that converge a group's
// residuals: Newton with an optional bounds-respecting line search and
// subsystem pre-solves, a fixed-point block Gauss-Seidel, and a run-once
// pass-through. Solver state (iteration count, norm history, convergence
// flag) is reset at the start of every solve and never persists across
// runs.
package solver

import (
	"fmt"
	"math"

	"mdflow/internal/system"
)

// Iteration is one entry of a solver's per-solve history.
type Iteration struct {
	Iter int
	Norm float64
}

// Newton drives a group to |R| ~ 0 by iterating residual evaluation and a
// linear solve for the state update du from J·du = -R.
type Newton struct {
	MaxIter int
	Atol    float64
	Rtol    float64

	// SolveSubsystems runs one transfer-then-solve pass over the children
	// before the first residual evaluation and before each linear solve,
	// up to MaxSubSolves times, improving the Jacobian solve's starting
	// point. It does not replace convergence of the outer residual.
	SolveSubsystems bool
	MaxSubSolves    int

	// Linear solves the Newton update; when nil the group's own linear
	// solver is used.
	Linear system.LinearSolver

	// LineSearch, when set, bounds and backtracks the update step.
	LineSearch *Backtracking

	// DivergeGrowth and DivergeWindow control divergence detection: the
	// solve aborts after DivergeWindow consecutive iterations whose norm
	// grew by more than DivergeGrowth over the previous one.
	DivergeGrowth float64
	DivergeWindow int

	history  []Iteration
	monitors []system.Monitor
}

// NewNewton returns a Newton solver with the conventional defaults.
func NewNewton() *Newton {
	return &Newton{
		MaxIter:       10,
		Atol:          1e-10,
		Rtol:          1e-10,
		MaxSubSolves:  10,
		DivergeGrowth: 2.0,
		DivergeWindow: 3,
	}
}

// SolvesStates marks Newton as converging every implicit state in scope,
// so components below need no local state solve.
func (n *Newton) SolvesStates() bool { return true }

// AddMonitor registers an iteration observer.
func (n *Newton) AddMonitor(m system.Monitor) { n.monitors = append(n.monitors, m) }

// History returns the iteration records of the most recent solve.
func (n *Newton) History() []Iteration { return n.history }

func (n *Newton) record(g *system.Group, iter int, norm float64) {
	n.history = append(n.history, Iteration{Iter: iter, Norm: norm})
	for _, m := range n.monitors {
		m.OnIteration(g.Path(), iter, norm)
	}
}

// SolveSystem runs the Newton iteration on g.
func (n *Newton) SolveSystem(g *system.Group) error {
	n.history = n.history[:0]
	lin := n.Linear
	if lin == nil {
		lin = g.Linear
	}
	if lin == nil {
		return system.ErrNoLinearSolver
	}

	g.GuessCascade()
	if n.SolveSubsystems && n.MaxSubSolves > 0 {
		if err := g.RunOnceIteration(); err != nil {
			return err
		}
	}
	norm, err := g.EvalResiduals()
	if err != nil {
		return err
	}
	norm0 := norm
	n.record(g, 0, norm)
	if norm0 == 0 {
		return nil
	}

	du := make([]float64, g.NumStates())
	growth := 0
	for iter := 1; norm > n.Atol && norm/norm0 > n.Rtol; iter++ {
		if iter > n.MaxIter {
			return &system.SolveError{Path: g.Path(), Iter: iter - 1, Norm: norm, Wrapped: system.ErrMaxIter}
		}
		if n.SolveSubsystems && iter <= n.MaxSubSolves {
			if err := g.RunOnceIteration(); err != nil {
				return err
			}
			if norm, err = g.EvalResiduals(); err != nil {
				return err
			}
		}
		if err := g.Linearize(); err != nil {
			return err
		}
		if err := lin.Prepare(g); err != nil {
			return n.stepFailure(g, iter, norm, err)
		}
		rhs := make([]float64, g.NumStates())
		g.GatherResiduals(rhs)
		for i := range rhs {
			rhs[i] = -rhs[i]
		}
		sol, err := lin.Solve(g, rhs, system.Forward)
		if err != nil {
			return n.stepFailure(g, iter, norm, err)
		}
		copy(du, sol)

		prev := norm
		if n.LineSearch != nil {
			norm, err = n.LineSearch.step(g, du, prev)
		} else {
			g.AddToStates(1.0, du)
			norm, err = g.EvalResiduals()
		}
		if err != nil {
			return err
		}
		n.record(g, iter, norm)

		if math.IsNaN(norm) || math.IsInf(norm, 0) {
			return n.stepFailure(g, iter, prev,
				fmt.Errorf("%w: non-finite residual norm", system.ErrLinearNoConvergence))
		}
		if norm > n.DivergeGrowth*prev {
			growth++
		} else {
			growth = 0
		}
		if n.DivergeWindow > 0 && growth >= n.DivergeWindow {
			return &system.SolveError{Path: g.Path(), Iter: iter, Norm: norm, Wrapped: system.ErrDiverged}
		}
	}
	return nil
}

// stepFailure converts a failed linear solve into a divergence abort of the
// outer iteration, keeping the store at the last completed iterate.
func (n *Newton) stepFailure(g *system.Group, iter int, norm float64, cause error) error {
	return &system.SolveError{Path: g.Path(), Iter: iter, Norm: norm,
		Wrapped: fmt.Errorf("%w: %v", system.ErrDiverged, cause)}
}
