// Package system implements the model hierarchy: components (explicit and
// implicit leaves), groups, the connection graph with promotion aliases,
// data transfers, and the Problem entry points RunModel and ComputeTotals.
//
// A component is any value implementing [Explicit] or [Implicit]. Optional
// capabilities (Guesser, Linearizer, MatrixFree, ...) are detected once at
// setup via interface assertions and recorded as flags; evaluation never
// inspects types again.
//
// Derivatives run through the residual Jacobian over all outputs in a solve
// scope: explicit components contribute identity rows minus their compute
// partials, implicit components contribute their declared dR/d* entries or
// a matrix-free operator.
package system

import "mdflow/internal/vars"

// Mode selects the direction of derivative propagation.
type Mode int

const (
	// Forward propagates seeds from inputs toward residuals (J·v).
	Forward Mode = iota

	// Reverse propagates seeds from residuals toward inputs (Jᵗ·v).
	Reverse
)

func (m Mode) String() string {
	if m == Forward {
		return "fwd"
	}
	return "rev"
}

// Component is the common declaration contract of every leaf.
type Component interface {
	// Setup declares the component's variables on the declarator. Called
	// once per Problem.Setup.
	Setup(d *Declarator)
}

// Explicit computes outputs directly from inputs.
type Explicit interface {
	Component
	Compute(in, out *vars.Vector)
}

// Implicit defines outputs through a residual equation R(inputs, outputs).
type Implicit interface {
	Component
	// ApplyNonlinear writes the residuals at the current inputs/outputs.
	// It must be a pure function of the passed vectors.
	ApplyNonlinear(in, out, res *vars.Vector)
}

// Guesser sets a better starting point before the first residual evaluation
// of a solve. It runs exactly once per solve, after inputs have been
// transferred in.
type Guesser interface {
	Guess(in, out, res *vars.Vector)
}

// StateSolver provides a component-local direct solve of the implicit
// states, used instead of delegating to an outer Newton solver.
type StateSolver interface {
	SolveStates(in, out *vars.Vector) error
}

// Linearizer assembles analytic partial derivatives. Implicit components
// write dR/d(input|state) blocks; the hook may also just cache state for a
// later SolveLinear and leave the partials empty when matrix-free.
type Linearizer interface {
	Linearize(in, out *vars.Vector, jac *Partials)
}

// PartialsComputer is the explicit-component analog of Linearizer: it
// writes d(output)/d(input) blocks of the compute function.
type PartialsComputer interface {
	ComputePartials(in *vars.Vector, jac *Partials)
}

// MatrixFree supplies Jacobian-vector products in residual form instead of
// declared partials. Forward mode accumulates J·[dIn;dOut] into dRes;
// reverse mode accumulates Jᵗ·dRes into dIn and dOut. Accumulation is
// always additive; the caller zeroes seeds before the first contribution.
type MatrixFree interface {
	ApplyLinear(in, out, dIn, dOut, dRes *vars.Vector, mode Mode)
}

// LinearStateSolver applies the inverse of the component's state Jacobian
// block: forward solves J·dOut = dRes, reverse solves Jᵗ·dRes = dOut.
type LinearStateSolver interface {
	SolveLinear(dOut, dRes *vars.Vector, mode Mode)
}

// NonlinearSolver drives a group's residuals to zero.
type NonlinearSolver interface {
	SolveSystem(g *Group) error
}

// LinearSolver solves J·x = rhs (or the transpose in reverse mode) over a
// group's states. Prepare runs once per linearization point.
type LinearSolver interface {
	Prepare(g *Group) error
	Solve(g *Group, rhs []float64, mode Mode) ([]float64, error)
}

// NewtonType marks nonlinear solvers that converge the implicit states of
// every descendant, so components below need no local state solve.
type NewtonType interface {
	SolvesStates() bool
}

// Monitor observes solver iterations.
type Monitor interface {
	OnIteration(path string, iter int, norm float64)
}

type capabilities struct {
	guess       bool
	solveStates bool
	linearize   bool
	partials    bool
	matrixFree  bool
	solveLinear bool
}

func detectCaps(c Component) capabilities {
	var caps capabilities
	_, caps.guess = c.(Guesser)
	_, caps.solveStates = c.(StateSolver)
	_, caps.linearize = c.(Linearizer)
	_, caps.partials = c.(PartialsComputer)
	_, caps.matrixFree = c.(MatrixFree)
	_, caps.solveLinear = c.(LinearStateSolver)
	return caps
}
