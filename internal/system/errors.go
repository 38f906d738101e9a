package system

import (
	"errors"
	"fmt"
)

// Structural errors, raised while building or finalizing a model. Fatal,
// never retried.
var (
	// ErrDuplicateVariable indicates a variable name declared twice in one system.
	ErrDuplicateVariable = errors.New("system: variable already declared")

	// ErrDuplicateName indicates a subsystem or alias name collision within a group.
	ErrDuplicateName = errors.New("system: name already in use")

	// ErrAlreadyConnected indicates an input that already has a source output.
	ErrAlreadyConnected = errors.New("system: input already connected")

	// ErrSizeMismatch indicates a connection between variables of different sizes.
	ErrSizeMismatch = errors.New("system: connected variables differ in size")

	// ErrBadRole indicates a connection endpoint with the wrong role
	// (source must be an output, target an input).
	ErrBadRole = errors.New("system: connection endpoint has wrong role")

	// ErrNotAComponent indicates a value that implements neither the
	// Explicit nor the Implicit contract.
	ErrNotAComponent = errors.New("system: value is not an explicit or implicit component")

	// ErrAfterSetup indicates a structural mutation after setup froze the model.
	ErrAfterSetup = errors.New("system: structure is frozen after setup")

	// ErrNoLinearSolver indicates a derivative computation on a group
	// without an attached linear solver.
	ErrNoLinearSolver = errors.New("system: no linear solver attached")

	// ErrNotAssemblable indicates an assembled-Jacobian request covering a
	// matrix-free component.
	ErrNotAssemblable = errors.New("system: matrix-free component has no assemblable jacobian")
)

// Access errors, user-facing programming mistakes. Fatal for the call, not
// the process.
var (
	// ErrUnknownVariable indicates a name that resolves to no declared variable.
	ErrUnknownVariable = errors.New("system: unknown variable")

	// ErrReadOnlyVariable indicates a write to a connected input.
	ErrReadOnlyVariable = errors.New("system: variable is read-only (driven by a connection)")

	// ErrNotSetup indicates use of a Problem before Setup completed.
	ErrNotSetup = errors.New("system: problem has not been set up")

	// ErrNotYetRun indicates a reporting query before the first RunModel call.
	ErrNotYetRun = errors.New("system: model has not been run")
)

// Convergence errors, raised during a solve with the variable store intact.
// Recoverable by the caller via a new guess or adjusted options.
var (
	// ErrMaxIter indicates the iteration budget was exhausted without convergence.
	ErrMaxIter = errors.New("system: maximum iterations exceeded")

	// ErrDiverged indicates the residual norm grew without bound.
	ErrDiverged = errors.New("system: solve diverged")

	// ErrLinearNoConvergence indicates the linear solver failed, including
	// singular factorizations and NaN residuals caught at the solve.
	ErrLinearNoConvergence = errors.New("system: linear solve did not converge")

	// ErrUnconvergedState indicates an implicit component with neither a
	// local state solve nor a covering Newton solver.
	ErrUnconvergedState = errors.New("system: implicit state has no solver")
)

// SolveError attaches the failing system path and last iteration state to a
// convergence error.
type SolveError struct {
	Path    string
	Iter    int
	Norm    float64
	Wrapped error
}

func (e *SolveError) Error() string {
	p := e.Path
	if p == "" {
		p = "model"
	}
	return fmt.Sprintf("%v (system %q, iteration %d, |R|=%.6g)", e.Wrapped, p, e.Iter, e.Norm)
}

func (e *SolveError) Unwrap() error { return e.Wrapped }
