package solver

import "mdflow/internal/system"

// RunOnce evaluates the containing group a single time: transfer into each
// child just before solving it, no iteration, no norm bookkeeping. It is
// the explicit form of the default behavior of a solver-less group.
type RunOnce struct{}

// NewRunOnce returns a run-once solver.
func NewRunOnce() *RunOnce { return &RunOnce{} }

// SolveSystem performs the single pass.
func (s *RunOnce) SolveSystem(g *system.Group) error {
	return g.RunOnceIteration()
}
