package solver

import "mdflow/internal/system"

// Backtracking is a bounds-respecting backtracking line search: the step
// is first clipped so every updated state respects its declared bounds,
// then halved (by Contraction) while the residual norm grows past
// GrowthLimit times the pre-step norm.
type Backtracking struct {
	MaxBacktracks int
	Contraction   float64
	GrowthLimit   float64
}

// NewBacktracking returns a line search with the conventional defaults.
func NewBacktracking() *Backtracking {
	return &Backtracking{MaxBacktracks: 5, Contraction: 0.5, GrowthLimit: 1.0}
}

// step applies u += alpha*du with the largest admissible alpha and returns
// the resulting residual norm.
func (b *Backtracking) step(g *system.Group, du []float64, prevNorm float64) (float64, error) {
	alpha := g.MaxFeasibleStep(du)
	if alpha == 0 {
		// already pinned at a bound in the update direction
		return g.EvalResiduals()
	}
	g.AddToStates(alpha, du)
	norm, err := g.EvalResiduals()
	if err != nil {
		return 0, err
	}
	for k := 0; k < b.MaxBacktracks && norm > b.GrowthLimit*prevNorm; k++ {
		next := alpha * b.Contraction
		g.AddToStates(next-alpha, du)
		alpha = next
		if norm, err = g.EvalResiduals(); err != nil {
			return 0, err
		}
	}
	return norm, nil
}
