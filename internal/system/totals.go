package system

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Totals is a dense total-derivative matrix indexed by (of, wrt) variable
// names, with array variables expanded elementwise.
type Totals struct {
	of, wrt   []string
	ofOff     map[string]int
	wrtOff    map[string]int
	m         *mat.Dense
	mode      Mode
}

// Mode reports which propagation direction produced the matrix.
func (t *Totals) Mode() Mode { return t.mode }

// Of returns the numerator variable names in request order.
func (t *Totals) Of() []string { return t.of }

// Wrt returns the denominator variable names in request order.
func (t *Totals) Wrt() []string { return t.wrt }

// Value returns d(of)/d(wrt) for scalar variables (element 0,0 of the block).
func (t *Totals) Value(of, wrt string) float64 { return t.At(of, 0, wrt, 0) }

// At returns element (i, j) of the d(of)/d(wrt) block.
func (t *Totals) At(of string, i int, wrt string, j int) float64 {
	return t.m.At(t.ofOff[of]+i, t.wrtOff[wrt]+j)
}

// Matrix returns the underlying dense matrix, rows over "of" elements and
// columns over "wrt" elements in request order.
func (t *Totals) Matrix() *mat.Dense { return t.m }

// ComputeTotals returns the total derivatives of the "of" variables with
// respect to the "wrt" variables at the current converged state, choosing
// forward or reverse propagation by whichever needs fewer linear solves.
func (p *Problem) ComputeTotals(of, wrt []string) (*Totals, error) {
	mode := Forward
	if len(of) < len(wrt) {
		mode = Reverse
	}
	return p.ComputeTotalsMode(mode, of, wrt)
}

// ComputeTotalsMode computes total derivatives in the requested mode. Both
// of and wrt must name outputs (states); wrt variables are typically the
// outputs of independent-variable components.
func (p *Problem) ComputeTotalsMode(mode Mode, of, wrt []string) (*Totals, error) {
	if !p.isSetup {
		return nil, ErrNotSetup
	}
	if !p.hasRun {
		return nil, ErrNotYetRun
	}
	g := p.root
	if g.Linear == nil {
		return nil, ErrNoLinearSolver
	}
	ofSlots, ofOff, nOf, err := p.stateSlots(of)
	if err != nil {
		return nil, err
	}
	wrtSlots, wrtOff, nWrt, err := p.stateSlots(wrt)
	if err != nil {
		return nil, err
	}

	// Jacobian at the exact state just evaluated.
	if _, err := g.EvalResiduals(); err != nil {
		return nil, err
	}
	if err := g.Linearize(); err != nil {
		return nil, err
	}
	if err := g.Linear.Prepare(g); err != nil {
		return nil, err
	}

	t := &Totals{of: of, wrt: wrt, ofOff: ofOff, wrtOff: wrtOff, mode: mode,
		m: mat.NewDense(nOf, nWrt, nil)}
	rhs := make([]float64, g.NumStates())
	switch mode {
	case Forward:
		for j, slot := range wrtSlots {
			zero(rhs)
			rhs[slot] = 1
			sol, err := g.Linear.Solve(g, rhs, Forward)
			if err != nil {
				return nil, err
			}
			for i, os := range ofSlots {
				t.m.Set(i, j, sol[os])
			}
		}
	case Reverse:
		for i, slot := range ofSlots {
			zero(rhs)
			rhs[slot] = 1
			sol, err := g.Linear.Solve(g, rhs, Reverse)
			if err != nil {
				return nil, err
			}
			for j, ws := range wrtSlots {
				t.m.Set(i, j, sol[ws])
			}
		}
	}
	return t, nil
}

// stateSlots expands variable names to scope-local state offsets, one per
// element, plus per-name offsets into the expanded ordering.
func (p *Problem) stateSlots(names []string) (slots []int, offs map[string]int, total int, err error) {
	offs = make(map[string]int, len(names))
	for _, name := range names {
		ref, lerr := p.lookup(name)
		if lerr != nil {
			return nil, nil, 0, lerr
		}
		abs := ref.c.pth + "." + ref.name
		base, ok := p.root.StateOffset(abs)
		if !ok {
			return nil, nil, 0, fmt.Errorf("%w: %q is not a state", ErrUnknownVariable, name)
		}
		offs[name] = total
		for e := 0; e < ref.meta.Size; e++ {
			slots = append(slots, base+e)
		}
		total += ref.meta.Size
	}
	return slots, offs, total, nil
}

func zero(s []float64) {
	for i := range s {
		s[i] = 0
	}
}
