package models

import (
	"fmt"
	"sort"

	"mdflow/internal/linear"
	"mdflow/internal/solver"
	"mdflow/internal/system"
)

// Options tune the solvers a builder attaches to its model.
type Options struct {
	MaxIter         int
	Atol            float64
	Rtol            float64
	Krylov          bool
	LineSearch      bool
	SolveSubsystems bool
	MaxSubSolves    int
}

// DefaultOptions mirrors the solver package defaults.
func DefaultOptions() Options {
	return Options{MaxIter: 10, Atol: 1e-10, Rtol: 1e-10, MaxSubSolves: 10}
}

// Entry describes one ready-made model.
type Entry struct {
	Name        string
	Description string
	Build       func(opts Options) (*system.Group, error)
	DefaultOf   []string
	DefaultWrt  []string
	Watch       []string
}

var registry = map[string]Entry{
	"quadratic": {
		Name:        "quadratic",
		Description: "implicit quadratic a*x^2+b*x+c with analytic partials",
		Build:       buildQuadratic,
		DefaultOf:   []string{"comp.x"},
		DefaultWrt:  []string{"params.a", "params.b", "params.c"},
		Watch:       []string{"comp.x"},
	},
	"quadratic-matfree": {
		Name:        "quadratic-matfree",
		Description: "implicit quadratic solved through matrix-free products",
		Build:       buildQuadraticMatrixFree,
		DefaultOf:   []string{"comp.x"},
		DefaultWrt:  []string{"params.a", "params.b", "params.c"},
		Watch:       []string{"comp.x"},
	},
	"sellar": {
		Name:        "sellar",
		Description: "two coupled Sellar disciplines in a connection cycle",
		Build:       buildSellar,
		DefaultOf:   []string{"d1.y1", "d2.y2"},
		DefaultWrt:  []string{"params.x", "params.z1"},
		Watch:       []string{"d1.y1", "d2.y2"},
	},
	"chain": {
		Name:        "chain",
		Description: "guess-propagation chain of passthrough components",
		Build:       buildChain,
		Watch:       []string{"sub.comp2.y"},
	},
}

// Lookup returns the named entry.
func Lookup(name string) (Entry, error) {
	e, ok := registry[name]
	if !ok {
		return Entry{}, fmt.Errorf("models: unknown model %q", name)
	}
	return e, nil
}

// All returns every entry sorted by name.
func All() []Entry {
	out := make([]Entry, 0, len(registry))
	for _, e := range registry {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func newtonFor(opts Options) *solver.Newton {
	nt := solver.NewNewton()
	if opts.MaxIter > 0 {
		nt.MaxIter = opts.MaxIter
	}
	if opts.Atol > 0 {
		nt.Atol = opts.Atol
	}
	if opts.Rtol > 0 {
		nt.Rtol = opts.Rtol
	}
	if opts.LineSearch {
		nt.LineSearch = solver.NewBacktracking()
	}
	nt.SolveSubsystems = opts.SolveSubsystems
	if opts.MaxSubSolves > 0 {
		nt.MaxSubSolves = opts.MaxSubSolves
	}
	return nt
}

func linearFor(opts Options) system.LinearSolver {
	if opts.Krylov {
		return linear.NewGMRES()
	}
	return linear.NewDirect()
}

func buildQuadratic(opts Options) (*system.Group, error) {
	g := system.NewGroup()
	params := NewIndep().Add("a", 1).Add("b", -4).Add("c", 3)
	if err := g.AddSubsystem("params", params); err != nil {
		return nil, err
	}
	if err := g.AddSubsystem("comp", &QuadraticWithGuess{GuessX: 5}); err != nil {
		return nil, err
	}
	for _, v := range []string{"a", "b", "c"} {
		if err := g.Connect("params."+v, "comp."+v); err != nil {
			return nil, err
		}
	}
	g.Nonlinear = newtonFor(opts)
	g.Linear = linearFor(opts)
	return g, nil
}

func buildQuadraticMatrixFree(opts Options) (*system.Group, error) {
	g := system.NewGroup()
	params := NewIndep().Add("a", 1).Add("b", -4).Add("c", 3)
	if err := g.AddSubsystem("params", params); err != nil {
		return nil, err
	}
	if err := g.AddSubsystem("comp", &QuadraticMatrixFree{}); err != nil {
		return nil, err
	}
	for _, v := range []string{"a", "b", "c"} {
		if err := g.Connect("params."+v, "comp."+v); err != nil {
			return nil, err
		}
	}
	opts.Krylov = true
	g.Nonlinear = newtonFor(opts)
	g.Linear = linearFor(opts)
	return g, nil
}

func buildSellar(opts Options) (*system.Group, error) {
	g := system.NewGroup()
	params := NewIndep().Add("x", 1).Add("z1", 5).Add("z2", 2)
	if err := g.AddSubsystem("params", params); err != nil {
		return nil, err
	}
	if err := g.AddSubsystem("d1", &SellarDis1{}); err != nil {
		return nil, err
	}
	if err := g.AddSubsystem("d2", &SellarDis2{}); err != nil {
		return nil, err
	}
	conns := [][2]string{
		{"params.x", "d1.x"},
		{"params.z1", "d1.z1"}, {"params.z2", "d1.z2"},
		{"params.z1", "d2.z1"}, {"params.z2", "d2.z2"},
		{"d1.y1", "d2.y1"}, {"d2.y2", "d1.y2"},
	}
	for _, c := range conns {
		if err := g.Connect(c[0], c[1]); err != nil {
			return nil, err
		}
	}
	g.Nonlinear = newtonFor(opts)
	g.Linear = linearFor(opts)
	return g, nil
}

func buildChain(opts Options) (*system.Group, error) {
	g := system.NewGroup()
	px := NewIndep().Add("x", 77)
	if err := g.AddSubsystem("px", px); err != nil {
		return nil, err
	}
	sub := system.NewGroup()
	if err := sub.AddSubsystem("comp1", NewPassthrough()); err != nil {
		return nil, err
	}
	if err := sub.AddSubsystem("comp2", NewPassthrough()); err != nil {
		return nil, err
	}
	if err := g.AddGroup("sub", sub); err != nil {
		return nil, err
	}
	if err := g.Connect("px.x", "sub.comp1.x"); err != nil {
		return nil, err
	}
	if err := g.Connect("sub.comp1.y", "sub.comp2.x"); err != nil {
		return nil, err
	}
	nt := newtonFor(opts)
	nt.MaxIter = 1
	// the passthrough residual is a constant 1e-6 by construction
	nt.Atol = 1e-5
	g.Nonlinear = nt
	g.Linear = linear.NewBlockGS()
	return g, nil
}
