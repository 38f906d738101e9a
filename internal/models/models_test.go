package models_test

import (
	"errors"
	"math"
	"sort"
	"testing"

	"mdflow/internal/models"
	"mdflow/internal/solver"
	"mdflow/internal/system"
)

func buildAndRun(t *testing.T, name string) *system.Problem {
	t.Helper()
	entry, err := models.Lookup(name)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	g, err := entry.Build(models.DefaultOptions())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	p := system.NewProblem(g)
	if err := p.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := p.RunModel(); err != nil {
		t.Fatalf("run: %v", err)
	}
	return p
}

func TestLookupUnknown(t *testing.T) {
	if _, err := models.Lookup("no-such-model"); err == nil {
		t.Error("expected an error for an unknown model")
	}
}

func TestAllSorted(t *testing.T) {
	all := models.All()
	if len(all) < 4 {
		t.Fatalf("expected at least 4 registered models, got %d", len(all))
	}
	names := make([]string, len(all))
	for i, e := range all {
		names[i] = e.Name
	}
	if !sort.StringsAreSorted(names) {
		t.Errorf("expected sorted names, got %v", names)
	}
	for _, want := range []string{"quadratic", "quadratic-matfree", "sellar", "chain"} {
		found := false
		for _, n := range names {
			if n == want {
				found = true
			}
		}
		if !found {
			t.Errorf("registry is missing %q", want)
		}
	}
}

func TestQuadraticModel(t *testing.T) {
	p := buildAndRun(t, "quadratic")
	x, err := p.Value("comp.x")
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	// guess 5 selects the x=3 root of x^2-4x+3
	if math.Abs(x-3.0) > 1e-8 {
		t.Errorf("expected x=3, got %f", x)
	}
}

// At the x=3 root of a*x^2+b*x+c the implicit function theorem gives
// dx/da = -x^2/(2ax+b), dx/db = -x/(2ax+b), dx/dc = -1/(2ax+b).
var quadTotals = map[string]float64{
	"params.a": -4.5,
	"params.b": -1.5,
	"params.c": -0.5,
}

func checkQuadTotals(t *testing.T, p *system.Problem, mode system.Mode) {
	t.Helper()
	tot, err := p.ComputeTotalsMode(mode, []string{"comp.x"}, []string{"params.a", "params.b", "params.c"})
	if err != nil {
		t.Fatalf("totals (%v): %v", mode, err)
	}
	for wrt, want := range quadTotals {
		got := tot.Value("comp.x", wrt)
		if math.Abs(got-want) > 1e-8 {
			t.Errorf("d(comp.x)/d(%s) in %v mode: expected %f, got %f", wrt, mode, want, got)
		}
	}
}

func TestQuadraticTotalsForwardAndReverse(t *testing.T) {
	p := buildAndRun(t, "quadratic")
	checkQuadTotals(t, p, system.Forward)
	checkQuadTotals(t, p, system.Reverse)
}

func TestMatrixFreeTotalsMatchAnalytic(t *testing.T) {
	p := buildAndRun(t, "quadratic-matfree")
	x, _ := p.Value("comp.x")
	if math.Abs(x-3.0) > 1e-8 {
		t.Fatalf("expected x=3, got %f", x)
	}
	checkQuadTotals(t, p, system.Forward)
	checkQuadTotals(t, p, system.Reverse)
}

func TestSellarModel(t *testing.T) {
	p := buildAndRun(t, "sellar")

	y1, _ := p.Value("d1.y1")
	y2, _ := p.Value("d2.y2")
	if math.Abs(y1-25.58830237) > 1e-6 {
		t.Errorf("expected y1=25.58830237, got %f", y1)
	}
	if math.Abs(y2-12.05848815) > 1e-6 {
		t.Errorf("expected y2=12.05848815, got %f", y2)
	}
}

func TestSellarTotals(t *testing.T) {
	p := buildAndRun(t, "sellar")

	of := []string{"d1.y1", "d2.y2"}
	wrt := []string{"params.x", "params.z1"}
	fwd, err := p.ComputeTotalsMode(system.Forward, of, wrt)
	if err != nil {
		t.Fatalf("forward totals: %v", err)
	}
	rev, err := p.ComputeTotalsMode(system.Reverse, of, wrt)
	if err != nil {
		t.Fatalf("reverse totals: %v", err)
	}

	// dy1/dx = 1/(1 + 0.1/sqrt(y1)) at the converged state
	want := 1.0 / (1.0 + 0.1/math.Sqrt(25.58830237))
	if got := fwd.Value("d1.y1", "params.x"); math.Abs(got-want) > 1e-6 {
		t.Errorf("expected dy1/dx=%f, got %f", want, got)
	}
	for _, o := range of {
		for _, w := range wrt {
			f, r := fwd.Value(o, w), rev.Value(o, w)
			if math.Abs(f-r) > 1e-8 {
				t.Errorf("d(%s)/d(%s): forward %f and reverse %f disagree", o, w, f, r)
			}
		}
	}
	if fwd.Mode() != system.Forward || rev.Mode() != system.Reverse {
		t.Error("totals do not report the mode that produced them")
	}
	for i, o := range fwd.Of() {
		if o != of[i] {
			t.Errorf("of[%d]: expected %q, got %q", i, of[i], o)
		}
	}
	for j, w := range fwd.Wrt() {
		if w != wrt[j] {
			t.Errorf("wrt[%d]: expected %q, got %q", j, wrt[j], w)
		}
	}
}

func TestOptionsReachAttachedNewton(t *testing.T) {
	entry, err := models.Lookup("sellar")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	opts := models.DefaultOptions()
	opts.SolveSubsystems = true
	opts.MaxSubSolves = 2
	g, err := entry.Build(opts)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	nt, ok := g.Nonlinear.(*solver.Newton)
	if !ok {
		t.Fatalf("expected a Newton solver, got %T", g.Nonlinear)
	}
	if !nt.SolveSubsystems {
		t.Error("expected SolveSubsystems to be enabled")
	}
	if nt.MaxSubSolves != 2 {
		t.Errorf("expected MaxSubSolves=2, got %d", nt.MaxSubSolves)
	}

	p := system.NewProblem(g)
	if err := p.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := p.RunModel(); err != nil {
		t.Fatalf("run: %v", err)
	}
	y1, _ := p.Value("d1.y1")
	if math.Abs(y1-25.58830237) > 1e-6 {
		t.Errorf("expected y1=25.58830237 with subsystem pre-solves, got %f", y1)
	}
}

func TestChainModel(t *testing.T) {
	p := buildAndRun(t, "chain")
	y, err := p.Value("sub.comp2.y")
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if math.Abs(y-77) > 1e-4 {
		t.Errorf("expected the source value 77 to propagate, got %f", y)
	}
}

func TestTotalsBeforeRun(t *testing.T) {
	entry, err := models.Lookup("quadratic")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	g, err := entry.Build(models.DefaultOptions())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	p := system.NewProblem(g)
	if err := p.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if _, err := p.ComputeTotals(entry.DefaultOf, entry.DefaultWrt); !errors.Is(err, system.ErrNotYetRun) {
		t.Errorf("expected ErrNotYetRun, got %v", err)
	}
}
