package system

import (
	"errors"
	"math"
	"testing"

	"mdflow/internal/vars"
)

type source struct{ val float64 }

func (s *source) Setup(d *Declarator)          { d.Output("x", s.val) }
func (s *source) Compute(in, out *vars.Vector) {}

type doubler struct{}

func (c *doubler) Setup(d *Declarator) {
	d.Input("x", 1)
	d.Output("y", 0)
}

func (c *doubler) Compute(in, out *vars.Vector) {
	out.SetScalar("y", 2*in.Scalar("x"))
}

func (c *doubler) ComputePartials(in *vars.Vector, jac *Partials) {
	jac.Set("y", "x", 2)
}

type vecComp struct{}

func (c *vecComp) Setup(d *Declarator) {
	d.InputVec("v", []float64{0, 0})
	d.OutputVec("w", []float64{0, 0})
}

func (c *vecComp) Compute(in, out *vars.Vector) {
	v := in.Get("v")
	w := out.Get("w")
	w[0], w[1] = v[1], v[0]
}

type dupDecl struct{}

func (c *dupDecl) Setup(d *Declarator) {
	d.Output("x", 0)
	d.Output("x", 1)
}

func (c *dupDecl) Compute(in, out *vars.Vector) {}

type sqrtImplicit struct{}

func (c *sqrtImplicit) Setup(d *Declarator) {
	d.Input("a", 4)
	d.Output("x", 1)
}

func (c *sqrtImplicit) ApplyNonlinear(in, out, res *vars.Vector) {
	x := out.Scalar("x")
	res.SetScalar("x", x*x-in.Scalar("a"))
}

func (c *sqrtImplicit) SolveStates(in, out *vars.Vector) error {
	out.SetScalar("x", math.Sqrt(in.Scalar("a")))
	return nil
}

type setupOnly struct{}

func (c *setupOnly) Setup(d *Declarator) {}

func TestNotAComponent(t *testing.T) {
	g := NewGroup()
	err := g.AddSubsystem("c", &setupOnly{})
	if !errors.Is(err, ErrNotAComponent) {
		t.Errorf("expected ErrNotAComponent, got %v", err)
	}
}

func TestDuplicateVariable(t *testing.T) {
	g := NewGroup()
	if err := g.AddSubsystem("c", &dupDecl{}); err != nil {
		t.Fatalf("add: %v", err)
	}
	err := NewProblem(g).Setup()
	if !errors.Is(err, ErrDuplicateVariable) {
		t.Errorf("expected ErrDuplicateVariable, got %v", err)
	}
}

func TestDuplicateSubsystemName(t *testing.T) {
	g := NewGroup()
	if err := g.AddSubsystem("c", &doubler{}); err != nil {
		t.Fatalf("add: %v", err)
	}
	err := g.AddSubsystem("c", &doubler{})
	if !errors.Is(err, ErrDuplicateName) {
		t.Errorf("expected ErrDuplicateName, got %v", err)
	}
}

func TestConnectBadRole(t *testing.T) {
	g := NewGroup()
	g.AddSubsystem("s", &source{val: 1})
	g.AddSubsystem("d", &doubler{})
	g.Connect("d.x", "s.x") // input as source, output as target
	err := NewProblem(g).Setup()
	if !errors.Is(err, ErrBadRole) {
		t.Errorf("expected ErrBadRole, got %v", err)
	}
}

func TestConnectSizeMismatch(t *testing.T) {
	g := NewGroup()
	g.AddSubsystem("s", &source{val: 1})
	g.AddSubsystem("v", &vecComp{})
	g.Connect("s.x", "v.v")
	err := NewProblem(g).Setup()
	if !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("expected ErrSizeMismatch, got %v", err)
	}
}

func TestConnectTargetTwice(t *testing.T) {
	g := NewGroup()
	g.AddSubsystem("s1", &source{val: 1})
	g.AddSubsystem("s2", &source{val: 2})
	g.AddSubsystem("d", &doubler{})
	g.Connect("s1.x", "d.x")
	g.Connect("s2.x", "d.x")
	err := NewProblem(g).Setup()
	if !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestConnectUnknownEndpoint(t *testing.T) {
	g := NewGroup()
	g.AddSubsystem("s", &source{val: 1})
	g.Connect("s.x", "nope.x")
	err := NewProblem(g).Setup()
	if !errors.Is(err, ErrUnknownVariable) {
		t.Errorf("expected ErrUnknownVariable, got %v", err)
	}
}

func TestMutateAfterSetup(t *testing.T) {
	g := NewGroup()
	g.AddSubsystem("s", &source{val: 1})
	if err := NewProblem(g).Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if err := g.AddSubsystem("late", &doubler{}); !errors.Is(err, ErrAfterSetup) {
		t.Errorf("expected ErrAfterSetup from AddSubsystem, got %v", err)
	}
	if err := g.Connect("s.x", "late.x"); !errors.Is(err, ErrAfterSetup) {
		t.Errorf("expected ErrAfterSetup from Connect, got %v", err)
	}
}

func TestRunOncePropagation(t *testing.T) {
	root := NewGroup()
	root.AddSubsystem("s", &source{val: 3})
	root.AddSubsystem("d1", &doubler{})
	sub := NewGroup()
	sub.AddSubsystem("d2", &doubler{})
	root.AddGroup("sub", sub)
	root.Connect("s.x", "d1.x")
	root.Connect("d1.y", "sub.d2.x")

	p := NewProblem(root)
	if err := p.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := p.RunModel(); err != nil {
		t.Fatalf("run: %v", err)
	}

	v, err := p.Value("d1.y")
	if err != nil || v != 6 {
		t.Errorf("expected d1.y=6, got %f (%v)", v, err)
	}
	v, err = p.Value("sub.d2.y")
	if err != nil || v != 12 {
		t.Errorf("expected sub.d2.y=12, got %f (%v)", v, err)
	}
}

func TestVectorConnection(t *testing.T) {
	root := NewGroup()
	srcVec := &vecComp{}
	root.AddSubsystem("a", srcVec)
	root.AddSubsystem("b", &vecComp{})
	root.Connect("a.w", "b.v")

	p := NewProblem(root)
	if err := p.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := p.SetValue("a.v", 1, 2); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := p.RunModel(); err != nil {
		t.Fatalf("run: %v", err)
	}

	w, err := p.ValueVec("b.w")
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	// a swaps [1 2] to [2 1]; b swaps back
	if w[0] != 1 || w[1] != 2 {
		t.Errorf("expected b.w=[1 2], got %v", w)
	}
}

func TestSetValueConnectedInput(t *testing.T) {
	g := NewGroup()
	g.AddSubsystem("s", &source{val: 1})
	g.AddSubsystem("d", &doubler{})
	g.Connect("s.x", "d.x")

	p := NewProblem(g)
	if err := p.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}

	err := p.SetValue("d.x", 9)
	if !errors.Is(err, ErrReadOnlyVariable) {
		t.Errorf("expected ErrReadOnlyVariable, got %v", err)
	}

	// the rejected write must leave the store untouched
	v, _ := p.Value("d.x")
	if v != 1 {
		t.Errorf("expected d.x unchanged at 1, got %f", v)
	}

	if err := p.SetValue("s.x", 9); err != nil {
		t.Errorf("outputs should be writable: %v", err)
	}
}

func TestSetValueUnconnectedInput(t *testing.T) {
	g := NewGroup()
	g.AddSubsystem("d", &doubler{})

	p := NewProblem(g)
	if err := p.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := p.SetValue("d.x", 5); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := p.RunModel(); err != nil {
		t.Fatalf("run: %v", err)
	}
	v, _ := p.Value("d.y")
	if v != 10 {
		t.Errorf("expected d.y=10, got %f", v)
	}
}

func TestQueryGuards(t *testing.T) {
	g := NewGroup()
	g.AddSubsystem("s", &source{val: 1})
	p := NewProblem(g)

	if _, err := p.Value("s.x"); !errors.Is(err, ErrNotSetup) {
		t.Errorf("expected ErrNotSetup, got %v", err)
	}

	if err := p.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if _, err := p.Value("nope"); !errors.Is(err, ErrUnknownVariable) {
		t.Errorf("expected ErrUnknownVariable, got %v", err)
	}
	if _, err := p.ListOutputs(AllOutputs); !errors.Is(err, ErrNotYetRun) {
		t.Errorf("expected ErrNotYetRun, got %v", err)
	}

	if err := p.RunModel(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := p.ListOutputs(AllOutputs); err != nil {
		t.Errorf("listing after run: %v", err)
	}
}

func TestAliasPromotion(t *testing.T) {
	root := NewGroup()
	root.AddSubsystem("s", &source{val: 4})
	sub := NewGroup()
	sub.AddSubsystem("d", &doubler{})
	sub.Alias("xin", "d.x")
	root.AddGroup("sub", sub)
	root.Connect("s.x", "sub.xin")

	p := NewProblem(root)
	if err := p.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := p.RunModel(); err != nil {
		t.Fatalf("run: %v", err)
	}

	v, err := p.Value("sub.xin")
	if err != nil {
		t.Fatalf("aliased value: %v", err)
	}
	if v != 4 {
		t.Errorf("expected alias to read 4, got %f", v)
	}
	v, _ = p.Value("sub.d.y")
	if v != 8 {
		t.Errorf("expected sub.d.y=8, got %f", v)
	}
}

func TestAliasDuplicate(t *testing.T) {
	g := NewGroup()
	g.AddSubsystem("d", &doubler{})
	if err := g.Alias("p", "d.x"); err != nil {
		t.Fatalf("alias: %v", err)
	}
	if err := g.Alias("p", "d.y"); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("expected ErrDuplicateName, got %v", err)
	}
	if err := g.Alias("d", "d.y"); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("expected ErrDuplicateName shadowing a child, got %v", err)
	}
}

func TestListOutputsFilter(t *testing.T) {
	g := NewGroup()
	g.AddSubsystem("s", &source{val: 1})
	g.AddSubsystem("imp", &sqrtImplicit{})

	p := NewProblem(g)
	if err := p.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := p.RunModel(); err != nil {
		t.Fatalf("run: %v", err)
	}

	impl, err := p.ListOutputs(ImplicitOnly)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(impl) != 1 || impl[0].Name != "imp.x" {
		t.Errorf("expected only imp.x, got %+v", impl)
	}
	if impl[0].Value[0] != 2 {
		t.Errorf("expected solved x=2, got %f", impl[0].Value[0])
	}

	expl, err := p.ListOutputs(ExplicitOnly)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(expl) != 1 || expl[0].Name != "s.x" {
		t.Errorf("expected only s.x, got %+v", expl)
	}
}

func TestResidualQuery(t *testing.T) {
	g := NewGroup()
	g.AddSubsystem("imp", &sqrtImplicit{})

	p := NewProblem(g)
	if err := p.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := p.RunModel(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := g.EvalResiduals(); err != nil {
		t.Fatalf("eval: %v", err)
	}

	r, err := p.Residual("imp.x")
	if err != nil {
		t.Fatalf("residual: %v", err)
	}
	if math.Abs(r[0]) > 1e-12 {
		t.Errorf("expected zero residual at the solved state, got %g", r[0])
	}
}

func TestUnconvergedStateWithoutSolver(t *testing.T) {
	g := NewGroup()
	g.AddSubsystem("p", &passive{})

	p := NewProblem(g)
	if err := p.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	err := p.RunModel()
	if !errors.Is(err, ErrUnconvergedState) {
		t.Errorf("expected ErrUnconvergedState, got %v", err)
	}
}

// passive is implicit with neither a local state solve nor a covering
// Newton solver above it.
type passive struct{}

func (c *passive) Setup(d *Declarator) {
	d.Input("x", 0)
	d.Output("y", 0)
}

func (c *passive) ApplyNonlinear(in, out, res *vars.Vector) {
	res.SetScalar("y", out.Scalar("y")-in.Scalar("x"))
}

func TestAssembleJacobianChainsInputs(t *testing.T) {
	g := NewGroup()
	g.AddSubsystem("s", &source{val: 3})
	g.AddSubsystem("d", &doubler{})
	g.Connect("s.x", "d.x")

	p := NewProblem(g)
	if err := p.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := p.RunModel(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := g.EvalResiduals(); err != nil {
		t.Fatalf("eval: %v", err)
	}
	if err := g.Linearize(); err != nil {
		t.Fatalf("linearize: %v", err)
	}

	j, err := g.AssembleJacobian()
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	// residual form: R_s = x - x0, R_d = y - 2x
	sx, _ := g.StateOffset("s.x")
	dy, _ := g.StateOffset("d.y")
	if j.At(sx, sx) != 1 {
		t.Errorf("expected identity on source row, got %f", j.At(sx, sx))
	}
	if j.At(dy, dy) != 1 {
		t.Errorf("expected identity on explicit output, got %f", j.At(dy, dy))
	}
	if j.At(dy, sx) != -2 {
		t.Errorf("expected chained partial -2, got %f", j.At(dy, sx))
	}
}

func TestApplyLinearMatchesAssembled(t *testing.T) {
	g := NewGroup()
	g.AddSubsystem("s", &source{val: 3})
	g.AddSubsystem("d", &doubler{})
	g.Connect("s.x", "d.x")

	p := NewProblem(g)
	if err := p.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := p.RunModel(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := g.EvalResiduals(); err != nil {
		t.Fatalf("eval: %v", err)
	}
	if err := g.Linearize(); err != nil {
		t.Fatalf("linearize: %v", err)
	}
	j, err := g.AssembleJacobian()
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	n := g.NumStates()
	for col := 0; col < n; col++ {
		v := make([]float64, n)
		v[col] = 1
		fwd := g.ApplyLinear(v, Forward)
		for row := 0; row < n; row++ {
			if math.Abs(fwd[row]-j.At(row, col)) > 1e-12 {
				t.Errorf("forward product (%d,%d): got %f, want %f", row, col, fwd[row], j.At(row, col))
			}
		}
		rev := g.ApplyLinear(v, Reverse)
		for row := 0; row < n; row++ {
			if math.Abs(rev[row]-j.At(col, row)) > 1e-12 {
				t.Errorf("reverse product (%d,%d): got %f, want %f", row, col, rev[row], j.At(col, row))
			}
		}
	}
}

type annotated struct{}

func (c *annotated) Setup(d *Declarator) {
	d.Input("rate", 0.5, vars.WithUnits("1/s"))
	d.Output("level", 2,
		vars.WithBounds(0, 10),
		vars.WithScaling(10, 1),
		vars.WithUnits("m"))
}

func (c *annotated) Compute(in, out *vars.Vector) {}

func TestMetaAccessor(t *testing.T) {
	g := NewGroup()
	if err := g.AddSubsystem("c", &annotated{}); err != nil {
		t.Fatalf("add: %v", err)
	}
	p := NewProblem(g)

	if _, err := p.Meta("c.level"); !errors.Is(err, ErrNotSetup) {
		t.Errorf("expected ErrNotSetup before setup, got %v", err)
	}
	if err := p.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}

	m, err := p.Meta("c.level")
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	if m.Role != vars.RoleOutput {
		t.Errorf("expected output role, got %v", m.Role)
	}
	if m.Size != 1 || m.Default[0] != 2 {
		t.Errorf("expected scalar default 2, got size %d default %v", m.Size, m.Default)
	}
	if m.LowerAt(0) != 0 || m.UpperAt(0) != 10 {
		t.Errorf("expected bounds [0, 10], got [%v, %v]", m.LowerAt(0), m.UpperAt(0))
	}
	if m.Ref != 10 || m.Ref0 != 1 {
		t.Errorf("expected scaling ref=10 ref0=1, got ref=%v ref0=%v", m.Ref, m.Ref0)
	}
	if m.Units != "m" {
		t.Errorf("expected units %q, got %q", "m", m.Units)
	}

	rm, err := p.Meta("c.rate")
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	if rm.Role != vars.RoleInput || rm.Units != "1/s" {
		t.Errorf("expected input with units 1/s, got %v %q", rm.Role, rm.Units)
	}
	if !math.IsInf(rm.LowerAt(0), -1) || !math.IsInf(rm.UpperAt(0), 1) {
		t.Error("expected infinite default bounds on an unbounded variable")
	}

	// the copy must not alias the declaration
	m.Default[0] = 99
	again, _ := p.Meta("c.level")
	if again.Default[0] != 2 {
		t.Errorf("metadata copy aliases the store: default became %v", again.Default[0])
	}

	if _, err := p.Meta("c.missing"); !errors.Is(err, ErrUnknownVariable) {
		t.Errorf("expected ErrUnknownVariable, got %v", err)
	}
}
