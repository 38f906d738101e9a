package system

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// node is a member of the system tree: a component leaf or a nested group.
type node interface {
	name() string
	path() string
	finalize(parent string) error
	evalNode() error
	solveNode() error
	guessNode()
	linearizeNode() error
	eachComp(fn func(*comp))
}

type connDecl struct {
	src string
	tgt string
}

type transfer struct {
	srcAbs, tgtAbs string
	src, tgt       []float64
	dSrc, dTgt     []float64
}

// Group is a composite system: child systems in insertion order, the subset
// of the connection graph local to it, and optional nonlinear/linear
// solvers. A group with no nonlinear solver evaluates children once per
// pass, transferring data into each child immediately before it runs.
type Group struct {
	nm  string
	pth string

	// Nonlinear converges this group's residuals; nil means run-once.
	Nonlinear NonlinearSolver

	// Linear solves J·x = rhs over this group's states during Newton
	// iterations and total-derivative computation.
	Linear LinearSolver

	children []node
	byName   map[string]node
	decls    []connDecl
	aliases  map[string]string
	aliasOrd []string
	frozen   bool

	// resolved at setup
	incoming [][]*transfer // per child: connections targeting inside it
	scoped   []*transfer   // connections with both endpoints in this scope
	comps    []*comp
	spans    []spanRange
	nStates  int
	slotOf   map[string]int // abs output name -> scope-local offset
	srcSlot  map[string]int // abs input name -> scope-local offset of its source
	lower    []float64
	upper    []float64
}

type spanRange struct{ lo, hi int }

// NewGroup returns an empty group.
func NewGroup() *Group {
	return &Group{
		byName:  make(map[string]node),
		aliases: make(map[string]string),
	}
}

func (g *Group) name() string { return g.nm }
func (g *Group) path() string { return g.pth }

// Path returns the dotted path of this group ("" for the root).
func (g *Group) Path() string { return g.pth }

// AddSubsystem registers a component child under name.
func (g *Group) AddSubsystem(name string, c Component) error {
	n, err := newComp(name, c)
	if err != nil {
		return err
	}
	return g.addChild(name, n)
}

// AddGroup registers a nested group child under name.
func (g *Group) AddGroup(name string, sub *Group) error {
	sub.nm = name
	return g.addChild(name, sub)
}

func (g *Group) addChild(name string, n node) error {
	if g.frozen {
		return ErrAfterSetup
	}
	if _, ok := g.byName[name]; ok {
		return fmt.Errorf("%w: subsystem %q", ErrDuplicateName, name)
	}
	g.children = append(g.children, n)
	g.byName[name] = n
	return nil
}

// Connect records an edge from a source output to a target input, both
// given relative to this group (aliases allowed). Endpoints are validated
// when the owning Problem is set up.
func (g *Group) Connect(src, tgt string) error {
	if g.frozen {
		return ErrAfterSetup
	}
	g.decls = append(g.decls, connDecl{src: src, tgt: tgt})
	return nil
}

// Alias promotes a nested variable path to a shorter or renamed name at
// this group's scope, usable in Connect calls and on the Problem surface.
func (g *Group) Alias(name, target string) error {
	if g.frozen {
		return ErrAfterSetup
	}
	if _, ok := g.aliases[name]; ok {
		return fmt.Errorf("%w: alias %q", ErrDuplicateName, name)
	}
	if _, ok := g.byName[name]; ok {
		return fmt.Errorf("%w: alias %q", ErrDuplicateName, name)
	}
	g.aliases[name] = target
	g.aliasOrd = append(g.aliasOrd, name)
	return nil
}

func (g *Group) finalize(parent string) error {
	if parent == "" && g.nm == "" {
		g.pth = ""
	} else {
		g.pth = joinPath(parent, g.nm)
	}
	for _, ch := range g.children {
		if err := ch.finalize(g.pth); err != nil {
			return err
		}
	}
	return nil
}

func (g *Group) eachComp(fn func(*comp)) {
	for _, ch := range g.children {
		ch.eachComp(fn)
	}
}

func (g *Group) eachGroup(fn func(*Group)) {
	fn(g)
	for _, ch := range g.children {
		if sub, ok := ch.(*Group); ok {
			sub.eachGroup(fn)
		}
	}
}

// contains reports whether the path lies inside this group's subtree.
func (g *Group) contains(path string) bool {
	if g.pth == "" {
		return true
	}
	return path == g.pth || strings.HasPrefix(path, g.pth+".")
}

// resolveRel resolves a group-relative, possibly aliased variable path to
// the owning component and variable name.
func (g *Group) resolveRel(rel string) (*comp, string, error) {
	if tgt, ok := g.aliases[rel]; ok {
		rel = tgt
	}
	head, rest, found := strings.Cut(rel, ".")
	ch, ok := g.byName[head]
	if !ok {
		return nil, "", fmt.Errorf("%w: %q in group %q", ErrUnknownVariable, rel, g.pth)
	}
	switch n := ch.(type) {
	case *Group:
		if !found {
			return nil, "", fmt.Errorf("%w: %q names a group, not a variable", ErrUnknownVariable, rel)
		}
		return n.resolveRel(rest)
	case *comp:
		if !found {
			return nil, "", fmt.Errorf("%w: %q names a component, not a variable", ErrUnknownVariable, rel)
		}
		if _, ok := n.sizes[rest]; !ok {
			return nil, "", fmt.Errorf("%w: %q has no variable %q", ErrUnknownVariable, n.pth, rest)
		}
		return n, rest, nil
	}
	return nil, "", fmt.Errorf("%w: %q", ErrUnknownVariable, rel)
}

// transferTo copies every connected value into the child's inputs.
func (g *Group) transferTo(idx int) {
	for _, t := range g.incoming[idx] {
		copy(t.tgt, t.src)
	}
}

// evalNode computes residuals for every descendant, transferring data into
// each child immediately before recursing into it.
func (g *Group) evalNode() error {
	for i, ch := range g.children {
		g.transferTo(i)
		if err := ch.evalNode(); err != nil {
			return err
		}
	}
	return nil
}

// solveNode delegates to the attached nonlinear solver, or performs a
// single transfer-then-solve pass over the children.
func (g *Group) solveNode() error {
	if g.Nonlinear != nil {
		return g.Nonlinear.SolveSystem(g)
	}
	return g.RunOnceIteration()
}

// guessNode cascades initial guesses: each child receives its transfers
// before guessing, so a guess on an upstream output is visible downstream
// within the same pass.
func (g *Group) guessNode() {
	for i, ch := range g.children {
		g.transferTo(i)
		ch.guessNode()
	}
}

func (g *Group) linearizeNode() error {
	for _, ch := range g.children {
		if err := ch.linearizeNode(); err != nil {
			return err
		}
	}
	return nil
}

// RunOnceIteration transfers into and solves each child once, in order.
func (g *Group) RunOnceIteration() error {
	for i, ch := range g.children {
		g.transferTo(i)
		if err := ch.solveNode(); err != nil {
			return err
		}
	}
	return nil
}

// EvalResiduals evaluates the residuals of the whole scope and returns
// their 2-norm.
func (g *Group) EvalResiduals() (float64, error) {
	if err := g.evalNode(); err != nil {
		return 0, err
	}
	return g.ResidualNorm(), nil
}

// GuessCascade runs the guess hooks of the scope exactly once, with
// transfers interleaved so guesses propagate along connections.
func (g *Group) GuessCascade() { g.guessNode() }

// Linearize refreshes every component's partials at the state left by the
// preceding residual evaluation.
func (g *Group) Linearize() error { return g.linearizeNode() }

// ResidualNorm returns the 2-norm over the scope's residuals.
func (g *Group) ResidualNorm() float64 {
	sum := 0.0
	for _, c := range g.comps {
		for _, x := range c.st.Residuals.Data() {
			sum += x * x
		}
	}
	return math.Sqrt(sum)
}

// NumStates returns the total state (output) dimension of the scope.
func (g *Group) NumStates() int { return g.nStates }

// GatherStates copies the scope's outputs into dst in slot order.
func (g *Group) GatherStates(dst []float64) {
	for i, c := range g.comps {
		copy(dst[g.spans[i].lo:g.spans[i].hi], c.st.Outputs.Data())
	}
}

// GatherResiduals copies the scope's residuals into dst in slot order.
func (g *Group) GatherResiduals(dst []float64) {
	for i, c := range g.comps {
		copy(dst[g.spans[i].lo:g.spans[i].hi], c.st.Residuals.Data())
	}
}

// AddToStates applies u += alpha*du across the scope.
func (g *Group) AddToStates(alpha float64, du []float64) {
	for i, c := range g.comps {
		data := c.st.Outputs.Data()
		lo := g.spans[i].lo
		for k := range data {
			data[k] += alpha * du[lo+k]
		}
	}
}

// MaxFeasibleStep returns the largest alpha in (0, 1] such that
// u + alpha*du respects every declared bound.
func (g *Group) MaxFeasibleStep(du []float64) float64 {
	alpha := 1.0
	for i, c := range g.comps {
		lo := g.spans[i].lo
		u := c.st.Outputs.Data()
		for k := range u {
			d := du[lo+k]
			if d == 0 {
				continue
			}
			lb, ub := g.lower[lo+k], g.upper[lo+k]
			trial := u[k] + alpha*d
			if trial < lb {
				alpha = (lb - u[k]) / d
			} else if trial > ub {
				alpha = (ub - u[k]) / d
			}
		}
	}
	if alpha < 0 {
		return 0
	}
	return alpha
}

// StateBounds returns the concatenated lower/upper bounds in slot order.
func (g *Group) StateBounds() (lower, upper []float64) { return g.lower, g.upper }

// StateOffset returns the scope-local offset of an absolute output name.
func (g *Group) StateOffset(abs string) (int, bool) {
	off, ok := g.slotOf[abs]
	return off, ok
}

// ApplyLinear computes the product of the scope's residual Jacobian (or its
// transpose) with v, composing component contributions with seed transfers
// along the scope-internal connections.
func (g *Group) ApplyLinear(v []float64, mode Mode) []float64 {
	for _, c := range g.comps {
		c.st.DInputs.Zero()
		c.st.DOutputs.Zero()
		c.st.DResiduals.Zero()
	}
	out := make([]float64, g.nStates)
	switch mode {
	case Forward:
		for i, c := range g.comps {
			copy(c.st.DOutputs.Data(), v[g.spans[i].lo:g.spans[i].hi])
		}
		for _, t := range g.scoped {
			copy(t.dTgt, t.dSrc)
		}
		for _, c := range g.comps {
			c.applyLinear(Forward)
		}
		for i, c := range g.comps {
			copy(out[g.spans[i].lo:g.spans[i].hi], c.st.DResiduals.Data())
		}
	case Reverse:
		for i, c := range g.comps {
			copy(c.st.DResiduals.Data(), v[g.spans[i].lo:g.spans[i].hi])
		}
		for _, c := range g.comps {
			c.applyLinear(Reverse)
		}
		for _, t := range g.scoped {
			for k := range t.dSrc {
				t.dSrc[k] += t.dTgt[k]
			}
		}
		for i, c := range g.comps {
			copy(out[g.spans[i].lo:g.spans[i].hi], c.st.DOutputs.Data())
		}
	}
	return out
}

// AssembleJacobian builds the dense residual Jacobian of the scope from
// declared partials, chaining input columns to their source outputs.
// Sources outside the scope are constants and contribute nothing.
func (g *Group) AssembleJacobian() (*mat.Dense, error) {
	if g.nStates == 0 {
		return nil, fmt.Errorf("%w: group %q has no states", ErrNotAssemblable, g.pth)
	}
	j := mat.NewDense(g.nStates, g.nStates, nil)
	for i, c := range g.comps {
		if c.caps.matrixFree {
			return nil, fmt.Errorf("%w: component %q", ErrNotAssemblable, c.pth)
		}
		base := g.spans[i].lo
		if !c.hasStatePartials() {
			for k := 0; k < c.numStates; k++ {
				j.Set(base+k, base+k, 1)
			}
		}
		c.jac.each(func(of, wrt string, vals []float64) {
			row := base + c.outOff[of]
			cols := c.sizes[wrt]
			var col int
			if o, ok := c.outOff[wrt]; ok {
				col = base + o
			} else {
				slot, ok := g.srcSlot[c.pth+"."+wrt]
				if !ok {
					return // unconnected or externally sourced input: constant
				}
				col = slot
			}
			for r := 0; r < c.sizes[of]; r++ {
				for k := 0; k < cols; k++ {
					j.Set(row+r, col+k, j.At(row+r, col+k)+vals[r*cols+k])
				}
			}
		})
	}
	return j, nil
}

// NumBlocks returns the number of component blocks in the scope.
func (g *Group) NumBlocks() int { return len(g.comps) }

// BlockSpan returns the slot range of block i.
func (g *Group) BlockSpan(i int) (lo, hi int) { return g.spans[i].lo, g.spans[i].hi }

// SolveBlock applies the inverse of block i's state Jacobian to rhs.
func (g *Group) SolveBlock(i int, rhs []float64, mode Mode) ([]float64, error) {
	return g.comps[i].solveBlock(rhs, mode)
}
