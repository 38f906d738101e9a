package system

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"mdflow/internal/vars"
)

// Declarator collects variable declarations during a component's Setup.
type Declarator struct {
	metas []vars.Meta
	seen  map[string]bool
	err   error
}

// Input declares a scalar input with a default value.
func (d *Declarator) Input(name string, def float64, opts ...vars.Option) {
	d.add(vars.NewScalar(name, vars.RoleInput, def, opts...))
}

// InputVec declares an array input.
func (d *Declarator) InputVec(name string, def []float64, opts ...vars.Option) {
	d.add(vars.NewMeta(name, vars.RoleInput, def, opts...))
}

// Output declares a scalar output. For implicit components outputs are
// states with a matching residual entry.
func (d *Declarator) Output(name string, def float64, opts ...vars.Option) {
	d.add(vars.NewScalar(name, vars.RoleOutput, def, opts...))
}

// OutputVec declares an array output.
func (d *Declarator) OutputVec(name string, def []float64, opts ...vars.Option) {
	d.add(vars.NewMeta(name, vars.RoleOutput, def, opts...))
}

func (d *Declarator) add(m vars.Meta) {
	if d.seen[m.Name] {
		if d.err == nil {
			d.err = fmt.Errorf("%w: %q", ErrDuplicateVariable, m.Name)
		}
		return
	}
	d.seen[m.Name] = true
	d.metas = append(d.metas, m)
}

type compKind int

const (
	explicitKind compKind = iota
	implicitKind
)

// comp wraps a user component as a leaf node of the tree.
type comp struct {
	nm   string
	pth  string
	impl Component
	kind compKind
	caps capabilities

	metas   []vars.Meta
	sizes   map[string]int
	st      *vars.Store
	jac     *Partials // residual-form partials
	fjac    *Partials // explicit compute partials, pre-negation
	scratch *vars.Vector

	covered   bool // an ancestor Newton solver owns this comp's states
	numStates int
	outOff    map[string]int
}

func newComp(name string, c Component) (*comp, error) {
	n := &comp{nm: name, impl: c}
	switch c.(type) {
	case Explicit:
		n.kind = explicitKind
	case Implicit:
		n.kind = implicitKind
	default:
		return nil, fmt.Errorf("%w: %q", ErrNotAComponent, name)
	}
	return n, nil
}

func (c *comp) name() string { return c.nm }
func (c *comp) path() string { return c.pth }

func (c *comp) finalize(parent string) error {
	c.pth = joinPath(parent, c.nm)
	d := &Declarator{seen: make(map[string]bool)}
	c.impl.Setup(d)
	if d.err != nil {
		return fmt.Errorf("component %q: %w", c.pth, d.err)
	}
	c.metas = d.metas
	c.caps = detectCaps(c.impl)
	c.sizes = make(map[string]int, len(c.metas))
	for _, m := range c.metas {
		c.sizes[m.Name] = m.Size
	}
	c.st = vars.NewStore(c.metas)
	c.jac = newPartials(c.sizes)
	c.fjac = newPartials(c.sizes)
	c.scratch = c.st.Outputs.Clone()
	c.numStates = c.st.Outputs.Len()
	c.outOff = make(map[string]int)
	off := 0
	for _, name := range c.st.Outputs.Names() {
		c.outOff[name] = off
		off += c.sizes[name]
	}
	c.covered = false
	return nil
}

func (c *comp) eachComp(fn func(*comp)) { fn(c) }

// evalNode writes the residuals at the current inputs/outputs. Explicit
// components use the residual form R = u - f(inputs).
func (c *comp) evalNode() error {
	switch c.kind {
	case implicitKind:
		c.st.Residuals.Zero()
		c.impl.(Implicit).ApplyNonlinear(c.st.Inputs, c.st.Outputs, c.st.Residuals)
	case explicitKind:
		c.scratch.CopyFrom(c.st.Outputs)
		c.impl.(Explicit).Compute(c.st.Inputs, c.scratch)
		u := c.st.Outputs.Data()
		f := c.scratch.Data()
		r := c.st.Residuals.Data()
		for i := range r {
			r[i] = u[i] - f[i]
		}
	}
	return nil
}

// solveNode runs the component once: explicit compute, or the implicit
// local state solve when one exists. Implicit components owned by an
// ancestor Newton solver are converged there and do nothing here.
func (c *comp) solveNode() error {
	if c.kind == explicitKind {
		c.impl.(Explicit).Compute(c.st.Inputs, c.st.Outputs)
		return nil
	}
	if c.caps.solveStates {
		if err := c.impl.(StateSolver).SolveStates(c.st.Inputs, c.st.Outputs); err != nil {
			return fmt.Errorf("component %q: %w", c.pth, err)
		}
		return nil
	}
	if c.covered {
		return nil
	}
	return fmt.Errorf("%w: component %q", ErrUnconvergedState, c.pth)
}

func (c *comp) guessNode() {
	if c.caps.guess {
		c.impl.(Guesser).Guess(c.st.Inputs, c.st.Outputs, c.st.Residuals)
	}
}

// linearizeNode refreshes the residual-form partials at the state last
// evaluated. Matrix-free components keep an empty block table; their
// Linearize hook still runs so they can cache factorization state.
func (c *comp) linearizeNode() error {
	c.jac.reset()
	if c.caps.matrixFree {
		if c.caps.linearize {
			c.impl.(Linearizer).Linearize(c.st.Inputs, c.st.Outputs, c.jac)
			c.jac.reset()
		}
		return nil
	}
	switch c.kind {
	case implicitKind:
		if c.caps.linearize {
			c.impl.(Linearizer).Linearize(c.st.Inputs, c.st.Outputs, c.jac)
		}
	case explicitKind:
		for _, name := range c.st.Outputs.Names() {
			c.jac.Set(name, name, identity(c.sizes[name])...)
		}
		if c.caps.partials {
			c.fjac.reset()
			c.impl.(PartialsComputer).ComputePartials(c.st.Inputs, c.fjac)
			c.fjac.each(func(of, wrt string, vals []float64) {
				neg := make([]float64, len(vals))
				for i, v := range vals {
					neg[i] = -v
				}
				c.jac.Set(of, wrt, neg...)
			})
		}
	}
	return nil
}

// applyLinear accumulates the Jacobian-vector product of this component
// into the seed vectors, through either the matrix-free operator or the
// declared blocks.
func (c *comp) applyLinear(mode Mode) {
	if c.caps.matrixFree {
		c.impl.(MatrixFree).ApplyLinear(c.st.Inputs, c.st.Outputs,
			c.st.DInputs, c.st.DOutputs, c.st.DResiduals, mode)
		return
	}
	if !c.hasStatePartials() {
		// undeclared state block defaults to identity, matching solveBlock
		res := c.st.DResiduals.Data()
		out := c.st.DOutputs.Data()
		switch mode {
		case Forward:
			for i := range res {
				res[i] += out[i]
			}
		case Reverse:
			for i := range out {
				out[i] += res[i]
			}
		}
	}
	c.jac.each(func(of, wrt string, vals []float64) {
		res := c.st.DResiduals.Get(of)
		var seed []float64
		if c.st.DOutputs.Has(wrt) {
			seed = c.st.DOutputs.Get(wrt)
		} else {
			seed = c.st.DInputs.Get(wrt)
		}
		rows, cols := len(res), len(seed)
		switch mode {
		case Forward:
			for r := 0; r < rows; r++ {
				for k := 0; k < cols; k++ {
					res[r] += vals[r*cols+k] * seed[k]
				}
			}
		case Reverse:
			for r := 0; r < rows; r++ {
				for k := 0; k < cols; k++ {
					seed[k] += vals[r*cols+k] * res[r]
				}
			}
		}
	})
}

// solveBlock applies the inverse (or transpose inverse) of the component's
// state-Jacobian block to rhs, via the user SolveLinear hook when present
// or a dense factorization of the declared state blocks.
func (c *comp) solveBlock(rhs []float64, mode Mode) ([]float64, error) {
	if c.caps.solveLinear {
		ls := c.impl.(LinearStateSolver)
		switch mode {
		case Forward:
			copy(c.st.DResiduals.Data(), rhs)
			c.st.DOutputs.Zero()
			ls.SolveLinear(c.st.DOutputs, c.st.DResiduals, Forward)
			out := make([]float64, c.numStates)
			copy(out, c.st.DOutputs.Data())
			return out, nil
		default:
			copy(c.st.DOutputs.Data(), rhs)
			c.st.DResiduals.Zero()
			ls.SolveLinear(c.st.DOutputs, c.st.DResiduals, Reverse)
			out := make([]float64, c.numStates)
			copy(out, c.st.DResiduals.Data())
			return out, nil
		}
	}
	n := c.numStates
	if !c.hasStatePartials() {
		// no declared state block: identity, matching the default
		// component-local linear solve
		out := make([]float64, n)
		copy(out, rhs)
		return out, nil
	}
	block := mat.NewDense(n, n, nil)
	for _, of := range c.st.Outputs.Names() {
		for _, wrt := range c.st.Outputs.Names() {
			vals, ok := c.jac.Get(of, wrt)
			if !ok {
				continue
			}
			ro, co := c.outOff[of], c.outOff[wrt]
			cols := c.sizes[wrt]
			for r := 0; r < c.sizes[of]; r++ {
				for k := 0; k < cols; k++ {
					block.Set(ro+r, co+k, vals[r*cols+k])
				}
			}
		}
	}
	var lu mat.LU
	lu.Factorize(block)
	out := mat.NewVecDense(n, nil)
	if err := lu.SolveVecTo(out, mode == Reverse, mat.NewVecDense(n, rhs)); err != nil {
		return nil, fmt.Errorf("%w: singular state block in %q", ErrLinearNoConvergence, c.pth)
	}
	return out.RawVector().Data, nil
}

func (c *comp) hasStatePartials() bool {
	for _, of := range c.st.Outputs.Names() {
		for _, wrt := range c.st.Outputs.Names() {
			if _, ok := c.jac.Get(of, wrt); ok {
				return true
			}
		}
	}
	return false
}

func identity(n int) []float64 {
	vals := make([]float64, n*n)
	for i := 0; i < n; i++ {
		vals[i*n+i] = 1
	}
	return vals
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

// parentPath strips the final segment of a dotted path.
func parentPath(abs string) string {
	for i := len(abs) - 1; i >= 0; i-- {
		if abs[i] == '.' {
			return abs[:i]
		}
	}
	return ""
}
