package system

import (
	"fmt"
	"sort"

	"mdflow/internal/vars"
)

type varRef struct {
	c         *comp
	name      string
	meta      *vars.Meta
	connected bool
	srcAbs    string
}

// Problem owns a root group and exposes the solve and query entry points.
// Setup must run exactly once before any evaluation; it finalizes sizes,
// connections and solver assignment for the whole hierarchy.
type Problem struct {
	root    *Group
	isSetup bool
	hasRun  bool
	index   map[string]*varRef
	names   []string
}

// NewProblem wraps a root group.
func NewProblem(root *Group) *Problem {
	return &Problem{root: root}
}

// Model returns the root group.
func (p *Problem) Model() *Group { return p.root }

// Setup finalizes the hierarchy: paths, variable stores, capability flags,
// connection resolution (including promotion aliases), transfer lists,
// state slot assignment and Newton coverage. Re-running resets structure
// but leaves solver history to the solver instances.
func (p *Problem) Setup() error {
	if err := p.root.finalize(""); err != nil {
		return err
	}
	if err := p.buildIndex(); err != nil {
		return err
	}
	if err := p.resolveConnections(); err != nil {
		return err
	}
	p.buildScopes()
	p.markCoverage(p.root, false)
	p.root.eachGroup(func(g *Group) { g.frozen = true })
	p.isSetup = true
	return nil
}

func (p *Problem) buildIndex() error {
	p.index = make(map[string]*varRef)
	p.names = p.names[:0]
	var dup error
	p.root.eachComp(func(c *comp) {
		for i := range c.metas {
			m := &c.metas[i]
			abs := c.pth + "." + m.Name
			p.index[abs] = &varRef{c: c, name: m.Name, meta: m}
			p.names = append(p.names, abs)
		}
	})
	// promotion aliases become addressable at the owning group's scope
	var aliasErr error
	p.root.eachGroup(func(g *Group) {
		for _, a := range g.aliasOrd {
			abs := joinPath(g.pth, a)
			c, name, err := g.resolveRel(a)
			if err != nil {
				if aliasErr == nil {
					aliasErr = err
				}
				continue
			}
			if _, exists := p.index[abs]; exists {
				if dup == nil {
					dup = fmt.Errorf("%w: alias %q", ErrDuplicateName, abs)
				}
				continue
			}
			ref := p.index[c.pth+"."+name]
			p.index[abs] = ref
		}
	})
	if aliasErr != nil {
		return aliasErr
	}
	if dup != nil {
		return dup
	}
	sort.Strings(p.names)
	return nil
}

func (p *Problem) resolveConnections() error {
	type resolved struct {
		srcC, tgtC       *comp
		srcName, tgtName string
	}
	var edges []resolved
	seen := make(map[string]string) // abs target -> abs source
	var fail error
	p.root.eachGroup(func(g *Group) {
		for _, d := range g.decls {
			if fail != nil {
				return
			}
			srcC, srcName, err := g.resolveRel(d.src)
			if err != nil {
				fail = err
				return
			}
			tgtC, tgtName, err := g.resolveRel(d.tgt)
			if err != nil {
				fail = err
				return
			}
			if !srcC.st.Outputs.Has(srcName) {
				fail = fmt.Errorf("%w: source %q is not an output", ErrBadRole, d.src)
				return
			}
			if !tgtC.st.Inputs.Has(tgtName) {
				fail = fmt.Errorf("%w: target %q is not an input", ErrBadRole, d.tgt)
				return
			}
			if srcC.sizes[srcName] != tgtC.sizes[tgtName] {
				fail = fmt.Errorf("%w: %q (%d) -> %q (%d)", ErrSizeMismatch,
					d.src, srcC.sizes[srcName], d.tgt, tgtC.sizes[tgtName])
				return
			}
			tgtAbs := tgtC.pth + "." + tgtName
			if prev, ok := seen[tgtAbs]; ok {
				fail = fmt.Errorf("%w: input %q already fed by %q", ErrAlreadyConnected, tgtAbs, prev)
				return
			}
			srcAbs := srcC.pth + "." + srcName
			seen[tgtAbs] = srcAbs
			ref := p.index[tgtAbs]
			ref.connected = true
			ref.srcAbs = srcAbs
			edges = append(edges, resolved{srcC, tgtC, srcName, tgtName})
		}
	})
	if fail != nil {
		return fail
	}
	transfers := make([]*transfer, 0, len(edges))
	for _, e := range edges {
		transfers = append(transfers, &transfer{
			srcAbs: e.srcC.pth + "." + e.srcName,
			tgtAbs: e.tgtC.pth + "." + e.tgtName,
			src:    e.srcC.st.Outputs.Get(e.srcName),
			tgt:    e.tgtC.st.Inputs.Get(e.tgtName),
			dSrc:   e.srcC.st.DOutputs.Get(e.srcName),
			dTgt:   e.tgtC.st.DInputs.Get(e.tgtName),
		})
	}
	p.root.eachGroup(func(g *Group) {
		g.incoming = make([][]*transfer, len(g.children))
		for i, ch := range g.children {
			var sub *Group
			chPath := ch.path()
			if s, ok := ch.(*Group); ok {
				sub = s
			}
			for _, t := range transfers {
				tgtSys := parentPath(t.tgtAbs)
				inChild := tgtSys == chPath
				if !inChild && sub != nil {
					inChild = sub.contains(tgtSys)
				}
				if inChild {
					g.incoming[i] = append(g.incoming[i], t)
				}
			}
		}
		g.scoped = g.scoped[:0]
		for _, t := range transfers {
			if g.contains(parentPath(t.srcAbs)) && g.contains(parentPath(t.tgtAbs)) {
				g.scoped = append(g.scoped, t)
			}
		}
	})
	return nil
}

func (p *Problem) buildScopes() {
	p.root.eachGroup(func(g *Group) {
		g.comps = g.comps[:0]
		g.spans = g.spans[:0]
		g.slotOf = make(map[string]int)
		g.srcSlot = make(map[string]int)
		off := 0
		g.eachComp(func(c *comp) {
			g.comps = append(g.comps, c)
			g.spans = append(g.spans, spanRange{off, off + c.numStates})
			for _, name := range c.st.Outputs.Names() {
				g.slotOf[c.pth+"."+name] = off + c.outOff[name]
			}
			off += c.numStates
		})
		g.nStates = off
		g.lower = make([]float64, off)
		g.upper = make([]float64, off)
		for i, c := range g.comps {
			lo := g.spans[i].lo
			k := 0
			for mi := range c.metas {
				m := &c.metas[mi]
				if m.Role != vars.RoleOutput {
					continue
				}
				for e := 0; e < m.Size; e++ {
					g.lower[lo+k] = m.LowerAt(e)
					g.upper[lo+k] = m.UpperAt(e)
					k++
				}
			}
		}
		for _, t := range g.scoped {
			if slot, ok := g.slotOf[t.srcAbs]; ok {
				g.srcSlot[t.tgtAbs] = slot
			}
		}
	})
}

func (p *Problem) markCoverage(g *Group, covered bool) {
	if nt, ok := g.Nonlinear.(NewtonType); ok && nt.SolvesStates() {
		covered = true
	}
	for _, ch := range g.children {
		switch n := ch.(type) {
		case *Group:
			p.markCoverage(n, covered)
		case *comp:
			n.covered = covered
		}
	}
}

// RunModel evaluates and converges the whole hierarchy once from the
// current state. On a convergence error the variable store holds the last
// iterate intact.
func (p *Problem) RunModel() error {
	if !p.isSetup {
		return ErrNotSetup
	}
	err := p.root.solveNode()
	p.hasRun = true
	return err
}

func (p *Problem) lookup(name string) (*varRef, error) {
	if !p.isSetup {
		return nil, ErrNotSetup
	}
	ref, ok := p.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariable, name)
	}
	return ref, nil
}

// Meta returns a copy of the named variable's declaration metadata:
// default, bounds, scaling references and unit tag.
func (p *Problem) Meta(name string) (vars.Meta, error) {
	ref, err := p.lookup(name)
	if err != nil {
		return vars.Meta{}, err
	}
	m := *ref.meta
	m.Default = cloneSlice(m.Default)
	if m.Lower != nil {
		m.Lower = cloneSlice(m.Lower)
	}
	if m.Upper != nil {
		m.Upper = cloneSlice(m.Upper)
	}
	return m, nil
}

// Value returns element 0 of the named variable.
func (p *Problem) Value(name string) (float64, error) {
	v, err := p.ValueVec(name)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

// ValueVec returns a copy of the named variable's current value.
func (p *Problem) ValueVec(name string) ([]float64, error) {
	ref, err := p.lookup(name)
	if err != nil {
		return nil, err
	}
	var view []float64
	if ref.meta.Role == vars.RoleInput {
		view = ref.c.st.Inputs.Get(ref.name)
	} else {
		view = ref.c.st.Outputs.Get(ref.name)
	}
	out := make([]float64, len(view))
	copy(out, view)
	return out, nil
}

// SetValue writes the named variable. Outputs and unconnected inputs are
// writable; a connected input is driven by its source and returns
// ErrReadOnlyVariable with the store untouched.
func (p *Problem) SetValue(name string, vals ...float64) error {
	ref, err := p.lookup(name)
	if err != nil {
		return err
	}
	if ref.meta.Role == vars.RoleInput {
		if ref.connected {
			return fmt.Errorf("%w: %q is fed by %q", ErrReadOnlyVariable, name, ref.srcAbs)
		}
		ref.c.st.Inputs.Set(ref.name, vals...)
		return nil
	}
	ref.c.st.Outputs.Set(ref.name, vals...)
	return nil
}

// Residual returns a copy of the named output's current residual.
func (p *Problem) Residual(name string) ([]float64, error) {
	ref, err := p.lookup(name)
	if err != nil {
		return nil, err
	}
	if ref.meta.Role != vars.RoleOutput {
		return nil, fmt.Errorf("%w: %q is not an output", ErrUnknownVariable, name)
	}
	view := ref.c.st.Residuals.Get(ref.name)
	out := make([]float64, len(view))
	copy(out, view)
	return out, nil
}
