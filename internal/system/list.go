package system

import "mdflow/internal/vars"

// VarInfo is one row of the reporting surface: current value, residual for
// implicit outputs, and the owning system path. Queries never trigger a
// re-evaluation.
type VarInfo struct {
	Name       string
	SystemPath string
	Role       vars.Role
	Value      []float64
	Residual   []float64
	Units      string
	Implicit   bool
}

// OutputFilter selects which outputs a listing returns.
type OutputFilter int

const (
	AllOutputs OutputFilter = iota
	ExplicitOnly
	ImplicitOnly
)

// ListInputs returns every input in the hierarchy, sorted by absolute
// name. Refuses before the first RunModel call.
func (p *Problem) ListInputs() ([]VarInfo, error) {
	if err := p.listGuard(); err != nil {
		return nil, err
	}
	var out []VarInfo
	for _, abs := range p.names {
		ref := p.index[abs]
		if ref.meta.Role != vars.RoleInput {
			continue
		}
		out = append(out, VarInfo{
			Name:       abs,
			SystemPath: ref.c.pth,
			Role:       vars.RoleInput,
			Value:      cloneSlice(ref.c.st.Inputs.Get(ref.name)),
			Units:      ref.meta.Units,
		})
	}
	return out, nil
}

// ListOutputs returns outputs matching the filter, sorted by absolute
// name, with residuals attached for implicit components. Refuses before
// the first RunModel call.
func (p *Problem) ListOutputs(filter OutputFilter) ([]VarInfo, error) {
	if err := p.listGuard(); err != nil {
		return nil, err
	}
	var out []VarInfo
	for _, abs := range p.names {
		ref := p.index[abs]
		if ref.meta.Role != vars.RoleOutput {
			continue
		}
		implicit := ref.c.kind == implicitKind
		if filter == ExplicitOnly && implicit {
			continue
		}
		if filter == ImplicitOnly && !implicit {
			continue
		}
		info := VarInfo{
			Name:       abs,
			SystemPath: ref.c.pth,
			Role:       vars.RoleOutput,
			Value:      cloneSlice(ref.c.st.Outputs.Get(ref.name)),
			Units:      ref.meta.Units,
			Implicit:   implicit,
		}
		if implicit {
			info.Residual = cloneSlice(ref.c.st.Residuals.Get(ref.name))
		}
		out = append(out, info)
	}
	return out, nil
}

func (p *Problem) listGuard() error {
	if !p.isSetup {
		return ErrNotSetup
	}
	if !p.hasRun {
		return ErrNotYetRun
	}
	return nil
}

func cloneSlice(s []float64) []float64 {
	out := make([]float64, len(s))
	copy(out, s)
	return out
}
