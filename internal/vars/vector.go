// Package vars implements the variable store: per-system vectors backed by
// a single flat arena, with named views sliced out at setup. A system owns
// one Store; connections copy values between stores, never share memory.
package vars

import "math"

// Vector is an ordered set of named variables over one flat arena. Views
// returned by Get alias the arena, so element writes through a view are
// visible to whole-vector operations like Norm and Data.
type Vector struct {
	names []string
	data  []float64
	views map[string][]float64
}

// NewVector allocates a vector holding every meta in declaration order,
// initialized to the declared defaults.
func NewVector(metas []Meta) *Vector {
	total := 0
	for i := range metas {
		total += metas[i].Size
	}
	v := &Vector{
		names: make([]string, 0, len(metas)),
		data:  make([]float64, total),
		views: make(map[string][]float64, len(metas)),
	}
	off := 0
	for i := range metas {
		m := &metas[i]
		view := v.data[off : off+m.Size : off+m.Size]
		copy(view, m.Default)
		v.names = append(v.names, m.Name)
		v.views[m.Name] = view
		off += m.Size
	}
	return v
}

// Names returns the variable names in declaration order.
func (v *Vector) Names() []string { return v.names }

// Has reports whether the named variable exists.
func (v *Vector) Has(name string) bool {
	_, ok := v.views[name]
	return ok
}

// Get returns the named view. The slice aliases the arena.
func (v *Vector) Get(name string) []float64 { return v.views[name] }

// Scalar returns element 0 of the named variable.
func (v *Vector) Scalar(name string) float64 { return v.views[name][0] }

// SetScalar assigns element 0 of the named variable.
func (v *Vector) SetScalar(name string, val float64) { v.views[name][0] = val }

// Set copies vals into the named view.
func (v *Vector) Set(name string, vals ...float64) { copy(v.views[name], vals) }

// Len returns the total number of elements across all variables.
func (v *Vector) Len() int { return len(v.data) }

// Data returns the flat arena.
func (v *Vector) Data() []float64 { return v.data }

// Zero clears every element.
func (v *Vector) Zero() {
	for i := range v.data {
		v.data[i] = 0
	}
}

// Norm returns the 2-norm over the whole arena.
func (v *Vector) Norm() float64 {
	sum := 0.0
	for _, x := range v.data {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// IsValid reports false if any element is NaN or Inf.
func (v *Vector) IsValid() bool {
	for _, x := range v.data {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// CopyFrom copies the arena of o, which must have identical layout.
func (v *Vector) CopyFrom(o *Vector) { copy(v.data, o.data) }

// Clone returns a vector with the same layout and a copied arena.
func (v *Vector) Clone() *Vector {
	c := &Vector{
		names: v.names,
		data:  make([]float64, len(v.data)),
		views: make(map[string][]float64, len(v.views)),
	}
	copy(c.data, v.data)
	off := 0
	for _, n := range v.names {
		size := len(v.views[n])
		c.views[n] = c.data[off : off+size : off+size]
		off += size
	}
	return c
}

// Store bundles the value and derivative-seed vectors owned by one system.
// DInputs/DOutputs/DResiduals mirror the layout of their value counterparts
// and carry forward or reverse seeds depending on the active mode.
type Store struct {
	Inputs     *Vector
	Outputs    *Vector
	Residuals  *Vector
	DInputs    *Vector
	DOutputs   *Vector
	DResiduals *Vector
}

// NewStore allocates value and seed vectors for the declared metas.
// Residual vectors mirror the outputs, zero-initialized.
func NewStore(metas []Meta) *Store {
	var ins, outs []Meta
	for _, m := range metas {
		if m.Role == RoleInput {
			ins = append(ins, m)
		} else {
			outs = append(outs, m)
		}
	}
	zeroed := make([]Meta, len(outs))
	for i, m := range outs {
		z := m
		z.Default = make([]float64, m.Size)
		zeroed[i] = z
	}
	seedIns := make([]Meta, len(ins))
	for i, m := range ins {
		z := m
		z.Default = make([]float64, m.Size)
		seedIns[i] = z
	}
	return &Store{
		Inputs:     NewVector(ins),
		Outputs:    NewVector(outs),
		Residuals:  NewVector(zeroed),
		DInputs:    NewVector(seedIns),
		DOutputs:   NewVector(zeroed),
		DResiduals: NewVector(zeroed),
	}
}
