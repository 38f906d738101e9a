package vars

import "math"

// Role classifies a declared variable within its owning system.
type Role int

const (
	// RoleInput marks a variable fed by a connection (or a local constant
	// when unconnected).
	RoleInput Role = iota

	// RoleOutput marks a variable owned by the system. For implicit
	// components outputs are states with a matching residual entry.
	RoleOutput
)

func (r Role) String() string {
	if r == RoleInput {
		return "input"
	}
	return "output"
}

// Meta describes a declared variable: its name, role, size, default value
// and optional bounds, scaling references and unit tag. Metadata is frozen
// once setup has finalized the owning system.
type Meta struct {
	Name    string
	Role    Role
	Size    int
	Default []float64
	Lower   []float64
	Upper   []float64
	Ref     float64
	Ref0    float64
	Units   string
}

// Option mutates a Meta during declaration.
type Option func(*Meta)

// WithBounds sets scalar lower/upper bounds broadcast over every element.
func WithBounds(lower, upper float64) Option {
	return func(m *Meta) {
		m.Lower = fill(m.Size, lower)
		m.Upper = fill(m.Size, upper)
	}
}

// WithLower sets only the lower bound.
func WithLower(lower float64) Option {
	return func(m *Meta) { m.Lower = fill(m.Size, lower) }
}

// WithUpper sets only the upper bound.
func WithUpper(upper float64) Option {
	return func(m *Meta) { m.Upper = fill(m.Size, upper) }
}

// WithScaling sets the ref/ref0 scaling references.
func WithScaling(ref, ref0 float64) Option {
	return func(m *Meta) {
		m.Ref = ref
		m.Ref0 = ref0
	}
}

// WithUnits tags the variable with a physical unit. The tag is carried as
// metadata only; no conversion is performed.
func WithUnits(units string) Option {
	return func(m *Meta) { m.Units = units }
}

// NewMeta builds variable metadata from a default value and options.
func NewMeta(name string, role Role, def []float64, opts ...Option) Meta {
	d := make([]float64, len(def))
	copy(d, def)
	m := Meta{
		Name:    name,
		Role:    role,
		Size:    len(def),
		Default: d,
		Ref:     1.0,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// NewScalar builds metadata for a scalar variable.
func NewScalar(name string, role Role, def float64, opts ...Option) Meta {
	return NewMeta(name, role, []float64{def}, opts...)
}

// LowerAt returns the lower bound for element i, -Inf when unbounded.
func (m *Meta) LowerAt(i int) float64 {
	if m.Lower == nil {
		return math.Inf(-1)
	}
	return m.Lower[i]
}

// UpperAt returns the upper bound for element i, +Inf when unbounded.
func (m *Meta) UpperAt(i int) float64 {
	if m.Upper == nil {
		return math.Inf(1)
	}
	return m.Upper[i]
}

func fill(n int, v float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = v
	}
	return s
}
