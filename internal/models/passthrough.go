package models

import (
	"mdflow/internal/system"
	"mdflow/internal/vars"
)

// Passthrough is an implicit component whose guess copies its input to its
// output. The residual is a constant just above zero, so a one-iteration
// Newton budget leaves the guessed value essentially untouched; chains of
// these exercise guess-then-transfer ordering through nested groups.
type Passthrough struct {
	// Resid is the constant residual reported for the state; defaults to
	// 1e-6 when zero-valued structs are used via NewPassthrough.
	Resid float64
}

// NewPassthrough returns a passthrough with the conventional tiny residual.
func NewPassthrough() *Passthrough { return &Passthrough{Resid: 1e-6} }

func (p *Passthrough) Setup(d *system.Declarator) {
	d.Input("x", 3)
	d.Output("y", 4)
}

func (p *Passthrough) ApplyNonlinear(in, out, res *vars.Vector) {
	res.SetScalar("y", p.Resid)
}

func (p *Passthrough) Guess(in, out, res *vars.Vector) {
	out.SetScalar("y", in.Scalar("x"))
}
