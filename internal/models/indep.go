// Package models provides ready-made components and wired example models:
// independent-variable sources, the implicit quadratic in its analytic and
// matrix-free forms, a passthrough chain for guess propagation, and the
// coupled two-discipline Sellar pair. The registry maps model names to
// builders for the CLI and tests.
package models

import (
	"mdflow/internal/system"
	"mdflow/internal/vars"
)

type indepVar struct {
	name string
	val  []float64
	opts []vars.Option
}

// Indep is a source component holding independent outputs only. Its
// outputs are the writable entry points of a model and the usual "wrt"
// variables of a total-derivative request.
type Indep struct {
	outs []indepVar
}

// NewIndep returns an empty independent-variable component.
func NewIndep() *Indep { return &Indep{} }

// Add declares a scalar independent output.
func (c *Indep) Add(name string, val float64, opts ...vars.Option) *Indep {
	c.outs = append(c.outs, indepVar{name: name, val: []float64{val}, opts: opts})
	return c
}

// AddVec declares an array independent output.
func (c *Indep) AddVec(name string, val []float64, opts ...vars.Option) *Indep {
	c.outs = append(c.outs, indepVar{name: name, val: val, opts: opts})
	return c
}

func (c *Indep) Setup(d *system.Declarator) {
	for _, o := range c.outs {
		d.OutputVec(o.name, o.val, o.opts...)
	}
}

// Compute leaves the outputs at their current values; an independent
// variable has no governing equation beyond identity.
func (c *Indep) Compute(in, out *vars.Vector) {}
