package models

import (
	"math"

	"mdflow/internal/system"
	"mdflow/internal/vars"
)

// SellarDis1 is the first discipline of the classic two-discipline Sellar
// problem: y1 = z1^2 + z2 + x - 0.2*y2. Coupled to SellarDis2 through y2,
// forming a connection cycle resolved by iteration.
type SellarDis1 struct{}

func (s *SellarDis1) Setup(d *system.Declarator) {
	d.Input("z1", 5)
	d.Input("z2", 2)
	d.Input("x", 1)
	d.Input("y2", 1)
	d.Output("y1", 1)
}

func (s *SellarDis1) Compute(in, out *vars.Vector) {
	z1, z2 := in.Scalar("z1"), in.Scalar("z2")
	x, y2 := in.Scalar("x"), in.Scalar("y2")
	out.SetScalar("y1", z1*z1+z2+x-0.2*y2)
}

func (s *SellarDis1) ComputePartials(in *vars.Vector, jac *system.Partials) {
	jac.Set("y1", "z1", 2*in.Scalar("z1"))
	jac.Set("y1", "z2", 1)
	jac.Set("y1", "x", 1)
	jac.Set("y1", "y2", -0.2)
}

// SellarDis2 is the second discipline: y2 = sqrt(y1) + z1 + z2. Negative
// y1 excursions during iteration are mirrored to keep the root real.
type SellarDis2 struct{}

func (s *SellarDis2) Setup(d *system.Declarator) {
	d.Input("z1", 5)
	d.Input("z2", 2)
	d.Input("y1", 1)
	d.Output("y2", 1)
}

func (s *SellarDis2) Compute(in, out *vars.Vector) {
	y1 := math.Abs(in.Scalar("y1"))
	out.SetScalar("y2", math.Sqrt(y1)+in.Scalar("z1")+in.Scalar("z2"))
}

func (s *SellarDis2) ComputePartials(in *vars.Vector, jac *system.Partials) {
	y1 := math.Abs(in.Scalar("y1"))
	jac.Set("y2", "y1", 0.5/math.Sqrt(y1))
	jac.Set("y2", "z1", 1)
	jac.Set("y2", "z2", 1)
}
