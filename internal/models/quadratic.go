package models

import (
	"math"

	"mdflow/internal/system"
	"mdflow/internal/vars"
)

// Quadratic is an implicit component for the root of a*x^2 + b*x + c with
// analytic partials and a component-local linear solve. The direct state
// solve uses the quadratic formula's positive branch.
type Quadratic struct {
	invJac float64
}

func (q *Quadratic) Setup(d *system.Declarator) {
	d.Input("a", 1)
	d.Input("b", 1)
	d.Input("c", 1)
	d.Output("x", 0)
}

func (q *Quadratic) ApplyNonlinear(in, out, res *vars.Vector) {
	a, b, c := in.Scalar("a"), in.Scalar("b"), in.Scalar("c")
	x := out.Scalar("x")
	res.SetScalar("x", a*x*x+b*x+c)
}

func (q *Quadratic) SolveStates(in, out *vars.Vector) error {
	a, b, c := in.Scalar("a"), in.Scalar("b"), in.Scalar("c")
	out.SetScalar("x", (-b+math.Sqrt(b*b-4*a*c))/(2*a))
	return nil
}

func (q *Quadratic) Linearize(in, out *vars.Vector, jac *system.Partials) {
	a, b := in.Scalar("a"), in.Scalar("b")
	x := out.Scalar("x")
	jac.Set("x", "a", x*x)
	jac.Set("x", "b", x)
	jac.Set("x", "c", 1)
	jac.Set("x", "x", 2*a*x+b)
	q.invJac = 1 / (2*a*x + b)
}

func (q *Quadratic) SolveLinear(dOut, dRes *vars.Vector, mode system.Mode) {
	if mode == system.Forward {
		dOut.SetScalar("x", q.invJac*dRes.Scalar("x"))
	} else {
		dRes.SetScalar("x", q.invJac*dOut.Scalar("x"))
	}
}

// QuadraticMatrixFree solves the same residual through Jacobian-vector
// products instead of declared partials; Linearize only caches the state
// Jacobian inverse for the local linear solve.
type QuadraticMatrixFree struct {
	invJac float64
}

func (q *QuadraticMatrixFree) Setup(d *system.Declarator) {
	d.Input("a", 1)
	d.Input("b", 1)
	d.Input("c", 1)
	d.Output("x", 0)
}

func (q *QuadraticMatrixFree) ApplyNonlinear(in, out, res *vars.Vector) {
	a, b, c := in.Scalar("a"), in.Scalar("b"), in.Scalar("c")
	x := out.Scalar("x")
	res.SetScalar("x", a*x*x+b*x+c)
}

func (q *QuadraticMatrixFree) SolveStates(in, out *vars.Vector) error {
	a, b, c := in.Scalar("a"), in.Scalar("b"), in.Scalar("c")
	out.SetScalar("x", (-b+math.Sqrt(b*b-4*a*c))/(2*a))
	return nil
}

func (q *QuadraticMatrixFree) Linearize(in, out *vars.Vector, jac *system.Partials) {
	a, b := in.Scalar("a"), in.Scalar("b")
	q.invJac = 1 / (2*a*out.Scalar("x") + b)
}

func (q *QuadraticMatrixFree) ApplyLinear(in, out, dIn, dOut, dRes *vars.Vector, mode system.Mode) {
	a, b := in.Scalar("a"), in.Scalar("b")
	x := out.Scalar("x")
	if mode == system.Forward {
		dr := (2*a*x+b)*dOut.Scalar("x") +
			x*x*dIn.Scalar("a") + x*dIn.Scalar("b") + dIn.Scalar("c")
		dRes.SetScalar("x", dRes.Scalar("x")+dr)
		return
	}
	seed := dRes.Scalar("x")
	dOut.SetScalar("x", dOut.Scalar("x")+(2*a*x+b)*seed)
	dIn.SetScalar("a", dIn.Scalar("a")+x*x*seed)
	dIn.SetScalar("b", dIn.Scalar("b")+x*seed)
	dIn.SetScalar("c", dIn.Scalar("c")+seed)
}

func (q *QuadraticMatrixFree) SolveLinear(dOut, dRes *vars.Vector, mode system.Mode) {
	if mode == system.Forward {
		dOut.SetScalar("x", q.invJac*dRes.Scalar("x"))
	} else {
		dRes.SetScalar("x", q.invJac*dOut.Scalar("x"))
	}
}

// QuadraticWithGuess omits the direct state solve and instead starts the
// outer Newton iteration from GuessX. Starting at 5 lands the x=3 root of
// x^2-4x+3 where the default start converges to x=1.
type QuadraticWithGuess struct {
	Quad   Quadratic
	GuessX float64
}

func (q *QuadraticWithGuess) Setup(d *system.Declarator) { q.Quad.Setup(d) }

func (q *QuadraticWithGuess) ApplyNonlinear(in, out, res *vars.Vector) {
	q.Quad.ApplyNonlinear(in, out, res)
}

func (q *QuadraticWithGuess) Linearize(in, out *vars.Vector, jac *system.Partials) {
	q.Quad.Linearize(in, out, jac)
}

func (q *QuadraticWithGuess) SolveLinear(dOut, dRes *vars.Vector, mode system.Mode) {
	q.Quad.SolveLinear(dOut, dRes, mode)
}

func (q *QuadraticWithGuess) Guess(in, out, res *vars.Vector) {
	out.SetScalar("x", q.GuessX)
}
