package vars

import (
	"math"
	"testing"
)

func scalarMetas() []Meta {
	return []Meta{
		NewScalar("a", RoleInput, 2.0),
		NewMeta("v", RoleInput, []float64{1, 2, 3}),
	}
}

func TestVectorDefaults(t *testing.T) {
	vec := NewVector(scalarMetas())

	if vec.Len() != 4 {
		t.Errorf("expected length 4, got %d", vec.Len())
	}
	if vec.Scalar("a") != 2.0 {
		t.Errorf("expected a=2, got %f", vec.Scalar("a"))
	}
	v := vec.Get("v")
	if len(v) != 3 || v[2] != 3 {
		t.Errorf("expected v=[1 2 3], got %v", v)
	}
}

func TestVectorViewsAliasArena(t *testing.T) {
	vec := NewVector(scalarMetas())

	view := vec.Get("v")
	view[0] = 10

	data := vec.Data()
	if data[1] != 10 {
		t.Errorf("expected arena to see view write, got %f", data[1])
	}

	vec.SetScalar("a", -1)
	if data[0] != -1 {
		t.Errorf("expected arena to see SetScalar, got %f", data[0])
	}
}

func TestVectorNorm(t *testing.T) {
	vec := NewVector([]Meta{NewMeta("x", RoleOutput, []float64{3, 4})})

	if math.Abs(vec.Norm()-5.0) > 1e-12 {
		t.Errorf("expected norm 5, got %f", vec.Norm())
	}

	vec.Zero()
	if vec.Norm() != 0 {
		t.Errorf("expected zero norm after Zero, got %f", vec.Norm())
	}
}

func TestVectorCloneIsDetached(t *testing.T) {
	vec := NewVector(scalarMetas())
	clone := vec.Clone()

	clone.SetScalar("a", 99)
	if vec.Scalar("a") == 99 {
		t.Error("clone write leaked into original")
	}

	vec.SetScalar("a", 7)
	clone.CopyFrom(vec)
	if clone.Scalar("a") != 7 {
		t.Errorf("expected CopyFrom to carry 7, got %f", clone.Scalar("a"))
	}
}

func TestStoreSplitsRoles(t *testing.T) {
	metas := []Meta{
		NewScalar("in", RoleInput, 1),
		NewScalar("out", RoleOutput, 4),
	}
	st := NewStore(metas)

	if !st.Inputs.Has("in") || st.Inputs.Has("out") {
		t.Error("inputs vector holds the wrong variables")
	}
	if !st.Outputs.Has("out") || st.Outputs.Has("in") {
		t.Error("outputs vector holds the wrong variables")
	}
	if !st.Residuals.Has("out") {
		t.Error("residuals should mirror outputs")
	}
	if st.Residuals.Scalar("out") != 0 {
		t.Errorf("residuals start at zero, got %f", st.Residuals.Scalar("out"))
	}
	if st.DInputs.Scalar("in") != 0 || st.DOutputs.Scalar("out") != 0 {
		t.Error("seed vectors start at zero")
	}
}

func TestMetaBounds(t *testing.T) {
	m := NewScalar("x", RoleOutput, 0, WithBounds(-1, 2))
	if m.LowerAt(0) != -1 || m.UpperAt(0) != 2 {
		t.Errorf("expected bounds [-1, 2], got [%f, %f]", m.LowerAt(0), m.UpperAt(0))
	}

	free := NewScalar("y", RoleOutput, 0)
	if !math.IsInf(free.LowerAt(0), -1) || !math.IsInf(free.UpperAt(0), 1) {
		t.Error("unbounded variable should report infinite bounds")
	}
}
