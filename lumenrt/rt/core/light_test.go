package core

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func assertOrthonormal(t *testing.T, l *DirectionalLight) {
	t.Helper()
	const eps = 1e-5
	d, u, r := l.Direction(), l.Up(), l.Right()
	for name, v := range map[string]mgl32.Vec3{"direction": d, "up": u, "right": r} {
		if math.Abs(float64(v.Len()-1)) > eps {
			t.Errorf("%s has length %f", name, v.Len())
		}
	}
	if math.Abs(float64(d.Dot(u))) > eps || math.Abs(float64(d.Dot(r))) > eps || math.Abs(float64(u.Dot(r))) > eps {
		t.Errorf("basis not orthogonal: d.u=%f d.r=%f u.r=%f", d.Dot(u), d.Dot(r), u.Dot(r))
	}
	// right-handed: right = dir x up
	if !d.Cross(u).ApproxEqualThreshold(r, eps) {
		t.Errorf("basis not right-handed: dir x up = %v, right = %v", d.Cross(u), r)
	}
}

func TestDirectionalLightDefaults(t *testing.T) {
	l := NewDirectionalLight()
	assertOrthonormal(t, l)
	if l.Direction() != (mgl32.Vec3{0, 0, -1}) {
		t.Errorf("direction = %v", l.Direction())
	}
	if l.Intensity != 5 {
		t.Errorf("intensity = %f", l.Intensity)
	}
}

func TestDirectionalLightRotationKeepsBasis(t *testing.T) {
	tests := []struct {
		name string
		m    mgl32.Mat4
	}{
		{"identity", mgl32.Ident4()},
		{"yaw 90", mgl32.HomogRotate3DY(mgl32.DegToRad(90))},
		{"pitch -70", mgl32.HomogRotate3DX(mgl32.DegToRad(-70))},
		{"skewed axis", mgl32.HomogRotate3D(1.234, mgl32.Vec3{1, 2, 3}.Normalize())},
		{"scaled rotation", mgl32.Scale3D(3, 3, 3).Mul4(mgl32.HomogRotate3DZ(0.5))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewDirectionalLight()
			for i := 0; i < 50; i++ {
				l.ApplyRotation(tt.m)
			}
			assertOrthonormal(t, l)

			l.ApplyTransform(tt.m)
			assertOrthonormal(t, l)
		})
	}
}

func TestDirectionalLightReferenceRotation(t *testing.T) {
	l := NewDirectionalLight()
	l.RotateAboutBasis(-70, -25)
	assertOrthonormal(t, l)
	if l.Direction().Y() >= 0 {
		t.Errorf("sun should point downwards, direction = %v", l.Direction())
	}
}

func TestApplyTransformIsAbsolute(t *testing.T) {
	m := mgl32.HomogRotate3DY(mgl32.DegToRad(30))
	a := NewDirectionalLight()
	a.ApplyTransform(m)
	a.ApplyTransform(m)

	b := NewDirectionalLight()
	b.ApplyRotation(m)
	if !a.Direction().ApproxEqualThreshold(b.Direction(), 1e-5) {
		t.Errorf("ApplyTransform accumulated: %v vs %v", a.Direction(), b.Direction())
	}
}

func TestLightMatrixLooksAlongDirection(t *testing.T) {
	l := NewDirectionalLight()
	l.RotateAboutBasis(-45, 10)
	pos := mgl32.Vec3{5, 20, -3}
	view := l.LightMatrix(pos)
	ahead := view.Mul4x1(pos.Add(l.Direction().Mul(10)).Vec4(1))
	if math.Abs(float64(ahead.Z()+10)) > 1e-4 || math.Abs(float64(ahead.X())) > 1e-4 {
		t.Errorf("point ahead of the light maps to %v", ahead)
	}
}
