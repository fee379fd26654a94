package core

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestFrustumCulling(t *testing.T) {
	// Camera at the origin looking down -Z, 90 degree fov, near 1, far 100.
	proj := PerspectiveRH(mgl32.DegToRad(90), 1.0, 1.0, 100.0)
	view := LookToRH(mgl32.Vec3{}, Forward, WorldUp)
	planes := ExtractPlanes(proj.Mul4(view))

	tests := []struct {
		name     string
		box      AABB
		expected bool
	}{
		{"inside", AABB{mgl32.Vec3{-1, -1, -10}, mgl32.Vec3{1, 1, -5}}, true},
		{"outside left", AABB{mgl32.Vec3{-20, -1, -10}, mgl32.Vec3{-15, 1, -5}}, false},
		{"outside right", AABB{mgl32.Vec3{15, -1, -10}, mgl32.Vec3{20, 1, -5}}, false},
		{"behind", AABB{mgl32.Vec3{-1, -1, 2}, mgl32.Vec3{1, 1, 5}}, false},
		{"beyond far", AABB{mgl32.Vec3{-1, -1, -200}, mgl32.Vec3{1, 1, -150}}, false},
		{"straddles left plane", AABB{mgl32.Vec3{-12, -1, -10}, mgl32.Vec3{-8, 1, -5}}, true},
		{"straddles near plane", AABB{mgl32.Vec3{-1, -1, -2}, mgl32.Vec3{1, 1, 2}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.box.InFrustum(planes); got != tt.expected {
				t.Errorf("InFrustum = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestFrustumCorners(t *testing.T) {
	cam := NewCamera()
	cam.Aspect = 1
	cam.FOV = mgl32.DegToRad(90)
	f := cam.CascadeFrustum(0)

	// Near corners lie at z = -near, far corners at z = -far, half widths equal depth for 90 degrees.
	for i := 0; i < 4; i++ {
		if math.Abs(float64(f[i].Z()+cam.Near)) > 1e-3 {
			t.Errorf("near corner %d z = %f", i, f[i].Z())
		}
		if math.Abs(float64(f[4+i].Z()+cam.CascadeFar(0))) > 1e-1 {
			t.Errorf("far corner %d z = %f", i, f[4+i].Z())
		}
	}
	if math.Abs(float64(f[6].X()-cam.CascadeFar(0))) > 1e-1 {
		t.Errorf("far top right x = %f, want %f", f[6].X(), cam.CascadeFar(0))
	}
	if f[0].X() > 0 || f[0].Y() > 0 || f[2].X() < 0 || f[2].Y() < 0 {
		t.Errorf("unexpected corner order: %v", f)
	}
}

func TestCascadeRanges(t *testing.T) {
	cam := NewCamera()
	if cam.CascadeCount() != 3 {
		t.Fatalf("cascade count = %d", cam.CascadeCount())
	}
	want := [][2]float32{{0.5, 125}, {125, 800}, {800, 2000}}
	for i, w := range want {
		if cam.CascadeNear(i) != w[0] || cam.CascadeFar(i) != w[1] {
			t.Errorf("cascade %d = [%f, %f], want %v", i, cam.CascadeNear(i), cam.CascadeFar(i), w)
		}
	}
	defer func() {
		if recover() == nil {
			t.Error("expected panic for out of range cascade")
		}
	}()
	cam.CascadeFar(3)
}

func TestOrthoRHDepthRange(t *testing.T) {
	m := OrthoRH(10, 10, -10, 90)
	near := m.Mul4x1(mgl32.Vec4{0, 0, 10, 1})
	far := m.Mul4x1(mgl32.Vec4{0, 0, -90, 1})
	if math.Abs(float64(near.Z())) > 1e-5 || math.Abs(float64(far.Z()-1)) > 1e-5 {
		t.Errorf("depth range = [%f, %f]", near.Z(), far.Z())
	}
}

func TestAABBTransformAndSphere(t *testing.T) {
	b := AABB{mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1}}
	moved := b.Transform(mgl32.Translate3D(10, 0, 0))
	if moved.Center() != (mgl32.Vec3{10, 0, 0}) {
		t.Errorf("center = %v", moved.Center())
	}
	if !b.IntersectsSphere(mgl32.Vec3{2, 0, 0}, 1) {
		t.Error("touching sphere should intersect")
	}
	if b.IntersectsSphere(mgl32.Vec3{2, 2, 2}, 1) {
		t.Error("distant sphere should not intersect")
	}
	if !EmptyAABB().IsEmpty() || EmptyAABB().Union(b) != b {
		t.Error("empty box must be the identity of Union")
	}
}
