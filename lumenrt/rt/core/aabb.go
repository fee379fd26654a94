package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

type AABB struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

// EmptyAABB is inverted so that the first Extend sets both bounds.
func EmptyAABB() AABB {
	inf := float32(math.Inf(1))
	return AABB{Min: mgl32.Vec3{inf, inf, inf}, Max: mgl32.Vec3{-inf, -inf, -inf}}
}

func AABBFromCenter(center mgl32.Vec3, halfExtent float32) AABB {
	h := mgl32.Vec3{halfExtent, halfExtent, halfExtent}
	return AABB{Min: center.Sub(h), Max: center.Add(h)}
}

func (a AABB) IsEmpty() bool {
	return a.Min.X() > a.Max.X() || a.Min.Y() > a.Max.Y() || a.Min.Z() > a.Max.Z()
}

func (a AABB) Extend(p mgl32.Vec3) AABB {
	return AABB{
		Min: mgl32.Vec3{min(a.Min.X(), p.X()), min(a.Min.Y(), p.Y()), min(a.Min.Z(), p.Z())},
		Max: mgl32.Vec3{max(a.Max.X(), p.X()), max(a.Max.Y(), p.Y()), max(a.Max.Z(), p.Z())},
	}
}

func (a AABB) Union(b AABB) AABB {
	if b.IsEmpty() {
		return a
	}
	return a.Extend(b.Min).Extend(b.Max)
}

func (a AABB) Center() mgl32.Vec3 {
	return a.Min.Add(a.Max).Mul(0.5)
}

func (a AABB) Size() mgl32.Vec3 {
	return a.Max.Sub(a.Min)
}

func (a AABB) Volume() float32 {
	s := a.Size()
	return s.X() * s.Y() * s.Z()
}

// Intersects treats touching faces as overlapping.
func (a AABB) Intersects(b AABB) bool {
	return a.Min.X() <= b.Max.X() && a.Max.X() >= b.Min.X() &&
		a.Min.Y() <= b.Max.Y() && a.Max.Y() >= b.Min.Y() &&
		a.Min.Z() <= b.Max.Z() && a.Max.Z() >= b.Min.Z()
}

func (a AABB) Contains(p mgl32.Vec3) bool {
	return p.X() >= a.Min.X() && p.X() <= a.Max.X() &&
		p.Y() >= a.Min.Y() && p.Y() <= a.Max.Y() &&
		p.Z() >= a.Min.Z() && p.Z() <= a.Max.Z()
}

// IntersectsSphere uses the closest point of the box to the sphere center.
func (a AABB) IntersectsSphere(center mgl32.Vec3, radius float32) bool {
	var d2 float32
	for i := 0; i < 3; i++ {
		v := center[i]
		if v < a.Min[i] {
			d := a.Min[i] - v
			d2 += d * d
		} else if v > a.Max[i] {
			d := v - a.Max[i]
			d2 += d * d
		}
	}
	return d2 <= radius*radius
}

func (a AABB) Corners() [8]mgl32.Vec3 {
	return [8]mgl32.Vec3{
		{a.Min.X(), a.Min.Y(), a.Min.Z()},
		{a.Max.X(), a.Min.Y(), a.Min.Z()},
		{a.Min.X(), a.Max.Y(), a.Min.Z()},
		{a.Max.X(), a.Max.Y(), a.Min.Z()},
		{a.Min.X(), a.Min.Y(), a.Max.Z()},
		{a.Max.X(), a.Min.Y(), a.Max.Z()},
		{a.Min.X(), a.Max.Y(), a.Max.Z()},
		{a.Max.X(), a.Max.Y(), a.Max.Z()},
	}
}

// Transform returns the conservative world box of the 8 transformed corners.
func (a AABB) Transform(m mgl32.Mat4) AABB {
	out := EmptyAABB()
	for _, c := range a.Corners() {
		out = out.Extend(m.Mul4x1(c.Vec4(1.0)).Vec3())
	}
	return out
}

// InFrustum checks the box against 6 planes in Ax+By+Cz+D=0 form with normals pointing inside.
func (a AABB) InFrustum(planes [6]mgl32.Vec4) bool {
	for _, plane := range planes {
		// Most-inside corner; if it is behind the plane the whole box is.
		var p mgl32.Vec3
		for i := 0; i < 3; i++ {
			if plane[i] > 0 {
				p[i] = a.Max[i]
			} else {
				p[i] = a.Min[i]
			}
		}
		if plane[0]*p[0]+plane[1]*p[1]+plane[2]*p[2]+plane[3] < 0 {
			return false
		}
	}
	return true
}
