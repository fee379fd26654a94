package core

import (
	"github.com/go-gl/mathgl/mgl32"
)

// The renderer uses right-handed view space (camera looks down -Z) and a [0,1] clip depth range.

// LookToRH builds a view matrix from an eye position and a view direction.
func LookToRH(eye, dir, up mgl32.Vec3) mgl32.Mat4 {
	return mgl32.LookAtV(eye, eye.Add(dir), up)
}

// OrthoRH maps view-space z in [-zn, -zf] to depth [0, 1].
func OrthoRH(width, height, zn, zf float32) mgl32.Mat4 {
	r := 1.0 / (zn - zf)
	return mgl32.Mat4{
		2 / width, 0, 0, 0,
		0, 2 / height, 0, 0,
		0, 0, r, 0,
		0, 0, zn * r, 1,
	}
}

// PerspectiveRH takes a vertical field of view in radians.
func PerspectiveRH(fovY, aspect, zn, zf float32) mgl32.Mat4 {
	yScale := 1 / tan32(fovY*0.5)
	xScale := yScale / aspect
	r := zf / (zn - zf)
	return mgl32.Mat4{
		xScale, 0, 0, 0,
		0, yScale, 0, 0,
		0, 0, r, -1,
		0, 0, zn * r, 0,
	}
}

// Frustum holds the 8 world-space corners: near BL, BR, TR, TL then far BL, BR, TR, TL.
type Frustum [8]mgl32.Vec3

var ndcCorners = [8]mgl32.Vec4{
	{-1, -1, 0, 1}, {1, -1, 0, 1}, {1, 1, 0, 1}, {-1, 1, 0, 1},
	{-1, -1, 1, 1}, {1, -1, 1, 1}, {1, 1, 1, 1}, {-1, 1, 1, 1},
}

func FrustumFromViewProjection(viewProj mgl32.Mat4) Frustum {
	inv := viewProj.Inv()
	var f Frustum
	for i, c := range ndcCorners {
		p := inv.Mul4x1(c)
		f[i] = p.Vec3().Mul(1 / p.W())
	}
	return f
}

func (f Frustum) Centroid() mgl32.Vec3 {
	var c mgl32.Vec3
	for _, p := range f {
		c = c.Add(p)
	}
	return c.Mul(1.0 / 8.0)
}

func (f Frustum) Bounds() AABB {
	b := EmptyAABB()
	for _, p := range f {
		b = b.Extend(p)
	}
	return b
}

// ExtractPlanes returns Left, Right, Bottom, Top, Near, Far planes, normalized, normals inside.
func ExtractPlanes(vp mgl32.Mat4) [6]mgl32.Vec4 {
	row := func(r int) mgl32.Vec4 {
		return mgl32.Vec4{vp.At(r, 0), vp.At(r, 1), vp.At(r, 2), vp.At(r, 3)}
	}
	r0, r1, r2, r3 := row(0), row(1), row(2), row(3)
	planes := [6]mgl32.Vec4{
		r3.Add(r0),
		r3.Sub(r0),
		r3.Add(r1),
		r3.Sub(r1),
		r2, // depth range is [0,1]
		r3.Sub(r2),
	}
	for i := range planes {
		length := planes[i].Vec3().Len()
		if length > 0 {
			planes[i] = planes[i].Mul(1.0 / length)
		}
	}
	return planes
}
