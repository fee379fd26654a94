package core

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

var WorldUp = mgl32.Vec3{0, 1, 0}

// Camera is Y-up; yaw 0 and pitch 0 look down -Z.
type Camera struct {
	Position    mgl32.Vec3
	Yaw         float32
	Pitch       float32
	FOV         float32 // vertical, radians
	Aspect      float32
	Near        float32
	Far         float32
	Speed       float32
	Sensitivity float32

	// CascadeDistances are the far distances of the shadow cascades; cascade i spans
	// [CascadeDistances[i-1], CascadeDistances[i]] with cascade 0 starting at Near.
	CascadeDistances []float32
}

func NewCamera() *Camera {
	return &Camera{
		FOV:              mgl32.DegToRad(45),
		Aspect:           16.0 / 9.0,
		Near:             0.5,
		Far:              2000,
		Speed:            10.0,
		Sensitivity:      0.003,
		CascadeDistances: []float32{125, 800, 2000},
	}
}

func (c *Camera) Direction() mgl32.Vec3 {
	cp := math.Cos(float64(c.Pitch))
	return mgl32.Vec3{
		float32(cp * math.Sin(float64(c.Yaw))),
		float32(math.Sin(float64(c.Pitch))),
		float32(-cp * math.Cos(float64(c.Yaw))),
	}
}

func (c *Camera) Right() mgl32.Vec3 {
	return c.Direction().Cross(WorldUp).Normalize()
}

func (c *Camera) Up() mgl32.Vec3 {
	return c.Right().Cross(c.Direction())
}

func (c *Camera) ViewMatrix() mgl32.Mat4 {
	return LookToRH(c.Position, c.Direction(), WorldUp)
}

func (c *Camera) ProjectionMatrix() mgl32.Mat4 {
	return PerspectiveRH(c.FOV, c.Aspect, c.Near, c.Far)
}

func (c *Camera) ViewProjection() mgl32.Mat4 {
	return c.ProjectionMatrix().Mul4(c.ViewMatrix())
}

func (c *Camera) CascadeCount() int {
	return len(c.CascadeDistances)
}

func (c *Camera) checkCascade(i int) {
	if i < 0 || i >= len(c.CascadeDistances) {
		panic(fmt.Sprintf("core: cascade index %d out of range [0,%d)", i, len(c.CascadeDistances)))
	}
}

func (c *Camera) CascadeNear(i int) float32 {
	c.checkCascade(i)
	if i == 0 {
		return c.Near
	}
	return c.CascadeDistances[i-1]
}

func (c *Camera) CascadeFar(i int) float32 {
	c.checkCascade(i)
	return c.CascadeDistances[i]
}

// CascadeViewProjection is the camera frustum clipped to cascade i's depth range.
func (c *Camera) CascadeViewProjection(i int) mgl32.Mat4 {
	proj := PerspectiveRH(c.FOV, c.Aspect, c.CascadeNear(i), c.CascadeFar(i))
	return proj.Mul4(c.ViewMatrix())
}

func (c *Camera) CascadeFrustum(i int) Frustum {
	return FrustumFromViewProjection(c.CascadeViewProjection(i))
}

func (c *Camera) Planes() [6]mgl32.Vec4 {
	return ExtractPlanes(c.ViewProjection())
}

// Rotate applies a mouse delta and clamps pitch short of the poles.
func (c *Camera) Rotate(dx, dy float32) {
	c.Yaw += dx * c.Sensitivity
	c.Pitch -= dy * c.Sensitivity
	limit := float32(math.Pi/2 - 0.01)
	c.Pitch = mgl32.Clamp(c.Pitch, -limit, limit)
}

func (c *Camera) Move(forward, right, up, dt float32) {
	step := c.Speed * dt
	c.Position = c.Position.
		Add(c.Direction().Mul(forward * step)).
		Add(c.Right().Mul(right * step)).
		Add(WorldUp.Mul(up * step))
}

func tan32(x float32) float32 {
	return float32(math.Tan(float64(x)))
}
