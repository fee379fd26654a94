package shadow

import (
	"fmt"
	"math"

	"github.com/gekko3d/lumen/lumenrt/rt/core"

	"github.com/go-gl/mathgl/mgl32"
)

// Delta pulls the near plane behind the fitted volume so casters just outside the
// camera frustum still land in the map.
const Delta = 10.0

type FitMode string

const (
	FitAABB   FitMode = "aabb"
	FitSphere FitMode = "sphere"
)

func (m FitMode) Valid() bool {
	return m == FitAABB || m == FitSphere
}

// Cascade is one fitted light projector. Near and Far describe the fitted depth range
// (Far-Near is the light-space depth span); Projection additionally keeps Delta of margin.
type Cascade struct {
	Near       float32
	Far        float32
	Width      float32
	Height     float32
	Position   mgl32.Vec3
	View       mgl32.Mat4
	Projection mgl32.Mat4
}

func (c Cascade) ViewProjection() mgl32.Mat4 {
	return c.Projection.Mul4(c.View)
}

// LightSpaceBounds transforms the frustum corners into the light view centered on their centroid.
func LightSpaceBounds(corners core.Frustum, light *core.DirectionalLight) core.AABB {
	view := light.LightMatrix(corners.Centroid())
	b := core.EmptyAABB()
	for _, c := range corners {
		b = b.Extend(view.Mul4x1(c.Vec4(1)).Vec3())
	}
	return b
}

// FitCascade fits a tight orthographic box around the frustum slice as seen from the light.
func FitCascade(index, count int, corners core.Frustum, light *core.DirectionalLight) Cascade {
	checkIndex(index, count)
	centroid := corners.Centroid()
	ls := LightSpaceBounds(corners, light)
	minX, minY, minZ := ls.Min.X(), ls.Min.Y(), ls.Min.Z()
	maxX, maxY, maxZ := ls.Max.X(), ls.Max.Y(), ls.Max.Z()

	// Pull the projector back behind every corner and center it on the box in x/y so the
	// symmetric projection covers [minX,maxX] x [minY,maxY].
	cx, cy := 0.5*(minX+maxX), 0.5*(minY+maxY)
	pos := centroid.
		Add(light.Direction().Mul(-maxZ)).
		Add(light.Right().Mul(cx)).
		Add(light.Up().Mul(cy))
	width, height, span := maxX-minX, maxY-minY, maxZ-minZ
	return Cascade{
		Near:       0,
		Far:        span,
		Width:      width,
		Height:     height,
		Position:   pos,
		View:       light.LightMatrix(pos),
		Projection: core.OrthoRH(width, height, -Delta, span),
	}
}

// FitCascadeSphere fits a square projection around the sphere enclosing the cascade's depth
// range. The fit does not change when the camera turns, and the center is snapped to whole
// shadow texels so the map does not shimmer when the camera moves.
func FitCascadeSphere(index int, cam *core.Camera, light *core.DirectionalLight, resolution uint32) Cascade {
	checkIndex(index, cam.CascadeCount())
	near, far := cam.CascadeNear(index), cam.CascadeFar(index)
	center, radius := cascadeSphere(cam, near, far)

	diameter := 2 * radius
	if resolution > 0 {
		// Quantize the radius so the texel size only changes in discrete steps.
		radius = float32(math.Ceil(float64(radius)*16) / 16)
		diameter = 2 * radius
		texel := diameter / float32(resolution)
		center = snapToTexel(center, light, texel)
	}

	pos := center.Sub(light.Direction().Mul(radius))
	return Cascade{
		Near:       0,
		Far:        diameter,
		Width:      diameter,
		Height:     diameter,
		Position:   pos,
		View:       light.LightMatrix(pos),
		Projection: core.OrthoRH(diameter, diameter, -Delta, diameter),
	}
}

// cascadeSphere encloses the frustum slice [near, far]. The radius only depends on the
// projection parameters, never on the camera orientation.
func cascadeSphere(cam *core.Camera, near, far float32) (mgl32.Vec3, float32) {
	dir := cam.Direction()
	tanY := float32(math.Tan(float64(cam.FOV) * 0.5))
	tanX := tanY * cam.Aspect
	corner := dir.Add(cam.Right().Mul(tanX)).Add(cam.Up().Mul(tanY))

	mid := 0.5 * (near + far)
	center := cam.Position.Add(dir.Mul(mid))
	farCorner := cam.Position.Add(corner.Mul(far))
	nearCorner := cam.Position.Add(corner.Mul(near))
	radius := max(farCorner.Sub(center).Len(), nearCorner.Sub(center).Len())
	return center, radius
}

func snapToTexel(p mgl32.Vec3, light *core.DirectionalLight, texel float32) mgl32.Vec3 {
	view := light.LightMatrix(mgl32.Vec3{})
	ls := view.Mul4x1(p.Vec4(1))
	snapped := mgl32.Vec4{
		float32(math.Floor(float64(ls.X()/texel))) * texel,
		float32(math.Floor(float64(ls.Y()/texel))) * texel,
		ls.Z(),
		1,
	}
	return view.Inv().Mul4x1(snapped).Vec3()
}

func checkIndex(index, count int) {
	if index < 0 || index >= count {
		panic(fmt.Sprintf("shadow: cascade index %d out of range [0,%d)", index, count))
	}
}
