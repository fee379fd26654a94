package gi

import (
	"math"

	"github.com/gekko3d/lumen/lumenrt/rt/core"
	"github.com/gekko3d/lumen/lumenrt/rt/gpu"

	"github.com/go-gl/mathgl/mgl32"
)

// VoxelCascade is a camera-centered voxel volume. Scale is the world size of one voxel.
type VoxelCascade struct {
	Scale      float32
	Resolution uint32
	Texture    gpu.TextureHandle
	Center     mgl32.Vec3
	Bounds     core.AABB
	Voxelized  bool

	dirty bool
}

func (c *VoxelCascade) HalfExtent() float32 {
	return 0.5 * c.Scale * float32(c.Resolution)
}

// RecenterDistance is how far the camera may move from Center before the cascade follows it.
func (c *VoxelCascade) RecenterDistance(threshold float32) float32 {
	return threshold * c.HalfExtent()
}

// NeedsRecenter reports whether the cascade must move to pos and be re-voxelized.
func (c *VoxelCascade) NeedsRecenter(pos mgl32.Vec3, threshold float32) bool {
	if !c.Voxelized || c.dirty {
		return true
	}
	return pos.Sub(c.Center).Len() > c.RecenterDistance(threshold)
}

// Recenter snaps the center to the voxel grid around pos.
func (c *VoxelCascade) Recenter(pos mgl32.Vec3) {
	snap := func(v float32) float32 {
		return float32(math.Floor(float64(v/c.Scale))) * c.Scale
	}
	c.Center = mgl32.Vec3{snap(pos.X()), snap(pos.Y()), snap(pos.Z())}
	c.Bounds = core.AABBFromCenter(c.Center, c.HalfExtent())
}
