package core

import (
	"fmt"
	"math"

	"github.com/gekko3d/lumen/lumenrt/rt/gpu"

	"github.com/go-gl/mathgl/mgl32"
)

type GizmoType int

const (
	GizmoLine GizmoType = iota
	GizmoCube
	GizmoSphere
)

// Gizmo is a debug shape drawn as lines.
type Gizmo struct {
	Type  GizmoType
	Color [4]float32

	// Line: P1 to P2. Cube: Box. Sphere: P1 center, Radius.
	P1, P2 mgl32.Vec3
	Box    AABB
	Radius float32
}

// lineVertexFloats is position (vec4) + color (vec4).
const lineVertexFloats = 8

var cubeEdges = [12][2]int{
	{0, 1}, {1, 3}, {3, 2}, {2, 0},
	{4, 5}, {5, 7}, {7, 6}, {6, 4},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

// GizmoRenderer batches gizmos into one line list and draws them in a single call.
type GizmoRenderer struct {
	Gizmos []Gizmo

	vertices []float32
	buffer   gpu.BufferHandle
	capacity uint64
}

func (r *GizmoRenderer) Add(g Gizmo) {
	r.Gizmos = append(r.Gizmos, g)
}

func (r *GizmoRenderer) AddBox(b AABB, color [4]float32) {
	r.Add(Gizmo{Type: GizmoCube, Box: b, Color: color})
}

func (r *GizmoRenderer) AddSphere(center mgl32.Vec3, radius float32, color [4]float32) {
	r.Add(Gizmo{Type: GizmoSphere, P1: center, Radius: radius, Color: color})
}

func (r *GizmoRenderer) AddLine(a, b mgl32.Vec3, color [4]float32) {
	r.Add(Gizmo{Type: GizmoLine, P1: a, P2: b, Color: color})
}

func (r *GizmoRenderer) Reset() {
	r.Gizmos = r.Gizmos[:0]
}

func (r *GizmoRenderer) line(a, b mgl32.Vec3, c [4]float32) {
	r.vertices = append(r.vertices,
		a.X(), a.Y(), a.Z(), 1, c[0], c[1], c[2], c[3],
		b.X(), b.Y(), b.Z(), 1, c[0], c[1], c[2], c[3],
	)
}

// Build flattens the gizmos into line vertices and returns the vertex count.
func (r *GizmoRenderer) Build() uint32 {
	r.vertices = r.vertices[:0]
	for _, g := range r.Gizmos {
		switch g.Type {
		case GizmoLine:
			r.line(g.P1, g.P2, g.Color)
		case GizmoCube:
			corners := g.Box.Corners()
			for _, e := range cubeEdges {
				r.line(corners[e[0]], corners[e[1]], g.Color)
			}
		case GizmoSphere:
			const segments = 16
			axes := [3][2]mgl32.Vec3{
				{{1, 0, 0}, {0, 1, 0}},
				{{0, 1, 0}, {0, 0, 1}},
				{{1, 0, 0}, {0, 0, 1}},
			}
			for _, ax := range axes {
				for s := 0; s < segments; s++ {
					a0 := 2 * math.Pi * float64(s) / segments
					a1 := 2 * math.Pi * float64(s+1) / segments
					p0 := g.P1.Add(ax[0].Mul(g.Radius * float32(math.Cos(a0)))).Add(ax[1].Mul(g.Radius * float32(math.Sin(a0))))
					p1 := g.P1.Add(ax[0].Mul(g.Radius * float32(math.Cos(a1)))).Add(ax[1].Mul(g.Radius * float32(math.Sin(a1))))
					r.line(p0, p1, g.Color)
				}
			}
		}
	}
	return uint32(len(r.vertices) / lineVertexFloats)
}

// ensureBuffer grows the storage buffer to fit size bytes, doubling capacity.
func (r *GizmoRenderer) ensureBuffer(dev gpu.Device, size uint64) error {
	if r.buffer != gpu.NoBuffer && size <= r.capacity {
		return nil
	}
	capacity := max(r.capacity*2, size, 4096)
	buf, err := dev.CreateBuffer(gpu.BufferDesc{
		Label: "Gizmo Lines",
		Size:  capacity,
		Usage: gpu.BufferStorage | gpu.BufferCopyDst,
	})
	if err != nil {
		return fmt.Errorf("gizmo buffer: %w", err)
	}
	r.buffer = buf
	r.capacity = capacity
	return nil
}

// Draw uploads the batch and draws it into the current render pass.
func (r *GizmoRenderer) Draw(dev gpu.Device, viewProj mgl32.Mat4) error {
	count := r.Build()
	if count == 0 {
		return nil
	}
	data := gpu.Float32sToBytes(r.vertices)
	if err := r.ensureBuffer(dev, uint64(len(data))); err != nil {
		return err
	}
	dev.WriteBuffer(r.buffer, 0, data)
	return dev.Draw(gpu.DrawCall{
		Label:       "Gizmos",
		Pipeline:    gpu.PipelineDebugLines,
		Uniforms:    gpu.NewUniforms(64).Mat4(viewProj).Bytes(),
		Bindings:    []gpu.Binding{gpu.BufferBinding(1, r.buffer)},
		VertexCount: count,
	})
}
