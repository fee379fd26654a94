package core

import (
	"fmt"
	"math"

	"github.com/gekko3d/lumen/lumenrt/rt/gpu"

	"github.com/go-gl/mathgl/mgl32"
)

const floatsPerVertex = gpu.VertexStride / 4

// MeshData is CPU-side geometry: position, normal and uv interleaved per vertex.
type MeshData struct {
	Vertices []float32
	Indices  []uint32
}

func (m *MeshData) vertex(p, n mgl32.Vec3, u, v float32) {
	m.Vertices = append(m.Vertices, p.X(), p.Y(), p.Z(), n.X(), n.Y(), n.Z(), u, v)
}

func (m *MeshData) VertexCount() int {
	return len(m.Vertices) / floatsPerVertex
}

func (m *MeshData) Bounds() AABB {
	b := EmptyAABB()
	for i := 0; i+2 < len(m.Vertices); i += floatsPerVertex {
		b = b.Extend(mgl32.Vec3{m.Vertices[i], m.Vertices[i+1], m.Vertices[i+2]})
	}
	return b
}

// UploadMesh creates the vertex and index buffers for data.
func UploadMesh(dev gpu.Device, label string, data *MeshData) (MeshPart, error) {
	if len(data.Indices) == 0 || data.VertexCount() == 0 {
		return MeshPart{}, fmt.Errorf("mesh %q is empty", label)
	}
	vb, err := dev.CreateBuffer(gpu.BufferDesc{
		Label: label + " Vertices",
		Size:  uint64(len(data.Vertices) * 4),
		Usage: gpu.BufferVertex | gpu.BufferCopyDst,
	})
	if err != nil {
		return MeshPart{}, fmt.Errorf("mesh %q vertex buffer: %w", label, err)
	}
	ib, err := dev.CreateBuffer(gpu.BufferDesc{
		Label: label + " Indices",
		Size:  uint64(len(data.Indices) * 4),
		Usage: gpu.BufferIndex | gpu.BufferCopyDst,
	})
	if err != nil {
		return MeshPart{}, fmt.Errorf("mesh %q index buffer: %w", label, err)
	}
	dev.WriteBuffer(vb, 0, gpu.Float32sToBytes(data.Vertices))
	dev.WriteBuffer(ib, 0, gpu.Uint32sToBytes(data.Indices))
	return MeshPart{
		Mesh:     gpu.Mesh{VertexBuffer: vb, IndexBuffer: ib, IndexCount: uint32(len(data.Indices))},
		Bounds:   data.Bounds(),
		Textures: map[gpu.TextureKind]gpu.TextureHandle{},
	}, nil
}

// Box is an axis aligned box centered at the origin, faces wound counter-clockwise.
func Box(size mgl32.Vec3) *MeshData {
	h := size.Mul(0.5)
	m := &MeshData{}
	faces := []struct{ n, u, v mgl32.Vec3 }{
		{mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{0, 0, 1}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{0, 1, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, -1}},
		{mgl32.Vec3{0, -1, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, 1}},
		{mgl32.Vec3{0, 0, 1}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{0, 0, -1}, mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{0, 1, 0}},
	}
	for _, f := range faces {
		base := uint32(m.VertexCount())
		c := mul3(f.n, h)
		du := mul3(f.u, h)
		dv := mul3(f.v, h)
		m.vertex(c.Sub(du).Sub(dv), f.n, 0, 1)
		m.vertex(c.Add(du).Sub(dv), f.n, 1, 1)
		m.vertex(c.Add(du).Add(dv), f.n, 1, 0)
		m.vertex(c.Sub(du).Add(dv), f.n, 0, 0)
		m.Indices = append(m.Indices, base, base+1, base+2, base, base+2, base+3)
	}
	return m
}

// Plane is a y-up quad of the given size centered at the origin.
func Plane(width, depth float32) *MeshData {
	m := &MeshData{}
	hw, hd := width*0.5, depth*0.5
	n := WorldUp
	m.vertex(mgl32.Vec3{-hw, 0, hd}, n, 0, 1)
	m.vertex(mgl32.Vec3{hw, 0, hd}, n, 1, 1)
	m.vertex(mgl32.Vec3{hw, 0, -hd}, n, 1, 0)
	m.vertex(mgl32.Vec3{-hw, 0, -hd}, n, 0, 0)
	m.Indices = []uint32{0, 1, 2, 0, 2, 3}
	return m
}

// Sphere is a UV sphere.
func Sphere(radius float32, rings, segments int) *MeshData {
	m := &MeshData{}
	for r := 0; r <= rings; r++ {
		phi := math.Pi * float64(r) / float64(rings)
		for s := 0; s <= segments; s++ {
			theta := 2 * math.Pi * float64(s) / float64(segments)
			n := mgl32.Vec3{
				float32(math.Sin(phi) * math.Cos(theta)),
				float32(math.Cos(phi)),
				float32(-math.Sin(phi) * math.Sin(theta)),
			}
			m.vertex(n.Mul(radius), n, float32(s)/float32(segments), float32(r)/float32(rings))
		}
	}
	stride := uint32(segments + 1)
	for r := uint32(0); r < uint32(rings); r++ {
		for s := uint32(0); s < uint32(segments); s++ {
			a := r*stride + s
			b := a + stride
			m.Indices = append(m.Indices, a, b, a+1, a+1, b, b+1)
		}
	}
	return m
}

func mul3(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{a.X() * b.X(), a.Y() * b.Y(), a.Z() * b.Z()}
}
