package core

import (
	"testing"

	"github.com/gekko3d/lumen/lumenrt/rt/gpu"

	"github.com/go-gl/mathgl/mgl32"
)

func TestSceneKeepsInsertionOrder(t *testing.T) {
	s := NewScene()
	for _, n := range []string{"terrain", "barrel", "arch", "crate"} {
		if err := s.Add(NewSceneObject(n)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Add(NewSceneObject("arch")); err == nil {
		t.Error("duplicate name should be rejected")
	}
	got := s.Names()
	want := []string{"terrain", "barrel", "arch", "crate"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("names = %v, want %v", got, want)
		}
	}
}

func TestSceneObjectWorldAABB(t *testing.T) {
	dev := gpu.NewRecordingDevice()
	part, err := UploadMesh(dev, "box", Box(mgl32.Vec3{2, 2, 2}))
	if err != nil {
		t.Fatal(err)
	}
	o := NewSceneObject("box", part)
	if o.WorldAABB() != part.Bounds {
		t.Errorf("initial bounds = %v", o.WorldAABB())
	}

	o.Transform.SetPosition(mgl32.Vec3{0, 10, 0})
	o.Transform.SetScale(mgl32.Vec3{2, 2, 2})
	if !o.UpdateWorldAABB() {
		t.Fatal("moved object should recompute its bounds")
	}
	b := o.WorldAABB()
	if !b.Min.ApproxEqual(mgl32.Vec3{-2, 8, -2}) || !b.Max.ApproxEqual(mgl32.Vec3{2, 12, 2}) {
		t.Errorf("world bounds = %v", b)
	}
	if o.UpdateWorldAABB() {
		t.Error("clean object should not recompute")
	}
}

func TestSceneObjectTextureFallback(t *testing.T) {
	dev := gpu.NewRecordingDevice()
	defaults, err := gpu.NewDefaultTextures(dev)
	if err != nil {
		t.Fatal(err)
	}
	part, err := UploadMesh(dev, "plane", Plane(4, 4))
	if err != nil {
		t.Fatal(err)
	}
	albedo, err := dev.CreateTexture(gpu.TextureDesc{Label: "bricks", Width: 4, Height: 4, Format: gpu.FormatRGBA8Unorm})
	if err != nil {
		t.Fatal(err)
	}
	part.Textures[gpu.AlbedoMap] = albedo
	o := NewSceneObject("floor", part)

	if got := o.Texture(0, gpu.AlbedoMap, defaults); got != albedo {
		t.Errorf("albedo = %v, want %v", got, albedo)
	}
	if got := o.Texture(0, gpu.NormalMap, defaults); got != defaults.Get(gpu.NormalMap) {
		t.Errorf("normal map should fall back to the default, got %v", got)
	}
}

func TestUploadMeshRejectsEmpty(t *testing.T) {
	if _, err := UploadMesh(gpu.NewRecordingDevice(), "empty", &MeshData{}); err == nil {
		t.Error("expected an error for an empty mesh")
	}
}

func TestVertexBufferUsesDeviceStride(t *testing.T) {
	dev := gpu.NewRecordingDevice()
	data := Box(mgl32.Vec3{1, 1, 1})
	part, err := UploadMesh(dev, "box", data)
	if err != nil {
		t.Fatal(err)
	}
	want := data.VertexCount() * gpu.VertexStride
	if got := len(dev.BufferData(part.Mesh.VertexBuffer)); got != want {
		t.Errorf("vertex buffer is %d bytes, want %d", got, want)
	}
	if data.VertexCount() != 24 {
		t.Errorf("box has %d vertices, want 24", data.VertexCount())
	}
}
