package core

import (
	"fmt"

	"github.com/gekko3d/lumen/lumenrt/rt/gpu"

	"github.com/go-gl/mathgl/mgl32"
)

// MeshPart is one drawable piece of an object with its object-space bounds.
type MeshPart struct {
	Mesh     gpu.Mesh
	Bounds   AABB
	Textures map[gpu.TextureKind]gpu.TextureHandle
}

type SceneObject struct {
	Name        string
	Transform   *Transform
	Meshes      []MeshPart
	CastShadows bool
	// Forward objects skip the deferred path and are lit by the forward pipeline.
	Forward bool
	// Albedo is multiplied with the albedo map in every lighting path.
	Albedo [4]float32

	worldAABB AABB
	meshAABBs []AABB
}

func NewSceneObject(name string, meshes ...MeshPart) *SceneObject {
	o := &SceneObject{
		Name:        name,
		Transform:   NewTransform(),
		Meshes:      meshes,
		CastShadows: true,
		Albedo:      [4]float32{1, 1, 1, 1},
	}
	o.UpdateWorldAABB()
	return o
}

// UpdateWorldAABB recomputes the world bounds when the transform changed.
// It reports whether anything was recomputed.
func (o *SceneObject) UpdateWorldAABB() bool {
	if !o.Transform.Dirty && len(o.meshAABBs) == len(o.Meshes) {
		return false
	}
	o2w := o.Transform.ObjectToWorld()
	o.worldAABB = EmptyAABB()
	o.meshAABBs = o.meshAABBs[:0]
	for _, m := range o.Meshes {
		wb := m.Bounds.Transform(o2w)
		o.meshAABBs = append(o.meshAABBs, wb)
		o.worldAABB = o.worldAABB.Union(wb)
	}
	o.Transform.Dirty = false
	return true
}

func (o *SceneObject) WorldAABB() AABB {
	return o.worldAABB
}

// MeshAABB is the world bounds of mesh i.
func (o *SceneObject) MeshAABB(i int) AABB {
	return o.meshAABBs[i]
}

// Texture returns the mesh texture of the given kind, falling back to the empty default map.
func (o *SceneObject) Texture(mesh int, kind gpu.TextureKind, defaults *gpu.DefaultTextures) gpu.TextureHandle {
	tex := gpu.NoTexture
	if t, ok := o.Meshes[mesh].Textures[kind]; ok {
		tex = t
	}
	return defaults.Resolve(kind, tex)
}

// Scene is an ordered name -> object map.
type Scene struct {
	objects map[string]*SceneObject
	names   []string

	// LightProbeBounds is the volume covered by local light probes.
	LightProbeBounds AABB
	HasLightProbes   bool
}

func NewScene() *Scene {
	return &Scene{
		objects:          make(map[string]*SceneObject),
		LightProbeBounds: EmptyAABB(),
	}
}

func (s *Scene) Add(o *SceneObject) error {
	if _, ok := s.objects[o.Name]; ok {
		return fmt.Errorf("scene object %q already exists", o.Name)
	}
	s.objects[o.Name] = o
	s.names = append(s.names, o.Name)
	return nil
}

func (s *Scene) Get(name string) (*SceneObject, bool) {
	o, ok := s.objects[name]
	return o, ok
}

// Names lists object names in insertion order.
func (s *Scene) Names() []string {
	return append([]string(nil), s.names...)
}

// Objects lists objects in insertion order.
func (s *Scene) Objects() []*SceneObject {
	out := make([]*SceneObject, 0, len(s.names))
	for _, n := range s.names {
		out = append(out, s.objects[n])
	}
	return out
}

func (s *Scene) Len() int {
	return len(s.names)
}

// Update refreshes the world bounds of moved objects and returns how many changed.
func (s *Scene) Update() int {
	changed := 0
	for _, n := range s.names {
		if s.objects[n].UpdateWorldAABB() {
			changed++
		}
	}
	return changed
}

func (s *Scene) Bounds() AABB {
	b := EmptyAABB()
	for _, n := range s.names {
		b = b.Union(s.objects[n].WorldAABB())
	}
	return b
}

// VisibleObjects returns the objects whose bounds touch the frustum planes.
func (s *Scene) VisibleObjects(planes [6]mgl32.Vec4) []*SceneObject {
	var out []*SceneObject
	for _, n := range s.names {
		o := s.objects[n]
		if !o.WorldAABB().IsEmpty() && o.WorldAABB().InFrustum(planes) {
			out = append(out, o)
		}
	}
	return out
}
