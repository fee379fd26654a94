package illumination

import (
	"github.com/gekko3d/lumen/lumenrt/rt/core"
	"github.com/gekko3d/lumen/lumenrt/rt/gpu"
	"github.com/gekko3d/lumen/lumenrt/rt/probes"

	"github.com/go-gl/mathgl/mgl32"
)

// Slots shared by the deferred and forward lighting programs. Pass specific resources start at
// firstPassSlot.
const (
	slotShadowMaps uint32 = iota + 1
	slotShadowSampler
	slotGI
	slotDiffuseNear
	slotDiffuseFar
	slotSpecularNear
	slotSpecularFar
	slotGlobalDiffuse
	slotGlobalSpecular
	slotDiffuseTexIndices
	slotDiffuseCells
	slotSpecularTexIndices
	slotSpecularCells
	slotDiffusePositions
	slotSpecularPositions
	slotLinearSampler
	firstPassSlot
)

// frameState is what the shared lighting block needs from the current frame.
type frameState struct {
	cam           *core.Camera
	giOn          bool
	probesOn      [2]bool
	aoOnly        bool
	time          float32
	width, height uint32
}

// lightingUniforms writes the block both lighting programs start with: camera, sun, shadow
// cascades, probe grid layout and the feature switches.
func (i *Illumination) lightingUniforms(f frameState) *gpu.Uniforms {
	u := gpu.NewUniforms(1024)
	u.Mat4(f.cam.ViewProjection())
	u.Vec3(f.cam.Position, f.cam.Far)
	u.Vec3(i.light.Direction(), i.light.AngularSize)
	u.Vec4(i.light.ColorIntensity())
	u.Vec3(i.light.AmbientColor, 0)
	u.Vec3(mgl32.Vec3(i.cfg.SkyColor), 1)
	i.shadows.WriteUniforms(u)
	i.probes.WriteUniforms(u)
	u.Vec4(mgl32.Vec4{float32(f.width), float32(f.height), f.time, 0})
	u.Bool(f.giOn).Bool(f.probesOn[probes.Diffuse]).Bool(f.probesOn[probes.Specular]).Bool(f.aoOnly)
	return u
}

// sharedBindings is the single bind set both lighting paths sample shadows, GI and probes from.
func (i *Illumination) sharedBindings() []gpu.Binding {
	p := i.probes
	return []gpu.Binding{
		gpu.TextureBinding(slotShadowMaps, i.shadows.Texture(0)),
		gpu.SamplerBinding(slotShadowSampler, gpu.SamplerShadowCompare),
		gpu.TextureBinding(slotGI, i.gi.GITexture()),
		gpu.TextureBinding(slotDiffuseNear, p.CubemapArray(probes.Diffuse, 0)),
		gpu.TextureBinding(slotDiffuseFar, p.CubemapArray(probes.Diffuse, 1)),
		gpu.TextureBinding(slotSpecularNear, p.CubemapArray(probes.Specular, 0)),
		gpu.TextureBinding(slotSpecularFar, p.CubemapArray(probes.Specular, 1)),
		gpu.TextureBinding(slotGlobalDiffuse, p.GlobalCubemap(probes.Diffuse)),
		gpu.TextureBinding(slotGlobalSpecular, p.GlobalCubemap(probes.Specular)),
		gpu.BufferBinding(slotDiffuseTexIndices, p.TexIndexBuffer(probes.Diffuse)),
		gpu.BufferBinding(slotDiffuseCells, p.CellIndexBuffer(probes.Diffuse)),
		gpu.BufferBinding(slotSpecularTexIndices, p.TexIndexBuffer(probes.Specular)),
		gpu.BufferBinding(slotSpecularCells, p.CellIndexBuffer(probes.Specular)),
		gpu.BufferBinding(slotDiffusePositions, p.PositionsBuffer(probes.Diffuse)),
		gpu.BufferBinding(slotSpecularPositions, p.PositionsBuffer(probes.Specular)),
		gpu.SamplerBinding(slotLinearSampler, gpu.SamplerLinearClamp),
	}
}

func (i *Illumination) deferredBindings() []gpu.Binding {
	return append(i.sharedBindings(),
		gpu.TextureBinding(firstPassSlot, i.gbuf.Albedo),
		gpu.TextureBinding(firstPassSlot+1, i.gbuf.Normal),
		gpu.TextureBinding(firstPassSlot+2, i.gbuf.WorldPos),
		gpu.TextureBinding(firstPassSlot+3, i.gbuf.Extra),
		gpu.StorageBinding(firstPassSlot+4, i.final, 0),
	)
}

func (i *Illumination) forwardBindings(o *core.SceneObject, mesh int) []gpu.Binding {
	return append(i.sharedBindings(),
		gpu.TextureBinding(firstPassSlot, o.Texture(mesh, gpu.AlbedoMap, i.defaults)),
		gpu.TextureBinding(firstPassSlot+1, o.Texture(mesh, gpu.NormalMap, i.defaults)),
		gpu.TextureBinding(firstPassSlot+2, o.Texture(mesh, gpu.RoughnessMap, i.defaults)),
		gpu.TextureBinding(firstPassSlot+3, o.Texture(mesh, gpu.MetallicMap, i.defaults)),
		gpu.TextureBinding(firstPassSlot+4, o.Texture(mesh, gpu.SpecularMap, i.defaults)),
	)
}
