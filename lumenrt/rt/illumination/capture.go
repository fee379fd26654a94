package illumination

import (
	"fmt"

	"github.com/gekko3d/lumen/lumenrt/rt/core"
	"github.com/gekko3d/lumen/lumenrt/rt/gpu"
	"github.com/gekko3d/lumen/lumenrt/rt/probes"
	"github.com/gekko3d/lumen/lumenrt/rt/shadow"

	"github.com/go-gl/mathgl/mgl32"
)

type captureTarget struct {
	color, depth gpu.TextureHandle
}

// ProbeCapture renders probe cubemap faces with the sun, its shadow cascades and the sky color,
// then reads them back for convolution. It implements probes.FaceRenderer.
type ProbeCapture struct {
	dev      gpu.Device
	scene    *core.Scene
	light    *core.DirectionalLight
	shadows  *shadow.ShadowMapper
	defaults *gpu.DefaultTextures
	log      core.Logger

	near, far float32
	sky       [4]float32
	targets   map[uint32]captureTarget

	// Faces and Draws count rendered faces and object draws.
	Faces, Draws int
}

var _ probes.FaceRenderer = (*ProbeCapture)(nil)

func NewProbeCapture(dev gpu.Device, cfg Config, scene *core.Scene, light *core.DirectionalLight,
	shadows *shadow.ShadowMapper, defaults *gpu.DefaultTextures, log core.Logger) *ProbeCapture {
	return &ProbeCapture{
		dev:      dev,
		scene:    scene,
		light:    light,
		shadows:  shadows,
		defaults: defaults,
		log:      core.OrNop(log),
		near:     cfg.CaptureNear,
		far:      cfg.CaptureFar,
		sky:      [4]float32{cfg.SkyColor[0], cfg.SkyColor[1], cfg.SkyColor[2], 1},
		targets:  make(map[uint32]captureTarget),
	}
}

func (c *ProbeCapture) target(size uint32) (captureTarget, error) {
	if t, ok := c.targets[size]; ok {
		return t, nil
	}
	color, err := c.dev.CreateTexture(gpu.TextureDesc{
		Label:     fmt.Sprintf("Probe Capture %d", size),
		Width:     size,
		Height:    size,
		Mips:      1,
		Format:    gpu.FormatRGBA32Float,
		Dimension: gpu.Texture2D,
		Usage:     gpu.UsageRenderTarget | gpu.UsageCopySrc,
	})
	if err != nil {
		return captureTarget{}, err
	}
	depth, err := c.dev.CreateTexture(gpu.TextureDesc{
		Label:     fmt.Sprintf("Probe Capture Depth %d", size),
		Width:     size,
		Height:    size,
		Mips:      1,
		Format:    gpu.FormatDepth32Float,
		Dimension: gpu.Texture2D,
		Usage:     gpu.UsageRenderTarget,
	})
	if err != nil {
		return captureTarget{}, err
	}
	t := captureTarget{color: color, depth: depth}
	c.targets[size] = t
	return t, nil
}

// RenderFace draws one face and blocks on the readback; it is a bake time operation.
func (c *ProbeCapture) RenderFace(pos mgl32.Vec3, face int, size uint32) ([]float32, error) {
	t, err := c.target(size)
	if err != nil {
		return nil, fmt.Errorf("probe capture: %w", err)
	}
	vp := probes.FaceViewProjection(face, pos, c.near, c.far)

	// Face bases are mirrored, so winding flips.
	saved := c.dev.RasterState()
	c.dev.SetRasterState(gpu.RasterState{Cull: gpu.CullNone, DepthClip: true})
	err = c.dev.BeginRenderPass(gpu.RenderPassDesc{
		Label:      fmt.Sprintf("Probe Capture Face %d", face),
		Color:      []gpu.TextureView{{Texture: t.color}},
		Depth:      gpu.TextureView{Texture: t.depth},
		ClearColor: &c.sky,
		ClearDepth: true,
		Viewport:   [2]uint32{size, size},
	})
	if err != nil {
		c.dev.SetRasterState(saved)
		return nil, fmt.Errorf("probe capture: %w", err)
	}
	c.drawObjects(vp)
	c.dev.EndRenderPass()
	c.dev.SetRasterState(saved)
	c.Faces++

	data, err := c.dev.ReadTexture(t.color, gpu.TextureRegion{Width: size, Height: size, Depth: 1})
	if err != nil {
		return nil, fmt.Errorf("probe capture: readback: %w", err)
	}
	return gpu.BytesToFloat32s(data), nil
}

func (c *ProbeCapture) drawObjects(vp mgl32.Mat4) {
	planes := core.ExtractPlanes(vp)
	for _, o := range c.scene.Objects() {
		bounds := o.WorldAABB()
		if bounds.IsEmpty() || !bounds.InFrustum(planes) {
			continue
		}
		model := o.Transform.ObjectToWorld()
		for m, part := range o.Meshes {
			u := gpu.NewUniforms(512).
				Mat4(vp).
				Mat4(model).
				Vec3(c.light.Direction(), 0).
				Vec4(c.light.ColorIntensity()).
				Vec3(c.light.AmbientColor, 0).
				Vec4(mgl32.Vec4(o.Albedo))
			c.shadows.WriteUniforms(u)
			err := c.dev.Draw(gpu.DrawCall{
				Label:    fmt.Sprintf("Probe Capture %s/%d", o.Name, m),
				Pipeline: gpu.PipelineProbeCapture,
				Mesh:     part.Mesh,
				Uniforms: u.Bytes(),
				Bindings: []gpu.Binding{
					gpu.TextureBinding(1, o.Texture(m, gpu.AlbedoMap, c.defaults)),
					gpu.SamplerBinding(2, gpu.SamplerLinear),
					gpu.TextureBinding(3, c.shadows.Texture(0)),
					gpu.SamplerBinding(4, gpu.SamplerShadowCompare),
				},
			})
			if err != nil {
				c.log.Debugf("probe capture: draw %s: %v", o.Name, err)
				continue
			}
			c.Draws++
		}
	}
}
