package core

import (
	"fmt"

	"github.com/gekko3d/lumen/lumenrt/rt/gpu"

	"github.com/go-gl/mathgl/mgl32"
)

// GBuffer holds the deferred surface attributes of the main view.
type GBuffer struct {
	Width, Height uint32

	Albedo   gpu.TextureHandle // rgb albedo, a = alpha
	Normal   gpu.TextureHandle // xyz world normal, w = roughness
	WorldPos gpu.TextureHandle // xyz world position, w = 1 where geometry was written
	Extra    gpu.TextureHandle // r = metallic, g = specular, b = forward-shaded flag
	Depth    gpu.TextureHandle

	// Draws counts geometry draws issued by the last Fill.
	Draws int
}

func NewGBuffer(dev gpu.Device, width, height uint32) (*GBuffer, error) {
	g := &GBuffer{Width: width, Height: height}
	targets := []struct {
		tex    *gpu.TextureHandle
		label  string
		format gpu.TextureFormat
	}{
		{&g.Albedo, "GBuffer Albedo", gpu.FormatRGBA8Unorm},
		{&g.Normal, "GBuffer Normal", gpu.FormatRGBA16Float},
		{&g.WorldPos, "GBuffer World Position", gpu.FormatRGBA32Float},
		{&g.Extra, "GBuffer Extra", gpu.FormatRGBA8Unorm},
		{&g.Depth, "GBuffer Depth", gpu.FormatDepth32Float},
	}
	for _, t := range targets {
		tex, err := dev.CreateTexture(gpu.TextureDesc{
			Label:     t.label,
			Width:     width,
			Height:    height,
			Mips:      1,
			Format:    t.format,
			Dimension: gpu.Texture2D,
			Usage:     gpu.UsageRenderTarget | gpu.UsageSampled,
		})
		if err != nil {
			g.Release(dev)
			return nil, fmt.Errorf("gbuffer: %s: %w", t.label, err)
		}
		*t.tex = tex
	}
	return g, nil
}

// Release frees every target. The GBuffer must not be used afterwards.
func (g *GBuffer) Release(dev gpu.Device) {
	for _, tex := range []gpu.TextureHandle{g.Albedo, g.Normal, g.WorldPos, g.Extra, g.Depth} {
		if tex != gpu.NoTexture {
			dev.ReleaseTexture(tex)
		}
	}
	*g = GBuffer{}
}

// Fill rasterizes the deferred objects into the G-buffer. Forward objects only write depth
// and the forward flag so the deferred pass leaves their pixels alone.
func (g *GBuffer) Fill(dev gpu.Device, cam *Camera, objects []*SceneObject, defaults *gpu.DefaultTextures, log Logger) error {
	log = OrNop(log)
	clear := [4]float32{0, 0, 0, 0}
	err := dev.BeginRenderPass(gpu.RenderPassDesc{
		Label: "GBuffer",
		Color: []gpu.TextureView{
			{Texture: g.Albedo}, {Texture: g.Normal}, {Texture: g.WorldPos}, {Texture: g.Extra},
		},
		Depth:      gpu.TextureView{Texture: g.Depth},
		ClearColor: &clear,
		ClearDepth: true,
		Viewport:   [2]uint32{g.Width, g.Height},
	})
	if err != nil {
		return fmt.Errorf("gbuffer pass: %w", err)
	}
	defer dev.EndRenderPass()

	g.Draws = 0
	vp := cam.ViewProjection()
	for _, o := range objects {
		model := o.Transform.ObjectToWorld()
		for i, part := range o.Meshes {
			u := gpu.NewUniforms(192).
				Mat4(vp).
				Mat4(model).
				Vec4(mgl32.Vec4(o.Albedo)).
				Bool(o.Forward)
			err := dev.Draw(gpu.DrawCall{
				Label:    fmt.Sprintf("GBuffer %s/%d", o.Name, i),
				Pipeline: gpu.PipelineGBuffer,
				Mesh:     part.Mesh,
				Uniforms: u.Bytes(),
				Bindings: []gpu.Binding{
					gpu.TextureBinding(1, o.Texture(i, gpu.AlbedoMap, defaults)),
					gpu.TextureBinding(2, o.Texture(i, gpu.NormalMap, defaults)),
					gpu.TextureBinding(3, o.Texture(i, gpu.RoughnessMap, defaults)),
					gpu.TextureBinding(4, o.Texture(i, gpu.MetallicMap, defaults)),
					gpu.TextureBinding(5, o.Texture(i, gpu.SpecularMap, defaults)),
					gpu.SamplerBinding(6, gpu.SamplerLinear),
				},
			})
			if err != nil {
				log.Debugf("gbuffer: draw %s: %v", o.Name, err)
				continue
			}
			g.Draws++
		}
	}
	return nil
}
