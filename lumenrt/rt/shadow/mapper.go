package shadow

import (
	"fmt"

	"github.com/gekko3d/lumen/lumenrt/rt/core"
	"github.com/gekko3d/lumen/lumenrt/rt/gpu"

	"github.com/go-gl/mathgl/mgl32"
)

// MaxCascades is the number of cascade slots in the lighting uniform block.
const MaxCascades = 4

type Config struct {
	Resolution       uint32    `json:"resolution"`
	CascadeDistances []float32 `json:"cascade_distances"`
	// DepthBias is in shadow map texels of depth; the raster state gets DepthBias/Resolution.
	DepthBias            float32 `json:"depth_bias"`
	SlopeScaledDepthBias float32 `json:"slope_scaled_depth_bias"`
	FitMode              FitMode `json:"fit_mode"`
}

func DefaultConfig() Config {
	return Config{
		Resolution:           4096,
		CascadeDistances:     []float32{125, 800, 2000},
		DepthBias:            0.05,
		SlopeScaledDepthBias: 3.0,
		FitMode:              FitSphere,
	}
}

func (c Config) Validate() error {
	if c.Resolution == 0 {
		return fmt.Errorf("shadow resolution must be positive")
	}
	if len(c.CascadeDistances) == 0 || len(c.CascadeDistances) > MaxCascades {
		return fmt.Errorf("shadow cascade count must be in [1,%d], got %d", MaxCascades, len(c.CascadeDistances))
	}
	for i := 1; i < len(c.CascadeDistances); i++ {
		if c.CascadeDistances[i] <= c.CascadeDistances[i-1] {
			return fmt.Errorf("cascade distances must increase, got %v", c.CascadeDistances)
		}
	}
	if !c.FitMode.Valid() {
		return fmt.Errorf("unknown fit mode %q", c.FitMode)
	}
	return nil
}

// ShadowMapper renders one depth map per cascade, all layers of a single array texture.
type ShadowMapper struct {
	dev   gpu.Device
	cfg   Config
	light *core.DirectionalLight
	log   core.Logger

	maps     gpu.TextureHandle
	cascades []Cascade
	raster   gpu.RasterState

	active int
	saved  gpu.RasterState

	// Draws counts depth draws issued by the last Draw call.
	Draws int
}

func NewShadowMapper(dev gpu.Device, cfg Config, light *core.DirectionalLight, log core.Logger) (*ShadowMapper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("shadow mapper: %w", err)
	}
	n := len(cfg.CascadeDistances)
	maps, err := dev.CreateTexture(gpu.TextureDesc{
		Label:     "Shadow Cascades",
		Width:     cfg.Resolution,
		Height:    cfg.Resolution,
		Layers:    uint32(n),
		Mips:      1,
		Format:    gpu.FormatDepth32Float,
		Dimension: gpu.Texture2DArray,
		Usage:     gpu.UsageRenderTarget | gpu.UsageSampled,
	})
	if err != nil {
		return nil, fmt.Errorf("shadow mapper: depth targets: %w", err)
	}

	m := &ShadowMapper{
		dev:      dev,
		cfg:      cfg,
		light:    light,
		log:      core.OrNop(log),
		maps:     maps,
		cascades: make([]Cascade, n),
		active:   -1,
		raster: gpu.RasterState{
			Cull:                 gpu.CullBack,
			DepthBias:            cfg.DepthBias / float32(cfg.Resolution),
			SlopeScaledDepthBias: cfg.SlopeScaledDepthBias,
			DepthClip:            false,
		},
	}
	for i := range m.cascades {
		m.cascades[i] = Cascade{View: mgl32.Ident4(), Projection: mgl32.Ident4()}
	}
	m.log.Infof("shadow mapper: %d cascades at %dx%d, %s fit", n, cfg.Resolution, cfg.Resolution, cfg.FitMode)
	return m, nil
}

func (m *ShadowMapper) CascadeCount() int { return len(m.cascades) }

func (m *ShadowMapper) CascadeDistances() []float32 {
	return append([]float32(nil), m.cfg.CascadeDistances...)
}

func (m *ShadowMapper) Resolution() uint32 { return m.cfg.Resolution }

func (m *ShadowMapper) Cascade(i int) Cascade {
	checkIndex(i, len(m.cascades))
	return m.cascades[i]
}

func (m *ShadowMapper) ViewProjection(i int) mgl32.Mat4 {
	return m.Cascade(i).ViewProjection()
}

func (m *ShadowMapper) Projection(i int) mgl32.Mat4 {
	return m.Cascade(i).Projection
}

func (m *ShadowMapper) View(i int) mgl32.Mat4 {
	return m.Cascade(i).View
}

// Texture returns the array texture holding cascade i (every cascade shares it).
func (m *ShadowMapper) Texture(i int) gpu.TextureHandle {
	checkIndex(i, len(m.cascades))
	return m.maps
}

func (m *ShadowMapper) Target(i int) gpu.TextureView {
	checkIndex(i, len(m.cascades))
	return gpu.TextureView{Texture: m.maps, Layer: uint32(i)}
}

func (m *ShadowMapper) RasterState() gpu.RasterState { return m.raster }

// Update refits every cascade to the camera.
func (m *ShadowMapper) Update(cam *core.Camera) {
	if cam.CascadeCount() != len(m.cascades) {
		panic(fmt.Sprintf("shadow: camera has %d cascades, mapper has %d", cam.CascadeCount(), len(m.cascades)))
	}
	for i := range m.cascades {
		switch m.cfg.FitMode {
		case FitAABB:
			m.cascades[i] = FitCascade(i, len(m.cascades), cam.CascadeFrustum(i), m.light)
		default:
			m.cascades[i] = FitCascadeSphere(i, cam, m.light, m.cfg.Resolution)
		}
	}
}

// ApplyTransform re-aims every projector after the light basis changed.
func (m *ShadowMapper) ApplyTransform(light *core.DirectionalLight) {
	m.light = light
	for i := range m.cascades {
		m.cascades[i].View = light.LightMatrix(m.cascades[i].Position)
	}
}

// ApplyRotation behaves like ApplyTransform; projectors only track the light's current basis.
func (m *ShadowMapper) ApplyRotation(light *core.DirectionalLight) {
	m.ApplyTransform(light)
}

func (m *ShadowMapper) BeginRenderingToShadowMap(i int) {
	checkIndex(i, len(m.cascades))
	if m.active >= 0 {
		panic(fmt.Sprintf("shadow: begin cascade %d while cascade %d is rendering", i, m.active))
	}
	m.saved = m.dev.RasterState()
	err := m.dev.BeginRenderPass(gpu.RenderPassDesc{
		Label:      fmt.Sprintf("Shadow Cascade %d", i),
		Depth:      m.Target(i),
		ClearDepth: true,
		Viewport:   [2]uint32{m.cfg.Resolution, m.cfg.Resolution},
	})
	if err != nil {
		panic(fmt.Sprintf("shadow: cascade %d pass: %v", i, err))
	}
	m.dev.SetRasterState(m.raster)
	m.active = i
}

func (m *ShadowMapper) StopRenderingToShadowMap(i int) {
	checkIndex(i, len(m.cascades))
	if m.active != i {
		panic(fmt.Sprintf("shadow: stop cascade %d without a matching begin", i))
	}
	m.dev.EndRenderPass()
	m.dev.SetRasterState(m.saved)
	m.active = -1
}

// Draw renders every shadow caster into every cascade.
func (m *ShadowMapper) Draw(objects []*core.SceneObject) {
	m.Draws = 0
	for i := range m.cascades {
		vp := m.cascades[i].ViewProjection()
		m.BeginRenderingToShadowMap(i)
		for _, o := range objects {
			if !o.CastShadows {
				continue
			}
			model := o.Transform.ObjectToWorld()
			for mi, part := range o.Meshes {
				err := m.dev.Draw(gpu.DrawCall{
					Label:    fmt.Sprintf("Shadow %s/%d", o.Name, mi),
					Pipeline: gpu.PipelineShadowDepth,
					Mesh:     part.Mesh,
					Uniforms: gpu.NewUniforms(128).Mat4(vp).Mat4(model).Bytes(),
				})
				if err != nil {
					m.log.Debugf("shadow: cascade %d draw %s: %v", i, o.Name, err)
					continue
				}
				m.Draws++
			}
		}
		m.StopRenderingToShadowMap(i)
	}
}

// WriteUniforms appends the cascade matrices and split distances consumed by the lighting passes.
func (m *ShadowMapper) WriteUniforms(u *gpu.Uniforms) {
	var splits mgl32.Vec4
	for i := 0; i < MaxCascades; i++ {
		if i < len(m.cascades) {
			u.Mat4(m.cascades[i].ViewProjection())
			splits[i] = m.cfg.CascadeDistances[i]
		} else {
			u.Mat4(mgl32.Ident4())
		}
	}
	u.Vec4(splits)
	u.Vec4(mgl32.Vec4{float32(m.cfg.Resolution), 1 / float32(m.cfg.Resolution), float32(len(m.cascades)), 0})
}
