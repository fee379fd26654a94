package gi

import (
	"fmt"
	"time"

	"github.com/gekko3d/lumen/lumenrt/rt/core"
	"github.com/gekko3d/lumen/lumenrt/rt/gpu"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/go-gl/mathgl/mgl32"
)

// ShadowSource is the part of the shadow mapper voxelization samples from.
type ShadowSource interface {
	CascadeCount() int
	ViewProjection(i int) mgl32.Mat4
	Texture(i int) gpu.TextureHandle
}

// voxelShadowCascade is the shadow cascade sampled while voxelizing; it covers the coarse volume.
const voxelShadowCascade = 1

var (
	cascadeColors = [MaxCascades][4]float32{{1, 0.4, 0, 1}, {0, 0.8, 1, 1}}
)

// VoxelGIManager keeps camera-centered voxel cascades and cone traces them into the GI texture.
type VoxelGIManager struct {
	dev      gpu.Device
	cfg      Config
	log      core.Logger
	light    *core.DirectionalLight
	shadows  ShadowSource
	defaults *gpu.DefaultTextures
	pool     worker.DynamicWorkerPool

	cascades []VoxelCascade
	culled   [][]*core.SceneObject
	pending  []bool

	voxelTarget    gpu.TextureHandle
	traced         gpu.TextureHandle
	gi             gpu.TextureHandle
	debug          gpu.TextureHandle
	width, height  uint32
	traceW, traceH uint32
	debugActive    bool

	gizmos core.GizmoRenderer

	// VoxelizeCount counts voxelizations per cascade since creation or the last ResetStats.
	VoxelizeCount []int
	// CulledCount is the object count of each cascade's last cull.
	CulledCount []int
}

func NewVoxelGIManager(dev gpu.Device, cfg Config, width, height uint32, light *core.DirectionalLight,
	shadows ShadowSource, defaults *gpu.DefaultTextures, log core.Logger) (*VoxelGIManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("voxel gi: %w", err)
	}
	n := len(cfg.Scales)
	m := &VoxelGIManager{
		dev:           dev,
		cfg:           cfg,
		log:           core.OrNop(log),
		light:         light,
		shadows:       shadows,
		defaults:      defaults,
		cascades:      make([]VoxelCascade, n),
		culled:        make([][]*core.SceneObject, n),
		pending:       make([]bool, n),
		VoxelizeCount: make([]int, n),
		CulledCount:   make([]int, n),
	}

	for i, scale := range cfg.Scales {
		tex, err := dev.CreateTexture(gpu.TextureDesc{
			Label:     fmt.Sprintf("Voxel Cascade %d", i),
			Width:     cfg.Resolution,
			Height:    cfg.Resolution,
			Layers:    cfg.Resolution,
			Mips:      cfg.Mips,
			Format:    gpu.FormatRGBA8Unorm,
			Dimension: gpu.Texture3D,
			Usage:     gpu.UsageStorage | gpu.UsageSampled,
		})
		if err != nil {
			return nil, fmt.Errorf("voxel gi: cascade %d texture: %w", i, err)
		}
		m.cascades[i] = VoxelCascade{Scale: scale, Resolution: cfg.Resolution, Texture: tex}
	}

	// Voxelization writes through storage textures, but a render pass still needs an attachment.
	var err error
	m.voxelTarget, err = dev.CreateTexture(gpu.TextureDesc{
		Label:     "Voxelization Target",
		Width:     cfg.Resolution,
		Height:    cfg.Resolution,
		Mips:      1,
		Format:    gpu.FormatRGBA8Unorm,
		Dimension: gpu.Texture2D,
		Usage:     gpu.UsageRenderTarget,
	})
	if err != nil {
		return nil, fmt.Errorf("voxel gi: voxelization target: %w", err)
	}
	if err := m.Resize(width, height); err != nil {
		return nil, err
	}

	m.pool = worker.NewDynamicWorkerPool(max(cfg.CullWorkers, 1), 256, time.Second)
	m.log.Infof("voxel gi: %d cascades of %d^3, scales %v", n, cfg.Resolution, cfg.Scales)
	return m, nil
}

// Resize recreates the screen-sized GI targets and releases the old ones. A failed resize
// keeps the previous targets.
func (m *VoxelGIManager) Resize(width, height uint32) error {
	if width == m.width && height == m.height && m.gi != gpu.NoTexture {
		return nil
	}
	traceW := max(uint32(float32(width)*m.cfg.MainPassDownscale), 1)
	traceH := max(uint32(float32(height)*m.cfg.MainPassDownscale), 1)
	targets := []struct {
		tex   *gpu.TextureHandle
		label string
		w, h  uint32
	}{
		{&m.traced, "VCT Main", traceW, traceH},
		{&m.gi, "VCT Upsample And Blur", width, height},
		{&m.debug, "Voxelization Debug", width, height},
	}
	created := make([]gpu.TextureHandle, 0, len(targets))
	for _, t := range targets {
		tex, err := m.dev.CreateTexture(gpu.TextureDesc{
			Label:     t.label,
			Width:     t.w,
			Height:    t.h,
			Mips:      1,
			Format:    gpu.FormatRGBA16Float,
			Dimension: gpu.Texture2D,
			Usage:     gpu.UsageStorage | gpu.UsageSampled,
		})
		if err != nil {
			for _, c := range created {
				m.dev.ReleaseTexture(c)
			}
			return fmt.Errorf("voxel gi: %s: %w", t.label, err)
		}
		created = append(created, tex)
	}
	for i, t := range targets {
		if *t.tex != gpu.NoTexture {
			m.dev.ReleaseTexture(*t.tex)
		}
		*t.tex = created[i]
	}
	m.width, m.height = width, height
	m.traceW, m.traceH = traceW, traceH
	return nil
}

func (m *VoxelGIManager) checkIndex(i int) {
	if i < 0 || i >= len(m.cascades) {
		panic(fmt.Sprintf("gi: voxel cascade index %d out of range [0,%d)", i, len(m.cascades)))
	}
}

func (m *VoxelGIManager) Enabled() bool        { return m.cfg.Enabled }
func (m *VoxelGIManager) SetEnabled(on bool)   { m.cfg.Enabled = on }
func (m *VoxelGIManager) Params() Params       { return m.cfg.Params }
func (m *VoxelGIManager) SetParams(p Params)   { m.cfg.Params = p }
func (m *VoxelGIManager) CascadeCount() int    { return len(m.cascades) }
func (m *VoxelGIManager) Config() Config       { return m.cfg }
func (m *VoxelGIManager) TraceSize() [2]uint32 { return [2]uint32{m.traceW, m.traceH} }

func (m *VoxelGIManager) Pending(i int) bool {
	m.checkIndex(i)
	return m.pending[i]
}

func (m *VoxelGIManager) Culled(i int) []*core.SceneObject {
	m.checkIndex(i)
	return m.culled[i]
}

func (m *VoxelGIManager) Cascade(i int) VoxelCascade {
	m.checkIndex(i)
	return m.cascades[i]
}

// GITexture is the upsampled GI result, or the voxel debug view while it is active.
func (m *VoxelGIManager) GITexture() gpu.TextureHandle {
	if m.debugActive {
		return m.debug
	}
	return m.gi
}

// ForceRevoxelize marks every cascade dirty, e.g. after an object moved.
func (m *VoxelGIManager) ForceRevoxelize() {
	for i := range m.cascades {
		m.cascades[i].dirty = true
	}
}

func (m *VoxelGIManager) ResetStats() {
	for i := range m.VoxelizeCount {
		m.VoxelizeCount[i] = 0
		m.CulledCount[i] = 0
	}
}

// Update decides which cascades follow the camera this frame and culls the scene for them.
func (m *VoxelGIManager) Update(cam *core.Camera, objects []*core.SceneObject) {
	for i := range m.cascades {
		m.pending[i] = false
		if !m.cfg.Enabled {
			continue
		}
		c := &m.cascades[i]
		if !c.NeedsRecenter(cam.Position, m.cfg.RecenterThreshold) {
			continue
		}
		c.Recenter(cam.Position)
		c.dirty = false
		m.culled[i] = m.CullObjectsAgainstCascade(i, objects)
		m.CulledCount[i] = len(m.culled[i])
		m.pending[i] = true
		m.log.Debugf("voxel gi: cascade %d re-centered at %v, %d objects", i, c.Center, len(m.culled[i]))
	}
}

// Draw voxelizes the cascades flagged by Update, then cone traces and upsamples.
func (m *VoxelGIManager) Draw(gbuf *core.GBuffer, cam *core.Camera) {
	if !m.cfg.Enabled {
		return
	}
	var written []gpu.TextureHandle
	for i := range m.cascades {
		if !m.pending[i] {
			continue
		}
		m.Voxelize(i, m.culled[i])
		written = append(written, m.cascades[i].Texture)
		m.pending[i] = false
	}
	if len(written) > 0 {
		m.dev.Barrier(written...)
	}
	m.ConeTrace(gbuf, cam)
}

// Voxelize clears cascade i and rasterizes the given objects into it, then rebuilds its mips.
func (m *VoxelGIManager) Voxelize(i int, objects []*core.SceneObject) {
	m.checkIndex(i)
	c := &m.cascades[i]
	res := c.Resolution
	err := m.dev.Dispatch(gpu.DispatchCall{
		Label:    fmt.Sprintf("Voxel Clear %d", i),
		Pipeline: gpu.PipelineVoxelClear,
		Uniforms: gpu.NewUniforms(16).Uint(res).Bytes(),
		Bindings: []gpu.Binding{gpu.StorageBinding(1, c.Texture, 0)},
		Groups:   [3]uint32{gpu.WorkgroupCount(res, 4), gpu.WorkgroupCount(res, 4), gpu.WorkgroupCount(res, 4)},
	})
	if err != nil {
		m.log.Warnf("voxel gi: clear cascade %d: %v", i, err)
	}

	saved := m.dev.RasterState()
	m.dev.SetRasterState(gpu.RasterState{Cull: gpu.CullNone, DepthClip: true})
	err = m.dev.BeginRenderPass(gpu.RenderPassDesc{
		Label:    fmt.Sprintf("Voxelization %d", i),
		Color:    []gpu.TextureView{{Texture: m.voxelTarget}},
		Viewport: [2]uint32{res, res},
	})
	if err != nil {
		m.dev.SetRasterState(saved)
		m.log.Warnf("voxel gi: cascade %d pass: %v", i, err)
		return
	}

	shadowIdx := min(voxelShadowCascade, m.shadows.CascadeCount()-1)
	shadowVP := m.shadows.ViewProjection(shadowIdx)
	for _, o := range objects {
		model := o.Transform.ObjectToWorld()
		for mi, part := range o.Meshes {
			u := gpu.NewUniforms(256).
				Mat4(model).
				Mat4(shadowVP).
				Vec3(c.Center, 1).
				Vec4(mgl32.Vec4{c.Scale, float32(res), 0, 0}).
				Vec3(m.light.Direction(), 0).
				Vec4(m.light.ColorIntensity()).
				Vec4(mgl32.Vec4(o.Albedo))
			err := m.dev.Draw(gpu.DrawCall{
				Label:    fmt.Sprintf("Voxelize %s/%d", o.Name, mi),
				Pipeline: gpu.PipelineVoxelize,
				Mesh:     part.Mesh,
				Uniforms: u.Bytes(),
				Bindings: []gpu.Binding{
					gpu.TextureBinding(1, o.Texture(mi, gpu.AlbedoMap, m.defaults)),
					{Slot: 2, Texture: m.shadows.Texture(shadowIdx), Layer: shadowIdx, Mip: -1},
					gpu.SamplerBinding(3, gpu.SamplerShadowCompare),
					gpu.StorageBinding(4, c.Texture, 0),
					gpu.SamplerBinding(5, gpu.SamplerLinear),
				},
			})
			if err != nil {
				m.log.Debugf("voxel gi: voxelize %s: %v", o.Name, err)
			}
		}
	}
	m.dev.EndRenderPass()
	m.dev.SetRasterState(saved)

	m.dev.GenerateMips(c.Texture)
	c.Voxelized = true
	m.VoxelizeCount[i]++
}

func (m *VoxelGIManager) coneTraceUniforms(cam *core.Camera) []byte {
	p := m.cfg.Params
	u := gpu.NewUniforms(256)
	for i := 0; i < MaxCascades; i++ {
		c := m.cascades[min(i, len(m.cascades)-1)]
		u.Vec3(c.Center, c.Scale)
	}
	u.Vec3(cam.Position, float32(m.cfg.Resolution))
	u.Vec4(mgl32.Vec4{p.IndirectDiffuseStrength, p.IndirectSpecularStrength, p.MaxConeTraceDistance, p.AOFalloff})
	aoOnly := float32(0)
	if p.DebugAOOnly {
		aoOnly = 1
	}
	u.Vec4(mgl32.Vec4{p.SamplingFactor, p.VoxelSampleOffset, p.GIPower, aoOnly})
	u.Vec4(mgl32.Vec4{
		float32(m.traceW), float32(m.traceH),
		float32(m.width) / float32(m.traceW), float32(m.height) / float32(m.traceH),
	})
	return u.Bytes()
}

// ConeTrace runs the reduced resolution cone trace then the depth-aware upsample.
func (m *VoxelGIManager) ConeTrace(gbuf *core.GBuffer, cam *core.Camera) {
	last := len(m.cascades) - 1
	err := m.dev.Dispatch(gpu.DispatchCall{
		Label:    "VCT Main",
		Pipeline: gpu.PipelineConeTrace,
		Uniforms: m.coneTraceUniforms(cam),
		Bindings: []gpu.Binding{
			gpu.TextureBinding(1, m.cascades[0].Texture),
			gpu.TextureBinding(2, m.cascades[min(1, last)].Texture),
			gpu.TextureBinding(3, gbuf.Normal),
			gpu.TextureBinding(4, gbuf.WorldPos),
			gpu.StorageBinding(5, m.traced, 0),
			gpu.SamplerBinding(6, gpu.SamplerLinearClamp),
		},
		Groups: [3]uint32{gpu.WorkgroupCount(m.traceW, 8), gpu.WorkgroupCount(m.traceH, 8), 1},
	})
	if err != nil {
		m.log.Warnf("voxel gi: cone trace: %v", err)
		return
	}
	m.dev.Barrier(m.traced)

	err = m.dev.Dispatch(gpu.DispatchCall{
		Label:    "VCT Upsample And Blur",
		Pipeline: gpu.PipelineUpsampleBlur,
		Uniforms: gpu.NewUniforms(16).Uint(m.width).Uint(m.height).Uint(m.traceW).Uint(m.traceH).Bytes(),
		Bindings: []gpu.Binding{
			gpu.TextureBinding(1, m.traced),
			gpu.TextureBinding(2, gbuf.Depth),
			gpu.StorageBinding(3, m.gi, 0),
		},
		Groups: [3]uint32{gpu.WorkgroupCount(m.width, 8), gpu.WorkgroupCount(m.height, 8), 1},
	})
	if err != nil {
		m.log.Warnf("voxel gi: upsample: %v", err)
	}
}

// DrawDebugVoxels ray marches cascade i into the debug target, which GITexture then returns
// until the debug view is switched off.
func (m *VoxelGIManager) DrawDebugVoxels(i int, cam *core.Camera, on bool) {
	m.debugActive = on
	if !on {
		return
	}
	m.checkIndex(i)
	c := m.cascades[i]
	err := m.dev.Dispatch(gpu.DispatchCall{
		Label:    "Voxelization Debug",
		Pipeline: gpu.PipelineDebugVoxels,
		Uniforms: gpu.NewUniforms(128).
			Mat4(cam.ViewProjection().Inv()).
			Vec3(cam.Position, 0).
			Vec3(c.Center, c.Scale).
			Vec4(mgl32.Vec4{float32(c.Resolution), float32(m.width), float32(m.height), 0}).
			Bytes(),
		Bindings: []gpu.Binding{
			gpu.TextureBinding(1, c.Texture),
			gpu.StorageBinding(2, m.debug, 0),
		},
		Groups: [3]uint32{gpu.WorkgroupCount(m.width, 8), gpu.WorkgroupCount(m.height, 8), 1},
	})
	if err != nil {
		m.log.Warnf("voxel gi: debug voxels: %v", err)
	}
}

// DrawDebugVolumes outlines every cascade's bounds into the current render pass.
func (m *VoxelGIManager) DrawDebugVolumes(viewProj mgl32.Mat4) error {
	m.gizmos.Reset()
	for i, c := range m.cascades {
		if c.Voxelized {
			m.gizmos.AddBox(c.Bounds, cascadeColors[i%MaxCascades])
		}
	}
	return m.gizmos.Draw(m.dev, viewProj)
}

func (m *VoxelGIManager) Release() {
	if m.pool != nil {
		m.pool.Stop()
		m.pool = nil
	}
}
