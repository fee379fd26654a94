package illumination

import (
	"errors"
	"fmt"

	"github.com/gekko3d/lumen/lumenrt/rt/core"
	"github.com/gekko3d/lumen/lumenrt/rt/gi"
	"github.com/gekko3d/lumen/lumenrt/rt/gpu"
	"github.com/gekko3d/lumen/lumenrt/rt/probes"
	"github.com/gekko3d/lumen/lumenrt/rt/shadow"

	"github.com/go-gl/mathgl/mgl32"
)

// Frame is the view the compositor lights.
type Frame struct {
	Camera *core.Camera
	Scene  *core.Scene
}

// Stats are the counters of the last Draw.
type Stats struct {
	ShadowDraws   int
	GBufferDraws  int
	ForwardDraws  int
	Voxelized     int
	Culled        int
	StreamedProbe [2]int
	ProbesReady   bool
}

var (
	splitColors = [shadow.MaxCascades][4]float32{
		{1, 0.2, 0.2, 1}, {0.2, 1, 0.2, 1}, {0.2, 0.4, 1, 1}, {1, 1, 0.2, 1},
	}
	wireColor = [4]float32{0.9, 0.9, 0.9, 1}
)

// Illumination runs the per-frame lighting: shadow cascades, probe streaming, the G-buffer,
// voxel GI and the deferred and forward lighting passes, in that order.
type Illumination struct {
	dev      gpu.Device
	cfg      Config
	log      core.Logger
	light    *core.DirectionalLight
	shadows  *shadow.ShadowMapper
	probes   *probes.ProbeManager
	defaults *gpu.DefaultTextures

	gi     *gi.VoxelGIManager
	gbuf   *core.GBuffer
	final  gpu.TextureHandle
	gizmos core.GizmoRenderer
	time   float32

	Stats Stats
}

func NewIllumination(dev gpu.Device, cfg Config, light *core.DirectionalLight, shadows *shadow.ShadowMapper,
	probeManager *probes.ProbeManager, log core.Logger) (*Illumination, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("illumination: %w", err)
	}
	if light == nil || shadows == nil || probeManager == nil {
		return nil, errors.New("illumination: light, shadow mapper and probe manager are required")
	}
	log = core.OrNop(log)
	defaults, err := gpu.NewDefaultTextures(dev)
	if err != nil {
		return nil, fmt.Errorf("illumination: %w", err)
	}
	i := &Illumination{
		dev:      dev,
		cfg:      cfg,
		log:      log,
		light:    light,
		shadows:  shadows,
		probes:   probeManager,
		defaults: defaults,
	}
	i.gi, err = gi.NewVoxelGIManager(dev, cfg.GI, cfg.Width, cfg.Height, light, shadows, defaults, log)
	if err != nil {
		return nil, fmt.Errorf("illumination: %w", err)
	}
	if err := i.createTargets(cfg.Width, cfg.Height); err != nil {
		i.gi.Release()
		return nil, err
	}
	log.Infof("illumination: %dx%d, gi %v", cfg.Width, cfg.Height, cfg.GI.Enabled)
	return i, nil
}

func (i *Illumination) createTargets(width, height uint32) error {
	gbuf, err := core.NewGBuffer(i.dev, width, height)
	if err != nil {
		return fmt.Errorf("illumination: %w", err)
	}
	final, err := i.dev.CreateTexture(gpu.TextureDesc{
		Label:     "Final Illumination",
		Width:     width,
		Height:    height,
		Mips:      1,
		Format:    gpu.FormatRGBA16Float,
		Dimension: gpu.Texture2D,
		Usage:     gpu.UsageStorage | gpu.UsageSampled | gpu.UsageRenderTarget | gpu.UsageCopySrc,
	})
	if err != nil {
		gbuf.Release(i.dev)
		return fmt.Errorf("illumination: final target: %w", err)
	}
	if i.gbuf != nil {
		i.gbuf.Release(i.dev)
	}
	if i.final != gpu.NoTexture {
		i.dev.ReleaseTexture(i.final)
	}
	i.gbuf = gbuf
	i.final = final
	i.cfg.Width, i.cfg.Height = width, height
	return nil
}

// Resize rebuilds every screen sized target and releases the old ones. Same-size calls are no-ops.
func (i *Illumination) Resize(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("illumination: cannot resize to %dx%d", width, height)
	}
	if width == i.cfg.Width && height == i.cfg.Height {
		return nil
	}
	if err := i.createTargets(width, height); err != nil {
		return err
	}
	return i.gi.Resize(width, height)
}

func (i *Illumination) GI() *gi.VoxelGIManager             { return i.gi }
func (i *Illumination) GBuffer() *core.GBuffer             { return i.gbuf }
func (i *Illumination) Defaults() *gpu.DefaultTextures     { return i.defaults }
func (i *Illumination) GITexture() gpu.TextureHandle       { return i.gi.GITexture() }
func (i *Illumination) FinalTarget() gpu.TextureHandle     { return i.final }
func (i *Illumination) Size() (width, height uint32)       { return i.cfg.Width, i.cfg.Height }
func (i *Illumination) Probes() *probes.ProbeManager       { return i.probes }
func (i *Illumination) ShadowMapper() *shadow.ShadowMapper { return i.shadows }

// ShadowTextures lists the depth texture of every cascade.
func (i *Illumination) ShadowTextures() []gpu.TextureHandle {
	out := make([]gpu.TextureHandle, i.shadows.CascadeCount())
	for c := range out {
		out[c] = i.shadows.Texture(c)
	}
	return out
}

// Update does the CPU side of the frame: shadow refits and the GI cull and recenter decisions.
func (i *Illumination) Update(cam *core.Camera, scene *core.Scene, dt float32) {
	i.time += dt
	i.shadows.Update(cam)
	i.gi.Update(cam, scene.Objects())
}

// Draw records the frame. Unready probes disable the probe term instead of blocking.
func (i *Illumination) Draw(f Frame, debug RenderDebugConfig) error {
	cam := f.Camera
	objects := f.Scene.Objects()
	i.Stats = Stats{}

	i.shadows.Draw(objects)
	i.Stats.ShadowDraws = i.shadows.Draws

	i.probes.Update()
	probesOn := [2]bool{}
	if !debug.DisableProbes {
		i.probes.UpdateProbes(cam)
		for t := probes.Diffuse; t <= probes.Specular; t++ {
			probesOn[t] = i.probes.AreProbesReady(t)
			if i.probes.HasLocalProbes() {
				i.Stats.StreamedProbe[t] = i.probes.Streamed(t, 0)
			}
		}
	}
	i.Stats.ProbesReady = i.probes.AllProbesReady()

	visible := f.Scene.VisibleObjects(cam.Planes())
	if err := i.gbuf.Fill(i.dev, cam, visible, i.defaults, i.log); err != nil {
		return fmt.Errorf("illumination: %w", err)
	}
	i.Stats.GBufferDraws = i.gbuf.Draws

	giOn := i.gi.Enabled() && !debug.DisableGI
	if giOn {
		params := i.gi.Params()
		if debug.AOOnly {
			aoParams := params
			aoParams.DebugAOOnly = true
			i.gi.SetParams(aoParams)
		}
		for c := 0; c < i.gi.CascadeCount(); c++ {
			if i.gi.Pending(c) {
				i.Stats.Voxelized++
				i.Stats.Culled += len(i.gi.Culled(c))
			}
		}
		i.gi.Draw(i.gbuf, cam)
		i.gi.SetParams(params)
		i.gi.DrawDebugVoxels(0, cam, debug.EditorMode && debug.ShowVoxelCascades)
	} else {
		// Cascades go stale while GI is off; voxelize again once it is back.
		i.gi.ForceRevoxelize()
		i.gi.DrawDebugVoxels(0, cam, false)
	}

	fs := frameState{
		cam:      cam,
		giOn:     giOn,
		probesOn: probesOn,
		aoOnly:   debug.AOOnly,
		time:     i.time,
		width:    i.cfg.Width,
		height:   i.cfg.Height,
	}
	i.dev.Barrier(i.gbuf.Albedo, i.gbuf.Normal, i.gbuf.WorldPos, i.gbuf.Extra, i.gi.GITexture())
	if err := i.drawDeferred(fs); err != nil {
		return err
	}
	i.dev.Barrier(i.final)
	if err := i.drawForward(fs, visible, debug.EditorMode && debug.Wireframe); err != nil {
		return err
	}
	if debug.overlays() {
		return i.drawOverlays(cam, visible, debug)
	}
	return nil
}

func (i *Illumination) drawDeferred(fs frameState) error {
	err := i.dev.Dispatch(gpu.DispatchCall{
		Label:    "Deferred Lighting",
		Pipeline: gpu.PipelineDeferredLighting,
		Uniforms: i.lightingUniforms(fs).Bytes(),
		Bindings: i.deferredBindings(),
		Groups:   [3]uint32{gpu.WorkgroupCount(fs.width, 8), gpu.WorkgroupCount(fs.height, 8), 1},
	})
	if err != nil {
		return fmt.Errorf("illumination: deferred lighting: %w", err)
	}
	return nil
}

// drawForward shades the objects the G-buffer only marked, on top of the deferred result.
func (i *Illumination) drawForward(fs frameState, visible []*core.SceneObject, wireframe bool) error {
	var forward []*core.SceneObject
	for _, o := range visible {
		if o.Forward {
			forward = append(forward, o)
		}
	}
	if len(forward) == 0 {
		return nil
	}
	err := i.dev.BeginRenderPass(gpu.RenderPassDesc{
		Label:    "Forward Lighting",
		Color:    []gpu.TextureView{{Texture: i.final}},
		Depth:    gpu.TextureView{Texture: i.gbuf.Depth},
		Viewport: [2]uint32{fs.width, fs.height},
	})
	if err != nil {
		return fmt.Errorf("illumination: forward pass: %w", err)
	}
	defer i.dev.EndRenderPass()

	saved := i.dev.RasterState()
	raster := gpu.DefaultRasterState()
	raster.Wireframe = wireframe
	i.dev.SetRasterState(raster)
	defer i.dev.SetRasterState(saved)

	for _, o := range forward {
		model := o.Transform.ObjectToWorld()
		for m, part := range o.Meshes {
			u := i.lightingUniforms(fs).Mat4(model).Vec4(mgl32.Vec4(o.Albedo))
			err := i.dev.Draw(gpu.DrawCall{
				Label:    fmt.Sprintf("Forward %s/%d", o.Name, m),
				Pipeline: gpu.PipelineForward,
				Mesh:     part.Mesh,
				Uniforms: u.Bytes(),
				Bindings: i.forwardBindings(o, m),
			})
			if err != nil {
				i.log.Debugf("illumination: forward draw %s: %v", o.Name, err)
				continue
			}
			i.Stats.ForwardDraws++
		}
	}
	return nil
}

func (i *Illumination) drawOverlays(cam *core.Camera, visible []*core.SceneObject, debug RenderDebugConfig) error {
	err := i.dev.BeginRenderPass(gpu.RenderPassDesc{
		Label:    "Debug Overlay",
		Color:    []gpu.TextureView{{Texture: i.final}},
		Depth:    gpu.TextureView{Texture: i.gbuf.Depth},
		Viewport: [2]uint32{i.cfg.Width, i.cfg.Height},
	})
	if err != nil {
		return fmt.Errorf("illumination: overlay pass: %w", err)
	}
	defer i.dev.EndRenderPass()

	vp := cam.ViewProjection()
	var errs []error
	if debug.ShowVoxelCascades {
		errs = append(errs, i.gi.DrawDebugVolumes(vp))
	}
	if debug.ShowProbes {
		for t := probes.Diffuse; t <= probes.Specular; t++ {
			errs = append(errs, i.probes.DrawDebugProbes(t, i.cfg.ProbeVolume, cam))
		}
	}
	i.gizmos.Reset()
	if debug.ShowCascadeSplits {
		for c := 0; c < i.shadows.CascadeCount(); c++ {
			i.gizmos.AddBox(cam.CascadeFrustum(c).Bounds(), splitColors[c])
		}
	}
	if debug.Wireframe {
		for _, o := range visible {
			i.gizmos.AddBox(o.WorldAABB(), wireColor)
		}
	}
	errs = append(errs, i.gizmos.Draw(i.dev, vp))
	if err := errors.Join(errs...); err != nil {
		i.log.Warnf("illumination: debug overlay: %v", err)
	}
	return nil
}

// Release stops the GI culling workers; GPU resources belong to the device.
func (i *Illumination) Release() {
	i.gi.Release()
}
