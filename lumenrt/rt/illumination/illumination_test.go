package illumination

import (
	"context"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/gekko3d/lumen/lumenrt/rt/core"
	"github.com/gekko3d/lumen/lumenrt/rt/gpu"
	"github.com/gekko3d/lumen/lumenrt/rt/probes"
	"github.com/gekko3d/lumen/lumenrt/rt/shadow"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	dev     *gpu.RecordingDevice
	illum   *Illumination
	scene   *core.Scene
	cam     *core.Camera
	light   *core.DirectionalLight
	shadows *shadow.ShadowMapper
	probes  *probes.ProbeManager
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Width, cfg.Height = 64, 36
	cfg.GI.Resolution = 16
	cfg.GI.Mips = 3
	return cfg
}

func testProbeConfig() probes.Config {
	cfg := probes.DefaultConfig()
	cfg.Diffuse = probes.TypeConfig{Size: 8, Spacing: 1, Mips: 1, Skip: [probes.NumVolumes]int{1, 2}, MaxResident: [probes.NumVolumes]int{8, 8}}
	cfg.Specular = probes.TypeConfig{Size: 8, Spacing: 2, Mips: 3, Skip: [probes.NumVolumes]int{1, 1}, MaxResident: [probes.NumVolumes]int{4, 4}}
	cfg.VolumeExtents = [probes.NumVolumes]float32{2, 8}
	cfg.SpecularSamples = 4
	cfg.IrradianceInputSize = 4
	cfg.BakeWorkers = 2
	return cfg
}

// newFixture builds a crate lit by the deferred path and a glass box lit by the forward path,
// both in front of a camera at the origin.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	dev := gpu.NewRecordingDevice()
	box, err := core.UploadMesh(dev, "box", core.Box(mgl32.Vec3{1, 1, 1}))
	require.NoError(t, err)

	scene := core.NewScene()
	crate := core.NewSceneObject("crate", box)
	crate.Transform.SetPosition(mgl32.Vec3{0, 0.5, -10})
	glass := core.NewSceneObject("glass", box)
	glass.Transform.SetPosition(mgl32.Vec3{2, 0.5, -10})
	glass.Forward = true
	require.NoError(t, scene.Add(crate))
	require.NoError(t, scene.Add(glass))
	scene.Update()

	light := core.NewDirectionalLight()
	light.RotateAboutBasis(-70, -25)
	shadowCfg := shadow.DefaultConfig()
	shadowCfg.Resolution = 256
	shadows, err := shadow.NewShadowMapper(dev, shadowCfg, light, nil)
	require.NoError(t, err)
	pm, err := probes.NewProbeManager(dev, scene, testProbeConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(pm.Release)

	illum, err := NewIllumination(dev, testConfig(), light, shadows, pm, nil)
	require.NoError(t, err)
	t.Cleanup(illum.Release)

	return &fixture{
		dev:     dev,
		illum:   illum,
		scene:   scene,
		cam:     core.NewCamera(),
		light:   light,
		shadows: shadows,
		probes:  pm,
	}
}

func (f *fixture) frame(t *testing.T, debug RenderDebugConfig) {
	t.Helper()
	f.illum.Update(f.cam, f.scene, 1.0/60)
	require.NoError(t, f.illum.Draw(Frame{Camera: f.cam, Scene: f.scene}, debug))
}

func (f *fixture) capture() *ProbeCapture {
	return NewProbeCapture(f.dev, testConfig(), f.scene, f.light, f.shadows, f.illum.Defaults(), nil)
}

// lastCommand returns the most recent draw or dispatch that used p.
func lastCommand(t *testing.T, dev *gpu.RecordingDevice, p gpu.Pipeline) gpu.Command {
	t.Helper()
	cmds := dev.Commands()
	for i := len(cmds) - 1; i >= 0; i-- {
		c := cmds[i]
		if (c.Kind == gpu.CmdDraw || c.Kind == gpu.CmdDispatch) && c.Pipeline == p {
			return c
		}
	}
	require.FailNow(t, "pipeline never used", "%s", p)
	return gpu.Command{}
}

// lightingFlags decodes the switches that close the deferred lighting block:
// gi, diffuse probes, specular probes, ao only.
func lightingFlags(u []byte) [4]bool {
	var out [4]bool
	base := len(u) - 16
	for k := range out {
		out[k] = binary.LittleEndian.Uint32(u[base+4*k:]) == 1
	}
	return out
}

func indexOf(order []gpu.Pipeline, p gpu.Pipeline) int {
	for i, q := range order {
		if q == p {
			return i
		}
	}
	return -1
}

func TestNewIlluminationValidates(t *testing.T) {
	f := newFixture(t)
	bad := testConfig()
	bad.Width = 0
	_, err := NewIllumination(f.dev, bad, f.light, f.shadows, f.probes, nil)
	assert.Error(t, err)

	bad = testConfig()
	bad.ProbeVolume = probes.NumVolumes
	_, err = NewIllumination(f.dev, bad, f.light, f.shadows, f.probes, nil)
	assert.Error(t, err)

	_, err = NewIllumination(f.dev, testConfig(), f.light, nil, f.probes, nil)
	assert.Error(t, err)
}

func TestDrawRunsPassesInOrder(t *testing.T) {
	f := newFixture(t)
	f.dev.ResetCommands()
	f.frame(t, RenderDebugConfig{})

	order := f.dev.PipelineOrder()
	sequence := []gpu.Pipeline{
		gpu.PipelineShadowDepth,
		gpu.PipelineGBuffer,
		gpu.PipelineVoxelClear,
		gpu.PipelineConeTrace,
		gpu.PipelineUpsampleBlur,
		gpu.PipelineDeferredLighting,
		gpu.PipelineForward,
	}
	prev := -1
	for _, p := range sequence {
		at := indexOf(order, p)
		require.NotEqual(t, -1, at, "%s missing from %v", p, order)
		assert.Greater(t, at, prev, "%s out of order in %v", p, order)
		prev = at
	}
	assert.Equal(t, -1, indexOf(order, gpu.PipelineDebugLines), "no overlays without editor mode")

	stats := f.illum.Stats
	assert.Equal(t, 6, stats.ShadowDraws, "two casters in three cascades")
	assert.Equal(t, 2, stats.GBufferDraws)
	assert.Equal(t, 1, stats.ForwardDraws)
	assert.Positive(t, stats.Voxelized)
	assert.False(t, stats.ProbesReady)
}

func TestDeferredDispatchCoversTarget(t *testing.T) {
	f := newFixture(t)
	f.frame(t, RenderDebugConfig{})

	c := lastCommand(t, f.dev, gpu.PipelineDeferredLighting)
	require.Len(t, c.Bindings, int(firstPassSlot)+4)
	last := c.Bindings[len(c.Bindings)-1]
	assert.True(t, last.Storage)
	assert.Equal(t, f.illum.FinalTarget(), last.Texture)
	assert.Equal(t, f.illum.GITexture(), c.Bindings[slotGI-1].Texture)
}

func TestUnreadyProbesAreSwitchedOff(t *testing.T) {
	f := newFixture(t)
	f.frame(t, RenderDebugConfig{})

	flags := lightingFlags(lastCommand(t, f.dev, gpu.PipelineDeferredLighting).Uniforms)
	assert.Equal(t, [4]bool{true, false, false, false}, flags)
}

func TestBakedProbesAreSwitchedOn(t *testing.T) {
	f := newFixture(t)
	pc := f.capture()
	require.NoError(t, f.probes.ComputeOrLoadGlobalProbes(pc))
	require.NoError(t, f.probes.ComputeOrLoadLocalProbes(pc))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, f.probes.Wait(ctx))
	assert.Equal(t, 2*probes.CubemapFaces, pc.Faces)

	f.frame(t, RenderDebugConfig{})
	assert.True(t, f.illum.Stats.ProbesReady)
	flags := lightingFlags(lastCommand(t, f.dev, gpu.PipelineDeferredLighting).Uniforms)
	assert.Equal(t, [4]bool{true, true, true, false}, flags)

	f.frame(t, RenderDebugConfig{DisableProbes: true})
	flags = lightingFlags(lastCommand(t, f.dev, gpu.PipelineDeferredLighting).Uniforms)
	assert.Equal(t, [4]bool{true, false, false, false}, flags)
}

func TestDisableGISkipsConeTraceAndRevoxelizesLater(t *testing.T) {
	f := newFixture(t)
	f.frame(t, RenderDebugConfig{})

	f.dev.ResetCommands()
	f.frame(t, RenderDebugConfig{DisableGI: true})
	assert.Zero(t, f.dev.CountPipeline(gpu.PipelineConeTrace))
	assert.Zero(t, f.dev.CountPipeline(gpu.PipelineVoxelClear))
	flags := lightingFlags(lastCommand(t, f.dev, gpu.PipelineDeferredLighting).Uniforms)
	assert.False(t, flags[0])

	f.dev.ResetCommands()
	f.frame(t, RenderDebugConfig{})
	assert.Equal(t, f.illum.GI().CascadeCount(), f.dev.CountPipeline(gpu.PipelineVoxelClear))
	assert.Equal(t, 1, f.dev.CountPipeline(gpu.PipelineConeTrace))
}

func TestDisableGIDropsVoxelDebugView(t *testing.T) {
	f := newFixture(t)
	f.frame(t, RenderDebugConfig{})
	normal := f.illum.GITexture()

	debug := RenderDebugConfig{EditorMode: true, ShowVoxelCascades: true}
	f.frame(t, debug)
	require.NotEqual(t, normal, f.illum.GITexture())

	debug.DisableGI = true
	f.dev.ResetCommands()
	f.frame(t, debug)
	assert.Zero(t, f.dev.CountPipeline(gpu.PipelineDebugVoxels))
	assert.Equal(t, normal, f.illum.GITexture())
	bound := lastCommand(t, f.dev, gpu.PipelineDeferredLighting).Bindings[slotGI-1].Texture
	assert.Equal(t, normal, bound)
}

func TestAOOnlyIsScopedToTheFrame(t *testing.T) {
	f := newFixture(t)
	f.frame(t, RenderDebugConfig{AOOnly: true})

	assert.False(t, f.illum.GI().Params().DebugAOOnly)
	trace := lastCommand(t, f.dev, gpu.PipelineConeTrace).Uniforms
	assert.Equal(t, float32(1), math.Float32frombits(binary.LittleEndian.Uint32(trace[76:])))
	flags := lightingFlags(lastCommand(t, f.dev, gpu.PipelineDeferredLighting).Uniforms)
	assert.True(t, flags[3])
}

func TestOverlaysNeedEditorMode(t *testing.T) {
	f := newFixture(t)
	debug := RenderDebugConfig{ShowCascadeSplits: true, ShowVoxelCascades: true, ShowProbes: true}
	f.dev.ResetCommands()
	f.frame(t, debug)
	assert.Zero(t, f.dev.CountPipeline(gpu.PipelineDebugLines))
	assert.Zero(t, f.dev.CountPipeline(gpu.PipelineDebugVoxels))

	debug.EditorMode = true
	f.dev.ResetCommands()
	f.frame(t, debug)
	assert.Equal(t, 1, f.dev.CountPipeline(gpu.PipelineDebugVoxels))
	// Voxel volumes, two probe types and the cascade splits.
	assert.Equal(t, 4, f.dev.CountPipeline(gpu.PipelineDebugLines))
	debugGI := lastCommand(t, f.dev, gpu.PipelineDeferredLighting).Bindings[slotGI-1].Texture

	f.frame(t, RenderDebugConfig{})
	gi := lastCommand(t, f.dev, gpu.PipelineDeferredLighting).Bindings[slotGI-1].Texture
	assert.NotEqual(t, debugGI, gi)
	assert.Equal(t, f.illum.GITexture(), gi, "debug view is switched off again")
}

func TestWireframeOnlyTouchesForwardPass(t *testing.T) {
	f := newFixture(t)
	before := f.dev.RasterState()
	f.frame(t, RenderDebugConfig{EditorMode: true, Wireframe: true})

	assert.True(t, lastCommand(t, f.dev, gpu.PipelineForward).Raster.Wireframe)
	assert.False(t, lastCommand(t, f.dev, gpu.PipelineGBuffer).Raster.Wireframe)
	assert.Equal(t, before, f.dev.RasterState())
	assert.Equal(t, 1, f.dev.CountPipeline(gpu.PipelineDebugLines))
}

func TestProbeCaptureRendersSky(t *testing.T) {
	f := newFixture(t)
	pc := f.capture()
	before := f.dev.RasterState()
	pos := mgl32.Vec3{1, 0.5, -5}

	// -Z looks at both boxes.
	data, err := pc.RenderFace(pos, 5, 8)
	require.NoError(t, err)
	require.Len(t, data, 8*8*4)
	sky := testConfig().SkyColor
	assert.Equal(t, []float32{sky[0], sky[1], sky[2], 1}, data[:4])
	assert.Equal(t, 2, pc.Draws)
	assert.Equal(t, before, f.dev.RasterState())

	// +Z looks away from them.
	_, err = pc.RenderFace(pos, 4, 8)
	require.NoError(t, err)
	assert.Equal(t, 2, pc.Draws)
	assert.Equal(t, 2, pc.Faces)

	c := lastCommand(t, f.dev, gpu.PipelineProbeCapture)
	assert.Equal(t, gpu.CullNone, c.Raster.Cull)
	require.Len(t, c.Bindings, 4)
	assert.Equal(t, f.shadows.Texture(0), c.Bindings[2].Texture)
}

func TestProbeCaptureReusesTargets(t *testing.T) {
	f := newFixture(t)
	pc := f.capture()
	_, err := pc.RenderFace(mgl32.Vec3{}, 0, 4)
	require.NoError(t, err)
	created := f.dev.Count(gpu.CmdCreateTexture)
	_, err = pc.RenderFace(mgl32.Vec3{}, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, created, f.dev.Count(gpu.CmdCreateTexture))

	_, err = pc.RenderFace(mgl32.Vec3{}, 1, 16)
	require.NoError(t, err)
	assert.Equal(t, created+2, f.dev.Count(gpu.CmdCreateTexture))
}

func TestShadowTexturesAndResize(t *testing.T) {
	f := newFixture(t)
	assert.Len(t, f.illum.ShadowTextures(), 3)

	require.NoError(t, f.illum.Resize(32, 18))
	w, h := f.illum.Size()
	assert.Equal(t, uint32(32), w)
	assert.Equal(t, uint32(18), h)
	assert.Equal(t, uint32(32), f.dev.TextureDesc(f.illum.FinalTarget()).Width)
	assert.Equal(t, uint32(18), f.dev.TextureDesc(f.illum.GBuffer().Albedo).Height)
	assert.Error(t, f.illum.Resize(0, 18))

	f.frame(t, RenderDebugConfig{})
	bindings := lastCommand(t, f.dev, gpu.PipelineDeferredLighting).Bindings
	assert.Equal(t, f.illum.FinalTarget(), bindings[len(bindings)-1].Texture)
}

func TestRepeatedResizeKeepsTextureCount(t *testing.T) {
	f := newFixture(t)
	live := f.dev.LiveTextures()

	for i := uint32(1); i <= 20; i++ {
		require.NoError(t, f.illum.Resize(64+i, 36+i))
		assert.Equal(t, live, f.dev.LiveTextures(), "resize %d", i)
	}
	f.frame(t, RenderDebugConfig{})
	assert.Equal(t, uint32(84), f.dev.TextureDesc(f.illum.FinalTarget()).Width)
	assert.Equal(t, uint32(84), f.dev.TextureDesc(f.illum.GITexture()).Width)

	f.dev.ResetCommands()
	require.NoError(t, f.illum.Resize(84, 56))
	assert.Zero(t, f.dev.Count(gpu.CmdCreateTexture))
	assert.Zero(t, f.dev.Count(gpu.CmdReleaseTexture))
}
