package gi

import (
	"fmt"
	"testing"

	"github.com/gekko3d/lumen/lumenrt/rt/core"
	"github.com/gekko3d/lumen/lumenrt/rt/gpu"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeShadows struct {
	tex gpu.TextureHandle
}

func (f fakeShadows) CascadeCount() int               { return 3 }
func (f fakeShadows) ViewProjection(i int) mgl32.Mat4 { return mgl32.Ident4() }
func (f fakeShadows) Texture(i int) gpu.TextureHandle { return f.tex }

func newTestManager(t *testing.T, dev *gpu.RecordingDevice, mutate func(*Config)) *VoxelGIManager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Resolution = 16
	cfg.Mips = 3
	if mutate != nil {
		mutate(&cfg)
	}
	shadowTex, err := dev.CreateTexture(gpu.TextureDesc{
		Label: "Shadow Map", Width: 32, Height: 32, Layers: 3, Mips: 1,
		Format: gpu.FormatDepth32Float, Dimension: gpu.Texture2DArray,
	})
	require.NoError(t, err)
	defaults, err := gpu.NewDefaultTextures(dev)
	require.NoError(t, err)

	light := core.NewDirectionalLight()
	light.RotateAboutBasis(-70, -25)
	m, err := NewVoxelGIManager(dev, cfg, 64, 36, light, fakeShadows{tex: shadowTex}, defaults, nil)
	require.NoError(t, err)
	t.Cleanup(m.Release)
	return m
}

func boxGrid(t *testing.T, dev gpu.Device, n int, spacing float32) []*core.SceneObject {
	t.Helper()
	box, err := core.UploadMesh(dev, "box", core.Box(mgl32.Vec3{1, 1, 1}))
	require.NoError(t, err)
	objects := make([]*core.SceneObject, 0, n)
	side := 1
	for side*side < n {
		side++
	}
	for i := 0; i < n; i++ {
		o := core.NewSceneObject(fmt.Sprintf("box%d", i), box)
		x := float32(i%side) - float32(side)/2
		z := float32(i/side) - float32(side)/2
		o.Transform.SetPosition(mgl32.Vec3{x * spacing, 0, z * spacing})
		o.UpdateWorldAABB()
		objects = append(objects, o)
	}
	return objects
}

func frame(t *testing.T, m *VoxelGIManager, gbuf *core.GBuffer, cam *core.Camera, objects []*core.SceneObject) {
	t.Helper()
	m.Update(cam, objects)
	m.Draw(gbuf, cam)
}

func TestVoxelizeFollowsCamera(t *testing.T) {
	dev := gpu.NewRecordingDevice()
	m := newTestManager(t, dev, nil)
	gbuf, err := core.NewGBuffer(dev, 64, 36)
	require.NoError(t, err)
	objects := boxGrid(t, dev, 9, 3)
	cam := core.NewCamera()

	frame(t, m, gbuf, cam, objects)
	assert.Equal(t, []int{1, 1}, m.VoxelizeCount, "first frame voxelizes every cascade")

	// Fine cascade: 0.25 * 0.5 * 0.5 * 16 = 1 unit. Coarse: 0.25 * 0.5 * 2 * 16 = 4 units.
	tests := []struct {
		name string
		move mgl32.Vec3
		want []int
	}{
		{"still", mgl32.Vec3{}, []int{1, 1}},
		{"below both thresholds", mgl32.Vec3{0.5, 0, 0}, []int{1, 1}},
		{"past the fine threshold", mgl32.Vec3{2.5, 0, 0}, []int{1, 2}},
		{"past both thresholds", mgl32.Vec3{12, 0, 0}, []int{2, 3}},
	}
	for _, tt := range tests {
		cam.Position = tt.move
		frame(t, m, gbuf, cam, objects)
		assert.Equal(t, tt.want, m.VoxelizeCount, tt.name)
	}

	// A moved cascade is voxelized once, not every following frame.
	frame(t, m, gbuf, cam, objects)
	assert.Equal(t, []int{2, 3}, m.VoxelizeCount)
}

func TestForceRevoxelize(t *testing.T) {
	dev := gpu.NewRecordingDevice()
	m := newTestManager(t, dev, nil)
	gbuf, err := core.NewGBuffer(dev, 64, 36)
	require.NoError(t, err)
	cam := core.NewCamera()

	frame(t, m, gbuf, cam, nil)
	m.ForceRevoxelize()
	frame(t, m, gbuf, cam, nil)
	frame(t, m, gbuf, cam, nil)
	assert.Equal(t, []int{2, 2}, m.VoxelizeCount)
}

func TestDisabledManagerIssuesNothing(t *testing.T) {
	dev := gpu.NewRecordingDevice()
	m := newTestManager(t, dev, func(c *Config) { c.Enabled = false })
	gbuf, err := core.NewGBuffer(dev, 64, 36)
	require.NoError(t, err)

	dev.ResetCommands()
	frame(t, m, gbuf, core.NewCamera(), nil)
	assert.Empty(t, dev.PipelineOrder())
	assert.Equal(t, []int{0, 0}, m.VoxelizeCount)
}

func TestDrawOrdersBarriers(t *testing.T) {
	dev := gpu.NewRecordingDevice()
	m := newTestManager(t, dev, nil)
	gbuf, err := core.NewGBuffer(dev, 64, 36)
	require.NoError(t, err)
	objects := boxGrid(t, dev, 4, 2)

	dev.ResetCommands()
	frame(t, m, gbuf, core.NewCamera(), objects)

	assert.Equal(t, []gpu.Pipeline{
		gpu.PipelineVoxelClear, gpu.PipelineVoxelize,
		gpu.PipelineVoxelClear, gpu.PipelineVoxelize,
		gpu.PipelineConeTrace, gpu.PipelineUpsampleBlur,
	}, dev.PipelineOrder())

	index := func(match func(gpu.Command) bool) []int {
		var out []int
		for i, c := range dev.Commands() {
			if match(c) {
				out = append(out, i)
			}
		}
		return out
	}
	mips := index(func(c gpu.Command) bool { return c.Kind == gpu.CmdGenerateMips })
	barriers := index(func(c gpu.Command) bool { return c.Kind == gpu.CmdBarrier })
	trace := index(func(c gpu.Command) bool { return c.Pipeline == gpu.PipelineConeTrace && c.Kind == gpu.CmdDispatch })
	upsample := index(func(c gpu.Command) bool { return c.Pipeline == gpu.PipelineUpsampleBlur })
	require.Len(t, mips, 2)
	require.Len(t, barriers, 2)
	require.Len(t, trace, 1)
	require.Len(t, upsample, 1)

	assert.Less(t, mips[1], barriers[0], "voxel writes finish before the barrier")
	assert.Less(t, barriers[0], trace[0], "cone trace reads after the voxel barrier")
	assert.Less(t, trace[0], barriers[1])
	assert.Less(t, barriers[1], upsample[0], "upsample reads after the trace barrier")

	first := dev.Commands()[barriers[0]]
	assert.ElementsMatch(t, []gpu.TextureHandle{m.Cascade(0).Texture, m.Cascade(1).Texture}, first.Textures)
}

func TestVoxelizeRestoresRasterState(t *testing.T) {
	dev := gpu.NewRecordingDevice()
	m := newTestManager(t, dev, nil)
	objects := boxGrid(t, dev, 2, 2)
	m.Update(core.NewCamera(), objects)

	before := gpu.RasterState{Cull: gpu.CullFront, DepthClip: true}
	dev.SetRasterState(before)
	m.Voxelize(0, m.Culled(0))
	assert.Equal(t, before, dev.RasterState())

	for _, c := range dev.Commands() {
		if c.Kind == gpu.CmdDraw && c.Pipeline == gpu.PipelineVoxelize {
			assert.Equal(t, gpu.CullNone, c.Raster.Cull, "voxelization rasterizes both faces")
		}
	}
	assert.True(t, m.Cascade(0).Voxelized)
}

func TestParallelCullMatchesSerial(t *testing.T) {
	dev := gpu.NewRecordingDevice()
	m := newTestManager(t, dev, func(c *Config) { c.CullWorkers = 3 })
	// 400 objects spread well past the fine cascade's 8 unit extent.
	objects := boxGrid(t, dev, 400, 1.5)
	m.Update(core.NewCamera(), objects)

	for i := 0; i < m.CascadeCount(); i++ {
		bounds := m.Cascade(i).Bounds
		want := cullSerial(bounds, objects)
		got := m.CullObjectsAgainstCascade(i, objects)
		assert.Equal(t, want, got, "cascade %d", i)
		assert.Equal(t, len(want), m.CulledCount[i])
	}
	assert.Less(t, len(m.Culled(1)), len(objects), "fine cascade rejects far objects")
	assert.Less(t, len(m.Culled(1)), len(m.Culled(0)))
}

func TestCullSkipsEmptyBounds(t *testing.T) {
	bounds := core.AABBFromCenter(mgl32.Vec3{}, 4)
	o := core.NewSceneObject("empty")
	o.UpdateWorldAABB()
	assert.Empty(t, cullSerial(bounds, []*core.SceneObject{o}))
	assert.Empty(t, cullParallel(nil, bounds, []*core.SceneObject{o}))
}

func TestCascadeIndexOutOfRangePanics(t *testing.T) {
	dev := gpu.NewRecordingDevice()
	m := newTestManager(t, dev, nil)
	assert.Panics(t, func() { m.Cascade(2) })
	assert.Panics(t, func() { m.CullObjectsAgainstCascade(-1, nil) })
	assert.Panics(t, func() { m.Voxelize(5, nil) })
}

func TestDebugVoxelsSwapsGITexture(t *testing.T) {
	dev := gpu.NewRecordingDevice()
	m := newTestManager(t, dev, nil)
	gi := m.GITexture()
	cam := core.NewCamera()

	m.DrawDebugVoxels(1, cam, true)
	assert.NotEqual(t, gi, m.GITexture())
	assert.Equal(t, 1, dev.CountPipeline(gpu.PipelineDebugVoxels))

	m.DrawDebugVoxels(1, cam, false)
	assert.Equal(t, gi, m.GITexture())
}

func TestDrawDebugVolumesOutlinesVoxelizedCascades(t *testing.T) {
	dev := gpu.NewRecordingDevice()
	m := newTestManager(t, dev, nil)
	cam := core.NewCamera()

	require.NoError(t, dev.BeginRenderPass(gpu.RenderPassDesc{Label: "debug"}))
	require.NoError(t, m.DrawDebugVolumes(cam.ViewProjection()))
	dev.EndRenderPass()
	assert.Zero(t, dev.CountPipeline(gpu.PipelineDebugLines), "nothing voxelized yet")

	gbuf, err := core.NewGBuffer(dev, 64, 36)
	require.NoError(t, err)
	frame(t, m, gbuf, cam, nil)
	require.NoError(t, dev.BeginRenderPass(gpu.RenderPassDesc{Label: "debug"}))
	require.NoError(t, m.DrawDebugVolumes(cam.ViewProjection()))
	dev.EndRenderPass()
	assert.Equal(t, 1, dev.CountPipeline(gpu.PipelineDebugLines))
}

func TestResizeScalesTraceTarget(t *testing.T) {
	dev := gpu.NewRecordingDevice()
	m := newTestManager(t, dev, nil)
	assert.Equal(t, [2]uint32{32, 18}, m.TraceSize())
	require.NoError(t, m.Resize(1920, 1080))
	assert.Equal(t, [2]uint32{960, 540}, m.TraceSize())
	assert.Equal(t, uint32(1920), dev.TextureDesc(m.GITexture()).Width)
}

func TestResizeReleasesPreviousTargets(t *testing.T) {
	dev := gpu.NewRecordingDevice()
	m := newTestManager(t, dev, nil)
	live := dev.LiveTextures()

	for i := uint32(1); i <= 20; i++ {
		require.NoError(t, m.Resize(64+2*i, 36+i))
		assert.Equal(t, live, dev.LiveTextures(), "resize %d", i)
	}
	assert.Equal(t, uint32(104), dev.TextureDesc(m.GITexture()).Width)

	dev.ResetCommands()
	require.NoError(t, m.Resize(104, 56))
	assert.Zero(t, dev.Count(gpu.CmdCreateTexture), "same size is a no-op")
	assert.Zero(t, dev.Count(gpu.CmdReleaseTexture))
}

func TestResizeFailureKeepsTargets(t *testing.T) {
	dev := gpu.NewRecordingDevice()
	m := newTestManager(t, dev, nil)
	before := m.GITexture()
	live := dev.LiveTextures()

	dev.FailCreate = func(label string) error {
		if label == "Voxelization Debug" {
			return fmt.Errorf("out of memory")
		}
		return nil
	}
	assert.Error(t, m.Resize(128, 72))
	assert.Equal(t, live, dev.LiveTextures())
	assert.Equal(t, before, m.GITexture())
	assert.Equal(t, [2]uint32{32, 18}, m.TraceSize())
}
