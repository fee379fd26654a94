package shadow

import (
	"errors"
	"testing"

	"github.com/gekko3d/lumen/lumenrt/rt/core"
	"github.com/gekko3d/lumen/lumenrt/rt/gpu"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMapper(t *testing.T, dev *gpu.RecordingDevice) *ShadowMapper {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Resolution = 256
	m, err := NewShadowMapper(dev, cfg, referenceLight(), nil)
	require.NoError(t, err)
	return m
}

func testScene(t *testing.T, dev gpu.Device) []*core.SceneObject {
	t.Helper()
	box, err := core.UploadMesh(dev, "box", core.Box(mgl32.Vec3{1, 1, 1}))
	require.NoError(t, err)
	floor, err := core.UploadMesh(dev, "floor", core.Plane(50, 50))
	require.NoError(t, err)

	caster := core.NewSceneObject("crate", box)
	caster.Transform.SetPosition(mgl32.Vec3{0, 0.5, -10})
	ground := core.NewSceneObject("ground", floor)
	glass := core.NewSceneObject("glass", box)
	glass.CastShadows = false
	return []*core.SceneObject{caster, ground, glass}
}

func TestBeginStopRestoresRasterState(t *testing.T) {
	dev := gpu.NewRecordingDevice()
	m := newTestMapper(t, dev)
	before := gpu.RasterState{Cull: gpu.CullFront, DepthClip: true, Wireframe: true}
	dev.SetRasterState(before)

	m.BeginRenderingToShadowMap(1)
	state := dev.RasterState()
	assert.Equal(t, gpu.CullBack, state.Cull)
	assert.InDelta(t, 0.05/256.0, state.DepthBias, 1e-9, "bias is scaled by resolution")
	assert.Equal(t, float32(3.0), state.SlopeScaledDepthBias)
	assert.False(t, state.DepthClip)

	m.StopRenderingToShadowMap(1)
	assert.Equal(t, before, dev.RasterState())

	var pass *gpu.Command
	for _, c := range dev.Commands() {
		if c.Kind == gpu.CmdBeginPass {
			c := c
			pass = &c
		}
	}
	require.NotNil(t, pass)
	assert.Equal(t, uint32(1), pass.Pass.Depth.Layer)
	assert.True(t, pass.Pass.ClearDepth)
}

func TestBeginStopMisuse(t *testing.T) {
	dev := gpu.NewRecordingDevice()
	m := newTestMapper(t, dev)

	assert.Panics(t, func() { m.StopRenderingToShadowMap(0) }, "stop without begin")
	m.BeginRenderingToShadowMap(0)
	assert.Panics(t, func() { m.BeginRenderingToShadowMap(1) }, "begin while rendering")
	assert.Panics(t, func() { m.StopRenderingToShadowMap(2) }, "stop of another cascade")
	m.StopRenderingToShadowMap(0)
	assert.Panics(t, func() { m.BeginRenderingToShadowMap(3) }, "cascade out of range")
}

func TestDrawRendersCastersIntoEveryCascade(t *testing.T) {
	dev := gpu.NewRecordingDevice()
	m := newTestMapper(t, dev)
	objects := testScene(t, dev)
	m.Update(referenceCamera())

	dev.ResetCommands()
	m.Draw(objects)

	// two casters, three cascades
	assert.Equal(t, 6, m.Draws)
	assert.Equal(t, 6, dev.CountPipeline(gpu.PipelineShadowDepth))
	assert.Equal(t, 3, dev.Count(gpu.CmdBeginPass))
	assert.Equal(t, 3, dev.Count(gpu.CmdEndPass))
	for _, c := range dev.Commands() {
		if c.Kind == gpu.CmdDraw {
			assert.False(t, c.Raster.DepthClip)
			assert.NotContains(t, c.Label, "glass")
		}
	}
	assert.Equal(t, gpu.DefaultRasterState(), dev.RasterState())
}

func TestUpdateUsesConfiguredFit(t *testing.T) {
	dev := gpu.NewRecordingDevice()
	cam := referenceCamera()
	for _, mode := range []FitMode{FitAABB, FitSphere} {
		cfg := DefaultConfig()
		cfg.FitMode = mode
		light := referenceLight()
		m, err := NewShadowMapper(dev, cfg, light, nil)
		require.NoError(t, err)
		m.Update(cam)

		var want Cascade
		if mode == FitAABB {
			want = FitCascade(0, 3, cam.CascadeFrustum(0), light)
		} else {
			want = FitCascadeSphere(0, cam, light, cfg.Resolution)
		}
		assert.Equal(t, want, m.Cascade(0), string(mode))
		assert.Equal(t, want.ViewProjection(), m.ViewProjection(0))
	}
}

func TestApplyTransformFollowsLight(t *testing.T) {
	dev := gpu.NewRecordingDevice()
	light := referenceLight()
	m, err := NewShadowMapper(dev, DefaultConfig(), light, nil)
	require.NoError(t, err)
	m.Update(referenceCamera())
	pos := m.Cascade(0).Position

	light.ApplyRotation(mgl32.HomogRotate3DY(0.5))
	m.ApplyTransform(light)
	assert.Equal(t, light.LightMatrix(pos), m.View(0))
}

func TestNewShadowMapperFailures(t *testing.T) {
	dev := gpu.NewRecordingDevice()
	dev.FailCreate = func(label string) error {
		return errors.New("out of memory")
	}
	_, err := NewShadowMapper(dev, DefaultConfig(), referenceLight(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of memory")

	cfg := DefaultConfig()
	cfg.CascadeDistances = []float32{100, 50}
	_, err = NewShadowMapper(gpu.NewRecordingDevice(), cfg, referenceLight(), nil)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.FitMode = "octahedral"
	_, err = NewShadowMapper(gpu.NewRecordingDevice(), cfg, referenceLight(), nil)
	assert.Error(t, err)
}

func TestWriteUniformsLayout(t *testing.T) {
	dev := gpu.NewRecordingDevice()
	m := newTestMapper(t, dev)
	m.Update(referenceCamera())
	u := gpu.NewUniforms(512)
	m.WriteUniforms(u)
	assert.Len(t, u.Bytes(), MaxCascades*64+32)
}
