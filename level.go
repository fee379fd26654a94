package lumen

import (
	"context"
	"fmt"

	"github.com/gekko3d/lumen/lumenrt/rt/core"
	"github.com/gekko3d/lumen/lumenrt/rt/gpu"
	"github.com/gekko3d/lumen/lumenrt/rt/illumination"
	"github.com/gekko3d/lumen/lumenrt/rt/probes"
	"github.com/gekko3d/lumen/lumenrt/rt/shadow"

	"github.com/go-gl/mathgl/mgl32"
)

// Level owns the scene, the camera, the sun and every illumination subsystem, and drives them
// in frame order. It implements app.Renderer.
type Level struct {
	Name   string
	Scene  *core.Scene
	Camera *core.Camera
	Light  *core.DirectionalLight

	cfg     LevelConfig
	dev     gpu.Device
	log     Logger
	shadows *shadow.ShadowMapper
	probes  *probes.ProbeManager
	illum   *illumination.Illumination
	capture *illumination.ProbeCapture

	// rotations holds queued {pitch, yaw} pairs in degrees.
	rotations [][2]float32

	// Revoxelized counts the updates that invalidated the voxel cascades.
	Revoxelized int
}

// NewLevel builds the scene described by cfg and the subsystems that light it. Probes are not
// baked yet; call Bake.
func NewLevel(dev gpu.Device, cfg LevelConfig, log Logger) (*Level, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("level %q: %w", cfg.Name, err)
	}
	log = core.OrNop(log)
	l := &Level{
		Name:   cfg.Name,
		Scene:  core.NewScene(),
		Camera: newCamera(cfg.Camera, cfg.Shadow.CascadeDistances, cfg.Illumination),
		Light:  newLight(cfg.Light),
		cfg:    cfg,
		dev:    dev,
		log:    log,
	}
	if err := l.buildScene(); err != nil {
		return nil, fmt.Errorf("level %q: %w", cfg.Name, err)
	}

	var err error
	l.shadows, err = shadow.NewShadowMapper(dev, cfg.Shadow, l.Light, log)
	if err != nil {
		return nil, fmt.Errorf("level %q: %w", cfg.Name, err)
	}
	l.probes, err = probes.NewProbeManager(dev, l.Scene, cfg.Probes, log)
	if err != nil {
		return nil, fmt.Errorf("level %q: %w", cfg.Name, err)
	}
	l.illum, err = illumination.NewIllumination(dev, cfg.Illumination, l.Light, l.shadows, l.probes, log)
	if err != nil {
		l.probes.Release()
		return nil, fmt.Errorf("level %q: %w", cfg.Name, err)
	}
	l.capture = illumination.NewProbeCapture(dev, cfg.Illumination, l.Scene, l.Light, l.shadows, l.illum.Defaults(), log)
	log.Infof("level %q: %d objects", cfg.Name, l.Scene.Len())
	return l, nil
}

func newCamera(c CameraConfig, cascades []float32, ic illumination.Config) *core.Camera {
	cam := core.NewCamera()
	cam.Position = mgl32.Vec3(c.Position)
	cam.Yaw, cam.Pitch = c.Yaw, c.Pitch
	cam.FOV = mgl32.DegToRad(c.FOV)
	cam.Near, cam.Far = c.Near, c.Far
	cam.Speed = c.Speed
	cam.Aspect = float32(ic.Width) / float32(ic.Height)
	cam.CascadeDistances = append([]float32(nil), cascades...)
	return cam
}

func newLight(c LightConfig) *core.DirectionalLight {
	light := core.NewDirectionalLight()
	light.SunColor = mgl32.Vec3(c.Color)
	light.AmbientColor = mgl32.Vec3(c.Ambient)
	light.Intensity = c.Intensity
	light.AngularSize = c.AngularSize
	light.RotateAboutBasis(c.Pitch, c.Yaw)
	return light
}

func (l *Level) buildScene() error {
	if b := l.cfg.LightProbes; b != nil {
		l.Scene.HasLightProbes = true
		l.Scene.LightProbeBounds = core.AABB{Min: mgl32.Vec3(b.Min), Max: mgl32.Vec3(b.Max)}
	}
	for _, oc := range l.cfg.Objects {
		var data *core.MeshData
		switch oc.Shape {
		case "box":
			data = core.Box(mgl32.Vec3(oc.Size))
		case "plane":
			data = core.Plane(oc.Size[0], oc.Size[2])
		case "sphere":
			data = core.Sphere(oc.Size[0], 16, 32)
		}
		part, err := core.UploadMesh(l.dev, oc.Name, data)
		if err != nil {
			return err
		}
		o := core.NewSceneObject(oc.Name, part)
		o.Transform.SetPosition(mgl32.Vec3(oc.Position))
		o.Forward = oc.Forward
		o.CastShadows = !oc.NoShadows
		if oc.Albedo != ([4]float32{}) {
			o.Albedo = oc.Albedo
		}
		if err := l.Scene.Add(o); err != nil {
			return err
		}
	}
	l.Scene.Update()
	return nil
}

func (l *Level) Config() LevelConfig                      { return l.cfg }
func (l *Level) Illumination() *illumination.Illumination { return l.illum }
func (l *Level) Probes() *probes.ProbeManager             { return l.probes }
func (l *Level) Shadows() *shadow.ShadowMapper            { return l.shadows }
func (l *Level) Capture() *illumination.ProbeCapture      { return l.capture }
func (l *Level) FinalTarget() gpu.TextureHandle           { return l.illum.FinalTarget() }
func (l *Level) Stats() illumination.Stats                { return l.illum.Stats }

// RotateLight queues a sun rotation about its right then up vectors, in degrees.
// Queued rotations apply in order on the next Update, each about the basis the previous one left.
func (l *Level) RotateLight(pitchDeg, yawDeg float32) {
	l.rotations = append(l.rotations, [2]float32{pitchDeg, yawDeg})
}

// Update applies queued light rotations, re-voxelizes after objects moved and runs the
// CPU side of the frame.
func (l *Level) Update(dt float32) {
	if len(l.rotations) > 0 {
		for _, r := range l.rotations {
			l.Light.RotateAboutBasis(r[0], r[1])
		}
		l.rotations = l.rotations[:0]
		l.shadows.ApplyTransform(l.Light)
		// Voxels store lit albedo, so a new sun direction invalidates them.
		l.illum.GI().ForceRevoxelize()
		l.Revoxelized++
	}
	if moved := l.Scene.Update(); moved > 0 {
		l.log.Debugf("level %q: %d objects moved", l.Name, moved)
		l.illum.GI().ForceRevoxelize()
		l.Revoxelized++
	}
	l.illum.Update(l.Camera, l.Scene, dt)
}

func (l *Level) Draw(debug illumination.RenderDebugConfig) error {
	return l.illum.Draw(illumination.Frame{Camera: l.Camera, Scene: l.Scene}, debug)
}

func (l *Level) Resize(width, height uint32) error {
	if err := l.illum.Resize(width, height); err != nil {
		return err
	}
	l.Camera.Aspect = float32(width) / float32(height)
	return nil
}

// Bake loads or renders the global probes, then the local grid, and blocks until every
// convolution is in. Captures see the shadow cascades fitted to the current camera.
func (l *Level) Bake(ctx context.Context) error {
	return l.bake(ctx, func() error {
		if err := l.probes.ComputeOrLoadGlobalProbes(l.capture); err != nil {
			return err
		}
		return l.probes.ComputeOrLoadLocalProbes(l.capture)
	})
}

// Rebake drops the probe cache and bakes every probe again, e.g. after the sun moved.
func (l *Level) Rebake(ctx context.Context) error {
	return l.bake(ctx, func() error { return l.probes.Rebake(l.capture) })
}

func (l *Level) bake(ctx context.Context, run func() error) error {
	l.shadows.Update(l.Camera)
	l.shadows.Draw(l.Scene.Objects())
	if err := run(); err != nil {
		return fmt.Errorf("level %q: bake: %w", l.Name, err)
	}
	if err := l.dev.Submit(); err != nil {
		return fmt.Errorf("level %q: bake: %w", l.Name, err)
	}
	if err := l.probes.Wait(ctx); err != nil {
		return fmt.Errorf("level %q: bake: %w", l.Name, err)
	}
	l.probes.Update()
	l.log.Infof("level %q: probes ready, %d loaded, %d baked, %d faces rendered",
		l.Name, l.probes.Loaded, l.probes.Baked, l.capture.Faces)
	return nil
}

// Release stops the worker pools. GPU resources belong to the device.
func (l *Level) Release() {
	l.illum.Release()
	l.probes.Release()
}
