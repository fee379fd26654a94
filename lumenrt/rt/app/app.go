package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gekko3d/lumen/lumenrt/rt/core"
	"github.com/gekko3d/lumen/lumenrt/rt/gpu"
	"github.com/gekko3d/lumen/lumenrt/rt/illumination"
	"github.com/gekko3d/lumen/lumenrt/rt/shaders"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
)

// Probe cubemap arrays hold one layer per face, so the default 256 layers are too few.
const maxTextureArrayLayers = 2048

// Renderer is the frame the App drives. The root Level implements it.
type Renderer interface {
	Update(dt float32)
	Draw(debug illumination.RenderDebugConfig) error
	FinalTarget() gpu.TextureHandle
	Resize(width, height uint32) error
	Stats() illumination.Stats
}

type App struct {
	Window   *glfw.Window
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	Surface  *wgpu.Surface
	Config   *wgpu.SurfaceConfiguration

	GPU      *gpu.WGPUDevice
	Renderer Renderer
	Log      core.Logger

	Profiler  *Profiler
	Telemetry *TelemetryHub
	server    *http.Server

	BlitPipeline *wgpu.RenderPipeline
	Sampler      *wgpu.Sampler
	blitBG       *wgpu.BindGroup
	blitSource   gpu.TextureHandle

	Text             *TextAtlas
	TextPipeline     *wgpu.RenderPipeline
	TextAtlasView    *wgpu.TextureView
	TextBindGroup    *wgpu.BindGroup
	TextVertexBuffer *wgpu.Buffer
	TextItems        []TextItem
	TextVertexCount  uint32

	Debug     illumination.RenderDebugConfig
	ShowStats bool
	// FontPath overrides the built-in bitmap face of the stats overlay.
	FontPath string

	LastTime       float64
	LastRenderTime float64
	FrameCount     int
	FPS            float64
	FPSTime        float64
}

func NewApp(window *glfw.Window, log core.Logger) *App {
	log = core.OrNop(log)
	return &App{
		Window:    window,
		Log:       log,
		Profiler:  NewProfiler(),
		Telemetry: NewTelemetryHub(log),
	}
}

func (a *App) Init() error {
	a.Instance = wgpu.CreateInstance(nil)
	a.Surface = a.Instance.CreateSurface(wgpuglfw.GetSurfaceDescriptor(a.Window))

	adapter, err := a.Instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: a.Surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return err
	}
	a.Adapter = adapter

	limits := wgpu.DefaultLimits()
	limits.MaxTextureArrayLayers = maxTextureArrayLayers
	a.Device, err = adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label:          "Lumen Device",
		RequiredLimits: &wgpu.RequiredLimits{Limits: limits},
	})
	if err != nil {
		return err
	}
	a.Queue = a.Device.GetQueue()

	width, height := a.Window.GetFramebufferSize()
	caps := a.Surface.GetCapabilities(adapter)
	a.Config = &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      caps.Formats[0],
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   caps.AlphaModes[0],
	}
	a.Surface.Configure(adapter, a.Device, a.Config)

	a.GPU, err = gpu.NewWGPUDevice(a.Device, a.Log)
	if err != nil {
		return err
	}

	a.Sampler, err = a.Device.CreateSampler(&wgpu.SamplerDescriptor{
		MinFilter:     wgpu.FilterModeLinear,
		MagFilter:     wgpu.FilterModeLinear,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return err
	}
	if err := a.setupBlit(); err != nil {
		return err
	}

	if a.FontPath != "" {
		a.Text, err = NewTextAtlasFromFile(a.FontPath, 16)
		if err != nil {
			a.Log.Warnf("app: font %s: %v, using the built-in face", a.FontPath, err)
		}
	}
	if a.Text == nil {
		a.Text = NewDefaultTextAtlas()
	}
	if err := a.setupTextResources(); err != nil {
		a.Log.Warnf("app: text overlay disabled: %v", err)
	}

	a.LastTime = glfw.GetTime()
	return nil
}

// ServeTelemetry starts the /stats websocket endpoint on addr.
func (a *App) ServeTelemetry(addr string) {
	a.server = &http.Server{Addr: addr, Handler: a.Telemetry.Handler()}
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Errorf("app: telemetry: %v", err)
		}
	}()
	a.Log.Infof("app: telemetry on ws://%s/stats", addr)
}

func (a *App) setupBlit() error {
	mod, err := a.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "Blit VS/FS",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.BlitWGSL},
	})
	if err != nil {
		return err
	}
	defer mod.Release()

	a.BlitPipeline, err = a.Device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label: "Blit Pipeline",
		Vertex: wgpu.VertexState{
			Module:     mod,
			EntryPoint: "vs_main",
		},
		Fragment: &wgpu.FragmentState{
			Module:     mod,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{{
				Format:    a.Config.Format,
				WriteMask: wgpu.ColorWriteMaskAll,
			}},
		},
		Primitive: wgpu.PrimitiveState{
			Topology: wgpu.PrimitiveTopologyTriangleList,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	return err
}

// blitBindGroup follows the renderer's final target, which changes on resize.
func (a *App) blitBindGroup() (*wgpu.BindGroup, error) {
	target := a.Renderer.FinalTarget()
	if a.blitBG != nil && target == a.blitSource {
		return a.blitBG, nil
	}
	bg, err := a.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Layout: a.BlitPipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, TextureView: a.GPU.TextureView(target)},
			{Binding: 1, Sampler: a.Sampler},
		},
	})
	if err != nil {
		return nil, err
	}
	if a.blitBG != nil {
		a.blitBG.Release()
	}
	a.blitBG, a.blitSource = bg, target
	return bg, nil
}

func (a *App) Resize(w, h int) {
	if w <= 0 || h <= 0 || (uint32(w) == a.Config.Width && uint32(h) == a.Config.Height) {
		return
	}
	a.Config.Width = uint32(w)
	a.Config.Height = uint32(h)
	a.Surface.Configure(a.Adapter, a.Device, a.Config)
	if a.Renderer != nil {
		if err := a.Renderer.Resize(uint32(w), uint32(h)); err != nil {
			a.Log.Errorf("app: resize: %v", err)
		}
	}
}

func (a *App) Update() {
	now := glfw.GetTime()
	dt := float32(now - a.LastTime)
	a.LastTime = now

	if d, ok := a.Telemetry.TakeDebug(); ok {
		a.Debug = d
		a.Log.Infof("app: debug switches from telemetry: %+v", d)
	}
	if a.Renderer == nil {
		return
	}

	a.Profiler.BeginScope("update")
	a.Renderer.Update(dt)
	a.Profiler.EndScope("update")

	a.ClearText()
	if a.ShowStats {
		a.DrawText(a.Profiler.StatsString(), 10, 10, 1.0, [4]float32{1, 1, 0, 1})
	}
	a.uploadText()
}

func (a *App) ClearText() {
	a.TextItems = a.TextItems[:0]
	a.TextVertexCount = 0
}

func (a *App) DrawText(text string, x, y float32, scale float32, color [4]float32) {
	a.TextItems = append(a.TextItems, TextItem{
		Text:     text,
		Position: [2]float32{x, y},
		Scale:    scale,
		Color:    color,
	})
}

func (a *App) uploadText() {
	if len(a.TextItems) == 0 || a.Text == nil || a.TextPipeline == nil {
		return
	}
	vertices := a.Text.BuildVertices(a.TextItems, int(a.Config.Width), int(a.Config.Height))
	if len(vertices) == 0 {
		return
	}
	data := textVertexBytes(vertices)
	size := uint64(len(data))
	if a.TextVertexBuffer == nil || a.TextVertexBuffer.GetSize() < size {
		if a.TextVertexBuffer != nil {
			a.TextVertexBuffer.Release()
		}
		var err error
		a.TextVertexBuffer, err = a.Device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: "Text VB",
			Size:  size,
			Usage: wgpu.BufferUsageVertex | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			a.Log.Errorf("app: text vertex buffer: %v", err)
			a.TextVertexBuffer = nil
			return
		}
	}
	a.Queue.WriteBuffer(a.TextVertexBuffer, 0, data)
	a.TextVertexCount = uint32(len(vertices))
}

// textVertexBytes packs vertices as the text pipeline's 32 byte layout.
func textVertexBytes(vertices []TextVertex) []byte {
	floats := make([]float32, 0, len(vertices)*textVertexFloats)
	for _, v := range vertices {
		floats = append(floats, v.Pos[0], v.Pos[1], v.UV[0], v.UV[1], v.Color[0], v.Color[1], v.Color[2], v.Color[3])
	}
	return gpu.Float32sToBytes(floats)
}

const textVertexFloats = 8

func (a *App) Render() {
	if a.Renderer == nil {
		return
	}
	start := time.Now()

	nextTexture, err := a.Surface.GetCurrentTexture()
	if err != nil {
		a.Log.Errorf("app: GetCurrentTexture failed: %v", err)
		return
	}
	defer nextTexture.Release()

	view, err := nextTexture.CreateView(nil)
	if err != nil {
		a.Log.Errorf("app: CreateView failed: %v", err)
		return
	}
	defer view.Release()

	a.Profiler.BeginScope("draw")
	if err := a.Renderer.Draw(a.Debug); err != nil {
		a.Log.Errorf("app: draw: %v", err)
	}
	a.Profiler.EndScope("draw")
	a.Profiler.SetFrameStats(a.Renderer.Stats())

	if err := a.present(view); err != nil {
		a.Log.Errorf("app: present: %v", err)
	}
	if err := a.GPU.Submit(); err != nil {
		a.Log.Errorf("app: submit: %v", err)
	}
	a.Surface.Present()
	a.Profiler.Record("frame", time.Since(start))

	now := glfw.GetTime()
	if a.LastRenderTime > 0 {
		a.FrameCount++
		a.FPSTime += now - a.LastRenderTime
		if a.FPSTime >= 1.0 {
			a.FPS = float64(a.FrameCount) / a.FPSTime
			a.FrameCount = 0
			a.FPSTime = 0
			a.Telemetry.Broadcast(a.Profiler.Snapshot())
		}
	}
	a.LastRenderTime = now
	a.Profiler.EndFrame(a.FPS)
}

// present blits the final target and the stats text onto the swapchain view, on the frame encoder.
func (a *App) present(view *wgpu.TextureView) error {
	bg, err := a.blitBindGroup()
	if err != nil {
		return err
	}
	encoder, err := a.GPU.Encoder()
	if err != nil {
		return err
	}
	rPass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:       view,
			LoadOp:     wgpu.LoadOpClear,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: wgpu.Color{R: 0, G: 0, B: 0, A: 1},
		}},
	})
	rPass.SetPipeline(a.BlitPipeline)
	rPass.SetBindGroup(0, bg, nil)
	rPass.Draw(3, 1, 0, 0)

	if a.TextVertexCount > 0 && a.TextVertexBuffer != nil && a.TextBindGroup != nil {
		rPass.SetPipeline(a.TextPipeline)
		rPass.SetBindGroup(0, a.TextBindGroup, nil)
		rPass.SetVertexBuffer(0, a.TextVertexBuffer, 0, a.TextVertexBuffer.GetSize())
		rPass.Draw(a.TextVertexCount, 1, 0, 0)
	}
	if err := rPass.End(); err != nil {
		return fmt.Errorf("blit pass: %w", err)
	}
	rPass.Release()
	return nil
}

func (a *App) setupTextResources() error {
	img := a.Text.Image
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	tex, err := a.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "Text Atlas",
		Size:          wgpu.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1},
		Format:        wgpu.TextureFormatR8Unorm,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
		Dimension:     wgpu.TextureDimension2D,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return err
	}
	a.Queue.WriteTexture(tex.AsImageCopy(), img.Pix, &wgpu.TextureDataLayout{
		Offset:       0,
		BytesPerRow:  uint32(img.Stride),
		RowsPerImage: uint32(h),
	}, &wgpu.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1})

	a.TextAtlasView, err = tex.CreateView(nil)
	if err != nil {
		return err
	}

	textMod, err := a.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "Text Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.TextWGSL},
	})
	if err != nil {
		return err
	}
	defer textMod.Release()

	a.TextPipeline, err = a.Device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label: "Text Pipeline",
		Vertex: wgpu.VertexState{
			Module:     textMod,
			EntryPoint: "vs_main",
			Buffers: []wgpu.VertexBufferLayout{{
				ArrayStride: textVertexFloats * 4,
				StepMode:    wgpu.VertexStepModeVertex,
				Attributes: []wgpu.VertexAttribute{
					{Format: wgpu.VertexFormatFloat32x2, Offset: 0, ShaderLocation: 0},
					{Format: wgpu.VertexFormatFloat32x2, Offset: 8, ShaderLocation: 1},
					{Format: wgpu.VertexFormatFloat32x4, Offset: 16, ShaderLocation: 2},
				},
			}},
		},
		Fragment: &wgpu.FragmentState{
			Module:     textMod,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{{
				Format: a.Config.Format,
				Blend: &wgpu.BlendState{
					Color: wgpu.BlendComponent{
						SrcFactor: wgpu.BlendFactorSrcAlpha,
						DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
						Operation: wgpu.BlendOperationAdd,
					},
					Alpha: wgpu.BlendComponent{
						SrcFactor: wgpu.BlendFactorOne,
						DstFactor: wgpu.BlendFactorOne,
						Operation: wgpu.BlendOperationAdd,
					},
				},
				WriteMask: wgpu.ColorWriteMaskAll,
			}},
		},
		Primitive: wgpu.PrimitiveState{
			Topology: wgpu.PrimitiveTopologyTriangleList,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return err
	}

	a.TextBindGroup, err = a.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Layout: a.TextPipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, TextureView: a.TextAtlasView},
			{Binding: 1, Sampler: a.Sampler},
		},
	})
	return err
}

// Release shuts the telemetry endpoint and frees the GPU objects in reverse order of creation.
func (a *App) Release() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = a.server.Shutdown(ctx)
		cancel()
	}
	a.Telemetry.Close()
	if a.TextVertexBuffer != nil {
		a.TextVertexBuffer.Release()
	}
	if a.TextBindGroup != nil {
		a.TextBindGroup.Release()
	}
	if a.TextPipeline != nil {
		a.TextPipeline.Release()
	}
	if a.blitBG != nil {
		a.blitBG.Release()
	}
	if a.BlitPipeline != nil {
		a.BlitPipeline.Release()
	}
	if a.Sampler != nil {
		a.Sampler.Release()
	}
	if a.GPU != nil {
		a.GPU.Release()
	}
	if a.Device != nil {
		a.Device.Release()
	}
	if a.Surface != nil {
		a.Surface.Release()
	}
	if a.Adapter != nil {
		a.Adapter.Release()
	}
	if a.Instance != nil {
		a.Instance.Release()
	}
}
