package gpu

import (
	"fmt"

	"github.com/gekko3d/lumen/lumenrt/rt/pool"
	"github.com/gekko3d/lumen/lumenrt/rt/shaders"

	"github.com/cogentcore/webgpu/wgpu"
)

const (
	uniformRingSize  = 4 * 1024 * 1024
	uniformAlignment = 256

	maxColorTargets = 4
)

type wgpuTexture struct {
	tex  *wgpu.Texture
	desc TextureDesc
}

type viewKey struct {
	tex     TextureHandle
	layer   int
	mip     int
	storage bool
	target  bool
}

type pipelineKey struct {
	pipeline Pipeline
	raster   RasterState
	colors   [maxColorTargets]TextureFormat
	nColors  int
	hasDepth bool
}

type pipelineSource struct {
	code     string
	vertex   string
	fragment string
	compute  string
}

var pipelineSources = map[Pipeline]pipelineSource{
	PipelineShadowDepth:      {code: shaders.ShadowDepthWGSL, vertex: "vs_main"},
	PipelineVoxelize:         {code: shaders.VoxelizeWGSL, vertex: "vs_main", fragment: "fs_main"},
	PipelineForward:          {code: shaders.ForwardWGSL, vertex: "vs_main", fragment: "fs_main"},
	PipelineProbeCapture:     {code: shaders.ProbeCaptureWGSL, vertex: "vs_main", fragment: "fs_main"},
	PipelineDebugLines:       {code: shaders.DebugLinesWGSL, vertex: "vs_main", fragment: "fs_main"},
	PipelineGBuffer:          {code: shaders.GBufferWGSL, vertex: "vs_main", fragment: "fs_main"},
	PipelineVoxelClear:       {code: shaders.VoxelClearWGSL, compute: "main"},
	PipelineVoxelMips:        {code: shaders.VoxelMipsWGSL, compute: "main"},
	PipelineConeTrace:        {code: shaders.ConeTraceWGSL, compute: "main"},
	PipelineUpsampleBlur:     {code: shaders.UpsampleBlurWGSL, compute: "main"},
	PipelineDeferredLighting: {code: shaders.DeferredLightingWGSL, compute: "main"},
	PipelineDebugVoxels:      {code: shaders.DebugVoxelsWGSL, compute: "main"},
}

// WGPUDevice implements Device on top of cogentcore/webgpu. Raster state is baked into
// pipelines, so render pipelines are cached per (program, raster state, target formats).
type WGPUDevice struct {
	Device *wgpu.Device
	Queue  *wgpu.Queue
	log    Logger

	textures *pool.Pool[wgpuTexture]
	buffers  *pool.Pool[*wgpu.Buffer]
	views    map[viewKey]*wgpu.TextureView
	samplers map[SamplerKind]*wgpu.Sampler
	modules  map[Pipeline]*wgpu.ShaderModule
	render   map[pipelineKey]*wgpu.RenderPipeline
	compute  map[Pipeline]*wgpu.ComputePipeline

	encoder     *wgpu.CommandEncoder
	pass        *wgpu.RenderPassEncoder
	passDesc    RenderPassDesc
	raster      RasterState
	uniformRing *wgpu.Buffer
	uniformHead uint64
	frameGroups []*wgpu.BindGroup

	Barriers int
}

var _ Device = (*WGPUDevice)(nil)

func NewWGPUDevice(device *wgpu.Device, log Logger) (*WGPUDevice, error) {
	if log == nil {
		log = nopLogger{}
	}
	d := &WGPUDevice{
		Device:   device,
		Queue:    device.GetQueue(),
		log:      log,
		textures: pool.New[wgpuTexture](128),
		buffers:  pool.New[*wgpu.Buffer](128),
		views:    make(map[viewKey]*wgpu.TextureView),
		samplers: make(map[SamplerKind]*wgpu.Sampler),
		modules:  make(map[Pipeline]*wgpu.ShaderModule),
		render:   make(map[pipelineKey]*wgpu.RenderPipeline),
		compute:  make(map[Pipeline]*wgpu.ComputePipeline),
		raster:   DefaultRasterState(),
	}

	var err error
	d.uniformRing, err = device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Uniform Ring",
		Size:  uniformRingSize,
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("uniform ring: %w", err)
	}

	for p, src := range pipelineSources {
		mod, err := device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
			Label:          p.String(),
			WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: src.code},
		})
		if err != nil {
			return nil, fmt.Errorf("shader %s: %w", p, err)
		}
		d.modules[p] = mod
		if src.compute != "" {
			cp, err := device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
				Label: p.String() + " Pipeline",
				Compute: wgpu.ProgrammableStageDescriptor{
					Module:     mod,
					EntryPoint: src.compute,
				},
			})
			if err != nil {
				return nil, fmt.Errorf("compute pipeline %s: %w", p, err)
			}
			d.compute[p] = cp
		}
	}

	if err := d.createSamplers(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *WGPUDevice) createSamplers() error {
	descs := map[SamplerKind]*wgpu.SamplerDescriptor{
		SamplerLinear: {
			Label:         "Linear Sampler",
			AddressModeU:  wgpu.AddressModeRepeat,
			AddressModeV:  wgpu.AddressModeRepeat,
			AddressModeW:  wgpu.AddressModeRepeat,
			MagFilter:     wgpu.FilterModeLinear,
			MinFilter:     wgpu.FilterModeLinear,
			MipmapFilter:  wgpu.MipmapFilterModeLinear,
			LodMaxClamp:   32,
			MaxAnisotropy: 1,
		},
		SamplerLinearClamp: {
			Label:         "Linear Clamp Sampler",
			AddressModeU:  wgpu.AddressModeClampToEdge,
			AddressModeV:  wgpu.AddressModeClampToEdge,
			AddressModeW:  wgpu.AddressModeClampToEdge,
			MagFilter:     wgpu.FilterModeLinear,
			MinFilter:     wgpu.FilterModeLinear,
			MipmapFilter:  wgpu.MipmapFilterModeLinear,
			LodMaxClamp:   32,
			MaxAnisotropy: 1,
		},
		SamplerShadowCompare: {
			Label:         "Shadow Comparison Sampler",
			AddressModeU:  wgpu.AddressModeClampToEdge,
			AddressModeV:  wgpu.AddressModeClampToEdge,
			AddressModeW:  wgpu.AddressModeClampToEdge,
			MagFilter:     wgpu.FilterModeLinear,
			MinFilter:     wgpu.FilterModeLinear,
			MipmapFilter:  wgpu.MipmapFilterModeNearest,
			Compare:       wgpu.CompareFunctionLessEqual,
			MaxAnisotropy: 1,
		},
	}
	for kind, desc := range descs {
		s, err := d.Device.CreateSampler(desc)
		if err != nil {
			return fmt.Errorf("sampler %s: %w", desc.Label, err)
		}
		d.samplers[kind] = s
	}
	return nil
}

func toWGPUFormat(f TextureFormat) wgpu.TextureFormat {
	switch f {
	case FormatRGBA16Float:
		return wgpu.TextureFormatRGBA16Float
	case FormatRGBA32Float:
		return wgpu.TextureFormatRGBA32Float
	case FormatR32Float:
		return wgpu.TextureFormatR32Float
	case FormatR8Unorm:
		return wgpu.TextureFormatR8Unorm
	case FormatDepth32Float:
		return wgpu.TextureFormatDepth32Float
	}
	return wgpu.TextureFormatRGBA8Unorm
}

func toWGPUTextureUsage(u TextureUsage) wgpu.TextureUsage {
	var out wgpu.TextureUsage
	if u&UsageSampled != 0 {
		out |= wgpu.TextureUsageTextureBinding
	}
	if u&UsageStorage != 0 {
		out |= wgpu.TextureUsageStorageBinding
	}
	if u&UsageRenderTarget != 0 {
		out |= wgpu.TextureUsageRenderAttachment
	}
	if u&UsageCopySrc != 0 {
		out |= wgpu.TextureUsageCopySrc
	}
	if u&UsageCopyDst != 0 {
		out |= wgpu.TextureUsageCopyDst
	}
	return out
}

func toWGPUBufferUsage(u BufferUsage) wgpu.BufferUsage {
	out := wgpu.BufferUsageCopyDst
	if u&BufferUniform != 0 {
		out |= wgpu.BufferUsageUniform
	}
	if u&BufferStorage != 0 {
		out |= wgpu.BufferUsageStorage
	}
	if u&BufferVertex != 0 {
		out |= wgpu.BufferUsageVertex
	}
	if u&BufferIndex != 0 {
		out |= wgpu.BufferUsageIndex
	}
	return out
}

func toWGPUCull(c CullMode) wgpu.CullMode {
	switch c {
	case CullBack:
		return wgpu.CullModeBack
	case CullFront:
		return wgpu.CullModeFront
	}
	return wgpu.CullModeNone
}

func (d *WGPUDevice) CreateTexture(desc TextureDesc) (TextureHandle, error) {
	if desc.Mips == 0 {
		desc.Mips = 1
	}
	dim := wgpu.TextureDimension2D
	depth := desc.ArrayLayers()
	if desc.Dimension == Texture3D {
		dim = wgpu.TextureDimension3D
		depth = max(desc.Layers, 1)
	}
	tex, err := d.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         desc.Label,
		Size:          wgpu.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: depth},
		MipLevelCount: desc.Mips,
		SampleCount:   1,
		Dimension:     dim,
		Format:        toWGPUFormat(desc.Format),
		Usage:         toWGPUTextureUsage(desc.Usage),
	})
	if err != nil {
		return NoTexture, fmt.Errorf("texture %q: %w", desc.Label, err)
	}
	return TextureHandle(d.textures.Add(wgpuTexture{tex: tex, desc: desc})), nil
}

// ReleaseTexture frees tex and every view cached for it. Commands already encoded keep
// their own reference, so this is safe before Submit.
func (d *WGPUDevice) ReleaseTexture(tex TextureHandle) {
	for k, v := range d.views {
		if k.tex == tex {
			v.Release()
			delete(d.views, k)
		}
	}
	d.textures.Remove(pool.Handle(tex)).tex.Release()
}

func (d *WGPUDevice) CreateBuffer(desc BufferDesc) (BufferHandle, error) {
	size := desc.Size
	if size%4 != 0 {
		size += 4 - size%4
	}
	buf, err := d.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: desc.Label,
		Size:  size,
		Usage: toWGPUBufferUsage(desc.Usage),
	})
	if err != nil {
		return NoBuffer, fmt.Errorf("buffer %q: %w", desc.Label, err)
	}
	return BufferHandle(d.buffers.Add(buf)), nil
}

func (d *WGPUDevice) TextureDesc(tex TextureHandle) TextureDesc {
	return d.textures.Get(pool.Handle(tex)).desc
}

func (d *WGPUDevice) WriteBuffer(buf BufferHandle, offset uint64, data []byte) {
	if len(data) == 0 {
		return
	}
	if err := d.Queue.WriteBuffer(d.buffers.Get(pool.Handle(buf)), offset, data); err != nil {
		d.log.Warnf("gpu: write buffer %d: %v", buf, err)
	}
}

func (d *WGPUDevice) WriteTexture(tex TextureHandle, region TextureRegion, data []byte) {
	t := d.textures.Get(pool.Handle(tex))
	bpp := uint32(t.desc.Format.BytesPerTexel())
	depth := max(region.Depth, 1)
	origin := wgpu.Origin3D{Z: region.Layer}
	if t.desc.Dimension == Texture3D {
		origin.Z = 0
	}
	err := d.Queue.WriteTexture(&wgpu.ImageCopyTexture{
		Texture:  t.tex,
		MipLevel: region.Mip,
		Origin:   origin,
		Aspect:   wgpu.TextureAspectAll,
	}, data, &wgpu.TextureDataLayout{
		Offset:       0,
		BytesPerRow:  region.Width * bpp,
		RowsPerImage: region.Height,
	}, &wgpu.Extent3D{Width: region.Width, Height: region.Height, DepthOrArrayLayers: depth})
	if err != nil {
		d.log.Warnf("gpu: write texture %q layer %d mip %d: %v", t.desc.Label, region.Layer, region.Mip, err)
	}
}

// ReadTexture copies one layer/mip to a mapped buffer and blocks until it is readable.
// It is meant for bake time, never for per-frame use.
func (d *WGPUDevice) ReadTexture(tex TextureHandle, region TextureRegion) ([]byte, error) {
	if err := d.flush(); err != nil {
		return nil, err
	}
	t := d.textures.Get(pool.Handle(tex))
	bpp := uint32(t.desc.Format.BytesPerTexel())
	rowBytes := region.Width * bpp
	bytesPerRow := (rowBytes + 255) &^ uint32(255)
	size := uint64(bytesPerRow * region.Height)

	readback, err := d.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Texture Readback",
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, err
	}
	defer readback.Release()

	encoder, err := d.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, err
	}
	err = encoder.CopyTextureToBuffer(
		&wgpu.ImageCopyTexture{
			Texture:  t.tex,
			MipLevel: region.Mip,
			Origin:   wgpu.Origin3D{Z: region.Layer},
		},
		&wgpu.ImageCopyBuffer{
			Buffer: readback,
			Layout: wgpu.TextureDataLayout{
				Offset:       0,
				BytesPerRow:  bytesPerRow,
				RowsPerImage: region.Height,
			},
		},
		&wgpu.Extent3D{Width: region.Width, Height: region.Height, DepthOrArrayLayers: 1},
	)
	if err != nil {
		d.log.Warnf("gpu: readback copy of %q: %v", t.desc.Label, err)
	}
	cmd, err := encoder.Finish(nil)
	encoder.Release()
	if err != nil {
		return nil, err
	}
	d.Queue.Submit(cmd)
	cmd.Release()

	var status wgpu.BufferMapAsyncStatus
	mapped := false
	if err := readback.MapAsync(wgpu.MapModeRead, 0, size, func(s wgpu.BufferMapAsyncStatus) {
		status = s
		mapped = true
	}); err != nil {
		return nil, err
	}
	for !mapped {
		d.Device.Poll(true, nil)
	}
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, fmt.Errorf("readback of %q failed: status %d", t.desc.Label, status)
	}

	data := readback.GetMappedRange(0, uint(size))
	out := make([]byte, 0, rowBytes*region.Height)
	for y := uint32(0); y < region.Height; y++ {
		row := data[y*bytesPerRow : y*bytesPerRow+rowBytes]
		out = append(out, row...)
	}
	readback.Unmap()
	return out, nil
}

func (d *WGPUDevice) view(k viewKey) (*wgpu.TextureView, error) {
	if v, ok := d.views[k]; ok {
		return v, nil
	}
	t := d.textures.Get(pool.Handle(k.tex))
	desc := &wgpu.TextureViewDescriptor{
		Label:           t.desc.Label + " View",
		Format:          toWGPUFormat(t.desc.Format),
		BaseMipLevel:    0,
		MipLevelCount:   t.desc.Mips,
		BaseArrayLayer:  0,
		ArrayLayerCount: t.desc.ArrayLayers(),
		Aspect:          wgpu.TextureAspectAll,
	}
	switch t.desc.Dimension {
	case Texture3D:
		desc.Dimension = wgpu.TextureViewDimension3D
	case Texture2DArray:
		desc.Dimension = wgpu.TextureViewDimension2DArray
	case TextureCubeArray:
		desc.Dimension = wgpu.TextureViewDimensionCubeArray
	default:
		desc.Dimension = wgpu.TextureViewDimension2D
	}
	if k.mip >= 0 {
		desc.BaseMipLevel = uint32(k.mip)
		desc.MipLevelCount = 1
	}
	if k.layer >= 0 && t.desc.Dimension != Texture3D {
		desc.BaseArrayLayer = uint32(k.layer)
		desc.ArrayLayerCount = 1
		desc.Dimension = wgpu.TextureViewDimension2D
	}
	if k.storage && t.desc.Dimension == TextureCubeArray {
		desc.Dimension = wgpu.TextureViewDimension2DArray
	}
	v, err := t.tex.CreateView(desc)
	if err != nil {
		return nil, err
	}
	d.views[k] = v
	return v, nil
}

// TextureView exposes the full view of tex, for passes the app layer encodes itself.
func (d *WGPUDevice) TextureView(tex TextureHandle) *wgpu.TextureView {
	v, err := d.view(viewKey{tex: tex, layer: -1, mip: -1})
	if err != nil {
		panic(err)
	}
	return v
}

func (d *WGPUDevice) ensureEncoder() error {
	if d.encoder != nil {
		return nil
	}
	encoder, err := d.Device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	d.encoder = encoder
	return nil
}

// Encoder returns the frame encoder so the app can append its presentation passes before Submit.
func (d *WGPUDevice) Encoder() (*wgpu.CommandEncoder, error) {
	if err := d.ensureEncoder(); err != nil {
		return nil, err
	}
	return d.encoder, nil
}

func (d *WGPUDevice) BeginRenderPass(desc RenderPassDesc) error {
	if d.pass != nil {
		return fmt.Errorf("render pass %q begun inside another pass", desc.Label)
	}
	if err := d.ensureEncoder(); err != nil {
		return err
	}

	rp := &wgpu.RenderPassDescriptor{Label: desc.Label}
	for _, c := range desc.Color {
		v, err := d.view(viewKey{tex: c.Texture, layer: int(c.Layer), mip: 0, target: true})
		if err != nil {
			return err
		}
		att := wgpu.RenderPassColorAttachment{View: v, LoadOp: wgpu.LoadOpLoad, StoreOp: wgpu.StoreOpStore}
		if desc.ClearColor != nil {
			cc := desc.ClearColor
			att.LoadOp = wgpu.LoadOpClear
			att.ClearValue = wgpu.Color{R: float64(cc[0]), G: float64(cc[1]), B: float64(cc[2]), A: float64(cc[3])}
		}
		rp.ColorAttachments = append(rp.ColorAttachments, att)
	}
	if desc.Depth.Texture != NoTexture {
		v, err := d.view(viewKey{tex: desc.Depth.Texture, layer: int(desc.Depth.Layer), mip: 0, target: true})
		if err != nil {
			return err
		}
		loadOp := wgpu.LoadOpLoad
		if desc.ClearDepth {
			loadOp = wgpu.LoadOpClear
		}
		rp.DepthStencilAttachment = &wgpu.RenderPassDepthStencilAttachment{
			View:            v,
			DepthLoadOp:     loadOp,
			DepthStoreOp:    wgpu.StoreOpStore,
			DepthClearValue: 1.0,
		}
	}
	d.pass = d.encoder.BeginRenderPass(rp)
	d.passDesc = desc
	if desc.Viewport[0] > 0 && desc.Viewport[1] > 0 {
		d.pass.SetViewport(0, 0, float32(desc.Viewport[0]), float32(desc.Viewport[1]), 0, 1)
	}
	return nil
}

func (d *WGPUDevice) EndRenderPass() {
	if d.pass == nil {
		return
	}
	if err := d.pass.End(); err != nil {
		d.log.Warnf("gpu: end pass %q: %v", d.passDesc.Label, err)
	}
	d.pass.Release()
	d.pass = nil
}

func (d *WGPUDevice) RasterState() RasterState {
	return d.raster
}

func (d *WGPUDevice) SetRasterState(state RasterState) {
	d.raster = state
}

func (d *WGPUDevice) renderPipeline(p Pipeline) (*wgpu.RenderPipeline, error) {
	key := pipelineKey{pipeline: p, raster: d.raster, hasDepth: d.passDesc.Depth.Texture != NoTexture}
	for i, c := range d.passDesc.Color {
		if i == maxColorTargets {
			return nil, fmt.Errorf("%s: more than %d color targets", p, maxColorTargets)
		}
		key.colors[i] = d.TextureDesc(c.Texture).Format
		key.nColors = i + 1
	}
	if rp, ok := d.render[key]; ok {
		return rp, nil
	}

	src := pipelineSources[p]
	mod := d.modules[p]
	desc := &wgpu.RenderPipelineDescriptor{
		Label: p.String() + " Pipeline",
		Vertex: wgpu.VertexState{
			Module:     mod,
			EntryPoint: src.vertex,
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  toWGPUCull(d.raster.Cull),
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	}
	if p == PipelineDebugLines {
		desc.Primitive.Topology = wgpu.PrimitiveTopologyLineList
		desc.Primitive.CullMode = wgpu.CullModeNone
	} else {
		desc.Vertex.Buffers = []wgpu.VertexBufferLayout{{
			ArrayStride: VertexStride,
			StepMode:    wgpu.VertexStepModeVertex,
			Attributes: []wgpu.VertexAttribute{
				{Format: wgpu.VertexFormatFloat32x3, Offset: 0, ShaderLocation: 0},
				{Format: wgpu.VertexFormatFloat32x3, Offset: 12, ShaderLocation: 1},
				{Format: wgpu.VertexFormatFloat32x2, Offset: 24, ShaderLocation: 2},
			},
		}}
	}
	if key.nColors > 0 && src.fragment != "" {
		targets := make([]wgpu.ColorTargetState, key.nColors)
		for i := range targets {
			targets[i] = wgpu.ColorTargetState{
				Format:    toWGPUFormat(key.colors[i]),
				WriteMask: wgpu.ColorWriteMaskAll,
			}
		}
		desc.Fragment = &wgpu.FragmentState{
			Module:     mod,
			EntryPoint: src.fragment,
			Targets:    targets,
		}
	}
	if key.hasDepth {
		desc.DepthStencil = &wgpu.DepthStencilState{
			Format:              wgpu.TextureFormatDepth32Float,
			DepthWriteEnabled:   p != PipelineDebugLines,
			DepthCompare:        wgpu.CompareFunctionLessEqual,
			DepthBias:           DepthBiasUnits(d.raster.DepthBias),
			DepthBiasSlopeScale: d.raster.SlopeScaledDepthBias,
			StencilFront:        wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
			StencilBack:         wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
		}
	}
	rp, err := d.Device.CreateRenderPipeline(desc)
	if err != nil {
		return nil, fmt.Errorf("render pipeline %s: %w", p, err)
	}
	d.render[key] = rp
	return rp, nil
}

func (d *WGPUDevice) bindGroup(layout *wgpu.BindGroupLayout, uniforms []byte, bindings []Binding) (*wgpu.BindGroup, error) {
	entries := make([]wgpu.BindGroupEntry, 0, len(bindings)+1)
	if len(uniforms) > 0 {
		size := uint64(len(uniforms))
		if d.uniformHead+size > uniformRingSize {
			return nil, fmt.Errorf("uniform ring exhausted")
		}
		offset := d.uniformHead
		if err := d.Queue.WriteBuffer(d.uniformRing, offset, uniforms); err != nil {
			return nil, fmt.Errorf("uniform ring: %w", err)
		}
		d.uniformHead += (size + uniformAlignment - 1) &^ (uniformAlignment - 1)
		entries = append(entries, wgpu.BindGroupEntry{Binding: 0, Buffer: d.uniformRing, Offset: offset, Size: size})
	}
	for _, b := range bindings {
		switch {
		case b.Texture != NoTexture:
			v, err := d.view(viewKey{tex: b.Texture, layer: b.Layer, mip: b.Mip, storage: b.Storage})
			if err != nil {
				return nil, err
			}
			entries = append(entries, wgpu.BindGroupEntry{Binding: b.Slot, TextureView: v})
		case b.Buffer != NoBuffer:
			entries = append(entries, wgpu.BindGroupEntry{Binding: b.Slot, Buffer: d.buffers.Get(pool.Handle(b.Buffer)), Size: wgpu.WholeSize})
		case b.Sampler != SamplerNone:
			entries = append(entries, wgpu.BindGroupEntry{Binding: b.Slot, Sampler: d.samplers[b.Sampler]})
		}
	}
	bg, err := d.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{Layout: layout, Entries: entries})
	if err != nil {
		return nil, err
	}
	d.frameGroups = append(d.frameGroups, bg)
	return bg, nil
}

func (d *WGPUDevice) Draw(call DrawCall) error {
	if d.pass == nil {
		return ErrNoPass
	}
	rp, err := d.renderPipeline(call.Pipeline)
	if err != nil {
		return err
	}
	bg, err := d.bindGroup(rp.GetBindGroupLayout(0), call.Uniforms, call.Bindings)
	if err != nil {
		return fmt.Errorf("%s: %w", call.Label, err)
	}
	instances := max(call.Instances, 1)
	d.pass.SetPipeline(rp)
	d.pass.SetBindGroup(0, bg, nil)
	if call.Mesh.VertexBuffer != NoBuffer {
		d.pass.SetVertexBuffer(0, d.buffers.Get(pool.Handle(call.Mesh.VertexBuffer)), 0, wgpu.WholeSize)
	}
	if call.Mesh.IndexBuffer != NoBuffer {
		d.pass.SetIndexBuffer(d.buffers.Get(pool.Handle(call.Mesh.IndexBuffer)), wgpu.IndexFormatUint32, 0, wgpu.WholeSize)
		d.pass.DrawIndexed(call.Mesh.IndexCount, instances, 0, 0, 0)
		return nil
	}
	d.pass.Draw(call.VertexCount, instances, 0, 0)
	return nil
}

func (d *WGPUDevice) Dispatch(call DispatchCall) error {
	if d.pass != nil {
		return fmt.Errorf("dispatch %q inside a render pass", call.Label)
	}
	if err := d.ensureEncoder(); err != nil {
		return err
	}
	cp, ok := d.compute[call.Pipeline]
	if !ok {
		return fmt.Errorf("%s is not a compute pipeline", call.Pipeline)
	}
	bg, err := d.bindGroup(cp.GetBindGroupLayout(0), call.Uniforms, call.Bindings)
	if err != nil {
		return fmt.Errorf("%s: %w", call.Label, err)
	}
	cPass := d.encoder.BeginComputePass(nil)
	cPass.SetPipeline(cp)
	cPass.SetBindGroup(0, bg, nil)
	cPass.DispatchWorkgroups(call.Groups[0], call.Groups[1], call.Groups[2])
	err = cPass.End()
	cPass.Release()
	return err
}

// Barrier is satisfied by pass boundaries: every dispatch runs in its own compute pass and
// the usage tracker orders a pass after the passes whose writes it reads.
func (d *WGPUDevice) Barrier(textures ...TextureHandle) {
	d.EndRenderPass()
	d.Barriers++
}

func (d *WGPUDevice) GenerateMips(tex TextureHandle) {
	desc := d.TextureDesc(tex)
	if desc.Dimension != Texture3D {
		return
	}
	size := desc.Width
	for mip := uint32(1); mip < desc.Mips; mip++ {
		size = max(size/2, 1)
		err := d.Dispatch(DispatchCall{
			Label:    "Voxel Mips",
			Pipeline: PipelineVoxelMips,
			Uniforms: NewUniforms(16).Uint(mip).Uint(size).Bytes(),
			Bindings: []Binding{
				{Slot: 1, Texture: tex, Layer: -1, Mip: int(mip - 1)},
				StorageBinding(2, tex, int(mip)),
			},
			Groups: [3]uint32{WorkgroupCount(size, 4), WorkgroupCount(size, 4), WorkgroupCount(size, 4)},
		})
		if err != nil {
			d.log.Warnf("gpu: mip %d of %q: %v", mip, desc.Label, err)
			return
		}
	}
}

func (d *WGPUDevice) flush() error {
	d.EndRenderPass()
	if d.encoder == nil {
		return nil
	}
	cmd, err := d.encoder.Finish(nil)
	d.encoder.Release()
	d.encoder = nil
	if err != nil {
		return err
	}
	d.Queue.Submit(cmd)
	cmd.Release()
	return nil
}

func (d *WGPUDevice) Submit() error {
	err := d.flush()
	for _, bg := range d.frameGroups {
		bg.Release()
	}
	d.frameGroups = d.frameGroups[:0]
	d.uniformHead = 0
	return err
}

func (d *WGPUDevice) Release() {
	d.EndRenderPass()
	if d.encoder != nil {
		d.encoder.Release()
		d.encoder = nil
	}
	for _, v := range d.views {
		v.Release()
	}
	d.views = map[viewKey]*wgpu.TextureView{}
	for _, rp := range d.render {
		rp.Release()
	}
	for _, cp := range d.compute {
		cp.Release()
	}
	for _, s := range d.samplers {
		s.Release()
	}
	for _, m := range d.modules {
		m.Release()
	}
	d.textures.Release(func(t wgpuTexture) { t.tex.Release() })
	d.buffers.Release(func(b *wgpu.Buffer) { b.Release() })
	d.uniformRing.Release()
}
