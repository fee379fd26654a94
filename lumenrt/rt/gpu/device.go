package gpu

import (
	"errors"
	"math"

	"github.com/gekko3d/lumen/lumenrt/rt/pool"
)

type TextureHandle pool.Handle
type BufferHandle pool.Handle

// VertexStride is the byte size of a mesh vertex: position(3) + normal(3) + uv(2) floats.
const VertexStride = 32

const (
	NoTexture TextureHandle = 0
	NoBuffer  BufferHandle  = 0
)

var ErrNoPass = errors.New("gpu: draw outside of a render pass")

type TextureFormat int

const (
	FormatRGBA8Unorm TextureFormat = iota
	FormatRGBA16Float
	FormatRGBA32Float
	FormatR32Float
	FormatR8Unorm
	FormatDepth32Float
)

// BytesPerTexel is the size of one texel as laid out in WriteTexture/ReadTexture payloads.
func (f TextureFormat) BytesPerTexel() int {
	switch f {
	case FormatRGBA8Unorm, FormatR32Float, FormatDepth32Float:
		return 4
	case FormatRGBA16Float:
		return 8
	case FormatRGBA32Float:
		return 16
	case FormatR8Unorm:
		return 1
	}
	return 4
}

type TextureDimension int

const (
	Texture2D TextureDimension = iota
	Texture2DArray
	Texture3D
	// TextureCubeArray stores Layers cubemaps as 6*Layers array layers.
	TextureCubeArray
)

type TextureUsage uint32

const (
	UsageSampled TextureUsage = 1 << iota
	UsageStorage
	UsageRenderTarget
	UsageCopySrc
	UsageCopyDst
)

type TextureDesc struct {
	Label     string
	Width     uint32
	Height    uint32
	Layers    uint32 // depth for 3D, array layers for 2D arrays, cube count for cube arrays
	Mips      uint32
	Format    TextureFormat
	Dimension TextureDimension
	Usage     TextureUsage
}

// ArrayLayers is the number of 2D slices the texture is made of.
func (d TextureDesc) ArrayLayers() uint32 {
	layers := max(d.Layers, 1)
	switch d.Dimension {
	case Texture2D, Texture3D:
		return 1
	case TextureCubeArray:
		return layers * 6
	}
	return layers
}

type BufferUsage uint32

const (
	BufferUniform BufferUsage = 1 << iota
	BufferStorage
	BufferVertex
	BufferIndex
	BufferCopyDst
)

type BufferDesc struct {
	Label string
	Size  uint64
	Usage BufferUsage
}

// TextureRegion addresses one mip of one array layer (or of the whole volume for 3D textures).
type TextureRegion struct {
	Layer  uint32
	Mip    uint32
	Width  uint32
	Height uint32
	Depth  uint32
}

// TextureView selects a single layer of a texture, e.g. one shadow cascade.
type TextureView struct {
	Texture TextureHandle
	Layer   uint32
}

type CullMode int

const (
	CullNone CullMode = iota
	CullBack
	CullFront
)

type RasterState struct {
	Cull CullMode
	// DepthBias is a constant offset as a fraction of the [0,1] depth range.
	DepthBias            float32
	SlopeScaledDepthBias float32
	DepthClip            bool
	Wireframe            bool
}

// depthBiasScale converts a [0,1] depth offset to the integer units of a 24 bit mantissa,
// the resolution wgpu assumes for constant bias on 32 bit float depth.
const depthBiasScale = 1 << 24

// DepthBiasUnits converts RasterState.DepthBias to the integer bias of a depth stencil state.
func DepthBiasUnits(bias float32) int32 {
	return int32(math.Round(float64(bias) * depthBiasScale))
}

func DefaultRasterState() RasterState {
	return RasterState{Cull: CullBack, DepthClip: true}
}

type RenderPassDesc struct {
	Label      string
	Color      []TextureView
	Depth      TextureView
	ClearColor *[4]float32
	ClearDepth bool
	Viewport   [2]uint32
}

// Pipeline names a shader program known to every Device implementation.
type Pipeline int

const (
	PipelineShadowDepth Pipeline = iota
	PipelineVoxelize
	PipelineForward
	PipelineProbeCapture
	PipelineDebugLines
	PipelineGBuffer
	PipelineVoxelClear
	PipelineVoxelMips
	PipelineConeTrace
	PipelineUpsampleBlur
	PipelineDeferredLighting
	PipelineDebugVoxels
	pipelineCount
)

var pipelineNames = [...]string{
	"ShadowDepth", "Voxelize", "Forward", "ProbeCapture", "DebugLines", "GBuffer",
	"VoxelClear", "VoxelMips", "ConeTrace", "UpsampleBlur", "DeferredLighting", "DebugVoxels",
}

func (p Pipeline) String() string {
	if p < 0 || p >= pipelineCount {
		return "Unknown"
	}
	return pipelineNames[p]
}

func (p Pipeline) IsCompute() bool {
	return p >= PipelineVoxelClear && p < pipelineCount
}

type SamplerKind int

const (
	SamplerNone SamplerKind = iota
	SamplerLinear
	SamplerLinearClamp
	SamplerShadowCompare
)

// Binding attaches one resource to a shader slot. Exactly one of Texture, Buffer or Sampler is set.
type Binding struct {
	Slot    uint32
	Texture TextureHandle
	Layer   int // -1 binds every layer; otherwise a single layer view
	Mip     int // -1 binds every mip
	Storage bool
	Buffer  BufferHandle
	Sampler SamplerKind
}

func TextureBinding(slot uint32, tex TextureHandle) Binding {
	return Binding{Slot: slot, Texture: tex, Layer: -1, Mip: -1}
}

func StorageBinding(slot uint32, tex TextureHandle, mip int) Binding {
	return Binding{Slot: slot, Texture: tex, Layer: -1, Mip: mip, Storage: true}
}

func BufferBinding(slot uint32, buf BufferHandle) Binding {
	return Binding{Slot: slot, Buffer: buf, Layer: -1, Mip: -1}
}

func SamplerBinding(slot uint32, kind SamplerKind) Binding {
	return Binding{Slot: slot, Sampler: kind, Layer: -1, Mip: -1}
}

type Mesh struct {
	VertexBuffer BufferHandle
	IndexBuffer  BufferHandle
	IndexCount   uint32
}

type DrawCall struct {
	Label     string
	Pipeline  Pipeline
	Mesh      Mesh
	Uniforms  []byte
	Bindings  []Binding
	Instances uint32
	// VertexCount draws non-indexed geometry (Mesh.VertexBuffer may be NoBuffer for fullscreen/procedural draws).
	VertexCount uint32
}

type DispatchCall struct {
	Label    string
	Pipeline Pipeline
	Uniforms []byte
	Bindings []Binding
	Groups   [3]uint32
}

// Device is the capability set the illumination pipeline needs from a graphics API.
// Resource creation errors are fatal to the caller; per-frame calls either succeed or leave
// stale data behind.
type Device interface {
	CreateTexture(desc TextureDesc) (TextureHandle, error)
	// ReleaseTexture frees tex. The handle may be reissued by a later CreateTexture.
	ReleaseTexture(tex TextureHandle)
	CreateBuffer(desc BufferDesc) (BufferHandle, error)
	TextureDesc(tex TextureHandle) TextureDesc
	WriteBuffer(buf BufferHandle, offset uint64, data []byte)
	WriteTexture(tex TextureHandle, region TextureRegion, data []byte)
	ReadTexture(tex TextureHandle, region TextureRegion) ([]byte, error)

	BeginRenderPass(desc RenderPassDesc) error
	EndRenderPass()
	RasterState() RasterState
	SetRasterState(state RasterState)
	Draw(call DrawCall) error
	Dispatch(call DispatchCall) error
	// Barrier makes writes to the given textures visible to subsequent passes.
	Barrier(textures ...TextureHandle)
	GenerateMips(tex TextureHandle)

	Submit() error
	Release()
}

// Logger receives errors a device cannot return to its caller. core.Logger satisfies it.
type Logger interface {
	Warnf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Warnf(format string, args ...any) {}

// WorkgroupCount rounds size up to a whole number of workgroups.
func WorkgroupCount(size, group uint32) uint32 {
	if group == 0 {
		return 0
	}
	return (size + group - 1) / group
}
