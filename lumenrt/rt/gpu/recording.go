package gpu

import (
	"fmt"
	"sync"

	"github.com/gekko3d/lumen/lumenrt/rt/pool"
)

type CommandKind int

const (
	CmdCreateTexture CommandKind = iota
	CmdCreateBuffer
	CmdWriteBuffer
	CmdWriteTexture
	CmdBeginPass
	CmdEndPass
	CmdSetRaster
	CmdDraw
	CmdDispatch
	CmdBarrier
	CmdGenerateMips
	CmdSubmit
	CmdReleaseTexture
)

func (k CommandKind) String() string {
	return [...]string{
		"CreateTexture", "CreateBuffer", "WriteBuffer", "WriteTexture", "BeginPass", "EndPass",
		"SetRaster", "Draw", "Dispatch", "Barrier", "GenerateMips", "Submit", "ReleaseTexture",
	}[k]
}

type Command struct {
	Kind     CommandKind
	Label    string
	Pipeline Pipeline
	Texture  TextureHandle
	Buffer   BufferHandle
	Textures []TextureHandle
	Raster   RasterState
	Pass     RenderPassDesc
	Bindings []Binding
	Uniforms []byte
}

type recordedTexture struct {
	desc TextureDesc
	data map[[2]uint32][]byte // (layer, mip) -> texels
}

type recordedBuffer struct {
	desc BufferDesc
	data []byte
}

// RecordingDevice keeps every call in memory. It backs the headless demo and the tests.
type RecordingDevice struct {
	mu       sync.Mutex
	textures *pool.Pool[recordedTexture]
	buffers  *pool.Pool[recordedBuffer]
	commands []Command
	raster   RasterState
	inPass   bool
	released bool

	// FailCreate, when set, is consulted before each resource creation.
	FailCreate func(label string) error
}

var _ Device = (*RecordingDevice)(nil)

func NewRecordingDevice() *RecordingDevice {
	return &RecordingDevice{
		textures: pool.New[recordedTexture](64),
		buffers:  pool.New[recordedBuffer](64),
		raster:   DefaultRasterState(),
	}
}

func (d *RecordingDevice) record(c Command) {
	d.commands = append(d.commands, c)
}

func (d *RecordingDevice) CreateTexture(desc TextureDesc) (TextureHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailCreate != nil {
		if err := d.FailCreate(desc.Label); err != nil {
			return NoTexture, err
		}
	}
	if desc.Width == 0 || desc.Height == 0 {
		return NoTexture, fmt.Errorf("texture %q has zero size", desc.Label)
	}
	if desc.Mips == 0 {
		desc.Mips = 1
	}
	h := TextureHandle(d.textures.Add(recordedTexture{desc: desc, data: make(map[[2]uint32][]byte)}))
	d.record(Command{Kind: CmdCreateTexture, Label: desc.Label, Texture: h})
	return h, nil
}

func (d *RecordingDevice) ReleaseTexture(tex TextureHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.textures.Remove(pool.Handle(tex))
	d.record(Command{Kind: CmdReleaseTexture, Label: t.desc.Label, Texture: tex})
}

// LiveTextures counts textures created and not yet released.
func (d *RecordingDevice) LiveTextures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.textures.Live()
}

func (d *RecordingDevice) CreateBuffer(desc BufferDesc) (BufferHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailCreate != nil {
		if err := d.FailCreate(desc.Label); err != nil {
			return NoBuffer, err
		}
	}
	h := BufferHandle(d.buffers.Add(recordedBuffer{desc: desc, data: make([]byte, desc.Size)}))
	d.record(Command{Kind: CmdCreateBuffer, Label: desc.Label, Buffer: h})
	return h, nil
}

func (d *RecordingDevice) TextureDesc(tex TextureHandle) TextureDesc {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.textures.Get(pool.Handle(tex)).desc
}

func (d *RecordingDevice) WriteBuffer(buf BufferHandle, offset uint64, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.buffers.Ptr(pool.Handle(buf))
	end := offset + uint64(len(data))
	if end > uint64(len(b.data)) {
		panic(fmt.Sprintf("gpu: write of %d bytes at %d overflows buffer %q (%d bytes)", len(data), offset, b.desc.Label, len(b.data)))
	}
	copy(b.data[offset:end], data)
	d.record(Command{Kind: CmdWriteBuffer, Label: b.desc.Label, Buffer: buf})
}

// BufferData returns a copy of the buffer contents.
func (d *RecordingDevice) BufferData(buf BufferHandle) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.buffers.Get(pool.Handle(buf))
	return append([]byte(nil), b.data...)
}

func (d *RecordingDevice) WriteTexture(tex TextureHandle, region TextureRegion, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.textures.Get(pool.Handle(tex))
	t.data[[2]uint32{region.Layer, region.Mip}] = append([]byte(nil), data...)
	d.record(Command{Kind: CmdWriteTexture, Label: t.desc.Label, Texture: tex})
}

func (d *RecordingDevice) ReadTexture(tex TextureHandle, region TextureRegion) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.textures.Get(pool.Handle(tex))
	data, ok := t.data[[2]uint32{region.Layer, region.Mip}]
	if !ok {
		return nil, fmt.Errorf("texture %q layer %d mip %d was never written", t.desc.Label, region.Layer, region.Mip)
	}
	return append([]byte(nil), data...), nil
}

func (d *RecordingDevice) BeginRenderPass(desc RenderPassDesc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inPass {
		return fmt.Errorf("render pass %q begun inside another pass", desc.Label)
	}
	d.inPass = true
	if desc.ClearColor != nil {
		for _, c := range desc.Color {
			t := d.textures.Get(pool.Handle(c.Texture))
			t.data[[2]uint32{c.Layer, 0}] = clearTexels(t.desc, *desc.ClearColor)
		}
	}
	d.record(Command{Kind: CmdBeginPass, Label: desc.Label, Pass: desc, Texture: desc.Depth.Texture})
	return nil
}

// clearTexels is one mip-0 layer of desc filled with c, encoded like WriteTexture payloads.
func clearTexels(desc TextureDesc, c [4]float32) []byte {
	n := int(desc.Width * desc.Height)
	channels := c[:]
	if desc.Format == FormatR32Float || desc.Format == FormatR8Unorm {
		channels = c[:1]
	}
	values := make([]float32, 0, n*len(channels))
	for i := 0; i < n; i++ {
		values = append(values, channels...)
	}
	switch desc.Format {
	case FormatRGBA16Float:
		return Float32sToHalfBytes(values)
	case FormatRGBA8Unorm, FormatR8Unorm:
		out := make([]byte, len(values))
		for i, v := range values {
			out[i] = byte(min(max(v, 0), 1)*255 + 0.5)
		}
		return out
	}
	return Float32sToBytes(values)
}

func (d *RecordingDevice) EndRenderPass() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inPass = false
	d.record(Command{Kind: CmdEndPass})
}

func (d *RecordingDevice) RasterState() RasterState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.raster
}

func (d *RecordingDevice) SetRasterState(state RasterState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.raster = state
	d.record(Command{Kind: CmdSetRaster, Raster: state})
}

func (d *RecordingDevice) Draw(call DrawCall) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.inPass {
		return ErrNoPass
	}
	d.record(Command{Kind: CmdDraw, Label: call.Label, Pipeline: call.Pipeline, Raster: d.raster, Bindings: call.Bindings, Uniforms: call.Uniforms})
	return nil
}

func (d *RecordingDevice) Dispatch(call DispatchCall) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inPass {
		return fmt.Errorf("dispatch %q inside a render pass", call.Label)
	}
	d.record(Command{Kind: CmdDispatch, Label: call.Label, Pipeline: call.Pipeline, Bindings: call.Bindings, Uniforms: call.Uniforms})
	return nil
}

func (d *RecordingDevice) Barrier(textures ...TextureHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Command{Kind: CmdBarrier, Textures: append([]TextureHandle(nil), textures...)})
}

func (d *RecordingDevice) GenerateMips(tex TextureHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Command{Kind: CmdGenerateMips, Texture: tex})
}

func (d *RecordingDevice) Submit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inPass {
		return fmt.Errorf("submit with an open render pass")
	}
	d.record(Command{Kind: CmdSubmit})
	return nil
}

func (d *RecordingDevice) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.textures.Release(nil)
	d.buffers.Release(nil)
	d.released = true
}

func (d *RecordingDevice) Released() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

func (d *RecordingDevice) Commands() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Command(nil), d.commands...)
}

// ResetCommands drops the command log but keeps resources.
func (d *RecordingDevice) ResetCommands() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = d.commands[:0]
}

func (d *RecordingDevice) Count(kind CommandKind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.commands {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// CountPipeline counts draws and dispatches that used p.
func (d *RecordingDevice) CountPipeline(p Pipeline) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.commands {
		if (c.Kind == CmdDraw || c.Kind == CmdDispatch) && c.Pipeline == p {
			n++
		}
	}
	return n
}

// PipelineOrder lists the pipelines of every draw and dispatch, collapsing consecutive repeats.
func (d *RecordingDevice) PipelineOrder() []Pipeline {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Pipeline
	for _, c := range d.commands {
		if c.Kind != CmdDraw && c.Kind != CmdDispatch {
			continue
		}
		if len(out) > 0 && out[len(out)-1] == c.Pipeline {
			continue
		}
		out = append(out, c.Pipeline)
	}
	return out
}
