package probes

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/gekko3d/lumen/lumenrt/rt/core"
	"github.com/gekko3d/lumen/lumenrt/rt/gpu"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// FaceRenderer draws the scene into one cubemap face seen from pos. It returns size*size RGBA
// float texels, rows top to bottom, laid out as TexelDirection describes.
type FaceRenderer interface {
	RenderFace(pos mgl32.Vec3, face int, size uint32) ([]float32, error)
}

type FaceRendererFunc func(pos mgl32.Vec3, face int, size uint32) ([]float32, error)

func (f FaceRendererFunc) RenderFace(pos mgl32.Vec3, face int, size uint32) ([]float32, error) {
	return f(pos, face, size)
}

// globalIndex marks the global probe in bake results.
const globalIndex = -1

type bakeResult struct {
	gen   int
	typ   ProbeType
	index int
	data  *CubemapData
	err   error
}

type typeState struct {
	cfg    TypeConfig
	grid   *grid
	state  BakeState
	baking int
	global Probe

	globalTex    gpu.TextureHandle
	arrays       [NumVolumes]gpu.TextureHandle
	slots        [NumVolumes][]int
	streamed     [NumVolumes]int
	texIndices   []int32
	texIndexBuf  gpu.BufferHandle
	cellBuf      gpu.BufferHandle
	cellOffsets  [NumVolumes]uint32
	positionsBuf gpu.BufferHandle
	dirty        bool
}

func (ts *typeState) probeCount() int {
	if ts.grid == nil {
		return 0
	}
	return ts.grid.probeCount()
}

// ProbeManager owns the diffuse and specular probe grids, bakes or loads them, and streams the
// probes around the camera into the cubemap arrays the lighting passes sample.
type ProbeManager struct {
	dev    gpu.Device
	cfg    Config
	log    core.Logger
	pool   worker.DynamicWorkerPool
	center mgl32.Vec3

	types    [probeTypeCount]*typeState
	gen      int
	bakeID   uuid.UUID
	results  chan bakeResult
	inFlight int
	taskID   int
	gizmos   core.GizmoRenderer

	// Loaded counts probes read from the cache, Baked those rendered and convolved.
	Loaded, Baked int
	// Uploads counts cubemaps copied into the resident arrays; IndexWrites counts index buffer writes.
	Uploads, IndexWrites int
}

func NewProbeManager(dev gpu.Device, scene *core.Scene, cfg Config, log core.Logger) (*ProbeManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("probe manager: %w", err)
	}
	m := &ProbeManager{
		dev:    dev,
		cfg:    cfg,
		log:    core.OrNop(log),
		bakeID: uuid.New(),
	}
	bounds := scene.Bounds()
	if bounds.IsEmpty() {
		bounds = scene.LightProbeBounds
	}
	if !bounds.IsEmpty() {
		m.center = bounds.Center()
	}

	total := 0
	for t := Diffuse; t < probeTypeCount; t++ {
		ts := &typeState{
			cfg:    *cfg.Type(t),
			global: Probe{Index: globalIndex, GridCoord: [3]int{-1, -1, -1}, Position: m.center, Type: t, CullIndex: [NumVolumes]int{-1, -1}, TexArraySlot: -1},
		}
		if scene.HasLightProbes && !scene.LightProbeBounds.IsEmpty() {
			ts.grid = newGrid(t, ts.cfg, scene.LightProbeBounds, cfg.InsertRadiusRatio)
		}
		if err := m.createResources(t, ts); err != nil {
			return nil, fmt.Errorf("probe manager: %w", err)
		}
		m.types[t] = ts
		total += ts.probeCount() + 1
		if ts.grid != nil {
			m.log.Infof("probes: %d %s probes in a %v grid", ts.probeCount(), t, ts.grid.counts)
		}
	}
	m.results = make(chan bakeResult, total)
	m.pool = worker.NewDynamicWorkerPool(max(cfg.BakeWorkers, 1), 256, time.Second)
	return m, nil
}

func (m *ProbeManager) createResources(t ProbeType, ts *typeState) error {
	cube := func(label string, cubes uint32) (gpu.TextureHandle, error) {
		return m.dev.CreateTexture(gpu.TextureDesc{
			Label:     label,
			Width:     ts.cfg.Size,
			Height:    ts.cfg.Size,
			Layers:    cubes,
			Mips:      ts.cfg.Mips,
			Format:    gpu.FormatRGBA16Float,
			Dimension: gpu.TextureCubeArray,
			Usage:     gpu.UsageSampled | gpu.UsageCopyDst,
		})
	}
	var err error
	ts.globalTex, err = cube(fmt.Sprintf("Global %s probe", t), 1)
	if err != nil {
		return err
	}

	n := ts.probeCount()
	for v := 0; v < NumVolumes; v++ {
		cubes := 1
		if n > 0 {
			cubes = min(ts.cfg.MaxResident[v], n)
		}
		ts.arrays[v], err = cube(fmt.Sprintf("%s probes volume %d", t, v), uint32(cubes))
		if err != nil {
			return err
		}
		ts.slots[v] = make([]int, cubes)
		for s := range ts.slots[v] {
			ts.slots[v][s] = -1
		}
	}

	ts.texIndices = make([]int32, max(NumVolumes*n, 4))
	for i := range ts.texIndices {
		ts.texIndices[i] = -1
	}
	var cells []int32
	positions := make([]float32, 0, max(n, 1)*4)
	if ts.grid != nil {
		cells, ts.cellOffsets = ts.grid.cellIndexData()
		for i := 0; i < n; i++ {
			p := ts.grid.probe(i).Position
			positions = append(positions, p.X(), p.Y(), p.Z(), 1)
		}
	} else {
		cells = []int32{-1, -1, -1, -1, -1, -1, -1, -1}
		positions = append(positions, 0, 0, 0, 0)
	}

	buffers := []struct {
		buf  *gpu.BufferHandle
		name string
		data []byte
	}{
		{&ts.texIndexBuf, "tex array indices", gpu.Int32sToBytes(ts.texIndices)},
		{&ts.cellBuf, "cell indices", gpu.Int32sToBytes(cells)},
		{&ts.positionsBuf, "positions", gpu.Float32sToBytes(positions)},
	}
	for _, b := range buffers {
		buf, err := m.dev.CreateBuffer(gpu.BufferDesc{
			Label: fmt.Sprintf("%s probes %s", t, b.name),
			Size:  uint64(len(b.data)),
			Usage: gpu.BufferStorage | gpu.BufferCopyDst,
		})
		if err != nil {
			return err
		}
		m.dev.WriteBuffer(buf, 0, b.data)
		*b.buf = buf
	}
	return nil
}

func (m *ProbeManager) typ(t ProbeType) *typeState {
	checkType(t)
	return m.types[t]
}

func (m *ProbeManager) localGrid(t ProbeType) *grid {
	g := m.typ(t).grid
	if g == nil {
		panic(fmt.Sprintf("probes: no local %s probes in this scene", t))
	}
	return g
}

func (m *ProbeManager) HasLocalProbes() bool { return m.types[Diffuse].grid != nil }
func (m *ProbeManager) Config() Config       { return m.cfg }
func (m *ProbeManager) State(t ProbeType) BakeState {
	return m.typ(t).state
}

func (m *ProbeManager) ProbeCount(t ProbeType) int {
	return m.typ(t).probeCount()
}

// Probe returns a copy of local probe i.
func (m *ProbeManager) Probe(t ProbeType, i int) Probe {
	g := m.localGrid(t)
	if i < 0 || i >= g.probeCount() {
		panic(fmt.Sprintf("probes: %s probe index %d out of range [0,%d)", t, i, g.probeCount()))
	}
	return *g.probe(i)
}

func (m *ProbeManager) GlobalProbe(t ProbeType) Probe {
	return m.typ(t).global
}

func (m *ProbeManager) CellCount(t ProbeType, v int) int {
	checkVolume(v)
	return m.localGrid(t).cellCount(v)
}

func (m *ProbeManager) Cell(t ProbeType, v, i int) ProbeCell {
	checkVolume(v)
	g := m.localGrid(t)
	if i < 0 || i >= g.cellCount(v) {
		panic(fmt.Sprintf("probes: cell index %d out of range [0,%d)", i, g.cellCount(v)))
	}
	c := *g.cell(v, i)
	c.Probes = append([]int(nil), c.Probes...)
	return c
}

// GetCellIndex maps pos to the flattened cell ix + iy*countX + iz*countX*countY of volume v.
// Positions outside the grid clamp to the nearest cell; boundaries resolve to the upper cell.
func (m *ProbeManager) GetCellIndex(pos mgl32.Vec3, t ProbeType, v int) int {
	checkVolume(v)
	return m.localGrid(t).cellIndex(pos, v)
}

// AddProbeToCells inserts probe i into every cell meeting its insertion sphere and reports how
// many volume-0 cells hold it. Repeated calls never duplicate an entry.
func (m *ProbeManager) AddProbeToCells(i int, t ProbeType, minBounds, maxBounds mgl32.Vec3) int {
	g := m.localGrid(t)
	if i < 0 || i >= g.probeCount() {
		panic(fmt.Sprintf("probes: %s probe index %d out of range [0,%d)", t, i, g.probeCount()))
	}
	return g.addProbeToCells(i, minBounds, maxBounds)
}

// AreProbesReady never blocks; it reports whether the local and global probes of t are baked.
func (m *ProbeManager) AreProbesReady(t ProbeType) bool {
	ts := m.typ(t)
	return ts.state == Ready && ts.global.State == Ready
}

func (m *ProbeManager) AllProbesReady() bool {
	return m.AreProbesReady(Diffuse) && m.AreProbesReady(Specular)
}

func (m *ProbeManager) cacheKey(t ProbeType, p *Probe) cacheKey {
	ts := m.types[t]
	return cacheKey{Type: t, FaceSize: ts.cfg.Size, Mips: ts.cfg.Mips, Grid: p.GridCoord}
}

func (m *ProbeManager) cachePath(t ProbeType, p *Probe) string {
	if m.cfg.CachePath == "" {
		return ""
	}
	if p.Index == globalIndex {
		return globalProbePath(m.cfg.CachePath, t)
	}
	return probePath(m.cfg.CachePath, t, p.GridCoord)
}

// ComputeOrLoadLocalProbes loads every grid probe from the level cache or renders it and
// queues its convolution. Convolved probes arrive through Update.
func (m *ProbeManager) ComputeOrLoadLocalProbes(r FaceRenderer) error {
	for t := Diffuse; t < probeTypeCount; t++ {
		ts := m.types[t]
		ts.state = Baking
		for i := 0; i < ts.probeCount(); i++ {
			if err := m.computeOrLoad(t, ts.grid.probe(i), r); err != nil {
				return err
			}
		}
		if ts.baking == 0 {
			ts.state = Ready
		}
		m.log.Infof("probes: %s local probes %s, %d convolving", t, ts.state, ts.baking)
	}
	return nil
}

// ComputeOrLoadGlobalProbes does the same for the scene-wide fallback probe of each type.
func (m *ProbeManager) ComputeOrLoadGlobalProbes(r FaceRenderer) error {
	for t := Diffuse; t < probeTypeCount; t++ {
		ts := m.types[t]
		if err := m.computeOrLoad(t, &ts.global, r); err != nil {
			return err
		}
		if ts.global.State == Ready {
			m.uploadCubemap(ts.globalTex, 0, ts.global.Cubemap)
		}
	}
	return nil
}

func (m *ProbeManager) computeOrLoad(t ProbeType, p *Probe, r FaceRenderer) error {
	key := m.cacheKey(t, p)
	path := m.cachePath(t, p)
	if path != "" {
		data, err := loadProbe(path, key)
		if err == nil {
			p.Cubemap = data
			p.State = Ready
			m.Loaded++
			return nil
		}
		if errors.Is(err, ErrCacheMiss) {
			m.log.Debugf("probes: %v", err)
		} else {
			m.log.Warnf("probes: reading %s: %v", path, err)
		}
	}

	src, err := captureCubemap(r, p.Position, key.FaceSize)
	if err != nil {
		return fmt.Errorf("probes: capture %s probe %v: %w", t, p.GridCoord, err)
	}
	p.State = Baking
	if p.Index != globalIndex {
		m.types[t].baking++
	}
	m.submitConvolution(t, p.Index, key, path, src)
	return nil
}

func captureCubemap(r FaceRenderer, pos mgl32.Vec3, size uint32) (*CubemapData, error) {
	src := NewCubemapData(size, 1)
	for f := 0; f < CubemapFaces; f++ {
		texels, err := r.RenderFace(pos, f, size)
		if err != nil {
			return nil, err
		}
		if len(texels) != len(src.Faces[0][f]) {
			return nil, fmt.Errorf("face %d has %d floats, want %d", f, len(texels), len(src.Faces[0][f]))
		}
		copy(src.Faces[0][f], texels)
	}
	return src, nil
}

func (m *ProbeManager) submitConvolution(t ProbeType, index int, key cacheKey, path string, src *CubemapData) {
	gen, results, bakeID, cfg := m.gen, m.results, m.bakeID, m.cfg
	m.inFlight++
	m.taskID++
	m.pool.SubmitTask(worker.Task{
		ID: m.taskID,
		Do: func() (any, error) {
			var data *CubemapData
			if t == Diffuse {
				data = ConvolveIrradiance(src, cfg.IrradianceInputSize)
			} else {
				data = PrefilterSpecular(src, key.Mips, cfg.SpecularSamples)
			}
			data.BakeID = bakeID
			var err error
			if path != "" {
				err = storeProbe(path, key, data)
			}
			results <- bakeResult{gen: gen, typ: t, index: index, data: data, err: err}
			return nil, nil
		},
	})
}

// Update takes finished convolutions without blocking, uploads the resident ones and flips a
// probe type to Ready once its last probe is in.
func (m *ProbeManager) Update() {
	for {
		select {
		case r := <-m.results:
			m.apply(r)
		default:
			return
		}
	}
}

// Wait blocks until every queued convolution has been applied or ctx ends.
// It is meant for offline bakes and tests; frames use Update and AreProbesReady.
func (m *ProbeManager) Wait(ctx context.Context) error {
	for m.inFlight > 0 {
		select {
		case r := <-m.results:
			m.apply(r)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *ProbeManager) apply(r bakeResult) {
	if r.gen != m.gen {
		return
	}
	m.inFlight--
	m.Baked++
	if r.err != nil {
		m.log.Warnf("probes: caching %s probe %d: %v", r.typ, r.index, r.err)
	}
	ts := m.types[r.typ]
	if r.index == globalIndex {
		ts.global.Cubemap = r.data
		ts.global.State = Ready
		m.uploadCubemap(ts.globalTex, 0, r.data)
		m.log.Infof("probes: global %s probe ready", r.typ)
		return
	}

	p := ts.grid.probe(r.index)
	p.Cubemap = r.data
	p.State = Ready
	for v := 0; v < NumVolumes; v++ {
		if p.CullIndex[v] >= 0 {
			m.uploadCubemap(ts.arrays[v], p.CullIndex[v], r.data)
		}
	}
	ts.baking--
	if ts.baking == 0 && ts.state == Baking {
		ts.state = Ready
		m.log.Infof("probes: all %d %s probes ready", ts.probeCount(), r.typ)
	}
}

func (m *ProbeManager) uploadCubemap(tex gpu.TextureHandle, slot int, data *CubemapData) {
	for mip := uint32(0); mip < data.Mips; mip++ {
		s := data.MipSize(mip)
		for f := 0; f < CubemapFaces; f++ {
			m.dev.WriteTexture(tex, gpu.TextureRegion{
				Layer:  uint32(slot*CubemapFaces + f),
				Mip:    mip,
				Width:  s,
				Height: s,
				Depth:  1,
			}, gpu.Float32sToHalfBytes(data.Faces[mip][f]))
		}
	}
	m.Uploads++
}

// UpdateProbes streams the baked probes of the cells inside each camera-centered volume into
// that volume's cubemap array, nearest first, and rewrites the index buffer when it changed.
func (m *ProbeManager) UpdateProbes(cam *core.Camera) {
	for t := Diffuse; t < probeTypeCount; t++ {
		ts := m.types[t]
		if ts.grid == nil {
			continue
		}
		for v := 0; v < NumVolumes; v++ {
			box := core.AABBFromCenter(cam.Position, m.cfg.VolumeExtents[v]*0.5)
			want := m.gather(ts, v, box, cam.Position)
			m.assignSlots(ts, v, want)
		}
		if ts.dirty {
			m.dev.WriteBuffer(ts.texIndexBuf, 0, gpu.Int32sToBytes(ts.texIndices))
			ts.dirty = false
			m.IndexWrites++
		}
	}
}

func (m *ProbeManager) gather(ts *typeState, v int, box core.AABB, eye mgl32.Vec3) []int {
	g := ts.grid
	seen := make(map[int]struct{})
	var out []int
	for _, ci := range g.cellRange(v, box) {
		for _, pi := range g.cell(v, ci).Probes {
			if _, ok := seen[pi]; ok {
				continue
			}
			seen[pi] = struct{}{}
			if g.probe(pi).State == Ready {
				out = append(out, pi)
			}
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		da := g.probe(out[a]).Position.Sub(eye).LenSqr()
		db := g.probe(out[b]).Position.Sub(eye).LenSqr()
		return da < db
	})
	return out[:min(len(out), len(ts.slots[v]))]
}

// assignSlots keeps probes that stay resident in their slot and uploads newcomers into free ones.
func (m *ProbeManager) assignSlots(ts *typeState, v int, want []int) {
	g := ts.grid
	n := g.probeCount()
	keep := make(map[int]struct{}, len(want))
	for _, pi := range want {
		keep[pi] = struct{}{}
	}
	slots := ts.slots[v]
	for s, pi := range slots {
		if pi < 0 {
			continue
		}
		if _, ok := keep[pi]; ok {
			continue
		}
		slots[s] = -1
		m.setSlot(ts, v, g.probe(pi), -1, n)
	}

	free := 0
	for _, pi := range want {
		p := g.probe(pi)
		if p.CullIndex[v] >= 0 {
			continue
		}
		for slots[free] >= 0 {
			free++
		}
		slots[free] = pi
		m.setSlot(ts, v, p, free, n)
		m.uploadCubemap(ts.arrays[v], free, p.Cubemap)
	}
	ts.streamed[v] = len(want)
}

func (m *ProbeManager) setSlot(ts *typeState, v int, p *Probe, slot, n int) {
	p.CullIndex[v] = slot
	if v == 0 {
		p.TexArraySlot = slot
	}
	ts.texIndices[v*n+p.Index] = int32(slot)
	ts.dirty = true
}

// Streamed is the number of resident probes of t in volume v after the last UpdateProbes.
func (m *ProbeManager) Streamed(t ProbeType, v int) int {
	checkVolume(v)
	return m.typ(t).streamed[v]
}

func (m *ProbeManager) CubemapArray(t ProbeType, v int) gpu.TextureHandle {
	checkVolume(v)
	return m.typ(t).arrays[v]
}

func (m *ProbeManager) GlobalCubemap(t ProbeType) gpu.TextureHandle {
	return m.typ(t).globalTex
}

// TexIndexBuffer holds, per volume, the resident slot of every probe or -1.
func (m *ProbeManager) TexIndexBuffer(t ProbeType) gpu.BufferHandle {
	return m.typ(t).texIndexBuf
}

// CellIndexBuffer holds ProbesPerCell probe indices per cell, volumes back to back.
func (m *ProbeManager) CellIndexBuffer(t ProbeType) gpu.BufferHandle {
	return m.typ(t).cellBuf
}

func (m *ProbeManager) PositionsBuffer(t ProbeType) gpu.BufferHandle {
	return m.typ(t).positionsBuf
}

// WriteUniforms appends the grid layout the lighting shaders need to walk
// world position -> cell -> probe -> array slot. Per type: per volume
// vec4(grid min, cell size) and uvec4(cell counts, cell offset), then
// uvec4(probe count, ready, has local probes, mips).
func (m *ProbeManager) WriteUniforms(u *gpu.Uniforms) {
	for t := Diffuse; t < probeTypeCount; t++ {
		ts := m.types[t]
		for v := 0; v < NumVolumes; v++ {
			if ts.grid == nil {
				u.Vec4(mgl32.Vec4{0, 0, 0, 1})
				u.Uint(1).Uint(1).Uint(1).Uint(0)
				continue
			}
			u.Vec3(ts.grid.bounds.Min, ts.grid.cellSize[v])
			c := ts.grid.cellCounts[v]
			u.Uint(uint32(c[0])).Uint(uint32(c[1])).Uint(uint32(c[2])).Uint(ts.cellOffsets[v])
		}
		u.Uint(uint32(ts.probeCount())).
			Bool(m.AreProbesReady(t)).
			Bool(ts.grid != nil).
			Uint(ts.cfg.Mips)
	}
}

var (
	residentColor = [4]float32{0.1, 1, 0.2, 1}
	culledColor   = [4]float32{1, 0.15, 0.1, 1}
	volumeColor   = [4]float32{1, 1, 0, 1}
)

// DrawDebugProbes draws the probes of t kept by volume v and the volume's box into the current
// render pass. Culled probes are skipped when DiscardCulledProbes is set.
func (m *ProbeManager) DrawDebugProbes(t ProbeType, v int, cam *core.Camera) error {
	checkVolume(v)
	ts := m.typ(t)
	m.gizmos.Reset()
	if ts.grid != nil {
		g := ts.grid
		radius := g.spacing * 0.1
		for i := 0; i < g.probeCount(); i++ {
			p := g.probe(i)
			if !g.keptBy(v, p) {
				continue
			}
			color := residentColor
			if p.CullIndex[v] < 0 {
				if m.cfg.DiscardCulledProbes {
					continue
				}
				color = culledColor
			}
			m.gizmos.AddSphere(p.Position, radius, color)
		}
	}
	m.gizmos.AddBox(core.AABBFromCenter(cam.Position, m.cfg.VolumeExtents[v]*0.5), volumeColor)
	return m.gizmos.Draw(m.dev, cam.ViewProjection())
}

// Rebake drops the level cache and every baked probe, then bakes again from r.
func (m *ProbeManager) Rebake(r FaceRenderer) error {
	if m.cfg.CachePath != "" {
		for t := Diffuse; t < probeTypeCount; t++ {
			if err := os.RemoveAll(probeDir(m.cfg.CachePath, t)); err != nil {
				return fmt.Errorf("probes: clearing cache: %w", err)
			}
		}
	}
	m.gen++
	m.bakeID = uuid.New()
	m.inFlight = 0
	m.results = make(chan bakeResult, cap(m.results))
	for t := Diffuse; t < probeTypeCount; t++ {
		ts := m.types[t]
		ts.state = Unbaked
		ts.baking = 0
		ts.global.State = Unbaked
		ts.global.Cubemap = nil
		for i := 0; i < ts.probeCount(); i++ {
			p := ts.grid.probe(i)
			p.State = Unbaked
			p.Cubemap = nil
			p.CullIndex = [NumVolumes]int{-1, -1}
			p.TexArraySlot = -1
		}
		for v := range ts.slots {
			for s := range ts.slots[v] {
				ts.slots[v][s] = -1
			}
			ts.streamed[v] = 0
		}
		for i := range ts.texIndices {
			ts.texIndices[i] = -1
		}
		ts.dirty = true
	}
	m.log.Infof("probes: rebaking as %s", m.bakeID)
	if err := m.ComputeOrLoadGlobalProbes(r); err != nil {
		return err
	}
	return m.ComputeOrLoadLocalProbes(r)
}

func (m *ProbeManager) BakeID() uuid.UUID { return m.bakeID }

func (m *ProbeManager) Release() {
	if m.pool != nil {
		m.pool.Stop()
		m.pool = nil
	}
}
