package app

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gekko3d/lumen/lumenrt/rt/illumination"
)

// Profiler times the frame stages and keeps the pipeline counters. The telemetry hub reads
// snapshots from its own goroutines, so every method locks.
type Profiler struct {
	mu         sync.Mutex
	scopes     map[string]time.Duration
	startTimes map[string]time.Time
	counts     map[string]int
	order      []string
	frame      uint64
	fps        float64
}

// Snapshot is one frame of profiler state, as streamed to telemetry clients.
type Snapshot struct {
	Frame   uint64             `json:"frame"`
	FPS     float64            `json:"fps"`
	Order   []string           `json:"order"`
	Timings map[string]float64 `json:"timings_ms"`
	Counts  map[string]int     `json:"counts"`
}

func NewProfiler() *Profiler {
	return &Profiler{
		scopes:     make(map[string]time.Duration),
		startTimes: make(map[string]time.Time),
		counts:     make(map[string]int),
	}
}

func (p *Profiler) BeginScope(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startTimes[name] = time.Now()
	// Insertion order keeps the overlay stable.
	if !slices.Contains(p.order, name) {
		p.order = append(p.order, name)
	}
}

func (p *Profiler) EndScope(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if start, ok := p.startTimes[name]; ok {
		p.scopes[name] = time.Since(start)
	}
}

// Record sets a scope duration measured elsewhere.
func (p *Profiler) Record(name string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !slices.Contains(p.order, name) {
		p.order = append(p.order, name)
	}
	p.scopes[name] = d
}

func (p *Profiler) SetCount(name string, count int) {
	p.mu.Lock()
	p.counts[name] = count
	p.mu.Unlock()
}

// SetFrameStats copies the compositor counters of the last frame.
func (p *Profiler) SetFrameStats(s illumination.Stats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts["shadow draws"] = s.ShadowDraws
	p.counts["gbuffer draws"] = s.GBufferDraws
	p.counts["forward draws"] = s.ForwardDraws
	p.counts["voxelized"] = s.Voxelized
	p.counts["voxel culled"] = s.Culled
	p.counts["diffuse probes"] = s.StreamedProbe[0]
	p.counts["specular probes"] = s.StreamedProbe[1]
	ready := 0
	if s.ProbesReady {
		ready = 1
	}
	p.counts["probes ready"] = ready
}

// EndFrame advances the frame counter and stores the current frame rate.
func (p *Profiler) EndFrame(fps float64) {
	p.mu.Lock()
	p.frame++
	p.fps = fps
	p.mu.Unlock()
}

func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Keep order, reset times
	for k := range p.scopes {
		p.scopes[k] = 0
	}
}

func (p *Profiler) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Snapshot{
		Frame:   p.frame,
		FPS:     p.fps,
		Order:   slices.Clone(p.order),
		Timings: make(map[string]float64, len(p.scopes)),
		Counts:  make(map[string]int, len(p.counts)),
	}
	for k, d := range p.scopes {
		s.Timings[k] = float64(d.Microseconds()) / 1000.0
	}
	for k, c := range p.counts {
		s.Counts[k] = c
	}
	return s
}

func (p *Profiler) StatsString() string {
	s := p.Snapshot()
	var sb strings.Builder

	fmt.Fprintf(&sb, "FPS: %.1f\n", s.FPS)
	sb.WriteString("Timings (CPU):\n")
	for _, name := range s.Order {
		fmt.Fprintf(&sb, "  %-15s: %.2f ms\n", name, s.Timings[name])
	}

	sb.WriteString("\nStats:\n")
	keys := make([]string, 0, len(s.Counts))
	for k := range s.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "  %-15s: %d\n", k, s.Counts[k])
	}
	return sb.String()
}
