package probes

import (
	"fmt"

	"github.com/gekko3d/lumen/lumenrt/rt/core"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	CubemapFaces = 6
	// ProbesPerCell is the number of probe slots per cell in the GPU index buffer: one per cell corner.
	ProbesPerCell = 8
	NumVolumes    = 2
)

type ProbeType int

const (
	Diffuse ProbeType = iota
	Specular
	probeTypeCount
)

func (t ProbeType) String() string {
	switch t {
	case Diffuse:
		return "diffuse"
	case Specular:
		return "specular"
	}
	return fmt.Sprintf("ProbeType(%d)", int(t))
}

func checkType(t ProbeType) {
	if t < 0 || t >= probeTypeCount {
		panic(fmt.Sprintf("probes: invalid probe type %d", int(t)))
	}
}

func checkVolume(v int) {
	if v < 0 || v >= NumVolumes {
		panic(fmt.Sprintf("probes: probe volume index %d out of range [0,%d)", v, NumVolumes))
	}
}

type BakeState int

const (
	Unbaked BakeState = iota
	Baking
	Ready
)

func (s BakeState) String() string {
	return [...]string{"unbaked", "baking", "ready"}[s]
}

type Probe struct {
	Index     int
	GridCoord [3]int
	Position  mgl32.Vec3
	Type      ProbeType
	Cubemap   *CubemapData
	State     BakeState
	// CullIndex is the probe's slot in each volume's resident array, -1 when culled.
	CullIndex [NumVolumes]int
	// TexArraySlot is the slot in the volume-0 array, or -1; kept for debug drawing.
	TexArraySlot int
}

type ProbeCell struct {
	Index  int
	Bounds core.AABB
	Probes []int
}

// ProbeVolumeCascade is a camera-centered cube of edge Extent. Skip keeps every Skip-th probe
// along each axis of the grid.
type ProbeVolumeCascade struct {
	Extent float32
	Skip   int
}

// TypeConfig holds the per probe type grid and cubemap settings.
type TypeConfig struct {
	Size    uint32          `json:"size"`
	Spacing float32         `json:"spacing"`
	Mips    uint32          `json:"mips"`
	Skip    [NumVolumes]int `json:"skip"`
	// MaxResident bounds the cubemap array of each volume; the nearest probes win.
	MaxResident [NumVolumes]int `json:"max_resident"`
}

type Config struct {
	Diffuse       TypeConfig          `json:"diffuse"`
	Specular      TypeConfig          `json:"specular"`
	VolumeExtents [NumVolumes]float32 `json:"volume_extents"`
	// InsertRadiusRatio scales probe spacing into the radius of the cell insertion sphere.
	InsertRadiusRatio float32 `json:"insert_radius_ratio"`
	// SpecularSamples is the GGX importance sample count per texel.
	SpecularSamples int `json:"specular_samples"`
	// IrradianceInputSize is the face size the source is reduced to before cosine integration.
	IrradianceInputSize uint32 `json:"irradiance_input_size"`
	BakeWorkers         int    `json:"bake_workers"`
	// CachePath is the level directory; empty disables the probe cache.
	CachePath           string `json:"cache_path"`
	DiscardCulledProbes bool   `json:"discard_culled_probes"`
}

func DefaultConfig() Config {
	return Config{
		Diffuse: TypeConfig{
			Size:        32,
			Spacing:     15,
			Mips:        1,
			Skip:        [NumVolumes]int{1, 5},
			MaxResident: [NumVolumes]int{125, 125},
		},
		Specular: TypeConfig{
			Size:        128,
			Spacing:     30,
			Mips:        6,
			Skip:        [NumVolumes]int{1, 1},
			MaxResident: [NumVolumes]int{64, 64},
		},
		VolumeExtents:       [NumVolumes]float32{45, 225},
		InsertRadiusRatio:   0.05,
		SpecularSamples:     32,
		IrradianceInputSize: 8,
		BakeWorkers:         4,
	}
}

func (c *Config) Type(t ProbeType) *TypeConfig {
	checkType(t)
	if t == Diffuse {
		return &c.Diffuse
	}
	return &c.Specular
}

func (c Config) Volume(t ProbeType, v int) ProbeVolumeCascade {
	checkVolume(v)
	return ProbeVolumeCascade{Extent: c.VolumeExtents[v], Skip: c.Type(t).Skip[v]}
}

func (c Config) Validate() error {
	for t := Diffuse; t < probeTypeCount; t++ {
		tc := c.Type(t)
		if tc.Size == 0 || tc.Size&(tc.Size-1) != 0 {
			return fmt.Errorf("%s probe size must be a power of two, got %d", t, tc.Size)
		}
		if tc.Spacing <= 0 {
			return fmt.Errorf("%s probe spacing must be positive", t)
		}
		if tc.Mips == 0 || tc.Size>>(tc.Mips-1) == 0 {
			return fmt.Errorf("%s probe mip count %d does not fit size %d", t, tc.Mips, tc.Size)
		}
		if tc.Skip[0] != 1 {
			return fmt.Errorf("%s probe volume 0 must keep every probe, skip is %d", t, tc.Skip[0])
		}
		for v := 0; v < NumVolumes; v++ {
			if tc.Skip[v] < 1 {
				return fmt.Errorf("%s probe skip of volume %d must be at least 1", t, v)
			}
			if tc.MaxResident[v] < 1 {
				return fmt.Errorf("%s probe volume %d needs room for at least one probe", t, v)
			}
		}
	}
	for v := 0; v < NumVolumes; v++ {
		if c.VolumeExtents[v] <= 0 {
			return fmt.Errorf("probe volume %d extent must be positive", v)
		}
		if v > 0 && c.VolumeExtents[v] < c.VolumeExtents[v-1] {
			return fmt.Errorf("probe volume extents must grow outwards")
		}
	}
	// At half the spacing a sphere reaches past the neighbouring probes, and a cell row only holds its corners.
	if c.InsertRadiusRatio < 0 || c.InsertRadiusRatio >= 0.5 {
		return fmt.Errorf("insert radius ratio must be in [0, 0.5), got %g", c.InsertRadiusRatio)
	}
	if c.SpecularSamples < 1 {
		return fmt.Errorf("specular sample count must be positive")
	}
	return nil
}
