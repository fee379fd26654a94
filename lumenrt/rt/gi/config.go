package gi

import "fmt"

// Params are the cone tracing tunables.
type Params struct {
	IndirectDiffuseStrength  float32 `json:"indirect_diffuse_strength"`
	IndirectSpecularStrength float32 `json:"indirect_specular_strength"`
	MaxConeTraceDistance     float32 `json:"max_cone_trace_distance"`
	AOFalloff                float32 `json:"ao_falloff"`
	SamplingFactor           float32 `json:"sampling_factor"`
	VoxelSampleOffset        float32 `json:"voxel_sample_offset"`
	GIPower                  float32 `json:"gi_power"`
	DebugAOOnly              bool    `json:"debug_ao_only"`
}

func DefaultParams() Params {
	return Params{
		IndirectDiffuseStrength:  1.0,
		IndirectSpecularStrength: 1.0,
		MaxConeTraceDistance:     100.0,
		AOFalloff:                2.0,
		SamplingFactor:           0.5,
		VoxelSampleOffset:        0.0,
		GIPower:                  1.0,
	}
}

type Config struct {
	Enabled    bool      `json:"enabled"`
	Resolution uint32    `json:"resolution"`
	Scales     []float32 `json:"scales"`
	Mips       uint32    `json:"mips"`
	// MainPassDownscale is the cone trace resolution relative to the screen.
	MainPassDownscale float32 `json:"main_pass_downscale"`
	// RecenterThreshold is the fraction of a cascade's half extent the camera may travel
	// before the cascade is re-centered and re-voxelized.
	RecenterThreshold float32 `json:"recenter_threshold"`
	CullWorkers       int     `json:"cull_workers"`
	Params            Params  `json:"params"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		Resolution:        128,
		Scales:            []float32{2.0, 0.5},
		Mips:              6,
		MainPassDownscale: 0.5,
		RecenterThreshold: 0.25,
		CullWorkers:       4,
		Params:            DefaultParams(),
	}
}

// MaxCascades is the number of voxel cascade slots in the cone trace uniform block.
const MaxCascades = 2

func (c Config) Validate() error {
	if c.Resolution == 0 {
		return fmt.Errorf("voxel resolution must be positive")
	}
	if len(c.Scales) == 0 || len(c.Scales) > MaxCascades {
		return fmt.Errorf("voxel cascade count must be in [1,%d], got %d", MaxCascades, len(c.Scales))
	}
	for i, s := range c.Scales {
		if s <= 0 {
			return fmt.Errorf("voxel cascade %d has non-positive scale %f", i, s)
		}
	}
	if c.Mips == 0 {
		return fmt.Errorf("voxel textures need at least one mip")
	}
	if c.MainPassDownscale <= 0 || c.MainPassDownscale > 1 {
		return fmt.Errorf("main pass downscale must be in (0,1], got %f", c.MainPassDownscale)
	}
	if c.RecenterThreshold < 0 {
		return fmt.Errorf("recenter threshold must not be negative")
	}
	return nil
}
