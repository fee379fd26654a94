package illumination

import (
	"fmt"

	"github.com/gekko3d/lumen/lumenrt/rt/gi"
	"github.com/gekko3d/lumen/lumenrt/rt/probes"
)

type Config struct {
	Width  uint32    `json:"width"`
	Height uint32    `json:"height"`
	GI     gi.Config `json:"gi"`
	// SkyColor fills pixels without geometry and the background of probe captures.
	SkyColor    [3]float32 `json:"sky_color"`
	CaptureNear float32    `json:"capture_near"`
	CaptureFar  float32    `json:"capture_far"`
	// ProbeVolume selects which probe volume the ShowProbes overlay draws.
	ProbeVolume int `json:"probe_volume"`
}

func DefaultConfig() Config {
	return Config{
		Width:       1280,
		Height:      720,
		GI:          gi.DefaultConfig(),
		SkyColor:    [3]float32{0.45, 0.6, 0.85},
		CaptureNear: 0.1,
		CaptureFar:  1000,
	}
}

func (c Config) Validate() error {
	if c.Width == 0 || c.Height == 0 {
		return fmt.Errorf("illumination target must not be empty, got %dx%d", c.Width, c.Height)
	}
	if c.CaptureNear <= 0 || c.CaptureFar <= c.CaptureNear {
		return fmt.Errorf("probe capture range [%g,%g] is invalid", c.CaptureNear, c.CaptureFar)
	}
	if c.ProbeVolume < 0 || c.ProbeVolume >= probes.NumVolumes {
		return fmt.Errorf("probe volume %d out of range", c.ProbeVolume)
	}
	return c.GI.Validate()
}
