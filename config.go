package lumen

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gekko3d/lumen/lumenrt/rt/illumination"
	"github.com/gekko3d/lumen/lumenrt/rt/probes"
	"github.com/gekko3d/lumen/lumenrt/rt/shadow"
)

// Vec3 is a JSON friendly vector.
type Vec3 [3]float32

type LightConfig struct {
	// Pitch and Yaw aim the sun from its default -Z direction, in degrees.
	Pitch       float32 `json:"pitch"`
	Yaw         float32 `json:"yaw"`
	Color       Vec3    `json:"color"`
	Ambient     Vec3    `json:"ambient"`
	Intensity   float32 `json:"intensity"`
	AngularSize float32 `json:"angular_size"`
}

type CameraConfig struct {
	Position Vec3    `json:"position"`
	Yaw      float32 `json:"yaw"`   // radians
	Pitch    float32 `json:"pitch"` // radians
	FOV      float32 `json:"fov"`   // vertical, degrees
	Near     float32 `json:"near"`
	Far      float32 `json:"far"`
	Speed    float32 `json:"speed"`
}

// ObjectConfig places one primitive in the level.
type ObjectConfig struct {
	Name     string     `json:"name"`
	Shape    string     `json:"shape"` // box, plane or sphere
	Size     Vec3       `json:"size"`  // box extents, plane width and depth in x and z, sphere radius in x
	Position Vec3       `json:"position"`
	Albedo   [4]float32 `json:"albedo"`
	Forward  bool       `json:"forward"`
	// NoShadows stops the object from casting into the cascades.
	NoShadows bool `json:"no_shadows"`
}

// BoundsConfig is the volume covered by local light probes.
type BoundsConfig struct {
	Min Vec3 `json:"min"`
	Max Vec3 `json:"max"`
}

// LevelConfig is the level descriptor. Every field has a default; a file only needs what it changes.
type LevelConfig struct {
	Name         string                         `json:"name"`
	Logging      LoggingConfig                  `json:"logging"`
	Illumination illumination.Config            `json:"illumination"`
	Shadow       shadow.Config                  `json:"shadow"`
	Probes       probes.Config                  `json:"probes"`
	Light        LightConfig                    `json:"light"`
	Camera       CameraConfig                   `json:"camera"`
	Debug        illumination.RenderDebugConfig `json:"debug"`
	LightProbes  *BoundsConfig                  `json:"light_probes,omitempty"`
	Objects      []ObjectConfig                 `json:"objects"`
}

func DefaultLevelConfig() LevelConfig {
	return LevelConfig{
		Name:         "default",
		Logging:      LoggingConfig{Prefix: "lumen"},
		Illumination: illumination.DefaultConfig(),
		Shadow:       shadow.DefaultConfig(),
		Probes:       probes.DefaultConfig(),
		Light: LightConfig{
			Pitch:       -55,
			Yaw:         -30,
			Color:       Vec3{1, 0.96, 0.9},
			Ambient:     Vec3{0.08, 0.08, 0.08},
			Intensity:   5,
			AngularSize: 0.53,
		},
		Camera: CameraConfig{
			Position: Vec3{0, 3, 12},
			FOV:      45,
			Near:     0.5,
			Far:      2000,
			Speed:    10,
		},
		LightProbes: &BoundsConfig{Min: Vec3{-20, 0, -20}, Max: Vec3{20, 10, 20}},
		Objects: []ObjectConfig{
			{Name: "ground", Shape: "plane", Size: Vec3{60, 0, 60}, Albedo: [4]float32{0.7, 0.7, 0.7, 1}},
			{Name: "crate", Shape: "box", Size: Vec3{2, 2, 2}, Position: Vec3{-3, 1, 0}, Albedo: [4]float32{0.8, 0.3, 0.2, 1}},
			{Name: "pillar", Shape: "box", Size: Vec3{1, 6, 1}, Position: Vec3{3, 3, -4}, Albedo: [4]float32{0.9, 0.9, 0.85, 1}},
			{Name: "ball", Shape: "sphere", Size: Vec3{1.5, 0, 0}, Position: Vec3{1, 1.5, 3}, Albedo: [4]float32{0.2, 0.5, 0.9, 1}},
			{Name: "glass", Shape: "box", Size: Vec3{1.5, 1.5, 1.5}, Position: Vec3{5, 0.75, 2}, Albedo: [4]float32{0.6, 0.9, 0.7, 0.4}, Forward: true, NoShadows: true},
		},
	}
}

// LoadLevelConfig overlays the JSON file at path on DefaultLevelConfig. Without an explicit
// probe cache path, probes are cached next to the file in "<name>.probes".
func LoadLevelConfig(path string) (LevelConfig, error) {
	cfg := DefaultLevelConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("level config: %w", err)
	}
	// Decoding into the default objects would merge fields into them.
	objects := cfg.Objects
	cfg.Objects = nil
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("level config %s: %w", path, err)
	}
	if cfg.Objects == nil {
		cfg.Objects = objects
	}
	if cfg.Probes.CachePath == "" {
		cfg.Probes.CachePath = strings.TrimSuffix(path, filepath.Ext(path)) + ".probes"
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("level config %s: %w", path, err)
	}
	return cfg, nil
}

func (c LevelConfig) Validate() error {
	var errs []error
	if err := c.Illumination.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Shadow.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Probes.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Camera.Near <= 0 || c.Camera.Far <= c.Camera.Near {
		errs = append(errs, fmt.Errorf("camera range [%g,%g] is invalid", c.Camera.Near, c.Camera.Far))
	}
	if c.Camera.FOV <= 0 || c.Camera.FOV >= 180 {
		errs = append(errs, fmt.Errorf("camera fov %g is out of range", c.Camera.FOV))
	}
	if n := len(c.Shadow.CascadeDistances); n > 0 && c.Shadow.CascadeDistances[n-1] > c.Camera.Far {
		errs = append(errs, fmt.Errorf("last shadow cascade ends at %g, past the camera far plane %g",
			c.Shadow.CascadeDistances[n-1], c.Camera.Far))
	}
	if c.LightProbes != nil {
		for i := range 3 {
			if c.LightProbes.Min[i] >= c.LightProbes.Max[i] {
				errs = append(errs, fmt.Errorf("light probe bounds %v..%v are empty", c.LightProbes.Min, c.LightProbes.Max))
				break
			}
		}
	}
	seen := make(map[string]bool, len(c.Objects))
	for i, o := range c.Objects {
		if o.Name == "" {
			errs = append(errs, fmt.Errorf("object %d has no name", i))
		} else if seen[o.Name] {
			errs = append(errs, fmt.Errorf("object %q is defined twice", o.Name))
		}
		seen[o.Name] = true
		switch o.Shape {
		case "box", "plane", "sphere":
		default:
			errs = append(errs, fmt.Errorf("object %q has unknown shape %q", o.Name, o.Shape))
		}
	}
	return errors.Join(errs...)
}
