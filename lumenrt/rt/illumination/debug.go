package illumination

// RenderDebugConfig carries the per-frame editor switches. The zero value renders production output.
type RenderDebugConfig struct {
	// EditorMode gates every overlay below it.
	EditorMode        bool `json:"editor_mode"`
	Wireframe         bool `json:"wireframe"`
	ShowVoxelCascades bool `json:"show_voxel_cascades"`
	ShowProbes        bool `json:"show_probes"`
	ShowCascadeSplits bool `json:"show_cascade_splits"`
	AOOnly            bool `json:"ao_only"`
	DisableGI         bool `json:"disable_gi"`
	DisableProbes     bool `json:"disable_probes"`
}

func (d RenderDebugConfig) overlays() bool {
	return d.EditorMode && (d.Wireframe || d.ShowVoxelCascades || d.ShowProbes || d.ShowCascadeSplits)
}
