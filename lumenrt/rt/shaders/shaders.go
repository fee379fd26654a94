package shaders

import (
	_ "embed"
)

//go:embed shadow_depth.wgsl
var ShadowDepthWGSL string

//go:embed gbuffer.wgsl
var GBufferWGSL string

//go:embed voxelize.wgsl
var VoxelizeWGSL string

//go:embed voxel_clear.wgsl
var VoxelClearWGSL string

//go:embed voxel_mips.wgsl
var VoxelMipsWGSL string

//go:embed cone_trace.wgsl
var ConeTraceWGSL string

//go:embed upsample_blur.wgsl
var UpsampleBlurWGSL string

//go:embed debug_voxels.wgsl
var DebugVoxelsWGSL string

//go:embed debug_lines.wgsl
var DebugLinesWGSL string

//go:embed probe_capture.wgsl
var ProbeCaptureWGSL string

//go:embed blit.wgsl
var BlitWGSL string

//go:embed text.wgsl
var TextWGSL string

//go:embed lighting.wgsl
var lightingWGSL string

//go:embed deferred_lighting.wgsl
var deferredLightingWGSL string

//go:embed forward.wgsl
var forwardWGSL string

// The deferred and forward programs share one lighting block, bindings 0-16 and the BRDF.
var (
	DeferredLightingWGSL = lightingWGSL + deferredLightingWGSL
	ForwardWGSL          = lightingWGSL + forwardWGSL
)
