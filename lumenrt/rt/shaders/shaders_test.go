package shaders

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bindingDecl = regexp.MustCompile(`@group\(0\) @binding\((\d+)\) var(?:<[^>]+>)? (\w+)`)

func TestBindingsAreDenseAndUsed(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		last    int
		entries []string
	}{
		{"ShadowDepth", ShadowDepthWGSL, 0, []string{"vs_main"}},
		{"GBuffer", GBufferWGSL, 6, []string{"vs_main", "fs_main"}},
		{"Voxelize", VoxelizeWGSL, 5, []string{"vs_main", "fs_main"}},
		{"VoxelClear", VoxelClearWGSL, 1, []string{"main"}},
		{"VoxelMips", VoxelMipsWGSL, 2, []string{"main"}},
		{"ConeTrace", ConeTraceWGSL, 6, []string{"main"}},
		{"UpsampleBlur", UpsampleBlurWGSL, 3, []string{"main"}},
		{"DebugVoxels", DebugVoxelsWGSL, 2, []string{"main"}},
		{"DebugLines", DebugLinesWGSL, 1, []string{"vs_main", "fs_main"}},
		{"ProbeCapture", ProbeCaptureWGSL, 4, []string{"vs_main", "fs_main"}},
		{"Blit", BlitWGSL, 1, []string{"vs_main", "fs_main"}},
		{"Text", TextWGSL, 1, []string{"vs_main", "fs_main"}},
		{"DeferredLighting", DeferredLightingWGSL, 21, []string{"main"}},
		{"Forward", ForwardWGSL, 21, []string{"vs_main", "fs_main"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotEmpty(t, tt.code)
			var slots []int
			for _, m := range bindingDecl.FindAllStringSubmatch(tt.code, -1) {
				slot, err := strconv.Atoi(m[1])
				require.NoError(t, err)
				slots = append(slots, slot)

				// Layouts are derived from the shader, so an unused binding would be dropped.
				uses := regexp.MustCompile(`\b` + m[2] + `\b`).FindAllStringIndex(tt.code, -1)
				assert.GreaterOrEqual(t, len(uses), 2, "binding %s (%d) is never used", m[2], slot)
			}
			sort.Ints(slots)
			require.Len(t, slots, tt.last+1)
			for i, s := range slots {
				assert.Equal(t, i, s)
			}
			for _, e := range tt.entries {
				assert.True(t, strings.Contains(tt.code, "fn "+e+"("), "missing entry point %s", e)
			}
		})
	}
}
