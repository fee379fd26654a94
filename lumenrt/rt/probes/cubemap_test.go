package probes

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constantCubemap(size uint32, rgb [3]float32) *CubemapData {
	c := NewCubemapData(size, 1)
	for f := 0; f < CubemapFaces; f++ {
		for i := 0; i < len(c.Faces[0][f]); i += 4 {
			c.Faces[0][f][i] = rgb[0]
			c.Faces[0][f][i+1] = rgb[1]
			c.Faces[0][f][i+2] = rgb[2]
			c.Faces[0][f][i+3] = 1
		}
	}
	return c
}

// faceColoredCubemap gives every face its own flat color, so lookups reveal the face hit.
func faceColoredCubemap(size uint32) *CubemapData {
	c := NewCubemapData(size, 1)
	for f := 0; f < CubemapFaces; f++ {
		for i := 0; i < len(c.Faces[0][f]); i += 4 {
			c.Faces[0][f][i] = float32(f)
			c.Faces[0][f][i+3] = 1
		}
	}
	return c
}

func TestDirectionFaceInvertsTexelDirection(t *testing.T) {
	const size = 8
	for f := 0; f < CubemapFaces; f++ {
		for _, xy := range [][2]uint32{{0, 0}, {3, 5}, {7, 7}} {
			d := TexelDirection(f, xy[0], xy[1], size)
			face, sc, tc := DirectionFace(d)
			require.Equal(t, f, face)
			assert.InDelta(t, texelCoord(xy[0], size), sc, 1e-5)
			assert.InDelta(t, texelCoord(xy[1], size), tc, 1e-5)
		}
	}
}

func TestSampleHitsFace(t *testing.T) {
	c := faceColoredCubemap(4)
	dirs := []mgl32.Vec3{{1, 0, 0}, {-1, 0, 0}, {0, 1, 0}, {0, -1, 0}, {0, 0, 1}, {0, 0, -1}}
	for f, d := range dirs {
		assert.Equal(t, float32(f), c.Sample(0, d)[0], "face %d", f)
	}
}

func TestFaceViewProjectionLooksDownFace(t *testing.T) {
	pos := mgl32.Vec3{1, 2, 3}
	for f := 0; f < CubemapFaces; f++ {
		vp := FaceViewProjection(f, pos, 0.1, 100)
		ahead := pos.Add(faceBasis[f].forward.Mul(10))
		clip := vp.Mul4x1(ahead.Vec4(1))
		ndc := clip.Vec3().Mul(1 / clip.W())
		assert.InDelta(t, 0, ndc.X(), 1e-4, "face %d", f)
		assert.InDelta(t, 0, ndc.Y(), 1e-4, "face %d", f)
		assert.True(t, clip.W() > 0, "face %d looks backwards", f)

		// The texel row axis points down the image.
		below := ahead.Add(faceBasis[f].tc.Mul(5))
		clip = vp.Mul4x1(below.Vec4(1))
		assert.Less(t, clip.Y()/clip.W(), float32(0), "face %d", f)
	}
}

func TestDownsampleAverages(t *testing.T) {
	src := make([]float32, 4*4*4)
	for i := 0; i < len(src); i += 4 {
		src[i] = float32(i / 4)
	}
	out := downsample(src, 4, 2)
	require.Len(t, out, 2*2*4)
	// Top-left 2x2 block holds texels 0, 1, 4, 5.
	assert.InDelta(t, 2.5, out[0], 1e-6)
}

func TestConvolveIrradianceKeepsConstantEnvironment(t *testing.T) {
	src := constantCubemap(16, [3]float32{0.5, 0.25, 2})
	out := ConvolveIrradiance(src, 8)

	require.Equal(t, uint32(16), out.Size)
	require.Equal(t, uint32(1), out.Mips)
	for f := 0; f < CubemapFaces; f++ {
		for _, xy := range [][2]uint32{{0, 0}, {7, 9}, {15, 15}} {
			i := (xy[1]*out.Size + xy[0]) * 4
			assert.InEpsilon(t, 0.5, out.Faces[0][f][i], 0.015)
			assert.InEpsilon(t, 0.25, out.Faces[0][f][i+1], 0.015)
			assert.InEpsilon(t, 2, out.Faces[0][f][i+2], 0.015)
		}
	}
}

func TestConvolveIrradianceFavorsFacingLight(t *testing.T) {
	src := NewCubemapData(8, 1)
	for i := 0; i < len(src.Faces[0][4]); i += 4 {
		src.Faces[0][4][i] = 1
		src.Faces[0][4][i+1] = 1
		src.Faces[0][4][i+2] = 1
	}
	out := ConvolveIrradiance(src, 8)
	// Only +Z is lit: facing it beats looking sideways, which beats looking away.
	assert.Greater(t, out.FaceLuminance(0, 4), out.FaceLuminance(0, 0))
	assert.Greater(t, out.FaceLuminance(0, 0), out.FaceLuminance(0, 5))
}

func TestPrefilterSpecular(t *testing.T) {
	src := constantCubemap(16, [3]float32{1, 0.5, 0.25})
	out := PrefilterSpecular(src, 4, 16)

	require.Equal(t, uint32(4), out.Mips)
	assert.Equal(t, src.Faces[0], out.Faces[0])
	for m := uint32(1); m < out.Mips; m++ {
		require.Len(t, out.Faces[m][2], int(out.MipSize(m)*out.MipSize(m)*4))
		for f := 0; f < CubemapFaces; f++ {
			assert.InDelta(t, 1, out.Faces[m][f][0], 1e-4)
			assert.InDelta(t, 0.5, out.Faces[m][f][1], 1e-4)
			assert.InDelta(t, 0.25, out.Faces[m][f][2], 1e-4)
		}
	}
}

func TestHammersley(t *testing.T) {
	u, v := hammersley(0, 4)
	assert.Zero(t, u)
	assert.Zero(t, v)
	u, v = hammersley(1, 4)
	assert.InDelta(t, 0.25, u, 1e-6)
	assert.InDelta(t, 0.5, v, 1e-6)
}

func TestCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	key := cacheKey{Type: Specular, FaceSize: 8, Mips: 3, Grid: [3]int{1, 2, 3}}
	data := PrefilterSpecular(faceColoredCubemap(8), 3, 8)
	data.BakeID = uuid.New()
	path := probePath(dir, Specular, key.Grid)

	require.NoError(t, storeProbe(path, key, data))
	assert.Equal(t, filepath.Join(dir, "specular_probes", "probe_1_2_3.lprb"), path)

	got, err := loadProbe(path, key)
	require.NoError(t, err)
	assert.Equal(t, data.BakeID, got.BakeID)
	for m := uint32(0); m < key.Mips; m++ {
		for f := 0; f < CubemapFaces; f++ {
			want := data.FaceLuminance(m, f)
			assert.InDelta(t, want, got.FaceLuminance(m, f), float64(0.01*max(want, 1e-3)))
		}
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are cleaned up")
}

func TestCacheMisses(t *testing.T) {
	dir := t.TempDir()
	key := cacheKey{Type: Diffuse, FaceSize: 4, Mips: 1, Grid: [3]int{0, 0, 0}}
	data := constantCubemap(4, [3]float32{1, 1, 1})
	data.BakeID = uuid.New()
	path := probePath(dir, Diffuse, key.Grid)
	require.NoError(t, storeProbe(path, key, data))

	other := key
	other.Grid = [3]int{0, 0, 1}
	stale := key
	stale.Type = Specular
	tests := []struct {
		name string
		path string
		key  cacheKey
	}{
		{"missing file", filepath.Join(dir, "nope.lprb"), key},
		{"other grid coord", path, other},
		{"other probe type", path, stale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadProbe(tt.path, tt.key)
			assert.ErrorIs(t, err, ErrCacheMiss)
		})
	}

	t.Run("truncated", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, encodeProbe(&buf, key, data))
		_, err := decodeProbe(bytes.NewReader(buf.Bytes()[:buf.Len()-10]), key)
		assert.ErrorIs(t, err, ErrCacheMiss)
	})

	t.Run("no bake id", func(t *testing.T) {
		var buf bytes.Buffer
		anon := constantCubemap(4, [3]float32{1, 1, 1})
		require.NoError(t, encodeProbe(&buf, key, anon))
		_, err := decodeProbe(&buf, key)
		assert.ErrorIs(t, err, ErrCacheMiss)
	})
}

func TestEncodeRejectsWrongLayout(t *testing.T) {
	key := cacheKey{Type: Diffuse, FaceSize: 8, Mips: 1}
	err := encodeProbe(&bytes.Buffer{}, key, constantCubemap(4, [3]float32{}))
	assert.Error(t, err)
}
