package gpu

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniformsAlignment(t *testing.T) {
	u := NewUniforms(0)
	u.Uint(7)
	u.Vec4(mgl32.Vec4{1, 2, 3, 4})
	u.Float(5).Bool(true)

	b := u.Bytes()
	require.Len(t, b, 48)
	assert.Equal(t, []float32{1, 2, 3, 4}, BytesToFloat32s(b[16:32]))
	assert.Equal(t, float32(5), BytesToFloat32s(b[32:36])[0])
	assert.Equal(t, byte(1), b[36])
}

func TestHalfFloats(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		bits uint16
	}{
		{"zero", 0, 0x0000},
		{"one", 1, 0x3c00},
		{"minus two", -2, 0xc000},
		{"largest", 65504, 0x7bff},
		{"overflow", 1e6, 0x7c00},
		{"smallest subnormal", float32(math.Ldexp(1, -24)), 0x0001},
		{"underflow", 1e-10, 0x0000},
		{"rounds to nearest", 1 + 1.0/2048 + 1.0/8192, 0x3c01},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.bits, toHalf(tt.in))
		})
	}

	assert.True(t, math.IsNaN(float64(fromHalf(toHalf(float32(math.NaN()))))))
	assert.True(t, math.IsInf(float64(fromHalf(0xfc00)), -1))
}

func TestHalfBytesRoundTrip(t *testing.T) {
	in := []float32{0.1, 0.5, 3.25, -7.75, 1000, 0.0001}
	out := HalfBytesToFloat32s(Float32sToHalfBytes(in))
	require.Len(t, out, len(in))
	for i := range in {
		assert.InEpsilon(t, in[i], out[i], 1e-3, "value %v", in[i])
	}
}

func TestDepthBiasUnits(t *testing.T) {
	tests := []struct {
		name string
		bias float32
		want int32
	}{
		{"zero", 0, 0},
		{"one texel of a 4096 map", 0.05 / 4096, 205},
		{"whole range", 1, 1 << 24},
		{"negative", -0.5, -(1 << 23)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DepthBiasUnits(tt.bias))
		})
	}
}
