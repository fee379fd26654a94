package gpu

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Uniforms builds a uniform block with WGSL alignment rules for the field kinds used here:
// mat4 and vec4 start on 16 bytes, scalars pack into the current 16 byte row.
type Uniforms struct {
	buf []byte
}

func NewUniforms(capacity int) *Uniforms {
	return &Uniforms{buf: make([]byte, 0, capacity)}
}

func (u *Uniforms) align(n int) {
	for len(u.buf)%n != 0 {
		u.buf = append(u.buf, 0)
	}
}

func (u *Uniforms) Mat4(m mgl32.Mat4) *Uniforms {
	u.align(16)
	u.buf = append(u.buf, mat4ToBytes(m)...)
	return u
}

func (u *Uniforms) Vec4(v mgl32.Vec4) *Uniforms {
	u.align(16)
	u.buf = append(u.buf, vec4ToBytes(v)...)
	return u
}

// Vec3 writes a vec3 followed by w, filling a 16 byte row.
func (u *Uniforms) Vec3(v mgl32.Vec3, w float32) *Uniforms {
	return u.Vec4(v.Vec4(w))
}

func (u *Uniforms) Float(f float32) *Uniforms {
	u.buf = append(u.buf, float32ToBytes(f)...)
	return u
}

func (u *Uniforms) Uint(v uint32) *Uniforms {
	u.buf = binary.LittleEndian.AppendUint32(u.buf, v)
	return u
}

func (u *Uniforms) Bool(b bool) *Uniforms {
	if b {
		return u.Uint(1)
	}
	return u.Uint(0)
}

// Bytes pads the block to a multiple of 16 bytes.
func (u *Uniforms) Bytes() []byte {
	u.align(16)
	return u.buf
}

func mat4ToBytes(m mgl32.Mat4) []byte {
	buf := make([]byte, 64)
	for i, v := range m {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func vec4ToBytes(v mgl32.Vec4) []byte {
	buf := make([]byte, 16)
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v[i]))
	}
	return buf
}

func float32ToBytes(f float32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(f))
	return buf
}

// Float32sToBytes packs texel or vertex data.
func Float32sToBytes(values []float32) []byte {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func BytesToFloat32s(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

func Uint32sToBytes(values []uint32) []byte {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return buf
}

func Int32sToBytes(values []int32) []byte {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
	}
	return buf
}

// Float32sToHalfBytes packs values as IEEE half floats for RGBA16Float uploads.
// Values past the half range saturate to infinity; NaN stays NaN.
func Float32sToHalfBytes(values []float32) []byte {
	buf := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(buf[i*2:], toHalf(v))
	}
	return buf
}

func toHalf(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int32(bits>>23&0xff) - 127 + 15
	mant := bits & 0x7fffff

	switch {
	case bits&0x7fffffff > 0x7f800000:
		return sign | 0x7e00
	case exp >= 0x1f:
		return sign | 0x7c00
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		mant |= 0x800000
		shift := uint32(14 - exp)
		half := uint16(mant >> shift)
		if mant>>(shift-1)&1 != 0 {
			half++
		}
		return sign | half
	}
	half := sign | uint16(exp)<<10 | uint16(mant>>13)
	if mant&0x1000 != 0 {
		half++
	}
	return half
}

// HalfBytesToFloat32s is the inverse of Float32sToHalfBytes.
func HalfBytesToFloat32s(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		out[i] = fromHalf(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

func fromHalf(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h & 0x3ff)
	switch exp {
	case 0:
		if mant == 0 {
			return math.Float32frombits(sign)
		}
		f := float32(mant) / 1024 / 16384
		if sign != 0 {
			return -f
		}
		return f
	case 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | mant<<13)
	}
	return math.Float32frombits(sign | (exp+127-15)<<23 | mant<<13)
}
