package probes

import (
	"math"

	"github.com/gekko3d/lumen/lumenrt/rt/core"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// Face order is +X, -X, +Y, -Y, +Z, -Z. Texel (x, y) of a face maps to
// sc = 2(x+0.5)/size-1 and tc = 2(y+0.5)/size-1, with y growing downwards.
var faceBasis = [CubemapFaces]struct {
	forward, sc, tc mgl32.Vec3
}{
	{mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, -1, 0}},
	{mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{0, 0, 1}, mgl32.Vec3{0, -1, 0}},
	{mgl32.Vec3{0, 1, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, 1}},
	{mgl32.Vec3{0, -1, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, -1}},
	{mgl32.Vec3{0, 0, 1}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, -1, 0}},
	{mgl32.Vec3{0, 0, -1}, mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{0, -1, 0}},
}

// CubemapData holds RGBA float texels per mip per face, rows top to bottom.
type CubemapData struct {
	Size  uint32
	Mips  uint32
	Faces [][CubemapFaces][]float32
	// BakeID names the bake session that produced the data.
	BakeID uuid.UUID
}

func NewCubemapData(size, mips uint32) *CubemapData {
	c := &CubemapData{Size: size, Mips: mips, Faces: make([][CubemapFaces][]float32, mips)}
	for m := uint32(0); m < mips; m++ {
		s := c.MipSize(m)
		for f := 0; f < CubemapFaces; f++ {
			c.Faces[m][f] = make([]float32, s*s*4)
		}
	}
	return c
}

func (c *CubemapData) MipSize(mip uint32) uint32 {
	return max(c.Size>>mip, 1)
}

func texelCoord(i, size uint32) float32 {
	return 2*(float32(i)+0.5)/float32(size) - 1
}

// TexelDirection is the normalized world direction through the center of a face texel.
func TexelDirection(face int, x, y, size uint32) mgl32.Vec3 {
	return faceDirection(face, texelCoord(x, size), texelCoord(y, size)).Normalize()
}

func faceDirection(face int, sc, tc float32) mgl32.Vec3 {
	b := faceBasis[face]
	return b.forward.Add(b.sc.Mul(sc)).Add(b.tc.Mul(tc))
}

// DirectionFace picks the face a direction falls on and its face coordinates in [-1, 1].
func DirectionFace(d mgl32.Vec3) (face int, sc, tc float32) {
	ax, ay, az := abs32(d.X()), abs32(d.Y()), abs32(d.Z())
	switch {
	case ax >= ay && ax >= az:
		face = 0
		if d.X() < 0 {
			face = 1
		}
	case ay >= az:
		face = 2
		if d.Y() < 0 {
			face = 3
		}
	default:
		face = 4
		if d.Z() < 0 {
			face = 5
		}
	}
	b := faceBasis[face]
	ma := d.Dot(b.forward)
	return face, d.Dot(b.sc) / ma, d.Dot(b.tc) / ma
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// Sample reads a mip bilinearly along dir. Filtering stays within the face.
func (c *CubemapData) Sample(mip uint32, dir mgl32.Vec3) [4]float32 {
	face, sc, tc := DirectionFace(dir)
	size := c.MipSize(mip)
	texels := c.Faces[mip][face]
	fx := (sc+1)*0.5*float32(size) - 0.5
	fy := (tc+1)*0.5*float32(size) - 0.5
	x0 := int(math.Floor(float64(fx)))
	y0 := int(math.Floor(float64(fy)))
	wx := fx - float32(x0)
	wy := fy - float32(y0)
	last := int(size) - 1
	at := func(x, y int) [4]float32 {
		x = min(max(x, 0), last)
		y = min(max(y, 0), last)
		i := (y*int(size) + x) * 4
		return [4]float32{texels[i], texels[i+1], texels[i+2], texels[i+3]}
	}
	a, b := at(x0, y0), at(x0+1, y0)
	cc, d := at(x0, y0+1), at(x0+1, y0+1)
	var out [4]float32
	for k := 0; k < 4; k++ {
		top := a[k]*(1-wx) + b[k]*wx
		bottom := cc[k]*(1-wx) + d[k]*wx
		out[k] = top*(1-wy) + bottom*wy
	}
	return out
}

// FaceLuminance is the mean Rec. 709 luminance of one face of a mip.
func (c *CubemapData) FaceLuminance(mip uint32, face int) float32 {
	texels := c.Faces[mip][face]
	if len(texels) == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < len(texels); i += 4 {
		sum += 0.2126*float64(texels[i]) + 0.7152*float64(texels[i+1]) + 0.0722*float64(texels[i+2])
	}
	return float32(sum / float64(len(texels)/4))
}

// downsample box-filters a square RGBA face to size to.
func downsample(src []float32, size, to uint32) []float32 {
	if to >= size {
		return append([]float32(nil), src...)
	}
	ratio := size / to
	out := make([]float32, to*to*4)
	norm := 1 / float32(ratio*ratio)
	for y := uint32(0); y < to; y++ {
		for x := uint32(0); x < to; x++ {
			o := (y*to + x) * 4
			for sy := uint32(0); sy < ratio; sy++ {
				for sx := uint32(0); sx < ratio; sx++ {
					i := ((y*ratio+sy)*size + x*ratio + sx) * 4
					for k := uint32(0); k < 4; k++ {
						out[o+k] += src[i+k] * norm
					}
				}
			}
		}
	}
	return out
}

// FaceViewProjection renders one cubemap face from pos. The face basis is mirrored relative
// to a right-handed camera, so captures must not cull by winding.
func FaceViewProjection(face int, pos mgl32.Vec3, near, far float32) mgl32.Mat4 {
	b := faceBasis[face]
	right := b.sc
	up := b.tc.Mul(-1)
	back := b.forward.Mul(-1)
	view := mgl32.Mat4{
		right.X(), up.X(), back.X(), 0,
		right.Y(), up.Y(), back.Y(), 0,
		right.Z(), up.Z(), back.Z(), 0,
		-right.Dot(pos), -up.Dot(pos), -back.Dot(pos), 1,
	}
	return core.PerspectiveRH(math.Pi/2, 1, near, far).Mul4(view)
}
