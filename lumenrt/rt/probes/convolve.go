package probes

import (
	"math"
	"math/bits"

	"github.com/go-gl/mathgl/mgl32"
)

// ConvolveIrradiance integrates src with a cosine lobe around every output texel direction.
// The result is divided by pi, so a constant environment convolves to itself.
// src is reduced to inputSize per face first; irradiance has no high frequencies to lose.
func ConvolveIrradiance(src *CubemapData, inputSize uint32) *CubemapData {
	n := src.Size
	if inputSize > 0 && inputSize < n {
		n = inputSize
	}
	type sample struct {
		dir   mgl32.Vec3
		omega float32
		rgb   [3]float32
	}
	samples := make([]sample, 0, CubemapFaces*n*n)
	for f := 0; f < CubemapFaces; f++ {
		face := downsample(src.Faces[0][f], src.Size, n)
		for y := uint32(0); y < n; y++ {
			for x := uint32(0); x < n; x++ {
				sc, tc := texelCoord(x, n), texelCoord(y, n)
				d2 := 1 + sc*sc + tc*tc
				i := (y*n + x) * 4
				samples = append(samples, sample{
					dir:   faceDirection(f, sc, tc).Normalize(),
					omega: 4 / (float32(n*n) * d2 * float32(math.Sqrt(float64(d2)))),
					rgb:   [3]float32{face[i], face[i+1], face[i+2]},
				})
			}
		}
	}

	out := NewCubemapData(src.Size, 1)
	for f := 0; f < CubemapFaces; f++ {
		texels := out.Faces[0][f]
		for y := uint32(0); y < out.Size; y++ {
			for x := uint32(0); x < out.Size; x++ {
				normal := TexelDirection(f, x, y, out.Size)
				var r, g, b float32
				for _, s := range samples {
					w := normal.Dot(s.dir)
					if w <= 0 {
						continue
					}
					w *= s.omega
					r += s.rgb[0] * w
					g += s.rgb[1] * w
					b += s.rgb[2] * w
				}
				i := (y*out.Size + x) * 4
				texels[i] = r / math.Pi
				texels[i+1] = g / math.Pi
				texels[i+2] = b / math.Pi
				texels[i+3] = 1
			}
		}
	}
	return out
}

// PrefilterSpecular builds a GGX prefiltered mip chain. Mip 0 is the source itself and mip m
// uses roughness m/(mips-1), importance sampled with sampleCount Hammersley points.
func PrefilterSpecular(src *CubemapData, mips uint32, sampleCount int) *CubemapData {
	out := NewCubemapData(src.Size, mips)
	for f := 0; f < CubemapFaces; f++ {
		copy(out.Faces[0][f], src.Faces[0][f])
	}
	for m := uint32(1); m < mips; m++ {
		roughness := float32(m) / float32(mips-1)
		size := out.MipSize(m)
		for f := 0; f < CubemapFaces; f++ {
			texels := out.Faces[m][f]
			for y := uint32(0); y < size; y++ {
				for x := uint32(0); x < size; x++ {
					c := prefilterTexel(src, TexelDirection(f, x, y, size), roughness, sampleCount)
					i := (y*size + x) * 4
					copy(texels[i:i+4], c[:])
				}
			}
		}
	}
	return out
}

// prefilterTexel assumes view = normal = reflection, as split-sum prefiltering does.
func prefilterTexel(src *CubemapData, n mgl32.Vec3, roughness float32, sampleCount int) [4]float32 {
	var sum [3]float32
	var weight float32
	for i := 0; i < sampleCount; i++ {
		u, v := hammersley(uint32(i), uint32(sampleCount))
		h := importanceSampleGGX(u, v, n, roughness)
		l := h.Mul(2 * n.Dot(h)).Sub(n)
		nl := n.Dot(l)
		if nl <= 0 {
			continue
		}
		c := src.Sample(0, l)
		sum[0] += c[0] * nl
		sum[1] += c[1] * nl
		sum[2] += c[2] * nl
		weight += nl
	}
	if weight == 0 {
		return src.Sample(0, n)
	}
	return [4]float32{sum[0] / weight, sum[1] / weight, sum[2] / weight, 1}
}

func hammersley(i, n uint32) (float32, float32) {
	return float32(i) / float32(n), float32(bits.Reverse32(i)) * 2.3283064365386963e-10
}

func importanceSampleGGX(u, v float32, n mgl32.Vec3, roughness float32) mgl32.Vec3 {
	a := roughness * roughness
	phi := 2 * math.Pi * float64(u)
	cosTheta := math.Sqrt((1 - float64(v)) / (1 + (float64(a*a)-1)*float64(v)))
	sinTheta := math.Sqrt(1 - cosTheta*cosTheta)
	h := mgl32.Vec3{
		float32(sinTheta * math.Cos(phi)),
		float32(sinTheta * math.Sin(phi)),
		float32(cosTheta),
	}

	up := mgl32.Vec3{0, 0, 1}
	if abs32(n.Z()) > 0.999 {
		up = mgl32.Vec3{1, 0, 0}
	}
	tx := up.Cross(n).Normalize()
	ty := n.Cross(tx)
	return tx.Mul(h.X()).Add(ty.Mul(h.Y())).Add(n.Mul(h.Z())).Normalize()
}
