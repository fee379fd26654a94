package gpu

import "fmt"

type TextureKind int

const (
	AlbedoMap TextureKind = iota
	NormalMap
	SpecularMap
	RoughnessMap
	MetallicMap
	textureKindCount
)

func (k TextureKind) String() string {
	return [...]string{"albedo", "normal", "specular", "roughness", "metallic"}[k]
}

// DefaultTextures are 1x1 stand-ins bound whenever a mesh is missing a texture.
type DefaultTextures struct {
	maps [textureKindCount]TextureHandle
}

var defaultTexels = [textureKindCount][4]byte{
	AlbedoMap:    {255, 255, 255, 255},
	NormalMap:    {128, 128, 255, 255},
	SpecularMap:  {0, 0, 0, 255},
	RoughnessMap: {255, 255, 255, 255},
	MetallicMap:  {0, 0, 0, 255},
}

func NewDefaultTextures(dev Device) (*DefaultTextures, error) {
	d := &DefaultTextures{}
	for k := TextureKind(0); k < textureKindCount; k++ {
		tex, err := dev.CreateTexture(TextureDesc{
			Label:     "Empty " + k.String() + " map",
			Width:     1,
			Height:    1,
			Mips:      1,
			Format:    FormatRGBA8Unorm,
			Dimension: Texture2D,
			Usage:     UsageSampled | UsageCopyDst,
		})
		if err != nil {
			return nil, fmt.Errorf("default %s texture: %w", k, err)
		}
		texel := defaultTexels[k]
		dev.WriteTexture(tex, TextureRegion{Width: 1, Height: 1, Depth: 1}, texel[:])
		d.maps[k] = tex
	}
	return d, nil
}

func (d *DefaultTextures) Get(kind TextureKind) TextureHandle {
	return d.maps[kind]
}

// Resolve returns tex unless it is NoTexture, in which case the default for kind is used.
func (d *DefaultTextures) Resolve(kind TextureKind, tex TextureHandle) TextureHandle {
	if tex != NoTexture {
		return tex
	}
	return d.maps[kind]
}
