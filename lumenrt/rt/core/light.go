package core

import (
	"github.com/go-gl/mathgl/mgl32"
)

var (
	Forward = mgl32.Vec3{0, 0, -1}
	Right   = mgl32.Vec3{1, 0, 0}
)

// DirectionalLight is the sun. Direction, Up and Right stay a right-handed orthonormal
// basis; change them only through ApplyRotation or ApplyTransform.
type DirectionalLight struct {
	direction mgl32.Vec3
	up        mgl32.Vec3
	right     mgl32.Vec3
	transform mgl32.Mat4

	SunColor     mgl32.Vec3
	AmbientColor mgl32.Vec3
	Intensity    float32
	AngularSize  float32 // degrees
}

func NewDirectionalLight() *DirectionalLight {
	return &DirectionalLight{
		direction:    Forward,
		up:           WorldUp,
		right:        Right,
		transform:    mgl32.Ident4(),
		SunColor:     mgl32.Vec3{1, 1, 1},
		AmbientColor: mgl32.Vec3{0.08, 0.08, 0.08},
		Intensity:    5.0,
		AngularSize:  0.53,
	}
}

func (l *DirectionalLight) Direction() mgl32.Vec3 { return l.direction }
func (l *DirectionalLight) Up() mgl32.Vec3        { return l.up }
func (l *DirectionalLight) Right() mgl32.Vec3     { return l.right }

// Transform is the last matrix handed to ApplyRotation or ApplyTransform.
func (l *DirectionalLight) Transform() mgl32.Mat4 { return l.transform }

// ApplyRotation rotates the current basis by m.
func (l *DirectionalLight) ApplyRotation(m mgl32.Mat4) {
	l.transform = m
	l.setBasis(transformNormal(m, l.direction), transformNormal(m, l.up))
}

// ApplyTransform replaces the basis with the default one rotated by m.
func (l *DirectionalLight) ApplyTransform(m mgl32.Mat4) {
	l.transform = m
	l.setBasis(transformNormal(m, Forward), transformNormal(m, WorldUp))
}

func (l *DirectionalLight) setBasis(dir, up mgl32.Vec3) {
	dir = dir.Normalize()
	up = up.Normalize()
	right := dir.Cross(up).Normalize()
	l.direction = dir
	l.right = right
	l.up = right.Cross(dir)
}

// RotateAboutBasis pitches the light around its right vector then yaws it around its up vector.
// Angles are in degrees.
func (l *DirectionalLight) RotateAboutBasis(pitchDeg, yawDeg float32) {
	pitch := mgl32.HomogRotate3D(mgl32.DegToRad(pitchDeg), l.right)
	yaw := mgl32.HomogRotate3D(mgl32.DegToRad(yawDeg), l.up)
	l.ApplyRotation(yaw.Mul4(pitch))
}

// LightMatrix is the view matrix of a projector at pos looking along the light.
func (l *DirectionalLight) LightMatrix(pos mgl32.Vec3) mgl32.Mat4 {
	return LookToRH(pos, l.direction, l.up)
}

// ColorIntensity packs the sun color with intensity in w, as the lighting passes expect.
func (l *DirectionalLight) ColorIntensity() mgl32.Vec4 {
	return l.SunColor.Vec4(l.Intensity)
}

// GizmoPosition places the light's editor arrow in front of the camera.
func (l *DirectionalLight) GizmoPosition(cam *Camera, distance float32) mgl32.Vec3 {
	return cam.Position.Add(cam.Direction().Mul(distance))
}

func transformNormal(m mgl32.Mat4, v mgl32.Vec3) mgl32.Vec3 {
	return m.Mul4x1(v.Vec4(0)).Vec3()
}
