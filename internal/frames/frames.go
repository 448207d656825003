// Package frames holds the coordinate-frame conventions used across the
// solver. The PnP solver works in the vision convention (camera looks down
// +Z, image Y down); the scene convention has the camera looking down -Z
// with Y up. Export targets additionally use a Y-up world axis instead of
// the scene's Z-up. All conversions here are fixed basis changes and must
// not be reordered.
package frames

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Mat3 is a row-major 3x3 rotation matrix.
type Mat3 [3][3]float64

// Identity returns the identity rotation.
func Identity() Mat3 {
	return Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// visionBasis is the change of basis between the scene camera frame and the
// vision camera frame: B = diag(1,-1,-1) flips Y and Z.
var visionBasis = Mat3{{1, 0, 0}, {0, -1, 0}, {0, 0, -1}}

// Mul returns m * n.
func (m Mat3) Mul(n Mat3) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[i][0]*n[0][j] + m[i][1]*n[1][j] + m[i][2]*n[2][j]
		}
	}
	return out
}

// Transpose returns the transposed matrix.
func (m Mat3) Transpose() Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[j][i]
		}
	}
	return out
}

// MulVec applies the rotation to v.
func (m Mat3) MulVec(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// VisionToScene converts a world-to-camera rotation R and translation T as
// reported by the PnP solver (vision convention) into the camera's
// world-space rotation and position in the scene convention:
//
//	rot = transpose(R) * B
//	loc = -transpose(R) * T
func VisionToScene(R Mat3, T r3.Vector) (Mat3, r3.Vector) {
	Rt := R.Transpose()
	rot := Rt.Mul(visionBasis)
	loc := Rt.MulVec(T).Mul(-1)
	return rot, loc
}

// SceneToVision is the inverse of VisionToScene. Given the camera's
// world-space rotation and position it reconstructs the solver-facing
// world-to-camera rotation and translation.
func SceneToVision(rot Mat3, loc r3.Vector) (Mat3, r3.Vector) {
	// rot = R^T * B  =>  R = (rot * B^-1)^T = (rot * B)^T since B is its own inverse.
	R := rot.Mul(visionBasis).Transpose()
	T := R.MulVec(loc).Mul(-1)
	return R, T
}

// PositionYUp remaps a Z-up scene position to the Y-up export axis
// convention: (x, y, z) -> (x, z, -y).
func PositionYUp(v r3.Vector) r3.Vector {
	return r3.Vector{X: v.X, Y: v.Z, Z: -v.Y}
}

// yUpCorrection is the fixed quaternion applied before remapping a scene
// rotation into the Y-up convention, matching the glTF exporter: a -90
// degree rotation about X, (w,x,y,z) = (sqrt2/2, -sqrt2/2, 0, 0).
var yUpCorrection = quat.Number{Real: math.Sqrt2 / 2, Imag: -math.Sqrt2 / 2}

// QuaternionYUp converts a scene-convention (Z-up, scalar-first) rotation
// quaternion into the Y-up export convention, returned scalar-last as
// [qx, qz, -qy, qw].
func QuaternionYUp(q quat.Number) [4]float64 {
	c := quat.Mul(q, yUpCorrection)
	return [4]float64{c.Imag, c.Kmag, -c.Jmag, c.Real}
}

// Quaternion derives the scalar-first unit quaternion for the rotation
// matrix using the Shepperd branch selection.
func (m Mat3) Quaternion() quat.Number {
	trace := m[0][0] + m[1][1] + m[2][2]
	var q quat.Number
	switch {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		q.Real = s / 4
		q.Imag = (m[2][1] - m[1][2]) / s
		q.Jmag = (m[0][2] - m[2][0]) / s
		q.Kmag = (m[1][0] - m[0][1]) / s
	case m[0][0] > m[1][1] && m[0][0] > m[2][2]:
		s := math.Sqrt(1+m[0][0]-m[1][1]-m[2][2]) * 2
		q.Real = (m[2][1] - m[1][2]) / s
		q.Imag = s / 4
		q.Jmag = (m[0][1] + m[1][0]) / s
		q.Kmag = (m[0][2] + m[2][0]) / s
	case m[1][1] > m[2][2]:
		s := math.Sqrt(1+m[1][1]-m[0][0]-m[2][2]) * 2
		q.Real = (m[0][2] - m[2][0]) / s
		q.Imag = (m[0][1] + m[1][0]) / s
		q.Jmag = s / 4
		q.Kmag = (m[1][2] + m[2][1]) / s
	default:
		s := math.Sqrt(1+m[2][2]-m[0][0]-m[1][1]) * 2
		q.Real = (m[1][0] - m[0][1]) / s
		q.Imag = (m[0][2] + m[2][0]) / s
		q.Jmag = (m[1][2] + m[2][1]) / s
		q.Kmag = s / 4
	}
	return q
}

// FromQuaternion builds the rotation matrix for a unit quaternion.
func FromQuaternion(q quat.Number) Mat3 {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return Mat3{
		{1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y)},
		{2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x)},
		{2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y)},
	}
}

// FromAxisAngle converts a Rodrigues rotation vector to a rotation matrix.
func FromAxisAngle(v r3.Vector) Mat3 {
	theta := v.Norm()
	if theta < 1e-12 {
		return Identity()
	}
	a := v.Mul(1 / theta)
	c, s := math.Cos(theta), math.Sin(theta)
	t := 1 - c
	return Mat3{
		{t*a.X*a.X + c, t*a.X*a.Y - s*a.Z, t*a.X*a.Z + s*a.Y},
		{t*a.X*a.Y + s*a.Z, t*a.Y*a.Y + c, t*a.Y*a.Z - s*a.X},
		{t*a.X*a.Z - s*a.Y, t*a.Y*a.Z + s*a.X, t*a.Z*a.Z + c},
	}
}

// AxisAngle converts a rotation matrix to its Rodrigues vector.
func (m Mat3) AxisAngle() r3.Vector {
	cosTheta := (m[0][0] + m[1][1] + m[2][2] - 1) / 2
	cosTheta = math.Max(-1, math.Min(1, cosTheta))
	theta := math.Acos(cosTheta)
	if theta < 1e-12 {
		return r3.Vector{}
	}
	if math.Pi-theta < 1e-6 {
		// Near pi the off-diagonal formula degenerates; recover the axis
		// from the diagonal instead.
		ax := math.Sqrt(math.Max(0, (m[0][0]+1)/2))
		ay := math.Sqrt(math.Max(0, (m[1][1]+1)/2))
		az := math.Sqrt(math.Max(0, (m[2][2]+1)/2))
		if m[0][1] < 0 {
			ay = -ay
		}
		if m[0][2] < 0 {
			az = -az
		}
		return r3.Vector{X: ax, Y: ay, Z: az}.Mul(theta)
	}
	s := 2 * math.Sin(theta)
	return r3.Vector{
		X: (m[2][1] - m[1][2]) / s,
		Y: (m[0][2] - m[2][0]) / s,
		Z: (m[1][0] - m[0][1]) / s,
	}.Mul(theta)
}

// SensorFit names the sensor axis the camera angle is measured along.
type SensorFit string

const (
	FitAuto       SensorFit = "AUTO"
	FitHorizontal SensorFit = "HORIZONTAL"
	FitVertical   SensorFit = "VERTICAL"
)

// ExportFOV converts a camera's native angle (radians, measured along its
// sensor-fit axis) to the field of view expected by Y-up export targets,
// which want the FOV along the render aspect's minor axis. When the stored
// angle is already on the wanted axis it passes through unchanged, otherwise
// it is converted with fov = 2*atan(tan(angle/2)/aspect).
func ExportFOV(angle, aspect float64, fit SensorFit) float64 {
	if aspect <= 0 {
		return angle
	}
	if aspect >= 1 {
		// Landscape render: want vertical FOV.
		if fit != FitVertical {
			return 2 * math.Atan(math.Tan(angle*0.5)/aspect)
		}
		return angle
	}
	// Portrait render: want horizontal FOV.
	if fit == FitHorizontal {
		return 2 * math.Atan(math.Tan(angle*0.5)/aspect)
	}
	return angle
}

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 { return rad * 180 / math.Pi }
