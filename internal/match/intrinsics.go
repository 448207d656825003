package match

import (
	"github.com/matchmove/camsolve/internal/frames"
	"github.com/matchmove/camsolve/internal/monitoring"
)

// DistortionModel names the lens distortion parameterisation carried by the
// tracking camera. Only Polynomial and Brown are numerically supported by
// the solver; other models degrade to zero distortion with a warning.
type DistortionModel string

const (
	DistortionPolynomial DistortionModel = "POLYNOMIAL"
	DistortionBrown      DistortionModel = "BROWN"
	DistortionDivision   DistortionModel = "DIVISION"
	DistortionNuke       DistortionModel = "NUKE"
	DistortionNone       DistortionModel = "NONE"
)

// Intrinsics holds the tracking camera's internal parameters. The principal
// point is stored in pixels with a bottom-left image origin; the solver
// matrix uses a top-left origin, hence the flip in Matrix. Focal length is
// carried both in pixels (solver-facing) and millimetres (scene-facing).
//
// Polynomial and Brown coefficient sets are stored separately, mirroring
// tracking tools that keep both; DistortionVector selects by active model.
type Intrinsics struct {
	FocalLengthPx  float64         `json:"focal_length_px"`
	FocalLengthMM  float64         `json:"focal_length_mm"`
	SensorWidthMM  float64         `json:"sensor_width_mm"`
	PrincipalPoint [2]float64      `json:"principal_point"`
	Model          DistortionModel `json:"distortion_model"`

	K1 float64 `json:"k1"`
	K2 float64 `json:"k2"`
	K3 float64 `json:"k3"`

	BrownK1 float64 `json:"brown_k1"`
	BrownK2 float64 `json:"brown_k2"`
	BrownK3 float64 `json:"brown_k3"`
}

// DefaultIntrinsics returns reset values: a 24mm lens on a 36mm sensor with
// the principal point at the image centre and no distortion.
func DefaultIntrinsics(width, height int) *Intrinsics {
	sensorWidth := 36.0
	focalMM := 24.0
	return &Intrinsics{
		FocalLengthPx:  focalMM * float64(width) / sensorWidth,
		FocalLengthMM:  focalMM,
		SensorWidthMM:  sensorWidth,
		PrincipalPoint: [2]float64{float64(width) / 2, float64(height) / 2},
		Model:          DistortionPolynomial,
	}
}

// Matrix builds the 3x3 solver-facing camera matrix:
//
//	[ f  0  cx     ]
//	[ 0  f  H - cy ]
//	[ 0  0  1      ]
//
// The stored principal point Y is bottom-left origin; the solver expects
// top-left, so cy is flipped against the image height.
func (in *Intrinsics) Matrix(imageHeight int) frames.Mat3 {
	return frames.Mat3{
		{in.FocalLengthPx, 0, in.PrincipalPoint[0]},
		{0, in.FocalLengthPx, float64(imageHeight) - in.PrincipalPoint[1]},
		{0, 0, 1},
	}
}

// DistortionVector returns the fixed 5-element solver distortion layout
// [k1, k2, 0, 0, k3]. Tangential terms are never modelled. Unsupported
// distortion models yield zero coefficients and a warning, never an error.
func (in *Intrinsics) DistortionVector() [5]float64 {
	var k1, k2, k3 float64
	switch in.Model {
	case DistortionPolynomial:
		k1, k2, k3 = in.K1, in.K2, in.K3
	case DistortionBrown:
		k1, k2, k3 = in.BrownK1, in.BrownK2, in.BrownK3
	default:
		monitoring.Logf("match: distortion model %q is not supported, using zero distortion (use Polynomial instead)", in.Model)
	}
	return [5]float64{k1, k2, 0, 0, k3}
}

// RefineFlags selects which intrinsic parameters a calibration run may
// modify. Anything not flagged is held fixed at its current value.
type RefineFlags struct {
	FocalLength    bool `json:"focal_length"`
	PrincipalPoint bool `json:"principal_point"`
	K1             bool `json:"k1"`
	K2             bool `json:"k2"`
	K3             bool `json:"k3"`
}

// Any reports whether at least one parameter is selected for refinement.
func (f RefineFlags) Any() bool {
	return f.FocalLength || f.PrincipalPoint || f.K1 || f.K2 || f.K3
}

// CalibrationResult carries refined intrinsics out of a calibration run.
// RefinedCy is in the solver's top-left origin convention.
type CalibrationResult struct {
	FocalLengthPx float64 `json:"focal_length_px"`
	Cx            float64 `json:"cx"`
	Cy            float64 `json:"cy"`
	K1            float64 `json:"k1"`
	K2            float64 `json:"k2"`
	K3            float64 `json:"k3"`
	RMSError      float64 `json:"rms_error"`
}

// ApplyCalibration writes the flagged subset of a calibration result back
// into the intrinsics. Unflagged parameters are untouched. The principal
// point is converted back to the bottom-left origin convention, and the
// millimetre focal length is kept consistent with the pixel value. Both
// polynomial and Brown coefficient sets receive refined distortion, which
// keeps the sets in sync regardless of the active model.
func (in *Intrinsics) ApplyCalibration(res *CalibrationResult, flags RefineFlags, imageWidth, imageHeight int) {
	if flags.FocalLength {
		in.FocalLengthPx = res.FocalLengthPx
		if in.SensorWidthMM > 0 && imageWidth > 0 {
			in.FocalLengthMM = res.FocalLengthPx * in.SensorWidthMM / float64(imageWidth)
		}
	}
	if flags.PrincipalPoint {
		in.PrincipalPoint = [2]float64{res.Cx, float64(imageHeight) - res.Cy}
	}
	if flags.K1 || flags.K2 || flags.K3 {
		in.K1, in.K2, in.K3 = res.K1, res.K2, res.K3
		in.BrownK1, in.BrownK2, in.BrownK3 = res.K1, res.K2, res.K3
	}
}

// Reset restores the default intrinsics in place, keeping the sensor width.
func (in *Intrinsics) Reset(width, height int) {
	def := DefaultIntrinsics(width, height)
	if in.SensorWidthMM > 0 {
		def.SensorWidthMM = in.SensorWidthMM
		def.FocalLengthPx = def.FocalLengthMM * float64(width) / in.SensorWidthMM
	}
	*in = *def
}
