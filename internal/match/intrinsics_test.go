package match

import (
	"math"
	"testing"
)

func TestMatrixFlipsPrincipalPointY(t *testing.T) {
	in := &Intrinsics{
		FocalLengthPx:  1000,
		PrincipalPoint: [2]float64{960, 500}, // bottom-left origin
		Model:          DistortionPolynomial,
	}
	K := in.Matrix(1080)
	if K[0][0] != 1000 || K[1][1] != 1000 {
		t.Errorf("focal diagonal = %g, %g, want 1000", K[0][0], K[1][1])
	}
	if K[0][2] != 960 {
		t.Errorf("cx = %g, want 960", K[0][2])
	}
	if K[1][2] != 580 { // 1080 - 500
		t.Errorf("cy = %g, want 580", K[1][2])
	}
	if K[2][2] != 1 {
		t.Errorf("K[2][2] = %g, want 1", K[2][2])
	}
}

func TestDistortionVectorLayout(t *testing.T) {
	in := &Intrinsics{Model: DistortionPolynomial, K1: 0.1, K2: -0.05, K3: 0.01, BrownK1: 9}
	got := in.DistortionVector()
	want := [5]float64{0.1, -0.05, 0, 0, 0.01}
	if got != want {
		t.Errorf("polynomial vector = %v, want %v", got, want)
	}

	in.Model = DistortionBrown
	in.BrownK1, in.BrownK2, in.BrownK3 = 0.2, 0.1, -0.02
	got = in.DistortionVector()
	want = [5]float64{0.2, 0.1, 0, 0, -0.02}
	if got != want {
		t.Errorf("brown vector = %v, want %v", got, want)
	}
}

func TestDistortionVectorUnsupportedModelIsZero(t *testing.T) {
	in := &Intrinsics{Model: DistortionNuke, K1: 0.5, BrownK1: 0.5}
	if got := in.DistortionVector(); got != ([5]float64{}) {
		t.Errorf("unsupported model vector = %v, want zeros", got)
	}
}

func TestApplyCalibrationWritesOnlyFlaggedParams(t *testing.T) {
	in := &Intrinsics{
		FocalLengthPx:  1000,
		FocalLengthMM:  18.75,
		SensorWidthMM:  36,
		PrincipalPoint: [2]float64{960, 540},
		Model:          DistortionPolynomial,
		K1:             0.1,
		K2:             0.2,
		K3:             0.3,
	}
	res := &CalibrationResult{
		FocalLengthPx: 1100,
		Cx:            950,
		Cy:            530, // top-left origin
		K1:            0.5,
		K2:            0.6,
		K3:            0.7,
	}

	in.ApplyCalibration(res, RefineFlags{FocalLength: true}, 1920, 1080)

	if in.FocalLengthPx != 1100 {
		t.Errorf("FocalLengthPx = %g, want 1100", in.FocalLengthPx)
	}
	wantMM := 1100 * 36.0 / 1920
	if math.Abs(in.FocalLengthMM-wantMM) > 1e-12 {
		t.Errorf("FocalLengthMM = %g, want %g", in.FocalLengthMM, wantMM)
	}
	// Everything unflagged stays bit-identical.
	if in.PrincipalPoint != ([2]float64{960, 540}) {
		t.Errorf("principal point changed: %v", in.PrincipalPoint)
	}
	if in.K1 != 0.1 || in.K2 != 0.2 || in.K3 != 0.3 {
		t.Errorf("distortion changed: %g %g %g", in.K1, in.K2, in.K3)
	}
}

func TestApplyCalibrationPrincipalPointOriginConversion(t *testing.T) {
	in := &Intrinsics{PrincipalPoint: [2]float64{960, 540}}
	res := &CalibrationResult{Cx: 950, Cy: 530}

	in.ApplyCalibration(res, RefineFlags{PrincipalPoint: true}, 1920, 1080)

	if in.PrincipalPoint != ([2]float64{950, 550}) { // 1080 - 530
		t.Errorf("principal point = %v, want [950 550]", in.PrincipalPoint)
	}
}

func TestApplyCalibrationSyncsBothCoefficientSets(t *testing.T) {
	in := &Intrinsics{Model: DistortionBrown}
	res := &CalibrationResult{K1: 0.11, K2: 0.22, K3: 0.33}

	in.ApplyCalibration(res, RefineFlags{K1: true, K2: true, K3: true}, 1920, 1080)

	if in.K1 != 0.11 || in.K2 != 0.22 || in.K3 != 0.33 {
		t.Errorf("polynomial set = %g %g %g", in.K1, in.K2, in.K3)
	}
	if in.BrownK1 != 0.11 || in.BrownK2 != 0.22 || in.BrownK3 != 0.33 {
		t.Errorf("brown set = %g %g %g", in.BrownK1, in.BrownK2, in.BrownK3)
	}
}

func TestResetKeepsSensorWidth(t *testing.T) {
	in := &Intrinsics{
		FocalLengthPx: 2000,
		SensorWidthMM: 23.5,
		K1:            0.4,
	}
	in.Reset(1920, 1080)

	if in.SensorWidthMM != 23.5 {
		t.Errorf("sensor width = %g, want 23.5 preserved", in.SensorWidthMM)
	}
	if in.FocalLengthMM != 24 {
		t.Errorf("focal mm = %g, want default 24", in.FocalLengthMM)
	}
	wantPx := 24.0 * 1920 / 23.5
	if math.Abs(in.FocalLengthPx-wantPx) > 1e-9 {
		t.Errorf("focal px = %g, want %g", in.FocalLengthPx, wantPx)
	}
	if in.K1 != 0 || in.K2 != 0 || in.K3 != 0 {
		t.Errorf("distortion not cleared: %g %g %g", in.K1, in.K2, in.K3)
	}
	if in.PrincipalPoint != ([2]float64{960, 540}) {
		t.Errorf("principal point = %v, want centred", in.PrincipalPoint)
	}
}

func TestRefineFlagsAny(t *testing.T) {
	if (RefineFlags{}).Any() {
		t.Error("zero flags reported Any")
	}
	if !(RefineFlags{K2: true}).Any() {
		t.Error("K2 flag not reported by Any")
	}
}
