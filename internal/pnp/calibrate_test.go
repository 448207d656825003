package pnp

import (
	"errors"
	"math"
	"testing"

	"github.com/matchmove/camsolve/internal/match"
)

func fixtureIntrinsics() *match.Intrinsics {
	return &match.Intrinsics{
		FocalLengthPx:  1000,
		FocalLengthMM:  18.75,
		SensorWidthMM:  36,
		PrincipalPoint: [2]float64{960, 540},
		Model:          match.DistortionPolynomial,
	}
}

func TestCalibrateInsufficientPoints(t *testing.T) {
	points := fixturePoints()[:5]
	pixels := make([][2]float64, 5)

	_, err := Calibrate(pixels, points, 1080, fixtureIntrinsics(), match.RefineFlags{FocalLength: true})
	if !errors.Is(err, ErrInsufficientPoints) {
		t.Fatalf("err = %v, want ErrInsufficientPoints", err)
	}
}

func TestCalibrateRecoversFocalLength(t *testing.T) {
	R, T := fixturePose()
	points := fixturePoints()

	// Image generated at f=1100, solved starting from f=1000.
	trueK := fixtureK()
	trueK[0][0], trueK[1][1] = 1100, 1100
	pixels := Project(points, R, T, trueK, [5]float64{})

	res, err := Calibrate(pixels, points, 1080, fixtureIntrinsics(), match.RefineFlags{FocalLength: true})
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if math.Abs(res.FocalLengthPx-1100) > 1 {
		t.Errorf("refined focal = %g, want about 1100", res.FocalLengthPx)
	}
	if res.RMSError > 0.1 {
		t.Errorf("RMS error = %g on exact data", res.RMSError)
	}
}

func TestCalibrateHoldsUnflaggedParamsFixed(t *testing.T) {
	R, T := fixturePose()
	points := fixturePoints()

	trueK := fixtureK()
	trueK[0][0], trueK[1][1] = 1050, 1050
	pixels := Project(points, R, T, trueK, [5]float64{})

	initial := fixtureIntrinsics()
	res, err := Calibrate(pixels, points, 1080, initial, match.RefineFlags{FocalLength: true})
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}

	// Focal-only refinement must return the seed values for everything else,
	// bit for bit.
	if res.Cx != 960 || res.Cy != 540 {
		t.Errorf("principal point = (%g, %g), want untouched (960, 540)", res.Cx, res.Cy)
	}
	if res.K1 != 0 || res.K2 != 0 || res.K3 != 0 {
		t.Errorf("distortion = %g %g %g, want untouched zeros", res.K1, res.K2, res.K3)
	}
}

func TestCalibrateRecoversDistortion(t *testing.T) {
	R, T := fixturePose()
	points := fixturePoints()
	trueDist := [5]float64{-0.08, 0, 0, 0, 0}
	pixels := Project(points, R, T, fixtureK(), trueDist)

	res, err := Calibrate(pixels, points, 1080, fixtureIntrinsics(), match.RefineFlags{K1: true})
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if math.Abs(res.K1-(-0.08)) > 0.01 {
		t.Errorf("refined k1 = %g, want about -0.08", res.K1)
	}
	if res.K2 != 0 || res.K3 != 0 {
		t.Errorf("unflagged coefficients touched: k2=%g k3=%g", res.K2, res.K3)
	}
}

func TestCalibrateJointFocalAndPrincipalPoint(t *testing.T) {
	R, T := fixturePose()
	points := fixturePoints()

	trueK := fixtureK()
	trueK[0][0], trueK[1][1] = 1080, 1080
	trueK[0][2], trueK[1][2] = 950, 550
	pixels := Project(points, R, T, trueK, [5]float64{})

	res, err := Calibrate(pixels, points, 1080, fixtureIntrinsics(),
		match.RefineFlags{FocalLength: true, PrincipalPoint: true})
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if math.Abs(res.FocalLengthPx-1080) > 5 {
		t.Errorf("refined focal = %g, want about 1080", res.FocalLengthPx)
	}
	if math.Abs(res.Cx-950) > 5 || math.Abs(res.Cy-550) > 5 {
		t.Errorf("refined principal point = (%g, %g), want about (950, 550)", res.Cx, res.Cy)
	}
}

func TestCalibParamsPackUnpackMasking(t *testing.T) {
	cp := &calibParams{
		flags: match.RefineFlags{FocalLength: true, K2: true},
		f:     1000,
		cx:    960,
		cy:    540,
		k:     [3]float64{0.1, 0.2, 0.3},
	}
	pose := []float64{0.1, 0.2, 0.3, 1, 2, 3}
	packed := cp.pack(pose)
	if len(packed) != 8 { // 6 pose + f + k2
		t.Fatalf("packed length = %d, want 8", len(packed))
	}

	packed[6] = 1111 // f
	packed[7] = 0.9  // k2
	_, _, K, dist := cp.unpack(packed)
	if K[0][0] != 1111 {
		t.Errorf("f = %g, want 1111", K[0][0])
	}
	if K[0][2] != 960 || K[1][2] != 540 {
		t.Errorf("principal point moved: (%g, %g)", K[0][2], K[1][2])
	}
	if dist[0] != 0.1 || dist[1] != 0.9 || dist[4] != 0.3 {
		t.Errorf("dist = %v, want [0.1 0.9 0 0 0.3]", dist)
	}
}
