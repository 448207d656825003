package frames

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
)

func matApproxEqual(a, b Mat3, tol float64) bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(a[i][j]-b[i][j]) > tol {
				return false
			}
		}
	}
	return true
}

func vecApproxEqual(a, b r3.Vector, tol float64) bool {
	return math.Abs(a.X-b.X) <= tol && math.Abs(a.Y-b.Y) <= tol && math.Abs(a.Z-b.Z) <= tol
}

func TestVisionToSceneRoundTrip(t *testing.T) {
	R := FromAxisAngle(r3.Vector{X: 0.3, Y: -0.7, Z: 0.2})
	T := r3.Vector{X: 1.5, Y: -2, Z: 8}

	rot, loc := VisionToScene(R, T)
	R2, T2 := SceneToVision(rot, loc)

	if !matApproxEqual(R, R2, 1e-12) {
		t.Errorf("rotation did not round-trip:\n%v\nvs\n%v", R, R2)
	}
	if !vecApproxEqual(T, T2, 1e-12) {
		t.Errorf("translation did not round-trip: %v vs %v", T, T2)
	}
}

func TestVisionToSceneIdentityPose(t *testing.T) {
	// A solver identity pose means the camera sits at the origin looking down
	// vision +Z; in the scene convention that camera looks down -Z, so the
	// converted rotation must be the basis flip itself.
	rot, loc := VisionToScene(Identity(), r3.Vector{})
	want := Mat3{{1, 0, 0}, {0, -1, 0}, {0, 0, -1}}
	if !matApproxEqual(rot, want, 1e-15) {
		t.Errorf("rot = %v, want %v", rot, want)
	}
	if !vecApproxEqual(loc, r3.Vector{}, 1e-15) {
		t.Errorf("loc = %v, want origin", loc)
	}
}

func TestAxisAngleRoundTrip(t *testing.T) {
	cases := []r3.Vector{
		{X: 0.1, Y: 0.2, Z: 0.3},
		{X: -1.2, Y: 0.4, Z: 0.9},
		{X: 0, Y: 0, Z: 1e-14}, // near zero
		{X: 3.1, Y: 0, Z: 0},   // near pi
	}
	for _, v := range cases {
		R := FromAxisAngle(v)
		got := R.AxisAngle()
		R2 := FromAxisAngle(got)
		if !matApproxEqual(R, R2, 1e-9) {
			t.Errorf("axis-angle %v did not round-trip through matrix form", v)
		}
	}
}

func TestQuaternionRoundTrip(t *testing.T) {
	R := FromAxisAngle(r3.Vector{X: 0.4, Y: -0.3, Z: 0.8})
	q := R.Quaternion()
	R2 := FromQuaternion(q)
	if !matApproxEqual(R, R2, 1e-12) {
		t.Errorf("quaternion did not round-trip:\n%v\nvs\n%v", R, R2)
	}
	norm := math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	if math.Abs(norm-1) > 1e-12 {
		t.Errorf("quaternion norm = %g, want 1", norm)
	}
}

func TestPositionYUp(t *testing.T) {
	got := PositionYUp(r3.Vector{X: 1, Y: 2, Z: 3})
	want := r3.Vector{X: 1, Y: 3, Z: -2}
	if got != want {
		t.Errorf("PositionYUp = %v, want %v", got, want)
	}
}

func TestQuaternionYUpIdentity(t *testing.T) {
	// Identity scene rotation becomes the pure -90 degree X correction,
	// scalar-last with the Y and Z components swapped and negated.
	got := QuaternionYUp(Identity().Quaternion())
	want := [4]float64{-math.Sqrt2 / 2, 0, 0, math.Sqrt2 / 2}
	for i := range got {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("component %d = %g, want %g", i, got[i], want[i])
		}
	}
}

func TestExportFOV(t *testing.T) {
	angle := 2 * math.Atan(18.0/24.0) // 36mm sensor, 24mm lens

	t.Run("landscape horizontal converts to vertical", func(t *testing.T) {
		got := ExportFOV(angle, 16.0/9.0, FitHorizontal)
		want := 2 * math.Atan(math.Tan(angle/2)/(16.0/9.0))
		if math.Abs(got-want) > 1e-12 {
			t.Errorf("fov = %g, want %g", got, want)
		}
	})

	t.Run("landscape vertical passes through", func(t *testing.T) {
		if got := ExportFOV(angle, 16.0/9.0, FitVertical); got != angle {
			t.Errorf("fov = %g, want unchanged %g", got, angle)
		}
	})

	t.Run("portrait vertical passes through", func(t *testing.T) {
		if got := ExportFOV(angle, 9.0/16.0, FitVertical); got != angle {
			t.Errorf("fov = %g, want unchanged %g", got, angle)
		}
	})

	t.Run("portrait horizontal converts", func(t *testing.T) {
		got := ExportFOV(angle, 9.0/16.0, FitHorizontal)
		want := 2 * math.Atan(math.Tan(angle/2)/(9.0/16.0))
		if math.Abs(got-want) > 1e-12 {
			t.Errorf("fov = %g, want %g", got, want)
		}
	})

	t.Run("non-positive aspect passes through", func(t *testing.T) {
		if got := ExportFOV(angle, 0, FitHorizontal); got != angle {
			t.Errorf("fov = %g, want unchanged %g", got, angle)
		}
	})
}

func TestMulVecIdentity(t *testing.T) {
	v := r3.Vector{X: 2, Y: -3, Z: 5}
	if got := Identity().MulVec(v); got != v {
		t.Errorf("identity rotation moved %v to %v", v, got)
	}
}

func TestTransposeIsInverseForRotations(t *testing.T) {
	R := FromAxisAngle(r3.Vector{X: 1.1, Y: -0.2, Z: 0.5})
	if got := R.Mul(R.Transpose()); !matApproxEqual(got, Identity(), 1e-12) {
		t.Errorf("R * R^T = %v, want identity", got)
	}
}
