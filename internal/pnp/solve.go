// Package pnp solves the Perspective-n-Point problem and the single-view
// intrinsics calibration built on top of it. Poses are computed in the
// vision convention (camera looks down +Z, image Y down) and converted to
// the scene convention by the caller via Result.WorldPose.
package pnp

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/matchmove/camsolve/internal/frames"
)

// MinPosePoints is the minimum number of correspondences for a pose solve.
const MinPosePoints = 4

// Result is the outcome of a pose solve: the world-to-camera rotation and
// translation in the vision convention, plus the reprojection quality
// metric.
type Result struct {
	Rotation    frames.Mat3
	Translation r3.Vector
	// MeanError is the mean pixel distance between the observed 2D points
	// and the 3D points projected through the solved pose.
	MeanError float64
	// Residuals holds the per-pair pixel distances, index-aligned with the
	// input correspondences.
	Residuals []float64
}

// WorldPose converts the solved pose to the camera's world-space rotation
// and position in the scene convention.
func (r *Result) WorldPose() (frames.Mat3, r3.Vector) {
	return frames.VisionToScene(r.Rotation, r.Translation)
}

// SolvePose recovers the camera pose from index-aligned pixel observations
// and world points, given the camera matrix K and the distortion vector
// [k1,k2,p1,p2,k3]. The solve is direct: an EPnP candidate (a homography
// seed when the points are coplanar) followed by a Levenberg-Marquardt
// polish of the reprojection error. No initial pose is required.
func SolvePose(pixels [][2]float64, points []r3.Vector, K frames.Mat3, dist [5]float64) (*Result, error) {
	if len(pixels) != len(points) {
		return nil, fmt.Errorf("mismatched correspondence arrays: %d pixels vs %d points", len(pixels), len(points))
	}
	if len(points) < MinPosePoints {
		return nil, fmt.Errorf("%w: have %d, need at least %d markers to solve a camera pose",
			ErrInsufficientPoints, len(points), MinPosePoints)
	}

	normalized := make([][2]float64, len(pixels))
	for i, px := range pixels {
		normalized[i] = normalizeUndistort(px, K, dist)
	}

	R0, T0, err := epnp(points, normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSolverDidNotConverge, err)
	}

	params := encodePose(R0, T0)
	nRes := 2 * len(points)
	refined, _, err := levenbergMarquardt(params, nRes, func(p []float64, out []float64) {
		R, T := decodePose(p)
		for i, pt := range points {
			proj := projectPoint(pt, R, T, K, dist)
			out[2*i] = proj[0] - pixels[i][0]
			out[2*i+1] = proj[1] - pixels[i][1]
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSolverDidNotConverge, err)
	}

	R, T := decodePose(refined)
	projected := Project(points, R, T, K, dist)
	residuals, mean := pointErrors(pixels, projected)
	if !isFinite(mean) {
		return nil, fmt.Errorf("%w: non-finite reprojection error", ErrSolverDidNotConverge)
	}

	return &Result{
		Rotation:    R,
		Translation: T,
		MeanError:   mean,
		Residuals:   residuals,
	}, nil
}

// encodePose packs a pose as [rx, ry, rz, tx, ty, tz] with the rotation in
// Rodrigues form.
func encodePose(R frames.Mat3, T r3.Vector) []float64 {
	rvec := R.AxisAngle()
	return []float64{rvec.X, rvec.Y, rvec.Z, T.X, T.Y, T.Z}
}

func decodePose(p []float64) (frames.Mat3, r3.Vector) {
	R := frames.FromAxisAngle(r3.Vector{X: p[0], Y: p[1], Z: p[2]})
	return R, r3.Vector{X: p[3], Y: p[4], Z: p[5]}
}

// RMS converts a sum-of-squares cost over n points into the root mean
// square pixel error.
func rmsFromCost(cost float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return math.Sqrt(cost / float64(n))
}
