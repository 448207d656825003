package pnp

import (
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/matchmove/camsolve/internal/frames"
	"github.com/matchmove/camsolve/internal/match"
)

// MinCalibrationPoints is the minimum number of correspondences for a
// calibration run; intrinsics add degrees of freedom over a bare pose.
const MinCalibrationPoints = 6

// calibParams maps the free calibration parameters into one optimizer
// vector: six pose entries followed by whichever of f, cx, cy, k1, k2, k3
// the refine flags select. Fixed parameters never enter the vector, which
// is what guarantees bit-identical pass-through for them. Aspect ratio
// (fx == fy) and tangential distortion are always fixed.
type calibParams struct {
	flags  match.RefineFlags
	f      float64
	cx, cy float64
	k      [3]float64
}

func (c *calibParams) pack(pose []float64) []float64 {
	out := append([]float64(nil), pose...)
	if c.flags.FocalLength {
		out = append(out, c.f)
	}
	if c.flags.PrincipalPoint {
		out = append(out, c.cx, c.cy)
	}
	if c.flags.K1 {
		out = append(out, c.k[0])
	}
	if c.flags.K2 {
		out = append(out, c.k[1])
	}
	if c.flags.K3 {
		out = append(out, c.k[2])
	}
	return out
}

// unpack splits a parameter vector into pose and the current camera model.
func (c *calibParams) unpack(p []float64) (R frames.Mat3, T r3.Vector, K frames.Mat3, dist [5]float64) {
	R, T = decodePose(p[:6])
	i := 6
	f, cx, cy := c.f, c.cx, c.cy
	k := c.k
	if c.flags.FocalLength {
		f = p[i]
		i++
	}
	if c.flags.PrincipalPoint {
		cx, cy = p[i], p[i+1]
		i += 2
	}
	if c.flags.K1 {
		k[0] = p[i]
		i++
	}
	if c.flags.K2 {
		k[1] = p[i]
		i++
	}
	if c.flags.K3 {
		k[2] = p[i]
	}
	K = frames.Mat3{{f, 0, cx}, {0, f, cy}, {0, 0, 1}}
	dist = [5]float64{k[0], k[1], 0, 0, k[2]}
	return R, T, K, dist
}

// Calibrate refines the flagged subset of the camera intrinsics from one
// frame's correspondences, holding everything else fixed. The initial
// intrinsics seed both the starting guess and the fixed values. Returns the
// refined parameters (solver top-left cy convention) with the RMS
// reprojection error.
func Calibrate(pixels [][2]float64, points []r3.Vector, imageHeight int, initial *match.Intrinsics, flags match.RefineFlags) (*match.CalibrationResult, error) {
	if len(pixels) != len(points) {
		return nil, fmt.Errorf("mismatched correspondence arrays: %d pixels vs %d points", len(pixels), len(points))
	}
	if len(points) < MinCalibrationPoints {
		return nil, fmt.Errorf("%w: have %d, need at least %d markers to calibrate a camera",
			ErrInsufficientPoints, len(points), MinCalibrationPoints)
	}

	K0 := initial.Matrix(imageHeight)
	dist0 := initial.DistortionVector()

	// Seed the pose with a plain solve under the initial intrinsics.
	pose, err := SolvePose(pixels, points, K0, dist0)
	if err != nil {
		return nil, err
	}

	cp := &calibParams{
		flags: flags,
		f:     K0[0][0],
		cx:    K0[0][2],
		cy:    K0[1][2],
		k:     [3]float64{dist0[0], dist0[1], dist0[4]},
	}
	params := cp.pack(encodePose(pose.Rotation, pose.Translation))

	nRes := 2 * len(points)
	refined, cost, err := levenbergMarquardt(params, nRes, func(p []float64, out []float64) {
		R, T, K, dist := cp.unpack(p)
		for i, pt := range points {
			proj := projectPoint(pt, R, T, K, dist)
			out[2*i] = proj[0] - pixels[i][0]
			out[2*i+1] = proj[1] - pixels[i][1]
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSolverDidNotConverge, err)
	}

	_, _, K, dist := cp.unpack(refined)
	return &match.CalibrationResult{
		FocalLengthPx: K[0][0],
		Cx:            K[0][2],
		Cy:            K[1][2],
		K1:            dist[0],
		K2:            dist[1],
		K3:            dist[4],
		RMSError:      rmsFromCost(cost, len(points)),
	}, nil
}
