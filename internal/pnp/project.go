package pnp

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/matchmove/camsolve/internal/frames"
)

// distort applies the radial distortion model to a normalised image point.
// The distortion vector uses the fixed 5-element layout [k1, k2, p1, p2, k3];
// the tangential terms p1, p2 are carried for layout compatibility and are
// always zero in this solver.
func distort(x, y float64, dist [5]float64) (float64, float64) {
	k1, k2, p1, p2, k3 := dist[0], dist[1], dist[2], dist[3], dist[4]
	r2 := x*x + y*y
	radial := 1 + r2*(k1+r2*(k2+r2*k3))
	xd := x*radial + 2*p1*x*y + p2*(r2+2*x*x)
	yd := y*radial + p1*(r2+2*y*y) + 2*p2*x*y
	return xd, yd
}

// undistort inverts distort for a normalised point using the fixed-point
// iteration standard for the polynomial model. Ten iterations are plenty
// for the small radial coefficients seen in tracking cameras.
func undistort(xd, yd float64, dist [5]float64) (float64, float64) {
	x, y := xd, yd
	for i := 0; i < 10; i++ {
		k1, k2, p1, p2, k3 := dist[0], dist[1], dist[2], dist[3], dist[4]
		r2 := x*x + y*y
		radial := 1 + r2*(k1+r2*(k2+r2*k3))
		if radial == 0 {
			break
		}
		dx := 2*p1*x*y + p2*(r2+2*x*x)
		dy := p1*(r2+2*y*y) + 2*p2*x*y
		x = (xd - dx) / radial
		y = (yd - dy) / radial
	}
	return x, y
}

// projectPoint maps a world point through the pose (world-to-camera, vision
// convention), intrinsics and distortion to pixel coordinates.
func projectPoint(p r3.Vector, R frames.Mat3, T r3.Vector, K frames.Mat3, dist [5]float64) [2]float64 {
	pc := R.MulVec(p).Add(T)
	z := pc.Z
	if math.Abs(z) < 1e-12 {
		z = 1e-12
	}
	x, y := pc.X/z, pc.Y/z
	xd, yd := distort(x, y, dist)
	f := K[0][0]
	cx, cy := K[0][2], K[1][2]
	return [2]float64{f*xd + cx, f*yd + cy}
}

// Project maps every world point to pixel coordinates under the given pose
// and camera model. Used for the reprojection-error metric, calibration
// residuals and synthetic test data.
func Project(points []r3.Vector, R frames.Mat3, T r3.Vector, K frames.Mat3, dist [5]float64) [][2]float64 {
	out := make([][2]float64, len(points))
	for i, p := range points {
		out[i] = projectPoint(p, R, T, K, dist)
	}
	return out
}

// normalizeUndistort converts an observed pixel to ideal normalised camera
// coordinates: remove the intrinsics, then invert the distortion.
func normalizeUndistort(px [2]float64, K frames.Mat3, dist [5]float64) [2]float64 {
	f := K[0][0]
	cx, cy := K[0][2], K[1][2]
	x := (px[0] - cx) / f
	y := (px[1] - cy) / f
	x, y = undistort(x, y, dist)
	return [2]float64{x, y}
}

// pointErrors returns the per-pair pixel distance between observations and
// projections, plus the mean.
func pointErrors(observed, projected [][2]float64) (perPoint []float64, mean float64) {
	perPoint = make([]float64, len(observed))
	for i := range observed {
		dx := observed[i][0] - projected[i][0]
		dy := observed[i][1] - projected[i][1]
		perPoint[i] = math.Hypot(dx, dy)
		mean += perPoint[i]
	}
	if len(observed) > 0 {
		mean /= float64(len(observed))
	}
	return perPoint, mean
}
