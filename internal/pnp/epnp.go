package pnp

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/matchmove/camsolve/internal/frames"
	"gonum.org/v1/gonum/mat"
)

// epnp computes an initial world-to-camera pose from normalised image
// observations using the EPnP control-point formulation (the N=1 nullspace
// case). Coplanar point sets collapse the 4-point control basis and are
// seeded from a plane homography instead. It is a direct solve needing no
// pose guess; accuracy is finished off by the Levenberg-Marquardt polish in
// SolvePose.
func epnp(points []r3.Vector, normalized [][2]float64) (frames.Mat3, r3.Vector, error) {
	n := len(points)

	// Control point 0 is the centroid; 1..3 lie along the principal axes of
	// the point cloud scaled by the axis spread.
	var c0 r3.Vector
	for _, p := range points {
		c0 = c0.Add(p)
	}
	c0 = c0.Mul(1 / float64(n))

	centered := mat.NewDense(n, 3, nil)
	for i, p := range points {
		d := p.Sub(c0)
		centered.SetRow(i, []float64{d.X, d.Y, d.Z})
	}

	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThinV); !ok {
		return frames.Mat3{}, r3.Vector{}, fmt.Errorf("control point factorization failed")
	}
	var v mat.Dense
	svd.VTo(&v)
	sv := svd.Values(nil)

	var axes [3]r3.Vector
	for k := 0; k < 3; k++ {
		axes[k] = r3.Vector{X: v.At(0, k), Y: v.At(1, k), Z: v.At(2, k)}
	}
	if sv[0] < 1e-12 || sv[1] <= sv[0]*1e-7 {
		return frames.Mat3{}, r3.Vector{}, fmt.Errorf("degenerate 3D set (collinear points)")
	}
	if sv[2] <= sv[0]*1e-7 {
		return planarPose(points, normalized, c0, axes[0], axes[1])
	}

	ctrlWorld := [4]r3.Vector{c0}
	for k := 0; k < 3; k++ {
		scale := sv[k] / math.Sqrt(float64(n))
		ctrlWorld[k+1] = c0.Add(axes[k].Mul(scale))
	}

	// Barycentric coordinates of each point w.r.t. the control points.
	C := mat.NewDense(4, 4, nil)
	for j := 0; j < 4; j++ {
		C.Set(0, j, ctrlWorld[j].X)
		C.Set(1, j, ctrlWorld[j].Y)
		C.Set(2, j, ctrlWorld[j].Z)
		C.Set(3, j, 1)
	}
	var Cinv mat.Dense
	if err := Cinv.Inverse(C); err != nil {
		return frames.Mat3{}, r3.Vector{}, fmt.Errorf("degenerate control points: %w", err)
	}

	alphas := make([][4]float64, n)
	for i, p := range points {
		for j := 0; j < 4; j++ {
			alphas[i][j] = Cinv.At(j, 0)*p.X + Cinv.At(j, 1)*p.Y + Cinv.At(j, 2)*p.Z + Cinv.At(j, 3)
		}
	}

	// M v = 0 where v stacks the camera-frame control points.
	M := mat.NewDense(2*n, 12, nil)
	for i := 0; i < n; i++ {
		u, vv := normalized[i][0], normalized[i][1]
		for j := 0; j < 4; j++ {
			a := alphas[i][j]
			M.Set(2*i, 3*j, a)
			M.Set(2*i, 3*j+2, -a*u)
			M.Set(2*i+1, 3*j+1, a)
			M.Set(2*i+1, 3*j+2, -a*vv)
		}
	}

	var mtm mat.SymDense
	mtm.SymOuterK(1, M.T())

	var eig mat.EigenSym
	if ok := eig.Factorize(&mtm, true); !ok {
		return frames.Mat3{}, r3.Vector{}, fmt.Errorf("eigen decomposition failed")
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	// EigenSym returns ascending eigenvalues; column 0 is the nullspace
	// direction.
	var ctrlCam [4]r3.Vector
	for j := 0; j < 4; j++ {
		ctrlCam[j] = r3.Vector{X: vecs.At(3*j, 0), Y: vecs.At(3*j+1, 0), Z: vecs.At(3*j+2, 0)}
	}

	// Recover the scale so camera-frame control distances match world
	// distances.
	var num, den float64
	for j := 0; j < 4; j++ {
		for k := j + 1; k < 4; k++ {
			dc := ctrlCam[j].Sub(ctrlCam[k]).Norm()
			dw := ctrlWorld[j].Sub(ctrlWorld[k]).Norm()
			num += dc * dw
			den += dc * dc
		}
	}
	if den < 1e-18 {
		return frames.Mat3{}, r3.Vector{}, fmt.Errorf("null control point spread")
	}
	beta := num / den
	for j := range ctrlCam {
		ctrlCam[j] = ctrlCam[j].Mul(beta)
	}

	camPoints := make([]r3.Vector, n)
	var meanZ float64
	for i := range points {
		var pc r3.Vector
		for j := 0; j < 4; j++ {
			pc = pc.Add(ctrlCam[j].Mul(alphas[i][j]))
		}
		camPoints[i] = pc
		meanZ += pc.Z
	}
	// Points must sit in front of the camera; flip the nullspace sign if
	// the reconstruction landed behind.
	if meanZ < 0 {
		for i := range camPoints {
			camPoints[i] = camPoints[i].Mul(-1)
		}
	}

	return absoluteOrientation(points, camPoints)
}

// planarPose recovers a pose seed for coplanar points. In the plane's own
// coordinates the normalised observations relate to the points by a
// homography; its first two columns carry the rotation axes and the third
// the translation.
func planarPose(points []r3.Vector, normalized [][2]float64, c0, e1, e2 r3.Vector) (frames.Mat3, r3.Vector, error) {
	n := len(points)

	// DLT estimate of H mapping in-plane (x, y, 1) onto the normalised
	// image point.
	A := mat.NewDense(2*n, 9, nil)
	for i, p := range points {
		d := p.Sub(c0)
		x, y := d.Dot(e1), d.Dot(e2)
		u, v := normalized[i][0], normalized[i][1]
		A.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -u * x, -u * y, -u})
		A.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -v * x, -v * y, -v})
	}

	var svd mat.SVD
	if ok := svd.Factorize(A, mat.SVDFullV); !ok {
		return frames.Mat3{}, r3.Vector{}, fmt.Errorf("homography factorization failed")
	}
	var vr mat.Dense
	svd.VTo(&vr)
	var H [3][3]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			H[r][c] = vr.At(3*r+c, 8)
		}
	}
	h1 := r3.Vector{X: H[0][0], Y: H[1][0], Z: H[2][0]}
	h2 := r3.Vector{X: H[0][1], Y: H[1][1], Z: H[2][1]}
	h3 := r3.Vector{X: H[0][2], Y: H[1][2], Z: H[2][2]}

	den := (h1.Norm() + h2.Norm()) / 2
	if den < 1e-18 {
		return frames.Mat3{}, r3.Vector{}, fmt.Errorf("degenerate homography")
	}
	scale := 1 / den
	// The plane centroid must sit in front of the camera.
	if h3.Z*scale < 0 {
		scale = -scale
	}
	r1 := h1.Mul(scale)
	r2 := h2.Mul(scale)
	t := h3.Mul(scale)

	cols := mat.NewDense(3, 3, nil)
	cols.SetCol(0, []float64{r1.X, r1.Y, r1.Z})
	cols.SetCol(1, []float64{r2.X, r2.Y, r2.Z})
	r3c := r1.Cross(r2)
	cols.SetCol(2, []float64{r3c.X, r3c.Y, r3c.Z})
	Rp, err := nearestRotation(cols)
	if err != nil {
		return frames.Mat3{}, r3.Vector{}, err
	}

	// Back to world coordinates: e1, e2 and the plane normal form the basis
	// the homography was written in.
	e3 := e1.Cross(e2)
	var R frames.Mat3
	for r := 0; r < 3; r++ {
		row := e1.Mul(Rp[r][0]).Add(e2.Mul(Rp[r][1])).Add(e3.Mul(Rp[r][2]))
		R[r] = [3]float64{row.X, row.Y, row.Z}
	}
	T := t.Sub(R.MulVec(c0))
	return R, T, nil
}

// absoluteOrientation solves the rigid transform taking world points onto
// camera-frame points (Kabsch / Procrustes via SVD).
func absoluteOrientation(world, camera []r3.Vector) (frames.Mat3, r3.Vector, error) {
	n := len(world)
	var wMean, cMean r3.Vector
	for i := 0; i < n; i++ {
		wMean = wMean.Add(world[i])
		cMean = cMean.Add(camera[i])
	}
	wMean = wMean.Mul(1 / float64(n))
	cMean = cMean.Mul(1 / float64(n))

	H := mat.NewDense(3, 3, nil)
	for i := 0; i < n; i++ {
		w := world[i].Sub(wMean)
		c := camera[i].Sub(cMean)
		wv := []float64{w.X, w.Y, w.Z}
		cv := []float64{c.X, c.Y, c.Z}
		for r := 0; r < 3; r++ {
			for k := 0; k < 3; k++ {
				H.Set(r, k, H.At(r, k)+cv[r]*wv[k])
			}
		}
	}

	R, err := nearestRotation(H)
	if err != nil {
		return frames.Mat3{}, r3.Vector{}, err
	}
	T := cMean.Sub(R.MulVec(wMean))
	return R, T, nil
}

// nearestRotation projects a 3x3 matrix onto the closest rotation
// (Procrustes via SVD).
func nearestRotation(m *mat.Dense) (frames.Mat3, error) {
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return frames.Mat3{}, fmt.Errorf("orientation factorization failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var rot mat.Dense
	rot.Mul(&u, v.T())
	if mat.Det(&rot) < 0 {
		// Reflection; flip the last singular direction.
		for r := 0; r < 3; r++ {
			u.Set(r, 2, -u.At(r, 2))
		}
		rot.Mul(&u, v.T())
	}

	var R frames.Mat3
	for r := 0; r < 3; r++ {
		for k := 0; k < 3; k++ {
			R[r][k] = rot.At(r, k)
		}
	}
	return R, nil
}
