package pnp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// residualFunc fills out (length fixed per problem) with the residual
// vector for the given parameters.
type residualFunc func(params []float64, out []float64)

const (
	lmMaxIterations = 100
	lmInitialLambda = 1e-3
	lmMaxLambda     = 1e12
	lmCostTolerance = 1e-14
)

// levenbergMarquardt minimises the sum of squared residuals starting from
// params. The Jacobian is evaluated by central differences, which is exact
// enough for pixel-scale residuals and keeps the projection model in one
// place. Returns the refined parameters and the final cost (sum of squares).
func levenbergMarquardt(params []float64, nResiduals int, fn residualFunc) ([]float64, float64, error) {
	p := append([]float64(nil), params...)
	np := len(p)

	res := make([]float64, nResiduals)
	fn(p, res)
	cost := sumSquares(res)
	if !isFinite(cost) {
		return nil, 0, fmt.Errorf("non-finite initial residuals")
	}

	jac := mat.NewDense(nResiduals, np, nil)
	resPlus := make([]float64, nResiduals)
	resMinus := make([]float64, nResiduals)
	lambda := lmInitialLambda

	for iter := 0; iter < lmMaxIterations; iter++ {
		// Central-difference Jacobian.
		for j := 0; j < np; j++ {
			h := 1e-6 * math.Max(1, math.Abs(p[j]))
			orig := p[j]
			p[j] = orig + h
			fn(p, resPlus)
			p[j] = orig - h
			fn(p, resMinus)
			p[j] = orig
			inv := 1 / (2 * h)
			for i := 0; i < nResiduals; i++ {
				jac.Set(i, j, (resPlus[i]-resMinus[i])*inv)
			}
		}

		var jtj mat.SymDense
		jtj.SymOuterK(1, jac.T())
		grad := make([]float64, np)
		for j := 0; j < np; j++ {
			var g float64
			for i := 0; i < nResiduals; i++ {
				g += jac.At(i, j) * res[i]
			}
			grad[j] = g
		}

		if maxAbs(grad) < 1e-12 {
			break
		}

		improved := false
		for !improved && lambda <= lmMaxLambda {
			// (JtJ + lambda*diag(JtJ)) delta = -Jt r
			damped := mat.NewSymDense(np, nil)
			for r := 0; r < np; r++ {
				for c := r; c < np; c++ {
					v := jtj.At(r, c)
					if r == c {
						d := v
						if d < 1e-12 {
							d = 1e-12
						}
						v += lambda * d
					}
					damped.SetSym(r, c, v)
				}
			}

			var chol mat.Cholesky
			if ok := chol.Factorize(damped); !ok {
				lambda *= 10
				continue
			}
			rhs := mat.NewVecDense(np, nil)
			for j := 0; j < np; j++ {
				rhs.SetVec(j, -grad[j])
			}
			var delta mat.VecDense
			if err := chol.SolveVecTo(&delta, rhs); err != nil {
				lambda *= 10
				continue
			}

			trial := make([]float64, np)
			for j := 0; j < np; j++ {
				trial[j] = p[j] + delta.AtVec(j)
			}
			fn(trial, resPlus)
			trialCost := sumSquares(resPlus)
			if isFinite(trialCost) && trialCost < cost {
				copy(p, trial)
				copy(res, resPlus)
				prev := cost
				cost = trialCost
				lambda = math.Max(lambda*0.1, 1e-12)
				improved = true
				if prev-cost < lmCostTolerance*(prev+1e-300) {
					return p, cost, nil
				}
			} else {
				lambda *= 10
			}
		}
		if !improved {
			// No descent direction at any damping level; treat the current
			// estimate as final.
			break
		}
	}

	if !isFinite(cost) {
		return nil, 0, fmt.Errorf("non-finite final cost")
	}
	return p, cost, nil
}

func sumSquares(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return s
}

func maxAbs(v []float64) float64 {
	var m float64
	for _, x := range v {
		if a := math.Abs(x); a > m {
			m = a
		}
	}
	return m
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
