package pnp

import "errors"

var (
	// ErrInsufficientPoints means too few valid correspondences were given
	// for the requested operation (4 for pose, 6 for calibration).
	ErrInsufficientPoints = errors.New("not enough point pairs")

	// ErrSolverDidNotConverge means the numeric solve failed: singular
	// systems, non-finite residuals or no descent direction.
	ErrSolverDidNotConverge = errors.New("solver did not converge")
)
