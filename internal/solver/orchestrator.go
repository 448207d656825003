// Package solver drives the PnP pose solver across frames: single-frame,
// sequence and keyframe-update modes, plus the live-solve change detector
// that re-solves when the input state mutates. All entry points run on the
// caller's goroutine; the solver owns the scene mutation.
package solver

import (
	"errors"
	"fmt"
	"time"

	"github.com/matchmove/camsolve/internal/frames"
	"github.com/matchmove/camsolve/internal/match"
	"github.com/matchmove/camsolve/internal/monitoring"
	"github.com/matchmove/camsolve/internal/pnp"
)

var (
	// ErrInvalidModelState means the 3D model context is missing or not in
	// a state where its geometry is queryable (edit mode).
	ErrInvalidModelState = errors.New("model is not queryable, switch to object mode")

	// ErrNoCurrentImage means no image match is selected in the scene.
	ErrNoCurrentImage = errors.New("no image match selected")
)

// SolveRecord is the per-solve history row handed to the optional store.
type SolveRecord struct {
	Image     string    `json:"image"`
	Frame     int       `json:"frame"`
	Mode      string    `json:"mode"`
	Success   bool      `json:"success"`
	MeanError float64   `json:"mean_error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	// Residuals are the per-pair pixel errors of a successful solve, kept
	// for the residual scatter report.
	Residuals []float64 `json:"residuals,omitempty"`
}

// HistoryRecorder persists solve outcomes. Recording failures are logged,
// never fatal to the solve itself.
type HistoryRecorder interface {
	RecordSolve(rec SolveRecord) error
}

// FrameResult is the outcome of one frame's solve.
type FrameResult struct {
	Frame     int     `json:"frame"`
	Success   bool    `json:"success"`
	MeanError float64 `json:"mean_error"`
	Message   string  `json:"message"`
	// Residuals are the per-pair pixel errors of a successful solve.
	Residuals []float64 `json:"residuals,omitempty"`
}

// SequenceResult aggregates per-frame outcomes of a sequence or
// keyframe-update run. A failed frame keeps its prior pose and does not
// abort the run.
type SequenceResult struct {
	Frames []FrameResult `json:"frames"`
	Failed int           `json:"failed"`
}

// Solver applies the pose solver to a scene and writes results back into
// the scene camera.
type Solver struct {
	Scene   *match.Scene
	History HistoryRecorder

	live *Session
}

// New returns a solver over the given scene.
func New(scene *match.Scene) *Solver {
	return &Solver{Scene: scene}
}

// checkPreconditions validates the model-edit-mode and image-selection
// requirements shared by every solve mode.
func (s *Solver) checkPreconditions() (*match.ImageMatch, error) {
	if !s.Scene.Model.Queryable() {
		return nil, ErrInvalidModelState
	}
	im := s.Scene.Current()
	if im == nil || im.Clip == nil || im.Camera == nil {
		return nil, ErrNoCurrentImage
	}
	return im, nil
}

// SolveFrame solves the camera pose at the given frame and writes the
// result into the scene camera. A keyframe is recorded unless the caller
// suppresses it (live solving with auto-keyframe disabled).
func (s *Solver) SolveFrame(frame int, recordKeyframe bool) (*FrameResult, error) {
	im, err := s.checkPreconditions()
	if err != nil {
		return nil, err
	}
	return s.solveAt(im, frame, recordKeyframe, "single")
}

// SolveSequence solves every frame in [start, end] inclusive, re-extracting
// correspondences per frame. Per-frame failures are reported and skipped.
func (s *Solver) SolveSequence(start, end int) (*SequenceResult, error) {
	im, err := s.checkPreconditions()
	if err != nil {
		return nil, err
	}
	out := &SequenceResult{}
	for frame := start; frame <= end; frame++ {
		fr, err := s.solveAt(im, frame, true, "sequence")
		if err != nil {
			monitoring.Logf("solver: frame %d failed: %v", frame, err)
			out.Frames = append(out.Frames, FrameResult{Frame: frame, Message: err.Error()})
			out.Failed++
			continue
		}
		out.Frames = append(out.Frames, *fr)
		if !fr.Success {
			out.Failed++
		}
	}
	return out, nil
}

// SolveKeyframes re-solves exactly the frames carrying an existing camera
// keyframe. Results are independent per frame.
func (s *Solver) SolveKeyframes() (*SequenceResult, error) {
	im, err := s.checkPreconditions()
	if err != nil {
		return nil, err
	}
	out := &SequenceResult{}
	for _, frame := range im.Camera.KeyframedFrames() {
		fr, err := s.solveAt(im, frame, true, "keyframes")
		if err != nil {
			monitoring.Logf("solver: keyframe %d failed: %v", frame, err)
			out.Frames = append(out.Frames, FrameResult{Frame: frame, Message: err.Error()})
			out.Failed++
			continue
		}
		out.Frames = append(out.Frames, *fr)
		if !fr.Success {
			out.Failed++
		}
	}
	return out, nil
}

// Calibrate refines the flagged intrinsics from the current frame's
// correspondences and writes them back into the tracking camera.
func (s *Solver) Calibrate(flags match.RefineFlags) (*match.CalibrationResult, error) {
	im, err := s.checkPreconditions()
	if err != nil {
		return nil, err
	}
	clip := im.Clip
	ex := match.Extract(im.Matches, clip, s.Scene.FrameCurrent)
	res, err := pnp.Calibrate(ex.Pixels, ex.Points, clip.Height, clip.Camera, flags)
	if err != nil {
		return nil, err
	}
	clip.Camera.ApplyCalibration(res, flags, clip.Width, clip.Height)
	return res, nil
}

// solveAt runs one solve, updating the frame cursor, the camera and the
// history store. The pnp error is returned unwrapped so callers can branch
// on the sentinel.
func (s *Solver) solveAt(im *match.ImageMatch, frame int, recordKeyframe bool, mode string) (*FrameResult, error) {
	s.Scene.FrameCurrent = frame
	clip := im.Clip

	ex := match.Extract(im.Matches, clip, frame)
	K := clip.Camera.Matrix(clip.Height)
	dist := clip.Camera.DistortionVector()

	res, err := pnp.SolvePose(ex.Pixels, ex.Points, K, dist)
	if err != nil {
		s.record(im.Name, frame, mode, false, 0, err.Error(), nil)
		return nil, err
	}

	s.applyResult(im, res, frame, recordKeyframe)

	msg := fmt.Sprintf("Reprojection Error: %.2f", res.MeanError)
	s.record(im.Name, frame, mode, true, res.MeanError, msg, res.Residuals)
	return &FrameResult{
		Frame:     frame,
		Success:   true,
		MeanError: res.MeanError,
		Message:   msg,
		Residuals: res.Residuals,
	}, nil
}

// applyResult writes the solved pose and the derived lens parameters into
// the scene camera, mirroring how the matched clip defines sensor size,
// fit, shift and background alignment.
func (s *Solver) applyResult(im *match.ImageMatch, res *pnp.Result, frame int, recordKeyframe bool) {
	clip := im.Clip
	cam := im.Camera
	tracking := clip.Camera

	w := float64(clip.Width)
	h := float64(clip.Height)

	cam.Lens = tracking.FocalLengthMM
	cam.SensorWidthMM = tracking.SensorWidthMM
	cam.SensorHeightMM = tracking.SensorWidthMM * h / w

	renderW, renderH := s.Scene.RenderSize()
	if renderW <= 0 || renderH <= 0 {
		renderW, renderH = w, h
	}
	refsize := w
	if renderW/renderH <= w/h {
		cam.SensorFit = frames.FitHorizontal
	} else {
		cam.SensorFit = frames.FitVertical
		refsize = h
	}

	cx, cy := tracking.PrincipalPoint[0], tracking.PrincipalPoint[1]
	cam.ShiftX = (w*0.5 - cx) / refsize
	cam.ShiftY = (h*0.5 - cy) / refsize

	cam.Background = match.BackgroundImage{
		Source:           "MOVIE_CLIP",
		Clip:             clip.Name,
		FrameMethod:      "FIT",
		DisplayDepth:     "FRONT",
		RenderUndistort:  true,
		ShowInBackground: true,
	}

	cam.Rotation, cam.Location = res.WorldPose()

	if recordKeyframe {
		cam.RecordKeyframe(frame)
	}
}

func (s *Solver) record(image string, frame int, mode string, success bool, meanErr float64, msg string, residuals []float64) {
	if s.History == nil {
		return
	}
	rec := SolveRecord{
		Image:     image,
		Frame:     frame,
		Mode:      mode,
		Success:   success,
		MeanError: meanErr,
		Message:   msg,
		Timestamp: time.Now().UTC(),
		Residuals: residuals,
	}
	if err := s.History.RecordSolve(rec); err != nil {
		monitoring.Logf("solver: history record failed: %v", err)
	}
}
