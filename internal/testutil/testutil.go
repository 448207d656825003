// Package testutil provides shared test helpers and the synthetic scene
// fixture used across the solver, export and server tests: a known camera
// pose with markers generated from exact projections, so solves have a
// ground truth to be checked against.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang/geo/r3"

	"github.com/matchmove/camsolve/internal/frames"
	"github.com/matchmove/camsolve/internal/match"
	"github.com/matchmove/camsolve/internal/pnp"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// Fixture image dimensions and intrinsics shared by the synthetic scenes.
const (
	ImageWidth  = 1920
	ImageHeight = 1080
	FocalPx     = 1000.0
)

// TestPoints returns eight non-coplanar world points spread around the
// origin, in front of the ground-truth camera.
func TestPoints() []r3.Vector {
	return []r3.Vector{
		{X: 0, Y: 0, Z: 0},
		{X: 1, Y: 0, Z: 0.2},
		{X: 0, Y: 1, Z: -0.1},
		{X: 1, Y: 1, Z: 0.4},
		{X: -0.5, Y: 0.3, Z: 0.8},
		{X: 0.4, Y: -0.6, Z: 0.3},
		{X: -0.3, Y: -0.4, Z: -0.5},
		{X: 0.7, Y: 0.2, Z: 1.1},
	}
}

// GroundTruthPose returns a world-to-camera pose in the vision convention
// that keeps every TestPoints entry at positive depth.
func GroundTruthPose() (frames.Mat3, r3.Vector) {
	R := frames.FromAxisAngle(r3.Vector{X: 0.1, Y: -0.2, Z: 0.05})
	T := r3.Vector{X: 0.2, Y: -0.1, Z: 6}
	return R, T
}

// Intrinsics returns the fixture tracking-camera intrinsics: centred
// principal point, polynomial model, no distortion.
func Intrinsics() *match.Intrinsics {
	return &match.Intrinsics{
		FocalLengthPx:  FocalPx,
		FocalLengthMM:  FocalPx * 36.0 / ImageWidth,
		SensorWidthMM:  36.0,
		PrincipalPoint: [2]float64{ImageWidth / 2, ImageHeight / 2},
		Model:          match.DistortionPolynomial,
	}
}

// ProjectedPixels projects the fixture points through the ground-truth pose
// with the fixture intrinsics.
func ProjectedPixels() [][2]float64 {
	R, T := GroundTruthPose()
	in := Intrinsics()
	return pnp.Project(TestPoints(), R, T, in.Matrix(ImageHeight), in.DistortionVector())
}

// SceneWithPose builds a full scene whose markers at frame are the exact
// projections of TestPoints under the ground-truth pose, so a solve from it
// should recover that pose. One track and one correspondence per point.
func SceneWithPose(frame int) *match.Scene {
	points := TestPoints()
	pixels := ProjectedPixels()

	clip := &match.Clip{
		Name:   "shot_010",
		Width:  ImageWidth,
		Height: ImageHeight,
		Camera: Intrinsics(),
	}
	im := &match.ImageMatch{
		Name:   "front",
		Clip:   clip,
		Camera: match.NewCamera("Camera.front"),
	}

	for i, p := range points {
		name := trackName(i)
		clip.Tracks = append(clip.Tracks, &match.Track{
			Name: name,
			Markers: []match.Marker{{
				Frame: frame,
				Co: [2]float64{
					pixels[i][0] / ImageWidth,
					(ImageHeight - pixels[i][1]) / ImageHeight,
				},
			}},
		})
		im.Matches = append(im.Matches, match.PointCorrespondence{
			ID:      name,
			Track2D: name,
			Point3D: p,
			Has2D:   true,
			Has3D:   true,
		})
	}

	scene := match.NewScene()
	scene.Model = match.NewModel("reference")
	scene.Matches[im.Name] = im
	scene.CurrentImage = im.Name
	scene.FrameStart = frame
	scene.FrameEnd = frame
	scene.FrameCurrent = frame
	scene.RenderWidth = ImageWidth
	scene.RenderHeight = ImageHeight
	return scene
}

func trackName(i int) string {
	return "Track." + string(rune('A'+i))
}
