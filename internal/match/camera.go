package match

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/matchmove/camsolve/internal/frames"
)

// BackgroundImage records how the matched clip is displayed behind the
// camera for visual alignment checks.
type BackgroundImage struct {
	Source           string `json:"source"`
	Clip             string `json:"clip"`
	FrameMethod      string `json:"frame_method"`
	DisplayDepth     string `json:"display_depth"`
	RenderUndistort  bool   `json:"render_undistorted"`
	ShowInBackground bool   `json:"show_in_background"`
}

// PoseKeyframe is the recorded camera state at one frame: the solved world
// transform plus the derived lens parameters written alongside it.
type PoseKeyframe struct {
	Frame          int              `json:"frame"`
	Location       r3.Vector        `json:"location"`
	Rotation       frames.Mat3      `json:"rotation"`
	Lens           float64          `json:"lens"`
	ShiftX         float64          `json:"shift_x"`
	ShiftY         float64          `json:"shift_y"`
	SensorHeightMM float64          `json:"sensor_height_mm"`
	SensorFit      frames.SensorFit `json:"sensor_fit"`
}

// ExportMeta is the explicit metadata bag attached to a camera for the
// source-literal export target. All fields must be set before the export is
// allowed; Initialized is the predicate for that.
type ExportMeta struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Category       string   `json:"category"`
	Datetime       string   `json:"datetime"`
	Description    string   `json:"description"`
	Tags           []string `json:"tags"`
	ReferenceImage string   `json:"reference_image"`
}

// Initialized reports whether every metadata field has been populated.
func (m *ExportMeta) Initialized() bool {
	return m.ID != "" && m.Name != "" && m.Category != "" &&
		m.Datetime != "" && m.Description != "" && len(m.Tags) > 0 &&
		m.ReferenceImage != ""
}

// Camera is the scene camera the solver writes its results into. Rotation
// and Location are the world transform in the scene convention (camera
// looks down -Z, Y up). Lens parameters are in millimetres.
type Camera struct {
	Name           string           `json:"name"`
	Lens           float64          `json:"lens"`
	SensorWidthMM  float64          `json:"sensor_width_mm"`
	SensorHeightMM float64          `json:"sensor_height_mm"`
	SensorFit      frames.SensorFit `json:"sensor_fit"`
	ShiftX         float64          `json:"shift_x"`
	ShiftY         float64          `json:"shift_y"`
	ClipStart      float64          `json:"clip_start"`
	ClipEnd        float64          `json:"clip_end"`

	Rotation frames.Mat3 `json:"rotation"`
	Location r3.Vector   `json:"location"`

	Background BackgroundImage      `json:"background"`
	Keyframes  map[int]PoseKeyframe `json:"keyframes,omitempty"`
	Meta       ExportMeta           `json:"meta,omitempty"`
}

// NewCamera returns a camera with identity orientation and default clip
// range.
func NewCamera(name string) *Camera {
	return &Camera{
		Name:      name,
		Lens:      24,
		ClipStart: 0.1,
		ClipEnd:   1000,
		SensorFit: frames.FitAuto,
		Rotation:  frames.Identity(),
		Keyframes: map[int]PoseKeyframe{},
	}
}

// Angle returns the camera's native field of view in radians, measured
// along the sensor-fit axis (width for horizontal/auto, height for
// vertical), matching how scene tools derive the angle from lens and
// sensor size.
func (c *Camera) Angle() float64 {
	sensor := c.SensorWidthMM
	if c.SensorFit == frames.FitVertical {
		sensor = c.SensorHeightMM
	}
	if c.Lens <= 0 || sensor <= 0 {
		return 0
	}
	return 2 * math.Atan(sensor/(2*c.Lens))
}

// VerticalAngle returns the vertical field of view in radians regardless of
// the sensor-fit axis.
func (c *Camera) VerticalAngle() float64 {
	if c.Lens <= 0 || c.SensorHeightMM <= 0 {
		return 0
	}
	return 2 * math.Atan(c.SensorHeightMM / (2 * c.Lens))
}

// RecordKeyframe snapshots the current camera state at the given frame.
func (c *Camera) RecordKeyframe(frame int) {
	if c.Keyframes == nil {
		c.Keyframes = map[int]PoseKeyframe{}
	}
	c.Keyframes[frame] = PoseKeyframe{
		Frame:          frame,
		Location:       c.Location,
		Rotation:       c.Rotation,
		Lens:           c.Lens,
		ShiftX:         c.ShiftX,
		ShiftY:         c.ShiftY,
		SensorHeightMM: c.SensorHeightMM,
		SensorFit:      c.SensorFit,
	}
}

// KeyframedFrames returns the distinct frame numbers carrying a keyframe,
// sorted ascending.
func (c *Camera) KeyframedFrames() []int {
	out := make([]int, 0, len(c.Keyframes))
	for f := range c.Keyframes {
		out = append(out, f)
	}
	sort.Ints(out)
	return out
}

// Direction returns the world-space unit vector along the camera's view
// axis (-Z in the scene convention).
func (c *Camera) Direction() r3.Vector {
	return c.Rotation.MulVec(r3.Vector{Z: -1}).Normalize()
}
