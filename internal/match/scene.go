package match

import (
	"github.com/golang/geo/r3"
	"github.com/matchmove/camsolve/internal/frames"
)

// ModelMode is the edit state of the 3D model context. The model's
// geometry is only queryable in object mode; solving is refused otherwise.
type ModelMode string

const (
	ModeObject ModelMode = "OBJECT"
	ModeEdit   ModelMode = "EDIT"
)

// Model is the 3D reference model the image is matched against: a triangle
// mesh with a world transform and an edit-mode flag.
type Model struct {
	Name     string      `json:"name"`
	Mode     ModelMode   `json:"mode"`
	Vertices []r3.Vector `json:"vertices"`
	Faces    [][3]int    `json:"faces"`

	Rotation frames.Mat3 `json:"rotation"`
	Location r3.Vector   `json:"location"`
	Scale    r3.Vector   `json:"scale"`
}

// NewModel returns an empty model in object mode with an identity
// transform.
func NewModel(name string) *Model {
	return &Model{
		Name:     name,
		Mode:     ModeObject,
		Rotation: frames.Identity(),
		Scale:    r3.Vector{X: 1, Y: 1, Z: 1},
	}
}

// Queryable reports whether the model's geometry can be read, i.e. the
// model exists and is in object mode.
func (m *Model) Queryable() bool {
	return m != nil && m.Mode == ModeObject
}

// LocalToWorld applies the model's world transform to a local-space point.
func (m *Model) LocalToWorld(p r3.Vector) r3.Vector {
	scaled := r3.Vector{X: p.X * m.Scale.X, Y: p.Y * m.Scale.Y, Z: p.Z * m.Scale.Z}
	return m.Rotation.MulVec(scaled).Add(m.Location)
}

// WorldToLocal inverts the model's world transform. Zero scale components
// are treated as one to keep the inverse defined.
func (m *Model) WorldToLocal(p r3.Vector) r3.Vector {
	rotated := m.Rotation.Transpose().MulVec(p.Sub(m.Location))
	sx, sy, sz := m.Scale.X, m.Scale.Y, m.Scale.Z
	if sx == 0 {
		sx = 1
	}
	if sy == 0 {
		sy = 1
	}
	if sz == 0 {
		sz = 1
	}
	return r3.Vector{X: rotated.X / sx, Y: rotated.Y / sy, Z: rotated.Z / sz}
}

// ImageMatch binds one image (clip) to the camera solved for it and the
// correspondences that drive the solve.
type ImageMatch struct {
	Name    string                `json:"name"`
	Clip    *Clip                 `json:"clip"`
	Camera  *Camera               `json:"camera"`
	Matches []PointCorrespondence `json:"matches"`
}

// Scene is the full mutable state the solver operates on: the model, the
// image matches, the frame range and the render settings that drive
// sensor-fit selection.
type Scene struct {
	Model        *Model                 `json:"model"`
	Matches      map[string]*ImageMatch `json:"image_matches"`
	CurrentImage string                 `json:"current_image"`

	FrameStart   int `json:"frame_start"`
	FrameEnd     int `json:"frame_end"`
	FrameCurrent int `json:"frame_current"`

	RenderWidth  int     `json:"render_width"`
	RenderHeight int     `json:"render_height"`
	PixelAspectX float64 `json:"pixel_aspect_x"`
	PixelAspectY float64 `json:"pixel_aspect_y"`
}

// NewScene returns an empty scene with square pixels and a single-frame
// range.
func NewScene() *Scene {
	return &Scene{
		Matches:      map[string]*ImageMatch{},
		FrameStart:   1,
		FrameEnd:     1,
		FrameCurrent: 1,
		PixelAspectX: 1,
		PixelAspectY: 1,
	}
}

// Current returns the active image match, or nil when none is selected.
func (s *Scene) Current() *ImageMatch {
	if s.CurrentImage == "" {
		return nil
	}
	return s.Matches[s.CurrentImage]
}

// RenderSize returns the render dimensions with pixel aspect applied.
func (s *Scene) RenderSize() (w, h float64) {
	return s.PixelAspectX * float64(s.RenderWidth), s.PixelAspectY * float64(s.RenderHeight)
}

// RenderAspect returns the render width/height ratio, defaulting to the
// clip aspect when render settings are unset.
func (s *Scene) RenderAspect() float64 {
	w, h := s.RenderSize()
	if w > 0 && h > 0 {
		return w / h
	}
	if im := s.Current(); im != nil && im.Clip != nil && im.Clip.Height > 0 {
		return float64(im.Clip.Width) / float64(im.Clip.Height)
	}
	return 1
}
