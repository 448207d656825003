// Package match models the scene-side state of an image match: the movie
// clip with its tracked markers, the 2D/3D point correspondences, the
// tracking-camera intrinsics and the scene camera the solver writes to.
package match

import (
	"github.com/golang/geo/r3"
)

// Marker is a tracked 2D position at a single frame. Coordinates are
// normalised to [0,1] on each axis with the origin at the bottom-left of
// the image. A muted marker exists but is excluded from solving.
type Marker struct {
	Frame int        `json:"frame"`
	Co    [2]float64 `json:"co"`
	Mute  bool       `json:"mute,omitempty"`
}

// Track is a named 2D track holding at most one marker per frame.
type Track struct {
	Name    string   `json:"name"`
	Markers []Marker `json:"markers"`
}

// MarkerAt returns the marker at exactly the given frame, or nil when the
// track has no marker there.
func (t *Track) MarkerAt(frame int) *Marker {
	for i := range t.Markers {
		if t.Markers[i].Frame == frame {
			return &t.Markers[i]
		}
	}
	return nil
}

// Clip is the tracked image sequence: pixel dimensions, the tracks carrying
// the 2D markers and the tracking camera's intrinsics.
type Clip struct {
	Name     string      `json:"name"`
	Filepath string      `json:"filepath,omitempty"`
	Width    int         `json:"width"`
	Height   int         `json:"height"`
	Tracks   []*Track    `json:"tracks"`
	Camera   *Intrinsics `json:"camera"`
}

// Track returns the named track, or nil.
func (c *Clip) Track(name string) *Track {
	for _, t := range c.Tracks {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// PointCorrespondence pairs a 2D track with a 3D model-space point. Either
// side may be absent while the user is still placing points; only pairs
// with both sides initialised participate in solving.
type PointCorrespondence struct {
	ID      string    `json:"id"`
	Track2D string    `json:"track_2d,omitempty"`
	Point3D r3.Vector `json:"point_3d"`
	Has2D   bool      `json:"has_2d"`
	Has3D   bool      `json:"has_3d"`
}

// Usable reports whether both sides of the pair are initialised.
func (p *PointCorrespondence) Usable() bool {
	return p.Has2D && p.Has3D
}
