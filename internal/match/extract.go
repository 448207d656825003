package match

import (
	"github.com/golang/geo/r3"
	"github.com/matchmove/camsolve/internal/monitoring"
)

// ExtractedPoints is the index-aligned output of Extract: Pixels[i] and
// Points[i] are the two sides of the same correspondence. Ignored counts
// the pairs skipped because a side was missing or the marker was absent or
// muted at the requested frame.
type ExtractedPoints struct {
	Pixels  [][2]float64
	Points  []r3.Vector
	Ignored int
}

// Count returns the number of usable pairs.
func (e *ExtractedPoints) Count() int { return len(e.Points) }

// Extract gathers the pixel and model-space coordinates of every usable
// correspondence at the given frame. A pair is dropped entirely (both
// sides) when either side is uninitialised, or when its track has no
// marker at exactly that frame, or the marker is muted. Marker coordinates
// are normalised bottom-left origin and are converted to pixels with a
// vertical flip: (u*W, H - v*H).
//
// Zero usable tracks is not an error; the caller decides whether an empty
// result is fatal for its operation.
func Extract(pairs []PointCorrespondence, clip *Clip, frame int) *ExtractedPoints {
	out := &ExtractedPoints{}
	if clip == nil || len(clip.Tracks) == 0 {
		monitoring.Logf("match: clip has no tracks, add markers for the 2D points")
		return out
	}

	w := float64(clip.Width)
	h := float64(clip.Height)
	for i := range pairs {
		pair := &pairs[i]
		if !pair.Usable() {
			out.Ignored++
			continue
		}
		track := clip.Track(pair.Track2D)
		if track == nil {
			out.Ignored++
			continue
		}
		marker := track.MarkerAt(frame)
		if marker == nil || marker.Mute {
			out.Ignored++
			continue
		}
		out.Pixels = append(out.Pixels, [2]float64{
			marker.Co[0] * w,
			h - marker.Co[1]*h,
		})
		out.Points = append(out.Points, pair.Point3D)
	}

	if out.Ignored > 0 {
		monitoring.Logf("match: ignoring %d point pairs with only a 2D or only a 3D side", out.Ignored)
	}
	return out
}
