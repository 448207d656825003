package export

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/matchmove/camsolve/internal/match"
)

// rayTriangle intersects a ray with one triangle (Moller-Trumbore).
// Returns the ray parameter t, or ok=false when there is no forward hit.
func rayTriangle(origin, dir, v0, v1, v2 r3.Vector) (t float64, ok bool) {
	const eps = 1e-12
	e1 := v1.Sub(v0)
	e2 := v2.Sub(v0)
	p := dir.Cross(e2)
	det := e1.Dot(p)
	if math.Abs(det) < eps {
		return 0, false
	}
	inv := 1 / det
	s := origin.Sub(v0)
	u := s.Dot(p) * inv
	if u < 0 || u > 1 {
		return 0, false
	}
	q := s.Cross(e1)
	v := dir.Dot(q) * inv
	if v < 0 || u+v > 1 {
		return 0, false
	}
	t = e2.Dot(q) * inv
	if t <= eps {
		return 0, false
	}
	return t, true
}

// CentreModelPoint casts the camera's principal ray (-Z in the scene
// convention) against the model mesh and returns the nearest hit in world
// space. The cast runs in model-local space so the model's own transform is
// honoured. A miss returns the model origin in world space, matching how a
// failed scene ray cast degrades.
func CentreModelPoint(cam *match.Camera, model *match.Model) r3.Vector {
	origin := model.WorldToLocal(cam.Location)
	target := model.WorldToLocal(cam.Location.Add(cam.Direction()))
	dir := target.Sub(origin)

	best := math.Inf(1)
	hit := false
	for _, f := range model.Faces {
		if f[0] < 0 || f[1] < 0 || f[2] < 0 ||
			f[0] >= len(model.Vertices) || f[1] >= len(model.Vertices) || f[2] >= len(model.Vertices) {
			continue
		}
		t, ok := rayTriangle(origin, dir, model.Vertices[f[0]], model.Vertices[f[1]], model.Vertices[f[2]])
		if ok && t < best {
			best = t
			hit = true
		}
	}
	if !hit {
		return model.LocalToWorld(r3.Vector{})
	}
	local := origin.Add(dir.Mul(best))
	return model.LocalToWorld(local)
}
