// Package export renders solved cameras into the two downstream formats:
// a structured per-image record (scene Z-up or three.js Y-up conventions)
// and a TypeScript source-literal object with fixed numeric precision.
package export

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matchmove/camsolve/internal/frames"
	"github.com/matchmove/camsolve/internal/match"
)

// Target selects the axis and lens conventions of the structured export.
type Target string

const (
	// TargetScene keeps the scene's Z-up axes, scalar-first quaternions and
	// millimetre focal length.
	TargetScene Target = "SCENE"
	// TargetThreeJS converts to Y-up axes, scalar-last quaternions and a
	// field of view in degrees.
	TargetThreeJS Target = "THREEJS"
)

// MatchRecord is one image's camera in the structured export. Exactly one
// of CameraFocalLength (scene) or CameraFOV (three.js) is set.
type MatchRecord struct {
	ImageFilename     string     `json:"image_filename"`
	CameraFocalLength *float64   `json:"camera_focal_length,omitempty"`
	CameraFOV         *float64   `json:"camera_fov,omitempty"`
	CameraQuaternion  [4]float64 `json:"camera_quaternion"`
	CameraPosition    [3]float64 `json:"camera_position"`
	CameraNear        float64    `json:"camera_near"`
	CameraFar         float64    `json:"camera_far"`
	CentreModelPoint  [3]float64 `json:"centre_model_point"`
}

// Document is the full structured export payload.
type Document struct {
	ImageMatches []MatchRecord `json:"image_matches"`
}

// BuildRecord converts one solved camera to a MatchRecord for the given
// target.
func BuildRecord(scene *match.Scene, im *match.ImageMatch, target Target) MatchRecord {
	cam := im.Camera
	rec := MatchRecord{
		ImageFilename: im.Name,
		CameraNear:    cam.ClipStart,
		CameraFar:     cam.ClipEnd,
	}

	centre := CentreModelPoint(cam, scene.Model)
	pos := cam.Location
	q := cam.Rotation.Quaternion()

	if target == TargetThreeJS {
		fov := frames.Degrees(frames.ExportFOV(cam.Angle(), scene.RenderAspect(), cam.SensorFit))
		rec.CameraFOV = &fov
		yq := frames.QuaternionYUp(q)
		rec.CameraQuaternion = yq
		p := frames.PositionYUp(pos)
		rec.CameraPosition = [3]float64{p.X, p.Y, p.Z}
		c := frames.PositionYUp(centre)
		rec.CentreModelPoint = [3]float64{c.X, c.Y, c.Z}
		return rec
	}

	lens := cam.Lens
	rec.CameraFocalLength = &lens
	rec.CameraQuaternion = [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag}
	rec.CameraPosition = [3]float64{pos.X, pos.Y, pos.Z}
	rec.CentreModelPoint = [3]float64{centre.X, centre.Y, centre.Z}
	return rec
}

// BuildDocument exports every image match in the scene.
func BuildDocument(scene *match.Scene, target Target) (*Document, error) {
	if scene.Model == nil {
		return nil, fmt.Errorf("no 3D model selected")
	}
	doc := &Document{ImageMatches: []MatchRecord{}}
	for _, name := range sortedMatchNames(scene) {
		doc.ImageMatches = append(doc.ImageMatches, BuildRecord(scene, scene.Matches[name], target))
	}
	return doc, nil
}

func sortedMatchNames(scene *match.Scene) []string {
	names := make([]string, 0, len(scene.Matches))
	for name := range scene.Matches {
		names = append(names, name)
	}
	// Deterministic output order for stable exports.
	sort.Strings(names)
	return names
}

// InitMeta fills any unset metadata fields of the camera's export bag with
// defaults derived from the camera name.
func InitMeta(cam *match.Camera, referenceImage string) {
	m := &cam.Meta
	if m.ID == "" {
		id := strings.ToLower(strings.NewReplacer(" ", "-", "_", "-").Replace(cam.Name))
		if id == "" {
			id = "camera-" + uuid.NewString()[:8]
		}
		m.ID = id
	}
	if m.Name == "" {
		m.Name = cam.Name
	}
	if m.Category == "" {
		m.Category = "default"
	}
	if m.Datetime == "" {
		m.Datetime = time.Now().UTC().Format("2006-01-02T15:04:05Z")
	}
	if m.Description == "" {
		m.Description = "Camera view from " + cam.Name
	}
	if len(m.Tags) == 0 {
		m.Tags = []string{"camera", "view"}
	}
	if m.ReferenceImage == "" {
		if referenceImage == "" {
			referenceImage = "/path/to/image.jpg"
		}
		m.ReferenceImage = referenceImage
	}
}

// TypeScriptObject renders one camera as a TypeScript source literal. The
// camera must have an initialised metadata bag. Numeric precision is fixed:
// six decimals for position and quaternion, four for FOV, six for aspect.
// The quaternion stays in the scene convention (Z-up, scalar-first) and the
// FOV is always the vertical angle in degrees.
func TypeScriptObject(cam *match.Camera, aspect float64) (string, error) {
	if !cam.Meta.Initialized() {
		return "", fmt.Errorf("camera export metadata not initialised")
	}
	m := cam.Meta
	pos := cam.Location
	q := cam.Rotation.Quaternion()
	fov := frames.Degrees(cam.VerticalAngle())

	tags := make([]string, 0, len(m.Tags))
	for _, tag := range m.Tags {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			tags = append(tags, fmt.Sprintf("%q", tag))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "  %q: {\n", m.ID)
	fmt.Fprintf(&b, "    id: %q,\n", m.ID)
	fmt.Fprintf(&b, "    name: %q,\n", m.Name)
	fmt.Fprintf(&b, "    category: %q,\n", m.Category)
	fmt.Fprintf(&b, "    datetime: %q,\n", m.Datetime)
	b.WriteString("    camera: {\n")
	fmt.Fprintf(&b, "      position: [%.6f, %.6f, %.6f] as const,\n", pos.X, pos.Y, pos.Z)
	fmt.Fprintf(&b, "      quaternion: [%.6f, %.6f, %.6f, %.6f] as const,\n", q.Real, q.Imag, q.Jmag, q.Kmag)
	fmt.Fprintf(&b, "      fov: %.4f,\n", fov)
	fmt.Fprintf(&b, "      aspect: %.6f,\n", aspect)
	b.WriteString("      sensorFit: \"VERTICAL\",\n")
	b.WriteString("    },\n")
	fmt.Fprintf(&b, "    referenceImage: %q,\n", m.ReferenceImage)
	fmt.Fprintf(&b, "    description: %q,\n", m.Description)
	fmt.Fprintf(&b, "    tags: [%s],\n", strings.Join(tags, ", "))
	b.WriteString("  },")
	return b.String(), nil
}

// TypeScriptObjects renders every camera with initialised metadata, joined
// by newlines. Cameras without metadata are skipped with a count.
func TypeScriptObjects(scene *match.Scene, aspect float64) (string, int, error) {
	var objects []string
	skipped := 0
	for _, name := range sortedMatchNames(scene) {
		im := scene.Matches[name]
		if im.Camera == nil {
			continue
		}
		obj, err := TypeScriptObject(im.Camera, aspect)
		if err != nil {
			skipped++
			continue
		}
		objects = append(objects, obj)
	}
	if len(objects) == 0 {
		return "", skipped, fmt.Errorf("no cameras with initialised export metadata")
	}
	return strings.Join(objects, "\n"), skipped, nil
}
