package solver

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/google/uuid"
	"github.com/matchmove/camsolve/internal/monitoring"
)

// ErrNoValidFingerprint means live solving cannot summarise the current
// input state, typically because no image or clip is selected.
var ErrNoValidFingerprint = errors.New("no valid data to fingerprint")

// DefaultUpdateRate is the number of ticks between change checks.
const DefaultUpdateRate = 5

// SessionConfig carries the live-solve settings captured at session start.
type SessionConfig struct {
	// UpdateRate is how many ticks pass between fingerprint checks.
	UpdateRate int
	// AutoKeyframe gates keyframe recording during live solves.
	AutoKeyframe bool
	// Sensitivity is advisory only; the fingerprint comparison is exact
	// and does not use it.
	Sensitivity float64
}

// Session is the state of one live-solve run. Exactly one session is
// active per solver; Tick is invoked by an external timer on a single
// goroutine, so the in-progress guard protects against same-routine
// re-entrancy (a solve's own scene writes re-triggering it), not races.
type Session struct {
	ID     string
	Config SessionConfig

	solver      *Solver
	enabled     bool
	baseline    *uint64
	tickCounter int
	solving     bool
	status      string
}

// StartLive begins a live-solve session. Only one session may be active at
// a time.
func (s *Solver) StartLive(cfg SessionConfig) (*Session, error) {
	if s.live != nil && s.live.enabled {
		return nil, fmt.Errorf("live solve already running (session %s)", s.live.ID)
	}
	if cfg.UpdateRate <= 0 {
		cfg.UpdateRate = DefaultUpdateRate
	}
	if _, err := s.checkPreconditions(); err != nil {
		return nil, err
	}
	s.live = &Session{
		ID:      uuid.NewString(),
		Config:  cfg,
		solver:  s,
		enabled: true,
		status:  "Starting...",
	}
	monitoring.Logf("solver: live session %s started (update rate %d)", s.live.ID, cfg.UpdateRate)
	return s.live, nil
}

// StopLive tears down the active session, if any.
func (s *Solver) StopLive() {
	if s.live == nil {
		return
	}
	s.live.stop()
	s.live = nil
}

// LiveSession returns the active session, or nil.
func (s *Solver) LiveSession() *Session {
	if s.live == nil || !s.live.enabled {
		return nil
	}
	return s.live
}

func (l *Session) stop() {
	if l.enabled {
		monitoring.Logf("solver: live session %s stopped", l.ID)
	}
	l.enabled = false
	l.baseline = nil
	l.tickCounter = 0
	l.solving = false
	l.status = "Stopped"
}

// Status returns the session's user-facing status line.
func (l *Session) Status() string { return l.status }

// Active reports whether the session still accepts ticks.
func (l *Session) Active() bool { return l.enabled }

// Tick advances the session by one timer interval. Only every UpdateRate-th
// tick performs a check; a tick arriving while a solve is in flight is a
// no-op. The first successful fingerprint establishes the baseline without
// solving; afterwards a changed fingerprint triggers a single-frame solve
// at the current frame. The baseline is replaced even when the solve fails
// so unchanged input is not retried. Unexpected panics are contained at the
// tick boundary and surfaced as status text.
func (l *Session) Tick() {
	if !l.enabled {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.status = fmt.Sprintf("Error: %v", r)
			l.solving = false
			monitoring.Logf("solver: live tick panic: %v", r)
		}
	}()

	l.tickCounter++
	if l.tickCounter < l.Config.UpdateRate {
		return
	}
	l.tickCounter = 0

	if l.solving {
		return
	}

	fp, err := l.solver.Fingerprint()
	if err != nil {
		l.status = "Error: No valid data"
		return
	}

	if l.baseline != nil && fp != *l.baseline {
		l.status = "Solving..."
		l.solving = true
		fr, err := l.solver.SolveFrame(l.solver.Scene.FrameCurrent, l.Config.AutoKeyframe)
		l.solving = false
		if err != nil {
			l.status = "Solve failed"
		} else {
			l.status = "Live solving - " + fr.Message
		}
	} else if l.baseline == nil {
		l.status = "Live solving active"
	}
	l.baseline = &fp
}

// Fingerprint summarises every usable correspondence's 2D marker and 3D
// point position together with the active intrinsics. The values are
// formatted to six decimal places and joined before hashing, preserving
// the precision-limited semantics of the original change detector; changes
// below 1e-6 are invisible to live solving.
func (s *Solver) Fingerprint() (uint64, error) {
	im := s.Scene.Current()
	if im == nil || im.Clip == nil || im.Clip.Camera == nil {
		return 0, ErrNoValidFingerprint
	}
	clip := im.Clip
	frame := s.Scene.FrameCurrent

	var sb strings.Builder
	add := func(v float64) {
		if sb.Len() > 0 {
			sb.WriteByte('_')
		}
		fmt.Fprintf(&sb, "%.6f", v)
	}

	for i := range im.Matches {
		pair := &im.Matches[i]
		if !pair.Usable() {
			continue
		}
		if track := clip.Track(pair.Track2D); track != nil {
			if marker := track.MarkerAt(frame); marker != nil && !marker.Mute {
				add(marker.Co[0])
				add(marker.Co[1])
			}
		}
		add(pair.Point3D.X)
		add(pair.Point3D.Y)
		add(pair.Point3D.Z)
	}

	cam := clip.Camera
	add(cam.FocalLengthPx)
	add(cam.K1)
	add(cam.K2)
	add(cam.K3)
	add(cam.PrincipalPoint[0])
	add(cam.PrincipalPoint[1])

	h := fnv.New64a()
	h.Write([]byte(sb.String()))
	return h.Sum64(), nil
}
