package solver

import (
	"strings"
	"testing"

	"github.com/matchmove/camsolve/internal/testutil"
)

func tickN(s *Session, n int) {
	for i := 0; i < n; i++ {
		s.Tick()
	}
}

func TestStartLiveSingleSession(t *testing.T) {
	s := New(testutil.SceneWithPose(1))

	sess, err := s.StartLive(SessionConfig{UpdateRate: 2})
	if err != nil {
		t.Fatalf("StartLive: %v", err)
	}
	if sess.ID == "" {
		t.Error("session has no id")
	}

	if _, err := s.StartLive(SessionConfig{}); err == nil {
		t.Fatal("second StartLive succeeded with a session active")
	}

	s.StopLive()
	if s.LiveSession() != nil {
		t.Error("session still reported after stop")
	}
	if _, err := s.StartLive(SessionConfig{}); err != nil {
		t.Errorf("restart after stop failed: %v", err)
	}
}

func TestStartLiveRequiresSolvableScene(t *testing.T) {
	scene := testutil.SceneWithPose(1)
	scene.CurrentImage = ""
	s := New(scene)

	if _, err := s.StartLive(SessionConfig{}); err == nil {
		t.Fatal("StartLive succeeded without a current image")
	}
}

func TestTickEstablishesBaselineWithoutSolving(t *testing.T) {
	scene := testutil.SceneWithPose(1)
	hist := &recordingHistory{}
	s := New(scene)
	s.History = hist

	sess, err := s.StartLive(SessionConfig{UpdateRate: 3})
	if err != nil {
		t.Fatalf("StartLive: %v", err)
	}

	tickN(sess, 2)
	if sess.baseline != nil {
		t.Fatal("baseline set before the update-rate boundary")
	}
	sess.Tick()
	if sess.baseline == nil {
		t.Fatal("baseline not set at the update-rate boundary")
	}
	if sess.Status() != "Live solving active" {
		t.Errorf("status = %q", sess.Status())
	}
	if len(hist.records) != 0 {
		t.Errorf("%d solves ran while establishing the baseline", len(hist.records))
	}
}

func TestTickSolvesOnChange(t *testing.T) {
	scene := testutil.SceneWithPose(1)
	hist := &recordingHistory{}
	s := New(scene)
	s.History = hist

	sess, _ := s.StartLive(SessionConfig{UpdateRate: 1})
	sess.Tick() // baseline

	// Unchanged input: no solve.
	tickN(sess, 3)
	if len(hist.records) != 0 {
		t.Fatalf("%d solves on unchanged input", len(hist.records))
	}

	// Move one marker by more than the fingerprint precision.
	scene.Current().Clip.Tracks[0].Markers[0].Co[0] += 0.001
	sess.Tick()
	if len(hist.records) != 1 {
		t.Fatalf("solves after change = %d, want 1", len(hist.records))
	}
	if !strings.HasPrefix(sess.Status(), "Live solving - ") {
		t.Errorf("status = %q", sess.Status())
	}

	// The new fingerprint became the baseline; no re-solve.
	tickN(sess, 3)
	if len(hist.records) != 1 {
		t.Errorf("solves after settling = %d, want still 1", len(hist.records))
	}
}

func TestTickSubPrecisionChangeIsInvisible(t *testing.T) {
	scene := testutil.SceneWithPose(1)
	hist := &recordingHistory{}
	s := New(scene)
	s.History = hist

	sess, _ := s.StartLive(SessionConfig{UpdateRate: 1})
	sess.Tick()

	scene.Current().Clip.Tracks[0].Markers[0].Co[0] += 1e-9
	tickN(sess, 2)
	if len(hist.records) != 0 {
		t.Errorf("%d solves for a change below the 1e-6 precision", len(hist.records))
	}
}

func TestTickFailedSolveUpdatesBaseline(t *testing.T) {
	scene := testutil.SceneWithPose(1)
	hist := &recordingHistory{}
	s := New(scene)
	s.History = hist

	sess, _ := s.StartLive(SessionConfig{UpdateRate: 1})
	sess.Tick()

	// Make the scene unsolvable but still fingerprintable, then change it.
	im := scene.Current()
	for _, track := range im.Clip.Tracks[3:] {
		track.Markers[0].Mute = true
	}
	sess.Tick()
	if sess.Status() != "Solve failed" {
		t.Errorf("status = %q, want Solve failed", sess.Status())
	}
	attempts := len(hist.records)

	// Unchanged unsolvable input is not retried.
	tickN(sess, 3)
	if len(hist.records) != attempts {
		t.Errorf("failed input retried: %d attempts, want %d", len(hist.records), attempts)
	}
}

func TestTickReentrancyGuard(t *testing.T) {
	scene := testutil.SceneWithPose(1)
	hist := &recordingHistory{}
	s := New(scene)
	s.History = hist

	sess, _ := s.StartLive(SessionConfig{UpdateRate: 1})
	sess.Tick()
	scene.Current().Clip.Tracks[0].Markers[0].Co[0] += 0.001

	// A tick arriving while a solve is in flight must be a no-op.
	sess.solving = true
	sess.Tick()
	if len(hist.records) != 0 {
		t.Fatalf("guarded tick ran %d solves", len(hist.records))
	}
	sess.solving = false
	sess.Tick()
	if len(hist.records) != 1 {
		t.Errorf("unguarded tick solves = %d, want 1", len(hist.records))
	}
}

func TestTickAutoKeyframe(t *testing.T) {
	scene := testutil.SceneWithPose(1)
	s := New(scene)

	sess, _ := s.StartLive(SessionConfig{UpdateRate: 1, AutoKeyframe: false})
	sess.Tick()
	scene.Current().Clip.Tracks[0].Markers[0].Co[0] += 0.001
	sess.Tick()
	if len(scene.Current().Camera.Keyframes) != 0 {
		t.Error("keyframe recorded with auto-keyframe disabled")
	}

	s.StopLive()
	sess, _ = s.StartLive(SessionConfig{UpdateRate: 1, AutoKeyframe: true})
	sess.Tick()
	scene.Current().Clip.Tracks[0].Markers[0].Co[0] += 0.001
	sess.Tick()
	if len(scene.Current().Camera.Keyframes) != 1 {
		t.Error("keyframe not recorded with auto-keyframe enabled")
	}
}

func TestTickInvalidStateReportsNoValidData(t *testing.T) {
	scene := testutil.SceneWithPose(1)
	s := New(scene)

	sess, _ := s.StartLive(SessionConfig{UpdateRate: 1})
	scene.CurrentImage = "" // state broke after start
	sess.Tick()
	if sess.Status() != "Error: No valid data" {
		t.Errorf("status = %q", sess.Status())
	}
}

func TestTickAfterStopIsNoOp(t *testing.T) {
	scene := testutil.SceneWithPose(1)
	s := New(scene)
	sess, _ := s.StartLive(SessionConfig{UpdateRate: 1})
	s.StopLive()

	sess.Tick()
	if sess.baseline != nil || sess.Status() != "Stopped" {
		t.Errorf("stopped session ticked: status=%q", sess.Status())
	}
}

func TestFingerprintStability(t *testing.T) {
	scene := testutil.SceneWithPose(1)
	s := New(scene)

	a, err := s.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	b, err := s.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if a != b {
		t.Error("fingerprint changed with no input change")
	}
}

func TestFingerprintTracksInputChanges(t *testing.T) {
	scene := testutil.SceneWithPose(1)
	s := New(scene)
	base, _ := s.Fingerprint()

	t.Run("marker move", func(t *testing.T) {
		scene.Current().Clip.Tracks[0].Markers[0].Co[1] += 0.01
		fp, _ := s.Fingerprint()
		if fp == base {
			t.Error("marker move not reflected")
		}
		scene.Current().Clip.Tracks[0].Markers[0].Co[1] -= 0.01
	})

	t.Run("3d point move", func(t *testing.T) {
		scene.Current().Matches[2].Point3D.X += 0.05
		fp, _ := s.Fingerprint()
		if fp == base {
			t.Error("3D point move not reflected")
		}
		scene.Current().Matches[2].Point3D.X -= 0.05
	})

	t.Run("intrinsics change", func(t *testing.T) {
		scene.Current().Clip.Camera.K1 += 0.01
		fp, _ := s.Fingerprint()
		if fp == base {
			t.Error("distortion change not reflected")
		}
		scene.Current().Clip.Camera.K1 -= 0.01
	})

	t.Run("restored state matches baseline", func(t *testing.T) {
		fp, _ := s.Fingerprint()
		if fp != base {
			t.Error("fingerprint differs after restoring the original state")
		}
	})
}

func TestFingerprintNoValidState(t *testing.T) {
	s := New(testutil.SceneWithPose(1))
	s.Scene.CurrentImage = ""
	if _, err := s.Fingerprint(); err == nil {
		t.Fatal("expected ErrNoValidFingerprint")
	}
}
