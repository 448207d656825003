package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"

	"github.com/matchmove/camsolve/internal/config"
	"github.com/matchmove/camsolve/internal/export"
	"github.com/matchmove/camsolve/internal/match"
	"github.com/matchmove/camsolve/internal/matchdb"
	"github.com/matchmove/camsolve/internal/pnp"
	"github.com/matchmove/camsolve/internal/report"
	"github.com/matchmove/camsolve/internal/solver"
)

// Server exposes the solver over HTTP. All scene access is serialised by
// the mutex, which is also what keeps the live-solve ticker and the API
// handlers from running solves concurrently.
type Server struct {
	mu       sync.Mutex
	solver   *solver.Solver
	db       *matchdb.DB
	settings *config.Settings
}

func NewServer(s *solver.Solver, db *matchdb.DB, settings *config.Settings) *Server {
	if settings == nil {
		settings = &config.Settings{}
	}
	return &Server{solver: s, db: db, settings: settings}
}

// ServeMux returns the API routes. Mount under /api.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/scene", s.handleScene)
	mux.HandleFunc("/solve", s.handleSolve)
	mux.HandleFunc("/solve/sequence", s.handleSolveSequence)
	mux.HandleFunc("/solve/keyframes", s.handleSolveKeyframes)
	mux.HandleFunc("/calibrate", s.handleCalibrate)
	mux.HandleFunc("/camera/reset", s.handleCameraReset)
	mux.HandleFunc("/live/start", s.handleLiveStart)
	mux.HandleFunc("/live/stop", s.handleLiveStop)
	mux.HandleFunc("/live/status", s.handleLiveStatus)
	mux.HandleFunc("/export/matches", s.handleExportMatches)
	mux.HandleFunc("/export/typescript", s.handleExportTypeScript)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/report/errors", s.handleReportErrors)
	mux.HandleFunc("/report/residuals", s.handleReportResiduals)
	mux.HandleFunc("/settings", s.handleSettings)
	return mux
}

// TickLive advances the live-solve session by one timer interval, if one
// is active. Called by the ticker loop in main.
func (s *Server) TickLive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session := s.solver.LiveSession(); session != nil {
		session.Tick()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// solveStatus maps solver errors onto HTTP status codes: bad input state
// is the caller's problem, numeric failure is not.
func solveStatus(err error) int {
	switch {
	case errors.Is(err, pnp.ErrInsufficientPoints),
		errors.Is(err, solver.ErrInvalidModelState),
		errors.Is(err, solver.ErrNoCurrentImage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleScene(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.mu.Lock()
		defer s.mu.Unlock()
		writeJSON(w, http.StatusOK, s.solver.Scene)
	case http.MethodPut:
		var scene match.Scene
		if err := json.NewDecoder(r.Body).Decode(&scene); err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid scene: %v", err))
			return
		}
		if scene.Matches == nil {
			scene.Matches = map[string]*match.ImageMatch{}
		}
		if scene.PixelAspectX == 0 {
			scene.PixelAspectX = 1
		}
		if scene.PixelAspectY == 0 {
			scene.PixelAspectY = 1
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		// Replacing the scene invalidates any running live session.
		s.solver.StopLive()
		s.solver.Scene = &scene
		if s.settings.GetLiveSolveEnabled() {
			if _, err := s.solver.StartLive(s.liveConfig()); err != nil {
				writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "live": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "loaded"})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	frame := s.solver.Scene.FrameCurrent
	if v := r.URL.Query().Get("frame"); v != "" {
		f, err := strconv.Atoi(v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid frame")
			return
		}
		frame = f
	}

	res, err := s.solver.SolveFrame(frame, true)
	if err != nil {
		writeJSONError(w, solveStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSolveSequence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.solver.Scene.FrameStart
	end := s.solver.Scene.FrameEnd
	if v := r.URL.Query().Get("start"); v != "" {
		f, err := strconv.Atoi(v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid start frame")
			return
		}
		start = f
	}
	if v := r.URL.Query().Get("end"); v != "" {
		f, err := strconv.Atoi(v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid end frame")
			return
		}
		end = f
	}
	if end < start {
		writeJSONError(w, http.StatusBadRequest, "end frame before start frame")
		return
	}

	res, err := s.solver.SolveSequence(start, end)
	if err != nil {
		writeJSONError(w, solveStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSolveKeyframes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.solver.SolveKeyframes()
	if err != nil {
		writeJSONError(w, solveStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) refineFlags() match.RefineFlags {
	return match.RefineFlags{
		FocalLength:    s.settings.GetCalibrateFocalLength(),
		PrincipalPoint: s.settings.GetCalibratePrincipalPoint(),
		K1:             s.settings.GetCalibrateK1(),
		K2:             s.settings.GetCalibrateK2(),
		K3:             s.settings.GetCalibrateK3(),
	}
}

func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	flags := s.refineFlags()
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&flags); err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid refine flags: %v", err))
			return
		}
	}
	if !flags.Any() {
		writeJSONError(w, http.StatusBadRequest, "no intrinsics selected for refinement")
		return
	}

	res, err := s.solver.Calibrate(flags)
	if err != nil {
		writeJSONError(w, solveStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCameraReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	im := s.solver.Scene.Current()
	if im == nil || im.Clip == nil || im.Clip.Camera == nil {
		writeJSONError(w, http.StatusBadRequest, solver.ErrNoCurrentImage.Error())
		return
	}
	im.Clip.Camera.Reset(im.Clip.Width, im.Clip.Height)
	writeJSON(w, http.StatusOK, im.Clip.Camera)
}

func (s *Server) liveConfig() solver.SessionConfig {
	return solver.SessionConfig{
		UpdateRate:   s.settings.GetLiveSolveUpdateRate(),
		AutoKeyframe: s.settings.GetLiveSolveAutoKeyframe(),
		Sensitivity:  s.settings.GetLiveSolveSensitivity(),
	}
}

func (s *Server) handleLiveStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.solver.StartLive(s.liveConfig())
	if err != nil {
		writeJSONError(w, solveStatus(err), err.Error())
		return
	}
	if s.db != nil {
		if err := s.db.RecordSessionStart(session.ID, session.Config.UpdateRate, session.Config.AutoKeyframe); err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": session.ID, "status": session.Status()})
}

func (s *Server) handleLiveStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.solver.LiveSession()
	if session != nil && s.db != nil {
		if err := s.db.RecordSessionStop(session.ID); err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	s.solver.StopLive()
	writeJSON(w, http.StatusOK, map[string]string{"status": "Stopped"})
}

func (s *Server) handleLiveStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.solver.LiveSession()
	if session == nil {
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":     true,
		"session_id": session.ID,
		"status":     session.Status(),
	})
}

func (s *Server) handleExportMatches(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := export.TargetScene
	if t := r.URL.Query().Get("target"); t != "" {
		switch export.Target(t) {
		case export.TargetScene, export.TargetThreeJS:
			target = export.Target(t)
		default:
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown export target %q", t))
			return
		}
	}

	doc, err := export.BuildDocument(s.solver.Scene, target)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleExportTypeScript(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scene := s.solver.Scene
	if scene.Model == nil {
		writeJSONError(w, http.StatusBadRequest, "no 3D model selected")
		return
	}
	// Ensure metadata exists so a freshly solved scene exports without a
	// separate init step.
	for _, im := range scene.Matches {
		if im.Camera != nil {
			ref := ""
			if im.Clip != nil {
				ref = im.Clip.Filepath
			}
			export.InitMeta(im.Camera, ref)
		}
	}
	out, skipped, err := export.TypeScriptObjects(scene, scene.RenderAspect())
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if skipped > 0 {
		w.Header().Set("X-Skipped-Cameras", strconv.Itoa(skipped))
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(out))
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.mu.Lock()
		defer s.mu.Unlock()
		writeJSON(w, http.StatusOK, s.settings)
	case http.MethodPut:
		var updated config.Settings
		if err := json.NewDecoder(r.Body).Decode(&updated); err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid settings: %v", err))
			return
		}
		if err := updated.Validate(); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		// Listen address and db path only apply at startup; runtime updates
		// affect calibration flags and live-solve behaviour.
		s.settings = &updated
		// The live-solve flag governs the session: clearing it tears the
		// active session down, setting it starts one.
		if !updated.GetLiveSolveEnabled() {
			if session := s.solver.LiveSession(); session != nil {
				if s.db != nil {
					if err := s.db.RecordSessionStop(session.ID); err != nil {
						log.Printf("settings: session stop not recorded: %v", err)
					}
				}
				s.solver.StopLive()
			}
		} else if s.solver.LiveSession() == nil {
			if _, err := s.solver.StartLive(s.liveConfig()); err != nil {
				log.Printf("settings: live solve not started: %v", err)
			}
		}
		writeJSON(w, http.StatusOK, s.settings)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeJSONError(w, http.StatusNotFound, "no history database")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 10000 {
			limit = n
		}
	}
	rows, err := s.db.ListSolves(r.URL.Query().Get("image"), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleReportErrors(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeJSONError(w, http.StatusNotFound, "no history database")
		return
	}
	image := r.URL.Query().Get("image")
	frames, errorsPx, err := s.db.FrameErrors(image)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.RenderFrameErrors(w, image, frames, errorsPx); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
	}
}

func (s *Server) handleReportResiduals(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeJSONError(w, http.StatusNotFound, "no history database")
		return
	}
	frame := -1
	if v := r.URL.Query().Get("frame"); v != "" {
		f, err := strconv.Atoi(v)
		if err != nil || f < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid frame")
			return
		}
		frame = f
	}
	residuals, solvedFrame, err := s.db.LatestResiduals(r.URL.Query().Get("image"), frame)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(residuals) == 0 {
		writeJSONError(w, http.StatusNotFound, "no recorded residuals match")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := report.WriteResidualScatter(w, residuals, solvedFrame); err != nil {
		log.Printf("report: residual plot failed: %v", err)
	}
}
