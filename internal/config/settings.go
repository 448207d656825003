// Package config loads the solver settings file. The schema matches the
// /api/settings endpoint so the same JSON works for startup configuration
// and runtime updates. All fields are optional; omitted fields keep their
// defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Settings is the configuration surface consumed by the solver: the
// calibration refine flags, the live-solve behaviour and the service
// basics.
type Settings struct {
	// Calibration refine flags (five independent booleans).
	CalibrateFocalLength    *bool `json:"calibrate_focal_length,omitempty"`
	CalibratePrincipalPoint *bool `json:"calibrate_principal_point,omitempty"`
	CalibrateK1             *bool `json:"calibrate_distortion_k1,omitempty"`
	CalibrateK2             *bool `json:"calibrate_distortion_k2,omitempty"`
	CalibrateK3             *bool `json:"calibrate_distortion_k3,omitempty"`

	// Live solve.
	LiveSolveEnabled      *bool    `json:"live_solve_enabled,omitempty"`
	LiveSolveUpdateRate   *int     `json:"live_solve_update_rate,omitempty"`
	LiveSolveAutoKeyframe *bool    `json:"live_solve_auto_keyframe,omitempty"`
	LiveSolveSensitivity  *float64 `json:"live_solve_sensitivity,omitempty"`
	LiveSolveTickInterval *string  `json:"live_solve_tick_interval,omitempty"` // duration string like "100ms"

	// Service.
	Listen *string `json:"listen,omitempty"`
	DBPath *string `json:"db_path,omitempty"`
}

// Default values for omitted settings.
const (
	DefaultUpdateRate   = 5
	DefaultTickInterval = 100 * time.Millisecond
	DefaultListen       = ":8080"
	DefaultDBPath       = "camsolve.db"
)

// Load reads a Settings JSON file. Partial files are safe; missing fields
// fall back to defaults through the getters.
func Load(path string) (*Settings, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 << 20
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks value ranges on the fields that have them.
func (s *Settings) Validate() error {
	if s.LiveSolveUpdateRate != nil && *s.LiveSolveUpdateRate < 1 {
		return fmt.Errorf("live_solve_update_rate must be >= 1, got %d", *s.LiveSolveUpdateRate)
	}
	if s.LiveSolveSensitivity != nil && (*s.LiveSolveSensitivity < 0 || *s.LiveSolveSensitivity > 1) {
		return fmt.Errorf("live_solve_sensitivity must be in [0,1], got %g", *s.LiveSolveSensitivity)
	}
	if s.LiveSolveTickInterval != nil {
		if _, err := time.ParseDuration(*s.LiveSolveTickInterval); err != nil {
			return fmt.Errorf("invalid live_solve_tick_interval: %w", err)
		}
	}
	return nil
}

func (s *Settings) GetCalibrateFocalLength() bool {
	return s.CalibrateFocalLength != nil && *s.CalibrateFocalLength
}

func (s *Settings) GetCalibratePrincipalPoint() bool {
	return s.CalibratePrincipalPoint != nil && *s.CalibratePrincipalPoint
}

func (s *Settings) GetCalibrateK1() bool { return s.CalibrateK1 != nil && *s.CalibrateK1 }
func (s *Settings) GetCalibrateK2() bool { return s.CalibrateK2 != nil && *s.CalibrateK2 }
func (s *Settings) GetCalibrateK3() bool { return s.CalibrateK3 != nil && *s.CalibrateK3 }

func (s *Settings) GetLiveSolveEnabled() bool {
	return s.LiveSolveEnabled != nil && *s.LiveSolveEnabled
}

func (s *Settings) GetLiveSolveUpdateRate() int {
	if s.LiveSolveUpdateRate == nil {
		return DefaultUpdateRate
	}
	return *s.LiveSolveUpdateRate
}

func (s *Settings) GetLiveSolveAutoKeyframe() bool {
	return s.LiveSolveAutoKeyframe != nil && *s.LiveSolveAutoKeyframe
}

func (s *Settings) GetLiveSolveSensitivity() float64 {
	if s.LiveSolveSensitivity == nil {
		return 0.5
	}
	return *s.LiveSolveSensitivity
}

func (s *Settings) GetLiveSolveTickInterval() time.Duration {
	if s.LiveSolveTickInterval == nil {
		return DefaultTickInterval
	}
	d, err := time.ParseDuration(*s.LiveSolveTickInterval)
	if err != nil {
		return DefaultTickInterval
	}
	return d
}

func (s *Settings) GetListen() string {
	if s.Listen == nil {
		return DefaultListen
	}
	return *s.Listen
}

func (s *Settings) GetDBPath() string {
	if s.DBPath == nil {
		return DefaultDBPath
	}
	return *s.DBPath
}
