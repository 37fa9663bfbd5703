package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tandemhq/tandem-core/paths"
)

// Limits holds the operational limits loaded from limits.yaml.
// Missing fields fall back to the compiled-in defaults via Merge.
type Limits struct {
	MaxActiveSessions int   `yaml:"max_active_sessions"` // Concurrent session cap
	MaxRecordBytes    int64 `yaml:"max_record_bytes"`    // Max persisted record size
	MaxWriteBytes     int64 `yaml:"max_write_bytes"`     // Max single file write inside a boundary

	SaveRatePerSession   int      `yaml:"save_rate_per_session"`   // Saves allowed per session per window
	ResumeRatePerSession int      `yaml:"resume_rate_per_session"` // Resumes allowed per session per window
	GlobalRate           int      `yaml:"global_rate"`             // Combined save+resume ops per window across all sessions
	RateWindow           Duration `yaml:"rate_window"`

	CleanupMaxAge Duration `yaml:"cleanup_max_age"` // Persisted records older than this are removed by Cleanup

	RestartMaxCount int      `yaml:"restart_max_count"` // Restarts tolerated inside RestartWindow before a unit fails fatally
	RestartWindow   Duration `yaml:"restart_window"`
}

// Duration is a wrapper around time.Duration that implements YAML unmarshaling
// from human-readable strings like "30m", "2h".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// DefaultLimits returns the compiled-in operational limits.
func DefaultLimits() *Limits {
	return &Limits{
		MaxActiveSessions:    10,
		MaxRecordBytes:       10 * 1024 * 1024,
		MaxWriteBytes:        10 * 1024 * 1024,
		SaveRatePerSession:   5,
		ResumeRatePerSession: 5,
		GlobalRate:           30,
		RateWindow:           Duration{time.Minute},
		CleanupMaxAge:        Duration{30 * 24 * time.Hour},
		RestartMaxCount:      5,
		RestartWindow:        Duration{10 * time.Second},
	}
}

// LoadLimits reads and parses limits.yaml from the config directory.
// Returns nil, nil if the file does not exist.
func LoadLimits() (*Limits, error) {
	fp, err := paths.LimitsFilePath()
	if err != nil {
		return nil, err
	}
	return LoadLimitsFile(fp)
}

// LoadLimitsFile reads and parses a limits file at an explicit path.
// Returns nil, nil if the file does not exist.
func LoadLimitsFile(fp string) (*Limits, error) {
	data, err := os.ReadFile(fp)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read limits file: %w", err)
	}

	var lim Limits
	if err := yaml.Unmarshal(data, &lim); err != nil {
		return nil, fmt.Errorf("failed to parse limits file: %w", err)
	}

	return &lim, nil
}

// LoadAndMergeLimits loads the limits file and merges with defaults.
// If no limits file exists, returns the default limits.
func LoadAndMergeLimits() (*Limits, error) {
	lim, err := LoadLimits()
	if err != nil {
		return nil, err
	}

	defaults := DefaultLimits()
	if lim == nil {
		return defaults, nil
	}

	return MergeLimits(lim, defaults), nil
}

// MergeLimits overlays partial onto defaults. Zero-valued fields in partial
// fall back to the corresponding default.
func MergeLimits(partial, defaults *Limits) *Limits {
	result := *partial

	if result.MaxActiveSessions <= 0 {
		result.MaxActiveSessions = defaults.MaxActiveSessions
	}
	if result.MaxRecordBytes <= 0 {
		result.MaxRecordBytes = defaults.MaxRecordBytes
	}
	if result.MaxWriteBytes <= 0 {
		result.MaxWriteBytes = defaults.MaxWriteBytes
	}
	if result.SaveRatePerSession <= 0 {
		result.SaveRatePerSession = defaults.SaveRatePerSession
	}
	if result.ResumeRatePerSession <= 0 {
		result.ResumeRatePerSession = defaults.ResumeRatePerSession
	}
	if result.GlobalRate <= 0 {
		result.GlobalRate = defaults.GlobalRate
	}
	if result.RateWindow.Duration <= 0 {
		result.RateWindow = defaults.RateWindow
	}
	if result.CleanupMaxAge.Duration <= 0 {
		result.CleanupMaxAge = defaults.CleanupMaxAge
	}
	if result.RestartMaxCount <= 0 {
		result.RestartMaxCount = defaults.RestartMaxCount
	}
	if result.RestartWindow.Duration <= 0 {
		result.RestartWindow = defaults.RestartWindow
	}

	return &result
}
