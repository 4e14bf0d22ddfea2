// Package config loads the counter's start-up configuration.
//
// Every field is optional. Fields omitted from the JSON file fall back to the
// defaults returned by the Get* methods, so partial configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/footfall.report/internal/monitoring"
	"github.com/banshee-data/footfall.report/internal/region"
)

// Defaults for fields omitted from the config file.
const (
	DefaultURL           = "udp://127.0.0.1:7070"
	DefaultFeedFPS       = 30.0
	DefaultCSVPath       = "footfall.csv"
	DefaultConfidence    = 0.4
	DefaultMaxIdleFrames = 900
)

// CounterConfig is the root configuration. It is read once at start-up and
// is immutable for the run.
type CounterConfig struct {
	// Live feed. Used when no input file is given.
	URL     *string  `json:"url,omitempty"` // "udp://host:port"
	FeedFPS *float64 `json:"feed_fps,omitempty"`

	// Outputs
	CSVPath *string `json:"csv_path,omitempty"`
	DBPath  *string `json:"db_path,omitempty"`
	Listen  *string `json:"listen,omitempty"`

	// Region
	RectX     *int     `json:"rect_x,omitempty"`
	RectY     *int     `json:"rect_y,omitempty"`
	RectW     *int     `json:"rect_w,omitempty"`
	RectH     *int     `json:"rect_h,omitempty"`
	TiltAngle *float64 `json:"tilt_angle,omitempty"`

	// Counting
	Confidence    *float64 `json:"confidence,omitempty"`
	MaxIdleFrames *int     `json:"max_idle_frames,omitempty"`
	FlushInterval *string  `json:"flush_interval,omitempty"` // duration string like "5s"
	Timezone      *string  `json:"timezone,omitempty"`       // IANA name, "Local" or "UTC"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// PtrFloat64, PtrString and PtrInt let callers outside the package set
// overrides, for instance from command-line flags.
func PtrFloat64(v float64) *float64 { return ptrFloat64(v) }
func PtrString(v string) *string    { return ptrString(v) }
func PtrInt(v int) *int             { return ptrInt(v) }

// EmptyCounterConfig returns a CounterConfig with all fields set to nil.
func EmptyCounterConfig() *CounterConfig {
	return &CounterConfig{}
}

// LoadCounterConfig loads a CounterConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadCounterConfig(path string) (*CounterConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyCounterConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid. A rectangle with
// only some of its four fields set is not an error; see Rect.
func (c *CounterConfig) Validate() error {
	if c.URL != nil && *c.URL != "" {
		if _, err := ParseUDPURL(*c.URL); err != nil {
			return err
		}
	}

	if c.FeedFPS != nil && *c.FeedFPS <= 0 {
		return fmt.Errorf("feed_fps must be positive, got %f", *c.FeedFPS)
	}

	if c.RectW != nil && *c.RectW < 0 {
		return fmt.Errorf("rect_w must be non-negative, got %d", *c.RectW)
	}
	if c.RectH != nil && *c.RectH < 0 {
		return fmt.Errorf("rect_h must be non-negative, got %d", *c.RectH)
	}

	if c.TiltAngle != nil {
		if *c.TiltAngle < -90 || *c.TiltAngle > 90 {
			return fmt.Errorf("tilt_angle must be between -90 and 90, got %f", *c.TiltAngle)
		}
	}

	if c.Confidence != nil {
		if *c.Confidence <= 0 || *c.Confidence > 1 {
			return fmt.Errorf("confidence must be in (0, 1], got %f", *c.Confidence)
		}
	}

	if c.FlushInterval != nil && *c.FlushInterval != "" {
		d, err := time.ParseDuration(*c.FlushInterval)
		if err != nil {
			return fmt.Errorf("invalid flush_interval '%s': %w", *c.FlushInterval, err)
		}
		if d < 0 {
			return fmt.Errorf("flush_interval must be non-negative, got %s", d)
		}
	}

	if c.Timezone != nil && *c.Timezone != "" {
		if _, err := time.LoadLocation(*c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", *c.Timezone, err)
		}
	}

	return nil
}

// ParseUDPURL extracts host:port from a "udp://host:port" feed URL. A bare
// host:port is accepted as well.
func ParseUDPURL(raw string) (string, error) {
	addr := raw
	if i := strings.Index(raw, "://"); i >= 0 {
		if scheme := raw[:i]; scheme != "udp" {
			return "", fmt.Errorf("unsupported feed url scheme %q (want udp)", scheme)
		}
		addr = raw[i+3:]
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return "", fmt.Errorf("invalid feed url '%s': %w", raw, err)
	}
	return addr, nil
}

// GetURL returns the live feed URL or the default.
func (c *CounterConfig) GetURL() string {
	if c.URL == nil || *c.URL == "" {
		return DefaultURL // default
	}
	return *c.URL
}

// GetFeedFPS returns the live feed frame rate or the default.
func (c *CounterConfig) GetFeedFPS() float64 {
	if c.FeedFPS == nil {
		return DefaultFeedFPS // default
	}
	return *c.FeedFPS
}

// GetCSVPath returns the event log path or the default.
func (c *CounterConfig) GetCSVPath() string {
	if c.CSVPath == nil || *c.CSVPath == "" {
		return DefaultCSVPath // default
	}
	return *c.CSVPath
}

// GetDBPath returns the SQLite path. Empty disables the database sink.
func (c *CounterConfig) GetDBPath() string {
	if c.DBPath == nil {
		return ""
	}
	return *c.DBPath
}

// GetListen returns the HTTP listen address. Empty disables the server.
func (c *CounterConfig) GetListen() string {
	if c.Listen == nil {
		return ""
	}
	return *c.Listen
}

// GetTiltAngle returns the tilt in degrees or the default.
func (c *CounterConfig) GetTiltAngle() float64 {
	if c.TiltAngle == nil {
		return 0 // default
	}
	return *c.TiltAngle
}

// GetConfidence returns the detector confidence threshold or the default.
func (c *CounterConfig) GetConfidence() float64 {
	if c.Confidence == nil {
		return DefaultConfidence // default
	}
	return *c.Confidence
}

// GetMaxIdleFrames returns the track eviction limit or the default.
func (c *CounterConfig) GetMaxIdleFrames() int {
	if c.MaxIdleFrames == nil {
		return DefaultMaxIdleFrames // default
	}
	return *c.MaxIdleFrames
}

// GetFlushInterval parses and returns the FlushInterval as a time.Duration.
// Zero means flush after every frame with a change.
func (c *CounterConfig) GetFlushInterval() time.Duration {
	if c.FlushInterval == nil || *c.FlushInterval == "" {
		return 0 // default
	}
	d, err := time.ParseDuration(*c.FlushInterval)
	if err != nil || d < 0 {
		return 0 // default on parse error
	}
	return d
}

// GetLocation returns the location used for event log timestamps.
func (c *CounterConfig) GetLocation() *time.Location {
	if c.Timezone == nil || *c.Timezone == "" {
		return time.Local // default
	}
	loc, err := time.LoadLocation(*c.Timezone)
	if err != nil {
		return time.Local // default on parse error
	}
	return loc
}

// Rect returns the configured counting rectangle. It returns nil when no
// rectangle field is set, and nil with a warning when only some are, so the
// engine falls back to the frame-derived default.
func (c *CounterConfig) Rect() *region.Rect {
	set := 0
	for _, p := range []*int{c.RectX, c.RectY, c.RectW, c.RectH} {
		if p != nil {
			set++
		}
	}
	switch set {
	case 0:
		return nil
	case 4:
		return &region.Rect{X: *c.RectX, Y: *c.RectY, W: *c.RectW, H: *c.RectH}
	default:
		monitoring.Logf("config: rect_x, rect_y, rect_w and rect_h must all be set; using the default region")
		return nil
	}
}
