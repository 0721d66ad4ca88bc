package asyncrender

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Swind/go-async-render/core"
	"github.com/Swind/go-async-render/render"
)

// Config holds the demo settings. Zero fields fall back to DefaultConfig.
//
// Example TOML:
//
//	log_level = "debug"
//	start_timeout = "10s"
//
//	[[surfaces]]
//	id = "#canvas"
//	width = 800
//	height = 600
//
//	[mesh]
//	grid_x = 4
//	grid_y = 4
//	grid_z = 4
type Config struct {
	// Surfaces is the default surface list, used when New gets an empty id.
	Surfaces []render.SurfaceSpec `toml:"surfaces"`
	Mesh     render.MeshSpec      `toml:"mesh"`
	Style    StyleConfig          `toml:"style"`

	// AbortCheckInterval is how many points the clip pass processes between
	// checks of the abort signal.
	AbortCheckInterval int `toml:"abort_check_interval"`

	// IdleTick bounds how long a thread loop sleeps without work.
	IdleTick time.Duration `toml:"idle_tick"`

	// StartTimeout bounds how long Start waits for the render thread.
	StartTimeout time.Duration `toml:"start_timeout"`

	// HistoryCapacity is the number of task executions kept for RecentTasks.
	HistoryCapacity int `toml:"history_capacity"`

	LogLevel         string `toml:"log_level"`
	MetricsNamespace string `toml:"metrics_namespace"`
}

// StyleConfig holds the raster colors as hex strings.
type StyleConfig struct {
	Background  string `toml:"background"`
	PointColor  string `toml:"point_color"`
	NormalColor string `toml:"normal_color"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	pc := render.DefaultConfig()
	return Config{
		Surfaces: []render.SurfaceSpec{
			{ID: "#canvas", Width: render.DefaultSurfaceWidth, Height: render.DefaultSurfaceHeight},
		},
		Mesh: pc.Mesh,
		Style: StyleConfig{
			Background:  pc.Background,
			PointColor:  pc.PointColor,
			NormalColor: pc.NormalColor,
		},
		AbortCheckInterval: pc.AbortCheckInterval,
		IdleTick:           50 * time.Millisecond,
		StartTimeout:       30 * time.Second,
		HistoryCapacity:    core.DefaultDispatcherConfig().HistoryCapacity,
		LogLevel:           "info",
		MetricsNamespace:   "asyncrender",
	}
}

// LoadConfig reads a TOML file over DefaultConfig. Unknown keys are an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("asyncrender: load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("asyncrender: unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings that cannot be defaulted.
func (c Config) Validate() error {
	var errs []error
	for _, s := range c.Surfaces {
		if err := s.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.Mesh.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.AbortCheckInterval < 0 {
		errs = append(errs, fmt.Errorf("asyncrender: abort_check_interval must not be negative"))
	}
	if c.IdleTick < 0 || c.StartTimeout < 0 {
		errs = append(errs, fmt.Errorf("asyncrender: durations must not be negative"))
	}
	if c.LogLevel != "" {
		if _, err := core.ParseLevel(c.LogLevel); err != nil {
			errs = append(errs, fmt.Errorf("asyncrender: log_level: %w", err))
		}
	}
	return errors.Join(errs...)
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Surfaces == nil {
		c.Surfaces = def.Surfaces
	}
	if c.Mesh == (render.MeshSpec{}) {
		c.Mesh = def.Mesh
	}
	if c.Style.Background == "" {
		c.Style.Background = def.Style.Background
	}
	if c.Style.PointColor == "" {
		c.Style.PointColor = def.Style.PointColor
	}
	if c.Style.NormalColor == "" {
		c.Style.NormalColor = def.Style.NormalColor
	}
	if c.AbortCheckInterval == 0 {
		c.AbortCheckInterval = def.AbortCheckInterval
	}
	if c.IdleTick == 0 {
		c.IdleTick = def.IdleTick
	}
	if c.StartTimeout == 0 {
		c.StartTimeout = def.StartTimeout
	}
	if c.HistoryCapacity == 0 {
		c.HistoryCapacity = def.HistoryCapacity
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.MetricsNamespace == "" {
		c.MetricsNamespace = def.MetricsNamespace
	}
	return c
}

func (c Config) pipelineConfig() render.Config {
	pc := render.DefaultConfig()
	pc.Mesh = c.Mesh
	pc.AbortCheckInterval = c.AbortCheckInterval
	pc.Background = c.Style.Background
	pc.PointColor = c.Style.PointColor
	pc.NormalColor = c.Style.NormalColor
	return pc
}
