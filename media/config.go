package media

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Default pipeline settings.
var (
	DefaultBreakpoints = []int{480, 768, 1024, 1440, 1920}
	DefaultFormats     = []string{"avif", "webp"}
)

const (
	defaultQuality            = 80
	defaultEffort             = 4
	defaultPlaceholderSize    = 20
	defaultPlaceholderQuality = 20
	defaultMaxPixels          = 50_000_000
	defaultPublicPath         = "/images/optimized"
)

// Config holds the settings for one optimization run.
type Config struct {
	InputDir     string `yaml:"input_dir"`
	OutputDir    string `yaml:"output_dir"`
	ManifestPath string `yaml:"manifest_path"`
	PublicPath   string `yaml:"public_path"` // URL prefix for generated files

	Breakpoints   []int          `yaml:"breakpoints"`
	Formats       []string       `yaml:"formats"`
	PrimaryFormat string         `yaml:"primary_format"` // format used for src (default "webp")
	Quality       map[string]int `yaml:"quality"`
	Effort        int            `yaml:"effort"` // 1 (fast) .. 9 (slow); 0 means the default, 4

	Placeholder PlaceholderConfig `yaml:"placeholder"`

	// Prune removes manifest entries whose source no longer exists.
	Prune bool `yaml:"prune"`
	// Workers > 1 processes assets in parallel.
	Workers int `yaml:"workers"`
	// MaxPixels rejects sources with more pixels before they are decoded.
	MaxPixels int `yaml:"max_pixels"`
}

// PlaceholderConfig controls the inline blur preview.
type PlaceholderConfig struct {
	Size    int    `yaml:"size"`
	Quality int    `yaml:"quality"`
	Format  string `yaml:"format"`
}

// LoadConfig reads a YAML config file. Missing fields get defaults.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SetDefaults fills zero-valued fields.
func (c *Config) SetDefaults() {
	if c.InputDir == "" {
		c.InputDir = "assets/raw"
	}
	if c.OutputDir == "" {
		c.OutputDir = "public/images/optimized"
	}
	if c.ManifestPath == "" {
		c.ManifestPath = "data/media/manifest.json"
	}
	if c.PublicPath == "" {
		c.PublicPath = defaultPublicPath
	}
	if len(c.Breakpoints) == 0 {
		c.Breakpoints = slices.Clone(DefaultBreakpoints)
	}
	if len(c.Formats) == 0 {
		c.Formats = slices.Clone(DefaultFormats)
	}
	if c.PrimaryFormat == "" {
		c.PrimaryFormat = "webp"
	}
	if c.Quality == nil {
		c.Quality = make(map[string]int)
	}
	for _, f := range c.Formats {
		if c.Quality[f] == 0 {
			c.Quality[f] = defaultQuality
		}
	}
	if c.Effort == 0 {
		c.Effort = defaultEffort
	}
	if c.Placeholder.Size == 0 {
		c.Placeholder.Size = defaultPlaceholderSize
	}
	if c.Placeholder.Quality == 0 {
		c.Placeholder.Quality = defaultPlaceholderQuality
	}
	if c.Placeholder.Format == "" {
		c.Placeholder.Format = "webp"
	}
	if c.Workers == 0 {
		c.Workers = 1
	}
	if c.MaxPixels == 0 {
		c.MaxPixels = defaultMaxPixels
	}
	slices.Sort(c.Breakpoints)
	c.Breakpoints = slices.Compact(c.Breakpoints)
}

// Validate checks that the config describes a runnable pipeline.
func (c *Config) Validate() error {
	for _, b := range c.Breakpoints {
		if b <= 0 {
			return fmt.Errorf("breakpoint %d must be positive", b)
		}
	}
	for _, f := range c.Formats {
		if _, ok := builtinEncoders[f]; !ok {
			return fmt.Errorf("format %q: %w", f, ErrUnsupportedFormat)
		}
		if q := c.Quality[f]; q < 1 || q > 100 {
			return fmt.Errorf("quality for %s must be in 1..100, got %d", f, q)
		}
	}
	if !slices.Contains(c.Formats, c.PrimaryFormat) {
		return fmt.Errorf("primary_format %q is not one of formats %v", c.PrimaryFormat, c.Formats)
	}
	if _, ok := builtinEncoders[c.Placeholder.Format]; !ok {
		return fmt.Errorf("placeholder format %q: %w", c.Placeholder.Format, ErrUnsupportedFormat)
	}
	if c.Placeholder.Size < 1 {
		return fmt.Errorf("placeholder size must be positive, got %d", c.Placeholder.Size)
	}
	if q := c.Placeholder.Quality; q < 1 || q > 100 {
		return fmt.Errorf("placeholder quality must be in 1..100, got %d", q)
	}
	if c.Effort < 1 || c.Effort > 9 {
		return fmt.Errorf("effort must be in 1..9, got %d", c.Effort)
	}
	if c.MaxPixels < 1 {
		return fmt.Errorf("max_pixels must be positive, got %d", c.MaxPixels)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	return nil
}
