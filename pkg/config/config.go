package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/ritzau/assetpipe/pkg/model"
	"github.com/ritzau/assetpipe/pkg/paths"
	"github.com/spf13/pflag"
)

// FileName is the optional project config file, looked up in the working directory
const FileName = "assetpipe.toml"

// EnvPrefix prefixes environment overrides (e.g., ASSETPIPE_PORT=9090)
const EnvPrefix = "ASSETPIPE_"

// Config holds all configuration for the application
type Config struct {
	Root       string        `koanf:"root"`
	Port       int           `koanf:"port"`
	Open       bool          `koanf:"open"`
	Debounce   time.Duration `koanf:"debounce"`
	Verbosity  string        `koanf:"verbosity"`
	VerboseCnt int           `koanf:"verbose"`
	LogJSON    bool          `koanf:"log-json"`

	Paths   map[string]paths.Spec `koanf:"paths"`
	Styles  StylesConfig          `koanf:"styles"`
	Scripts ScriptsConfig         `koanf:"scripts"`
	Images  ImagesConfig          `koanf:"images"`
	HTML    HTMLConfig            `koanf:"html"`
	Sync    SyncConfig            `koanf:"sync"`
}

// StylesConfig configures SCSS compilation and prefixing
type StylesConfig struct {
	Sass      string   `koanf:"sass"`       // sass executable
	LoadPaths []string `koanf:"load_paths"` // extra --load-path entries
	Targets   []string `koanf:"targets"`    // browser engines, e.g. "chrome120"
}

// ScriptsConfig configures the script bundle
type ScriptsConfig struct {
	Bundle    string `koanf:"bundle"`
	Sourcemap bool   `koanf:"sourcemap"`
}

// ImagesConfig configures image optimisation and WebP conversion
type ImagesConfig struct {
	JPEGQuality  int     `koanf:"jpeg_quality"`
	WebPQuality  float32 `koanf:"webp_quality"`
	WebPLossless bool    `koanf:"webp_lossless"`
}

// HTMLConfig configures include expansion
type HTMLConfig struct {
	Prefix string `koanf:"prefix"`
	Base   string `koanf:"base"`
	Minify bool   `koanf:"minify"`
}

// SyncConfig selects which categories remove stale outputs on source deletion
type SyncConfig struct {
	Categories []string `koanf:"categories"`
}

// Defaults returns the built-in configuration as a nested map
func Defaults() map[string]interface{} {
	pathDefaults := make(map[string]interface{})
	for category, spec := range paths.DefaultSpecs() {
		pathDefaults[string(category)] = map[string]interface{}{
			"src":  spec.Source,
			"dest": spec.Dest,
		}
	}

	return map[string]interface{}{
		"root":      ".",
		"port":      3000,
		"open":      true,
		"debounce":  "150ms",
		"verbosity": "",
		"verbose":   0,
		"log-json":  false,
		"paths":     pathDefaults,
		"styles": map[string]interface{}{
			"sass":       "sass",
			"load_paths": []string{},
			"targets":    []string{"chrome120", "edge120", "firefox121", "safari16", "ios16"},
		},
		"scripts": map[string]interface{}{
			"bundle":    "main.js",
			"sourcemap": false,
		},
		"images": map[string]interface{}{
			"jpeg_quality":  82,
			"webp_quality":  75.0,
			"webp_lossless": false,
		},
		"html": map[string]interface{}{
			"prefix": "@@",
			"base":   "src/templates",
			"minify": false,
		},
		"sync": map[string]interface{}{
			"categories": []string{string(model.CategoryImages)},
		},
	}
}

// Load loads configuration from defaults, config file, environment variables, and flags.
// Priority: Flags > Env > Config File > Defaults
func Load(f *pflag.FlagSet) (*Config, error) {
	return LoadFile(FileName, f)
}

// LoadFile is Load with an explicit config file path
func LoadFile(path string, f *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(makeMapProvider(Defaults()), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config File (optional)
	// A missing file is fine; one that fails to parse is not
	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	// 3. Environment Variables
	// Prefix: ASSETPIPE_ (e.g., ASSETPIPE_STYLES_SASS=/opt/sass)
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags
	if f != nil {
		if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// Unmarshal into struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// envKey maps ASSETPIPE_IMAGES_JPEG_QUALITY to images.jpeg_quality and
// ASSETPIPE_PATHS_STYLES_SRC to paths.styles.src
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if key == "log_json" {
		return "log-json"
	}
	if rest, ok := strings.CutPrefix(key, "paths_"); ok {
		return "paths." + strings.Replace(rest, "_", ".", 1)
	}
	for _, section := range []string{"styles", "scripts", "images", "html", "sync"} {
		if rest, ok := strings.CutPrefix(key, section+"_"); ok {
			return section + "." + rest
		}
	}
	return key
}

// Validate checks values that would otherwise fail deep inside a task
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Images.JPEGQuality < 1 || c.Images.JPEGQuality > 100 {
		return fmt.Errorf("images.jpeg_quality %d out of range 1-100", c.Images.JPEGQuality)
	}
	if c.Images.WebPQuality < 0 || c.Images.WebPQuality > 100 {
		return fmt.Errorf("images.webp_quality %g out of range 0-100", c.Images.WebPQuality)
	}
	if len(c.HTML.Prefix) == 0 {
		return fmt.Errorf("html.prefix must not be empty")
	}
	if _, err := c.SyncCategories(); err != nil {
		return err
	}
	return nil
}

// PathSpecs converts the configured path table into typed specs
func (c *Config) PathSpecs() (map[model.Category]paths.Spec, error) {
	specs := make(map[model.Category]paths.Spec, len(c.Paths))
	for name, spec := range c.Paths {
		category, err := model.ParseCategory(name)
		if err != nil {
			return nil, fmt.Errorf("paths: %w", err)
		}
		specs[category] = spec
	}
	return specs, nil
}

// SyncCategories returns the categories wired to the output sync policy
func (c *Config) SyncCategories() ([]model.Category, error) {
	out := make([]model.Category, 0, len(c.Sync.Categories))
	for _, name := range c.Sync.Categories {
		category, err := model.ParseCategory(name)
		if err != nil {
			return nil, fmt.Errorf("sync.categories: %w", err)
		}
		out = append(out, category)
	}
	return out, nil
}

// Helper to use map as a provider
type mapProvider struct {
	m map[string]interface{}
}

func makeMapProvider(m map[string]interface{}) *mapProvider {
	return &mapProvider{m: m}
}

func (p *mapProvider) Read() (map[string]interface{}, error) {
	return p.m, nil
}

func (p *mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}
