package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chaos-io/studio2webp/studio"
	"github.com/chaos-io/studio2webp/studio/rembg"
	"github.com/chaos-io/studio2webp/util"
	"gopkg.in/yaml.v3"
)

const (
	SegmenterLocal = "local"
	SegmenterRembg = "rembg"
)

type Segmenter struct {
	Kind string `yaml:"kind"`
	// URL and Model only apply to the rembg segmenter.
	URL         string        `yaml:"url"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	WorkingSize int           `yaml:"working_size"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	InputRoot  string              `yaml:"input_root"`
	OutputRoot string              `yaml:"output_root"`
	Folders    []string            `yaml:"folders"`
	Shadow     studio.Shadow       `yaml:"shadow"`
	Quality    int                 `yaml:"quality"`
	Matting    rembg.MattingConfig `yaml:"matting"`
	Segmenter  Segmenter           `yaml:"segmenter"`
	// SegmentTimeout bounds the segmentation of a single image; zero disables it.
	SegmentTimeout time.Duration `yaml:"segment_timeout"`
	SlugFolders    bool          `yaml:"slug_folders"`
	SkipExisting   bool          `yaml:"skip_existing"`
	Log            Log           `yaml:"log"`
}

func Default() Config {
	return Config{
		InputRoot:  "images_original",
		OutputRoot: "images",
		Folders:    []string{"cups", "wine glass", "wine server", "Gramophone"},
		Shadow:     studio.DefaultShadow(),
		Quality:    studio.DefaultQuality,
		Matting:    rembg.DefaultMatting(),
		Segmenter: Segmenter{
			Kind:        SegmenterLocal,
			URL:         rembg.DefaultServerURL,
			Timeout:     2 * time.Minute,
			WorkingSize: rembg.DefaultWorkingSize,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML config file on top of Default. Keys missing from the file keep
// their default values.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("could not read config %q: %w", path, err)
	}

	cfg, err := Parse(b)
	if err != nil {
		return Config{}, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return cfg, nil
}

func Parse(b []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	return cfg, nil
}

// StudioOptions maps the config onto the per-image pipeline options.
func (c Config) StudioOptions() studio.Options {
	return studio.Options{
		Shadow:         c.Shadow,
		Quality:        c.Quality,
		Matting:        c.Matting,
		SegmentTimeout: c.SegmentTimeout,
	}
}

func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.InputRoot) == "" {
		errs = append(errs, errors.New("input_root is required"))
	}
	if strings.TrimSpace(c.OutputRoot) == "" {
		errs = append(errs, errors.New("output_root is required"))
	}
	if len(c.Folders) == 0 {
		errs = append(errs, errors.New("at least one folder is required"))
	}
	for i, f := range c.Folders {
		if strings.TrimSpace(f) == "" || strings.ContainsAny(f, `/\`) || f == "." || f == ".." {
			errs = append(errs, fmt.Errorf("folders[%d]: invalid folder name %q", i, f))
		}
	}

	if c.Shadow.Fraction < 0 || c.Shadow.Fraction > 1 {
		errs = append(errs, fmt.Errorf("shadow.fraction must be within [0, 1], got %v", c.Shadow.Fraction))
	}
	if c.Shadow.MaxDarken < 0 || c.Shadow.MaxDarken > 255 {
		errs = append(errs, fmt.Errorf("shadow.max_darken must be within [0, 255], got %v", c.Shadow.MaxDarken))
	}
	if c.Quality < 0 || c.Quality > 100 {
		errs = append(errs, fmt.Errorf("quality must be within [0, 100], got %d", c.Quality))
	}
	if c.Matting.ForegroundThreshold <= c.Matting.BackgroundThreshold {
		errs = append(errs, fmt.Errorf("matting.foreground_threshold (%d) must be above matting.background_threshold (%d)",
			c.Matting.ForegroundThreshold, c.Matting.BackgroundThreshold))
	}
	if c.Matting.ErodeSize < 0 {
		errs = append(errs, fmt.Errorf("matting.erode_size must not be negative, got %d", c.Matting.ErodeSize))
	}
	if c.SegmentTimeout < 0 {
		errs = append(errs, fmt.Errorf("segment_timeout must not be negative, got %s", c.SegmentTimeout))
	}

	switch c.Segmenter.Kind {
	case SegmenterLocal:
		if c.Segmenter.WorkingSize < 0 {
			errs = append(errs, fmt.Errorf("segmenter.working_size must not be negative, got %d", c.Segmenter.WorkingSize))
		}
	case SegmenterRembg:
		if strings.TrimSpace(c.Segmenter.URL) == "" {
			errs = append(errs, errors.New("segmenter.url is required for the rembg segmenter"))
		}
		if c.Segmenter.Timeout < 0 {
			errs = append(errs, fmt.Errorf("segmenter.timeout must not be negative, got %s", c.Segmenter.Timeout))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported segmenter %q", c.Segmenter.Kind))
	}

	if _, err := util.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unsupported log format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
