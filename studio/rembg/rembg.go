package rembg

import (
	"context"
	"image"
)

// MattingConfig is passed to every Segment call.
type MattingConfig struct {
	// AlphaMatting refines uncertain boundary pixels into graded alpha. When off, the raw
	// foreground confidence is used as alpha.
	AlphaMatting bool `yaml:"alpha_matting"`
	// ForegroundThreshold: confidence at or above it is certain foreground.
	ForegroundThreshold uint8 `yaml:"foreground_threshold"`
	// BackgroundThreshold: confidence at or below it is certain background.
	BackgroundThreshold uint8 `yaml:"background_threshold"`
	// ErodeSize shrinks both certain regions by this many pixels before refinement.
	ErodeSize int `yaml:"erode_size"`
}

func DefaultMatting() MattingConfig {
	return MattingConfig{
		AlphaMatting:        true,
		ForegroundThreshold: 240,
		BackgroundThreshold: 10,
		ErodeSize:           10,
	}
}

// Segmenter separates the subject of an encoded photo from its background. The result
// keeps the source dimensions; background pixels have alpha near 0, foreground near 255.
type Segmenter interface {
	Segment(ctx context.Context, raw []byte, cfg MattingConfig) (*image.NRGBA, error)
}
