package studio

import (
	"fmt"
	"image"
	"io"

	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
)

const DefaultQuality = 90

// Encode writes img as lossy WebP at the given quality (0-100).
func Encode(w io.Writer, img image.Image, quality int) error {
	if quality < 0 || quality > 100 {
		return fmt.Errorf("invalid webp quality %d, want 0-100", quality)
	}

	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, float32(quality))
	if err != nil {
		return fmt.Errorf("could not build webp options: %w", err)
	}
	if err := webp.Encode(w, img, options); err != nil {
		return fmt.Errorf("could not encode webp: %w", err)
	}
	return nil
}
