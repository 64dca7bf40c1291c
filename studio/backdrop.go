package studio

import (
	"image"
	"math"
)

// Shadow describes the grounding gradient along the bottom of the backdrop.
type Shadow struct {
	// Fraction of the image height covered by the gradient band.
	Fraction float64 `yaml:"fraction"`
	// MaxDarken is how far below 255 the last band row approaches.
	MaxDarken float64 `yaml:"max_darken"`
}

func DefaultShadow() Shadow {
	return Shadow{Fraction: 0.08, MaxDarken: 6}
}

// BandHeight returns the number of gradient rows for an image of the given height.
func (s Shadow) BandHeight(height int) int {
	band := int(float64(height) * s.Fraction)
	return min(max(band, 0), height)
}

// SynthesizeBackdrop 生成纯白背景，底部 shadow.Fraction 高度内做一条
// 从 255 线性过渡到 255-MaxDarken 的灰色渐变，作为接地阴影
func SynthesizeBackdrop(width, height int, shadow Shadow) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}

	band := shadow.BandHeight(height)
	if band < 1 {
		return img
	}

	start := height - band
	for y := start; y < height; y++ {
		ratio := float64(y-start) / float64(band)
		v := math.Round(255 - shadow.MaxDarken*ratio)
		gray := uint8(math.Max(0, math.Min(255, v)))

		row := img.Pix[y*img.Stride : y*img.Stride+width*4]
		for i := 0; i < len(row); i += 4 {
			row[i], row[i+1], row[i+2] = gray, gray, gray
		}
	}
	return img
}
