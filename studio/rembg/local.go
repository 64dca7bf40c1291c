package rembg

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/nfnt/resize"
)

// DefaultWorkingSize is the longest edge the local matte is solved at.
const DefaultWorkingSize = 1024

// Local segments in-process. It traces the backdrop inward from the image border through
// smooth color changes, which suits product shots against a plain sweep, including uneven
// lighting on it. Busy or textured backgrounds need the rembg Server.
type Local struct {
	// WorkingSize caps the longest edge used while solving the matte; the alpha is scaled
	// back to the source size afterwards. Zero solves at full resolution.
	WorkingSize int
}

func NewLocal(workingSize int) *Local {
	return &Local{WorkingSize: workingSize}
}

func (l *Local) Segment(ctx context.Context, raw []byte, cfg MattingConfig) (*image.NRGBA, error) {
	src, err := decode(raw)
	if err != nil {
		return nil, err
	}
	w, h := src.Rect.Dx(), src.Rect.Dy()

	work, scale := l.workingCopy(src)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bg := fitBackdrop(work)
	conf := confidence(work, bg)

	alpha := conf
	if cfg.AlphaMatting {
		erode := int(math.Round(float64(cfg.ErodeSize) * scale))
		tri := buildTrimap(conf, cfg.ForegroundThreshold, cfg.BackgroundThreshold, erode)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		alpha = solveAlpha(work, conf, tri, max(3, 2*erode+2))
	}

	if work != src {
		alpha = toGray(resize.Resize(uint(w), uint(h), alpha, resize.Bilinear))
		if alpha.Rect.Dx() != w || alpha.Rect.Dy() != h {
			return nil, fmt.Errorf("could not scale matte to %dx%d", w, h)
		}
	}

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	copy(out.Pix, src.Pix)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Pix[y*out.Stride+x*4+3] = alpha.Pix[y*alpha.Stride+x]
		}
	}
	return out, nil
}

// workingCopy 缩放（最长边 <= WorkingSize）
func (l *Local) workingCopy(src *image.NRGBA) (*image.NRGBA, float64) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	longest := max(w, h)
	if l.WorkingSize <= 0 || longest <= l.WorkingSize {
		return src, 1
	}

	scale := float64(l.WorkingSize) / float64(longest)
	newW := max(1, int(float64(w)*scale))
	newH := max(1, int(float64(h)*scale))

	return ToNRGBA(resize.Resize(uint(newW), uint(newH), src, resize.Lanczos3)), scale
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			g.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return g
}
