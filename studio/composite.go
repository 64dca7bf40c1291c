package studio

import (
	"image"
)

// Composite pastes matted over a freshly synthesized backdrop of the same size using
// its alpha as the mask, and returns an opaque RGB raster.
func Composite(matted *image.NRGBA, shadow Shadow) *image.RGBA {
	b := matted.Bounds()
	w, h := b.Dx(), b.Dy()
	out := SynthesizeBackdrop(w, h, shadow)

	for y := 0; y < h; y++ {
		src := matted.Pix[matted.PixOffset(b.Min.X, b.Min.Y+y):]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < w; x++ {
			i := x * 4
			a := uint32(src[i+3])
			switch a {
			case 0:
				continue
			case 0xff:
				dst[i], dst[i+1], dst[i+2] = src[i], src[i+1], src[i+2]
				continue
			}
			for c := 0; c < 3; c++ {
				dst[i+c] = uint8((a*uint32(src[i+c]) + (0xff-a)*uint32(dst[i+c]) + 0x7f) / 0xff)
			}
		}
	}
	return out
}
