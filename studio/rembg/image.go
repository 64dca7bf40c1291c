package rembg

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var errEmptyImage = errors.New("image has no pixels")

func decode(raw []byte) (*image.NRGBA, error) {
	if len(raw) == 0 {
		return nil, errEmptyImage
	}
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("could not decode image: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("could not use %s image: %w", format, errEmptyImage)
	}
	return ToNRGBA(img), nil
}

// ToNRGBA converts img to straight-alpha NRGBA anchored at the origin.
func ToNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Rect.Min == (image.Point{}) {
		return nrgba
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// IsOpaque reports whether every pixel of img is fully opaque, i.e. the segmenter left
// the original background in place.
func IsOpaque(img *image.NRGBA) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X-1, y)+4]
		for i := 3; i < len(row); i += 4 {
			if row[i] != 0xff {
				return false
			}
		}
	}
	return true
}

// SubjectBounds 从 alpha 通道计算主体 bounding box
// alpha > threshold 的像素视为主体；没有主体时 ok 为 false
func SubjectBounds(img *image.NRGBA, threshold uint8) (bbox image.Rectangle, ok bool) {
	b := img.Bounds()
	minX, minY := b.Max.X, b.Max.Y
	maxX, maxY := b.Min.X, b.Min.Y

	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.PixOffset(b.Min.X, y)
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.Pix[row+(x-b.Min.X)*4+3] <= threshold {
				continue
			}
			ok = true
			minX, minY = min(minX, x), min(minY, y)
			maxX, maxY = max(maxX, x), max(maxY, y)
		}
	}

	if !ok {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}
