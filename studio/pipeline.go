package studio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/chaos-io/studio2webp/studio/rembg"
	"github.com/chaos-io/studio2webp/util"
)

// subjectThreshold is the alpha above which a pixel counts as part of the subject when
// checking that segmentation found anything at all.
const subjectThreshold = 128

const (
	WarnNoSubject   = "no subject found, output is an empty backdrop"
	WarnOpaqueMatte = "segmenter removed no background, output keeps the original backdrop"
)

type Options struct {
	Shadow  Shadow
	Quality int
	Matting rembg.MattingConfig
	// SegmentTimeout bounds one Segment call; zero means no deadline.
	SegmentTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		Shadow:  DefaultShadow(),
		Quality: DefaultQuality,
		Matting: rembg.DefaultMatting(),
	}
}

// Result is the outcome of one ProcessImage call. Kind and Err are empty on success.
// Warnings flag outputs that were written but are likely wrong.
type Result struct {
	Input    string
	Output   string
	Kind     ErrorKind
	Err      error
	Warnings []string
}

func (r Result) Success() bool {
	return r.Err == nil
}

// Compositor turns product photos into WebP images on a studio-white backdrop.
type Compositor struct {
	seg    rembg.Segmenter
	opts   Options
	logger *slog.Logger
}

func NewCompositor(seg rembg.Segmenter, opts Options, logger *slog.Logger) *Compositor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compositor{
		seg:    seg,
		opts:   opts,
		logger: logger,
	}
}

// RemoveBackground runs the segmenter with the configured matting settings.
func (c *Compositor) RemoveBackground(ctx context.Context, raw []byte) (*image.NRGBA, error) {
	if c.opts.SegmentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.SegmentTimeout)
		defer cancel()
	}

	matted, err := c.seg.Segment(ctx, raw, c.opts.Matting)
	if err == nil && matted == nil {
		err = errors.New("segmenter returned no image")
	}
	if err != nil {
		return nil, &OpError{Op: "studio.remove_background", Kind: KindSegmentation, Err: err}
	}
	return matted, nil
}

// Render runs the in-memory part of the pipeline: segmentation, compositing and encoding.
func (c *Compositor) Render(ctx context.Context, raw []byte) ([]byte, error) {
	data, _, err := c.render(ctx, raw)
	return data, err
}

func (c *Compositor) render(ctx context.Context, raw []byte) ([]byte, []string, error) {
	matted, err := c.RemoveBackground(ctx, raw)
	if err != nil {
		return nil, nil, err
	}

	var warnings []string
	switch bbox, ok := rembg.SubjectBounds(matted, subjectThreshold); {
	case !ok:
		warnings = append(warnings, WarnNoSubject)
	case rembg.IsOpaque(matted):
		warnings = append(warnings, WarnOpaqueMatte)
	default:
		c.logger.Debug("subject found", "bounds", bbox.String())
	}

	composite := Composite(matted, c.opts.Shadow)

	var buf bytes.Buffer
	if err := Encode(&buf, composite, c.opts.Quality); err != nil {
		return nil, nil, &OpError{Op: "studio.encode", Kind: KindEncode, Err: err}
	}
	return buf.Bytes(), warnings, nil
}

// ProcessImage reads inputPath, renders it and atomically writes the WebP result to
// outputPath. Failures are logged and returned in the Result; nothing is written on failure.
func (c *Compositor) ProcessImage(ctx context.Context, inputPath, outputPath string) (res Result) {
	res = Result{Input: inputPath, Output: outputPath}
	logger := c.logger.With("file", inputPath)
	defer util.Trace("process image", "file", inputPath)()

	defer func() {
		if r := recover(); r != nil {
			res.Err = &OpError{Op: "studio.process", Kind: KindUnexpected, Path: inputPath, Err: fmt.Errorf("panic: %v", r)}
		}
		if res.Err != nil {
			res.Kind = KindOf(res.Err)
			logger.Error("could not process image", "kind", res.Kind, "error", res.Err)
		}
	}()

	res.Warnings, res.Err = c.process(ctx, inputPath, outputPath)
	for _, w := range res.Warnings {
		logger.Warn(w)
	}
	return res
}

func (c *Compositor) process(ctx context.Context, inputPath, outputPath string) ([]string, error) {
	raw, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, &OpError{Op: "studio.read", Kind: KindIO, Path: inputPath, Err: err}
	}

	data, warnings, err := c.render(ctx, raw)
	if err != nil {
		var oe *OpError
		if errors.As(err, &oe) {
			oe.Path = inputPath
		}
		return nil, err
	}

	err = util.WriteFileAtomic(outputPath, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return nil, &OpError{Op: "studio.write", Kind: KindIO, Path: outputPath, Err: err}
	}
	return warnings, nil
}
