package batch

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chaos-io/studio2webp/config"
	"github.com/chaos-io/studio2webp/studio"
	"github.com/chaos-io/studio2webp/studio/rembg"
	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/webp"
)

func writeJPEG(t *testing.T, path string) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 48, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 48; x++ {
			c := color.RGBA{R: 245, G: 245, B: 245, A: 255}
			if x >= 14 && x < 34 && y >= 10 && y < 30 {
				c = color.RGBA{R: 150, G: 40, B: 30, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92}))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func testConfig(root string, folders ...string) config.Config {
	cfg := config.Default()
	cfg.InputRoot = filepath.Join(root, "in")
	cfg.OutputRoot = filepath.Join(root, "out")
	cfg.Folders = folders
	return cfg
}

func newTestDriver(cfg config.Config, proc Processor) (*Driver, *bytes.Buffer) {
	var out bytes.Buffer
	return NewDriver(cfg, proc, NewReporter(&out), nil), &out
}

// fakeProcessor writes a marker file for every input not listed in fail.
type fakeProcessor struct {
	fail  map[string]bool
	warn  map[string]bool
	calls []string
	after func()
}

func (p *fakeProcessor) ProcessImage(_ context.Context, in, out string) studio.Result {
	p.calls = append(p.calls, in)
	if p.after != nil {
		defer p.after()
	}
	res := studio.Result{Input: in, Output: out}
	if p.fail[filepath.Base(in)] {
		res.Kind, res.Err = studio.KindSegmentation, errors.New("segmentation failed")
		return res
	}
	if err := os.WriteFile(out, []byte("webp"), 0o644); err != nil {
		res.Kind, res.Err = studio.KindIO, err
		return res
	}
	if p.warn[filepath.Base(in)] {
		res.Warnings = []string{studio.WarnOpaqueMatte}
	}
	return res
}

func TestDriver_RunEndToEnd(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg := testConfig(root, "cups")
	dir := filepath.Join(cfg.InputRoot, "cups")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	for _, name := range []string{"a.jpg", "b.jpeg", "c.JPG"} {
		writeJPEG(t, filepath.Join(dir, name))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "d.jpg"), []byte("not a jpeg"), 0o644))

	comp := studio.NewCompositor(rembg.NewLocal(32), cfg.StudioOptions(), nil)
	d, report := newTestDriver(cfg, comp)

	sum, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 1, sum.Failed)
	assert.Zero(t, sum.Skipped)

	outDir := filepath.Join(cfg.OutputRoot, "cups")
	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, name := range []string{"a.webp", "b.webp", "c.webp"} {
		f, err := os.Open(filepath.Join(outDir, name))
		require.NoError(t, err)
		img, err := webp.Decode(f)
		_ = f.Close()
		require.NoError(t, err, name)
		assert.Equal(t, image.Rect(0, 0, 48, 40), img.Bounds())
	}
	assert.NoFileExists(t, filepath.Join(outDir, "d.webp"))

	text := report.String()
	assert.Contains(t, text, "Processing cups: 4 images")
	assert.Contains(t, text, "[4/4] d.jpg -> d.webp... FAILED")
	assert.Contains(t, text, "[1/4] a.jpg -> a.webp... OK")
	assert.Contains(t, text, "Completed: 3 processed, 1 failed")
	assert.Contains(t, text, "Output folder: "+cfg.OutputRoot)

	// same inputs, same counters
	again, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sum.Processed, again.Processed)
	assert.Equal(t, sum.Failed, again.Failed)
}

func TestDriver_MissingFolder(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg := testConfig(root, "vases", "cups")
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.InputRoot, "cups"), 0o755))
	writeJPEG(t, filepath.Join(cfg.InputRoot, "cups", "one.jpg"))

	proc := &fakeProcessor{}
	d, report := newTestDriver(cfg, proc)

	sum, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)
	assert.Zero(t, sum.Failed)
	assert.Equal(t, []string{"vases"}, sum.Missing)
	assert.NoDirExists(t, filepath.Join(cfg.OutputRoot, "vases"))
	assert.Contains(t, report.String(), "Folder not found: "+filepath.Join(cfg.InputRoot, "vases"))
}

func TestDriver_OnlyMissingFolders(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t.TempDir(), "ghost")
	d, _ := newTestDriver(cfg, &fakeProcessor{})

	sum, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Processed)
	assert.Zero(t, sum.Failed)
	assert.NoDirExists(t, cfg.OutputRoot)
}

func TestDriver_FailureContained(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg := testConfig(root, "wine glass")
	dir := filepath.Join(cfg.InputRoot, "wine glass")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range []string{"1.jpg", "2.jpg", "3.jpg"} {
		writeJPEG(t, filepath.Join(dir, name))
	}

	proc := &fakeProcessor{fail: map[string]bool{"2.jpg": true}}
	d, _ := newTestDriver(cfg, proc)

	sum, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, 1, sum.Failed)
	assert.Len(t, proc.calls, 3)
	assert.FileExists(t, filepath.Join(cfg.OutputRoot, "wine glass", "3.webp"))
}

func TestDriver_SlugFolders(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg := testConfig(root, "Wine Server")
	cfg.SlugFolders = true
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.InputRoot, "Wine Server"), 0o755))
	writeJPEG(t, filepath.Join(cfg.InputRoot, "Wine Server", "x.jpg"))

	d, _ := newTestDriver(cfg, &fakeProcessor{})
	sum, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)
	assert.FileExists(t, filepath.Join(cfg.OutputRoot, "wine-server", "x.webp"))
}

func TestDriver_SkipExisting(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg := testConfig(root, "cups")
	cfg.SkipExisting = true
	in := filepath.Join(cfg.InputRoot, "cups")
	require.NoError(t, os.MkdirAll(in, 0o755))
	writeJPEG(t, filepath.Join(in, "a.jpg"))
	writeJPEG(t, filepath.Join(in, "b.jpg"))

	out := filepath.Join(cfg.OutputRoot, "cups")
	require.NoError(t, os.MkdirAll(out, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(out, "a.webp"), []byte("old"), 0o644))

	proc := &fakeProcessor{}
	d, report := newTestDriver(cfg, proc)

	sum, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, []string{filepath.Join(in, "b.jpg")}, proc.calls)
	assert.Contains(t, report.String(), "a.jpg -> a.webp... SKIPPED")
	assert.Contains(t, report.String(), "Completed: 1 processed, 0 failed, 1 skipped")
}

func TestDriver_Cancelled(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg := testConfig(root, "cups", "lamps")
	for _, f := range cfg.Folders {
		dir := filepath.Join(cfg.InputRoot, f)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		writeJPEG(t, filepath.Join(dir, "1.jpg"))
		writeJPEG(t, filepath.Join(dir, "2.jpg"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc := &fakeProcessor{after: cancel}
	d, _ := newTestDriver(cfg, proc)

	sum, err := d.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sum.Processed)
	assert.Len(t, proc.calls, 1)
}

func TestDriver_OutputFolderUnwritable(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg := testConfig(root, "cups")
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.InputRoot, "cups"), 0o755))
	writeJPEG(t, filepath.Join(cfg.InputRoot, "cups", "a.jpg"))
	writeJPEG(t, filepath.Join(cfg.InputRoot, "cups", "b.jpg"))

	// a regular file where the output root should be
	require.NoError(t, os.WriteFile(cfg.OutputRoot, []byte("x"), 0o644))

	proc := &fakeProcessor{}
	d, report := newTestDriver(cfg, proc)

	sum, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Processed)
	assert.Equal(t, 2, sum.Failed)
	assert.Empty(t, proc.calls)
	assert.Equal(t, 2, strings.Count(report.String(), "FAILED"))
}

func TestDriver_UnreadableFolder(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg := testConfig(root, "cups")
	// stat of <file>/cups fails with ENOTDIR rather than not-exist
	require.NoError(t, os.WriteFile(cfg.InputRoot, []byte("x"), 0o644))

	d, report := newTestDriver(cfg, &fakeProcessor{})
	sum, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sum.Missing)
	assert.Equal(t, []string{"cups"}, sum.Unreadable)
	assert.Zero(t, sum.Processed)
	assert.Zero(t, sum.Failed)
	assert.Contains(t, report.String(), "Folder not readable: "+filepath.Join(cfg.InputRoot, "cups"))
	assert.NotContains(t, report.String(), "Folder not found")
}

func TestDriver_OutputNameCollision(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg := testConfig(root, "cups")
	dir := filepath.Join(cfg.InputRoot, "cups")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range []string{"mug.jpg", "mug.jpeg", "mug.JPG", "jug.jpg"} {
		writeJPEG(t, filepath.Join(dir, name))
	}

	proc := &fakeProcessor{}
	d, report := newTestDriver(cfg, proc)

	sum, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, []string{filepath.Join(dir, "jug.jpg"), filepath.Join(dir, "mug.JPG")}, proc.calls)
	assert.Contains(t, report.String(), "mug.jpeg -> mug.webp... FAILED")
	assert.Contains(t, report.String(), "mug.jpg -> mug.webp... FAILED")

	entries, err := os.ReadDir(filepath.Join(cfg.OutputRoot, "cups"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestDriver_Warnings(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg := testConfig(root, "cups")
	dir := filepath.Join(cfg.InputRoot, "cups")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	writeJPEG(t, filepath.Join(dir, "a.jpg"))
	writeJPEG(t, filepath.Join(dir, "b.jpg"))

	d, report := newTestDriver(cfg, &fakeProcessor{warn: map[string]bool{"b.jpg": true}})
	sum, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, 1, sum.Warned)
	assert.Contains(t, report.String(), "b.jpg -> b.webp... OK\n      warning: "+studio.WarnOpaqueMatte)
	assert.Contains(t, report.String(), "Completed: 2 processed, 0 failed, 1 with warnings")
}

func TestDiscoverImages(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	names := []string{"b.jpg", "photo.JPEG", "a.jpeg", "notes.txt", "scan.png", "c.Jpg", ksuid.New().String() + ".webp"}
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested.jpg"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "deep.jpg"), nil, 0o644))

	files, err := DiscoverImages(dir)
	require.NoError(t, err)

	var got []string
	for _, f := range files {
		got = append(got, filepath.Base(f))
	}
	assert.Equal(t, []string{"a.jpeg", "b.jpg", "c.Jpg", "photo.JPEG"}, got)

	_, err = DiscoverImages(filepath.Join(dir, "missing"))
	assert.ErrorContains(t, err, "unable to read folder")
}

func TestOutputPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, filepath.Join("out", "cups", "mug.webp"), OutputPath(filepath.Join("out", "cups"), "/in/cups/mug.JPG"))
	assert.Equal(t, filepath.Join("o", "v1.2.webp"), OutputPath("o", "v1.2.jpeg"))
}
