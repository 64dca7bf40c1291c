package batch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chaos-io/studio2webp/config"
	"github.com/chaos-io/studio2webp/studio"
	"github.com/chaos-io/studio2webp/util"
)

// Processor converts a single image. *studio.Compositor implements it.
type Processor interface {
	ProcessImage(ctx context.Context, inputPath, outputPath string) studio.Result
}

// Summary holds the counters of one run. Missing lists folders that were not found,
// Unreadable those that exist but could not be listed. Warned counts processed images
// whose Result carried warnings.
type Summary struct {
	Processed  int
	Failed     int
	Skipped    int
	Warned     int
	Missing    []string
	Unreadable []string
	Elapsed    time.Duration
}

type Driver struct {
	cfg    config.Config
	proc   Processor
	report *Reporter
	logger *slog.Logger
}

func NewDriver(cfg config.Config, proc Processor, report *Reporter, logger *slog.Logger) *Driver {
	if report == nil {
		report = NewReporter(os.Stdout)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		cfg:    cfg,
		proc:   proc,
		report: report,
		logger: logger,
	}
}

// Run processes every configured folder in order. A failing image never stops the run;
// the returned error is only set when ctx ends it early, in which case the summary holds
// the counters reached so far.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	defer util.Trace("batch run", "folders", len(d.cfg.Folders))()

	var sum Summary
	var err error
	for _, folder := range d.cfg.Folders {
		if err = d.runFolder(ctx, folder, &sum); err != nil {
			break
		}
	}

	sum.Elapsed = time.Since(start)
	d.report.Summary(sum, d.cfg.OutputRoot)
	d.logger.Info("stats", "processed", sum.Processed, "failed", sum.Failed, "skipped", sum.Skipped,
		"warned", sum.Warned, "missing", len(sum.Missing), "unreadable", len(sum.Unreadable), "elapsed", sum.Elapsed)
	return sum, err
}

func (d *Driver) outputDir(folder string) string {
	name := folder
	if d.cfg.SlugFolders {
		name = util.Slug(folder)
	}
	return filepath.Join(d.cfg.OutputRoot, name)
}

func (d *Driver) runFolder(ctx context.Context, folder string, sum *Summary) error {
	logger := d.logger.With("folder", folder)
	inputDir := filepath.Join(d.cfg.InputRoot, folder)

	ok, err := util.DirExists(inputDir)
	if err != nil {
		logger.Error("could not stat folder", "dir", inputDir, "error", err)
		d.report.UnreadableFolder(inputDir, err)
		sum.Unreadable = append(sum.Unreadable, folder)
		return nil
	}
	if !ok {
		d.report.MissingFolder(inputDir)
		sum.Missing = append(sum.Missing, folder)
		return nil
	}

	files, err := DiscoverImages(inputDir)
	if err != nil {
		logger.Error("could not list images", "error", err)
		d.report.UnreadableFolder(inputDir, err)
		sum.Unreadable = append(sum.Unreadable, folder)
		return nil
	}

	outDir := d.outputDir(folder)
	d.report.Folder(folder, len(files))

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		logger.Error("unable to create destination folder", "dir", outDir, "error", err)
		for i, in := range files {
			d.report.Start(i+1, len(files), in, OutputPath(outDir, in))
			d.report.Done(false)
		}
		sum.Failed += len(files)
		return nil
	}

	claimed := make(map[string]string, len(files))
	for i, in := range files {
		if err := ctx.Err(); err != nil {
			logger.Warn("run interrupted", "remaining", len(files)-i)
			return err
		}

		out := OutputPath(outDir, in)
		d.report.Start(i+1, len(files), in, out)

		if first, dup := claimed[out]; dup {
			logger.Error("output name already taken by another image", "file", in, "output", out, "taken_by", first)
			d.report.Done(false)
			sum.Failed++
			continue
		}
		claimed[out] = in

		if d.cfg.SkipExisting && util.FileExists(out) {
			d.report.Skipped()
			logger.Debug("output exists, skipping", "file", in, "output", out)
			sum.Skipped++
			continue
		}

		res := d.proc.ProcessImage(ctx, in, out)
		d.report.Done(res.Success())
		if !res.Success() {
			sum.Failed++
			continue
		}
		sum.Processed++
		if len(res.Warnings) > 0 {
			sum.Warned++
			for _, w := range res.Warnings {
				d.report.Warning(w)
			}
		}
	}
	return nil
}
