package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/chaos-io/studio2webp/batch"
	"github.com/chaos-io/studio2webp/config"
	"github.com/chaos-io/studio2webp/studio"
	"github.com/chaos-io/studio2webp/studio/rembg"
	"github.com/chaos-io/studio2webp/util"
	"github.com/segmentio/ksuid"
)

type CLICmd struct {
	Config       string   `help:"YAML config file. Flags override its values." type:"existingfile"`
	Input        string   `help:"Root folder holding one sub-folder per product category"`
	Output       string   `help:"Root folder for the converted WebP images"`
	Folder       []string `help:"Category folder to process (repeatable). Replaces the configured list."`
	Quality      int      `help:"WebP quality (0-100)" default:"-1"`
	Segmenter    string   `help:"Background remover to use (local, rembg)"`
	RembgURL     string   `help:"Base URL of the rembg server" name:"rembg-url"`
	RembgModel   string   `help:"Model name passed to the rembg server" name:"rembg-model"`
	SlugFolders  bool     `help:"Name output folders with a lower-case dashed slug of the category"`
	SkipExisting bool     `help:"Skip images whose output already exists"`
	LogLevel     string   `help:"Log level (debug, info, warn, error)"`
	LogFormat    string   `help:"Log format (text, json)"`

	Resolved config.Config `kong:"-"`
}

func (c *CLICmd) Validate(kctx *kong.Context) error {
	cfg := config.Default()
	if c.Config != "" {
		var err error
		if cfg, err = config.Load(c.Config); err != nil {
			return err
		}
	}

	if c.Input != "" {
		cfg.InputRoot = c.Input
	}
	if c.Output != "" {
		cfg.OutputRoot = c.Output
	}
	if len(c.Folder) > 0 {
		cfg.Folders = c.Folder
	}
	if c.Quality >= 0 {
		cfg.Quality = c.Quality
	}
	if c.Segmenter != "" {
		cfg.Segmenter.Kind = c.Segmenter
	}
	if c.RembgURL != "" {
		cfg.Segmenter.URL = c.RembgURL
	}
	if c.RembgModel != "" {
		cfg.Segmenter.Model = c.RembgModel
	}
	cfg.SlugFolders = cfg.SlugFolders || c.SlugFolders
	cfg.SkipExisting = cfg.SkipExisting || c.SkipExisting
	if c.LogLevel != "" {
		cfg.Log.Level = c.LogLevel
	}
	if c.LogFormat != "" {
		cfg.Log.Format = c.LogFormat
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var err error
	if cfg.InputRoot, err = filepath.Abs(cfg.InputRoot); err != nil {
		return fmt.Errorf("invalid input path %q: %w", cfg.InputRoot, err)
	}
	if cfg.OutputRoot, err = filepath.Abs(cfg.OutputRoot); err != nil {
		return fmt.Errorf("invalid output path %q: %w", cfg.OutputRoot, err)
	}

	c.Resolved = cfg
	return nil
}

func (c *CLICmd) Run(ctx context.Context) error {
	cfg := c.Resolved
	runID := ksuid.New().String()

	level, err := util.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger, err := util.NewLogger(os.Stderr, level, cfg.Log.Format)
	if err != nil {
		return err
	}
	logger = logger.With("run", runID)
	slog.SetDefault(logger)

	seg, err := newSegmenter(cfg.Segmenter)
	if err != nil {
		return err
	}
	logger.Info("running", "input", cfg.InputRoot, "output", cfg.OutputRoot, "folders", cfg.Folders,
		"segmenter", cfg.Segmenter.Kind, "quality", cfg.Quality)

	report := batch.NewReporter(os.Stdout)
	report.Header(cfg.InputRoot, cfg.OutputRoot, runID)

	comp := studio.NewCompositor(seg, cfg.StudioOptions(), logger)
	sum, err := batch.NewDriver(cfg, comp, report, logger).Run(ctx)
	if err != nil {
		return fmt.Errorf("run interrupted: %w", err)
	}
	if sum.Failed > 0 {
		return fmt.Errorf("error processing %d files", sum.Failed)
	}
	return nil
}

func newSegmenter(cfg config.Segmenter) (rembg.Segmenter, error) {
	switch cfg.Kind {
	case config.SegmenterLocal:
		return rembg.NewLocal(cfg.WorkingSize), nil
	case config.SegmenterRembg:
		s := rembg.NewServer(cfg.URL, cfg.Model)
		s.Timeout = cfg.Timeout
		return s, nil
	}
	return nil, errors.New("unsupported segmenter: " + cfg.Kind)
}

func main() {
	var cli CLICmd
	kctx := kong.Parse(&cli,
		kong.Name("studio2webp"),
		kong.Description("Put product photos on a studio-white backdrop and save them as WebP."),
		kong.UsageOnError(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cli.Run(ctx)
	stop()
	kctx.FatalIfErrorf(err)
}
