// Command bandstack groups multispectral band images into captures and
// writes one stacked multi-band file per capture.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"bandstack/internal/cli"
	"bandstack/internal/config"
	"bandstack/internal/logging"
	"bandstack/internal/render"
	"bandstack/internal/render/magick"
	"bandstack/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	// .env is optional; it may set BANDSTACK_CONFIG or EXIFTOOL_PATH
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	logger, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup logging: %v\n", err)
		return 1
	}

	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		logger.Warn("run ledger disabled", "path", cfg.Paths.DatabasePath, "error", err)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	defer magick.Terminate()

	root := cli.NewRoot(cfg, logger, store, newRenderer)
	if err := cli.Execute(ctx, root, os.Args[1:]); err != nil {
		return 1
	}
	return 0
}

func newRenderer(cfg *config.Config, log *slog.Logger) (render.Renderer, error) {
	magick.Initialize()
	logging.LogToolStatus(log, "imagemagick", true, magick.Version(), "", nil)
	return &render.Native{
		Writer:         magick.Writer{Photometric: cfg.Render.Photometric},
		ThumbnailWidth: cfg.Render.ThumbnailWidth,
		Log:            log,
	}, nil
}
