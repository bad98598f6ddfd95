package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/visionscript/capture-service/api"
	"github.com/visionscript/capture-service/internal/config"
	"github.com/visionscript/capture-service/internal/logging"
	"github.com/visionscript/capture-service/internal/models"
	"github.com/visionscript/capture-service/internal/ocr"
	"github.com/visionscript/capture-service/internal/storage"
	"github.com/visionscript/capture-service/internal/summarize"
)

const shutdownTimeout = 10 * time.Second

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "path to the YAML config file (optional)",
	EnvVars: []string{"VISIONSCRIPT_CONFIG"},
}

func main() {
	app := &cli.App{
		Name:    "visionscript",
		Usage:   "capture text from a camera or image and export it as documents",
		Version: api.Version,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the controller API",
				Flags:  []cli.Flag{configFlag},
				Action: serve,
			},
			scanCommand,
			tokenCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads config and creates the logger
func setup(c *cli.Context) (*models.Config, *logrus.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load config")
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}

	return cfg, logger, nil
}

func serve(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := ocr.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout, logger)
	summarizer := summarize.NewService(cfg.Summarizer, client, logger)

	handler := api.NewHandler(cfg, client, summarizer, logger)
	if cfg.Export.Bucket.Enabled() {
		sink, err := storage.NewBucketSink(ctx, cfg.Export.Bucket, logger)
		if err != nil {
			logger.WithError(err).Warn("MinIO storage not available, artifacts will not be stored")
		} else {
			handler.SetSink(sink)
			logger.WithField("bucket", cfg.Export.Bucket.Name).Info("MinIO storage initialized")
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.WithFields(logrus.Fields{
		"addr":        addr,
		"backend":     cfg.Backend.BaseURL,
		"summarizers": summarizer.Providers(),
		"auth":        cfg.Auth.JWTSecret != "",
	}).Infof("Starting VisionScript capture service v%s", api.Version)
	logger.Infof("Endpoints:")
	logger.Infof("  POST   http://%s/api/sessions                      - Open a capture session", addr)
	logger.Infof("  POST   http://%s/api/sessions/{id}/frames          - Push a camera frame", addr)
	logger.Infof("  POST   http://%s/api/sessions/{id}/capture/start   - Start periodic capture", addr)
	logger.Infof("  POST   http://%s/api/sessions/{id}/capture/once    - Capture a still", addr)
	logger.Infof("  POST   http://%s/api/sessions/{id}/export/{format} - Download txt/docx/excel/idcard", addr)
	logger.Infof("  POST   http://%s/api/upload                        - Recognize an image", addr)
	logger.Infof("  POST   http://%s/api/summarize                     - Summarize text", addr)
	logger.Infof("  GET    http://%s/health                            - Health check", addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server failed")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := server.Shutdown(shutdownCtx)
		if closeErr := handler.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("session teardown failed")
		}
		return errors.Wrap(err, "shutdown")
	})

	return g.Wait()
}
