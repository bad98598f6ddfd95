package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/visionscript/capture-service/internal/auth"
	"github.com/visionscript/capture-service/internal/export"
	"github.com/visionscript/capture-service/internal/models"
	"github.com/visionscript/capture-service/internal/ocr"
	"github.com/visionscript/capture-service/internal/storage"
)

var scanCommand = &cli.Command{
	Name:  "scan",
	Usage: "recognize one image and export the text",
	Flags: []cli.Flag{
		configFlag,
		&cli.StringFlag{Name: "image", Aliases: []string{"i"}, Usage: "image file to recognize", Required: true},
		&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "txt, docx, excel or idcard", Value: "txt"},
		&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output directory (default: export.output_dir)"},
		&cli.StringFlag{Name: "model", Usage: "easyocr or pytesseract"},
		&cli.StringFlag{Name: "language", Aliases: []string{"l"}, Usage: "recognition language code"},
		&cli.BoolFlag{Name: "upload", Usage: "also store the artifact in the configured bucket"},
	},
	Action: scan,
}

func scan(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}

	format, err := export.ParseFormat(c.String("format"))
	if err != nil {
		return err
	}

	path := c.String("image")
	image, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read image")
	}

	opts := models.RecognitionOptions{
		Model:    firstNonEmpty(c.String("model"), cfg.Capture.DefaultModel),
		Language: firstNonEmpty(c.String("language"), cfg.Capture.DefaultLanguage),
	}.Normalize()

	client := ocr.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout, logger)
	job := export.NewJob(format, export.SourceUpload)
	job.Language = opts.Language

	if format == export.IDRecord {
		job.ImageData = image
		job.ImageName = filepath.Base(path)
	} else {
		text, err := client.RecognizeUpload(c.Context, image, filepath.Base(path), opts)
		if err != nil {
			return errors.Wrap(err, "recognize image")
		}
		job.Text = text
	}

	artifact, err := export.New(client, logger).Run(c.Context, job)
	if err != nil {
		return err
	}

	outDir := firstNonEmpty(c.String("out"), cfg.Export.OutputDir)
	location, err := export.DirSink{Dir: outDir}.Deliver(c.Context, artifact)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, location)

	if c.Bool("upload") {
		if !cfg.Export.Bucket.Enabled() {
			return errors.New("no bucket configured")
		}
		sink, err := storage.NewBucketSink(c.Context, cfg.Export.Bucket, logger)
		if err != nil {
			return err
		}
		url, err := sink.Deliver(c.Context, artifact)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, url)
	}

	return nil
}

var tokenCommand = &cli.Command{
	Name:  "token",
	Usage: "mint an API bearer token signed with auth.jwt_secret",
	Flags: []cli.Flag{
		configFlag,
		&cli.StringFlag{Name: "subject", Usage: "token subject, e.g. a kiosk id", Required: true},
		&cli.StringFlag{Name: "name", Usage: "display name"},
		&cli.DurationFlag{Name: "ttl", Usage: "validity", Value: 24 * time.Hour},
	},
	Action: func(c *cli.Context) error {
		cfg, _, err := setup(c)
		if err != nil {
			return err
		}
		if cfg.Auth.JWTSecret == "" {
			return errors.New("auth.jwt_secret is not set")
		}

		token, err := auth.GenerateToken(cfg.Auth.JWTSecret, c.String("subject"), c.String("name"), c.Duration("ttl"))
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, token)
		return nil
	},
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
