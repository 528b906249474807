package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/anime-shed/emotion-detect-go/internal/config"
	"github.com/anime-shed/emotion-detect-go/internal/logger"
	"github.com/anime-shed/emotion-detect-go/internal/observer"
	"github.com/anime-shed/emotion-detect-go/internal/predictor"
	"github.com/anime-shed/emotion-detect-go/internal/preview"
	"github.com/anime-shed/emotion-detect-go/internal/upload"
	"github.com/anime-shed/emotion-detect-go/pkg/validation"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

func main() {
	endpoint := flag.String("endpoint", envOr("PREDICT_ENDPOINT", config.DefaultPredictEndpoint), "prediction service URL")
	timeout := flag.Duration("timeout", 0, "request timeout, 0 for none")
	verbose := flag.Bool("v", false, "log lifecycle events to stderr")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: detect [-endpoint URL] [-timeout D] [-v] <image>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	logger.UseTextOutput()
	if *verbose {
		logger.SetLevel("debug")
	} else {
		logger.SetLevel("warn")
	}

	if err := validation.NewEndpointValidator().ValidateEndpoint(*endpoint); err != nil {
		fail("invalid endpoint: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	os.Exit(run(ctx, flag.Arg(0), *endpoint, *timeout))
}

func run(ctx context.Context, path, endpoint string, timeout time.Duration) int {
	img, err := readImage(path)
	if err != nil {
		fail("%v", err)
	}

	publisher := observer.NewEventPublisher()
	publisher.Subscribe(observer.NewLoggingObserver(logger.Logger))

	previews := preview.NewPreviewer(preview.NewMemoryStore(), 0, "")
	form := upload.NewController(
		predictor.NewClient(endpoint, timeout),
		previews,
		upload.WithPublisher(publisher),
	)
	defer form.Close(context.Background())

	if err := form.SelectImage(ctx, img); err != nil {
		logger.WithError(err).Warn("Preview unavailable")
	}

	fmt.Printf("Detecting %s...\n", img.Name)
	if err := form.Submit(ctx); err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"endpoint": endpoint,
		}).Debug("Detection failed")
	}

	v := form.View()
	if v.Prediction != "" {
		color.Green("Predicted expression: %s", v.Prediction)
		return 0
	}
	color.Red("%s", v.Error)
	return 1
}

func readImage(path string) (*upload.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("read image: %s is empty", path)
	}

	contentType := http.DetectContentType(data)
	if !validation.MatchesAccept(validation.ImageAccept, contentType) {
		color.Yellow("warning: %s does not look like an image (%s)", filepath.Base(path), contentType)
	}

	return &upload.Image{
		Name:        filepath.Base(path),
		ContentType: contentType,
		Data:        data,
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fail(format string, args ...interface{}) {
	color.Red(format, args...)
	os.Exit(1)
}
