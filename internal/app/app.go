// Package app wires configuration, logging, the S3 client and the HTTP
// handler together. Both the standalone server and the Lambda entry point
// build on it.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/stefando/partupload/internal/awsclient"
	"github.com/stefando/partupload/internal/config"
	"github.com/stefando/partupload/internal/logging"
	"github.com/stefando/partupload/internal/s3api"
	"github.com/stefando/partupload/internal/server"
	"github.com/stefando/partupload/internal/upload"
)

// App holds the initialized services.
type App struct {
	Config  *config.Config
	Logger  *logrus.Logger
	Handler http.Handler
}

// New loads the configuration from the environment and builds the services.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	awsCfg, err := awsclient.LoadConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	handler, err := NewHandler(cfg, awsclient.NewS3Client(awsCfg, cfg.Endpoint), logger)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"bucket":      cfg.BucketName,
		"region":      cfg.Region,
		"endpoint":    cfg.Endpoint,
		"part_size":   cfg.PartSize,
		"concurrency": cfg.Concurrency,
	}).Info("services initialized")

	return &App{Config: cfg, Logger: logger, Handler: handler}, nil
}

// NewHandler builds the upload coordinator on s3Client and returns the
// HTTP handler serving it.
func NewHandler(cfg *config.Config, s3Client s3api.API, logger *logrus.Logger) (http.Handler, error) {
	locator := upload.VirtualHostLocator(cfg.BucketName)
	if cfg.Endpoint != "" {
		locator = upload.EndpointLocator(cfg.Endpoint, cfg.BucketName)
	}

	coordinator, err := upload.NewCoordinator(s3Client, upload.Options{
		Bucket:      cfg.BucketName,
		PartSize:    cfg.PartSize,
		Threshold:   cfg.MultipartThreshold,
		Concurrency: cfg.Concurrency,
		VerifyParts: cfg.VerifyParts,
		Keys:        upload.NewKeyGenerator(cfg.KeyPrefix, cfg.DatePartitionedKeys),
		Locator:     locator,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create upload coordinator: %w", err)
	}

	srv := server.New(coordinator, server.Options{
		UploadTimeout: cfg.UploadTimeout,
		MaxUploadSize: cfg.MaxUploadSize,
		Retries:       cfg.UploadRetries,
		RetryWait:     cfg.RetryWait,
		Logger:        logger,
	})
	return srv.Router(), nil
}
