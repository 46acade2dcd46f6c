// Command storage-server runs the object-store HTTP API backed by either
// S3 or MinIO, selected through environment variables.
//
// Configuration:
//
//	STORAGE_BACKEND   "s3" (default) or "minio"
//	STORAGE_ADDR      listen address, default 0.0.0.0:5001
//	AWS_REGION        region for the S3 backend
//	MINIO_ENDPOINT    MinIO endpoint, default localhost:9000
//	MINIO_ACCESS_KEY  MinIO access key
//	MINIO_SECRET_KEY  MinIO secret key
//
// A .env file in the working directory is loaded when present.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/PyYel/golcloud/storage"
	"github.com/PyYel/golcloud/storage/server"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to load .env file", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := buildStore(ctx, logger)
	if err != nil {
		logger.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}

	srv, err := server.New(server.Config{
		Addr:   envOr("STORAGE_ADDR", server.DefaultAddr),
		Store:  store,
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to initialize server", "error", err)
		os.Exit(1)
	}

	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func buildStore(ctx context.Context, logger *slog.Logger) (storage.ObjectStore, error) {
	switch envOr("STORAGE_BACKEND", "s3") {
	case "minio":
		var opts []storage.MinIOOption
		if endpoint := os.Getenv("MINIO_ENDPOINT"); endpoint != "" {
			opts = append(opts, storage.WithMinIOEndpoint(endpoint))
		}
		if access := os.Getenv("MINIO_ACCESS_KEY"); access != "" {
			opts = append(opts, storage.WithMinIOCredentials(access, os.Getenv("MINIO_SECRET_KEY")))
		}
		opts = append(opts, storage.WithMinIOLogger(logger))
		return storage.NewMinIO(opts...)
	default:
		var opts []storage.Option
		if region := os.Getenv("AWS_REGION"); region != "" {
			opts = append(opts, storage.WithRegion(region))
		}
		opts = append(opts, storage.WithLogger(logger))
		return storage.New(ctx, opts...)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
