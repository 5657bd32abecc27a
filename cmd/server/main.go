package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Brownie44l1/aidetect-api/internal/config"
	"github.com/Brownie44l1/aidetect-api/internal/handlers"
	"github.com/Brownie44l1/aidetect-api/internal/model"
	"github.com/Brownie44l1/aidetect-api/internal/pipeline"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	loader := model.NewLoader(model.Options{
		ModelPath:    cfg.ModelPath,
		MetadataPath: cfg.MetadataPath,
		LibraryPath:  cfg.ORTLibrary,
		NumThreads:   cfg.NumThreads,
	})
	defer model.Shutdown()
	defer loader.Close()

	if cfg.Preload {
		slog.Info("loading model", "path", cfg.ModelPath)
		sess, err := loader.Session(context.Background())
		if err != nil {
			slog.Error("failed to load model", "error", err)
			os.Exit(1)
		}
		slog.Info("model loaded", "classes", sess.Metadata.Classes, "layout", sess.Layout())
	}

	p := pipeline.New(loader, pipeline.Options{BatchSize: cfg.BatchSize, Logger: logger})
	handler := handlers.NewHandler(p, handlers.Options{
		MaxImageSide:   cfg.MaxImageSide,
		MaxPixels:      cfg.MaxPixels,
		MaxUploadBytes: cfg.MaxUploadBytes,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
		Ready:          loader.Loaded,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		slog.Info("endpoints",
			"health", "GET /health",
			"upload", "POST /classify",
			"raw", "POST /classify/raw")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}
}
