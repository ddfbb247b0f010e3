package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"irisapi/internal/api"
	"irisapi/internal/config"
	"irisapi/internal/history"
	"irisapi/internal/lifecycle"
	"irisapi/internal/watcher"
	"irisapi/pkg/utils"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		utils.Logger().Fatal("load config", zap.Error(err))
	}
	logger, err := utils.NewLogger(utils.LogOptions{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		utils.Logger().Fatal("build logger", zap.Error(err))
	}
	utils.SetLogger(logger)
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	lc := lifecycle.New(logger,
		lifecycle.WithWorkers(cfg.Model.Workers),
		lifecycle.WithCacheSize(cfg.Model.CacheSize),
		lifecycle.OnTrain(func(m lifecycle.Metadata) {
			if _, err := store.Record(context.Background(), history.FromMetadata(m)); err != nil {
				logger.Warn("record training run", zap.String("model_version", m.ModelVersion), zap.Error(err))
			}
		}),
	)
	trained, err := lc.LoadOrTrain(ctx, cfg.Model.Path, cfg.Hyperparameters())
	if err != nil {
		return err
	}
	meta, _ := lc.Metadata()
	logger.Info("model ready",
		zap.Bool("trained", trained),
		zap.String("model_version", meta.ModelVersion),
		zap.Float64("test_accuracy", meta.Metrics.TestAccuracy),
	)

	if cfg.Model.Watch {
		w, err := watcher.New(cfg.Model.Path, lc, logger, watcher.DefaultDebounce)
		if err != nil {
			return err
		}
		go w.Run(ctx)
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: api.NewServer(lc, store, logger, api.Options{
			ModelPath:   cfg.Model.Path,
			Defaults:    cfg.Hyperparameters(),
			CORSOrigins: cfg.Server.CORSOrigins,
		}).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
