package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jmerrifield20/realitylog/internal/anchor"
	"github.com/jmerrifield20/realitylog/internal/server/handler"
	"github.com/jmerrifield20/realitylog/pkg/client"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("anchor exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ─────────────────────────────────────────────────────────
	viper.SetConfigName("anchor")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("anchor.log_api", "http://127.0.0.1:8080")
	viper.SetDefault("anchor.dir", "data/anchor")
	viper.SetDefault("anchor.driver", "file")
	viper.SetDefault("anchor.period", "60s")
	viper.SetDefault("anchor.fetch_timeout", "10s")
	viper.SetDefault("anchor.metrics_port", 9102)

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	logAPI := viper.GetString("anchor.log_api")
	fetchTimeout := viper.GetDuration("anchor.fetch_timeout")
	period := viper.GetDuration("anchor.period")

	// ── Anchor loop ───────────────────────────────────────────────────────────
	c, err := client.New(logAPI, client.WithTimeout(fetchTimeout))
	if err != nil {
		return fmt.Errorf("log client: %w", err)
	}

	store, err := anchor.OpenStore(viper.GetString("anchor.driver"), viper.GetString("anchor.dir"), logger)
	if err != nil {
		return fmt.Errorf("open anchor store: %w", err)
	}
	defer store.Close() //nolint:errcheck

	loop := anchor.NewLoop(anchor.RemoteSource(c), store, anchor.Config{
		Period:       period,
		CycleTimeout: fetchTimeout,
	}, logger)
	loop.SetMetricsRecord(handler.RecordAnchorCycle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := loop.Start(ctx); err != nil {
		return err
	}

	// ── Metrics / health ──────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "anchor", "log_api": logAPI})
	})
	router.GET("/metrics", handler.MetricsHandler())
	handler.NewAnchorHandler(store, logger).Register(router)

	metricsPort := viper.GetInt("anchor.metrics_port")
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", metricsPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("anchor metrics listening",
			zap.Int("port", metricsPort),
			zap.String("log_api", logAPI),
			zap.Duration("period", period),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	<-quit
	logger.Info("shutting down anchor...")

	loop.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown error", zap.Error(err))
	}

	logger.Info("anchor stopped")
	return nil
}
