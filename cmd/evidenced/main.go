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
	"github.com/hardy-3003/evidencestore/internal/blobstore"
	"github.com/hardy-3003/evidencestore/internal/ledger"
	"github.com/hardy-3003/evidencestore/internal/server"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("evidenced exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("evidenced")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("evidence.root", "evidence")
	viper.SetDefault("evidence.bundle_size_limit", ledger.DefaultBundleSizeLimit)
	viper.SetDefault("server.port", 8081)
	viper.SetDefault("server.cors_origins", []string{})
	viper.SetDefault("server.rate_limit_rps", 20)
	viper.SetDefault("database.url", "")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	ctx := context.Background()
	root := viper.GetString("evidence.root")

	// ── Stores ───────────────────────────────────────────────────────────────
	blobs, err := blobstore.New(root, logger)
	if err != nil {
		return err
	}

	var store ledger.RecordStore
	if dbURL := viper.GetString("database.url"); dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		pg := ledger.NewPGStore(pool, logger)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		store = pg
		logger.Info("record store: postgres")
	} else {
		fs, err := ledger.NewFSStore(root, logger)
		if err != nil {
			return err
		}
		store = fs
		logger.Info("record store: filesystem", zap.String("root", root))
	}

	// ── Ledger ───────────────────────────────────────────────────────────────
	led, err := ledger.New(ctx, store, blobs, ledger.Options{
		BundleSizeLimit: viper.GetInt("evidence.bundle_size_limit"),
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	if passed, failed, err := led.VerifyAll(ctx); err != nil {
		logger.Warn("startup integrity sweep errored", zap.Error(err))
	} else if len(failed) > 0 {
		logger.Warn("startup integrity sweep FAILED",
			zap.Int("passed", passed),
			zap.Strings("failed_keys", failed),
		)
	} else {
		logger.Info("startup integrity sweep passed", zap.Int("keys", passed))
	}

	if err := server.RegisterStatsCollector(led); err != nil {
		return fmt.Errorf("register stats collector: %w", err)
	}

	// ── HTTP ─────────────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := server.New(led, logger)
	router := srv.Router(server.Config{
		CORSOrigins:  viper.GetStringSlice("server.cors_origins"),
		RateLimitRPS: viper.GetInt("server.rate_limit_rps"),
	})

	port := viper.GetInt("server.port")
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("evidenced listening", zap.Int("port", port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-quit
	logger.Info("shutting down evidenced...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	if id, err := led.FinalizeBundle(context.Background()); err != nil {
		logger.Error("final bundle flush failed", zap.Error(err))
	} else if id != "" {
		logger.Info("final bundle flushed", zap.String("bundle_id", id))
	}

	logger.Info("evidenced stopped")
	return nil
}
