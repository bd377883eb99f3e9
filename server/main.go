package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/puyokura/orbitchat/credential"
	"github.com/puyokura/orbitchat/engine"
	"github.com/puyokura/orbitchat/storage"
)

const logName = "server.log"

// setupLogging tees a console logger on stdout with a JSON logger appending
// to <dir>/server.log.
func setupLogging(cfg LogConfig) (*zap.Logger, *os.File, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, nil, err
	}
	logFile, err := os.OpenFile(filepath.Join(cfg.Dir, logName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), zapcore.Lock(os.Stdout), level),
		zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(logFile), level),
	)
	return zap.New(core, zap.AddCaller()), logFile, nil
}

// compressLog archives <dir>/server.log into <dir>/logs-<timestamp>.tar.gz.
func compressLog(dir string, now time.Time) (string, error) {
	source := filepath.Join(dir, logName)
	target := filepath.Join(dir, fmt.Sprintf("logs-%s.tar.gz", now.Format("20060102-150405")))

	file, err := os.Open(source)
	if err != nil {
		return "", fmt.Errorf("open log: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat log: %w", err)
	}
	header, err := tar.FileInfoHeader(info, info.Name())
	if err != nil {
		return "", fmt.Errorf("tar header: %w", err)
	}
	header.Name = logName

	outFile, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	defer outFile.Close()

	gw := gzip.NewWriter(outFile)
	tw := tar.NewWriter(gw)
	if err := tw.WriteHeader(header); err != nil {
		return "", fmt.Errorf("write tar header: %w", err)
	}
	if _, err := io.Copy(tw, file); err != nil {
		return "", fmt.Errorf("compress log: %w", err)
	}
	if err := tw.Close(); err != nil {
		return "", err
	}
	if err := gw.Close(); err != nil {
		return "", err
	}
	return target, nil
}

// openEngine builds the engine and its collaborators from cfg.
func openEngine(ctx context.Context, cfg *Config, logger *zap.Logger, reg prometheus.Registerer) (*engine.Engine, error) {
	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path, cfg.Storage.Session)
	if err != nil {
		return nil, err
	}
	verifier := credential.NewBcrypt(cfg.BcryptCost)
	seedHash := ""
	if cfg.SeedCredential != "" {
		if seedHash, err = verifier.Hash(cfg.SeedCredential); err != nil {
			store.Close()
			return nil, err
		}
	}
	eng, err := engine.Open(ctx, engine.Options{
		Store:    store,
		Verifier: verifier,
		Catalog:  cfg.Catalog,
		Seed:     engine.DefaultSeed(time.Now().UTC(), seedHash),
		Logger:   logger.Named("engine"),
		Metrics:  engine.NewMetrics(reg),
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	return eng, nil
}

func main() {
	configFile := flag.String("config", "orbitchat.yaml", "Path to configuration file")
	flag.Parse()

	config := NewConfig(*configFile)
	if err := config.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logFile, err := setupLogging(config.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	eng, err := openEngine(ctx, config, logger, reg)
	if err != nil {
		logger.Fatal("engine_open_failed", zap.Error(err))
	}

	hub := NewHub(ctx, eng, config, logger.Named("hub"))
	go hub.Run(ctx)

	server := &http.Server{Addr: config.Addr(), Handler: newRouter(hub, reg)}
	go func() {
		logger.Info("server_started", zap.String("addr", server.Addr), zap.String("storage", config.Storage.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen_failed", zap.Error(err))
			stop()
		}
	}()

	go func() {
		if runConsole(os.Stdin, os.Stdout, hub) {
			stop()
		}
	}()

	<-ctx.Done()
	fmt.Println("\nShutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown_failed", zap.Error(err))
	}
	if err := eng.Close(); err != nil {
		logger.Error("engine_close_failed", zap.Error(err))
	}
	logger.Info("server_stopped")
	_ = logger.Sync()
	logFile.Close()

	target, err := compressLog(config.Log.Dir, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to archive log: %v\n", err)
		return
	}
	os.Remove(filepath.Join(config.Log.Dir, logName))
	fmt.Printf("Log compressed to %s\n", target)
}
