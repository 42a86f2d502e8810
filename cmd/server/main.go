package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/KevinKickass/OpenCalibrationCore/internal/auth"
	"github.com/KevinKickass/OpenCalibrationCore/internal/config"
	"github.com/KevinKickass/OpenCalibrationCore/internal/system"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config file")
	hashPassword := flag.String("hash-password", "", "print the argon2id hash of a password for auth.users and exit")
	genToken := flag.Bool("gen-token", false, "print a new machine token and its hash for auth.machine_tokens and exit")
	flag.Parse()

	if *genToken {
		mt, err := auth.GenerateMachineToken()
		if err != nil {
			log.Fatalf("Failed to generate token: %v", err)
		}
		fmt.Printf("token:      %s\ntoken_hash: %s\n", mt.Token, mt.Hash)
		return
	}

	if *hashPassword != "" {
		hash, err := auth.NewPasswordHasher().HashPassword(*hashPassword)
		if err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}
		fmt.Println(hash)
		return
	}

	// Config laden
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Logger initialisieren
	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Config loaded successfully", zap.String("path", *configPath))

	ctx := context.Background()

	// Lifecycle Manager
	lifecycle, err := system.NewLifecycleManager(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create lifecycle manager", zap.Error(err))
	}

	// System starten
	if err := lifecycle.Start(ctx); err != nil {
		logger.Fatal("Failed to start system", zap.Error(err))
	}

	logger.Info("OpenCalibrationCore started successfully")

	// Graceful Shutdown auf Signal oder per REST
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received")
	case <-lifecycle.Done():
		logger.Info("OpenCalibrationCore stopped via API")
		return
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := lifecycle.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("OpenCalibrationCore stopped successfully")
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
}
