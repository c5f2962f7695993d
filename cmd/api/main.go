package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"

	"github.com/itinera/backend/internal/config"
	"github.com/itinera/backend/internal/database"
	"github.com/itinera/backend/internal/logger"
	"github.com/itinera/backend/internal/metrics"
	"github.com/itinera/backend/internal/server"
	"github.com/itinera/backend/internal/services"
	"github.com/itinera/backend/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// Log to both stdout and a rotated file
	out := io.Writer(os.Stdout)
	if err := os.MkdirAll(cfg.LogDir, 0o755); err == nil {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogDir, "itinera.log"),
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	}
	logger.Init(cfg.Debug, out)
	log := logger.Log()

	if err := run(cfg, os.Args[1:]); err != nil {
		log.WithError(err).Fatal("itinera exited with error")
	}
}

func run(cfg config.Config, args []string) error {
	log := logger.Log()
	ctx := context.Background()

	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabasePath)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}

	notifier, err := services.NewNotifier(cfg.NotifyURL)
	if err != nil {
		return err
	}
	reg := services.NewRegistry(db, services.RegistryOptions{
		JWTSecret:        cfg.JWTSecret,
		JWTIssuer:        cfg.JWTIssuer,
		SettingsCacheTTL: cfg.SettingsCacheTTL,
		Notifier:         notifier,
	})
	if err := reg.Initialize(ctx); err != nil {
		return err
	}

	if len(args) > 0 {
		return runCommand(ctx, reg, args)
	}

	if err := services.SeedRBAC(ctx, reg.RBAC); err != nil {
		return err
	}
	metrics.Register(prometheus.DefaultRegisterer)

	scheduler := services.NewScheduler()
	if err := scheduler.AddLockSweep(reg.Lockout, ""); err != nil {
		return err
	}
	scheduler.Start()

	srv, err := server.New(reg, cfg)
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithField("version", version.Full()).WithField("port", cfg.HTTPPort).Infof("starting %s backend", version.Name)
	runErr := srv.Run(runCtx)

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	scheduler.Stop(stopCtx)
	if n, ok := notifier.(*services.ShoutrrrNotifier); ok {
		n.Wait()
	}
	closeDB(db)
	log.Info("shutdown complete")
	return runErr
}

// runCommand handles the operator sub-commands.
func runCommand(ctx context.Context, reg *services.Registry, args []string) error {
	log := logger.Log()
	switch args[0] {
	case "reset-password":
		if len(args) != 3 {
			return errors.New("usage: itinera reset-password <username|email> <new-password>")
		}
		u, err := reg.Auth.ResetPassword(ctx, args[1], args[2])
		if err != nil {
			return err
		}
		log.WithField("username", u.Username).Info("password updated and account unlocked")
		return nil
	case "unlock":
		if len(args) != 2 {
			return errors.New("usage: itinera unlock <username|email>")
		}
		u, err := reg.Auth.FindByIdentifier(ctx, args[1])
		if err != nil {
			return err
		}
		if _, err := reg.Lockout.Unlock(ctx, u.ID); err != nil {
			return err
		}
		log.WithField("username", u.Username).Info("account unlocked")
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
