package main

import (
	"context"
	"fmt"
	"os"

	"github.com/itinera/backend/internal/config"
	"github.com/itinera/backend/internal/database"
	"github.com/itinera/backend/internal/logger"
	"github.com/itinera/backend/internal/services"
)

// Seeds settings, action types, system roles and an initial administrator taken from
// ITINERA_ADMIN_USERNAME, ITINERA_ADMIN_EMAIL and ITINERA_ADMIN_PASSWORD.
func main() {
	logger.Init(true, os.Stdout)
	log := logger.Log()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabasePath)
	if err != nil {
		log.WithError(err).Fatal("connect database")
	}
	if err := database.Migrate(db); err != nil {
		log.WithError(err).Fatal("migrate database")
	}
	fmt.Println("✓ Database migrated successfully")

	ctx := context.Background()
	reg := services.NewRegistry(db, services.RegistryOptions{JWTSecret: cfg.JWTSecret, JWTIssuer: cfg.JWTIssuer})
	if err := reg.Initialize(ctx); err != nil {
		log.WithError(err).Fatal("initialize settings")
	}
	fmt.Println("✓ Settings initialized")

	if err := services.SeedRBAC(ctx, reg.RBAC); err != nil {
		log.WithError(err).Fatal("seed roles")
	}
	fmt.Println("✓ Action types and system roles seeded")

	password := os.Getenv("ITINERA_ADMIN_PASSWORD")
	if password == "" {
		fmt.Println("ITINERA_ADMIN_PASSWORD not set, skipping administrator")
		return
	}
	admin := services.RegisterInput{
		Username: envOr("ITINERA_ADMIN_USERNAME", "admin"),
		Email:    envOr("ITINERA_ADMIN_EMAIL", "admin@localhost.localdomain"),
		Password: password,
	}
	created, err := services.SeedAdmin(ctx, reg.Auth, reg.RBAC, admin)
	if err != nil {
		log.WithError(err).Fatal("seed administrator")
	}
	if created {
		fmt.Printf("✓ Administrator %s created\n", admin.Username)
	} else {
		fmt.Printf("✓ Administrator %s already exists\n", admin.Username)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
