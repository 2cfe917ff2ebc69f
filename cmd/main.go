package main

import (
	"fmt"
	"log"

	"github.com/EarthModule/fairdata-metax-v3/internal/config"
	"github.com/EarthModule/fairdata-metax-v3/internal/http"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize context
	ctx, err := config.InitContext(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize context: %v", err)
	}

	defer func() {
		if err := ctx.Logger.Sync(); err != nil {
			fmt.Printf("Failed to sync logger: %v\n", err)
		}
	}()

	// Ensure the database connection is closed when the application exits
	sqlDB, err := ctx.DB.DB()
	if err != nil {
		ctx.Logger.Fatal("Failed to get underlying SQL DB from GORM DB", zap.Error(err))
	}
	defer func() {
		if err := sqlDB.Close(); err != nil {
			ctx.Logger.Error("Failed to close database connection", zap.Error(err))
		}
	}()

	service, err := http.NewHTTPService(ctx, http.Options{
		Production:     cfg.Production(),
		AllowedOrigins: cfg.AllowedOrigins,
	})
	if err != nil {
		ctx.Logger.Fatal("Failed to initialize HTTP service", zap.Error(err))
	}

	ctx.Logger.Info("Starting server", zap.String("addr", cfg.ListenAddr))
	if err := service.Engine().Run(cfg.ListenAddr); err != nil {
		ctx.Logger.Fatal("Failed to start the server", zap.Error(err))
	}
}
