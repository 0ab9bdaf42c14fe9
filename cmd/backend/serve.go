package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/flowmarker/flowmarker/asset"
	"github.com/flowmarker/flowmarker/cmd/backend/handlers"
	"github.com/flowmarker/flowmarker/database"
	"github.com/flowmarker/flowmarker/generation"
	"github.com/flowmarker/flowmarker/logger"
	"github.com/flowmarker/flowmarker/storage"
)

var configFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServer,
}

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	serveCmd.Flags().StringVar(&migrationsPath, "migrations", "database/migrations", "migrations directory path")
	rootCmd.AddCommand(serveCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	// Load configuration
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log := logger.NewLogrusLogger(cfg.Log.Level)
	log.Info(ctx, "starting server", logger.Fields{
		"version": Version,
		"commit":  Commit,
		"date":    BuildDate,
	})

	// Connect to database
	db, err := database.Connect(database.Config{
		Engine:       cfg.Database.Engine,
		Path:         cfg.Database.Path,
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	defer sqlDB.Close()

	// Apply pending migrations so the embedded sqlite default works out of
	// the box.
	if err := database.RunMigrations(sqlDB, cfg.Database.Engine, migrationsPath); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info(ctx, "database ready", logger.Fields{
		"engine": cfg.Database.Engine,
	})

	// Initialize stores
	assetStore := asset.NewSQLStore(db, log)

	// Initialize blob storage for script artifacts
	blobs, err := storage.New(storage.Config{
		Type:     cfg.Storage.Type,
		BaseDir:  cfg.Storage.BaseDir,
		S3Bucket: cfg.Storage.S3Bucket,
		S3Region: cfg.Storage.S3Region,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Initialize generation capability
	generator, err := newGenerator(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize generator: %w", err)
	}

	orchestrator := generation.NewOrchestrator(generator, generation.TimeoutPolicy{
		Override: cfg.Generation.ExtensionTimeoutOverride,
	}, log)

	// Setup router
	router := mux.NewRouter()

	healthHandler := &handlers.HealthHandler{Version: Version}
	router.HandleFunc("/health", healthHandler.Check).Methods("GET")

	assetHandler := handlers.NewAssetHandler(assetStore, log)
	generationHandler := handlers.NewGenerationHandler(assetStore, orchestrator, blobs, log)

	apiRouter := router.PathPrefix("/api/v1").Subrouter()

	apiRouter.HandleFunc("/assets/cases", assetHandler.ListCases).Methods("GET")
	apiRouter.HandleFunc("/assets/cases", assetHandler.CreateCase).Methods("POST")
	apiRouter.HandleFunc("/assets/cases/{case_id}", assetHandler.GetCase).Methods("GET")
	apiRouter.HandleFunc("/assets/cases/{case_id}", assetHandler.DeleteCase).Methods("DELETE")
	apiRouter.HandleFunc("/assets/cases/{case_id}/generate", generationHandler.GenerateForCase).Methods("POST")
	apiRouter.HandleFunc("/generate/scripts/playwright-python", generationHandler.GenerateStandalone).Methods("POST")
	apiRouter.HandleFunc("/assets/runs", assetHandler.CreateRun).Methods("POST")
	apiRouter.HandleFunc("/assets/runs/{run_id}", assetHandler.GetRun).Methods("GET")

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info(ctx, "server listening", logger.Fields{
			"address": addr,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "server error", logger.Fields{
				"error": err.Error(),
			})
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info(ctx, "shutting down server", nil)

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info(ctx, "server stopped", nil)
	return nil
}

// newGenerator builds the configured LLM capability.
func newGenerator(cfg *Config) (generation.Generator, error) {
	switch strings.ToLower(cfg.LLM.Provider) {
	case "", "openai":
		return generation.NewOpenAIGenerator(generation.OpenAIConfig{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout,
		}), nil
	case "bedrock":
		return generation.NewBedrockGenerator(cfg.LLM.BedrockRegion, cfg.LLM.BedrockModel, cfg.LLM.MaxTokens, cfg.LLM.Timeout)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.LLM.Provider)
	}
}
