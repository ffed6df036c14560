package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"

	"github.com/matchpoint-app/results-engine/config"
	"github.com/matchpoint-app/results-engine/db"
	"github.com/matchpoint-app/results-engine/handlers"
	"github.com/matchpoint-app/results-engine/models"
	"github.com/matchpoint-app/results-engine/realtime"
	"github.com/matchpoint-app/results-engine/repositories"
	"github.com/matchpoint-app/results-engine/results"
	api "github.com/matchpoint-app/results-engine/routes"
	"github.com/matchpoint-app/results-engine/services"
	"github.com/matchpoint-app/results-engine/storage"
)

func main() {
	// Настройка логгера
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort))

	// Подключение к базе данных
	dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		} else {
			logger.Info("database connection closed")
		}
	}()
	logger.Info("database connection established")

	// Инициализация WebSocket Hub
	wsHub := realtime.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket Hub started")

	// Инициализация репозиториев
	gameRepo := repositories.NewPostgresGameRepository()
	metaRepo := repositories.NewPostgresResultsMetaRepository()
	roundRepo := repositories.NewPostgresRoundRepository()
	matchRepo := repositories.NewPostgresMatchRepository()
	teamRepo := repositories.NewPostgresTeamRepository()
	setRepo := repositories.NewPostgresSetRepository()
	userRepo := repositories.NewPostgresUserRepository()
	outcomeRepo := repositories.NewPostgresOutcomeRepository()
	logger.Info("Repositories initialized")

	// Инициализация сервисов
	ratingService := services.NewRatingService(outcomeRepo, userRepo, logger)
	gameService := services.NewGameService(dbConn, gameRepo, metaRepo, roundRepo, matchRepo, teamRepo, setRepo)
	resultsService := services.NewResultsService(
		db.NewTxRunner(dbConn),
		dbConn,
		gameRepo,
		metaRepo,
		roundRepo,
		matchRepo,
		teamRepo,
		setRepo,
		userRepo,
		ratingService,
		cfg.IdempotencyTTL,
		logger,
	)
	logger.Info("Services initialized")

	// Рассылка обновлений зрителям после коммита батча
	resultsService.AddPostCommitHook(func(gameID int, result *models.BatchResult, _ results.Document) {
		wsHub.BroadcastResultsUpdated(gameID, realtime.ResultsUpdatedPayload{
			HeadVersion: result.HeadVersion,
			ServerTime:  result.ServerTime,
		})
	})

	// Архивация снапшотов в Cloudflare R2 (опционально)
	if cfg.R2Enabled() {
		uploader, err := storage.NewCloudflareR2Uploader(storage.CloudflareR2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicBaseURL:   cfg.R2PublicBaseURL,
		})
		if err != nil {
			logger.Error("failed to initialize Cloudflare R2 uploader", slog.Any("error", err))
			os.Exit(1)
		}
		archiver := storage.NewSnapshotArchiver(uploader, logger)
		resultsService.AddPostCommitHook(func(gameID int, result *models.BatchResult, doc results.Document) {
			archiver.ArchiveSnapshot(context.Background(), gameID, result.HeadVersion, doc)
		})
		logger.Info("Cloudflare R2 snapshot archiver initialized")
	} else {
		logger.Info("Cloudflare R2 is not configured, snapshot archival disabled")
	}

	// Инициализация обработчиков HTTP
	resultsHandler := handlers.NewResultsHandler(resultsService, gameService, logger)
	webSocketHandler := handlers.NewWebSocketHandler(wsHub, gameService, logger)
	logger.Info("HTTP handlers initialized")

	// Настройка маршрутизатора
	router := chi.NewRouter()
	api.SetupRoutes(router, cfg.JWTSecretKey, resultsHandler, webSocketHandler)
	logger.Info("Routes configured")

	// Настройка и запуск HTTP-сервера
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		} else {
			logger.Info("server stopped gracefully")
		}
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()

		logger.Info("shutting down server", slog.Duration("timeout", 15*time.Second))
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
			os.Exit(1)
		} else {
			logger.Info("server shutdown complete")
		}
	}
	logger.Info("application exited")
}
