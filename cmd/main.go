package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/padhaihub/padhai-backend/internal/db"
	"github.com/padhaihub/padhai-backend/internal/handlers"
	"github.com/padhaihub/padhai-backend/internal/middleware"
	"github.com/padhaihub/padhai-backend/internal/observability"
	"github.com/padhaihub/padhai-backend/internal/platform/envutil"
	"github.com/padhaihub/padhai-backend/internal/platform/logger"
	"github.com/padhaihub/padhai-backend/internal/repos"
	"github.com/padhaihub/padhai-backend/internal/server"
	"github.com/padhaihub/padhai-backend/internal/services"
)

const serviceName = "padhai-api"

func main() {
	logMode := envutil.String("LOG_MODE", "development")
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: serviceName,
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", "dev"),
	})

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Fatal("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	jobRepo := repos.NewHydrationJobRepo(thePG, log)
	outboxRepo := repos.NewOutboxRepo(thePG, log)
	taxonomyRepo := repos.NewTaxonomyRepo(thePG, log)
	contentRepo := repos.NewContentRepo(thePG, log)
	settingRepo := repos.NewSystemSettingRepo(thePG, log)
	auditRepo := repos.NewAuditLogRepo(thePG, log)

	// Services
	hydrationService := services.NewHydrationService(thePG, log, jobRepo, outboxRepo, taxonomyRepo, contentRepo, settingRepo)
	adminService := services.NewJobAdminService(thePG, log, jobRepo, taxonomyRepo, settingRepo, auditRepo, hydrationService)

	// HTTP
	router := server.NewRouter(server.RouterConfig{
		ServiceName:      serviceName,
		HydrationHandler: handlers.NewHydrationHandler(hydrationService, adminService),
		JobsHandler:      handlers.NewJobsHandler(adminService),
		AdminMiddleware:  middleware.NewAdminKeyMiddleware(log),
	})

	addr := ":" + envutil.String("PORT", "8080")
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Info("API server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("API server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown failed", "error", err)
	}
	if shutdownOtel != nil {
		if err := shutdownOtel(shutdownCtx); err != nil {
			log.Warn("Otel shutdown failed", "error", err)
		}
	}
}
