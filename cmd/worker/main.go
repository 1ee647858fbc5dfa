package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/padhaihub/padhai-backend/internal/alerting"
	"github.com/padhaihub/padhai-backend/internal/db"
	"github.com/padhaihub/padhai-backend/internal/jobs/pipeline"
	"github.com/padhaihub/padhai-backend/internal/jobs/runtime"
	"github.com/padhaihub/padhai-backend/internal/jobs/worker"
	"github.com/padhaihub/padhai-backend/internal/observability"
	"github.com/padhaihub/padhai-backend/internal/platform/envutil"
	"github.com/padhaihub/padhai-backend/internal/platform/logger"
	"github.com/padhaihub/padhai-backend/internal/platform/openai"
	"github.com/padhaihub/padhai-backend/internal/platform/sendgrid"
	"github.com/padhaihub/padhai-backend/internal/queue"
	"github.com/padhaihub/padhai-backend/internal/repos"
	"github.com/padhaihub/padhai-backend/internal/services"
)

const serviceName = "padhai-worker"

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
	lifecycleRepo := repos.NewWorkerLifecycleRepo(thePG, log)
	taxonomyRepo := repos.NewTaxonomyRepo(thePG, log)
	contentRepo := repos.NewContentRepo(thePG, log)
	settingRepo := repos.NewSystemSettingRepo(thePG, log)
	auditRepo := repos.NewAuditLogRepo(thePG, log)
	aiCallRepo := repos.NewAICallLogRepo(thePG, log)

	// Queue
	publisher, err := queue.NewRedisPublisher(log)
	if err != nil {
		log.Fatal("Redis publisher init failed", "error", err)
	}
	defer publisher.Close()

	// Alerting
	notifier := buildNotifier(log)

	// Generation
	aiClient, err := openai.NewFromEnv(log)
	if err != nil {
		log.Fatal("OpenAI client init failed", "error", err)
	}
	genService := services.NewGenerationService(log, aiClient, aiCallRepo, services.GenerationConfigFromEnv())

	// Services
	hydrationService := services.NewHydrationService(thePG, log, jobRepo, outboxRepo, taxonomyRepo, contentRepo, settingRepo)
	reconciler := services.NewReconciler(thePG, log, jobRepo, taxonomyRepo, contentRepo, auditRepo, hydrationService)
	watchdog := services.NewWatchdog(thePG, log, lifecycleRepo, auditRepo, notifier)
	dispatcher := services.NewOutboxDispatcher(thePG, log, outboxRepo, publisher)

	// Pipelines
	registry := runtime.NewRegistry()
	mustRegister(log, registry,
		pipeline.NewSyllabusPipeline(thePG, log, jobRepo, taxonomyRepo, genService),
		pipeline.NewNotesPipeline(thePG, log, taxonomyRepo, contentRepo, genService),
		pipeline.NewQuestionsPipeline(thePG, log, taxonomyRepo, contentRepo, genService),
		pipeline.NewTestsPipeline(thePG, log, contentRepo),
	)

	w := worker.New(thePG, log, jobRepo, lifecycleRepo, registry)
	if err := w.Start(ctx); err != nil {
		log.Fatal("Worker start failed", "error", err)
	}
	watchdog.Start(ctx)

	// Periodic sweeps. Seconds-resolution cron so the dispatcher stays snappy.
	scheduler := cron.New(cron.WithSeconds())
	mustSchedule(log, scheduler, envutil.String("DISPATCH_SCHEDULE", "*/2 * * * * *"), func() {
		if _, err := dispatcher.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error("Outbox dispatch sweep failed", "error", err)
		}
	})
	mustSchedule(log, scheduler, envutil.String("RECONCILE_SCHEDULE", "*/10 * * * * *"), func() {
		if _, err := reconciler.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error("Reconcile sweep failed", "error", err)
			notifier.Notify(ctx, alerting.Alert{
				Title:    "Reconcile sweep failed",
				Message:  err.Error(),
				Severity: alerting.SeverityWarning,
				Source:   "reconciler",
			})
		}
	})
	scheduler.Start()

	log.Info("Worker process running", "worker_id", w.WorkerID())

	<-ctx.Done()
	log.Info("Shutting down...")
	schedCtx := scheduler.Stop()
	select {
	case <-schedCtx.Done():
	case <-time.After(10 * time.Second):
		log.Warn("Scheduler jobs still running at shutdown deadline")
	}
	watchdog.Stop()
	w.Stop()

	if shutdownOtel != nil {
		shutdownTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(shutdownTimeout); err != nil {
			log.Warn("Otel shutdown failed", "error", err)
		}
	}
}

func mustRegister(log *logger.Logger, registry *runtime.Registry, hs ...runtime.Handler) {
	for _, h := range hs {
		if err := registry.Register(h); err != nil {
			log.Fatal("Handler registration failed", "error", err)
		}
	}
}

func mustSchedule(log *logger.Logger, scheduler *cron.Cron, spec string, fn func()) {
	if _, err := scheduler.AddFunc(spec, fn); err != nil {
		log.Fatal("Cron schedule failed", "spec", spec, "error", err)
	}
}

// buildNotifier assembles the alert router from whatever channels are
// configured. The log sink is always present; slack, webhook, and email join
// when their settings exist.
func buildNotifier(log *logger.Logger) alerting.Notifier {
	cfg, err := alerting.LoadConfig(envutil.String("ALERT_CONFIG_PATH", ""))
	if err != nil {
		log.Warn("Alert config load failed, using defaults", "error", err)
	}
	sinks := []alerting.Sink{alerting.NewLogSink(log)}
	if url := envutil.String("SLACK_WEBHOOK_URL", ""); url != "" {
		sinks = append(sinks, alerting.NewSlackSink(url))
	}
	if url := envutil.String("ALERT_WEBHOOK_URL", ""); url != "" {
		sinks = append(sinks, alerting.NewWebhookSink(url))
	}
	if recipients := envutil.String("ALERT_EMAIL_TO", ""); recipients != "" {
		sg, err := sendgrid.NewFromEnv(log)
		if err != nil {
			log.Warn("Sendgrid init failed, email alerts disabled", "error", err)
		} else {
			sinks = append(sinks, alerting.NewEmailSink(sg, strings.Split(recipients, ",")))
		}
	}
	return alerting.NewRouter(log, cfg, sinks...)
}
