package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/padhaihub/padhai-backend/internal/platform/envutil"
	"github.com/padhaihub/padhai-backend/internal/platform/logger"
	"github.com/padhaihub/padhai-backend/internal/types"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	host := envutil.String("POSTGRES_HOST", "localhost")
	port := envutil.String("POSTGRES_PORT", "5432")
	user := envutil.String("POSTGRES_USER", "postgres")
	password := envutil.String("POSTGRES_PASSWORD", "")
	name := envutil.String("POSTGRES_NAME", "padhai")

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)

	serviceLog.Info("Connecting to Postgres...", "host", host, "db", name)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return nil, fmt.Errorf("enable uuid-ossp extension: %w", err)
	}

	return &PostgresService{db: db, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	err := s.db.AutoMigrate(
		&types.Subject{},
		&types.Chapter{},
		&types.Topic{},

		&types.HydrationJob{},
		&types.OutboxMessage{},
		&types.WorkerLifecycle{},

		&types.TopicNote{},
		&types.GeneratedQuestion{},
		&types.GeneratedTest{},

		&types.SystemSetting{},
		&types.AuditLog{},
		&types.AICallLog{},
	)
	if err != nil {
		s.log.Error("Auto migration failed for postgres tables", "error", err)
		return err
	}

	// Partial unique index backing the in-flight idempotency invariant: at most
	// one pending/running job per (job_type, scope, language, difficulty).
	// NULL scope columns are coalesced so subject- and topic-scoped tuples land
	// in the same index.
	if err := s.db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS uniq_hydration_job_inflight
		ON hydration_job (
			job_type,
			subject_id,
			COALESCE(chapter_id, '00000000-0000-0000-0000-000000000000'::uuid),
			COALESCE(topic_id,   '00000000-0000-0000-0000-000000000000'::uuid),
			language,
			difficulty
		)
		WHERE status IN ('pending', 'running') AND deleted_at IS NULL
	`).Error; err != nil {
		return fmt.Errorf("create uniq_hydration_job_inflight: %w", err)
	}

	s.log.Info("Configuring foreign key relationships for postgres tables...")
	if err := s.db.Exec(`
		DO $$ BEGIN
			ALTER TABLE "chapter"
			ADD CONSTRAINT "fk_chapter_subject_id"
			FOREIGN KEY ("subject_id") REFERENCES "subject"("id") ON DELETE CASCADE;
		EXCEPTION WHEN duplicate_object THEN NULL;
		END $$;
	`).Error; err != nil {
		return fmt.Errorf("add fk_chapter_subject_id: %w", err)
	}
	if err := s.db.Exec(`
		DO $$ BEGIN
			ALTER TABLE "topic"
			ADD CONSTRAINT "fk_topic_chapter_id"
			FOREIGN KEY ("chapter_id") REFERENCES "chapter"("id") ON DELETE CASCADE;
		EXCEPTION WHEN duplicate_object THEN NULL;
		END $$;
	`).Error; err != nil {
		return fmt.Errorf("add fk_topic_chapter_id: %w", err)
	}
	if err := s.db.Exec(`
		DO $$ BEGIN
			ALTER TABLE "hydration_outbox"
			ADD CONSTRAINT "fk_hydration_outbox_job_id"
			FOREIGN KEY ("job_id") REFERENCES "hydration_job"("id") ON DELETE CASCADE;
		EXCEPTION WHEN duplicate_object THEN NULL;
		END $$;
	`).Error; err != nil {
		return fmt.Errorf("add fk_hydration_outbox_job_id: %w", err)
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}
