package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"linkrec/storage"
)

type BackupConfig struct {
	PostgresHost     string `envconfig:"DB_REPLICA_HOST"`
	PostgresPrimary  string `envconfig:"DB_HOST" required:"true"`
	PostgresPort     int    `envconfig:"DB_PORT" default:"5432"`
	PostgresUser     string `envconfig:"DB_USER" required:"true"`
	PostgresPassword string `envconfig:"DB_PASSWORD" required:"true"`
	PostgresDB       string `envconfig:"DB_NAME" required:"true"`
	BackupBucket     string `envconfig:"BACKUP_S3_BUCKET" required:"true"`
	BackupEndpoint   string `envconfig:"BACKUP_S3_ENDPOINT" required:"true"`
	BackupAccessKey  string `envconfig:"BACKUP_S3_ACCESS_KEY" required:"true"`
	BackupSecretKey  string `envconfig:"BACKUP_S3_SECRET_KEY" required:"true"`
	BackupRegion     string `envconfig:"BACKUP_S3_REGION" required:"true"`
	BackupPrefix     string `envconfig:"BACKUP_PREFIX" default:"exports/"`
	KeepBackups      int    `envconfig:"KEEP_BACKUPS" default:"4"`
	BatchSize        int    `envconfig:"EXPORT_BATCH_SIZE" default:"1000"`
}

func (c BackupConfig) validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("EXPORT_BATCH_SIZE must be at least 1, got %d", c.BatchSize)
	}
	if c.KeepBackups < 1 {
		return fmt.Errorf("KEEP_BACKUPS must be at least 1, got %d", c.KeepBackups)
	}
	return nil
}

// dsn liest bevorzugt vom Replikat; der Export braucht keine Primary-Konsistenz.
func (c BackupConfig) dsn() string {
	host := c.PostgresHost
	if host == "" {
		host = c.PostgresPrimary
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		host, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresPort)
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()
	logging.Info("Starting export...")

	_ = godotenv.Load()
	var cfg BackupConfig
	if err := envconfig.Process("", &cfg); err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}
	if err := cfg.validate(); err != nil {
		logging.Fatal("Invalid config", zap.Error(err))
	}

	ctx := context.Background()
	db, err := gorm.Open(postgres.Open(cfg.dsn()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	store := storage.NewStore(db, nil, nil, logging)

	s3Client, err := storage.NewS3Client(ctx, cfg.BackupEndpoint, cfg.BackupRegion, cfg.BackupAccessKey, cfg.BackupSecretKey)
	if err != nil {
		logging.Fatal("S3 client creation failed", zap.Error(err))
	}

	stamp := time.Now().UTC().Format("2006-01-02T15-04-05Z")
	if err := run(ctx, store, s3Client, cfg, stamp, logging); err != nil {
		logging.Fatal("Export failed", zap.Error(err))
	}
	logging.Info("Export finished.")
}

// run exportiert Empfehlungen und Feedback und rotiert danach alte Exporte.
func run(ctx context.Context, store *storage.Store, objects storage.ObjectStore, cfg BackupConfig, stamp string, logging *zap.Logger) error {
	exports := []struct {
		name  string
		write func(ctx context.Context, store *storage.Store, batchSize int, w io.Writer) (int, error)
	}{
		{"recommendations", exportRecommendations},
		{"feedback", exportFeedback},
	}

	for _, e := range exports {
		data, n, err := compress(func(w io.Writer) (int, error) {
			return e.write(ctx, store, cfg.BatchSize, w)
		})
		if err != nil {
			return fmt.Errorf("export %s: %w", e.name, err)
		}

		prefix := cfg.BackupPrefix + e.name + "-"
		key := prefix + stamp + ".jsonl.gz"
		if err := storage.UploadObject(ctx, objects, cfg.BackupBucket, key, data); err != nil {
			return err
		}
		logging.Info("Export uploaded", zap.String("key", key), zap.Int("rows", n), zap.Int("bytes", len(data)))

		deleted, err := storage.RotateObjects(ctx, objects, cfg.BackupBucket, prefix, cfg.KeepBackups)
		if err != nil {
			return fmt.Errorf("rotate %s exports: %w", e.name, err)
		}
		for _, k := range deleted {
			logging.Info("Deleted old export", zap.String("key", k))
		}
	}
	return nil
}

func compress(write func(w io.Writer) (int, error)) ([]byte, int, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	n, err := write(gz)
	if err != nil {
		return nil, 0, err
	}
	if err := gz.Close(); err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), n, nil
}

// exportRecommendations schreibt eine Empfehlung pro Zeile.
func exportRecommendations(ctx context.Context, store *storage.Store, batchSize int, w io.Writer) (int, error) {
	enc := json.NewEncoder(w)
	count := 0
	var from int64
	for {
		page, err := store.IterateAll(ctx, batchSize, from)
		if err != nil {
			return count, err
		}
		for _, rec := range page.Recommendations {
			if err := enc.Encode(rec); err != nil {
				return count, err
			}
			count++
		}
		if page.Next == nil {
			return count, nil
		}
		from = *page.Next
	}
}

// exportFeedback schreibt eine Feedback-Zeile pro Zeile.
func exportFeedback(ctx context.Context, store *storage.Store, batchSize int, w io.Writer) (int, error) {
	enc := json.NewEncoder(w)
	count := 0
	var after uint
	for {
		rows, err := store.IterateFeedback(ctx, batchSize, after)
		if err != nil {
			return count, err
		}
		for _, row := range rows {
			if err := enc.Encode(row); err != nil {
				return count, err
			}
			count++
			after = row.ID
		}
		if len(rows) < batchSize {
			return count, nil
		}
	}
}
