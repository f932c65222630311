package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`
	// Optionales Replikat für lesende Zugriffe; leer bedeutet: alles geht an die Primary.
	DBReplicaHost string `envconfig:"DB_REPLICA_HOST"`
	DBReadOnly    bool   `envconfig:"DB_READ_ONLY" default:"false"`

	HTTPPort string `envconfig:"HTTP_PORT" default:"4242"`

	WikiAPIURL    string `envconfig:"WIKI_API_URL" default:"https://en.wikipedia.org/w/api.php"`
	WikiUserAgent string `envconfig:"WIKI_USER_AGENT" default:"linkrec/1.0"`

	// Link-Recommendation-Service
	ServiceURL      string        `envconfig:"LINK_SERVICE_URL" required:"true"`
	ServiceProject  string        `envconfig:"LINK_SERVICE_PROJECT" default:"wikipedia"`
	ServiceLanguage string        `envconfig:"LINK_SERVICE_LANGUAGE" default:"en"`
	ServiceTimeout  time.Duration `envconfig:"LINK_SERVICE_TIMEOUT" default:"30s"`

	// Ohne gespeicherte Empfehlung direkt den Dienst fragen, statt "keine Empfehlung" zu melden.
	ServeLiveRecommendations bool `envconfig:"SERVE_LIVE_RECOMMENDATIONS" default:"false"`

	SearchIndexURL string `envconfig:"SEARCH_INDEX_URL" required:"true"`

	TaskTypeConfigPath string `envconfig:"TASK_TYPE_CONFIG" default:"tasktype.yaml"`

	RefreshSchedule     string  `envconfig:"REFRESH_SCHEDULE" default:"*/30 * * * *"`
	RefreshBatchSize    int     `envconfig:"REFRESH_BATCH_SIZE" default:"100"`
	RefreshRatePerSec   float64 `envconfig:"REFRESH_RATE_PER_SEC" default:"2"`
	MaintenanceSchedule string  `envconfig:"MAINTENANCE_SCHEDULE" default:"0 3 * * *"`
	MaintenanceBatch    int     `envconfig:"MAINTENANCE_BATCH_SIZE" default:"500"`

	DeferredWorkers int           `envconfig:"DEFERRED_WORKERS" default:"2"`
	DeferredBuffer  int           `envconfig:"DEFERRED_BUFFER" default:"256"`
	DeferredTimeout time.Duration `envconfig:"DEFERRED_TIMEOUT" default:"30s"`
	// Zeitfenster, in dem Tag-Resets im Suchindex zusammengefasst werden dürfen.
	SearchIndexJoinWindow time.Duration `envconfig:"SEARCH_INDEX_JOIN_WINDOW" default:"10s"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return c.dsn(c.DBHost)
}

// ReplicaDSN gibt den DSN des Replikats zurück, oder den der Primary, wenn keins konfiguriert ist.
func (c *Config) ReplicaDSN() string {
	if c.DBReplicaHost == "" {
		return c.DSN()
	}
	return c.dsn(c.DBReplicaHost)
}

func (c *Config) dsn(host string) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		host, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate prüft Batch-Größen und Worker-Anzahl.
func (c *Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"REFRESH_BATCH_SIZE", c.RefreshBatchSize},
		{"MAINTENANCE_BATCH_SIZE", c.MaintenanceBatch},
		{"DEFERRED_WORKERS", c.DeferredWorkers},
	}
	for _, p := range positive {
		if p.value < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", p.name, p.value)
		}
	}
	if c.DeferredBuffer < 0 {
		return fmt.Errorf("DEFERRED_BUFFER must not be negative, got %d", c.DeferredBuffer)
	}
	return nil
}
