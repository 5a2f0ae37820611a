package configuration

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/inventory-core/pkg/logging"
)

const Production = "production"

var singleton = sync.OnceValue(func() *Configuration {
	c := &Configuration{}
	if err := c.load([]string{".env", ".env.local"}); err != nil {
		c.Unload()
		panic(err)
	}
	return c
})

func LoadEnv(envFiles []string) (int, error) {
	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

type DatabaseOptions struct {
	Opts     string `env:"-"`
	Name     string `env:"DB_NAME" envDefault:"inventory_core"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
}

func (d *DatabaseOptions) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Name, d.Password,
	)
}

type PrometheusOptions struct {
	Enabled bool   `env:"PROMETHEUS_METRICS_ENABLED" envDefault:"false"`
	Path    string `env:"PROMETHEUS_METRICS_PATH" envDefault:"/debug/prometheus"`
}

// InvariantOptions configures the inventory invariant auditor.
type InvariantOptions struct {
	// Trailing window for receipt/QC completeness checks.
	WindowDays int `env:"INVENTORY_INVARIANT_WINDOW_DAYS" envDefault:"7"`

	// Reservation-vs-balance reconciliation tolerance and sample size.
	ReconTolerance string `env:"RESERVATION_BALANCE_RECON_TOLERANCE" envDefault:"0.000001"`
	ReconLimit     int    `env:"RESERVATION_BALANCE_RECON_LIMIT" envDefault:"5"`

	// Strict mode converts nonzero strict-tracked findings into a thrown
	// aggregate error after the full sweep.
	Strict bool `env:"INVARIANTS_STRICT" envDefault:"false"`

	// CSV tenant scoping, used when the caller passes no explicit list.
	TenantIDs string `env:"INVARIANTS_TENANT_IDS" envDefault:""`
	TenantID  string `env:"INVARIANTS_TENANT_ID" envDefault:""`

	tolerance decimal.Decimal
}

func (o *InvariantOptions) Tolerance() decimal.Decimal {
	return o.tolerance
}

// TenantScope returns the CSV-configured tenant ids, or nil when unscoped.
func (o *InvariantOptions) TenantScope() []uuid.UUID {
	raw := strings.TrimSpace(o.TenantIDs)
	if raw == "" {
		raw = strings.TrimSpace(o.TenantID)
	}
	if raw == "" {
		return nil
	}
	var out []uuid.UUID
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := uuid.Parse(part)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (o *InvariantOptions) validate() error {
	if o.WindowDays <= 0 {
		return fmt.Errorf("INVENTORY_INVARIANT_WINDOW_DAYS must be positive, got %d", o.WindowDays)
	}
	if o.ReconLimit < 0 {
		return fmt.Errorf("RESERVATION_BALANCE_RECON_LIMIT must be non-negative, got %d", o.ReconLimit)
	}
	tol, err := decimal.NewFromString(strings.TrimSpace(o.ReconTolerance))
	if err != nil {
		return fmt.Errorf("invalid RESERVATION_BALANCE_RECON_TOLERANCE=%q: %w", o.ReconTolerance, err)
	}
	if tol.IsNegative() {
		return fmt.Errorf("RESERVATION_BALANCE_RECON_TOLERANCE must be non-negative, got %s", tol)
	}
	o.tolerance = tol

	for _, raw := range []string{o.TenantIDs, o.TenantID} {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if _, err := uuid.Parse(part); err != nil {
				return fmt.Errorf("invalid invariant tenant scope entry=%q: %w", part, err)
			}
		}
	}
	return nil
}

type Configuration struct {
	Database   DatabaseOptions
	Prometheus PrometheusOptions
	Invariants InvariantOptions

	MigrationsDir    string `env:"MIGRATIONS_DIR" envDefault:"migrations"`
	GoAppEnvironment string `env:"GO_APP_ENV" envDefault:"development"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"error"`
	LogPath          string `env:"LOG_PATH" envDefault:"./logs/app.log"`

	logFile *os.File
	logger  *logrus.Logger
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch c.LogLevel {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.ErrorLevel
	}
}

func Use() *Configuration {
	return singleton()
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}
	if err := env.Parse(c); err != nil {
		return err
	}

	if err := c.Invariants.validate(); err != nil {
		return fmt.Errorf("invariant configuration error: %w", err)
	}

	f, logger, err := logging.FileLogger(c.LogrusLogLevel(), c.LogPath)
	if err != nil {
		// Unwritable log path degrades to stderr-only logging.
		logger = logging.ConsoleLogger(c.LogrusLogLevel())
	} else {
		c.logFile = f
	}
	c.logger = logger

	c.Database.Opts = c.Database.ConnectionString()
	return nil
}

// Unload handles a graceful shutdown.
func (c *Configuration) Unload() {
	if c.logFile != nil {
		if err := c.logFile.Close(); err != nil {
			log.Printf("Failed to close log file: %v", err)
		}
	}
}
