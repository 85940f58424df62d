package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the server configuration, read from the environment.
type Config struct {
	Env         string `envconfig:"ENV" default:"development"`
	Port        int    `envconfig:"PORT" default:"3000"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9091"`

	QueueName  string `envconfig:"QUEUE_NAME" default:"burger"`
	JournalURL string `envconfig:"JOURNAL_URL" default:"memory"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	RabbitURL  string `envconfig:"RABBITMQ_URL"`

	WorkerConcurrency   int           `envconfig:"WORKER_CONCURRENCY" default:"1"`
	LeaseDuration       time.Duration `envconfig:"LEASE_DURATION" default:"30s"`
	MaxStalls           int           `envconfig:"MAX_STALLS" default:"1"`
	MaintenanceInterval time.Duration `envconfig:"MAINTENANCE_INTERVAL" default:"5s"`
	PollInterval        time.Duration `envconfig:"POLL_INTERVAL" default:"1s"`

	InitialOrders    int           `envconfig:"INITIAL_ORDERS" default:"10"`
	PrepSteps        int           `envconfig:"PREP_STEPS" default:"10"`
	PrepStepInterval time.Duration `envconfig:"PREP_STEP_INTERVAL" default:"1s"`
	BurnRate         float64       `envconfig:"BURN_RATE" default:"0.1"`
}

// ClientConfig is what the HTTP clients (simulator, burgerctl) need.
type ClientConfig struct {
	Env    string `envconfig:"ENV" default:"development"`
	APIURL string `envconfig:"API_URL" default:"http://localhost:3000"`
}

func (c Config) Production() bool {
	return isProduction(c.Env)
}

func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, errors.New("PORT must be between 1 and 65535"))
	}
	if c.QueueName == "" {
		errs = append(errs, errors.New("QUEUE_NAME must not be empty"))
	}
	if c.WorkerConcurrency < 1 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY must be at least 1"))
	}
	if c.LeaseDuration <= 0 {
		errs = append(errs, errors.New("LEASE_DURATION must be positive"))
	}
	if c.MaxStalls < 0 {
		errs = append(errs, errors.New("MAX_STALLS must not be negative"))
	}
	if c.InitialOrders < 0 {
		errs = append(errs, errors.New("INITIAL_ORDERS must not be negative"))
	}
	if c.PrepSteps < 1 {
		errs = append(errs, errors.New("PREP_STEPS must be at least 1"))
	}
	if c.BurnRate < 0 || c.BurnRate > 1 {
		errs = append(errs, errors.New("BURN_RATE must be between 0 and 1"))
	}
	return errors.Join(errs...)
}

// Load reads .env (outside production) and then the environment into cfg.
func Load(cfg any) error {
	if !isProduction(os.Getenv("ENV")) {
		if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("unable to load .env file", "error", err)
		}
	}
	return envconfig.Process("", cfg)
}

func isProduction(env string) bool {
	return env == "production" || env == "prod"
}
