// Package config loads the priceetl runtime configuration.
//
// Sources are applied in order: defaults, the optional JSON file, a .env file
// in the working directory, then PRICEETL_* environment variables. The result
// is validated before it is returned.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

// Duration is a time.Duration that decodes from "30s"-style strings or from
// a number of seconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		d.Duration = time.Duration(x * float64(time.Second))
		return nil
	case string:
		p, err := time.ParseDuration(x)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", x, err)
		}
		d.Duration = p
		return nil
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
}

type Storage struct {
	Kind         string `json:"kind" validate:"required,oneof=sqlite postgres mssql"`
	DSN          string `json:"dsn" validate:"required"`
	MaxOpenConns int    `json:"max_open_conns" validate:"gte=0"`
}

type Log struct {
	Level  string `json:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	Format string `json:"format" validate:"omitempty,oneof=text json"`
}

type Import struct {
	ChunkSize        int    `json:"chunk_size" validate:"gte=1,lte=100000"`
	ProgressEvery    int    `json:"progress_every" validate:"gte=1"`
	DataSource       string `json:"data_source" validate:"required"`
	TriggerWarehouse bool   `json:"trigger_warehouse"`
}

type Warehouse struct {
	BatchSize           int      `json:"batch_size" validate:"gte=1"`
	IncrementalLookback Duration `json:"incremental_lookback"`
}

type Export struct {
	Dir string `json:"dir" validate:"required"`
}

// Retry is the policy applied by jobs.Runner to one task kind.
type Retry struct {
	Attempts       int      `json:"attempts" validate:"gte=1"`
	Timeout        Duration `json:"timeout"`
	InitialBackoff Duration `json:"initial_backoff"`
	MaxBackoff     Duration `json:"max_backoff"`
}

type Jobs struct {
	Import    Retry `json:"import"`
	Warehouse Retry `json:"warehouse"`
}

type Lock struct {
	Kind string   `json:"kind" validate:"required,oneof=local redis"`
	TTL  Duration `json:"ttl"`
}

type Redis struct {
	Addr     string `json:"addr" validate:"required_if=Enabled true"`
	Password string `json:"password"`
	DB       int    `json:"db" validate:"gte=0"`
	Enabled  bool   `json:"-"`
}

type Queue struct {
	Kind         string `json:"kind" validate:"required,oneof=inline pubsub"`
	Project      string `json:"project" validate:"required_if=Kind pubsub"`
	Topic        string `json:"topic" validate:"required_if=Kind pubsub"`
	Subscription string `json:"subscription"`
}

type Schedule struct {
	// DailyAt is the HH:MM of the incremental load.
	DailyAt string `json:"daily_at" validate:"omitempty,datetime=15:04"`
	// WeeklyAt is the HH:MM of the Sunday full refresh.
	WeeklyAt string   `json:"weekly_at" validate:"omitempty,datetime=15:04"`
	Tick     Duration `json:"tick"`
}

// GCP holds Google Cloud client settings shared by Pub/Sub and Cloud Storage.
// Empty credentials fall back to Application Default Credentials.
type GCP struct {
	CredentialsJSON string `json:"credentials_json"`
}

// ClientOptions returns the options every Google Cloud client is built with.
func (g GCP) ClientOptions() []option.ClientOption {
	if strings.TrimSpace(g.CredentialsJSON) == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsJSON([]byte(g.CredentialsJSON))}
}

type API struct {
	Addr string `json:"addr" validate:"required"`
}

type Metrics struct {
	Backend    string   `json:"backend" validate:"omitempty,oneof=none datadog"`
	Tags       []string `json:"tags"`
	FlushEvery Duration `json:"flush_every"`
}

// Config is the full runtime configuration.
type Config struct {
	Storage   Storage   `json:"storage"`
	Log       Log       `json:"log"`
	Import    Import    `json:"import"`
	Warehouse Warehouse `json:"warehouse"`
	Export    Export    `json:"export"`
	Jobs      Jobs      `json:"jobs"`
	Lock      Lock      `json:"lock"`
	Redis     Redis     `json:"redis"`
	Queue     Queue     `json:"queue"`
	Schedule  Schedule  `json:"schedule"`
	GCP       GCP       `json:"gcp"`
	API       API       `json:"api"`
	Metrics   Metrics   `json:"metrics"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Storage: Storage{Kind: "sqlite", DSN: "storage/priceetl.db"},
		Log:     Log{Level: "info", Format: "text"},
		Import: Import{
			ChunkSize:        1000,
			ProgressEvery:    1000,
			DataSource:       "kaggle-import",
			TriggerWarehouse: true,
		},
		Warehouse: Warehouse{
			BatchSize:           500,
			IncrementalLookback: Duration{7 * 24 * time.Hour},
		},
		Export: Export{Dir: "storage/exports"},
		Jobs: Jobs{
			Import: Retry{
				Attempts:       3,
				Timeout:        Duration{time.Hour},
				InitialBackoff: Duration{5 * time.Second},
				MaxBackoff:     Duration{time.Minute},
			},
			Warehouse: Retry{
				Attempts:       1,
				Timeout:        Duration{time.Hour},
				InitialBackoff: Duration{5 * time.Second},
				MaxBackoff:     Duration{time.Minute},
			},
		},
		Lock:     Lock{Kind: "local", TTL: Duration{time.Hour}},
		Redis:    Redis{Addr: "localhost:6379"},
		Queue:    Queue{Kind: "inline", Topic: "priceetl-jobs", Subscription: "priceetl-worker"},
		Schedule: Schedule{DailyAt: "02:00", WeeklyAt: "01:00", Tick: Duration{30 * time.Second}},
		API:      API{Addr: ":8080"},
		Metrics:  Metrics{Backend: "none", FlushEvery: Duration{time.Minute}},
	}
}

// Load reads path (optional) over the defaults, applies the environment and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// A missing .env is the normal case.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	set := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set("PRICEETL_STORAGE_KIND", &cfg.Storage.Kind)
	set("PRICEETL_STORAGE_DSN", &cfg.Storage.DSN)
	set("PRICEETL_LOG_LEVEL", &cfg.Log.Level)
	set("PRICEETL_LOG_FORMAT", &cfg.Log.Format)
	set("PRICEETL_QUEUE_KIND", &cfg.Queue.Kind)
	set("PRICEETL_PUBSUB_PROJECT", &cfg.Queue.Project)
	set("PRICEETL_PUBSUB_TOPIC", &cfg.Queue.Topic)
	set("PRICEETL_LOCK_KIND", &cfg.Lock.Kind)
	set("PRICEETL_REDIS_ADDR", &cfg.Redis.Addr)
	set("PRICEETL_REDIS_PASSWORD", &cfg.Redis.Password)
	set("PRICEETL_GCP_CREDENTIALS_JSON", &cfg.GCP.CredentialsJSON)
	set("PRICEETL_EXPORT_DIR", &cfg.Export.Dir)
	set("PRICEETL_API_ADDR", &cfg.API.Addr)
	set("METRICS_BACKEND", &cfg.Metrics.Backend)

	if v := strings.TrimSpace(getenv("METRICS_TAGS")); v != "" {
		cfg.Metrics.Tags = nil
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				cfg.Metrics.Tags = append(cfg.Metrics.Tags, t)
			}
		}
	}
	if v := strings.TrimSpace(getenv("PRICEETL_CHUNK_SIZE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PRICEETL_CHUNK_SIZE: %w", err)
		}
		cfg.Import.ChunkSize = n
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints. Redis settings are only required when
// the redis lock is selected.
func (c *Config) Validate() error {
	c.Redis.Enabled = c.Lock.Kind == "redis"
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ParseClock parses "HH:MM" into hour and minute.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}
