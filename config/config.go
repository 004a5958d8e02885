package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed brands.yaml
var defaultBrands []byte

type Config struct {
	Store     StoreConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Scheduler SchedulerConfig
	Engine    EngineConfig
	S3        S3Config
	Brands    map[string][]string
}

type StoreConfig struct {
	Driver      string // postgres or sqlite
	DatabaseURL string
	DBPath      string
}

type LogConfig struct {
	Level string
	File  string
}

type HTTPConfig struct {
	Addr          string
	CORSOrigins   []string
	RunRatePerMin int
}

type SchedulerConfig struct {
	NormalizeCron string
	DetectCron    string
	Interval      time.Duration
}

// EngineConfig holds the invocation defaults
type EngineConfig struct {
	NormalizeLimit  int
	DetectLimit     int
	DetectThreshold float64
	MaxBatch        int
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional, for DO Spaces, R2, MinIO
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether run reports should be archived.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Store: StoreConfig{
			Driver:      getEnv("STORE_DRIVER", "postgres"),
			DatabaseURL: os.Getenv("DATABASE_URL"),
			DBPath:      getEnv("DB_PATH", "autolist.db"),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  os.Getenv("LOG_FILE"),
		},
		HTTP: HTTPConfig{
			Addr:          getEnv("HTTP_ADDR", ":8080"),
			CORSOrigins:   splitList(getEnv("CORS_ORIGINS", "*")),
			RunRatePerMin: getEnvInt("RUN_RATE_PER_MIN", 6),
		},
		Scheduler: SchedulerConfig{
			NormalizeCron: os.Getenv("NORMALIZE_CRON"),
			DetectCron:    os.Getenv("DETECT_CRON"),
		},
		Engine: EngineConfig{
			NormalizeLimit:  getEnvInt("NORMALIZE_LIMIT", 50),
			DetectLimit:     getEnvInt("DETECT_LIMIT", 100),
			DetectThreshold: getEnvFloat("DETECT_THRESHOLD", 0.7),
			MaxBatch:        getEnvInt("MAX_BATCH", 500),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
	}

	if interval := os.Getenv("SCHEDULE_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err == nil {
			cfg.Scheduler.Interval = d
		}
	}

	brands, err := LoadBrands(os.Getenv("BRANDS_FILE"))
	if err != nil {
		return nil, err
	}
	cfg.Brands = brands

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values Load cannot repair with a default.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return eris.New("config: DATABASE_URL is required for the postgres store")
		}
	case "sqlite":
		if c.Store.DBPath == "" {
			return eris.New("config: DB_PATH is required for the sqlite store")
		}
	default:
		return eris.Errorf("config: unknown STORE_DRIVER %q", c.Store.Driver)
	}
	if c.Engine.DetectThreshold < 0 || c.Engine.DetectThreshold > 1 {
		return eris.Errorf("config: DETECT_THRESHOLD must be within [0,1], got %v", c.Engine.DetectThreshold)
	}
	if c.Engine.MaxBatch <= 0 {
		return eris.Errorf("config: MAX_BATCH must be positive, got %d", c.Engine.MaxBatch)
	}
	if c.Engine.NormalizeLimit <= 0 || c.Engine.NormalizeLimit > c.Engine.MaxBatch {
		return eris.Errorf("config: NORMALIZE_LIMIT must be within [1,%d] (MAX_BATCH), got %d", c.Engine.MaxBatch, c.Engine.NormalizeLimit)
	}
	if c.Engine.DetectLimit <= 0 || c.Engine.DetectLimit > c.Engine.MaxBatch {
		return eris.Errorf("config: DETECT_LIMIT must be within [1,%d] (MAX_BATCH), got %d", c.Engine.MaxBatch, c.Engine.DetectLimit)
	}
	return nil
}

type brandsFile struct {
	Brands map[string][]string `yaml:"brands"`
}

// LoadBrands reads the canonical brand dictionary from path, or the embedded
// default when path is empty.
func LoadBrands(path string) (map[string][]string, error) {
	data := defaultBrands
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "config: read brands file %s", path)
		}
		data = b
	}

	var f brandsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "config: parse brands")
	}
	if len(f.Brands) == 0 {
		return nil, eris.New("config: brand dictionary is empty")
	}
	return f.Brands, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
