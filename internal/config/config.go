package config

import (
	"fmt"
	"log"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/gratefultolord/payverify_bot/internal/payment"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	AdminBotToken string `env:"ADMIN_BOT_TOKEN,required"`
	BotToken      string `env:"BOT_TOKEN,required"`

	DBDriver   string `env:"DB_DRIVER" envDefault:"postgres"`
	DBUser     string `env:"DB_USER"`
	DBPassword string `env:"DB_PASSWORD"`
	DBName     string `env:"DB_NAME"`
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"payverify.db"`

	RedisURL string `env:"REDIS_URL"`

	// Moderators are seeded into the moderators table on adminbot start.
	Moderators []int64 `env:"MODERATORS" envSeparator:","`

	MinAmount      int64  `env:"MIN_AMOUNT" envDefault:"1000"`
	MaxCorrections int    `env:"MAX_CORRECTIONS" envDefault:"3"`
	ChannelsFile   string `env:"CHANNELS_FILE"`
	DocDir         string `env:"DOC_DIR" envDefault:"doc_files"`

	MetricsAddr string `env:"METRICS_ADDR"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Workers     int    `env:"WORKERS" envDefault:"8"`

	Catalog payment.Catalog
}

func Load() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Printf("config.Load: no .env file found - using env variables")
	}

	return parse(env.Options{})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	switch cfg.DBDriver {
	case DriverPostgres:
		if cfg.DBUser == "" || cfg.DBPassword == "" || cfg.DBName == "" {
			return nil, fmt.Errorf("config.Load: DB_USER, DB_PASSWORD, DB_NAME are required")
		}
	case DriverSQLite:
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("config.Load: SQLITE_PATH is required")
		}
	default:
		return nil, fmt.Errorf("config.Load: unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	if cfg.MinAmount < 0 {
		return nil, fmt.Errorf("config.Load: MIN_AMOUNT must not be negative")
	}

	if cfg.MaxCorrections < 0 {
		return nil, fmt.Errorf("config.Load: MAX_CORRECTIONS must not be negative")
	}

	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	cfg.Catalog = payment.DefaultCatalog
	if cfg.ChannelsFile != "" {
		catalog, err := LoadCatalog(cfg.ChannelsFile)
		if err != nil {
			return nil, err
		}
		cfg.Catalog = catalog
	}

	return cfg, nil
}

// Rules builds the field validation rules from the configuration.
func (c *Config) Rules() payment.Rules {
	rules := payment.DefaultRules()
	rules.MinAmount = c.MinAmount
	rules.Catalog = c.Catalog

	return rules
}

type catalogFile struct {
	Channels payment.Catalog `yaml:"channels"`
}

// LoadCatalog reads the payment channel catalog from a YAML file.
func LoadCatalog(path string) (payment.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.LoadCatalog: %w", err)
	}

	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config.LoadCatalog: %w", err)
	}

	if len(f.Channels) == 0 {
		return nil, fmt.Errorf("config.LoadCatalog: %s has no channels", path)
	}

	seen := make(map[string]bool, len(f.Channels))
	for _, ch := range f.Channels {
		if ch.Code == "" || ch.Name == "" {
			return nil, fmt.Errorf("config.LoadCatalog: channel code and name are required")
		}
		if seen[ch.Code] {
			return nil, fmt.Errorf("config.LoadCatalog: duplicate channel %s", ch.Code)
		}
		seen[ch.Code] = true
	}

	return f.Channels, nil
}
