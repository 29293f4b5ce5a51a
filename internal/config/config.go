package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Questions struct {
		TTL string `yaml:"ttl"`
	} `yaml:"questions"`
	Competition struct {
		AdvanceNotice string `yaml:"advance_notice"`
		SweepInterval string `yaml:"sweep_interval"`
		Points        struct {
			Participation int         `yaml:"participation"`
			PerScorePoint float64     `yaml:"per_score_point"`
			RankBonus     map[int]int `yaml:"rank_bonus"`
		} `yaml:"points"`
		Rewards map[int]string `yaml:"rewards"`
	} `yaml:"competition"`
	Email struct {
		Sender       string `yaml:"sender"`
		MaxRetries   *int   `yaml:"max_retries"`
		Backoff      string `yaml:"backoff"`
		BaseDelay    string `yaml:"base_delay"`
		MaxDelay     string `yaml:"max_delay"`
		BatchSize    int    `yaml:"batch_size"`
		PollInterval string `yaml:"poll_interval"`
		LeaseTTL     string `yaml:"lease_ttl"`
	} `yaml:"email"`
	SMTP struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"smtp"`
}

// Load reads YAML config from path, then applies environment overrides.
// A missing file yields an all-defaults config.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return cfg, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv lets deployments keep secrets out of the YAML file.
func applyEnv(cfg *Config) {
	setString(&cfg.Postgres.URL, "DATABASE_URL")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Email.Sender, "EMAIL_SENDER")
	setString(&cfg.SMTP.Host, "SMTP_HOST")
	setString(&cfg.SMTP.Username, "SMTP_USERNAME")
	setString(&cfg.SMTP.Password, "SMTP_PASSWORD")
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.SMTP.Port = p
		}
	}
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// MaxRetries returns the configured retry budget, defaulting to 5. Zero is
// a valid setting and means a single delivery attempt.
func (c Config) MaxRetries() int {
	if c.Email.MaxRetries == nil {
		return 5
	}
	return *c.Email.MaxRetries
}
