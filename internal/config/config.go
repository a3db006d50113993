package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
		// BaseURL pública, usada para armar los magic links.
		BaseURL string `yaml:"base_url"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Storage struct {
		// postgres | memory
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxConns        int    `yaml:"max_conns"`
			MinConns        int    `yaml:"min_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Redis struct {
		Addr   string `yaml:"addr"`
		DB     int    `yaml:"db"`
		Prefix string `yaml:"prefix"`
	} `yaml:"redis"`

	Tokens struct {
		AccessTTL   string `yaml:"access_ttl"`   // <= 15m por contrato
		RefreshTTL  string `yaml:"refresh_ttl"`
		ClaimTTL    string `yaml:"claim_ttl"`
		ExchangeTTL string `yaml:"exchange_ttl"`
	} `yaml:"tokens"`

	Intents struct {
		TTL         string `yaml:"ttl"`          // expiración del intent pendiente
		ApprovalTTL string `yaml:"approval_ttl"` // expiración del magic link
	} `yaml:"intents"`

	Session struct {
		Issuer string `yaml:"issuer"`
		TTL    string `yaml:"ttl"`
		// Seed determinística de la clave EdDSA; vacía ⇒ clave efímera (dev).
		KeySeed string `yaml:"key_seed"`
	} `yaml:"session"`

	Rate struct {
		Enabled bool `yaml:"enabled"`
		Refresh struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"refresh"`
	} `yaml:"rate"`

	// Shared secret que solo setea el callback de identidad verificada
	// (header X-RevClaw-Internal-Auth en /v1/agents/claim).
	InternalAuthSecret string `yaml:"internal_auth_secret"`

	Collaborator struct {
		BaseURL      string `yaml:"base_url"`
		ServiceToken string `yaml:"service_token"`
	} `yaml:"collaborator"`

	SMTP struct {
		Host               string `yaml:"host"`
		Port               int    `yaml:"port"`
		Username           string `yaml:"username"`
		Password           string `yaml:"password"`
		From               string `yaml:"from"`
		TLS                string `yaml:"tls"` // auto | starttls | ssl | none
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	} `yaml:"smtp"`
}

func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	// sane defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = "http://localhost:8080"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Tokens.AccessTTL == "" {
		c.Tokens.AccessTTL = "15m"
	}
	if c.Tokens.RefreshTTL == "" {
		c.Tokens.RefreshTTL = "720h" // 30d
	}
	if c.Tokens.ClaimTTL == "" {
		c.Tokens.ClaimTTL = "10m"
	}
	if c.Tokens.ExchangeTTL == "" {
		c.Tokens.ExchangeTTL = "5m"
	}
	if c.Intents.TTL == "" {
		c.Intents.TTL = "24h"
	}
	if c.Intents.ApprovalTTL == "" {
		c.Intents.ApprovalTTL = "24h"
	}
	if c.Session.Issuer == "" {
		c.Session.Issuer = "revclaw"
	}
	if c.Session.TTL == "" {
		c.Session.TTL = "12h"
	}
	if c.Rate.Refresh.Limit == 0 {
		c.Rate.Refresh.Limit = 30
	}
	if c.Rate.Refresh.Window == "" {
		c.Rate.Refresh.Window = "1m"
	}

	// ENV overrides para los secretos que no van en YAML.
	if v := os.Getenv("REVCLAW_DSN"); v != "" {
		c.Storage.DSN = v
		c.Storage.Driver = "postgres"
	}
	if v := os.Getenv("REVCLAW_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REVCLAW_INTERNAL_AUTH_SECRET"); v != "" {
		c.InternalAuthSecret = v
	}
	if v := os.Getenv("REVCLAW_SESSION_KEY_SEED"); v != "" {
		c.Session.KeySeed = v
	}
	if v := os.Getenv("REVCLAW_COLLAB_TOKEN"); v != "" {
		c.Collaborator.ServiceToken = v
	}
	if v := os.Getenv("REVCLAW_SMTP_PASSWORD"); v != "" {
		c.SMTP.Password = v
	}
	return &c, nil
}

// Duration parsea una duración string del YAML con fallback.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
