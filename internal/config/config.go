package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins    []string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	AuthMode       string   `mapstructure:"AUTH_MODE"`
	APIKeys        []string `mapstructure:"API_KEYS"`
	JWTSecret      string   `mapstructure:"JWT_SECRET"`
	JWTIssuer      string   `mapstructure:"JWT_ISSUER"`
	MappingProfile string   `mapstructure:"MAPPING_PROFILE"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit      string   `mapstructure:"BODY_LIMIT"`
	MLLPAddr       string   `mapstructure:"MLLP_ADDR"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("AUTH_MODE", "none")
	v.SetDefault("MAPPING_PROFILE", "mapping_profiles/hl7_adt_v2_coverage.yaml")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("MLLP_ADDR", "")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ALLOWED_ORIGINS")
	v.BindEnv("AUTH_MODE")
	v.BindEnv("API_KEYS")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("JWT_ISSUER")
	v.BindEnv("MAPPING_PROFILE")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("BODY_LIMIT")
	v.BindEnv("MLLP_ADDR")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper leaves comma-separated env values as a single string; split them.
	if cfg.CORSOrigins == nil {
		cfg.CORSOrigins = splitList(v.GetString("CORS_ALLOWED_ORIGINS"))
	}
	if cfg.APIKeys == nil {
		cfg.APIKeys = splitList(v.GetString("API_KEYS"))
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.AuthMode == "none" {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running with AUTH_MODE=none (ENV=development).")
		log.Println("WARNING: All API requests are accepted without authentication.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: Set AUTH_MODE=apikey or AUTH_MODE=jwt for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// MLLPEnabled reports whether the MLLP listener should be started.
func (c *Config) MLLPEnabled() bool {
	return c.MLLPAddr != ""
}

// Validate checks that the configuration is safe to run. Each auth mode
// requires its own credentials to be present, and production refuses to
// start without authentication.
func (c *Config) Validate() error {
	switch c.AuthMode {
	case "none":
		if c.IsProduction() {
			return fmt.Errorf(
				"AUTH_MODE=none is not allowed when ENV=production. " +
					"Refusing to start without authentication configuration. " +
					"Set AUTH_MODE=apikey or AUTH_MODE=jwt")
		}
	case "apikey":
		if len(c.APIKeys) == 0 {
			return fmt.Errorf("API_KEYS is required when AUTH_MODE is \"apikey\"")
		}
	case "jwt":
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required when AUTH_MODE is \"jwt\"")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"none\", \"apikey\", or \"jwt\", got %q", c.AuthMode)
	}

	if c.MappingProfile == "" {
		return fmt.Errorf("MAPPING_PROFILE is required")
	}

	return nil
}
