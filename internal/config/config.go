package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/deid/deid/internal/platform/deid"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
	BodyLimit   string   `mapstructure:"BODY_LIMIT"`

	// AuthSecret signs and verifies the bearer tokens guarding the API.
	// Required outside development.
	AuthSecret string `mapstructure:"AUTH_SECRET"`

	// De-identification policy. DEID_SALT empty means each engine
	// generates its own salt; set it to keep digests stable across
	// restarts for one downstream consumer.
	DeidSalt            string `mapstructure:"DEID_SALT"`
	DeidAgeThreshold    int    `mapstructure:"DEID_AGE_THRESHOLD"`
	DeidMaxShiftDays    int    `mapstructure:"DEID_MAX_SHIFT_DAYS"`
	DeidShiftStrategy   string `mapstructure:"DEID_SHIFT_STRATEGY"`
	DeidKThreshold      int    `mapstructure:"DEID_K_THRESHOLD"`
	DeidKeepMRNs        bool   `mapstructure:"DEID_KEEP_MRNS"`
	DeidKeepDeviceIDs   bool   `mapstructure:"DEID_KEEP_DEVICE_IDS"`
	DeidDisableShifting bool   `mapstructure:"DEID_DISABLE_SHIFTING"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BODY_LIMIT", "10M")
	v.SetDefault("DEID_AGE_THRESHOLD", 89)
	v.SetDefault("DEID_MAX_SHIFT_DAYS", 365)
	v.SetDefault("DEID_SHIFT_STRATEGY", string(deid.ShiftPerSubject))
	v.SetDefault("DEID_K_THRESHOLD", 5)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("BODY_LIMIT")
	v.BindEnv("AUTH_SECRET")
	v.BindEnv("DEID_SALT")
	v.BindEnv("DEID_AGE_THRESHOLD")
	v.BindEnv("DEID_MAX_SHIFT_DAYS")
	v.BindEnv("DEID_SHIFT_STRATEGY")
	v.BindEnv("DEID_K_THRESHOLD")
	v.BindEnv("DEID_KEEP_MRNS")
	v.BindEnv("DEID_KEEP_DEVICE_IDS")
	v.BindEnv("DEID_DISABLE_SHIFTING")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside
// development a bearer-token secret is required so the PHI endpoints are
// never exposed unauthenticated, and the policy values must build a valid
// engine configuration.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required when ENV is %q; refusing to serve PHI endpoints unauthenticated", c.Env)
	}
	if c.AuthSecret != "" && len(c.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be at least 32 bytes, got %d", len(c.AuthSecret))
	}
	if err := c.EngineConfig().Validate(); err != nil {
		return err
	}
	return nil
}

// EngineConfig maps the process configuration onto a de-identification
// policy. Removal flags default on; the DEID_KEEP_* toggles switch a
// category to hashing instead of outright redaction.
func (c *Config) EngineConfig() deid.Config {
	ec := deid.DefaultConfig()
	ec.Salt = c.DeidSalt
	ec.AgeThreshold = c.DeidAgeThreshold
	ec.MaxDateShiftDays = c.DeidMaxShiftDays
	ec.DateShiftStrategy = deid.ShiftStrategy(c.DeidShiftStrategy)
	ec.KAnonymityThreshold = c.DeidKThreshold
	ec.RemoveMRNs = !c.DeidKeepMRNs
	ec.RemoveDeviceIDs = !c.DeidKeepDeviceIDs
	ec.ShiftDates = !c.DeidDisableShifting
	return ec
}
