package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer        string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience      string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL       string        `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey    string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	ConsultationFee   string        `mapstructure:"CONSULTATION_FEE"`
	AllowOverpayment  bool          `mapstructure:"ALLOW_OVERPAYMENT"`
	LockTimeout       time.Duration `mapstructure:"LOCK_TIMEOUT"`
	RecordUnlockRoles []string      `mapstructure:"RECORD_UNLOCK_ROLES"`
	MigrationsDir     string        `mapstructure:"MIGRATIONS_DIR"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "CONSULTATION_FEE", "ALLOW_OVERPAYMENT", "LOCK_TIMEOUT",
	"RECORD_UNLOCK_ROLES", "MIGRATIONS_DIR",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("CONSULTATION_FEE", "50000")
	v.SetDefault("ALLOW_OVERPAYMENT", false)
	v.SetDefault("LOCK_TIMEOUT", "5s")
	v.SetDefault("RECORD_UNLOCK_ROLES", "admin,medical_records")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.RecordUnlockRoles = splitList(cfg.RecordUnlockRoles, v.GetString("RECORD_UNLOCK_ROLES"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Warn().Msg("server is running in DEVELOPMENT mode (ENV=development): dev auth grants admin to every request")
	}

	return cfg, nil
}

// splitList normalises comma separated values coming either from viper's
// slice decoding or from a raw env string.
func splitList(decoded []string, raw string) []string {
	src := decoded
	if len(src) <= 1 && raw != "" {
		src = strings.Split(raw, ",")
	}
	out := make([]string, 0, len(src))
	for _, s := range src {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Fee returns the flat consultation fee. Validate must have passed.
func (c *Config) Fee() decimal.Decimal {
	d, _ := decimal.NewFromString(c.ConsultationFee)
	return d
}

// Validate checks that the configuration is safe to run. Outside development
// an issuer or a signing key is required so real JWT authentication is
// enforced.
func (c *Config) Validate() error {
	fee, err := decimal.NewFromString(c.ConsultationFee)
	if err != nil {
		return fmt.Errorf("CONSULTATION_FEE is not a decimal: %w", err)
	}
	if fee.IsNegative() {
		return fmt.Errorf("CONSULTATION_FEE must not be negative, got %s", fee)
	}
	if fee.Exponent() < -2 {
		return fmt.Errorf("CONSULTATION_FEE has more than 2 decimal places: %s", c.ConsultationFee)
	}

	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf(
			"AUTH_ISSUER or AUTH_SIGNING_KEY must be set outside development (current ENV=%q). "+
				"Refusing to start without authentication configuration", c.Env)
	}
	if c.AuthIssuer != "" && c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("AUTH_ISSUER requires AUTH_JWKS_URL or AUTH_SIGNING_KEY")
	}

	if c.LockTimeout < 0 {
		return fmt.Errorf("LOCK_TIMEOUT must not be negative, got %s", c.LockTimeout)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
