package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"

	"github.com/lexdesk/portal-backend/pkg/database"
)

// Config keys mirror the environment variable names, lower-cased.
type Config struct {
	AppEnv      string        `koanf:"app_env"`
	Port        string        `koanf:"port"`
	DatabaseURL string        `koanf:"database_url"`
	JWTSecret   string        `koanf:"jwt_secret"`
	JWTTTL      time.Duration `koanf:"jwt_ttl"`

	LogLevel  string `koanf:"log_level"`
	LogPretty bool   `koanf:"log_pretty"`

	StorageDriver      string `koanf:"storage_driver"`
	StorageDir         string `koanf:"storage_dir"`
	SupabaseURL        string `koanf:"supabase_url"`
	SupabaseServiceKey string `koanf:"supabase_service_key"`
	SupabaseBucket     string `koanf:"supabase_bucket"`

	PaymentProvider string `koanf:"payment_provider"`
	StripeSecretKey string `koanf:"stripe_secret_key"`

	NoEmailDomain    string `koanf:"no_email_domain"`
	CaseStatusPolicy string `koanf:"case_status_policy"`
	TOTPIssuer       string `koanf:"totp_issuer"`
	MaxUploadMB      int    `koanf:"max_upload_mb"`
	CORSOrigins      string `koanf:"cors_origins"`
}

func Defaults() Config {
	return Config{
		AppEnv:           "development",
		Port:             "8080",
		JWTTTL:           24 * time.Hour,
		LogLevel:         "info",
		StorageDriver:    "local",
		StorageDir:       "./data/blobs",
		PaymentProvider:  "mock",
		NoEmailDomain:    "noemail.lexdesk.local",
		CaseStatusPolicy: "free",
		TOTPIssuer:       "LexDesk",
		MaxUploadMB:      10,
		CORSOrigins:      "*",
	}
}

// Load reads .env (if present), then CONFIG_FILE (YAML, optional), then
// the process environment. Later sources win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}
	if err := k.Load(env.Provider(".", env.Opt{
		TransformFunc: func(key, v string) (string, any) {
			if v == "" {
				return "", nil // unset and empty behave the same
			}
			return strings.ToLower(key), v
		},
	}), nil); err != nil {
		return nil, errors.Wrap(err, "load env variables failed")
	}

	cfg := Defaults()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	}); err != nil {
		return nil, errors.Wrap(err, "unmarshal config failed")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if _, err := database.Driver(c.DatabaseURL); err != nil {
		return errors.Wrap(err, "DATABASE_URL")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.StorageDriver {
	case "supabase":
		if c.SupabaseURL == "" || c.SupabaseServiceKey == "" || c.SupabaseBucket == "" {
			return errors.New("supabase storage needs SUPABASE_URL, SUPABASE_SERVICE_KEY and SUPABASE_BUCKET")
		}
	case "local", "memory":
	default:
		return errors.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	switch c.PaymentProvider {
	case "mock":
	case "stripe":
		if c.StripeSecretKey == "" {
			return errors.New("STRIPE_SECRET_KEY is required for the stripe provider")
		}
	default:
		return errors.Errorf("unknown PAYMENT_PROVIDER %q", c.PaymentProvider)
	}
	if c.CaseStatusPolicy != "free" && c.CaseStatusPolicy != "forward" {
		return errors.Errorf("unknown CASE_STATUS_POLICY %q", c.CaseStatusPolicy)
	}
	if c.MaxUploadMB <= 0 {
		return errors.New("MAX_UPLOAD_MB must be positive")
	}
	if c.JWTTTL <= 0 {
		return errors.New("JWT_TTL must be positive")
	}
	return nil
}

// MaxUploadBytes is the per-file upload limit.
func (c *Config) MaxUploadBytes() int64 { return int64(c.MaxUploadMB) << 20 }

func (c *Config) IsProduction() bool { return c.AppEnv == "production" }
