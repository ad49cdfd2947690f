package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the API server and supporting services.
type Config struct {
	AppEnv             string
	LogLevel           string
	HTTPAddr           string
	CORSAllowedOrigins []string

	DatabaseURL    string
	DBMaxOpenConns int
	DBMaxIdleConns int
	DBConnLifetime time.Duration
	RunMigrations  bool
	SupabaseURL    string
	SupabaseKey    string
	SupabaseJWTKey string
	SupabaseJWTAud string

	ImageProvider     string
	RecraftAPIKey     string
	RecraftBaseURL    string
	RecraftModel      string
	KIEAPIKey         string
	KIEBaseURL        string
	KIEModel          string
	RequestTimeout    time.Duration
	GenerationCost    int
	GenerationTimeout time.Duration
	GenerationLockTTL time.Duration
	SignupBonus       int
	EnableTestRoutes  bool

	PaymentProvider     string
	DodoAPIKey          string
	DodoBaseURL         string
	DodoWebhookSecret   string
	StripeSecretKey     string
	StripeWebhookSecret string
	CheckoutReturnURL   string

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string
	S3PublicACL     bool

	RedisURL             string
	ExploreCacheTTL      time.Duration
	CounterFlushInterval time.Duration

	TelegramBotToken    string
	TelegramAdminChatID int64
}

// StorageEnabled reports whether generated images are mirrored into the bucket.
func (c Config) StorageEnabled() bool {
	return c.S3Bucket != ""
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const (
		defaultRecraftBaseURL = "https://external.api.recraft.ai"
		defaultKIEBaseURL     = "https://api.kie.ai"
		defaultDodoBaseURL    = "https://live.dodopayments.com"
	)

	cfg := Config{
		AppEnv:             getEnv("APP_ENV", "production"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		CORSAllowedOrigins: getList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		DBMaxOpenConns: getInt("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns: getInt("DB_MAX_IDLE_CONNS", 5),
		DBConnLifetime: getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		RunMigrations:  getBool("RUN_MIGRATIONS", true),
		SupabaseJWTAud: getEnv("SUPABASE_JWT_AUDIENCE", "authenticated"),

		ImageProvider:     strings.ToLower(getEnv("IMAGE_PROVIDER", "recraft")),
		RecraftBaseURL:    normalizeBaseURL(getEnv("RECRAFT_BASE_URL", defaultRecraftBaseURL), defaultRecraftBaseURL),
		RecraftModel:      getEnv("RECRAFT_MODEL", "recraftv3"),
		KIEBaseURL:        normalizeBaseURL(getEnv("KIE_BASE_URL", defaultKIEBaseURL), defaultKIEBaseURL),
		KIEModel:          getEnv("KIE_MODEL", "nano-banana-pro"),
		RequestTimeout:    time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 120)),
		GenerationCost:    getInt("GENERATION_COST", 1),
		GenerationTimeout: getDuration("GENERATION_TIMEOUT", 90*time.Second),
		GenerationLockTTL: getDuration("GENERATION_LOCK_TTL", 0),
		SignupBonus:       getInt("SIGNUP_BONUS_CREDITS", 3),
		EnableTestRoutes:  getBool("ENABLE_TEST_ROUTES", false),

		PaymentProvider:   strings.ToLower(getEnv("PAYMENT_PROVIDER", "dodo")),
		DodoBaseURL:       normalizeBaseURL(getEnv("DODO_BASE_URL", defaultDodoBaseURL), defaultDodoBaseURL),
		CheckoutReturnURL: getEnv("CHECKOUT_RETURN_URL", "http://localhost:3000/payment/success"),

		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		S3Region:        getEnv("S3_REGION", "us-east-1"),
		S3UsePathStyle:  getBool("S3_USE_PATH_STYLE", true),
		S3Prefix:        getEnv("S3_PREFIX", "generations"),
		S3PublicACL:     getBool("S3_PUBLIC_ACL", false),
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),

		ExploreCacheTTL:      getDuration("EXPLORE_CACHE_TTL", 30*time.Second),
		CounterFlushInterval: getDuration("COUNTER_FLUSH_INTERVAL", time.Minute),

		TelegramAdminChatID: getInt64("TELEGRAM_ADMIN_CHAT_ID", 0),
	}

	// The lock must outlive the provider call plus the mirror fetch and upload.
	if cfg.GenerationLockTTL <= 0 {
		cfg.GenerationLockTTL = cfg.minLockTTL() + lockTTLMargin
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.SupabaseURL = strings.TrimRight(os.Getenv("SUPABASE_URL"), "/")
	cfg.SupabaseKey = os.Getenv("SUPABASE_SERVICE_KEY")
	cfg.SupabaseJWTKey = os.Getenv("SUPABASE_JWT_SECRET")
	cfg.RecraftAPIKey = os.Getenv("RECRAFT_API_KEY")
	cfg.KIEAPIKey = os.Getenv("KIE_API_KEY")
	cfg.DodoAPIKey = os.Getenv("DODO_API_KEY")
	cfg.DodoWebhookSecret = os.Getenv("DODO_WEBHOOK_SECRET")
	cfg.StripeSecretKey = os.Getenv("STRIPE_SECRET_KEY")
	cfg.StripeWebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	cfg.S3AccessKey = os.Getenv("S3_ACCESS_KEY")
	cfg.S3SecretKey = os.Getenv("S3_SECRET_KEY")
	cfg.S3Bucket = os.Getenv("S3_BUCKET")
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.SupabaseJWTKey == "" && (c.SupabaseURL == "" || c.SupabaseKey == "") {
		missing = append(missing, "SUPABASE_JWT_SECRET or SUPABASE_URL+SUPABASE_SERVICE_KEY")
	}

	switch c.ImageProvider {
	case "recraft":
		if c.RecraftAPIKey == "" {
			missing = append(missing, "RECRAFT_API_KEY")
		}
	case "kie":
		if c.KIEAPIKey == "" {
			missing = append(missing, "KIE_API_KEY")
		}
	default:
		return fmt.Errorf("unsupported image provider: %s", c.ImageProvider)
	}

	switch c.PaymentProvider {
	case "dodo":
		if c.DodoAPIKey == "" {
			missing = append(missing, "DODO_API_KEY")
		}
	case "stripe":
		if c.StripeSecretKey == "" {
			missing = append(missing, "STRIPE_SECRET_KEY")
		}
	default:
		return fmt.Errorf("unsupported payment provider: %s", c.PaymentProvider)
	}

	if c.S3Bucket != "" {
		if c.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if c.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
		if c.S3PublicBaseURL == "" {
			missing = append(missing, "S3_PUBLIC_BASE_URL")
		}
	}
	if c.TelegramBotToken != "" && c.TelegramAdminChatID == 0 {
		missing = append(missing, "TELEGRAM_ADMIN_CHAT_ID")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}
	if c.GenerationCost <= 0 {
		return fmt.Errorf("GENERATION_COST must be positive, got %d", c.GenerationCost)
	}
	if c.GenerationLockTTL <= c.minLockTTL() {
		return fmt.Errorf("GENERATION_LOCK_TTL must exceed GENERATION_TIMEOUT + HTTP_TIMEOUT_SECONDS (%s), got %s", c.minLockTTL(), c.GenerationLockTTL)
	}
	return nil
}

// lockTTLMargin covers the bucket upload after the provider fetch.
const lockTTLMargin = 30 * time.Second

func (c Config) minLockTTL() time.Duration {
	return c.GenerationTimeout + c.RequestTimeout
}

// normalizeBaseURL adds a scheme when missing and strips trailing slashes.
func normalizeBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}

	return strings.TrimRight(parsed.String(), "/")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// getDuration accepts Go durations ("90s") or a bare number of seconds.
func getDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// loadEnvFile loads the first env file found. Missing files are fine: in
// containers everything comes from the real environment.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
