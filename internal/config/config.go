package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	StoreID               string
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	AppEnv                string
	LogLevel              string
	EventStream           string
	SummaryCacheSeconds   int
	// LoyaltyMembers maps customer IDs to tier names.
	LoyaltyMembers map[string]string
	Engine         Engine
}

// Engine holds the monetary knobs of the transaction engine.
type Engine struct {
	OverpayFactor  decimal.Decimal
	MinTolerance   decimal.Decimal
	DefaultTaxRate decimal.Decimal
	CurrencyScale  int32
}

func DefaultEngine() Engine {
	return Engine{
		OverpayFactor:  decimal.RequireFromString("1.5"),
		MinTolerance:   decimal.RequireFromString("1.00"),
		DefaultTaxRate: decimal.Zero,
		CurrencyScale:  2,
	}
}

type engineFile struct {
	Engine struct {
		OverpayFactor  string `yaml:"overpay_factor"`
		MinTolerance   string `yaml:"min_tolerance"`
		DefaultTaxRate string `yaml:"default_tax_rate"`
		CurrencyScale  *int32 `yaml:"currency_scale"`
	} `yaml:"engine"`
}

// Load reads an optional .env file, then the environment, then overlays
// engine settings from POS_CONFIG_FILE when set.
func Load() (Config, error) {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	summaryTTL, err := strconv.Atoi(getEnv("SHIFT_SUMMARY_CACHE_SECONDS", "300"))
	if err != nil || summaryTTL < 0 {
		summaryTTL = 300
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		StoreID:               getEnv("DEFAULT_STORE_ID", "main-store"),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		ManagerPIN:            strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		AppEnv:                getEnv("APP_ENV", "development"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		EventStream:           getEnv("EVENT_STREAM", "pos:events"),
		SummaryCacheSeconds:   summaryTTL,
		LoyaltyMembers:        parseMembers(os.Getenv("LOYALTY_MEMBERS")),
		Engine:                DefaultEngine(),
	}

	if path := strings.TrimSpace(os.Getenv("POS_CONFIG_FILE")); path != "" {
		engine, err := LoadEngineFile(path, cfg.Engine)
		if err != nil {
			return Config{}, err
		}
		cfg.Engine = engine
	}
	return cfg, nil
}

// LoadEngineFile overlays the engine section of a YAML file onto base.
func LoadEngineFile(path string, base Engine) (Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Engine{}, fmt.Errorf("load config %q: %w", path, err)
	}

	var file engineFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Engine{}, fmt.Errorf("parse config %q: %w", path, err)
	}

	out := base
	for _, field := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"overpay_factor", file.Engine.OverpayFactor, &out.OverpayFactor},
		{"min_tolerance", file.Engine.MinTolerance, &out.MinTolerance},
		{"default_tax_rate", file.Engine.DefaultTaxRate, &out.DefaultTaxRate},
	} {
		if strings.TrimSpace(field.raw) == "" {
			continue
		}
		val, err := decimal.NewFromString(strings.TrimSpace(field.raw))
		if err != nil {
			return Engine{}, fmt.Errorf("config %q: engine.%s: %w", path, field.name, err)
		}
		*field.dst = val
	}
	if file.Engine.CurrencyScale != nil {
		out.CurrencyScale = *file.Engine.CurrencyScale
	}

	if out.OverpayFactor.LessThan(decimal.NewFromInt(1)) {
		return Engine{}, fmt.Errorf("config %q: engine.overpay_factor must be at least 1", path)
	}
	if out.MinTolerance.IsNegative() {
		return Engine{}, fmt.Errorf("config %q: engine.min_tolerance must not be negative", path)
	}
	if out.DefaultTaxRate.IsNegative() || out.DefaultTaxRate.GreaterThan(decimal.NewFromInt(100)) {
		return Engine{}, fmt.Errorf("config %q: engine.default_tax_rate must be between 0 and 100", path)
	}
	if out.CurrencyScale < 0 || out.CurrencyScale > 4 {
		return Engine{}, fmt.Errorf("config %q: engine.currency_scale must be between 0 and 4", path)
	}
	return out, nil
}

// parseMembers reads "customer:TIER" pairs separated by commas.
func parseMembers(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		customer, tier, ok := strings.Cut(strings.TrimSpace(pair), ":")
		customer, tier = strings.TrimSpace(customer), strings.ToUpper(strings.TrimSpace(tier))
		if !ok || customer == "" || tier == "" {
			continue
		}
		out[customer] = tier
	}
	return out
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
