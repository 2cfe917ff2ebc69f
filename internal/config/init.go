package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/EarthModule/fairdata-metax-v3/internal/appcontext"
	"github.com/EarthModule/fairdata-metax-v3/internal/cache"
	"github.com/EarthModule/fairdata-metax-v3/internal/entity"
	"github.com/EarthModule/fairdata-metax-v3/internal/search"
	"github.com/EarthModule/fairdata-metax-v3/internal/services"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Config struct {
	DatabaseURL    string
	ListenAddr     string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	BaseURL        string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	MeilisearchHost   string
	MeilisearchAPIKey string

	SendGridAPIKey string
	MailFrom       string
	MailFromName   string

	LegacyInstance     string
	LegacyTokenURL     string
	LegacyClientID     string
	LegacyClientSecret string
}

func (c *Config) Production() bool {
	return c.Environment == "production"
}

// LegacyCredentials returns the client credentials used against the V2
// API, or nil when none are configured.
func (c *Config) LegacyCredentials() *clientcredentials.Config {
	if c.LegacyTokenURL == "" || c.LegacyClientID == "" {
		return nil
	}
	return &clientcredentials.Config{
		ClientID:     c.LegacyClientID,
		ClientSecret: c.LegacyClientSecret,
		TokenURL:     c.LegacyTokenURL,
	}
}

// Load reads the configuration from the environment, after loading a .env
// file when one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		zap.L().Warn("No .env file found, using environment variables")
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("BASE_URL", "http://localhost:8080")
	v.SetDefault("CACHE_TTL", "5m")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("MAIL_FROM", "noreply@fairdata.fi")
	v.SetDefault("MAIL_FROM_NAME", "Metax")
	v.SetDefault("LEGACY_METAX_INSTANCE", "http://localhost:8002")

	ttl, err := time.ParseDuration(v.GetString("CACHE_TTL"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL: %w", err)
	}

	cfg := &Config{
		DatabaseURL:        v.GetString("DATABASE_URL"),
		ListenAddr:         v.GetString("LISTEN_ADDR"),
		Environment:        v.GetString("ENVIRONMENT"),
		JWTSecret:          v.GetString("JWT_SECRET"),
		BaseURL:            strings.TrimRight(v.GetString("BASE_URL"), "/"),
		RedisAddr:          v.GetString("REDIS_ADDR"),
		RedisPassword:      v.GetString("REDIS_PASSWORD"),
		RedisDB:            v.GetInt("REDIS_DB"),
		CacheTTL:           ttl,
		MeilisearchHost:    v.GetString("MEILISEARCH_HOST"),
		MeilisearchAPIKey:  v.GetString("MEILISEARCH_API_KEY"),
		SendGridAPIKey:     v.GetString("SENDGRID_API_KEY"),
		MailFrom:           v.GetString("MAIL_FROM"),
		MailFromName:       v.GetString("MAIL_FROM_NAME"),
		LegacyInstance:     v.GetString("LEGACY_METAX_INSTANCE"),
		LegacyTokenURL:     v.GetString("LEGACY_TOKEN_URL"),
		LegacyClientID:     v.GetString("LEGACY_CLIENT_ID"),
		LegacyClientSecret: v.GetString("LEGACY_CLIENT_SECRET"),
	}
	for _, origin := range strings.Split(v.GetString("ALLOWED_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}
	return cfg, nil
}

// InitContext connects every integration the configuration enables.
func InitContext(cfg *Config) (*appcontext.Context, error) {
	logger, err := InitLogger(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.JWTSecret == "" && cfg.Production() {
		return nil, fmt.Errorf("JWT_SECRET environment variable is not set")
	}

	db, err := InitDB(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	responseCache, err := InitCache(cfg, logger)
	if err != nil {
		return nil, err
	}

	index, err := InitSearch(cfg, logger)
	if err != nil {
		return nil, err
	}

	ctx := &appcontext.Context{
		DB:      db,
		Logger:  logger,
		Cache:   responseCache,
		Search:  index,
		Mailer:  InitMailer(cfg, logger),
		JWTKey:  []byte(cfg.JWTSecret),
		BaseURL: cfg.BaseURL,
	}

	return ctx, nil
}

func InitDB(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	err = db.Exec("CREATE EXTENSION IF NOT EXISTS \"uuid-ossp\"").Error
	if err != nil {
		return nil, fmt.Errorf("failed to enable uuid-ossp extension: %w", err)
	}

	err = db.AutoMigrate(entity.All()...)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

func InitLogger(cfg *Config) (*zap.Logger, error) {
	build := zap.NewProduction
	if cfg.Environment == "development" {
		build = zap.NewDevelopment
	}
	logger, err := build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// InitCache returns the redis response cache, or a no-op cache when
// REDIS_ADDR is empty.
func InitCache(cfg *Config, logger *zap.Logger) (cache.Cache, error) {
	if cfg.RedisAddr == "" {
		logger.Info("REDIS_ADDR not set, dataset caching disabled")
		return cache.Nop{}, nil
	}
	client, err := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func InitSearch(cfg *Config, logger *zap.Logger) (search.Indexer, error) {
	if cfg.MeilisearchHost == "" {
		logger.Info("MEILISEARCH_HOST not set, dataset indexing disabled")
		return search.Nop{}, nil
	}
	index, err := search.NewMeilisearch(cfg.MeilisearchHost, cfg.MeilisearchAPIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize meilisearch: %w", err)
	}
	return index, nil
}

func InitMailer(cfg *Config, logger *zap.Logger) services.Mailer {
	if cfg.SendGridAPIKey == "" {
		logger.Info("SENDGRID_API_KEY not set, contact emails disabled")
		return nil
	}
	return services.NewSendGridMailer(cfg.SendGridAPIKey, cfg.MailFromName, cfg.MailFrom)
}
