package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	EnvPrefix = "QUIZROOM"
)

type Config struct {
	Port          int
	BindAddress   string
	Store         string
	DBHost        string
	DBPort        string
	DBUser        string
	DBPassword    string
	DBName        string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	SnapshotTTL   time.Duration
	JWTSecret     string
	LogLevel      string
	QuestionsFile string
	QuestionOwner uint
	JoinBaseURL   string
	AutoReveal    bool
	RevealGrace   time.Duration
}

var defaults = map[string]any{
	"port":           8080,
	"bind":           "localhost",
	"store":          StoreMemory,
	"db-host":        "localhost",
	"db-port":        "5432",
	"db-user":        "quizroom",
	"db-password":    "quizroom",
	"db-name":        "quizroom",
	"redis-host":     "",
	"redis-port":     "6379",
	"redis-password": "",
	"snapshot-ttl":   2 * time.Hour,
	"jwt-secret":     "",
	"log-level":      "info",
	"questions":      "",
	"question-owner": uint(1),
	"join-url":       "",
	"auto-reveal":    false,
	"reveal-grace":   2 * time.Second,
}

// RegisterFlags declares the command line flags Load understands.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.IntP("port", "p", 8080, "port to listen on")
	fs.StringP("bind", "b", "localhost", "address to bind to")
	fs.String("store", StoreMemory, "room store: memory or postgres")
	fs.String("db-host", "localhost", "postgres host")
	fs.String("db-port", "5432", "postgres port")
	fs.String("db-user", "quizroom", "postgres user")
	fs.String("db-password", "quizroom", "postgres password")
	fs.String("db-name", "quizroom", "postgres database")
	fs.String("redis-host", "", "redis host for the room snapshot cache; empty disables it")
	fs.String("redis-port", "6379", "redis port")
	fs.String("redis-password", "", "redis password")
	fs.Duration("snapshot-ttl", 2*time.Hour, "lifetime of cached room snapshots")
	fs.String("jwt-secret", "", "HS256 secret for owner tokens")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.String("questions", "", "JSON question bank to load at startup")
	fs.Uint("question-owner", 1, "owner id assigned to questions loaded from --questions")
	fs.String("join-url", "", "public base URL encoded into join QR codes")
	fs.Bool("auto-reveal", false, "reveal answers when the question timer runs out")
	fs.Duration("reveal-grace", 2*time.Second, "extra wait before an automatic reveal")
}

// NewViper returns a viper instance reading QUIZROOM_* variables, with every
// flag in fs bound to the key of the same name.
func NewViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}
	return v, nil
}

// Load reads the configuration out of v, merging an optional config file.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		Port:          v.GetInt("port"),
		BindAddress:   v.GetString("bind"),
		Store:         strings.ToLower(v.GetString("store")),
		DBHost:        v.GetString("db-host"),
		DBPort:        v.GetString("db-port"),
		DBUser:        v.GetString("db-user"),
		DBPassword:    v.GetString("db-password"),
		DBName:        v.GetString("db-name"),
		RedisHost:     v.GetString("redis-host"),
		RedisPort:     v.GetString("redis-port"),
		RedisPassword: v.GetString("redis-password"),
		SnapshotTTL:   v.GetDuration("snapshot-ttl"),
		JWTSecret:     v.GetString("jwt-secret"),
		LogLevel:      v.GetString("log-level"),
		QuestionsFile: v.GetString("questions"),
		QuestionOwner: v.GetUint("question-owner"),
		JoinBaseURL:   v.GetString("join-url"),
		AutoReveal:    v.GetBool("auto-reveal"),
		RevealGrace:   v.GetDuration("reveal-grace"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if c.Store != StoreMemory && c.Store != StorePostgres {
		return fmt.Errorf("unknown store %q (want %s or %s)", c.Store, StoreMemory, StorePostgres)
	}
	if c.JWTSecret == "" {
		return errors.New("jwt-secret is required")
	}
	if c.RevealGrace < 0 {
		return fmt.Errorf("reveal-grace must not be negative: %s", c.RevealGrace)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// InitRedis returns nil when no redis host is configured.
func InitRedis(cfg *Config) *redis.Client {
	if cfg.RedisHost == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       0,
	})
}

func parseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("invalid log-level %q", level)
	}
	return l, nil
}

// NewLogger builds the colored console logger used by every component.
func NewLogger(w io.Writer, level string) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	l, err := parseLevel(level)
	if err != nil {
		l = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      l,
		TimeFormat: time.TimeOnly,
		AddSource:  l == slog.LevelDebug,
	}))
}
