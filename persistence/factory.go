package persistence

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Backend selects a TranscriptStore implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendMySQL    Backend = "mysql"
	BackendRedis    Backend = "redis"
)

// Config selects and configures the transcript backend.
type Config struct {
	// Backend: memory, sqlite, postgres, mysql, redis.
	Backend Backend `yaml:"backend" json:"backend"`

	// DSN for the SQL backends (file path for sqlite).
	DSN string `yaml:"dsn" json:"dsn"`

	// Redis connection settings, used when Backend is redis.
	Redis RedisConfig `yaml:"redis" json:"redis"`
}

// DefaultConfig returns an sqlite store next to the working directory.
func DefaultConfig() Config {
	return Config{
		Backend: BackendSQLite,
		DSN:     "quill.db",
	}
}

// New builds the configured TranscriptStore. SQL backends are migrated
// before being returned.
func New(cfg Config, logger *zap.Logger) (TranscriptStore, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryStore(), nil

	case BackendSQLite:
		return newSQL(sqlite.Open(cfg.DSN), logger)

	case BackendPostgres:
		return newSQL(postgres.Open(cfg.DSN), logger)

	case BackendMySQL:
		return newSQL(mysql.Open(cfg.DSN), logger)

	case BackendRedis:
		return NewRedisStore(cfg.Redis, logger)

	default:
		return nil, fmt.Errorf("unknown transcript backend: %q", cfg.Backend)
	}
}

func newSQL(dialector gorm.Dialector, logger *zap.Logger) (TranscriptStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open transcript database: %w", err)
	}
	store, err := NewGormStore(db, logger)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		return nil, err
	}
	return store, nil
}
