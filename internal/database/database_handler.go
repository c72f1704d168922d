package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cidrbans/internal/domain"
	"cidrbans/internal/support"

	"github.com/charmbracelet/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageMySQL    = "mysql"
	StorageRedis    = "redis"

	defaultSQLitePath = "data/cidrbans.sqlite"
)

type Config struct {
	ExistingDB  *gorm.DB
	Dialector   gorm.Dialector
	Logger      logger.Interface
	AutoMigrate bool
	Migrations  []any
}

type Option func(*Config)

// StorageType returns the configured backend kind, lowercased.
func StorageType() string {
	return strings.ToLower(strings.TrimSpace(support.GetEnv("STORAGE_TYPE", StorageSQLite)))
}

// SetupDB opens (or adopts) the SQL connection used by the ban store and
// migrates the ban table. The returned handle is owned by the caller.
func SetupDB(opts ...Option) (*gorm.DB, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.ExistingDB == nil && cfg.Dialector == nil {
		dialector, err := dialectorFor(StorageType())
		if err != nil {
			return nil, err
		}
		cfg.Dialector = dialector
	}

	var db *gorm.DB
	switch {
	case cfg.ExistingDB != nil:
		db = cfg.ExistingDB
	case cfg.Dialector != nil:
		gormCfg := &gorm.Config{TranslateError: true}
		if cfg.Logger != nil {
			gormCfg.Logger = cfg.Logger
		}
		opened, err := gorm.Open(cfg.Dialector, gormCfg)
		if err != nil {
			return nil, fmt.Errorf("database: open connection: %w", err)
		}
		db = opened
		configureConnectionPool(db)
	default:
		return nil, fmt.Errorf("database: no dialector or existing connection provided")
	}

	if cfg.AutoMigrate && len(cfg.Migrations) > 0 {
		if err := db.AutoMigrate(cfg.Migrations...); err != nil {
			return nil, fmt.Errorf("database: auto migrate: %w", err)
		}
		log.Info("Database migration completed.", "dialect", db.Dialector.Name())
	}

	return db, nil
}

func defaultConfig() Config {
	return Config{
		Logger:      silentLogger(),
		AutoMigrate: true,
		Migrations:  defaultMigrations(),
	}
}

func dialectorFor(storageType string) (gorm.Dialector, error) {
	switch storageType {
	case StorageSQLite, "":
		path := sqlitePath()
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, os.ModePerm); err != nil {
				return nil, fmt.Errorf("database: create sqlite directory: %w", err)
			}
		}
		return sqlite.Open(path), nil
	case StoragePostgres:
		return postgres.Open(buildPostgresDSN()), nil
	case StorageMySQL:
		return mysql.Open(buildMySQLDSN()), nil
	case StorageRedis:
		return nil, fmt.Errorf("database: storage type %q is not a SQL backend", storageType)
	default:
		return nil, fmt.Errorf("database: unsupported storage type %q", storageType)
	}
}

func sqlitePath() string {
	return support.GetEnv("SQLITE_PATH", defaultSQLitePath)
}

func buildPostgresDSN() string {
	host, port := splitHost(support.GetEnv("DB_HOST", "localhost"), "5432")

	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host,
		support.GetEnv("DB_PORT", port),
		support.GetEnv("DB_USERNAME", "cidrbans"),
		support.GetEnv("DB_PASSWORD", ""),
		support.GetEnv("DB_NAME", "cidrbans"),
		support.GetEnv("DB_SSLMODE", "disable"),
	)
}

func buildMySQLDSN() string {
	host, port := splitHost(support.GetEnv("DB_HOST", "localhost"), "3306")

	return fmt.Sprintf(
		"%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC&timeout=10s",
		support.GetEnv("DB_USERNAME", "cidrbans"),
		support.GetEnv("DB_PASSWORD", ""),
		host,
		support.GetEnv("DB_PORT", port),
		support.GetEnv("DB_NAME", "cidrbans"),
	)
}

// splitHost accepts "host" or "host:port" and falls back to defaultPort.
func splitHost(raw, defaultPort string) (string, string) {
	host, port, found := strings.Cut(raw, ":")
	if !found || port == "" {
		return host, defaultPort
	}
	return host, port
}

func silentLogger() logger.Interface {
	return logger.New(
		log.Default(),
		logger.Config{LogLevel: logger.Silent},
	)
}

func defaultMigrations() []any {
	return []any{
		domain.BanRecord{},
	}
}

func WithExistingDB(db *gorm.DB) Option {
	return func(cfg *Config) {
		cfg.ExistingDB = db
	}
}

func WithDialector(d gorm.Dialector) Option {
	return func(cfg *Config) {
		cfg.Dialector = d
	}
}

func WithLogger(l logger.Interface) Option {
	return func(cfg *Config) {
		cfg.Logger = l
	}
}

func WithAutoMigrate(enabled bool) Option {
	return func(cfg *Config) {
		cfg.AutoMigrate = enabled
	}
}

func configureConnectionPool(db *gorm.DB) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Error("database: get sql.DB", "error", err)
		return
	}

	maxOpen := support.GetEnvInt("DB_MAX_OPEN_CONNS", 16)
	maxIdle := support.GetEnvInt("DB_MAX_IDLE_CONNS", maxOpen)
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	connLifetimeSeconds := support.GetEnvInt("DB_CONN_MAX_LIFETIME", 300)
	connIdleSeconds := support.GetEnvInt("DB_CONN_MAX_IDLE_TIME", 60)

	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle >= 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	if connLifetimeSeconds > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(connLifetimeSeconds) * time.Second)
	}
	if connIdleSeconds > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(connIdleSeconds) * time.Second)
	}
}

// Close releases the pool behind db.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("database: get sql.DB: %w", err)
	}
	return sqlDB.Close()
}
