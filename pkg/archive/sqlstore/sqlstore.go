// Package sqlstore keeps archive entries in a SQL database so several
// observers can share what any of them has resolved.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marmos91/deckwatch/internal/logger"
	"github.com/marmos91/deckwatch/pkg/archive"
	"github.com/marmos91/deckwatch/pkg/archive/sqlstore/migrations"
)

// DatabaseType selects the SQL backend.
type DatabaseType string

const (
	DatabaseTypeSQLite   DatabaseType = "sqlite"
	DatabaseTypePostgres DatabaseType = "postgres"
)

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host         string `mapstructure:"host" yaml:"host"`
	Port         int    `mapstructure:"port" yaml:"port"`
	Database     string `mapstructure:"database" yaml:"database"`
	User         string `mapstructure:"user" yaml:"user"`
	Password     string `mapstructure:"password" yaml:"password"`
	SSLMode      string `mapstructure:"sslmode" yaml:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
}

// DSN returns the key/value connection string used by gorm.
func (c *PostgresConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		c.Host, c.Port, c.User, c.Password, c.Database)
	if c.SSLMode != "" {
		dsn += " sslmode=" + c.SSLMode
	}
	return dsn
}

// URL returns the connection URL used by the pgx stdlib driver.
func (c *PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// Config configures a Store.
type Config struct {
	Type DatabaseType `mapstructure:"type" yaml:"type"`

	// SQLitePath is the database file when Type is sqlite.
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`

	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`

	// Scope partitions entries, typically one scope per media library.
	Scope string `mapstructure:"scope" yaml:"scope"`
}

// ApplyDefaults fills in missing settings.
func (c *Config) ApplyDefaults() {
	if c.Type == "" {
		c.Type = DatabaseTypeSQLite
	}
	if c.Scope == "" {
		c.Scope = "default"
	}
	if c.Type == DatabaseTypeSQLite && c.SQLitePath == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			dir = os.TempDir()
		}
		c.SQLitePath = filepath.Join(dir, "deckwatch", "archive.db")
	}
	if c.Type == DatabaseTypePostgres {
		if c.Postgres.Port == 0 {
			c.Postgres.Port = 5432
		}
		if c.Postgres.SSLMode == "" {
			c.Postgres.SSLMode = "disable"
		}
		if c.Postgres.MaxOpenConns == 0 {
			c.Postgres.MaxOpenConns = 10
		}
	}
}

// Validate checks required settings.
func (c *Config) Validate() error {
	switch c.Type {
	case DatabaseTypeSQLite:
		if c.SQLitePath == "" {
			return errors.New("sqlite path is required")
		}
	case DatabaseTypePostgres:
		if c.Postgres.Host == "" {
			return errors.New("postgres host is required")
		}
		if c.Postgres.Database == "" {
			return errors.New("postgres database is required")
		}
		if c.Postgres.User == "" {
			return errors.New("postgres user is required")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.Type)
	}
	return nil
}

// Entry is one stored resource.
type Entry struct {
	Scope     string `gorm:"primaryKey"`
	Kind      string `gorm:"primaryKey"`
	ContentID uint32 `gorm:"primaryKey"`
	Data      []byte `gorm:"not null"`
	UpdatedAt time.Time
}

// TableName implements gorm's tabler.
func (Entry) TableName() string { return "archive_entries" }

// Store is an archive.Writer backed by gorm.
type Store struct {
	db     *gorm.DB
	config Config
}

var _ archive.Writer = (*Store)(nil)

// Open connects to the database and brings its schema up to date.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid archive database configuration: %w", err)
	}

	var dialector gorm.Dialector
	switch cfg.Type {
	case DatabaseTypeSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dialector = sqlite.Open(cfg.SQLitePath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	case DatabaseTypePostgres:
		if err := RunMigrations(ctx, cfg.Postgres.URL()); err != nil {
			return nil, err
		}
		dialector = postgres.Open(cfg.Postgres.DSN())
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	switch cfg.Type {
	case DatabaseTypeSQLite:
		if err := db.AutoMigrate(&Entry{}); err != nil {
			return nil, fmt.Errorf("failed to run database migration: %w", err)
		}
	case DatabaseTypePostgres:
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying database: %w", err)
		}
		sqlDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	}

	return &Store{db: db, config: cfg}, nil
}

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(ctx context.Context, url string) error {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{MigrationsTable: "schema_migrations"})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to create source driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	version, dirty, verr := m.Version()
	if verr == nil {
		logger.Debug("Archive schema ready", "version", version, "dirty", dirty)
	}
	return nil
}

// Name implements archive.Archive.
func (s *Store) Name() string {
	return fmt.Sprintf("sql:%s/%s", s.config.Type, s.config.Scope)
}

// Lookup implements archive.Archive.
func (s *Store) Lookup(ctx context.Context, kind archive.Kind, id uint32) ([]byte, bool, error) {
	var e Entry
	err := s.db.WithContext(ctx).
		Where("scope = ? AND kind = ? AND content_id = ?", s.config.Scope, string(kind), id).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("archive lookup %s: %w", archive.EntryName(kind, id), err)
	}
	return e.Data, true, nil
}

// Store implements archive.Writer. Existing entries are replaced.
func (s *Store) Store(ctx context.Context, kind archive.Kind, id uint32, data []byte) error {
	e := Entry{Scope: s.config.Scope, Kind: string(kind), ContentID: id, Data: data, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}, {Name: "kind"}, {Name: "content_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&e).Error
	if err != nil {
		return fmt.Errorf("archive store %s: %w", archive.EntryName(kind, id), err)
	}
	return nil
}

// Count returns the number of entries of kind in this scope.
func (s *Store) Count(ctx context.Context, kind archive.Kind) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Entry{}).
		Where("scope = ? AND kind = ?", s.config.Scope, string(kind)).
		Count(&n).Error
	return n, err
}

// Close implements archive.Archive.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
