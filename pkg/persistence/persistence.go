// Package persistence implements the optional durable store for the
// simulator: a single-row state snapshot plus an append-only traffic log,
// backed by SQLite (default) or PostgreSQL through GORM.
//
// Persistence is best-effort: the simulator keeps running when the store
// fails, so every write degrades to a logged warning upstream.
package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marmos91/opsim/pkg/simulator"
)

// DatabaseType defines the supported database backends.
type DatabaseType string

const (
	// DatabaseTypeSQLite uses SQLite (single-node, default).
	DatabaseTypeSQLite DatabaseType = "sqlite"

	// DatabaseTypePostgres uses PostgreSQL.
	DatabaseTypePostgres DatabaseType = "postgres"
)

// PostgresConfig contains PostgreSQL-specific configuration.
type PostgresConfig struct {
	Host         string
	Port         int
	Database     string
	User         string
	Password     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// DSN returns the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		c.Host, c.Port, c.User, c.Password, c.Database)
	if c.SSLMode != "" {
		dsn += fmt.Sprintf(" sslmode=%s", c.SSLMode)
	}
	return dsn
}

// Config contains database configuration.
type Config struct {
	Type     DatabaseType
	SQLite   struct{ Path string }
	Postgres PostgresConfig
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Type == "" {
		c.Type = DatabaseTypeSQLite
	}
	if c.Type == DatabaseTypeSQLite && c.SQLite.Path == "" {
		c.SQLite.Path = "opsim_state.db"
	}
	if c.Type == DatabaseTypePostgres {
		if c.Postgres.Port == 0 {
			c.Postgres.Port = 5432
		}
		if c.Postgres.SSLMode == "" {
			c.Postgres.SSLMode = "disable"
		}
		if c.Postgres.MaxOpenConns == 0 {
			c.Postgres.MaxOpenConns = 25
		}
		if c.Postgres.MaxIdleConns == 0 {
			c.Postgres.MaxIdleConns = 5
		}
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Type {
	case DatabaseTypeSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case DatabaseTypePostgres:
		if c.Postgres.Host == "" {
			return fmt.Errorf("postgres host is required")
		}
		if c.Postgres.Database == "" {
			return fmt.Errorf("postgres database is required")
		}
		if c.Postgres.User == "" {
			return fmt.Errorf("postgres user is required")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.Type)
	}
	return nil
}

// StateSnapshot is the single-row table holding the serialized domain tree.
type StateSnapshot struct {
	ID        int       `gorm:"primaryKey"`
	UpdatedAt time.Time `gorm:"not null"`
	StateJSON string    `gorm:"type:text;not null"`
}

// TrafficEntry is one captured protocol frame, append-only.
type TrafficEntry struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp   time.Time `gorm:"not null;index"`
	SessionID   string    `gorm:"size:128;not null"`
	Role        string    `gorm:"size:32;not null"`
	Direction   string    `gorm:"size:32;not null"`
	MID         string    `gorm:"column:mid;size:4;not null;index"`
	Revision    int       `gorm:"not null"`
	Length      int       `gorm:"not null"`
	RawASCII    string    `gorm:"type:text;not null"`
	DecodedData string    `gorm:"type:text;not null"`
}

// TableName keeps the table name short.
func (TrafficEntry) TableName() string { return "traffic" }

// GORMStore implements simulator.Persistence over SQLite or PostgreSQL.
type GORMStore struct {
	db     *gorm.DB
	config *Config
}

var _ simulator.Persistence = (*GORMStore)(nil)

// New opens the database and migrates the schema.
func New(config *Config) (*GORMStore, error) {
	if config == nil {
		config = &Config{}
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	var dialector gorm.Dialector
	switch config.Type {
	case DatabaseTypeSQLite:
		if dir := filepath.Dir(config.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		// WAL keeps the traffic log writable while the control plane reads.
		dsn := config.SQLite.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		dialector = sqlite.Open(dsn)

	case DatabaseTypePostgres:
		dialector = postgres.Open(config.Postgres.DSN())

	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if config.Type == DatabaseTypePostgres {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying database: %w", err)
		}
		sqlDB.SetMaxOpenConns(config.Postgres.MaxOpenConns)
		sqlDB.SetMaxIdleConns(config.Postgres.MaxIdleConns)
	}

	if err := db.AutoMigrate(&StateSnapshot{}, &TrafficEntry{}); err != nil {
		return nil, fmt.Errorf("failed to run database migration: %w", err)
	}

	return &GORMStore{db: db, config: config}, nil
}

// LoadState returns the persisted domain tree, or nil when none exists.
func (s *GORMStore) LoadState() (map[string]any, error) {
	var row StateSnapshot
	err := s.db.First(&row, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state snapshot: %w", err)
	}
	var state map[string]any
	if err := json.Unmarshal([]byte(row.StateJSON), &state); err != nil {
		return nil, fmt.Errorf("decode state snapshot: %w", err)
	}
	return state, nil
}

// SaveState upserts the single snapshot row.
func (s *GORMStore) SaveState(state map[string]any) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state snapshot: %w", err)
	}
	row := StateSnapshot{ID: 1, UpdatedAt: time.Now().UTC(), StateJSON: string(payload)}
	return s.db.Save(&row).Error
}

// AppendTraffic inserts one traffic record.
func (s *GORMStore) AppendTraffic(record simulator.TrafficRecord) error {
	entry := TrafficEntry{
		Timestamp:   record.Timestamp,
		SessionID:   record.SessionID,
		Role:        string(record.Role),
		Direction:   record.Direction,
		MID:         record.MID,
		Revision:    record.Revision,
		Length:      record.Length,
		RawASCII:    record.RawASCII,
		DecodedData: record.DecodedData,
	}
	return s.db.Create(&entry).Error
}

// Close releases the underlying connection pool.
func (s *GORMStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
