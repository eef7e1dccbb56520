// Package store persists test results. Records are self-contained JSON
// documents keyed by execution id, with a few indexed columns for
// listing. SQLite is the default driver; postgres is available for
// shared deployments.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/forcelab/eoltester/pkg/sequence"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when no record matches the requested key.
var ErrNotFound = errors.New("record not found")

// Config selects and parameterizes the database driver.
type Config struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ApplyDefaults fills the driver and sqlite path.
func (c *Config) ApplyDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}

	if c.SQLite.Path == "" {
		c.SQLite.Path = "eoltester.db"
	}

	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}

	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
}

// Validate checks the selected driver.
func (c *Config) Validate() error {
	switch c.Driver {
	case "sqlite", "postgres":
		return nil
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Driver)
	}
}

// ListFilter narrows a result listing. Zero values match everything.
type ListFilter struct {
	DUTSerial string
	Verdict   string
	Limit     int
	Offset    int
}

// Store provides persistence for results and API users.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	SaveResult(ctx context.Context, result *sequence.TestResult) error
	GetResult(ctx context.Context, executionID string) (*sequence.TestResult, error)
	ListResults(ctx context.Context, filter ListFilter) ([]ResultRecord, error)
	CountResults(ctx context.Context) (int64, error)

	GetUserByUsername(ctx context.Context, username string) (*User, error)
	SeedUsers(ctx context.Context, users map[string]string) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg Config
	db  *gorm.DB
}

// New creates a Store backed by the configured database driver.
func New(log logrus.FieldLogger, cfg Config) Store {
	cfg.ApplyDefaults()

	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&ResultRecord{},
		&User{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// SaveResult writes one execution as a self-contained record.
func (s *store) SaveResult(ctx context.Context, result *sequence.TestResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}

	record := ResultRecord{
		ExecutionID:  result.ExecutionID,
		DUTSerial:    result.DUTSerial,
		Verdict:      string(result.Verdict),
		StartedAt:    result.StartedAt,
		EndedAt:      result.EndedAt,
		Duration:     result.Duration(),
		Measurements: len(result.Measurements),
		Payload:      payload,
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("saving result: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"execution_id": result.ExecutionID,
		"verdict":      result.Verdict,
	}).Info("Result saved")

	return nil
}

// GetResult loads the full result document for one execution id.
func (s *store) GetResult(ctx context.Context, executionID string) (*sequence.TestResult, error) {
	var record ResultRecord
	if err := s.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("getting result: %w", err)
	}

	var result sequence.TestResult
	if err := json.Unmarshal(record.Payload, &result); err != nil {
		return nil, fmt.Errorf("decoding result: %w", err)
	}

	return &result, nil
}

// ListResults returns record summaries, newest first. Payloads are not
// loaded.
func (s *store) ListResults(ctx context.Context, filter ListFilter) ([]ResultRecord, error) {
	query := s.db.WithContext(ctx).
		Omit("payload").
		Order("started_at DESC")

	if filter.DUTSerial != "" {
		query = query.Where("dut_serial = ?", filter.DUTSerial)
	}

	if filter.Verdict != "" {
		query = query.Where("verdict = ?", filter.Verdict)
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var records []ResultRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}

	return records, nil
}

func (s *store) CountResults(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&ResultRecord{}).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting results: %w", err)
	}

	return count, nil
}

func (s *store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).
		Where("username = ?", username).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("getting user by username: %w", err)
	}

	return &user, nil
}

// SeedUsers upserts the config-sourced API accounts. Passwords are
// stored as bcrypt hashes.
func (s *store) SeedUsers(ctx context.Context, users map[string]string) error {
	for username, password := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hashing password for %q: %w", username, err)
		}

		user := User{Username: username, PasswordHash: string(hash)}

		result := s.db.WithContext(ctx).
			Where("username = ?", username).
			Assign(User{PasswordHash: string(hash)}).
			FirstOrCreate(&user)
		if result.Error != nil {
			return fmt.Errorf("seeding user %q: %w", username, result.Error)
		}
	}

	if len(users) > 0 {
		s.log.WithField("count", len(users)).Info("Seeded API users")
	}

	return nil
}
