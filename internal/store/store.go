package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store wraps a single gorm.DB handle. All cross-row invariants are
// enforced by the methods below, never by callers reaching into the
// underlying *gorm.DB directly.
type Store struct {
	db      *gorm.DB
	dialect string // "postgres" | "sqlite"
}

// Open connects to Postgres when dsn starts with postgres:// or
// postgresql://, otherwise falls back to a local SQLite file at sqlitePath.
func Open(dsn, sqlitePath string) (*Store, error) {
	var db *gorm.DB
	var err error
	dialect := "sqlite"

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return nil, fmt.Errorf("connecting postgres: %w", err)
		}
		dialect = "postgres"
	} else {
		if dir := filepath.Dir(sqlitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating sqlite dir: %w", err)
			}
		}
		db, err = gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return nil, fmt.Errorf("opening sqlite: %w", err)
		}
	}

	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// withLock applies SELECT ... FOR UPDATE on Postgres. SQLite has no
// row-level locking syntax; its whole-database write lock during a
// transaction gives the same exclusivity for the single-instance-per-role
// deployment this system assumes.
func (s *Store) withLock(tx *gorm.DB) *gorm.DB {
	if s.dialect != "postgres" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&userRow{}, &userSettingsRow{}, &userVenueCredentialRow{},
		&whaleRow{}, &whaleFollowRow{},
		&signalRow{}, &tradeRow{}, &positionRow{},
	)
}

// WithTx runs fn inside a new transaction, for callers (the engine opening
// a position after a fill, and closing one with its balance credit) that
// need to compose two or more store methods atomically without a dedicated
// wrapper method.
func (s *Store) WithTx(fn func(tx *gorm.DB) error) error {
	return s.db.Transaction(fn)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ErrOptimisticConflict is returned when a version-checked UPDATE affects
// zero rows — another worker won the race.
var ErrOptimisticConflict = fmt.Errorf("optimistic concurrency conflict")
