// internal/audit/audit.go
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/Corn-mrb/citadelpay/internal/logging"
	"github.com/Corn-mrb/citadelpay/internal/txlog"
	"go.uber.org/zap"
)

// Record mirrors one transaction-log entry into Postgres so operators
// can query the audit trail with SQL. The file log stays authoritative.
type Record struct {
	ID         int64 `gorm:"primary_key"`
	RecordedAt time.Time
	Kind       string
	Fields     string
}

func (Record) TableName() string {
	return "audit_records"
}

// Mirror is a txlog.Sink backed by Postgres.
type Mirror struct {
	db *gorm.DB
}

// Open connects to databaseURL and runs the SQL migrations. The connect
// is retried because the database may still be starting alongside the
// bot.
func Open(databaseURL, migrationsPath string) (*Mirror, error) {
	var db *gorm.DB
	err := retry.Do(
		func() error {
			var err error
			db, err = gorm.Open(postgres.Open(databaseURL), &gorm.Config{})
			return err
		},
		retry.Attempts(30),
		retry.Delay(2*time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.OnRetry(func(n uint, err error) {
			logging.Warn("audit database connection attempt failed",
				zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to audit database: %w", err)
	}

	if err := runMigrations(databaseURL, migrationsPath); err != nil {
		return nil, fmt.Errorf("error running audit migrations: %w", err)
	}

	return &Mirror{db: db}, nil
}

// Record inserts one entry. Failures are returned to the log's sink
// fan-out, which downgrades them to warnings.
func (m *Mirror) Record(e txlog.Entry) error {
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode audit fields: %w", err)
	}
	rec := Record{
		RecordedAt: e.Time,
		Kind:       string(e.Kind),
		Fields:     string(fields),
	}
	if err := m.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

func (m *Mirror) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("error getting sql.DB: %w", err)
	}
	return sqlDB.Close()
}

func runMigrations(databaseURL, migrationsPath string) error {
	m, err := migrate.New("file://"+migrationsPath, databaseURL)
	if err != nil {
		return fmt.Errorf("error initializing migrations: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("error applying migrations: %w", err)
	}
	logging.Info("audit migrations applied")
	return nil
}
