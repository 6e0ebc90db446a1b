// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SchemaStatus は適用済みスキーマの状態。
type SchemaStatus struct {
	Version uint
	Dirty   bool
	// Empty はマイグレーションが1つも適用されていないことを示す。
	Empty bool
}

// Migrator は埋め込みSQLを使うgolang-migrateのラッパー。
type Migrator struct {
	m *migrate.Migrate
}

// migrateLogger はgolang-migrateのログをslogへ流す。
type migrateLogger struct {
	logger *slog.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)), slog.String("component", "migrate"))
}

func (l migrateLogger) Verbose() bool { return false }

// NewMigrator はdatabaseURLに対するMigratorを生成する。loggerがnilの場合はログを出さない。
func NewMigrator(databaseURL string, logger *slog.Logger) (*Migrator, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	if logger != nil {
		m.Log = migrateLogger{logger: logger}
	}
	return &Migrator{m: m}, nil
}

// Up は未適用のマイグレーションをすべて適用する。最新の場合は何もしない。
func (mg *Migrator) Up() (SchemaStatus, error) {
	if err := mg.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return SchemaStatus{}, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return mg.checkedStatus()
}

// Down は直近のマイグレーションをsteps個だけ戻す。stepsが0以下の場合はすべて戻す。
func (mg *Migrator) Down(steps int) (SchemaStatus, error) {
	var err error
	if steps > 0 {
		err = mg.m.Steps(-steps)
	} else {
		err = mg.m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return SchemaStatus{}, fmt.Errorf("failed to roll back migrations: %w", err)
	}
	return mg.Status()
}

// Status は現在のスキーマバージョンを返す。
func (mg *Migrator) Status() (SchemaStatus, error) {
	version, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return SchemaStatus{Empty: true}, nil
	}
	if err != nil {
		return SchemaStatus{}, fmt.Errorf("failed to read schema version: %w", err)
	}
	return SchemaStatus{Version: version, Dirty: dirty}, nil
}

func (mg *Migrator) checkedStatus() (SchemaStatus, error) {
	st, err := mg.Status()
	if err != nil {
		return st, err
	}
	if st.Dirty {
		return st, fmt.Errorf("database schema is dirty at version %d", st.Version)
	}
	return st, nil
}

// Close はソースとデータベースの接続を閉じる。
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr)
}

// RunMigrations はすべてのマイグレーションを適用し、適用後のスキーマバージョンを返す。
func RunMigrations(databaseURL string) (uint, error) {
	mg, err := NewMigrator(databaseURL, nil)
	if err != nil {
		return 0, err
	}
	defer mg.Close()

	st, err := mg.Up()
	return st.Version, err
}
