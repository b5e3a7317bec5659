package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/navimed/navimed/migrations"
)

// Migrator applies the embedded goose migrations.
type Migrator struct {
	dsn    string
	fsys   fs.FS
	logger zerolog.Logger
}

func NewMigrator(dsn string, logger zerolog.Logger) *Migrator {
	return &Migrator{dsn: dsn, fsys: migrations.FS, logger: logger}
}

func (m *Migrator) open() (*sql.DB, error) {
	goose.SetBaseFS(m.fsys)
	goose.SetLogger(gooseLogger{m.logger})
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, err
	}
	db, err := sql.Open("pgx", m.dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// Up runs all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	db, err := m.open()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Status logs every migration and whether it has been applied.
func (m *Migrator) Status(ctx context.Context) error {
	db, err := m.open()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := goose.StatusContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	return nil
}

// Versions lists the embedded migration versions, in order.
func (m *Migrator) Versions() ([]int64, error) {
	goose.SetBaseFS(m.fsys)
	list, err := goose.CollectMigrations(".", 0, goose.MaxVersion)
	if err != nil {
		return nil, fmt.Errorf("collect migrations: %w", err)
	}
	out := make([]int64, 0, len(list))
	for _, mig := range list {
		out = append(out, mig.Version)
	}
	return out, nil
}

// gooseLogger routes goose output through zerolog.
type gooseLogger struct {
	l zerolog.Logger
}

func (g gooseLogger) Fatalf(format string, v ...interface{}) {
	g.l.Fatal().Msgf(format, v...)
}

func (g gooseLogger) Printf(format string, v ...interface{}) {
	g.l.Info().Msgf(format, v...)
}
