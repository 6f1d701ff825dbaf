// Package migrations holds the constraints GORM AutoMigrate cannot express.
// They run after AutoMigrate, against PostgreSQL only.
package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// Up applies every registered migration.
func Up(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	provider, err := goose.NewProvider(goose.DialectPostgres, db, nil)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	for _, r := range results {
		logger.Info("migration applied",
			zap.Int64("version", r.Source.Version),
			zap.Duration("duration", r.Duration))
	}
	return nil
}

// checks are (table, constraint, expression) triples; re-adding is idempotent.
func addChecks(ctx context.Context, tx *sql.Tx, checks [][3]string) error {
	for _, c := range checks {
		stmt := fmt.Sprintf(
			`ALTER TABLE %[1]s DROP CONSTRAINT IF EXISTS %[2]s; ALTER TABLE %[1]s ADD CONSTRAINT %[2]s CHECK (%[3]s);`,
			c[0], c[1], c[2])
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s.%s: %w", c[0], c[1], err)
		}
	}
	return nil
}

func dropChecks(ctx context.Context, tx *sql.Tx, checks [][3]string) error {
	for _, c := range checks {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s;`, c[0], c[1])); err != nil {
			return err
		}
	}
	return nil
}
