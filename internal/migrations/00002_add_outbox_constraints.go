package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upAddOutboxConstraints, downAddOutboxConstraints)
}

var outboxChecks = [][3]string{
	{"notification_outboxes", "chk_outbox_status", "status IN ('pending','sent','dead')"},
	{"notification_outboxes", "chk_outbox_attempts", "attempts >= 0"},
	{"device_tokens", "chk_device_platform", "platform IN ('expo','ios')"},
}

func upAddOutboxConstraints(ctx context.Context, tx *sql.Tx) error {
	if err := addChecks(ctx, tx, outboxChecks); err != nil {
		return err
	}
	// Воркер выбирает только pending-записи; частичный индекс держит выборку короткой.
	_, err := tx.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_outbox_pending_due
			ON notification_outboxes (next_attempt_at)
			WHERE status = 'pending';
	`)
	return err
}

func downAddOutboxConstraints(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `DROP INDEX IF EXISTS idx_outbox_pending_due;`); err != nil {
		return err
	}
	return dropChecks(ctx, tx, outboxChecks)
}
