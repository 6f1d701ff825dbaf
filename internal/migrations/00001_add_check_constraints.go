package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upAddCheckConstraints, downAddCheckConstraints)
}

var domainChecks = [][3]string{
	{"expert_profiles", "chk_expert_fee_positive", "consultation_fee > 0"},
	{"expert_profiles", "chk_expert_rating_range", "rating >= 0 AND rating <= 5"},
	{"expert_profiles", "chk_expert_counters", "total_reviews >= 0 AND total_consultations >= 0"},

	{"weekly_availabilities", "chk_weekly_day", "day_of_week BETWEEN 0 AND 6"},
	{"weekly_availabilities", "chk_weekly_window", "start_time < end_time"},
	{"weekly_availabilities", "chk_weekly_slot", "slot_duration_minutes > 0"},

	{"consultations", "chk_consultation_duration", "duration_minutes > 0"},
	{"consultations", "chk_consultation_amount", "amount >= 0 AND refunded_amount >= 0 AND refunded_amount <= amount"},
	{"consultations", "chk_consultation_status",
		"status IN ('pending','confirmed','in_progress','completed','cancelled','no_show')"},
	{"consultations", "chk_consultation_payment_status",
		"payment_status IN ('pending','paid','partially_refunded','refunded','failed')"},
	{"consultations", "chk_consultation_type", "type IN ('video','audio','chat')"},

	{"reviews", "chk_review_rating", "rating BETWEEN 1 AND 5"},
}

func upAddCheckConstraints(ctx context.Context, tx *sql.Tx) error {
	return addChecks(ctx, tx, domainChecks)
}

func downAddCheckConstraints(ctx context.Context, tx *sql.Tx) error {
	return dropChecks(ctx, tx, domainChecks)
}
