package database

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect/sql"
)

// CreateGINIndexes creates full-text search GIN indexes for PostgreSQL.
// These enable efficient full-text search over the run list's trigger
// message and findings, which ent's schema DSL cannot express.
func CreateGINIndexes(ctx context.Context, driver *sql.Driver) error {
	db := driver.DB()

	// GIN index for trigger_message full-text search
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_agent_runs_trigger_message_gin
		ON agent_runs USING gin(to_tsvector('english', COALESCE(trigger_message, '')))`)
	if err != nil {
		return fmt.Errorf("failed to create trigger_message GIN index: %w", err)
	}

	// GIN index for output_summary full-text search
	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_agent_runs_output_summary_gin
		ON agent_runs USING gin(to_tsvector('english', COALESCE(output_summary, '')))`)
	if err != nil {
		return fmt.Errorf("failed to create output_summary GIN index: %w", err)
	}

	return nil
}
