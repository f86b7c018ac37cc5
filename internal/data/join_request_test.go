package data

import (
	"os"
	"regexp"
	"testing"
)

// Create's duplicate-knock no-op is only race-safe because the database
// collapses concurrent inserts: two simultaneous knocks each see no pending
// row in their own snapshot, so the partial unique index behind the
// ON CONFLICT clause is part of Create's contract, not an optimization.
func TestSchemaEnforcesOnePendingKnock(t *testing.T) {
	schema, err := os.ReadFile("../../schema.sql")
	if err != nil {
		t.Fatalf("reading schema: %v", err)
	}

	idx := regexp.MustCompile(`(?s)CREATE UNIQUE INDEX (IF NOT EXISTS )?join_requests_pending_idx\s+ON join_requests\s*\(room_id, user_id\)\s*WHERE is_joined = false`)
	if !idx.Match(schema) {
		t.Fatal("schema is missing the partial unique index on pending join requests")
	}
}

func TestSchemaCoversEveryRecordTable(t *testing.T) {
	schema, err := os.ReadFile("../../schema.sql")
	if err != nil {
		t.Fatalf("reading schema: %v", err)
	}

	tables := []string{
		"users", "sessions", "otps", "rooms",
		"join_requests", "participants", "room_sessions",
	}
	for _, table := range tables {
		re := regexp.MustCompile(`CREATE TABLE IF NOT EXISTS ` + table + `\b`)
		if !re.Match(schema) {
			t.Errorf("schema is missing table %q", table)
		}
	}
}
