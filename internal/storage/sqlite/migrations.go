package sqlite

import "database/sql"

// migrations contains the SQL statements to set up the database schema.
// These run on startup to ensure tables exist.
//
// The UNIQUE constraint on executions.pledge_id is load-bearing: it is the
// atomic claim that makes pledge execution at-most-once. Executions and
// contributions have no UPDATE or DELETE path anywhere in the codebase;
// they are retained indefinitely for campaign-finance disclosure.
const schema = `
CREATE TABLE IF NOT EXISTS triggers (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    status TEXT NOT NULL,
    outcome TEXT,
    pledge_count INTEGER NOT NULL DEFAULT 0,
    total_pledged INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    resolved_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS recipients (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS profiles (
    id TEXT PRIMARY KEY,
    schema_version INTEGER NOT NULL,
    name_first TEXT NOT NULL,
    name_last TEXT NOT NULL,
    address TEXT NOT NULL,
    city TEXT NOT NULL,
    state TEXT NOT NULL,
    zip TEXT NOT NULL,
    employer TEXT NOT NULL,
    occupation TEXT NOT NULL,
    card_last_four TEXT NOT NULL,
    card_hash TEXT NOT NULL,
    gateway_token TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pledges (
    id TEXT PRIMARY KEY,
    trigger_id TEXT NOT NULL,
    profile_id TEXT NOT NULL,
    amount INTEGER NOT NULL CHECK (amount > 0),
    tip_amount INTEGER NOT NULL DEFAULT 0 CHECK (tip_amount >= 0),
    via_campaign TEXT NOT NULL DEFAULT '',
    ref_code TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (trigger_id) REFERENCES triggers(id),
    FOREIGN KEY (profile_id) REFERENCES profiles(id)
);

CREATE TABLE IF NOT EXISTS cancelled_pledges (
    id TEXT PRIMARY KEY,
    pledge_id TEXT NOT NULL,
    trigger_id TEXT NOT NULL,
    profile_id TEXT NOT NULL,
    via_campaign TEXT NOT NULL DEFAULT '',
    ref_code TEXT NOT NULL DEFAULT '',
    amount INTEGER NOT NULL,
    tip_amount INTEGER NOT NULL DEFAULT 0,
    pledged_at INTEGER NOT NULL,
    cancelled_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS executions (
    id TEXT PRIMARY KEY,
    pledge_id TEXT NOT NULL UNIQUE,
    charged INTEGER NOT NULL CHECK (charged >= 0),
    fees INTEGER NOT NULL CHECK (fees >= 0),
    problem TEXT NOT NULL,
    problem_detail TEXT NOT NULL DEFAULT '',
    transaction_id TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    FOREIGN KEY (pledge_id) REFERENCES pledges(id)
);

CREATE TABLE IF NOT EXISTS contributions (
    id TEXT PRIMARY KEY,
    execution_id TEXT NOT NULL,
    recipient_id TEXT NOT NULL,
    amount INTEGER NOT NULL CHECK (amount > 0),
    FOREIGN KEY (execution_id) REFERENCES executions(id),
    FOREIGN KEY (recipient_id) REFERENCES recipients(id)
);

CREATE TABLE IF NOT EXISTS notifications (
    id TEXT PRIMARY KEY,
    profile_id TEXT NOT NULL,
    pledge_id TEXT NOT NULL DEFAULT '',
    kind TEXT NOT NULL,
    text TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    acknowledged_at INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (profile_id) REFERENCES profiles(id)
);

CREATE INDEX IF NOT EXISTS idx_pledges_trigger_status ON pledges(trigger_id, status);
CREATE INDEX IF NOT EXISTS idx_pledges_profile_id ON pledges(profile_id);
CREATE INDEX IF NOT EXISTS idx_pledges_status ON pledges(status);
CREATE INDEX IF NOT EXISTS idx_contributions_execution_id ON contributions(execution_id);
CREATE INDEX IF NOT EXISTS idx_profiles_card_last_four ON profiles(card_last_four);
CREATE INDEX IF NOT EXISTS idx_notifications_profile_id ON notifications(profile_id);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
