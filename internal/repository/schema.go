package repository

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		plan TEXT NOT NULL DEFAULT 'FREE',
		visitors_used_this_month INTEGER NOT NULL DEFAULT 0,
		billing_cycle_start TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS websites (
		id UUID PRIMARY KEY,
		account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		script_key TEXT NOT NULL UNIQUE,
		domain TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS campaigns (
		id UUID PRIMARY KEY,
		website_id UUID NOT NULL REFERENCES websites(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		popup_type TEXT NOT NULL,
		content JSONB NOT NULL DEFAULT '{}',
		priority INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'PAUSED',
		frequency TEXT NOT NULL DEFAULT 'ONCE_PER_SESSION',
		trigger_rules JSONB NOT NULL DEFAULT '{"conditions":[],"operator":"AND"}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_campaigns_website_status ON campaigns(website_id, status, priority DESC)`,
	`CREATE TABLE IF NOT EXISTS visitors (
		id UUID PRIMARY KEY,
		website_id UUID NOT NULL REFERENCES websites(id) ON DELETE CASCADE,
		visitor_hash TEXT NOT NULL,
		pages_viewed TEXT[] NOT NULL DEFAULT '{}',
		intent_score INTEGER NOT NULL DEFAULT 0 CHECK (intent_score BETWEEN 0 AND 100),
		intent_level TEXT NOT NULL DEFAULT 'LOW',
		scroll_depth INTEGER NOT NULL DEFAULT 0 CHECK (scroll_depth BETWEEN 0 AND 100),
		time_on_site BIGINT NOT NULL DEFAULT 0,
		visit_count INTEGER NOT NULL DEFAULT 1,
		counted_for_month TIMESTAMPTZ,
		first_seen TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_seen TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		utm_source TEXT NOT NULL DEFAULT '',
		utm_medium TEXT NOT NULL DEFAULT '',
		utm_campaign TEXT NOT NULL DEFAULT '',
		referrer TEXT NOT NULL DEFAULT '',
		device TEXT NOT NULL DEFAULT '',
		browser TEXT NOT NULL DEFAULT '',
		os TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_visitors_website_hash ON visitors(website_id, visitor_hash)`,
	`CREATE TABLE IF NOT EXISTS events (
		id UUID PRIMARY KEY,
		website_id UUID NOT NULL REFERENCES websites(id) ON DELETE CASCADE,
		visitor_id UUID NOT NULL REFERENCES visitors(id) ON DELETE CASCADE,
		campaign_id UUID REFERENCES campaigns(id) ON DELETE SET NULL,
		event_type TEXT NOT NULL,
		page TEXT NOT NULL DEFAULT '',
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_website_created ON events(website_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_events_campaign_type ON events(campaign_id, event_type)`,
	`CREATE TABLE IF NOT EXISTS leads (
		id UUID PRIMARY KEY,
		website_id UUID NOT NULL REFERENCES websites(id) ON DELETE CASCADE,
		campaign_id UUID REFERENCES campaigns(id) ON DELETE SET NULL,
		visitor_id UUID NOT NULL REFERENCES visitors(id) ON DELETE CASCADE,
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		utm_source TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate creates the tables and indexes if they do not exist yet.
func (r *Repository) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i, err)
		}
	}
	return nil
}
