package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/iamgideonidoko/nudge/internal/models"
)

var ErrNotFound = errors.New("record not found")

type Repository struct {
	db *sqlx.DB
}

func NewRepository(dsn string, maxConns, maxIdleConns int) (*Repository, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	return &Repository{db: db}, nil
}

// GetWebsiteByKey resolves a script key to its website and the owner's plan.
func (r *Repository) GetWebsiteByKey(ctx context.Context, key string) (*models.Website, error) {
	query := `
		SELECT w.id, w.account_id, w.script_key, w.domain, w.name, a.plan, w.created_at
		FROM websites w
		JOIN accounts a ON a.id = w.account_id
		WHERE w.script_key = $1
	`

	var website models.Website
	if err := r.db.GetContext(ctx, &website, query, key); err != nil {
		return nil, notFound(err, "failed to get website")
	}
	return &website, nil
}

func (r *Repository) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	if err := r.db.GetContext(ctx, &account, `SELECT * FROM accounts WHERE id = $1`, id); err != nil {
		return nil, notFound(err, "failed to get account")
	}
	return &account, nil
}

// ListActiveCampaigns returns ACTIVE campaigns, highest priority first and
// oldest first within a priority.
func (r *Repository) ListActiveCampaigns(ctx context.Context, websiteID uuid.UUID) ([]models.Campaign, error) {
	query := `
		SELECT * FROM campaigns
		WHERE website_id = $1 AND status = $2
		ORDER BY priority DESC, created_at ASC
	`

	var campaigns []models.Campaign
	if err := r.db.SelectContext(ctx, &campaigns, query, websiteID, models.CampaignActive); err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	return campaigns, nil
}

func (r *Repository) GetVisitor(ctx context.Context, websiteID uuid.UUID, hash string) (*models.Visitor, error) {
	query := `SELECT * FROM visitors WHERE website_id = $1 AND visitor_hash = $2`

	var visitor models.Visitor
	if err := r.db.GetContext(ctx, &visitor, query, websiteID, hash); err != nil {
		return nil, notFound(err, "failed to get visitor")
	}
	return &visitor, nil
}

// CreateVisitor inserts v unless a row for (website, hash) already exists.
// created is false when another request got there first.
func (r *Repository) CreateVisitor(ctx context.Context, v *models.Visitor) (bool, error) {
	query := `
		INSERT INTO visitors (
			id, website_id, visitor_hash, pages_viewed, intent_score, intent_level,
			scroll_depth, time_on_site, visit_count, first_seen, last_seen,
			utm_source, utm_medium, utm_campaign, referrer, device, browser, os, country, city
		) VALUES (
			:id, :website_id, :visitor_hash, :pages_viewed, :intent_score, :intent_level,
			:scroll_depth, :time_on_site, :visit_count, :first_seen, :last_seen,
			:utm_source, :utm_medium, :utm_campaign, :referrer, :device, :browser, :os, :country, :city
		)
		ON CONFLICT (website_id, visitor_hash) DO NOTHING
	`

	res, err := r.db.NamedExecContext(ctx, query, v)
	if err != nil {
		return false, fmt.Errorf("failed to create visitor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to create visitor: %w", err)
	}
	return n == 1, nil
}

// MergeVisitor folds u into the stored row in a single statement. Postgres
// evaluates every SET expression against the pre-update row, so concurrent
// merges serialize on the row lock and never lose a ratchet or a first touch.
func (r *Repository) MergeVisitor(ctx context.Context, u models.VisitorUpdate) (*models.Visitor, error) {
	timeout := u.SessionTimeout
	if timeout <= 0 {
		timeout = models.DefaultSessionTimeout
	}

	query := `
		UPDATE visitors SET
			pages_viewed = CASE
				WHEN $3 = '' OR $3 = ANY(pages_viewed) THEN pages_viewed
				ELSE (array_append(pages_viewed, $3::text))[GREATEST(COALESCE(array_length(pages_viewed, 1), 0) + 2 - $4::int, 1):]
			END,
			intent_level = CASE WHEN $5 > intent_score THEN $6 ELSE intent_level END,
			intent_score = GREATEST(intent_score, $5),
			scroll_depth = GREATEST(scroll_depth, $7),
			time_on_site = time_on_site + GREATEST($8::bigint, 0),
			visit_count = visit_count + CASE
				WHEN $9::timestamptz - last_seen > make_interval(secs => $10::double precision) THEN 1
				ELSE 0
			END,
			last_seen = GREATEST(last_seen, $9::timestamptz),
			utm_source = COALESCE(NULLIF(utm_source, ''), $11),
			utm_medium = COALESCE(NULLIF(utm_medium, ''), $12),
			utm_campaign = COALESCE(NULLIF(utm_campaign, ''), $13),
			referrer = COALESCE(NULLIF(referrer, ''), $14),
			device = COALESCE(NULLIF(device, ''), $15),
			browser = COALESCE(NULLIF(browser, ''), $16),
			os = COALESCE(NULLIF(os, ''), $17),
			country = COALESCE(NULLIF(country, ''), $18),
			city = COALESCE(NULLIF(city, ''), $19)
		WHERE website_id = $1 AND visitor_hash = $2
		RETURNING *
	`

	a := u.Attribution
	var visitor models.Visitor
	err := r.db.GetContext(ctx, &visitor, query,
		u.WebsiteID, u.VisitorHash, u.Page, models.MaxPagesViewed,
		u.IntentScore, u.IntentLevel, u.ScrollDepth, u.TimeOnPage,
		u.Now, timeout.Seconds(),
		a.UTMSource, a.UTMMedium, a.UTMCampaign, a.Referrer,
		a.Device, a.Browser, a.OS, a.Country, a.City,
	)
	if err != nil {
		return nil, notFound(err, "failed to merge visitor")
	}
	return &visitor, nil
}

// ClaimVisitorForMonth stamps the visitor as counted for the month starting
// at monthStart. Only one caller per visitor per month sees true.
func (r *Repository) ClaimVisitorForMonth(ctx context.Context, visitorID uuid.UUID, now, monthStart time.Time) (bool, error) {
	query := `
		UPDATE visitors SET counted_for_month = $2
		WHERE id = $1 AND (counted_for_month IS NULL OR counted_for_month < $3)
	`

	res, err := r.db.ExecContext(ctx, query, visitorID, now, monthStart)
	if err != nil {
		return false, fmt.Errorf("failed to claim visitor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim visitor: %w", err)
	}
	return n == 1, nil
}

// IncrementAccountUsage adds one visitor to the account's monthly counter,
// starting a fresh cycle when the stored one predates monthStart.
func (r *Repository) IncrementAccountUsage(ctx context.Context, accountID uuid.UUID, monthStart time.Time) error {
	query := `
		UPDATE accounts SET
			visitors_used_this_month = CASE
				WHEN billing_cycle_start IS NULL OR billing_cycle_start < $2 THEN 1
				ELSE visitors_used_this_month + 1
			END,
			billing_cycle_start = CASE
				WHEN billing_cycle_start IS NULL OR billing_cycle_start < $2 THEN $2
				ELSE billing_cycle_start
			END
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query, accountID, monthStart)
	if err != nil {
		return fmt.Errorf("failed to increment usage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) CampaignBelongsTo(ctx context.Context, websiteID, campaignID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM campaigns WHERE id = $1 AND website_id = $2)`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, campaignID, websiteID); err != nil {
		return false, fmt.Errorf("failed to check campaign: %w", err)
	}
	return exists, nil
}

func (r *Repository) InsertEvent(ctx context.Context, e *models.Event) error {
	query := `
		INSERT INTO events (id, website_id, visitor_id, campaign_id, event_type, page, metadata, created_at)
		VALUES (:id, :website_id, :visitor_id, :campaign_id, :event_type, :page, :metadata, :created_at)
	`

	if _, err := r.db.NamedExecContext(ctx, query, e); err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

func (r *Repository) InsertLead(ctx context.Context, l *models.Lead) error {
	query := `
		INSERT INTO leads (id, website_id, campaign_id, visitor_id, email, phone, name, utm_source, created_at)
		VALUES (:id, :website_id, :campaign_id, :visitor_id, :email, :phone, :name, :utm_source, :created_at)
	`

	if _, err := r.db.NamedExecContext(ctx, query, l); err != nil {
		return fmt.Errorf("failed to insert lead: %w", err)
	}
	return nil
}

func (r *Repository) CreateAccount(ctx context.Context, a *models.Account) error {
	query := `
		INSERT INTO accounts (id, email, plan, visitors_used_this_month, billing_cycle_start, created_at)
		VALUES (:id, :email, :plan, :visitors_used_this_month, :billing_cycle_start, :created_at)
	`

	if _, err := r.db.NamedExecContext(ctx, query, a); err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (r *Repository) CreateWebsite(ctx context.Context, w *models.Website) error {
	query := `
		INSERT INTO websites (id, account_id, script_key, domain, name, created_at)
		VALUES (:id, :account_id, :script_key, :domain, :name, :created_at)
	`

	if _, err := r.db.NamedExecContext(ctx, query, w); err != nil {
		return fmt.Errorf("failed to create website: %w", err)
	}
	return nil
}

func (r *Repository) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	if err := c.TriggerRules.Validate(); err != nil {
		return fmt.Errorf("invalid trigger rules: %w", err)
	}

	query := `
		INSERT INTO campaigns (id, website_id, name, popup_type, content, priority, status, frequency, trigger_rules, created_at)
		VALUES (:id, :website_id, :name, :popup_type, :content, :priority, :status, :frequency, :trigger_rules, :created_at)
	`

	if _, err := r.db.NamedExecContext(ctx, query, c); err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

func notFound(err error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", msg, err)
}
