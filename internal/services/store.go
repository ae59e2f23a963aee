package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/iamgideonidoko/nudge/internal/models"
)

// Store is the backing store both pipelines run against. Every write is a
// single conditional statement on one row; callers never hold locks across
// calls.
type Store interface {
	GetWebsiteByKey(ctx context.Context, key string) (*models.Website, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	ListActiveCampaigns(ctx context.Context, websiteID uuid.UUID) ([]models.Campaign, error)

	GetVisitor(ctx context.Context, websiteID uuid.UUID, hash string) (*models.Visitor, error)
	CreateVisitor(ctx context.Context, v *models.Visitor) (bool, error)
	MergeVisitor(ctx context.Context, u models.VisitorUpdate) (*models.Visitor, error)

	// CampaignBelongsTo reports whether campaignID names a campaign of the
	// website.
	CampaignBelongsTo(ctx context.Context, websiteID, campaignID uuid.UUID) (bool, error)

	InsertEvent(ctx context.Context, e *models.Event) error
	InsertLead(ctx context.Context, l *models.Lead) error

	UsageStore
}

// UsageStore is the slice of Store that metering needs.
type UsageStore interface {
	ClaimVisitorForMonth(ctx context.Context, visitorID uuid.UUID, now, monthStart time.Time) (bool, error)
	IncrementAccountUsage(ctx context.Context, accountID uuid.UUID, monthStart time.Time) error
}

// Cache is the shared key-value layer. A nil Cache disables caching and
// metrics.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, key string) error
	IncrementMetric(ctx context.Context, metric string) error
}

// EventPublisher forwards stored events downstream.
type EventPublisher interface {
	Publish(ctx context.Context, e *models.Event) error
}

type Option func(*options)

type options struct {
	now       func() time.Time
	publisher EventPublisher
}

func defaultOptions() options {
	return options{now: time.Now}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func WithPublisher(p EventPublisher) Option {
	return func(o *options) {
		o.publisher = p
	}
}

const (
	MetricEventsIngested   = "events_ingested"
	MetricVisitorsCreated  = "visitors_created"
	MetricVisitorsMetered  = "visitors_metered"
	MetricEvaluations      = "evaluations"
	MetricQuotaHardStops   = "quota_hard_stops"
	MetricOriginMismatches = "origin_mismatches"
)

// Metrics lists every counter the services record.
var Metrics = []string{
	MetricEventsIngested,
	MetricVisitorsCreated,
	MetricVisitorsMetered,
	MetricEvaluations,
	MetricQuotaHardStops,
	MetricOriginMismatches,
}

func incrementMetric(ctx context.Context, c Cache, metric string) {
	if c == nil {
		return
	}
	_ = c.IncrementMetric(ctx, metric)
}
