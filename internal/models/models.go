package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/iamgideonidoko/nudge/internal/rules"
	"github.com/iamgideonidoko/nudge/pkg/intent"
)

const (
	// MaxPagesViewed bounds Visitor.PagesViewed; the oldest entry is dropped first.
	MaxPagesViewed = 50

	// DefaultSessionTimeout is the inactivity gap that starts a new visit.
	DefaultSessionTimeout = 30 * time.Minute
)

type PlanTier string

const (
	PlanFree    PlanTier = "FREE"
	PlanStarter PlanTier = "STARTER"
	PlanGrowth  PlanTier = "GROWTH"
	PlanScale   PlanTier = "SCALE"
)

// Plan caps what an account can run. Zero CampaignLimit means unlimited.
type Plan struct {
	Tier          PlanTier `json:"tier" yaml:"tier"`
	CampaignLimit int      `json:"campaign_limit" yaml:"campaign_limit"`
	VisitorQuota  int      `json:"visitor_quota" yaml:"visitor_quota"`
}

type Account struct {
	ID                    uuid.UUID  `db:"id" json:"id"`
	Email                 string     `db:"email" json:"email"`
	Plan                  PlanTier   `db:"plan" json:"plan"`
	VisitorsUsedThisMonth int        `db:"visitors_used_this_month" json:"visitors_used_this_month"`
	BillingCycleStart     *time.Time `db:"billing_cycle_start" json:"billing_cycle_start,omitempty"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
}

// UsageFor returns the counter as seen from the month starting at monthStart;
// a counter from an earlier cycle reads as zero.
func (a *Account) UsageFor(monthStart time.Time) int {
	if a.BillingCycleStart == nil || a.BillingCycleStart.Before(monthStart) {
		return 0
	}
	return a.VisitorsUsedThisMonth
}

type Website struct {
	ID        uuid.UUID `db:"id" json:"id"`
	AccountID uuid.UUID `db:"account_id" json:"account_id"`
	ScriptKey string    `db:"script_key" json:"script_key"`
	Domain    string    `db:"domain" json:"domain"`
	Name      string    `db:"name" json:"name"`
	Plan      PlanTier  `db:"plan" json:"plan"` // inherited from the owning account
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type CampaignStatus string

const (
	CampaignActive   CampaignStatus = "ACTIVE"
	CampaignPaused   CampaignStatus = "PAUSED"
	CampaignArchived CampaignStatus = "ARCHIVED"
)

type Frequency string

const (
	FrequencyEveryTime      Frequency = "EVERY_TIME"
	FrequencyOncePerSession Frequency = "ONCE_PER_SESSION"
	FrequencyOncePerDay     Frequency = "ONCE_PER_DAY"
	FrequencyOncePerWeek    Frequency = "ONCE_PER_WEEK"
	FrequencyOnceEver       Frequency = "ONCE_EVER"
)

type Campaign struct {
	ID           uuid.UUID      `db:"id" json:"id"`
	WebsiteID    uuid.UUID      `db:"website_id" json:"website_id"`
	Name         string         `db:"name" json:"name"`
	PopupType    string         `db:"popup_type" json:"popup_type"`
	Content      RawJSON        `db:"content" json:"content"`
	Priority     int            `db:"priority" json:"priority"`
	Status       CampaignStatus `db:"status" json:"status"`
	Frequency    Frequency      `db:"frequency" json:"frequency"`
	TriggerRules rules.RuleSet  `db:"trigger_rules" json:"trigger_rules"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// Attribution holds first-touch fields: written once, never overwritten.
type Attribution struct {
	UTMSource   string `db:"utm_source" json:"utm_source,omitempty"`
	UTMMedium   string `db:"utm_medium" json:"utm_medium,omitempty"`
	UTMCampaign string `db:"utm_campaign" json:"utm_campaign,omitempty"`
	Referrer    string `db:"referrer" json:"referrer,omitempty"`
	Device      string `db:"device" json:"device,omitempty"`
	Browser     string `db:"browser" json:"browser,omitempty"`
	OS          string `db:"os" json:"os,omitempty"`
	Country     string `db:"country" json:"country,omitempty"`
	City        string `db:"city" json:"city,omitempty"`
}

type Visitor struct {
	ID              uuid.UUID      `db:"id" json:"id"`
	WebsiteID       uuid.UUID      `db:"website_id" json:"website_id"`
	VisitorHash     string         `db:"visitor_hash" json:"visitor_hash"`
	PagesViewed     pq.StringArray `db:"pages_viewed" json:"pages_viewed"`
	IntentScore     int            `db:"intent_score" json:"intent_score"`
	IntentLevel     intent.Level   `db:"intent_level" json:"intent_level"`
	ScrollDepth     int            `db:"scroll_depth" json:"scroll_depth"`
	TimeOnSite      int64          `db:"time_on_site" json:"time_on_site"` // seconds
	VisitCount      int            `db:"visit_count" json:"visit_count"`
	CountedForMonth *time.Time     `db:"counted_for_month" json:"-"`
	FirstSeen       time.Time      `db:"first_seen" json:"first_seen"`
	LastSeen        time.Time      `db:"last_seen" json:"last_seen"`
	Attribution
}

// VisitorUpdate is one ingestion's contribution to a visitor row. The store
// applies it with merge semantics, never as an overwrite.
type VisitorUpdate struct {
	WebsiteID      uuid.UUID
	VisitorHash    string
	Page           string
	IntentScore    int
	IntentLevel    intent.Level
	ScrollDepth    int
	TimeOnPage     int64 // seconds, added to TimeOnSite
	Attribution    Attribution
	Now            time.Time
	SessionTimeout time.Duration
}

// NewVisitor builds the row created on a visitor's first event.
func NewVisitor(u VisitorUpdate) *Visitor {
	v := &Visitor{
		ID:          uuid.New(),
		WebsiteID:   u.WebsiteID,
		VisitorHash: u.VisitorHash,
		PagesViewed: pq.StringArray{},
		IntentScore: u.IntentScore,
		IntentLevel: u.IntentLevel,
		ScrollDepth: u.ScrollDepth,
		TimeOnSite:  max(u.TimeOnPage, 0),
		VisitCount:  1,
		FirstSeen:   u.Now,
		LastSeen:    u.Now,
		Attribution: u.Attribution,
	}
	if u.Page != "" {
		v.PagesViewed = append(v.PagesViewed, u.Page)
	}
	return v
}

// Merge applies u to v in place. Both stores implement the same rules; this
// is the in-process form.
func (v *Visitor) Merge(u VisitorUpdate) {
	v.PagesViewed = AppendPage(v.PagesViewed, u.Page)

	if u.IntentScore > v.IntentScore {
		v.IntentScore = u.IntentScore
		v.IntentLevel = u.IntentLevel
	}
	if u.ScrollDepth > v.ScrollDepth {
		v.ScrollDepth = u.ScrollDepth
	}

	v.Attribution = v.Attribution.FillFrom(u.Attribution)
	v.TimeOnSite += max(u.TimeOnPage, 0)

	timeout := u.SessionTimeout
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	if u.Now.Sub(v.LastSeen) > timeout {
		v.VisitCount++
	}
	if u.Now.After(v.LastSeen) {
		v.LastSeen = u.Now
	}
}

// AppendPage adds page if absent, keeping at most MaxPagesViewed entries.
func AppendPage(pages []string, page string) []string {
	if page == "" {
		return pages
	}
	for _, p := range pages {
		if p == page {
			return pages
		}
	}
	pages = append(pages, page)
	if len(pages) > MaxPagesViewed {
		pages = pages[len(pages)-MaxPagesViewed:]
	}
	return pages
}

// FillFrom sets every empty field of a from b.
func (a Attribution) FillFrom(b Attribution) Attribution {
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&a.UTMSource, b.UTMSource)
	fill(&a.UTMMedium, b.UTMMedium)
	fill(&a.UTMCampaign, b.UTMCampaign)
	fill(&a.Referrer, b.Referrer)
	fill(&a.Device, b.Device)
	fill(&a.Browser, b.Browser)
	fill(&a.OS, b.OS)
	fill(&a.Country, b.Country)
	fill(&a.City, b.City)
	return a
}

type Event struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	WebsiteID  uuid.UUID  `db:"website_id" json:"website_id"`
	VisitorID  uuid.UUID  `db:"visitor_id" json:"visitor_id"`
	CampaignID *uuid.UUID `db:"campaign_id" json:"campaign_id,omitempty"`
	Type       EventType  `db:"event_type" json:"event_type"`
	Page       string     `db:"page" json:"page"`
	Metadata   Metadata   `db:"metadata" json:"metadata"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

type Lead struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	WebsiteID  uuid.UUID  `db:"website_id" json:"website_id"`
	CampaignID *uuid.UUID `db:"campaign_id" json:"campaign_id,omitempty"`
	VisitorID  uuid.UUID  `db:"visitor_id" json:"visitor_id"`
	Email      string     `db:"email" json:"email,omitempty"`
	Phone      string     `db:"phone" json:"phone,omitempty"`
	Name       string     `db:"name" json:"name,omitempty"`
	UTMSource  string     `db:"utm_source" json:"utm_source,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}
