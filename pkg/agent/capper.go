package agent

import (
	"slices"
	"time"

	"github.com/iamgideonidoko/nudge/internal/models"
)

const (
	day  = 24 * time.Hour
	week = 7 * day
)

// ShownAt records the last display of one campaign.
type ShownAt struct {
	Timestamp time.Time        `json:"timestamp"`
	Frequency models.Frequency `json:"frequency"`
}

// Capper picks at most one campaign per page view under each campaign's
// frequency policy. Display history lives in the durable store; the
// per-session set lives in session storage.
type Capper struct {
	durable KeyValueStore
	session KeyValueStore
	now     func() time.Time
}

func NewCapper(durable, session KeyValueStore, now func() time.Time) *Capper {
	if now == nil {
		now = time.Now
	}
	return &Capper{durable: durable, session: session, now: now}
}

// Select returns the first campaign in the given order that the visitor may
// see again, and records its display.
func (c *Capper) Select(campaigns []models.CampaignView) (*models.CampaignView, bool) {
	history := c.history()
	shownThisSession := c.sessionSet()
	now := c.now()

	for i := range campaigns {
		campaign := campaigns[i]
		if !eligible(campaign, history, shownThisSession, now) {
			continue
		}
		c.record(campaign, history, shownThisSession, now)
		return &campaign, true
	}
	return nil, false
}

// Eligible reports whether campaign may be shown now without recording it.
func (c *Capper) Eligible(campaign models.CampaignView) bool {
	return eligible(campaign, c.history(), c.sessionSet(), c.now())
}

func eligible(campaign models.CampaignView, history map[string]ShownAt, session []string, now time.Time) bool {
	id := campaign.ID.String()

	if campaign.Frequency == models.FrequencyOncePerSession {
		return !slices.Contains(session, id)
	}

	shown, ok := history[id]
	if !ok {
		return true
	}

	switch campaign.Frequency {
	case models.FrequencyEveryTime:
		return true
	case models.FrequencyOncePerDay:
		return now.Sub(shown.Timestamp) > day
	case models.FrequencyOncePerWeek:
		return now.Sub(shown.Timestamp) > week
	case models.FrequencyOnceEver:
		return false
	default:
		return true
	}
}

func (c *Capper) record(campaign models.CampaignView, history map[string]ShownAt, session []string, now time.Time) {
	id := campaign.ID.String()

	history[id] = ShownAt{Timestamp: now, Frequency: campaign.Frequency}
	_ = saveJSON(c.durable, shownKey, history)

	if campaign.Frequency == models.FrequencyOncePerSession && !slices.Contains(session, id) {
		_ = saveJSON(c.session, sessionShownKey, append(session, id))
	}
}

func (c *Capper) history() map[string]ShownAt {
	history := map[string]ShownAt{}
	if !loadJSON(c.durable, shownKey, &history) || history == nil {
		return map[string]ShownAt{}
	}
	return history
}

func (c *Capper) sessionSet() []string {
	var ids []string
	loadJSON(c.session, sessionShownKey, &ids)
	return ids
}
