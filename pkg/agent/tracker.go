package agent

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iamgideonidoko/nudge/internal/models"
	"github.com/iamgideonidoko/nudge/pkg/intent"
)

// Stores are the three persistence layers of a browser.
type Stores struct {
	Durable KeyValueStore // cookie
	Local   KeyValueStore // localStorage
	Session KeyValueStore // sessionStorage
}

// PageView describes one page load.
type PageView struct {
	Path        string
	Referrer    string
	UTMSource   string
	UTMMedium   string
	UTMCampaign string
	Device      string
	TimeOnPage  time.Duration
	ScrollDepth int
}

type Result struct {
	VisitorID   string
	IntentScore int
	IntentLevel intent.Level
	Campaign    *models.CampaignView
}

// Tracker runs the per-page flow for one website key.
type Tracker struct {
	key      string
	api      API
	local    KeyValueStore
	identity *IdentityStore
	session  *Session
	capper   *Capper
}

func NewTracker(key string, api API, stores Stores, now func() time.Time) *Tracker {
	return &Tracker{
		key:      key,
		api:      api,
		local:    stores.Local,
		identity: NewIdentityStore(stores.Durable, stores.Local),
		session:  NewSession(stores.Session),
		capper:   NewCapper(stores.Local, stores.Session, now),
	}
}

// PageView updates the local snapshot, scores the visitor, fetches campaigns
// while reporting the view, and picks at most one campaign to show. Network
// failures only mean no campaign is shown or an event is lost.
func (t *Tracker) PageView(ctx context.Context, pv PageView) Result {
	visitorID := t.identity.Resolve()

	snap := LoadSnapshot(t.local, visitorID)
	if t.session.Begin() {
		snap.VisitCount++
	}
	snap.ApplyTouch(Touch{
		UTMSource:   pv.UTMSource,
		UTMMedium:   pv.UTMMedium,
		UTMCampaign: pv.UTMCampaign,
		Referrer:    pv.Referrer,
	})
	score, level := intent.Evaluate(snap.Signals(pv.Path, pv.TimeOnPage, pv.ScrollDepth))
	snap.RecordPage(pv.Path)
	snap.AddTime(pv.TimeOnPage)
	_ = snap.Save(t.local, visitorID)

	var (
		g         errgroup.Group
		campaigns []models.CampaignView
	)
	g.Go(func() error {
		resp, err := t.api.Campaigns(ctx, &models.EvaluationRequest{
			Key:         t.key,
			Page:        pv.Path,
			IntentScore: score,
			IntentLevel: string(level),
			VisitCount:  snap.VisitCount,
			Source:      snap.UTMSource,
			Referrer:    snap.Referrer,
			Device:      pv.Device,
		})
		quiet("campaigns", err)
		if err == nil && resp != nil && !resp.LimitExceeded {
			campaigns = resp.Campaigns
		}
		return nil
	})
	g.Go(func() error {
		_, err := t.api.Track(ctx, &models.TrackRequest{
			Key:         t.key,
			EventType:   "page_view",
			VisitorID:   visitorID,
			Page:        pv.Path,
			Referrer:    pv.Referrer,
			UTMSource:   pv.UTMSource,
			UTMMedium:   pv.UTMMedium,
			UTMCampaign: pv.UTMCampaign,
			Device:      pv.Device,
			IntentScore: score,
			IntentLevel: string(level),
			TimeOnPage:  int64(pv.TimeOnPage / time.Second),
			ScrollDepth: intent.Clamp(pv.ScrollDepth),
		})
		quiet("track", err)
		return nil
	})
	_ = g.Wait()

	result := Result{VisitorID: visitorID, IntentScore: score, IntentLevel: level}

	campaign, ok := t.capper.Select(campaigns)
	if !ok {
		return result
	}
	result.Campaign = campaign

	t.Report(ctx, &models.TrackRequest{
		EventType:   "impression",
		Page:        pv.Path,
		IntentScore: score,
		IntentLevel: string(level),
		CampaignID:  campaign.ID.String(),
		Metadata:    models.RequestMetadata{PopupType: campaign.PopupType},
	})
	return result
}

// Report sends an interaction event for the current visitor. Key and
// visitor id are filled in.
func (t *Tracker) Report(ctx context.Context, req *models.TrackRequest) {
	req.Key = t.key
	req.VisitorID = t.identity.Resolve()
	_, err := t.api.Track(ctx, req)
	quiet("track", err)
}
