package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamgideonidoko/nudge/internal/config"
	"github.com/iamgideonidoko/nudge/internal/models"
	"github.com/iamgideonidoko/nudge/internal/repository"
	"github.com/iamgideonidoko/nudge/internal/rules"
	"github.com/iamgideonidoko/nudge/pkg/intent"
)

const scriptKey = "pk_live_test"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memoryCache struct {
	mu      sync.Mutex
	values  map[string][]byte
	metrics map[string]int64
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: map[string][]byte{}, metrics: map[string]int64{}}
}

func (c *memoryCache) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.values[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dst)
}

func (c *memoryCache) SetJSON(_ context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = data
	return nil
}

func (c *memoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

func (c *memoryCache) IncrementMetric(_ context.Context, metric string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics[metric]++
	return nil
}

func (c *memoryCache) metric(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics[name]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e *models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *e)
	return nil
}

type fixture struct {
	store     *repository.MemoryStore
	cache     *memoryCache
	clock     *fakeClock
	publisher *recordingPublisher
	account   *models.Account
	website   *models.Website
	ingest    *IngestionService
	evaluate  *EvaluationService
}

func newFixture(t *testing.T, plan models.PlanTier) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		store:     repository.NewMemoryStore(),
		cache:     newMemoryCache(),
		clock:     &fakeClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)},
		publisher: &recordingPublisher{},
	}
	f.account = &models.Account{ID: uuid.New(), Plan: plan}
	require.NoError(t, f.store.CreateAccount(ctx, f.account))
	f.website = &models.Website{ID: uuid.New(), AccountID: f.account.ID, ScriptKey: scriptKey, Domain: "www.shop.example"}
	require.NoError(t, f.store.CreateWebsite(ctx, f.website))

	cfg := &config.Config{
		API: config.APIConfig{Environment: "production"},
		Targeting: config.TargetingConfig{
			SessionTimeout:     30 * time.Minute,
			QuotaHardStopRatio: 1.2,
			Plans:              config.DefaultPlans(),
		},
	}
	f.ingest = NewIngestionService(f.store, f.cache, cfg, WithClock(f.clock.Now), WithPublisher(f.publisher))
	f.evaluate = NewEvaluationService(f.store, f.cache, cfg, WithClock(f.clock.Now))
	return f
}

func (f *fixture) usage(t *testing.T) int {
	t.Helper()
	a, err := f.store.GetAccount(context.Background(), f.account.ID)
	require.NoError(t, err)
	return a.UsageFor(MonthStart(f.clock.Now()))
}

func (f *fixture) visitor(t *testing.T, hash string) *models.Visitor {
	t.Helper()
	v, err := f.store.GetVisitor(context.Background(), f.website.ID, hash)
	require.NoError(t, err)
	return v
}

func pageView(visitorID, page string) *models.TrackRequest {
	return &models.TrackRequest{Key: scriptKey, EventType: "page_view", VisitorID: visitorID, Page: page}
}

func TestTrackConcurrentNewVisitorCountsOnce(t *testing.T) {
	f := newFixture(t, models.PlanGrowth)
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	ids := make([]uuid.UUID, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := f.ingest.Track(ctx, pageView("visitor-a", "/"))
			if assert.NoError(t, err) {
				ids[i] = resp.VisitorID
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, f.usage(t))
	for _, id := range ids {
		assert.Equal(t, ids[0], id, "every request resolves to the same visitor row")
	}
	assert.Len(t, f.store.Events(), n)
	assert.Equal(t, int64(1), f.cache.metric(MetricVisitorsCreated))
	assert.Equal(t, int64(1), f.cache.metric(MetricVisitorsMetered))
}

func TestTrackSessionScenario(t *testing.T) {
	f := newFixture(t, models.PlanGrowth)
	ctx := context.Background()

	resp, err := f.ingest.Track(ctx, pageView("v1", "/pricing"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, resp.IntentScore, 30)
	assert.Equal(t, 1, f.usage(t))

	f.clock.Advance(10 * time.Minute)
	req := pageView("v1", "/features")
	req.ScrollDepth = 80
	_, err = f.ingest.Track(ctx, req)
	require.NoError(t, err)

	v := f.visitor(t, "v1")
	assert.Equal(t, 80, v.ScrollDepth)
	assert.Equal(t, 1, v.VisitCount)
	assert.Equal(t, 1, f.usage(t))

	f.clock.Advance(40 * time.Minute)
	_, err = f.ingest.Track(ctx, pageView("v1", "/blog"))
	require.NoError(t, err)

	v = f.visitor(t, "v1")
	assert.Equal(t, 2, v.VisitCount)
	assert.Equal(t, []string{"/pricing", "/features", "/blog"}, []string(v.PagesViewed))
	assert.Equal(t, 1, f.usage(t))
}

func TestTrackScoreAndScrollRatchet(t *testing.T) {
	f := newFixture(t, models.PlanGrowth)
	ctx := context.Background()

	claims := []struct{ score, scroll int }{{50, 40}, {10, 90}, {70, 20}, {250, 0}, {0, 150}}
	prevScore, prevScroll := 0, 0
	for _, c := range claims {
		req := pageView("v1", "/docs")
		req.IntentScore = c.score
		req.ScrollDepth = c.scroll
		resp, err := f.ingest.Track(ctx, req)
		require.NoError(t, err)

		v := f.visitor(t, "v1")
		assert.GreaterOrEqual(t, v.IntentScore, prevScore)
		assert.GreaterOrEqual(t, v.ScrollDepth, prevScroll)
		assert.LessOrEqual(t, v.IntentScore, 100)
		assert.LessOrEqual(t, v.ScrollDepth, 100)
		assert.Equal(t, v.IntentScore, resp.IntentScore)
		assert.Equal(t, intent.Classify(v.IntentScore), v.IntentLevel)
		prevScore, prevScroll = v.IntentScore, v.ScrollDepth
	}
	assert.Equal(t, 100, prevScore)
	assert.Equal(t, 100, prevScroll)
}

func TestTrackFirstTouchIsImmutable(t *testing.T) {
	f := newFixture(t, models.PlanGrowth)
	ctx := context.Background()

	first := pageView("v1", "/")
	first.UTMSource = "google"
	first.UTMCampaign = "spring"
	first.Referrer = "https://google.com/"
	first.Country = "NG"
	_, err := f.ingest.Track(ctx, first)
	require.NoError(t, err)

	second := pageView("v1", "/about")
	second.UTMSource = "facebook"
	second.UTMMedium = "cpc"
	second.UTMCampaign = "summer"
	second.Referrer = "https://facebook.com/"
	second.Country = "GB"
	_, err = f.ingest.Track(ctx, second)
	require.NoError(t, err)

	v := f.visitor(t, "v1")
	assert.Equal(t, "google", v.UTMSource)
	assert.Equal(t, "spring", v.UTMCampaign)
	assert.Equal(t, "https://google.com/", v.Referrer)
	assert.Equal(t, "NG", v.Country)
	assert.Equal(t, "cpc", v.UTMMedium, "an unset field is filled by the first request that carries it")
}

func TestTrackEventVocabulary(t *testing.T) {
	f := newFixture(t, models.PlanGrowth)
	ctx := context.Background()
	campaignID := uuid.New()

	send := func(eventType string) {
		req := pageView("v1", "/checkout")
		req.EventType = eventType
		req.CampaignID = campaignID.String()
		req.Metadata = models.RequestMetadata{Amount: 49.5, Currency: "usd", OrderID: "o-1", Coupon: "SAVE10"}
		_, err := f.ingest.Track(ctx, req)
		require.NoError(t, err)
	}

	send("page_exit")
	send("popup_shown")
	send("purchase")
	send("coupon_copied")
	send("heartbeat")

	events := f.store.Events()
	require.Len(t, events, 4, "unknown types are accepted but not stored")
	assert.Equal(t, models.EventPageView, events[0].Type)
	assert.Equal(t, models.EventImpression, events[1].Type)

	purchase := events[2]
	assert.Equal(t, models.EventConversion, purchase.Type)
	require.NotNil(t, purchase.Metadata.Conversion)
	assert.True(t, purchase.Metadata.Conversion.IsPurchase)
	assert.Equal(t, 49.5, purchase.Metadata.Conversion.Amount)
	assert.Equal(t, "USD", purchase.Metadata.Conversion.Currency)
	assert.Equal(t, campaignID, *purchase.CampaignID)

	assert.Equal(t, models.EventCouponCopy, events[3].Type)
	assert.Equal(t, "SAVE10", events[3].Metadata.Coupon.Code)

	assert.Len(t, f.publisher.events, 4)
	assert.Empty(t, f.store.Leads(), "no contact data, no lead")
}

func TestTrackConversionCreatesLead(t *testing.T) {
	f := newFixture(t, models.PlanGrowth)
	ctx := context.Background()

	landing := pageView("v1", "/")
	landing.UTMSource = "newsletter"
	_, err := f.ingest.Track(ctx, landing)
	require.NoError(t, err)

	submit := pageView("v1", "/")
	submit.EventType = "form_submit"
	submit.UTMSource = "twitter"
	submit.Email = " Ada@Example.com "
	_, err = f.ingest.Track(ctx, submit)
	require.NoError(t, err)

	click := pageView("v1", "/")
	click.EventType = "click"
	click.Email = "ignored@example.com"
	_, err = f.ingest.Track(ctx, click)
	require.NoError(t, err)

	leads := f.store.Leads()
	require.Len(t, leads, 1)
	assert.Equal(t, "ada@example.com", leads[0].Email)
	assert.Equal(t, "newsletter", leads[0].UTMSource)
	assert.Nil(t, leads[0].CampaignID)
}

func TestTrackRejectsUnknownKeyAndMissingVisitor(t *testing.T) {
	f := newFixture(t, models.PlanGrowth)
	ctx := context.Background()

	req := pageView("v1", "/")
	req.Key = "nope"
	_, err := f.ingest.Track(ctx, req)
	assert.ErrorIs(t, err, ErrUnknownWebsite)

	_, err = f.ingest.Track(ctx, pageView("  ", "/"))
	assert.ErrorIs(t, err, ErrInvalidRequest)

	for _, key := range []string{"", "   "} {
		req := pageView("v1", "/")
		req.Key = key
		_, err = f.ingest.Track(ctx, req)
		assert.ErrorIs(t, err, ErrUnknownWebsite, "key %q", key)

		_, err = f.evaluate.Evaluate(ctx, &models.EvaluationRequest{Key: key})
		assert.ErrorIs(t, err, ErrUnknownWebsite, "key %q", key)
	}
}

func TestTrackDropsForeignCampaignID(t *testing.T) {
	f := newFixture(t, models.PlanGrowth)
	ctx := context.Background()

	own := campaign(f.website.ID, "own", 1, 0, rules.RuleSet{})
	require.NoError(t, f.store.CreateCampaign(ctx, own))

	other := &models.Website{ID: uuid.New(), AccountID: f.account.ID, ScriptKey: "pk_live_other", Domain: "other.example"}
	require.NoError(t, f.store.CreateWebsite(ctx, other))
	foreign := campaign(other.ID, "foreign", 1, 0, rules.RuleSet{})
	require.NoError(t, f.store.CreateCampaign(ctx, foreign))

	for _, id := range []string{own.ID.String(), foreign.ID.String(), uuid.NewString()} {
		req := pageView("v1", "/")
		req.EventType = "form_submit"
		req.CampaignID = id
		req.Email = "ada@example.com"
		_, err := f.ingest.Track(ctx, req)
		require.NoError(t, err)
	}

	events := f.store.Events()
	leads := f.store.Leads()
	require.Len(t, events, 3)
	require.Len(t, leads, 3)

	require.NotNil(t, events[0].CampaignID)
	assert.Equal(t, own.ID, *events[0].CampaignID)
	require.NotNil(t, leads[0].CampaignID)
	assert.Equal(t, own.ID, *leads[0].CampaignID)

	for i := 1; i < 3; i++ {
		assert.Nil(t, events[i].CampaignID, "event %d", i)
		assert.Nil(t, leads[i].CampaignID, "lead %d", i)
	}
}

type brokenCampaignLookup struct {
	*repository.MemoryStore
}

func (brokenCampaignLookup) CampaignBelongsTo(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return false, errors.New("connection reset")
}

func TestTrackKeepsEventWhenCampaignLookupFails(t *testing.T) {
	f := newFixture(t, models.PlanGrowth)
	svc := NewIngestionService(brokenCampaignLookup{f.store}, nil, &config.Config{}, WithClock(f.clock.Now))

	req := pageView("v1", "/")
	req.EventType = "click"
	req.CampaignID = uuid.NewString()
	_, err := svc.Track(context.Background(), req)
	require.NoError(t, err)

	events := f.store.Events()
	require.Len(t, events, 1)
	assert.Nil(t, events[0].CampaignID)
}

func TestTrackCountsReturningVisitorInNewMonth(t *testing.T) {
	f := newFixture(t, models.PlanGrowth)
	ctx := context.Background()

	_, err := f.ingest.Track(ctx, pageView("v1", "/"))
	require.NoError(t, err)
	_, err = f.ingest.Track(ctx, pageView("v2", "/"))
	require.NoError(t, err)
	assert.Equal(t, 2, f.usage(t))

	f.clock.Advance(30 * 24 * time.Hour)
	_, err = f.ingest.Track(ctx, pageView("v1", "/"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.usage(t), "the counter restarts with the new cycle")
}

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		domain, origin string
		local, want    bool
	}{
		{"shop.example", "https://shop.example", false, true},
		{"www.shop.example", "https://shop.example:8443", false, true},
		{"shop.example", "https://www.shop.example/cart", false, true},
		{"shop.example", "https://blog.shop.example", false, true},
		{"https://shop.example/", "shop.example", false, true},
		{"shop.example", "https://evil.example", false, false},
		{"shop.example", "https://notshop.example", false, false},
		{"shop.example", "http://localhost:3000", true, true},
		{"shop.example", "http://127.0.0.1:5173", true, true},
		{"shop.example", "http://localhost:3000", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.domain+" "+tt.origin, func(t *testing.T) {
			assert.Equal(t, tt.want, OriginAllowed(tt.domain, tt.origin, tt.local))
		})
	}
}

func TestOriginMismatchIsFailOpenUnlessStrict(t *testing.T) {
	f := newFixture(t, models.PlanGrowth)
	ctx := context.Background()

	req := pageView("v1", "/")
	req.Origin = "https://elsewhere.example"
	_, err := f.ingest.Track(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.cache.metric(MetricOriginMismatches))

	f.ingest.sites.policy.Strict = true
	_, err = f.ingest.Track(ctx, req)
	assert.ErrorIs(t, err, ErrOriginRejected)
}

func campaign(websiteID uuid.UUID, name string, priority int, age time.Duration, rs rules.RuleSet) *models.Campaign {
	return &models.Campaign{
		ID:           uuid.New(),
		WebsiteID:    websiteID,
		Name:         name,
		PopupType:    "modal",
		Content:      models.RawJSON(`{"headline":"` + name + `"}`),
		Priority:     priority,
		Status:       models.CampaignActive,
		Frequency:    models.FrequencyOncePerSession,
		TriggerRules: rs,
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(-age),
	}
}

func names(views []models.CampaignView) []string {
	out := make([]string, 0, len(views))
	for _, v := range views {
		out = append(out, v.Name)
	}
	return out
}

func TestEvaluateFiltersAndSorts(t *testing.T) {
	f := newFixture(t, models.PlanScale)
	ctx := context.Background()

	returning := rules.NewRuleSet(rules.And, rules.Condition{Field: "visitCount", Operator: rules.OpGreaterThan, Value: rules.NumberValue(1)})
	mobile := rules.NewRuleSet(rules.And, rules.Condition{Field: "device", Operator: rules.OpEquals, Value: rules.StringValue("mobile")})

	for _, c := range []*models.Campaign{
		campaign(f.website.ID, "everyone", 1, 0, rules.RuleSet{}),
		campaign(f.website.ID, "returning", 5, 0, returning),
		campaign(f.website.ID, "mobile", 9, 0, mobile),
	} {
		require.NoError(t, f.store.CreateCampaign(ctx, c))
	}
	paused := campaign(f.website.ID, "paused", 10, 0, rules.RuleSet{})
	paused.Status = models.CampaignPaused
	require.NoError(t, f.store.CreateCampaign(ctx, paused))

	resp, err := f.evaluate.Evaluate(ctx, &models.EvaluationRequest{Key: scriptKey, Page: "/", VisitCount: 2, Device: "desktop"})
	require.NoError(t, err)
	assert.False(t, resp.LimitExceeded)
	assert.Equal(t, []string{"returning", "everyone"}, names(resp.Campaigns))
	assert.Equal(t, models.FrequencyOncePerSession, resp.Campaigns[0].Frequency)
}

func TestEvaluatePlanCapAppliesBeforeRules(t *testing.T) {
	f := newFixture(t, models.PlanFree)
	ctx := context.Background()

	never := rules.NewRuleSet(rules.And, rules.Condition{Field: "page", Operator: rules.OpEquals, Value: rules.StringValue("/nowhere")})
	require.NoError(t, f.store.CreateCampaign(ctx, campaign(f.website.ID, "top", 10, 0, never)))
	require.NoError(t, f.store.CreateCampaign(ctx, campaign(f.website.ID, "fallback", 1, 0, rules.RuleSet{})))

	resp, err := f.evaluate.Evaluate(ctx, &models.EvaluationRequest{Key: scriptKey, Page: "/"})
	require.NoError(t, err)
	assert.Empty(t, resp.Campaigns, "the free plan only considers its highest-priority campaign")
	assert.NotNil(t, resp.Campaigns)
}

func TestEvaluateHardStop(t *testing.T) {
	f := newFixture(t, models.PlanFree)
	ctx := context.Background()
	require.NoError(t, f.store.CreateCampaign(ctx, campaign(f.website.ID, "everyone", 1, 0, rules.RuleSet{})))

	quota := config.DefaultPlans()[models.PlanFree].VisitorQuota
	monthStart := MonthStart(f.clock.Now())
	for _i := 0; _i < quota*12/10; _i++ {
		require.NoError(t, f.store.IncrementAccountUsage(ctx, f.account.ID, monthStart))
	}

	resp, err := f.evaluate.Evaluate(ctx, &models.EvaluationRequest{Key: scriptKey})
	require.NoError(t, err)
	assert.False(t, resp.LimitExceeded, "exactly 120% is still served")
	assert.Len(t, resp.Campaigns, 1)

	require.NoError(t, f.store.IncrementAccountUsage(ctx, f.account.ID, monthStart))
	resp, err = f.evaluate.Evaluate(ctx, &models.EvaluationRequest{Key: scriptKey})
	require.NoError(t, err)
	assert.True(t, resp.LimitExceeded)
	assert.Empty(t, resp.Campaigns)
	assert.Equal(t, int64(1), f.cache.metric(MetricQuotaHardStops))

	f.clock.Advance(31 * 24 * time.Hour)
	resp, err = f.evaluate.Evaluate(ctx, &models.EvaluationRequest{Key: scriptKey})
	require.NoError(t, err)
	assert.False(t, resp.LimitExceeded, "last month's usage does not count")
}

func TestEvaluateCachesWebsite(t *testing.T) {
	f := newFixture(t, models.PlanGrowth)
	ctx := context.Background()

	_, err := f.evaluate.Evaluate(ctx, &models.EvaluationRequest{Key: scriptKey})
	require.NoError(t, err)

	var cached models.Website
	ok, err := f.cache.GetJSON(ctx, websiteCacheKey(scriptKey), &cached)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, f.website.ID, cached.ID)
	assert.Equal(t, models.PlanGrowth, cached.Plan)
}

func TestEvaluateEvictsWebsiteCachedUnderOldPlan(t *testing.T) {
	f := newFixture(t, models.PlanFree)
	ctx := context.Background()
	require.NoError(t, f.store.CreateCampaign(ctx, campaign(f.website.ID, "first", 2, 0, rules.RuleSet{})))
	require.NoError(t, f.store.CreateCampaign(ctx, campaign(f.website.ID, "second", 1, 0, rules.RuleSet{})))

	resp, err := f.evaluate.Evaluate(ctx, &models.EvaluationRequest{Key: scriptKey})
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, names(resp.Campaigns))

	upgraded := *f.account
	upgraded.Plan = models.PlanScale
	require.NoError(t, f.store.CreateAccount(ctx, &upgraded))

	resp, err = f.evaluate.Evaluate(ctx, &models.EvaluationRequest{Key: scriptKey})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, names(resp.Campaigns), "the account plan applies before the cache expires")

	var cached models.Website
	ok, err := f.cache.GetJSON(ctx, websiteCacheKey(scriptKey), &cached)
	require.NoError(t, err)
	assert.False(t, ok, "the stale entry is evicted")

	_, err = f.evaluate.Evaluate(ctx, &models.EvaluationRequest{Key: scriptKey})
	require.NoError(t, err)
	ok, err = f.cache.GetJSON(ctx, websiteCacheKey(scriptKey), &cached)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.PlanScale, cached.Plan)
}

func TestEvaluateNormalizesIntentLevel(t *testing.T) {
	f := newFixture(t, models.PlanGrowth)
	ctx := context.Background()

	hot := rules.NewRuleSet(rules.And, rules.Condition{Field: "intentLevel", Operator: rules.OpEquals, Value: rules.StringValue("HIGH")})
	require.NoError(t, f.store.CreateCampaign(ctx, campaign(f.website.ID, "hot", 1, 0, hot)))

	tests := []struct {
		name  string
		score int
		level string
		want  []string
	}{
		{"padded lowercase", 10, " high ", []string{"hot"}},
		{"derived from score", 80, "", []string{"hot"}},
		{"derived low", 10, "", []string{}},
		{"explicit level wins", 80, "MEDIUM", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := f.evaluate.Evaluate(ctx, &models.EvaluationRequest{
				Key: scriptKey, IntentScore: tt.score, IntentLevel: tt.level,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(resp.Campaigns))
		})
	}
}

func TestEligibleStableOnEqualPriority(t *testing.T) {
	id := uuid.New()
	list := []models.Campaign{
		*campaign(id, "a", 3, 0, rules.RuleSet{}),
		*campaign(id, "b", 7, 0, rules.RuleSet{}),
		*campaign(id, "c", 3, 0, rules.RuleSet{}),
	}
	got := Eligible(list, rules.Context{})
	var order []string
	for _, c := range got {
		order = append(order, c.Name)
	}
	assert.Equal(t, []string{"b", "a", "c"}, order)
}

func TestEligibleHandlesExtremePriorities(t *testing.T) {
	id := uuid.New()
	list := []models.Campaign{
		*campaign(id, "floor", math.MinInt, 0, rules.RuleSet{}),
		*campaign(id, "zero", 0, 0, rules.RuleSet{}),
		*campaign(id, "ceiling", math.MaxInt, 0, rules.RuleSet{}),
	}
	got := Eligible(list, rules.Context{})
	var order []string
	for _, c := range got {
		order = append(order, c.Name)
	}
	assert.Equal(t, []string{"ceiling", "zero", "floor"}, order)
}

type failingStore struct {
	*repository.MemoryStore
}

func (failingStore) ListActiveCampaigns(context.Context, uuid.UUID) ([]models.Campaign, error) {
	return nil, errors.New("connection reset")
}

func TestEvaluateWrapsStoreFailure(t *testing.T) {
	f := newFixture(t, models.PlanGrowth)
	svc := NewEvaluationService(failingStore{f.store}, nil, &config.Config{}, WithClock(f.clock.Now))

	_, err := svc.Evaluate(context.Background(), &models.EvaluationRequest{Key: scriptKey})
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "list campaigns", storeErr.Op)
}

func TestUsageMeterMonthStart(t *testing.T) {
	loc := time.FixedZone("WAT", 60*60)
	got := MonthStart(time.Date(2026, 4, 1, 0, 30, 0, 0, loc))
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), got, fmt.Sprintf("got %s", got))
}
