package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iamgideonidoko/nudge/internal/config"
	"github.com/iamgideonidoko/nudge/internal/models"
	"github.com/iamgideonidoko/nudge/internal/repository"
	"github.com/iamgideonidoko/nudge/pkg/intent"
	"github.com/iamgideonidoko/nudge/pkg/logger"
)

// IngestionService is the only writer of visitor, event, lead, and usage
// state.
type IngestionService struct {
	store          Store
	cache          Cache
	sites          *websites
	meter          *UsageMeter
	publisher      EventPublisher
	now            func() time.Time
	sessionTimeout time.Duration
}

func NewIngestionService(store Store, cache Cache, cfg *config.Config, opts ...Option) *IngestionService {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &IngestionService{
		store: store,
		cache: cache,
		sites: &websites{
			store: store,
			cache: cache,
			policy: OriginPolicy{
				Strict:     cfg.Security.StrictOrigin,
				AllowLocal: cfg.API.IsDevelopment(),
			},
		},
		meter:          NewUsageMeter(store, o.now),
		publisher:      o.publisher,
		now:            o.now,
		sessionTimeout: cfg.Targeting.SessionTimeout,
	}
}

// Track applies one agent event: it upserts the visitor, meters usage, and
// appends the event if its type is known.
func (s *IngestionService) Track(ctx context.Context, req *models.TrackRequest) (*models.TrackResponse, error) {
	website, err := s.sites.resolve(ctx, req.Key)
	if err != nil {
		return nil, err
	}
	if err := s.sites.verifyOrigin(ctx, website, req.Origin); err != nil {
		return nil, err
	}

	hash := strings.TrimSpace(req.VisitorID)
	if hash == "" {
		return nil, fmt.Errorf("%w: visitorId is required", ErrInvalidRequest)
	}

	log := logger.WithField("website_id", website.ID.String())
	now := s.now().UTC()

	existing, err := s.store.GetVisitor(ctx, website.ID, hash)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		existing = nil
	case err != nil:
		return nil, storeError("get visitor", err)
	}

	score := s.validateScore(existing, req, now)
	update := models.VisitorUpdate{
		WebsiteID:      website.ID,
		VisitorHash:    hash,
		Page:           strings.TrimSpace(req.Page),
		IntentScore:    score,
		IntentLevel:    intent.Classify(score),
		ScrollDepth:    intent.Clamp(req.ScrollDepth),
		TimeOnPage:     max(req.TimeOnPage, 0),
		Attribution:    req.Attribution(),
		Now:            now,
		SessionTimeout: s.sessionTimeout,
	}

	visitor, err := s.upsertVisitor(ctx, existing, update)
	if err != nil {
		return nil, err
	}

	counted, err := s.meter.Record(ctx, website.AccountID, visitor.ID)
	if err != nil {
		log.Error("Failed to meter visitor", map[string]any{
			"visitor_id": visitor.ID.String(),
			"error":      err.Error(),
		})
		return nil, err
	}
	if counted {
		incrementMetric(ctx, s.cache, MetricVisitorsMetered)
	}

	if err := s.recordEvent(ctx, website, visitor, req, now); err != nil {
		return nil, err
	}

	return &models.TrackResponse{
		Success:     true,
		VisitorID:   visitor.ID,
		IntentScore: visitor.IntentScore,
		IntentLevel: visitor.IntentLevel,
	}, nil
}

// validateScore recomputes the score from stored history and keeps the
// higher of that and the agent's claim.
func (s *IngestionService) validateScore(existing *models.Visitor, req *models.TrackRequest, now time.Time) int {
	signals := intent.Signals{
		VisitCount:  1,
		CurrentPath: req.Page,
		TimeOnSite:  time.Duration(max(req.TimeOnPage, 0)) * time.Second,
		ScrollDepth: intent.Clamp(req.ScrollDepth),
	}
	if existing != nil {
		signals.VisitCount = existing.VisitCount
		if now.Sub(existing.LastSeen) > s.timeout() {
			signals.VisitCount++
		}
		signals.PagesViewed = existing.PagesViewed
		signals.TimeOnSite += time.Duration(existing.TimeOnSite) * time.Second
		signals.ScrollDepth = max(signals.ScrollDepth, existing.ScrollDepth)
	}

	return max(intent.Clamp(req.IntentScore), intent.Score(signals))
}

func (s *IngestionService) timeout() time.Duration {
	if s.sessionTimeout <= 0 {
		return models.DefaultSessionTimeout
	}
	return s.sessionTimeout
}

// upsertVisitor creates the visitor on first sight. A lost insert race falls
// through to the merge path so the winner's row is updated, not replaced.
func (s *IngestionService) upsertVisitor(ctx context.Context, existing *models.Visitor, u models.VisitorUpdate) (*models.Visitor, error) {
	if existing == nil {
		v := models.NewVisitor(u)
		created, err := s.store.CreateVisitor(ctx, v)
		if err != nil {
			return nil, storeError("create visitor", err)
		}
		if created {
			incrementMetric(ctx, s.cache, MetricVisitorsCreated)
			return v, nil
		}
	}

	v, err := s.store.MergeVisitor(ctx, u)
	if err != nil {
		return nil, storeError("merge visitor", err)
	}
	return v, nil
}

func (s *IngestionService) recordEvent(ctx context.Context, website *models.Website, visitor *models.Visitor, req *models.TrackRequest, now time.Time) error {
	eventType, isPurchase, ok := models.ResolveEventType(req.EventType)
	if !ok {
		logger.Debug("Ignoring unknown event type", map[string]any{
			"website_id": website.ID.String(),
			"event_type": req.EventType,
		})
		return nil
	}

	event := &models.Event{
		ID:         uuid.New(),
		WebsiteID:  website.ID,
		VisitorID:  visitor.ID,
		CampaignID: s.campaignFor(ctx, website.ID, req.CampaignID),
		Type:       eventType,
		Page:       strings.TrimSpace(req.Page),
		Metadata:   models.MetadataFor(eventType, isPurchase, req),
		CreatedAt:  now,
	}
	if err := s.store.InsertEvent(ctx, event); err != nil {
		return storeError("insert event", err)
	}
	incrementMetric(ctx, s.cache, MetricEventsIngested)

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, event); err != nil {
			logger.Warn("Failed to publish event", map[string]any{
				"event_id": event.ID.String(),
				"error":    err.Error(),
			})
		}
	}

	if eventType != models.EventConversion {
		return nil
	}
	email, phone := strings.TrimSpace(req.Email), strings.TrimSpace(req.Phone)
	if email == "" && phone == "" {
		return nil
	}

	lead := &models.Lead{
		ID:         uuid.New(),
		WebsiteID:  website.ID,
		CampaignID: event.CampaignID,
		VisitorID:  visitor.ID,
		Email:      strings.ToLower(email),
		Phone:      phone,
		Name:       strings.TrimSpace(req.Name),
		UTMSource:  visitor.UTMSource,
		CreatedAt:  now,
	}
	if err := s.store.InsertLead(ctx, lead); err != nil {
		return storeError("insert lead", err)
	}
	return nil
}

// campaignFor returns the referenced campaign id when it belongs to the
// website. Anything else is dropped so the event is still stored.
func (s *IngestionService) campaignFor(ctx context.Context, websiteID uuid.UUID, raw string) *uuid.UUID {
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}

	ok, err := s.store.CampaignBelongsTo(ctx, websiteID, id)
	if err != nil {
		logger.Warn("Failed to check campaign, dropping reference", map[string]any{
			"website_id":  websiteID.String(),
			"campaign_id": id.String(),
			"error":       err.Error(),
		})
		return nil
	}
	if !ok {
		logger.Debug("Ignoring campaign from another website", map[string]any{
			"website_id":  websiteID.String(),
			"campaign_id": id.String(),
		})
		return nil
	}
	return &id
}
