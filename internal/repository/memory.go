package repository

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iamgideonidoko/nudge/internal/models"
)

type visitorKey struct {
	websiteID uuid.UUID
	hash      string
}

// MemoryStore keeps everything in process. Each method holds the lock for its
// whole read-modify-write, which gives the same per-row atomicity the
// Postgres statements rely on.
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[uuid.UUID]*models.Account
	websites  map[uuid.UUID]*models.Website
	keys      map[string]uuid.UUID
	campaigns map[uuid.UUID]*models.Campaign
	visitors  map[visitorKey]*models.Visitor
	byID      map[uuid.UUID]visitorKey
	events    []models.Event
	leads     []models.Lead
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[uuid.UUID]*models.Account),
		websites:  make(map[uuid.UUID]*models.Website),
		keys:      make(map[string]uuid.UUID),
		campaigns: make(map[uuid.UUID]*models.Campaign),
		visitors:  make(map[visitorKey]*models.Visitor),
		byID:      make(map[uuid.UUID]visitorKey),
	}
}

func (s *MemoryStore) GetWebsiteByKey(_ context.Context, key string) (*models.Website, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.keys[key]
	if !ok {
		return nil, ErrNotFound
	}
	w := *s.websites[id]
	if a, ok := s.accounts[w.AccountID]; ok {
		w.Plan = a.Plan
	}
	return &w, nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id uuid.UUID) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ListActiveCampaigns(_ context.Context, websiteID uuid.UUID) ([]models.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Campaign
	for _, c := range s.campaigns {
		if c.WebsiteID == websiteID && c.Status == models.CampaignActive {
			out = append(out, *c)
		}
	}
	slices.SortStableFunc(out, func(a, b models.Campaign) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) CampaignBelongsTo(_ context.Context, websiteID, campaignID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.campaigns[campaignID]
	return ok && c.WebsiteID == websiteID, nil
}

func (s *MemoryStore) GetVisitor(_ context.Context, websiteID uuid.UUID, hash string) (*models.Visitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.visitors[visitorKey{websiteID, hash}]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneVisitor(v), nil
}

func (s *MemoryStore) CreateVisitor(_ context.Context, v *models.Visitor) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := visitorKey{v.WebsiteID, v.VisitorHash}
	if _, exists := s.visitors[key]; exists {
		return false, nil
	}
	s.visitors[key] = cloneVisitor(v)
	s.byID[v.ID] = key
	return true, nil
}

func (s *MemoryStore) MergeVisitor(_ context.Context, u models.VisitorUpdate) (*models.Visitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.visitors[visitorKey{u.WebsiteID, u.VisitorHash}]
	if !ok {
		return nil, ErrNotFound
	}
	v.Merge(u)
	return cloneVisitor(v), nil
}

func (s *MemoryStore) ClaimVisitorForMonth(_ context.Context, visitorID uuid.UUID, now, monthStart time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.byID[visitorID]
	if !ok {
		return false, nil
	}
	v := s.visitors[key]
	if v.CountedForMonth != nil && !v.CountedForMonth.Before(monthStart) {
		return false, nil
	}
	v.CountedForMonth = &now
	return true, nil
}

func (s *MemoryStore) IncrementAccountUsage(_ context.Context, accountID uuid.UUID, monthStart time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	if a.BillingCycleStart == nil || a.BillingCycleStart.Before(monthStart) {
		a.VisitorsUsedThisMonth = 1
		a.BillingCycleStart = &monthStart
		return nil
	}
	a.VisitorsUsedThisMonth++
	return nil
}

func (s *MemoryStore) InsertEvent(_ context.Context, e *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, *e)
	return nil
}

func (s *MemoryStore) InsertLead(_ context.Context, l *models.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.leads = append(s.leads, *l)
	return nil
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *MemoryStore) CreateWebsite(_ context.Context, w *models.Website) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[w.AccountID]; !ok {
		return ErrNotFound
	}
	cp := *w
	s.websites[w.ID] = &cp
	s.keys[w.ScriptKey] = w.ID
	return nil
}

func (s *MemoryStore) CreateCampaign(_ context.Context, c *models.Campaign) error {
	if err := c.TriggerRules.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	s.campaigns[c.ID] = &cp
	return nil
}

// Events returns a copy of every stored event in insertion order.
func (s *MemoryStore) Events() []models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events)
}

// Leads returns a copy of every stored lead in insertion order.
func (s *MemoryStore) Leads() []models.Lead {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.leads)
}

func (s *MemoryStore) HealthCheck(context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func cloneVisitor(v *models.Visitor) *models.Visitor {
	cp := *v
	cp.PagesViewed = slices.Clone(v.PagesViewed)
	if v.CountedForMonth != nil {
		t := *v.CountedForMonth
		cp.CountedForMonth = &t
	}
	return &cp
}
