package services

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/iamgideonidoko/nudge/internal/config"
	"github.com/iamgideonidoko/nudge/internal/models"
	"github.com/iamgideonidoko/nudge/internal/repository"
	"github.com/iamgideonidoko/nudge/internal/rules"
	"github.com/iamgideonidoko/nudge/pkg/intent"
	"github.com/iamgideonidoko/nudge/pkg/logger"
)

// EvaluationService answers "which campaigns may this visitor see". It never
// writes visitor state.
type EvaluationService struct {
	store         Store
	cache         Cache
	sites         *websites
	plans         map[models.PlanTier]models.Plan
	hardStopRatio float64
	now           func() time.Time
}

func NewEvaluationService(store Store, cache Cache, cfg *config.Config, opts ...Option) *EvaluationService {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	plans := cfg.Targeting.Plans
	if len(plans) == 0 {
		plans = config.DefaultPlans()
	}

	return &EvaluationService{
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
		plans:         plans,
		hardStopRatio: cfg.Targeting.QuotaHardStopRatio,
		now:           o.now,
	}
}

// Evaluate returns the eligible campaigns, highest priority first.
func (s *EvaluationService) Evaluate(ctx context.Context, req *models.EvaluationRequest) (*models.EvaluationResponse, error) {
	website, err := s.sites.resolve(ctx, req.Key)
	if err != nil {
		return nil, err
	}
	if err := s.sites.verifyOrigin(ctx, website, req.Origin); err != nil {
		return nil, err
	}
	incrementMetric(ctx, s.cache, MetricEvaluations)

	account, err := s.store.GetAccount(ctx, website.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnknownWebsite
		}
		return nil, storeError("get account", err)
	}

	// The cached website carries the plan it was cached with. The account
	// row is authoritative after an upgrade or downgrade.
	if website.Plan != account.Plan {
		s.sites.invalidate(ctx, req.Key)
	}
	plan := s.planFor(account.Plan)
	if s.overHardStop(account, plan) {
		incrementMetric(ctx, s.cache, MetricQuotaHardStops)
		logger.Warn("Account over visitor quota, serving no campaigns", map[string]any{
			"account_id": account.ID.String(),
			"plan":       string(plan.Tier),
			"quota":      plan.VisitorQuota,
		})
		return &models.EvaluationResponse{Campaigns: []models.CampaignView{}, LimitExceeded: true}, nil
	}

	campaigns, err := s.store.ListActiveCampaigns(ctx, website.ID)
	if err != nil {
		return nil, storeError("list campaigns", err)
	}
	if plan.CampaignLimit > 0 && len(campaigns) > plan.CampaignLimit {
		campaigns = campaigns[:plan.CampaignLimit]
	}

	ruleCtx := rules.Context{
		Page:          req.Page,
		IntentScore:   intent.Clamp(req.IntentScore),
		IntentLevel:   string(requestLevel(req)),
		VisitCount:    req.VisitCount,
		TrafficSource: req.Source,
		Referrer:      req.Referrer,
		Device:        req.Device,
	}

	eligible := Eligible(campaigns, ruleCtx)
	views := make([]models.CampaignView, 0, len(eligible))
	for i := range eligible {
		views = append(views, eligible[i].View())
	}
	return &models.EvaluationResponse{Campaigns: views}, nil
}

// requestLevel normalizes the agent's level, deriving it from the score when
// the agent sent none.
func requestLevel(req *models.EvaluationRequest) intent.Level {
	if strings.TrimSpace(req.IntentLevel) == "" {
		return intent.Classify(intent.Clamp(req.IntentScore))
	}
	return intent.ParseLevel(req.IntentLevel)
}

// Eligible keeps ACTIVE campaigns whose trigger rules match ctx, sorted by
// priority descending. Equal priorities keep their input order.
func Eligible(campaigns []models.Campaign, ctx rules.Context) []models.Campaign {
	out := make([]models.Campaign, 0, len(campaigns))
	for _, c := range campaigns {
		if c.Status != models.CampaignActive {
			continue
		}
		if rules.Matches(c.TriggerRules, ctx) {
			out = append(out, c)
		}
	}
	slices.SortStableFunc(out, func(a, b models.Campaign) int {
		return cmp.Compare(b.Priority, a.Priority)
	})
	return out
}

func (s *EvaluationService) planFor(tier models.PlanTier) models.Plan {
	if p, ok := s.plans[tier]; ok {
		return p
	}
	return s.plans[models.PlanFree]
}

func (s *EvaluationService) overHardStop(account *models.Account, plan models.Plan) bool {
	if plan.VisitorQuota <= 0 {
		return false
	}
	ratio := s.hardStopRatio
	if ratio <= 0 {
		ratio = 1.2
	}
	used := account.UsageFor(MonthStart(s.now()))
	return float64(used) > ratio*float64(plan.VisitorQuota)
}
