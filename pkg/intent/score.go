// Package intent computes the behavioral engagement score shared by the
// browser agent and the ingestion pipeline.
package intent

import (
	"strings"
	"time"
)

type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

const (
	MinScore = 0
	MaxScore = 100

	highThreshold   = 60
	mediumThreshold = 30
)

// highIntentFragments are matched case-insensitively anywhere in the path.
var highIntentFragments = []string{
	"pricing",
	"checkout",
	"cart",
	"buy",
	"subscribe",
	"demo",
	"contact",
}

const pricingFragment = "pricing"

// Signals is everything the scorer looks at. PagesViewed is the visitor's
// history; TimeOnSite is cumulative and includes the current page.
type Signals struct {
	VisitCount  int
	CurrentPath string
	PagesViewed []string
	TimeOnSite  time.Duration
	ScrollDepth int
}

type tier struct {
	above  float64
	points int
}

var (
	loyaltyTiers = []tier{{1, 10}, {3, 20}, {5, 10}}
	dwellTiers   = []tier{{60, 10}, {120, 15}, {300, 10}}
	scrollTiers  = []tier{{25, 5}, {50, 10}, {75, 5}}
	breadthTiers = []tier{{2, 10}, {5, 10}}
)

const (
	pageValuePoints = 30
	historyPoints   = 15
)

// Score applies the additive rule set and clamps to [0,100].
func Score(s Signals) int {
	score := 0

	score += tierPoints(loyaltyTiers, float64(s.VisitCount))

	if IsHighIntentPath(s.CurrentPath) {
		score += pageValuePoints
	}

	for _, page := range s.PagesViewed {
		if strings.Contains(strings.ToLower(page), pricingFragment) {
			score += historyPoints
			break
		}
	}

	score += tierPoints(dwellTiers, s.TimeOnSite.Seconds())
	score += tierPoints(scrollTiers, float64(s.ScrollDepth))
	score += tierPoints(breadthTiers, float64(distinct(s.PagesViewed)))

	return Clamp(score)
}

// Classify maps a score to its three-level classification.
func Classify(score int) Level {
	switch {
	case score >= highThreshold:
		return LevelHigh
	case score >= mediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Evaluate is Score followed by Classify.
func Evaluate(s Signals) (int, Level) {
	score := Score(s)
	return score, Classify(score)
}

// IsHighIntentPath reports whether path contains one of the high-intent fragments.
func IsHighIntentPath(path string) bool {
	lower := strings.ToLower(path)
	for _, fragment := range highIntentFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

func Clamp(score int) int {
	return max(MinScore, min(score, MaxScore))
}

// ParseLevel normalizes a client-supplied level. Unknown values map to LOW.
func ParseLevel(s string) Level {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelHigh:
		return LevelHigh
	case LevelMedium:
		return LevelMedium
	default:
		return LevelLow
	}
}

func tierPoints(tiers []tier, value float64) int {
	points := 0
	for _, t := range tiers {
		if value > t.above {
			points += t.points
		}
	}
	return points
}

func distinct(pages []string) int {
	seen := make(map[string]struct{}, len(pages))
	for _, p := range pages {
		seen[p] = struct{}{}
	}
	return len(seen)
}
