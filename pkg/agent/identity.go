package agent

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iamgideonidoko/nudge/internal/models"
	"github.com/iamgideonidoko/nudge/pkg/intent"
)

// IdentityStore reconciles the visitor id across a durable store and a
// secondary one. The durable value wins when both exist.
type IdentityStore struct {
	durable   KeyValueStore
	secondary KeyValueStore
	newID     func() string
}

func NewIdentityStore(durable, secondary KeyValueStore) *IdentityStore {
	return &IdentityStore{
		durable:   durable,
		secondary: secondary,
		newID:     uuid.NewString,
	}
}

// Resolve returns the visitor id, generating one on first load, and writes
// it back to both stores.
func (s *IdentityStore) Resolve() string {
	id, ok := s.durable.Get(visitorIDKey)
	if !ok || strings.TrimSpace(id) == "" {
		id, ok = s.secondary.Get(visitorIDKey)
	}
	if !ok || strings.TrimSpace(id) == "" {
		id = s.newID()
	}

	// A failed write only costs redundancy; the other store still has it.
	_ = s.durable.Set(visitorIDKey, id)
	_ = s.secondary.Set(visitorIDKey, id)
	return id
}

// Snapshot is the visitor's own behavioral history, cached locally.
type Snapshot struct {
	VisitCount  int      `json:"visitCount"`
	PagesViewed []string `json:"pagesViewed"`
	TimeOnSite  int64    `json:"timeOnSite"` // seconds
	UTMSource   string   `json:"utmSource,omitempty"`
	UTMMedium   string   `json:"utmMedium,omitempty"`
	UTMCampaign string   `json:"utmCampaign,omitempty"`
	Referrer    string   `json:"referrer,omitempty"`
}

// Touch is the attribution a page load arrived with.
type Touch struct {
	UTMSource   string
	UTMMedium   string
	UTMCampaign string
	Referrer    string
}

func LoadSnapshot(store KeyValueStore, visitorID string) *Snapshot {
	snap := &Snapshot{}
	loadJSON(store, snapshotPrefix+visitorID, snap)
	return snap
}

func (s *Snapshot) Save(store KeyValueStore, visitorID string) error {
	return saveJSON(store, snapshotPrefix+visitorID, s)
}

// ApplyTouch records attribution fields that are still unset.
func (s *Snapshot) ApplyTouch(t Touch) {
	setOnce(&s.UTMSource, t.UTMSource)
	setOnce(&s.UTMMedium, t.UTMMedium)
	setOnce(&s.UTMCampaign, t.UTMCampaign)
	setOnce(&s.Referrer, t.Referrer)
}

func setOnce(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func (s *Snapshot) RecordPage(path string) {
	s.PagesViewed = models.AppendPage(s.PagesViewed, path)
}

func (s *Snapshot) AddTime(d time.Duration) {
	if d > 0 {
		s.TimeOnSite += int64(d / time.Second)
	}
}

// Signals builds scorer input for the current page. History is what was
// viewed before it.
func (s *Snapshot) Signals(path string, timeOnPage time.Duration, scrollDepth int) intent.Signals {
	return intent.Signals{
		VisitCount:  s.VisitCount,
		CurrentPath: path,
		PagesViewed: s.PagesViewed,
		TimeOnSite:  time.Duration(s.TimeOnSite)*time.Second + max(timeOnPage, 0),
		ScrollDepth: intent.Clamp(scrollDepth),
	}
}

// Session tracks the session-scoped marker.
type Session struct {
	store KeyValueStore
}

func NewSession(store KeyValueStore) *Session {
	return &Session{store: store}
}

// Begin reports whether this load starts a new session, and sets the marker
// so later loads in the same session do not.
func (s *Session) Begin() bool {
	if v, ok := s.store.Get(sessionKey); ok && v != "" {
		return false
	}
	_ = s.store.Set(sessionKey, "1")
	return true
}
