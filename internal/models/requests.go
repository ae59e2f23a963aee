package models

import (
	"github.com/google/uuid"

	"github.com/iamgideonidoko/nudge/pkg/intent"
)

// TrackRequest is the ingestion payload sent by the agent.
type TrackRequest struct {
	Key         string          `json:"key"`
	EventType   string          `json:"eventType"`
	VisitorID   string          `json:"visitorId"`
	Page        string          `json:"page"`
	Referrer    string          `json:"referrer,omitempty"`
	UTMSource   string          `json:"utmSource,omitempty"`
	UTMMedium   string          `json:"utmMedium,omitempty"`
	UTMCampaign string          `json:"utmCampaign,omitempty"`
	Device      string          `json:"device,omitempty"`
	Browser     string          `json:"browser,omitempty"`
	OS          string          `json:"os,omitempty"`
	IntentScore int             `json:"intentScore"`
	IntentLevel string          `json:"intentLevel,omitempty"`
	CampaignID  string          `json:"campaignId,omitempty"`
	TimeOnPage  int64           `json:"timeOnPage,omitempty"` // seconds
	ScrollDepth int             `json:"scrollDepth,omitempty"`
	Email       string          `json:"email,omitempty"`
	Phone       string          `json:"phone,omitempty"`
	Name        string          `json:"name,omitempty"`
	Metadata    RequestMetadata `json:"metadata,omitempty"`

	// Filled by the transport layer, never by the client.
	Country   string `json:"-"`
	City      string `json:"-"`
	UserAgent string `json:"-"`
	ClientIP  string `json:"-"`
	Origin    string `json:"-"`
}

// RequestMetadata is the loose shape the agent sends; the pipeline narrows it
// to one Metadata variant.
type RequestMetadata struct {
	Title     string  `json:"title,omitempty"`
	PopupType string  `json:"popupType,omitempty"`
	Element   string  `json:"element,omitempty"`
	Amount    float64 `json:"amount,omitempty"`
	Currency  string  `json:"currency,omitempty"`
	OrderID   string  `json:"orderId,omitempty"`
	Coupon    string  `json:"coupon,omitempty"`
}

func (r *TrackRequest) Attribution() Attribution {
	return Attribution{
		UTMSource:   r.UTMSource,
		UTMMedium:   r.UTMMedium,
		UTMCampaign: r.UTMCampaign,
		Referrer:    r.Referrer,
		Device:      r.Device,
		Browser:     r.Browser,
		OS:          r.OS,
		Country:     r.Country,
		City:        r.City,
	}
}

type TrackResponse struct {
	Success     bool         `json:"success"`
	VisitorID   uuid.UUID    `json:"visitorId"`
	IntentScore int          `json:"intentScore"`
	IntentLevel intent.Level `json:"intentLevel"`
}

// EvaluationRequest carries the visitor's live context for campaign lookup.
type EvaluationRequest struct {
	Key         string `query:"key"`
	Page        string `query:"page"`
	IntentScore int    `query:"intentScore"`
	IntentLevel string `query:"intentLevel"`
	VisitCount  int    `query:"visitCount"`
	Source      string `query:"source"`
	Referrer    string `query:"referrer"`
	Device      string `query:"device"`

	Origin string `query:"-"`
}

// CampaignView is what the agent needs to render and cap a campaign.
type CampaignView struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	PopupType string    `json:"popupType"`
	Content   RawJSON   `json:"content"`
	Priority  int       `json:"priority"`
	Frequency Frequency `json:"frequency"`
}

func (c *Campaign) View() CampaignView {
	return CampaignView{
		ID:        c.ID,
		Name:      c.Name,
		PopupType: c.PopupType,
		Content:   c.Content,
		Priority:  c.Priority,
		Frequency: c.Frequency,
	}
}

type EvaluationResponse struct {
	Campaigns     []CampaignView `json:"campaigns"`
	LimitExceeded bool           `json:"limitExceeded"`
}
