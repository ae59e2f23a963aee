package validator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/iamgideonidoko/nudge/internal/models"
	"github.com/iamgideonidoko/nudge/pkg/intent"
)

var (
	visitorIDRegex = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)
	emailRegex     = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	currencyRegex  = regexp.MustCompile(`^[A-Za-z]{3}$`)
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Errors is every field failure of one payload.
type Errors map[string]string

func (e Errors) Error() string {
	fields := make([]string, 0, len(e))
	for field := range e {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+e[f])
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

type Validator struct {
	errors []ValidationError
}

func New() *Validator {
	return &Validator{
		errors: make([]ValidationError, 0),
	}
}

func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

func (v *Validator) IsValid() bool {
	return len(v.errors) == 0
}

func (v *Validator) ErrorMap() map[string]string {
	result := make(map[string]string)
	for _, err := range v.errors {
		result[err.Field] = err.Message
	}
	return result
}

// Err returns nil or an Errors value.
func (v *Validator) Err() error {
	if v.IsValid() {
		return nil
	}
	return Errors(v.ErrorMap())
}

func (v *Validator) required(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "required")
	}
}

func (v *Validator) maxLen(field, value string, n int) {
	if len(value) > n {
		v.AddError(field, "too long")
	}
}

func (v *Validator) percent(field string, value int) {
	if value < intent.MinScore || value > intent.MaxScore {
		v.AddError(field, "must be between 0 and 100")
	}
}

func (v *Validator) level(field, value string) {
	if value == "" {
		return
	}
	switch intent.Level(strings.ToUpper(strings.TrimSpace(value))) {
	case intent.LevelLow, intent.LevelMedium, intent.LevelHigh:
	default:
		v.AddError(field, "must be LOW, MEDIUM or HIGH")
	}
}

func ValidateTrackRequest(req *models.TrackRequest) error {
	v := New()

	// An empty key is an authentication failure, left to website lookup.
	v.maxLen("key", req.Key, 128)
	v.required("eventType", req.EventType)
	v.maxLen("eventType", req.EventType, 64)

	if req.VisitorID == "" {
		v.AddError("visitorId", "required")
	} else if !visitorIDRegex.MatchString(req.VisitorID) {
		v.AddError("visitorId", "invalid format")
	}

	v.maxLen("page", req.Page, 2048)
	v.maxLen("referrer", req.Referrer, 2048)
	for field, value := range map[string]string{
		"utmSource":   req.UTMSource,
		"utmMedium":   req.UTMMedium,
		"utmCampaign": req.UTMCampaign,
		"device":      req.Device,
		"browser":     req.Browser,
		"os":          req.OS,
		"name":        req.Name,
	} {
		v.maxLen(field, value, 255)
	}

	v.percent("intentScore", req.IntentScore)
	v.level("intentLevel", req.IntentLevel)
	v.percent("scrollDepth", req.ScrollDepth)
	if req.TimeOnPage < 0 {
		v.AddError("timeOnPage", "must not be negative")
	}

	if req.CampaignID != "" {
		if _, err := uuid.Parse(req.CampaignID); err != nil {
			v.AddError("campaignId", "invalid format")
		}
	}
	if email := strings.TrimSpace(req.Email); email != "" {
		if len(email) > 254 || !emailRegex.MatchString(email) {
			v.AddError("email", "invalid format")
		}
	}
	v.maxLen("phone", req.Phone, 32)

	if req.Metadata.Amount < 0 {
		v.AddError("metadata.amount", "must not be negative")
	}
	if req.Metadata.Currency != "" && !currencyRegex.MatchString(req.Metadata.Currency) {
		v.AddError("metadata.currency", "must be a 3-letter code")
	}

	return v.Err()
}

func ValidateEvaluationRequest(req *models.EvaluationRequest) error {
	v := New()

	v.maxLen("key", req.Key, 128)
	v.maxLen("page", req.Page, 2048)
	v.percent("intentScore", req.IntentScore)
	v.level("intentLevel", req.IntentLevel)
	if req.VisitCount < 0 {
		v.AddError("visitCount", "must not be negative")
	}

	return v.Err()
}

// SanitizeTrackRequest strips control characters from free-text fields.
func SanitizeTrackRequest(req *models.TrackRequest) {
	for _, s := range []*string{
		&req.Page, &req.Referrer, &req.UTMSource, &req.UTMMedium, &req.UTMCampaign,
		&req.Device, &req.Browser, &req.OS, &req.Name, &req.Email, &req.Phone,
		&req.Metadata.Title, &req.Metadata.OrderID, &req.Metadata.Coupon,
	} {
		*s = strings.TrimSpace(SanitizeString(*s))
	}
}

func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	var result strings.Builder
	for _, r := range s {
		if r >= 32 || r == '\n' || r == '\t' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
