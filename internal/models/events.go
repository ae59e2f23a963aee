package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

type EventType string

const (
	EventPageView   EventType = "PAGE_VIEW"
	EventImpression EventType = "IMPRESSION"
	EventClick      EventType = "CLICK"
	EventConversion EventType = "CONVERSION"
	EventDismiss    EventType = "DISMISS"
	EventCouponCopy EventType = "COUPON_COPY"
)

// eventVocabulary maps wire tags sent by the agent to stored types.
var eventVocabulary = map[string]EventType{
	"page_view":     EventPageView,
	"pageview":      EventPageView,
	"page_exit":     EventPageView,
	"page_leave":    EventPageView,
	"impression":    EventImpression,
	"popup_shown":   EventImpression,
	"click":         EventClick,
	"popup_click":   EventClick,
	"conversion":    EventConversion,
	"form_submit":   EventConversion,
	"purchase":      EventConversion,
	"dismiss":       EventDismiss,
	"popup_close":   EventDismiss,
	"coupon_copy":   EventCouponCopy,
	"coupon_copied": EventCouponCopy,
}

// ResolveEventType maps a wire tag to its stored type. ok is false for tags
// outside the vocabulary; isPurchase marks the purchase tag.
func ResolveEventType(tag string) (t EventType, isPurchase bool, ok bool) {
	key := strings.ToLower(strings.TrimSpace(tag))
	t, ok = eventVocabulary[key]
	return t, key == "purchase", ok
}

type MetadataKind string

const (
	MetadataPage        MetadataKind = "page"
	MetadataInteraction MetadataKind = "interaction"
	MetadataConversion  MetadataKind = "conversion"
	MetadataCoupon      MetadataKind = "coupon"
)

type PageMetadata struct {
	Title       string `json:"title,omitempty"`
	Referrer    string `json:"referrer,omitempty"`
	ScrollDepth int    `json:"scrollDepth,omitempty"`
	TimeOnPage  int64  `json:"timeOnPage,omitempty"`
}

type InteractionMetadata struct {
	PopupType string `json:"popupType,omitempty"`
	Element   string `json:"element,omitempty"`
}

type ConversionMetadata struct {
	IsPurchase bool    `json:"isPurchase"`
	Amount     float64 `json:"amount,omitempty"`
	Currency   string  `json:"currency,omitempty"`
	OrderID    string  `json:"orderId,omitempty"`
	Coupon     string  `json:"coupon,omitempty"`
}

type CouponMetadata struct {
	Code string `json:"code"`
}

// Metadata is the event payload. Exactly one variant is set, matching Kind.
type Metadata struct {
	Kind        MetadataKind
	Page        *PageMetadata
	Interaction *InteractionMetadata
	Conversion  *ConversionMetadata
	Coupon      *CouponMetadata
}

// MetadataFor picks the variant an event type carries and fills it from the
// request.
func MetadataFor(t EventType, isPurchase bool, req *TrackRequest) Metadata {
	in := req.Metadata
	switch t {
	case EventPageView:
		return Metadata{Kind: MetadataPage, Page: &PageMetadata{
			Title:       in.Title,
			Referrer:    req.Referrer,
			ScrollDepth: req.ScrollDepth,
			TimeOnPage:  req.TimeOnPage,
		}}
	case EventConversion:
		return Metadata{Kind: MetadataConversion, Conversion: &ConversionMetadata{
			IsPurchase: isPurchase,
			Amount:     in.Amount,
			Currency:   strings.ToUpper(in.Currency),
			OrderID:    in.OrderID,
			Coupon:     in.Coupon,
		}}
	case EventCouponCopy:
		return Metadata{Kind: MetadataCoupon, Coupon: &CouponMetadata{Code: in.Coupon}}
	default:
		return Metadata{Kind: MetadataInteraction, Interaction: &InteractionMetadata{
			PopupType: in.PopupType,
			Element:   in.Element,
		}}
	}
}

func (m Metadata) variant() any {
	switch m.Kind {
	case MetadataPage:
		return m.Page
	case MetadataInteraction:
		return m.Interaction
	case MetadataConversion:
		return m.Conversion
	case MetadataCoupon:
		return m.Coupon
	}
	return nil
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(m.variant())
	if err != nil {
		return nil, err
	}
	if m.Kind == "" || bytes.Equal(body, []byte("null")) {
		return []byte(`{}`), nil
	}

	kind, _ := json.Marshal(m.Kind)
	out := make([]byte, 0, len(body)+len(kind)+10)
	out = append(out, `{"kind":`...)
	out = append(out, kind...)
	if len(body) > 2 {
		out = append(out, ',')
		out = append(out, body[1:]...)
	} else {
		out = append(out, '}')
	}
	return out, nil
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	var peek struct {
		Kind MetadataKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		return err
	}

	*m = Metadata{Kind: peek.Kind}
	switch peek.Kind {
	case "":
		return nil
	case MetadataPage:
		m.Page = &PageMetadata{}
	case MetadataInteraction:
		m.Interaction = &InteractionMetadata{}
	case MetadataConversion:
		m.Conversion = &ConversionMetadata{}
	case MetadataCoupon:
		m.Coupon = &CouponMetadata{}
	default:
		return fmt.Errorf("unknown metadata kind %q", peek.Kind)
	}
	return json.Unmarshal(data, m.variant())
}

// Scan implements sql.Scanner for the JSONB metadata column.
func (m *Metadata) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		return m.UnmarshalJSON(v)
	case string:
		return m.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}
}

func (m Metadata) Value() (driver.Value, error) {
	return m.MarshalJSON()
}

// RawJSON is an opaque JSONB document such as popup content.
type RawJSON json.RawMessage

func (r RawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

func (r *RawJSON) UnmarshalJSON(data []byte) error {
	*r = append((*r)[:0], data...)
	return nil
}

func (r *RawJSON) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*r = nil
	case []byte:
		*r = append((*r)[:0], v...)
	case string:
		*r = RawJSON(v)
	default:
		return fmt.Errorf("unsupported json type %T", src)
	}
	return nil
}

func (r RawJSON) Value() (driver.Value, error) {
	if len(r) == 0 {
		return []byte("{}"), nil
	}
	return []byte(r), nil
}
