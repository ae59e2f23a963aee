// Package enricher fills the fields of an ingestion request that come from
// the transport rather than the agent: geo, client IP, and user-agent
// derived device details.
package enricher

import (
	"fmt"
	"net"
	"strings"

	"github.com/mssola/useragent"
	"github.com/oschwald/geoip2-golang"

	"github.com/iamgideonidoko/nudge/internal/models"
)

const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
	DeviceBot     = "bot"
)

// Transport is what the HTTP layer knows about a request.
type Transport struct {
	UserAgent string
	ClientIP  string
	Country   string
	City      string
	Origin    string
}

type Enricher struct {
	geoIP *geoip2.Reader
}

// New opens the GeoIP database at path. An empty path disables lookups.
func New(geoIPPath string) (*Enricher, error) {
	if geoIPPath == "" {
		return &Enricher{}, nil
	}

	geoIP, err := geoip2.Open(geoIPPath)
	if err != nil {
		return &Enricher{}, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	return &Enricher{geoIP: geoIP}, nil
}

// Apply copies transport data onto req. Device fields the agent already sent
// are kept; geo always comes from the transport.
func (e *Enricher) Apply(req *models.TrackRequest, t Transport) {
	req.UserAgent = t.UserAgent
	req.ClientIP = t.ClientIP
	req.Origin = t.Origin

	req.Country, req.City = t.Country, t.City
	if req.Country == "" {
		req.Country, req.City = e.lookup(t.ClientIP)
	}

	if t.UserAgent == "" || (req.Device != "" && req.Browser != "" && req.OS != "") {
		return
	}
	device, browser, os := ParseUserAgent(t.UserAgent)
	if req.Device == "" {
		req.Device = device
	}
	if req.Browser == "" {
		req.Browser = browser
	}
	if req.OS == "" {
		req.OS = os
	}
}

func (e *Enricher) lookup(clientIP string) (country, city string) {
	if e == nil || e.geoIP == nil || clientIP == "" {
		return "", ""
	}
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return "", ""
	}
	record, err := e.geoIP.City(ip)
	if err != nil {
		return "", ""
	}
	return record.Country.IsoCode, record.City.Names["en"]
}

// ParseUserAgent classifies a user-agent string.
func ParseUserAgent(raw string) (device, browser, os string) {
	ua := useragent.New(raw)
	browser, _ = ua.Browser()
	os = ua.OS()

	switch {
	case ua.Bot():
		device = DeviceBot
	case isTablet(raw):
		device = DeviceTablet
	case ua.Mobile():
		device = DeviceMobile
	default:
		device = DeviceDesktop
	}
	return device, browser, os
}

func isTablet(raw string) bool {
	lower := strings.ToLower(raw)
	if strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet") {
		return true
	}
	return strings.Contains(lower, "android") && !strings.Contains(lower, "mobile")
}

func (e *Enricher) Close() {
	if e.geoIP != nil {
		_ = e.geoIP.Close()
	}
}
