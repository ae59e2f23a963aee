package enricher

import (
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// geoHeaders are set by CDNs and edge platforms in front of the API.
var (
	countryHeaders = []string{"CF-IPCountry", "X-Vercel-IP-Country", "CloudFront-Viewer-Country"}
	cityHeaders    = []string{"X-Vercel-IP-City", "CloudFront-Viewer-City"}
)

// FromHeaders builds a Transport from request headers. get returns a header
// value or ""; remoteIP is the socket peer.
func FromHeaders(get func(string) string, remoteIP string) Transport {
	t := Transport{
		UserAgent: get("User-Agent"),
		ClientIP:  ClientIP(get, remoteIP),
		Origin:    get("Origin"),
	}
	if t.Origin == "" {
		t.Origin = get("Referer")
	}

	for _, h := range countryHeaders {
		if v := strings.ToUpper(strings.TrimSpace(get(h))); v != "" && v != "XX" && v != "T1" {
			t.Country = v
			break
		}
	}
	for _, h := range cityHeaders {
		if v := strings.TrimSpace(get(h)); v != "" {
			t.City = unescapeCity(v)
			break
		}
	}
	return t
}

// ClientIP prefers a public address from proxy headers and falls back to
// the socket peer.
func ClientIP(get func(string) string, remoteIP string) string {
	if ip := selectPreferredIP(strings.Split(get("X-Forwarded-For"), ",")); ip != "" {
		return ip
	}

	for _, header := range []string{"X-Real-IP", "CF-Connecting-IP", "True-Client-IP"} {
		if value := get(header); value != "" {
			if ip := selectPreferredIP([]string{value}); ip != "" {
				return ip
			}
		}
	}

	if forwarded := get("Forwarded"); forwarded != "" {
		if ip := selectPreferredIP(parseForwardedHeader(forwarded)); ip != "" {
			return ip
		}
	}

	clean, _ := normalizeIP(remoteIP)
	return clean
}

func selectPreferredIP(values []string) string {
	var ipv6Fallback string

	for _, raw := range values {
		clean, parsed := normalizeIP(raw)
		if !parsed.IsValid() || isPrivate(parsed) {
			continue
		}
		if parsed.Is4() {
			return clean
		}
		if ipv6Fallback == "" {
			ipv6Fallback = clean
		}
	}

	return ipv6Fallback
}

func isPrivate(addr netip.Addr) bool {
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsUnspecified()
}

func normalizeIP(raw string) (string, netip.Addr) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"")
	if clean == "" {
		return "", netip.Addr{}
	}
	if i := strings.Index(clean, "%"); i != -1 {
		clean = clean[:i]
	}

	if ap, err := netip.ParseAddrPort(clean); err == nil {
		addr := ap.Addr().Unmap()
		return addr.String(), addr
	}

	trimmed := strings.TrimSuffix(strings.TrimPrefix(clean, "["), "]")
	if addr, err := netip.ParseAddr(trimmed); err == nil {
		addr = addr.Unmap()
		return addr.String(), addr
	}

	if host, _, err := net.SplitHostPort(clean); err == nil {
		return normalizeIP(host)
	}
	return "", netip.Addr{}
}

func parseForwardedHeader(header string) []string {
	var candidates []string
	for _, entry := range strings.Split(header, ",") {
		for _, part := range strings.Split(entry, ";") {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(strings.ToLower(part), "for=") {
				candidates = append(candidates, part[len("for="):])
			}
		}
	}
	return candidates
}

// unescapeCity decodes the percent-encoding some edges apply to city names.
func unescapeCity(v string) string {
	if decoded, err := url.PathUnescape(v); err == nil {
		return decoded
	}
	return v
}
