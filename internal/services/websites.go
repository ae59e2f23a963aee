package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/iamgideonidoko/nudge/internal/models"
	"github.com/iamgideonidoko/nudge/internal/repository"
	"github.com/iamgideonidoko/nudge/pkg/logger"
)

// OriginPolicy controls how a request's origin is checked against the
// website's registered domain.
type OriginPolicy struct {
	Strict     bool // reject instead of warn
	AllowLocal bool // accept localhost variants
}

// websites resolves script keys, reading through the cache.
type websites struct {
	store  Store
	cache  Cache
	policy OriginPolicy
}

func websiteCacheKey(key string) string {
	return fmt.Sprintf("site:%s", key)
}

func (w *websites) resolve(ctx context.Context, key string) (*models.Website, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrUnknownWebsite
	}

	if w.cache != nil {
		var cached models.Website
		if ok, err := w.cache.GetJSON(ctx, websiteCacheKey(key), &cached); err == nil && ok {
			return &cached, nil
		}
	}

	website, err := w.store.GetWebsiteByKey(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUnknownWebsite
	}
	if err != nil {
		return nil, storeError("get website", err)
	}

	if w.cache != nil {
		if err := w.cache.SetJSON(ctx, websiteCacheKey(key), website); err != nil {
			logger.Warn("Failed to cache website", map[string]any{
				"website_id": website.ID.String(),
				"error":      err.Error(),
			})
		}
	}
	return website, nil
}

// invalidate drops the cached record for key so the next lookup rereads it.
func (w *websites) invalidate(ctx context.Context, key string) {
	if w.cache == nil {
		return
	}
	if err := w.cache.Delete(ctx, websiteCacheKey(strings.TrimSpace(key))); err != nil {
		logger.Warn("Failed to evict cached website", map[string]any{
			"error": err.Error(),
		})
	}
}

// verifyOrigin logs a mismatch and only fails it under a strict policy.
func (w *websites) verifyOrigin(ctx context.Context, website *models.Website, origin string) error {
	if origin == "" || OriginAllowed(website.Domain, origin, w.policy.AllowLocal) {
		return nil
	}

	incrementMetric(ctx, w.cache, MetricOriginMismatches)
	logger.Warn("Request origin does not match website domain", map[string]any{
		"website_id": website.ID.String(),
		"domain":     website.Domain,
		"origin":     origin,
		"strict":     w.policy.Strict,
	})

	if w.policy.Strict {
		return ErrOriginRejected
	}
	return nil
}

// OriginAllowed compares the host of origin (an Origin or Referer value) with
// domain, ignoring scheme, port, and a leading "www.". Subdomains of domain
// are allowed.
func OriginAllowed(domain, origin string, allowLocal bool) bool {
	host := originHost(origin)
	if host == "" {
		return false
	}
	if allowLocal && isLocalHost(host) {
		return true
	}

	want := normalizeHost(originHost(domain))
	if want == "" {
		want = normalizeHost(domain)
	}
	host = normalizeHost(host)
	return host == want || strings.HasSuffix(host, "."+want)
}

func originHost(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	return strings.TrimPrefix(host, "www.")
}

func isLocalHost(host string) bool {
	host = strings.ToLower(host)
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
