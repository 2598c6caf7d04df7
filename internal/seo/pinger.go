package seo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/oneirolab/dreamgate/internal/cms"
)

// ErrProviderNotConfigured reports a submission attempt against a provider
// whose credentials are absent. The owning feature degrades; the service
// keeps running.
type ErrProviderNotConfigured struct {
	Provider cms.SubmissionProvider
}

func (e ErrProviderNotConfigured) Error() string {
	return fmt.Sprintf("provider %s is not configured", e.Provider)
}

// PingerConfig controls outbound submission behavior.
type PingerConfig struct {
	SiteURL     string
	IndexNowKey string
	RatePerSec  float64
	Timeout     time.Duration
}

// Pinger submits URLs to search-engine index endpoints. Outbound calls are
// bounded by a client timeout and throttled by a token bucket so a sitemap
// regeneration cannot burst-ping providers.
type Pinger struct {
	cfg     PingerConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger

	googlePingURL string
	bingPingURL   string
	indexNowURL   string
}

// NewPinger constructs a Pinger.
func NewPinger(cfg PingerConfig, logger *zap.Logger) *Pinger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	r := rate.Limit(cfg.RatePerSec)
	if cfg.RatePerSec <= 0 {
		r = rate.Inf
	}
	return &Pinger{
		cfg:           cfg,
		client:        &http.Client{Timeout: cfg.Timeout},
		limiter:       rate.NewLimiter(r, 1),
		logger:        logger,
		googlePingURL: "https://www.google.com/ping",
		bingPingURL:   "https://www.bing.com/ping",
		indexNowURL:   "https://api.indexnow.org/indexnow",
	}
}

// Submit pushes one URL to the given provider.
func (p *Pinger) Submit(ctx context.Context, provider cms.SubmissionProvider, target string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("ping throttle wait: %w", err)
	}
	switch provider {
	case cms.ProviderGoogle:
		return p.pingSitemap(ctx, p.googlePingURL)
	case cms.ProviderBing:
		return p.pingSitemap(ctx, p.bingPingURL)
	case cms.ProviderIndexNow:
		return p.submitIndexNow(ctx, target)
	default:
		return fmt.Errorf("unknown submission provider %q", provider)
	}
}

// PingSitemaps notifies all sitemap-ping providers that the sitemap changed.
func (p *Pinger) PingSitemaps(ctx context.Context) error {
	for _, endpoint := range []string{p.googlePingURL, p.bingPingURL} {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("ping throttle wait: %w", err)
		}
		if err := p.pingSitemap(ctx, endpoint); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pinger) sitemapURL() string {
	return fmt.Sprintf("%s/sitemap.xml", p.cfg.SiteURL)
}

func (p *Pinger) pingSitemap(ctx context.Context, endpoint string) error {
	u := fmt.Sprintf("%s?sitemap=%s", endpoint, url.QueryEscape(p.sitemapURL()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("sitemap ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sitemap ping: unexpected status %d", resp.StatusCode)
	}
	return nil
}

type indexNowRequest struct {
	Host    string   `json:"host"`
	Key     string   `json:"key"`
	URLList []string `json:"urlList"`
}

func (p *Pinger) submitIndexNow(ctx context.Context, target string) error {
	if p.cfg.IndexNowKey == "" {
		return ErrProviderNotConfigured{Provider: cms.ProviderIndexNow}
	}
	host := p.cfg.SiteURL
	if u, err := url.Parse(p.cfg.SiteURL); err == nil && u.Host != "" {
		host = u.Host
	}
	body, err := json.Marshal(indexNowRequest{
		Host:    host,
		Key:     p.cfg.IndexNowKey,
		URLList: []string{target},
	})
	if err != nil {
		return fmt.Errorf("marshal indexnow request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.indexNowURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build indexnow request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("indexnow submit: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("indexnow submit: unexpected status %d", resp.StatusCode)
	}
	return nil
}
