// Package backend talks to the remote safety analysis service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"saferoute/pkg/cache"
	"saferoute/pkg/model"
	"saferoute/pkg/tracker"
	"saferoute/pkg/version"
)

// ProviderName is the tracker key for backend calls.
const ProviderName = "backend"

// maxErrorBody bounds how much of a failure body becomes the error message.
const maxErrorBody = 1 << 20

// networkFallback is used when a transport fault carries no description.
const networkFallback = "Unable to reach the safety analysis service"

var defaultUserAgent = fmt.Sprintf("SafeRoute/%s", version.Version)

// Options configures a Client.
type Options struct {
	Endpoint         string
	Timeout          time.Duration
	BypassHeader     string
	BypassValue      string
	RequireNarrative bool
}

// Client posts analysis requests to the backend. It never retries.
type Client struct {
	httpClient *http.Client
	opts       Options
	cache      cache.Cacher
	tracker    *tracker.Tracker
}

// New creates a new Client. The cache may be nil.
func New(opts Options, c cache.Cacher, t *tracker.Tracker) *Client {
	if t == nil {
		t = tracker.New()
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		opts:       opts,
		cache:      c,
		tracker:    t,
	}
}

// Analyze sends the request and returns the normalized result.
// Failures are always *model.ErrorInfo.
func (c *Client) Analyze(ctx context.Context, req *model.AnalysisRequest) (*model.AnalysisResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, model.UnknownError(fmt.Sprintf("failed to encode request: %v", err))
	}

	var key string
	if c.cache != nil {
		key = cache.Key("analysis", payload)
		if val, hit := c.cache.GetCache(ctx, key); hit {
			if res, err := DecodeResult(val, c.opts.RequireNarrative); err == nil {
				c.tracker.TrackCacheHit(ProviderName)
				slog.Debug("Cache Hit", "provider", ProviderName, "key", key)
				return res, nil
			}
		}
		c.tracker.TrackCacheMiss(ProviderName)
		slog.Debug("Cache Miss", "provider", ProviderName, "key", key)
	}

	body, err := c.post(ctx, payload)
	if err != nil {
		c.trackFailure(err)
		return nil, err
	}

	res, err := DecodeResult(body, c.opts.RequireNarrative)
	if err != nil {
		c.trackFailure(err)
		slog.Warn("Backend response rejected", "error", err)
		return nil, err
	}
	c.tracker.TrackAPISuccess(ProviderName)

	if key != "" {
		if err := c.cache.SetCache(context.Background(), key, body); err != nil {
			slog.Error("Failed to cache response", "error", err)
		}
	}
	return res, nil
}

func (c *Client) post(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, model.UnknownError(fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)
	if c.opts.BypassHeader != "" && c.opts.BypassValue != "" {
		req.Header.Set(c.opts.BypassHeader, c.opts.BypassValue)
	}

	slog.Debug("Network Request", "host", req.URL.Host, "path", req.URL.Path)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Warn("Backend unreachable", "url", c.opts.Endpoint, "error", err)
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		text := strings.TrimSpace(string(msg))
		if text == "" {
			text = http.StatusText(resp.StatusCode)
		}
		slog.Warn("Backend error", "status", resp.StatusCode, "elapsed", time.Since(start))
		return nil, model.StatusError(resp.StatusCode, text)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(err)
	}
	slog.Debug("Backend response", "status", resp.StatusCode, "bytes", len(body), "elapsed", time.Since(start))
	return body, nil
}

// transportError classifies a fault that produced no HTTP response.
func transportError(err error) *model.ErrorInfo {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return model.NetworkError("The safety analysis service did not respond in time")
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = networkFallback
	}
	return model.NetworkError(msg)
}

func (c *Client) trackFailure(err error) {
	var info *model.ErrorInfo
	if errors.As(err, &info) {
		c.tracker.TrackAPIFailure(ProviderName, info.Category)
		return
	}
	c.tracker.TrackAPIFailure(ProviderName, model.ErrorUnknown)
}
