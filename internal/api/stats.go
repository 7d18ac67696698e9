package api

import (
	"net/http"
	"sort"
	"sync"

	"saferoute/pkg/probe"
	"saferoute/pkg/tracker"
)

type StatsHandler struct {
	tracker  *tracker.Tracker
	sessions func() int

	mu     sync.RWMutex
	checks []probe.Report
}

// NewStatsHandler creates a new StatsHandler. sessions reports the number of
// live sessions and may be nil.
func NewStatsHandler(t *tracker.Tracker, sessions func() int) *StatsHandler {
	return &StatsHandler{tracker: t, sessions: sessions}
}

// SetChecks records the latest probe results.
func (h *StatsHandler) SetChecks(results []probe.Result) {
	reports := make([]probe.Report, 0, len(results))
	for _, r := range results {
		reports = append(reports, r.Report())
	}
	h.mu.Lock()
	h.checks = reports
	h.mu.Unlock()
}

type ProviderStatsDTO struct {
	CacheHits       int64 `json:"cache_hits"`
	CacheMisses     int64 `json:"cache_misses"`
	APISuccess      int64 `json:"api_success"`
	APIFailures     int64 `json:"api_errors"`
	NetworkFailures int64 `json:"network_errors"`
	StatusFailures  int64 `json:"status_errors"`
	DecodeFailures  int64 `json:"decode_errors"`
	HitRate         int64 `json:"hit_rate"`
}

type StatsResponse struct {
	ActiveSessions int                         `json:"active_sessions"`
	Providers      map[string]ProviderStatsDTO `json:"providers"`
	Checks         []probe.Report              `json:"checks"`
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snapshot := h.tracker.Snapshot()

	resp := StatsResponse{
		Providers: make(map[string]ProviderStatsDTO, len(snapshot)),
		Checks:    []probe.Report{},
	}
	if h.sessions != nil {
		resp.ActiveSessions = h.sessions()
	}

	for provider, stats := range snapshot {
		totalCache := stats.CacheHits + stats.CacheMisses
		hitRate := int64(0)
		if totalCache > 0 {
			hitRate = (stats.CacheHits * 100) / totalCache
		}
		resp.Providers[provider] = ProviderStatsDTO{
			CacheHits:       stats.CacheHits,
			CacheMisses:     stats.CacheMisses,
			APISuccess:      stats.APISuccess,
			APIFailures:     stats.APIFailures,
			NetworkFailures: stats.NetworkFailures,
			StatusFailures:  stats.StatusFailures,
			DecodeFailures:  stats.DecodeFailures,
			HitRate:         hitRate,
		}
	}

	h.mu.RLock()
	resp.Checks = append(resp.Checks, h.checks...)
	h.mu.RUnlock()
	sort.SliceStable(resp.Checks, func(i, j int) bool { return resp.Checks[i].Name < resp.Checks[j].Name })

	writeJSON(w, http.StatusOK, resp)
}
