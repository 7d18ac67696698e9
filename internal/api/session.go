package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"saferoute/pkg/apisession"
	"saferoute/pkg/auth"
	"saferoute/pkg/model"
	"saferoute/pkg/session"
)

// SessionHandler serves the per-credential session state machine.
type SessionHandler struct {
	provider auth.Provider
	sessions *apisession.Store[session.Machine]
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(p auth.Provider, sessions *apisession.Store[session.Machine]) *SessionHandler {
	return &SessionHandler{provider: p, sessions: sessions}
}

// machine resolves the caller's session, writing a 401 when the credential
// is missing or unknown. allowQuery also accepts ?token= for clients that
// cannot set headers, such as browser websockets.
func (h *SessionHandler) machine(w http.ResponseWriter, r *http.Request, allowQuery bool) (*session.Machine, bool) {
	token, err := auth.ExtractBearer(r)
	if err != nil && allowQuery {
		if q := strings.TrimSpace(r.URL.Query().Get("token")); q != "" {
			token, err = q, nil
		}
	}
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return nil, false
	}
	if _, err := h.provider.Validate(r.Context(), token); err != nil {
		writeError(w, http.StatusUnauthorized, auth.CleanMessage(err))
		return nil, false
	}
	return h.sessions.Get(token), true
}

// HandleGet returns the current snapshot.
// GET /api/session
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r, false)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, m.Snapshot())
}

// routeRequest is the wire form of a resolved route. Path is an optional
// GeoJSON LineString geometry.
type routeRequest struct {
	StartAddress   string          `json:"start_address"`
	EndAddress     string          `json:"end_address"`
	DistanceMeters float64         `json:"distance_m,omitempty"`
	Path           json.RawMessage `json:"path,omitempty"`
}

func (rr *routeRequest) toRoute() (*model.RouteDetails, error) {
	route := &model.RouteDetails{
		StartAddress:   rr.StartAddress,
		EndAddress:     rr.EndAddress,
		DistanceMeters: rr.DistanceMeters,
	}
	if len(rr.Path) > 0 && string(rr.Path) != "null" {
		g, err := geojson.UnmarshalGeometry(rr.Path)
		if err != nil {
			return nil, fmt.Errorf("invalid path: %w", err)
		}
		ls, ok := g.Geometry().(orb.LineString)
		if !ok {
			return nil, fmt.Errorf("path must be a LineString, got %s", g.Geometry().GeoJSONType())
		}
		route.Path = ls
	}
	if err := route.Validate(); err != nil {
		return nil, err
	}
	route.DistanceMeters = route.Distance()
	return route, nil
}

// HandleSubmitRoute confirms a route and starts the analysis.
// POST /api/session/route
func (h *SessionHandler) HandleSubmitRoute(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r, false)
	if !ok {
		return
	}

	var rr routeRequest
	if err := decodeBody(w, r, &rr); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	route, err := rr.toRoute()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !m.SubmitRoute(route) {
		writeError(w, http.StatusConflict, "an analysis is already in progress")
		return
	}
	writeJSON(w, http.StatusAccepted, m.Snapshot())
}

// HandleDismiss clears a failure. Outside the Failed phase it changes nothing.
// POST /api/session/dismiss
func (h *SessionHandler) HandleDismiss(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r, false)
	if !ok {
		return
	}
	m.DismissError()
	writeJSON(w, http.StatusOK, m.Snapshot())
}

// HandleReset returns the session to Planning.
// POST /api/session/reset
func (h *SessionHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r, false)
	if !ok {
		return
	}
	m.Reset()
	writeJSON(w, http.StatusOK, m.Snapshot())
}

// HandleSegmentAudio serves a synthesized segment. 404 means the segment
// does not exist or its audio is not ready yet.
// GET /api/session/story/segments/{index}/audio
func (h *SessionHandler) HandleSegmentAudio(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r, true)
	if !ok {
		return
	}

	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid segment index")
		return
	}
	st := m.CurrentStory()
	if st == nil {
		writeError(w, http.StatusNotFound, "no story available")
		return
	}
	seg, ok := st.Segment(idx)
	if !ok {
		writeError(w, http.StatusNotFound, "segment not found")
		return
	}
	audio, ok := seg.Audio()
	if !ok {
		writeError(w, http.StatusNotFound, "audio not ready")
		return
	}

	w.Header().Set("Content-Type", audio.Format)
	w.Header().Set("Content-Length", strconv.Itoa(len(audio.Data)))
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(audio.Data)
}
