package model

import "fmt"

// Phase is the discrete state of an analysis session.
type Phase int

const (
	// PhasePlanning is the initial state: no route selected.
	PhasePlanning Phase = iota
	// PhaseRouteConfirmed holds a route with no request in flight.
	PhaseRouteConfirmed
	// PhaseAnalyzing means a backend request is in flight.
	PhaseAnalyzing
	// PhaseReadyToPlay means a result has been received.
	PhaseReadyToPlay
	// PhaseFailed means the last request failed; recoverable by dismissal.
	PhaseFailed
)

var phaseNames = map[Phase]string{
	PhasePlanning:       "Planning",
	PhaseRouteConfirmed: "RouteConfirmed",
	PhaseAnalyzing:      "Analyzing",
	PhaseReadyToPlay:    "ReadyToPlay",
	PhaseFailed:         "Failed",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	if _, ok := phaseNames[p]; !ok {
		return nil, fmt.Errorf("invalid phase %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase name.
func (p *Phase) UnmarshalText(b []byte) error {
	for k, v := range phaseNames {
		if v == string(b) {
			*p = k
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}
