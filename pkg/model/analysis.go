package model

import "fmt"

// Weather describes the driving conditions sent to the analysis backend.
type Weather string

const (
	WeatherClear  Weather = "Clear"
	WeatherCloudy Weather = "Cloudy"
	WeatherRain   Weather = "Rain"
	WeatherSnow   Weather = "Snow"
	WeatherFog    Weather = "Fog"
)

// Valid reports whether w is a known weather condition.
func (w Weather) Valid() bool {
	switch w {
	case WeatherClear, WeatherCloudy, WeatherRain, WeatherSnow, WeatherFog:
		return true
	}
	return false
}

// Traffic describes the expected traffic density.
type Traffic string

const (
	TrafficLight    Traffic = "Light"
	TrafficModerate Traffic = "Moderate"
	TrafficHeavy    Traffic = "Heavy"
	TrafficGridlock Traffic = "Gridlock"
)

// Valid reports whether t is a known traffic level.
func (t Traffic) Valid() bool {
	switch t {
	case TrafficLight, TrafficModerate, TrafficHeavy, TrafficGridlock:
		return true
	}
	return false
}

// Conditions are the environment values combined with a route to form a request.
type Conditions struct {
	Speed   float64
	Weather Weather
	Traffic Traffic
}

// DefaultConditions mirrors the values the dashboard always sent.
func DefaultConditions() Conditions {
	return Conditions{
		Speed:   55.0,
		Weather: WeatherClear,
		Traffic: TrafficModerate,
	}
}

// Validate rejects conditions the backend would not understand.
func (c Conditions) Validate() error {
	if c.Speed <= 0 {
		return fmt.Errorf("speed must be positive, got %v", c.Speed)
	}
	if !c.Weather.Valid() {
		return fmt.Errorf("unknown weather %q", c.Weather)
	}
	if !c.Traffic.Valid() {
		return fmt.Errorf("unknown traffic %q", c.Traffic)
	}
	return nil
}

// AnalysisRequest is the payload POSTed to the safety analysis backend.
type AnalysisRequest struct {
	Origin      string  `json:"origin"`
	Destination string  `json:"destination"`
	Speed       float64 `json:"speed"`
	Weather     Weather `json:"weather"`
	Traffic     Traffic `json:"traffic"`
}

// NewAnalysisRequest builds the request for a route. Same inputs, same request.
func NewAnalysisRequest(route *RouteDetails, c Conditions) *AnalysisRequest {
	return &AnalysisRequest{
		Origin:      route.StartAddress,
		Destination: route.EndAddress,
		Speed:       c.Speed,
		Weather:     c.Weather,
		Traffic:     c.Traffic,
	}
}

// AnalysisResult is the decoded backend answer. An empty Narrative means the
// backend sent none.
type AnalysisResult struct {
	SafetyScore float64 `json:"safety_score"`
	Narrative   string  `json:"narrative,omitempty"`
}

// HasNarrative reports whether a story can be built from the result.
func (r *AnalysisResult) HasNarrative() bool {
	return r != nil && r.Narrative != ""
}
