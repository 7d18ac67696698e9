package backend

import (
	"encoding/json"
	"fmt"
	"math"

	"saferoute/pkg/model"
)

// wireResult accepts both score naming conventions the backend has shipped.
// Pointers distinguish an absent or null field from a zero value.
type wireResult struct {
	SafetyScore      *float64 `json:"safety_score"`
	SafetyScoreCamel *float64 `json:"safetyScore"`
	Narrative        *string  `json:"narrative"`
}

// DecodeResult normalizes a success body into an AnalysisResult.
// Every decode failure is reported as an Unknown ErrorInfo without a status.
func DecodeResult(body []byte, requireNarrative bool) (*model.AnalysisResult, error) {
	var w wireResult
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, model.UnknownError(fmt.Sprintf("Unreadable response from the safety analysis service: %v", err))
	}

	score := w.SafetyScore
	if score == nil {
		score = w.SafetyScoreCamel
	}
	if score == nil {
		return nil, model.UnknownError("Response did not include a safety score")
	}
	if math.IsNaN(*score) || *score < 0 || *score > 100 {
		return nil, model.UnknownError(fmt.Sprintf("Safety score %v is outside 0-100", *score))
	}

	res := &model.AnalysisResult{SafetyScore: *score}
	if w.Narrative != nil {
		res.Narrative = *w.Narrative
	}
	if requireNarrative && !res.HasNarrative() {
		return nil, model.UnknownError("Response did not include a narrative")
	}
	return res, nil
}
