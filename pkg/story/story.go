// Package story projects an analysis result into an ordered sequence of
// playable segments.
package story

import (
	"encoding/json"
	"sync/atomic"

	"saferoute/pkg/model"
)

// OutlineTitle is the single outline entry of a narrative story.
const OutlineTitle = "Safety Analysis"

// Audio is a synthesized audio buffer. The bytes are opaque to the story.
type Audio struct {
	Data   []byte
	Format string
}

// Segment is one unit of narrative text with an independently populated
// audio slot.
type Segment struct {
	index int
	text  string
	audio atomic.Pointer[Audio]
}

func (s *Segment) Index() int   { return s.index }
func (s *Segment) Text() string { return s.text }

// Audio returns the synthesized audio, or false when it is not ready yet.
func (s *Segment) Audio() (*Audio, bool) {
	a := s.audio.Load()
	return a, a != nil
}

// SetAudio fills the audio slot once. Later calls are ignored and return false.
func (s *Segment) SetAudio(a *Audio) bool {
	if a == nil {
		return false
	}
	return s.audio.CompareAndSwap(nil, a)
}

// Story is immutable once built; a new result produces a new Story.
type Story struct {
	totalSegmentsEstimate int
	outline               []string
	segments              []*Segment
}

// Build returns nil when the result carries no narrative.
func Build(result *model.AnalysisResult) *Story {
	if result == nil || !result.HasNarrative() {
		return nil
	}
	return &Story{
		totalSegmentsEstimate: 1,
		outline:               []string{OutlineTitle},
		segments: []*Segment{
			{index: 1, text: result.Narrative},
		},
	}
}

func (s *Story) TotalSegmentsEstimate() int { return s.totalSegmentsEstimate }

// Outline returns a copy of the outline.
func (s *Story) Outline() []string {
	out := make([]string, len(s.outline))
	copy(out, s.outline)
	return out
}

// Len is the number of segments actually present, which may be lower than the estimate.
func (s *Story) Len() int { return len(s.segments) }

// Segments returns the segments in index order. The slice is a copy; the
// segments are shared so audio written by one reader is seen by all.
func (s *Story) Segments() []*Segment {
	out := make([]*Segment, len(s.segments))
	copy(out, s.segments)
	return out
}

// Segment looks up a segment by its 1-based index.
func (s *Story) Segment(index int) (*Segment, bool) {
	if index < 1 || index > len(s.segments) {
		return nil, false
	}
	return s.segments[index-1], true
}

type segmentJSON struct {
	Index    int    `json:"index"`
	Text     string `json:"text"`
	HasAudio bool   `json:"has_audio"`
}

type storyJSON struct {
	TotalSegmentsEstimate int           `json:"total_segments_estimate"`
	Outline               []string      `json:"outline"`
	Segments              []segmentJSON `json:"segments"`
}

// MarshalJSON encodes the story without audio bytes; clients fetch those per segment.
func (s *Story) MarshalJSON() ([]byte, error) {
	v := storyJSON{
		TotalSegmentsEstimate: s.totalSegmentsEstimate,
		Outline:               s.outline,
		Segments:              make([]segmentJSON, 0, len(s.segments)),
	}
	for _, seg := range s.segments {
		_, ok := seg.Audio()
		v.Segments = append(v.Segments, segmentJSON{Index: seg.index, Text: seg.text, HasAudio: ok})
	}
	return json.Marshal(v)
}
