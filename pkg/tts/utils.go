package tts

import (
	"regexp"
	"strings"
)

var (
	markdownHeading  = regexp.MustCompile(`(?m)^\s*#{1,6}\s*`)
	markdownEmphasis = regexp.MustCompile(`[*_]{1,3}([^*_]+)[*_]{1,3}`)
	markdownBullet   = regexp.MustCompile(`(?m)^\s*[-*•]\s+`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
)

// SpeakableText strips the markdown decoration narratives often carry so the
// engine does not read symbols aloud, and collapses whitespace.
func SpeakableText(narrative string) string {
	s := markdownHeading.ReplaceAllString(narrative, "")
	s = markdownBullet.ReplaceAllString(s, "")
	s = markdownEmphasis.ReplaceAllString(s, "$1")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
