// Package tts defines the speech synthesis contract used to fill story
// segment audio slots.
package tts

import (
	"context"
	"errors"
	"fmt"

	"saferoute/pkg/story"
)

const (
	// MinAudioSize is the minimum size of a synthesized buffer (1KB).
	// Anything smaller is likely a failed synthesis attempt.
	MinAudioSize = 1024
)

// Provider defines the interface for Text-To-Speech engines.
type Provider interface {
	// Name identifies the engine in logs and stats.
	Name() string

	// Synthesize renders text with the given voice into an in-memory buffer.
	Synthesize(ctx context.Context, text, voice string) (*story.Audio, error)

	// Voices returns the voices the engine offers.
	Voices(ctx context.Context) ([]Voice, error)
}

// Voice represents an available TTS voice.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	IsNeural bool   `json:"is_neural"`
}

// FatalError represents a TTS error that will not go away by retrying the
// same request, e.g. a rejected handshake or missing credentials.
type FatalError struct {
	StatusCode int
	Message    string
}

func (e *FatalError) Error() string {
	return e.Message
}

// NewFatalError creates a new FatalError with the given status code and message.
func NewFatalError(statusCode int, message string) *FatalError {
	return &FatalError{StatusCode: statusCode, Message: message}
}

// IsFatalError reports whether err is, or wraps, a FatalError.
func IsFatalError(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// VerifyAudio rejects missing or suspiciously small buffers.
func VerifyAudio(a *story.Audio) error {
	if a == nil {
		return fmt.Errorf("no audio produced")
	}
	if len(a.Data) < MinAudioSize {
		return fmt.Errorf("audio too small (%d bytes), likely failed synthesis", len(a.Data))
	}
	return nil
}
