// Package voicer fills story segment audio slots in the background.
package voicer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"saferoute/pkg/story"
	"saferoute/pkg/tts"
)

// segmentTimeout bounds the synthesis of a single segment.
const segmentTimeout = 60 * time.Second

// Voicer synthesizes segments with bounded concurrency. Each segment is
// independent: a failure leaves that slot empty and touches nothing else.
type Voicer struct {
	provider tts.Provider
	voice    string
	sem      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Voicer running at most maxConcurrent syntheses at once.
func New(p tts.Provider, voice string, maxConcurrent int) *Voicer {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Voicer{
		provider: p,
		voice:    voice,
		sem:      make(chan struct{}, maxConcurrent),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Voice schedules every segment without audio and returns immediately.
// A nil Voicer does nothing, so it can be wired unconditionally.
func (v *Voicer) Voice(st *story.Story) {
	if v == nil || st == nil {
		return
	}
	for _, seg := range st.Segments() {
		if _, ok := seg.Audio(); ok {
			continue
		}
		v.wg.Add(1)
		go v.voiceSegment(seg)
	}
}

func (v *Voicer) voiceSegment(seg *story.Segment) {
	defer v.wg.Done()

	select {
	case v.sem <- struct{}{}:
	case <-v.ctx.Done():
		return
	}
	defer func() { <-v.sem }()

	ctx, cancel := context.WithTimeout(v.ctx, segmentTimeout)
	defer cancel()

	start := time.Now()
	audio, err := v.provider.Synthesize(ctx, seg.Text(), v.voice)
	if err == nil {
		err = tts.VerifyAudio(audio)
	}
	if err != nil {
		slog.Warn("Segment synthesis failed", "provider", v.provider.Name(), "segment", seg.Index(), "fatal", tts.IsFatalError(err), "error", err)
		return
	}
	seg.SetAudio(audio)
	slog.Debug("Segment voiced", "provider", v.provider.Name(), "segment", seg.Index(), "bytes", len(audio.Data), "elapsed", time.Since(start))
}

// Wait blocks until all scheduled segments are done.
func (v *Voicer) Wait() {
	if v == nil {
		return
	}
	v.wg.Wait()
}

// Close cancels pending work and waits for running syntheses to return.
func (v *Voicer) Close() {
	if v == nil {
		return
	}
	v.cancel()
	v.wg.Wait()
}
