// Package edgetts synthesizes speech through the Microsoft Edge read-aloud
// websocket service.
package edgetts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"saferoute/pkg/model"
	"saferoute/pkg/story"
	"saferoute/pkg/tracker"
	"saferoute/pkg/tts"
)

// Name is the engine identifier used in config and stats.
const Name = "edge-tts"

// Format is the MIME type of the produced audio.
const Format = "audio/mpeg"

// Options holds the connection parameters of the service.
type Options struct {
	BaseURL            string
	Origin             string
	UserAgent          string
	TrustedClientToken string
	SecMSGecVersion    string
}

// OptionsFromEnv reads the EDGE_TTS_* environment variables.
func OptionsFromEnv() Options {
	return Options{
		BaseURL:            os.Getenv("EDGE_TTS_BASE_URL"),
		Origin:             os.Getenv("EDGE_TTS_ORIGIN"),
		UserAgent:          os.Getenv("EDGE_TTS_USER_AGENT"),
		TrustedClientToken: os.Getenv("EDGE_TTS_TRUSTED_CLIENT_TOKEN"),
		SecMSGecVersion:    os.Getenv("EDGE_TTS_SEC_MS_GEC_VERSION"),
	}
}

// Validate reports the first missing setting.
func (o Options) Validate() error {
	for _, f := range []struct{ name, val string }{
		{"EDGE_TTS_BASE_URL", o.BaseURL},
		{"EDGE_TTS_ORIGIN", o.Origin},
		{"EDGE_TTS_USER_AGENT", o.UserAgent},
		{"EDGE_TTS_TRUSTED_CLIENT_TOKEN", o.TrustedClientToken},
		{"EDGE_TTS_SEC_MS_GEC_VERSION", o.SecMSGecVersion},
	} {
		if f.val == "" {
			return tts.NewFatalError(0, fmt.Sprintf("%s is required", f.name))
		}
	}
	return nil
}

// Provider implements tts.Provider for Microsoft Edge TTS.
type Provider struct {
	opts    Options
	tracker *tracker.Tracker
	dialer  *websocket.Dialer
}

// NewProvider creates a new Edge TTS provider.
func NewProvider(opts Options, t *tracker.Tracker) *Provider {
	return &Provider{opts: opts, tracker: t, dialer: websocket.DefaultDialer}
}

func (p *Provider) Name() string { return Name }

// Synthesize renders text to MP3 in memory.
func (p *Provider) Synthesize(ctx context.Context, text, voice string) (*story.Audio, error) {
	if voice == "" {
		return nil, fmt.Errorf("voice ID is required")
	}
	if err := p.opts.Validate(); err != nil {
		return nil, err
	}

	text = tts.SpeakableText(text)

	conn, err := p.dial(ctx)
	if err != nil {
		p.trackFailure()
		return nil, err
	}
	defer conn.Close()

	if err := p.sendConfig(conn); err != nil {
		p.trackFailure()
		return nil, err
	}

	requestID := strings.ReplaceAll(uuid.New().String(), "-", "")
	if err := p.sendSSML(conn, voice, text, requestID); err != nil {
		p.trackFailure()
		return nil, err
	}

	var buf bytes.Buffer
	if err := p.consumeResponses(ctx, conn, &buf); err != nil {
		p.trackFailure()
		tts.Log(Name, text, 0, err)
		return nil, err
	}

	if p.tracker != nil {
		p.tracker.TrackAPISuccess(Name)
	}
	tts.Log(Name, text, buf.Len(), nil)
	return &story.Audio{Data: buf.Bytes(), Format: Format}, nil
}

func (p *Provider) trackFailure() {
	if p.tracker != nil {
		p.tracker.TrackAPIFailure(Name, model.ErrorNetwork)
	}
}

func (p *Provider) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Origin", p.opts.Origin)
	header.Set("Pragma", "no-cache")
	header.Set("Cache-Control", "no-cache")
	header.Set("User-Agent", p.opts.UserAgent)
	header.Set("Accept-Language", "en-US,en;q=0.9")

	muid := strings.ReplaceAll(uuid.New().String(), "-", "")
	header.Set("Cookie", fmt.Sprintf("muid=%s", muid))

	token := generateSecMSGec(p.opts.TrustedClientToken, time.Now())
	url := fmt.Sprintf("%s?TrustedClientToken=%s&Sec-MS-GEC=%s&Sec-MS-GEC-Version=%s",
		p.opts.BaseURL, p.opts.TrustedClientToken, token, p.opts.SecMSGecVersion)

	var dialErr error
	for i := 0; i < 3; i++ {
		conn, resp, err := p.dialer.DialContext(ctx, url, header)
		if err == nil {
			return conn, nil
		}
		dialErr = err
		if resp != nil {
			slog.Warn("EdgeTTS: handshake failure", "status", resp.Status, "status_code", resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return nil, tts.NewFatalError(resp.StatusCode, fmt.Sprintf("handshake rejected: %s", resp.Status))
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("websocket dial failed after retries: %w", dialErr)
}

// generateSecMSGec derives the time-bucketed request signature: Windows file
// time ticks rounded down to five minutes, concatenated with the client token.
func generateSecMSGec(trustedClientToken string, now time.Time) string {
	ticks := now.Unix() + 11644473600
	ticks -= ticks % 300
	strToHash := fmt.Sprintf("%d0000000%s", ticks, trustedClientToken)

	hash := sha256.Sum256([]byte(strToHash))
	return strings.ToUpper(hex.EncodeToString(hash[:]))
}

func (p *Provider) sendConfig(conn *websocket.Conn) error {
	configMsg := "Content-Type:application/json; charset=utf-8\r\nPath:speech.config\r\n\r\n{\"context\":{\"synthesis\":{\"audio\":{\"metadataoptions\":{\"sentenceBoundaryEnabled\":\"false\",\"wordBoundaryEnabled\":\"false\"},\"outputFormat\":\"audio-24khz-48kbitrate-mono-mp3\"}}}}"
	if err := conn.WriteMessage(websocket.TextMessage, []byte(configMsg)); err != nil {
		return fmt.Errorf("failed to send speech.config: %w", err)
	}
	return nil
}

func (p *Provider) sendSSML(conn *websocket.Conn, voice, text, requestID string) error {
	ssml := buildSSML(voice, text)
	ssmlMsg := fmt.Sprintf("X-RequestId:%s\r\nContent-Type:application/ssml+xml\r\nPath:ssml\r\n\r\n%s", requestID, ssml)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(ssmlMsg)); err != nil {
		return fmt.Errorf("failed to send ssml: %w", err)
	}
	return nil
}

func buildSSML(voice, text string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&apos;",
	)
	escapedText := replacer.Replace(text)
	return fmt.Sprintf("<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='en-US'><voice name='%s'>%s</voice></speak>", voice, escapedText)
}

func (p *Provider) consumeResponses(ctx context.Context, conn *websocket.Conn, buf *bytes.Buffer) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read message failed: %w", err)
		}

		switch msgType {
		case websocket.TextMessage:
			if strings.Contains(string(data), "Path:turn.end") {
				if buf.Len() == 0 {
					return fmt.Errorf("service ended the turn without audio")
				}
				return nil
			}
		case websocket.BinaryMessage:
			handleBinaryMessage(data, buf)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// handleBinaryMessage appends the audio payload that follows the
// length-prefixed header. Malformed frames are skipped.
func handleBinaryMessage(data []byte, buf *bytes.Buffer) {
	if len(data) < 2 {
		return
	}
	headerLength := int(uint16(data[0])<<8 | uint16(data[1]))
	if len(data) < 2+headerLength {
		return
	}
	buf.Write(data[2+headerLength:])
}

// Voices returns a list of high-quality neural voices.
func (p *Provider) Voices(ctx context.Context) ([]tts.Voice, error) {
	return []tts.Voice{
		{ID: "en-US-AvaMultilingualNeural", Name: "Ava (Multilingual)", Language: "en-US", IsNeural: true},
		{ID: "en-US-AndrewMultilingualNeural", Name: "Andrew (Multilingual)", Language: "en-US", IsNeural: true},
		{ID: "en-US-GuyNeural", Name: "Guy (US)", Language: "en-US", IsNeural: true},
		{ID: "en-GB-SoniaNeural", Name: "Sonia (UK)", Language: "en-GB", IsNeural: true},
	}, nil
}
