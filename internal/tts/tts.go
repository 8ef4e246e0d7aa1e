// Package tts fetches synthesized speech from an HTTP text-to-speech server.
package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/comigor/alice-go/internal/config"
	"github.com/comigor/alice-go/internal/logger"
)

var tracer = otel.Tracer("github.com/comigor/alice-go/internal/tts")

var (
	ErrNotConfigured = errors.New("tts url is not configured")
	ErrInvalidAudio  = errors.New("tts server did not return WAV audio")
)

// maxAudioBytes caps a single response.
const maxAudioBytes = 64 << 20

// Client calls GET {url}?text=... and returns the WAV body.
type Client struct {
	url        string
	httpClient *http.Client
}

func New(cfg config.TTSConfig) *Client {
	return &Client{
		url:        strings.TrimSpace(cfg.URL),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Synthesize returns the spoken rendition of text as WAV bytes.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "tts.Synthesize")
	defer span.End()
	span.SetAttributes(attribute.Int("tts.text_length", len(text)))

	data, err := c.synthesize(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("tts.audio_bytes", len(data)))
	return data, nil
}

func (c *Client) synthesize(ctx context.Context, text string) ([]byte, error) {
	if c.url == "" {
		return nil, ErrNotConfigured
	}
	u, err := url.Parse(c.url)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid tts url %q", c.url)
	}
	q := u.Query()
	q.Set("text", text)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tts server returned %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read tts audio: %w", err)
	}
	if len(data) > maxAudioBytes {
		return nil, fmt.Errorf("tts audio exceeds %d bytes", maxAudioBytes)
	}
	if !isWAV(data) {
		logger.L.Warn("unexpected tts payload", "content_type", resp.Header.Get("Content-Type"), "bytes", len(data))
		return nil, ErrInvalidAudio
	}
	return data, nil
}

// isWAV checks the RIFF/WAVE header.
func isWAV(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE"))
}
