// Package camera exposes a live camera as an on-demand single-frame
// snapshot capability. Webcam servers (IP cameras, motion, ustreamer)
// all offer a still-frame URL, which keeps the daemon free of device code.
package camera

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Frame is one captured image. Ephemeral: produced per attempt, never stored.
type Frame struct {
	Data        []byte
	ContentType string
	CapturedAt  time.Time
}

// DataURL encodes the frame the way the match service accepts images.
func (f Frame) DataURL() string {
	if len(f.Data) == 0 {
		return ""
	}
	ct := f.ContentType
	if ct == "" {
		ct = "image/jpeg"
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
}

// Source produces frames on demand.
type Source interface {
	Snapshot(ctx context.Context) (Frame, error)
}

// HTTPSource grabs stills from a snapshot URL.
type HTTPSource struct {
	URL  string
	HTTP *http.Client
}

// NewHTTPSource creates a source with a short per-grab timeout.
func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{
		URL:  url,
		HTTP: &http.Client{Timeout: 5 * time.Second},
	}
}

// Snapshot fetches one still frame.
func (s *HTTPSource) Snapshot(ctx context.Context) (Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return Frame{}, err
	}

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return Frame{}, fmt.Errorf("camera snapshot failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return Frame{}, fmt.Errorf("camera snapshot error: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return Frame{}, fmt.Errorf("camera snapshot read failed: %w", err)
	}
	if len(data) == 0 {
		return Frame{}, fmt.Errorf("camera returned empty frame")
	}

	return Frame{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
		CapturedAt:  time.Now().UTC(),
	}, nil
}

// StaticSource returns a fixed frame; dev companion to the match client's
// skip mode.
type StaticSource struct {
	Frame Frame
}

// Snapshot returns the fixed frame with a fresh timestamp.
func (s *StaticSource) Snapshot(ctx context.Context) (Frame, error) {
	f := s.Frame
	if len(f.Data) == 0 {
		f.Data = []byte{0xff, 0xd8, 0xff, 0xd9} // smallest JPEG-shaped payload
		f.ContentType = "image/jpeg"
	}
	f.CapturedAt = time.Now().UTC()
	return f, nil
}
