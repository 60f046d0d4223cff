package matchclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OutcomeKind is the typed classification of one mark-by-face attempt.
// The backend only speaks message strings; classification happens here in
// exactly one place so the scheduler never touches substrings.
type OutcomeKind int

const (
	KindMatched OutcomeKind = iota
	KindAlreadyMarked
	KindNoMatch
	KindNoFace
	KindNoActiveLecture
	KindTransportError
	KindFailure
)

// String names the kind for logs and metrics labels.
func (k OutcomeKind) String() string {
	switch k {
	case KindMatched:
		return "matched"
	case KindAlreadyMarked:
		return "already_marked"
	case KindNoMatch:
		return "no_match"
	case KindNoFace:
		return "no_face"
	case KindNoActiveLecture:
		return "no_active_lecture"
	case KindTransportError:
		return "transport_error"
	default:
		return "failure"
	}
}

// Result is one attempt's outcome. Name and RollNo are set on a match.
type Result struct {
	Kind    OutcomeKind
	Name    string
	RollNo  string
	Message string
}

// Client calls the face match service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. With skip set, Mark returns a canned match so the
// rest of the pipeline runs without the service.
func New(baseURL string, skip bool, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Mark submits one frame (base64 data URL) for matching and marking.
// Transport and decode failures come back as KindTransportError with a nil
// error: the capture loop treats every outcome uniformly and never aborts.
func (c *Client) Mark(ctx context.Context, image string) Result {
	if c.Skip {
		return Result{
			Kind:    KindMatched,
			Name:    "Mock Student",
			RollNo:  "MOCK-001",
			Message: "Attendance marked for Mock Student (Roll: MOCK-001)",
		}
	}
	if image == "" {
		return Result{Kind: KindNoFace, Message: "no image captured"}
	}

	body, _ := json.Marshal(map[string]string{"image": image})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/mark-attendance", bytes.NewReader(body))
	if err != nil {
		return Result{Kind: KindTransportError, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Result{Kind: KindTransportError, Message: fmt.Sprintf("match service request failed: %v", err)}
	}
	defer resp.Body.Close()

	var out struct {
		Success bool   `json:"success"`
		Name    string `json:"name"`
		RollNo  string `json:"rollNo"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return Result{Kind: KindTransportError, Message: fmt.Sprintf("failed to decode response: %v", err)}
	}

	if resp.StatusCode < 300 && (out.Success || out.Name != "" || out.RollNo != "") {
		// A 200 whose message says "already marked present" is a match too;
		// Classify keeps the distinction for display purposes.
		kind := Classify(out.Message)
		if kind == KindFailure || kind == KindNoMatch {
			kind = KindMatched
		}
		return Result{Kind: kind, Name: out.Name, RollNo: out.RollNo, Message: out.Message}
	}

	return Result{Kind: Classify(out.Message), Message: out.Message}
}

// Classify maps a rejection message to a kind. Precedence matters: the
// already-marked wording wins over everything else.
func Classify(message string) OutcomeKind {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "already marked present"):
		return KindAlreadyMarked
	case strings.Contains(lower, "no matching student found"):
		return KindNoMatch
	case strings.Contains(lower, "face not detected"):
		return KindNoFace
	case strings.Contains(lower, "no active lecture"):
		return KindNoActiveLecture
	default:
		return KindFailure
	}
}

// Enroll registers a student's face images with the match service.
func (c *Client) Enroll(ctx context.Context, rollNo, name string, imageURLs []string) error {
	if c.Skip {
		return nil
	}

	body, _ := json.Marshal(map[string]any{
		"rollNo": rollNo,
		"name":   name,
		"images": imageURLs,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/enroll", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("match service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("match service error %s: %s", resp.Status, string(bodyBytes))
	}
	return nil
}

// Health checks if the match service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("match service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("match service unhealthy: %s", resp.Status)
	}
	return nil
}
