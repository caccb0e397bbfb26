// Package meeting provisions video-consultation rooms for remote bookings.
package meeting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Meeting holds the links returned by the provider.
type Meeting struct {
	JoinURL string `json:"join_url"`
	HostURL string `json:"start_url"`
}

// Provisioner creates a meeting room for a consultation starting at start.
type Provisioner interface {
	CreateMeeting(ctx context.Context, topic string, start time.Time) (Meeting, error)
}

// HTTPProvisioner calls a Zoom-style REST API, authenticating with a
// short-lived HS256 token signed by the API secret.
type HTTPProvisioner struct {
	baseURL    string
	apiKey     string
	apiSecret  []byte
	httpClient *http.Client
	now        func() time.Time
}

// NewHTTPProvisioner creates an HTTPProvisioner for baseURL.
func NewHTTPProvisioner(baseURL, apiKey, apiSecret string) *HTTPProvisioner {
	return &HTTPProvisioner{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiSecret:  []byte(apiSecret),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

type createMeetingRequest struct {
	Topic     string `json:"topic"`
	Type      int    `json:"type"`
	StartTime string `json:"start_time"`
	Timezone  string `json:"timezone"`
}

func (p *HTTPProvisioner) token() (string, error) {
	now := p.now()
	claims := jwt.RegisteredClaims{
		Issuer:    p.apiKey,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.apiSecret)
}

func (p *HTTPProvisioner) CreateMeeting(ctx context.Context, topic string, start time.Time) (Meeting, error) {
	tok, err := p.token()
	if err != nil {
		return Meeting{}, fmt.Errorf("sign meeting api token: %w", err)
	}

	payload, err := json.Marshal(createMeetingRequest{
		Topic:     topic,
		Type:      2, // scheduled
		StartTime: start.UTC().Format("2006-01-02T15:04:05Z"),
		Timezone:  "UTC",
	})
	if err != nil {
		return Meeting{}, fmt.Errorf("marshal meeting request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/users/me/meetings", bytes.NewReader(payload))
	if err != nil {
		return Meeting{}, fmt.Errorf("build meeting request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Meeting{}, fmt.Errorf("create meeting: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Meeting{}, fmt.Errorf("create meeting: provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var m Meeting
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return Meeting{}, fmt.Errorf("decode meeting response: %w", err)
	}
	if m.JoinURL == "" || m.HostURL == "" {
		return Meeting{}, fmt.Errorf("create meeting: provider response missing links")
	}
	return m, nil
}

// MockProvisioner records calls and returns deterministic links.
type MockProvisioner struct {
	mu    sync.Mutex
	Calls []string
	Err   error
}

func (m *MockProvisioner) CreateMeeting(_ context.Context, topic string, start time.Time) (Meeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return Meeting{}, m.Err
	}
	m.Calls = append(m.Calls, topic)
	id := len(m.Calls)
	return Meeting{
		JoinURL: fmt.Sprintf("https://meet.local/j/%d", id),
		HostURL: fmt.Sprintf("https://meet.local/s/%d?start=%d", id, start.Unix()),
	}, nil
}

// CallCount returns the number of successful CreateMeeting calls.
func (m *MockProvisioner) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
