// Package identity is the client of the remote identity service that stores
// and matches face records.
package identity

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type Mode string

const (
	ModeRegistration Mode = "registration"
	ModeIdentify     Mode = "identify"
	ModeVerify       Mode = "verify"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeRegistration, ModeIdentify, ModeVerify:
		return true
	}
	return false
}

var (
	ErrAlreadyExists = errors.New("identity already exists")
	ErrNoMatch       = errors.New("no matching identity found")
)

// TransportError covers every way the service call itself can fail. It is
// never retried by the client.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("identity service returned %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("identity service unreachable: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type Event struct {
	Mode              Mode
	ClaimedExternalID string
	ListID            string
	BestShot          []byte
	Metadata          map[string]string
}

// Face is a face record known to the identity service.
type Face struct {
	FaceID     string  `json:"face_id"`
	ExternalID string  `json:"external_id"`
	Similarity float64 `json:"similarity,omitempty"`
}

// EventResponse holds zero or one matched or created record.
type EventResponse struct {
	EventID string `json:"event_id"`
	Face    *Face  `json:"face,omitempty"`
	Created bool   `json:"created"`
}

type eventRequest struct {
	RequestID  string            `json:"request_id"`
	Mode       Mode              `json:"mode"`
	ExternalID string            `json:"external_id,omitempty"`
	ListID     string            `json:"list_id,omitempty"`
	Image      string            `json:"image"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type Config struct {
	BaseURL  string `json:"base_url"`
	APIToken string `json:"api_token,omitempty"`
}

type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
}

func NewClient(config Config) *Client {
	return &Client{
		baseURL:  config.BaseURL,
		apiToken: config.APIToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SubmitEvent sends one best shot to the service. A 409 during
// registration means the face is already on record.
func (c *Client) SubmitEvent(ctx context.Context, ev Event) (*EventResponse, error) {
	requestID := uuid.NewString()
	payload := eventRequest{
		RequestID:  requestID,
		Mode:       ev.Mode,
		ExternalID: ev.ClaimedExternalID,
		ListID:     ev.ListID,
		Image:      base64.StdEncoding.EncodeToString(ev.BestShot),
		Metadata:   ev.Metadata,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/events", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create event request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	slog.Debug("Submitting identity event", "mode", ev.Mode, "request_id", requestID)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict && ev.Mode == ModeRegistration:
		return nil, ErrAlreadyExists
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: errors.New(string(msg))}
	}

	var out EventResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode event response: %w", err)}
	}
	slog.Debug("Identity event accepted", "event_id", out.EventID, "has_face", out.Face != nil, "created", out.Created)
	return &out, nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/healthcheck", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &TransportError{StatusCode: resp.StatusCode, Err: errors.New("health check failed")}
	}
	return nil
}

// Resolve applies the mode check to a service response and returns the
// identity the flow ends with.
func Resolve(ev Event, resp *EventResponse) (*Face, error) {
	if resp == nil || resp.Face == nil {
		if ev.Mode == ModeRegistration {
			return nil, errors.New("registration returned no record")
		}
		return nil, ErrNoMatch
	}

	switch ev.Mode {
	case ModeRegistration:
		if !resp.Created {
			return nil, ErrAlreadyExists
		}
	case ModeIdentify:
	case ModeVerify:
		if resp.Face.ExternalID != ev.ClaimedExternalID {
			return nil, fmt.Errorf("matched %q instead of %q: %w", resp.Face.ExternalID, ev.ClaimedExternalID, ErrNoMatch)
		}
	default:
		return nil, fmt.Errorf("unknown mode %q", ev.Mode)
	}

	face := *resp.Face
	return &face, nil
}
