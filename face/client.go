package face

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Regula reports liveness 0 for a confirmed live person
const livenessConfirmed = 0

// MatchResult is the raw outcome of comparing two faces. Whether the
// similarity is good enough is decided by the caller.
type MatchResult struct {
	Similarity    float64        `json:"similarity"`
	DetectedFaces []DetectedFace `json:"detected_faces,omitempty"`
}

type DetectResult struct {
	DetectedFaces []DetectedFace `json:"detected_faces"`
}

type DetectedFace struct {
	Quality    float64     `json:"quality"`
	Crop       string      `json:"crop"`
	Attributes *Attributes `json:"attributes,omitempty"`
}

type Attributes struct {
	Age     int    `json:"age,omitempty"`
	Gender  string `json:"gender,omitempty"`
	Glasses bool   `json:"glasses,omitempty"`
}

type LivenessResult struct {
	TransactionId string  `json:"transactionId"`
	Liveness      int     `json:"liveness"`
	Status        int     `json:"status"`
	Similarity    float64 `json:"similarity"`
	Tag           string  `json:"tag,omitempty"`
}

func (r *LivenessResult) Confirmed() bool {
	return r.Liveness == livenessConfirmed
}

// RegulaFaceClient talks to a Regula Face API instance.
type RegulaFaceClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewRegulaFaceClient(baseURL string) *RegulaFaceClient {
	return &RegulaFaceClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type matchImage struct {
	Type  int    `json:"type"`
	Data  string `json:"data"`
	Index int    `json:"index"`
}

// MatchFaces compares a document portrait with a live capture.
func (c *RegulaFaceClient) MatchFaces(ctx context.Context, document, live []byte) (*MatchResult, error) {
	requestBody := map[string]any{
		"images": []matchImage{
			// 1 = document printed portrait, 3 = live camera frame
			{Type: 1, Data: base64.StdEncoding.EncodeToString(document), Index: 1},
			{Type: 3, Data: base64.StdEncoding.EncodeToString(live), Index: 2},
		},
	}

	var regulaResponse struct {
		Results []struct {
			Similarity float64 `json:"similarity"`
		} `json:"results"`
		Detections []DetectedFace `json:"detections"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/match", requestBody, &regulaResponse); err != nil {
		return nil, fmt.Errorf("face match failed: %w", err)
	}

	var similarity float64
	if len(regulaResponse.Results) > 0 {
		similarity = regulaResponse.Results[0].Similarity
	}

	slog.Debug("Face match completed", "similarity", similarity, "detections", len(regulaResponse.Detections))
	return &MatchResult{Similarity: similarity, DetectedFaces: regulaResponse.Detections}, nil
}

// DetectFaces finds the faces in a single image.
func (c *RegulaFaceClient) DetectFaces(ctx context.Context, image []byte) (*DetectResult, error) {
	requestBody := map[string]any{
		"image": base64.StdEncoding.EncodeToString(image),
	}

	var regulaResponse struct {
		Results []DetectedFace `json:"results"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/detect", requestBody, &regulaResponse); err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	slog.Debug("Face detection completed", "faces", len(regulaResponse.Results))
	return &DetectResult{DetectedFaces: regulaResponse.Results}, nil
}

func (c *RegulaFaceClient) CheckLiveness(ctx context.Context, transactionId string) (*LivenessResult, error) {
	path := "/api/v2/liveness?transactionId=" + url.QueryEscape(transactionId)

	var result LivenessResult
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, fmt.Errorf("liveness check failed: %w", err)
	}

	slog.Debug("Liveness check completed", "transaction_id", transactionId, "liveness", result.Liveness, "status", result.Status)
	return &result, nil
}

// LivenessConfirmed adapts CheckLiveness for capture.WithLiveness.
func (c *RegulaFaceClient) LivenessConfirmed(ctx context.Context, transactionId string) (bool, error) {
	result, err := c.CheckLiveness(ctx, transactionId)
	if err != nil {
		return false, err
	}
	return result.Confirmed(), nil
}

func (c *RegulaFaceClient) HealthCheck(ctx context.Context) error {
	if err := c.doJSON(ctx, http.MethodGet, "/api/healthz", nil, nil); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	slog.Debug("Regula Face API health check passed")
	return nil
}

func (c *RegulaFaceClient) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}
