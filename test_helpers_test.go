package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"go-identity-flow/capture"
	"go-identity-flow/credential"
	"go-identity-flow/crosscheck"
	"go-identity-flow/document"
	"go-identity-flow/identity"
	"go-identity-flow/journal"
	"go-identity-flow/models"
	"go-identity-flow/settings"

	"github.com/stretchr/testify/require"
)

const baseURL = "http://localhost:8081"

var testConfig = ServerConfig{
	Host:           "localhost",
	Port:           8081,
	UseTls:         false,
	TlsCertPath:    "",
	TlsPrivKeyPath: "",
}

// newTestState returns a state backed by in-memory stores and fakes that
// make every flow succeed.
func newTestState() *ServerState {
	return &ServerState{
		irmaServerURL:  "https://irma.example",
		tokenStorage:   NewInMemoryTokenStorage(),
		jwtCreator:     &fakeJwtCreator{jwt: "test-jwt"},
		settings:       settings.NewMemoryRepository(),
		documentReader: fakeDocumentReader{},
		crossValidator: &fakeCrossValidator{similarity: 0.95},
		identity:       &fakeIdentity{face: &identity.Face{FaceID: "face-1", ExternalID: "alice"}},
		journal:        journal.NewMemoryStore(10),
		healthChecks:   map[string]HealthChecker{},
	}
}

func startTestServer(t *testing.T, state *ServerState) *Server {
	t.Helper()

	if state.observer == nil {
		state.observer = journal.NewRecorder(state.journal)
	}

	srv, err := NewServer(state, testConfig)
	require.NoError(t, err)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("server error: %v", err)
		}
	}()

	waitUntilHealthy(t, baseURL+"/api/health")
	t.Cleanup(func() {
		if err := srv.Stop(); err != nil {
			t.Logf("error shutting down server: %v", err)
		}
	})
	return srv
}

func waitUntilHealthy(t *testing.T, url string) {
	t.Helper()
	const maxAttempts = 50
	for i := 0; i < maxAttempts; i++ {
		if resp, err := http.Get(url); err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("server did not start in time")
}

func doJSON[T any](t *testing.T, method, url string, payload any) (*http.Response, []byte, *T) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(b)
	}
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var v T
	_ = json.Unmarshal(respBody, &v)
	return resp, respBody, &v
}

func postJSON[T any](t *testing.T, url string, payload any) (*http.Response, []byte, *T) {
	t.Helper()
	return doJSON[T](t, http.MethodPost, url, payload)
}

func getJSON[T any](t *testing.T, url string) (*http.Response, []byte, *T) {
	t.Helper()
	return doJSON[T](t, http.MethodGet, url, nil)
}

func mustStatus(t *testing.T, resp *http.Response, want int, body []byte) {
	t.Helper()
	require.Equalf(t, want, resp.StatusCode, "body: %s", body)
}

func flowURL(flowId string, parts ...string) string {
	url := fmt.Sprintf("%s/api/flows/%s", baseURL, flowId)
	for _, p := range parts {
		url += "/" + p
	}
	return url
}

func startFlow(t *testing.T, mode, externalId string) models.StartFlowResponse {
	t.Helper()
	resp, body, started := postJSON[models.StartFlowResponse](t, baseURL+"/api/flows",
		models.StartFlowRequest{Mode: mode, ExternalId: externalId})
	mustStatus(t, resp, http.StatusCreated, body)
	require.NotEmpty(t, started.FlowId)
	require.NotEmpty(t, started.Nonce)
	return *started
}

// awaitStatus polls the flow until cond holds.
func awaitStatus(t *testing.T, flowId string, cond func(models.FlowStatusResponse) bool) models.FlowStatusResponse {
	t.Helper()
	var last models.FlowStatusResponse
	require.Eventually(t, func() bool {
		resp, _, status := getJSON[models.FlowStatusResponse](t, flowURL(flowId))
		if resp.StatusCode != http.StatusOK {
			return false
		}
		last = *status
		return cond(last)
	}, 3*time.Second, 10*time.Millisecond)
	return last
}

func awaiting(stage string) func(models.FlowStatusResponse) bool {
	return func(s models.FlowStatusResponse) bool { return s.Awaiting == stage }
}

func finished(s models.FlowStatusResponse) bool {
	return s.State == "terminal" && s.Outcome != nil
}

func bestShotSubmission() models.BestShotSubmission {
	return models.BestShotSubmission{
		Image:   base64.StdEncoding.EncodeToString([]byte("best-shot")),
		Quality: 0.9,
	}
}

// test doubles

type fakeJwtCreator struct {
	jwt string

	mutex  sync.Mutex
	claims []credential.IdentityClaims
}

func (f *fakeJwtCreator) CreateIdentityJwt(claims credential.IdentityClaims) (string, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.claims = append(f.claims, claims)
	if len(claims.Fields) == 0 {
		return "", credential.ErrNothingToIssue
	}
	return f.jwt, nil
}

type fakeDocumentReader struct {
	err error
}

func (f fakeDocumentReader) Read(readout models.ChipReadout, _ string) (*capture.DocumentRecognition, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &capture.DocumentRecognition{
		Fields: map[string]string{
			document.FieldDocumentNumber: readout.EFSOD,
			document.FieldLastName:       "DOE",
			document.FieldDateOfBirth:    "1990-01-01",
		},
		FaceImage: []byte("portrait"),
	}, nil
}

type fakeCrossValidator struct {
	similarity float64
}

func (f *fakeCrossValidator) Validate(_ context.Context, _ *capture.BestShot, doc *capture.DocumentRecognition, threshold float64) (crosscheck.Result, error) {
	if !doc.HasFace() {
		return crosscheck.Result{}, crosscheck.ErrNoFaceInDocument
	}
	result := crosscheck.Result{Similarity: f.similarity, Threshold: threshold}
	if f.similarity < threshold {
		return result, &crosscheck.MismatchError{Similarity: f.similarity, Threshold: threshold}
	}
	return result, nil
}

type fakeIdentity struct {
	face *identity.Face
	err  error

	mutex  sync.Mutex
	events []identity.Event
}

func (f *fakeIdentity) SubmitEvent(_ context.Context, ev identity.Event) (*identity.EventResponse, error) {
	f.mutex.Lock()
	f.events = append(f.events, ev)
	f.mutex.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	return &identity.EventResponse{EventID: "event-1", Face: f.face, Created: ev.Mode == identity.ModeRegistration}, nil
}

func (f *fakeIdentity) Events() []identity.Event {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]identity.Event(nil), f.events...)
}

type fakeHealth struct {
	err   error
	delay time.Duration
}

func (f fakeHealth) HealthCheck(ctx context.Context) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}
