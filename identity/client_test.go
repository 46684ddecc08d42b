package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, status int, response any, check func(eventRequest)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/events", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var req eventRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, req.RequestID, r.Header.Get("X-Request-Id"))
		if check != nil {
			check(req)
		}

		w.WriteHeader(status)
		if response != nil {
			_ = json.NewEncoder(w).Encode(response)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSubmitEvent(t *testing.T) {
	response := EventResponse{
		EventID: "ev-1",
		Face:    &Face{FaceID: "f-1", ExternalID: "user-42", Similarity: 0.97},
	}
	server := newTestServer(t, http.StatusCreated, response, func(req eventRequest) {
		require.Equal(t, ModeIdentify, req.Mode)
		require.Equal(t, "list-1", req.ListID)
		require.Equal(t, base64.StdEncoding.EncodeToString([]byte("jpeg")), req.Image)
		require.Equal(t, "NLD", req.Metadata["nationality"])
		require.NotEmpty(t, req.RequestID)
	})

	client := NewClient(Config{BaseURL: server.URL})
	resp, err := client.SubmitEvent(context.Background(), Event{
		Mode:     ModeIdentify,
		ListID:   "list-1",
		BestShot: []byte("jpeg"),
		Metadata: map[string]string{"nationality": "NLD"},
	})
	require.NoError(t, err)
	require.Equal(t, "ev-1", resp.EventID)
	require.Equal(t, "user-42", resp.Face.ExternalID)
}

func TestSubmitEventBearerToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(EventResponse{EventID: "ev"})
	}))
	defer server.Close()

	_, err := NewClient(Config{BaseURL: server.URL, APIToken: "secret"}).SubmitEvent(context.Background(), Event{Mode: ModeIdentify})
	require.NoError(t, err)
}

func TestSubmitEventErrors(t *testing.T) {
	t.Run("conflict during registration", func(t *testing.T) {
		server := newTestServer(t, http.StatusConflict, nil, nil)
		_, err := NewClient(Config{BaseURL: server.URL}).SubmitEvent(context.Background(), Event{Mode: ModeRegistration})
		require.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("server error is a transport error", func(t *testing.T) {
		server := newTestServer(t, http.StatusBadGateway, map[string]string{"error": "upstream"}, nil)
		_, err := NewClient(Config{BaseURL: server.URL}).SubmitEvent(context.Background(), Event{Mode: ModeIdentify})

		var transport *TransportError
		require.ErrorAs(t, err, &transport)
		require.Equal(t, http.StatusBadGateway, transport.StatusCode)
	})

	t.Run("unreachable service", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		_, err := NewClient(Config{BaseURL: url}).SubmitEvent(context.Background(), Event{Mode: ModeVerify})
		var transport *TransportError
		require.ErrorAs(t, err, &transport)
		require.Zero(t, transport.StatusCode)
	})

	t.Run("single attempt only", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		_, err := NewClient(Config{BaseURL: server.URL}).SubmitEvent(context.Background(), Event{Mode: ModeIdentify})
		require.Error(t, err)
		require.Equal(t, int32(1), calls.Load())
	})
}

func TestResolve(t *testing.T) {
	face := &Face{FaceID: "f-1", ExternalID: "user-42"}

	tests := []struct {
		name    string
		event   Event
		resp    *EventResponse
		wantErr error
	}{
		{"identify match", Event{Mode: ModeIdentify}, &EventResponse{Face: face}, nil},
		{"identify no match", Event{Mode: ModeIdentify}, &EventResponse{}, ErrNoMatch},
		{"verify same person", Event{Mode: ModeVerify, ClaimedExternalID: "user-42"}, &EventResponse{Face: face}, nil},
		{"verify other person", Event{Mode: ModeVerify, ClaimedExternalID: "user-7"}, &EventResponse{Face: face}, ErrNoMatch},
		{"verify no record", Event{Mode: ModeVerify, ClaimedExternalID: "user-42"}, &EventResponse{}, ErrNoMatch},
		{"registration created", Event{Mode: ModeRegistration}, &EventResponse{Face: face, Created: true}, nil},
		{"registration found existing", Event{Mode: ModeRegistration}, &EventResponse{Face: face}, ErrAlreadyExists},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.event, tt.resp)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.Nil(t, got)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "user-42", got.ExternalID)
			require.NotSame(t, face, got)
		})
	}

	t.Run("registration without record is neither conflict nor no-match", func(t *testing.T) {
		_, err := Resolve(Event{Mode: ModeRegistration}, &EventResponse{})
		require.Error(t, err)
		require.False(t, errors.Is(err, ErrNoMatch))
		require.False(t, errors.Is(err, ErrAlreadyExists))
	})
}

func TestModeValid(t *testing.T) {
	require.True(t, ModeRegistration.Valid())
	require.True(t, ModeIdentify.Valid())
	require.True(t, ModeVerify.Valid())
	require.False(t, Mode("enroll").Valid())
}

func TestHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/healthcheck", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	require.NoError(t, NewClient(Config{BaseURL: server.URL}).HealthCheck(context.Background()))
}
