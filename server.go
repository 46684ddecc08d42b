package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go-identity-flow/capture"
	"go-identity-flow/credential"
	"go-identity-flow/flow"
	"go-identity-flow/journal"
	"go-identity-flow/models"
	"go-identity-flow/settings"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"
)

const ErrorInternal = "error:internal"
const ERR_MARSHAL = "failed to marshal response message"
const ERR_DECODE = "failed to decode request body"
const ERR_JWT_CREATION = "failed to create jwt"
const ERR_TOKEN_REMOVAL = "failed to remove token from storage"
const ERR_TOKEN_RETRIEVAL = "failed to get nonce from storage"
const ERR_INVALID_NONCE_SESSION = "invalid session or nonce"
const ERR_FLOW_NOT_FOUND = "flow not found"
const ERR_NOT_AWAITING = "flow is not awaiting this capture"
const ERR_SETTINGS_LOAD = "failed to load settings"
const ERR_SETTINGS_SAVE = "failed to save settings"

type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	UseTls         bool     `json:"use_tls,omitempty"`
	TlsPrivKeyPath string   `json:"tls_priv_key_path,omitempty"`
	TlsCertPath    string   `json:"tls_cert_path,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// DocumentReader verifies a passport chip readout.
type DocumentReader interface {
	Read(readout models.ChipReadout, nonce string) (*capture.DocumentRecognition, error)
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// abstract interfaces for easier testing
type ServerState struct {
	irmaServerURL  string
	tokenStorage   TokenStorage
	jwtCreator     credential.JwtCreator
	settings       settings.Repository
	flows          *FlowRegistry
	documentReader DocumentReader
	crossValidator flow.CrossValidator
	identity       flow.IdentityService
	liveness       capture.LivenessChecker
	observer       flow.Observer
	journal        journal.Store
	healthChecks   map[string]HealthChecker
	metrics        http.Handler
}

type Server struct {
	server *http.Server
	config ServerConfig
	// parent of every flow started by this server
	flowCtx  context.Context
	stopFlow context.CancelFunc
	reaper   sync.WaitGroup
}

func (s *Server) ListenAndServe() error {
	if s.config.UseTls {
		slog.Info("Starting server with TLS", "host", s.config.Host, "port", s.config.Port, "cert", s.config.TlsCertPath, "key", s.config.TlsPrivKeyPath)
		return s.server.ListenAndServeTLS(s.config.TlsCertPath, s.config.TlsPrivKeyPath)
	}
	slog.Info("Starting server without TLS", "host", s.config.Host, "port", s.config.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Stop() error {
	slog.Info("Shutting down server")
	s.stopFlow()
	s.reaper.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		slog.Error("Error during server shutdown", "error", err)
	} else {
		slog.Info("Server shut down successfully")
	}
	return err
}

func NewServer(state *ServerState, config ServerConfig) (*Server, error) {
	slog.Info("Creating new server", "host", config.Host, "port", config.Port, "tls", config.UseTls)
	if state.flows == nil {
		state.flows = NewFlowRegistry()
	}

	flowCtx, stopFlow := context.WithCancel(context.Background())
	s := &Server{config: config, flowCtx: flowCtx, stopFlow: stopFlow}

	state.flows.OnRemove = func(flowId string) {
		removeFlowToken(state.tokenStorage, flowId)
	}
	s.reaper.Add(1)
	go func() {
		defer s.reaper.Done()
		state.flows.Run(flowCtx, time.Minute)
	}()

	router := mux.NewRouter()

	router.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		handleHealth(state, w, r)
	}).Methods(http.MethodGet)
	if state.metrics != nil {
		router.Handle("/metrics", state.metrics).Methods(http.MethodGet)
	}

	router.HandleFunc("/api/settings", func(w http.ResponseWriter, r *http.Request) {
		handleGetSettings(state, w, r)
	}).Methods(http.MethodGet)
	router.HandleFunc("/api/settings", func(w http.ResponseWriter, r *http.Request) {
		handlePutSettings(state, w, r)
	}).Methods(http.MethodPut)

	router.HandleFunc("/api/flows", func(w http.ResponseWriter, r *http.Request) {
		handleStartFlow(state, s.flowCtx, w, r)
	})
	router.HandleFunc("/api/flows/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleFlowStatus(state, w, r)
	}).Methods(http.MethodGet)
	router.HandleFunc("/api/flows/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteFlow(state, w, r)
	}).Methods(http.MethodDelete)
	router.HandleFunc("/api/flows/{id}/best-shot", func(w http.ResponseWriter, r *http.Request) {
		handleBestShot(state, w, r)
	})
	router.HandleFunc("/api/flows/{id}/document", func(w http.ResponseWriter, r *http.Request) {
		handleDocument(state, w, r)
	})
	router.HandleFunc("/api/flows/{id}/retry", func(w http.ResponseWriter, r *http.Request) {
		handleRetry(state, w, r)
	})
	router.HandleFunc("/api/flows/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		handleCancel(state, w, r)
	})
	router.HandleFunc("/api/flows/{id}/credential", func(w http.ResponseWriter, r *http.Request) {
		handleIssueCredential(state, w, r)
	})

	router.HandleFunc("/api/journal", func(w http.ResponseWriter, r *http.Request) {
		handleJournal(state, w, r)
	}).Methods(http.MethodGet)

	slog.Debug("Registered all API routes")

	origins := config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	handler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Accept-Language"},
	}).Handler(router)

	addr := fmt.Sprintf("%v:%v", config.Host, config.Port)
	s.server = &http.Server{
		Handler: handler,
		Addr:    addr,
		// capture uploads can be large
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  30 * time.Second,
	}

	slog.Info("Server created successfully", "address", addr)
	return s, nil
}

func handleHealth(state *ServerState, w http.ResponseWriter, r *http.Request) {
	slog.Debug("Health check request received")

	var mutex sync.Mutex
	services := make(map[string]string, len(state.healthChecks))

	// a failing check must not cancel the others, so no shared context
	var g errgroup.Group
	for name, checker := range state.healthChecks {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			status := "ok"
			err := checker.HealthCheck(ctx)
			if err != nil {
				slog.Warn("Health check failed", "service", name, "error", err)
				status = "unavailable"
				err = fmt.Errorf("%s: %w", name, err)
			}
			mutex.Lock()
			services[name] = status
			mutex.Unlock()
			return err
		})
	}
	ok := g.Wait() == nil

	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	if err := writeJSON(w, code, models.HealthResponse{Ok: ok, Services: services}); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

// GenerateNonce Generates a random nonce
func GenerateNonce(i int) (string, error) {
	nonce := make([]byte, i)
	if _, err := rand.Read(nonce); err != nil {
		slog.Error("failed to generate nonce", "error", err)
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(nonce), nil
}

// validateSession checks the nonce presented for a flow
func validateSession(ctx context.Context, storage TokenStorage, flowId, nonce string) error {
	storedNonce, err := storage.RetrieveToken(ctx, flowId)
	if err != nil {
		slog.Warn("Failed to retrieve token from storage", "flow_id", flowId, "error", err)
		return fmt.Errorf("%s: %w", ERR_TOKEN_RETRIEVAL, err)
	}

	if storedNonce == "" || storedNonce != nonce {
		slog.Warn("Invalid nonce or session", "flow_id", flowId, "nonce_empty", storedNonce == "")
		return fmt.Errorf("%s", ERR_INVALID_NONCE_SESSION)
	}
	return nil
}

func removeFlowToken(storage TokenStorage, flowId string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := storage.RemoveToken(ctx, flowId); err != nil {
		slog.Debug("Flow token was not removed", "flow_id", flowId, "error", err)
	}
}

func respondWithErr(w http.ResponseWriter, code int, responseBody string, logMsg string, e error) {
	if code >= http.StatusInternalServerError {
		slog.Error(logMsg, "error", e, "status_code", code, "response_body", responseBody)
	} else {
		slog.Warn(logMsg, "error", e, "status_code", code, "response_body", responseBody)
	}
	w.WriteHeader(code)
	if _, err := w.Write([]byte(responseBody)); err != nil {
		slog.Error("failed to write body to http response", "error", err)
	}
}

// helpers ------------

func closeRequestBody(r *http.Request) {
	if err := r.Body.Close(); err != nil {
		slog.Error("failed to close request body", "error", err)
	}
}

func requirePOST(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		slog.Debug("Non-POST request rejected", "method", r.Method, "path", r.URL.Path)
		respondWithErr(w, http.StatusMethodNotAllowed, "method not allowed", "invalid method", nil)
		return false
	}
	return true
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal JSON payload", "error", err)
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err = w.Write(payload); err != nil {
		slog.Error("failed to write body to http response", "error", err)
	}
	return nil
}
