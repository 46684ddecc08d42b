package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go-identity-flow/alerts"
	"go-identity-flow/capture"
	"go-identity-flow/credential"
	"go-identity-flow/document"
	"go-identity-flow/flow"
	"go-identity-flow/identity"
	"go-identity-flow/models"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/text/language"
)

func handleStartFlow(state *ServerState, flowCtx context.Context, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	var request models.StartFlowRequest
	if err := decodeJSON(r, &request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE, err)
		return
	}

	mode := identity.Mode(request.Mode)
	if !mode.Valid() {
		respondWithErr(w, http.StatusBadRequest, "invalid mode", "rejected flow with invalid mode", fmt.Errorf("mode %q", request.Mode))
		return
	}
	if mode != identity.ModeIdentify && request.ExternalId == "" {
		respondWithErr(w, http.StatusBadRequest, "external_id is required", "rejected flow without external id", fmt.Errorf("mode %q", mode))
		return
	}

	cfg, err := state.settings.Load(r.Context())
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_SETTINGS_LOAD, err)
		return
	}

	flowId := uuid.NewString()
	nonce, err := GenerateNonce(8)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to generate nonce", err)
		return
	}
	if err := state.tokenStorage.StoreToken(r.Context(), flowId, nonce); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to store nonce", err)
		return
	}

	inbox := capture.NewInbox()
	var biometric capture.BiometricCapturer = inbox
	if state.liveness != nil {
		biometric = capture.WithLiveness(inbox, state.liveness)
	}

	f := flow.New(flow.Request{
		ID:                flowId,
		Mode:              mode,
		ClaimedExternalID: request.ExternalId,
	}, cfg, flow.Dependencies{
		Biometric:      biometric,
		Document:       inbox,
		CrossValidator: state.crossValidator,
		Identity:       state.identity,
		Navigator:      flow.NewStack(flow.ScreenHome),
		Observer:       state.observer,
	})
	state.flows.Add(f, inbox)

	if err := f.Start(flowCtx); err != nil {
		state.flows.Remove(flowId)
		removeFlowToken(state.tokenStorage, flowId)
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to start flow", err)
		return
	}

	// the client may post its best shot as soon as it has the flow id
	ready, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	if err := inbox.AwaitBestShotSlot(ready); err != nil {
		slog.Warn("Biometric capture not open when flow was created", "flow_id", flowId, "error", err)
	}
	cancel()

	if err := writeJSON(w, http.StatusCreated, models.StartFlowResponse{FlowId: flowId, Nonce: nonce}); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		return
	}
	slog.Info("Flow created", "flow_id", flowId, "mode", mode)
}

// lookupFlow writes a 404 when the flow in the path does not exist.
func lookupFlow(state *ServerState, w http.ResponseWriter, r *http.Request) (*flowEntry, bool) {
	flowId := mux.Vars(r)["id"]
	entry, ok := state.flows.Get(flowId)
	if !ok {
		respondWithErr(w, http.StatusNotFound, ERR_FLOW_NOT_FOUND, ERR_FLOW_NOT_FOUND, fmt.Errorf("flow %q", flowId))
		return nil, false
	}
	return entry, true
}

func handleFlowStatus(state *ServerState, w http.ResponseWriter, r *http.Request) {
	entry, ok := lookupFlow(state, w, r)
	if !ok {
		return
	}
	writeFlowStatus(w, http.StatusOK, entry, alerts.Match(r.Header.Get("Accept-Language")))
}

func writeFlowStatus(w http.ResponseWriter, code int, entry *flowEntry, lang language.Tag) {
	if err := writeJSON(w, code, statusResponse(entry, lang)); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func statusResponse(entry *flowEntry, lang language.Tag) models.FlowStatusResponse {
	snap := entry.flow.Status()

	screens := make([]string, len(snap.Screens))
	for i, s := range snap.Screens {
		screens[i] = string(s)
	}

	response := models.FlowStatusResponse{
		FlowId:   snap.Request.ID,
		Mode:     string(snap.Request.Mode),
		State:    snap.State.String(),
		Screens:  screens,
		Settings: snap.Settings,
	}

	switch biometric, doc := entry.inbox.Awaiting(); {
	case biometric:
		response.Awaiting = string(flow.StageBiometric)
	case doc:
		response.Awaiting = string(flow.StageDocument)
	}

	if o := snap.Outcome; o != nil {
		out := &models.OutcomeResponse{Kind: o.Kind.String(), Fields: o.Fields}
		if o.Identity != nil {
			out.ExternalId = o.Identity.ExternalID
			out.FaceId = o.Identity.FaceID
		}
		kind := flow.Unknown
		if o.Err != nil {
			kind = o.Err.Kind
			out.ErrorKind = kind.String()
			out.Stage = string(o.Err.Stage)
		}
		if o.Kind == flow.Failure {
			out.Alert = alertResponse(alerts.For(kind, lang))
		}
		response.Outcome = out
	}
	return response
}

func alertResponse(a alerts.Alert) *models.AlertResponse {
	actions := make([]string, len(a.Actions))
	for i, action := range a.Actions {
		actions[i] = action.ID
	}
	return &models.AlertResponse{
		Title:   a.Title,
		Message: a.Message,
		Neutral: a.Neutral,
		Actions: actions,
	}
}

func handleBestShot(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}
	entry, ok := lookupFlow(state, w, r)
	if !ok {
		return
	}

	var submission models.BestShotSubmission
	if err := decodeJSON(r, &submission); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE, err)
		return
	}

	var err error
	if submission.ErrorKind != "" {
		ce := capture.NewError(capture.ParseErrorKind(submission.ErrorKind), errors.New(submission.ErrorMessage))
		ce.VideoRef = submission.VideoRef
		err = entry.inbox.DeliverBiometricError(ce)
	} else {
		image, decodeErr := base64.StdEncoding.DecodeString(submission.Image)
		if decodeErr != nil || len(image) == 0 {
			respondWithErr(w, http.StatusBadRequest, "invalid image", "rejected best shot without image", decodeErr)
			return
		}
		err = entry.inbox.DeliverBestShot(&capture.BestShot{
			Image:                 image,
			Quality:               submission.Quality,
			LivenessTransactionID: submission.LivenessTransactionId,
			VideoRef:              submission.VideoRef,
			CapturedAt:            time.Now(),
		})
	}
	if err != nil {
		respondWithErr(w, http.StatusConflict, ERR_NOT_AWAITING, "best shot delivery refused", err)
		return
	}

	slog.Debug("Best shot delivered", "flow_id", entry.flow.ID(), "error_kind", submission.ErrorKind)
	writeFlowStatus(w, http.StatusAccepted, entry, alerts.Match(r.Header.Get("Accept-Language")))
}

func handleDocument(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}
	entry, ok := lookupFlow(state, w, r)
	if !ok {
		return
	}

	var submission models.DocumentSubmission
	if err := decodeJSON(r, &submission); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE, err)
		return
	}
	if err := validateSession(r.Context(), state.tokenStorage, entry.flow.ID(), submission.Nonce); err != nil {
		respondWithErr(w, http.StatusBadRequest, ERR_INVALID_NONCE_SESSION, "document submission rejected", err)
		return
	}

	if _, awaiting := entry.inbox.Awaiting(); !awaiting {
		respondWithErr(w, http.StatusConflict, ERR_NOT_AWAITING, "document delivery refused", capture.ErrNoPendingCapture)
		return
	}

	var err error
	switch {
	case submission.ErrorKind != "":
		err = entry.inbox.DeliverDocumentError(capture.NewError(capture.ParseErrorKind(submission.ErrorKind), errors.New(submission.ErrorMessage)))

	case submission.Chip != nil:
		doc, readErr := state.documentReader.Read(*submission.Chip, submission.Nonce)
		if readErr != nil {
			slog.Warn("Chip readout rejected", "flow_id", entry.flow.ID(), "error", readErr)
			err = entry.inbox.DeliverDocumentError(capture.NewError(capture.CaptureFailure, readErr))
		} else {
			err = entry.inbox.DeliverDocument(doc)
		}

	case len(submission.OcrFields) > 0:
		var face []byte
		if submission.OcrFaceImage != "" {
			decoded, decodeErr := base64.StdEncoding.DecodeString(submission.OcrFaceImage)
			if decodeErr != nil {
				respondWithErr(w, http.StatusBadRequest, "invalid image", "rejected undecodable OCR portrait", decodeErr)
				return
			}
			face = decoded
		}
		err = entry.inbox.DeliverDocument(document.FromOCR(submission.OcrFields, face))

	default:
		respondWithErr(w, http.StatusBadRequest, "invalid request", "document submission without content", nil)
		return
	}
	if err != nil {
		respondWithErr(w, http.StatusConflict, ERR_NOT_AWAITING, "document delivery refused", err)
		return
	}

	slog.Debug("Document delivered", "flow_id", entry.flow.ID(), "error_kind", submission.ErrorKind)
	writeFlowStatus(w, http.StatusAccepted, entry, alerts.Match(r.Header.Get("Accept-Language")))
}

func handleRetry(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}
	entry, ok := lookupFlow(state, w, r)
	if !ok {
		return
	}

	var request models.RetryRequest
	if err := decodeJSON(r, &request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE, err)
		return
	}

	if err := entry.flow.Retry(flow.Stage(request.Stage)); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, flow.ErrNotActive) {
			code = http.StatusConflict
		}
		respondWithErr(w, code, err.Error(), "retry rejected", err)
		return
	}
	writeFlowStatus(w, http.StatusOK, entry, alerts.Match(r.Header.Get("Accept-Language")))
}

func handleCancel(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}
	entry, ok := lookupFlow(state, w, r)
	if !ok {
		return
	}

	if err := entry.flow.Cancel(); err != nil {
		respondWithErr(w, http.StatusConflict, err.Error(), "cancel rejected", err)
		return
	}
	writeFlowStatus(w, http.StatusOK, entry, alerts.Match(r.Header.Get("Accept-Language")))
}

func handleDeleteFlow(state *ServerState, w http.ResponseWriter, r *http.Request) {
	flowId := mux.Vars(r)["id"]
	entry, ok := state.flows.Remove(flowId)
	if !ok {
		respondWithErr(w, http.StatusNotFound, ERR_FLOW_NOT_FOUND, ERR_FLOW_NOT_FOUND, fmt.Errorf("flow %q", flowId))
		return
	}
	// an active flow is cancelled first so its observers see the end
	_ = entry.flow.Cancel()
	removeFlowToken(state.tokenStorage, flowId)

	slog.Info("Flow deleted", "flow_id", flowId)
	w.WriteHeader(http.StatusNoContent)
}

func handleIssueCredential(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}
	if state.jwtCreator == nil {
		respondWithErr(w, http.StatusNotFound, "credential issuance is not configured", "credential requested without issuer", nil)
		return
	}
	entry, ok := lookupFlow(state, w, r)
	if !ok {
		return
	}

	var request models.CredentialRequest
	if err := decodeJSON(r, &request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE, err)
		return
	}
	if err := validateSession(r.Context(), state.tokenStorage, entry.flow.ID(), request.Nonce); err != nil {
		respondWithErr(w, http.StatusBadRequest, ERR_INVALID_NONCE_SESSION, "credential request rejected", err)
		return
	}

	outcome, done := entry.flow.Outcome()
	if !done || outcome.Kind != flow.Success {
		respondWithErr(w, http.StatusConflict, "flow did not succeed", "credential requested for unsuccessful flow", nil)
		return
	}

	jwt, err := state.jwtCreator.CreateIdentityJwt(credential.IdentityClaims{
		ExternalID: outcome.Identity.ExternalID,
		Fields:     outcome.Fields,
	})
	if errors.Is(err, credential.ErrNothingToIssue) {
		respondWithErr(w, http.StatusConflict, "no document attributes to issue", ERR_JWT_CREATION, err)
		return
	}
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ERR_JWT_CREATION, ERR_JWT_CREATION, err)
		return
	}

	if err := state.tokenStorage.RemoveToken(r.Context(), entry.flow.ID()); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_TOKEN_REMOVAL, err)
		return
	}

	response := models.CredentialResponse{Jwt: jwt, IrmaServerUrl: state.irmaServerURL}
	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		return
	}
	slog.Info("Credential issued", "flow_id", entry.flow.ID())
}

func handleJournal(state *ServerState, w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			respondWithErr(w, http.StatusBadRequest, "invalid limit", "rejected journal query", err)
			return
		}
		limit = n
	}

	entries, err := state.journal.Recent(r.Context(), limit)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to read journal", err)
		return
	}

	response := make([]models.JournalEntryResponse, len(entries))
	for i, e := range entries {
		response[i] = models.JournalEntryResponse{
			FlowId:     e.FlowID,
			Mode:       e.Mode,
			Outcome:    e.Outcome,
			ErrorKind:  e.ErrorKind,
			ExternalId: e.ExternalID,
			FinishedAt: e.FinishedAt,
		}
	}
	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}
