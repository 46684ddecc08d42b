package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"go-identity-flow/models"
	"go-identity-flow/settings"
)

func handleGetSettings(state *ServerState, w http.ResponseWriter, r *http.Request) {
	s, err := state.settings.Load(r.Context())
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_SETTINGS_LOAD, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, s); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

// handlePutSettings overlays the posted fields on the current settings and
// saves the result if it validates. Running flows keep their own snapshot.
func handlePutSettings(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE, err)
		return
	}

	current, err := state.settings.Load(r.Context())
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_SETTINGS_LOAD, err)
		return
	}

	draft := settings.NewDraft(current)
	if err := draft.Update(func(s *settings.Settings) error {
		return json.Unmarshal(body, s)
	}); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE, err)
		return
	}

	saved, err := draft.Apply(r.Context(), state.settings)
	var verr *settings.ValidationError
	if errors.As(err, &verr) {
		slog.Warn("Rejected settings update", "error", verr)
		response := models.ValidationErrorResponse{Error: "invalid settings"}
		for _, f := range verr.Fields {
			response.Fields = append(response.Fields, models.FieldErrorResponse{Field: f.Field, Rule: f.Rule, Param: f.Param, Message: f.Message})
		}
		if err := writeJSON(w, http.StatusBadRequest, response); err != nil {
			respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		}
		return
	}
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_SETTINGS_SAVE, err)
		return
	}

	slog.Info("Settings updated",
		"ocr_enabled", saved.Document.OCREnabled,
		"match_threshold", saved.Document.MatchThreshold,
		"liveness_enabled", saved.Liveness.Enabled)
	if err := writeJSON(w, http.StatusOK, saved); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}
