package models

import "time"

type FlowStatusResponse struct {
	FlowId  string   `json:"flow_id"`
	Mode    string   `json:"mode"`
	State   string   `json:"state"`
	Screens []string `json:"screens"`
	// Capture the client should currently be running, if any
	Awaiting string `json:"awaiting,omitempty"`

	Settings any              `json:"settings"`
	Outcome  *OutcomeResponse `json:"outcome,omitempty"`
}

type OutcomeResponse struct {
	Kind       string            `json:"kind"`
	ErrorKind  string            `json:"error_kind,omitempty"`
	Stage      string            `json:"stage,omitempty"`
	ExternalId string            `json:"external_id,omitempty"`
	FaceId     string            `json:"face_id,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	Alert      *AlertResponse    `json:"alert,omitempty"`
}

type AlertResponse struct {
	Title   string   `json:"title,omitempty"`
	Message string   `json:"message,omitempty"`
	Neutral bool     `json:"neutral"`
	Actions []string `json:"actions"`
}

type JournalEntryResponse struct {
	FlowId     string    `json:"flow_id"`
	Mode       string    `json:"mode"`
	Outcome    string    `json:"outcome"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	ExternalId string    `json:"external_id,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

type HealthResponse struct {
	Ok       bool              `json:"ok"`
	Services map[string]string `json:"services,omitempty"`
}

type FieldErrorResponse struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message"`
}

type ValidationErrorResponse struct {
	Error  string               `json:"error"`
	Fields []FieldErrorResponse `json:"fields"`
}
