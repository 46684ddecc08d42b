package models

type StartFlowRequest struct {
	Mode       string `json:"mode"`
	ExternalId string `json:"external_id,omitempty"`
}

type StartFlowResponse struct {
	FlowId string `json:"flow_id"`
	// Nonce is the active authentication challenge for the chip readout
	Nonce string `json:"nonce"`
}

// BestShotSubmission is what the capture screen posts when a session ends.
// Either Image or ErrorKind is set.
type BestShotSubmission struct {
	Image                 string  `json:"image,omitempty"` // base64 encoded JPEG/PNG
	Quality               float64 `json:"quality"`
	LivenessTransactionId string  `json:"liveness_transaction_id,omitempty"`
	VideoRef              string  `json:"video_ref,omitempty"`
	ErrorKind             string  `json:"error_kind,omitempty"`
	ErrorMessage          string  `json:"error_message,omitempty"`
}

// DocumentSubmission carries either an NFC chip readout or client side OCR
// results. ErrorKind is set when the document screen ended without a result.
type DocumentSubmission struct {
	Nonce string       `json:"nonce,omitempty"`
	Chip  *ChipReadout `json:"chip,omitempty"`

	OcrFields    map[string]string `json:"ocr_fields,omitempty"`
	OcrFaceImage string            `json:"ocr_face_image,omitempty"` // base64

	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type ChipReadout struct {
	DataGroups          map[string]string `json:"data_groups"`
	EFSOD               string            `json:"ef_sod"`
	ActiveAuthSignature string            `json:"active_auth_signature,omitempty"`
}

type RetryRequest struct {
	Stage string `json:"stage"`
}

type CredentialRequest struct {
	Nonce string `json:"nonce"`
}

type CredentialResponse struct {
	Jwt           string `json:"jwt"`
	IrmaServerUrl string `json:"irma_server_url"`
}
