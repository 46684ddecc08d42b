package document

import (
	"log/slog"
	"strings"

	"go-identity-flow/capture"
	"go-identity-flow/images"
)

const TypeOCR = "ocr"

// FromOCR builds a DocumentRecognition from fields recognized on the client.
// Blank fields are dropped. A portrait that cannot be decoded is dropped too,
// which leaves the recognition without a face.
func FromOCR(fields map[string]string, faceImage []byte) *capture.DocumentRecognition {
	recognition := &capture.DocumentRecognition{Type: TypeOCR}

	for k, v := range fields {
		key := strings.TrimSpace(k)
		value := strings.TrimSpace(v)
		if key == "" || value == "" {
			continue
		}
		if recognition.Fields == nil {
			recognition.Fields = make(map[string]string, len(fields))
		}
		recognition.Fields[key] = value
	}

	if len(faceImage) > 0 {
		portrait, err := images.NormalizePortrait(faceImage)
		if err != nil {
			slog.Warn("Dropping undecodable OCR portrait", "error", err)
		} else {
			recognition.FaceImage = portrait
		}
	}

	return recognition
}
