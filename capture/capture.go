// Package capture defines the biometric and document capture adapters a flow
// drives, and the results they hand back.
package capture

import (
	"context"
	"time"

	"go-identity-flow/settings"
)

// BestShot is the highest quality face frame of one capture session.
type BestShot struct {
	Image                 []byte
	Quality               float64
	LivenessTransactionID string
	VideoRef              string
	CapturedAt            time.Time
}

// DocumentRecognition holds the text fields read from an identity document
// and the portrait found on it, if any.
type DocumentRecognition struct {
	Type      string
	Fields    map[string]string
	FaceImage []byte
}

func (d *DocumentRecognition) Empty() bool {
	return d == nil || (len(d.Fields) == 0 && len(d.FaceImage) == 0)
}

func (d *DocumentRecognition) HasFace() bool {
	return d != nil && len(d.FaceImage) > 0
}

// CopyFields returns a copy of the text fields, safe to hand out after the
// recognition itself is discarded.
func (d *DocumentRecognition) CopyFields() map[string]string {
	if d == nil || len(d.Fields) == 0 {
		return nil
	}
	out := make(map[string]string, len(d.Fields))
	for k, v := range d.Fields {
		out[k] = v
	}
	return out
}

// BiometricCapturer runs one face capture session. It returns when the session
// produced a best shot, failed, or ctx was cancelled.
type BiometricCapturer interface {
	CaptureBestShot(ctx context.Context, cfg settings.Settings) (*BestShot, error)
}

// DocumentCapturer runs one document recognition session.
type DocumentCapturer interface {
	CaptureDocument(ctx context.Context) (*DocumentRecognition, error)
}
